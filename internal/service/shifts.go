package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"lacikas/backend/internal/denom"
	"lacikas/backend/internal/domain"
	"lacikas/backend/internal/store"
	"lacikas/backend/internal/xid"
)

// OpenShift starts a terminal's shift on a till, recording the till's cash as
// the opening float.
func (s *Service) OpenShift(ctx context.Context, req domain.ShiftOpenRequest) (domain.ShiftResponse, error) {
	if req.StoreID == "" {
		req.StoreID = s.defaultStoreID
	}
	req.TillID = strings.TrimSpace(req.TillID)
	req.TerminalID = strings.TrimSpace(req.TerminalID)
	req.CashierName = strings.TrimSpace(req.CashierName)
	if req.TillID == "" || req.TerminalID == "" || req.CashierName == "" {
		return domain.ShiftResponse{}, store.ErrInvalidTransaction
	}

	till, err := s.repo.GetTill(ctx, req.TillID)
	if err != nil {
		return domain.ShiftResponse{}, err
	}
	if till.StoreID != req.StoreID {
		return domain.ShiftResponse{}, store.ErrNotFound
	}

	saved, err := s.repo.CreateShift(ctx, domain.Shift{
		ID:          xid.New("shift"),
		StoreID:     req.StoreID,
		TillID:      till.ID,
		TerminalID:  req.TerminalID,
		CashierName: req.CashierName,
		OpeningCash: till.TotalCash,
		Status:      domain.ShiftStatusOpen,
		OpenedAt:    s.now(),
	})
	if err != nil {
		if errors.Is(err, store.ErrInvalidTransaction) {
			return domain.ShiftResponse{}, fmt.Errorf("%w: shift already open", store.ErrInvalidTransaction)
		}
		return domain.ShiftResponse{}, err
	}

	s.logAudit(ctx, req.StoreID, "shift_open", "shift", saved.ID, fmt.Sprintf("cashier=%s,till=%s,opening_cash=%d", req.CashierName, till.ID, till.TotalCash))
	return domain.ShiftResponse{Shift: *saved}, nil
}

// CloseShift compares the counted bills with what the till should hold,
// replaces the till's bills with the count, and closes the shift with the
// per-denomination discrepancies.
func (s *Service) CloseShift(ctx context.Context, req domain.ShiftCloseRequest) (domain.ShiftResponse, error) {
	if req.StoreID == "" {
		req.StoreID = s.defaultStoreID
	}
	req.TerminalID = strings.TrimSpace(req.TerminalID)
	if req.TerminalID == "" || req.CountedBills == nil {
		return domain.ShiftResponse{}, store.ErrInvalidTransaction
	}

	active, err := s.repo.GetActiveShift(ctx, req.StoreID, req.TerminalID)
	if err != nil {
		return domain.ShiftResponse{}, err
	}
	till, err := s.repo.GetTill(ctx, active.TillID)
	if err != nil {
		return domain.ShiftResponse{}, err
	}

	expected, err := denom.NewInventory(till.Bills)
	if err != nil {
		return domain.ShiftResponse{}, invalid(err)
	}
	counted, err := denom.NewInventory(req.CountedBills)
	if err != nil {
		return domain.ShiftResponse{}, invalid(err)
	}
	discrepancies := make([]domain.BillDiscrepancy, 0)
	for _, d := range denom.Diff(expected, counted) {
		discrepancies = append(discrepancies, domain.BillDiscrepancy{
			Denomination: d.Denomination,
			Expected:     d.Expected,
			Counted:      d.Counted,
			Delta:        d.Delta,
		})
	}

	recounted, _, err := s.repo.ApplyCashMovement(ctx, domain.CashMovement{
		TillID:        till.ID,
		Kind:          domain.MovementCount,
		Bills:         req.CountedBills,
		ActorUsername: actorName(ctx),
		Note:          "shift close " + active.ID,
	}, till.Version)
	if err != nil {
		return domain.ShiftResponse{}, err
	}

	closed, err := s.repo.CloseActiveShift(ctx, req.StoreID, req.TerminalID, domain.ShiftClose{
		ExpectedCash:  till.TotalCash,
		ClosingCash:   recounted.TotalCash,
		Discrepancies: discrepancies,
		Notes:         strings.TrimSpace(req.Notes),
		ClosedAt:      s.now(),
	})
	if err != nil {
		return domain.ShiftResponse{}, err
	}

	s.logAudit(ctx, req.StoreID, "shift_close", "shift", closed.ID,
		fmt.Sprintf("expected=%d,closing=%d,discrepancy=%d", closed.ExpectedCash, closed.ClosingCash, closed.Discrepancy))
	return domain.ShiftResponse{Shift: *closed}, nil
}

func (s *Service) GetActiveShift(ctx context.Context, storeID string, terminalID string) (domain.ShiftResponse, error) {
	if storeID == "" {
		storeID = s.defaultStoreID
	}
	if terminalID == "" {
		return domain.ShiftResponse{}, store.ErrInvalidTransaction
	}

	shift, err := s.repo.GetActiveShift(ctx, storeID, terminalID)
	if err != nil {
		return domain.ShiftResponse{}, err
	}
	return domain.ShiftResponse{Shift: *shift}, nil
}
