package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"lacikas/backend/internal/denom"
	"lacikas/backend/internal/domain"
	"lacikas/backend/internal/store"
	"lacikas/backend/internal/xid"
)

// session is one cashier's reconciliation in progress. Its accumulator is
// single-owner; mu serializes every request that touches it.
type session struct {
	mu   sync.Mutex
	view domain.Session
	acc  *denom.Accumulator
	inv  denom.Inventory

	// suggestions were computed for suggestedAt; Accept refuses them once the
	// session generation has moved on.
	suggestions []denom.Combination
	suggestedAt uint64
}

func (s *Service) StartSession(ctx context.Context, req domain.SessionStartRequest) (domain.Session, error) {
	req.TillID = strings.TrimSpace(req.TillID)
	req.TerminalID = strings.TrimSpace(req.TerminalID)
	req.Kind = strings.ToLower(strings.TrimSpace(req.Kind))
	if req.Kind == "" {
		req.Kind = domain.SessionKindChange
	}
	if req.TillID == "" || req.TargetAmount < 0 {
		return domain.Session{}, store.ErrInvalidTransaction
	}
	if req.Kind != domain.SessionKindChange && req.Kind != domain.SessionKindDeposit {
		return domain.Session{}, fmt.Errorf("%w: unknown session kind %q", store.ErrInvalidTransaction, req.Kind)
	}
	counted := true
	if req.Counted != nil {
		counted = *req.Counted
	}
	if !counted && req.Kind == domain.SessionKindChange {
		return domain.Session{}, fmt.Errorf("%w: change must be counted unit by unit", store.ErrInvalidTransaction)
	}

	till, err := s.repo.GetTill(ctx, req.TillID)
	if err != nil {
		return domain.Session{}, err
	}

	inv, err := s.sessionInventory(req.Kind, *till)
	if err != nil {
		return domain.Session{}, invalid(err)
	}

	now := s.now()
	sess := &session{
		inv: inv,
		view: domain.Session{
			ID:            xid.New("sess"),
			StoreID:       till.StoreID,
			TillID:        till.ID,
			TillVersion:   till.Version,
			TerminalID:    req.TerminalID,
			Kind:          req.Kind,
			Status:        domain.SessionStatusActive,
			Mode:          string(denom.ModeAdd),
			Counted:       counted,
			TargetAmount:  req.TargetAmount,
			TargetDisplay: s.formatter.Format(req.TargetAmount),
			Selection:     domain.Bills{},
			Generation:    1,
			ActorUsername: actorName(ctx),
			CreatedAt:     now,
			UpdatedAt:     now,
		},
	}
	sess.acc = s.newAccumulator(sess, inv, denom.ModeAdd, counted)
	s.refreshTotals(sess, 0, denom.Selection{})

	s.mu.Lock()
	s.sweepLocked(now)
	s.sessions[sess.view.ID] = sess
	s.mu.Unlock()

	s.logger.Debug("session started",
		zap.String("op", "service.StartSession"),
		zap.String("session_id", sess.view.ID),
		zap.String("till_id", till.ID),
		zap.String("kind", req.Kind),
		zap.Int64("target", req.TargetAmount),
	)
	return s.snapshot(sess), nil
}

func (s *Service) GetSession(ctx context.Context, sessionID string) (domain.Session, error) {
	sess, err := s.lookup(ctx, sessionID)
	if err != nil {
		return domain.Session{}, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return s.snapshot(sess), nil
}

func (s *Service) SetMode(ctx context.Context, sessionID string, req domain.SessionModeRequest) (domain.Session, error) {
	mode, err := denom.ParseMode(strings.ToLower(strings.TrimSpace(req.Mode)))
	if err != nil {
		return domain.Session{}, fmt.Errorf("%w: %v", store.ErrInvalidTransaction, err)
	}
	return s.mutate(ctx, sessionID, func(sess *session) error {
		sess.acc.SetMode(mode)
		return nil
	})
}

// Press applies the session's mode to one denomination. A press the till
// cannot honor is not an error; Applied reports whether anything changed.
func (s *Service) Press(ctx context.Context, sessionID string, req domain.SessionPressRequest) (domain.SessionPressResponse, error) {
	var applied bool
	view, err := s.mutate(ctx, sessionID, func(sess *session) error {
		applied = sess.acc.Press(req.Denomination)
		return nil
	})
	if err != nil {
		return domain.SessionPressResponse{}, err
	}
	return domain.SessionPressResponse{Applied: applied, Session: view}, nil
}

func (s *Service) SetCounted(ctx context.Context, sessionID string, req domain.SessionCountedRequest) (domain.Session, error) {
	return s.mutate(ctx, sessionID, func(sess *session) error {
		if !req.Counted && sess.view.Kind == domain.SessionKindChange {
			return fmt.Errorf("%w: change must be counted unit by unit", store.ErrInvalidTransaction)
		}
		sess.acc.SetCounted(req.Counted)
		return nil
	})
}

// EnterAmount sets the total from typed text while the session is not
// counting units.
func (s *Service) EnterAmount(ctx context.Context, sessionID string, req domain.SessionAmountRequest) (domain.SessionPressResponse, error) {
	amount, err := s.formatter.Parse(req.Amount)
	if err != nil {
		return domain.SessionPressResponse{}, fmt.Errorf("%w: %v", store.ErrInvalidTransaction, err)
	}

	var applied bool
	view, err := s.mutate(ctx, sessionID, func(sess *session) error {
		ok, err := sess.acc.EnterAmount(amount)
		if err != nil {
			return invalid(err)
		}
		applied = ok
		return nil
	})
	if err != nil {
		return domain.SessionPressResponse{}, err
	}
	return domain.SessionPressResponse{Applied: applied, Session: view}, nil
}

// SetTarget changes what the session has to reach. Outstanding suggestions
// become stale.
func (s *Service) SetTarget(ctx context.Context, sessionID string, req domain.SessionTargetRequest) (domain.Session, error) {
	if req.TargetAmount < 0 {
		return domain.Session{}, fmt.Errorf("%w: target_amount must not be negative", store.ErrInvalidTransaction)
	}
	return s.mutate(ctx, sessionID, func(sess *session) error {
		if sess.view.TargetAmount == req.TargetAmount {
			return nil
		}
		sess.view.TargetAmount = req.TargetAmount
		sess.view.TargetDisplay = s.formatter.Format(req.TargetAmount)
		s.rebuild(sess, sess.inv)
		s.bumpGeneration(sess)
		return nil
	})
}

// Suggestions computes change suggestions for the session's target.
// The search runs without holding the session; if the session moved to a new
// generation meanwhile the result is dropped with ErrStaleSuggestions.
func (s *Service) Suggestions(ctx context.Context, sessionID string) (domain.SuggestionResponse, error) {
	sess, err := s.lookup(ctx, sessionID)
	if err != nil {
		return domain.SuggestionResponse{}, err
	}

	till, err := s.repo.GetTill(ctx, sess.tillID())
	if err != nil {
		return domain.SuggestionResponse{}, err
	}

	sess.mu.Lock()
	if err := s.checkActive(sess); err != nil {
		sess.mu.Unlock()
		return domain.SuggestionResponse{}, err
	}
	if sess.view.Kind != domain.SessionKindChange {
		sess.mu.Unlock()
		return domain.SuggestionResponse{}, fmt.Errorf("%w: suggestions are only offered for change", store.ErrInvalidTransaction)
	}
	if till.Version != sess.view.TillVersion {
		if err := s.rebase(sess, *till); err != nil {
			sess.mu.Unlock()
			return domain.SuggestionResponse{}, err
		}
	}
	generation := sess.view.Generation
	target := sess.view.TargetAmount
	sess.mu.Unlock()

	resp, err := s.suggester.Suggest(ctx, *till, target)
	if err != nil {
		return domain.SuggestionResponse{}, invalid(err)
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.view.Generation != generation || sess.view.Status != domain.SessionStatusActive {
		s.logger.Debug("dropping superseded suggestions",
			zap.String("op", "service.Suggestions"),
			zap.String("session_id", sess.view.ID),
			zap.Uint64("computed_for", generation),
			zap.Uint64("current", sess.view.Generation),
		)
		return domain.SuggestionResponse{}, ErrStaleSuggestions
	}

	combos := make([]denom.Combination, 0, len(resp.Suggestions))
	for _, suggestion := range resp.Suggestions {
		combos = append(combos, denom.Combination(suggestion.Bills.Clone()))
	}
	sess.suggestions = combos
	sess.suggestedAt = generation
	resp.Generation = generation
	return resp, nil
}

// AcceptSuggestion replaces the selection with suggestion index of the
// generation the client saw.
func (s *Service) AcceptSuggestion(ctx context.Context, sessionID string, req domain.SessionAcceptRequest) (domain.Session, error) {
	return s.mutate(ctx, sessionID, func(sess *session) error {
		if sess.suggestions == nil || req.Generation != sess.view.Generation || sess.suggestedAt != sess.view.Generation {
			return ErrStaleSuggestions
		}
		if req.Index < 0 || req.Index >= len(sess.suggestions) {
			return fmt.Errorf("%w: suggestion index %d out of range", store.ErrInvalidTransaction, req.Index)
		}
		return invalid(sess.acc.Accept(sess.suggestions[req.Index]))
	})
}

// ConfirmSession books the session against its till. Change needs the exact
// target in counted units and removes them; a deposit needs at least the
// target and adds either the counted units or the typed amount.
func (s *Service) ConfirmSession(ctx context.Context, sessionID string) (domain.SessionConfirmResponse, error) {
	sess, err := s.lookup(ctx, sessionID)
	if err != nil {
		return domain.SessionConfirmResponse{}, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if err := s.checkActive(sess); err != nil {
		return domain.SessionConfirmResponse{}, err
	}

	total := sess.acc.Total()
	selection := sess.acc.Selection()
	movement := domain.CashMovement{
		TillID:        sess.view.TillID,
		SessionID:     sess.view.ID,
		ActorUsername: actorName(ctx),
		Note:          sess.view.Kind,
	}
	expectedVersion := int64(0)

	switch sess.view.Kind {
	case domain.SessionKindChange:
		if !sess.acc.Counted() || total != sess.view.TargetAmount {
			return domain.SessionConfirmResponse{}, fmt.Errorf("%w: have %s, need %s", ErrSessionIncomplete, s.formatter.Format(total), sess.view.TargetDisplay)
		}
		if total == 0 {
			return domain.SessionConfirmResponse{}, fmt.Errorf("%w: nothing to hand over", ErrSessionIncomplete)
		}
		movement.Kind = domain.MovementOut
		movement.Bills = domain.Bills(selection)
		expectedVersion = sess.view.TillVersion
	default:
		if total < sess.view.TargetAmount || total == 0 {
			return domain.SessionConfirmResponse{}, fmt.Errorf("%w: have %s, need at least %s", ErrSessionIncomplete, s.formatter.Format(total), sess.view.TargetDisplay)
		}
		movement.Kind = domain.MovementIn
		if sess.acc.Counted() {
			movement.Bills = domain.Bills(selection)
		} else {
			movement.Amount = total
		}
	}

	till, mv, err := s.repo.ApplyCashMovement(ctx, movement, expectedVersion)
	if err != nil {
		if errors.Is(err, store.ErrVersionConflict) {
			if current, getErr := s.repo.GetTill(ctx, sess.view.TillID); getErr == nil {
				if rebaseErr := s.rebase(sess, *current); rebaseErr != nil {
					s.logger.Warn("failed to rebase session", zap.String("op", "service.ConfirmSession"), zap.Error(rebaseErr))
				}
			}
		}
		return domain.SessionConfirmResponse{}, err
	}

	sess.view.Status = domain.SessionStatusConfirmed
	sess.view.TillVersion = till.Version
	sess.view.UpdatedAt = s.now()
	s.forget(sess.view.ID)

	drawer := drawerPulse(sess.view.TerminalID)
	s.logAudit(ctx, till.StoreID, "session_confirm", "till", till.ID,
		fmt.Sprintf("session=%s,kind=%s,amount=%d,version=%d", sess.view.ID, sess.view.Kind, mv.Amount, mv.VersionAfter))

	return domain.SessionConfirmResponse{
		Session:  s.snapshot(sess),
		Movement: *mv,
		Till:     *till,
		Drawer:   drawer,
		Slip:     s.slip(sess, *mv),
	}, nil
}

func (s *Service) CancelSession(ctx context.Context, sessionID string) (domain.Session, error) {
	sess, err := s.lookup(ctx, sessionID)
	if err != nil {
		return domain.Session{}, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if err := s.checkActive(sess); err != nil {
		return domain.Session{}, err
	}
	sess.view.Status = domain.SessionStatusCancelled
	sess.view.UpdatedAt = s.now()
	s.forget(sess.view.ID)

	s.logAudit(ctx, sess.view.StoreID, "session_cancel", "till", sess.view.TillID, "session="+sess.view.ID)
	return s.snapshot(sess), nil
}

// mutate runs fn against an active session under its lock and returns the
// updated view.
func (s *Service) mutate(ctx context.Context, sessionID string, fn func(*session) error) (domain.Session, error) {
	sess, err := s.lookup(ctx, sessionID)
	if err != nil {
		return domain.Session{}, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if err := s.checkActive(sess); err != nil {
		return domain.Session{}, err
	}
	if err := fn(sess); err != nil {
		return domain.Session{}, err
	}
	sess.view.UpdatedAt = s.now()
	return s.snapshot(sess), nil
}

func (s *Service) lookup(ctx context.Context, sessionID string) (*session, error) {
	sessionID = strings.TrimSpace(sessionID)

	s.mu.Lock()
	s.sweepLocked(s.now())
	sess, ok := s.sessions[sessionID]
	s.mu.Unlock()
	if !ok {
		return nil, ErrSessionNotFound
	}

	if actor, ok := ActorFromContext(ctx); ok && actor.Role != domain.RoleAdmin {
		owner := sess.owner()
		if owner != "" && owner != actor.Username {
			return nil, fmt.Errorf("%w: session belongs to another cashier", ErrForbidden)
		}
	}
	return sess, nil
}

func (s *Service) forget(sessionID string) {
	s.mu.Lock()
	delete(s.sessions, sessionID)
	s.mu.Unlock()
}

// sweepLocked evicts sessions idle for longer than the session TTL. s.mu must
// be held.
func (s *Service) sweepLocked(now time.Time) {
	for id, sess := range s.sessions {
		if !sess.mu.TryLock() {
			continue
		}
		idle := now.Sub(sess.view.UpdatedAt)
		sess.mu.Unlock()
		if idle > s.sessionTTL {
			delete(s.sessions, id)
		}
	}
}

func (s *Service) checkActive(sess *session) error {
	if sess.view.Status != domain.SessionStatusActive {
		return fmt.Errorf("%w: %s", ErrSessionClosed, sess.view.Status)
	}
	return nil
}

func (s *Service) sessionInventory(kind string, till domain.Till) (denom.Inventory, error) {
	if kind == domain.SessionKindDeposit {
		return denom.Capped(s.denominations, depositUnitCap)
	}
	return denom.NewInventory(till.Bills)
}

func (s *Service) newAccumulator(sess *session, inv denom.Inventory, mode denom.Mode, counted bool) *denom.Accumulator {
	opts := []denom.Option{
		denom.WithMode(mode),
		denom.WithCounted(counted),
		denom.WithObserver(func(total int64, selection denom.Selection) {
			s.refreshTotals(sess, total, selection)
		}),
	}
	if sess.view.Kind == domain.SessionKindChange {
		opts = append(opts, denom.WithCeiling(sess.view.TargetAmount))
	}
	return denom.NewAccumulator(inv, opts...)
}

// rebuild replaces the accumulator, carrying over the selection when it still
// fits the inventory and target. Callers hold sess.mu.
func (s *Service) rebuild(sess *session, inv denom.Inventory) {
	prev := sess.acc
	sess.inv = inv
	sess.acc = s.newAccumulator(sess, inv, prev.Mode(), true)

	selection := prev.Selection()
	if len(selection) > 0 {
		if err := sess.acc.Accept(selection); err != nil {
			sess.acc.Reset()
		}
	} else {
		sess.acc.Reset()
	}
	if !prev.Counted() {
		sess.acc.SetCounted(false)
		if _, err := sess.acc.EnterAmount(prev.Total()); err != nil {
			s.logger.Debug("typed amount dropped", zap.String("op", "service.rebuild"), zap.Error(err))
		}
	}
}

// rebase points a change session at a newer snapshot of its till.
func (s *Service) rebase(sess *session, till domain.Till) error {
	if sess.view.Kind != domain.SessionKindChange {
		sess.view.TillVersion = till.Version
		return nil
	}
	inv, err := denom.NewInventory(till.Bills)
	if err != nil {
		return invalid(err)
	}
	sess.view.TillVersion = till.Version
	s.rebuild(sess, inv)
	s.bumpGeneration(sess)
	return nil
}

func (s *Service) bumpGeneration(sess *session) {
	sess.view.Generation++
	sess.suggestions = nil
	sess.suggestedAt = 0
}

// refreshTotals is the accumulator observer; it keeps the session view in step
// with every mutation.
func (s *Service) refreshTotals(sess *session, total int64, selection denom.Selection) {
	sess.view.Total = total
	sess.view.TotalDisplay = s.formatter.Format(total)
	sess.view.Selection = domain.Bills(selection)
	sess.view.Remaining = max(sess.view.TargetAmount-total, 0)
	if sess.view.Kind == domain.SessionKindChange {
		sess.view.Complete = total == sess.view.TargetAmount
	} else {
		sess.view.Complete = total >= sess.view.TargetAmount
	}
}

// snapshot copies the view and renders one button per denomination. Callers
// hold sess.mu.
func (s *Service) snapshot(sess *session) domain.Session {
	view := sess.view
	view.Mode = string(sess.acc.Mode())
	view.Counted = sess.acc.Counted()
	view.Selection = sess.view.Selection.Clone()
	if !view.Counted {
		view.Selection = domain.Bills{}
	}
	view.Buttons = make([]domain.DenominationButton, 0, sess.inv.Len())
	for _, a := range sess.acc.Affordances() {
		reason := a.AddBlocked
		if sess.acc.Mode() == denom.ModeSubtract {
			reason = a.RemoveBlocked
		}
		view.Buttons = append(view.Buttons, domain.DenominationButton{
			Denomination:   a.Denomination,
			Label:          s.formatter.Format(a.Denomination),
			Selected:       a.Selected,
			Available:      a.Available,
			Enabled:        a.Enabled(sess.acc.Mode()),
			DisabledReason: string(reason),
		})
	}
	return view
}

func (s *Service) slip(sess *session, mv domain.CashMovement) string {
	title := "KEMBALIAN"
	if sess.view.Kind == domain.SessionKindDeposit {
		title = "SETORAN"
	}
	lines := []string{
		"LaciKas " + title,
		"========================",
		"Till: " + mv.TillID,
		"Terminal: " + sess.view.TerminalID,
		"Date: " + mv.CreatedAt.Format("2006-01-02 15:04:05"),
		"------------------------",
	}
	for _, h := range denom.Selection(mv.Bills).Pairs() {
		lines = append(lines, fmt.Sprintf("%4d x %s", h.Count, s.formatter.Format(h.Denomination)))
	}
	if len(mv.Bills) == 0 {
		lines = append(lines, "(amount entered, not counted)")
	}
	lines = append(lines,
		"------------------------",
		"Target   : "+sess.view.TargetDisplay,
		"Total    : "+s.formatter.Format(mv.Amount),
		"Saldo    : "+s.formatter.Format(mv.BalanceAfter),
		"========================",
		"",
	)
	return strings.Join(lines, "\n")
}

func (sess *session) tillID() string {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.view.TillID
}

func (sess *session) owner() string {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.view.ActorUsername
}
