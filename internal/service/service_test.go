package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lacikas/backend/internal/cache"
	"lacikas/backend/internal/domain"
	"lacikas/backend/internal/money"
	"lacikas/backend/internal/store"
	"lacikas/backend/internal/store/memory"
	"lacikas/backend/internal/suggest"
)

func newTestService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	repo, _, err := memory.NewSeeded("main-store")
	if err != nil {
		t.Fatalf("seed store: %v", err)
	}
	engine := suggest.NewEngine(cache.NoopSuggestionCache{}, 5*time.Second, 0, money.NewFormatter("IDR", "Rp", 0), nil)
	return New(repo, engine, "main-store"), repo
}

func cashierCtx(username string) context.Context {
	return WithActor(context.Background(), domain.Actor{Username: username, Role: "cashier"})
}

func adminCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "admin", Role: "admin"})
}

func press(t *testing.T, svc *Service, ctx context.Context, sessionID string, denominations ...int64) domain.Session {
	t.Helper()
	var view domain.Session
	for _, d := range denominations {
		resp, err := svc.Press(ctx, sessionID, domain.SessionPressRequest{Denomination: d})
		if err != nil {
			t.Fatalf("press %d failed: %v", d, err)
		}
		if !resp.Applied {
			t.Fatalf("press %d was not applied", d)
		}
		view = resp.Session
	}
	return view
}

func buttonFor(view domain.Session, d int64) domain.DenominationButton {
	for _, b := range view.Buttons {
		if b.Denomination == d {
			return b
		}
	}
	return domain.DenominationButton{}
}

func TestChangeSessionConfirmRemovesBills(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := cashierCtx("cashier")

	sess, err := svc.StartSession(ctx, domain.SessionStartRequest{TillID: "till-main", TerminalID: "T1", TargetAmount: 2600})
	if err != nil {
		t.Fatalf("start session failed: %v", err)
	}
	if sess.TargetDisplay != "Rp 2.600" || sess.Generation != 1 || sess.Status != domain.SessionStatusActive {
		t.Fatalf("unexpected initial session: %+v", sess)
	}
	if len(sess.Buttons) != 10 || sess.Buttons[0].Denomination != 100000 {
		t.Fatalf("expected 10 buttons highest first, got %+v", sess.Buttons)
	}

	view := press(t, svc, ctx, sess.ID, 2000, 500, 100)
	if view.Total != 2600 || !view.Complete || view.Remaining != 0 {
		t.Fatalf("expected complete session at 2600, got total=%d complete=%v", view.Total, view.Complete)
	}
	assert.Equal(t, domain.Bills{2000: 1, 500: 1, 100: 1}, view.Selection)

	resp, err := svc.ConfirmSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("confirm failed: %v", err)
	}
	if resp.Session.Status != domain.SessionStatusConfirmed {
		t.Fatalf("expected confirmed session, got %s", resp.Session.Status)
	}
	if resp.Movement.Kind != domain.MovementOut || resp.Movement.Amount != 2600 {
		t.Fatalf("unexpected movement: %+v", resp.Movement)
	}
	if resp.Till.Bills[2000] != 19 || resp.Till.Bills[500] != 19 || resp.Till.Bills[100] != 19 {
		t.Fatalf("unexpected till bills after change: %+v", resp.Till.Bills)
	}
	if resp.Till.TotalCash != 726000-2600 || resp.Till.Version != 2 {
		t.Fatalf("unexpected till totals: total=%d version=%d", resp.Till.TotalCash, resp.Till.Version)
	}
	if resp.Drawer.CommandBase64 != "G3AAGfo=" || resp.Drawer.TerminalID != "T1" {
		t.Fatalf("unexpected drawer command: %+v", resp.Drawer)
	}
	if !strings.Contains(resp.Slip, "1 x Rp 2.000") || !strings.Contains(resp.Slip, "Total    : Rp 2.600") {
		t.Fatalf("unexpected slip:\n%s", resp.Slip)
	}

	if _, err := svc.GetSession(ctx, sess.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected confirmed session to be gone, got %v", err)
	}

	logs, err := svc.ListAuditLogs(adminCtx(), "main-store", "", 10)
	require.NoError(t, err)
	require.NotEmpty(t, logs)
	assert.Equal(t, "session_confirm", logs[0].Action)
	assert.Equal(t, "cashier", logs[0].ActorUsername)
}

func TestPressBeyondCeilingIsNoop(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := cashierCtx("cashier")

	sess, err := svc.StartSession(ctx, domain.SessionStartRequest{TillID: "till-main", TargetAmount: 1500})
	require.NoError(t, err)

	assert.False(t, buttonFor(sess, 2000).Enabled)
	assert.Equal(t, "ceiling", buttonFor(sess, 2000).DisabledReason)
	assert.True(t, buttonFor(sess, 1000).Enabled)

	resp, err := svc.Press(ctx, sess.ID, domain.SessionPressRequest{Denomination: 2000})
	require.NoError(t, err)
	assert.False(t, resp.Applied)
	assert.Equal(t, int64(0), resp.Session.Total)

	resp, err = svc.Press(ctx, sess.ID, domain.SessionPressRequest{Denomination: 700})
	require.NoError(t, err)
	assert.False(t, resp.Applied)
}

func TestSubtractModeRemovesUnits(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := cashierCtx("cashier")

	sess, err := svc.StartSession(ctx, domain.SessionStartRequest{TillID: "till-main", TargetAmount: 5000})
	require.NoError(t, err)
	press(t, svc, ctx, sess.ID, 2000, 2000)

	view, err := svc.SetMode(ctx, sess.ID, domain.SessionModeRequest{Mode: "subtract"})
	require.NoError(t, err)
	assert.Equal(t, "subtract", view.Mode)
	assert.Equal(t, "empty", buttonFor(view, 500).DisabledReason)

	view = press(t, svc, ctx, sess.ID, 2000)
	assert.Equal(t, int64(2000), view.Total)
	assert.Equal(t, domain.Bills{2000: 1}, view.Selection)

	_, err = svc.SetMode(ctx, sess.ID, domain.SessionModeRequest{Mode: "sideways"})
	assert.True(t, errors.Is(err, store.ErrInvalidTransaction))
}

func TestSuggestionsAcceptAndStaleGeneration(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := cashierCtx("cashier")

	sess, err := svc.StartSession(ctx, domain.SessionStartRequest{TillID: "till-main", TargetAmount: 2600})
	require.NoError(t, err)

	suggestions, err := svc.Suggestions(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), suggestions.Generation)
	assert.True(t, suggestions.Feasible)
	require.NotEmpty(t, suggestions.Suggestions)
	assert.Equal(t, domain.Bills{2000: 1, 500: 1, 100: 1}, suggestions.Suggestions[0].Bills)

	view, err := svc.AcceptSuggestion(ctx, sess.ID, domain.SessionAcceptRequest{Generation: 1, Index: 0})
	require.NoError(t, err)
	assert.Equal(t, int64(2600), view.Total)
	assert.True(t, view.Complete)

	_, err = svc.AcceptSuggestion(ctx, sess.ID, domain.SessionAcceptRequest{Generation: 1, Index: 99})
	assert.True(t, errors.Is(err, store.ErrInvalidTransaction))

	view, err = svc.SetTarget(ctx, sess.ID, domain.SessionTargetRequest{TargetAmount: 3000})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), view.Generation)
	assert.Equal(t, int64(2600), view.Total)
	assert.False(t, view.Complete)
	assert.Equal(t, int64(400), view.Remaining)

	_, err = svc.AcceptSuggestion(ctx, sess.ID, domain.SessionAcceptRequest{Generation: 1, Index: 0})
	assert.True(t, errors.Is(err, ErrStaleSuggestions))
}

func TestSetTargetBelowSelectionClearsIt(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := cashierCtx("cashier")

	sess, err := svc.StartSession(ctx, domain.SessionStartRequest{TillID: "till-main", TargetAmount: 5000})
	require.NoError(t, err)
	press(t, svc, ctx, sess.ID, 5000)

	view, err := svc.SetTarget(ctx, sess.ID, domain.SessionTargetRequest{TargetAmount: 2000})
	require.NoError(t, err)
	assert.Equal(t, int64(0), view.Total)
	assert.Empty(t, view.Selection)
	assert.Equal(t, "ceiling", buttonFor(view, 5000).DisabledReason)
}

func TestSuggestionsRebaseWhenTillChanges(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := cashierCtx("cashier")

	sess, err := svc.StartSession(ctx, domain.SessionStartRequest{TillID: "till-main", TargetAmount: 2600})
	require.NoError(t, err)

	_, _, err = repo.ApplyCashMovement(context.Background(), domain.CashMovement{
		TillID: "till-main",
		Kind:   domain.MovementOut,
		Bills:  domain.Bills{2000: 20},
	}, 0)
	require.NoError(t, err)

	suggestions, err := svc.Suggestions(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), suggestions.Generation)
	assert.Equal(t, int64(2), suggestions.TillVersion)
	for _, s := range suggestions.Suggestions {
		assert.Zero(t, s.Bills[2000])
	}

	view, err := svc.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), view.TillVersion)
	assert.Len(t, view.Buttons, 9)
	assert.Equal(t, domain.DenominationButton{}, buttonFor(view, 2000))
}

func TestConfirmRejectsIncompleteChange(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := cashierCtx("cashier")

	sess, err := svc.StartSession(ctx, domain.SessionStartRequest{TillID: "till-main", TargetAmount: 2600})
	require.NoError(t, err)
	press(t, svc, ctx, sess.ID, 2000)

	_, err = svc.ConfirmSession(ctx, sess.ID)
	if !errors.Is(err, ErrSessionIncomplete) {
		t.Fatalf("expected ErrSessionIncomplete, got %v", err)
	}

	view, err := svc.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStatusActive, view.Status)
}

func TestConfirmConflictsWhenTillMoved(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := cashierCtx("cashier")

	sess, err := svc.StartSession(ctx, domain.SessionStartRequest{TillID: "till-main", TargetAmount: 2600})
	require.NoError(t, err)
	press(t, svc, ctx, sess.ID, 2000, 500, 100)

	_, _, err = repo.ApplyCashMovement(context.Background(), domain.CashMovement{
		TillID: "till-main",
		Kind:   domain.MovementIn,
		Bills:  domain.Bills{50000: 1},
	}, 0)
	require.NoError(t, err)

	_, err = svc.ConfirmSession(ctx, sess.ID)
	if !errors.Is(err, store.ErrVersionConflict) {
		t.Fatalf("expected version conflict, got %v", err)
	}

	view, err := svc.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), view.TillVersion)
	assert.Equal(t, uint64(2), view.Generation)
	assert.Equal(t, int64(2600), view.Total)

	resp, err := svc.ConfirmSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), resp.Till.Version)
}

func TestDepositTypedAmount(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := cashierCtx("cashier")
	counted := false

	sess, err := svc.StartSession(ctx, domain.SessionStartRequest{TillID: "till-main", Kind: "deposit", TargetAmount: 50000, Counted: &counted})
	require.NoError(t, err)
	assert.False(t, sess.Counted)
	assert.False(t, buttonFor(sess, 1000).Enabled)
	assert.Equal(t, "uncounted", buttonFor(sess, 1000).DisabledReason)

	pressed, err := svc.Press(ctx, sess.ID, domain.SessionPressRequest{Denomination: 1000})
	require.NoError(t, err)
	assert.False(t, pressed.Applied)

	entered, err := svc.EnterAmount(ctx, sess.ID, domain.SessionAmountRequest{Amount: "Rp 60.000"})
	require.NoError(t, err)
	assert.True(t, entered.Applied)
	assert.Equal(t, int64(60000), entered.Session.Total)
	assert.True(t, entered.Session.Complete)
	assert.Empty(t, entered.Session.Selection)

	_, err = svc.EnterAmount(ctx, sess.ID, domain.SessionAmountRequest{Amount: "abc"})
	assert.True(t, errors.Is(err, store.ErrInvalidTransaction))

	resp, err := svc.ConfirmSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.MovementIn, resp.Movement.Kind)
	assert.Equal(t, int64(60000), resp.Movement.Amount)
	assert.Empty(t, resp.Movement.Bills)
	assert.Equal(t, int64(726000+60000), resp.Till.TotalCash)
	assert.Equal(t, 20, resp.Till.Bills[1000])
	assert.Contains(t, resp.Slip, "SETORAN")
}

func TestDepositCountedUnits(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := cashierCtx("cashier")

	sess, err := svc.StartSession(ctx, domain.SessionStartRequest{TillID: "till-main", Kind: "deposit", TargetAmount: 25000})
	require.NoError(t, err)

	view := press(t, svc, ctx, sess.ID, 20000, 10000)
	assert.Equal(t, int64(30000), view.Total)
	assert.True(t, view.Complete)

	_, err = svc.EnterAmount(ctx, sess.ID, domain.SessionAmountRequest{Amount: "30000"})
	assert.True(t, errors.Is(err, store.ErrInvalidTransaction))

	_, err = svc.Suggestions(ctx, sess.ID)
	assert.True(t, errors.Is(err, store.ErrInvalidTransaction))

	resp, err := svc.ConfirmSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 6, resp.Till.Bills[20000])
	assert.Equal(t, 11, resp.Till.Bills[10000])
	assert.Equal(t, domain.Bills{20000: 1, 10000: 1}, resp.Movement.Bills)
}

func TestChangeRejectsFreeText(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := cashierCtx("cashier")
	counted := false

	_, err := svc.StartSession(ctx, domain.SessionStartRequest{TillID: "till-main", TargetAmount: 1000, Counted: &counted})
	assert.True(t, errors.Is(err, store.ErrInvalidTransaction))

	sess, err := svc.StartSession(ctx, domain.SessionStartRequest{TillID: "till-main", TargetAmount: 1000})
	require.NoError(t, err)
	_, err = svc.SetCounted(ctx, sess.ID, domain.SessionCountedRequest{Counted: false})
	assert.True(t, errors.Is(err, store.ErrInvalidTransaction))
}

func TestStartSessionValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := cashierCtx("cashier")

	_, err := svc.StartSession(ctx, domain.SessionStartRequest{TillID: "till-main", TargetAmount: -1})
	assert.True(t, errors.Is(err, store.ErrInvalidTransaction))

	_, err = svc.StartSession(ctx, domain.SessionStartRequest{TillID: "till-main", Kind: "refund"})
	assert.True(t, errors.Is(err, store.ErrInvalidTransaction))

	_, err = svc.StartSession(ctx, domain.SessionStartRequest{TillID: "missing"})
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestSessionBelongsToItsCashier(t *testing.T) {
	svc, _ := newTestService(t)

	sess, err := svc.StartSession(cashierCtx("ani"), domain.SessionStartRequest{TillID: "till-main", TargetAmount: 1000})
	require.NoError(t, err)

	_, err = svc.GetSession(cashierCtx("budi"), sess.ID)
	assert.True(t, errors.Is(err, ErrForbidden))

	_, err = svc.GetSession(adminCtx(), sess.ID)
	assert.NoError(t, err)
}

func TestCancelAndExpireSessions(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := cashierCtx("cashier")

	sess, err := svc.StartSession(ctx, domain.SessionStartRequest{TillID: "till-main", TargetAmount: 1000})
	require.NoError(t, err)
	cancelled, err := svc.CancelSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStatusCancelled, cancelled.Status)
	_, err = svc.Press(ctx, sess.ID, domain.SessionPressRequest{Denomination: 1000})
	assert.True(t, errors.Is(err, ErrSessionNotFound))

	clock := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return clock }
	idle, err := svc.StartSession(ctx, domain.SessionStartRequest{TillID: "till-main", TargetAmount: 1000})
	require.NoError(t, err)

	clock = clock.Add(29 * time.Minute)
	_, err = svc.GetSession(ctx, idle.ID)
	require.NoError(t, err)

	clock = clock.Add(2 * time.Minute)
	_, err = svc.GetSession(ctx, idle.ID)
	assert.True(t, errors.Is(err, ErrSessionNotFound))
}

func TestShiftCloseRecordsDiscrepancies(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := cashierCtx("cashier")

	opened, err := svc.OpenShift(ctx, domain.ShiftOpenRequest{TillID: "till-main", TerminalID: "T1", CashierName: "Kasir A"})
	if err != nil {
		t.Fatalf("open shift failed: %v", err)
	}
	if opened.Shift.OpeningCash != 726000 {
		t.Fatalf("expected opening cash 726000, got %d", opened.Shift.OpeningCash)
	}

	_, err = svc.OpenShift(ctx, domain.ShiftOpenRequest{TillID: "till-main", TerminalID: "T1", CashierName: "Kasir B"})
	assert.True(t, errors.Is(err, store.ErrInvalidTransaction))

	till, err := repo.GetTill(context.Background(), "till-main")
	require.NoError(t, err)
	counted := till.Bills.Clone()
	counted[1000] = 19
	counted[500] = 21

	closed, err := svc.CloseShift(ctx, domain.ShiftCloseRequest{TerminalID: "T1", CountedBills: counted, Notes: "selisih kecil"})
	if err != nil {
		t.Fatalf("close shift failed: %v", err)
	}
	assert.Equal(t, domain.ShiftStatusClosed, closed.Shift.Status)
	assert.Equal(t, int64(726000), closed.Shift.ExpectedCash)
	assert.Equal(t, int64(725500), closed.Shift.ClosingCash)
	assert.Equal(t, int64(-500), closed.Shift.Discrepancy)
	assert.Equal(t, []domain.BillDiscrepancy{
		{Denomination: 1000, Expected: 20, Counted: 19, Delta: -1},
		{Denomination: 500, Expected: 20, Counted: 21, Delta: 1},
	}, closed.Shift.Discrepancies)

	after, err := repo.GetTill(context.Background(), "till-main")
	require.NoError(t, err)
	assert.Equal(t, counted, after.Bills)
	assert.Equal(t, int64(2), after.Version)

	_, err = svc.GetActiveShift(ctx, "", "T1")
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestTillAdministration(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.CreateTill(cashierCtx("cashier"), domain.TillCreateRequest{Name: "Kasir 2"})
	assert.True(t, errors.Is(err, ErrForbidden))

	created, err := svc.CreateTill(adminCtx(), domain.TillCreateRequest{Name: "Kasir 2", Bills: domain.Bills{5000: 4}})
	require.NoError(t, err)
	assert.Equal(t, int64(20000), created.TotalCash)
	assert.Equal(t, "main-store", created.StoreID)

	list, err := svc.ListTills(adminCtx(), "")
	require.NoError(t, err)
	assert.Len(t, list.Tills, 2)

	recounted, err := svc.RecountTill(adminCtx(), created.ID, domain.TillRecountRequest{Bills: domain.Bills{5000: 3, 1000: 2}, Note: "audit"})
	require.NoError(t, err)
	assert.Equal(t, int64(17000), recounted.TotalCash)
	assert.Equal(t, int64(2), recounted.Version)

	_, err = svc.RecountTill(cashierCtx("cashier"), created.ID, domain.TillRecountRequest{Bills: domain.Bills{}})
	assert.True(t, errors.Is(err, ErrForbidden))

	movements, err := svc.ListMovements(adminCtx(), created.ID, 10)
	require.NoError(t, err)
	require.Len(t, movements.Movements, 1)
	assert.Equal(t, int64(-3000), movements.Movements[0].Amount)
	assert.Equal(t, "admin", movements.Movements[0].ActorUsername)
}

func TestSuggestForTill(t *testing.T) {
	svc, _ := newTestService(t)

	resp, err := svc.Suggest(cashierCtx("cashier"), "till-main", domain.SuggestionRequest{TargetAmount: 137300})
	require.NoError(t, err)
	assert.True(t, resp.Feasible)
	for _, s := range resp.Suggestions {
		assert.Equal(t, int64(137300), s.Total)
	}

	_, err = svc.Suggest(cashierCtx("cashier"), "till-main", domain.SuggestionRequest{TargetAmount: -5})
	assert.True(t, errors.Is(err, store.ErrInvalidTransaction))

	_, err = svc.Suggest(cashierCtx("cashier"), "missing", domain.SuggestionRequest{TargetAmount: 5})
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestDenominationsAreLabelled(t *testing.T) {
	svc, _ := newTestService(t)

	resp := svc.Denominations()
	assert.Equal(t, "IDR", resp.Currency)
	require.Len(t, resp.Denominations, 10)
	assert.Equal(t, "Rp 100.000", resp.Denominations[0].Label)
}

func TestOpenCashDrawerNeedsReasonAndIsAudited(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := cashierCtx("cashier")

	_, err := svc.OpenCashDrawer(ctx, domain.CashDrawerOpenRequest{TerminalID: "T1", Reason: "  "})
	assert.True(t, errors.Is(err, store.ErrInvalidTransaction))

	resp, err := svc.OpenCashDrawer(ctx, domain.CashDrawerOpenRequest{Reason: "tukar uang"})
	require.NoError(t, err)
	assert.Equal(t, "main-terminal", resp.TerminalID)
	assert.Equal(t, "G3AAGfo=", resp.CommandBase64)

	now := time.Now().UTC()
	logs, err := repo.ListAuditLogs(context.Background(), "main-store", now.Add(-time.Minute), now.Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "drawer_open", logs[0].Action)
	assert.Equal(t, "reason=tukar uang", logs[0].Detail)
	assert.Equal(t, "cashier", logs[0].ActorUsername)
}
