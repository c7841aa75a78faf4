package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"lacikas/backend/internal/denom"
	"lacikas/backend/internal/domain"
	"lacikas/backend/internal/money"
	"lacikas/backend/internal/store"
	"lacikas/backend/internal/suggest"
	"lacikas/backend/internal/xid"
)

var (
	ErrSessionNotFound   = errors.New("session not found")
	ErrSessionClosed     = errors.New("session is no longer active")
	ErrStaleSuggestions  = errors.New("suggestions superseded")
	ErrSessionIncomplete = errors.New("session total does not satisfy its target")
	ErrForbidden         = errors.New("forbidden")
)

var defaultDenominations = []int64{100000, 50000, 20000, 10000, 5000, 2000, 1000, 500, 200, 100}

// depositUnitCap bounds how many units of one denomination a deposit can count.
const depositUnitCap = 9999

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo           store.Repository
	suggester      *suggest.Engine
	formatter      money.Formatter
	defaultStoreID string
	denominations  []int64
	sessionTTL     time.Duration
	logger         *zap.Logger
	now            func() time.Time

	mu       sync.Mutex
	sessions map[string]*session
}

type Option func(*Service)

func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithDenominations sets the denominations offered when counting a deposit.
func WithDenominations(denominations []int64) Option {
	return func(s *Service) {
		if len(denominations) > 0 {
			s.denominations = append([]int64(nil), denominations...)
		}
	}
}

// WithSessionTTL sets how long an untouched session survives.
func WithSessionTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.sessionTTL = ttl
		}
	}
}

func New(repo store.Repository, suggester *suggest.Engine, defaultStoreID string, opts ...Option) *Service {
	if defaultStoreID == "" {
		defaultStoreID = "main-store"
	}
	if suggester == nil {
		suggester = suggest.NewEngine(nil, 0, 0, money.NewFormatter("IDR", "Rp", 0), nil)
	}

	s := &Service{
		repo:           repo,
		suggester:      suggester,
		formatter:      suggester.Formatter(),
		defaultStoreID: defaultStoreID,
		denominations:  defaultDenominations,
		sessionTTL:     30 * time.Minute,
		logger:         zap.NewNop(),
		now:            func() time.Time { return time.Now().UTC() },
		sessions:       make(map[string]*session),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Denominations() domain.DenominationsResponse {
	resp := domain.DenominationsResponse{
		Currency:      s.formatter.Code,
		Symbol:        s.formatter.Symbol,
		Exponent:      s.formatter.Exponent,
		Denominations: make([]domain.DenominationInfo, 0, len(s.denominations)),
	}
	for _, d := range s.denominations {
		resp.Denominations = append(resp.Denominations, domain.DenominationInfo{Value: d, Label: s.formatter.Format(d)})
	}
	return resp
}

func (s *Service) ListTills(ctx context.Context, storeID string) (domain.TillListResponse, error) {
	if storeID == "" {
		storeID = s.defaultStoreID
	}
	tills, err := s.repo.ListTills(ctx, storeID)
	if err != nil {
		return domain.TillListResponse{}, err
	}
	return domain.TillListResponse{Tills: tills}, nil
}

func (s *Service) GetTill(ctx context.Context, tillID string) (domain.Till, error) {
	tillID = strings.TrimSpace(tillID)
	if tillID == "" {
		return domain.Till{}, store.ErrInvalidTransaction
	}
	till, err := s.repo.GetTill(ctx, tillID)
	if err != nil {
		return domain.Till{}, err
	}
	return *till, nil
}

func (s *Service) CreateTill(ctx context.Context, req domain.TillCreateRequest) (domain.Till, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.Till{}, err
	}
	if req.StoreID == "" {
		req.StoreID = s.defaultStoreID
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return domain.Till{}, store.ErrInvalidTransaction
	}

	created, err := s.repo.CreateTill(ctx, domain.Till{
		StoreID: req.StoreID,
		Name:    req.Name,
		Bills:   req.Bills,
	})
	if err != nil {
		return domain.Till{}, err
	}

	s.logAudit(ctx, created.StoreID, "till_create", "till", created.ID, fmt.Sprintf("name=%s,total=%d", created.Name, created.TotalCash))
	return *created, nil
}

// RecountTill replaces a till's bills with a physical count.
func (s *Service) RecountTill(ctx context.Context, tillID string, req domain.TillRecountRequest) (domain.Till, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.Till{}, err
	}
	tillID = strings.TrimSpace(tillID)
	if tillID == "" || req.Bills == nil {
		return domain.Till{}, store.ErrInvalidTransaction
	}

	till, mv, err := s.repo.ApplyCashMovement(ctx, domain.CashMovement{
		TillID:        tillID,
		Kind:          domain.MovementCount,
		Bills:         req.Bills,
		ActorUsername: actorName(ctx),
		Note:          strings.TrimSpace(req.Note),
	}, 0)
	if err != nil {
		return domain.Till{}, err
	}

	s.logAudit(ctx, till.StoreID, "till_recount", "till", till.ID, fmt.Sprintf("total=%d,delta=%d", till.TotalCash, mv.Amount))
	return *till, nil
}

func (s *Service) ListMovements(ctx context.Context, tillID string, limit int) (domain.CashMovementListResponse, error) {
	if limit < 1 {
		limit = 50
	}
	movements, err := s.repo.ListCashMovements(ctx, strings.TrimSpace(tillID), limit)
	if err != nil {
		return domain.CashMovementListResponse{}, err
	}
	return domain.CashMovementListResponse{Movements: movements}, nil
}

// Suggest lists ways to pay target out of the till's current contents.
func (s *Service) Suggest(ctx context.Context, tillID string, req domain.SuggestionRequest) (domain.SuggestionResponse, error) {
	if req.TargetAmount < 0 {
		return domain.SuggestionResponse{}, fmt.Errorf("%w: target_amount must not be negative", store.ErrInvalidTransaction)
	}
	till, err := s.GetTill(ctx, tillID)
	if err != nil {
		return domain.SuggestionResponse{}, err
	}
	resp, err := s.suggester.Suggest(ctx, till, req.TargetAmount)
	if err != nil {
		return domain.SuggestionResponse{}, invalid(err)
	}
	return resp, nil
}

// OpenCashDrawer kicks the drawer outside a session, a "no sale". The reason
// is kept in the audit trail.
func (s *Service) OpenCashDrawer(ctx context.Context, req domain.CashDrawerOpenRequest) (domain.CashDrawerOpenResponse, error) {
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return domain.CashDrawerOpenResponse{}, fmt.Errorf("%w: reason is required", store.ErrInvalidTransaction)
	}
	resp := drawerPulse(req.TerminalID)
	s.logAudit(ctx, "", "drawer_open", "terminal", resp.TerminalID, "reason="+reason)
	return resp, nil
}

func drawerPulse(terminalID string) domain.CashDrawerOpenResponse {
	terminalID = strings.TrimSpace(terminalID)
	if terminalID == "" {
		terminalID = "main-terminal"
	}
	// ESC/POS drawer kick on pin 2.
	command := []byte{0x1b, 0x70, 0x00, 0x19, 0xfa}
	return domain.CashDrawerOpenResponse{
		TerminalID:    terminalID,
		CommandBase64: base64.StdEncoding.EncodeToString(command),
		Note:          "Send this ESC/POS pulse command via local printer bridge to open cash drawer.",
	}
}

func (s *Service) ListAuditLogs(ctx context.Context, storeID string, date string, limit int) ([]domain.AuditLog, error) {
	if storeID == "" {
		storeID = s.defaultStoreID
	}
	if limit < 1 {
		limit = 100
	}

	var from, to time.Time
	if strings.TrimSpace(date) == "" {
		to = s.now().Add(time.Second)
		from = to.Add(-24 * time.Hour)
	} else {
		parsed, err := time.Parse("2006-01-02", date)
		if err != nil {
			return nil, store.ErrInvalidTransaction
		}
		from = parsed.UTC()
		to = from.Add(24 * time.Hour)
	}

	return s.repo.ListAuditLogs(ctx, storeID, from, to, limit)
}

func (s *Service) logAudit(ctx context.Context, storeID string, action string, entityType string, entityID string, detail string) {
	if storeID == "" {
		storeID = s.defaultStoreID
	}

	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		StoreID:       storeID,
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     s.now(),
	}); err != nil {
		s.logger.Warn("failed to write audit log",
			zap.String("op", "service.logAudit"),
			zap.String("action", action),
			zap.String("entity", entityType+"/"+entityID),
			zap.Error(err),
		)
	}
}

func requireAdmin(ctx context.Context) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return fmt.Errorf("%w: admin role required", ErrForbidden)
	}
	return nil
}

func actorName(ctx context.Context) string {
	if actor, ok := ActorFromContext(ctx); ok {
		return actor.Username
	}
	return ""
}

// invalid maps engine contract violations onto ErrInvalidTransaction so the
// transport reports them as bad requests.
func invalid(err error) error {
	switch {
	case errors.Is(err, denom.ErrInvalidDenomination),
		errors.Is(err, denom.ErrNegativeCount),
		errors.Is(err, denom.ErrNegativeTarget),
		errors.Is(err, denom.ErrExceedsInventory),
		errors.Is(err, denom.ErrExceedsCeiling),
		errors.Is(err, denom.ErrCountedMode):
		return fmt.Errorf("%w: %v", store.ErrInvalidTransaction, err)
	}
	return err
}
