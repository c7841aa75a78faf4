package domain

import "time"

// Bills maps a denomination to a unit count. Encoded as a JSON object keyed by
// the denomination's decimal string, e.g. {"1000": 2}.
type Bills map[int64]int

func (b Bills) Total() int64 {
	total := int64(0)
	for d, c := range b {
		total += d * int64(c)
	}
	return total
}

func (b Bills) Clone() Bills {
	out := make(Bills, len(b))
	for d, c := range b {
		out[d] = c
	}
	return out
}

type Till struct {
	ID        string    `json:"id"`
	StoreID   string    `json:"store_id"`
	Name      string    `json:"name"`
	Bills     Bills     `json:"bills"`
	TotalCash int64     `json:"total_cash"`
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type TillCreateRequest struct {
	StoreID string `json:"store_id"`
	Name    string `json:"name"`
	Bills   Bills  `json:"bills"`
}

type TillRecountRequest struct {
	Bills Bills  `json:"bills"`
	Note  string `json:"note"`
}

type TillListResponse struct {
	Tills []Till `json:"tills"`
}

type CashMovement struct {
	ID            string    `json:"id"`
	TillID        string    `json:"till_id"`
	StoreID       string    `json:"store_id"`
	Kind          string    `json:"kind"`
	Bills         Bills     `json:"bills"`
	Amount        int64     `json:"amount"`
	BalanceAfter  int64     `json:"balance_after"`
	VersionAfter  int64     `json:"version_after"`
	SessionID     string    `json:"session_id,omitempty"`
	ActorUsername string    `json:"actor_username,omitempty"`
	Note          string    `json:"note,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

type CashMovementListResponse struct {
	Movements []CashMovement `json:"movements"`
}

type DenominationInfo struct {
	Value int64  `json:"value"`
	Label string `json:"label"`
}

type DenominationsResponse struct {
	Currency      string             `json:"currency"`
	Symbol        string             `json:"symbol"`
	Exponent      int32              `json:"exponent"`
	Denominations []DenominationInfo `json:"denominations"`
}

type SuggestionRequest struct {
	TargetAmount int64 `json:"target_amount"`
}

type Suggestion struct {
	Bills     Bills  `json:"bills"`
	BillCount int    `json:"bill_count"`
	Total     int64  `json:"total"`
	Display   string `json:"display"`
}

type SuggestionResponse struct {
	TillID        string       `json:"till_id"`
	TillVersion   int64        `json:"till_version"`
	TargetAmount  int64        `json:"target_amount"`
	TargetDisplay string       `json:"target_display"`
	Reachable     bool         `json:"reachable"`
	Feasible      bool         `json:"feasible"`
	Greedy        bool         `json:"greedy"`
	Truncated     bool         `json:"truncated"`
	Suggestions   []Suggestion `json:"suggestions"`
	Cached        bool         `json:"cached"`
	Generation    uint64       `json:"generation,omitempty"`
	LatencyMS     int64        `json:"latency_ms"`
}

type SessionStartRequest struct {
	TillID       string `json:"till_id"`
	TerminalID   string `json:"terminal_id"`
	Kind         string `json:"kind"`
	TargetAmount int64  `json:"target_amount"`
	Counted      *bool  `json:"counted,omitempty"`
}

type SessionModeRequest struct {
	Mode string `json:"mode"`
}

type SessionPressRequest struct {
	Denomination int64 `json:"denomination"`
}

type SessionCountedRequest struct {
	Counted bool `json:"counted"`
}

type SessionAmountRequest struct {
	Amount string `json:"amount"`
}

type SessionTargetRequest struct {
	TargetAmount int64 `json:"target_amount"`
}

type SessionAcceptRequest struct {
	Generation uint64 `json:"generation"`
	Index      int    `json:"index"`
}

type DenominationButton struct {
	Denomination   int64  `json:"denomination"`
	Label          string `json:"label"`
	Selected       int    `json:"selected"`
	Available      int    `json:"available"`
	Enabled        bool   `json:"enabled"`
	DisabledReason string `json:"disabled_reason,omitempty"`
}

type Session struct {
	ID            string               `json:"id"`
	StoreID       string               `json:"store_id"`
	TillID        string               `json:"till_id"`
	TillVersion   int64                `json:"till_version"`
	TerminalID    string               `json:"terminal_id"`
	Kind          string               `json:"kind"`
	Status        string               `json:"status"`
	Mode          string               `json:"mode"`
	Counted       bool                 `json:"counted"`
	TargetAmount  int64                `json:"target_amount"`
	TargetDisplay string               `json:"target_display"`
	Total         int64                `json:"total"`
	TotalDisplay  string               `json:"total_display"`
	Remaining     int64                `json:"remaining"`
	Complete      bool                 `json:"complete"`
	Selection     Bills                `json:"selection"`
	Buttons       []DenominationButton `json:"buttons"`
	Generation    uint64               `json:"generation"`
	ActorUsername string               `json:"actor_username"`
	CreatedAt     time.Time            `json:"created_at"`
	UpdatedAt     time.Time            `json:"updated_at"`
}

type SessionPressResponse struct {
	Applied bool    `json:"applied"`
	Session Session `json:"session"`
}

type SessionConfirmResponse struct {
	Session  Session                `json:"session"`
	Movement CashMovement           `json:"movement"`
	Till     Till                   `json:"till"`
	Drawer   CashDrawerOpenResponse `json:"drawer"`
	Slip     string                 `json:"slip_preview"`
}

type BillDiscrepancy struct {
	Denomination int64 `json:"denomination"`
	Expected     int   `json:"expected"`
	Counted      int   `json:"counted"`
	Delta        int   `json:"delta"`
}

type Shift struct {
	ID            string            `json:"id"`
	StoreID       string            `json:"store_id"`
	TillID        string            `json:"till_id"`
	TerminalID    string            `json:"terminal_id"`
	CashierName   string            `json:"cashier_name"`
	OpeningCash   int64             `json:"opening_cash"`
	ExpectedCash  int64             `json:"expected_cash,omitempty"`
	ClosingCash   int64             `json:"closing_cash,omitempty"`
	Discrepancy   int64             `json:"discrepancy"`
	Discrepancies []BillDiscrepancy `json:"discrepancies,omitempty"`
	Notes         string            `json:"notes,omitempty"`
	Status        string            `json:"status"`
	OpenedAt      time.Time         `json:"opened_at"`
	ClosedAt      *time.Time        `json:"closed_at,omitempty"`
}

// ShiftClose carries the closing figures recorded against an open shift.
type ShiftClose struct {
	ExpectedCash  int64
	ClosingCash   int64
	Discrepancies []BillDiscrepancy
	Notes         string
	ClosedAt      time.Time
}

type ShiftOpenRequest struct {
	StoreID     string `json:"store_id"`
	TillID      string `json:"till_id"`
	TerminalID  string `json:"terminal_id"`
	CashierName string `json:"cashier_name"`
}

type ShiftCloseRequest struct {
	StoreID      string `json:"store_id"`
	TerminalID   string `json:"terminal_id"`
	CountedBills Bills  `json:"counted_bills"`
	Notes        string `json:"notes"`
}

type ShiftResponse struct {
	Shift Shift `json:"shift"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

type CashierCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type CashierUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

type AuditLog struct {
	ID            string    `json:"id"`
	StoreID       string    `json:"store_id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

type CashDrawerOpenRequest struct {
	TerminalID string `json:"terminal_id"`
	Reason     string `json:"reason"`
	ManagerPIN string `json:"manager_pin,omitempty"`
}

type CashDrawerOpenResponse struct {
	TerminalID    string `json:"terminal_id"`
	CommandBase64 string `json:"command_base64"`
	Note          string `json:"note"`
}

const (
	RoleAdmin   = "admin"
	RoleCashier = "cashier"
)

const (
	MovementIn    = "in"
	MovementOut   = "out"
	MovementCount = "count"
)

const (
	SessionKindChange  = "change"
	SessionKindDeposit = "deposit"
)

const (
	SessionStatusActive    = "active"
	SessionStatusConfirmed = "confirmed"
	SessionStatusCancelled = "cancelled"
)

const (
	ShiftStatusOpen   = "open"
	ShiftStatusClosed = "closed"
)
