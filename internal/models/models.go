package models

import (
	"encoding/json"
	"time"
)

// All monetary amounts are minor units (kobo). Rates are basis points.

type Direction string

const (
	DirectionCashIn  Direction = "cash_in"
	DirectionCashOut Direction = "cash_out"
)

func (d Direction) Valid() bool {
	return d == DirectionCashIn || d == DirectionCashOut
}

type MovementState string

const (
	MovementCreated    MovementState = "created"
	MovementReserved   MovementState = "reserved"
	MovementOtpPending MovementState = "otp_pending"
	MovementCompleted  MovementState = "completed"
	MovementFailed     MovementState = "failed"
)

// Terminal reports whether the state admits no further transitions.
func (s MovementState) Terminal() bool {
	return s == MovementCompleted || s == MovementFailed
}

type FailureReason string

const (
	FailureInsufficientFloat FailureReason = "insufficient_float"
	FailureOtpExpired        FailureReason = "otp_expired"
	FailureOtpExhausted      FailureReason = "otp_exhausted"
	FailureCancelled         FailureReason = "cancelled"
)

type Agent struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Rank         string    `json:"rank"`
	Tier         int       `json:"tier"`
	FloatBalance int64     `json:"float_balance"`
	Active       bool      `json:"active"`
	Online       bool      `json:"online"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type Counterparty struct {
	ServiceNumber string `json:"service_number"`
	Rank          string `json:"rank"`
	Name          string `json:"name,omitempty"`
}

type CashMovement struct {
	ID             string        `json:"id"`
	AgentID        string        `json:"agent_id"`
	Direction      Direction     `json:"direction"`
	Counterparty   Counterparty  `json:"counterparty"`
	GrossAmount    int64         `json:"gross_amount"`
	Fee            int64         `json:"fee"`
	NetAmount      int64         `json:"net_amount"`
	IdempotencyKey string        `json:"idempotency_key"`
	State          MovementState `json:"state"`
	FailureReason  FailureReason `json:"failure_reason,omitempty"`
	OtpRequired    bool          `json:"otp_required"`
	OtpVerified    bool          `json:"otp_verified"`
	OtpAttempts    int           `json:"otp_attempts"`
	CreatedAt      time.Time     `json:"created_at"`
	CompletedAt    *time.Time    `json:"completed_at,omitempty"`
}

type QueueEntryStatus string

const (
	QueueEntryQueued         QueueEntryStatus = "queued"
	QueueEntryNeedsAttention QueueEntryStatus = "needs_attention"
)

type OfflineQueueEntry struct {
	ID          string           `json:"id"`
	Request     SubmitMovement   `json:"request"`
	Status      QueueEntryStatus `json:"status"`
	RetryCount  int              `json:"retry_count"`
	LastRetryAt *time.Time       `json:"last_retry_at,omitempty"`
	QueuedAt    time.Time        `json:"queued_at"`
}

type BatchStatus string

const (
	BatchPending   BatchStatus = "pending"
	BatchSubmitted BatchStatus = "submitted"
)

type SettlementBatch struct {
	ID           string      `json:"id"`
	AgentID      string      `json:"agent_id"`
	BusinessDate string      `json:"business_date"` // YYYY-MM-DD
	MovementIDs  []string    `json:"movement_ids"`
	TotalCashIn  int64       `json:"total_cash_in"`
	TotalCashOut int64       `json:"total_cash_out"`
	TotalFees    int64       `json:"total_fees"`
	NetCashFlow  int64       `json:"net_cash_flow"`
	Status       BatchStatus `json:"status"`
	CreatedAt    time.Time   `json:"created_at"`
	SubmittedAt  *time.Time  `json:"submitted_at,omitempty"`
}

type WithdrawalStatus string

const (
	WithdrawalPending   WithdrawalStatus = "pending"
	WithdrawalApproved  WithdrawalStatus = "approved"
	WithdrawalDenied    WithdrawalStatus = "denied"
	WithdrawalCompleted WithdrawalStatus = "completed"
)

type Priority string

const (
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

type DestinationType string

const (
	DestinationBank  DestinationType = "bank"
	DestinationAgent DestinationType = "agent"
)

type DenialReason string

const (
	DenialInsufficientFunds  DenialReason = "insufficient_funds"
	DenialDailyLimitExceeded DenialReason = "daily_limit_exceeded"
	DenialSuspiciousActivity DenialReason = "suspicious_activity"
	DenialPolicyViolation    DenialReason = "policy_violation"
	DenialIncompleteDetails  DenialReason = "incomplete_details"
)

// Valid reports whether the reason is one of the enumerated denial reasons.
// Downstream reporting keys off these values, so free-text is rejected.
func (r DenialReason) Valid() bool {
	switch r {
	case DenialInsufficientFunds, DenialDailyLimitExceeded,
		DenialSuspiciousActivity, DenialPolicyViolation, DenialIncompleteDetails:
		return true
	}
	return false
}

type Destination struct {
	Type    DestinationType `json:"type"`
	Details string          `json:"details"`
}

type WithdrawalRequest struct {
	ID             string           `json:"id"`
	Requester      Counterparty     `json:"requester"`
	Amount         int64            `json:"amount"`
	Fee            int64            `json:"fee"`
	NetAmount      int64            `json:"net_amount"`
	Destination    Destination      `json:"destination"`
	IsEarlyRelease bool             `json:"is_early_release"`
	LockReason     string           `json:"lock_reason,omitempty"`
	LockUntil      *time.Time       `json:"lock_until,omitempty"`
	Justification  string           `json:"justification,omitempty"`
	Priority       Priority         `json:"priority"`
	RiskLevel      RiskLevel        `json:"risk_level"`
	Status         WithdrawalStatus `json:"status"`
	ProcessedBy    string           `json:"processed_by,omitempty"`
	ProcessedAt    *time.Time       `json:"processed_at,omitempty"`
	DenialReason   DenialReason     `json:"denial_reason,omitempty"`
	AdminNotes     string           `json:"admin_notes,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
}

type AuditRecord struct {
	ID         string          `json:"id"`
	Actor      string          `json:"actor"`
	Action     string          `json:"action"`
	EntityType string          `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	OldValue   json.RawMessage `json:"old_value,omitempty"`
	NewValue   json.RawMessage `json:"new_value,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

const (
	EntityTypeAgent      = "agent"
	EntityTypeMovement   = "movement"
	EntityTypeBatch      = "settlement_batch"
	EntityTypeWithdrawal = "withdrawal_request"
)

// FeeTier prices amounts up to and including UpTo. A zero UpTo marks the
// unbounded top bracket.
type FeeTier struct {
	UpTo    int64 `json:"up_to"`
	RateBps int64 `json:"rate_bps"`
	MinFee  int64 `json:"min_fee"`
}

// FeePolicyVersion is one effective-dated revision of the rank fee policy.
// Versions are append-only so movements priced under an old revision remain
// explainable from history.
type FeePolicyVersion struct {
	Version       int       `json:"version"`
	EffectiveFrom time.Time `json:"effective_from"`
	OfficerRanks  []string  `json:"officer_ranks"`
	Tiers         []FeeTier `json:"tiers"`
	OtpThreshold  int64     `json:"otp_threshold"`
	MaxPerTxn     int64     `json:"max_per_txn"`
}
