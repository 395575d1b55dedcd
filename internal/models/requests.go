package models

import "time"

// SubmitMovement is the client request to initiate a cash movement. The
// idempotency key is assigned client-side so offline replays stay safe.
type SubmitMovement struct {
	AgentID        string       `json:"agent_id"`
	Direction      Direction    `json:"direction"`
	Amount         int64        `json:"amount"`
	Counterparty   Counterparty `json:"counterparty"`
	IdempotencyKey string       `json:"idempotency_key"`
	Offline        bool         `json:"offline,omitempty"`
}

type VerifyOtpRequest struct {
	Code string `json:"code"`
}

type CreateAgentRequest struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Rank         string `json:"rank"`
	Tier         int    `json:"tier"`
	InitialFloat int64  `json:"initial_float"`
}

type TopUpRequest struct {
	Amount int64  `json:"amount"`
	Actor  string `json:"actor"`
}

type ReconcileRequest struct {
	AgentID      string `json:"agent_id"`
	BusinessDate string `json:"business_date"`
}

type SubmitWithdrawalRequest struct {
	Requester      Counterparty `json:"requester"`
	Amount         int64        `json:"amount"`
	Destination    Destination  `json:"destination"`
	Urgent         bool         `json:"urgent,omitempty"`
	IsEarlyRelease bool         `json:"is_early_release,omitempty"`
	LockReason     string       `json:"lock_reason,omitempty"`
	LockUntil      *time.Time   `json:"lock_until,omitempty"`
	Justification  string       `json:"justification,omitempty"`
}

type DecideWithdrawalRequest struct {
	AdminID  string       `json:"admin_id"`
	Decision string       `json:"decision"` // "approve" | "deny"
	Reason   DenialReason `json:"reason,omitempty"`
	Notes    string       `json:"notes,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// FloatSnapshot is the before/after payload attached to float audit records.
type FloatSnapshot struct {
	AgentID      string `json:"agent_id"`
	FloatBalance int64  `json:"float_balance"`
}
