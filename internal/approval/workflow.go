package approval

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/riteshkumar/agent-cash-ledger/internal/audit"
	"github.com/riteshkumar/agent-cash-ledger/internal/errors"
	"github.com/riteshkumar/agent-cash-ledger/internal/fees"
	"github.com/riteshkumar/agent-cash-ledger/internal/models"
	"github.com/riteshkumar/agent-cash-ledger/internal/repository"
)

// Priority and risk thresholds, minor units.
const (
	highPriorityAmount   = 5_000_000  // N50,000
	urgentPriorityAmount = 10_000_000 // N100,000
)

const (
	DecisionApprove = "approve"
	DecisionDeny    = "deny"
)

// Workflow administers soldier-initiated withdrawal requests and
// early-release requests for locked funds. It is independent of agent
// float: approved requests are paid through the external payout rail.
// Decisions for one request are serialized; the loser of a race gets
// ErrAlreadyProcessed rather than silently overwriting the winner.
type Workflow struct {
	requests repository.WithdrawalRepository
	policies *fees.Engine
	audit    audit.Recorder
	logger   *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex // per request id

	now func() time.Time
}

func NewWorkflow(requests repository.WithdrawalRepository, policies *fees.Engine,
	recorder audit.Recorder, logger *slog.Logger) *Workflow {
	return &Workflow{
		requests: requests,
		policies: policies,
		audit:    recorder,
		logger:   logger,
		locks:    make(map[string]*sync.Mutex),
		now:      time.Now,
	}
}

func (w *Workflow) lockRequest(requestID string) *sync.Mutex {
	w.mu.Lock()
	defer w.mu.Unlock()
	lock, ok := w.locks[requestID]
	if !ok {
		lock = &sync.Mutex{}
		w.locks[requestID] = lock
	}
	return lock
}

// Submit creates a withdrawal request, prices its fee, and classifies
// priority and risk at submission time.
func (w *Workflow) Submit(ctx context.Context, req models.SubmitWithdrawalRequest) (*models.WithdrawalRequest, error) {
	if err := w.validateSubmit(&req); err != nil {
		w.logger.Warn("invalid withdrawal submission",
			"service_number", req.Requester.ServiceNumber,
			"amount", req.Amount,
			"error", err.Error(),
		)
		return nil, err
	}

	now := w.now().UTC()
	quote, err := w.policies.PriceQuote(req.Amount, req.Requester.Rank, models.DirectionCashOut, now)
	if err != nil {
		return nil, err
	}

	request := &models.WithdrawalRequest{
		Requester:      req.Requester,
		Amount:         req.Amount,
		Fee:            quote.Fee,
		NetAmount:      quote.NetAmount,
		Destination:    req.Destination,
		IsEarlyRelease: req.IsEarlyRelease,
		LockReason:     req.LockReason,
		LockUntil:      req.LockUntil,
		Justification:  req.Justification,
		Priority:       classifyPriority(req.Amount, req.Urgent),
		RiskLevel:      classifyRisk(req.Amount, req.Destination.Type, req.IsEarlyRelease),
		Status:         models.WithdrawalPending,
		CreatedAt:      now,
	}
	if err := w.requests.Create(ctx, request); err != nil {
		return nil, err
	}

	w.audit.Record(ctx, audit.NewRecord(req.Requester.ServiceNumber, "withdrawal_submitted",
		models.EntityTypeWithdrawal, request.ID, nil, request))
	w.logger.Info("withdrawal request submitted",
		"request_id", request.ID,
		"amount", request.Amount,
		"priority", string(request.Priority),
		"risk_level", string(request.RiskLevel),
		"early_release", request.IsEarlyRelease,
	)
	return request, nil
}

// Decide records an administrator's approval or denial. Exactly one
// decision wins; denial requires an enumerated reason.
func (w *Workflow) Decide(ctx context.Context, requestID string, decision models.DecideWithdrawalRequest) (*models.WithdrawalRequest, error) {
	if decision.AdminID == "" {
		return nil, errors.NewValidationError("admin_id", "must be non-empty")
	}
	if decision.Decision != DecisionApprove && decision.Decision != DecisionDeny {
		return nil, errors.NewValidationError("decision", "must be approve or deny")
	}
	if decision.Decision == DecisionDeny && !decision.Reason.Valid() {
		return nil, errors.ErrDenialReasonRequired
	}

	lock := w.lockRequest(requestID)
	lock.Lock()
	defer lock.Unlock()

	request, err := w.requests.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if request.Status != models.WithdrawalPending {
		return request, errors.ErrAlreadyProcessed
	}

	before := request.Status
	processedAt := w.now().UTC()
	request.ProcessedBy = decision.AdminID
	request.ProcessedAt = &processedAt
	request.AdminNotes = decision.Notes
	if decision.Decision == DecisionApprove {
		request.Status = models.WithdrawalApproved
	} else {
		request.Status = models.WithdrawalDenied
		request.DenialReason = decision.Reason
	}
	if err := w.requests.Update(ctx, request); err != nil {
		return nil, err
	}

	action := "withdrawal_approved"
	if request.Status == models.WithdrawalDenied {
		action = "withdrawal_denied"
	}
	w.audit.Record(ctx, audit.NewRecord(decision.AdminID, action, models.EntityTypeWithdrawal, request.ID,
		map[string]string{"status": string(before)},
		request))

	// Approving an early release unlocks exactly the requested amount;
	// the unlock is its own audited event.
	if request.Status == models.WithdrawalApproved && request.IsEarlyRelease {
		w.audit.Record(ctx, audit.NewRecord(decision.AdminID, "funds_unlocked", models.EntityTypeWithdrawal, request.ID,
			nil,
			map[string]any{
				"amount":      request.Amount,
				"lock_reason": request.LockReason,
				"lock_until":  request.LockUntil,
			}))
	}

	w.logger.Info("withdrawal decision recorded",
		"request_id", request.ID,
		"decision", decision.Decision,
		"admin_id", decision.AdminID,
	)
	return request, nil
}

// Complete marks an approved request completed once the downstream payout
// confirms. A payout failure leaves the request approved for re-drive.
func (w *Workflow) Complete(ctx context.Context, requestID, actor string) (*models.WithdrawalRequest, error) {
	lock := w.lockRequest(requestID)
	lock.Lock()
	defer lock.Unlock()

	request, err := w.requests.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	switch request.Status {
	case models.WithdrawalApproved:
	case models.WithdrawalCompleted, models.WithdrawalDenied:
		return request, errors.ErrAlreadyProcessed
	default:
		return request, errors.ErrInvalidState
	}

	before := request.Status
	request.Status = models.WithdrawalCompleted
	if err := w.requests.Update(ctx, request); err != nil {
		return nil, err
	}

	w.audit.Record(ctx, audit.NewRecord(actor, "withdrawal_completed", models.EntityTypeWithdrawal, request.ID,
		map[string]string{"status": string(before)},
		map[string]string{"status": string(request.Status)}))
	return request, nil
}

// Get returns a request by id.
func (w *Workflow) Get(ctx context.Context, requestID string) (*models.WithdrawalRequest, error) {
	return w.requests.GetByID(ctx, requestID)
}

// ListByStatus returns requests in the given status, oldest first.
func (w *Workflow) ListByStatus(ctx context.Context, status models.WithdrawalStatus) ([]*models.WithdrawalRequest, error) {
	return w.requests.ListByStatus(ctx, status)
}

func (w *Workflow) validateSubmit(req *models.SubmitWithdrawalRequest) error {
	if req.Requester.ServiceNumber == "" {
		return errors.NewValidationError("requester.service_number", "must be non-empty")
	}
	if req.Amount <= 0 {
		return errors.ErrInvalidAmount
	}
	if req.Destination.Type != models.DestinationBank && req.Destination.Type != models.DestinationAgent {
		return errors.NewValidationError("destination.type", "must be bank or agent")
	}
	if req.Destination.Details == "" {
		return errors.NewValidationError("destination.details", "must be non-empty")
	}
	if req.IsEarlyRelease {
		if req.LockReason == "" {
			return errors.NewValidationError("lock_reason", "required for early release")
		}
		if req.Justification == "" {
			return errors.NewValidationError("justification", "required for early release")
		}
	}
	return nil
}

func classifyPriority(amount int64, urgent bool) models.Priority {
	switch {
	case urgent || amount >= urgentPriorityAmount:
		return models.PriorityUrgent
	case amount >= highPriorityAmount:
		return models.PriorityHigh
	default:
		return models.PriorityNormal
	}
}

func classifyRisk(amount int64, destination models.DestinationType, earlyRelease bool) models.RiskLevel {
	score := 0
	switch {
	case amount >= urgentPriorityAmount:
		score += 2
	case amount >= highPriorityAmount:
		score++
	}
	if destination == models.DestinationAgent {
		score++
	}
	if earlyRelease {
		score += 2
	}
	switch {
	case score >= 3:
		return models.RiskHigh
	case score == 2:
		return models.RiskMedium
	default:
		return models.RiskLow
	}
}
