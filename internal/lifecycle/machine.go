package lifecycle

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/riteshkumar/agent-cash-ledger/internal/audit"
	"github.com/riteshkumar/agent-cash-ledger/internal/errors"
	"github.com/riteshkumar/agent-cash-ledger/internal/fees"
	"github.com/riteshkumar/agent-cash-ledger/internal/ledger"
	"github.com/riteshkumar/agent-cash-ledger/internal/models"
	"github.com/riteshkumar/agent-cash-ledger/internal/repository"
)

// Machine drives a cash movement through
// created -> reserved -> [otp_pending] -> completed | failed.
//
// Submissions carrying an already-processed idempotency key return the
// stored movement instead of re-executing; concurrent submissions of the
// same key collapse into one execution through the singleflight group.
type Machine struct {
	policies  *fees.Engine
	floats    *ledger.FloatLedger
	movements repository.MovementRepository
	agents    repository.AgentRepository
	otp       OtpSender
	audit     audit.Recorder
	logger    *slog.Logger

	otpTTL         time.Duration
	otpMaxAttempts int

	group singleflight.Group

	mu         sync.Mutex
	locks      map[string]*sync.Mutex // per movement id
	challenges map[string]otpChallenge

	now func() time.Time
}

type otpChallenge struct {
	hash      [32]byte
	expiresAt time.Time
}

type Options struct {
	OtpTTL         time.Duration
	OtpMaxAttempts int
}

func NewMachine(policies *fees.Engine, floats *ledger.FloatLedger, movements repository.MovementRepository,
	agents repository.AgentRepository, otp OtpSender, recorder audit.Recorder, logger *slog.Logger, opts Options) *Machine {
	if opts.OtpTTL <= 0 {
		opts.OtpTTL = 5 * time.Minute
	}
	if opts.OtpMaxAttempts <= 0 {
		opts.OtpMaxAttempts = 3
	}
	return &Machine{
		policies:       policies,
		floats:         floats,
		movements:      movements,
		agents:         agents,
		otp:            otp,
		audit:          recorder,
		logger:         logger,
		otpTTL:         opts.OtpTTL,
		otpMaxAttempts: opts.OtpMaxAttempts,
		locks:          make(map[string]*sync.Mutex),
		challenges:     make(map[string]otpChallenge),
		now:            time.Now,
	}
}

func (m *Machine) lockMovement(movementID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[movementID]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[movementID] = lock
	}
	return lock
}

// Submit executes a movement, or returns the stored one when the
// idempotency key is already known. A failed reservation still produces a
// terminal movement; the ErrInsufficientFloat is returned alongside it.
func (m *Machine) Submit(ctx context.Context, req models.SubmitMovement) (*models.CashMovement, error) {
	if err := m.validateSubmit(&req); err != nil {
		m.logger.Warn("invalid movement submission",
			"agent_id", req.AgentID,
			"direction", string(req.Direction),
			"amount", req.Amount,
			"error", err.Error(),
		)
		return nil, err
	}

	type result struct {
		movement *models.CashMovement
		err      error
	}
	v, _, _ := m.group.Do(req.IdempotencyKey, func() (interface{}, error) {
		movement, err := m.submit(ctx, req)
		return result{movement: movement, err: err}, nil
	})
	res := v.(result)
	return res.movement, res.err
}

func (m *Machine) submit(ctx context.Context, req models.SubmitMovement) (*models.CashMovement, error) {
	// Replay collapse: a known key returns the stored movement verbatim.
	if existing, err := m.movements.GetByIdempotencyKey(ctx, req.IdempotencyKey); err == nil {
		return existing, nil
	}

	agent, err := m.agents.GetByID(ctx, req.AgentID)
	if err != nil {
		return nil, err
	}
	if !agent.Active {
		return nil, errors.ErrAgentInactive
	}

	now := m.now().UTC()
	quote, err := m.policies.PriceQuote(req.Amount, req.Counterparty.Rank, req.Direction, now)
	if err != nil {
		return nil, err
	}
	threshold, err := m.policies.OtpThresholdAt(now)
	if err != nil {
		return nil, err
	}

	movement := &models.CashMovement{
		AgentID:        req.AgentID,
		Direction:      req.Direction,
		Counterparty:   req.Counterparty,
		GrossAmount:    req.Amount,
		Fee:            quote.Fee,
		NetAmount:      quote.NetAmount,
		IdempotencyKey: req.IdempotencyKey,
		State:          models.MovementCreated,
		OtpRequired:    req.Amount >= threshold,
		CreatedAt:      now,
	}
	if err := m.movements.Create(ctx, movement); err != nil {
		// Another process won the key race; hand back its movement.
		if errors.IsConflict(err) {
			return m.movements.GetByIdempotencyKey(ctx, req.IdempotencyKey)
		}
		return nil, err
	}

	// created -> reserved. Cash-in takes physical cash from the customer
	// and never touches float; only cash-out holds funds.
	if movement.Direction == models.DirectionCashOut {
		if err := m.floats.Reserve(ctx, movement.AgentID, movement.ID, movement.GrossAmount); err != nil {
			if errors.IsInsufficientFloat(err) {
				m.fail(ctx, movement, models.FailureInsufficientFloat)
				return movement, errors.ErrInsufficientFloat
			}
			return nil, err
		}
	}
	movement.State = models.MovementReserved

	if movement.OtpRequired {
		return m.beginOtpChallenge(ctx, movement)
	}
	if err := m.finalize(ctx, movement); err != nil {
		return nil, err
	}
	return movement, nil
}

func (m *Machine) beginOtpChallenge(ctx context.Context, movement *models.CashMovement) (*models.CashMovement, error) {
	code, err := generateOtpCode()
	if err != nil {
		m.release(ctx, movement)
		return nil, err
	}
	movement.State = models.MovementOtpPending
	if err := m.movements.Update(ctx, movement); err != nil {
		m.release(ctx, movement)
		return nil, err
	}

	m.mu.Lock()
	m.challenges[movement.ID] = otpChallenge{
		hash:      hashOtpCode(code),
		expiresAt: m.now().Add(m.otpTTL),
	}
	m.mu.Unlock()

	if err := m.otp.SendOtpChallenge(ctx, movement.AgentID, movement.ID, code); err != nil {
		// Delivery is best-effort; the agent can cancel or let it expire.
		m.logger.Error("failed to send otp challenge",
			"movement_id", movement.ID,
			"error", err.Error(),
		)
	}
	return movement, nil
}

// VerifyOtp checks a presented code against the pending challenge. Wrong
// codes are retryable up to the attempt limit; expiry or exhaustion fails
// the movement and releases its reservation.
func (m *Machine) VerifyOtp(ctx context.Context, movementID, code string) (*models.CashMovement, error) {
	lock := m.lockMovement(movementID)
	lock.Lock()
	defer lock.Unlock()

	movement, err := m.movements.GetByID(ctx, movementID)
	if err != nil {
		return nil, err
	}
	if movement.State == models.MovementCompleted && movement.OtpVerified {
		// Lost acknowledgement replay.
		return movement, nil
	}
	if movement.State != models.MovementOtpPending {
		return movement, errors.ErrOtpNotPending
	}

	m.mu.Lock()
	challenge, ok := m.challenges[movementID]
	m.mu.Unlock()
	if !ok || m.now().After(challenge.expiresAt) {
		m.fail(ctx, movement, models.FailureOtpExpired)
		return movement, errors.ErrOtpExpired
	}

	if !otpMatches(challenge.hash, code) {
		movement.OtpAttempts++
		remaining := m.otpMaxAttempts - movement.OtpAttempts
		if remaining <= 0 {
			m.fail(ctx, movement, models.FailureOtpExhausted)
			return movement, errors.NewOtpAttemptError(0)
		}
		if err := m.movements.Update(ctx, movement); err != nil {
			return nil, err
		}
		m.logger.Warn("otp mismatch",
			"movement_id", movementID,
			"remaining_attempts", remaining,
		)
		return movement, errors.NewOtpAttemptError(remaining)
	}

	movement.OtpVerified = true
	m.mu.Lock()
	delete(m.challenges, movementID)
	m.mu.Unlock()

	if err := m.finalize(ctx, movement); err != nil {
		return nil, err
	}
	return movement, nil
}

// Cancel aborts a movement the agent no longer wants. Only non-terminal
// movements can be cancelled; a completed one needs a separate reversing
// movement, which is not a lifecycle operation.
func (m *Machine) Cancel(ctx context.Context, movementID, actor string) (*models.CashMovement, error) {
	lock := m.lockMovement(movementID)
	lock.Lock()
	defer lock.Unlock()

	movement, err := m.movements.GetByID(ctx, movementID)
	if err != nil {
		return nil, err
	}
	if movement.State.Terminal() {
		return movement, errors.ErrInvalidState
	}
	m.fail(ctx, movement, models.FailureCancelled)
	m.audit.Record(ctx, audit.NewRecord(actor, "movement_cancelled", models.EntityTypeMovement, movement.ID,
		nil, movement))
	return movement, nil
}

// GetMovement returns a movement by id.
func (m *Machine) GetMovement(ctx context.Context, movementID string) (*models.CashMovement, error) {
	return m.movements.GetByID(ctx, movementID)
}

// finalize commits the reservation (cash-out) and records completion.
func (m *Machine) finalize(ctx context.Context, movement *models.CashMovement) error {
	if movement.Direction == models.DirectionCashOut {
		if err := m.floats.Commit(ctx, movement.AgentID, movement.ID); err != nil {
			return err
		}
	}
	before := movement.State
	completedAt := m.now().UTC()
	movement.State = models.MovementCompleted
	movement.CompletedAt = &completedAt
	if err := m.movements.Update(ctx, movement); err != nil {
		return err
	}

	m.audit.Record(ctx, audit.NewRecord("lifecycle", "movement_completed", models.EntityTypeMovement, movement.ID,
		map[string]string{"state": string(before)},
		movement))
	m.logger.Info("movement completed",
		"movement_id", movement.ID,
		"agent_id", movement.AgentID,
		"direction", string(movement.Direction),
		"gross_amount", movement.GrossAmount,
		"fee", movement.Fee,
	)
	return nil
}

// fail moves the movement to its failed terminal state, releasing any
// reservation it holds.
func (m *Machine) fail(ctx context.Context, movement *models.CashMovement, reason models.FailureReason) {
	m.release(ctx, movement)
	before := movement.State
	movement.State = models.MovementFailed
	movement.FailureReason = reason
	if err := m.movements.Update(ctx, movement); err != nil {
		m.logger.Error("failed to persist movement failure",
			"movement_id", movement.ID,
			"reason", string(reason),
			"error", err.Error(),
		)
		return
	}
	m.audit.Record(ctx, audit.NewRecord("lifecycle", "movement_failed", models.EntityTypeMovement, movement.ID,
		map[string]string{"state": string(before)},
		movement))
	m.logger.Info("movement failed",
		"movement_id", movement.ID,
		"agent_id", movement.AgentID,
		"reason", string(reason),
	)
}

func (m *Machine) release(ctx context.Context, movement *models.CashMovement) {
	m.mu.Lock()
	delete(m.challenges, movement.ID)
	m.mu.Unlock()
	if movement.Direction == models.DirectionCashOut {
		m.floats.Release(ctx, movement.AgentID, movement.ID)
	}
}

func (m *Machine) validateSubmit(req *models.SubmitMovement) error {
	if req.AgentID == "" {
		return errors.NewValidationError("agent_id", "must be non-empty")
	}
	if !req.Direction.Valid() {
		return errors.NewValidationError("direction", "must be cash_in or cash_out")
	}
	if req.IdempotencyKey == "" {
		return errors.NewValidationError("idempotency_key", "must be non-empty")
	}
	if req.Counterparty.ServiceNumber == "" {
		return errors.NewValidationError("counterparty.service_number", "must be non-empty")
	}
	if req.Amount <= 0 {
		return errors.ErrInvalidAmount
	}
	return nil
}
