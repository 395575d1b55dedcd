package lifecycle

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riteshkumar/agent-cash-ledger/internal/audit"
	"github.com/riteshkumar/agent-cash-ledger/internal/errors"
	"github.com/riteshkumar/agent-cash-ledger/internal/fees"
	"github.com/riteshkumar/agent-cash-ledger/internal/ledger"
	"github.com/riteshkumar/agent-cash-ledger/internal/models"
	"github.com/riteshkumar/agent-cash-ledger/internal/repository"
)

// captureSender records the last issued code per movement so tests can
// present it back.
type captureSender struct {
	mu    sync.Mutex
	codes map[string]string
}

func (s *captureSender) SendOtpChallenge(ctx context.Context, agentID, movementID, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.codes == nil {
		s.codes = make(map[string]string)
	}
	s.codes[movementID] = code
	return nil
}

func (s *captureSender) code(movementID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.codes[movementID]
}

type machineFixture struct {
	machine *Machine
	floats  *ledger.FloatLedger
	agents  *repository.MemoryAgentRepository
	sender  *captureSender
}

func newMachineFixture(t *testing.T, balance int64) *machineFixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	agents := repository.NewMemoryAgentRepository()
	require.NoError(t, agents.Create(context.Background(), &models.Agent{
		ID:           "agent-1",
		Name:         "Field Agent One",
		Rank:         "Sergeant",
		FloatBalance: balance,
		Active:       true,
	}))
	recorder := audit.NewRepoRecorder(repository.NewMemoryAuditRepository(), logger)
	floats := ledger.NewFloatLedger(agents, recorder, logger)
	sender := &captureSender{}
	machine := NewMachine(fees.NewEngine(fees.DefaultPolicy()), floats,
		repository.NewMemoryMovementRepository(), agents, sender, recorder, logger, Options{})
	machine.now = func() time.Time {
		return time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	}
	return &machineFixture{machine: machine, floats: floats, agents: agents, sender: sender}
}

func cashRequest(direction models.Direction, amount int64, key string) models.SubmitMovement {
	return models.SubmitMovement{
		AgentID:   "agent-1",
		Direction: direction,
		Amount:    amount,
		Counterparty: models.Counterparty{
			ServiceNumber: "NA/12345",
			Rank:          "Sergeant",
			Name:          "J. Okafor",
		},
		IdempotencyKey: key,
	}
}

func TestSubmitCashInCompletes(t *testing.T) {
	ctx := context.Background()
	f := newMachineFixture(t, 1_000_000)

	movement, err := f.machine.Submit(ctx, cashRequest(models.DirectionCashIn, 500_000, "key-1"))
	require.NoError(t, err)

	assert.Equal(t, models.MovementCompleted, movement.State)
	assert.Equal(t, int64(5_000), movement.Fee)
	assert.Equal(t, int64(495_000), movement.NetAmount)
	assert.False(t, movement.OtpRequired)
	require.NotNil(t, movement.CompletedAt)

	// Cash-in takes physical cash from the customer; float is untouched.
	agent, err := f.agents.GetByID(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1_000_000), agent.FloatBalance)
}

func TestSubmitCashOutDebitsFloat(t *testing.T) {
	ctx := context.Background()
	f := newMachineFixture(t, 1_000_000)

	movement, err := f.machine.Submit(ctx, cashRequest(models.DirectionCashOut, 400_000, "key-1"))
	require.NoError(t, err)
	assert.Equal(t, models.MovementCompleted, movement.State)

	agent, err := f.agents.GetByID(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, int64(600_000), agent.FloatBalance)
}

func TestSubmitInsufficientFloat(t *testing.T) {
	ctx := context.Background()
	f := newMachineFixture(t, 100_000)

	movement, err := f.machine.Submit(ctx, cashRequest(models.DirectionCashOut, 400_000, "key-1"))
	require.ErrorIs(t, err, errors.ErrInsufficientFloat)
	require.NotNil(t, movement)
	assert.Equal(t, models.MovementFailed, movement.State)
	assert.Equal(t, models.FailureInsufficientFloat, movement.FailureReason)

	agent, err := f.agents.GetByID(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, int64(100_000), agent.FloatBalance)
}

func TestSubmitIdempotentReplay(t *testing.T) {
	ctx := context.Background()
	f := newMachineFixture(t, 1_000_000)

	first, err := f.machine.Submit(ctx, cashRequest(models.DirectionCashOut, 400_000, "key-1"))
	require.NoError(t, err)

	second, err := f.machine.Submit(ctx, cashRequest(models.DirectionCashOut, 400_000, "key-1"))
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	// A replayed key must not debit twice.
	agent, err := f.agents.GetByID(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, int64(600_000), agent.FloatBalance)
}

func TestSubmitConcurrentSameKeySingleExecution(t *testing.T) {
	ctx := context.Background()
	f := newMachineFixture(t, 1_000_000)

	const callers = 10
	var wg sync.WaitGroup
	ids := make([]string, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			movement, err := f.machine.Submit(ctx, cashRequest(models.DirectionCashOut, 400_000, "key-1"))
			if err == nil && movement != nil {
				ids[n] = movement.ID
			}
		}(i)
	}
	wg.Wait()

	for i := 1; i < callers; i++ {
		assert.Equal(t, ids[0], ids[i])
	}
	agent, err := f.agents.GetByID(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, int64(600_000), agent.FloatBalance)
}

func TestLargeCashOutRequiresOtp(t *testing.T) {
	ctx := context.Background()
	f := newMachineFixture(t, 10_000_000)

	movement, err := f.machine.Submit(ctx, cashRequest(models.DirectionCashOut, 5_000_000, "key-1"))
	require.NoError(t, err)
	assert.Equal(t, models.MovementOtpPending, movement.State)
	assert.True(t, movement.OtpRequired)

	// The reservation holds but the balance is not yet debited.
	agent, err := f.agents.GetByID(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, int64(10_000_000), agent.FloatBalance)

	available, err := f.floats.Available(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, int64(5_000_000), available)

	code := f.sender.code(movement.ID)
	require.Len(t, code, 6)

	verified, err := f.machine.VerifyOtp(ctx, movement.ID, code)
	require.NoError(t, err)
	assert.Equal(t, models.MovementCompleted, verified.State)
	assert.True(t, verified.OtpVerified)

	agent, err = f.agents.GetByID(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, int64(5_000_000), agent.FloatBalance)
}

func TestVerifyOtpWrongCodeExhaustsAttempts(t *testing.T) {
	ctx := context.Background()
	f := newMachineFixture(t, 10_000_000)

	movement, err := f.machine.Submit(ctx, cashRequest(models.DirectionCashOut, 5_000_000, "key-1"))
	require.NoError(t, err)

	right := f.sender.code(movement.ID)
	wrong := "000000"
	if wrong == right {
		wrong = "000001"
	}

	for attempt := 1; attempt <= 2; attempt++ {
		updated, err := f.machine.VerifyOtp(ctx, movement.ID, wrong)
		var attemptErr *errors.OtpAttemptError
		require.ErrorAs(t, err, &attemptErr)
		assert.Equal(t, 3-attempt, attemptErr.Remaining)
		assert.Equal(t, models.MovementOtpPending, updated.State)
	}

	// Third miss fails the movement and releases the hold.
	failed, err := f.machine.VerifyOtp(ctx, movement.ID, wrong)
	var attemptErr *errors.OtpAttemptError
	require.ErrorAs(t, err, &attemptErr)
	assert.Equal(t, 0, attemptErr.Remaining)
	assert.Equal(t, models.MovementFailed, failed.State)
	assert.Equal(t, models.FailureOtpExhausted, failed.FailureReason)

	available, err := f.floats.Available(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, int64(10_000_000), available)

	// The correct code no longer helps.
	_, err = f.machine.VerifyOtp(ctx, movement.ID, right)
	require.ErrorIs(t, err, errors.ErrOtpNotPending)
}

func TestVerifyOtpExpired(t *testing.T) {
	ctx := context.Background()
	f := newMachineFixture(t, 10_000_000)

	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	f.machine.now = func() time.Time { return base }

	movement, err := f.machine.Submit(ctx, cashRequest(models.DirectionCashOut, 5_000_000, "key-1"))
	require.NoError(t, err)

	f.machine.now = func() time.Time { return base.Add(10 * time.Minute) }

	failed, err := f.machine.VerifyOtp(ctx, movement.ID, f.sender.code(movement.ID))
	require.ErrorIs(t, err, errors.ErrOtpExpired)
	assert.Equal(t, models.MovementFailed, failed.State)
	assert.Equal(t, models.FailureOtpExpired, failed.FailureReason)

	available, err := f.floats.Available(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, int64(10_000_000), available)
}

func TestVerifyOtpReplayAfterCompletion(t *testing.T) {
	ctx := context.Background()
	f := newMachineFixture(t, 10_000_000)

	movement, err := f.machine.Submit(ctx, cashRequest(models.DirectionCashOut, 5_000_000, "key-1"))
	require.NoError(t, err)
	code := f.sender.code(movement.ID)

	_, err = f.machine.VerifyOtp(ctx, movement.ID, code)
	require.NoError(t, err)

	// Re-sent verification after a lost acknowledgement is a success replay,
	// not a second debit.
	replayed, err := f.machine.VerifyOtp(ctx, movement.ID, code)
	require.NoError(t, err)
	assert.Equal(t, models.MovementCompleted, replayed.State)

	agent, err := f.agents.GetByID(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, int64(5_000_000), agent.FloatBalance)
}

func TestVerifyOtpOnNonPendingMovement(t *testing.T) {
	ctx := context.Background()
	f := newMachineFixture(t, 1_000_000)

	movement, err := f.machine.Submit(ctx, cashRequest(models.DirectionCashIn, 500_000, "key-1"))
	require.NoError(t, err)

	_, err = f.machine.VerifyOtp(ctx, movement.ID, "123456")
	require.ErrorIs(t, err, errors.ErrOtpNotPending)
}

func TestCancelPendingMovement(t *testing.T) {
	ctx := context.Background()
	f := newMachineFixture(t, 10_000_000)

	movement, err := f.machine.Submit(ctx, cashRequest(models.DirectionCashOut, 5_000_000, "key-1"))
	require.NoError(t, err)

	cancelled, err := f.machine.Cancel(ctx, movement.ID, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, models.MovementFailed, cancelled.State)
	assert.Equal(t, models.FailureCancelled, cancelled.FailureReason)

	available, err := f.floats.Available(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, int64(10_000_000), available)
}

func TestCancelCompletedMovement(t *testing.T) {
	ctx := context.Background()
	f := newMachineFixture(t, 1_000_000)

	movement, err := f.machine.Submit(ctx, cashRequest(models.DirectionCashIn, 500_000, "key-1"))
	require.NoError(t, err)

	_, err = f.machine.Cancel(ctx, movement.ID, "agent-1")
	require.ErrorIs(t, err, errors.ErrInvalidState)
}

func TestSubmitValidation(t *testing.T) {
	ctx := context.Background()
	f := newMachineFixture(t, 1_000_000)

	tests := []struct {
		name   string
		mutate func(*models.SubmitMovement)
	}{
		{"missing agent id", func(r *models.SubmitMovement) { r.AgentID = "" }},
		{"bad direction", func(r *models.SubmitMovement) { r.Direction = "sideways" }},
		{"missing idempotency key", func(r *models.SubmitMovement) { r.IdempotencyKey = "" }},
		{"missing counterparty", func(r *models.SubmitMovement) { r.Counterparty.ServiceNumber = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := cashRequest(models.DirectionCashIn, 500_000, "key-"+tt.name)
			tt.mutate(&req)
			_, err := f.machine.Submit(ctx, req)
			require.Error(t, err)
			assert.True(t, errors.IsValidationError(err))
		})
	}

	req := cashRequest(models.DirectionCashIn, 0, "key-zero")
	_, err := f.machine.Submit(ctx, req)
	require.ErrorIs(t, err, errors.ErrInvalidAmount)
}

func TestSubmitInactiveAgent(t *testing.T) {
	ctx := context.Background()
	f := newMachineFixture(t, 1_000_000)
	require.NoError(t, f.agents.SetActive(ctx, "agent-1", false))

	_, err := f.machine.Submit(ctx, cashRequest(models.DirectionCashIn, 500_000, "key-1"))
	require.ErrorIs(t, err, errors.ErrAgentInactive)
}
