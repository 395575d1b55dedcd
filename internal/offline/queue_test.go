package offline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riteshkumar/agent-cash-ledger/internal/audit"
	"github.com/riteshkumar/agent-cash-ledger/internal/errors"
	"github.com/riteshkumar/agent-cash-ledger/internal/fees"
	"github.com/riteshkumar/agent-cash-ledger/internal/ledger"
	"github.com/riteshkumar/agent-cash-ledger/internal/lifecycle"
	"github.com/riteshkumar/agent-cash-ledger/internal/models"
	"github.com/riteshkumar/agent-cash-ledger/internal/repository"
)

type stubSubmitter struct {
	fn func(ctx context.Context, req models.SubmitMovement) (*models.CashMovement, error)
}

func (s *stubSubmitter) Submit(ctx context.Context, req models.SubmitMovement) (*models.CashMovement, error) {
	return s.fn(ctx, req)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newReplayStack wires a queue onto a real lifecycle machine backed by
// in-memory stores, for end-to-end replay tests.
func newReplayStack(t *testing.T, balance int64) (*Queue, *repository.MemoryAgentRepository, *repository.MemoryMovementRepository) {
	t.Helper()
	logger := discardLogger()
	agents := repository.NewMemoryAgentRepository()
	require.NoError(t, agents.Create(context.Background(), &models.Agent{
		ID:           "agent-1",
		Name:         "Field Agent One",
		Rank:         "Sergeant",
		FloatBalance: balance,
		Active:       true,
	}))
	movements := repository.NewMemoryMovementRepository()
	recorder := audit.NewRepoRecorder(repository.NewMemoryAuditRepository(), logger)
	floats := ledger.NewFloatLedger(agents, recorder, logger)
	machine := lifecycle.NewMachine(fees.NewEngine(fees.DefaultPolicy()), floats, movements, agents,
		&lifecycle.LogSender{Logger: logger}, recorder, logger, lifecycle.Options{})
	queue := NewQueue(repository.NewMemoryQueueRepository(), machine, logger, Options{})
	return queue, agents, movements
}

func queuedRequest(amount int64, key string) models.SubmitMovement {
	return models.SubmitMovement{
		AgentID:   "agent-1",
		Direction: models.DirectionCashOut,
		Amount:    amount,
		Counterparty: models.Counterparty{
			ServiceNumber: "NA/12345",
			Rank:          "Sergeant",
			Name:          "J. Okafor",
		},
		IdempotencyKey: key,
		Offline:        true,
	}
}

func TestEnqueueRequiresIdempotencyKey(t *testing.T) {
	queue, _, _ := newReplayStack(t, 1_000_000)
	_, err := queue.Enqueue(context.Background(), queuedRequest(100_000, ""))
	require.Error(t, err)
	assert.True(t, errors.IsValidationError(err))
}

func TestReplayAllExecutesAndRemovesEntries(t *testing.T) {
	ctx := context.Background()
	queue, agents, movements := newReplayStack(t, 1_000_000)

	entry, err := queue.Enqueue(ctx, queuedRequest(400_000, "key-1"))
	require.NoError(t, err)

	queue.ReplayAll(ctx)

	_, err = queue.entries.GetByID(ctx, entry.ID)
	require.ErrorIs(t, err, errors.ErrEntryNotFound)

	movement, err := movements.GetByIdempotencyKey(ctx, "key-1")
	require.NoError(t, err)
	assert.Equal(t, models.MovementCompleted, movement.State)

	agent, err := agents.GetByID(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, int64(600_000), agent.FloatBalance)
}

func TestReplayTwiceIsSingleDebit(t *testing.T) {
	ctx := context.Background()
	queue, agents, _ := newReplayStack(t, 1_000_000)

	// Same key queued twice, as happens when a device re-syncs after a lost
	// acknowledgement.
	_, err := queue.Enqueue(ctx, queuedRequest(400_000, "key-1"))
	require.NoError(t, err)
	_, err = queue.Enqueue(ctx, queuedRequest(400_000, "key-1"))
	require.NoError(t, err)

	queue.ReplayAll(ctx)
	queue.ReplayAll(ctx)

	agent, err := agents.GetByID(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, int64(600_000), agent.FloatBalance)

	remaining, err := queue.entries.ListByStatus(ctx, models.QueueEntryQueued)
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestReplayFailedMovementStillClearsEntry(t *testing.T) {
	ctx := context.Background()
	queue, agents, movements := newReplayStack(t, 100_000)

	entry, err := queue.Enqueue(ctx, queuedRequest(400_000, "key-1"))
	require.NoError(t, err)

	queue.ReplayAll(ctx)

	// Insufficient float is a terminal outcome; the entry is done.
	_, err = queue.entries.GetByID(ctx, entry.ID)
	require.ErrorIs(t, err, errors.ErrEntryNotFound)

	movement, err := movements.GetByIdempotencyKey(ctx, "key-1")
	require.NoError(t, err)
	assert.Equal(t, models.MovementFailed, movement.State)

	agent, err := agents.GetByID(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, int64(100_000), agent.FloatBalance)
}

func TestReplayLeavesNonTerminalMovements(t *testing.T) {
	ctx := context.Background()
	stub := &stubSubmitter{fn: func(ctx context.Context, req models.SubmitMovement) (*models.CashMovement, error) {
		return &models.CashMovement{ID: "mov-1", State: models.MovementOtpPending}, nil
	}}
	queue := NewQueue(repository.NewMemoryQueueRepository(), stub, discardLogger(), Options{})

	entry, err := queue.Enqueue(ctx, queuedRequest(5_000_000, "key-1"))
	require.NoError(t, err)

	queue.ReplayAll(ctx)

	// Awaiting OTP; the entry stays queued without burning a retry.
	refreshed, err := queue.entries.GetByID(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QueueEntryQueued, refreshed.Status)
	assert.Equal(t, 0, refreshed.RetryCount)
}

func TestRetryBudgetSurfacesEntry(t *testing.T) {
	ctx := context.Background()
	stub := &stubSubmitter{fn: func(ctx context.Context, req models.SubmitMovement) (*models.CashMovement, error) {
		return nil, fmt.Errorf("upstream unavailable")
	}}
	queue := NewQueue(repository.NewMemoryQueueRepository(), stub, discardLogger(), Options{MaxRetries: 3})

	entry, err := queue.Enqueue(ctx, queuedRequest(400_000, "key-1"))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		queue.ReplayAll(ctx)
	}

	refreshed, err := queue.entries.GetByID(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QueueEntryNeedsAttention, refreshed.Status)
	assert.Equal(t, 3, refreshed.RetryCount)
	require.NotNil(t, refreshed.LastRetryAt)

	attention, err := queue.NeedsAttention(ctx)
	require.NoError(t, err)
	require.Len(t, attention, 1)
	assert.Equal(t, entry.ID, attention[0].ID)

	// Surfaced entries are kept for the operator, never auto-discarded.
	queue.ReplayAll(ctx)
	_, err = queue.entries.GetByID(ctx, entry.ID)
	require.NoError(t, err)
}

func TestManualRetrySucceeds(t *testing.T) {
	ctx := context.Background()
	queue, agents, _ := newReplayStack(t, 1_000_000)

	entry, err := queue.Enqueue(ctx, queuedRequest(400_000, "key-1"))
	require.NoError(t, err)

	refreshed, err := queue.Retry(ctx, entry.ID)
	require.NoError(t, err)
	assert.Nil(t, refreshed, "a terminal replay removes the entry")

	agent, err := agents.GetByID(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, int64(600_000), agent.FloatBalance)
}

func TestManualRetryUnknownEntry(t *testing.T) {
	queue, _, _ := newReplayStack(t, 1_000_000)
	_, err := queue.Retry(context.Background(), "no-such-entry")
	require.ErrorIs(t, err, errors.ErrEntryNotFound)
}

func TestReplayOrderPerAgent(t *testing.T) {
	ctx := context.Background()
	var order []string
	stub := &stubSubmitter{fn: func(ctx context.Context, req models.SubmitMovement) (*models.CashMovement, error) {
		order = append(order, req.IdempotencyKey)
		return &models.CashMovement{ID: req.IdempotencyKey, State: models.MovementCompleted}, nil
	}}
	queue := NewQueue(repository.NewMemoryQueueRepository(), stub, discardLogger(), Options{})

	// Strictly increasing clock so queue order is unambiguous.
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	var tick time.Duration
	queue.now = func() time.Time {
		tick += time.Second
		return base.Add(tick)
	}

	for i := 1; i <= 3; i++ {
		_, err := queue.Enqueue(ctx, queuedRequest(100_000, fmt.Sprintf("key-%d", i)))
		require.NoError(t, err)
	}

	queue.ReplayAll(ctx)
	assert.Equal(t, []string{"key-1", "key-2", "key-3"}, order)
}
