package ledger

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riteshkumar/agent-cash-ledger/internal/audit"
	"github.com/riteshkumar/agent-cash-ledger/internal/errors"
	"github.com/riteshkumar/agent-cash-ledger/internal/models"
	"github.com/riteshkumar/agent-cash-ledger/internal/repository"
)

func newTestLedger(t *testing.T, agentID string, balance int64) (*FloatLedger, *repository.MemoryAgentRepository) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	agents := repository.NewMemoryAgentRepository()
	require.NoError(t, agents.Create(context.Background(), &models.Agent{
		ID:           agentID,
		Name:         "Test Agent",
		Rank:         "Sergeant",
		FloatBalance: balance,
		Active:       true,
	}))
	recorder := audit.NewRepoRecorder(repository.NewMemoryAuditRepository(), logger)
	return NewFloatLedger(agents, recorder, logger), agents
}

func TestReserveCommitRelease(t *testing.T) {
	ctx := context.Background()
	l, agents := newTestLedger(t, "agent-1", 1_000_000)

	require.NoError(t, l.Reserve(ctx, "agent-1", "mov-1", 400_000))

	// Reservation holds against available, not against the balance.
	agent, err := agents.GetByID(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1_000_000), agent.FloatBalance)

	available, err := l.Available(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, int64(600_000), available)

	balance, err := l.Balance(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1_000_000), balance)

	require.NoError(t, l.Commit(ctx, "agent-1", "mov-1"))
	agent, err = agents.GetByID(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, int64(600_000), agent.FloatBalance)

	// Committing twice is a no-op, not a double debit.
	require.NoError(t, l.Commit(ctx, "agent-1", "mov-1"))
	agent, err = agents.GetByID(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, int64(600_000), agent.FloatBalance)
}

func TestReserveInsufficientFloat(t *testing.T) {
	ctx := context.Background()
	l, agents := newTestLedger(t, "agent-1", 1_000_000)

	err := l.Reserve(ctx, "agent-1", "mov-1", 1_500_000)
	require.ErrorIs(t, err, errors.ErrInsufficientFloat)

	agent, err := agents.GetByID(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1_000_000), agent.FloatBalance)
}

func TestPendingReservationsCountAgainstAvailable(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(t, "agent-1", 1_000_000)

	require.NoError(t, l.Reserve(ctx, "agent-1", "mov-1", 700_000))
	err := l.Reserve(ctx, "agent-1", "mov-2", 400_000)
	require.ErrorIs(t, err, errors.ErrInsufficientFloat)

	// Releasing the first hold frees the room.
	require.NoError(t, l.Release(ctx, "agent-1", "mov-1"))
	require.NoError(t, l.Reserve(ctx, "agent-1", "mov-2", 400_000))
}

func TestReleaseRestoresAvailable(t *testing.T) {
	ctx := context.Background()
	l, agents := newTestLedger(t, "agent-1", 1_000_000)

	require.NoError(t, l.Reserve(ctx, "agent-1", "mov-1", 400_000))
	require.NoError(t, l.Release(ctx, "agent-1", "mov-1"))

	available, err := l.Available(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1_000_000), available)

	agent, err := agents.GetByID(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1_000_000), agent.FloatBalance)

	// Releasing an unknown movement is a safe no-op.
	require.NoError(t, l.Release(ctx, "agent-1", "mov-unknown"))
}

func TestCommitWithoutReservation(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(t, "agent-1", 1_000_000)
	err := l.Commit(ctx, "agent-1", "mov-ghost")
	require.ErrorIs(t, err, errors.ErrInvalidState)
}

func TestTopUp(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(t, "agent-1", 1_000_000)

	newBalance, err := l.TopUp(ctx, "agent-1", 250_000, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1_250_000), newBalance)

	_, err = l.TopUp(ctx, "agent-1", 0, "admin-1")
	require.ErrorIs(t, err, errors.ErrInvalidAmount)
}

func TestReserveOnInactiveAgent(t *testing.T) {
	ctx := context.Background()
	l, agents := newTestLedger(t, "agent-1", 1_000_000)
	require.NoError(t, agents.SetActive(ctx, "agent-1", false))

	err := l.Reserve(ctx, "agent-1", "mov-1", 100_000)
	require.ErrorIs(t, err, errors.ErrAgentInactive)
}

// Float never goes negative under concurrent reservations: with N1,000,000
// of float and twenty concurrent N300,000 holds, at most three can win.
func TestConcurrentReservesNeverOverdraw(t *testing.T) {
	ctx := context.Background()
	l, agents := newTestLedger(t, "agent-1", 1_000_000)

	const attempts = 20
	var wg sync.WaitGroup
	results := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			results[n] = l.Reserve(ctx, "agent-1", "mov-"+string(rune('a'+n)), 300_000)
		}(i)
	}
	wg.Wait()

	var won int
	for i, err := range results {
		if err == nil {
			won++
			require.NoError(t, l.Commit(ctx, "agent-1", "mov-"+string(rune('a'+i))))
		} else {
			require.ErrorIs(t, err, errors.ErrInsufficientFloat)
		}
	}
	assert.Equal(t, 3, won)

	agent, err := agents.GetByID(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, int64(100_000), agent.FloatBalance)
	assert.GreaterOrEqual(t, agent.FloatBalance, int64(0))
}
