package ledger

import (
	"context"
	"log/slog"
	"sync"

	"github.com/riteshkumar/agent-cash-ledger/internal/audit"
	"github.com/riteshkumar/agent-cash-ledger/internal/errors"
	"github.com/riteshkumar/agent-cash-ledger/internal/models"
	"github.com/riteshkumar/agent-cash-ledger/internal/repository"
)

// FloatLedger owns every mutation of agent float balances. A cash-out is
// promised to the customer before the money irrevocably moves, so debits are
// two-phase: Reserve holds the amount against the available balance, Commit
// converts the hold into a permanent debit, Release discards it.
//
// All three operations for one agent are serialized on that agent's lock;
// different agents proceed in parallel.
type FloatLedger struct {
	agents repository.AgentRepository
	audit  audit.Recorder
	logger *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
	state map[string]*agentFloat
}

type agentFloat struct {
	reserved  map[string]int64 // movement id -> held amount
	committed map[string]bool  // movement ids already debited
}

func NewFloatLedger(agents repository.AgentRepository, recorder audit.Recorder, logger *slog.Logger) *FloatLedger {
	return &FloatLedger{
		agents: agents,
		audit:  recorder,
		logger: logger,
		locks:  make(map[string]*sync.Mutex),
		state:  make(map[string]*agentFloat),
	}
}

func (l *FloatLedger) lockAgent(agentID string) (*sync.Mutex, *agentFloat) {
	l.mu.Lock()
	lock, ok := l.locks[agentID]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[agentID] = lock
		l.state[agentID] = &agentFloat{
			reserved:  make(map[string]int64),
			committed: make(map[string]bool),
		}
	}
	state := l.state[agentID]
	l.mu.Unlock()
	lock.Lock()
	return lock, state
}

// Reserve holds amount against the agent's available float. Fails with
// ErrInsufficientFloat when balance minus pending reservations cannot cover
// it; the balance itself is untouched.
func (l *FloatLedger) Reserve(ctx context.Context, agentID, movementID string, amount int64) error {
	if amount <= 0 {
		return errors.ErrInvalidAmount
	}
	lock, state := l.lockAgent(agentID)
	defer lock.Unlock()

	agent, err := l.agents.GetByID(ctx, agentID)
	if err != nil {
		return err
	}
	if !agent.Active {
		return errors.ErrAgentInactive
	}
	if state.committed[movementID] {
		// The movement already debited; a repeat reserve is a replay.
		return nil
	}
	if _, held := state.reserved[movementID]; held {
		return nil
	}

	var pending int64
	for _, held := range state.reserved {
		pending += held
	}
	if agent.FloatBalance-pending < amount {
		l.logger.Warn("float reservation rejected",
			"agent_id", agentID,
			"movement_id", movementID,
			"float_balance", agent.FloatBalance,
			"pending_reservations", pending,
			"requested_amount", amount,
		)
		return errors.ErrInsufficientFloat
	}
	state.reserved[movementID] = amount
	return nil
}

// Commit converts the movement's reservation into a permanent debit. It is
// idempotent per movement id: committing twice is a no-op, not a double
// debit.
func (l *FloatLedger) Commit(ctx context.Context, agentID, movementID string) error {
	lock, state := l.lockAgent(agentID)
	defer lock.Unlock()

	if state.committed[movementID] {
		return nil
	}
	amount, ok := state.reserved[movementID]
	if !ok {
		return errors.ErrInvalidState
	}

	agent, err := l.agents.GetByID(ctx, agentID)
	if err != nil {
		return err
	}
	newBalance := agent.FloatBalance - amount
	if err := l.agents.UpdateFloatBalance(ctx, agentID, newBalance); err != nil {
		return err
	}
	delete(state.reserved, movementID)
	state.committed[movementID] = true

	l.audit.Record(ctx, audit.NewRecord("ledger", "float_debit", models.EntityTypeAgent, agentID,
		models.FloatSnapshot{AgentID: agentID, FloatBalance: agent.FloatBalance},
		models.FloatSnapshot{AgentID: agentID, FloatBalance: newBalance},
	))
	return nil
}

// Release discards the movement's reservation without touching the balance.
// Releasing an unknown movement id is a no-op so failure paths can call it
// unconditionally.
func (l *FloatLedger) Release(ctx context.Context, agentID, movementID string) error {
	lock, state := l.lockAgent(agentID)
	defer lock.Unlock()
	delete(state.reserved, movementID)
	return nil
}

// TopUp applies an administrative credit to the agent's float.
func (l *FloatLedger) TopUp(ctx context.Context, agentID string, amount int64, actor string) (int64, error) {
	if amount <= 0 {
		return 0, errors.ErrInvalidAmount
	}
	lock, _ := l.lockAgent(agentID)
	defer lock.Unlock()

	agent, err := l.agents.GetByID(ctx, agentID)
	if err != nil {
		return 0, err
	}
	newBalance := agent.FloatBalance + amount
	if err := l.agents.UpdateFloatBalance(ctx, agentID, newBalance); err != nil {
		return 0, err
	}

	l.audit.Record(ctx, audit.NewRecord(actor, "float_topup", models.EntityTypeAgent, agentID,
		models.FloatSnapshot{AgentID: agentID, FloatBalance: agent.FloatBalance},
		models.FloatSnapshot{AgentID: agentID, FloatBalance: newBalance},
	))
	l.logger.Info("float topped up",
		"agent_id", agentID,
		"amount", amount,
		"new_balance", newBalance,
		"actor", actor,
	)
	return newBalance, nil
}

// Balance returns the persisted float balance, ignoring reservations.
func (l *FloatLedger) Balance(ctx context.Context, agentID string) (int64, error) {
	agent, err := l.agents.GetByID(ctx, agentID)
	if err != nil {
		return 0, err
	}
	return agent.FloatBalance, nil
}

// Available returns the balance minus pending reservations.
func (l *FloatLedger) Available(ctx context.Context, agentID string) (int64, error) {
	lock, state := l.lockAgent(agentID)
	defer lock.Unlock()

	agent, err := l.agents.GetByID(ctx, agentID)
	if err != nil {
		return 0, err
	}
	var pending int64
	for _, held := range state.reserved {
		pending += held
	}
	return agent.FloatBalance - pending, nil
}
