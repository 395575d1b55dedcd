package settlement

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/riteshkumar/agent-cash-ledger/internal/audit"
	"github.com/riteshkumar/agent-cash-ledger/internal/errors"
	"github.com/riteshkumar/agent-cash-ledger/internal/models"
	"github.com/riteshkumar/agent-cash-ledger/internal/repository"
)

// Batcher nets a day's completed movements for one agent into a single
// immutable settlement batch. Batch creation is mutually exclusive per
// agent+date, so concurrent end-of-day triggers cannot both succeed; the
// store's unique constraint on the pair backs this up across processes.
type Batcher struct {
	movements repository.MovementRepository
	batches   repository.SettlementRepository
	audit     audit.Recorder
	logger    *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex // agentID|date
}

func NewBatcher(movements repository.MovementRepository, batches repository.SettlementRepository,
	recorder audit.Recorder, logger *slog.Logger) *Batcher {
	return &Batcher{
		movements: movements,
		batches:   batches,
		audit:     recorder,
		logger:    logger,
		locks:     make(map[string]*sync.Mutex),
	}
}

func (b *Batcher) lockKey(agentID, businessDate string) *sync.Mutex {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := agentID + "|" + businessDate
	lock, ok := b.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		b.locks[key] = lock
	}
	return lock
}

// Reconcile reads all completed movements for the agent and business date,
// partitions by direction, and creates the day's batch. A second invocation
// for the same pair returns the existing batch together with
// ErrBatchAlreadyExists so re-driven end-of-day triggers can tell "done"
// from "broken".
func (b *Batcher) Reconcile(ctx context.Context, agentID, businessDate string) (*models.SettlementBatch, error) {
	if agentID == "" {
		return nil, errors.NewValidationError("agent_id", "must be non-empty")
	}
	if _, err := time.Parse("2006-01-02", businessDate); err != nil {
		return nil, errors.NewValidationError("business_date", "must be YYYY-MM-DD")
	}

	lock := b.lockKey(agentID, businessDate)
	lock.Lock()
	defer lock.Unlock()

	if existing, err := b.batches.GetByAgentDate(ctx, agentID, businessDate); err == nil {
		return existing, errors.ErrBatchAlreadyExists
	}

	movements, err := b.movements.ListCompletedByAgentDate(ctx, agentID, businessDate)
	if err != nil {
		return nil, err
	}

	batch := &models.SettlementBatch{
		AgentID:      agentID,
		BusinessDate: businessDate,
		Status:       models.BatchPending,
	}
	for _, m := range movements {
		batch.MovementIDs = append(batch.MovementIDs, m.ID)
		batch.TotalFees += m.Fee
		switch m.Direction {
		case models.DirectionCashIn:
			batch.TotalCashIn += m.GrossAmount
		case models.DirectionCashOut:
			batch.TotalCashOut += m.GrossAmount
		}
	}
	batch.NetCashFlow = batch.TotalCashIn - batch.TotalCashOut

	if err := b.batches.Create(ctx, batch); err != nil {
		if errors.IsBatchAlreadyExists(err) {
			// Lost a cross-process race on the unique constraint.
			existing, getErr := b.batches.GetByAgentDate(ctx, agentID, businessDate)
			if getErr != nil {
				return nil, err
			}
			return existing, errors.ErrBatchAlreadyExists
		}
		return nil, err
	}

	b.audit.Record(ctx, audit.NewRecord("settlement", "batch_created", models.EntityTypeBatch, batch.ID,
		nil, batch))
	b.logger.Info("settlement batch created",
		"batch_id", batch.ID,
		"agent_id", agentID,
		"business_date", businessDate,
		"movements", len(batch.MovementIDs),
		"net_cash_flow", batch.NetCashFlow,
	)
	return batch, nil
}

// SubmitBatch hands the batch to the downstream payout process. The
// transition pending -> submitted happens once; the batch is frozen after.
func (b *Batcher) SubmitBatch(ctx context.Context, batchID, actor string) (*models.SettlementBatch, error) {
	lock := b.lockKeyForBatch(ctx, batchID)
	if lock == nil {
		return nil, errors.ErrBatchNotFound
	}
	lock.Lock()
	defer lock.Unlock()

	batch, err := b.batches.GetByID(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if batch.Status == models.BatchSubmitted {
		return batch, errors.ErrAlreadyProcessed
	}

	before := batch.Status
	submittedAt := time.Now().UTC()
	batch.Status = models.BatchSubmitted
	batch.SubmittedAt = &submittedAt
	if err := b.batches.Update(ctx, batch); err != nil {
		return nil, err
	}

	b.audit.Record(ctx, audit.NewRecord(actor, "batch_submitted", models.EntityTypeBatch, batch.ID,
		map[string]string{"status": string(before)},
		map[string]string{"status": string(batch.Status)}))
	return batch, nil
}

func (b *Batcher) lockKeyForBatch(ctx context.Context, batchID string) *sync.Mutex {
	batch, err := b.batches.GetByID(ctx, batchID)
	if err != nil {
		return nil
	}
	return b.lockKey(batch.AgentID, batch.BusinessDate)
}

// GetBatch returns a batch by id.
func (b *Batcher) GetBatch(ctx context.Context, batchID string) (*models.SettlementBatch, error) {
	return b.batches.GetByID(ctx, batchID)
}

// ListByAgent returns all batches for an agent ordered by business date.
func (b *Batcher) ListByAgent(ctx context.Context, agentID string) ([]*models.SettlementBatch, error) {
	return b.batches.ListByAgent(ctx, agentID)
}
