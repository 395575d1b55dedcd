package offline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/riteshkumar/agent-cash-ledger/internal/errors"
	"github.com/riteshkumar/agent-cash-ledger/internal/models"
	"github.com/riteshkumar/agent-cash-ledger/internal/repository"
)

// Submitter is the lifecycle machine surface the queue replays into.
type Submitter interface {
	Submit(ctx context.Context, req models.SubmitMovement) (*models.CashMovement, error)
}

// Queue captures movements created while disconnected and replays them
// until the wrapped movement reaches a terminal state. The client-assigned
// idempotency key is what makes replay safe: a replay whose first attempt
// succeeded but whose acknowledgement was lost observes the stored terminal
// movement and the entry is simply removed.
type Queue struct {
	entries    repository.QueueRepository
	machine    Submitter
	logger     *slog.Logger
	interval   time.Duration
	maxRetries int
	now        func() time.Time
}

type Options struct {
	Interval   time.Duration
	MaxRetries int
}

func NewQueue(entries repository.QueueRepository, machine Submitter, logger *slog.Logger, opts Options) *Queue {
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Second
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 10
	}
	return &Queue{
		entries:    entries,
		machine:    machine,
		logger:     logger,
		interval:   opts.Interval,
		maxRetries: opts.MaxRetries,
		now:        time.Now,
	}
}

// Enqueue stores a movement submitted without connectivity.
func (q *Queue) Enqueue(ctx context.Context, req models.SubmitMovement) (*models.OfflineQueueEntry, error) {
	if req.IdempotencyKey == "" {
		return nil, errors.NewValidationError("idempotency_key", "must be assigned client-side before queueing")
	}
	entry := &models.OfflineQueueEntry{
		Request:  req,
		Status:   models.QueueEntryQueued,
		QueuedAt: q.now().UTC(),
	}
	if err := q.entries.Create(ctx, entry); err != nil {
		return nil, err
	}
	q.logger.Info("movement queued offline",
		"entry_id", entry.ID,
		"agent_id", req.AgentID,
		"idempotency_key", req.IdempotencyKey,
	)
	return entry, nil
}

// Run replays queued entries at a fixed interval until ctx is cancelled.
// It never blocks callers; live submissions race replays safely because the
// float ledger serializes per agent.
func (q *Queue) Run(ctx context.Context) {
	ticker := time.NewTicker(q.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.ReplayAll(ctx)
		}
	}
}

// ReplayAll attempts every queued entry, grouped by agent so one agent's
// entries replay in order while agents proceed concurrently.
func (q *Queue) ReplayAll(ctx context.Context) {
	queued, err := q.entries.ListByStatus(ctx, models.QueueEntryQueued)
	if err != nil {
		q.logger.Error("failed to list queued entries", "error", err.Error())
		return
	}
	if len(queued) == 0 {
		return
	}

	byAgent := make(map[string][]*models.OfflineQueueEntry)
	for _, entry := range queued {
		byAgent[entry.Request.AgentID] = append(byAgent[entry.Request.AgentID], entry)
	}

	var wg sync.WaitGroup
	for _, agentEntries := range byAgent {
		wg.Add(1)
		go func(entries []*models.OfflineQueueEntry) {
			defer wg.Done()
			for _, entry := range entries {
				q.replay(ctx, entry)
			}
		}(agentEntries)
	}
	wg.Wait()
}

// Retry is the manual trigger for a single entry, including entries already
// surfaced for operator attention.
func (q *Queue) Retry(ctx context.Context, entryID string) (*models.OfflineQueueEntry, error) {
	entry, err := q.entries.GetByID(ctx, entryID)
	if err != nil {
		return nil, err
	}
	q.replay(ctx, entry)
	// The entry is gone once the movement is terminal.
	refreshed, err := q.entries.GetByID(ctx, entryID)
	if errors.IsNotFound(err) {
		return nil, nil
	}
	return refreshed, err
}

// NeedsAttention lists entries past the retry budget. They are surfaced,
// never auto-discarded.
func (q *Queue) NeedsAttention(ctx context.Context) ([]*models.OfflineQueueEntry, error) {
	return q.entries.ListByStatus(ctx, models.QueueEntryNeedsAttention)
}

func (q *Queue) replay(ctx context.Context, entry *models.OfflineQueueEntry) {
	movement, err := q.machine.Submit(ctx, entry.Request)
	if movement != nil && movement.State.Terminal() {
		// One terminal outcome per idempotency key, however many replays.
		if err := q.entries.Delete(ctx, entry.ID); err != nil && !errors.IsNotFound(err) {
			q.logger.Error("failed to remove replayed entry",
				"entry_id", entry.ID,
				"error", err.Error(),
			)
		}
		return
	}
	if movement != nil && !movement.State.Terminal() {
		// In flight (e.g. awaiting OTP); leave the entry for the next tick.
		return
	}

	retryAt := q.now().UTC()
	entry.RetryCount++
	entry.LastRetryAt = &retryAt
	if entry.RetryCount >= q.maxRetries && entry.Status == models.QueueEntryQueued {
		entry.Status = models.QueueEntryNeedsAttention
		q.logger.Warn("queue entry exceeded retry budget",
			"entry_id", entry.ID,
			"agent_id", entry.Request.AgentID,
			"retry_count", entry.RetryCount,
		)
	}
	if updateErr := q.entries.Update(ctx, entry); updateErr != nil {
		q.logger.Error("failed to update queue entry after replay",
			"entry_id", entry.ID,
			"error", updateErr.Error(),
		)
	}
	if err != nil {
		q.logger.Warn("replay attempt failed",
			"entry_id", entry.ID,
			"agent_id", entry.Request.AgentID,
			"retry_count", entry.RetryCount,
			"error", err.Error(),
		)
	}
}
