package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/riteshkumar/agent-cash-ledger/internal/errors"
	"github.com/riteshkumar/agent-cash-ledger/internal/models"
)

// In-memory stores keyed by id. They satisfy the same contracts as the
// Postgres implementations, including the uniqueness guarantees on the
// movement idempotency key and the settlement agent+date pair.

type MemoryAgentRepository struct {
	mu     sync.RWMutex
	agents map[string]*models.Agent
}

func NewMemoryAgentRepository() *MemoryAgentRepository {
	return &MemoryAgentRepository{agents: make(map[string]*models.Agent)}
}

func (r *MemoryAgentRepository) Create(ctx context.Context, agent *models.Agent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.agents[agent.ID]; ok {
		return errors.ErrAgentAlreadyExists
	}
	now := time.Now().UTC()
	agent.CreatedAt = now
	agent.UpdatedAt = now
	cp := *agent
	r.agents[agent.ID] = &cp
	return nil
}

func (r *MemoryAgentRepository) GetByID(ctx context.Context, id string) (*models.Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	agent, ok := r.agents[id]
	if !ok {
		return nil, errors.ErrAgentNotFound
	}
	cp := *agent
	return &cp, nil
}

func (r *MemoryAgentRepository) UpdateFloatBalance(ctx context.Context, id string, newBalance int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	agent, ok := r.agents[id]
	if !ok {
		return errors.ErrAgentNotFound
	}
	agent.FloatBalance = newBalance
	agent.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *MemoryAgentRepository) SetActive(ctx context.Context, id string, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	agent, ok := r.agents[id]
	if !ok {
		return errors.ErrAgentNotFound
	}
	agent.Active = active
	agent.UpdatedAt = time.Now().UTC()
	return nil
}

type MemoryMovementRepository struct {
	mu        sync.RWMutex
	movements map[string]*models.CashMovement
	byKey     map[string]string // idempotency key -> movement id
}

func NewMemoryMovementRepository() *MemoryMovementRepository {
	return &MemoryMovementRepository{
		movements: make(map[string]*models.CashMovement),
		byKey:     make(map[string]string),
	}
}

func (r *MemoryMovementRepository) Create(ctx context.Context, movement *models.CashMovement) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byKey[movement.IdempotencyKey]; ok {
		return errors.ErrDuplicateKey
	}
	if movement.ID == "" {
		movement.ID = uuid.New().String()
	}
	if movement.CreatedAt.IsZero() {
		movement.CreatedAt = time.Now().UTC()
	}
	cp := *movement
	r.movements[movement.ID] = &cp
	r.byKey[movement.IdempotencyKey] = movement.ID
	return nil
}

func (r *MemoryMovementRepository) Update(ctx context.Context, movement *models.CashMovement) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.movements[movement.ID]; !ok {
		return errors.ErrMovementNotFound
	}
	cp := *movement
	r.movements[movement.ID] = &cp
	return nil
}

func (r *MemoryMovementRepository) GetByID(ctx context.Context, id string) (*models.CashMovement, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	movement, ok := r.movements[id]
	if !ok {
		return nil, errors.ErrMovementNotFound
	}
	cp := *movement
	return &cp, nil
}

func (r *MemoryMovementRepository) GetByIdempotencyKey(ctx context.Context, key string) (*models.CashMovement, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byKey[key]
	if !ok {
		return nil, errors.ErrMovementNotFound
	}
	cp := *r.movements[id]
	return &cp, nil
}

func (r *MemoryMovementRepository) ListCompletedByAgentDate(ctx context.Context, agentID, businessDate string) ([]*models.CashMovement, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*models.CashMovement
	for _, m := range r.movements {
		if m.AgentID != agentID || m.State != models.MovementCompleted || m.CompletedAt == nil {
			continue
		}
		if m.CompletedAt.UTC().Format("2006-01-02") != businessDate {
			continue
		}
		cp := *m
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CompletedAt.Before(*out[j].CompletedAt)
	})
	return out, nil
}

type MemoryQueueRepository struct {
	mu      sync.RWMutex
	entries map[string]*models.OfflineQueueEntry
}

func NewMemoryQueueRepository() *MemoryQueueRepository {
	return &MemoryQueueRepository{entries: make(map[string]*models.OfflineQueueEntry)}
}

func (r *MemoryQueueRepository) Create(ctx context.Context, entry *models.OfflineQueueEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.QueuedAt.IsZero() {
		entry.QueuedAt = time.Now().UTC()
	}
	cp := *entry
	r.entries[entry.ID] = &cp
	return nil
}

func (r *MemoryQueueRepository) Update(ctx context.Context, entry *models.OfflineQueueEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[entry.ID]; !ok {
		return errors.ErrEntryNotFound
	}
	cp := *entry
	r.entries[entry.ID] = &cp
	return nil
}

func (r *MemoryQueueRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[id]; !ok {
		return errors.ErrEntryNotFound
	}
	delete(r.entries, id)
	return nil
}

func (r *MemoryQueueRepository) GetByID(ctx context.Context, id string) (*models.OfflineQueueEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[id]
	if !ok {
		return nil, errors.ErrEntryNotFound
	}
	cp := *entry
	return &cp, nil
}

func (r *MemoryQueueRepository) ListByStatus(ctx context.Context, status models.QueueEntryStatus) ([]*models.OfflineQueueEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*models.OfflineQueueEntry
	for _, e := range r.entries {
		if e.Status != status {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QueuedAt.Before(out[j].QueuedAt) })
	return out, nil
}

type MemorySettlementRepository struct {
	mu      sync.RWMutex
	batches map[string]*models.SettlementBatch
	byKey   map[string]string // agentID|date -> batch id
}

func NewMemorySettlementRepository() *MemorySettlementRepository {
	return &MemorySettlementRepository{
		batches: make(map[string]*models.SettlementBatch),
		byKey:   make(map[string]string),
	}
}

func settlementKey(agentID, businessDate string) string {
	return agentID + "|" + businessDate
}

func (r *MemorySettlementRepository) Create(ctx context.Context, batch *models.SettlementBatch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := settlementKey(batch.AgentID, batch.BusinessDate)
	if _, ok := r.byKey[key]; ok {
		return errors.ErrBatchAlreadyExists
	}
	if batch.ID == "" {
		batch.ID = uuid.New().String()
	}
	if batch.CreatedAt.IsZero() {
		batch.CreatedAt = time.Now().UTC()
	}
	cp := *batch
	cp.MovementIDs = append([]string(nil), batch.MovementIDs...)
	r.batches[batch.ID] = &cp
	r.byKey[key] = batch.ID
	return nil
}

func (r *MemorySettlementRepository) Update(ctx context.Context, batch *models.SettlementBatch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.batches[batch.ID]; !ok {
		return errors.ErrBatchNotFound
	}
	cp := *batch
	cp.MovementIDs = append([]string(nil), batch.MovementIDs...)
	r.batches[batch.ID] = &cp
	return nil
}

func (r *MemorySettlementRepository) GetByID(ctx context.Context, id string) (*models.SettlementBatch, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	batch, ok := r.batches[id]
	if !ok {
		return nil, errors.ErrBatchNotFound
	}
	return copyBatch(batch), nil
}

func (r *MemorySettlementRepository) GetByAgentDate(ctx context.Context, agentID, businessDate string) (*models.SettlementBatch, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byKey[settlementKey(agentID, businessDate)]
	if !ok {
		return nil, errors.ErrBatchNotFound
	}
	return copyBatch(r.batches[id]), nil
}

func (r *MemorySettlementRepository) ListByAgent(ctx context.Context, agentID string) ([]*models.SettlementBatch, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*models.SettlementBatch
	for _, b := range r.batches {
		if b.AgentID != agentID {
			continue
		}
		out = append(out, copyBatch(b))
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.Compare(out[i].BusinessDate, out[j].BusinessDate) < 0
	})
	return out, nil
}

func copyBatch(b *models.SettlementBatch) *models.SettlementBatch {
	cp := *b
	cp.MovementIDs = append([]string(nil), b.MovementIDs...)
	return &cp
}

type MemoryWithdrawalRepository struct {
	mu       sync.RWMutex
	requests map[string]*models.WithdrawalRequest
}

func NewMemoryWithdrawalRepository() *MemoryWithdrawalRepository {
	return &MemoryWithdrawalRepository{requests: make(map[string]*models.WithdrawalRequest)}
}

func (r *MemoryWithdrawalRepository) Create(ctx context.Context, request *models.WithdrawalRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if request.ID == "" {
		request.ID = uuid.New().String()
	}
	if request.CreatedAt.IsZero() {
		request.CreatedAt = time.Now().UTC()
	}
	cp := *request
	r.requests[request.ID] = &cp
	return nil
}

func (r *MemoryWithdrawalRepository) Update(ctx context.Context, request *models.WithdrawalRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.requests[request.ID]; !ok {
		return errors.ErrRequestNotFound
	}
	cp := *request
	r.requests[request.ID] = &cp
	return nil
}

func (r *MemoryWithdrawalRepository) GetByID(ctx context.Context, id string) (*models.WithdrawalRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	request, ok := r.requests[id]
	if !ok {
		return nil, errors.ErrRequestNotFound
	}
	cp := *request
	return &cp, nil
}

func (r *MemoryWithdrawalRepository) ListByStatus(ctx context.Context, status models.WithdrawalStatus) ([]*models.WithdrawalRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*models.WithdrawalRequest
	for _, req := range r.requests {
		if req.Status != status {
			continue
		}
		cp := *req
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

type MemoryAuditRepository struct {
	mu      sync.RWMutex
	records []*models.AuditRecord
}

func NewMemoryAuditRepository() *MemoryAuditRepository {
	return &MemoryAuditRepository{}
}

func (r *MemoryAuditRepository) Create(ctx context.Context, rec *models.AuditRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	cp := *rec
	r.records = append(r.records, &cp)
	return nil
}

func (r *MemoryAuditRepository) GetByEntity(ctx context.Context, entityType, entityID string) ([]*models.AuditRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*models.AuditRecord
	for _, rec := range r.records {
		if rec.EntityType != entityType || rec.EntityID != entityID {
			continue
		}
		cp := *rec
		out = append(out, &cp)
	}
	return out, nil
}
