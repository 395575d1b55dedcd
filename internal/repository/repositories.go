package repository

import (
	"context"

	"github.com/riteshkumar/agent-cash-ledger/internal/models"
)

// Each durable record type gets its own narrow store. Postgres
// implementations live alongside in this package; the in-memory
// implementations back tests and database-less field deployments.

type AgentRepository interface {
	Create(ctx context.Context, agent *models.Agent) error
	GetByID(ctx context.Context, id string) (*models.Agent, error)
	UpdateFloatBalance(ctx context.Context, id string, newBalance int64) error
	SetActive(ctx context.Context, id string, active bool) error
}

type MovementRepository interface {
	// Create returns errors.ErrDuplicateKey when the idempotency key is
	// already indexed; callers resolve the existing movement instead.
	Create(ctx context.Context, movement *models.CashMovement) error
	Update(ctx context.Context, movement *models.CashMovement) error
	GetByID(ctx context.Context, id string) (*models.CashMovement, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*models.CashMovement, error)
	// ListCompletedByAgentDate returns completed movements for the agent
	// whose completion falls on the business date, ordered by completion.
	ListCompletedByAgentDate(ctx context.Context, agentID, businessDate string) ([]*models.CashMovement, error)
}

type QueueRepository interface {
	Create(ctx context.Context, entry *models.OfflineQueueEntry) error
	Update(ctx context.Context, entry *models.OfflineQueueEntry) error
	Delete(ctx context.Context, id string) error
	GetByID(ctx context.Context, id string) (*models.OfflineQueueEntry, error)
	ListByStatus(ctx context.Context, status models.QueueEntryStatus) ([]*models.OfflineQueueEntry, error)
}

type SettlementRepository interface {
	// Create returns errors.ErrBatchAlreadyExists when a batch for the
	// same agent and business date is already present.
	Create(ctx context.Context, batch *models.SettlementBatch) error
	Update(ctx context.Context, batch *models.SettlementBatch) error
	GetByID(ctx context.Context, id string) (*models.SettlementBatch, error)
	GetByAgentDate(ctx context.Context, agentID, businessDate string) (*models.SettlementBatch, error)
	ListByAgent(ctx context.Context, agentID string) ([]*models.SettlementBatch, error)
}

type WithdrawalRepository interface {
	Create(ctx context.Context, request *models.WithdrawalRequest) error
	Update(ctx context.Context, request *models.WithdrawalRequest) error
	GetByID(ctx context.Context, id string) (*models.WithdrawalRequest, error)
	ListByStatus(ctx context.Context, status models.WithdrawalStatus) ([]*models.WithdrawalRequest, error)
}

type AuditRepository interface {
	Create(ctx context.Context, rec *models.AuditRecord) error
	GetByEntity(ctx context.Context, entityType, entityID string) ([]*models.AuditRecord, error)
}
