package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/riteshkumar/agent-cash-ledger/internal/errors"
	"github.com/riteshkumar/agent-cash-ledger/internal/models"
)

type PostgresSettlementRepository struct {
	db *sql.DB
}

func NewSettlementRepository(db *sql.DB) *PostgresSettlementRepository {
	return &PostgresSettlementRepository{db: db}
}

func (r *PostgresSettlementRepository) Create(ctx context.Context, batch *models.SettlementBatch) error {
	if batch.ID == "" {
		batch.ID = uuid.New().String()
	}

	query := `INSERT INTO settlement_batches
		(id, agent_id, business_date, movement_ids, total_cash_in, total_cash_out, total_fees, net_cash_flow, status, created_at, submitted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, CURRENT_TIMESTAMP, $10)
		RETURNING created_at`

	err := r.db.QueryRowContext(ctx, query,
		batch.ID, batch.AgentID, batch.BusinessDate, pq.Array(batch.MovementIDs),
		batch.TotalCashIn, batch.TotalCashOut, batch.TotalFees, batch.NetCashFlow,
		string(batch.Status), batch.SubmittedAt,
	).Scan(&batch.CreatedAt)

	if err != nil {
		// Unique constraint on (agent_id, business_date) upholds one batch
		// per agent per day across processes.
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return errors.ErrBatchAlreadyExists
		}
		return fmt.Errorf("failed to create settlement batch: %w", err)
	}
	return nil
}

func (r *PostgresSettlementRepository) Update(ctx context.Context, batch *models.SettlementBatch) error {
	query := `UPDATE settlement_batches SET status = $1, submitted_at = $2 WHERE id = $3`

	result, err := r.db.ExecContext(ctx, query, string(batch.Status), batch.SubmittedAt, batch.ID)
	if err != nil {
		return fmt.Errorf("failed to update settlement batch: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected after updating settlement batch: %w", err)
	}
	if rowsAffected == 0 {
		return errors.ErrBatchNotFound
	}
	return nil
}

const batchColumns = `id, agent_id, business_date, movement_ids, total_cash_in, total_cash_out, total_fees, net_cash_flow, status, created_at, submitted_at`

func (r *PostgresSettlementRepository) GetByID(ctx context.Context, id string) (*models.SettlementBatch, error) {
	query := `SELECT ` + batchColumns + ` FROM settlement_batches WHERE id = $1`
	batch, err := scanBatch(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.ErrBatchNotFound
		}
		return nil, fmt.Errorf("failed to get settlement batch: %w", err)
	}
	return batch, nil
}

func (r *PostgresSettlementRepository) GetByAgentDate(ctx context.Context, agentID, businessDate string) (*models.SettlementBatch, error) {
	query := `SELECT ` + batchColumns + ` FROM settlement_batches WHERE agent_id = $1 AND business_date = $2`
	batch, err := scanBatch(r.db.QueryRowContext(ctx, query, agentID, businessDate))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.ErrBatchNotFound
		}
		return nil, fmt.Errorf("failed to get settlement batch by agent and date: %w", err)
	}
	return batch, nil
}

func (r *PostgresSettlementRepository) ListByAgent(ctx context.Context, agentID string) ([]*models.SettlementBatch, error) {
	query := `SELECT ` + batchColumns + ` FROM settlement_batches WHERE agent_id = $1 ORDER BY business_date ASC`

	rows, err := r.db.QueryContext(ctx, query, agentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list settlement batches: %w", err)
	}
	defer rows.Close()

	var batches []*models.SettlementBatch
	for rows.Next() {
		batch, err := scanBatch(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan settlement batch: %w", err)
		}
		batches = append(batches, batch)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over settlement batches: %w", err)
	}
	return batches, nil
}

func scanBatch(row rowScanner) (*models.SettlementBatch, error) {
	batch := &models.SettlementBatch{}
	var status string
	err := row.Scan(
		&batch.ID, &batch.AgentID, &batch.BusinessDate, pq.Array(&batch.MovementIDs),
		&batch.TotalCashIn, &batch.TotalCashOut, &batch.TotalFees, &batch.NetCashFlow,
		&status, &batch.CreatedAt, &batch.SubmittedAt,
	)
	if err != nil {
		return nil, err
	}
	batch.Status = models.BatchStatus(status)
	return batch, nil
}
