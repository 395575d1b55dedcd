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

type PostgresMovementRepository struct {
	db *sql.DB
}

func NewMovementRepository(db *sql.DB) *PostgresMovementRepository {
	return &PostgresMovementRepository{db: db}
}

func (r *PostgresMovementRepository) Create(ctx context.Context, movement *models.CashMovement) error {
	if movement.ID == "" {
		movement.ID = uuid.New().String()
	}

	query := `INSERT INTO cash_movements
		(id, agent_id, direction, cp_service_number, cp_rank, cp_name,
		 gross_amount, fee, net_amount, idempotency_key, state, failure_reason,
		 otp_required, otp_verified, otp_attempts, created_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`

	_, err := r.db.ExecContext(ctx, query,
		movement.ID, movement.AgentID, string(movement.Direction),
		movement.Counterparty.ServiceNumber, movement.Counterparty.Rank, movement.Counterparty.Name,
		movement.GrossAmount, movement.Fee, movement.NetAmount,
		movement.IdempotencyKey, string(movement.State), string(movement.FailureReason),
		movement.OtpRequired, movement.OtpVerified, movement.OtpAttempts,
		movement.CreatedAt, movement.CompletedAt,
	)
	if err != nil {
		// The idempotency key carries a unique index; a violation means a
		// concurrent replay already created this movement.
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return errors.ErrDuplicateKey
		}
		return fmt.Errorf("failed to create movement: %w", err)
	}
	return nil
}

func (r *PostgresMovementRepository) Update(ctx context.Context, movement *models.CashMovement) error {
	query := `UPDATE cash_movements
		SET state = $1, failure_reason = $2, otp_verified = $3, otp_attempts = $4, completed_at = $5
		WHERE id = $6`

	result, err := r.db.ExecContext(ctx, query,
		string(movement.State), string(movement.FailureReason),
		movement.OtpVerified, movement.OtpAttempts, movement.CompletedAt, movement.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update movement: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected after updating movement: %w", err)
	}
	if rowsAffected == 0 {
		return errors.ErrMovementNotFound
	}
	return nil
}

func (r *PostgresMovementRepository) GetByID(ctx context.Context, id string) (*models.CashMovement, error) {
	return r.getOne(ctx, `WHERE id = $1`, id)
}

func (r *PostgresMovementRepository) GetByIdempotencyKey(ctx context.Context, key string) (*models.CashMovement, error) {
	return r.getOne(ctx, `WHERE idempotency_key = $1`, key)
}

const movementColumns = `id, agent_id, direction, cp_service_number, cp_rank, cp_name,
	gross_amount, fee, net_amount, idempotency_key, state, failure_reason,
	otp_required, otp_verified, otp_attempts, created_at, completed_at`

func (r *PostgresMovementRepository) getOne(ctx context.Context, where string, arg any) (*models.CashMovement, error) {
	query := `SELECT ` + movementColumns + ` FROM cash_movements ` + where

	movement, err := scanMovement(r.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.ErrMovementNotFound
		}
		return nil, fmt.Errorf("failed to get movement: %w", err)
	}
	return movement, nil
}

func (r *PostgresMovementRepository) ListCompletedByAgentDate(ctx context.Context, agentID, businessDate string) ([]*models.CashMovement, error) {
	query := `SELECT ` + movementColumns + `
		FROM cash_movements
		WHERE agent_id = $1 AND state = 'completed' AND (completed_at AT TIME ZONE 'UTC')::date = $2::date
		ORDER BY completed_at ASC`

	rows, err := r.db.QueryContext(ctx, query, agentID, businessDate)
	if err != nil {
		return nil, fmt.Errorf("failed to list completed movements: %w", err)
	}
	defer rows.Close()

	var movements []*models.CashMovement
	for rows.Next() {
		movement, err := scanMovement(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan movement: %w", err)
		}
		movements = append(movements, movement)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over movements: %w", err)
	}
	return movements, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMovement(row rowScanner) (*models.CashMovement, error) {
	movement := &models.CashMovement{}
	var direction, state, failureReason string
	err := row.Scan(
		&movement.ID, &movement.AgentID, &direction,
		&movement.Counterparty.ServiceNumber, &movement.Counterparty.Rank, &movement.Counterparty.Name,
		&movement.GrossAmount, &movement.Fee, &movement.NetAmount,
		&movement.IdempotencyKey, &state, &failureReason,
		&movement.OtpRequired, &movement.OtpVerified, &movement.OtpAttempts,
		&movement.CreatedAt, &movement.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	movement.Direction = models.Direction(direction)
	movement.State = models.MovementState(state)
	movement.FailureReason = models.FailureReason(failureReason)
	return movement, nil
}
