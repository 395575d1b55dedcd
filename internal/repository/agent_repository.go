package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/riteshkumar/agent-cash-ledger/internal/errors"
	"github.com/riteshkumar/agent-cash-ledger/internal/models"
)

type PostgresAgentRepository struct {
	db *sql.DB
}

func NewAgentRepository(db *sql.DB) *PostgresAgentRepository {
	return &PostgresAgentRepository{db: db}
}

func (r *PostgresAgentRepository) Create(ctx context.Context, agent *models.Agent) error {
	query := `INSERT INTO agents (id, name, rank, tier, float_balance, active, online, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		RETURNING created_at, updated_at`

	err := r.db.QueryRowContext(ctx, query,
		agent.ID, agent.Name, agent.Rank, agent.Tier, agent.FloatBalance, agent.Active, agent.Online,
	).Scan(&agent.CreatedAt, &agent.UpdatedAt)

	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return errors.ErrAgentAlreadyExists
		}
		return fmt.Errorf("failed to create agent: %w", err)
	}
	return nil
}

func (r *PostgresAgentRepository) GetByID(ctx context.Context, id string) (*models.Agent, error) {
	query := `SELECT id, name, rank, tier, float_balance, active, online, created_at, updated_at
		FROM agents WHERE id = $1`

	agent := &models.Agent{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&agent.ID, &agent.Name, &agent.Rank, &agent.Tier, &agent.FloatBalance,
		&agent.Active, &agent.Online, &agent.CreatedAt, &agent.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.ErrAgentNotFound
		}
		return nil, fmt.Errorf("failed to get agent by ID: %w", err)
	}
	return agent, nil
}

func (r *PostgresAgentRepository) UpdateFloatBalance(ctx context.Context, id string, newBalance int64) error {
	query := `UPDATE agents SET float_balance = $1, updated_at = CURRENT_TIMESTAMP WHERE id = $2`

	result, err := r.db.ExecContext(ctx, query, newBalance, id)
	if err != nil {
		return fmt.Errorf("failed to update float balance: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected after updating float balance: %w", err)
	}
	if rowsAffected == 0 {
		return errors.ErrAgentNotFound
	}
	return nil
}

func (r *PostgresAgentRepository) SetActive(ctx context.Context, id string, active bool) error {
	query := `UPDATE agents SET active = $1, updated_at = CURRENT_TIMESTAMP WHERE id = $2`

	result, err := r.db.ExecContext(ctx, query, active, id)
	if err != nil {
		return fmt.Errorf("failed to set agent active flag: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected after setting active flag: %w", err)
	}
	if rowsAffected == 0 {
		return errors.ErrAgentNotFound
	}
	return nil
}
