package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/riteshkumar/agent-cash-ledger/internal/models"
)

type PostgresAuditRepository struct {
	db *sql.DB
}

func NewAuditRepository(db *sql.DB) *PostgresAuditRepository {
	return &PostgresAuditRepository{db: db}
}

// Create appends an audit record. The table is insert-only; there is no
// update path.
func (r *PostgresAuditRepository) Create(ctx context.Context, rec *models.AuditRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}

	query := `INSERT INTO audit_records (id, actor, action, entity_type, entity_id, old_value, new_value, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, CURRENT_TIMESTAMP)
		RETURNING created_at`

	var oldValue interface{}
	if rec.OldValue != nil {
		oldValue = rec.OldValue
	}
	var newValue interface{}
	if rec.NewValue != nil {
		newValue = rec.NewValue
	}
	err := r.db.QueryRowContext(ctx, query,
		rec.ID, rec.Actor, rec.Action, rec.EntityType, rec.EntityID, oldValue, newValue,
	).Scan(&rec.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to create audit record: %w", err)
	}
	return nil
}

// GetByEntity retrieves the audit trail for a specific entity.
func (r *PostgresAuditRepository) GetByEntity(ctx context.Context, entityType, entityID string) ([]*models.AuditRecord, error) {
	query := `SELECT id, actor, action, entity_type, entity_id, old_value, new_value, created_at
		FROM audit_records
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY created_at ASC`

	rows, err := r.db.QueryContext(ctx, query, entityType, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to get audit records by entity: %w", err)
	}
	defer rows.Close()

	var records []*models.AuditRecord
	for rows.Next() {
		rec := &models.AuditRecord{}
		var oldValue, newValue []byte

		err := rows.Scan(&rec.ID, &rec.Actor, &rec.Action, &rec.EntityType, &rec.EntityID, &oldValue, &newValue, &rec.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit record: %w", err)
		}
		if oldValue != nil {
			rec.OldValue = json.RawMessage(oldValue)
		}
		if newValue != nil {
			rec.NewValue = json.RawMessage(newValue)
		}
		records = append(records, rec)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over audit records: %w", err)
	}
	return records, nil
}
