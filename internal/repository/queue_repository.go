package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/riteshkumar/agent-cash-ledger/internal/errors"
	"github.com/riteshkumar/agent-cash-ledger/internal/models"
)

type PostgresQueueRepository struct {
	db *sql.DB
}

func NewQueueRepository(db *sql.DB) *PostgresQueueRepository {
	return &PostgresQueueRepository{db: db}
}

func (r *PostgresQueueRepository) Create(ctx context.Context, entry *models.OfflineQueueEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	request, err := json.Marshal(entry.Request)
	if err != nil {
		return fmt.Errorf("failed to marshal queue entry request: %w", err)
	}

	query := `INSERT INTO offline_queue_entries (id, agent_id, request, status, retry_count, last_retry_at, queued_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err = r.db.ExecContext(ctx, query,
		entry.ID, entry.Request.AgentID, request, string(entry.Status),
		entry.RetryCount, entry.LastRetryAt, entry.QueuedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create queue entry: %w", err)
	}
	return nil
}

func (r *PostgresQueueRepository) Update(ctx context.Context, entry *models.OfflineQueueEntry) error {
	query := `UPDATE offline_queue_entries
		SET status = $1, retry_count = $2, last_retry_at = $3
		WHERE id = $4`

	result, err := r.db.ExecContext(ctx, query,
		string(entry.Status), entry.RetryCount, entry.LastRetryAt, entry.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update queue entry: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected after updating queue entry: %w", err)
	}
	if rowsAffected == 0 {
		return errors.ErrEntryNotFound
	}
	return nil
}

func (r *PostgresQueueRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM offline_queue_entries WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete queue entry: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected after deleting queue entry: %w", err)
	}
	if rowsAffected == 0 {
		return errors.ErrEntryNotFound
	}
	return nil
}

func (r *PostgresQueueRepository) GetByID(ctx context.Context, id string) (*models.OfflineQueueEntry, error) {
	query := `SELECT id, request, status, retry_count, last_retry_at, queued_at
		FROM offline_queue_entries WHERE id = $1`

	entry, err := scanQueueEntry(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.ErrEntryNotFound
		}
		return nil, fmt.Errorf("failed to get queue entry: %w", err)
	}
	return entry, nil
}

func (r *PostgresQueueRepository) ListByStatus(ctx context.Context, status models.QueueEntryStatus) ([]*models.OfflineQueueEntry, error) {
	query := `SELECT id, request, status, retry_count, last_retry_at, queued_at
		FROM offline_queue_entries WHERE status = $1
		ORDER BY queued_at ASC`

	rows, err := r.db.QueryContext(ctx, query, string(status))
	if err != nil {
		return nil, fmt.Errorf("failed to list queue entries: %w", err)
	}
	defer rows.Close()

	var entries []*models.OfflineQueueEntry
	for rows.Next() {
		entry, err := scanQueueEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan queue entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over queue entries: %w", err)
	}
	return entries, nil
}

func scanQueueEntry(row rowScanner) (*models.OfflineQueueEntry, error) {
	entry := &models.OfflineQueueEntry{}
	var request []byte
	var status string
	err := row.Scan(&entry.ID, &request, &status, &entry.RetryCount, &entry.LastRetryAt, &entry.QueuedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(request, &entry.Request); err != nil {
		return nil, fmt.Errorf("failed to unmarshal queue entry request: %w", err)
	}
	entry.Status = models.QueueEntryStatus(status)
	return entry, nil
}
