package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/riteshkumar/agent-cash-ledger/internal/errors"
	"github.com/riteshkumar/agent-cash-ledger/internal/models"
)

type PostgresWithdrawalRepository struct {
	db *sql.DB
}

func NewWithdrawalRepository(db *sql.DB) *PostgresWithdrawalRepository {
	return &PostgresWithdrawalRepository{db: db}
}

func (r *PostgresWithdrawalRepository) Create(ctx context.Context, request *models.WithdrawalRequest) error {
	if request.ID == "" {
		request.ID = uuid.New().String()
	}

	query := `INSERT INTO withdrawal_requests
		(id, service_number, requester_rank, requester_name, amount, fee, net_amount,
		 destination_type, destination_details, is_early_release, lock_reason, lock_until, justification,
		 priority, risk_level, status, processed_by, processed_at, denial_reason, admin_notes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)`

	_, err := r.db.ExecContext(ctx, query,
		request.ID, request.Requester.ServiceNumber, request.Requester.Rank, request.Requester.Name,
		request.Amount, request.Fee, request.NetAmount,
		string(request.Destination.Type), request.Destination.Details,
		request.IsEarlyRelease, request.LockReason, request.LockUntil, request.Justification,
		string(request.Priority), string(request.RiskLevel), string(request.Status),
		request.ProcessedBy, request.ProcessedAt, string(request.DenialReason), request.AdminNotes,
		request.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create withdrawal request: %w", err)
	}
	return nil
}

func (r *PostgresWithdrawalRepository) Update(ctx context.Context, request *models.WithdrawalRequest) error {
	query := `UPDATE withdrawal_requests
		SET status = $1, processed_by = $2, processed_at = $3, denial_reason = $4, admin_notes = $5
		WHERE id = $6`

	result, err := r.db.ExecContext(ctx, query,
		string(request.Status), request.ProcessedBy, request.ProcessedAt,
		string(request.DenialReason), request.AdminNotes, request.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update withdrawal request: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected after updating withdrawal request: %w", err)
	}
	if rowsAffected == 0 {
		return errors.ErrRequestNotFound
	}
	return nil
}

const withdrawalColumns = `id, service_number, requester_rank, requester_name, amount, fee, net_amount,
	destination_type, destination_details, is_early_release, lock_reason, lock_until, justification,
	priority, risk_level, status, processed_by, processed_at, denial_reason, admin_notes, created_at`

func (r *PostgresWithdrawalRepository) GetByID(ctx context.Context, id string) (*models.WithdrawalRequest, error) {
	query := `SELECT ` + withdrawalColumns + ` FROM withdrawal_requests WHERE id = $1`
	request, err := scanWithdrawal(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.ErrRequestNotFound
		}
		return nil, fmt.Errorf("failed to get withdrawal request: %w", err)
	}
	return request, nil
}

func (r *PostgresWithdrawalRepository) ListByStatus(ctx context.Context, status models.WithdrawalStatus) ([]*models.WithdrawalRequest, error) {
	query := `SELECT ` + withdrawalColumns + ` FROM withdrawal_requests WHERE status = $1 ORDER BY created_at ASC`

	rows, err := r.db.QueryContext(ctx, query, string(status))
	if err != nil {
		return nil, fmt.Errorf("failed to list withdrawal requests: %w", err)
	}
	defer rows.Close()

	var requests []*models.WithdrawalRequest
	for rows.Next() {
		request, err := scanWithdrawal(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan withdrawal request: %w", err)
		}
		requests = append(requests, request)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over withdrawal requests: %w", err)
	}
	return requests, nil
}

func scanWithdrawal(row rowScanner) (*models.WithdrawalRequest, error) {
	request := &models.WithdrawalRequest{}
	var destType, priority, riskLevel, status, denialReason string
	err := row.Scan(
		&request.ID, &request.Requester.ServiceNumber, &request.Requester.Rank, &request.Requester.Name,
		&request.Amount, &request.Fee, &request.NetAmount,
		&destType, &request.Destination.Details,
		&request.IsEarlyRelease, &request.LockReason, &request.LockUntil, &request.Justification,
		&priority, &riskLevel, &status, &request.ProcessedBy, &request.ProcessedAt,
		&denialReason, &request.AdminNotes, &request.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	request.Destination.Type = models.DestinationType(destType)
	request.Priority = models.Priority(priority)
	request.RiskLevel = models.RiskLevel(riskLevel)
	request.Status = models.WithdrawalStatus(status)
	request.DenialReason = models.DenialReason(denialReason)
	return request, nil
}
