package audit

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/riteshkumar/agent-cash-ledger/internal/models"
	"github.com/riteshkumar/agent-cash-ledger/internal/repository"
)

// Recorder receives immutable audit records for every terminal transition
// and administrative decision. The reporting subsystem consumes them; the
// ledger core only appends.
type Recorder interface {
	Record(ctx context.Context, rec *models.AuditRecord) error
}

type RepoRecorder struct {
	repo   repository.AuditRepository
	logger *slog.Logger
}

func NewRepoRecorder(repo repository.AuditRepository, logger *slog.Logger) *RepoRecorder {
	return &RepoRecorder{repo: repo, logger: logger}
}

func (r *RepoRecorder) Record(ctx context.Context, rec *models.AuditRecord) error {
	if err := r.repo.Create(ctx, rec); err != nil {
		// An audit write failure must not abort the business operation,
		// but it is never silent.
		r.logger.Error("failed to append audit record",
			"entity_type", rec.EntityType,
			"entity_id", rec.EntityID,
			"action", rec.Action,
			"error", err.Error(),
		)
		return err
	}
	return nil
}

// NewRecord builds an audit record with JSON snapshots of the before/after
// values. A nil old or new value is omitted.
func NewRecord(actor, action, entityType, entityID string, oldValue, newValue any) *models.AuditRecord {
	rec := &models.AuditRecord{
		Actor:      actor,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
	}
	if oldValue != nil {
		rec.OldValue = snapshot(oldValue)
	}
	if newValue != nil {
		rec.NewValue = snapshot(newValue)
	}
	return rec
}

func snapshot(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return json.RawMessage(data)
}
