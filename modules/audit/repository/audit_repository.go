package repository

import (
	"context"
	"time"

	"calendar-sync/core/database"
	"calendar-sync/modules/audit/entity"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

type AuditRepository interface {
	Create(ctx context.Context, log *entity.AuditLog) error
	ListOlderThan(ctx context.Context, before time.Time, limit int) ([]entity.AuditLog, error)
	DeleteByIDs(ctx context.Context, ids []uuid.UUID) (int64, error)
	DeleteOlderThan(ctx context.Context, before time.Time) (int64, error)
}

type auditRepository struct {
	db database.IDatabase
}

func NewAuditRepository(db database.IDatabase) AuditRepository {
	return &auditRepository{db: db}
}

func (r *auditRepository) Create(ctx context.Context, log *entity.AuditLog) error {
	query := `
		INSERT INTO audit_logs (id, user_id, connection_id, source_id, provider, action, status, message,
			created_count, updated_count, deleted_count, skipped_count, duration_ms, created_at)
		VALUES (:id, :user_id, :connection_id, :source_id, :provider, :action, :status, :message,
			:created_count, :updated_count, :deleted_count, :skipped_count, :duration_ms, :created_at)
	`
	_, err := r.db.NamedExecContext(ctx, query, log)
	return err
}

func (r *auditRepository) ListOlderThan(ctx context.Context, before time.Time, limit int) ([]entity.AuditLog, error) {
	var logs []entity.AuditLog
	query := `
		SELECT id, user_id, connection_id, source_id, provider, action, status, message,
			created_count, updated_count, deleted_count, skipped_count, duration_ms, created_at
		FROM audit_logs WHERE created_at < $1 ORDER BY created_at LIMIT $2
	`
	if err := r.db.SelectContext(ctx, &logs, query, before, limit); err != nil {
		return nil, err
	}
	return logs, nil
}

func (r *auditRepository) DeleteByIDs(ctx context.Context, ids []uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	raw := make([]string, len(ids))
	for i, id := range ids {
		raw[i] = id.String()
	}
	return r.db.ExecResultContext(ctx, `DELETE FROM audit_logs WHERE id = ANY($1::uuid[])`, pq.Array(raw))
}

func (r *auditRepository) DeleteOlderThan(ctx context.Context, before time.Time) (int64, error) {
	return r.db.ExecResultContext(ctx, `DELETE FROM audit_logs WHERE created_at < $1`, before)
}
