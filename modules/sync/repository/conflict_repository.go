package repository

import (
	"context"
	"time"

	"calendar-sync/core/database"
	"calendar-sync/modules/sync/entity"
)

type ConflictRepository interface {
	Create(ctx context.Context, c *entity.Conflict) error
	// DeleteExpired removes unresolved conflicts past their expiry.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type conflictRepository struct {
	db database.IDatabase
}

func NewConflictRepository(db database.IDatabase) ConflictRepository {
	return &conflictRepository{db: db}
}

func (r *conflictRepository) Create(ctx context.Context, c *entity.Conflict) error {
	c.Touch(time.Now().UTC())
	if c.LocalSnapshot == "" {
		c.LocalSnapshot = "{}"
	}
	query := `
		INSERT INTO sync_conflicts (id, mapping_id, user_id, local_snapshot, remote_etag, resolved, expires_at,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4::jsonb, $5, $6, $7, $8, $8)
	`
	return r.db.ExecContext(ctx, query, c.ID, c.MappingID, c.UserID, c.LocalSnapshot, c.RemoteETag,
		c.Resolved, c.ExpiresAt, c.CreatedAt)
}

func (r *conflictRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	return r.db.ExecResultContext(ctx, `DELETE FROM sync_conflicts WHERE NOT resolved AND expires_at < $1`, now)
}
