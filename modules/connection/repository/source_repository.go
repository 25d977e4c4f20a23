package repository

import (
	"context"
	"time"

	"calendar-sync/core/database"
	"calendar-sync/modules/connection/entity"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

type SourceRepository interface {
	// Upsert inserts or refreshes a source keyed by (connection, external calendar).
	Upsert(ctx context.Context, src *entity.Source) error
	GetByID(ctx context.Context, id uuid.UUID) (*entity.Source, error)
	ListByConnection(ctx context.Context, connectionID uuid.UUID) ([]entity.Source, error)
	ListWritableByUser(ctx context.Context, userID uuid.UUID) ([]entity.SourceWithProvider, error)
	ListPollable(ctx context.Context, providers []string) ([]entity.SourceWithProvider, error)
	ListStale(ctx context.Context, providers []string, now time.Time) ([]entity.SourceWithProvider, error)
	ListWebhookDue(ctx context.Context, providers []string, before time.Time) ([]entity.SourceWithProvider, error)
	Update(ctx context.Context, src *entity.Source) error
	UpdateCursor(ctx context.Context, id uuid.UUID, cursor string, syncedAt time.Time) error
	UpdateWebhook(ctx context.Context, id uuid.UUID, channelID, resourceID string, expiresAt time.Time) error
	ClearWebhook(ctx context.Context, id uuid.UUID) error
}

type sourceRepository struct {
	db database.IDatabase
}

func NewSourceRepository(db database.IDatabase) SourceRepository {
	return &sourceRepository{db: db}
}

const sourceColumns = `s.id, s.connection_id, s.user_id, s.external_calendar_id, s.name, s.color, s.direction,
	s.privacy, s.enabled, s.read_only, s.is_primary, s.sync_cursor, s.last_synced_at, s.webhook_channel_id,
	s.webhook_resource_id, s.webhook_expires_at, s.created_at, s.updated_at`

// usableConnection restricts joined rows to connections jobs may run against.
const usableConnection = `c.enabled AND c.status IN ('active', 'initial-sync')`

func (r *sourceRepository) Upsert(ctx context.Context, src *entity.Source) error {
	query := `
		INSERT INTO sources (id, connection_id, user_id, external_calendar_id, name, color, direction, privacy,
			enabled, read_only, is_primary, created_at, updated_at)
		VALUES (:id, :connection_id, :user_id, :external_calendar_id, :name, :color, :direction, :privacy,
			:enabled, :read_only, :is_primary, :created_at, :updated_at)
		ON CONFLICT (connection_id, external_calendar_id) DO UPDATE
		SET name = EXCLUDED.name, color = EXCLUDED.color, read_only = EXCLUDED.read_only,
			is_primary = EXCLUDED.is_primary, updated_at = NOW()
		RETURNING id
	`
	rows, err := r.db.NamedQueryContext(ctx, query, src)
	if err != nil {
		return err
	}
	defer rows.Close()
	if rows.Next() {
		if err := rows.Scan(&src.ID); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (r *sourceRepository) get(ctx context.Context, where string, arg any) (*entity.Source, error) {
	var src entity.Source
	query := `SELECT ` + sourceColumns + ` FROM sources s WHERE ` + where
	if err := r.db.GetContext(ctx, &src, query, arg); err != nil {
		if database.IsNoRows(err) {
			return nil, nil
		}
		return nil, err
	}
	return &src, nil
}

func (r *sourceRepository) GetByID(ctx context.Context, id uuid.UUID) (*entity.Source, error) {
	return r.get(ctx, `s.id = $1`, id)
}

func (r *sourceRepository) ListByConnection(ctx context.Context, connectionID uuid.UUID) ([]entity.Source, error) {
	var sources []entity.Source
	query := `SELECT ` + sourceColumns + ` FROM sources s WHERE s.connection_id = $1 ORDER BY s.is_primary DESC, s.name`
	if err := r.db.SelectContext(ctx, &sources, query, connectionID); err != nil {
		return nil, err
	}
	return sources, nil
}

func (r *sourceRepository) ListWritableByUser(ctx context.Context, userID uuid.UUID) ([]entity.SourceWithProvider, error) {
	var sources []entity.SourceWithProvider
	query := `
		SELECT ` + sourceColumns + `, c.provider, c.sync_interval_minutes
		FROM sources s JOIN connections c ON c.id = s.connection_id
		WHERE s.user_id = $1 AND s.enabled AND NOT s.read_only AND s.direction <> 'read-only'
			AND ` + usableConnection + `
		ORDER BY s.created_at
	`
	if err := r.db.SelectContext(ctx, &sources, query, userID); err != nil {
		return nil, err
	}
	return sources, nil
}

func (r *sourceRepository) ListPollable(ctx context.Context, providers []string) ([]entity.SourceWithProvider, error) {
	var sources []entity.SourceWithProvider
	query := `
		SELECT ` + sourceColumns + `, c.provider, c.sync_interval_minutes
		FROM sources s JOIN connections c ON c.id = s.connection_id
		WHERE c.provider = ANY($1) AND s.enabled AND s.direction <> 'write-only' AND ` + usableConnection
	if err := r.db.SelectContext(ctx, &sources, query, pq.Array(providers)); err != nil {
		return nil, err
	}
	return sources, nil
}

func (r *sourceRepository) ListStale(ctx context.Context, providers []string, now time.Time) ([]entity.SourceWithProvider, error) {
	var sources []entity.SourceWithProvider
	query := `
		SELECT ` + sourceColumns + `, c.provider, c.sync_interval_minutes
		FROM sources s JOIN connections c ON c.id = s.connection_id
		WHERE c.provider = ANY($1) AND s.enabled AND s.direction <> 'write-only' AND ` + usableConnection + `
			AND (s.last_synced_at IS NULL
				OR s.last_synced_at < $2::timestamptz - make_interval(mins => c.sync_interval_minutes))
	`
	if err := r.db.SelectContext(ctx, &sources, query, pq.Array(providers), now); err != nil {
		return nil, err
	}
	return sources, nil
}

// ListWebhookDue returns sources whose channel is missing or expires before the cutoff.
func (r *sourceRepository) ListWebhookDue(ctx context.Context, providers []string, before time.Time) ([]entity.SourceWithProvider, error) {
	var sources []entity.SourceWithProvider
	query := `
		SELECT ` + sourceColumns + `, c.provider, c.sync_interval_minutes
		FROM sources s JOIN connections c ON c.id = s.connection_id
		WHERE c.provider = ANY($1) AND s.enabled AND s.direction <> 'write-only' AND ` + usableConnection + `
			AND (s.webhook_channel_id = '' OR s.webhook_expires_at IS NULL OR s.webhook_expires_at < $2)
	`
	if err := r.db.SelectContext(ctx, &sources, query, pq.Array(providers), before); err != nil {
		return nil, err
	}
	return sources, nil
}

func (r *sourceRepository) Update(ctx context.Context, src *entity.Source) error {
	query := `
		UPDATE sources
		SET name = :name, color = :color, direction = :direction, privacy = :privacy, enabled = :enabled,
			updated_at = NOW()
		WHERE id = :id
	`
	_, err := r.db.NamedExecContext(ctx, query, src)
	return err
}

// UpdateCursor commits a completed pass. An empty cursor forces the next pass
// to refetch the full window.
func (r *sourceRepository) UpdateCursor(ctx context.Context, id uuid.UUID, cursor string, syncedAt time.Time) error {
	query := `UPDATE sources SET sync_cursor = $1, last_synced_at = $2, updated_at = NOW() WHERE id = $3`
	return r.db.ExecContext(ctx, query, cursor, syncedAt, id)
}

func (r *sourceRepository) UpdateWebhook(ctx context.Context, id uuid.UUID, channelID, resourceID string, expiresAt time.Time) error {
	query := `
		UPDATE sources
		SET webhook_channel_id = $1, webhook_resource_id = $2, webhook_expires_at = $3, updated_at = NOW()
		WHERE id = $4
	`
	return r.db.ExecContext(ctx, query, channelID, resourceID, expiresAt, id)
}

func (r *sourceRepository) ClearWebhook(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE sources
		SET webhook_channel_id = '', webhook_resource_id = '', webhook_expires_at = NULL, updated_at = NOW()
		WHERE id = $1
	`
	return r.db.ExecContext(ctx, query, id)
}
