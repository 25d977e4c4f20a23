package repository

import (
	"context"
	"time"

	"calendar-sync/core/database"
	"calendar-sync/modules/sync/entity"

	"github.com/google/uuid"
)

type MappingRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*entity.Mapping, error)
	GetBySourceAndExternal(ctx context.Context, sourceID uuid.UUID, externalID string) (*entity.Mapping, error)
	GetByItemAndSource(ctx context.Context, itemID, sourceID uuid.UUID) (*entity.Mapping, error)
	ListByItem(ctx context.Context, itemID uuid.UUID) ([]entity.Mapping, error)
	// ListBlockedBy returns the placeholders protecting an inbound event.
	ListBlockedBy(ctx context.Context, mappingID uuid.UUID) ([]entity.Mapping, error)
	// ListBlockedByItem returns the placeholders protecting a planner focus block.
	ListBlockedByItem(ctx context.Context, itemID uuid.UUID) ([]entity.Mapping, error)
	// ListPlaceholdersCausedBy returns placeholders, on any connection, that
	// exist because of events read from connectionID.
	ListPlaceholdersCausedBy(ctx context.Context, connectionID uuid.UUID) ([]entity.Mapping, error)
	// ListPlaceholdersOn returns placeholders living on connectionID's calendars.
	ListPlaceholdersOn(ctx context.Context, connectionID uuid.UUID) ([]entity.Mapping, error)
	Create(ctx context.Context, m *entity.Mapping) error
	Update(ctx context.Context, m *entity.Mapping) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status entity.SyncStatus) error
	Delete(ctx context.Context, id uuid.UUID) error
}

type mappingRepository struct {
	db database.IDatabase
}

func NewMappingRepository(db database.IDatabase) MappingRepository {
	return &mappingRepository{db: db}
}

const mappingColumns = `
	id, user_id, connection_id, source_id, external_event_id, item_id, etag, external_updated_at,
	title, start_at, end_at, all_day, sync_status, last_direction, is_placeholder,
	blocked_by_mapping_id, blocked_by_item_id, created_at, updated_at`

func (r *mappingRepository) get(ctx context.Context, where string, args ...any) (*entity.Mapping, error) {
	var m entity.Mapping
	if err := r.db.GetContext(ctx, &m, `SELECT `+mappingColumns+` FROM event_mappings WHERE `+where, args...); err != nil {
		if database.IsNoRows(err) {
			return nil, nil
		}
		return nil, err
	}
	return &m, nil
}

func (r *mappingRepository) list(ctx context.Context, where string, args ...any) ([]entity.Mapping, error) {
	var out []entity.Mapping
	if err := r.db.SelectContext(ctx, &out, `SELECT `+mappingColumns+` FROM event_mappings WHERE `+where, args...); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *mappingRepository) GetByID(ctx context.Context, id uuid.UUID) (*entity.Mapping, error) {
	return r.get(ctx, `id = $1`, id)
}

func (r *mappingRepository) GetBySourceAndExternal(ctx context.Context, sourceID uuid.UUID, externalID string) (*entity.Mapping, error) {
	return r.get(ctx, `source_id = $1 AND external_event_id = $2`, sourceID, externalID)
}

func (r *mappingRepository) GetByItemAndSource(ctx context.Context, itemID, sourceID uuid.UUID) (*entity.Mapping, error) {
	return r.get(ctx, `item_id = $1 AND source_id = $2 AND NOT is_placeholder`, itemID, sourceID)
}

func (r *mappingRepository) ListByItem(ctx context.Context, itemID uuid.UUID) ([]entity.Mapping, error) {
	return r.list(ctx, `item_id = $1 ORDER BY created_at`, itemID)
}

func (r *mappingRepository) ListBlockedBy(ctx context.Context, mappingID uuid.UUID) ([]entity.Mapping, error) {
	return r.list(ctx, `blocked_by_mapping_id = $1 ORDER BY created_at`, mappingID)
}

func (r *mappingRepository) ListBlockedByItem(ctx context.Context, itemID uuid.UUID) ([]entity.Mapping, error) {
	return r.list(ctx, `blocked_by_item_id = $1 ORDER BY created_at`, itemID)
}

func (r *mappingRepository) ListPlaceholdersCausedBy(ctx context.Context, connectionID uuid.UUID) ([]entity.Mapping, error) {
	return r.list(ctx, `blocked_by_mapping_id IN (SELECT id FROM event_mappings WHERE connection_id = $1)
		AND connection_id <> $1 ORDER BY created_at`, connectionID)
}

func (r *mappingRepository) ListPlaceholdersOn(ctx context.Context, connectionID uuid.UUID) ([]entity.Mapping, error) {
	return r.list(ctx, `connection_id = $1 AND is_placeholder ORDER BY created_at`, connectionID)
}

func (r *mappingRepository) Create(ctx context.Context, m *entity.Mapping) error {
	m.Touch(time.Now().UTC())
	if m.SyncStatus == "" {
		m.SyncStatus = entity.SyncStatusSynced
	}
	if m.LastDirection == "" {
		m.LastDirection = entity.DirectionInbound
	}
	query := `
		INSERT INTO event_mappings (id, user_id, connection_id, source_id, external_event_id, item_id, etag,
			external_updated_at, title, start_at, end_at, all_day, sync_status, last_direction, is_placeholder,
			blocked_by_mapping_id, blocked_by_item_id, created_at, updated_at)
		VALUES (:id, :user_id, :connection_id, :source_id, :external_event_id, :item_id, :etag,
			:external_updated_at, :title, :start_at, :end_at, :all_day, :sync_status, :last_direction, :is_placeholder,
			:blocked_by_mapping_id, :blocked_by_item_id, :created_at, :updated_at)
	`
	_, err := r.db.NamedExecContext(ctx, query, m)
	return err
}

func (r *mappingRepository) Update(ctx context.Context, m *entity.Mapping) error {
	m.UpdatedAt = time.Now().UTC()
	query := `
		UPDATE event_mappings
		SET item_id = :item_id, etag = :etag, external_updated_at = :external_updated_at, title = :title,
			start_at = :start_at, end_at = :end_at, all_day = :all_day, sync_status = :sync_status,
			last_direction = :last_direction, updated_at = :updated_at
		WHERE id = :id
	`
	_, err := r.db.NamedExecContext(ctx, query, m)
	return err
}

func (r *mappingRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status entity.SyncStatus) error {
	return r.db.ExecContext(ctx, `UPDATE event_mappings SET sync_status = $2, updated_at = NOW() WHERE id = $1`, id, status)
}

func (r *mappingRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return r.db.ExecContext(ctx, `DELETE FROM event_mappings WHERE id = $1`, id)
}
