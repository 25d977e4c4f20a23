package repository

import (
	"context"
	"time"

	"calendar-sync/core/database"
	"calendar-sync/modules/planner/entity"

	"github.com/google/uuid"
)

type PlannerRepository interface {
	// EnsureDay returns the bucket for (user, day), creating it if needed.
	EnsureDay(ctx context.Context, userID uuid.UUID, day time.Time) (*entity.Day, error)
	CreateItem(ctx context.Context, item *entity.Item) error
	UpdateItem(ctx context.Context, item *entity.Item) error
	DeleteItem(ctx context.Context, id uuid.UUID) error
	// DeleteBySource removes imported events; focus blocks stay.
	DeleteBySource(ctx context.Context, sourceID uuid.UUID) (int64, error)
	GetItem(ctx context.Context, id uuid.UUID) (*entity.Item, error)
	GetSettings(ctx context.Context, userID uuid.UUID) (*entity.Settings, error)
}

type plannerRepository struct {
	db database.IDatabase
}

func NewPlannerRepository(db database.IDatabase) PlannerRepository {
	return &plannerRepository{db: db}
}

func (r *plannerRepository) EnsureDay(ctx context.Context, userID uuid.UUID, day time.Time) (*entity.Day, error) {
	d := &entity.Day{UserID: userID, Day: day}
	d.Touch(time.Now().UTC())
	query := `
		INSERT INTO planner_days (id, user_id, day, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (user_id, day) DO UPDATE SET updated_at = planner_days.updated_at
		RETURNING id, created_at, updated_at
	`
	err := r.db.QueryRowContext(ctx, query, d.ID, userID, day.Format("2006-01-02"), d.CreatedAt).
		Scan(&d.ID, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (r *plannerRepository) CreateItem(ctx context.Context, item *entity.Item) error {
	query := `
		INSERT INTO planner_items (id, user_id, day_id, kind, title, description, location, start_at, end_at,
			all_day, source_id, created_at, updated_at)
		VALUES (:id, :user_id, :day_id, :kind, :title, :description, :location, :start_at, :end_at,
			:all_day, :source_id, :created_at, :updated_at)
	`
	_, err := r.db.NamedExecContext(ctx, query, item)
	return err
}

func (r *plannerRepository) UpdateItem(ctx context.Context, item *entity.Item) error {
	query := `
		UPDATE planner_items
		SET day_id = :day_id, title = :title, description = :description, location = :location,
			start_at = :start_at, end_at = :end_at, all_day = :all_day, updated_at = NOW()
		WHERE id = :id
	`
	_, err := r.db.NamedExecContext(ctx, query, item)
	return err
}

func (r *plannerRepository) DeleteItem(ctx context.Context, id uuid.UUID) error {
	return r.db.ExecContext(ctx, `DELETE FROM planner_items WHERE id = $1`, id)
}

func (r *plannerRepository) DeleteBySource(ctx context.Context, sourceID uuid.UUID) (int64, error) {
	return r.db.ExecResultContext(ctx, `DELETE FROM planner_items WHERE source_id = $1 AND kind = 'event'`, sourceID)
}

func (r *plannerRepository) GetItem(ctx context.Context, id uuid.UUID) (*entity.Item, error) {
	var item entity.Item
	query := `
		SELECT id, user_id, day_id, kind, title, description, location, start_at, end_at, all_day, source_id,
			created_at, updated_at
		FROM planner_items WHERE id = $1
	`
	if err := r.db.GetContext(ctx, &item, query, id); err != nil {
		if database.IsNoRows(err) {
			return nil, nil
		}
		return nil, err
	}
	return &item, nil
}

// GetSettings returns (nil, nil) for users who never saved settings.
func (r *plannerRepository) GetSettings(ctx context.Context, userID uuid.UUID) (*entity.Settings, error) {
	var s entity.Settings
	query := `SELECT user_id, timezone, past_months, future_months FROM user_settings WHERE user_id = $1`
	if err := r.db.GetContext(ctx, &s, query, userID); err != nil {
		if database.IsNoRows(err) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}
