package service

import (
	"context"
	"time"

	"calendar-sync/core/constants"
	"calendar-sync/core/logger"
	"calendar-sync/modules/planner/entity"
	"calendar-sync/modules/planner/repository"

	"github.com/google/uuid"
)

// ItemInput carries the fields sync may set on a planner item.
type ItemInput struct {
	UserID      uuid.UUID
	Kind        entity.ItemKind
	Title       string
	Description string
	Location    string
	StartAt     time.Time
	EndAt       time.Time
	AllDay      bool
	SourceID    *uuid.UUID
}

type PlannerServiceInterface interface {
	EnsureDay(ctx context.Context, userID uuid.UUID, at time.Time) (*entity.Day, error)
	CreateItem(ctx context.Context, in ItemInput) (*entity.Item, error)
	UpdateItem(ctx context.Context, id uuid.UUID, in ItemInput) (*entity.Item, error)
	DeleteItem(ctx context.Context, id uuid.UUID) error
	DeleteBySource(ctx context.Context, sourceID uuid.UUID) (int64, error)
	GetItem(ctx context.Context, id uuid.UUID) (*entity.Item, error)
	GetSettings(ctx context.Context, userID uuid.UUID) (entity.Settings, error)
}

// MappingCleaner removes sync mappings that point at a planner item.
type MappingCleaner interface {
	ForgetItem(ctx context.Context, itemID uuid.UUID) int
}

type PlannerService struct {
	repo    repository.PlannerRepository
	cleaner MappingCleaner
	now     func() time.Time
}

func NewPlannerService(repo repository.PlannerRepository) *PlannerService {
	return &PlannerService{repo: repo, now: time.Now}
}

// WithMappingCleaner makes DeleteItem drop the item's mappings and their
// placeholders first, so the next pull imports the event afresh.
func (s *PlannerService) WithMappingCleaner(c MappingCleaner) *PlannerService {
	s.cleaner = c
	return s
}

func defaultSettings(userID uuid.UUID) entity.Settings {
	return entity.Settings{
		UserID:       userID,
		Timezone:     "UTC",
		PastMonths:   constants.DefaultPastMonths,
		FutureMonths: constants.DefaultFutureMonths,
	}
}

func (s *PlannerService) GetSettings(ctx context.Context, userID uuid.UUID) (entity.Settings, error) {
	settings, err := s.repo.GetSettings(ctx, userID)
	if err != nil {
		logger.Error("PlannerService:GetSettings:Error", "user_id", userID, "error", err)
		return entity.Settings{}, err
	}
	if settings == nil {
		return defaultSettings(userID), nil
	}
	if settings.PastMonths <= 0 {
		settings.PastMonths = constants.DefaultPastMonths
	}
	if settings.FutureMonths <= 0 {
		settings.FutureMonths = constants.DefaultFutureMonths
	}
	return *settings, nil
}

// EnsureDay resolves the bucket for the user's local date of at. All-day
// items are stored at UTC midnight and keep their calendar date.
func (s *PlannerService) EnsureDay(ctx context.Context, userID uuid.UUID, at time.Time) (*entity.Day, error) {
	settings, err := s.GetSettings(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.repo.EnsureDay(ctx, userID, localDate(at, settings.Timezone))
}

func localDate(at time.Time, timezone string) time.Time {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		loc = time.UTC
	}
	local := at.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
}

func (s *PlannerService) dayFor(ctx context.Context, in ItemInput) (uuid.UUID, error) {
	var day *entity.Day
	var err error
	if in.AllDay {
		day, err = s.repo.EnsureDay(ctx, in.UserID, localDate(in.StartAt, "UTC"))
	} else {
		day, err = s.EnsureDay(ctx, in.UserID, in.StartAt)
	}
	if err != nil {
		return uuid.Nil, err
	}
	return day.ID, nil
}

func (s *PlannerService) CreateItem(ctx context.Context, in ItemInput) (*entity.Item, error) {
	dayID, err := s.dayFor(ctx, in)
	if err != nil {
		logger.Error("PlannerService:CreateItem:EnsureDay:Error", "user_id", in.UserID, "error", err)
		return nil, err
	}
	kind := in.Kind
	if kind == "" {
		kind = entity.KindEvent
	}
	item := &entity.Item{
		UserID:      in.UserID,
		DayID:       dayID,
		Kind:        kind,
		Title:       in.Title,
		Description: in.Description,
		Location:    in.Location,
		StartAt:     in.StartAt.UTC(),
		EndAt:       in.EndAt.UTC(),
		AllDay:      in.AllDay,
		SourceID:    in.SourceID,
	}
	item.Touch(s.now().UTC())
	if err := s.repo.CreateItem(ctx, item); err != nil {
		logger.Error("PlannerService:CreateItem:Error", "user_id", in.UserID, "error", err)
		return nil, err
	}
	return item, nil
}

// UpdateItem moves the item to a new day bucket when its start date changes.
// Returns (nil, nil) if the item no longer exists.
func (s *PlannerService) UpdateItem(ctx context.Context, id uuid.UUID, in ItemInput) (*entity.Item, error) {
	item, err := s.repo.GetItem(ctx, id)
	if err != nil || item == nil {
		return nil, err
	}
	in.UserID = item.UserID
	dayID, err := s.dayFor(ctx, in)
	if err != nil {
		return nil, err
	}
	item.DayID = dayID
	item.Title = in.Title
	item.Description = in.Description
	item.Location = in.Location
	item.StartAt = in.StartAt.UTC()
	item.EndAt = in.EndAt.UTC()
	item.AllDay = in.AllDay
	item.Touch(s.now().UTC())
	if err := s.repo.UpdateItem(ctx, item); err != nil {
		logger.Error("PlannerService:UpdateItem:Error", "item_id", id, "error", err)
		return nil, err
	}
	return item, nil
}

func (s *PlannerService) DeleteItem(ctx context.Context, id uuid.UUID) error {
	if s.cleaner != nil {
		s.cleaner.ForgetItem(ctx, id)
	}
	if err := s.repo.DeleteItem(ctx, id); err != nil {
		logger.Error("PlannerService:DeleteItem:Error", "item_id", id, "error", err)
		return err
	}
	return nil
}

func (s *PlannerService) DeleteBySource(ctx context.Context, sourceID uuid.UUID) (int64, error) {
	n, err := s.repo.DeleteBySource(ctx, sourceID)
	if err != nil {
		logger.Error("PlannerService:DeleteBySource:Error", "source_id", sourceID, "error", err)
	}
	return n, err
}

func (s *PlannerService) GetItem(ctx context.Context, id uuid.UUID) (*entity.Item, error) {
	return s.repo.GetItem(ctx, id)
}
