package service

import (
	"context"

	"calendar-sync/core/errors"
	"calendar-sync/core/logger"
	"calendar-sync/modules/planner/dto"
	"calendar-sync/modules/planner/entity"

	"github.com/google/uuid"
)

// FocusPropagator mirrors focus blocks onto the user's writable calendars.
// Implementations return immediately; the work runs detached.
type FocusPropagator interface {
	PropagateFocusCreate(item entity.Item)
	PropagateFocusUpdate(item entity.Item)
	PropagateFocusDelete(userID, itemID uuid.UUID)
}

type FocusServiceInterface interface {
	CreateFocusBlock(ctx context.Context, userID uuid.UUID, req dto.FocusBlockRequest) (*dto.FocusBlockResponse, error)
	UpdateFocusBlock(ctx context.Context, userID, id uuid.UUID, req dto.FocusBlockRequest) (*dto.FocusBlockResponse, error)
	DeleteFocusBlock(ctx context.Context, userID, id uuid.UUID) error
}

type FocusService struct {
	planner    PlannerServiceInterface
	propagator FocusPropagator
}

func NewFocusService(planner PlannerServiceInterface, propagator FocusPropagator) *FocusService {
	return &FocusService{planner: planner, propagator: propagator}
}

func validateFocus(req dto.FocusBlockRequest) error {
	if req.Title == "" {
		return errors.NewAppError(errors.ErrInvalidInput, "title is required", nil)
	}
	if req.StartAt.IsZero() || req.EndAt.IsZero() {
		return errors.NewAppError(errors.ErrInvalidInput, "start_at and end_at are required", nil)
	}
	if !req.EndAt.After(req.StartAt) {
		return errors.NewAppError(errors.ErrInvalidInput, "end_at must be after start_at", nil)
	}
	return nil
}

func toResponse(item *entity.Item) *dto.FocusBlockResponse {
	return &dto.FocusBlockResponse{
		ID:      item.ID,
		Title:   item.Title,
		StartAt: item.StartAt,
		EndAt:   item.EndAt,
		DayID:   item.DayID,
	}
}

func (s *FocusService) CreateFocusBlock(ctx context.Context, userID uuid.UUID, req dto.FocusBlockRequest) (*dto.FocusBlockResponse, error) {
	if err := validateFocus(req); err != nil {
		return nil, err
	}
	item, err := s.planner.CreateItem(ctx, ItemInput{
		UserID:      userID,
		Kind:        entity.KindFocus,
		Title:       req.Title,
		Description: req.Description,
		StartAt:     req.StartAt,
		EndAt:       req.EndAt,
	})
	if err != nil {
		logger.Error("FocusService:CreateFocusBlock:Error", "user_id", userID, "error", err)
		return nil, errors.NewAppError(errors.ErrInternalServer, "failed to create focus block", err)
	}
	s.propagator.PropagateFocusCreate(*item)
	return toResponse(item), nil
}

func (s *FocusService) owned(ctx context.Context, userID, id uuid.UUID) (*entity.Item, error) {
	item, err := s.planner.GetItem(ctx, id)
	if err != nil {
		return nil, errors.NewAppError(errors.ErrInternalServer, "failed to load focus block", err)
	}
	if item == nil || item.UserID != userID || item.Kind != entity.KindFocus {
		return nil, errors.NewAppError(errors.ErrNotFound, "focus block not found", nil)
	}
	return item, nil
}

func (s *FocusService) UpdateFocusBlock(ctx context.Context, userID, id uuid.UUID, req dto.FocusBlockRequest) (*dto.FocusBlockResponse, error) {
	if err := validateFocus(req); err != nil {
		return nil, err
	}
	if _, err := s.owned(ctx, userID, id); err != nil {
		return nil, err
	}
	item, err := s.planner.UpdateItem(ctx, id, ItemInput{
		Kind:        entity.KindFocus,
		Title:       req.Title,
		Description: req.Description,
		StartAt:     req.StartAt,
		EndAt:       req.EndAt,
	})
	if err != nil {
		logger.Error("FocusService:UpdateFocusBlock:Error", "item_id", id, "error", err)
		return nil, errors.NewAppError(errors.ErrInternalServer, "failed to update focus block", err)
	}
	if item == nil {
		return nil, errors.NewAppError(errors.ErrNotFound, "focus block not found", nil)
	}
	s.propagator.PropagateFocusUpdate(*item)
	return toResponse(item), nil
}

func (s *FocusService) DeleteFocusBlock(ctx context.Context, userID, id uuid.UUID) error {
	if _, err := s.owned(ctx, userID, id); err != nil {
		return err
	}
	if err := s.planner.DeleteItem(ctx, id); err != nil {
		return errors.NewAppError(errors.ErrInternalServer, "failed to delete focus block", err)
	}
	s.propagator.PropagateFocusDelete(userID, id)
	return nil
}
