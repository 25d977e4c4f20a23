package service

import (
	"context"
	"testing"
	"time"

	"calendar-sync/core/errors"
	"calendar-sync/internal/testutil"
	"calendar-sync/modules/planner/dto"
	"calendar-sync/modules/planner/entity"

	"github.com/google/uuid"
)

type recordingPropagator struct {
	created []entity.Item
	updated []entity.Item
	deleted []uuid.UUID
}

func (p *recordingPropagator) PropagateFocusCreate(item entity.Item) { p.created = append(p.created, item) }
func (p *recordingPropagator) PropagateFocusUpdate(item entity.Item) { p.updated = append(p.updated, item) }
func (p *recordingPropagator) PropagateFocusDelete(_, itemID uuid.UUID) {
	p.deleted = append(p.deleted, itemID)
}

var focusStart = time.Date(2026, 10, 21, 13, 0, 0, 0, time.UTC)

func newFocusService() (*FocusService, *recordingPropagator, *testutil.Stores) {
	stores := testutil.NewStores()
	prop := &recordingPropagator{}
	return NewFocusService(NewPlannerService(stores.Planner), prop), prop, stores
}

func TestCreateFocusBlockValidates(t *testing.T) {
	tests := []struct {
		name string
		req  dto.FocusBlockRequest
	}{
		{"missing title", dto.FocusBlockRequest{StartAt: focusStart, EndAt: focusStart.Add(time.Hour)}},
		{"missing start", dto.FocusBlockRequest{Title: "Write", EndAt: focusStart}},
		{"end before start", dto.FocusBlockRequest{Title: "Write", StartAt: focusStart, EndAt: focusStart.Add(-time.Hour)}},
		{"empty range", dto.FocusBlockRequest{Title: "Write", StartAt: focusStart, EndAt: focusStart}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, prop, _ := newFocusService()
			_, err := svc.CreateFocusBlock(context.Background(), uuid.New(), tt.req)
			if !errors.HasCode(err, errors.ErrInvalidInput) {
				t.Fatalf("expected invalid input, got %v", err)
			}
			if len(prop.created) != 0 {
				t.Fatalf("expected nothing propagated")
			}
		})
	}
}

func TestFocusBlockLifecyclePropagates(t *testing.T) {
	svc, prop, stores := newFocusService()
	userID := uuid.New()
	req := dto.FocusBlockRequest{Title: "Write", StartAt: focusStart, EndAt: focusStart.Add(2 * time.Hour)}

	created, err := svc.CreateFocusBlock(context.Background(), userID, req)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(prop.created) != 1 || prop.created[0].Kind != entity.KindFocus {
		t.Fatalf("expected focus item propagated, got %+v", prop.created)
	}

	req.Title = "Write more"
	if _, err := svc.UpdateFocusBlock(context.Background(), userID, created.ID, req); err != nil {
		t.Fatalf("update: %v", err)
	}
	if len(prop.updated) != 1 || prop.updated[0].Title != "Write more" {
		t.Fatalf("expected update propagated, got %+v", prop.updated)
	}

	if err := svc.DeleteFocusBlock(context.Background(), userID, created.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(prop.deleted) != 1 || prop.deleted[0] != created.ID {
		t.Fatalf("expected delete propagated, got %v", prop.deleted)
	}
	if len(stores.Planner.ItemsOf(userID)) != 0 {
		t.Fatalf("expected item removed")
	}
}

func TestFocusBlockOwnership(t *testing.T) {
	svc, prop, stores := newFocusService()
	owner := uuid.New()
	req := dto.FocusBlockRequest{Title: "Write", StartAt: focusStart, EndAt: focusStart.Add(time.Hour)}
	created, err := svc.CreateFocusBlock(context.Background(), owner, req)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	t.Run("other user", func(t *testing.T) {
		err := svc.DeleteFocusBlock(context.Background(), uuid.New(), created.ID)
		if !errors.HasCode(err, errors.ErrNotFound) {
			t.Fatalf("expected not found, got %v", err)
		}
	})
	t.Run("synced event is not a focus block", func(t *testing.T) {
		event, _ := NewPlannerService(stores.Planner).CreateItem(context.Background(), ItemInput{
			UserID: owner, Title: "Standup", StartAt: focusStart, EndAt: focusStart.Add(time.Hour),
		})
		_, err := svc.UpdateFocusBlock(context.Background(), owner, event.ID, req)
		if !errors.HasCode(err, errors.ErrNotFound) {
			t.Fatalf("expected not found, got %v", err)
		}
	})
	if len(prop.deleted) != 0 || len(prop.updated) != 0 {
		t.Fatalf("expected nothing propagated")
	}
}
