package service

import (
	"context"
	"testing"
	"time"

	"calendar-sync/core/constants"
	"calendar-sync/internal/testutil"
	"calendar-sync/modules/planner/entity"

	"github.com/google/uuid"
)

func TestGetSettingsDefaults(t *testing.T) {
	stores := testutil.NewStores()
	svc := NewPlannerService(stores.Planner)
	userID := uuid.New()

	got, err := svc.GetSettings(context.Background(), userID)
	if err != nil {
		t.Fatalf("settings: %v", err)
	}
	if got.Timezone != "UTC" || got.PastMonths != constants.DefaultPastMonths || got.FutureMonths != constants.DefaultFutureMonths {
		t.Fatalf("unexpected defaults %+v", got)
	}

	stores.Planner.Settings[userID] = &entity.Settings{UserID: userID, Timezone: "Europe/Paris", FutureMonths: 3}
	got, _ = svc.GetSettings(context.Background(), userID)
	if got.Timezone != "Europe/Paris" || got.FutureMonths != 3 || got.PastMonths != constants.DefaultPastMonths {
		t.Fatalf("expected stored settings with past months defaulted, got %+v", got)
	}
}

func TestEnsureDayUsesUserTimezone(t *testing.T) {
	stores := testutil.NewStores()
	svc := NewPlannerService(stores.Planner)
	userID := uuid.New()
	stores.Planner.Settings[userID] = &entity.Settings{UserID: userID, Timezone: "America/New_York"}

	day, err := svc.EnsureDay(context.Background(), userID, time.Date(2026, 10, 20, 2, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("ensure day: %v", err)
	}
	want := time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)
	if !day.Day.Equal(want) {
		t.Fatalf("expected %v, got %v", want, day.Day)
	}

	again, _ := svc.EnsureDay(context.Background(), userID, time.Date(2026, 10, 19, 15, 0, 0, 0, time.UTC))
	if again.ID != day.ID {
		t.Fatalf("expected the same bucket for the same local date")
	}
}

func TestCreateItemAllDayKeepsCalendarDate(t *testing.T) {
	stores := testutil.NewStores()
	svc := NewPlannerService(stores.Planner)
	userID := uuid.New()
	stores.Planner.Settings[userID] = &entity.Settings{UserID: userID, Timezone: "America/Los_Angeles"}

	item, err := svc.CreateItem(context.Background(), ItemInput{
		UserID:  userID,
		Title:   "Holiday",
		StartAt: time.Date(2026, 12, 25, 0, 0, 0, 0, time.UTC),
		EndAt:   time.Date(2026, 12, 26, 0, 0, 0, 0, time.UTC),
		AllDay:  true,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if item.Kind != entity.KindEvent {
		t.Errorf("expected default kind event, got %s", item.Kind)
	}
	day, _ := stores.Planner.EnsureDay(context.Background(), userID, time.Date(2026, 12, 25, 0, 0, 0, 0, time.UTC))
	if item.DayID != day.ID {
		t.Fatalf("expected all-day item on Dec 25")
	}
}

func TestUpdateItemMovesDay(t *testing.T) {
	stores := testutil.NewStores()
	svc := NewPlannerService(stores.Planner)
	userID := uuid.New()
	start := time.Date(2026, 10, 20, 9, 0, 0, 0, time.UTC)

	item, err := svc.CreateItem(context.Background(), ItemInput{UserID: userID, Title: "Standup", StartAt: start, EndAt: start.Add(15 * time.Minute)})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	moved, err := svc.UpdateItem(context.Background(), item.ID, ItemInput{Title: "Standup", StartAt: start.AddDate(0, 0, 1), EndAt: start.AddDate(0, 0, 1).Add(15 * time.Minute)})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if moved.DayID == item.DayID {
		t.Fatalf("expected a new day bucket")
	}
	if moved.UserID != userID {
		t.Fatalf("expected owner kept, got %s", moved.UserID)
	}

	gone, err := svc.UpdateItem(context.Background(), uuid.New(), ItemInput{Title: "x", StartAt: start, EndAt: start})
	if err != nil || gone != nil {
		t.Fatalf("expected (nil, nil) for a missing item, got %v, %v", gone, err)
	}
}
