package handler

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"calendar-sync/core/constants"
	"calendar-sync/core/queue"
	"calendar-sync/modules/blocking/service"
	"calendar-sync/modules/provider"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

type fakePlacer struct {
	got []service.PlacePayload
	err error
}

func (f *fakePlacer) Place(ctx context.Context, p service.PlacePayload) error {
	f.got = append(f.got, p)
	return f.err
}

func placeTask(t *testing.T, p service.PlacePayload) *asynq.Task {
	t.Helper()
	body, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return asynq.NewTask(constants.JobBlockingPlace, body)
}

func TestHandlePlace(t *testing.T) {
	origin := uuid.New()
	payload := service.PlacePayload{UserID: uuid.New(), OriginMappingID: &origin, TargetSourceID: uuid.New()}
	limited := &provider.RateLimitedError{Provider: provider.CalDAV, RetryAfter: time.Second}

	tests := []struct {
		name      string
		err       error
		wantErr   bool
		wantRetry bool
	}{
		{"placed", nil, false, false},
		{"rate limited waits for the window", limited, true, true},
		{"outage retries", &provider.UnavailableError{Provider: provider.CalDAV, StatusCode: 503}, true, true},
		{"expired token is permanent", provider.ErrAuthExpired, true, false},
		{"unsupported is permanent", provider.ErrUnsupported, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			placer := &fakePlacer{err: tt.err}
			err := NewPlaceHandler(placer).HandlePlace(context.Background(), placeTask(t, payload))

			if len(placer.got) != 1 || placer.got[0].TargetSourceID != payload.TargetSourceID || *placer.got[0].OriginMappingID != origin {
				t.Fatalf("expected payload passed through, got %+v", placer.got)
			}
			if (err != nil) != tt.wantErr {
				t.Fatalf("expected error %v, got %v", tt.wantErr, err)
			}
			if err == nil {
				return
			}
			if retry := !errors.Is(err, asynq.SkipRetry); retry != tt.wantRetry {
				t.Fatalf("expected retry %v, got %v (%v)", tt.wantRetry, retry, err)
			}
			if tt.err == limited && queue.RetryDelay(0, err, nil) != time.Second {
				t.Errorf("expected retry delay to follow the retry-after, got %s", queue.RetryDelay(0, err, nil))
			}
		})
	}
}

func TestHandlePlaceRejectsBadPayload(t *testing.T) {
	placer := &fakePlacer{}
	err := NewPlaceHandler(placer).HandlePlace(context.Background(), asynq.NewTask(constants.JobBlockingPlace, []byte("{")))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected skip retry, got %v", err)
	}
	if len(placer.got) != 0 {
		t.Fatalf("expected placer not called")
	}
}
