package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"calendar-sync/core/constants"
	"calendar-sync/core/errors"
	"calendar-sync/internal/testutil"
	connEntity "calendar-sync/modules/connection/entity"
	"calendar-sync/modules/provider"
	syncService "calendar-sync/modules/sync/service"

	"github.com/google/uuid"
)

const secret = "s3cret-webhook-value"

type ingestFixture struct {
	svc    *IngestService
	stores *testutil.Stores
	queue  *testutil.Queue
	audit  *testutil.Recorder
	conn   *connEntity.Connection
	src    *connEntity.Source
}

func newIngestFixture(t *testing.T, providerName, channelID string) *ingestFixture {
	t.Helper()
	store, _ := testutil.NewCache(t)
	stores := testutil.NewStores()
	q := &testutil.Queue{}
	audit := &testutil.Recorder{}
	svc, err := NewIngestService(stores.Sources, stores.Connections, store, syncService.NewDispatcher(q), audit)
	if err != nil {
		t.Fatalf("new ingest service: %v", err)
	}
	conn := stores.Connections.Add(&connEntity.Connection{
		UserID:        uuid.New(),
		Provider:      providerName,
		Status:        connEntity.StatusActive,
		Enabled:       true,
		WebhookSecret: secret,
	})
	expires := time.Now().Add(48 * time.Hour)
	src := stores.Sources.Add(&connEntity.Source{
		ConnectionID:       conn.ID,
		UserID:             conn.UserID,
		ExternalCalendarID: "primary",
		Direction:          connEntity.DirectionBidirectional,
		Enabled:            true,
		WebhookChannelID:   channelID,
		WebhookResourceID:  "res-1",
		WebhookExpiresAt:   &expires,
	})
	return &ingestFixture{svc: svc, stores: stores, queue: q, audit: audit, conn: conn, src: src}
}

func (f *ingestFixture) jobs() []syncService.InboundPayload {
	var out []syncService.InboundPayload
	for _, j := range f.queue.OfType(constants.JobSyncInbound) {
		out = append(out, j.Payload.(syncService.InboundPayload))
	}
	return out
}

func (f *ingestFixture) google(state, msg string) GoogleNotification {
	return GoogleNotification{
		ConnectionID:  f.conn.ID,
		SourceID:      f.src.ID,
		ChannelID:     "ch-1",
		ResourceID:    "res-1",
		ResourceState: state,
		MessageNumber: msg,
		Token:         secret,
	}
}

func TestHandleGoogleQueuesWebhookSync(t *testing.T) {
	f := newIngestFixture(t, provider.Google, "ch-1")

	if err := f.svc.HandleGoogle(context.Background(), f.google("exists", "7")); err != nil {
		t.Fatalf("handle: %v", err)
	}
	jobs := f.jobs()
	if len(jobs) != 1 {
		t.Fatalf("expected 1 job, got %d", len(jobs))
	}
	if jobs[0].Trigger != syncService.TriggerWebhook || jobs[0].SourceID != f.src.ID || jobs[0].FullResync {
		t.Fatalf("unexpected job %+v", jobs[0])
	}
	if opts := f.queue.Jobs[0].Opts; opts.Queue != constants.QueueWebhooks {
		t.Errorf("expected webhook queue, got %s", opts.Queue)
	}
}

func TestHandleGoogleDropsDuplicateMessage(t *testing.T) {
	f := newIngestFixture(t, provider.Google, "ch-1")
	for i := 0; i < 3; i++ {
		if err := f.svc.HandleGoogle(context.Background(), f.google("exists", "7")); err != nil {
			t.Fatalf("handle: %v", err)
		}
	}
	if err := f.svc.HandleGoogle(context.Background(), f.google("exists", "8")); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if n := len(f.jobs()); n != 2 {
		t.Fatalf("expected 2 jobs for 2 distinct messages, got %d", n)
	}
}

func TestHandleGoogleIgnoresHandshake(t *testing.T) {
	f := newIngestFixture(t, provider.Google, "ch-1")
	if err := f.svc.HandleGoogle(context.Background(), f.google("sync", "1")); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if n := len(f.jobs()); n != 0 {
		t.Fatalf("expected no job for the handshake, got %d", n)
	}
}

func TestHandleGoogleRejectsForgedNotifications(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(f *ingestFixture, n *GoogleNotification)
	}{
		{"wrong token", func(_ *ingestFixture, n *GoogleNotification) { n.Token = "guess" }},
		{"missing token", func(_ *ingestFixture, n *GoogleNotification) { n.Token = "" }},
		{"stale channel", func(_ *ingestFixture, n *GoogleNotification) { n.ChannelID = "ch-0" }},
		{"unknown source", func(_ *ingestFixture, n *GoogleNotification) { n.SourceID = uuid.New() }},
		{"source of another connection", func(f *ingestFixture, n *GoogleNotification) {
			other := f.stores.Connections.Add(&connEntity.Connection{Provider: provider.Google, WebhookSecret: secret})
			n.ConnectionID = other.ID
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newIngestFixture(t, provider.Google, "ch-1")
			n := f.google("exists", "9")
			tt.mutate(f, &n)

			err := f.svc.HandleGoogle(context.Background(), n)
			if !errors.Is(err, ErrVerification) {
				t.Fatalf("expected ErrVerification, got %v", err)
			}
			if len(f.jobs()) != 0 {
				t.Fatalf("expected no job")
			}
		})
	}
}

func graphBody(subscriptionID, clientState, field, value string) []byte {
	return []byte(fmt.Sprintf(`{"value":[{"subscriptionId":%q,"clientState":%q,%q:%q,"resource":"me/events/1"}]}`,
		subscriptionID, clientState, field, value))
}

func TestHandleGraphChangeQueuesOneSync(t *testing.T) {
	f := newIngestFixture(t, provider.Microsoft, "sub-1")
	body := []byte(fmt.Sprintf(`{"value":[
		{"subscriptionId":"sub-1","clientState":%q,"changeType":"created"},
		{"subscriptionId":"sub-1","clientState":%q,"changeType":"updated"}
	]}`, secret, secret))

	if err := f.svc.HandleGraph(context.Background(), f.conn.ID, f.src.ID, body); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if n := len(f.jobs()); n != 1 {
		t.Fatalf("expected one incremental pass for the batch, got %d", n)
	}
}

func TestHandleGraphLifecycleEvents(t *testing.T) {
	t.Run("missed forces full resync", func(t *testing.T) {
		f := newIngestFixture(t, provider.Microsoft, "sub-1")
		if err := f.svc.HandleGraph(context.Background(), f.conn.ID, f.src.ID, graphBody("sub-1", secret, "lifecycleEvent", "missed")); err != nil {
			t.Fatalf("handle: %v", err)
		}
		jobs := f.jobs()
		if len(jobs) != 1 || !jobs[0].FullResync {
			t.Fatalf("expected a full resync, got %+v", jobs)
		}
	})
	t.Run("subscription removed clears channel", func(t *testing.T) {
		f := newIngestFixture(t, provider.Microsoft, "sub-1")
		if err := f.svc.HandleGraph(context.Background(), f.conn.ID, f.src.ID, graphBody("sub-1", secret, "lifecycleEvent", "subscriptionRemoved")); err != nil {
			t.Fatalf("handle: %v", err)
		}
		src, _ := f.stores.Sources.GetByID(context.Background(), f.src.ID)
		if src.HasWebhook() {
			t.Fatalf("expected channel cleared")
		}
	})
	t.Run("reauthorization marks token expired", func(t *testing.T) {
		f := newIngestFixture(t, provider.Microsoft, "sub-1")
		if err := f.svc.HandleGraph(context.Background(), f.conn.ID, f.src.ID, graphBody("sub-1", secret, "lifecycleEvent", "reauthorizationRequired")); err != nil {
			t.Fatalf("handle: %v", err)
		}
		conn, _ := f.stores.Connections.GetByID(context.Background(), f.conn.ID)
		if conn.Status != connEntity.StatusTokenExpired {
			t.Fatalf("expected token-expired, got %s", conn.Status)
		}
	})
}

func TestHandleGraphRejects(t *testing.T) {
	tests := []struct {
		name string
		body []byte
		code errors.ErrorCode
	}{
		{"not json", []byte("<xml/>"), errors.ErrValidationFailure},
		{"empty batch", []byte(`{"value":[]}`), errors.ErrValidationFailure},
		{"unknown change type", graphBody("sub-1", secret, "changeType", "exploded"), errors.ErrValidationFailure},
		{"wrong client state", graphBody("sub-1", "guess", "changeType", "updated"), errors.ErrValidationFailure},
		{"other subscription", graphBody("sub-9", secret, "changeType", "updated"), errors.ErrValidationFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newIngestFixture(t, provider.Microsoft, "sub-1")
			err := f.svc.HandleGraph(context.Background(), f.conn.ID, f.src.ID, tt.body)
			if !errors.HasCode(err, tt.code) {
				t.Fatalf("expected %s, got %v", tt.code, err)
			}
			if len(f.jobs()) != 0 {
				t.Fatalf("expected no job")
			}
		})
	}
}
