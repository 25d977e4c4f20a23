package service

import (
	"context"
	"strings"
	"testing"

	"calendar-sync/internal/testutil"
	auditEntity "calendar-sync/modules/audit/entity"
	"calendar-sync/modules/circuit"
	connEntity "calendar-sync/modules/connection/entity"
	"calendar-sync/modules/provider"
	"calendar-sync/modules/provider/providertest"
	"calendar-sync/modules/ratelimit"
	"calendar-sync/modules/sync/guard"

	"github.com/google/uuid"
)

type staticCreds struct{}

func (staticCreds) Credentials(ctx context.Context, conn *connEntity.Connection) (provider.Credentials, error) {
	return provider.Credentials{AccessToken: "tok"}, nil
}

type channelFixture struct {
	svc     *ChannelService
	stores  *testutil.Stores
	audit   *testutil.Recorder
	adapter *providertest.Fake
	conn    *connEntity.Connection
	src     *connEntity.Source
}

func newChannelFixture(t *testing.T, caps provider.Capabilities) *channelFixture {
	t.Helper()
	store, _ := testutil.NewCache(t)
	stores := testutil.NewStores()
	adapter := providertest.New(provider.Google)
	adapter.Caps = caps
	registry := provider.NewRegistry(adapter)
	audit := &testutil.Recorder{}
	g := guard.New(ratelimit.NewRedisLimiter(store, ratelimit.DefaultLimits()), circuit.NewBreaker(store))

	conn := stores.Connections.Add(&connEntity.Connection{
		UserID:        uuid.New(),
		Provider:      provider.Google,
		Status:        connEntity.StatusActive,
		Enabled:       true,
		WebhookSecret: secret,
	})
	src := stores.Sources.Add(&connEntity.Source{
		ConnectionID:       conn.ID,
		UserID:             conn.UserID,
		ExternalCalendarID: "primary",
		Direction:          connEntity.DirectionBidirectional,
		Enabled:            true,
	})
	return &channelFixture{
		svc:     NewChannelService(stores.Sources, stores.Connections, staticCreds{}, registry, g, audit, "https://sync.example.com"),
		stores:  stores,
		audit:   audit,
		adapter: adapter,
		conn:    conn,
		src:     src,
	}
}

var pushCaps = provider.Capabilities{OAuth: true, Webhooks: true, IncrementalSync: true}

func TestCallbackURL(t *testing.T) {
	conn, src := uuid.New(), uuid.New()
	got := CallbackURL("https://sync.example.com", provider.Microsoft, conn, src)
	want := "https://sync.example.com/api/v1/webhooks/microsoft/" + conn.String() + "/" + src.String()
	if got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestRegisterStoresChannel(t *testing.T) {
	f := newChannelFixture(t, pushCaps)

	if err := f.svc.Register(context.Background(), f.conn, f.src); err != nil {
		t.Fatalf("register: %v", err)
	}
	src, _ := f.stores.Sources.GetByID(context.Background(), f.src.ID)
	if !src.HasWebhook() || src.WebhookResourceID != "res-primary" || src.WebhookExpiresAt == nil {
		t.Fatalf("expected channel stored, got %+v", src)
	}
	if _, ok := f.audit.Last(auditEntity.ActionWebhookRegister); !ok {
		t.Errorf("expected register audit row")
	}
}

func TestRegisterWithoutPushSupportIsNoop(t *testing.T) {
	f := newChannelFixture(t, provider.Capabilities{})
	if err := f.svc.Register(context.Background(), f.conn, f.src); err != nil {
		t.Fatalf("register: %v", err)
	}
	if len(f.adapter.Registered) != 0 {
		t.Fatalf("expected no registration")
	}
}

func TestRegisterFailureIsAudited(t *testing.T) {
	f := newChannelFixture(t, pushCaps)
	f.adapter.RegisterErr = &provider.UnavailableError{Provider: provider.Google, StatusCode: 503}

	if err := f.svc.Register(context.Background(), f.conn, f.src); err == nil {
		t.Fatalf("expected error")
	}
	log, ok := f.audit.Last(auditEntity.ActionWebhookRegister)
	if !ok || log.Status != auditEntity.StatusFailure || !strings.Contains(log.Message, "unavailable") {
		t.Fatalf("expected failed audit row, got %+v", log)
	}
}

func TestRenew(t *testing.T) {
	t.Run("registers when missing", func(t *testing.T) {
		f := newChannelFixture(t, pushCaps)
		if err := f.svc.Renew(context.Background(), f.src.ID); err != nil {
			t.Fatalf("renew: %v", err)
		}
		if len(f.adapter.Registered) != 1 {
			t.Fatalf("expected a registration, got %d", len(f.adapter.Registered))
		}
	})
	t.Run("extends existing channel", func(t *testing.T) {
		f := newChannelFixture(t, pushCaps)
		if err := f.svc.Register(context.Background(), f.conn, f.src); err != nil {
			t.Fatalf("register: %v", err)
		}
		before, _ := f.stores.Sources.GetByID(context.Background(), f.src.ID)

		if err := f.svc.Renew(context.Background(), f.src.ID); err != nil {
			t.Fatalf("renew: %v", err)
		}
		after, _ := f.stores.Sources.GetByID(context.Background(), f.src.ID)
		if after.WebhookChannelID != before.WebhookChannelID || after.WebhookExpiresAt.Before(*before.WebhookExpiresAt) {
			t.Fatalf("expected same channel with later expiry, got %+v", after)
		}
		if _, ok := f.audit.Last(auditEntity.ActionWebhookRenew); !ok {
			t.Errorf("expected renew audit row")
		}
	})
	t.Run("skips unusable connection", func(t *testing.T) {
		f := newChannelFixture(t, pushCaps)
		f.stores.Connections.Rows[f.conn.ID].Status = connEntity.StatusTokenExpired
		if err := f.svc.Renew(context.Background(), f.src.ID); err != nil {
			t.Fatalf("renew: %v", err)
		}
		if len(f.adapter.Registered) != 0 {
			t.Fatalf("expected no provider call")
		}
	})
	t.Run("gone source", func(t *testing.T) {
		f := newChannelFixture(t, pushCaps)
		if err := f.svc.Renew(context.Background(), uuid.New()); err != nil {
			t.Fatalf("expected nil for a deleted source, got %v", err)
		}
	})
}

func TestCancelClearsChannel(t *testing.T) {
	f := newChannelFixture(t, pushCaps)
	if err := f.svc.Register(context.Background(), f.conn, f.src); err != nil {
		t.Fatalf("register: %v", err)
	}
	src, _ := f.stores.Sources.GetByID(context.Background(), f.src.ID)

	if err := f.svc.Cancel(context.Background(), f.conn, src); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if len(f.adapter.Cancelled) != 1 || f.adapter.Cancelled[0] != src.WebhookChannelID {
		t.Fatalf("expected channel %s cancelled, got %v", src.WebhookChannelID, f.adapter.Cancelled)
	}
	after, _ := f.stores.Sources.GetByID(context.Background(), f.src.ID)
	if after.HasWebhook() {
		t.Fatalf("expected channel cleared")
	}
}
