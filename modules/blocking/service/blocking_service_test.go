package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"calendar-sync/core/constants"
	"calendar-sync/internal/testutil"
	auditEntity "calendar-sync/modules/audit/entity"
	"calendar-sync/modules/circuit"
	connEntity "calendar-sync/modules/connection/entity"
	plannerEntity "calendar-sync/modules/planner/entity"
	"calendar-sync/modules/provider"
	"calendar-sync/modules/provider/providertest"
	"calendar-sync/modules/ratelimit"
	"calendar-sync/modules/sync/entity"
	"calendar-sync/modules/sync/guard"

	"github.com/google/uuid"
)

type staticCreds struct{}

func (staticCreds) Credentials(ctx context.Context, conn *connEntity.Connection) (provider.Credentials, error) {
	return provider.Credentials{AccessToken: "tok"}, nil
}

type blockingFixture struct {
	svc      *BlockingService
	stores   *testutil.Stores
	audit    *testutil.Recorder
	queue    *testutil.Queue
	clock    *testutil.Clock
	adapters map[string]*providertest.Fake
	userID   uuid.UUID
	conns    map[string]*connEntity.Connection
	sources  map[string]*connEntity.Source
}

func newBlockingFixture(t *testing.T) *blockingFixture {
	t.Helper()
	store, _ := testutil.NewCache(t)
	f := &blockingFixture{
		stores: testutil.NewStores(),
		audit:  &testutil.Recorder{},
		queue:  &testutil.Queue{},
		clock:  testutil.NewClock(2 * time.Second),
		adapters: map[string]*providertest.Fake{
			provider.Google:    providertest.New(provider.Google),
			provider.Microsoft: providertest.New(provider.Microsoft),
			provider.CalDAV:    providertest.New(provider.CalDAV),
		},
		userID:  uuid.New(),
		conns:   map[string]*connEntity.Connection{},
		sources: map[string]*connEntity.Source{},
	}
	registry := provider.NewRegistry(f.adapters[provider.Google], f.adapters[provider.Microsoft], f.adapters[provider.CalDAV])
	limiter := ratelimit.NewRedisLimiter(store, ratelimit.DefaultLimits()).WithClock(f.clock.Now)
	g := guard.New(limiter, circuit.NewBreaker(store))
	f.svc = NewBlockingService(f.stores.Sources, f.stores.Connections, f.stores.Mappings, staticCreds{}, registry, g, f.audit).
		WithDeferral(f.queue, f.stores.Planner)

	for providerName, cal := range map[string]string{provider.Google: "work", provider.Microsoft: "outlook", provider.CalDAV: "home"} {
		conn := f.stores.Connections.Add(&connEntity.Connection{
			UserID: f.userID, Provider: providerName, Status: connEntity.StatusActive, Enabled: true,
		})
		f.conns[providerName] = conn
		f.sources[providerName] = f.stores.Sources.Add(&connEntity.Source{
			ConnectionID:       conn.ID,
			UserID:             f.userID,
			ExternalCalendarID: cal,
			Direction:          connEntity.DirectionBidirectional,
			Privacy:            connEntity.PrivacyFull,
			Enabled:            true,
		})
	}
	return f
}

func (f *blockingFixture) origin(providerName string) *entity.Mapping {
	return f.stores.Mappings.Add(&entity.Mapping{
		UserID:          f.userID,
		ConnectionID:    f.conns[providerName].ID,
		SourceID:        f.sources[providerName].ID,
		ExternalEventID: "real-1",
	})
}

// event adds a real mapping that remembers its time, as sync leaves it.
func (f *blockingFixture) event(providerName, externalID string) *entity.Mapping {
	m := &entity.Mapping{
		UserID:          f.userID,
		ConnectionID:    f.conns[providerName].ID,
		SourceID:        f.sources[providerName].ID,
		ExternalEventID: externalID,
		SyncStatus:      entity.SyncStatusSynced,
	}
	m.Remember("Planning", busy.Start, busy.End, false, "v1", busy.Start)
	return f.stores.Mappings.Add(m)
}

var busy = Busy{
	Title: constants.PlaceholderTitle,
	Start: time.Date(2026, 10, 20, 14, 0, 0, 0, time.UTC),
	End:   time.Date(2026, 10, 20, 15, 0, 0, 0, time.UTC),
}

func TestFanOutCoversEveryOtherWritableSource(t *testing.T) {
	f := newBlockingFixture(t)
	origin := f.origin(provider.Google)

	if n := f.svc.FanOut(context.Background(), origin, busy); n != 2 {
		t.Fatalf("expected 2 placeholders, got %d", n)
	}
	if n := len(f.adapters[provider.Google].CreatedOn("work")); n != 0 {
		t.Errorf("expected origin calendar untouched, got %d", n)
	}
	for _, ph := range f.stores.Mappings.Placeholders() {
		if ph.BlockedByMappingID == nil || *ph.BlockedByMappingID != origin.ID {
			t.Errorf("expected placeholder linked to origin, got %+v", ph)
		}
		if ph.ItemID != nil {
			t.Errorf("expected placeholder without planner item")
		}
	}
}

func TestFanOutIsIdempotent(t *testing.T) {
	f := newBlockingFixture(t)
	origin := f.origin(provider.Google)

	f.svc.FanOut(context.Background(), origin, busy)
	if n := f.svc.FanOut(context.Background(), origin, busy); n != 0 {
		t.Fatalf("expected no new placeholders, got %d", n)
	}
	if n := len(f.stores.Mappings.Placeholders()); n != 2 {
		t.Fatalf("expected 2 placeholders, got %d", n)
	}
}

func TestFanOutIgnoresPlaceholderOrigin(t *testing.T) {
	f := newBlockingFixture(t)
	origin := f.origin(provider.Google)
	origin.IsPlaceholder = true

	if n := f.svc.FanOut(context.Background(), origin, busy); n != 0 {
		t.Fatalf("expected placeholders never to cascade, got %d", n)
	}
}

func TestFanOutSkipsUnusableAndReadOnlyTargets(t *testing.T) {
	f := newBlockingFixture(t)
	f.stores.Connections.Rows[f.conns[provider.Microsoft].ID].Status = connEntity.StatusTokenExpired
	f.stores.Sources.Rows[f.sources[provider.CalDAV].ID].Direction = connEntity.DirectionReadOnly

	if n := f.svc.FanOut(context.Background(), f.origin(provider.Google), busy); n != 0 {
		t.Fatalf("expected no placeholders, got %d", n)
	}
}

func TestPropagateUpdateMovesPlaceholdersAndRecreatesMissing(t *testing.T) {
	f := newBlockingFixture(t)
	origin := f.origin(provider.Google)
	f.svc.FanOut(context.Background(), origin, busy)
	f.adapters[provider.Microsoft].UpdateErr = provider.ErrNotFound

	moved := busy
	moved.Start, moved.End = busy.Start.Add(time.Hour), busy.End.Add(time.Hour)
	if n := f.svc.PropagateUpdate(context.Background(), origin, moved); n != 2 {
		t.Fatalf("expected 2 placeholders touched, got %d", n)
	}

	if n := len(f.adapters[provider.Microsoft].CreatedOn("outlook")); n != 2 {
		t.Fatalf("expected missing placeholder recreated, got %d creates", n)
	}
	placeholders := f.stores.Mappings.Placeholders()
	if len(placeholders) != 2 {
		t.Fatalf("expected 2 placeholders, got %d", len(placeholders))
	}
	for _, ph := range placeholders {
		if !ph.StartAt.Equal(moved.Start) {
			t.Errorf("expected placeholder on %s moved to %v, got %v", ph.SourceID, moved.Start, ph.StartAt)
		}
	}
}

func TestDeleteForRemovesPlaceholdersEvenWhenProviderFails(t *testing.T) {
	f := newBlockingFixture(t)
	origin := f.origin(provider.Google)
	f.svc.FanOut(context.Background(), origin, busy)
	f.adapters[provider.CalDAV].DeleteErr = &provider.UnavailableError{Provider: provider.CalDAV, StatusCode: 502}

	if n := f.svc.DeleteFor(context.Background(), origin.ID); n != 2 {
		t.Fatalf("expected 2 deleted, got %d", n)
	}
	if n := len(f.stores.Mappings.Placeholders()); n != 0 {
		t.Fatalf("expected no placeholder mappings, got %d", n)
	}
	if n := len(f.adapters[provider.Microsoft].Deleted); n != 1 {
		t.Errorf("expected remote delete on microsoft, got %d", n)
	}
}

func TestDeleteCausedByAndDeleteOn(t *testing.T) {
	f := newBlockingFixture(t)
	fromGoogle := f.origin(provider.Google)
	f.svc.FanOut(context.Background(), fromGoogle, busy)
	fromOutlook := f.stores.Mappings.Add(&entity.Mapping{
		UserID:          f.userID,
		ConnectionID:    f.conns[provider.Microsoft].ID,
		SourceID:        f.sources[provider.Microsoft].ID,
		ExternalEventID: "real-2",
	})
	f.svc.FanOut(context.Background(), fromOutlook, busy)
	if n := len(f.stores.Mappings.Placeholders()); n != 4 {
		t.Fatalf("expected 4 placeholders, got %d", n)
	}

	googleID := f.conns[provider.Google].ID
	if n := f.svc.DeleteCausedBy(context.Background(), googleID); n != 2 {
		t.Fatalf("expected 2 placeholders caused by google, got %d", n)
	}
	if n := f.svc.DeleteOn(context.Background(), googleID); n != 1 {
		t.Fatalf("expected 1 placeholder on google, got %d", n)
	}

	left := f.stores.Mappings.Placeholders()
	if len(left) != 1 || left[0].ConnectionID != f.conns[provider.CalDAV].ID {
		t.Fatalf("expected only the caldav placeholder of outlook's event, got %+v", left)
	}
}

func TestFocusBlockLifecycle(t *testing.T) {
	f := newBlockingFixture(t)
	item := plannerEntity.Item{
		UserID:  f.userID,
		Kind:    plannerEntity.KindFocus,
		Title:   "Deep work",
		StartAt: busy.Start,
		EndAt:   busy.End,
	}
	item.ID = uuid.New()

	f.svc.PropagateFocusCreate(item)
	f.svc.Wait()

	placeholders := f.stores.Mappings.Placeholders()
	if len(placeholders) != 3 {
		t.Fatalf("expected a placeholder on every writable source, got %d", len(placeholders))
	}
	created := f.adapters[provider.Google].CreatedOn("work")
	if len(created) != 1 || created[0].Title != constants.FocusTitlePrefix+"Deep work" {
		t.Fatalf("expected focus title, got %+v", created)
	}
	log, ok := f.audit.Last(auditEntity.ActionBlockingPropagate)
	if !ok || log.Created != 3 {
		t.Fatalf("expected audit row with 3 created, got %+v", log)
	}

	item.Title = "Deeper work"
	f.svc.PropagateFocusUpdate(item)
	f.svc.Wait()
	if n := len(f.adapters[provider.Google].Updates); n != 1 || f.adapters[provider.Google].Updates[0].Title != constants.FocusTitlePrefix+"Deeper work" {
		t.Fatalf("expected renamed placeholder, got %+v", f.adapters[provider.Google].Updates)
	}

	f.svc.PropagateFocusDelete(f.userID, item.ID)
	f.svc.Wait()
	if n := len(f.stores.Mappings.Placeholders()); n != 0 {
		t.Fatalf("expected placeholders removed, got %d", n)
	}
}

func TestFanOutDefersPlaceholdersOverTheRateCap(t *testing.T) {
	f := newBlockingFixture(t)
	f.clock.Freeze()
	ctx := context.Background()

	created := 0
	for i := 0; i < 12; i++ {
		created += f.svc.FanOut(ctx, f.event(provider.Google, fmt.Sprintf("real-%d", i)), busy)
	}
	deferred := f.queue.OfType(constants.JobBlockingPlace)
	if len(deferred) == 0 {
		t.Fatalf("expected the caldav and microsoft caps to be hit")
	}
	if created+len(deferred) != 24 {
		t.Fatalf("expected every (event, target) pair placed or queued, got %d placed and %d queued", created, len(deferred))
	}

	var pending []PlacePayload
	for _, job := range deferred {
		if job.Opts.ProcessIn != constants.RateLimitRetryAfter {
			t.Errorf("expected job delayed by the retry-after, got %s", job.Opts.ProcessIn)
		}
		if job.Opts.Queue != constants.QueueOutbound || job.Opts.Unique == 0 {
			t.Errorf("expected a unique outbound job, got %+v", job.Opts)
		}
		p := job.Payload.(PlacePayload)
		if p.OriginMappingID == nil || p.OriginItemID != nil || p.UserID != f.userID {
			t.Fatalf("expected a mapping origin for the user, got %+v", p)
		}
		pending = append(pending, p)
	}

	// Each pass waits out the window; what is still throttled goes round again.
	for pass := 0; len(pending) > 0 && pass < 30; pass++ {
		f.clock.Advance(constants.RateLimitRetryAfter + time.Millisecond)
		var again []PlacePayload
		for _, p := range pending {
			err := f.svc.Place(ctx, p)
			if provider.IsRateLimited(err) {
				again = append(again, p)
				continue
			}
			if err != nil {
				t.Fatalf("expected placement to succeed, got %v", err)
			}
		}
		pending = again
	}
	if len(pending) != 0 {
		t.Fatalf("expected queue drained, %d still pending", len(pending))
	}
	if n := len(f.stores.Mappings.Placeholders()); n != 24 {
		t.Fatalf("expected 24 placeholders, got %d", n)
	}
	if n := len(f.adapters[provider.CalDAV].CreatedOn("home")); n != 12 {
		t.Errorf("expected 12 caldav placeholders, got %d", n)
	}
	if n := len(f.adapters[provider.Microsoft].CreatedOn("outlook")); n != 12 {
		t.Errorf("expected 12 microsoft placeholders, got %d", n)
	}
}

func TestFanOutDropsPermanentTargetFailures(t *testing.T) {
	f := newBlockingFixture(t)
	f.adapters[provider.CalDAV].CreateErr = provider.ErrUnsupported

	if n := f.svc.FanOut(context.Background(), f.event(provider.Google, "real-1"), busy); n != 1 {
		t.Fatalf("expected 1 placeholder, got %d", n)
	}
	if n := len(f.queue.OfType(constants.JobBlockingPlace)); n != 0 {
		t.Fatalf("expected nothing deferred for a permanent failure, got %d", n)
	}
}

func TestPlaceSkipsWhenNothingIsOwed(t *testing.T) {
	ctx := context.Background()

	t.Run("origin deleted", func(t *testing.T) {
		f := newBlockingFixture(t)
		gone := uuid.New()
		err := f.svc.Place(ctx, PlacePayload{UserID: f.userID, OriginMappingID: &gone, TargetSourceID: f.sources[provider.CalDAV].ID})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if n := len(f.adapters[provider.CalDAV].CreatedOn("home")); n != 0 {
			t.Fatalf("expected no placeholder, got %d", n)
		}
	})

	t.Run("already placed", func(t *testing.T) {
		f := newBlockingFixture(t)
		origin := f.event(provider.Google, "real-1")
		f.svc.FanOut(ctx, origin, busy)
		p := PlacePayload{UserID: f.userID, OriginMappingID: &origin.ID, TargetSourceID: f.sources[provider.CalDAV].ID}
		if err := f.svc.Place(ctx, p); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if n := len(f.adapters[provider.CalDAV].CreatedOn("home")); n != 1 {
			t.Fatalf("expected a single caldav placeholder, got %d", n)
		}
	})

	t.Run("target turned read-only", func(t *testing.T) {
		f := newBlockingFixture(t)
		origin := f.event(provider.Google, "real-1")
		f.stores.Sources.Rows[f.sources[provider.CalDAV].ID].Direction = connEntity.DirectionReadOnly
		p := PlacePayload{UserID: f.userID, OriginMappingID: &origin.ID, TargetSourceID: f.sources[provider.CalDAV].ID}
		if err := f.svc.Place(ctx, p); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if n := len(f.stores.Mappings.Placeholders()); n != 0 {
			t.Fatalf("expected no placeholder, got %d", n)
		}
	})

	t.Run("origin calendar", func(t *testing.T) {
		f := newBlockingFixture(t)
		origin := f.event(provider.Google, "real-1")
		p := PlacePayload{UserID: f.userID, OriginMappingID: &origin.ID, TargetSourceID: f.sources[provider.Google].ID}
		if err := f.svc.Place(ctx, p); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if n := len(f.adapters[provider.Google].CreatedOn("work")); n != 0 {
			t.Fatalf("expected origin calendar untouched, got %d", n)
		}
	})
}

func TestPlaceFocusBlockOrigin(t *testing.T) {
	f := newBlockingFixture(t)
	item := &plannerEntity.Item{
		UserID:  f.userID,
		Kind:    plannerEntity.KindFocus,
		Title:   "Deep work",
		StartAt: busy.Start,
		EndAt:   busy.End,
	}
	item.ID = uuid.New()
	f.stores.Planner.Items[item.ID] = item

	p := PlacePayload{UserID: f.userID, OriginItemID: &item.ID, TargetSourceID: f.sources[provider.Microsoft].ID}
	if err := f.svc.Place(context.Background(), p); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	placeholders := f.stores.Mappings.Placeholders()
	if len(placeholders) != 1 || placeholders[0].BlockedByItemID == nil || *placeholders[0].BlockedByItemID != item.ID {
		t.Fatalf("expected one placeholder linked to the focus block, got %+v", placeholders)
	}
	created := f.adapters[provider.Microsoft].CreatedOn("outlook")
	if len(created) != 1 || created[0].Title != constants.FocusTitlePrefix+"Deep work" {
		t.Fatalf("expected focus title, got %+v", created)
	}
}

func TestForgetItemDropsMappingsAndPlaceholders(t *testing.T) {
	f := newBlockingFixture(t)
	ctx := context.Background()
	itemID := uuid.New()
	origin := f.event(provider.Google, "real-1")
	origin.ItemID = &itemID
	f.svc.FanOut(ctx, origin, busy)
	other := f.event(provider.Microsoft, "real-2")

	if n := f.svc.ForgetItem(ctx, itemID); n != 1 {
		t.Fatalf("expected 1 mapping forgotten, got %d", n)
	}
	if m, _ := f.stores.Mappings.GetByID(ctx, origin.ID); m != nil {
		t.Fatalf("expected origin mapping removed, got %+v", m)
	}
	if n := len(f.stores.Mappings.Placeholders()); n != 0 {
		t.Fatalf("expected placeholders removed, got %d", n)
	}
	if n := len(f.adapters[provider.CalDAV].Deleted) + len(f.adapters[provider.Microsoft].Deleted); n != 2 {
		t.Errorf("expected 2 remote deletes, got %d", n)
	}
	if m, _ := f.stores.Mappings.GetByID(ctx, other.ID); m == nil {
		t.Fatalf("expected unrelated mapping kept")
	}
}
