package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"calendar-sync/core/constants"
	"calendar-sync/core/errors"
	"calendar-sync/internal/testutil"
	auditEntity "calendar-sync/modules/audit/entity"
	blockingService "calendar-sync/modules/blocking/service"
	"calendar-sync/modules/circuit"
	connEntity "calendar-sync/modules/connection/entity"
	plannerService "calendar-sync/modules/planner/service"
	"calendar-sync/modules/provider"
	"calendar-sync/modules/provider/providertest"
	"calendar-sync/modules/ratelimit"
	"calendar-sync/modules/sync/entity"
	"calendar-sync/modules/sync/guard"

	"github.com/google/uuid"
)

type staticCreds struct{}

func (staticCreds) Credentials(ctx context.Context, conn *connEntity.Connection) (provider.Credentials, error) {
	return provider.Credentials{AccessToken: "tok-" + conn.Provider}, nil
}

type syncFixture struct {
	svc      *SyncService
	stores   *testutil.Stores
	queue    *testutil.Queue
	audit    *testutil.Recorder
	planner  *plannerService.PlannerService
	adapters map[string]*providertest.Fake
	clock    *testutil.Clock
	userID   uuid.UUID
}

func newSyncFixture(t *testing.T) *syncFixture {
	t.Helper()
	store, _ := testutil.NewCache(t)
	stores := testutil.NewStores()
	adapters := map[string]*providertest.Fake{
		provider.Google:    providertest.New(provider.Google),
		provider.Microsoft: providertest.New(provider.Microsoft),
		provider.CalDAV:    providertest.New(provider.CalDAV),
	}
	registry := provider.NewRegistry(adapters[provider.Google], adapters[provider.Microsoft], adapters[provider.CalDAV])
	clock := testutil.NewClock(2 * time.Second)
	g := guard.New(ratelimit.NewRedisLimiter(store, ratelimit.DefaultLimits()).WithClock(clock.Now), circuit.NewBreaker(store))
	audit := &testutil.Recorder{}
	q := &testutil.Queue{}
	planner := plannerService.NewPlannerService(stores.Planner)
	blocking := blockingService.NewBlockingService(stores.Sources, stores.Connections, stores.Mappings, staticCreds{}, registry, g, audit).
		WithDeferral(q, stores.Planner)
	planner.WithMappingCleaner(blocking)

	svc := NewSyncService(Deps{
		Connections: stores.Connections,
		Sources:     stores.Sources,
		Mappings:    stores.Mappings,
		Conflicts:   stores.Conflicts,
		Planner:     planner,
		Credentials: staticCreds{},
		Registry:    registry,
		Guard:       g,
		Blocking:    blocking,
		Dispatcher:  NewDispatcher(q),
		Audit:       audit,
	})
	return &syncFixture{
		svc:      svc,
		stores:   stores,
		queue:    q,
		audit:    audit,
		planner:  planner,
		adapters: adapters,
		clock:    clock,
		userID:   uuid.New(),
	}
}

func (f *syncFixture) addSource(providerName, calendarID string) (*connEntity.Connection, *connEntity.Source) {
	conn := f.stores.Connections.Add(&connEntity.Connection{
		UserID:   f.userID,
		Provider: providerName,
		Status:   connEntity.StatusActive,
		Enabled:  true,
	})
	src := f.stores.Sources.Add(&connEntity.Source{
		ConnectionID:       conn.ID,
		UserID:             f.userID,
		ExternalCalendarID: calendarID,
		Name:               calendarID,
		Direction:          connEntity.DirectionBidirectional,
		Privacy:            connEntity.PrivacyFull,
		Enabled:            true,
	})
	return conn, src
}

func inbound(conn *connEntity.Connection, src *connEntity.Source) InboundPayload {
	return InboundPayload{ConnectionID: conn.ID, SourceID: src.ID, Trigger: TriggerManual}
}

var (
	nineAM = time.Date(2026, 10, 20, 9, 0, 0, 0, time.UTC)
	tenAM  = nineAM.Add(time.Hour)
)

func standup(etag string) provider.Event {
	return provider.Event{
		ID:     "evt-1",
		Title:  "Standup",
		Start:  nineAM,
		End:    tenAM,
		Status: provider.StatusConfirmed,
		ETag:   etag,
	}
}

func (f *syncFixture) realMappings() []entity.Mapping {
	var out []entity.Mapping
	for _, m := range f.stores.Mappings.All() {
		if !m.IsBlockingPlaceholder() {
			out = append(out, m)
		}
	}
	return out
}

func TestPerformSyncCreatesItemAndAdvancesCursor(t *testing.T) {
	f := newSyncFixture(t)
	conn, src := f.addSource(provider.Google, "work")
	f.adapters[provider.Google].Pages = []provider.EventPage{{Events: []provider.Event{standup("v1")}, NextCursor: "c1"}}

	res, err := f.svc.PerformSync(context.Background(), inbound(conn, src))
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if res.Created != 1 {
		t.Fatalf("expected 1 created, got %d", res.Created)
	}

	items := f.stores.Planner.ItemsOf(f.userID)
	if len(items) != 1 || items[0].Title != "Standup" {
		t.Fatalf("expected one Standup item, got %+v", items)
	}
	if items[0].SourceID == nil || *items[0].SourceID != src.ID {
		t.Errorf("expected item linked to source %s", src.ID)
	}

	stored, _ := f.stores.Sources.GetByID(context.Background(), src.ID)
	if stored.Cursor != "c1" {
		t.Errorf("expected cursor c1, got %q", stored.Cursor)
	}
	if stored.LastSyncedAt == nil {
		t.Errorf("expected last synced time to be set")
	}
	if log, ok := f.audit.Last(auditEntity.ActionSyncInbound); !ok || log.Created != 1 {
		t.Errorf("expected audit row with 1 created, got %+v", log)
	}
}

func TestPerformSyncIsIdempotent(t *testing.T) {
	f := newSyncFixture(t)
	conn, src := f.addSource(provider.Google, "work")
	f.adapters[provider.Google].Pages = []provider.EventPage{{Events: []provider.Event{standup("v1")}, NextCursor: "c1"}}

	for i := 0; i < 3; i++ {
		if _, err := f.svc.PerformSync(context.Background(), inbound(conn, src)); err != nil {
			t.Fatalf("sync %d: %v", i, err)
		}
	}

	res, err := f.svc.PerformSync(context.Background(), inbound(conn, src))
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if res.Created != 0 || res.Updated != 0 || res.Skipped != 1 {
		t.Fatalf("expected unchanged event to be skipped, got %+v", res)
	}
	if n := len(f.stores.Planner.ItemsOf(f.userID)); n != 1 {
		t.Fatalf("expected 1 planner item, got %d", n)
	}
	if n := len(f.realMappings()); n != 1 {
		t.Fatalf("expected 1 mapping, got %d", n)
	}
}

func TestPerformSyncUpdatesChangedEvent(t *testing.T) {
	f := newSyncFixture(t)
	conn, src := f.addSource(provider.Google, "work")
	moved := standup("v2")
	moved.Title = "Standup (moved)"
	moved.Start, moved.End = nineAM.Add(30*time.Minute), tenAM.Add(30*time.Minute)
	f.adapters[provider.Google].Pages = []provider.EventPage{
		{Events: []provider.Event{standup("v1")}, NextCursor: "c1"},
		{Events: []provider.Event{moved}, NextCursor: "c2"},
	}

	if _, err := f.svc.PerformSync(context.Background(), inbound(conn, src)); err != nil {
		t.Fatalf("first sync: %v", err)
	}
	res, err := f.svc.PerformSync(context.Background(), inbound(conn, src))
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if res.Updated != 1 {
		t.Fatalf("expected 1 updated, got %+v", res)
	}
	items := f.stores.Planner.ItemsOf(f.userID)
	if len(items) != 1 || items[0].Title != "Standup (moved)" || !items[0].StartAt.Equal(moved.Start) {
		t.Fatalf("expected moved item, got %+v", items)
	}
	if q := f.adapters[provider.Google].Queries; q[1].Cursor != "c1" {
		t.Errorf("expected stored cursor c1 on second pass, got %q", q[1].Cursor)
	}
}

func TestPerformSyncFansOutToOtherSources(t *testing.T) {
	f := newSyncFixture(t)
	conn, src := f.addSource(provider.Google, "work")
	f.addSource(provider.Microsoft, "outlook")
	f.addSource(provider.CalDAV, "home")
	f.adapters[provider.Google].Pages = []provider.EventPage{{Events: []provider.Event{standup("v1")}}}

	if _, err := f.svc.PerformSync(context.Background(), inbound(conn, src)); err != nil {
		t.Fatalf("sync: %v", err)
	}

	if n := len(f.adapters[provider.Google].CreatedOn("work")); n != 0 {
		t.Errorf("expected no placeholder on the origin calendar, got %d", n)
	}
	for providerName, cal := range map[string]string{provider.Microsoft: "outlook", provider.CalDAV: "home"} {
		created := f.adapters[providerName].CreatedOn(cal)
		if len(created) != 1 {
			t.Fatalf("%s: expected 1 placeholder, got %d", providerName, len(created))
		}
		if !created[0].Placeholder || created[0].Title != constants.PlaceholderTitle {
			t.Errorf("%s: expected busy placeholder, got %+v", providerName, created[0])
		}
		if !created[0].Start.Equal(nineAM) || !created[0].End.Equal(tenAM) {
			t.Errorf("%s: expected placeholder to cover the event time", providerName)
		}
	}
	if n := len(f.stores.Mappings.Placeholders()); n != 2 {
		t.Fatalf("expected 2 placeholder mappings, got %d", n)
	}
}

func TestPerformSyncFanOutSurvivesFailingTarget(t *testing.T) {
	f := newSyncFixture(t)
	conn, src := f.addSource(provider.Google, "work")
	f.addSource(provider.Microsoft, "outlook")
	f.addSource(provider.CalDAV, "home")
	f.adapters[provider.Microsoft].CreateErr = &provider.UnavailableError{Provider: provider.Microsoft, StatusCode: 500}
	f.adapters[provider.Google].Pages = []provider.EventPage{{Events: []provider.Event{standup("v1")}}}

	res, err := f.svc.PerformSync(context.Background(), inbound(conn, src))
	if err != nil {
		t.Fatalf("expected placeholder failures not to fail the sync, got %v", err)
	}
	if res.Created != 1 {
		t.Fatalf("expected the event to be imported, got %+v", res)
	}
	if n := len(f.adapters[provider.CalDAV].CreatedOn("home")); n != 1 {
		t.Fatalf("expected healthy target to get a placeholder, got %d", n)
	}
}

func TestPerformSyncPlacesEveryPlaceholderPastTheRateCap(t *testing.T) {
	f := newSyncFixture(t)
	f.clock.Freeze()
	conn, src := f.addSource(provider.Google, "work")
	f.addSource(provider.Microsoft, "outlook")
	f.addSource(provider.CalDAV, "home")
	var events []provider.Event
	for i := 0; i < 12; i++ {
		ev := standup("v1")
		ev.ID = fmt.Sprintf("evt-%d", i)
		events = append(events, ev)
	}
	f.adapters[provider.Google].Pages = []provider.EventPage{{Events: events}}

	res, err := f.svc.PerformSync(context.Background(), inbound(conn, src))
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if res.Created != 12 {
		t.Fatalf("expected 12 imported, got %+v", res)
	}
	placed := len(f.stores.Mappings.Placeholders())
	deferred := len(f.queue.OfType(constants.JobBlockingPlace))
	if placed+deferred != 24 {
		t.Fatalf("expected every placeholder placed or queued, got %d placed and %d queued", placed, deferred)
	}

	// Later pulls fill in what the rate windows held back.
	for pass := 0; pass < 20 && len(f.stores.Mappings.Placeholders()) < 24; pass++ {
		f.clock.Advance(constants.RateLimitRetryAfter + time.Millisecond)
		if _, err := f.svc.PerformSync(context.Background(), inbound(conn, src)); err != nil {
			t.Fatalf("pass %d: %v", pass, err)
		}
	}
	if n := len(f.stores.Mappings.Placeholders()); n != 24 {
		t.Fatalf("expected 24 placeholders, got %d", n)
	}
	if n := len(f.adapters[provider.CalDAV].CreatedOn("home")); n != 12 {
		t.Errorf("expected 12 caldav placeholders without duplicates, got %d", n)
	}
	if n := len(f.adapters[provider.Microsoft].CreatedOn("outlook")); n != 12 {
		t.Errorf("expected 12 microsoft placeholders without duplicates, got %d", n)
	}
}

func TestPerformSyncAfterLocalItemDelete(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()
	conn, src := f.addSource(provider.Google, "work")
	f.addSource(provider.Microsoft, "outlook")
	f.addSource(provider.CalDAV, "home")
	f.adapters[provider.Google].Pages = []provider.EventPage{{Events: []provider.Event{standup("v1")}}}

	if _, err := f.svc.PerformSync(ctx, inbound(conn, src)); err != nil {
		t.Fatalf("first sync: %v", err)
	}
	linked := f.realMappings()
	if len(linked) != 1 || linked[0].ItemID == nil {
		t.Fatalf("expected one linked mapping, got %+v", linked)
	}

	if err := f.planner.DeleteItem(ctx, *linked[0].ItemID); err != nil {
		t.Fatalf("delete item: %v", err)
	}
	if n := len(f.stores.Mappings.All()); n != 0 {
		t.Fatalf("expected mapping and placeholders gone with the item, got %d", n)
	}
	if n := len(f.adapters[provider.Microsoft].Deleted) + len(f.adapters[provider.CalDAV].Deleted); n != 2 {
		t.Fatalf("expected both placeholders removed remotely, got %d", n)
	}

	res, err := f.svc.PerformSync(ctx, inbound(conn, src))
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if res.Created != 1 {
		t.Fatalf("expected the event imported again, got %+v", res)
	}
	if n := len(f.stores.Planner.ItemsOf(f.userID)); n != 1 {
		t.Fatalf("expected 1 planner item, got %d", n)
	}
	linked = f.realMappings()
	if len(linked) != 1 || linked[0].ItemID == nil {
		t.Fatalf("expected one linked mapping, got %+v", linked)
	}
	placeholders := f.stores.Mappings.Placeholders()
	if len(placeholders) != 2 {
		t.Fatalf("expected 2 placeholders, got %d", len(placeholders))
	}
	for _, ph := range placeholders {
		if ph.BlockedByMappingID == nil || *ph.BlockedByMappingID != linked[0].ID {
			t.Errorf("expected placeholder owned by the new mapping, got %+v", ph)
		}
	}

	res, err = f.svc.PerformSync(ctx, inbound(conn, src))
	if err != nil {
		t.Fatalf("third sync: %v", err)
	}
	if res.Skipped != 1 || res.Created != 0 || res.Updated != 0 {
		t.Fatalf("expected unchanged event skipped, got %+v", res)
	}
}

func TestPerformSyncNeverImportsPlaceholders(t *testing.T) {
	f := newSyncFixture(t)
	conn, src := f.addSource(provider.Microsoft, "outlook")
	origin := uuid.New()
	f.stores.Mappings.Add(&entity.Mapping{
		UserID:             f.userID,
		ConnectionID:       conn.ID,
		SourceID:           src.ID,
		ExternalEventID:    "ph-1",
		IsPlaceholder:      true,
		BlockedByMappingID: &origin,
	})
	f.adapters[provider.Microsoft].Pages = []provider.EventPage{{Events: []provider.Event{
		{ID: "ph-1", Title: constants.PlaceholderTitle, Start: nineAM, End: tenAM, Status: provider.StatusConfirmed},
		{ID: "ph-2", Title: constants.PlaceholderTitle, Start: nineAM, End: tenAM, Status: provider.StatusConfirmed, Placeholder: true},
	}}}

	res, err := f.svc.PerformSync(context.Background(), inbound(conn, src))
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if res.Skipped != 2 || res.Created != 0 {
		t.Fatalf("expected both placeholders skipped, got %+v", res)
	}
	if n := len(f.stores.Planner.ItemsOf(f.userID)); n != 0 {
		t.Fatalf("expected no planner items, got %d", n)
	}
}

func TestPerformSyncCancelledEventRemovesItemAndPlaceholders(t *testing.T) {
	f := newSyncFixture(t)
	conn, src := f.addSource(provider.Google, "work")
	f.addSource(provider.Microsoft, "outlook")
	cancelled := standup("v2")
	cancelled.Status = provider.StatusCancelled
	f.adapters[provider.Google].Pages = []provider.EventPage{
		{Events: []provider.Event{standup("v1")}},
		{Events: []provider.Event{cancelled}},
	}

	if _, err := f.svc.PerformSync(context.Background(), inbound(conn, src)); err != nil {
		t.Fatalf("first sync: %v", err)
	}
	res, err := f.svc.PerformSync(context.Background(), inbound(conn, src))
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if res.Deleted != 1 {
		t.Fatalf("expected 1 deleted, got %+v", res)
	}
	if n := len(f.stores.Planner.ItemsOf(f.userID)); n != 0 {
		t.Errorf("expected planner item removed, got %d", n)
	}
	if n := len(f.stores.Mappings.All()); n != 0 {
		t.Errorf("expected all mappings removed, got %d", n)
	}
	if n := len(f.adapters[provider.Microsoft].Deleted); n != 1 {
		t.Errorf("expected placeholder deleted on the other calendar, got %d", n)
	}
}

func TestPerformSyncCancelledUnknownEventIsSkipped(t *testing.T) {
	f := newSyncFixture(t)
	conn, src := f.addSource(provider.Google, "work")
	ev := standup("v1")
	ev.Status = provider.StatusCancelled
	f.adapters[provider.Google].Pages = []provider.EventPage{{Events: []provider.Event{ev}}}

	res, err := f.svc.PerformSync(context.Background(), inbound(conn, src))
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if res.Skipped != 1 || res.Deleted != 0 {
		t.Fatalf("expected skip, got %+v", res)
	}
}

func TestPerformSyncHasMoreQueuesContinuation(t *testing.T) {
	f := newSyncFixture(t)
	conn, src := f.addSource(provider.Google, "work")
	f.stores.Sources.Rows[src.ID].Cursor = "old"
	f.adapters[provider.Google].Pages = []provider.EventPage{{Events: []provider.Event{standup("v1")}, NextCursor: "page-2", HasMore: true}}

	res, err := f.svc.PerformSync(context.Background(), inbound(conn, src))
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if !res.HasMore {
		t.Fatalf("expected HasMore")
	}

	jobs := f.queue.OfType(constants.JobSyncInbound)
	if len(jobs) != 1 {
		t.Fatalf("expected 1 continuation job, got %d", len(jobs))
	}
	next := jobs[0].Payload.(InboundPayload)
	if next.Cursor != "page-2" || next.Trigger != TriggerContinuation || next.SourceID != src.ID {
		t.Fatalf("unexpected continuation %+v", next)
	}

	stored, _ := f.stores.Sources.GetByID(context.Background(), src.ID)
	if stored.Cursor != "old" {
		t.Fatalf("expected stored cursor untouched mid-pass, got %q", stored.Cursor)
	}
}

func TestPerformSyncCursorSelection(t *testing.T) {
	tests := []struct {
		name     string
		payload  func(InboundPayload) InboundPayload
		expected string
	}{
		{"stored cursor", func(p InboundPayload) InboundPayload { return p }, "stored"},
		{"continuation cursor wins", func(p InboundPayload) InboundPayload { p.Cursor = "page-3"; return p }, "page-3"},
		{"full resync ignores stored cursor", func(p InboundPayload) InboundPayload { p.FullResync = true; return p }, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newSyncFixture(t)
			conn, src := f.addSource(provider.Google, "work")
			f.stores.Sources.Rows[src.ID].Cursor = "stored"

			if _, err := f.svc.PerformSync(context.Background(), tt.payload(inbound(conn, src))); err != nil {
				t.Fatalf("sync: %v", err)
			}
			q := f.adapters[provider.Google].Queries[0]
			if q.Cursor != tt.expected {
				t.Fatalf("expected cursor %q, got %q", tt.expected, q.Cursor)
			}
			if q.TimeMin.IsZero() || !q.TimeMax.After(q.TimeMin) {
				t.Errorf("expected a sync window, got %v..%v", q.TimeMin, q.TimeMax)
			}
		})
	}
}

func TestPerformSyncSkipsUnusableConnection(t *testing.T) {
	f := newSyncFixture(t)
	conn, src := f.addSource(provider.Google, "work")
	f.stores.Connections.Rows[conn.ID].Status = connEntity.StatusTokenExpired

	res, err := f.svc.PerformSync(context.Background(), inbound(conn, src))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if res.Created != 0 {
		t.Fatalf("expected nothing synced, got %+v", res)
	}
	if f.adapters[provider.Google].GetEventCalls != 0 {
		t.Fatalf("expected no provider call")
	}
	log, ok := f.audit.Last(auditEntity.ActionSyncInbound)
	if !ok || log.Status != auditEntity.StatusSkipped {
		t.Fatalf("expected skipped audit row, got %+v", log)
	}
}

func TestPerformSyncStaleJobIsNoop(t *testing.T) {
	f := newSyncFixture(t)
	res, err := f.svc.PerformSync(context.Background(), InboundPayload{ConnectionID: uuid.New(), SourceID: uuid.New()})
	if err != nil || res != nil {
		t.Fatalf("expected (nil, nil), got (%v, %v)", res, err)
	}
}

func TestPerformSyncReportsProviderError(t *testing.T) {
	f := newSyncFixture(t)
	conn, src := f.addSource(provider.Google, "work")
	f.adapters[provider.Google].GetErr = &provider.RateLimitedError{Provider: provider.Google, RetryAfter: time.Second}

	_, err := f.svc.PerformSync(context.Background(), inbound(conn, src))
	if !provider.IsRateLimited(err) {
		t.Fatalf("expected rate limited error, got %v", err)
	}
	log, _ := f.audit.Last(auditEntity.ActionSyncInbound)
	if log.Status != auditEntity.StatusFailure {
		t.Fatalf("expected failure audit row, got %s", log.Status)
	}
}

func TestRejectedCredentialsMarkConnectionExpired(t *testing.T) {
	revoked := fmt.Errorf("%w: invalid_grant", provider.ErrAuthExpired)

	t.Run("inbound", func(t *testing.T) {
		f := newSyncFixture(t)
		conn, src := f.addSource(provider.Google, "work")
		f.adapters[provider.Google].GetErr = revoked

		if _, err := f.svc.PerformSync(context.Background(), inbound(conn, src)); !errors.Is(err, provider.ErrAuthExpired) {
			t.Fatalf("expected auth expired, got %v", err)
		}
		stored := f.stores.Connections.Rows[conn.ID]
		if stored.Status != connEntity.StatusTokenExpired || stored.LastError != "authorization expired" {
			t.Fatalf("expected token-expired connection, got %s (%q)", stored.Status, stored.LastError)
		}

		res, err := f.svc.PerformSync(context.Background(), inbound(conn, src))
		if err != nil || res.Created != 0 {
			t.Fatalf("expected later jobs skipped quietly, got %+v (%v)", res, err)
		}
		if n := f.adapters[provider.Google].GetEventCalls; n != 1 {
			t.Fatalf("expected no provider call once expired, got %d", n)
		}
	})

	t.Run("outbound", func(t *testing.T) {
		f := newSyncFixture(t)
		conn, src := f.addSource(provider.Microsoft, "outlook")
		f.adapters[provider.Microsoft].CreateErr = revoked

		err := f.svc.PerformOutboundSync(context.Background(), OutboundPayload{
			ConnectionID: conn.ID, SourceID: src.ID, ItemID: f.plannerItem(t), Action: ActionCreate,
		})
		if !errors.Is(err, provider.ErrAuthExpired) {
			t.Fatalf("expected auth expired, got %v", err)
		}
		if got := f.stores.Connections.Rows[conn.ID].Status; got != connEntity.StatusTokenExpired {
			t.Fatalf("expected token-expired connection, got %s", got)
		}
	})

	t.Run("other failures leave status", func(t *testing.T) {
		f := newSyncFixture(t)
		conn, src := f.addSource(provider.Google, "work")
		f.adapters[provider.Google].GetErr = &provider.UnavailableError{Provider: provider.Google, StatusCode: 502}

		if _, err := f.svc.PerformSync(context.Background(), inbound(conn, src)); err == nil {
			t.Fatalf("expected error")
		}
		if got := f.stores.Connections.Rows[conn.ID].Status; got != connEntity.StatusActive {
			t.Fatalf("expected active connection, got %s", got)
		}
	})
}

func TestPerformSyncAppliesPrivacy(t *testing.T) {
	f := newSyncFixture(t)
	conn, src := f.addSource(provider.Google, "work")
	f.stores.Sources.Rows[src.ID].Privacy = connEntity.PrivacyTitleOnly
	ev := standup("v1")
	ev.Description = "agenda"
	ev.Location = "Room 4"
	f.adapters[provider.Google].Pages = []provider.EventPage{{Events: []provider.Event{ev}}}

	if _, err := f.svc.PerformSync(context.Background(), inbound(conn, src)); err != nil {
		t.Fatalf("sync: %v", err)
	}
	items := f.stores.Planner.ItemsOf(f.userID)
	if items[0].Title != "Standup" || items[0].Description != "" || items[0].Location != "" {
		t.Fatalf("expected title only, got %+v", items[0])
	}
}

func TestDisplayTitle(t *testing.T) {
	tests := []struct {
		privacy  connEntity.Privacy
		title    string
		expected string
	}{
		{connEntity.PrivacyFull, "Lunch", "Lunch"},
		{connEntity.PrivacyTitleOnly, "Lunch", "Lunch"},
		{connEntity.PrivacyBusyOnly, "Lunch", constants.PlaceholderTitle},
		{connEntity.PrivacyFull, "", constants.PlaceholderTitle},
	}
	for _, tt := range tests {
		if got := DisplayTitle(tt.privacy, tt.title); got != tt.expected {
			t.Errorf("DisplayTitle(%s, %q): expected %q, got %q", tt.privacy, tt.title, tt.expected, got)
		}
	}
}

func (f *syncFixture) plannerItem(t *testing.T) uuid.UUID {
	t.Helper()
	item, err := f.planner.CreateItem(context.Background(), plannerService.ItemInput{
		UserID:  f.userID,
		Title:   "Write report",
		StartAt: nineAM,
		EndAt:   tenAM,
	})
	if err != nil {
		t.Fatalf("create item: %v", err)
	}
	return item.ID
}

func TestPerformOutboundSyncCreate(t *testing.T) {
	f := newSyncFixture(t)
	conn, src := f.addSource(provider.Google, "work")
	itemID := f.plannerItem(t)

	err := f.svc.PerformOutboundSync(context.Background(), OutboundPayload{
		ConnectionID: conn.ID, SourceID: src.ID, ItemID: itemID, Action: ActionCreate,
	})
	if err != nil {
		t.Fatalf("outbound: %v", err)
	}
	created := f.adapters[provider.Google].CreatedOn("work")
	if len(created) != 1 || created[0].Title != "Write report" {
		t.Fatalf("expected event written, got %+v", created)
	}
	m, _ := f.stores.Mappings.GetByItemAndSource(context.Background(), itemID, src.ID)
	if m == nil || m.ExternalEventID != created[0].ID || m.LastDirection != entity.DirectionOutbound {
		t.Fatalf("expected outbound mapping, got %+v", m)
	}
}

func (f *syncFixture) syncedMapping(conn *connEntity.Connection, src *connEntity.Source, itemID uuid.UUID) *entity.Mapping {
	m := &entity.Mapping{
		UserID:          f.userID,
		ConnectionID:    conn.ID,
		SourceID:        src.ID,
		ExternalEventID: "remote-1",
		ItemID:          &itemID,
	}
	m.Remember("Write report", nineAM, tenAM, false, "etag-0", time.Time{})
	return f.stores.Mappings.Add(m)
}

func TestPerformOutboundSyncUpdateSendsIfMatch(t *testing.T) {
	f := newSyncFixture(t)
	conn, src := f.addSource(provider.Google, "work")
	itemID := f.plannerItem(t)
	m := f.syncedMapping(conn, src, itemID)

	err := f.svc.PerformOutboundSync(context.Background(), OutboundPayload{
		ConnectionID: conn.ID, SourceID: src.ID, ItemID: itemID, Action: ActionUpdate,
	})
	if err != nil {
		t.Fatalf("outbound: %v", err)
	}
	updates := f.adapters[provider.Google].Updates
	if len(updates) != 1 || updates[0].IfMatch != "etag-0" {
		t.Fatalf("expected conditional update with etag-0, got %+v", updates)
	}
	got, _ := f.stores.Mappings.GetByID(context.Background(), m.ID)
	if got.ETag == "etag-0" {
		t.Errorf("expected mapping etag refreshed")
	}
}

func TestPerformOutboundSyncConflictIsRecordedNotRetried(t *testing.T) {
	f := newSyncFixture(t)
	conn, src := f.addSource(provider.Google, "work")
	itemID := f.plannerItem(t)
	m := f.syncedMapping(conn, src, itemID)
	f.adapters[provider.Google].UpdateErr = provider.ErrPreconditionFailed

	err := f.svc.PerformOutboundSync(context.Background(), OutboundPayload{
		ConnectionID: conn.ID, SourceID: src.ID, ItemID: itemID, Action: ActionUpdate,
	})
	if err != nil {
		t.Fatalf("expected conflict to end the job, got %v", err)
	}
	if f.stores.Conflicts.Len() != 1 {
		t.Fatalf("expected 1 conflict, got %d", f.stores.Conflicts.Len())
	}
	c := f.stores.Conflicts.Rows[0]
	if c.MappingID != m.ID || c.RemoteETag != "etag-0" || !c.ExpiresAt.After(time.Now()) {
		t.Errorf("unexpected conflict %+v", c)
	}
	got, _ := f.stores.Mappings.GetByID(context.Background(), m.ID)
	if got.SyncStatus != entity.SyncStatusError {
		t.Errorf("expected mapping in error, got %s", got.SyncStatus)
	}
}

func TestPerformOutboundSyncDelete(t *testing.T) {
	f := newSyncFixture(t)
	conn, src := f.addSource(provider.Google, "work")
	itemID := uuid.New()
	m := f.syncedMapping(conn, src, itemID)

	err := f.svc.PerformOutboundSync(context.Background(), OutboundPayload{
		ConnectionID: conn.ID, SourceID: src.ID, ItemID: itemID, MappingID: &m.ID, Action: ActionDelete,
	})
	if err != nil {
		t.Fatalf("outbound: %v", err)
	}
	if d := f.adapters[provider.Google].Deleted; len(d) != 1 || d[0] != "remote-1" {
		t.Fatalf("expected remote-1 deleted, got %v", d)
	}
	if got, _ := f.stores.Mappings.GetByID(context.Background(), m.ID); got != nil {
		t.Fatalf("expected mapping removed")
	}
}

func TestPerformOutboundSyncSkipsReadOnlySource(t *testing.T) {
	f := newSyncFixture(t)
	conn, src := f.addSource(provider.Google, "holidays")
	f.stores.Sources.Rows[src.ID].Direction = connEntity.DirectionReadOnly
	itemID := f.plannerItem(t)

	err := f.svc.PerformOutboundSync(context.Background(), OutboundPayload{
		ConnectionID: conn.ID, SourceID: src.ID, ItemID: itemID, Action: ActionCreate,
	})
	if err != nil {
		t.Fatalf("expected skip, got %v", err)
	}
	if f.adapters[provider.Google].CreateCalls != 0 {
		t.Fatalf("expected no write to a read-only source")
	}
}

func TestRequestOutbound(t *testing.T) {
	f := newSyncFixture(t)
	_, src := f.addSource(provider.Google, "work")
	_, readOnly := f.addSource(provider.Google, "holidays")
	f.stores.Sources.Rows[readOnly.ID].Direction = connEntity.DirectionReadOnly
	itemID := uuid.New()

	t.Run("queues create", func(t *testing.T) {
		if err := f.svc.RequestOutbound(context.Background(), f.userID, src.ID, itemID, ActionCreate); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		jobs := f.queue.OfType(constants.JobSyncOutbound)
		if len(jobs) != 1 || jobs[0].Opts.Queue != constants.QueueOutbound {
			t.Fatalf("expected 1 outbound job, got %+v", jobs)
		}
	})
	t.Run("rejects other users", func(t *testing.T) {
		err := f.svc.RequestOutbound(context.Background(), uuid.New(), src.ID, itemID, ActionCreate)
		if !errors.HasCode(err, errors.ErrNotFound) {
			t.Fatalf("expected not found, got %v", err)
		}
	})
	t.Run("rejects read-only source", func(t *testing.T) {
		err := f.svc.RequestOutbound(context.Background(), f.userID, readOnly.ID, itemID, ActionCreate)
		if !errors.HasCode(err, errors.ErrForbidden) {
			t.Fatalf("expected forbidden, got %v", err)
		}
	})
	t.Run("delete needs a mapping", func(t *testing.T) {
		err := f.svc.RequestOutbound(context.Background(), f.userID, src.ID, itemID, ActionDelete)
		if !errors.HasCode(err, errors.ErrNotFound) {
			t.Fatalf("expected not found, got %v", err)
		}
	})
	t.Run("rejects unknown action", func(t *testing.T) {
		err := f.svc.RequestOutbound(context.Background(), f.userID, src.ID, itemID, "move")
		if !errors.HasCode(err, errors.ErrInvalidInput) {
			t.Fatalf("expected invalid input, got %v", err)
		}
	})
}
