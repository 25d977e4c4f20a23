package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"calendar-sync/core/constants"
	"calendar-sync/core/errors"
	"calendar-sync/core/logger"
	auditEntity "calendar-sync/modules/audit/entity"
	auditService "calendar-sync/modules/audit/service"
	blockingService "calendar-sync/modules/blocking/service"
	connEntity "calendar-sync/modules/connection/entity"
	plannerEntity "calendar-sync/modules/planner/entity"
	plannerService "calendar-sync/modules/planner/service"
	"calendar-sync/modules/provider"
	"calendar-sync/modules/sync/entity"
	"calendar-sync/modules/sync/guard"
	"calendar-sync/modules/sync/repository"

	"github.com/google/uuid"
)

type ConnectionStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*connEntity.Connection, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status connEntity.ConnectionStatus, lastError string) error
}

type SourceStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*connEntity.Source, error)
	UpdateCursor(ctx context.Context, id uuid.UUID, cursor string, syncedAt time.Time) error
}

type CredentialSource interface {
	Credentials(ctx context.Context, conn *connEntity.Connection) (provider.Credentials, error)
}

// Result summarizes one sync pass.
type Result struct {
	Created int
	Updated int
	Deleted int
	Skipped int
	HasMore bool
}

type SyncServiceInterface interface {
	PerformSync(ctx context.Context, p InboundPayload) (*Result, error)
	PerformOutboundSync(ctx context.Context, p OutboundPayload) error
	RequestOutbound(ctx context.Context, userID, sourceID, itemID uuid.UUID, action OutboundAction) error
}

type SyncService struct {
	conns      ConnectionStore
	sources    SourceStore
	mappings   repository.MappingRepository
	conflicts  repository.ConflictRepository
	planner    plannerService.PlannerServiceInterface
	creds      CredentialSource
	registry   *provider.Registry
	guard      *guard.Guard
	blocking   blockingService.BlockingServiceInterface
	dispatcher DispatcherInterface
	audit      auditService.Recorder
	now        func() time.Time
}

type Deps struct {
	Connections ConnectionStore
	Sources     SourceStore
	Mappings    repository.MappingRepository
	Conflicts   repository.ConflictRepository
	Planner     plannerService.PlannerServiceInterface
	Credentials CredentialSource
	Registry    *provider.Registry
	Guard       *guard.Guard
	Blocking    blockingService.BlockingServiceInterface
	Dispatcher  DispatcherInterface
	Audit       auditService.Recorder
}

func NewSyncService(d Deps) *SyncService {
	return &SyncService{
		conns:      d.Connections,
		sources:    d.Sources,
		mappings:   d.Mappings,
		conflicts:  d.Conflicts,
		planner:    d.Planner,
		creds:      d.Credentials,
		registry:   d.Registry,
		guard:      d.Guard,
		blocking:   d.Blocking,
		dispatcher: d.Dispatcher,
		audit:      d.Audit,
		now:        time.Now,
	}
}

func (s *SyncService) WithClock(now func() time.Time) *SyncService {
	s.now = now
	return s
}

// target is a resolved connection and source pair.
type target struct {
	conn    *connEntity.Connection
	source  *connEntity.Source
	adapter provider.Adapter
}

// load returns (nil, nil) when either row is gone; a stale job is already
// consistent.
func (s *SyncService) load(ctx context.Context, connectionID, sourceID uuid.UUID) (*target, error) {
	conn, err := s.conns.GetByID(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	src, err := s.sources.GetByID(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	if conn == nil || src == nil || src.ConnectionID != conn.ID {
		logger.Info("SyncService:Load:Stale", "connection_id", connectionID, "source_id", sourceID)
		return nil, nil
	}
	adapter, err := s.registry.Get(conn.Provider)
	if err != nil {
		return nil, errors.NewAppError(errors.ErrUnsupported, "unknown provider", err)
	}
	return &target{conn: conn, source: src, adapter: adapter}, nil
}

func (s *SyncService) record(ctx context.Context, t *target, action auditEntity.Action, res *Result, start time.Time, err error) {
	log := auditEntity.AuditLog{
		UserID:       auditEntity.Ref(t.conn.UserID),
		ConnectionID: auditEntity.Ref(t.conn.ID),
		SourceID:     auditEntity.Ref(t.source.ID),
		Provider:     t.conn.Provider,
		Action:       action,
		Status:       auditEntity.StatusSuccess,
		DurationMs:   s.now().Sub(start).Milliseconds(),
	}
	if res != nil {
		log.Created, log.Updated, log.Deleted, log.Skipped = res.Created, res.Updated, res.Deleted, res.Skipped
	}
	if err != nil {
		log.Status = auditEntity.StatusFailure
		log.Message = err.Error()
	}
	s.audit.Record(ctx, log)
}

func (s *SyncService) skip(ctx context.Context, t *target, action auditEntity.Action, reason string) {
	s.audit.Record(ctx, auditEntity.AuditLog{
		UserID:       auditEntity.Ref(t.conn.UserID),
		ConnectionID: auditEntity.Ref(t.conn.ID),
		SourceID:     auditEntity.Ref(t.source.ID),
		Provider:     t.conn.Provider,
		Action:       action,
		Status:       auditEntity.StatusSkipped,
		Message:      reason,
	})
}

// PerformSync pulls one page of changes for a source into the planner.
// While the provider reports more pages a continuation job is queued and the
// stored cursor is left alone; it only advances when a pass completes.
func (s *SyncService) PerformSync(ctx context.Context, p InboundPayload) (*Result, error) {
	start := s.now()
	t, err := s.load(ctx, p.ConnectionID, p.SourceID)
	if err != nil || t == nil {
		return nil, err
	}
	if !t.conn.Usable() {
		s.skip(ctx, t, auditEntity.ActionSyncInbound, "connection is "+string(t.conn.Status))
		return &Result{}, nil
	}
	if !t.source.Readable() {
		s.skip(ctx, t, auditEntity.ActionSyncInbound, "source is not readable")
		return &Result{}, nil
	}

	res, err := s.pull(ctx, t, p)
	s.record(ctx, t, auditEntity.ActionSyncInbound, res, start, err)
	s.expireOn(ctx, t, err)
	if err != nil {
		logger.Error("SyncService:PerformSync:Error", "connection_id", t.conn.ID, "source_id", t.source.ID,
			"provider", t.conn.Provider, "error", err)
		return res, err
	}
	logger.Info("SyncService:PerformSync:Success", "source_id", t.source.ID, "provider", t.conn.Provider,
		"created", res.Created, "updated", res.Updated, "deleted", res.Deleted, "skipped", res.Skipped, "has_more", res.HasMore)
	return res, nil
}

// expireOn parks the connection in token-expired when the provider rejected
// its credentials, so sync stops until the user reauthorizes.
func (s *SyncService) expireOn(ctx context.Context, t *target, err error) {
	if !errors.Is(err, provider.ErrAuthExpired) {
		return
	}
	logger.Warn("SyncService:AuthExpired", "connection_id", t.conn.ID, "provider", t.conn.Provider)
	if uerr := s.conns.UpdateStatus(ctx, t.conn.ID, connEntity.StatusTokenExpired, "authorization expired"); uerr != nil {
		logger.Error("SyncService:AuthExpired:UpdateStatus:Error", "connection_id", t.conn.ID, "error", uerr)
	}
}

func (s *SyncService) pull(ctx context.Context, t *target, p InboundPayload) (*Result, error) {
	providerName := t.conn.Provider
	if err := s.guard.Check(ctx, providerName, t.conn.UserID); err != nil {
		return nil, err
	}
	creds, err := s.creds.Credentials(ctx, t.conn)
	if err != nil {
		return nil, err
	}
	settings, err := s.planner.GetSettings(ctx, t.conn.UserID)
	if err != nil {
		return nil, err
	}
	timeMin, timeMax := settings.Window(s.now())

	q := provider.EventQuery{TimeMin: timeMin, TimeMax: timeMax}
	switch {
	case p.Cursor != "":
		q.Cursor = p.Cursor
	case !p.FullResync:
		q.Cursor = t.source.Cursor
	}

	var page *provider.EventPage
	err = s.guard.Call(ctx, providerName, t.conn.UserID, func() error {
		var gerr error
		page, gerr = t.adapter.GetEvents(ctx, creds, t.source.ExternalCalendarID, q)
		return gerr
	})
	if err != nil {
		return nil, err
	}

	res := &Result{HasMore: page.HasMore}
	for _, ev := range page.Events {
		if err := s.apply(ctx, t, ev, res); err != nil {
			return res, fmt.Errorf("apply event %s: %w", ev.ID, err)
		}
	}

	if page.HasMore {
		if err := s.dispatcher.EnqueueInbound(ctx, providerName, continuation(p, page.NextCursor)); err != nil {
			return res, err
		}
		return res, nil
	}
	if err := s.sources.UpdateCursor(ctx, t.source.ID, page.NextCursor, s.now().UTC()); err != nil {
		return res, err
	}
	return res, nil
}

// DisplayTitle applies a source's privacy mode to an event title.
func DisplayTitle(privacy connEntity.Privacy, title string) string {
	if privacy == connEntity.PrivacyBusyOnly || title == "" {
		return constants.PlaceholderTitle
	}
	return title
}

func itemInput(src *connEntity.Source, ev provider.Event) plannerService.ItemInput {
	in := plannerService.ItemInput{
		UserID:   src.UserID,
		Kind:     plannerEntity.KindEvent,
		Title:    DisplayTitle(src.Privacy, ev.Title),
		StartAt:  ev.Start,
		EndAt:    ev.End,
		AllDay:   ev.AllDay,
		SourceID: &src.ID,
	}
	if src.Privacy == connEntity.PrivacyFull {
		in.Description = ev.Description
		in.Location = ev.Location
	}
	return in
}

func busyFor(ev provider.Event) blockingService.Busy {
	return blockingService.Busy{Title: constants.PlaceholderTitle, Start: ev.Start, End: ev.End, AllDay: ev.AllDay}
}

func unchanged(m *entity.Mapping, ev provider.Event, title string) bool {
	if m.ETag == "" || m.ETag != ev.ETag || m.Title != title {
		return false
	}
	return m.StartAt != nil && m.EndAt != nil && m.StartAt.Equal(ev.Start) && m.EndAt.Equal(ev.End) &&
		m.SyncStatus == entity.SyncStatusSynced
}

// apply upserts one event keyed by (source, external id).
func (s *SyncService) apply(ctx context.Context, t *target, ev provider.Event, res *Result) error {
	m, err := s.mappings.GetBySourceAndExternal(ctx, t.source.ID, ev.ID)
	if err != nil {
		return err
	}
	if m != nil && m.IsBlockingPlaceholder() {
		res.Skipped++
		return nil
	}
	if m == nil && ev.Placeholder {
		res.Skipped++
		return nil
	}

	if ev.Cancelled() {
		if m == nil {
			res.Skipped++
			return nil
		}
		return s.cancel(ctx, m, res)
	}

	in := itemInput(t.source, ev)
	if m == nil {
		return s.create(ctx, t, ev, in, res)
	}
	if unchanged(m, ev, in.Title) {
		res.Skipped++
		// Fill in placeholders an earlier pass could not place.
		s.blocking.FanOut(ctx, m, busyFor(ev))
		return nil
	}
	return s.update(ctx, m, ev, in, res)
}

func (s *SyncService) create(ctx context.Context, t *target, ev provider.Event, in plannerService.ItemInput, res *Result) error {
	item, err := s.planner.CreateItem(ctx, in)
	if err != nil {
		return err
	}
	m := &entity.Mapping{
		UserID:          t.conn.UserID,
		ConnectionID:    t.conn.ID,
		SourceID:        t.source.ID,
		ExternalEventID: ev.ID,
		ItemID:          &item.ID,
		SyncStatus:      entity.SyncStatusSynced,
		LastDirection:   entity.DirectionInbound,
	}
	m.Remember(in.Title, ev.Start, ev.End, ev.AllDay, ev.ETag, ev.UpdatedAt)
	if err := s.mappings.Create(ctx, m); err != nil {
		if derr := s.planner.DeleteItem(ctx, item.ID); derr != nil {
			logger.Error("SyncService:Create:Rollback:Error", "item_id", item.ID, "error", derr)
		}
		return err
	}
	res.Created++
	s.blocking.FanOut(ctx, m, busyFor(ev))
	return nil
}

func (s *SyncService) update(ctx context.Context, m *entity.Mapping, ev provider.Event, in plannerService.ItemInput, res *Result) error {
	var item *plannerEntity.Item
	var err error
	if m.ItemID != nil {
		if item, err = s.planner.UpdateItem(ctx, *m.ItemID, in); err != nil {
			return err
		}
	}
	if item == nil {
		// The planner item was removed locally; the external event wins.
		if item, err = s.planner.CreateItem(ctx, in); err != nil {
			return err
		}
	}
	m.ItemID = &item.ID
	m.Remember(in.Title, ev.Start, ev.End, ev.AllDay, ev.ETag, ev.UpdatedAt)
	m.SyncStatus = entity.SyncStatusSynced
	m.LastDirection = entity.DirectionInbound
	if err := s.mappings.Update(ctx, m); err != nil {
		return err
	}
	res.Updated++
	s.blocking.PropagateUpdate(ctx, m, busyFor(ev))
	return nil
}

func (s *SyncService) cancel(ctx context.Context, m *entity.Mapping, res *Result) error {
	s.blocking.DeleteFor(ctx, m.ID)
	if m.ItemID != nil {
		if err := s.planner.DeleteItem(ctx, *m.ItemID); err != nil {
			return err
		}
	}
	if err := s.mappings.Delete(ctx, m.ID); err != nil {
		return err
	}
	res.Deleted++
	return nil
}

// PerformOutboundSync writes one planner item change to a source. Sources
// that do not accept writes are skipped.
func (s *SyncService) PerformOutboundSync(ctx context.Context, p OutboundPayload) error {
	if !p.Action.IsValid() {
		return errors.NewAppError(errors.ErrValidationFailure, "unknown outbound action "+string(p.Action), nil)
	}
	start := s.now()
	t, err := s.load(ctx, p.ConnectionID, p.SourceID)
	if err != nil || t == nil {
		return err
	}
	if !t.conn.Usable() {
		s.skip(ctx, t, auditEntity.ActionSyncOutbound, "connection is "+string(t.conn.Status))
		return nil
	}
	if !t.source.Writable() {
		s.skip(ctx, t, auditEntity.ActionSyncOutbound, "source does not accept writes")
		return nil
	}

	res := &Result{}
	err = s.push(ctx, t, p, res)
	s.record(ctx, t, auditEntity.ActionSyncOutbound, res, start, err)
	s.expireOn(ctx, t, err)
	if errors.Is(err, errConflict) {
		return nil
	}
	if err != nil {
		logger.Error("SyncService:PerformOutboundSync:Error", "source_id", t.source.ID, "item_id", p.ItemID,
			"action", p.Action, "error", err)
	}
	return err
}

func (s *SyncService) push(ctx context.Context, t *target, p OutboundPayload, res *Result) error {
	if err := s.guard.Check(ctx, t.conn.Provider, t.conn.UserID); err != nil {
		return err
	}
	creds, err := s.creds.Credentials(ctx, t.conn)
	if err != nil {
		return err
	}

	var m *entity.Mapping
	if p.MappingID != nil {
		m, err = s.mappings.GetByID(ctx, *p.MappingID)
	} else {
		m, err = s.mappings.GetByItemAndSource(ctx, p.ItemID, t.source.ID)
	}
	if err != nil {
		return err
	}

	if p.Action == ActionDelete {
		if m == nil {
			res.Skipped++
			return nil
		}
		return s.pushDelete(ctx, t, creds, m, res)
	}

	item, err := s.planner.GetItem(ctx, p.ItemID)
	if err != nil {
		return err
	}
	if item == nil {
		res.Skipped++
		return nil
	}
	if m == nil {
		return s.pushCreate(ctx, t, creds, item, res)
	}
	return s.pushUpdate(ctx, t, creds, m, item, res)
}

func outboundInput(item *plannerEntity.Item) provider.EventInput {
	return provider.EventInput{
		Title:       item.Title,
		Description: item.Description,
		Location:    item.Location,
		Start:       item.StartAt,
		End:         item.EndAt,
		AllDay:      item.AllDay,
	}
}

func (s *SyncService) pushCreate(ctx context.Context, t *target, creds provider.Credentials, item *plannerEntity.Item, res *Result) error {
	var ev *provider.Event
	err := s.guard.Call(ctx, t.conn.Provider, t.conn.UserID, func() error {
		var cerr error
		ev, cerr = t.adapter.CreateEvent(ctx, creds, t.source.ExternalCalendarID, outboundInput(item))
		return cerr
	})
	if err != nil {
		return err
	}
	m := &entity.Mapping{
		UserID:          t.conn.UserID,
		ConnectionID:    t.conn.ID,
		SourceID:        t.source.ID,
		ExternalEventID: ev.ID,
		ItemID:          &item.ID,
		SyncStatus:      entity.SyncStatusSynced,
		LastDirection:   entity.DirectionOutbound,
	}
	m.Remember(item.Title, item.StartAt, item.EndAt, item.AllDay, ev.ETag, ev.UpdatedAt)
	if err := s.mappings.Create(ctx, m); err != nil {
		return err
	}
	res.Created++
	return nil
}

func (s *SyncService) pushUpdate(ctx context.Context, t *target, creds provider.Credentials, m *entity.Mapping, item *plannerEntity.Item, res *Result) error {
	in := outboundInput(item)
	in.IfMatch = m.ETag
	var ev *provider.Event
	err := s.guard.Call(ctx, t.conn.Provider, t.conn.UserID, func() error {
		var uerr error
		ev, uerr = t.adapter.UpdateEvent(ctx, creds, t.source.ExternalCalendarID, m.ExternalEventID, in)
		return uerr
	})
	switch {
	case errors.Is(err, provider.ErrPreconditionFailed):
		return s.conflict(ctx, m, item)
	case errors.Is(err, provider.ErrNotFound):
		logger.Info("SyncService:PushUpdate:RemoteGone", "mapping_id", m.ID)
		res.Deleted++
		return s.mappings.Delete(ctx, m.ID)
	case err != nil:
		return err
	}
	m.Remember(item.Title, item.StartAt, item.EndAt, item.AllDay, ev.ETag, ev.UpdatedAt)
	m.SyncStatus = entity.SyncStatusSynced
	m.LastDirection = entity.DirectionOutbound
	if err := s.mappings.Update(ctx, m); err != nil {
		return err
	}
	res.Updated++
	return nil
}

func (s *SyncService) pushDelete(ctx context.Context, t *target, creds provider.Credentials, m *entity.Mapping, res *Result) error {
	err := s.guard.Call(ctx, t.conn.Provider, t.conn.UserID, func() error {
		return t.adapter.DeleteEvent(ctx, creds, t.source.ExternalCalendarID, m.ExternalEventID, m.ETag)
	})
	switch {
	case errors.Is(err, provider.ErrPreconditionFailed):
		return s.conflict(ctx, m, nil)
	case err != nil && !errors.Is(err, provider.ErrNotFound):
		return err
	}
	s.blocking.DeleteFor(ctx, m.ID)
	if err := s.mappings.Delete(ctx, m.ID); err != nil {
		return err
	}
	res.Deleted++
	return nil
}

type snapshot struct {
	Title   string    `json:"title"`
	StartAt time.Time `json:"start_at"`
	EndAt   time.Time `json:"end_at"`
	AllDay  bool      `json:"all_day"`
	Deleted bool      `json:"deleted,omitempty"`
}

var errConflict = errors.New("remote event changed since it was last read")

// conflict keeps the local side for review and parks the mapping. The job
// is not retried.
func (s *SyncService) conflict(ctx context.Context, m *entity.Mapping, item *plannerEntity.Item) error {
	snap := snapshot{Deleted: item == nil}
	if item != nil {
		snap.Title, snap.StartAt, snap.EndAt, snap.AllDay = item.Title, item.StartAt, item.EndAt, item.AllDay
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	c := &entity.Conflict{
		MappingID:     m.ID,
		UserID:        m.UserID,
		LocalSnapshot: string(raw),
		RemoteETag:    m.ETag,
		ExpiresAt:     s.now().UTC().Add(constants.ConflictTTL),
	}
	if err := s.conflicts.Create(ctx, c); err != nil {
		return err
	}
	logger.Warn("SyncService:Conflict", "mapping_id", m.ID, "source_id", m.SourceID)
	if err := s.mappings.UpdateStatus(ctx, m.ID, entity.SyncStatusError); err != nil {
		return err
	}
	return errConflict
}

// RequestOutbound queues a write of a planner item to one of the user's
// sources.
func (s *SyncService) RequestOutbound(ctx context.Context, userID, sourceID, itemID uuid.UUID, action OutboundAction) error {
	if !action.IsValid() {
		return errors.NewAppError(errors.ErrInvalidInput, "action must be create, update or delete", nil)
	}
	src, err := s.sources.GetByID(ctx, sourceID)
	if err != nil {
		return errors.NewAppError(errors.ErrInternalServer, "failed to load source", err)
	}
	if src == nil || src.UserID != userID {
		return errors.NewAppError(errors.ErrNotFound, "source not found", nil)
	}
	if !src.Writable() {
		return errors.NewAppError(errors.ErrForbidden, "source does not accept writes", nil)
	}

	p := OutboundPayload{ConnectionID: src.ConnectionID, SourceID: src.ID, ItemID: itemID, Action: action}
	if action == ActionDelete {
		m, err := s.mappings.GetByItemAndSource(ctx, itemID, src.ID)
		if err != nil {
			return errors.NewAppError(errors.ErrInternalServer, "failed to load mapping", err)
		}
		if m == nil {
			return errors.NewAppError(errors.ErrNotFound, "item is not synced to this source", nil)
		}
		p.MappingID = &m.ID
	}
	if err := s.dispatcher.EnqueueOutbound(ctx, p); err != nil {
		return errors.NewAppError(errors.ErrInternalServer, "failed to queue outbound sync", err)
	}
	return nil
}
