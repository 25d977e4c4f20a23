package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"calendar-sync/core/constants"
	"calendar-sync/core/logger"
	"calendar-sync/core/queue"
	auditEntity "calendar-sync/modules/audit/entity"
	auditService "calendar-sync/modules/audit/service"
	connEntity "calendar-sync/modules/connection/entity"
	plannerEntity "calendar-sync/modules/planner/entity"
	"calendar-sync/modules/provider"
	"calendar-sync/modules/sync/entity"
	"calendar-sync/modules/sync/guard"
	"calendar-sync/modules/sync/repository"

	"github.com/google/uuid"
)

type SourceStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*connEntity.Source, error)
	ListWritableByUser(ctx context.Context, userID uuid.UUID) ([]connEntity.SourceWithProvider, error)
}

type ConnectionStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*connEntity.Connection, error)
}

type CredentialSource interface {
	Credentials(ctx context.Context, conn *connEntity.Connection) (provider.Credentials, error)
}

type ItemStore interface {
	GetItem(ctx context.Context, id uuid.UUID) (*plannerEntity.Item, error)
}

// PlacePayload is the blocking:place job body: one placeholder still owed to
// one target source. Exactly one origin id is set.
type PlacePayload struct {
	UserID          uuid.UUID  `json:"user_id"`
	OriginMappingID *uuid.UUID `json:"origin_mapping_id,omitempty"`
	OriginItemID    *uuid.UUID `json:"origin_item_id,omitempty"`
	TargetSourceID  uuid.UUID  `json:"target_source_id"`
}

// Busy describes the time a placeholder blocks.
type Busy struct {
	Title  string
	Start  time.Time
	End    time.Time
	AllDay bool
}

type BlockingServiceInterface interface {
	FanOut(ctx context.Context, origin *entity.Mapping, busy Busy) int
	PropagateUpdate(ctx context.Context, origin *entity.Mapping, busy Busy) int
	DeleteFor(ctx context.Context, originID uuid.UUID) int
	DeleteCausedBy(ctx context.Context, connectionID uuid.UUID) int
	DeleteOn(ctx context.Context, connectionID uuid.UUID) int
	ForgetItem(ctx context.Context, itemID uuid.UUID) int
}

// BlockingService keeps a busy placeholder on every other writable source of
// a user for each real event or focus block. Failures on one target are
// logged and never stop the others.
type BlockingService struct {
	sources  SourceStore
	conns    ConnectionStore
	mappings repository.MappingRepository
	creds    CredentialSource
	registry *provider.Registry
	guard    *guard.Guard
	audit    auditService.Recorder
	queue    queue.Queue
	items    ItemStore

	wg sync.WaitGroup
}

func NewBlockingService(
	sources SourceStore,
	conns ConnectionStore,
	mappings repository.MappingRepository,
	creds CredentialSource,
	registry *provider.Registry,
	g *guard.Guard,
	audit auditService.Recorder,
) *BlockingService {
	return &BlockingService{
		sources:  sources,
		conns:    conns,
		mappings: mappings,
		creds:    creds,
		registry: registry,
		guard:    g,
		audit:    audit,
	}
}

// WithDeferral queues placeholder writes that hit a rate window, an open
// circuit or a provider outage, instead of dropping them. items resolves
// focus block origins when the job runs.
func (s *BlockingService) WithDeferral(q queue.Queue, items ItemStore) *BlockingService {
	s.queue = q
	s.items = items
	return s
}

// origin identifies what a set of placeholders protects.
type origin struct {
	userID   uuid.UUID
	sourceID uuid.UUID
	mapping  *uuid.UUID
	item     *uuid.UUID
}

func fromMapping(m *entity.Mapping) origin {
	id := m.ID
	return origin{userID: m.UserID, sourceID: m.SourceID, mapping: &id}
}

func fromItem(item plannerEntity.Item) origin {
	id := item.ID
	return origin{userID: item.UserID, item: &id}
}

func (o origin) payload(targetSourceID uuid.UUID) PlacePayload {
	return PlacePayload{UserID: o.userID, OriginMappingID: o.mapping, OriginItemID: o.item, TargetSourceID: targetSourceID}
}

func (o origin) existing(ctx context.Context, repo repository.MappingRepository) ([]entity.Mapping, error) {
	if o.mapping != nil {
		return repo.ListBlockedBy(ctx, *o.mapping)
	}
	return repo.ListBlockedByItem(ctx, *o.item)
}

// target bundles what one provider call needs.
type target struct {
	source  connEntity.Source
	conn    *connEntity.Connection
	adapter provider.Adapter
	creds   provider.Credentials
}

type resolver struct {
	s     *BlockingService
	conns map[uuid.UUID]*connEntity.Connection
	creds map[uuid.UUID]provider.Credentials
}

func (s *BlockingService) resolver() *resolver {
	return &resolver{s: s, conns: map[uuid.UUID]*connEntity.Connection{}, creds: map[uuid.UUID]provider.Credentials{}}
}

var errConnectionUnusable = errors.New("connection is not usable")

func (r *resolver) resolve(ctx context.Context, src connEntity.Source, providerName string) (*target, error) {
	conn, ok := r.conns[src.ConnectionID]
	if !ok {
		var err error
		conn, err = r.s.conns.GetByID(ctx, src.ConnectionID)
		if err != nil {
			return nil, err
		}
		r.conns[src.ConnectionID] = conn
	}
	if !conn.Usable() {
		return nil, errConnectionUnusable
	}
	if providerName == "" {
		providerName = conn.Provider
	}
	adapter, err := r.s.registry.Get(providerName)
	if err != nil {
		return nil, err
	}
	creds, ok := r.creds[conn.ID]
	if !ok {
		creds, err = r.s.creds.Credentials(ctx, conn)
		if err != nil {
			return nil, err
		}
		r.creds[conn.ID] = creds
	}
	return &target{source: src, conn: conn, adapter: adapter, creds: creds}, nil
}

func placeholderInput(busy Busy) provider.EventInput {
	return provider.EventInput{
		Title:       busy.Title,
		Start:       busy.Start,
		End:         busy.End,
		AllDay:      busy.AllDay,
		Placeholder: true,
	}
}

func (s *BlockingService) create(ctx context.Context, o origin, t *target, busy Busy) error {
	var ev *provider.Event
	err := s.guard.Call(ctx, t.adapter.Name(), o.userID, func() error {
		var cerr error
		ev, cerr = t.adapter.CreateEvent(ctx, t.creds, t.source.ExternalCalendarID, placeholderInput(busy))
		return cerr
	})
	if err != nil {
		return err
	}
	m := &entity.Mapping{
		UserID:             o.userID,
		ConnectionID:       t.source.ConnectionID,
		SourceID:           t.source.ID,
		ExternalEventID:    ev.ID,
		SyncStatus:         entity.SyncStatusSynced,
		LastDirection:      entity.DirectionOutbound,
		IsPlaceholder:      true,
		BlockedByMappingID: o.mapping,
		BlockedByItemID:    o.item,
	}
	m.Remember(busy.Title, busy.Start, busy.End, busy.AllDay, ev.ETag, ev.UpdatedAt)
	return s.mappings.Create(ctx, m)
}

// fanOut places a placeholder on every writable source except the origin's
// and those that already carry one.
func (s *BlockingService) fanOut(ctx context.Context, o origin, busy Busy, have []entity.Mapping) int {
	targets, err := s.sources.ListWritableByUser(ctx, o.userID)
	if err != nil {
		logger.Error("BlockingService:FanOut:ListWritable:Error", "user_id", o.userID, "error", err)
		return 0
	}
	covered := make(map[uuid.UUID]bool, len(have))
	for _, m := range have {
		covered[m.SourceID] = true
	}

	res := s.resolver()
	created := 0
	for _, tgt := range targets {
		if tgt.ID == o.sourceID || covered[tgt.ID] {
			continue
		}
		t, err := res.resolve(ctx, tgt.Source, tgt.Provider)
		if err == nil {
			err = s.create(ctx, o, t, busy)
		}
		if err != nil {
			if s.deferPlacement(ctx, o, tgt.ID, err) {
				logger.Info("BlockingService:FanOut:Target:Deferred", "user_id", o.userID, "source_id", tgt.ID, "provider", tgt.Provider, "error", err)
				continue
			}
			logger.Warn("BlockingService:FanOut:Target:Error", "user_id", o.userID, "source_id", tgt.ID, "provider", tgt.Provider, "error", err)
			continue
		}
		created++
	}
	return created
}

// transient reports failures a later attempt can get past.
func transient(err error) bool {
	var open *guard.CircuitOpenError
	return provider.IsRateLimited(err) || provider.IsUnavailable(err) || errors.As(err, &open)
}

func (s *BlockingService) deferPlacement(ctx context.Context, o origin, targetSourceID uuid.UUID, cause error) bool {
	if s.queue == nil || !transient(cause) {
		return false
	}
	delay := constants.BlockingPlaceDelay
	var hint queue.RetryAfterHint
	if errors.As(cause, &hint) && hint.RetryAfterDuration() > 0 {
		delay = hint.RetryAfterDuration()
	}
	err := s.queue.Enqueue(ctx, constants.JobBlockingPlace, o.payload(targetSourceID), queue.JobOptions{
		Queue:     constants.QueueOutbound,
		MaxRetry:  constants.BlockingPlaceMaxRetry,
		Timeout:   constants.DefaultRequestTimeout,
		Unique:    constants.BlockingPlaceUnique,
		ProcessIn: delay,
	})
	if err != nil {
		logger.Error("BlockingService:DeferPlacement:Enqueue:Error", "user_id", o.userID, "source_id", targetSourceID, "error", err)
		return false
	}
	return true
}

// reload rebuilds the origin of a deferred placement from storage. ok is
// false when the origin is gone and nothing is owed any more.
func (s *BlockingService) reload(ctx context.Context, p PlacePayload) (o origin, busy Busy, ok bool, err error) {
	switch {
	case p.OriginMappingID != nil:
		m, err := s.mappings.GetByID(ctx, *p.OriginMappingID)
		if err != nil || m == nil || m.IsBlockingPlaceholder() || m.StartAt == nil || m.EndAt == nil {
			return origin{}, Busy{}, false, err
		}
		busy = Busy{Title: constants.PlaceholderTitle, Start: *m.StartAt, End: *m.EndAt, AllDay: m.AllDay}
		return fromMapping(m), busy, true, nil
	case p.OriginItemID != nil && s.items != nil:
		item, err := s.items.GetItem(ctx, *p.OriginItemID)
		if err != nil || item == nil || item.Kind != plannerEntity.KindFocus {
			return origin{}, Busy{}, false, err
		}
		return fromItem(*item), focusBusy(*item), true, nil
	}
	return origin{}, Busy{}, false, nil
}

// Place writes one deferred placeholder. It is a no-op when the origin or the
// target went away or the target already carries a placeholder.
func (s *BlockingService) Place(ctx context.Context, p PlacePayload) error {
	o, busy, ok, err := s.reload(ctx, p)
	if err != nil || !ok {
		return err
	}
	src, err := s.sources.GetByID(ctx, p.TargetSourceID)
	if err != nil {
		return err
	}
	if src == nil || !src.Writable() || src.UserID != o.userID || src.ID == o.sourceID {
		return nil
	}
	have, err := o.existing(ctx, s.mappings)
	if err != nil {
		return err
	}
	for _, m := range have {
		if m.SourceID == src.ID {
			return nil
		}
	}
	t, err := s.resolver().resolve(ctx, *src, "")
	if errors.Is(err, errConnectionUnusable) {
		return nil
	}
	if err != nil {
		return err
	}
	return s.create(ctx, o, t, busy)
}

// FanOut mirrors a new inbound event as busy time onto the user's other
// writable sources. It returns the number of placeholders created.
func (s *BlockingService) FanOut(ctx context.Context, origin *entity.Mapping, busy Busy) int {
	if origin == nil || origin.IsBlockingPlaceholder() {
		return 0
	}
	o := fromMapping(origin)
	have, err := o.existing(ctx, s.mappings)
	if err != nil {
		logger.Error("BlockingService:FanOut:ListExisting:Error", "mapping_id", origin.ID, "error", err)
		return 0
	}
	return s.fanOut(ctx, o, busy, have)
}

func (s *BlockingService) update(ctx context.Context, o origin, busy Busy) int {
	placeholders, err := o.existing(ctx, s.mappings)
	if err != nil {
		logger.Error("BlockingService:Update:ListExisting:Error", "user_id", o.userID, "error", err)
		return 0
	}

	res := s.resolver()
	updated := 0
	var kept []entity.Mapping
	for i := range placeholders {
		ph := placeholders[i]
		err := s.updateOne(ctx, res, o, &ph, busy)
		if errors.Is(err, provider.ErrNotFound) {
			// Removed on the provider side; fanOut below recreates it.
			if derr := s.mappings.Delete(ctx, ph.ID); derr != nil {
				logger.Error("BlockingService:Update:DeleteStale:Error", "mapping_id", ph.ID, "error", derr)
				kept = append(kept, ph)
			}
			continue
		}
		kept = append(kept, ph)
		if err != nil {
			logger.Warn("BlockingService:Update:Target:Error", "mapping_id", ph.ID, "source_id", ph.SourceID, "error", err)
			continue
		}
		updated++
	}
	return updated + s.fanOut(ctx, o, busy, kept)
}

func (s *BlockingService) updateOne(ctx context.Context, res *resolver, o origin, ph *entity.Mapping, busy Busy) error {
	src, err := s.sources.GetByID(ctx, ph.SourceID)
	if err != nil {
		return err
	}
	if src == nil {
		return provider.ErrNotFound
	}
	t, err := res.resolve(ctx, *src, "")
	if err != nil {
		return err
	}
	var ev *provider.Event
	err = s.guard.Call(ctx, t.adapter.Name(), o.userID, func() error {
		var uerr error
		ev, uerr = t.adapter.UpdateEvent(ctx, t.creds, src.ExternalCalendarID, ph.ExternalEventID, placeholderInput(busy))
		return uerr
	})
	if err != nil {
		return err
	}
	ph.Remember(busy.Title, busy.Start, busy.End, busy.AllDay, ev.ETag, ev.UpdatedAt)
	ph.SyncStatus = entity.SyncStatusSynced
	ph.LastDirection = entity.DirectionOutbound
	return s.mappings.Update(ctx, ph)
}

// PropagateUpdate re-pushes time and title to every placeholder of origin and
// fills in sources that are missing one.
func (s *BlockingService) PropagateUpdate(ctx context.Context, origin *entity.Mapping, busy Busy) int {
	if origin == nil || origin.IsBlockingPlaceholder() {
		return 0
	}
	return s.update(ctx, fromMapping(origin), busy)
}

// deletePlaceholders removes each placeholder from its provider, then drops
// its mapping whatever the provider said.
func (s *BlockingService) deletePlaceholders(ctx context.Context, placeholders []entity.Mapping) int {
	res := s.resolver()
	deleted := 0
	for _, ph := range placeholders {
		if err := s.deleteRemote(ctx, res, ph); err != nil && !errors.Is(err, provider.ErrNotFound) {
			logger.Warn("BlockingService:Delete:Remote:Error", "mapping_id", ph.ID, "source_id", ph.SourceID, "error", err)
		}
		if err := s.mappings.Delete(ctx, ph.ID); err != nil {
			logger.Error("BlockingService:Delete:Mapping:Error", "mapping_id", ph.ID, "error", err)
			continue
		}
		deleted++
	}
	return deleted
}

func (s *BlockingService) deleteRemote(ctx context.Context, res *resolver, ph entity.Mapping) error {
	src, err := s.sources.GetByID(ctx, ph.SourceID)
	if err != nil {
		return err
	}
	if src == nil {
		return provider.ErrNotFound
	}
	t, err := res.resolve(ctx, *src, "")
	if err != nil {
		return err
	}
	return s.guard.Call(ctx, t.adapter.Name(), ph.UserID, func() error {
		return t.adapter.DeleteEvent(ctx, t.creds, src.ExternalCalendarID, ph.ExternalEventID, "")
	})
}

// DeleteFor removes every placeholder protecting the given mapping.
func (s *BlockingService) DeleteFor(ctx context.Context, originID uuid.UUID) int {
	placeholders, err := s.mappings.ListBlockedBy(ctx, originID)
	if err != nil {
		logger.Error("BlockingService:DeleteFor:List:Error", "mapping_id", originID, "error", err)
		return 0
	}
	return s.deletePlaceholders(ctx, placeholders)
}

// ForgetItem drops the sync mappings linked to a planner item that is being
// deleted, together with the placeholders protecting them. It returns the
// number of mappings removed.
func (s *BlockingService) ForgetItem(ctx context.Context, itemID uuid.UUID) int {
	linked, err := s.mappings.ListByItem(ctx, itemID)
	if err != nil {
		logger.Error("BlockingService:ForgetItem:List:Error", "item_id", itemID, "error", err)
		return 0
	}
	forgotten := 0
	for _, m := range linked {
		if m.IsBlockingPlaceholder() {
			continue
		}
		s.DeleteFor(ctx, m.ID)
		if err := s.mappings.Delete(ctx, m.ID); err != nil {
			logger.Error("BlockingService:ForgetItem:Delete:Error", "mapping_id", m.ID, "error", err)
			continue
		}
		forgotten++
	}
	return forgotten
}

// DeleteCausedBy removes placeholders that events of connectionID put on
// other connections.
func (s *BlockingService) DeleteCausedBy(ctx context.Context, connectionID uuid.UUID) int {
	placeholders, err := s.mappings.ListPlaceholdersCausedBy(ctx, connectionID)
	if err != nil {
		logger.Error("BlockingService:DeleteCausedBy:List:Error", "connection_id", connectionID, "error", err)
		return 0
	}
	return s.deletePlaceholders(ctx, placeholders)
}

// DeleteOn removes every placeholder written to connectionID's calendars.
func (s *BlockingService) DeleteOn(ctx context.Context, connectionID uuid.UUID) int {
	placeholders, err := s.mappings.ListPlaceholdersOn(ctx, connectionID)
	if err != nil {
		logger.Error("BlockingService:DeleteOn:List:Error", "connection_id", connectionID, "error", err)
		return 0
	}
	return s.deletePlaceholders(ctx, placeholders)
}

func focusBusy(item plannerEntity.Item) Busy {
	return Busy{
		Title:  constants.FocusTitlePrefix + item.Title,
		Start:  item.StartAt,
		End:    item.EndAt,
		AllDay: item.AllDay,
	}
}

// detach runs fn on its own context so the caller's request can finish first.
func (s *BlockingService) detach(userID, itemID uuid.UUID, op string, fn func(ctx context.Context) (int, int)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), constants.FocusBlockTimeout)
		defer cancel()

		start := time.Now()
		created, deleted := fn(ctx)
		logger.Info("BlockingService:Focus:Done", "op", op, "user_id", userID, "item_id", itemID,
			"created", created, "deleted", deleted)
		s.audit.Record(ctx, auditEntity.AuditLog{
			UserID:     auditEntity.Ref(userID),
			Action:     auditEntity.ActionBlockingPropagate,
			Message:    "focus " + op,
			Created:    created,
			Deleted:    deleted,
			DurationMs: time.Since(start).Milliseconds(),
		})
	}()
}

func (s *BlockingService) PropagateFocusCreate(item plannerEntity.Item) {
	s.detach(item.UserID, item.ID, "create", func(ctx context.Context) (int, int) {
		return s.fanOut(ctx, fromItem(item), focusBusy(item), nil), 0
	})
}

func (s *BlockingService) PropagateFocusUpdate(item plannerEntity.Item) {
	s.detach(item.UserID, item.ID, "update", func(ctx context.Context) (int, int) {
		return s.update(ctx, fromItem(item), focusBusy(item)), 0
	})
}

func (s *BlockingService) PropagateFocusDelete(userID, itemID uuid.UUID) {
	s.detach(userID, itemID, "delete", func(ctx context.Context) (int, int) {
		placeholders, err := s.mappings.ListBlockedByItem(ctx, itemID)
		if err != nil {
			logger.Error("BlockingService:FocusDelete:List:Error", "item_id", itemID, "error", err)
			return 0, 0
		}
		return 0, s.deletePlaceholders(ctx, placeholders)
	})
}

// Wait blocks until detached focus propagation has finished.
func (s *BlockingService) Wait() {
	s.wg.Wait()
}
