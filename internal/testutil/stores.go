// Package testutil holds stateful in-memory stores shared by tests across
// packages. Maps stand in for tables; set the *Err fields to inject failures.
package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	auditEntity "calendar-sync/modules/audit/entity"
	connEntity "calendar-sync/modules/connection/entity"
	plannerEntity "calendar-sync/modules/planner/entity"
	syncEntity "calendar-sync/modules/sync/entity"
	tokenEntity "calendar-sync/modules/token/entity"

	"github.com/google/uuid"
)

// Stores bundles one of each store, linked the way the schema links tables.
type Stores struct {
	Connections *Connections
	Sources     *Sources
	Mappings    *Mappings
	Conflicts   *Conflicts
	Planner     *Planner
	Tokens      *Tokens
	AuditLogs   *AuditLogs
}

func NewStores() *Stores {
	conns := &Connections{Rows: map[uuid.UUID]*connEntity.Connection{}}
	sources := &Sources{Rows: map[uuid.UUID]*connEntity.Source{}, conns: conns}
	conns.sources = sources
	mappings := &Mappings{Rows: map[uuid.UUID]*syncEntity.Mapping{}}
	planner := NewPlanner()
	planner.mappings = mappings
	return &Stores{
		Connections: conns,
		Sources:     sources,
		Mappings:    mappings,
		Conflicts:   &Conflicts{},
		Planner:     planner,
		Tokens:      &Tokens{Rows: map[uuid.UUID]*tokenEntity.Token{}},
		AuditLogs:   &AuditLogs{},
	}
}

// Connections implements connection/repository.ConnectionRepository.
type Connections struct {
	CreateErr error
	GetErr    error
	UpdateErr error
	DeleteErr error

	Rows map[uuid.UUID]*connEntity.Connection

	sources *Sources
	mu      sync.Mutex
}

func (s *Connections) Add(c *connEntity.Connection) *connEntity.Connection {
	c.Touch(time.Now().UTC())
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Rows[c.ID] = c
	return c
}

func (s *Connections) Create(_ context.Context, c *connEntity.Connection) error {
	if s.CreateErr != nil {
		return s.CreateErr
	}
	s.Add(c)
	return nil
}

func (s *Connections) GetByID(_ context.Context, id uuid.UUID) (*connEntity.Connection, error) {
	if s.GetErr != nil {
		return nil, s.GetErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.Rows[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (s *Connections) GetByIDForUser(ctx context.Context, id, userID uuid.UUID) (*connEntity.Connection, error) {
	c, err := s.GetByID(ctx, id)
	if err != nil || c == nil || c.UserID != userID {
		return nil, err
	}
	return c, nil
}

func (s *Connections) ListByUser(_ context.Context, userID uuid.UUID) ([]connEntity.Connection, error) {
	if s.GetErr != nil {
		return nil, s.GetErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []connEntity.Connection
	for _, c := range s.Rows {
		if c.UserID == userID {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Connections) Update(_ context.Context, c *connEntity.Connection) error {
	if s.UpdateErr != nil {
		return s.UpdateErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.Rows[c.ID] = &cp
	return nil
}

func (s *Connections) UpdateStatus(_ context.Context, id uuid.UUID, status connEntity.ConnectionStatus, lastError string) error {
	if s.UpdateErr != nil {
		return s.UpdateErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.Rows[id]; ok {
		c.Status = status
		c.LastError = lastError
	}
	return nil
}

// Delete cascades to the connection's sources.
func (s *Connections) Delete(_ context.Context, id uuid.UUID) error {
	if s.DeleteErr != nil {
		return s.DeleteErr
	}
	s.mu.Lock()
	delete(s.Rows, id)
	s.mu.Unlock()
	if s.sources != nil {
		s.sources.deleteByConnection(id)
	}
	return nil
}

func (s *Connections) get(id uuid.UUID) *connEntity.Connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Rows[id]
}

// Sources implements connection/repository.SourceRepository.
type Sources struct {
	UpsertErr error
	GetErr    error
	ListErr   error
	UpdateErr error

	Rows map[uuid.UUID]*connEntity.Source

	conns *Connections
	mu    sync.Mutex
}

func (s *Sources) Add(src *connEntity.Source) *connEntity.Source {
	src.Touch(time.Now().UTC())
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Rows[src.ID] = src
	return src
}

// Upsert keys on (connection, external calendar id) and keeps the row id
// and user settings of an existing source.
func (s *Sources) Upsert(_ context.Context, src *connEntity.Source) error {
	if s.UpsertErr != nil {
		return s.UpsertErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.Rows {
		if existing.ConnectionID == src.ConnectionID && existing.ExternalCalendarID == src.ExternalCalendarID {
			existing.Name = src.Name
			existing.ReadOnly = src.ReadOnly
			existing.IsPrimary = src.IsPrimary
			src.ID = existing.ID
			return nil
		}
	}
	src.Touch(time.Now().UTC())
	cp := *src
	s.Rows[src.ID] = &cp
	return nil
}

func (s *Sources) GetByID(_ context.Context, id uuid.UUID) (*connEntity.Source, error) {
	if s.GetErr != nil {
		return nil, s.GetErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	src, ok := s.Rows[id]
	if !ok {
		return nil, nil
	}
	cp := *src
	return &cp, nil
}

func (s *Sources) ListByConnection(_ context.Context, connectionID uuid.UUID) ([]connEntity.Source, error) {
	if s.ListErr != nil {
		return nil, s.ListErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []connEntity.Source
	for _, src := range s.Rows {
		if src.ConnectionID == connectionID {
			out = append(out, *src)
		}
	}
	sortSources(out)
	return out, nil
}

func sortSources(out []connEntity.Source) {
	sort.Slice(out, func(i, j int) bool {
		if out[i].IsPrimary != out[j].IsPrimary {
			return out[i].IsPrimary
		}
		return out[i].Name < out[j].Name
	})
}

// joined returns sources whose connection is usable and passes keep.
func (s *Sources) joined(providers []string, keep func(*connEntity.Source, *connEntity.Connection) bool) ([]connEntity.SourceWithProvider, error) {
	if s.ListErr != nil {
		return nil, s.ListErr
	}
	allowed := map[string]bool{}
	for _, p := range providers {
		allowed[p] = true
	}
	s.mu.Lock()
	rows := make([]connEntity.Source, 0, len(s.Rows))
	for _, src := range s.Rows {
		rows = append(rows, *src)
	}
	s.mu.Unlock()
	sortSources(rows)

	var out []connEntity.SourceWithProvider
	for i := range rows {
		src := &rows[i]
		conn := s.conns.get(src.ConnectionID)
		if !conn.Usable() {
			continue
		}
		if providers != nil && !allowed[conn.Provider] {
			continue
		}
		if keep(src, conn) {
			out = append(out, connEntity.SourceWithProvider{
				Source:              *src,
				Provider:            conn.Provider,
				SyncIntervalMinutes: conn.SyncIntervalMinutes,
			})
		}
	}
	return out, nil
}

func (s *Sources) ListWritableByUser(_ context.Context, userID uuid.UUID) ([]connEntity.SourceWithProvider, error) {
	return s.joined(nil, func(src *connEntity.Source, _ *connEntity.Connection) bool {
		return src.UserID == userID && src.Writable()
	})
}

func (s *Sources) ListPollable(_ context.Context, providers []string) ([]connEntity.SourceWithProvider, error) {
	return s.joined(providers, func(src *connEntity.Source, _ *connEntity.Connection) bool {
		return src.Readable()
	})
}

func (s *Sources) ListStale(_ context.Context, providers []string, now time.Time) ([]connEntity.SourceWithProvider, error) {
	return s.joined(providers, func(src *connEntity.Source, c *connEntity.Connection) bool {
		if !src.Readable() {
			return false
		}
		interval := time.Duration(c.SyncIntervalMinutes) * time.Minute
		return src.LastSyncedAt == nil || src.LastSyncedAt.Before(now.Add(-interval))
	})
}

func (s *Sources) ListWebhookDue(_ context.Context, providers []string, before time.Time) ([]connEntity.SourceWithProvider, error) {
	return s.joined(providers, func(src *connEntity.Source, _ *connEntity.Connection) bool {
		if !src.Readable() {
			return false
		}
		return src.WebhookChannelID == "" || src.WebhookExpiresAt == nil || src.WebhookExpiresAt.Before(before)
	})
}

func (s *Sources) Update(_ context.Context, src *connEntity.Source) error {
	if s.UpdateErr != nil {
		return s.UpdateErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *src
	s.Rows[src.ID] = &cp
	return nil
}

func (s *Sources) UpdateCursor(_ context.Context, id uuid.UUID, cursor string, syncedAt time.Time) error {
	if s.UpdateErr != nil {
		return s.UpdateErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if src, ok := s.Rows[id]; ok {
		src.Cursor = cursor
		at := syncedAt
		src.LastSyncedAt = &at
	}
	return nil
}

func (s *Sources) UpdateWebhook(_ context.Context, id uuid.UUID, channelID, resourceID string, expiresAt time.Time) error {
	if s.UpdateErr != nil {
		return s.UpdateErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if src, ok := s.Rows[id]; ok {
		src.WebhookChannelID = channelID
		src.WebhookResourceID = resourceID
		at := expiresAt
		src.WebhookExpiresAt = &at
	}
	return nil
}

func (s *Sources) ClearWebhook(_ context.Context, id uuid.UUID) error {
	if s.UpdateErr != nil {
		return s.UpdateErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if src, ok := s.Rows[id]; ok {
		src.WebhookChannelID = ""
		src.WebhookResourceID = ""
		src.WebhookExpiresAt = nil
	}
	return nil
}

func (s *Sources) deleteByConnection(connectionID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, src := range s.Rows {
		if src.ConnectionID == connectionID {
			delete(s.Rows, id)
		}
	}
}

// Mappings implements sync/repository.MappingRepository.
type Mappings struct {
	CreateErr error
	UpdateErr error
	DeleteErr error

	Rows map[uuid.UUID]*syncEntity.Mapping

	mu sync.Mutex
}

func (s *Mappings) Add(m *syncEntity.Mapping) *syncEntity.Mapping {
	m.Touch(time.Now().UTC())
	if m.SyncStatus == "" {
		m.SyncStatus = syncEntity.SyncStatusSynced
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Rows[m.ID] = m
	return m
}

func (s *Mappings) find(keep func(*syncEntity.Mapping) bool) []syncEntity.Mapping {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []syncEntity.Mapping
	for _, m := range s.Rows {
		if keep(m) {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (s *Mappings) first(keep func(*syncEntity.Mapping) bool) *syncEntity.Mapping {
	found := s.find(keep)
	if len(found) == 0 {
		return nil
	}
	return &found[0]
}

// All returns every row, oldest first.
func (s *Mappings) All() []syncEntity.Mapping {
	return s.find(func(*syncEntity.Mapping) bool { return true })
}

// Placeholders returns every placeholder row, oldest first.
func (s *Mappings) Placeholders() []syncEntity.Mapping {
	return s.find(func(m *syncEntity.Mapping) bool { return m.IsBlockingPlaceholder() })
}

func sameID(p *uuid.UUID, id uuid.UUID) bool {
	return p != nil && *p == id
}

func (s *Mappings) GetByID(_ context.Context, id uuid.UUID) (*syncEntity.Mapping, error) {
	return s.first(func(m *syncEntity.Mapping) bool { return m.ID == id }), nil
}

func (s *Mappings) GetBySourceAndExternal(_ context.Context, sourceID uuid.UUID, externalID string) (*syncEntity.Mapping, error) {
	return s.first(func(m *syncEntity.Mapping) bool {
		return m.SourceID == sourceID && m.ExternalEventID == externalID
	}), nil
}

func (s *Mappings) GetByItemAndSource(_ context.Context, itemID, sourceID uuid.UUID) (*syncEntity.Mapping, error) {
	return s.first(func(m *syncEntity.Mapping) bool {
		return sameID(m.ItemID, itemID) && m.SourceID == sourceID && !m.IsPlaceholder
	}), nil
}

func (s *Mappings) ListByItem(_ context.Context, itemID uuid.UUID) ([]syncEntity.Mapping, error) {
	return s.find(func(m *syncEntity.Mapping) bool { return sameID(m.ItemID, itemID) }), nil
}

func (s *Mappings) ListBlockedBy(_ context.Context, mappingID uuid.UUID) ([]syncEntity.Mapping, error) {
	return s.find(func(m *syncEntity.Mapping) bool { return sameID(m.BlockedByMappingID, mappingID) }), nil
}

func (s *Mappings) ListBlockedByItem(_ context.Context, itemID uuid.UUID) ([]syncEntity.Mapping, error) {
	return s.find(func(m *syncEntity.Mapping) bool { return sameID(m.BlockedByItemID, itemID) }), nil
}

func (s *Mappings) ListPlaceholdersCausedBy(_ context.Context, connectionID uuid.UUID) ([]syncEntity.Mapping, error) {
	origins := map[uuid.UUID]bool{}
	for _, m := range s.find(func(m *syncEntity.Mapping) bool { return m.ConnectionID == connectionID }) {
		origins[m.ID] = true
	}
	return s.find(func(m *syncEntity.Mapping) bool {
		return m.BlockedByMappingID != nil && origins[*m.BlockedByMappingID] && m.ConnectionID != connectionID
	}), nil
}

func (s *Mappings) ListPlaceholdersOn(_ context.Context, connectionID uuid.UUID) ([]syncEntity.Mapping, error) {
	return s.find(func(m *syncEntity.Mapping) bool { return m.ConnectionID == connectionID && m.IsPlaceholder }), nil
}

func (s *Mappings) Create(_ context.Context, m *syncEntity.Mapping) error {
	if s.CreateErr != nil {
		return s.CreateErr
	}
	m.Touch(time.Now().UTC())
	if m.SyncStatus == "" {
		m.SyncStatus = syncEntity.SyncStatusSynced
	}
	if m.LastDirection == "" {
		m.LastDirection = syncEntity.DirectionInbound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.Rows {
		if existing.SourceID == m.SourceID && existing.ExternalEventID == m.ExternalEventID {
			return ErrDuplicate
		}
	}
	cp := *m
	s.Rows[m.ID] = &cp
	return nil
}

func (s *Mappings) Update(_ context.Context, m *syncEntity.Mapping) error {
	if s.UpdateErr != nil {
		return s.UpdateErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.Rows[m.ID]; !ok {
		return nil
	}
	cp := *m
	s.Rows[m.ID] = &cp
	return nil
}

func (s *Mappings) UpdateStatus(_ context.Context, id uuid.UUID, status syncEntity.SyncStatus) error {
	if s.UpdateErr != nil {
		return s.UpdateErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.Rows[id]; ok {
		m.SyncStatus = status
	}
	return nil
}

// dropItem removes mappings of a deleted planner item, like the cascade.
func (s *Mappings) dropItem(itemID uuid.UUID) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, m := range s.Rows {
		if !sameID(m.ItemID, itemID) {
			continue
		}
		delete(s.Rows, id)
		for _, dep := range s.Rows {
			if sameID(dep.BlockedByMappingID, id) {
				dep.BlockedByMappingID = nil
			}
		}
	}
}

// Delete clears blocked_by_mapping_id on dependents, like the foreign key.
func (s *Mappings) Delete(_ context.Context, id uuid.UUID) error {
	if s.DeleteErr != nil {
		return s.DeleteErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.Rows, id)
	for _, m := range s.Rows {
		if sameID(m.BlockedByMappingID, id) {
			m.BlockedByMappingID = nil
		}
	}
	return nil
}

// Conflicts implements sync/repository.ConflictRepository.
type Conflicts struct {
	CreateErr error

	Rows []syncEntity.Conflict

	mu sync.Mutex
}

func (s *Conflicts) Create(_ context.Context, c *syncEntity.Conflict) error {
	if s.CreateErr != nil {
		return s.CreateErr
	}
	c.Touch(time.Now().UTC())
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Rows = append(s.Rows, *c)
	return nil
}

func (s *Conflicts) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.Rows[:0]
	var n int64
	for _, c := range s.Rows {
		if !c.Resolved && c.ExpiresAt.Before(now) {
			n++
			continue
		}
		kept = append(kept, c)
	}
	s.Rows = kept
	return n, nil
}

func (s *Conflicts) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Rows)
}

// Planner implements planner/repository.PlannerRepository.
type Planner struct {
	CreateErr error
	UpdateErr error
	DeleteErr error

	Days     map[string]*plannerEntity.Day
	Items    map[uuid.UUID]*plannerEntity.Item
	Settings map[uuid.UUID]*plannerEntity.Settings

	mappings *Mappings
	mu       sync.Mutex
}

func NewPlanner() *Planner {
	return &Planner{
		Days:     map[string]*plannerEntity.Day{},
		Items:    map[uuid.UUID]*plannerEntity.Item{},
		Settings: map[uuid.UUID]*plannerEntity.Settings{},
	}
}

func (s *Planner) EnsureDay(_ context.Context, userID uuid.UUID, day time.Time) (*plannerEntity.Day, error) {
	key := userID.String() + "/" + day.Format("2006-01-02")
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.Days[key]; ok {
		return d, nil
	}
	d := &plannerEntity.Day{UserID: userID, Day: day}
	d.Touch(time.Now().UTC())
	s.Days[key] = d
	return d, nil
}

func (s *Planner) CreateItem(_ context.Context, item *plannerEntity.Item) error {
	if s.CreateErr != nil {
		return s.CreateErr
	}
	item.Touch(time.Now().UTC())
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *item
	s.Items[item.ID] = &cp
	return nil
}

func (s *Planner) UpdateItem(_ context.Context, item *plannerEntity.Item) error {
	if s.UpdateErr != nil {
		return s.UpdateErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.Items[item.ID]; !ok {
		return nil
	}
	cp := *item
	s.Items[item.ID] = &cp
	return nil
}

func (s *Planner) DeleteItem(_ context.Context, id uuid.UUID) error {
	if s.DeleteErr != nil {
		return s.DeleteErr
	}
	s.mu.Lock()
	delete(s.Items, id)
	s.mu.Unlock()
	s.mappings.dropItem(id)
	return nil
}

func (s *Planner) DeleteBySource(_ context.Context, sourceID uuid.UUID) (int64, error) {
	if s.DeleteErr != nil {
		return 0, s.DeleteErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, item := range s.Items {
		if item.Kind == plannerEntity.KindEvent && sameID(item.SourceID, sourceID) {
			delete(s.Items, id)
			s.mappings.dropItem(id)
			n++
		}
	}
	return n, nil
}

func (s *Planner) GetItem(_ context.Context, id uuid.UUID) (*plannerEntity.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.Items[id]
	if !ok {
		return nil, nil
	}
	cp := *item
	return &cp, nil
}

func (s *Planner) GetSettings(_ context.Context, userID uuid.UUID) (*plannerEntity.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.Settings[userID]
	if !ok {
		return nil, nil
	}
	cp := *st
	return &cp, nil
}

// ItemsOf returns the items of a user sorted by start.
func (s *Planner) ItemsOf(userID uuid.UUID) []plannerEntity.Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []plannerEntity.Item
	for _, item := range s.Items {
		if item.UserID == userID {
			out = append(out, *item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartAt.Before(out[j].StartAt) })
	return out
}

// Tokens implements token/repository.TokenRepository.
type Tokens struct {
	GetErr    error
	UpsertErr error

	Rows        map[uuid.UUID]*tokenEntity.Token
	UpsertCalls int

	mu sync.Mutex
}

func (s *Tokens) Get(_ context.Context, connectionID uuid.UUID) (*tokenEntity.Token, error) {
	if s.GetErr != nil {
		return nil, s.GetErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := s.Rows[connectionID]
	if !ok {
		return nil, nil
	}
	cp := *tok
	return &cp, nil
}

func (s *Tokens) Upsert(_ context.Context, tok *tokenEntity.Token) error {
	if s.UpsertErr != nil {
		return s.UpsertErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.UpsertCalls++
	cp := *tok
	s.Rows[tok.ConnectionID] = &cp
	return nil
}

func (s *Tokens) Delete(_ context.Context, connectionID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.Rows, connectionID)
	return nil
}

func (s *Tokens) ListExpiringBefore(_ context.Context, before time.Time) ([]uuid.UUID, error) {
	if s.GetErr != nil {
		return nil, s.GetErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []uuid.UUID
	for id, tok := range s.Rows {
		if tok.ExpiresAt != nil && tok.ExpiresAt.Before(before) {
			out = append(out, id)
		}
	}
	return out, nil
}

// AuditLogs implements audit/repository.AuditRepository.
type AuditLogs struct {
	CreateErr error
	DeleteErr error

	Rows []auditEntity.AuditLog

	mu sync.Mutex
}

func (s *AuditLogs) Create(_ context.Context, log *auditEntity.AuditLog) error {
	if s.CreateErr != nil {
		return s.CreateErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Rows = append(s.Rows, *log)
	return nil
}

func (s *AuditLogs) ListOlderThan(_ context.Context, before time.Time, limit int) ([]auditEntity.AuditLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []auditEntity.AuditLog
	for _, l := range s.Rows {
		if l.CreatedAt.Before(before) {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *AuditLogs) DeleteByIDs(_ context.Context, ids []uuid.UUID) (int64, error) {
	if s.DeleteErr != nil {
		return 0, s.DeleteErr
	}
	drop := map[uuid.UUID]bool{}
	for _, id := range ids {
		drop[id] = true
	}
	return s.remove(func(l auditEntity.AuditLog) bool { return drop[l.ID] }), nil
}

func (s *AuditLogs) DeleteOlderThan(_ context.Context, before time.Time) (int64, error) {
	if s.DeleteErr != nil {
		return 0, s.DeleteErr
	}
	return s.remove(func(l auditEntity.AuditLog) bool { return l.CreatedAt.Before(before) }), nil
}

func (s *AuditLogs) remove(drop func(auditEntity.AuditLog) bool) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.Rows[:0]
	var n int64
	for _, l := range s.Rows {
		if drop(l) {
			n++
			continue
		}
		kept = append(kept, l)
	}
	s.Rows = kept
	return n
}

func (s *AuditLogs) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Rows)
}
