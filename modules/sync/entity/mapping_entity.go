package entity

import (
	"time"

	"calendar-sync/core/entity"

	"github.com/google/uuid"
)

type SyncStatus string

const (
	SyncStatusSynced          SyncStatus = "synced"
	SyncStatusPendingOutbound SyncStatus = "pending-outbound"
	SyncStatusError           SyncStatus = "error"
)

type SyncDirection string

const (
	DirectionInbound  SyncDirection = "inbound"
	DirectionOutbound SyncDirection = "outbound"
)

// Mapping correlates one external event on a source with at most one planner
// item. Placeholders point back at what they block through BlockedByMappingID
// (an inbound event) or BlockedByItemID (a planner focus block).
type Mapping struct {
	entity.BaseEntity
	UserID             uuid.UUID     `db:"user_id" json:"user_id"`
	ConnectionID       uuid.UUID     `db:"connection_id" json:"connection_id"`
	SourceID           uuid.UUID     `db:"source_id" json:"source_id"`
	ExternalEventID    string        `db:"external_event_id" json:"external_event_id"`
	ItemID             *uuid.UUID    `db:"item_id" json:"item_id,omitempty"`
	ETag               string        `db:"etag" json:"etag"`
	ExternalUpdatedAt  *time.Time    `db:"external_updated_at" json:"external_updated_at,omitempty"`
	Title              string        `db:"title" json:"title"`
	StartAt            *time.Time    `db:"start_at" json:"start_at,omitempty"`
	EndAt              *time.Time    `db:"end_at" json:"end_at,omitempty"`
	AllDay             bool          `db:"all_day" json:"all_day"`
	SyncStatus         SyncStatus    `db:"sync_status" json:"sync_status"`
	LastDirection      SyncDirection `db:"last_direction" json:"last_direction"`
	IsPlaceholder      bool          `db:"is_placeholder" json:"is_placeholder"`
	BlockedByMappingID *uuid.UUID    `db:"blocked_by_mapping_id" json:"blocked_by_mapping_id,omitempty"`
	BlockedByItemID    *uuid.UUID    `db:"blocked_by_item_id" json:"blocked_by_item_id,omitempty"`
}

// IsBlockingPlaceholder reports whether the mapping tracks a synthetic busy
// event. Placeholders are never used as a sync source.
func (m *Mapping) IsBlockingPlaceholder() bool {
	return m.IsPlaceholder || m.BlockedByMappingID != nil || m.BlockedByItemID != nil
}

// Remember caches the external metadata last seen for the event.
func (m *Mapping) Remember(title string, start, end time.Time, allDay bool, etag string, updatedAt time.Time) {
	s, e := start.UTC(), end.UTC()
	m.Title = title
	m.StartAt = &s
	m.EndAt = &e
	m.AllDay = allDay
	if etag != "" {
		m.ETag = etag
	}
	if !updatedAt.IsZero() {
		u := updatedAt.UTC()
		m.ExternalUpdatedAt = &u
	}
}
