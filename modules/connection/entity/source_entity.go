package entity

import (
	"time"

	"calendar-sync/core/entity"

	"github.com/google/uuid"
)

type Direction string

const (
	DirectionBidirectional Direction = "bidirectional"
	DirectionReadOnly      Direction = "read-only"
	DirectionWriteOnly     Direction = "write-only"
)

var validDirections = map[Direction]bool{
	DirectionBidirectional: true,
	DirectionReadOnly:      true,
	DirectionWriteOnly:     true,
}

func (d Direction) IsValid() bool {
	return validDirections[d]
}

type Privacy string

const (
	PrivacyFull      Privacy = "full"
	PrivacyTitleOnly Privacy = "title-only"
	PrivacyBusyOnly  Privacy = "busy-only"
)

var validPrivacy = map[Privacy]bool{
	PrivacyFull:      true,
	PrivacyTitleOnly: true,
	PrivacyBusyOnly:  true,
}

func (p Privacy) IsValid() bool {
	return validPrivacy[p]
}

type Source struct {
	entity.BaseEntity
	ConnectionID       uuid.UUID  `db:"connection_id" json:"connection_id"`
	UserID             uuid.UUID  `db:"user_id" json:"user_id"`
	ExternalCalendarID string     `db:"external_calendar_id" json:"external_calendar_id"`
	Name               string     `db:"name" json:"name"`
	Color              string     `db:"color" json:"color"`
	Direction          Direction  `db:"direction" json:"direction"`
	Privacy            Privacy    `db:"privacy" json:"privacy"`
	Enabled            bool       `db:"enabled" json:"enabled"`
	ReadOnly           bool       `db:"read_only" json:"read_only"`
	IsPrimary          bool       `db:"is_primary" json:"is_primary"`
	Cursor             string     `db:"sync_cursor" json:"-"`
	LastSyncedAt       *time.Time `db:"last_synced_at" json:"last_synced_at,omitempty"`
	WebhookChannelID   string     `db:"webhook_channel_id" json:"-"`
	WebhookResourceID  string     `db:"webhook_resource_id" json:"-"`
	WebhookExpiresAt   *time.Time `db:"webhook_expires_at" json:"webhook_expires_at,omitempty"`
}

// Writable sources receive outbound writes and blocking placeholders.
func (s *Source) Writable() bool {
	return s.Enabled && !s.ReadOnly && s.Direction != DirectionReadOnly
}

// Readable sources are pulled by inbound sync.
func (s *Source) Readable() bool {
	return s.Enabled && s.Direction != DirectionWriteOnly
}

func (s *Source) HasWebhook() bool {
	return s.WebhookChannelID != ""
}

// SourceWithProvider is a source joined with its connection's provider tag.
type SourceWithProvider struct {
	Source
	Provider            string `db:"provider"`
	SyncIntervalMinutes int    `db:"sync_interval_minutes"`
}
