package entity

import (
	"calendar-sync/core/entity"

	"github.com/google/uuid"
)

type ConnectionStatus string

const (
	StatusConnecting   ConnectionStatus = "connecting"
	StatusActive       ConnectionStatus = "active"
	StatusInitialSync  ConnectionStatus = "initial-sync"
	StatusTokenExpired ConnectionStatus = "token-expired"
	StatusError        ConnectionStatus = "error"
	StatusDisconnected ConnectionStatus = "disconnected"
)

var validStatuses = map[ConnectionStatus]bool{
	StatusConnecting:   true,
	StatusActive:       true,
	StatusInitialSync:  true,
	StatusTokenExpired: true,
	StatusError:        true,
	StatusDisconnected: true,
}

func (s ConnectionStatus) IsValid() bool {
	return validStatuses[s]
}

// Syncable reports whether jobs may run against a connection in this state.
func (s ConnectionStatus) Syncable() bool {
	return s == StatusActive || s == StatusInitialSync
}

type Connection struct {
	entity.BaseEntity
	UserID              uuid.UUID        `db:"user_id" json:"user_id"`
	Provider            string           `db:"provider" json:"provider"`
	Status              ConnectionStatus `db:"status" json:"status"`
	Enabled             bool             `db:"enabled" json:"enabled"`
	AccountID           string           `db:"account_id" json:"account_id"`
	AccountEmail        string           `db:"account_email" json:"account_email"`
	ServerURL           string           `db:"server_url" json:"server_url,omitempty"`
	Username            string           `db:"username" json:"username,omitempty"`
	WebhookSecret       string           `db:"webhook_secret" json:"-"`
	SyncIntervalMinutes int              `db:"sync_interval_minutes" json:"sync_interval_minutes"`
	LastError           string           `db:"last_error" json:"last_error,omitempty"`
}

func (c *Connection) Usable() bool {
	return c != nil && c.Enabled && c.Status.Syncable()
}
