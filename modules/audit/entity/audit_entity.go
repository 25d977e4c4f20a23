package entity

import (
	"time"

	"github.com/google/uuid"
)

type Action string

const (
	ActionSyncInbound       Action = "sync.inbound"
	ActionSyncOutbound      Action = "sync.outbound"
	ActionTokenRefresh      Action = "token.refresh"
	ActionWebhookRegister   Action = "webhook.register"
	ActionWebhookRenew      Action = "webhook.renew"
	ActionWebhookNotify     Action = "webhook.notification"
	ActionConnect           Action = "connection.connect"
	ActionDisconnect        Action = "connection.disconnect"
	ActionRetentionCleanup  Action = "maintenance.cleanup"
	ActionBlockingPropagate Action = "blocking.propagate"
)

type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
	StatusSkipped Status = "skipped"
)

type AuditLog struct {
	ID           uuid.UUID  `db:"id" json:"id"`
	UserID       *uuid.UUID `db:"user_id" json:"user_id,omitempty"`
	ConnectionID *uuid.UUID `db:"connection_id" json:"connection_id,omitempty"`
	SourceID     *uuid.UUID `db:"source_id" json:"source_id,omitempty"`
	Provider     string     `db:"provider" json:"provider,omitempty"`
	Action       Action     `db:"action" json:"action"`
	Status       Status     `db:"status" json:"status"`
	Message      string     `db:"message" json:"message,omitempty"`
	Created      int        `db:"created_count" json:"created"`
	Updated      int        `db:"updated_count" json:"updated"`
	Deleted      int        `db:"deleted_count" json:"deleted"`
	Skipped      int        `db:"skipped_count" json:"skipped"`
	DurationMs   int64      `db:"duration_ms" json:"duration_ms"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
}

// Ref returns a pointer to id, or nil for the zero uuid.
func Ref(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}
