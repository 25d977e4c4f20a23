package dto

import (
	"time"

	"calendar-sync/modules/connection/entity"

	"github.com/google/uuid"
)

type AuthURLResponse struct {
	URL          string    `json:"url"`
	ConnectionID uuid.UUID `json:"connection_id"`
}

type CalDAVConnectRequest struct {
	ServerURL string `json:"server_url"`
	Username  string `json:"username"`
	Password  string `json:"password"`
}

// UpdateSourceRequest leaves fields that are nil untouched.
type UpdateSourceRequest struct {
	Direction *entity.Direction `json:"direction"`
	Privacy   *entity.Privacy   `json:"privacy"`
	Enabled   *bool             `json:"enabled"`
	Color     *string           `json:"color"`
}

type SourceResponse struct {
	ID           uuid.UUID        `json:"id"`
	Name         string           `json:"name"`
	Color        string           `json:"color"`
	Direction    entity.Direction `json:"direction"`
	Privacy      entity.Privacy   `json:"privacy"`
	Enabled      bool             `json:"enabled"`
	ReadOnly     bool             `json:"read_only"`
	IsPrimary    bool             `json:"is_primary"`
	LastSyncedAt *time.Time       `json:"last_synced_at,omitempty"`
	Webhook      bool             `json:"webhook"`
}

type ConnectionResponse struct {
	ID           uuid.UUID               `json:"id"`
	Provider     string                  `json:"provider"`
	Status       entity.ConnectionStatus `json:"status"`
	Enabled      bool                    `json:"enabled"`
	AccountEmail string                  `json:"account_email"`
	LastError    string                  `json:"last_error,omitempty"`
	Sources      []SourceResponse        `json:"sources"`
}

func ToSourceResponse(s entity.Source) SourceResponse {
	return SourceResponse{
		ID:           s.ID,
		Name:         s.Name,
		Color:        s.Color,
		Direction:    s.Direction,
		Privacy:      s.Privacy,
		Enabled:      s.Enabled,
		ReadOnly:     s.ReadOnly,
		IsPrimary:    s.IsPrimary,
		LastSyncedAt: s.LastSyncedAt,
		Webhook:      s.HasWebhook(),
	}
}
