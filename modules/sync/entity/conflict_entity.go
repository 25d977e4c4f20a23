package entity

import (
	"time"

	"calendar-sync/core/entity"

	"github.com/google/uuid"
)

// Conflict records an outbound write rejected because the remote event
// changed since it was last read.
type Conflict struct {
	entity.BaseEntity
	MappingID     uuid.UUID `db:"mapping_id" json:"mapping_id"`
	UserID        uuid.UUID `db:"user_id" json:"user_id"`
	LocalSnapshot string    `db:"local_snapshot" json:"local_snapshot"`
	RemoteETag    string    `db:"remote_etag" json:"remote_etag"`
	Resolved      bool      `db:"resolved" json:"resolved"`
	ExpiresAt     time.Time `db:"expires_at" json:"expires_at"`
}
