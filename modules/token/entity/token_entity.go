package entity

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Token is the encrypted credential row for one connection. Both token
// columns hold nonce-prefixed ciphertext.
type Token struct {
	ConnectionID uuid.UUID      `db:"connection_id"`
	AccessToken  []byte         `db:"access_token"`
	RefreshToken []byte         `db:"refresh_token"`
	ExpiresAt    *time.Time     `db:"expires_at"`
	Scopes       pq.StringArray `db:"scopes"`
	CreatedAt    time.Time      `db:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at"`
}

// ExpiresWithin reports whether the token expires inside d of now. Tokens
// without an expiry never do.
func (t *Token) ExpiresWithin(now time.Time, d time.Duration) bool {
	if t.ExpiresAt == nil || t.ExpiresAt.IsZero() {
		return false
	}
	return t.ExpiresAt.Sub(now) < d
}
