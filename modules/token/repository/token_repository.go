package repository

import (
	"context"
	"time"

	"calendar-sync/core/database"
	"calendar-sync/modules/token/entity"

	"github.com/google/uuid"
)

type TokenRepository interface {
	// Get returns (nil, nil) when the connection has no token.
	Get(ctx context.Context, connectionID uuid.UUID) (*entity.Token, error)
	Upsert(ctx context.Context, tok *entity.Token) error
	Delete(ctx context.Context, connectionID uuid.UUID) error
	ListExpiringBefore(ctx context.Context, before time.Time) ([]uuid.UUID, error)
}

type tokenRepository struct {
	db database.IDatabase
}

func NewTokenRepository(db database.IDatabase) TokenRepository {
	return &tokenRepository{db: db}
}

func (r *tokenRepository) Get(ctx context.Context, connectionID uuid.UUID) (*entity.Token, error) {
	var tok entity.Token
	query := `
		SELECT connection_id, access_token, refresh_token, expires_at, scopes, created_at, updated_at
		FROM oauth_tokens WHERE connection_id = $1
	`
	if err := r.db.GetContext(ctx, &tok, query, connectionID); err != nil {
		if database.IsNoRows(err) {
			return nil, nil
		}
		return nil, err
	}
	return &tok, nil
}

func (r *tokenRepository) Upsert(ctx context.Context, tok *entity.Token) error {
	query := `
		INSERT INTO oauth_tokens (connection_id, access_token, refresh_token, expires_at, scopes, created_at, updated_at)
		VALUES (:connection_id, :access_token, :refresh_token, :expires_at, :scopes, NOW(), NOW())
		ON CONFLICT (connection_id) DO UPDATE
		SET access_token = EXCLUDED.access_token, refresh_token = EXCLUDED.refresh_token,
			expires_at = EXCLUDED.expires_at, scopes = EXCLUDED.scopes, updated_at = NOW()
	`
	_, err := r.db.NamedExecContext(ctx, query, tok)
	return err
}

func (r *tokenRepository) Delete(ctx context.Context, connectionID uuid.UUID) error {
	return r.db.ExecContext(ctx, `DELETE FROM oauth_tokens WHERE connection_id = $1`, connectionID)
}

// ListExpiringBefore skips tokens of connections that already need re-authorization.
func (r *tokenRepository) ListExpiringBefore(ctx context.Context, before time.Time) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	query := `
		SELECT t.connection_id
		FROM oauth_tokens t JOIN connections c ON c.id = t.connection_id
		WHERE t.expires_at IS NOT NULL AND t.expires_at < $1
			AND c.enabled AND c.status IN ('active', 'initial-sync')
	`
	if err := r.db.SelectContext(ctx, &ids, query, before); err != nil {
		return nil, err
	}
	return ids, nil
}
