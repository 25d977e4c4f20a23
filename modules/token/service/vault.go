package service

import (
	"context"
	"fmt"
	"time"

	"calendar-sync/core/constants"
	"calendar-sync/core/errors"
	"calendar-sync/core/logger"
	connEntity "calendar-sync/modules/connection/entity"
	"calendar-sync/modules/provider"
	"calendar-sync/modules/token/entity"
	"calendar-sync/modules/token/repository"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// ConnectionStore is the part of the connection repository the vault needs.
type ConnectionStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*connEntity.Connection, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status connEntity.ConnectionStatus, lastError string) error
}

type VaultInterface interface {
	Store(ctx context.Context, connectionID uuid.UUID, tok *provider.Token) error
	GetValidToken(ctx context.Context, connectionID uuid.UUID) (string, error)
	Credentials(ctx context.Context, conn *connEntity.Connection) (provider.Credentials, error)
	Delete(ctx context.Context, connectionID uuid.UUID) error
	ListExpiring(ctx context.Context, within time.Duration) ([]uuid.UUID, error)
}

type Vault struct {
	repo     repository.TokenRepository
	conns    ConnectionStore
	cipher   *Cipher
	registry *provider.Registry
	now      func() time.Time
	group    singleflight.Group
}

func NewVault(repo repository.TokenRepository, conns ConnectionStore, cipher *Cipher, registry *provider.Registry) *Vault {
	return &Vault{
		repo:     repo,
		conns:    conns,
		cipher:   cipher,
		registry: registry,
		now:      time.Now,
	}
}

// WithClock replaces the time source.
func (v *Vault) WithClock(now func() time.Time) *Vault {
	v.now = now
	return v
}

func aad(connectionID uuid.UUID) []byte {
	return connectionID[:]
}

// Store encrypts and persists tok. An empty refresh token keeps the stored one,
// since providers only return it on first consent.
func (v *Vault) Store(ctx context.Context, connectionID uuid.UUID, tok *provider.Token) error {
	access, err := v.cipher.Seal(tok.AccessToken, aad(connectionID))
	if err != nil {
		return err
	}
	record := &entity.Token{
		ConnectionID: connectionID,
		AccessToken:  access,
		Scopes:       tok.Scopes,
	}
	if record.Scopes == nil {
		record.Scopes = []string{}
	}
	if !tok.Expiry.IsZero() {
		exp := tok.Expiry.UTC()
		record.ExpiresAt = &exp
	}

	if tok.RefreshToken != "" {
		if record.RefreshToken, err = v.cipher.Seal(tok.RefreshToken, aad(connectionID)); err != nil {
			return err
		}
	} else {
		existing, err := v.repo.Get(ctx, connectionID)
		if err != nil {
			return err
		}
		if existing != nil {
			record.RefreshToken = existing.RefreshToken
			if len(tok.Scopes) == 0 {
				record.Scopes = existing.Scopes
			}
		}
	}

	if err := v.repo.Upsert(ctx, record); err != nil {
		logger.Error("TokenVault:Store:Upsert:Error", "connection_id", connectionID, "error", err)
		return err
	}
	return nil
}

func (v *Vault) decrypt(record *entity.Token) (provider.Credentials, error) {
	access, err := v.cipher.Open(record.AccessToken, aad(record.ConnectionID))
	if err != nil {
		return provider.Credentials{}, err
	}
	refresh, err := v.cipher.Open(record.RefreshToken, aad(record.ConnectionID))
	if err != nil {
		return provider.Credentials{}, err
	}
	creds := provider.Credentials{AccessToken: access, RefreshToken: refresh, Scopes: record.Scopes}
	if record.ExpiresAt != nil {
		creds.Expiry = *record.ExpiresAt
	}
	return creds, nil
}

// GetValidToken returns a decrypted access token, refreshing inline when it
// expires within the refresh buffer.
func (v *Vault) GetValidToken(ctx context.Context, connectionID uuid.UUID) (string, error) {
	conn, err := v.loadConnection(ctx, connectionID)
	if err != nil {
		return "", err
	}
	creds, err := v.valid(ctx, conn)
	if err != nil {
		return "", err
	}
	return creds.AccessToken, nil
}

// Credentials returns everything an adapter needs for conn.
func (v *Vault) Credentials(ctx context.Context, conn *connEntity.Connection) (provider.Credentials, error) {
	creds, err := v.valid(ctx, conn)
	if err != nil {
		return provider.Credentials{}, err
	}
	creds.ServerURL = conn.ServerURL
	creds.Username = conn.Username
	return creds, nil
}

func (v *Vault) Delete(ctx context.Context, connectionID uuid.UUID) error {
	return v.repo.Delete(ctx, connectionID)
}

func (v *Vault) ListExpiring(ctx context.Context, within time.Duration) ([]uuid.UUID, error) {
	return v.repo.ListExpiringBefore(ctx, v.now().Add(within))
}

func (v *Vault) loadConnection(ctx context.Context, connectionID uuid.UUID) (*connEntity.Connection, error) {
	conn, err := v.conns.GetByID(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	if conn == nil {
		return nil, errors.NewAppError(errors.ErrNotFound, "connection not found", provider.ErrNotFound)
	}
	return conn, nil
}

func (v *Vault) valid(ctx context.Context, conn *connEntity.Connection) (provider.Credentials, error) {
	record, err := v.repo.Get(ctx, conn.ID)
	if err != nil {
		return provider.Credentials{}, err
	}
	if record == nil {
		return provider.Credentials{}, fmt.Errorf("%w: no token stored for connection %s", provider.ErrAuthExpired, conn.ID)
	}
	if !record.ExpiresWithin(v.now(), constants.TokenRefreshBuffer) {
		return v.decrypt(record)
	}

	// Callers racing on one connection share a single refresh. It must not
	// die with whichever caller happened to start it.
	refreshCtx := context.WithoutCancel(ctx)
	result, err, _ := v.group.Do(conn.ID.String(), func() (any, error) {
		return v.refresh(refreshCtx, conn)
	})
	if err != nil {
		return provider.Credentials{}, err
	}
	return result.(provider.Credentials), nil
}

func (v *Vault) refresh(ctx context.Context, conn *connEntity.Connection) (provider.Credentials, error) {
	// Re-read: a caller that just left the group may have refreshed already.
	record, err := v.repo.Get(ctx, conn.ID)
	if err != nil {
		return provider.Credentials{}, err
	}
	if record == nil {
		return provider.Credentials{}, fmt.Errorf("%w: no token stored for connection %s", provider.ErrAuthExpired, conn.ID)
	}
	creds, err := v.decrypt(record)
	if err != nil {
		return provider.Credentials{}, err
	}
	if !record.ExpiresWithin(v.now(), constants.TokenRefreshBuffer) {
		return creds, nil
	}

	adapter, err := v.registry.Get(conn.Provider)
	if err != nil {
		return provider.Credentials{}, err
	}
	creds.ServerURL = conn.ServerURL
	creds.Username = conn.Username

	tok, err := adapter.Refresh(ctx, creds)
	if err != nil {
		if errors.Is(err, provider.ErrAuthExpired) {
			logger.Warn("TokenVault:Refresh:AuthExpired", "connection_id", conn.ID, "provider", conn.Provider)
			if uerr := v.conns.UpdateStatus(ctx, conn.ID, connEntity.StatusTokenExpired, "authorization expired"); uerr != nil {
				logger.Error("TokenVault:Refresh:UpdateStatus:Error", "connection_id", conn.ID, "error", uerr)
			}
		} else {
			logger.Error("TokenVault:Refresh:Error", "connection_id", conn.ID, "provider", conn.Provider, "error", err)
		}
		return provider.Credentials{}, err
	}

	if err := v.Store(ctx, conn.ID, tok); err != nil {
		return provider.Credentials{}, err
	}
	logger.Info("TokenVault:Refresh:Success", "connection_id", conn.ID, "provider", conn.Provider, "expires_at", tok.Expiry)

	creds.AccessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		creds.RefreshToken = tok.RefreshToken
	}
	creds.Expiry = tok.Expiry
	if len(tok.Scopes) > 0 {
		creds.Scopes = tok.Scopes
	}
	return creds, nil
}
