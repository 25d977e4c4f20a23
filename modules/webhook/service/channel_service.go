package service

import (
	"context"
	"fmt"
	"time"

	"calendar-sync/core/errors"
	"calendar-sync/core/logger"
	"calendar-sync/core/utils"
	auditEntity "calendar-sync/modules/audit/entity"
	auditService "calendar-sync/modules/audit/service"
	connEntity "calendar-sync/modules/connection/entity"
	"calendar-sync/modules/provider"
	"calendar-sync/modules/sync/guard"

	"github.com/google/uuid"
)

type SourceStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*connEntity.Source, error)
	UpdateWebhook(ctx context.Context, id uuid.UUID, channelID, resourceID string, expiresAt time.Time) error
	ClearWebhook(ctx context.Context, id uuid.UUID) error
}

type ConnectionStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*connEntity.Connection, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status connEntity.ConnectionStatus, lastError string) error
}

type CredentialSource interface {
	Credentials(ctx context.Context, conn *connEntity.Connection) (provider.Credentials, error)
}

type ChannelServiceInterface interface {
	Register(ctx context.Context, conn *connEntity.Connection, src *connEntity.Source) error
	Renew(ctx context.Context, sourceID uuid.UUID) error
	Cancel(ctx context.Context, conn *connEntity.Connection, src *connEntity.Source) error
}

// ChannelService owns the push channel lifecycle for sources whose provider
// supports webhooks.
type ChannelService struct {
	sources  SourceStore
	conns    ConnectionStore
	creds    CredentialSource
	registry *provider.Registry
	guard    *guard.Guard
	audit    auditService.Recorder
	baseURL  string
}

func NewChannelService(sources SourceStore, conns ConnectionStore, creds CredentialSource, registry *provider.Registry,
	g *guard.Guard, audit auditService.Recorder, baseURL string) *ChannelService {
	return &ChannelService{
		sources:  sources,
		conns:    conns,
		creds:    creds,
		registry: registry,
		guard:    g,
		audit:    audit,
		baseURL:  baseURL,
	}
}

// CallbackURL is the receipt endpoint for one source.
func CallbackURL(baseURL, providerName string, connectionID, sourceID uuid.UUID) string {
	return fmt.Sprintf("%s/api/v1/webhooks/%s/%s/%s", baseURL, providerName, connectionID, sourceID)
}

func (s *ChannelService) request(conn *connEntity.Connection, src *connEntity.Source) provider.ChannelRequest {
	return provider.ChannelRequest{
		ChannelID:   utils.GenerateChannelID(),
		CallbackURL: CallbackURL(s.baseURL, conn.Provider, conn.ID, src.ID),
		Secret:      conn.WebhookSecret,
	}
}

func (s *ChannelService) recordAudit(ctx context.Context, action auditEntity.Action, conn *connEntity.Connection, src *connEntity.Source, err error) {
	log := auditEntity.AuditLog{
		UserID:       auditEntity.Ref(conn.UserID),
		ConnectionID: auditEntity.Ref(conn.ID),
		SourceID:     auditEntity.Ref(src.ID),
		Provider:     conn.Provider,
		Action:       action,
	}
	if err != nil {
		log.Status = auditEntity.StatusFailure
		log.Message = err.Error()
	}
	s.audit.Record(ctx, log)
}

// Register opens a channel for src. Providers without push support are a no-op.
func (s *ChannelService) Register(ctx context.Context, conn *connEntity.Connection, src *connEntity.Source) error {
	if !s.registry.SupportsWebhooks(conn.Provider) {
		return nil
	}
	adapter, err := s.registry.Get(conn.Provider)
	if err != nil {
		return err
	}
	creds, err := s.creds.Credentials(ctx, conn)
	if err != nil {
		return err
	}
	var ch *provider.Channel
	err = s.guard.Call(ctx, conn.Provider, conn.UserID, func() error {
		var rerr error
		ch, rerr = adapter.RegisterWebhook(ctx, creds, src.ExternalCalendarID, s.request(conn, src))
		return rerr
	})
	if err == nil {
		err = s.sources.UpdateWebhook(ctx, src.ID, ch.ID, ch.ResourceID, ch.Expiry)
	}
	s.recordAudit(ctx, auditEntity.ActionWebhookRegister, conn, src, err)
	if err != nil {
		logger.Error("ChannelService:Register:Error", "source_id", src.ID, "provider", conn.Provider, "error", err)
		return err
	}
	logger.Info("ChannelService:Register:Success", "source_id", src.ID, "channel_id", ch.ID, "expires_at", ch.Expiry)
	return nil
}

// Renew extends or replaces the channel of a source, registering one when
// the source has none.
func (s *ChannelService) Renew(ctx context.Context, sourceID uuid.UUID) error {
	src, err := s.sources.GetByID(ctx, sourceID)
	if err != nil {
		return err
	}
	if src == nil {
		return nil
	}
	conn, err := s.conns.GetByID(ctx, src.ConnectionID)
	if err != nil {
		return err
	}
	if !conn.Usable() || !src.Enabled {
		return nil
	}
	if !src.HasWebhook() {
		return s.Register(ctx, conn, src)
	}
	if !s.registry.SupportsWebhooks(conn.Provider) {
		return nil
	}

	adapter, err := s.registry.Get(conn.Provider)
	if err != nil {
		return err
	}
	creds, err := s.creds.Credentials(ctx, conn)
	if err != nil {
		return err
	}
	current := provider.Channel{ID: src.WebhookChannelID, ResourceID: src.WebhookResourceID}
	if src.WebhookExpiresAt != nil {
		current.Expiry = *src.WebhookExpiresAt
	}
	var ch *provider.Channel
	err = s.guard.Call(ctx, conn.Provider, conn.UserID, func() error {
		var rerr error
		ch, rerr = adapter.RenewWebhook(ctx, creds, src.ExternalCalendarID, current, s.request(conn, src))
		return rerr
	})
	if err == nil {
		err = s.sources.UpdateWebhook(ctx, src.ID, ch.ID, ch.ResourceID, ch.Expiry)
	}
	s.recordAudit(ctx, auditEntity.ActionWebhookRenew, conn, src, err)
	if err != nil {
		logger.Error("ChannelService:Renew:Error", "source_id", src.ID, "provider", conn.Provider, "error", err)
		return err
	}
	return nil
}

// Cancel stops the channel and clears local bookkeeping. The provider call
// is best effort.
func (s *ChannelService) Cancel(ctx context.Context, conn *connEntity.Connection, src *connEntity.Source) error {
	if !src.HasWebhook() {
		return nil
	}
	if adapter, err := s.registry.Get(conn.Provider); err == nil {
		creds, err := s.creds.Credentials(ctx, conn)
		if err == nil {
			ch := provider.Channel{ID: src.WebhookChannelID, ResourceID: src.WebhookResourceID}
			err = adapter.CancelWebhook(ctx, creds, ch)
		}
		if err != nil && !errors.Is(err, provider.ErrNotFound) && !errors.Is(err, provider.ErrUnsupported) {
			logger.Warn("ChannelService:Cancel:Remote:Error", "source_id", src.ID, "error", err)
		}
	}
	return s.sources.ClearWebhook(ctx, src.ID)
}
