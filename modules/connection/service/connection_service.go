package service

import (
	"context"
	"net/url"
	"strings"
	"time"

	"calendar-sync/core/constants"
	"calendar-sync/core/errors"
	"calendar-sync/core/logger"
	"calendar-sync/core/utils"
	auditEntity "calendar-sync/modules/audit/entity"
	auditService "calendar-sync/modules/audit/service"
	blockingService "calendar-sync/modules/blocking/service"
	"calendar-sync/modules/connection/dto"
	"calendar-sync/modules/connection/entity"
	"calendar-sync/modules/connection/repository"
	plannerService "calendar-sync/modules/planner/service"
	"calendar-sync/modules/provider"
	syncService "calendar-sync/modules/sync/service"
	webhookService "calendar-sync/modules/webhook/service"

	"github.com/google/uuid"
)

// TokenStore is the part of the vault the connection flows use.
type TokenStore interface {
	Store(ctx context.Context, connectionID uuid.UUID, tok *provider.Token) error
	Credentials(ctx context.Context, conn *entity.Connection) (provider.Credentials, error)
	Delete(ctx context.Context, connectionID uuid.UUID) error
}

type ConnectionServiceInterface interface {
	BeginOAuth(ctx context.Context, userID uuid.UUID, providerName string) (*dto.AuthURLResponse, error)
	Reauthorize(ctx context.Context, userID, connectionID uuid.UUID) (*dto.AuthURLResponse, error)
	CompleteOAuth(ctx context.Context, state, code string) (*entity.Connection, error)
	ConnectCalDAV(ctx context.Context, userID uuid.UUID, req dto.CalDAVConnectRequest) (*entity.Connection, error)
	Disconnect(ctx context.Context, userID, connectionID uuid.UUID) error
	ListConnections(ctx context.Context, userID uuid.UUID) ([]dto.ConnectionResponse, error)
	UpdateSource(ctx context.Context, userID, sourceID uuid.UUID, req dto.UpdateSourceRequest) (*dto.SourceResponse, error)
	TriggerResync(ctx context.Context, userID, connectionID uuid.UUID) error
}

type Options struct {
	StateSecret string
	// RedirectURLs holds the OAuth callback per provider tag.
	RedirectURLs map[string]string
}

type Deps struct {
	Connections repository.ConnectionRepository
	Sources     repository.SourceRepository
	Tokens      TokenStore
	Registry    *provider.Registry
	Channels    webhookService.ChannelServiceInterface
	Dispatcher  syncService.DispatcherInterface
	Blocking    blockingService.BlockingServiceInterface
	Planner     plannerService.PlannerServiceInterface
	Audit       auditService.Recorder
}

type ConnectionService struct {
	conns      repository.ConnectionRepository
	sources    repository.SourceRepository
	tokens     TokenStore
	registry   *provider.Registry
	channels   webhookService.ChannelServiceInterface
	dispatcher syncService.DispatcherInterface
	blocking   blockingService.BlockingServiceInterface
	planner    plannerService.PlannerServiceInterface
	audit      auditService.Recorder
	opts       Options
	now        func() time.Time
}

func NewConnectionService(d Deps, opts Options) *ConnectionService {
	return &ConnectionService{
		conns:      d.Connections,
		sources:    d.Sources,
		tokens:     d.Tokens,
		registry:   d.Registry,
		channels:   d.Channels,
		dispatcher: d.Dispatcher,
		blocking:   d.Blocking,
		planner:    d.Planner,
		audit:      d.Audit,
		opts:       opts,
		now:        time.Now,
	}
}

func (s *ConnectionService) adapter(providerName string) (provider.Adapter, error) {
	a, err := s.registry.Get(providerName)
	if err != nil {
		return nil, errors.NewAppError(errors.ErrInvalidInput, "unknown provider", err)
	}
	return a, nil
}

func (s *ConnectionService) newConnection(userID uuid.UUID, providerName string) (*entity.Connection, error) {
	secret, err := utils.GenerateSecret(constants.WebhookSecretLength)
	if err != nil {
		return nil, err
	}
	conn := &entity.Connection{
		UserID:              userID,
		Provider:            providerName,
		Status:              entity.StatusConnecting,
		Enabled:             true,
		WebhookSecret:       secret,
		SyncIntervalMinutes: constants.DefaultSyncIntervalMinutes,
	}
	conn.Touch(s.now().UTC())
	return conn, nil
}

func (s *ConnectionService) authURL(a provider.Adapter, conn *entity.Connection) (*dto.AuthURLResponse, error) {
	state, err := utils.SignOAuthState(utils.OAuthState{
		UserID:       conn.UserID,
		ConnectionID: conn.ID,
		Provider:     conn.Provider,
	}, s.opts.StateSecret, constants.OAuthStateTTL)
	if err != nil {
		return nil, errors.NewAppError(errors.ErrInternalServer, "failed to sign state", err)
	}
	u, err := a.AuthCodeURL(state, s.opts.RedirectURLs[conn.Provider])
	if err != nil {
		if errors.Is(err, provider.ErrUnsupported) {
			return nil, errors.NewAppError(errors.ErrUnsupported, "provider does not use OAuth", err)
		}
		return nil, errors.NewAppError(errors.ErrInternalServer, "failed to build consent url", err)
	}
	return &dto.AuthURLResponse{URL: u, ConnectionID: conn.ID}, nil
}

// BeginOAuth creates a connection in connecting state and returns the
// provider consent URL.
func (s *ConnectionService) BeginOAuth(ctx context.Context, userID uuid.UUID, providerName string) (*dto.AuthURLResponse, error) {
	a, err := s.adapter(providerName)
	if err != nil {
		return nil, err
	}
	if !s.registry.SupportsOAuth(a.Name()) {
		return nil, errors.NewAppError(errors.ErrUnsupported, "provider does not use OAuth", provider.ErrUnsupported)
	}
	conn, err := s.newConnection(userID, a.Name())
	if err != nil {
		return nil, errors.NewAppError(errors.ErrInternalServer, "failed to create connection", err)
	}
	if err := s.conns.Create(ctx, conn); err != nil {
		logger.Error("ConnectionService:BeginOAuth:Create:Error", "user_id", userID, "provider", providerName, "error", err)
		return nil, errors.NewAppError(errors.ErrInternalServer, "failed to create connection", err)
	}
	return s.authURL(a, conn)
}

// Reauthorize starts a new consent round trip for an existing connection,
// typically one in token-expired state.
func (s *ConnectionService) Reauthorize(ctx context.Context, userID, connectionID uuid.UUID) (*dto.AuthURLResponse, error) {
	conn, err := s.owned(ctx, userID, connectionID)
	if err != nil {
		return nil, err
	}
	a, err := s.adapter(conn.Provider)
	if err != nil {
		return nil, err
	}
	return s.authURL(a, conn)
}

func (s *ConnectionService) owned(ctx context.Context, userID, connectionID uuid.UUID) (*entity.Connection, error) {
	conn, err := s.conns.GetByIDForUser(ctx, connectionID, userID)
	if err != nil {
		return nil, errors.NewAppError(errors.ErrInternalServer, "failed to load connection", err)
	}
	if conn == nil {
		return nil, errors.NewAppError(errors.ErrNotFound, "connection not found", nil)
	}
	return conn, nil
}

func (s *ConnectionService) fail(ctx context.Context, conn *entity.Connection, step string, err error) {
	logger.Error("ConnectionService:"+step+":Error", "connection_id", conn.ID, "provider", conn.Provider, "error", err)
	if uerr := s.conns.UpdateStatus(ctx, conn.ID, entity.StatusError, err.Error()); uerr != nil {
		logger.Error("ConnectionService:"+step+":UpdateStatus:Error", "connection_id", conn.ID, "error", uerr)
	}
	s.audit.Record(ctx, auditEntity.AuditLog{
		UserID:       auditEntity.Ref(conn.UserID),
		ConnectionID: auditEntity.Ref(conn.ID),
		Provider:     conn.Provider,
		Action:       auditEntity.ActionConnect,
		Status:       auditEntity.StatusFailure,
		Message:      step + ": " + err.Error(),
	})
}

// CompleteOAuth finishes the consent round trip: tokens are stored, one
// source is created per calendar, webhooks are opened where supported and
// an initial sync is queued per source.
func (s *ConnectionService) CompleteOAuth(ctx context.Context, state, code string) (*entity.Connection, error) {
	claims, err := utils.ParseOAuthState(state, s.opts.StateSecret)
	if err != nil {
		return nil, err
	}
	if code == "" {
		return nil, errors.NewAppError(errors.ErrInvalidInput, "missing authorization code", nil)
	}
	conn, err := s.owned(ctx, claims.UserID, claims.ConnectionID)
	if err != nil {
		return nil, err
	}
	if conn.Provider != claims.Provider {
		return nil, errors.NewAppError(errors.ErrUnauthorized, "state does not match connection", nil)
	}
	if conn.Status != entity.StatusConnecting && conn.Status != entity.StatusTokenExpired && conn.Status != entity.StatusError {
		return nil, errors.NewAppError(errors.ErrAlreadyExists, "connection is already "+string(conn.Status), nil)
	}
	a, err := s.adapter(conn.Provider)
	if err != nil {
		return nil, err
	}

	tok, err := a.Exchange(ctx, code, s.opts.RedirectURLs[conn.Provider])
	if err != nil {
		s.fail(ctx, conn, "CompleteOAuth:Exchange", err)
		return nil, errors.NewAppError(errors.ErrUnauthorized, "failed to exchange authorization code", err)
	}
	if err := s.tokens.Store(ctx, conn.ID, tok); err != nil {
		s.fail(ctx, conn, "CompleteOAuth:StoreToken", err)
		return nil, errors.NewAppError(errors.ErrInternalServer, "failed to store token", err)
	}
	conn.AccountID = tok.AccountID
	conn.AccountEmail = tok.AccountEmail

	if err := s.activate(ctx, a, conn); err != nil {
		return nil, err
	}
	return conn, nil
}

// ConnectCalDAV validates credentials by listing calendars, then stores the
// password in the vault without expiry.
func (s *ConnectionService) ConnectCalDAV(ctx context.Context, userID uuid.UUID, req dto.CalDAVConnectRequest) (*entity.Connection, error) {
	u, err := url.Parse(strings.TrimSpace(req.ServerURL))
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return nil, errors.NewAppError(errors.ErrInvalidInput, "server_url must be an http(s) url", err)
	}
	if req.Username == "" || req.Password == "" {
		return nil, errors.NewAppError(errors.ErrInvalidInput, "username and password are required", nil)
	}
	a, err := s.adapter(provider.CalDAV)
	if err != nil {
		return nil, err
	}

	creds := provider.Credentials{AccessToken: req.Password, ServerURL: u.String(), Username: req.Username}
	calendars, err := a.ListCalendars(ctx, creds)
	if err != nil {
		if errors.Is(err, provider.ErrAuthExpired) {
			return nil, errors.NewAppError(errors.ErrUnauthorized, "invalid CalDAV credentials", err)
		}
		return nil, errors.NewAppError(errors.ErrProviderUnavailable, "could not reach CalDAV server", err)
	}

	conn, err := s.newConnection(userID, provider.CalDAV)
	if err != nil {
		return nil, errors.NewAppError(errors.ErrInternalServer, "failed to create connection", err)
	}
	conn.ServerURL = creds.ServerURL
	conn.Username = req.Username
	conn.AccountID = req.Username
	conn.AccountEmail = req.Username
	if err := s.conns.Create(ctx, conn); err != nil {
		return nil, errors.NewAppError(errors.ErrInternalServer, "failed to create connection", err)
	}
	if err := s.tokens.Store(ctx, conn.ID, &provider.Token{AccessToken: req.Password}); err != nil {
		s.fail(ctx, conn, "ConnectCalDAV:StoreToken", err)
		return nil, errors.NewAppError(errors.ErrInternalServer, "failed to store credentials", err)
	}
	if err := s.createSources(ctx, conn, calendars); err != nil {
		s.fail(ctx, conn, "ConnectCalDAV:Sources", err)
		return nil, errors.NewAppError(errors.ErrInternalServer, "failed to create sources", err)
	}
	if err := s.finish(ctx, conn); err != nil {
		return nil, err
	}
	return conn, nil
}

func (s *ConnectionService) activate(ctx context.Context, a provider.Adapter, conn *entity.Connection) error {
	creds, err := s.tokens.Credentials(ctx, conn)
	if err != nil {
		s.fail(ctx, conn, "Activate:Credentials", err)
		return errors.NewAppError(errors.ErrInternalServer, "failed to load credentials", err)
	}
	calendars, err := a.ListCalendars(ctx, creds)
	if err != nil {
		s.fail(ctx, conn, "Activate:ListCalendars", err)
		return errors.NewAppError(errors.ErrProviderUnavailable, "failed to list calendars", err)
	}
	if err := s.createSources(ctx, conn, calendars); err != nil {
		s.fail(ctx, conn, "Activate:Sources", err)
		return errors.NewAppError(errors.ErrInternalServer, "failed to create sources", err)
	}
	return s.finish(ctx, conn)
}

func (s *ConnectionService) createSources(ctx context.Context, conn *entity.Connection, calendars []provider.Calendar) error {
	now := s.now().UTC()
	for _, cal := range calendars {
		src := &entity.Source{
			ConnectionID:       conn.ID,
			UserID:             conn.UserID,
			ExternalCalendarID: cal.ID,
			Name:               cal.Name,
			Color:              cal.Color,
			Direction:          entity.DirectionBidirectional,
			Privacy:            entity.PrivacyFull,
			Enabled:            true,
			ReadOnly:           cal.ReadOnly,
			IsPrimary:          cal.Primary,
		}
		if cal.ReadOnly {
			src.Direction = entity.DirectionReadOnly
		}
		src.Touch(now)
		if err := s.sources.Upsert(ctx, src); err != nil {
			return err
		}
	}
	return nil
}

// finish marks the connection active, then opens webhooks and queues the
// initial sync for every source. Those last steps are best effort: the
// scheduler retries both.
func (s *ConnectionService) finish(ctx context.Context, conn *entity.Connection) error {
	conn.Status = entity.StatusActive
	conn.LastError = ""
	if err := s.conns.Update(ctx, conn); err != nil {
		logger.Error("ConnectionService:Finish:Update:Error", "connection_id", conn.ID, "error", err)
		return errors.NewAppError(errors.ErrInternalServer, "failed to activate connection", err)
	}

	sources, err := s.sources.ListByConnection(ctx, conn.ID)
	if err != nil {
		return errors.NewAppError(errors.ErrInternalServer, "failed to list sources", err)
	}
	for i := range sources {
		src := &sources[i]
		if !src.Enabled {
			continue
		}
		if err := s.channels.Register(ctx, conn, src); err != nil {
			logger.Warn("ConnectionService:Finish:RegisterWebhook:Error", "source_id", src.ID, "error", err)
		}
		err := s.dispatcher.EnqueueInbound(ctx, conn.Provider, syncService.InboundPayload{
			ConnectionID: conn.ID,
			SourceID:     src.ID,
			Trigger:      syncService.TriggerInitial,
		})
		if err != nil {
			logger.Warn("ConnectionService:Finish:EnqueueSync:Error", "source_id", src.ID, "error", err)
		}
	}

	s.audit.Record(ctx, auditEntity.AuditLog{
		UserID:       auditEntity.Ref(conn.UserID),
		ConnectionID: auditEntity.Ref(conn.ID),
		Provider:     conn.Provider,
		Action:       auditEntity.ActionConnect,
		Created:      len(sources),
	})
	logger.Info("ConnectionService:Connected", "connection_id", conn.ID, "provider", conn.Provider, "sources", len(sources))
	return nil
}

// Disconnect tears a connection down. Remote cleanup is best effort; the
// local rows are always removed.
func (s *ConnectionService) Disconnect(ctx context.Context, userID, connectionID uuid.UUID) error {
	conn, err := s.owned(ctx, userID, connectionID)
	if err != nil {
		return err
	}
	sources, err := s.sources.ListByConnection(ctx, conn.ID)
	if err != nil {
		return errors.NewAppError(errors.ErrInternalServer, "failed to list sources", err)
	}

	for i := range sources {
		if err := s.channels.Cancel(ctx, conn, &sources[i]); err != nil {
			logger.Warn("ConnectionService:Disconnect:CancelWebhook:Error", "source_id", sources[i].ID, "error", err)
		}
	}
	removed := s.blocking.DeleteOn(ctx, conn.ID)
	removed += s.blocking.DeleteCausedBy(ctx, conn.ID)

	if a, err := s.registry.Get(conn.Provider); err == nil && a.Capabilities().Revocable {
		creds, err := s.tokens.Credentials(ctx, conn)
		if err == nil {
			err = a.Revoke(ctx, creds)
		}
		if err != nil {
			logger.Warn("ConnectionService:Disconnect:Revoke:Error", "connection_id", conn.ID, "error", err)
		}
	}

	for _, src := range sources {
		if _, err := s.planner.DeleteBySource(ctx, src.ID); err != nil {
			return errors.NewAppError(errors.ErrInternalServer, "failed to remove imported items", err)
		}
	}
	if err := s.tokens.Delete(ctx, conn.ID); err != nil {
		logger.Warn("ConnectionService:Disconnect:DeleteToken:Error", "connection_id", conn.ID, "error", err)
	}
	if err := s.conns.Delete(ctx, conn.ID); err != nil {
		logger.Error("ConnectionService:Disconnect:Delete:Error", "connection_id", conn.ID, "error", err)
		return errors.NewAppError(errors.ErrInternalServer, "failed to delete connection", err)
	}

	s.audit.Record(ctx, auditEntity.AuditLog{
		UserID:   auditEntity.Ref(conn.UserID),
		Provider: conn.Provider,
		Action:   auditEntity.ActionDisconnect,
		Message:  "connection " + conn.ID.String(),
		Deleted:  removed,
	})
	return nil
}

func (s *ConnectionService) ListConnections(ctx context.Context, userID uuid.UUID) ([]dto.ConnectionResponse, error) {
	conns, err := s.conns.ListByUser(ctx, userID)
	if err != nil {
		return nil, errors.NewAppError(errors.ErrInternalServer, "failed to list connections", err)
	}
	out := make([]dto.ConnectionResponse, 0, len(conns))
	for _, c := range conns {
		sources, err := s.sources.ListByConnection(ctx, c.ID)
		if err != nil {
			return nil, errors.NewAppError(errors.ErrInternalServer, "failed to list sources", err)
		}
		res := dto.ConnectionResponse{
			ID:           c.ID,
			Provider:     c.Provider,
			Status:       c.Status,
			Enabled:      c.Enabled,
			AccountEmail: c.AccountEmail,
			LastError:    c.LastError,
			Sources:      make([]dto.SourceResponse, 0, len(sources)),
		}
		for _, src := range sources {
			res.Sources = append(res.Sources, dto.ToSourceResponse(src))
		}
		out = append(out, res)
	}
	return out, nil
}

func (s *ConnectionService) UpdateSource(ctx context.Context, userID, sourceID uuid.UUID, req dto.UpdateSourceRequest) (*dto.SourceResponse, error) {
	src, err := s.sources.GetByID(ctx, sourceID)
	if err != nil {
		return nil, errors.NewAppError(errors.ErrInternalServer, "failed to load source", err)
	}
	if src == nil || src.UserID != userID {
		return nil, errors.NewAppError(errors.ErrNotFound, "source not found", nil)
	}
	if req.Direction != nil {
		if !req.Direction.IsValid() {
			return nil, errors.NewAppError(errors.ErrInvalidInput, "invalid direction", nil)
		}
		if src.ReadOnly && *req.Direction != entity.DirectionReadOnly {
			return nil, errors.NewAppError(errors.ErrInvalidInput, "calendar is read-only at the provider", nil)
		}
		src.Direction = *req.Direction
	}
	if req.Privacy != nil {
		if !req.Privacy.IsValid() {
			return nil, errors.NewAppError(errors.ErrInvalidInput, "invalid privacy mode", nil)
		}
		src.Privacy = *req.Privacy
	}
	if req.Enabled != nil {
		src.Enabled = *req.Enabled
	}
	if req.Color != nil {
		src.Color = *req.Color
	}
	if err := s.sources.Update(ctx, src); err != nil {
		return nil, errors.NewAppError(errors.ErrInternalServer, "failed to update source", err)
	}
	res := dto.ToSourceResponse(*src)
	return &res, nil
}

// TriggerResync queues a full pass for every enabled source, ignoring stored
// cursors.
func (s *ConnectionService) TriggerResync(ctx context.Context, userID, connectionID uuid.UUID) error {
	conn, err := s.owned(ctx, userID, connectionID)
	if err != nil {
		return err
	}
	if !conn.Usable() {
		return errors.NewAppError(errors.ErrForbidden, "connection is "+string(conn.Status), nil)
	}
	sources, err := s.sources.ListByConnection(ctx, conn.ID)
	if err != nil {
		return errors.NewAppError(errors.ErrInternalServer, "failed to list sources", err)
	}
	for _, src := range sources {
		if !src.Readable() {
			continue
		}
		err := s.dispatcher.EnqueueInbound(ctx, conn.Provider, syncService.InboundPayload{
			ConnectionID: conn.ID,
			SourceID:     src.ID,
			FullResync:   true,
			Trigger:      syncService.TriggerManual,
		})
		if err != nil {
			return errors.NewAppError(errors.ErrInternalServer, "failed to queue sync", err)
		}
	}
	return nil
}
