package service

import (
	"bytes"
	"context"
	"crypto/subtle"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"calendar-sync/core/cache"
	"calendar-sync/core/constants"
	"calendar-sync/core/errors"
	"calendar-sync/core/logger"
	auditEntity "calendar-sync/modules/audit/entity"
	auditService "calendar-sync/modules/audit/service"
	connEntity "calendar-sync/modules/connection/entity"
	syncService "calendar-sync/modules/sync/service"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

//go:embed graph_notification.schema.json
var graphSchemaJSON string

const graphSchemaURL = "graph-notification.schema.json"

// ErrVerification marks notifications that are dropped after the ack.
var ErrVerification = errors.NewAppError(errors.ErrValidationFailure, "webhook verification failed", nil)

// GoogleNotification carries the X-Goog-* headers of a push.
type GoogleNotification struct {
	ConnectionID  uuid.UUID
	SourceID      uuid.UUID
	ChannelID     string
	ResourceID    string
	ResourceState string
	MessageNumber string
	Token         string
}

type graphEnvelope struct {
	Value []graphNotification `json:"value"`
}

type graphNotification struct {
	SubscriptionID string `json:"subscriptionId"`
	ClientState    string `json:"clientState"`
	ChangeType     string `json:"changeType"`
	LifecycleEvent string `json:"lifecycleEvent"`
	Resource       string `json:"resource"`
}

type IngestServiceInterface interface {
	HandleGoogle(ctx context.Context, n GoogleNotification) error
	HandleGraph(ctx context.Context, connectionID, sourceID uuid.UUID, body []byte) error
}

type IngestSourceStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*connEntity.Source, error)
	ClearWebhook(ctx context.Context, id uuid.UUID) error
}

// IngestService turns verified push notifications into sync jobs. It runs
// after the HTTP ack, so every failure ends here as a log line.
type IngestService struct {
	sources    IngestSourceStore
	conns      ConnectionStore
	cache      cache.Cache
	dispatcher syncService.DispatcherInterface
	audit      auditService.Recorder
	schema     *jsonschema.Schema
}

func NewIngestService(sources IngestSourceStore, conns ConnectionStore, c cache.Cache,
	dispatcher syncService.DispatcherInterface, audit auditService.Recorder) (*IngestService, error) {
	schema, err := compileGraphSchema()
	if err != nil {
		return nil, err
	}
	return &IngestService{
		sources:    sources,
		conns:      conns,
		cache:      c,
		dispatcher: dispatcher,
		audit:      audit,
		schema:     schema,
	}, nil
}

func compileGraphSchema() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(graphSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("parse graph notification schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(graphSchemaURL, doc); err != nil {
		return nil, err
	}
	return c.Compile(graphSchemaURL)
}

func secretsMatch(got, want string) bool {
	if got == "" || want == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// load resolves the path-scoped connection and source. A mismatch is a
// verification failure, not a lookup error.
func (s *IngestService) load(ctx context.Context, connectionID, sourceID uuid.UUID) (*connEntity.Connection, *connEntity.Source, error) {
	conn, err := s.conns.GetByID(ctx, connectionID)
	if err != nil {
		return nil, nil, err
	}
	src, err := s.sources.GetByID(ctx, sourceID)
	if err != nil {
		return nil, nil, err
	}
	if conn == nil || src == nil || src.ConnectionID != conn.ID {
		return nil, nil, ErrVerification
	}
	return conn, src, nil
}

func (s *IngestService) record(ctx context.Context, conn *connEntity.Connection, src *connEntity.Source, msg string, err error) {
	log := auditEntity.AuditLog{
		UserID:       auditEntity.Ref(conn.UserID),
		ConnectionID: auditEntity.Ref(conn.ID),
		SourceID:     auditEntity.Ref(src.ID),
		Provider:     conn.Provider,
		Action:       auditEntity.ActionWebhookNotify,
		Message:      msg,
	}
	if err != nil {
		log.Status = auditEntity.StatusFailure
		log.Message = msg + ": " + err.Error()
	}
	s.audit.Record(ctx, log)
}

func (s *IngestService) enqueue(ctx context.Context, conn *connEntity.Connection, src *connEntity.Source, full bool) error {
	return s.dispatcher.EnqueueInbound(ctx, conn.Provider, syncService.InboundPayload{
		ConnectionID: conn.ID,
		SourceID:     src.ID,
		FullResync:   full,
		Trigger:      syncService.TriggerWebhook,
	})
}

// firstDelivery records a message id and reports whether it is new.
// Store errors count as new; a duplicate sync is harmless.
func (s *IngestService) firstDelivery(ctx context.Context, key string) bool {
	ok, err := s.cache.SetNX(ctx, constants.WebhookDedupeKeyPrefix+":"+key, "1", constants.WebhookDedupeTTL)
	if err != nil {
		logger.Warn("IngestService:Dedupe:Error", "key", key, "error", err)
		return true
	}
	return ok
}

func (s *IngestService) HandleGoogle(ctx context.Context, n GoogleNotification) error {
	conn, src, err := s.load(ctx, n.ConnectionID, n.SourceID)
	if err != nil {
		logger.Warn("IngestService:HandleGoogle:Load:Dropped", "connection_id", n.ConnectionID, "source_id", n.SourceID, "error", err)
		return err
	}
	if !secretsMatch(n.Token, conn.WebhookSecret) || n.ChannelID != src.WebhookChannelID {
		logger.Warn("IngestService:HandleGoogle:Verify:Dropped", "connection_id", conn.ID, "source_id", src.ID, "channel_id", n.ChannelID)
		s.record(ctx, conn, src, "google notification rejected", ErrVerification)
		return ErrVerification
	}

	switch n.ResourceState {
	case "sync":
		// Handshake sent when the channel opens.
		return nil
	case "exists", "not_exists":
	default:
		logger.Debug("IngestService:HandleGoogle:UnknownState", "state", n.ResourceState)
		return nil
	}

	if n.MessageNumber != "" && !s.firstDelivery(ctx, n.ChannelID+":"+n.MessageNumber) {
		return nil
	}
	err = s.enqueue(ctx, conn, src, false)
	s.record(ctx, conn, src, "google "+n.ResourceState, err)
	return err
}

func (s *IngestService) HandleGraph(ctx context.Context, connectionID, sourceID uuid.UUID, body []byte) error {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err == nil {
		err = s.schema.Validate(inst)
	}
	if err != nil {
		logger.Warn("IngestService:HandleGraph:Schema:Dropped", "connection_id", connectionID, "error", err)
		return errors.NewAppError(errors.ErrValidationFailure, "malformed notification", err)
	}
	var env graphEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return errors.NewAppError(errors.ErrValidationFailure, "malformed notification", err)
	}

	conn, src, err := s.load(ctx, connectionID, sourceID)
	if err != nil {
		logger.Warn("IngestService:HandleGraph:Load:Dropped", "connection_id", connectionID, "source_id", sourceID, "error", err)
		return err
	}

	var firstErr error
	enqueued := false
	for _, n := range env.Value {
		if !secretsMatch(n.ClientState, conn.WebhookSecret) || n.SubscriptionID != src.WebhookChannelID {
			logger.Warn("IngestService:HandleGraph:Verify:Dropped", "connection_id", conn.ID, "subscription_id", n.SubscriptionID)
			s.record(ctx, conn, src, "graph notification rejected", ErrVerification)
			if firstErr == nil {
				firstErr = ErrVerification
			}
			continue
		}
		if err := s.graphOne(ctx, conn, src, n, &enqueued); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *IngestService) graphOne(ctx context.Context, conn *connEntity.Connection, src *connEntity.Source, n graphNotification, enqueued *bool) error {
	var err error
	switch n.LifecycleEvent {
	case "reauthorizationRequired":
		err = s.conns.UpdateStatus(ctx, conn.ID, connEntity.StatusTokenExpired, "provider requires reauthorization")
		s.record(ctx, conn, src, "graph reauthorization required", err)
		return err
	case "subscriptionRemoved":
		// The scheduler registers a new subscription on its next pass.
		err = s.sources.ClearWebhook(ctx, src.ID)
		s.record(ctx, conn, src, "graph subscription removed", err)
		return err
	case "missed":
		err = s.enqueue(ctx, conn, src, true)
		s.record(ctx, conn, src, "graph missed notifications", err)
		return err
	}

	// One incremental pass covers every change in the batch.
	if *enqueued {
		return nil
	}
	*enqueued = true
	err = s.enqueue(ctx, conn, src, false)
	s.record(ctx, conn, src, "graph "+n.ChangeType, err)
	return err
}
