package service

import (
	"context"

	"calendar-sync/core/constants"
	"calendar-sync/core/queue"
	"calendar-sync/modules/provider"

	"github.com/google/uuid"
)

type Trigger string

const (
	TriggerInitial      Trigger = "initial"
	TriggerPoll         Trigger = "poll"
	TriggerSafetyNet    Trigger = "safety-net"
	TriggerWebhook      Trigger = "webhook"
	TriggerManual       Trigger = "manual"
	TriggerContinuation Trigger = "continuation"
)

// InboundPayload is the sync:inbound job body. Cursor is only set on
// continuation jobs; FullResync ignores the stored cursor.
type InboundPayload struct {
	ConnectionID uuid.UUID `json:"connection_id"`
	SourceID     uuid.UUID `json:"source_id"`
	Cursor       string    `json:"cursor,omitempty"`
	FullResync   bool      `json:"full_resync,omitempty"`
	Trigger      Trigger   `json:"trigger"`
}

type OutboundAction string

const (
	ActionCreate OutboundAction = "create"
	ActionUpdate OutboundAction = "update"
	ActionDelete OutboundAction = "delete"
)

func (a OutboundAction) IsValid() bool {
	return a == ActionCreate || a == ActionUpdate || a == ActionDelete
}

// OutboundPayload is the sync:outbound job body. Deletes carry the mapping
// id because the planner item may already be gone.
type OutboundPayload struct {
	ConnectionID uuid.UUID      `json:"connection_id"`
	SourceID     uuid.UUID      `json:"source_id"`
	ItemID       uuid.UUID      `json:"item_id"`
	MappingID    *uuid.UUID     `json:"mapping_id,omitempty"`
	Action       OutboundAction `json:"action"`
}

// QueueFor returns the per-provider sync queue.
func QueueFor(providerName string) string {
	switch providerName {
	case provider.Google:
		return constants.QueueSyncGoogle
	case provider.Microsoft:
		return constants.QueueSyncMicrosoft
	case provider.CalDAV:
		return constants.QueueSyncCalDAV
	}
	return constants.QueueSyncGoogle
}

type DispatcherInterface interface {
	EnqueueInbound(ctx context.Context, providerName string, p InboundPayload) error
	EnqueueOutbound(ctx context.Context, p OutboundPayload) error
}

type Dispatcher struct {
	queue queue.Queue
}

func NewDispatcher(q queue.Queue) *Dispatcher {
	return &Dispatcher{queue: q}
}

func inboundOptions(providerName string, trigger Trigger) queue.JobOptions {
	switch trigger {
	case TriggerWebhook:
		return queue.JobOptions{
			Queue:    constants.QueueWebhooks,
			MaxRetry: constants.WebhookSyncMaxRetry,
			Timeout:  constants.SyncJobTimeout,
			Unique:   constants.WebhookTriggerUnique,
		}
	case TriggerPoll, TriggerSafetyNet:
		return queue.JobOptions{
			Queue:    QueueFor(providerName),
			MaxRetry: constants.PollingMaxRetry,
			Timeout:  constants.SyncJobTimeout,
			Unique:   constants.ScheduledJobUnique,
		}
	}
	return queue.JobOptions{
		Queue:    QueueFor(providerName),
		MaxRetry: constants.PollingMaxRetry,
		Timeout:  constants.SyncJobTimeout,
	}
}

func (d *Dispatcher) EnqueueInbound(ctx context.Context, providerName string, p InboundPayload) error {
	if p.Trigger == "" {
		p.Trigger = TriggerManual
	}
	return d.queue.Enqueue(ctx, constants.JobSyncInbound, p, inboundOptions(providerName, p.Trigger))
}

func (d *Dispatcher) EnqueueOutbound(ctx context.Context, p OutboundPayload) error {
	return d.queue.Enqueue(ctx, constants.JobSyncOutbound, p, queue.JobOptions{
		Queue:    constants.QueueOutbound,
		MaxRetry: constants.OutboundMaxRetry,
		Timeout:  constants.SyncJobTimeout,
	})
}

// continuation resumes a paginated pass from cursor.
func continuation(p InboundPayload, cursor string) InboundPayload {
	return InboundPayload{
		ConnectionID: p.ConnectionID,
		SourceID:     p.SourceID,
		Cursor:       cursor,
		Trigger:      TriggerContinuation,
	}
}
