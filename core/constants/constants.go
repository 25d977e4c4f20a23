package constants

import "time"

// Database
const (
	DatabaseSSLMode         = "disable"
	DatabaseMaxOpenConns    = 25
	DatabaseMaxIdleConns    = 10
	DatabaseConnMaxLifetime = 30 // minutes
)

// Timeouts
const (
	DefaultTimeout        = 10 * time.Second
	DefaultRequestTimeout = 30 * time.Second
	ProviderHTTPTimeout   = 30 * time.Second
	ShutdownTimeout       = 15 * time.Second
	FocusBlockTimeout     = 2 * time.Minute
	WebhookHandleTimeout  = 30 * time.Second
	SyncJobTimeout        = 5 * time.Minute
)

// Auth
const (
	ContextTokenData  = "token_data"
	ScopeTokenAccess  = "access"
	ScopeTokenRefresh = "refresh"
	OAuthStateTTL     = 10 * time.Minute
)

// Token vault
const (
	TokenRefreshBuffer = 15 * time.Minute
)

// Rate limiting
const (
	RateLimitRetryAfter = 1000 * time.Millisecond
	RateLimitKeyPrefix  = "ratelimit"
)

// Circuit breaker
const (
	CircuitFailureThreshold = 5
	CircuitRetryDelay       = 30 * time.Second
	CircuitStateTTL         = 24 * time.Hour
	CircuitKeyPrefix        = "circuit"
)

// Sync
const (
	DefaultPastMonths          = 1
	DefaultFutureMonths        = 6
	DefaultSyncIntervalMinutes = 30
	PlaceholderTitle           = "Busy"
	FocusTitlePrefix           = "Focus: "
	ConflictTTL                = 30 * 24 * time.Hour
)

// Deferred placeholder writes
const (
	BlockingPlaceDelay  = 5 * time.Second
	BlockingPlaceUnique = 10 * time.Minute
)

// Webhooks
const (
	WebhookSecretLength    = 32
	WebhookRenewWindow     = 24 * time.Hour
	WebhookDedupeTTL       = 10 * time.Minute
	WebhookDedupeKeyPrefix = "webhook:seen"
	WebhookTriggerUnique   = 10 * time.Second
	ScheduledJobUnique     = 5 * time.Minute
)

// Retention
const (
	AuditLogRetentionDays = 90
	AuditArchiveBatchSize = 1000
)

// Queues
const (
	QueueSyncGoogle    = "sync:google"
	QueueSyncMicrosoft = "sync:microsoft"
	QueueSyncCalDAV    = "sync:caldav"
	QueueWebhooks      = "webhooks"
	QueueTokenRefresh  = "token-refresh"
	QueueOutbound      = "outbound"
	QueueMaintenance   = "maintenance"
)

// Job types
const (
	JobSyncInbound    = "sync:inbound"
	JobSyncOutbound   = "sync:outbound"
	JobTokenRefresh   = "token:refresh"
	JobWebhookRenew   = "webhook:renew"
	JobRetentionClean = "maintenance:cleanup"
	JobBlockingPlace  = "blocking:place"
)

// Retry budgets (asynq MaxRetry counts retries after the first attempt).
const (
	PollingMaxRetry      = 2
	WebhookSyncMaxRetry  = 4
	OutboundMaxRetry     = 4
	TokenRefreshMaxRetry = 2
	WebhookRenewMaxRetry = 2
	CleanupMaxRetry      = 0
)

// BlockingPlaceMaxRetry covers a placement that waits out several rate windows.
const BlockingPlaceMaxRetry = 20
