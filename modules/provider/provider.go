package provider

import (
	"context"
	"time"
)

const (
	Google    = "google"
	Microsoft = "microsoft"
	CalDAV    = "caldav"
)

// Capabilities are queried at call sites instead of type-checking adapters.
type Capabilities struct {
	OAuth           bool
	Webhooks        bool
	IncrementalSync bool
	Revocable       bool
}

// Credentials are the decrypted values an adapter needs for one call.
// For password-based providers AccessToken carries the password.
type Credentials struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
	Scopes       []string
	ServerURL    string
	Username     string
}

// Token is the result of a code exchange or refresh.
type Token struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
	Scopes       []string
	AccountID    string
	AccountEmail string
}

type Calendar struct {
	ID       string
	Name     string
	Color    string
	Primary  bool
	ReadOnly bool
}

type EventStatus string

const (
	StatusConfirmed EventStatus = "confirmed"
	StatusTentative EventStatus = "tentative"
	StatusCancelled EventStatus = "cancelled"
)

// Event is normalized: Start and End are UTC, all-day events start at UTC midnight.
type Event struct {
	ID          string
	Title       string
	Description string
	Location    string
	Start       time.Time
	End         time.Time
	AllDay      bool
	Status      EventStatus
	ETag        string
	UpdatedAt   time.Time
	Placeholder bool
}

func (e Event) Cancelled() bool {
	return e.Status == StatusCancelled
}

// EventQuery asks for one page. A non-empty Cursor wins over the window; the
// window is still used when the adapter has to recover from an expired cursor.
type EventQuery struct {
	Cursor  string
	TimeMin time.Time
	TimeMax time.Time
}

// EventPage is one response. NextCursor continues the pass while HasMore is
// set; otherwise it is the durable cursor for the next incremental pass.
type EventPage struct {
	Events     []Event
	NextCursor string
	HasMore    bool
}

type EventInput struct {
	Title       string
	Description string
	Location    string
	Start       time.Time
	End         time.Time
	AllDay      bool
	Placeholder bool
	// IfMatch makes updates and deletes conditional on the cached etag.
	IfMatch string
}

type ChannelRequest struct {
	ChannelID   string
	CallbackURL string
	Secret      string
}

type Channel struct {
	ID         string
	ResourceID string
	Expiry     time.Time
}

type Adapter interface {
	Name() string
	Capabilities() Capabilities

	AuthCodeURL(state, redirectURL string) (string, error)
	Exchange(ctx context.Context, code, redirectURL string) (*Token, error)
	Refresh(ctx context.Context, creds Credentials) (*Token, error)
	Revoke(ctx context.Context, creds Credentials) error

	ListCalendars(ctx context.Context, creds Credentials) ([]Calendar, error)
	GetEvents(ctx context.Context, creds Credentials, calendarID string, q EventQuery) (*EventPage, error)
	CreateEvent(ctx context.Context, creds Credentials, calendarID string, in EventInput) (*Event, error)
	UpdateEvent(ctx context.Context, creds Credentials, calendarID, eventID string, in EventInput) (*Event, error)
	DeleteEvent(ctx context.Context, creds Credentials, calendarID, eventID, ifMatch string) error

	RegisterWebhook(ctx context.Context, creds Credentials, calendarID string, req ChannelRequest) (*Channel, error)
	RenewWebhook(ctx context.Context, creds Credentials, calendarID string, current Channel, req ChannelRequest) (*Channel, error)
	CancelWebhook(ctx context.Context, creds Credentials, ch Channel) error
}
