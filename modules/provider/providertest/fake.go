// Package providertest provides an in-memory Adapter for tests.
package providertest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"calendar-sync/modules/provider"
)

// Fake is a stateful adapter. Set the *Err fields to inject failures.
type Fake struct {
	mu sync.Mutex

	Tag  string
	Caps provider.Capabilities

	Calendars []provider.Calendar
	// Pages are returned by GetEvents in order; the last one repeats.
	Pages   []provider.EventPage
	Created map[string][]provider.Event // by calendar id
	Deleted []string

	RefreshToken *provider.Token
	ExchangeTok  *provider.Token

	RefreshCalls  int
	GetEventCalls int
	CreateCalls   int
	UpdateCalls   int
	DeleteCalls   int
	RevokeCalls   int
	Registered    []string
	Cancelled     []string
	Queries       []provider.EventQuery
	Updates       []provider.EventInput

	RefreshErr  error
	ExchangeErr error
	GetErr      error
	CreateErr   error
	UpdateErr   error
	DeleteErr   error
	RegisterErr error
	// CreateErrFor fails CreateEvent only for the given calendar ids.
	CreateErrFor map[string]error

	nextID int
}

func New(tag string) *Fake {
	return &Fake{
		Tag:     tag,
		Caps:    provider.Capabilities{OAuth: true, Webhooks: true, IncrementalSync: true, Revocable: true},
		Created: map[string][]provider.Event{},
	}
}

func (f *Fake) Name() string                        { return f.Tag }
func (f *Fake) Capabilities() provider.Capabilities { return f.Caps }

func (f *Fake) AuthCodeURL(state, redirectURL string) (string, error) {
	if !f.Caps.OAuth {
		return "", provider.ErrUnsupported
	}
	return fmt.Sprintf("https://consent.example/%s?state=%s&redirect_uri=%s", f.Tag, state, redirectURL), nil
}

func (f *Fake) Exchange(ctx context.Context, code, redirectURL string) (*provider.Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.Caps.OAuth {
		return nil, provider.ErrUnsupported
	}
	if f.ExchangeErr != nil {
		return nil, f.ExchangeErr
	}
	if f.ExchangeTok != nil {
		return f.ExchangeTok, nil
	}
	return &provider.Token{
		AccessToken:  "access-" + code,
		RefreshToken: "refresh-" + code,
		Expiry:       time.Now().Add(time.Hour),
		AccountEmail: "user@example.com",
	}, nil
}

func (f *Fake) Refresh(ctx context.Context, creds provider.Credentials) (*provider.Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.RefreshCalls++
	if f.RefreshErr != nil {
		return nil, f.RefreshErr
	}
	if f.RefreshToken != nil {
		return f.RefreshToken, nil
	}
	return &provider.Token{
		AccessToken: fmt.Sprintf("refreshed-%d", f.RefreshCalls),
		Expiry:      time.Now().Add(time.Hour),
	}, nil
}

func (f *Fake) Revoke(ctx context.Context, creds provider.Credentials) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.RevokeCalls++
	return nil
}

func (f *Fake) ListCalendars(ctx context.Context, creds provider.Credentials) ([]provider.Calendar, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]provider.Calendar(nil), f.Calendars...), nil
}

func (f *Fake) GetEvents(ctx context.Context, creds provider.Credentials, calendarID string, q provider.EventQuery) (*provider.EventPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.GetEventCalls++
	f.Queries = append(f.Queries, q)
	if f.GetErr != nil {
		return nil, f.GetErr
	}
	if len(f.Pages) == 0 {
		return &provider.EventPage{}, nil
	}
	page := f.Pages[0]
	if len(f.Pages) > 1 {
		f.Pages = f.Pages[1:]
	}
	return &page, nil
}

func (f *Fake) CreateEvent(ctx context.Context, creds provider.Credentials, calendarID string, in provider.EventInput) (*provider.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.CreateCalls++
	if err := f.CreateErrFor[calendarID]; err != nil {
		return nil, err
	}
	if f.CreateErr != nil {
		return nil, f.CreateErr
	}
	f.nextID++
	ev := provider.Event{
		ID:          fmt.Sprintf("%s-evt-%d", calendarID, f.nextID),
		Title:       in.Title,
		Start:       in.Start,
		End:         in.End,
		AllDay:      in.AllDay,
		Status:      provider.StatusConfirmed,
		ETag:        fmt.Sprintf("etag-%d", f.nextID),
		Placeholder: in.Placeholder,
	}
	f.Created[calendarID] = append(f.Created[calendarID], ev)
	return &ev, nil
}

func (f *Fake) UpdateEvent(ctx context.Context, creds provider.Credentials, calendarID, eventID string, in provider.EventInput) (*provider.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.UpdateCalls++
	f.Updates = append(f.Updates, in)
	if f.UpdateErr != nil {
		return nil, f.UpdateErr
	}
	f.nextID++
	return &provider.Event{
		ID:     eventID,
		Title:  in.Title,
		Start:  in.Start,
		End:    in.End,
		AllDay: in.AllDay,
		Status: provider.StatusConfirmed,
		ETag:   fmt.Sprintf("etag-%d", f.nextID),
	}, nil
}

func (f *Fake) DeleteEvent(ctx context.Context, creds provider.Credentials, calendarID, eventID, ifMatch string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.DeleteCalls++
	if f.DeleteErr != nil {
		return f.DeleteErr
	}
	f.Deleted = append(f.Deleted, eventID)
	return nil
}

func (f *Fake) RegisterWebhook(ctx context.Context, creds provider.Credentials, calendarID string, req provider.ChannelRequest) (*provider.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.Caps.Webhooks {
		return nil, provider.ErrUnsupported
	}
	if f.RegisterErr != nil {
		return nil, f.RegisterErr
	}
	f.Registered = append(f.Registered, calendarID)
	return &provider.Channel{ID: req.ChannelID, ResourceID: "res-" + calendarID, Expiry: time.Now().Add(72 * time.Hour)}, nil
}

func (f *Fake) RenewWebhook(ctx context.Context, creds provider.Credentials, calendarID string, current provider.Channel, req provider.ChannelRequest) (*provider.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.Caps.Webhooks {
		return nil, provider.ErrUnsupported
	}
	return &provider.Channel{ID: current.ID, ResourceID: current.ResourceID, Expiry: time.Now().Add(72 * time.Hour)}, nil
}

func (f *Fake) CancelWebhook(ctx context.Context, creds provider.Credentials, ch provider.Channel) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Cancelled = append(f.Cancelled, ch.ID)
	return nil
}

// CreatedOn returns events created on calendarID.
func (f *Fake) CreatedOn(calendarID string) []provider.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]provider.Event(nil), f.Created[calendarID]...)
}

func (f *Fake) Counts() (refresh, get, create, update, del int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.RefreshCalls, f.GetEventCalls, f.CreateCalls, f.UpdateCalls, f.DeleteCalls
}
