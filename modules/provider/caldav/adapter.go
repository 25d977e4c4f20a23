package caldav

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"calendar-sync/core/constants"
	"calendar-sync/core/logger"
	"calendar-sync/modules/provider"

	"github.com/google/uuid"
)

const (
	methodPropfind = "PROPFIND"
	methodReport   = "REPORT"

	timeRangeLayout = "20060102T150405Z"
	multigetBatch   = 50
)

type Config struct {
	HTTPClient *http.Client
	Now        func() time.Time
}

// Adapter talks WebDAV/CalDAV with basic auth. Calendar IDs are collection
// paths and event IDs are object resource paths on the server.
type Adapter struct {
	client *http.Client
	now    func() time.Time
}

func New(cfg Config) *Adapter {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: constants.ProviderHTTPTimeout}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Adapter{client: client, now: now}
}

func (a *Adapter) Name() string { return provider.CalDAV }

func (a *Adapter) Capabilities() provider.Capabilities {
	return provider.Capabilities{IncrementalSync: true}
}

func (a *Adapter) AuthCodeURL(state, redirectURL string) (string, error) {
	return "", provider.ErrUnsupported
}

func (a *Adapter) Exchange(ctx context.Context, code, redirectURL string) (*provider.Token, error) {
	return nil, provider.ErrUnsupported
}

// Refresh is a no-op: app passwords do not expire on their own.
func (a *Adapter) Refresh(ctx context.Context, creds provider.Credentials) (*provider.Token, error) {
	return &provider.Token{AccessToken: creds.AccessToken}, nil
}

func (a *Adapter) Revoke(ctx context.Context, creds provider.Credentials) error {
	return provider.ErrUnsupported
}

func (a *Adapter) RegisterWebhook(ctx context.Context, creds provider.Credentials, calendarID string, req provider.ChannelRequest) (*provider.Channel, error) {
	return nil, provider.ErrUnsupported
}

func (a *Adapter) RenewWebhook(ctx context.Context, creds provider.Credentials, calendarID string, current provider.Channel, req provider.ChannelRequest) (*provider.Channel, error) {
	return nil, provider.ErrUnsupported
}

func (a *Adapter) CancelWebhook(ctx context.Context, creds provider.Credentials, ch provider.Channel) error {
	return provider.ErrUnsupported
}

func resolve(base, ref string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("caldav: invalid server url: %w", err)
	}
	r, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("caldav: invalid href %q: %w", ref, err)
	}
	return b.ResolveReference(r).String(), nil
}

func (a *Adapter) send(ctx context.Context, creds provider.Credentials, method, target, body string, headers map[string]string) (*http.Response, error) {
	full, err := resolve(creds.ServerURL, target)
	if err != nil {
		return nil, err
	}
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, full, reader)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(creds.Username, creds.AccessToken)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, provider.TransportError(provider.CalDAV, err)
	}
	return resp, nil
}

func (a *Adapter) multistatus(ctx context.Context, creds provider.Credentials, method, target, depth, body string) (*multistatus, error) {
	resp, err := a.send(ctx, creds, method, target, body, map[string]string{
		"Depth":        depth,
		"Content-Type": "application/xml; charset=utf-8",
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMultiStatus && resp.StatusCode >= 300 {
		return nil, provider.StatusError(provider.CalDAV, resp)
	}
	var ms multistatus
	if err := xml.NewDecoder(resp.Body).Decode(&ms); err != nil {
		return nil, fmt.Errorf("caldav: decode multistatus: %w", err)
	}
	return &ms, nil
}

// homeSet follows current-user-principal to calendar-home-set. Servers that
// expose neither are treated as serving calendars at the configured URL.
func (a *Adapter) homeSet(ctx context.Context, creds provider.Credentials) (string, error) {
	home := creds.ServerURL
	ms, err := a.multistatus(ctx, creds, methodPropfind, creds.ServerURL, "0", propfindPrincipal)
	if err != nil {
		return "", err
	}
	principal := ""
	for _, r := range ms.Responses {
		if p, ok := r.okProp(); ok && p.CurrentUserPrincipal != nil {
			principal = strings.TrimSpace(p.CurrentUserPrincipal.Href)
		}
	}
	if principal == "" {
		return home, nil
	}
	ms, err = a.multistatus(ctx, creds, methodPropfind, principal, "0", propfindHome)
	if err != nil {
		return "", err
	}
	for _, r := range ms.Responses {
		if p, ok := r.okProp(); ok && p.CalendarHomeSet != nil && p.CalendarHomeSet.Href != "" {
			home = strings.TrimSpace(p.CalendarHomeSet.Href)
		}
	}
	return home, nil
}

func (a *Adapter) ListCalendars(ctx context.Context, creds provider.Credentials) ([]provider.Calendar, error) {
	home, err := a.homeSet(ctx, creds)
	if err != nil {
		logger.Error("CalDAVAdapter:ListCalendars:HomeSet:Error", "error", err)
		return nil, err
	}
	ms, err := a.multistatus(ctx, creds, methodPropfind, home, "1", propfindCalendars)
	if err != nil {
		return nil, err
	}

	var calendars []provider.Calendar
	for _, r := range ms.Responses {
		p, ok := r.okProp()
		if !ok || p.ResourceType.Calendar == nil {
			continue
		}
		name := strings.TrimSpace(p.DisplayName)
		if name == "" {
			name = path.Base(strings.TrimSuffix(r.Href, "/"))
		}
		calendars = append(calendars, provider.Calendar{
			ID:       r.Href,
			Name:     name,
			Color:    p.CalendarColor,
			Primary:  len(calendars) == 0,
			ReadOnly: !p.Privileges.writable(),
		})
	}
	return calendars, nil
}

// GetEvents runs sync-collection when a sync token is available and a
// time-ranged calendar-query otherwise. Every call completes in one page.
func (a *Adapter) GetEvents(ctx context.Context, creds provider.Credentials, calendarID string, q provider.EventQuery) (*provider.EventPage, error) {
	if q.Cursor != "" {
		page, err := a.syncCollection(ctx, creds, calendarID, q)
		if !errors.Is(err, provider.ErrCursorExpired) {
			return page, err
		}
		logger.Warn("CalDAVAdapter:GetEvents:CursorExpired", "calendar_id", calendarID)
	}
	return a.fullQuery(ctx, creds, calendarID, q)
}

func (a *Adapter) syncToken(ctx context.Context, creds provider.Credentials, calendarID string) string {
	ms, err := a.multistatus(ctx, creds, methodPropfind, calendarID, "0", propfindSyncToken)
	if err != nil {
		logger.Warn("CalDAVAdapter:SyncToken:Error", "calendar_id", calendarID, "error", err)
		return ""
	}
	for _, r := range ms.Responses {
		if p, ok := r.okProp(); ok && p.SyncToken != "" {
			return p.SyncToken
		}
	}
	return ""
}

func (a *Adapter) fullQuery(ctx context.Context, creds provider.Credentials, calendarID string, q provider.EventQuery) (*provider.EventPage, error) {
	// Token first, so changes racing the query show up in the next pass.
	token := a.syncToken(ctx, creds, calendarID)

	body := fmt.Sprintf(calendarQueryTemplate,
		q.TimeMin.UTC().Format(timeRangeLayout),
		q.TimeMax.UTC().Format(timeRangeLayout))
	ms, err := a.multistatus(ctx, creds, methodReport, calendarID, "1", body)
	if err != nil {
		return nil, err
	}
	return &provider.EventPage{
		Events:     a.eventsFrom(ms, q),
		NextCursor: token,
	}, nil
}

func (a *Adapter) syncCollection(ctx context.Context, creds provider.Credentials, calendarID string, q provider.EventQuery) (*provider.EventPage, error) {
	resp, err := a.send(ctx, creds, methodReport, calendarID, fmt.Sprintf(syncCollectionTemplate, escapeText(q.Cursor)), map[string]string{
		"Depth":        "1",
		"Content-Type": "application/xml; charset=utf-8",
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusForbidden, http.StatusConflict, http.StatusPreconditionFailed:
		// valid-sync-token precondition
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, provider.ErrCursorExpired
	}
	if resp.StatusCode != http.StatusMultiStatus && resp.StatusCode >= 300 {
		return nil, provider.StatusError(provider.CalDAV, resp)
	}
	var ms multistatus
	if err := xml.NewDecoder(resp.Body).Decode(&ms); err != nil {
		return nil, fmt.Errorf("caldav: decode sync-collection: %w", err)
	}

	page := &provider.EventPage{NextCursor: ms.SyncToken}
	var changed []string
	for _, r := range ms.Responses {
		if r.missing() {
			page.Events = append(page.Events, provider.Event{ID: r.Href, Status: provider.StatusCancelled})
			continue
		}
		if strings.HasSuffix(r.Href, "/") {
			continue
		}
		changed = append(changed, r.Href)
	}
	for start := 0; start < len(changed); start += multigetBatch {
		end := min(start+multigetBatch, len(changed))
		got, err := a.multistatus(ctx, creds, methodReport, calendarID, "1", multigetBody(changed[start:end]))
		if err != nil {
			return nil, err
		}
		page.Events = append(page.Events, a.eventsFrom(got, q)...)
	}
	if page.NextCursor == "" {
		page.NextCursor = q.Cursor
	}
	return page, nil
}

func (a *Adapter) eventsFrom(ms *multistatus, q provider.EventQuery) []provider.Event {
	events := make([]provider.Event, 0, len(ms.Responses))
	for _, r := range ms.Responses {
		if r.missing() {
			events = append(events, provider.Event{ID: r.Href, Status: provider.StatusCancelled})
			continue
		}
		p, ok := r.okProp()
		if !ok || p.CalendarData == "" {
			continue
		}
		ev, err := parseObject(p.CalendarData, q.TimeMin, q.TimeMax)
		if err != nil {
			logger.Warn("CalDAVAdapter:EventsFrom:Parse:Error", "href", r.Href, "error", err)
			continue
		}
		ev.ID = r.Href
		ev.ETag = p.GetETag
		events = append(events, ev)
	}
	return events
}

func (a *Adapter) CreateEvent(ctx context.Context, creds provider.Credentials, calendarID string, in provider.EventInput) (*provider.Event, error) {
	uid := uuid.NewString()
	href := strings.TrimSuffix(calendarID, "/") + "/" + uid + ".ics"
	return a.put(ctx, creds, href, uid, in, map[string]string{"If-None-Match": "*"})
}

func (a *Adapter) UpdateEvent(ctx context.Context, creds provider.Credentials, calendarID, eventID string, in provider.EventInput) (*provider.Event, error) {
	uid := strings.TrimSuffix(path.Base(eventID), ".ics")
	headers := map[string]string{}
	if in.IfMatch != "" {
		headers["If-Match"] = in.IfMatch
	}
	return a.put(ctx, creds, eventID, uid, in, headers)
}

func (a *Adapter) put(ctx context.Context, creds provider.Credentials, href, uid string, in provider.EventInput, headers map[string]string) (*provider.Event, error) {
	headers["Content-Type"] = "text/calendar; charset=utf-8"
	resp, err := a.send(ctx, creds, http.MethodPut, href, buildObject(uid, in, a.now().UTC()), headers)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, provider.StatusError(provider.CalDAV, resp)
	}
	return &provider.Event{
		ID:          href,
		Title:       in.Title,
		Description: in.Description,
		Location:    in.Location,
		Start:       in.Start.UTC(),
		End:         in.End.UTC(),
		AllDay:      in.AllDay,
		Status:      provider.StatusConfirmed,
		ETag:        resp.Header.Get("ETag"),
		Placeholder: in.Placeholder,
	}, nil
}

func (a *Adapter) DeleteEvent(ctx context.Context, creds provider.Credentials, calendarID, eventID, ifMatch string) error {
	headers := map[string]string{}
	if ifMatch != "" {
		headers["If-Match"] = ifMatch
	}
	resp, err := a.send(ctx, creds, http.MethodDelete, eventID, "", headers)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return provider.StatusError(provider.CalDAV, resp)
	}
	return nil
}
