package microsoft

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"calendar-sync/core/constants"
	"calendar-sync/core/logger"
	"calendar-sync/modules/provider"

	"golang.org/x/oauth2"
	msoauth "golang.org/x/oauth2/microsoft"
)

const (
	defaultBaseURL = "https://graph.microsoft.com/v1.0"
	pageSize       = 100

	// Graph caps calendar subscriptions just under three days.
	subscriptionLifetime = 4200 * time.Minute
)

var scopes = []string{"offline_access", "User.Read", "Calendars.ReadWrite"}

type Config struct {
	ClientID     string
	ClientSecret string
	Tenant       string
	BaseURL      string
	Endpoint     oauth2.Endpoint
	HTTPClient   *http.Client
}

type Adapter struct {
	cfg    Config
	client *http.Client
	oauth  oauth2.Config
}

func New(cfg Config) *Adapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Tenant == "" {
		cfg.Tenant = "common"
	}
	if cfg.Endpoint.TokenURL == "" {
		cfg.Endpoint = msoauth.AzureADEndpoint(cfg.Tenant)
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: constants.ProviderHTTPTimeout}
	}
	return &Adapter{
		cfg:    cfg,
		client: client,
		oauth: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     cfg.Endpoint,
			Scopes:       scopes,
		},
	}
}

func (a *Adapter) Name() string { return provider.Microsoft }

func (a *Adapter) Capabilities() provider.Capabilities {
	return provider.Capabilities{OAuth: true, Webhooks: true, IncrementalSync: true}
}

func (a *Adapter) oauthConfig(redirectURL string) *oauth2.Config {
	conf := a.oauth
	conf.RedirectURL = redirectURL
	return &conf
}

func (a *Adapter) tokenContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, a.client)
}

func (a *Adapter) AuthCodeURL(state, redirectURL string) (string, error) {
	return a.oauthConfig(redirectURL).AuthCodeURL(state, oauth2.SetAuthURLParam("prompt", "select_account")), nil
}

func (a *Adapter) Exchange(ctx context.Context, code, redirectURL string) (*provider.Token, error) {
	tok, err := a.oauthConfig(redirectURL).Exchange(a.tokenContext(ctx), code)
	if err != nil {
		logger.Error("MicrosoftAdapter:Exchange:Error", "error", err)
		return nil, provider.TokenError(provider.Microsoft, err)
	}
	out := toToken(tok)

	req, err := provider.JSONRequest(ctx, http.MethodGet, a.cfg.BaseURL+"/me?$select=id,mail,userPrincipalName", nil)
	if err != nil {
		return nil, err
	}
	var me struct {
		ID                string `json:"id"`
		Mail              string `json:"mail"`
		UserPrincipalName string `json:"userPrincipalName"`
	}
	if err := a.do(provider.Credentials{AccessToken: out.AccessToken}, req, &me); err != nil {
		return nil, err
	}
	out.AccountID = me.ID
	out.AccountEmail = me.Mail
	if out.AccountEmail == "" {
		out.AccountEmail = me.UserPrincipalName
	}
	return out, nil
}

func (a *Adapter) Refresh(ctx context.Context, creds provider.Credentials) (*provider.Token, error) {
	if creds.RefreshToken == "" {
		return nil, fmt.Errorf("%w: no refresh token", provider.ErrAuthExpired)
	}
	tok, err := a.oauth.TokenSource(a.tokenContext(ctx), &oauth2.Token{RefreshToken: creds.RefreshToken}).Token()
	if err != nil {
		return nil, provider.TokenError(provider.Microsoft, err)
	}
	return toToken(tok), nil
}

// Revoke is unsupported: Graph only offers revoking every session of the user.
func (a *Adapter) Revoke(ctx context.Context, creds provider.Credentials) error {
	return provider.ErrUnsupported
}

func toToken(tok *oauth2.Token) *provider.Token {
	out := &provider.Token{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry.UTC(),
	}
	if raw, ok := tok.Extra("scope").(string); ok && raw != "" {
		out.Scopes = strings.Fields(raw)
	}
	return out
}

func (a *Adapter) do(creds provider.Credentials, req *http.Request, out any) error {
	req.Header.Set("Authorization", "Bearer "+creds.AccessToken)
	resp, err := a.client.Do(req)
	if err != nil {
		return provider.TransportError(provider.Microsoft, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return provider.StatusError(provider.Microsoft, resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (a *Adapter) ListCalendars(ctx context.Context, creds provider.Credentials) ([]provider.Calendar, error) {
	var calendars []provider.Calendar
	next := a.cfg.BaseURL + "/me/calendars?$top=" + fmt.Sprint(pageSize)
	for next != "" {
		req, err := provider.JSONRequest(ctx, http.MethodGet, next, nil)
		if err != nil {
			return nil, err
		}
		var body struct {
			Value []struct {
				ID                string `json:"id"`
				Name              string `json:"name"`
				HexColor          string `json:"hexColor"`
				CanEdit           bool   `json:"canEdit"`
				IsDefaultCalendar bool   `json:"isDefaultCalendar"`
			} `json:"value"`
			NextLink string `json:"@odata.nextLink"`
		}
		if err := a.do(creds, req, &body); err != nil {
			return nil, err
		}
		for _, c := range body.Value {
			calendars = append(calendars, provider.Calendar{
				ID:       c.ID,
				Name:     c.Name,
				Color:    c.HexColor,
				Primary:  c.IsDefaultCalendar,
				ReadOnly: !c.CanEdit,
			})
		}
		next = body.NextLink
	}
	return calendars, nil
}

// GetEvents walks calendarView/delta. Cursors are Graph nextLink or
// deltaLink URLs.
func (a *Adapter) GetEvents(ctx context.Context, creds provider.Credentials, calendarID string, q provider.EventQuery) (*provider.EventPage, error) {
	link := q.Cursor
	if link == "" {
		link = a.windowLink(calendarID, q)
	}
	page, err := a.fetchDelta(ctx, creds, link)
	if errors.Is(err, provider.ErrCursorExpired) {
		logger.Warn("MicrosoftAdapter:GetEvents:CursorExpired", "calendar_id", calendarID)
		page, err = a.fetchDelta(ctx, creds, a.windowLink(calendarID, q))
	}
	return page, err
}

func (a *Adapter) windowLink(calendarID string, q provider.EventQuery) string {
	params := url.Values{}
	params.Set("startDateTime", q.TimeMin.UTC().Format(time.RFC3339))
	params.Set("endDateTime", q.TimeMax.UTC().Format(time.RFC3339))
	return a.cfg.BaseURL + "/me/calendars/" + url.PathEscape(calendarID) + "/calendarView/delta?" + params.Encode()
}

func (a *Adapter) fetchDelta(ctx context.Context, creds provider.Credentials, link string) (*provider.EventPage, error) {
	req, err := provider.JSONRequest(ctx, http.MethodGet, link, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+creds.AccessToken)
	req.Header.Set("Prefer", fmt.Sprintf(`odata.maxpagesize=%d, outlook.timezone="UTC"`, pageSize))

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, provider.TransportError(provider.Microsoft, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusGone {
		return nil, provider.ErrCursorExpired
	}
	if resp.StatusCode >= 300 {
		return nil, provider.StatusError(provider.Microsoft, resp)
	}

	var body struct {
		Value     []gEvent `json:"value"`
		NextLink  string   `json:"@odata.nextLink"`
		DeltaLink string   `json:"@odata.deltaLink"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode delta: %w", err)
	}

	page := &provider.EventPage{Events: make([]provider.Event, 0, len(body.Value))}
	for _, item := range body.Value {
		page.Events = append(page.Events, item.toEvent())
	}
	if body.NextLink != "" {
		page.HasMore = true
		page.NextCursor = body.NextLink
	} else {
		page.NextCursor = body.DeltaLink
	}
	return page, nil
}

func (a *Adapter) CreateEvent(ctx context.Context, creds provider.Credentials, calendarID string, in provider.EventInput) (*provider.Event, error) {
	req, err := provider.JSONRequest(ctx, http.MethodPost, a.cfg.BaseURL+"/me/calendars/"+url.PathEscape(calendarID)+"/events", fromInput(in))
	if err != nil {
		return nil, err
	}
	var out gEvent
	if err := a.do(creds, req, &out); err != nil {
		return nil, err
	}
	ev := out.toEvent()
	return &ev, nil
}

func (a *Adapter) UpdateEvent(ctx context.Context, creds provider.Credentials, calendarID, eventID string, in provider.EventInput) (*provider.Event, error) {
	req, err := provider.JSONRequest(ctx, http.MethodPatch, a.cfg.BaseURL+"/me/events/"+url.PathEscape(eventID), fromInput(in))
	if err != nil {
		return nil, err
	}
	if in.IfMatch != "" {
		req.Header.Set("If-Match", in.IfMatch)
	}
	var out gEvent
	if err := a.do(creds, req, &out); err != nil {
		return nil, err
	}
	ev := out.toEvent()
	return &ev, nil
}

func (a *Adapter) DeleteEvent(ctx context.Context, creds provider.Credentials, calendarID, eventID, ifMatch string) error {
	req, err := provider.JSONRequest(ctx, http.MethodDelete, a.cfg.BaseURL+"/me/events/"+url.PathEscape(eventID), nil)
	if err != nil {
		return err
	}
	if ifMatch != "" {
		req.Header.Set("If-Match", ifMatch)
	}
	return a.do(creds, req, nil)
}

type subscription struct {
	ID                       string `json:"id,omitempty"`
	ChangeType               string `json:"changeType,omitempty"`
	NotificationURL          string `json:"notificationUrl,omitempty"`
	LifecycleNotificationURL string `json:"lifecycleNotificationUrl,omitempty"`
	Resource                 string `json:"resource,omitempty"`
	ExpirationDateTime       string `json:"expirationDateTime,omitempty"`
	ClientState              string `json:"clientState,omitempty"`
}

func (s subscription) channel() *provider.Channel {
	ch := &provider.Channel{ID: s.ID, ResourceID: s.Resource}
	if t, err := time.Parse(time.RFC3339, s.ExpirationDateTime); err == nil {
		ch.Expiry = t.UTC()
	}
	return ch
}

func (a *Adapter) RegisterWebhook(ctx context.Context, creds provider.Credentials, calendarID string, r provider.ChannelRequest) (*provider.Channel, error) {
	body := subscription{
		ChangeType:               "created,updated,deleted",
		NotificationURL:          r.CallbackURL,
		LifecycleNotificationURL: r.CallbackURL,
		Resource:                 "/me/calendars/" + calendarID + "/events",
		ExpirationDateTime:       time.Now().Add(subscriptionLifetime).UTC().Format(time.RFC3339),
		ClientState:              r.Secret,
	}
	req, err := provider.JSONRequest(ctx, http.MethodPost, a.cfg.BaseURL+"/subscriptions", body)
	if err != nil {
		return nil, err
	}
	var out subscription
	if err := a.do(creds, req, &out); err != nil {
		return nil, err
	}
	return out.channel(), nil
}

func (a *Adapter) RenewWebhook(ctx context.Context, creds provider.Credentials, calendarID string, current provider.Channel, r provider.ChannelRequest) (*provider.Channel, error) {
	body := subscription{ExpirationDateTime: time.Now().Add(subscriptionLifetime).UTC().Format(time.RFC3339)}
	req, err := provider.JSONRequest(ctx, http.MethodPatch, a.cfg.BaseURL+"/subscriptions/"+url.PathEscape(current.ID), body)
	if err != nil {
		return nil, err
	}
	var out subscription
	if err := a.do(creds, req, &out); err != nil {
		if errors.Is(err, provider.ErrNotFound) {
			return a.RegisterWebhook(ctx, creds, calendarID, r)
		}
		return nil, err
	}
	return out.channel(), nil
}

func (a *Adapter) CancelWebhook(ctx context.Context, creds provider.Credentials, ch provider.Channel) error {
	req, err := provider.JSONRequest(ctx, http.MethodDelete, a.cfg.BaseURL+"/subscriptions/"+url.PathEscape(ch.ID), nil)
	if err != nil {
		return err
	}
	if err := a.do(creds, req, nil); err != nil && !errors.Is(err, provider.ErrNotFound) {
		return err
	}
	return nil
}
