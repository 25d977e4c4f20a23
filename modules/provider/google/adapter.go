package google

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

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
	googleoauth "golang.org/x/oauth2/google"
)

const (
	defaultBaseURL   = "https://www.googleapis.com/calendar/v3"
	defaultRevokeURL = "https://oauth2.googleapis.com/revoke"
	issuerURL        = "https://accounts.google.com"
	pageSize         = "250"

	placeholderKey = "plannerPlaceholder"
)

var scopes = []string{
	oidc.ScopeOpenID,
	"email",
	"https://www.googleapis.com/auth/calendar",
}

type Config struct {
	ClientID     string
	ClientSecret string
	// BaseURL, Endpoint and RevokeURL default to Google's production hosts.
	BaseURL    string
	Endpoint   oauth2.Endpoint
	RevokeURL  string
	HTTPClient *http.Client
	// Verifier checks the ID token returned with the code exchange. When nil
	// the account email falls back to the primary calendar id.
	Verifier *oidc.IDTokenVerifier
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
	if cfg.Endpoint.TokenURL == "" {
		cfg.Endpoint = googleoauth.Endpoint
	}
	if cfg.RevokeURL == "" {
		cfg.RevokeURL = defaultRevokeURL
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

// NewVerifier fetches Google's discovery document. It makes an outbound call.
func NewVerifier(ctx context.Context, clientID string) (*oidc.IDTokenVerifier, error) {
	p, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, fmt.Errorf("google oidc discovery: %w", err)
	}
	return p.Verifier(&oidc.Config{ClientID: clientID}), nil
}

func (a *Adapter) Name() string { return provider.Google }

func (a *Adapter) Capabilities() provider.Capabilities {
	return provider.Capabilities{OAuth: true, Webhooks: true, IncrementalSync: true, Revocable: true}
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
	return a.oauthConfig(redirectURL).AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce), nil
}

func (a *Adapter) Exchange(ctx context.Context, code, redirectURL string) (*provider.Token, error) {
	tok, err := a.oauthConfig(redirectURL).Exchange(a.tokenContext(ctx), code)
	if err != nil {
		logger.Error("GoogleAdapter:Exchange:Error", "error", err)
		return nil, provider.TokenError(provider.Google, err)
	}

	out := toToken(tok)
	if a.cfg.Verifier != nil {
		if raw, ok := tok.Extra("id_token").(string); ok && raw != "" {
			idToken, err := a.cfg.Verifier.Verify(ctx, raw)
			if err != nil {
				return nil, fmt.Errorf("verify id token: %w", err)
			}
			var claims struct {
				Sub   string `json:"sub"`
				Email string `json:"email"`
			}
			if err := idToken.Claims(&claims); err != nil {
				return nil, fmt.Errorf("id token claims: %w", err)
			}
			out.AccountID = claims.Sub
			out.AccountEmail = claims.Email
		}
	}
	return out, nil
}

func (a *Adapter) Refresh(ctx context.Context, creds provider.Credentials) (*provider.Token, error) {
	if creds.RefreshToken == "" {
		return nil, fmt.Errorf("%w: no refresh token", provider.ErrAuthExpired)
	}
	src := a.oauth.TokenSource(a.tokenContext(ctx), &oauth2.Token{RefreshToken: creds.RefreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, provider.TokenError(provider.Google, err)
	}
	return toToken(tok), nil
}

func (a *Adapter) Revoke(ctx context.Context, creds provider.Credentials) error {
	token := creds.RefreshToken
	if token == "" {
		token = creds.AccessToken
	}
	form := url.Values{"token": {token}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.RevokeURL, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := a.client.Do(req)
	if err != nil {
		return provider.TransportError(provider.Google, err)
	}
	defer resp.Body.Close()
	// 400 means the token is already invalid.
	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusBadRequest {
		return nil
	}
	return provider.StatusError(provider.Google, resp)
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

// do sends req with the bearer token and decodes a JSON body into out.
func (a *Adapter) do(creds provider.Credentials, req *http.Request, out any) error {
	req.Header.Set("Authorization", "Bearer "+creds.AccessToken)
	resp, err := a.client.Do(req)
	if err != nil {
		return provider.TransportError(provider.Google, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return provider.StatusError(provider.Google, resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (a *Adapter) ListCalendars(ctx context.Context, creds provider.Credentials) ([]provider.Calendar, error) {
	var calendars []provider.Calendar
	pageToken := ""
	for {
		params := url.Values{"maxResults": {pageSize}}
		if pageToken != "" {
			params.Set("pageToken", pageToken)
		}
		req, err := provider.JSONRequest(ctx, http.MethodGet, a.cfg.BaseURL+"/users/me/calendarList?"+params.Encode(), nil)
		if err != nil {
			return nil, err
		}
		var body struct {
			Items []struct {
				ID              string `json:"id"`
				Summary         string `json:"summary"`
				BackgroundColor string `json:"backgroundColor"`
				Primary         bool   `json:"primary"`
				AccessRole      string `json:"accessRole"`
			} `json:"items"`
			NextPageToken string `json:"nextPageToken"`
		}
		if err := a.do(creds, req, &body); err != nil {
			return nil, err
		}
		for _, item := range body.Items {
			calendars = append(calendars, provider.Calendar{
				ID:       item.ID,
				Name:     item.Summary,
				Color:    item.BackgroundColor,
				Primary:  item.Primary,
				ReadOnly: item.AccessRole != "owner" && item.AccessRole != "writer",
			})
		}
		if body.NextPageToken == "" {
			return calendars, nil
		}
		pageToken = body.NextPageToken
	}
}

func (a *Adapter) eventsURL(calendarID string) string {
	return a.cfg.BaseURL + "/calendars/" + url.PathEscape(calendarID) + "/events"
}

func (a *Adapter) GetEvents(ctx context.Context, creds provider.Credentials, calendarID string, q provider.EventQuery) (*provider.EventPage, error) {
	c := decodeCursor(q.Cursor)
	if c.SyncToken == "" && c.TimeMin.IsZero() {
		c.TimeMin, c.TimeMax = q.TimeMin, q.TimeMax
	}

	page, err := a.fetchEvents(ctx, creds, calendarID, c)
	if errors.Is(err, provider.ErrCursorExpired) {
		logger.Warn("GoogleAdapter:GetEvents:CursorExpired", "calendar_id", calendarID)
		page, err = a.fetchEvents(ctx, creds, calendarID, cursor{TimeMin: q.TimeMin, TimeMax: q.TimeMax})
	}
	return page, err
}

func (a *Adapter) fetchEvents(ctx context.Context, creds provider.Credentials, calendarID string, c cursor) (*provider.EventPage, error) {
	params := url.Values{
		"showDeleted":  {"true"},
		"singleEvents": {"true"},
		"maxResults":   {pageSize},
	}
	if c.SyncToken != "" {
		params.Set("syncToken", c.SyncToken)
	} else {
		if !c.TimeMin.IsZero() {
			params.Set("timeMin", c.TimeMin.UTC().Format(time.RFC3339))
		}
		if !c.TimeMax.IsZero() {
			params.Set("timeMax", c.TimeMax.UTC().Format(time.RFC3339))
		}
	}
	if c.PageToken != "" {
		params.Set("pageToken", c.PageToken)
	}

	req, err := provider.JSONRequest(ctx, http.MethodGet, a.eventsURL(calendarID)+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+creds.AccessToken)
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, provider.TransportError(provider.Google, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusGone && c.SyncToken != "" {
		return nil, provider.ErrCursorExpired
	}
	if resp.StatusCode >= 300 {
		return nil, provider.StatusError(provider.Google, resp)
	}

	var body struct {
		Items         []gEvent `json:"items"`
		NextPageToken string   `json:"nextPageToken"`
		NextSyncToken string   `json:"nextSyncToken"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode events: %w", err)
	}

	page := &provider.EventPage{Events: make([]provider.Event, 0, len(body.Items))}
	for _, item := range body.Items {
		page.Events = append(page.Events, item.toEvent())
	}
	if body.NextPageToken != "" {
		page.HasMore = true
		page.NextCursor = encodeCursor(cursor{
			SyncToken: c.SyncToken,
			PageToken: body.NextPageToken,
			TimeMin:   c.TimeMin,
			TimeMax:   c.TimeMax,
		})
	} else if body.NextSyncToken != "" {
		page.NextCursor = encodeCursor(cursor{SyncToken: body.NextSyncToken})
	}
	return page, nil
}

func (a *Adapter) CreateEvent(ctx context.Context, creds provider.Credentials, calendarID string, in provider.EventInput) (*provider.Event, error) {
	req, err := provider.JSONRequest(ctx, http.MethodPost, a.eventsURL(calendarID), fromInput(in))
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
	req, err := provider.JSONRequest(ctx, http.MethodPatch, a.eventsURL(calendarID)+"/"+url.PathEscape(eventID), fromInput(in))
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
	req, err := provider.JSONRequest(ctx, http.MethodDelete, a.eventsURL(calendarID)+"/"+url.PathEscape(eventID), nil)
	if err != nil {
		return err
	}
	if ifMatch != "" {
		req.Header.Set("If-Match", ifMatch)
	}
	return a.do(creds, req, nil)
}

type watchResponse struct {
	ID         string `json:"id"`
	ResourceID string `json:"resourceId"`
	Expiration string `json:"expiration"`
}

func (a *Adapter) RegisterWebhook(ctx context.Context, creds provider.Credentials, calendarID string, r provider.ChannelRequest) (*provider.Channel, error) {
	body := map[string]string{
		"id":      r.ChannelID,
		"type":    "web_hook",
		"address": r.CallbackURL,
		"token":   r.Secret,
	}
	req, err := provider.JSONRequest(ctx, http.MethodPost, a.eventsURL(calendarID)+"/watch", body)
	if err != nil {
		return nil, err
	}
	var out watchResponse
	if err := a.do(creds, req, &out); err != nil {
		return nil, err
	}
	ch := &provider.Channel{ID: out.ID, ResourceID: out.ResourceID}
	if ms, err := parseMillis(out.Expiration); err == nil {
		ch.Expiry = ms
	}
	return ch, nil
}

// RenewWebhook opens a replacement channel and stops the old one; Google
// channels cannot be extended in place.
func (a *Adapter) RenewWebhook(ctx context.Context, creds provider.Credentials, calendarID string, current provider.Channel, r provider.ChannelRequest) (*provider.Channel, error) {
	ch, err := a.RegisterWebhook(ctx, creds, calendarID, r)
	if err != nil {
		return nil, err
	}
	if current.ID != "" {
		if err := a.CancelWebhook(ctx, creds, current); err != nil {
			logger.Warn("GoogleAdapter:RenewWebhook:StopOld:Error", "channel_id", current.ID, "error", err)
		}
	}
	return ch, nil
}

func (a *Adapter) CancelWebhook(ctx context.Context, creds provider.Credentials, ch provider.Channel) error {
	body := map[string]string{"id": ch.ID, "resourceId": ch.ResourceID}
	req, err := provider.JSONRequest(ctx, http.MethodPost, a.cfg.BaseURL+"/channels/stop", body)
	if err != nil {
		return err
	}
	if err := a.do(creds, req, nil); err != nil && !errors.Is(err, provider.ErrNotFound) {
		return err
	}
	return nil
}
