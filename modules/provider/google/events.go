package google

import (
	"encoding/base64"
	"encoding/json"
	"strconv"
	"time"

	"calendar-sync/modules/provider"
)

const dateLayout = "2006-01-02"

type gTime struct {
	Date     string `json:"date,omitempty"`
	DateTime string `json:"dateTime,omitempty"`
	TimeZone string `json:"timeZone,omitempty"`
}

type gExtended struct {
	Private map[string]string `json:"private,omitempty"`
}

type gEvent struct {
	ID                 string     `json:"id,omitempty"`
	Status             string     `json:"status,omitempty"`
	Summary            string     `json:"summary,omitempty"`
	Description        string     `json:"description,omitempty"`
	Location           string     `json:"location,omitempty"`
	ETag               string     `json:"etag,omitempty"`
	Updated            string     `json:"updated,omitempty"`
	Transparency       string     `json:"transparency,omitempty"`
	Start              *gTime     `json:"start,omitempty"`
	End                *gTime     `json:"end,omitempty"`
	ExtendedProperties *gExtended `json:"extendedProperties,omitempty"`
}

func (e gEvent) toEvent() provider.Event {
	ev := provider.Event{
		ID:          e.ID,
		Title:       e.Summary,
		Description: e.Description,
		Location:    e.Location,
		ETag:        e.ETag,
		Status:      provider.StatusConfirmed,
	}
	switch e.Status {
	case "cancelled":
		ev.Status = provider.StatusCancelled
	case "tentative":
		ev.Status = provider.StatusTentative
	}
	if e.Start != nil {
		ev.Start, ev.AllDay = parseTime(*e.Start)
	}
	if e.End != nil {
		ev.End, _ = parseTime(*e.End)
	}
	if t, err := time.Parse(time.RFC3339, e.Updated); err == nil {
		ev.UpdatedAt = t.UTC()
	}
	if e.ExtendedProperties != nil && e.ExtendedProperties.Private[placeholderKey] == "true" {
		ev.Placeholder = true
	}
	return ev
}

func parseTime(t gTime) (time.Time, bool) {
	if t.Date != "" {
		d, err := time.ParseInLocation(dateLayout, t.Date, time.UTC)
		if err != nil {
			return time.Time{}, true
		}
		return d, true
	}
	parsed, err := time.Parse(time.RFC3339, t.DateTime)
	if err != nil {
		return time.Time{}, false
	}
	return parsed.UTC(), false
}

func fromInput(in provider.EventInput) gEvent {
	ev := gEvent{
		Summary:      in.Title,
		Description:  in.Description,
		Location:     in.Location,
		Transparency: "opaque",
	}
	if in.AllDay {
		ev.Start = &gTime{Date: in.Start.UTC().Format(dateLayout)}
		ev.End = &gTime{Date: in.End.UTC().Format(dateLayout)}
	} else {
		ev.Start = &gTime{DateTime: in.Start.UTC().Format(time.RFC3339), TimeZone: "UTC"}
		ev.End = &gTime{DateTime: in.End.UTC().Format(time.RFC3339), TimeZone: "UTC"}
	}
	if in.Placeholder {
		ev.ExtendedProperties = &gExtended{Private: map[string]string{placeholderKey: "true"}}
	}
	return ev
}

// cursor is opaque to callers. It carries either a sync token or the page
// position of an in-flight pass together with the window that started it.
type cursor struct {
	SyncToken string    `json:"s,omitempty"`
	PageToken string    `json:"p,omitempty"`
	TimeMin   time.Time `json:"min"`
	TimeMax   time.Time `json:"max"`
}

func encodeCursor(c cursor) string {
	raw, _ := json.Marshal(c)
	return base64.RawURLEncoding.EncodeToString(raw)
}

func decodeCursor(s string) cursor {
	var c cursor
	if s == "" {
		return c
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return cursor{}
	}
	if err := json.Unmarshal(raw, &c); err != nil {
		return cursor{}
	}
	return c
}

func parseMillis(s string) (time.Time, error) {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms).UTC(), nil
}
