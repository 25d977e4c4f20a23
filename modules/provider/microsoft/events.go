package microsoft

import (
	"strings"
	"time"

	"calendar-sync/modules/provider"
)

const (
	graphTimeLayout     = "2006-01-02T15:04:05.9999999"
	placeholderCategory = "Planner Busy"
)

type gDateTime struct {
	DateTime string `json:"dateTime"`
	TimeZone string `json:"timeZone"`
}

type gBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

type gLocation struct {
	DisplayName string `json:"displayName"`
}

type gEvent struct {
	ID                   string     `json:"id,omitempty"`
	ETag                 string     `json:"@odata.etag,omitempty"`
	Subject              string     `json:"subject,omitempty"`
	BodyPreview          string     `json:"bodyPreview,omitempty"`
	Body                 *gBody     `json:"body,omitempty"`
	Location             *gLocation `json:"location,omitempty"`
	Start                *gDateTime `json:"start,omitempty"`
	End                  *gDateTime `json:"end,omitempty"`
	IsAllDay             bool       `json:"isAllDay"`
	IsCancelled          bool       `json:"isCancelled,omitempty"`
	ShowAs               string     `json:"showAs,omitempty"`
	Categories           []string   `json:"categories,omitempty"`
	LastModifiedDateTime string     `json:"lastModifiedDateTime,omitempty"`
	Removed              *struct {
		Reason string `json:"reason"`
	} `json:"@removed,omitempty"`
}

func (e gEvent) toEvent() provider.Event {
	ev := provider.Event{
		ID:          e.ID,
		Title:       e.Subject,
		Description: e.BodyPreview,
		ETag:        e.ETag,
		AllDay:      e.IsAllDay,
		Status:      provider.StatusConfirmed,
	}
	if e.Removed != nil || e.IsCancelled {
		ev.Status = provider.StatusCancelled
	} else if e.ShowAs == "tentative" {
		ev.Status = provider.StatusTentative
	}
	if e.Location != nil {
		ev.Location = e.Location.DisplayName
	}
	if e.Start != nil {
		ev.Start = parseGraphTime(*e.Start)
	}
	if e.End != nil {
		ev.End = parseGraphTime(*e.End)
	}
	if t, err := time.Parse(time.RFC3339, e.LastModifiedDateTime); err == nil {
		ev.UpdatedAt = t.UTC()
	}
	for _, c := range e.Categories {
		if c == placeholderCategory {
			ev.Placeholder = true
		}
	}
	return ev
}

// parseGraphTime reads Graph's zone-less timestamps. Requests ask for UTC;
// other zones are resolved through the IANA database when available.
func parseGraphTime(t gDateTime) time.Time {
	loc := time.UTC
	if tz := strings.TrimSpace(t.TimeZone); tz != "" && !strings.EqualFold(tz, "UTC") {
		if l, err := time.LoadLocation(tz); err == nil {
			loc = l
		}
	}
	parsed, err := time.ParseInLocation(graphTimeLayout, t.DateTime, loc)
	if err != nil {
		return time.Time{}
	}
	return parsed.UTC()
}

func fromInput(in provider.EventInput) gEvent {
	ev := gEvent{
		Subject:  in.Title,
		IsAllDay: in.AllDay,
		ShowAs:   "busy",
		Start:    &gDateTime{DateTime: in.Start.UTC().Format(graphTimeLayout), TimeZone: "UTC"},
		End:      &gDateTime{DateTime: in.End.UTC().Format(graphTimeLayout), TimeZone: "UTC"},
	}
	if in.Description != "" {
		ev.Body = &gBody{ContentType: "text", Content: in.Description}
	}
	if in.Location != "" {
		ev.Location = &gLocation{DisplayName: in.Location}
	}
	if in.Placeholder {
		ev.Categories = []string{placeholderCategory}
	}
	return ev
}
