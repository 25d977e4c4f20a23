package caldav

import (
	"errors"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/teambition/rrule-go"

	"calendar-sync/modules/provider"
)

const (
	placeholderProperty = ical.ComponentProperty("X-PLANNER-PLACEHOLDER")
	productID           = "-//calendar-sync//planner//EN"

	dateLayout     = "20060102"
	utcLayout      = "20060102T150405Z"
	floatingLayout = "20060102T150405"
)

var errNoEvent = errors.New("caldav: object has no VEVENT")

// parseObject reads one calendar object resource. Recurring series collapse
// to a single event placed at the first occurrence inside the window.
func parseObject(data string, windowStart, windowEnd time.Time) (provider.Event, error) {
	cal, err := ical.ParseCalendar(strings.NewReader(data))
	if err != nil {
		return provider.Event{}, err
	}

	var master *ical.VEvent
	for _, ve := range cal.Events() {
		if ve.GetProperty(ical.ComponentPropertyRecurrenceId) == nil {
			master = ve
			break
		}
	}
	if master == nil {
		return provider.Event{}, errNoEvent
	}

	ev := provider.Event{Status: provider.StatusConfirmed}
	if p := master.GetProperty(ical.ComponentPropertySummary); p != nil {
		ev.Title = p.Value
	}
	if p := master.GetProperty(ical.ComponentPropertyDescription); p != nil {
		ev.Description = p.Value
	}
	if p := master.GetProperty(ical.ComponentPropertyLocation); p != nil {
		ev.Location = p.Value
	}
	if p := master.GetProperty(ical.ComponentPropertyStatus); p != nil {
		switch strings.ToUpper(strings.TrimSpace(p.Value)) {
		case "CANCELLED":
			ev.Status = provider.StatusCancelled
		case "TENTATIVE":
			ev.Status = provider.StatusTentative
		}
	}
	if p := master.GetProperty(placeholderProperty); p != nil && strings.EqualFold(p.Value, "TRUE") {
		ev.Placeholder = true
	}
	if p := master.GetProperty(ical.ComponentPropertyLastModified); p != nil {
		if t, err := time.Parse(utcLayout, p.Value); err == nil {
			ev.UpdatedAt = t
		}
	}

	ev.Start, ev.AllDay = propertyTime(master.GetProperty(ical.ComponentPropertyDtStart))
	if ev.Start.IsZero() {
		if t, err := master.GetStartAt(); err == nil {
			ev.Start = t.UTC()
		}
	}
	ev.End, _ = propertyTime(master.GetProperty(ical.ComponentPropertyDtEnd))
	if ev.End.IsZero() {
		if t, err := master.GetEndAt(); err == nil {
			ev.End = t.UTC()
		} else if ev.AllDay {
			ev.End = ev.Start.AddDate(0, 0, 1)
		} else {
			ev.End = ev.Start
		}
	}

	if p := master.GetProperty(ical.ComponentPropertyRrule); p != nil && p.Value != "" {
		if start, ok := firstOccurrence(p.Value, ev.Start, windowStart, windowEnd); ok {
			duration := ev.End.Sub(ev.Start)
			ev.Start = start
			ev.End = start.Add(duration)
		}
	}
	return ev, nil
}

// propertyTime handles DATE values and UTC or TZID-qualified date-times.
func propertyTime(p *ical.IANAProperty) (time.Time, bool) {
	if p == nil {
		return time.Time{}, false
	}
	val := strings.TrimSpace(p.Value)
	isDate := !strings.Contains(val, "T")
	if vs, ok := p.ICalParameters["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		isDate = true
	}
	if isDate {
		t, err := time.ParseInLocation(dateLayout, val, time.UTC)
		if err != nil {
			return time.Time{}, true
		}
		return t, true
	}
	if strings.HasSuffix(val, "Z") {
		t, err := time.Parse(utcLayout, val)
		if err != nil {
			return time.Time{}, false
		}
		return t, false
	}
	loc := time.UTC
	if tz, ok := p.ICalParameters["TZID"]; ok && len(tz) > 0 {
		if l, err := time.LoadLocation(tz[0]); err == nil {
			loc = l
		}
	}
	t, err := time.ParseInLocation(floatingLayout, val, loc)
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), false
}

func firstOccurrence(rule string, dtstart, windowStart, windowEnd time.Time) (time.Time, bool) {
	r, err := rrule.StrToRRule(rule)
	if err != nil {
		return time.Time{}, false
	}
	r.DTStart(dtstart)
	if windowStart.IsZero() {
		windowStart = time.Now().UTC()
	}
	if !windowEnd.IsZero() {
		if occ := r.Between(windowStart, windowEnd, true); len(occ) > 0 {
			return occ[0].UTC(), true
		}
		return time.Time{}, false
	}
	occ := r.After(windowStart, true)
	if occ.IsZero() {
		return time.Time{}, false
	}
	return occ.UTC(), true
}

func buildObject(uid string, in provider.EventInput, now time.Time) string {
	cal := ical.NewCalendar()
	cal.SetProductId(productID)
	ve := cal.AddEvent(uid)
	ve.SetDtStampTime(now)
	ve.SetSummary(in.Title)
	if in.Description != "" {
		ve.SetDescription(in.Description)
	}
	if in.Location != "" {
		ve.SetLocation(in.Location)
	}
	if in.AllDay {
		ve.SetAllDayStartAt(in.Start.UTC())
		ve.SetAllDayEndAt(in.End.UTC())
	} else {
		ve.SetStartAt(in.Start.UTC())
		ve.SetEndAt(in.End.UTC())
	}
	ve.SetProperty(ical.ComponentPropertyTransp, "OPAQUE")
	if in.Placeholder {
		ve.SetProperty(placeholderProperty, "TRUE")
	}
	return cal.Serialize()
}
