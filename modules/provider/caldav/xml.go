package caldav

import (
	"encoding/xml"
	"strings"
)

type multistatus struct {
	XMLName   xml.Name   `xml:"DAV: multistatus"`
	Responses []response `xml:"DAV: response"`
	SyncToken string     `xml:"DAV: sync-token"`
}

type response struct {
	Href      string     `xml:"DAV: href"`
	Status    string     `xml:"DAV: status"`
	Propstats []propstat `xml:"DAV: propstat"`
}

// okProp returns the first propstat reported with a 2xx status.
func (r response) okProp() (prop, bool) {
	for _, ps := range r.Propstats {
		if statusOK(ps.Status) {
			return ps.Prop, true
		}
	}
	return prop{}, false
}

func (r response) missing() bool {
	return strings.Contains(r.Status, " 404")
}

type propstat struct {
	Prop   prop   `xml:"DAV: prop"`
	Status string `xml:"DAV: status"`
}

type hrefProp struct {
	Href string `xml:"DAV: href"`
}

type resourceType struct {
	Calendar   *struct{} `xml:"urn:ietf:params:xml:ns:caldav calendar"`
	Collection *struct{} `xml:"DAV: collection"`
}

type privilege struct {
	All          *struct{} `xml:"DAV: all"`
	Write        *struct{} `xml:"DAV: write"`
	WriteContent *struct{} `xml:"DAV: write-content"`
}

type privilegeSet struct {
	Privileges []privilege `xml:"DAV: privilege"`
}

func (p *privilegeSet) writable() bool {
	if p == nil {
		return true
	}
	for _, priv := range p.Privileges {
		if priv.All != nil || priv.Write != nil || priv.WriteContent != nil {
			return true
		}
	}
	return false
}

type prop struct {
	DisplayName          string        `xml:"DAV: displayname"`
	ResourceType         resourceType  `xml:"DAV: resourcetype"`
	CurrentUserPrincipal *hrefProp     `xml:"DAV: current-user-principal"`
	CalendarHomeSet      *hrefProp     `xml:"urn:ietf:params:xml:ns:caldav calendar-home-set"`
	CalendarColor        string        `xml:"http://apple.com/ns/ical/ calendar-color"`
	Privileges           *privilegeSet `xml:"DAV: current-user-privilege-set"`
	GetETag              string        `xml:"DAV: getetag"`
	CalendarData         string        `xml:"urn:ietf:params:xml:ns:caldav calendar-data"`
	SyncToken            string        `xml:"DAV: sync-token"`
}

func statusOK(status string) bool {
	return status == "" || strings.Contains(status, " 2")
}

const propfindPrincipal = `<?xml version="1.0" encoding="utf-8"?>
<d:propfind xmlns:d="DAV:"><d:prop><d:current-user-principal/></d:prop></d:propfind>`

const propfindHome = `<?xml version="1.0" encoding="utf-8"?>
<d:propfind xmlns:d="DAV:" xmlns:c="urn:ietf:params:xml:ns:caldav"><d:prop><c:calendar-home-set/></d:prop></d:propfind>`

const propfindCalendars = `<?xml version="1.0" encoding="utf-8"?>
<d:propfind xmlns:d="DAV:" xmlns:c="urn:ietf:params:xml:ns:caldav" xmlns:a="http://apple.com/ns/ical/">
<d:prop><d:resourcetype/><d:displayname/><a:calendar-color/><d:current-user-privilege-set/></d:prop>
</d:propfind>`

const propfindSyncToken = `<?xml version="1.0" encoding="utf-8"?>
<d:propfind xmlns:d="DAV:"><d:prop><d:sync-token/></d:prop></d:propfind>`

const calendarQueryTemplate = `<?xml version="1.0" encoding="utf-8"?>
<c:calendar-query xmlns:d="DAV:" xmlns:c="urn:ietf:params:xml:ns:caldav">
<d:prop><d:getetag/><c:calendar-data/></d:prop>
<c:filter><c:comp-filter name="VCALENDAR"><c:comp-filter name="VEVENT">
<c:time-range start="%s" end="%s"/>
</c:comp-filter></c:comp-filter></c:filter>
</c:calendar-query>`

const syncCollectionTemplate = `<?xml version="1.0" encoding="utf-8"?>
<d:sync-collection xmlns:d="DAV:">
<d:sync-token>%s</d:sync-token><d:sync-level>1</d:sync-level>
<d:prop><d:getetag/></d:prop>
</d:sync-collection>`

func multigetBody(hrefs []string) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="utf-8"?>` + "\n")
	b.WriteString(`<c:calendar-multiget xmlns:d="DAV:" xmlns:c="urn:ietf:params:xml:ns:caldav">`)
	b.WriteString(`<d:prop><d:getetag/><c:calendar-data/></d:prop>`)
	for _, h := range hrefs {
		b.WriteString("<d:href>")
		_ = xml.EscapeText(&b, []byte(h))
		b.WriteString("</d:href>")
	}
	b.WriteString(`</c:calendar-multiget>`)
	return b.String()
}

func escapeText(s string) string {
	var b strings.Builder
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}
