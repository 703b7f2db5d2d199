package icloud

import (
	"encoding/xml"
	"fmt"
	"strings"
	"time"
)

const (
	propfindPrincipal = `<?xml version="1.0" encoding="utf-8" ?>
<d:propfind xmlns:d="DAV:">
  <d:prop>
    <d:current-user-principal/>
  </d:prop>
</d:propfind>`

	propfindHomeSet = `<?xml version="1.0" encoding="utf-8" ?>
<d:propfind xmlns:d="DAV:" xmlns:c="urn:ietf:params:xml:ns:caldav">
  <d:prop>
    <c:calendar-home-set/>
  </d:prop>
</d:propfind>`

	propfindCalendars = `<?xml version="1.0" encoding="utf-8" ?>
<d:propfind xmlns:d="DAV:" xmlns:c="urn:ietf:params:xml:ns:caldav" xmlns:a="http://apple.com/ns/ical/">
  <d:prop>
    <d:displayname/>
    <d:resourcetype/>
    <a:calendar-color/>
    <c:supported-calendar-component-set/>
  </d:prop>
</d:propfind>`
)

// calDAVTime is the UTC form CalDAV time-range filters require.
const calDAVTime = "20060102T150405Z"

// calendarQuery builds a REPORT body. A zero from/to omits the time-range
// filter and returns every object in the collection.
func calendarQuery(from, to time.Time) string {
	var timeRange string
	if !from.IsZero() || !to.IsZero() {
		timeRange = fmt.Sprintf(`
        <c:time-range start="%s" end="%s"/>`, from.UTC().Format(calDAVTime), to.UTC().Format(calDAVTime))
	}
	return fmt.Sprintf(`<?xml version="1.0" encoding="utf-8" ?>
<c:calendar-query xmlns:d="DAV:" xmlns:c="urn:ietf:params:xml:ns:caldav">
  <d:prop>
    <d:getetag/>
    <c:calendar-data/>
  </d:prop>
  <c:filter>
    <c:comp-filter name="VCALENDAR">
      <c:comp-filter name="VEVENT">%s
      </c:comp-filter>
    </c:comp-filter>
  </c:filter>
</c:calendar-query>`, timeRange)
}

// uidQuery finds the resource holding a given UID.
func uidQuery(uid string) string {
	var esc strings.Builder
	_ = xml.EscapeText(&esc, []byte(uid))
	return fmt.Sprintf(`<?xml version="1.0" encoding="utf-8" ?>
<c:calendar-query xmlns:d="DAV:" xmlns:c="urn:ietf:params:xml:ns:caldav">
  <d:prop>
    <d:getetag/>
  </d:prop>
  <c:filter>
    <c:comp-filter name="VCALENDAR">
      <c:comp-filter name="VEVENT">
        <c:prop-filter name="UID">
          <c:text-match collation="i;octet">%s</c:text-match>
        </c:prop-filter>
      </c:comp-filter>
    </c:comp-filter>
  </c:filter>
</c:calendar-query>`, esc.String())
}

type multistatus struct {
	XMLName   xml.Name   `xml:"multistatus"`
	Responses []response `xml:"response"`
}

type response struct {
	Href      string     `xml:"href"`
	Propstats []propstat `xml:"propstat"`
}

type propstat struct {
	Prop   prop   `xml:"prop"`
	Status string `xml:"status"`
}

type hrefProp struct {
	Href string `xml:"href"`
}

type prop struct {
	CurrentUserPrincipal hrefProp `xml:"current-user-principal"`
	CalendarHomeSet      hrefProp `xml:"calendar-home-set"`
	DisplayName          string   `xml:"displayname"`
	CalendarColor        string   `xml:"calendar-color"`
	ResourceType         struct {
		Calendar *struct{} `xml:"calendar"`
	} `xml:"resourcetype"`
	SupportedComponents struct {
		Comps []struct {
			Name string `xml:"name,attr"`
		} `xml:"comp"`
	} `xml:"supported-calendar-component-set"`
	ETag         string `xml:"getetag"`
	CalendarData string `xml:"calendar-data"`
}

// ok returns the merged properties of the 200 propstats. Servers report
// unknown properties in a separate 404 propstat.
func (r response) ok() prop {
	var out prop
	for _, ps := range r.Propstats {
		if ps.Status != "" && !strings.Contains(ps.Status, " 200") {
			continue
		}
		p := ps.Prop
		if p.CurrentUserPrincipal.Href != "" {
			out.CurrentUserPrincipal = p.CurrentUserPrincipal
		}
		if p.CalendarHomeSet.Href != "" {
			out.CalendarHomeSet = p.CalendarHomeSet
		}
		if p.DisplayName != "" {
			out.DisplayName = p.DisplayName
		}
		if p.CalendarColor != "" {
			out.CalendarColor = p.CalendarColor
		}
		if p.ResourceType.Calendar != nil {
			out.ResourceType = p.ResourceType
		}
		if len(p.SupportedComponents.Comps) > 0 {
			out.SupportedComponents = p.SupportedComponents
		}
		if p.ETag != "" {
			out.ETag = p.ETag
		}
		if p.CalendarData != "" {
			out.CalendarData = p.CalendarData
		}
	}
	return out
}

// holdsEvents reports whether a collection is a calendar that accepts VEVENTs.
// A missing component set means "everything".
func (p prop) holdsEvents() bool {
	if p.ResourceType.Calendar == nil {
		return false
	}
	if len(p.SupportedComponents.Comps) == 0 {
		return true
	}
	for _, c := range p.SupportedComponents.Comps {
		if strings.EqualFold(c.Name, "VEVENT") {
			return true
		}
	}
	return false
}

func parseMultistatus(body []byte) (multistatus, error) {
	var ms multistatus
	if err := xml.Unmarshal(body, &ms); err != nil {
		return multistatus{}, fmt.Errorf("parse multistatus: %w", err)
	}
	return ms, nil
}
