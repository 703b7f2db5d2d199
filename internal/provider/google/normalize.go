package google

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"google.golang.org/api/calendar/v3"

	"bizcal/internal/ics"
	"bizcal/internal/model"
)

const (
	dateLayout  = "2006-01-02"
	localLayout = "2006-01-02T15:04:05"
)

// NormalizeJSON decodes one Calendar API event resource and normalizes it.
func NormalizeJSON(raw []byte, src model.SourceRef, zone string) (model.Event, error) {
	var item calendar.Event
	if err := json.Unmarshal(raw, &item); err != nil {
		return model.Event{}, fmt.Errorf("decode event: %w", err)
	}
	return Normalize(&item, src, zone)
}

// Normalize maps a Calendar API event onto the canonical shape.
//
// dateTime values ending in Z are instants. Values with an offset keep their
// wall-clock digits, attributed to the event's timeZone (or zone). date
// values are all-day with an exclusive end. Modified instances of a series
// become overrides of their master.
func Normalize(item *calendar.Event, src model.SourceRef, zone string) (model.Event, error) {
	if item == nil {
		return model.Event{}, fmt.Errorf("%w: nil event", ics.ErrMalformedDate)
	}

	ev := model.Event{
		UID:         item.Id,
		Summary:     item.Summary,
		Description: item.Description,
		Location:    item.Location,
		Source:      src,
		Status:      strings.ToLower(item.Status),
		Recurrence:  item.Recurrence,
	}

	start, allDay, err := stamp(item.Start, zone)
	if err != nil {
		return ev, err
	}

	var end model.Stamp
	if item.End != nil && (item.End.Date != "" || item.End.DateTime != "") {
		e, endIsDate, err := stamp(item.End, zone)
		if err != nil {
			return ev, err
		}
		end = e
		if allDay || endIsDate {
			if end.At.After(start.At) {
				end = end.Add(-time.Second)
			} else {
				end = start.Add(24*time.Hour - time.Second)
			}
		}
	} else if allDay {
		end = start.Add(24*time.Hour - time.Second)
	} else {
		end = start
	}

	if !allDay && end.At.Sub(start.At) >= 24*time.Hour {
		allDay = true
		if end.At.Hour() == 0 && end.At.Minute() == 0 && end.At.Second() == 0 {
			end = end.Add(-time.Second)
		}
	}
	ev.Start, ev.End, ev.AllDay = start, end, allDay

	for _, line := range item.Recurrence {
		if strings.HasPrefix(strings.ToUpper(line), "RRULE:") {
			ev.IsRecurring = true
			break
		}
	}

	if item.RecurringEventId != "" && item.OriginalStartTime != nil {
		if rid, _, err := stamp(item.OriginalStartTime, zone); err == nil {
			ev.UID = item.RecurringEventId
			ev.RecurrenceID = &rid
		}
	}

	for _, a := range item.Attendees {
		if a != nil && a.Self {
			ev.ResponseStatus = strings.ToLower(a.ResponseStatus)
			break
		}
	}

	return ev, nil
}

func stamp(dt *calendar.EventDateTime, zone string) (model.Stamp, bool, error) {
	if dt == nil {
		return model.Stamp{}, false, fmt.Errorf("%w: missing start", ics.ErrMalformedDate)
	}
	if dt.Date != "" {
		d, err := time.Parse(dateLayout, dt.Date)
		if err != nil {
			return model.Stamp{}, false, fmt.Errorf("%w: %q", ics.ErrMalformedDate, dt.Date)
		}
		return model.Wall(d.Year(), d.Month(), d.Day(), 0, 0, 0, zoneOf(dt, zone)), true, nil
	}
	if dt.DateTime == "" {
		return model.Stamp{}, false, fmt.Errorf("%w: empty dateTime", ics.ErrMalformedDate)
	}

	t, err := time.Parse(time.RFC3339, dt.DateTime)
	if err != nil {
		// Local digits without offset, as sent on insert.
		local, lerr := time.Parse(localLayout, dt.DateTime)
		if lerr != nil {
			return model.Stamp{}, false, fmt.Errorf("%w: %q", ics.ErrMalformedDate, dt.DateTime)
		}
		return model.WallOf(local, zoneOf(dt, zone)), false, nil
	}
	if strings.HasSuffix(strings.ToUpper(dt.DateTime), "Z") {
		return model.Instant(t), false, nil
	}
	return model.WallOf(t, zoneOf(dt, zone)), false, nil
}

func zoneOf(dt *calendar.EventDateTime, zone string) string {
	if dt.TimeZone != "" {
		return dt.TimeZone
	}
	return zone
}

// toEventDateTime renders a stamp for insert. Wall stamps are sent as local
// digits plus timeZone so the API keeps them as-is.
func toEventDateTime(s model.Stamp, allDay bool, zone string) *calendar.EventDateTime {
	if allDay {
		return &calendar.EventDateTime{Date: s.At.Format(dateLayout)}
	}
	if s.IsInstant() {
		return &calendar.EventDateTime{DateTime: s.At.UTC().Format(time.RFC3339)}
	}
	tz := s.Zone
	if tz == "" {
		tz = zone
	}
	return &calendar.EventDateTime{DateTime: s.At.Format(localLayout), TimeZone: tz}
}
