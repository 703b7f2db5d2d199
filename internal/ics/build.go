package ics

import (
	"time"

	ical "github.com/arran4/golang-ical"

	"bizcal/internal/model"
)

const productID = "-//bizcal//scheduling//EN"

// BuildEvent serializes a new event as a VCALENDAR object for a CalDAV PUT.
// Wall-clock stamps are written with their TZID so the server keeps the
// digits; instants are written in UTC.
func BuildEvent(uid string, in model.NewEvent, now time.Time) string {
	cal := ical.NewCalendar()
	cal.SetProductId(productID)

	ev := cal.AddEvent(uid)
	ev.SetDtStampTime(now.UTC())
	ev.SetCreatedTime(now.UTC())
	ev.SetSummary(in.Summary)
	if in.Description != "" {
		ev.SetDescription(in.Description)
	}
	if in.Location != "" {
		ev.SetLocation(in.Location)
	}

	if in.AllDay {
		dateParam := &ical.KeyValues{Key: string(ical.ParameterValue), Value: []string{"DATE"}}
		ev.SetProperty(ical.ComponentPropertyDtStart, in.Start.At.Format(layoutDate), dateParam)
		end := in.End.At
		if !end.After(in.Start.At) {
			end = in.Start.At
		}
		// DTEND of a date value is exclusive.
		endDate := time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
		ev.SetProperty(ical.ComponentPropertyDtEnd, endDate.Format(layoutDate), dateParam)
	} else {
		setStamp(ev, ical.ComponentPropertyDtStart, in.Start)
		setStamp(ev, ical.ComponentPropertyDtEnd, in.End)
	}

	if in.RRule != "" {
		ev.SetProperty(ical.ComponentPropertyRrule, in.RRule)
	}

	return cal.Serialize()
}

func setStamp(ev *ical.VEvent, prop ical.ComponentProperty, s model.Stamp) {
	if s.IsInstant() || s.Zone == "" {
		ev.SetProperty(prop, s.At.UTC().Format(layoutUTC))
		return
	}
	tz := &ical.KeyValues{Key: string(ical.ParameterTzid), Value: []string{s.Zone}}
	ev.SetProperty(prop, s.At.Format(layoutLocal), tz)
}
