package ics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bizcal/internal/model"
)

const zone = "Europe/Berlin"

var opts = Options{
	Source: model.SourceRef{Provider: model.ProviderICloud, CalendarURL: "/cal/work/", Calendar: "Work"},
	Zone:   zone,
}

const calendarObject = "BEGIN:VCALENDAR\r\n" +
	"VERSION:2.0\r\n" +
	"BEGIN:VTIMEZONE\r\n" +
	"TZID:Europe/Berlin\r\n" +
	"BEGIN:STANDARD\r\n" +
	"DTSTART:19701025T030000\r\n" +
	"END:STANDARD\r\n" +
	"END:VTIMEZONE\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:tz-event@example.com\r\n" +
	"SUMMARY:Consultation\\, room 2\r\n" +
	"DESCRIPTION:first line\\nsecond line that is long enough to be folded by\r\n" +
	"  the server\r\n" +
	"DTSTART;TZID=Europe/Berlin:20240305T100000\r\n" +
	"DTEND;TZID=Europe/Berlin:20240305T110000\r\n" +
	"BEGIN:VALARM\r\n" +
	"DESCRIPTION:alarm text\r\n" +
	"TRIGGER:-PT15M\r\n" +
	"END:VALARM\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:utc-event@example.com\r\n" +
	"SUMMARY:Call\r\n" +
	"DTSTART:20240305T130000Z\r\n" +
	"DURATION:PT30M\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:broken@example.com\r\n" +
	"SUMMARY:Broken\r\n" +
	"DTSTART:not-a-date\r\n" +
	"END:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

func TestParseICS_DropsMalformedAndKeepsTheRest(t *testing.T) {
	events := ParseICS(calendarObject, opts)
	require.Len(t, events, 2)

	tz := events[0]
	assert.Equal(t, "tz-event@example.com", tz.UID)
	assert.Equal(t, "Consultation, room 2", tz.Summary)
	assert.Equal(t, "first line\nsecond line that is long enough to be folded by the server", tz.Description)
	assert.Equal(t, "2024-03-05T10:00:00.000Z", tz.Start.Wire())
	assert.Equal(t, "2024-03-05T11:00:00.000Z", tz.End.Wire())
	assert.Equal(t, zone, tz.Start.Zone)
	assert.False(t, tz.AllDay)
	assert.False(t, tz.IsRecurring)
	assert.Empty(t, tz.RawICS)
	assert.Equal(t, "Work", tz.Source.Calendar)

	utc := events[1]
	assert.True(t, utc.Start.IsInstant())
	assert.Equal(t, "2024-03-05T13:00:00.000Z", utc.Start.Wire())
	assert.Equal(t, 30*time.Minute, utc.Duration())
}

func TestParseEvent_AllDayDate(t *testing.T) {
	block := "BEGIN:VEVENT\nUID:holiday\nSUMMARY:Closed\nDTSTART;VALUE=DATE:20240501\nDTEND;VALUE=DATE:20240502\nEND:VEVENT"

	ev, err := ParseEvent(block, opts)
	require.NoError(t, err)
	assert.True(t, ev.AllDay)
	assert.Equal(t, "2024-05-01T00:00:00.000Z", ev.Start.Wire())
	assert.Equal(t, "2024-05-01T23:59:59.000Z", ev.End.Wire())
}

func TestParseEvent_AllDayWithoutEnd(t *testing.T) {
	block := "BEGIN:VEVENT\nUID:d\nDTSTART:20240501\nEND:VEVENT"

	ev, err := ParseEvent(block, opts)
	require.NoError(t, err)
	assert.True(t, ev.AllDay)
	assert.Equal(t, "2024-05-01T23:59:59.000Z", ev.End.Wire())
}

func TestParseEvent_MultiDayDate(t *testing.T) {
	block := "BEGIN:VEVENT\nUID:trip\nDTSTART;VALUE=DATE:20240501\nDTEND;VALUE=DATE:20240504\nEND:VEVENT"

	ev, err := ParseEvent(block, opts)
	require.NoError(t, err)
	assert.Equal(t, "2024-05-03T23:59:59.000Z", ev.End.Wire())
}

func TestParseEvent_LongTimedSpanMarksAllDay(t *testing.T) {
	block := "BEGIN:VEVENT\nUID:long\nDTSTART:20240501T000000\nDTEND:20240502T000000\nEND:VEVENT"

	ev, err := ParseEvent(block, opts)
	require.NoError(t, err)
	assert.True(t, ev.AllDay)
	assert.Equal(t, "2024-05-01T23:59:59.000Z", ev.End.Wire())
	assert.Equal(t, zone, ev.Start.Zone)
}

func TestParseEvent_RecurringKeepsRaw(t *testing.T) {
	block := "BEGIN:VEVENT\nUID:weekly\nDTSTART;TZID=Europe/Berlin:20240102T140000\nDTEND;TZID=Europe/Berlin:20240102T150000\nRRULE:FREQ=WEEKLY;BYDAY=TU,TH\nEXDATE;TZID=Europe/Berlin:20240109T140000\nSTATUS:CONFIRMED\nEND:VEVENT"

	ev, err := ParseEvent(block, opts)
	require.NoError(t, err)
	assert.True(t, ev.IsRecurring)
	assert.Equal(t, "FREQ=WEEKLY;BYDAY=TU,TH", ev.RRule)
	assert.Contains(t, ev.RawICS, "EXDATE;TZID=Europe/Berlin:20240109T140000")
	assert.Equal(t, "confirmed", ev.Status)
}

func TestParseEvent_Override(t *testing.T) {
	block := "BEGIN:VEVENT\nUID:weekly\nRECURRENCE-ID;TZID=Europe/Berlin:20240111T140000\nDTSTART;TZID=Europe/Berlin:20240111T160000\nDTEND;TZID=Europe/Berlin:20240111T170000\nEND:VEVENT"

	ev, err := ParseEvent(block, opts)
	require.NoError(t, err)
	require.NotNil(t, ev.RecurrenceID)
	assert.True(t, ev.IsOverride())
	assert.Equal(t, "2024-01-11T14:00:00.000Z", ev.RecurrenceID.Wire())
}

func TestParseEvent_MissingStart(t *testing.T) {
	_, err := ParseEvent("BEGIN:VEVENT\nUID:x\nEND:VEVENT", opts)
	require.ErrorIs(t, err, ErrMalformedDate)
}
