package model

import (
	"regexp"
	"strings"
	"time"
)

// ProviderKind names a calendar backend.
type ProviderKind string

const (
	ProviderICloud ProviderKind = "icloud"
	ProviderGoogle ProviderKind = "google"
)

// WireLayout is the timestamp format used on the HTTP boundary. Every value is
// suffixed with .000Z, including wall-clock values that are not UTC instants.
const WireLayout = "2006-01-02T15:04:05.000Z"

// ZoneUTC marks a Stamp that carries an absolute instant.
const ZoneUTC = "UTC"

// Stamp pairs a UTC-located time.Time with the zone its digits are assumed to
// be in. For absolute instants Zone is ZoneUTC. For wall-clock values (TZID or
// floating) the digits are stored as-is and never shifted by an offset.
type Stamp struct {
	At   time.Time `json:"at"`
	Zone string    `json:"zone,omitempty"`
}

// Instant builds a Stamp for an absolute point in time.
func Instant(t time.Time) Stamp {
	return Stamp{At: t.UTC(), Zone: ZoneUTC}
}

// Wall builds a Stamp from wall-clock digits assumed to be in zone.
func Wall(year int, month time.Month, day, hour, min, sec int, zone string) Stamp {
	return Stamp{At: time.Date(year, month, day, hour, min, sec, 0, time.UTC), Zone: zone}
}

// WallOf keeps the digits of t (in its own location) and drops the offset.
func WallOf(t time.Time, zone string) Stamp {
	return Wall(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), zone)
}

func (s Stamp) IsZero() bool    { return s.At.IsZero() }
func (s Stamp) IsInstant() bool { return s.Zone == ZoneUTC }

// Add returns a Stamp shifted by d in the same zone.
func (s Stamp) Add(d time.Duration) Stamp {
	return Stamp{At: s.At.Add(d), Zone: s.Zone}
}

// Wall projects the stamp onto wall-clock digits in loc, UTC-located like
// every other business time. Instants are converted; wall-clock stamps are
// returned unchanged. A nil loc leaves instants as UTC digits.
func (s Stamp) Wall(loc *time.Location) time.Time {
	if !s.IsInstant() || loc == nil || s.At.IsZero() {
		return s.At
	}
	t := s.At.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
}

// Wire renders the boundary representation.
func (s Stamp) Wire() string {
	if s.At.IsZero() {
		return ""
	}
	return s.At.UTC().Format(WireLayout)
}

// CalendarSource describes one remote calendar.
type CalendarSource struct {
	Provider    ProviderKind `json:"provider"`
	URL         string       `json:"url"`
	DisplayName string       `json:"displayName"`
	Color       string       `json:"color,omitempty"` // provider-native color
	Busy        bool         `json:"busy"`
	Index       int          `json:"index"`
}

// SourceRef links an event back to the calendar it was fetched from.
type SourceRef struct {
	Provider    ProviderKind `json:"provider"`
	CalendarURL string       `json:"calendarUrl"`
	Calendar    string       `json:"calendar"`
}

// Event is the canonical event shape shared by both providers. Recurring
// masters keep their rule payload; expanded occurrences carry MasterUID.
type Event struct {
	UID       string `json:"uid"`
	MasterUID string `json:"masterUid,omitempty"`

	Summary     string `json:"summary"`
	Description string `json:"description,omitempty"`
	Location    string `json:"location,omitempty"`

	Start  Stamp `json:"start"`
	End    Stamp `json:"end"`
	AllDay bool  `json:"allDay,omitempty"`

	Source SourceRef `json:"source"`

	IsRecurring  bool     `json:"isRecurring,omitempty"`
	RRule        string   `json:"rrule,omitempty"`
	Recurrence   []string `json:"recurrence,omitempty"`
	RawICS       string   `json:"raw,omitempty"`
	RecurrenceID *Stamp   `json:"recurrenceId,omitempty"`

	Status         string `json:"status,omitempty"`
	ResponseStatus string `json:"responseStatus,omitempty"`

	// Color and Blocking are filled by the classifier on every read.
	Color    string `json:"color,omitempty"`
	Blocking bool   `json:"blocking"`
}

// Duration is End minus Start.
func (e Event) Duration() time.Duration {
	if e.End.IsZero() {
		return 0
	}
	return e.End.At.Sub(e.Start.At)
}

// Span is the event's start and end as business wall-clock digits in loc.
// A missing end collapses to the start.
func (e Event) Span(loc *time.Location) (time.Time, time.Time) {
	start := e.Start.Wall(loc)
	if e.End.IsZero() {
		return start, start
	}
	return start, e.End.Wall(loc)
}

// IsOverride reports whether this VEVENT replaces one instance of a series.
func (e Event) IsOverride() bool {
	return e.RecurrenceID != nil
}

// Window is a half-open query range [From, To). The zero Window is the
// unbounded "all events" query.
type Window struct {
	From time.Time
	To   time.Time
}

func (w Window) Unbounded() bool {
	return w.From.IsZero() && w.To.IsZero()
}

// Overlaps applies the half-open intersection test. Zero-length spans count
// when their start lies inside the window.
func (w Window) Overlaps(start, end time.Time) bool {
	if w.Unbounded() {
		return true
	}
	if !end.After(start) {
		return !start.Before(w.From) && start.Before(w.To)
	}
	return start.Before(w.To) && end.After(w.From)
}

// Slot is one candidate appointment slot.
type Slot struct {
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Available bool      `json:"available"`
}

// NewEvent holds the fields accepted by create-event.
type NewEvent struct {
	Provider    ProviderKind
	CalendarURL string
	Summary     string
	Description string
	Location    string
	Start       Stamp
	End         Stamp
	AllDay      bool
	RRule       string
}

// EventRef addresses an event for deletion.
type EventRef struct {
	Provider    ProviderKind
	CalendarURL string
	UID         string
}

// OccurrenceUID builds the synthetic uid of one expanded instance.
func OccurrenceUID(master string, start Stamp) string {
	return master + "_" + start.Wire()
}

var occurrenceSuffix = regexp.MustCompile(`_\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}\.000Z$`)

// MasterUID strips an occurrence suffix so edits and deletes always target the
// master event.
func MasterUID(uid string) string {
	if loc := occurrenceSuffix.FindStringIndex(uid); loc != nil {
		return uid[:loc[0]]
	}
	return strings.TrimSpace(uid)
}
