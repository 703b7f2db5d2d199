package recur

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	"bizcal/internal/ics"
	appLog "bizcal/internal/log"
	"bizcal/internal/model"
)

const (
	defaultMaxOccurrencesPerEvent = 5000

	// ExceptionTolerance absorbs rounding between the EXDATE and RRULE paths.
	ExceptionTolerance = 60 * time.Second

	untilPastYears   = 10
	untilFutureYears = 100
)

// ErrMalformedRecurrence marks a rule that cannot be trusted. The event is
// degraded to a single occurrence at its original start.
var ErrMalformedRecurrence = errors.New("malformed recurrence")

var untilValue = regexp.MustCompile(`(?i)(?:^|;)UNTIL=([0-9TZ]+)`)

// Config controls how recurrence expansion is performed.
type Config struct {
	// Window is the half-open query range. The zero Window requests the
	// unbounded "all events" view: masters come back unexpanded.
	Window model.Window

	// Zone is the business zone used for floating EXDATE values.
	Zone string

	// Loc projects absolute instants onto business wall-clock digits before
	// any window or exception comparison. Nil means Zone is loaded.
	Loc *time.Location

	// MaxOccurrencesPerEvent caps a single master. Zero means
	// defaultMaxOccurrencesPerEvent.
	MaxOccurrencesPerEvent int

	// Now anchors the UNTIL plausibility guard. Zero means time.Now.
	Now time.Time
}

// Expand turns canonical events into what a query window shows. Bounded
// windows produce concrete occurrences; the unbounded window passes masters
// through with their recurrence payload.
func Expand(events []model.Event, cfg Config) []model.Event {
	if cfg.MaxOccurrencesPerEvent <= 0 {
		cfg.MaxOccurrencesPerEvent = defaultMaxOccurrencesPerEvent
	}
	if cfg.Now.IsZero() {
		cfg.Now = time.Now()
	}
	if cfg.Loc == nil && cfg.Zone != "" {
		if loc, err := time.LoadLocation(cfg.Zone); err == nil {
			cfg.Loc = loc
		}
	}

	if cfg.Window.Unbounded() {
		return passThrough(events)
	}

	overrides := make(map[string][]model.Event)
	for _, ev := range events {
		if ev.IsOverride() {
			overrides[ev.UID] = append(overrides[ev.UID], ev)
		}
	}

	out := make([]model.Event, 0, len(events))
	for _, ev := range events {
		if ev.IsOverride() {
			continue
		}
		if !ev.IsRecurring {
			if cfg.inWindow(ev) {
				out = append(out, ev)
			}
			continue
		}

		occ, err := expandMaster(ev, overrides[ev.UID], cfg)
		if err != nil {
			appLog.Warn("recur: degrading recurring event to a single occurrence",
				"uid", ev.UID,
				"rrule", ev.RRule,
				"err", err.Error(),
			)
			single := ev
			single.IsRecurring = false
			single.RRule = ""
			single.Recurrence = nil
			single.RawICS = ""
			if cfg.inWindow(single) {
				out = append(out, single)
			}
			continue
		}
		out = append(out, occ...)
	}

	// Overrides whose master is not part of this batch still show up.
	for uid, ovs := range overrides {
		if hasMaster(events, uid) {
			continue
		}
		for _, ov := range ovs {
			if cfg.inWindow(ov) {
				out = append(out, ov)
			}
		}
	}

	return out
}

func (cfg Config) inWindow(ev model.Event) bool {
	start, end := ev.Span(cfg.Loc)
	return cfg.Window.Overlaps(start, end)
}

// passThrough serves the unbounded view. Masters keep their payload;
// overrides are addressed by their occurrence uid so no two entries share
// a uid.
func passThrough(events []model.Event) []model.Event {
	out := make([]model.Event, 0, len(events))
	for _, ev := range events {
		if ev.IsOverride() {
			ev.MasterUID = ev.UID
			ev.UID = model.OccurrenceUID(ev.UID, *ev.RecurrenceID)
		}
		out = append(out, ev)
	}
	return out
}

func hasMaster(events []model.Event, uid string) bool {
	for _, ev := range events {
		if ev.UID == uid && !ev.IsOverride() {
			return true
		}
	}
	return false
}

// RuleOf returns the RRULE body of an event: the ICS RRULE or the
// RRULE:-prefixed line of a provider recurrence array. Other lines of the
// array are ignored.
func RuleOf(ev model.Event) string {
	if ev.RRule != "" {
		return strings.TrimPrefix(ev.RRule, "RRULE:")
	}
	for _, line := range ev.Recurrence {
		if strings.HasPrefix(strings.ToUpper(line), "RRULE:") {
			return line[len("RRULE:"):]
		}
	}
	return ""
}

// CheckUntil rejects UNTIL bounds outside [now-10y, now+100y]. Some servers
// leave stale series with nonsensical bounds behind after edits.
func CheckUntil(rule string, now time.Time) error {
	m := untilValue.FindStringSubmatch(rule)
	if m == nil {
		return nil
	}
	until, _, err := ics.ParseDate(m[1], nil, "")
	if err != nil {
		return fmt.Errorf("%w: UNTIL %q: %v", ErrMalformedRecurrence, m[1], err)
	}
	y := until.At.Year()
	if y < now.Year()-untilPastYears || y > now.Year()+untilFutureYears {
		return fmt.Errorf("%w: UNTIL year %d out of range", ErrMalformedRecurrence, y)
	}
	return nil
}

func expandMaster(ev model.Event, overrides []model.Event, cfg Config) ([]model.Event, error) {
	rule := RuleOf(ev)
	if rule == "" {
		return nil, fmt.Errorf("%w: empty rule", ErrMalformedRecurrence)
	}
	if err := CheckUntil(rule, cfg.Now); err != nil {
		return nil, err
	}

	r, err := rrule.StrToRRule(rule)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRecurrence, err)
	}
	r.DTStart(ev.Start.At)

	dur := ev.Duration()
	if dur < 0 {
		dur = 0
	}

	// Generated starts carry the master's digits. Instant masters can sit up
	// to a day away from the wall-clock window, so widen the search and
	// filter on projected values.
	before, after := dur, time.Duration(0)
	if ev.Start.IsInstant() {
		before += 24 * time.Hour
		after = 24 * time.Hour
	}
	starts := r.Between(cfg.Window.From.Add(-before), cfg.Window.To.Add(after), true)

	var exdates []model.Stamp
	if ev.RawICS != "" {
		exdates = ics.ExceptionDates(ev.RawICS, cfg.Zone)
	}

	out := make([]model.Event, 0, len(starts))
	for _, st := range starts {
		end := st.Add(dur)
		wallStart := model.Stamp{At: st, Zone: ev.Start.Zone}.Wall(cfg.Loc)
		if !cfg.Window.Overlaps(wallStart, wallStart.Add(dur)) {
			continue
		}
		if matchesAny(wallStart, exdates, cfg.Loc) {
			continue
		}

		if ov, ok := findOverride(wallStart, overrides, cfg.Loc); ok {
			if cfg.inWindow(ov) {
				out = append(out, occurrenceFromOverride(ev, ov))
			}
			continue
		}

		if len(out) >= cfg.MaxOccurrencesPerEvent {
			appLog.Warn("recur: occurrence cap reached", "uid", ev.UID, "cap", cfg.MaxOccurrencesPerEvent)
			break
		}
		out = append(out, occurrence(ev, st, end))
	}

	// Overrides moved into the window from an instance outside of it.
	for _, ov := range overrides {
		rid := ov.RecurrenceID.Wall(cfg.Loc)
		if cfg.Window.Overlaps(rid, rid.Add(dur)) {
			continue
		}
		if cfg.inWindow(ov) {
			out = append(out, occurrenceFromOverride(ev, ov))
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Start.Wall(cfg.Loc).Before(out[j].Start.Wall(cfg.Loc))
	})
	return out, nil
}

func matchesAny(t time.Time, stamps []model.Stamp, loc *time.Location) bool {
	for _, s := range stamps {
		if within(t, s.Wall(loc), ExceptionTolerance) {
			return true
		}
	}
	return false
}

func findOverride(t time.Time, overrides []model.Event, loc *time.Location) (model.Event, bool) {
	for _, ov := range overrides {
		if within(t, ov.RecurrenceID.Wall(loc), ExceptionTolerance) {
			return ov, true
		}
	}
	return model.Event{}, false
}

func within(a, b time.Time, tol time.Duration) bool {
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return d <= tol
}

func occurrence(master model.Event, start, end time.Time) model.Event {
	occ := master
	occ.Start = model.Stamp{At: start, Zone: master.Start.Zone}
	occ.End = model.Stamp{At: end, Zone: master.End.Zone}
	if master.End.IsZero() {
		occ.End = occ.Start
	}
	occ.MasterUID = master.UID
	occ.UID = model.OccurrenceUID(master.UID, occ.Start)
	occ.RawICS = ""
	return occ
}

func occurrenceFromOverride(master, ov model.Event) model.Event {
	occ := ov
	occ.MasterUID = master.UID
	occ.UID = model.OccurrenceUID(master.UID, *ov.RecurrenceID)
	occ.IsRecurring = true
	occ.RRule = master.RRule
	occ.Recurrence = master.Recurrence
	occ.RecurrenceID = nil
	occ.RawICS = ""
	return occ
}
