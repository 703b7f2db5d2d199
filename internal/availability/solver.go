// Package availability computes bookable appointment slots for one day and
// checks manual entries against existing blocking events.
package availability

import (
	"errors"
	"time"

	"bizcal/internal/model"
)

var ErrInvalidRequest = errors.New("invalid availability request")

// Request describes one day of candidate slots. Times are wall-clock values in
// the business zone, held in UTC-located time.Time like every model.Stamp.
type Request struct {
	Date     time.Time
	Duration time.Duration
	Buffer   time.Duration
	// Step between slot starts; zero means Duration.
	Step time.Duration
	// Open and Close are offsets from midnight. Closed days have Closed=true.
	Open   time.Duration
	Close  time.Duration
	Closed bool
	// Loc projects instant-valued events onto the business wall clock.
	Loc *time.Location
}

// Solve returns every candidate slot between opening and closing time. A slot
// is unavailable when it collides with a blocking event widened by Buffer on
// both sides. Non-blocking events never affect availability.
func Solve(req Request, events []model.Event) ([]model.Slot, error) {
	if req.Duration <= 0 {
		return nil, ErrInvalidRequest
	}
	if req.Buffer < 0 {
		return nil, ErrInvalidRequest
	}
	if req.Closed {
		return []model.Slot{}, nil
	}
	step := req.Step
	if step <= 0 {
		step = req.Duration
	}

	day := time.Date(req.Date.Year(), req.Date.Month(), req.Date.Day(), 0, 0, 0, 0, time.UTC)
	open := day.Add(req.Open)
	closeAt := day.Add(req.Close)

	blocking := make([]model.Event, 0, len(events))
	for _, ev := range events {
		if ev.Blocking {
			blocking = append(blocking, ev)
		}
	}

	slots := []model.Slot{}
	for start := open; !start.Add(req.Duration).After(closeAt); start = start.Add(step) {
		end := start.Add(req.Duration)
		slots = append(slots, model.Slot{
			Start:     start,
			End:       end,
			Available: !collides(start, end, req.Buffer, blocking, req.Loc),
		})
	}
	return slots, nil
}

func collides(start, end time.Time, buffer time.Duration, events []model.Event, loc *time.Location) bool {
	for _, ev := range events {
		if Overlaps(start, end, buffer, ev, loc) {
			return true
		}
	}
	return false
}

// Overlaps applies start < bEnd+buffer AND end+buffer > bStart. start and
// end are business wall-clock values; the event is projected through loc.
func Overlaps(start, end time.Time, buffer time.Duration, ev model.Event, loc *time.Location) bool {
	bStart, bEnd := ev.Span(loc)
	if bEnd.Before(bStart) {
		bEnd = bStart
	}
	return start.Before(bEnd.Add(buffer)) && end.Add(buffer).After(bStart)
}

// Conflicts returns the blocking events that collide with a manually entered
// appointment. Events whose uid or master uid equals exclude are ignored so an
// edited entry does not conflict with itself.
func Conflicts(start, end time.Time, buffer time.Duration, events []model.Event, exclude string, loc *time.Location) []model.Event {
	out := []model.Event{}
	for _, ev := range events {
		if !ev.Blocking {
			continue
		}
		if exclude != "" && (ev.UID == exclude || ev.MasterUID == exclude || model.MasterUID(ev.UID) == exclude) {
			continue
		}
		if Overlaps(start, end, buffer, ev, loc) {
			out = append(out, ev)
		}
	}
	return out
}
