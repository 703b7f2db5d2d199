package aggregate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"bizcal/internal/availability"
	"bizcal/internal/config"
	appLog "bizcal/internal/log"
	"bizcal/internal/merge"
	"bizcal/internal/model"
)

// CreateEvent writes a new event to its provider and invalidates the cache.
func (s *Service) CreateEvent(ctx context.Context, in model.NewEvent) (model.Event, error) {
	in.Summary = strings.TrimSpace(in.Summary)
	if in.Summary == "" {
		return model.Event{}, fmt.Errorf("%w: summary is required", ErrValidation)
	}
	if in.Start.IsZero() {
		return model.Event{}, fmt.Errorf("%w: start is required", ErrValidation)
	}
	if in.End.IsZero() {
		in.End = in.Start
	}
	if in.End.Wall(s.loc).Before(in.Start.Wall(s.loc)) {
		return model.Event{}, fmt.Errorf("%w: end is before start", ErrValidation)
	}

	p, err := s.provider(in.Provider)
	if err != nil {
		return model.Event{}, err
	}

	ev, err := p.CreateEvent(ctx, in, uuid.NewString())
	if err != nil {
		return model.Event{}, err
	}
	s.invalidate(ctx)
	return ev, nil
}

// DeleteEvent removes an event. Occurrence uids address their master, so
// deleting one instance removes the whole series.
func (s *Service) DeleteEvent(ctx context.Context, ref model.EventRef) error {
	ref.UID = model.MasterUID(ref.UID)
	if ref.UID == "" {
		return fmt.Errorf("%w: uid is required", ErrValidation)
	}
	p, err := s.provider(ref.Provider)
	if err != nil {
		return err
	}
	if err := p.DeleteEvent(ctx, ref); err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}

// Availability computes the slots of one business day.
func (s *Service) Availability(ctx context.Context, date time.Time, duration, buffer time.Duration) ([]model.Slot, error) {
	if duration <= 0 {
		return nil, fmt.Errorf("%w: duration must be positive", ErrValidation)
	}
	if buffer < 0 {
		return nil, fmt.Errorf("%w: buffer must not be negative", ErrValidation)
	}

	res, err := s.EventsForDay(ctx, date)
	if err != nil {
		return nil, err
	}

	day := dateOf(date)
	open, closeAt, ok, err := s.cfg.HoursFor(day.Weekday()).Bounds()
	if err != nil {
		return nil, err
	}
	return availability.Solve(availability.Request{
		Date:     day,
		Duration: duration,
		Buffer:   buffer,
		Step:     s.cfg.SlotStep,
		Open:     open,
		Close:    closeAt,
		Closed:   !ok,
		Loc:      s.loc,
	}, res.Events)
}

// Overlap is the outcome of a manual-entry check.
type Overlap struct {
	Conflicts []model.Event
	Warning   string
}

// CheckOverlap reports the blocking events a manual appointment collides
// with. start and end are business wall-clock values. exclude skips the
// entry being edited.
func (s *Service) CheckOverlap(ctx context.Context, start, end time.Time, buffer time.Duration, exclude string) (Overlap, error) {
	if start.IsZero() || end.IsZero() || end.Before(start) {
		return Overlap{}, fmt.Errorf("%w: start and end must form a range", ErrValidation)
	}

	var events []model.Event
	for d := dateOf(start.Add(-buffer)); !d.After(end.Add(buffer)); d = d.AddDate(0, 0, 1) {
		res, err := s.EventsForDay(ctx, d)
		if err != nil {
			return Overlap{}, err
		}
		events = append(events, res.Events...)
	}

	conflicts := availability.Conflicts(start, end, buffer, dedupe(events), model.MasterUID(exclude), s.loc)
	out := Overlap{Conflicts: conflicts}
	if len(conflicts) > 0 {
		names := make([]string, 0, len(conflicts))
		for _, c := range conflicts {
			names = append(names, c.Summary)
		}
		out.Warning = fmt.Sprintf("overlaps %d existing appointment(s): %s", len(conflicts), strings.Join(names, ", "))
	}
	return out, nil
}

// dedupe drops repeats of multi-day events collected from several days.
func dedupe(events []model.Event) []model.Event {
	seen := make(map[string]struct{}, len(events))
	out := events[:0]
	for _, ev := range events {
		k := string(ev.Source.Provider) + "|" + ev.UID
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, ev)
	}
	return out
}

// ConfigView is the preferences document together with every known
// calendar and its resolved busy flag and color.
type ConfigView struct {
	Config    *config.CalendarConfig
	Calendars []model.CalendarSource
}

// Config returns the live preferences view.
func (s *Service) Config(ctx context.Context) (ConfigView, error) {
	prefs, err := s.loadPrefs(ctx)
	if err != nil {
		return ConfigView{}, err
	}

	sources, remembered, err := s.catalog(ctx)
	if err != nil {
		return ConfigView{}, err
	}
	return ConfigView{
		Config:    prefs,
		Calendars: merge.NewClassifier(prefs, sources, remembered).Calendars(),
	}, nil
}

// UpdateConfig saves the preferences, invalidates the cache and returns the
// new view. Saving identical preferences is idempotent.
func (s *Service) UpdateConfig(ctx context.Context, c *config.CalendarConfig) (ConfigView, error) {
	if c == nil {
		return ConfigView{}, fmt.Errorf("%w: config is required", ErrValidation)
	}
	for url, col := range c.ColorOverrides {
		if col != "" && merge.NormalizeHex(col) == "" {
			return ConfigView{}, fmt.Errorf("%w: color %q for %s is not a hex color", ErrValidation, col, url)
		}
	}
	if err := s.prefs.Save(c); err != nil {
		return ConfigView{}, err
	}
	s.invalidate(ctx)
	appLog.Info("calendar config updated",
		"busy_calendars", len(c.BusyCalendarURLs),
		"whitelist", len(c.WhitelistUIDs),
		"forced_busy", len(c.ForcedBusyUIDs))
	return s.Config(ctx)
}
