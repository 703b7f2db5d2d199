package aggregate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bizcal/internal/cache"
	appLog "bizcal/internal/log"
	"bizcal/internal/merge"
	"bizcal/internal/model"
	"bizcal/internal/provider"
)

// Result is a classified, merged event list. Cached is true only when every
// provider was served from the cache.
type Result struct {
	Events []model.Event
	Cached bool
}

type query struct {
	window model.Window
	key    func(cache.Owner) cache.Key
	ttl    time.Duration
	// refresh re-fetches in the background after a cache hit.
	refresh bool
}

func dateOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// EventsForDay returns the events overlapping one business day.
func (s *Service) EventsForDay(ctx context.Context, date time.Time) (Result, error) {
	if date.IsZero() {
		return Result{}, fmt.Errorf("%w: date is required", ErrValidation)
	}
	day := dateOf(date)
	return s.run(ctx, query{
		window:  model.Window{From: day, To: day.AddDate(0, 0, 1)},
		key:     func(o cache.Owner) cache.Key { return o.Day(day) },
		ttl:     s.cfg.Cache.WindowTTL,
		refresh: true,
	})
}

// EventsForWeek returns the events between start and end, both inclusive.
func (s *Service) EventsForWeek(ctx context.Context, start, end time.Time) (Result, error) {
	if start.IsZero() || end.IsZero() {
		return Result{}, fmt.Errorf("%w: start and end are required", ErrValidation)
	}
	first, last := dateOf(start), dateOf(end)
	if last.Before(first) {
		return Result{}, fmt.Errorf("%w: end is before start", ErrValidation)
	}
	return s.run(ctx, query{
		window: model.Window{From: first, To: last.AddDate(0, 0, 1)},
		key:    func(o cache.Owner) cache.Key { return o.Week(first, last) },
		ttl:    s.cfg.Cache.WindowTTL,
	})
}

// EventsForMonth returns the events of one calendar month.
func (s *Service) EventsForMonth(ctx context.Context, year int, month time.Month) (Result, error) {
	if month < time.January || month > time.December {
		return Result{}, fmt.Errorf("%w: month %d out of range", ErrValidation, month)
	}
	if year < 1 || year > 9999 {
		return Result{}, fmt.Errorf("%w: year %d out of range", ErrValidation, year)
	}
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	return s.run(ctx, query{
		window:  model.Window{From: first, To: first.AddDate(0, 1, 0)},
		key:     func(o cache.Owner) cache.Key { return o.Month(year, month) },
		ttl:     s.cfg.Cache.WindowTTL,
		refresh: true,
	})
}

// AllEvents returns every event unexpanded; recurring masters keep their
// rule, recurrence array and raw payload for the client to expand.
func (s *Service) AllEvents(ctx context.Context) (Result, error) {
	return s.run(ctx, query{
		key: func(o cache.Owner) cache.Key { return o.All() },
		ttl: s.cfg.Cache.AllTTL,
	})
}

func (s *Service) run(ctx context.Context, q query) (Result, error) {
	prefs, err := s.loadPrefs(ctx)
	if err != nil {
		return Result{}, err
	}

	cached := true
	var lists [][]model.Event
	for _, p := range s.providers {
		events, hit, err := s.providerEvents(ctx, p, q)
		if err != nil {
			if fatal(p, err) {
				return Result{}, err
			}
			if !errors.Is(err, provider.ErrNotAuthenticated) {
				appLog.Error("provider query failed", err, "provider", string(p.Kind()))
			}
			cached = false
			continue
		}
		cached = cached && hit
		lists = append(lists, events)
	}

	sources, remembered, err := s.catalog(ctx)
	if err != nil {
		return Result{}, err
	}
	events := merge.Merge(lists, merge.NewClassifier(prefs, sources, remembered).InZone(s.loc))
	return Result{Events: events, Cached: cached && len(s.providers) > 0}, nil
}

func (s *Service) providerEvents(ctx context.Context, p provider.Provider, q query) ([]model.Event, bool, error) {
	key := q.key(owner(p))
	if events, ok := s.store.Events(ctx, key); ok {
		if q.refresh {
			s.refreshDetached(p, q, key)
		}
		return events, true, nil
	}

	gen := s.gen.Load()
	events, complete, err := s.fetch(ctx, p, q.window)
	if err != nil {
		return nil, false, err
	}
	if complete {
		s.putEvents(ctx, key, events, q.ttl, gen)
	}
	return events, false, nil
}

// refreshDetached re-fetches a cached window in the background so the next
// read is warm. Errors are swallowed, and a result that raced an
// invalidation is discarded.
func (s *Service) refreshDetached(p provider.Provider, q query, key cache.Key) {
	id := key.String()
	if _, busy := s.inflight.LoadOrStore(id, struct{}{}); busy {
		return
	}

	gen := s.gen.Load()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.inflight.Delete(id)

		ctx, cancel := context.WithTimeout(s.bg, refreshTimeout)
		defer cancel()

		events, complete, err := s.fetch(ctx, p, q.window)
		if err != nil || !complete {
			appLog.Debug("background refresh skipped", "key", id)
			return
		}
		s.putEvents(ctx, key, events, q.ttl, gen)
	}()
}

// Warm refreshes today's day and month keys. It is driven by the refresh
// schedule.
func (s *Service) Warm(ctx context.Context) {
	today := s.Today()
	dayWindow := model.Window{From: today, To: today.AddDate(0, 0, 1)}
	first := time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, time.UTC)
	monthWindow := model.Window{From: first, To: first.AddDate(0, 1, 0)}

	for _, p := range s.providers {
		o := owner(p)
		for _, w := range []struct {
			window model.Window
			key    cache.Key
		}{
			{dayWindow, o.Day(today)},
			{monthWindow, o.Month(today.Year(), today.Month())},
		} {
			gen := s.gen.Load()
			events, complete, err := s.fetch(ctx, p, w.window)
			if err != nil {
				appLog.Warn("cache warm failed", "provider", string(p.Kind()), "err", err.Error())
				break
			}
			if complete {
				s.putEvents(ctx, w.key, events, s.cfg.Cache.WindowTTL, gen)
			}
		}
	}
	appLog.Debug("cache warmed", "date", today.Format("2006-01-02"))
}
