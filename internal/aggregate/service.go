// Package aggregate is the read-through aggregation service: it fetches
// events from every provider, expands recurrences, caches the expanded
// lists and classifies them against the live calendar preferences.
package aggregate

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"bizcal/internal/cache"
	"bizcal/internal/config"
	appLog "bizcal/internal/log"
	"bizcal/internal/metrics"
	"bizcal/internal/model"
	"bizcal/internal/provider"
	"bizcal/internal/recur"
)

// ErrValidation marks a request the caller must fix.
var ErrValidation = errors.New("validation failed")

// refreshTimeout bounds detached cache refreshes.
const refreshTimeout = 2 * time.Minute

// Service is constructed once per process and shared by all requests.
type Service struct {
	cfg       *config.Config
	providers []provider.Provider
	store     *cache.Store
	prefs     *config.PrefsStore
	loc       *time.Location
	now       func() time.Time

	// inflight guards detached refreshes per cache key.
	inflight sync.Map
	// gen is bumped by every invalidation. Fetches that started under an
	// older generation do not write back.
	gen  atomic.Uint64
	bg   context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup
}

// New wires the service. cfg must already be normalized.
func New(cfg *config.Config, providers []provider.Provider, store *cache.Store, prefs *config.PrefsStore) *Service {
	bg, stop := context.WithCancel(context.Background())
	return &Service{
		cfg:       cfg,
		providers: providers,
		store:     store,
		prefs:     prefs,
		loc:       cfg.Location(),
		now:       time.Now,
		bg:        bg,
		stop:      stop,
	}
}

// Close stops detached refreshes, waits for them and closes the cache.
func (s *Service) Close() error {
	s.stop()
	s.wg.Wait()
	return s.store.Close()
}

// Today is the current business-zone date as wall digits.
func (s *Service) Today() time.Time {
	n := s.now().In(s.loc)
	return time.Date(n.Year(), n.Month(), n.Day(), 0, 0, 0, 0, time.UTC)
}

func owner(p provider.Provider) cache.Owner {
	return cache.Owner{Provider: p.Kind(), Principal: p.Principal()}
}

func (s *Service) provider(kind model.ProviderKind) (provider.Provider, error) {
	for _, p := range s.providers {
		if p.Kind() == kind {
			return p, nil
		}
	}
	return nil, provider.ErrUnknownProvider
}

// calendars reads the calendar list through the cache and remembers the
// provider colors for later palette fallback.
func (s *Service) calendars(ctx context.Context, p provider.Provider) ([]model.CalendarSource, error) {
	o := owner(p)
	if cals, ok := s.store.Calendars(ctx, o.Calendars()); ok {
		return cals, nil
	}
	cals, err := p.ListCalendars(ctx)
	if err != nil {
		metrics.ProviderErrors.WithLabelValues(string(p.Kind()), "calendars").Inc()
		return nil, err
	}
	_ = s.store.PutCalendars(ctx, o.Calendars(), cals, s.cfg.Cache.CalendarsTTL)
	_ = s.store.RememberColors(ctx, o.Colors(), cals, s.cfg.Cache.ColorsTTL)
	return cals, nil
}

// catalog gathers the calendars of every provider, numbered across
// providers in a fixed order, plus the remembered colors. The first fatal
// provider error is returned; other failures just leave their calendars out.
func (s *Service) catalog(ctx context.Context) ([]model.CalendarSource, map[string]string, error) {
	var sources []model.CalendarSource
	remembered := map[string]string{}
	offset := 0
	for _, p := range s.providers {
		cals, err := s.calendars(ctx, p)
		if err != nil {
			if fatal(p, err) {
				return nil, nil, err
			}
			appLog.Warn("calendar list unavailable", "provider", string(p.Kind()), "err", err.Error())
			continue
		}
		for _, c := range cals {
			c.Index += offset
			sources = append(sources, c)
		}
		offset += len(cals)
		for url, c := range s.store.Colors(ctx, owner(p).Colors()) {
			remembered[url] = c
		}
	}
	return sources, remembered, nil
}

// fetch lists calendars and fetches each one concurrently. A failing
// calendar contributes nothing; complete reports whether all succeeded.
func (s *Service) fetch(ctx context.Context, p provider.Provider, window model.Window) (events []model.Event, complete bool, err error) {
	cals, err := s.calendars(ctx, p)
	if err != nil {
		return nil, false, err
	}

	results := make([][]model.Event, len(cals))
	failed := make([]bool, len(cals))

	var wg sync.WaitGroup
	for i, cal := range cals {
		wg.Add(1)
		go func(i int, cal model.CalendarSource) {
			defer wg.Done()
			evs, err := p.FetchEvents(ctx, cal, window)
			if err != nil {
				failed[i] = true
				metrics.ProviderErrors.WithLabelValues(string(p.Kind()), "events").Inc()
				appLog.Error("calendar fetch failed", err, "provider", string(p.Kind()), "calendar", cal.DisplayName)
				return
			}
			results[i] = evs
		}(i, cal)
	}
	wg.Wait()

	complete = true
	var all []model.Event
	for i := range cals {
		if failed[i] {
			complete = false
			continue
		}
		all = append(all, results[i]...)
	}

	expanded := recur.Expand(all, recur.Config{
		Window: window,
		Zone:   s.cfg.Timezone,
		Loc:    s.loc,
		Now:    s.now(),
	})
	return expanded, complete, nil
}

// cachedPrefs keeps the Missing flag, which the document itself never
// serializes.
type cachedPrefs struct {
	Config  *config.CalendarConfig `json:"config"`
	Missing bool                   `json:"missing"`
}

// loadPrefs reads the preferences through the cache. A missing document
// yields the default, where every calendar counts as busy.
func (s *Service) loadPrefs(ctx context.Context) (*config.CalendarConfig, error) {
	var cp cachedPrefs
	if s.store.Fetch(ctx, cache.ConfigKey(), &cp) && cp.Config != nil {
		cp.Config.Missing = cp.Missing
		cp.Config.Normalize()
		return cp.Config, nil
	}

	c, err := s.prefs.Load()
	if errors.Is(err, config.ErrConfigMissing) {
		appLog.Warn("calendar config missing, treating every calendar as busy")
	} else if err != nil {
		return nil, err
	}
	_ = s.store.Put(ctx, cache.ConfigKey(), cachedPrefs{Config: c, Missing: c.Missing}, s.cfg.Cache.CalendarsTTL)
	return c, nil
}

// invalidate drops every candidate key. It is best effort.
func (s *Service) invalidate(ctx context.Context) {
	s.gen.Add(1)
	owners := make([]cache.Owner, 0, len(s.providers))
	for _, p := range s.providers {
		owners = append(owners, owner(p))
	}
	inv := cache.Invalidator{Owners: owners, Weeks: s.cfg.Cache.InvalidateWeeks, Loc: s.loc}
	_ = inv.Run(ctx, s.store.Backend(), s.now())
}

// fatal reports whether a provider error must fail the whole request.
func fatal(p provider.Provider, err error) bool {
	return p.Required() && errors.Is(err, provider.ErrNotAuthenticated)
}

// putEvents caches a fetch result unless an invalidation happened since
// the fetch began at generation gen.
func (s *Service) putEvents(ctx context.Context, key cache.Key, events []model.Event, ttl time.Duration, gen uint64) {
	if s.gen.Load() != gen {
		appLog.Debug("stale fetch not cached", "key", key.String())
		return
	}
	_ = s.store.PutEvents(ctx, key, events, ttl)
}
