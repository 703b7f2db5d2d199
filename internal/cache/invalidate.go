package cache

import (
	"context"
	"time"

	appLog "bizcal/internal/log"
	"bizcal/internal/metrics"
)

// Invalidator enumerates a bounded, deterministic set of candidate keys and
// deletes them. It never scans the backend.
type Invalidator struct {
	Owners []Owner
	// Weeks around today whose day, week and month keys are candidates.
	Weeks int
	// Loc decides what "today" is.
	Loc *time.Location
}

// Candidates lists every key a mutation may have made stale: day keys for
// today ± Weeks, 7-day week keys starting on each of those days, the months
// they touch, and the all, calendars and config keys.
func (inv Invalidator) Candidates(now time.Time) []string {
	loc := inv.Loc
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	today := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
	span := inv.Weeks * 7

	seen := make(map[string]struct{})
	var out []string
	add := func(k Key) {
		s := k.String()
		if _, ok := seen[s]; ok {
			return
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}

	for _, o := range inv.Owners {
		for i := -span; i <= span; i++ {
			d := today.AddDate(0, 0, i)
			add(o.Day(d))
			add(o.Week(d, d.AddDate(0, 0, 6)))
			add(o.Month(d.Year(), d.Month()))
		}
		add(o.All())
		add(o.Calendars())
	}
	add(ConfigKey())
	return out
}

// Run deletes the candidates. Failures are logged and returned but callers
// treat invalidation as best effort.
func (inv Invalidator) Run(ctx context.Context, b Backend, now time.Time) error {
	keys := inv.Candidates(now)
	metrics.Invalidations.Inc()
	if err := b.Delete(ctx, keys...); err != nil {
		appLog.Error("cache invalidation failed", err, "keys", len(keys), "backend", b.Name())
		return err
	}
	appLog.Debug("cache invalidated", "keys", len(keys), "backend", b.Name())
	return nil
}
