package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	appLog "bizcal/internal/log"
	"bizcal/internal/metrics"
	"bizcal/internal/model"
)

// Entry is the stored envelope.
type Entry struct {
	Key        string          `json:"key"`
	Payload    json.RawMessage `json:"payload"`
	InsertedAt time.Time       `json:"insertedAt"`
	TTL        time.Duration   `json:"ttl"`
}

// Store wraps a Backend with JSON envelopes and typed accessors. Backend
// errors on read are reported as misses so a flaky cache never fails a query.
type Store struct {
	backend Backend
	now     func() time.Time
}

func NewStore(b Backend) *Store {
	return &Store{backend: b, now: time.Now}
}

// SetClock replaces the clock used for InsertedAt and expiry checks.
func (s *Store) SetClock(now func() time.Time) { s.now = now }

// Backend exposes the underlying backend for invalidation.
func (s *Store) Backend() Backend { return s.backend }

func (s *Store) Close() error { return s.backend.Close() }

// Put stores v under k for ttl.
func (s *Store) Put(ctx context.Context, k Key, v any, ttl time.Duration) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode cache payload: %w", err)
	}
	e := Entry{Key: k.String(), Payload: payload, InsertedAt: s.now().UTC(), TTL: ttl}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	if err := s.backend.Set(ctx, e.Key, data, ttl); err != nil {
		appLog.Warn("cache write failed", "key", e.Key, "backend", s.backend.Name(), "err", err.Error())
		return err
	}
	return nil
}

// Fetch decodes the entry stored under k into v. It reports false on miss,
// on expiry and on any backend or decode failure.
func (s *Store) Fetch(ctx context.Context, k Key, v any) bool {
	key := k.String()
	scope := string(k.Scope)

	data, ok, err := s.backend.Get(ctx, key)
	if err != nil {
		metrics.CacheRequests.WithLabelValues(scope, "error").Inc()
		appLog.Warn("cache read failed", "key", key, "backend", s.backend.Name(), "err", err.Error())
		return false
	}
	if !ok {
		metrics.CacheRequests.WithLabelValues(scope, "miss").Inc()
		return false
	}

	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		metrics.CacheRequests.WithLabelValues(scope, "error").Inc()
		return false
	}
	// Backends enforce TTL on their own; this also guards entries written by
	// a backend whose clock disagrees with ours.
	if e.TTL > 0 && !s.now().Before(e.InsertedAt.Add(e.TTL)) {
		metrics.CacheRequests.WithLabelValues(scope, "miss").Inc()
		return false
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		metrics.CacheRequests.WithLabelValues(scope, "error").Inc()
		return false
	}
	metrics.CacheRequests.WithLabelValues(scope, "hit").Inc()
	return true
}

func (s *Store) Events(ctx context.Context, k Key) ([]model.Event, bool) {
	var out []model.Event
	if !s.Fetch(ctx, k, &out) {
		return nil, false
	}
	return out, true
}

func (s *Store) PutEvents(ctx context.Context, k Key, events []model.Event, ttl time.Duration) error {
	if events == nil {
		events = []model.Event{}
	}
	return s.Put(ctx, k, events, ttl)
}

func (s *Store) Calendars(ctx context.Context, k Key) ([]model.CalendarSource, bool) {
	var out []model.CalendarSource
	if !s.Fetch(ctx, k, &out) {
		return nil, false
	}
	return out, true
}

func (s *Store) PutCalendars(ctx context.Context, k Key, cals []model.CalendarSource, ttl time.Duration) error {
	return s.Put(ctx, k, cals, ttl)
}

// Colors returns the last-known color per calendar URL.
func (s *Store) Colors(ctx context.Context, k Key) map[string]string {
	out := map[string]string{}
	if !s.Fetch(ctx, k, &out) {
		return map[string]string{}
	}
	return out
}

// RememberColors merges fresh colors into the stored map.
func (s *Store) RememberColors(ctx context.Context, k Key, cals []model.CalendarSource, ttl time.Duration) error {
	colors := s.Colors(ctx, k)
	changed := false
	for _, c := range cals {
		if c.Color == "" || colors[c.URL] == c.Color {
			continue
		}
		colors[c.URL] = c.Color
		changed = true
	}
	if !changed {
		return nil
	}
	return s.Put(ctx, k, colors, ttl)
}
