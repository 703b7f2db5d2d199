package cache

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/robfig/cron/v3"

	appLog "bizcal/internal/log"
)

const sweepSchedule = "@every 30s"

type memEntry struct {
	value   []byte
	expires time.Time
}

// MemoryBackend is the in-process fallback: a bounded LRU whose entries also
// expire by TTL. Expired entries are hidden on read and removed by a
// background sweep.
type MemoryBackend struct {
	lru     *lru.Cache[string, memEntry]
	now     func() time.Time
	sweeper *cron.Cron
}

// NewMemoryBackend creates the LRU and starts the sweep.
func NewMemoryBackend(size int) (*MemoryBackend, error) {
	if size <= 0 {
		size = 1024
	}
	c, err := lru.New[string, memEntry](size)
	if err != nil {
		return nil, err
	}
	m := &MemoryBackend{lru: c, now: time.Now}

	m.sweeper = cron.New()
	if _, err := m.sweeper.AddFunc(sweepSchedule, func() {
		if n := m.Sweep(); n > 0 {
			appLog.Debug("cache sweep", "removed", n)
		}
	}); err != nil {
		return nil, err
	}
	m.sweeper.Start()
	return m, nil
}

func (m *MemoryBackend) Name() string { return "memory" }

// SetClock replaces the expiry clock.
func (m *MemoryBackend) SetClock(now func() time.Time) { m.now = now }

func (m *MemoryBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	e, ok := m.lru.Get(key)
	if !ok {
		return nil, false, nil
	}
	if m.expired(e) {
		m.lru.Remove(key)
		return nil, false, nil
	}
	return e.value, true, nil
}

func (m *MemoryBackend) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	e := memEntry{value: value}
	if ttl > 0 {
		e.expires = m.now().Add(ttl)
	}
	m.lru.Add(key, e)
	return nil
}

func (m *MemoryBackend) Delete(_ context.Context, keys ...string) error {
	for _, k := range keys {
		m.lru.Remove(k)
	}
	return nil
}

// Sweep removes every expired entry and returns how many were dropped.
func (m *MemoryBackend) Sweep() int {
	removed := 0
	for _, k := range m.lru.Keys() {
		e, ok := m.lru.Peek(k)
		if ok && m.expired(e) {
			m.lru.Remove(k)
			removed++
		}
	}
	return removed
}

// Len counts entries, expired ones included until the next sweep.
func (m *MemoryBackend) Len() int { return m.lru.Len() }

func (m *MemoryBackend) Close() error {
	if m.sweeper != nil {
		<-m.sweeper.Stop().Done()
	}
	return nil
}

func (m *MemoryBackend) expired(e memEntry) bool {
	return !e.expires.IsZero() && !m.now().Before(e.expires)
}
