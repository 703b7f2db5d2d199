package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bizcal/internal/config"
	"bizcal/internal/model"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newMemory(t *testing.T, clock *fakeClock) *MemoryBackend {
	t.Helper()
	m, err := NewMemoryBackend(16)
	require.NoError(t, err)
	m.now = clock.Now
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func sampleEvents(n int) []model.Event {
	out := make([]model.Event, n)
	for i := range out {
		out[i] = model.Event{
			UID:     "uid-" + string(rune('a'+i)),
			Summary: "event",
			Start:   model.Wall(2024, time.March, 4, 9+i, 0, 0, "Europe/Berlin"),
			End:     model.Wall(2024, time.March, 4, 10+i, 0, 0, "Europe/Berlin"),
			Source:  model.SourceRef{Provider: model.ProviderICloud, CalendarURL: "/cal/work/"},
		}
	}
	return out
}

func TestMemoryBackend_ExpiresByTTL(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC)}
	m := newMemory(t, clock)

	require.NoError(t, m.Set(ctx, "k", []byte("v"), time.Minute))

	got, ok, err := m.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v", string(got))

	clock.Advance(time.Minute)
	_, ok, err = m.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryBackend_Sweep(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC)}
	m := newMemory(t, clock)

	require.NoError(t, m.Set(ctx, "short", []byte("1"), time.Second))
	require.NoError(t, m.Set(ctx, "long", []byte("2"), time.Hour))
	require.NoError(t, m.Set(ctx, "forever", []byte("3"), 0))

	clock.Advance(time.Minute)
	assert.Equal(t, 1, m.Sweep())
	assert.Equal(t, 2, m.Len())
}

func TestStore_RoundTripAndExpiry(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC)}
	store := NewStore(newMemory(t, clock))
	store.now = clock.Now

	key := Owner{Provider: model.ProviderICloud, Principal: "me"}.Day(time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC))
	events := sampleEvents(3)
	require.NoError(t, store.PutEvents(ctx, key, events, 5*time.Minute))

	clock.Advance(4 * time.Minute)
	got, ok := store.Events(ctx, key)
	require.True(t, ok)
	require.Len(t, got, 3)
	assert.Equal(t, events[1].UID, got[1].UID)
	assert.True(t, events[2].Start.At.Equal(got[2].Start.At))
	assert.Equal(t, "Europe/Berlin", got[2].Start.Zone)

	clock.Advance(2 * time.Minute)
	_, ok = store.Events(ctx, key)
	assert.False(t, ok)
}

func TestStore_EmptyListIsAHit(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Now()}
	store := NewStore(newMemory(t, clock))
	store.now = clock.Now

	key := Owner{Provider: model.ProviderGoogle, Principal: "me"}.All()
	require.NoError(t, store.PutEvents(ctx, key, nil, time.Hour))

	got, ok := store.Events(ctx, key)
	assert.True(t, ok)
	assert.Empty(t, got)
}

func TestStore_RememberColors(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Now()}
	store := NewStore(newMemory(t, clock))
	store.now = clock.Now

	key := Owner{Provider: model.ProviderICloud, Principal: "me"}.Colors()
	require.NoError(t, store.RememberColors(ctx, key, []model.CalendarSource{
		{URL: "/a/", Color: "#ff0000"},
		{URL: "/b/"},
	}, time.Hour))
	require.NoError(t, store.RememberColors(ctx, key, []model.CalendarSource{
		{URL: "/b/", Color: "#00ff00"},
	}, time.Hour))

	assert.Equal(t, map[string]string{"/a/": "#ff0000", "/b/": "#00ff00"}, store.Colors(ctx, key))
}

func TestRedisBackend(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)

	b := NewRedisBackend(config.CacheConfig{RedisAddr: mr.Addr()})
	t.Cleanup(func() { _ = b.Close() })
	require.NoError(t, b.Ping(ctx))

	_, ok, err := b.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, b.Set(ctx, "k1", []byte("one"), time.Minute))
	require.NoError(t, b.Set(ctx, "k2", []byte("two"), time.Minute))

	got, ok, err := b.Get(ctx, "k1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "one", string(got))

	require.NoError(t, b.Delete(ctx, "k1", "never-set"))
	_, ok, _ = b.Get(ctx, "k1")
	assert.False(t, ok)

	mr.FastForward(2 * time.Minute)
	_, ok, _ = b.Get(ctx, "k2")
	assert.False(t, ok)
}

func TestOpen_UsesRedisWhenReachable(t *testing.T) {
	mr := miniredis.RunT(t)

	b, err := Open(context.Background(), config.CacheConfig{RedisAddr: mr.Addr(), PingTimeout: time.Second, MemorySize: 8})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	assert.Equal(t, "redis", b.Name())
}

func TestOpen_FallsBackToMemory(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	b, err := Open(context.Background(), config.CacheConfig{RedisAddr: addr, PingTimeout: 200 * time.Millisecond, MemorySize: 8})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	assert.Equal(t, "memory", b.Name())
}

func TestKeyFormat(t *testing.T) {
	o := Owner{Provider: model.ProviderICloud, Principal: "alice"}
	assert.Equal(t, "cal:alice:icloud:day:2024-03-04", o.Day(time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)).String())
	assert.Equal(t, "cal:alice:icloud:month:2024-03", o.Month(2024, time.March).String())
	assert.Equal(t, "cal:alice:icloud:all:", o.All().String())
}

func TestInvalidator_Candidates(t *testing.T) {
	ical := Owner{Provider: model.ProviderICloud, Principal: "alice"}
	goog := Owner{Provider: model.ProviderGoogle, Principal: "alice@example.com"}
	inv := Invalidator{Owners: []Owner{ical, goog}, Weeks: 2, Loc: time.UTC}

	now := time.Date(2024, 3, 14, 12, 0, 0, 0, time.UTC)
	keys := inv.Candidates(now)

	day := func(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 0, 0, 0, 0, time.UTC) }

	assert.Contains(t, keys, ical.Day(day(2024, 3, 14)).String())
	assert.Contains(t, keys, ical.Day(day(2024, 2, 29)).String())
	assert.Contains(t, keys, goog.Day(day(2024, 3, 28)).String())
	assert.NotContains(t, keys, ical.Day(day(2024, 3, 29)).String())
	assert.Contains(t, keys, ical.Week(day(2024, 3, 11), day(2024, 3, 17)).String())
	assert.Contains(t, keys, goog.Month(2024, time.February).String())
	assert.Contains(t, keys, ical.All().String())
	assert.Contains(t, keys, goog.Calendars().String())
	assert.Contains(t, keys, ConfigKey().String())

	again := inv.Candidates(now)
	assert.Equal(t, keys, again)
}

func TestInvalidator_RunDeletesCandidates(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Date(2024, 3, 14, 12, 0, 0, 0, time.UTC)}
	store := NewStore(newMemory(t, clock))
	store.now = clock.Now

	o := Owner{Provider: model.ProviderICloud, Principal: "alice"}
	dayKey := o.Day(time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC))
	farKey := o.Day(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, store.PutEvents(ctx, dayKey, sampleEvents(1), time.Hour))
	require.NoError(t, store.PutEvents(ctx, farKey, sampleEvents(1), time.Hour))

	inv := Invalidator{Owners: []Owner{o}, Weeks: 1, Loc: time.UTC}
	require.NoError(t, inv.Run(ctx, store.Backend(), clock.Now()))

	_, ok := store.Events(ctx, dayKey)
	assert.False(t, ok)
	_, ok = store.Events(ctx, farKey)
	assert.True(t, ok, "keys outside the candidate window expire by TTL only")
}
