package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStampWireKeepsWallDigits(t *testing.T) {
	s := Wall(2024, time.March, 5, 14, 30, 0, "Europe/Berlin")
	assert.Equal(t, "2024-03-05T14:30:00.000Z", s.Wire())
	assert.False(t, s.IsInstant())

	loc := time.FixedZone("X", 2*3600)
	w := WallOf(time.Date(2024, 3, 5, 9, 0, 0, 0, loc), "X")
	assert.Equal(t, "2024-03-05T09:00:00.000Z", w.Wire())

	i := Instant(time.Date(2024, 3, 5, 9, 0, 0, 0, loc))
	assert.Equal(t, "2024-03-05T07:00:00.000Z", i.Wire())
	assert.True(t, i.IsInstant())
}

func TestMasterUID(t *testing.T) {
	start := Wall(2024, time.January, 2, 14, 0, 0, "Europe/Berlin")
	occ := OccurrenceUID("abc_def@host", start)

	assert.Equal(t, "abc_def@host_2024-01-02T14:00:00.000Z", occ)
	assert.Equal(t, "abc_def@host", MasterUID(occ))
	assert.Equal(t, "abc_def@host", MasterUID("abc_def@host"))
}

func TestWindowOverlapsHalfOpen(t *testing.T) {
	day := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	w := Window{From: day, To: day.AddDate(0, 0, 1)}

	assert.True(t, w.Overlaps(day.Add(-time.Hour), day.Add(time.Minute)))
	assert.False(t, w.Overlaps(day.Add(-time.Hour), day))
	assert.False(t, w.Overlaps(w.To, w.To.Add(time.Hour)))
	assert.True(t, w.Overlaps(day, day))
	assert.True(t, Window{}.Overlaps(day, day))
}

func TestStampWallProjectsInstants(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Skip("tzdata unavailable")
	}

	i := Instant(time.Date(2024, 3, 5, 9, 0, 0, 0, time.UTC))
	assert.Equal(t, time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC), i.Wall(berlin))

	late := Instant(time.Date(2024, 3, 5, 23, 30, 0, 0, time.UTC))
	assert.Equal(t, time.Date(2024, 3, 6, 0, 30, 0, 0, time.UTC), late.Wall(berlin))

	w := Wall(2024, time.March, 5, 9, 0, 0, "Europe/Berlin")
	assert.Equal(t, w.At, w.Wall(berlin))
	assert.Equal(t, i.At, i.Wall(nil))
}
