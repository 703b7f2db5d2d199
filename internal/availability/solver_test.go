package availability

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bizcal/internal/model"
)

const zone = "Europe/Berlin"

var berlin, _ = time.LoadLocation(zone)

func at(h, m int) time.Time {
	return time.Date(2024, time.March, 4, h, m, 0, 0, time.UTC)
}

func block(uid string, fromH, fromM, toH, toM int, blocking bool) model.Event {
	return model.Event{
		UID:      uid,
		Start:    model.Wall(2024, time.March, 4, fromH, fromM, 0, zone),
		End:      model.Wall(2024, time.March, 4, toH, toM, 0, zone),
		Blocking: blocking,
	}
}

func TestOverlapsWithBuffer(t *testing.T) {
	ev := block("b", 10, 0, 11, 0, true)
	buffer := 15 * time.Minute

	assert.False(t, Overlaps(at(9, 0), at(9, 45), buffer, ev, berlin))
	assert.True(t, Overlaps(at(9, 50), at(10, 35), buffer, ev, berlin))
	assert.False(t, Overlaps(at(11, 15), at(12, 0), buffer, ev, berlin))
	assert.True(t, Overlaps(at(11, 10), at(12, 0), buffer, ev, berlin))
}

func TestSolve(t *testing.T) {
	req := Request{
		Date:     at(0, 0),
		Duration: 45 * time.Minute,
		Buffer:   15 * time.Minute,
		Step:     15 * time.Minute,
		Open:     9 * time.Hour,
		Close:    12 * time.Hour,
	}

	slots, err := Solve(req, []model.Event{
		block("busy", 10, 0, 11, 0, true),
		block("free", 9, 0, 12, 0, false),
	})
	require.NoError(t, err)

	byStart := map[time.Time]bool{}
	for _, s := range slots {
		byStart[s.Start] = s.Available
		assert.Equal(t, 45*time.Minute, s.End.Sub(s.Start))
		assert.False(t, s.End.After(at(12, 0)))
	}

	assert.Len(t, slots, 10)
	assert.True(t, byStart[at(9, 0)])
	assert.False(t, byStart[at(9, 15)])
	assert.False(t, byStart[at(10, 30)])
	assert.False(t, byStart[at(11, 0)])
	assert.True(t, byStart[at(11, 15)])
}

func TestSolve_DefaultsStepToDuration(t *testing.T) {
	slots, err := Solve(Request{Date: at(0, 0), Duration: time.Hour, Open: 9 * time.Hour, Close: 17 * time.Hour}, nil)
	require.NoError(t, err)
	require.Len(t, slots, 8)
	assert.Equal(t, at(16, 0), slots[7].Start)
	for _, s := range slots {
		assert.True(t, s.Available)
	}
}

func TestSolve_ClosedDayAndInvalid(t *testing.T) {
	slots, err := Solve(Request{Date: at(0, 0), Duration: time.Hour, Closed: true}, nil)
	require.NoError(t, err)
	assert.Empty(t, slots)

	_, err = Solve(Request{Date: at(0, 0)}, nil)
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestConflicts(t *testing.T) {
	events := []model.Event{
		block("a", 10, 0, 11, 0, true),
		block("b", 10, 30, 11, 30, false),
		block("series_2024-03-04T10:15:00.000Z", 10, 15, 10, 45, true),
	}
	events[2].MasterUID = "series"

	got := Conflicts(at(10, 0), at(10, 30), 0, events, "", berlin)
	require.Len(t, got, 2)

	got = Conflicts(at(10, 0), at(10, 30), 0, events, "series", berlin)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].UID)

	assert.Empty(t, Conflicts(at(11, 0), at(12, 0), 0, events, "", berlin))
	assert.Len(t, Conflicts(at(11, 0), at(12, 0), time.Minute, events, "", berlin), 1)
}

func TestSolve_ProjectsInstantEventsIntoBusinessZone(t *testing.T) {
	// 09:00Z is 10:00 in Berlin.
	utc := model.Event{
		UID:      "utc",
		Start:    model.Instant(time.Date(2024, time.March, 4, 9, 0, 0, 0, time.UTC)),
		End:      model.Instant(time.Date(2024, time.March, 4, 10, 0, 0, 0, time.UTC)),
		Blocking: true,
	}
	slots, err := Solve(Request{
		Date:     at(0, 0),
		Duration: time.Hour,
		Open:     9 * time.Hour,
		Close:    12 * time.Hour,
		Loc:      berlin,
	}, []model.Event{utc})
	require.NoError(t, err)
	require.Len(t, slots, 3)

	assert.True(t, slots[0].Available, "09:00")
	assert.False(t, slots[1].Available, "10:00")
	assert.True(t, slots[2].Available, "11:00")

	assert.Len(t, Conflicts(at(10, 15), at(10, 45), 0, []model.Event{utc}, "", berlin), 1)
	assert.Empty(t, Conflicts(at(9, 0), at(9, 45), 0, []model.Event{utc}, "", berlin))
}
