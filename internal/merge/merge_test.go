package merge

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bizcal/internal/config"
	"bizcal/internal/model"
)

const (
	busyCal = "/cal/busy/"
	freeCal = "/cal/free/"
)

func prefs(whitelist, forced []string) *config.CalendarConfig {
	c := &config.CalendarConfig{
		BusyCalendarURLs: []string{busyCal},
		WhitelistUIDs:    whitelist,
		ForcedBusyUIDs:   forced,
	}
	c.Normalize()
	return c
}

func event(uid, cal string, hour int) model.Event {
	return model.Event{
		UID:    uid,
		Source: model.SourceRef{Provider: model.ProviderICloud, CalendarURL: cal},
		Start:  model.Wall(2024, time.March, 4, hour, 0, 0, "Europe/Berlin"),
		End:    model.Wall(2024, time.March, 4, hour+1, 0, 0, "Europe/Berlin"),
	}
}

func TestBlockingFormula(t *testing.T) {
	tests := []struct {
		name      string
		cal       string
		whitelist []string
		forced    []string
		want      bool
	}{
		{name: "free calendar, forced busy", cal: freeCal, forced: []string{"e"}, want: true},
		{name: "free calendar, forced busy and whitelisted", cal: freeCal, forced: []string{"e"}, whitelist: []string{"e"}, want: true},
		{name: "busy calendar, whitelisted", cal: busyCal, whitelist: []string{"e"}, want: false},
		{name: "busy calendar", cal: busyCal, want: true},
		{name: "free calendar", cal: freeCal, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewClassifier(prefs(tt.whitelist, tt.forced), nil, nil)
			assert.Equal(t, tt.want, c.Blocking(event("e", tt.cal, 10)))
		})
	}
}

func TestBlockingAppliesMasterOverridesToOccurrences(t *testing.T) {
	c := NewClassifier(prefs([]string{"master"}, nil), nil, nil)

	occ := event("master_2024-03-04T10:00:00.000Z", busyCal, 10)
	occ.MasterUID = "master"

	assert.False(t, c.Blocking(occ))
}

func TestMissingPrefsTreatEveryCalendarAsBusy(t *testing.T) {
	c := NewClassifier(nil, nil, nil)
	assert.True(t, c.Blocking(event("e", freeCal, 10)))
}

func TestMerge_DropsDeclinedAndSortsStably(t *testing.T) {
	declined := event("declined", busyCal, 9)
	declined.ResponseStatus = "declined"
	cancelled := event("cancelled", busyCal, 9)
	cancelled.Status = "cancelled"

	a := event("a", busyCal, 11)
	b := event("b", freeCal, 10)
	c := event("c", busyCal, 10)
	c.Source.Provider = model.ProviderGoogle

	got := Merge([][]model.Event{{a, declined, b}, {c, cancelled}}, NewClassifier(prefs(nil, nil), nil, nil))

	require.Len(t, got, 3)
	assert.Equal(t, []string{"b", "c", "a"}, []string{got[0].UID, got[1].UID, got[2].UID})
	assert.False(t, got[0].Blocking)
	assert.True(t, got[1].Blocking)
	assert.NotEmpty(t, got[0].Color)
}

func TestMerge_KeepsCrossProviderUIDCollisions(t *testing.T) {
	a := event("same", busyCal, 10)
	b := event("same", freeCal, 10)
	b.Source.Provider = model.ProviderGoogle

	got := Merge([][]model.Event{{a}, {b}}, NewClassifier(prefs(nil, nil), nil, nil))
	assert.Len(t, got, 2)
}

func TestResolveColorPriority(t *testing.T) {
	assert.Equal(t, "#123456", ResolveColor("#123456", true, "#4f86f7", "#00ff00", 0))
	assert.Equal(t, "#4f86f7", ResolveColor("#123456", false, "#4f86f7", "#00ff00", 0))
	assert.Equal(t, "#ff2968", ResolveColor("", false, "#FF2968FF", "", 0))
	assert.Equal(t, "#00ff00", ResolveColor("", false, "", "#00ff00", 0))
	assert.Equal(t, Palette[1], ResolveColor("", false, "", "", 1))
	assert.Equal(t, Palette[0], ResolveColor("", false, "nonsense", "", len(Palette)))
}

func TestDarkNativeColorIsBrightened(t *testing.T) {
	require.True(t, TooDark("#000080"))
	got := ResolveColor("", false, "#000080", "", 0)

	assert.NotEqual(t, "#000080", got)
	assert.False(t, TooDark(got))
	assert.False(t, TooDark("#4f86f7"))
}

func TestCalendarsResolvedByIndex(t *testing.T) {
	p := prefs(nil, nil)
	p.ColorOverrides[freeCal] = "#abcdef"
	p.ColorOverrideFlags[freeCal] = true

	c := NewClassifier(p, []model.CalendarSource{
		{URL: freeCal, DisplayName: "Free", Index: 1},
		{URL: busyCal, DisplayName: "Busy", Color: "#34a853", Index: 0},
	}, nil)

	cals := c.Calendars()
	require.Len(t, cals, 2)
	assert.Equal(t, busyCal, cals[0].URL)
	assert.True(t, cals[0].Busy)
	assert.Equal(t, "#34a853", cals[0].Color)
	assert.Equal(t, "#abcdef", cals[1].Color)
	assert.False(t, cals[1].Busy)
}

func TestMerge_OrdersInstantsByBusinessWallClock(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)

	wall := event("wall", busyCal, 10)
	// 09:30Z is 10:30 in Berlin, after the 10:00 wall-clock event.
	utc := event("utc", busyCal, 0)
	utc.Start = model.Instant(time.Date(2024, time.March, 4, 9, 30, 0, 0, time.UTC))
	utc.End = model.Instant(time.Date(2024, time.March, 4, 10, 0, 0, 0, time.UTC))

	got := Merge([][]model.Event{{utc, wall}}, NewClassifier(prefs(nil, nil), nil, nil).InZone(berlin))
	require.Len(t, got, 2)
	assert.Equal(t, "wall", got[0].UID)
	assert.Equal(t, "utc", got[1].UID)
}
