package merge

import (
	"sort"
	"strings"
	"time"

	"bizcal/internal/config"
	"bizcal/internal/metrics"
	"bizcal/internal/model"
)

// Classifier computes the blocking flag and display color of events from the
// live calendar preferences. It never caches its results.
type Classifier struct {
	prefs      *config.CalendarConfig
	sources    map[string]model.CalendarSource
	remembered map[string]string
	loc        *time.Location
}

// NewClassifier indexes the known calendars by URL. remembered holds the last
// color seen per calendar URL and may be nil.
func NewClassifier(prefs *config.CalendarConfig, sources []model.CalendarSource, remembered map[string]string) *Classifier {
	if prefs == nil {
		prefs = config.DefaultCalendarConfig()
	}
	idx := make(map[string]model.CalendarSource, len(sources))
	for _, s := range sources {
		idx[s.URL] = s
	}
	return &Classifier{prefs: prefs, sources: idx, remembered: remembered}
}

// InZone sets the business zone used to order instants against wall-clock
// events.
func (c *Classifier) InZone(loc *time.Location) *Classifier {
	c.loc = loc
	return c
}

// Blocking applies (calendarBusy AND NOT whitelisted) OR forcedBusy. Overrides
// stored against a master uid also apply to its occurrences.
func (c *Classifier) Blocking(ev model.Event) bool {
	whitelisted := c.prefs.Whitelisted(ev.UID) || (ev.MasterUID != "" && c.prefs.Whitelisted(ev.MasterUID))
	forced := c.prefs.ForcedBusy(ev.UID) || (ev.MasterUID != "" && c.prefs.ForcedBusy(ev.MasterUID))
	return (c.prefs.CalendarBusy(ev.Source.CalendarURL) && !whitelisted) || forced
}

// Color resolves the display color of a calendar.
func (c *Classifier) Color(url string) string {
	src := c.sources[url]
	override, overridden := c.prefs.ColorOverride(url)
	return ResolveColor(override, overridden, src.Color, c.remembered[url], src.Index)
}

// Calendars returns the known calendars with busy flag and resolved color,
// ordered by their position.
func (c *Classifier) Calendars() []model.CalendarSource {
	out := make([]model.CalendarSource, 0, len(c.sources))
	for url, s := range c.sources {
		s.Busy = c.prefs.CalendarBusy(url)
		s.Color = c.Color(url)
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Index != out[j].Index {
			return out[i].Index < out[j].Index
		}
		return out[i].URL < out[j].URL
	})
	return out
}

// DropReason reports why an event must not be shown, if at all.
func DropReason(ev model.Event) (string, bool) {
	switch strings.ToLower(ev.ResponseStatus) {
	case "declined":
		return "declined", true
	}
	switch strings.ToLower(ev.Status) {
	case "cancelled", "canceled", "declined":
		return "cancelled", true
	}
	return "", false
}

// Merge concatenates per-provider lists, drops declined/cancelled events,
// classifies the rest and sorts them stably by start. Uids are namespaced by
// provider, so no cross-provider de-duplication happens here.
func Merge(lists [][]model.Event, c *Classifier) []model.Event {
	total := 0
	for _, l := range lists {
		total += len(l)
	}

	out := make([]model.Event, 0, total)
	for _, l := range lists {
		for _, ev := range l {
			if reason, drop := DropReason(ev); drop {
				metrics.EventsDropped.WithLabelValues(reason).Inc()
				continue
			}
			ev.Blocking = c.Blocking(ev)
			ev.Color = c.Color(ev.Source.CalendarURL)
			out = append(out, ev)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Start.Wall(c.loc).Before(out[j].Start.Wall(c.loc))
	})
	return out
}
