package web

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"bizcal/internal/aggregate"
	"bizcal/internal/config"
	"bizcal/internal/ics"
	"bizcal/internal/model"
)

// eventDTO is the wire view of an event. Every timestamp uses the
// .000Z layout.
type eventDTO struct {
	UID         string   `json:"uid"`
	MasterUID   string   `json:"masterUid,omitempty"`
	Summary     string   `json:"summary"`
	Description string   `json:"description,omitempty"`
	Location    string   `json:"location,omitempty"`
	Start       string   `json:"start"`
	End         string   `json:"end,omitempty"`
	AllDay      bool     `json:"allDay"`
	Provider    string   `json:"provider"`
	Calendar    string   `json:"calendar"`
	CalendarURL string   `json:"calendarUrl"`
	Blocking    bool     `json:"blocking"`
	Color       string   `json:"color"`
	IsRecurring bool     `json:"isRecurring"`
	RRule       string   `json:"rrule,omitempty"`
	Recurrence  []string `json:"recurrence,omitempty"`
	Raw         string   `json:"raw,omitempty"`
}

type eventsResponse struct {
	Events []eventDTO `json:"events"`
	Cached bool       `json:"cached"`
}

type slotDTO struct {
	Start     string `json:"start"`
	End       string `json:"end"`
	Available bool   `json:"available"`
}

type slotsResponse struct {
	Slots []slotDTO `json:"slots"`
}

// createRequest is the body of POST /api/events. Times without a zone
// suffix are wall-clock time in the business zone; date-only values make an
// all-day event.
type createRequest struct {
	Provider    string `json:"provider"`
	CalendarURL string `json:"calendarUrl"`
	Summary     string `json:"summary"`
	Description string `json:"description"`
	Location    string `json:"location"`
	Start       string `json:"start"`
	End         string `json:"end"`
	AllDay      bool   `json:"allDay"`
	RRule       string `json:"rrule"`
}

// checkRequest is the body of POST /api/availability/check. Buffer is in
// minutes.
type checkRequest struct {
	Start   string `json:"start"`
	End     string `json:"end"`
	Buffer  int    `json:"buffer"`
	Exclude string `json:"exclude"`
}

type checkResponse struct {
	Conflicts []eventDTO `json:"conflicts"`
	Warning   string     `json:"warning,omitempty"`
}

type calendarPrefDTO struct {
	DisplayName string `json:"displayName"`
	URL         string `json:"url"`
	Busy        bool   `json:"busy"`
	Color       string `json:"color"`
}

// configDTO is the wire view of the calendar preferences. On write, the busy
// set is taken from calendars[].busy.
type configDTO struct {
	Calendars        []calendarPrefDTO `json:"calendars"`
	Whitelist        []string          `json:"whitelist"`
	BusyEvents       []string          `json:"busyEvents"`
	Colors           map[string]string `json:"colors"`
	ColorOverwritten map[string]bool   `json:"colorOverwritten"`
	Missing          bool              `json:"missing"`
}

func toEventDTO(ev model.Event) eventDTO {
	return eventDTO{
		UID:         ev.UID,
		MasterUID:   ev.MasterUID,
		Summary:     ev.Summary,
		Description: ev.Description,
		Location:    ev.Location,
		Start:       ev.Start.Wire(),
		End:         ev.End.Wire(),
		AllDay:      ev.AllDay,
		Provider:    string(ev.Source.Provider),
		Calendar:    ev.Source.Calendar,
		CalendarURL: ev.Source.CalendarURL,
		Blocking:    ev.Blocking,
		Color:       ev.Color,
		IsRecurring: ev.IsRecurring,
		RRule:       ev.RRule,
		Recurrence:  ev.Recurrence,
		Raw:         ev.RawICS,
	}
}

func toEventDTOs(events []model.Event) []eventDTO {
	out := make([]eventDTO, 0, len(events))
	for _, ev := range events {
		out = append(out, toEventDTO(ev))
	}
	return out
}

func toSlotDTOs(slots []model.Slot) []slotDTO {
	out := make([]slotDTO, 0, len(slots))
	for _, sl := range slots {
		out = append(out, slotDTO{
			Start:     sl.Start.UTC().Format(model.WireLayout),
			End:       sl.End.UTC().Format(model.WireLayout),
			Available: sl.Available,
		})
	}
	return out
}

var errBadParam = errors.New("bad parameter")

const dateLayout = "2006-01-02"

func parseDate(name, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("%w: %s is required", errBadParam, name)
	}
	d, err := time.Parse(dateLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s must be YYYY-MM-DD", errBadParam, name)
	}
	return d, nil
}

func parseInt(name, value string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", errBadParam, name)
	}
	return n, nil
}

// parseMinutes accepts a plain number of minutes or an ISO 8601 duration
// such as PT45M.
func parseMinutes(name, value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if n, err := strconv.Atoi(value); err == nil {
		return time.Duration(n) * time.Minute, nil
	}
	d, err := ics.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be minutes or an ISO 8601 duration", errBadParam, name)
	}
	return d, nil
}

var localLayouts = []string{"2006-01-02T15:04:05", "2006-01-02T15:04"}

// parseStamp reads a request timestamp. It reports whether the value was a
// bare date.
func parseStamp(name, value, zone string) (model.Stamp, bool, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return model.Stamp{}, false, nil
	}
	if d, err := time.Parse(dateLayout, value); err == nil {
		return model.Wall(d.Year(), d.Month(), d.Day(), 0, 0, 0, zone), true, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return model.Instant(t), false, nil
	}
	for _, layout := range localLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return model.WallOf(t, zone), false, nil
		}
	}
	return model.Stamp{}, false, fmt.Errorf("%w: %s is not a date or timestamp", errBadParam, name)
}

func (r createRequest) toNewEvent(zone string) (model.NewEvent, error) {
	start, dateOnly, err := parseStamp("start", r.Start, zone)
	if err != nil {
		return model.NewEvent{}, err
	}
	end, _, err := parseStamp("end", r.End, zone)
	if err != nil {
		return model.NewEvent{}, err
	}
	return model.NewEvent{
		Provider:    model.ProviderKind(strings.ToLower(strings.TrimSpace(r.Provider))),
		CalendarURL: r.CalendarURL,
		Summary:     r.Summary,
		Description: r.Description,
		Location:    r.Location,
		Start:       start,
		End:         end,
		AllDay:      r.AllDay || dateOnly,
		RRule:       strings.TrimPrefix(strings.TrimSpace(r.RRule), "RRULE:"),
	}, nil
}

func toConfigDTO(v aggregate.ConfigView) configDTO {
	out := configDTO{
		Calendars:        make([]calendarPrefDTO, 0, len(v.Calendars)),
		Whitelist:        []string{},
		BusyEvents:       []string{},
		Colors:           map[string]string{},
		ColorOverwritten: map[string]bool{},
	}
	for _, c := range v.Calendars {
		out.Calendars = append(out.Calendars, calendarPrefDTO{
			DisplayName: c.DisplayName,
			URL:         c.URL,
			Busy:        c.Busy,
			Color:       c.Color,
		})
	}
	if c := v.Config; c != nil {
		out.Whitelist = append(out.Whitelist, c.WhitelistUIDs...)
		out.BusyEvents = append(out.BusyEvents, c.ForcedBusyUIDs...)
		for url, color := range c.ColorOverrides {
			out.Colors[url] = color
		}
		for url, on := range c.ColorOverrideFlags {
			out.ColorOverwritten[url] = on
		}
		out.Missing = c.Missing
	}
	return out
}

func (d configDTO) toCalendarConfig() *config.CalendarConfig {
	c := &config.CalendarConfig{
		BusyCalendarURLs:   []string{},
		WhitelistUIDs:      append([]string{}, d.Whitelist...),
		ForcedBusyUIDs:     append([]string{}, d.BusyEvents...),
		ColorOverrides:     map[string]string{},
		ColorOverrideFlags: map[string]bool{},
	}
	for _, cal := range d.Calendars {
		if cal.Busy && cal.URL != "" {
			c.BusyCalendarURLs = append(c.BusyCalendarURLs, cal.URL)
		}
	}
	for url, color := range d.Colors {
		c.ColorOverrides[url] = color
	}
	for url, on := range d.ColorOverwritten {
		c.ColorOverrideFlags[url] = on
	}
	return c
}
