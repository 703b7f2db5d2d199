package ics

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	appLog "bizcal/internal/log"
	"bizcal/internal/model"
)

// Field extraction is regex based. It covers the dialect CalDAV servers emit
// for VEVENT objects and is not a full RFC5545 parser; everything that needs
// ICS text goes through this package so a stricter parser can replace it.

// Options controls how a VEVENT is normalized.
type Options struct {
	Source model.SourceRef
	// Zone is the business time zone assumed for floating values.
	Zone string
}

var (
	veventBlock = regexp.MustCompile(`(?s)BEGIN:VEVENT\n.*?END:VEVENT`)
	valarmBlock = regexp.MustCompile(`(?s)BEGIN:VALARM\n.*?END:VALARM\n?`)

	propCacheMu sync.Mutex
	propCache   = map[string]*regexp.Regexp{}
)

type contentLine struct {
	params Params
	value  string
}

// unfold joins RFC5545 folded lines and normalizes line endings to \n.
func unfold(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\n ", "")
	s = strings.ReplaceAll(s, "\n\t", "")
	return s
}

func propRegexp(name string) *regexp.Regexp {
	propCacheMu.Lock()
	defer propCacheMu.Unlock()
	if re, ok := propCache[name]; ok {
		return re
	}
	re := regexp.MustCompile(`(?m)^` + regexp.QuoteMeta(name) + `((?:;[^:\n]*)?):(.*)$`)
	propCache[name] = re
	return re
}

func findAll(text, name string) []contentLine {
	matches := propRegexp(name).FindAllStringSubmatch(text, -1)
	out := make([]contentLine, 0, len(matches))
	for _, m := range matches {
		out = append(out, contentLine{params: parseParams(m[1]), value: strings.TrimRight(m[2], "\r")})
	}
	return out
}

func findFirst(text, name string) (contentLine, bool) {
	m := propRegexp(name).FindStringSubmatch(text)
	if m == nil {
		return contentLine{}, false
	}
	return contentLine{params: parseParams(m[1]), value: strings.TrimRight(m[2], "\r")}, true
}

func parseParams(s string) Params {
	p := Params{}
	for _, part := range strings.Split(strings.TrimPrefix(s, ";"), ";") {
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		p[strings.ToUpper(strings.TrimSpace(k))] = strings.Trim(strings.TrimSpace(v), `"`)
	}
	return p
}

var textUnescaper = strings.NewReplacer(`\n`, "\n", `\N`, "\n", `\,`, ",", `\;`, ";", `\\`, `\`)

func text(block, name string) string {
	line, ok := findFirst(block, name)
	if !ok {
		return ""
	}
	return textUnescaper.Replace(strings.TrimSpace(line.value))
}

// SplitEvents returns each VEVENT block of a calendar object, unfolded.
func SplitEvents(data string) []string {
	return veventBlock.FindAllString(unfold(data), -1)
}

// ParseEvent normalizes one VEVENT block into the canonical event shape.
func ParseEvent(block string, opts Options) (model.Event, error) {
	block = unfold(block)
	props := valarmBlock.ReplaceAllString(block, "")

	ev := model.Event{Source: opts.Source}

	ev.UID = strings.TrimSpace(text(props, "UID"))
	if ev.UID == "" {
		return ev, errors.New("missing UID")
	}
	ev.Summary = text(props, "SUMMARY")
	ev.Description = text(props, "DESCRIPTION")
	ev.Location = text(props, "LOCATION")
	ev.Status = strings.ToLower(text(props, "STATUS"))

	dtstart, ok := findFirst(props, "DTSTART")
	if !ok {
		return ev, fmt.Errorf("%w: missing DTSTART", ErrMalformedDate)
	}
	start, allDay, err := ParseDate(dtstart.value, dtstart.params, opts.Zone)
	if err != nil {
		return ev, err
	}

	end, err := resolveEnd(props, start, allDay, opts.Zone)
	if err != nil {
		return ev, err
	}

	if !allDay && end.At.Sub(start.At) >= 24*time.Hour {
		allDay = true
		if isMidnight(end.At) {
			end = end.Add(-time.Second)
		}
	}

	ev.Start = start
	ev.End = end
	ev.AllDay = allDay

	if rr, ok := findFirst(props, "RRULE"); ok && strings.TrimSpace(rr.value) != "" {
		ev.RRule = strings.TrimSpace(rr.value)
		ev.IsRecurring = true
	}

	if rid, ok := findFirst(props, "RECURRENCE-ID"); ok {
		if s, _, err := ParseDate(rid.value, rid.params, opts.Zone); err == nil {
			ev.RecurrenceID = &s
		}
	}

	// Raw text is retained for recurring masters so expansion can read EXDATEs.
	if ev.IsRecurring {
		ev.RawICS = block
	}

	return ev, nil
}

func resolveEnd(props string, start model.Stamp, allDay bool, zone string) (model.Stamp, error) {
	if dtend, ok := findFirst(props, "DTEND"); ok {
		end, endIsDate, err := ParseDate(dtend.value, dtend.params, zone)
		if err != nil {
			// A broken DTEND does not invalidate the event; fall through.
			appLog.Debug("ics: ignoring malformed DTEND", "value", dtend.value)
		} else if allDay || endIsDate {
			// DTEND of a date value is exclusive.
			if end.At.After(start.At) {
				return end.Add(-time.Second), nil
			}
			return endOfDay(start), nil
		} else {
			return end, nil
		}
	}

	if d, ok := findFirst(props, "DURATION"); ok {
		if dur, err := ParseDuration(d.value); err == nil {
			if allDay {
				return start.Add(dur - time.Second), nil
			}
			return start.Add(dur), nil
		}
	}

	if allDay {
		return endOfDay(start), nil
	}
	return start, nil
}

func endOfDay(s model.Stamp) model.Stamp {
	return s.Add(24*time.Hour - time.Second)
}

func isMidnight(t time.Time) bool {
	return t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0
}

// ParseICS parses every VEVENT in one calendar object. Malformed events are
// logged and dropped; they never abort the batch.
func ParseICS(data string, opts Options) []model.Event {
	blocks := SplitEvents(data)
	events := make([]model.Event, 0, len(blocks))

	for _, block := range blocks {
		ev, err := ParseEvent(block, opts)
		if err != nil {
			appLog.Error("ics vevent parse failed", err,
				"calendar", opts.Source.Calendar,
				"uid", ev.UID,
			)
			continue
		}
		events = append(events, ev)
	}

	return events
}
