package ics

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	duration "github.com/ChannelMeter/iso8601duration"

	"bizcal/internal/model"
)

// ErrMalformedDate is returned when a DTSTART (or another date value) cannot
// be decoded. Callers drop the event and keep going.
var ErrMalformedDate = errors.New("malformed date")

const (
	layoutUTC   = "20060102T150405Z"
	layoutLocal = "20060102T150405"
	layoutDate  = "20060102"
)

var dateOnly = regexp.MustCompile(`^\d{8}$`)

// Params holds the ;KEY=VALUE parameters of one content line.
type Params map[string]string

// ParseDate applies the date policy:
//
//   - a trailing Z marks an absolute instant;
//   - a TZID parameter or no qualifier means the digits already are business
//     wall-clock time and are stored as-is in the given zone;
//   - VALUE=DATE or an 8-digit value is an all-day date at 00:00:00.
func ParseDate(value string, params Params, defaultZone string) (model.Stamp, bool, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return model.Stamp{}, false, fmt.Errorf("%w: empty value", ErrMalformedDate)
	}

	zone := defaultZone
	if tz := params["TZID"]; tz != "" {
		zone = tz
	}

	if strings.EqualFold(params["VALUE"], "DATE") || dateOnly.MatchString(v) {
		t, err := time.Parse(layoutDate, v)
		if err != nil {
			return model.Stamp{}, false, fmt.Errorf("%w: %q", ErrMalformedDate, v)
		}
		return model.Stamp{At: t, Zone: zone}, true, nil
	}

	if strings.HasSuffix(v, "Z") {
		t, err := time.Parse(layoutUTC, v)
		if err != nil {
			return model.Stamp{}, false, fmt.Errorf("%w: %q", ErrMalformedDate, v)
		}
		return model.Instant(t), false, nil
	}

	t, err := time.Parse(layoutLocal, v)
	if err != nil {
		return model.Stamp{}, false, fmt.Errorf("%w: %q", ErrMalformedDate, v)
	}
	return model.Stamp{At: t, Zone: zone}, false, nil
}

// ParseDuration decodes an RFC5545 DURATION value (P1DT2H, PT45M, ...).
func ParseDuration(value string) (time.Duration, error) {
	v := strings.TrimSpace(value)
	neg := strings.HasPrefix(v, "-")
	v = strings.TrimLeft(v, "+-")
	d, err := duration.FromString(v)
	if err != nil {
		return 0, err
	}
	out := d.ToDuration()
	if neg {
		out = -out
	}
	return out, nil
}

// ExceptionDates scans raw VEVENT text for EXDATE lines. Each line may carry a
// TZID and several comma-separated values; every value goes through the same
// date policy as DTSTART. Unparseable values are skipped.
func ExceptionDates(raw, defaultZone string) []model.Stamp {
	var out []model.Stamp
	for _, line := range findAll(unfold(raw), "EXDATE") {
		for _, part := range strings.Split(line.value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			s, _, err := ParseDate(part, line.params, defaultZone)
			if err != nil {
				continue
			}
			out = append(out, s)
		}
	}
	return out
}
