package icloud

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"bizcal/internal/ics"
	appLog "bizcal/internal/log"
	"bizcal/internal/model"
	"bizcal/internal/provider"
)

// windowSlack widens the server-side time-range. Window bounds hold
// business-zone wall digits while CalDAV filters compare UTC instants; the
// exact window is applied again during expansion.
const windowSlack = 24 * time.Hour

// FetchEvents runs a calendar-query REPORT and normalizes every VEVENT of
// every returned object. Malformed events are logged and dropped.
func (c *Client) FetchEvents(ctx context.Context, cal model.CalendarSource, window model.Window) ([]model.Event, error) {
	if err := c.authenticated(); err != nil {
		return nil, err
	}

	var from, to time.Time
	if !window.Unbounded() {
		from, to = window.From.Add(-windowSlack), window.To.Add(windowSlack)
	}

	data, err := c.do(ctx, "REPORT", cal.URL, "1", calendarQuery(from, to))
	if err != nil {
		return nil, fmt.Errorf("query calendar: %w", err)
	}
	ms, err := parseMultistatus(data)
	if err != nil {
		return nil, err
	}

	opts := ics.Options{
		Source: model.SourceRef{Provider: model.ProviderICloud, CalendarURL: cal.URL, Calendar: cal.DisplayName},
		Zone:   c.zone,
	}
	var out []model.Event
	for _, r := range ms.Responses {
		body := r.ok().CalendarData
		if body == "" {
			continue
		}
		out = append(out, ics.ParseICS(body, opts)...)
	}
	appLog.Debug("caldav report", "calendar", provider.RedactURL(cal.URL), "objects", len(ms.Responses), "events", len(out))
	return out, nil
}

// CreateEvent PUTs a new object named after its uid. If-None-Match keeps an
// existing object from being overwritten.
func (c *Client) CreateEvent(ctx context.Context, in model.NewEvent, uid string) (model.Event, error) {
	if err := c.authenticated(); err != nil {
		return model.Event{}, err
	}
	if in.CalendarURL == "" {
		return model.Event{}, errors.New("calendar url is required")
	}

	body := ics.BuildEvent(uid, in, c.now())
	target := strings.TrimSuffix(in.CalendarURL, "/") + "/" + uid + ".ics"

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "text/calendar; charset=utf-8").
		SetHeader("If-None-Match", "*").
		SetBody(body).
		Put(target)
	if err != nil {
		return model.Event{}, fmt.Errorf("put event: %w", err)
	}
	switch resp.StatusCode() {
	case http.StatusCreated, http.StatusNoContent, http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return model.Event{}, provider.ErrNotAuthenticated
	default:
		return model.Event{}, fmt.Errorf("put event: HTTP %d", resp.StatusCode())
	}

	created := ics.ParseICS(body, ics.Options{
		Source: model.SourceRef{Provider: model.ProviderICloud, CalendarURL: in.CalendarURL},
		Zone:   c.zone,
	})
	if len(created) == 0 {
		return model.Event{}, fmt.Errorf("created event %s does not parse back", uid)
	}
	appLog.Info("caldav event created", "uid", uid, "calendar", provider.RedactURL(in.CalendarURL))
	return created[0], nil
}

// DeleteEvent locates the object holding ref.UID and deletes it. Without a
// calendar URL every calendar is searched.
func (c *Client) DeleteEvent(ctx context.Context, ref model.EventRef) error {
	if err := c.authenticated(); err != nil {
		return err
	}

	calendars := []string{ref.CalendarURL}
	if ref.CalendarURL == "" {
		cals, err := c.ListCalendars(ctx)
		if err != nil {
			return err
		}
		calendars = calendars[:0]
		for _, cal := range cals {
			calendars = append(calendars, cal.URL)
		}
	}

	for _, cal := range calendars {
		href, err := c.findHref(ctx, cal, ref.UID)
		if errors.Is(err, provider.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		if _, err := c.do(ctx, http.MethodDelete, href, "", ""); err != nil {
			return fmt.Errorf("delete event: %w", err)
		}
		appLog.Info("caldav event deleted", "uid", ref.UID, "calendar", provider.RedactURL(cal))
		return nil
	}
	return provider.ErrNotFound
}

func (c *Client) findHref(ctx context.Context, cal, uid string) (string, error) {
	data, err := c.do(ctx, "REPORT", cal, "1", uidQuery(uid))
	if err != nil {
		return "", err
	}
	ms, err := parseMultistatus(data)
	if err != nil {
		return "", err
	}
	for _, r := range ms.Responses {
		if r.Href == "" {
			continue
		}
		return resolve(cal, r.Href)
	}
	return "", provider.ErrNotFound
}
