// Package google reads and writes events through the Calendar API v3.
package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"golang.org/x/oauth2"
	googleoauth "golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"bizcal/internal/config"
	appLog "bizcal/internal/log"
	"bizcal/internal/metrics"
	"bizcal/internal/model"
	"bizcal/internal/provider"
)

const (
	pageSize        = 2500
	primaryCalendar = "primary"
)

// Client implements provider.Provider on top of calendar.Service. A client
// without a service reports ErrNotAuthenticated on every call.
type Client struct {
	cfg  config.GoogleConfig
	zone string
	svc  *calendar.Service
}

var _ provider.Provider = (*Client)(nil)

// New builds the service from the OAuth2 client credentials and the stored
// token. A missing or unreadable token leaves the client unauthenticated.
func New(ctx context.Context, cfg config.GoogleConfig, zone string) *Client {
	c := &Client{cfg: cfg, zone: zone}

	tok, err := loadToken(cfg.TokenFile)
	if err != nil {
		appLog.Warn("google token unavailable", "file", cfg.TokenFile, "err", err.Error())
		return c
	}

	conf := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     googleoauth.Endpoint,
		Scopes:       []string{calendar.CalendarScope},
	}
	src := &fileTokenSource{
		base: oauth2.ReuseTokenSource(tok, conf.TokenSource(ctx, tok)),
		path: cfg.TokenFile,
		last: tok.AccessToken,
	}

	svc, err := calendar.NewService(ctx, option.WithHTTPClient(oauth2.NewClient(ctx, src)))
	if err != nil {
		appLog.Error("failed to create calendar service", err)
		return c
	}
	c.svc = svc
	return c
}

// NewWithService wraps an existing service.
func NewWithService(svc *calendar.Service, cfg config.GoogleConfig, zone string) *Client {
	return &Client{cfg: cfg, zone: zone, svc: svc}
}

func (c *Client) Kind() model.ProviderKind { return model.ProviderGoogle }
func (c *Client) Required() bool           { return c.cfg.Required }

func (c *Client) Principal() string {
	if c.cfg.Account != "" {
		return c.cfg.Account
	}
	return primaryCalendar
}

func (c *Client) service() (*calendar.Service, error) {
	if c.svc == nil {
		return nil, provider.ErrNotAuthenticated
	}
	return c.svc, nil
}

// ListCalendars returns the account's calendar list with backgroundColor as
// the native color.
func (c *Client) ListCalendars(ctx context.Context) ([]model.CalendarSource, error) {
	svc, err := c.service()
	if err != nil {
		return nil, err
	}

	var out []model.CalendarSource
	err = svc.CalendarList.List().Context(ctx).Pages(ctx, func(page *calendar.CalendarList) error {
		for _, item := range page.Items {
			if item == nil || item.Deleted {
				continue
			}
			name := item.SummaryOverride
			if name == "" {
				name = item.Summary
			}
			out = append(out, model.CalendarSource{
				Provider:    model.ProviderGoogle,
				URL:         item.Id,
				DisplayName: name,
				Color:       item.BackgroundColor,
				Index:       len(out),
			})
		}
		return nil
	})
	if err != nil {
		return nil, mapError("list calendars", err)
	}
	return out, nil
}

// FetchEvents lists events without server-side expansion so recurring
// masters arrive with their recurrence array, in the business time zone.
func (c *Client) FetchEvents(ctx context.Context, cal model.CalendarSource, window model.Window) ([]model.Event, error) {
	svc, err := c.service()
	if err != nil {
		return nil, err
	}

	call := svc.Events.List(cal.URL).
		Context(ctx).
		SingleEvents(false).
		TimeZone(c.zone).
		MaxResults(pageSize)
	if !window.Unbounded() {
		loc := c.location()
		call = call.
			TimeMin(inZone(window.From, loc).Format(time.RFC3339)).
			TimeMax(inZone(window.To, loc).Format(time.RFC3339))
	}

	src := model.SourceRef{Provider: model.ProviderGoogle, CalendarURL: cal.URL, Calendar: cal.DisplayName}
	var out []model.Event
	err = call.Pages(ctx, func(page *calendar.Events) error {
		for _, item := range page.Items {
			ev, err := Normalize(item, src, c.zone)
			if err != nil {
				metrics.EventsDropped.WithLabelValues("malformed").Inc()
				appLog.Error("google event normalize failed", err, "uid", item.Id, "calendar", cal.DisplayName)
				continue
			}
			out = append(out, ev)
		}
		return nil
	})
	if err != nil {
		return nil, mapError("list events", err)
	}
	return out, nil
}

// CreateEvent inserts the event. The API assigns the event id, so uid is
// not used.
func (c *Client) CreateEvent(ctx context.Context, in model.NewEvent, _ string) (model.Event, error) {
	svc, err := c.service()
	if err != nil {
		return model.Event{}, err
	}
	calID := in.CalendarURL
	if calID == "" {
		calID = primaryCalendar
	}

	item := &calendar.Event{
		Summary:     in.Summary,
		Description: in.Description,
		Location:    in.Location,
		Start:       toEventDateTime(in.Start, in.AllDay, c.zone),
		End:         toEventDateTime(in.End, in.AllDay, c.zone),
	}
	if in.AllDay {
		// The API's end date is exclusive.
		last := in.End.At
		if last.Before(in.Start.At) {
			last = in.Start.At
		}
		item.End = &calendar.EventDateTime{Date: last.AddDate(0, 0, 1).Format(dateLayout)}
	}
	if in.RRule != "" {
		item.Recurrence = []string{"RRULE:" + in.RRule}
	}

	created, err := svc.Events.Insert(calID, item).Context(ctx).Do()
	if err != nil {
		return model.Event{}, mapError("insert event", err)
	}
	appLog.Info("google event created", "uid", created.Id, "calendar", calID)
	return Normalize(created, model.SourceRef{Provider: model.ProviderGoogle, CalendarURL: calID}, c.zone)
}

func (c *Client) DeleteEvent(ctx context.Context, ref model.EventRef) error {
	svc, err := c.service()
	if err != nil {
		return err
	}
	calID := ref.CalendarURL
	if calID == "" {
		calID = primaryCalendar
	}
	if err := svc.Events.Delete(calID, ref.UID).Context(ctx).Do(); err != nil {
		return mapError("delete event", err)
	}
	appLog.Info("google event deleted", "uid", ref.UID, "calendar", calID)
	return nil
}

func (c *Client) location() *time.Location {
	loc, err := time.LoadLocation(c.zone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// inZone reinterprets wall digits held in a UTC-located time as wall time
// in loc, giving the real instant the API expects.
func inZone(t time.Time, loc *time.Location) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, loc)
}

func mapError(op string, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch gerr.Code {
		case http.StatusUnauthorized:
			return provider.ErrNotAuthenticated
		case http.StatusNotFound, http.StatusGone:
			return provider.ErrNotFound
		}
	}
	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) {
		return provider.ErrNotAuthenticated
	}
	return fmt.Errorf("%s: %w", op, err)
}

func loadToken(path string) (*oauth2.Token, error) {
	if path == "" {
		return nil, errors.New("no token file configured")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("decode token: %w", err)
	}
	if tok.AccessToken == "" && tok.RefreshToken == "" {
		return nil, errors.New("token file holds no credentials")
	}
	return &tok, nil
}

// fileTokenSource writes refreshed tokens back so a restart keeps working
// without a new consent.
type fileTokenSource struct {
	base oauth2.TokenSource
	path string

	mu   sync.Mutex
	last string
}

func (s *fileTokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if tok.AccessToken == s.last {
		return tok, nil
	}
	s.last = tok.AccessToken

	data, err := json.Marshal(tok)
	if err != nil {
		return tok, nil
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		appLog.Error("failed to persist refreshed google token", err, "file", s.path)
	}
	return tok, nil
}
