// Package icloud talks CalDAV to iCloud (or any CalDAV server) with
// app-specific password basic auth.
package icloud

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"bizcal/internal/config"
	appLog "bizcal/internal/log"
	"bizcal/internal/model"
	"bizcal/internal/provider"
)

// Client implements provider.Provider over CalDAV.
type Client struct {
	cfg  config.ICloudConfig
	zone string
	http *resty.Client
	now  func() time.Time

	mu   sync.Mutex
	home string
}

var _ provider.Provider = (*Client)(nil)

// New creates a client. zone is the business time zone used for floating
// times in fetched objects.
func New(cfg config.ICloudConfig, zone string) *Client {
	c := resty.New().
		SetTimeout(30*time.Second).
		SetHeader("Content-Type", "application/xml; charset=utf-8").
		SetBasicAuth(cfg.Username, cfg.Password)

	return &Client{cfg: cfg, zone: zone, http: c, now: time.Now, home: cfg.HomeURL}
}

func (c *Client) Kind() model.ProviderKind { return model.ProviderICloud }
func (c *Client) Principal() string        { return c.cfg.Username }
func (c *Client) Required() bool           { return c.cfg.Required }

func (c *Client) authenticated() error {
	if c.cfg.Username == "" || c.cfg.Password == "" {
		return provider.ErrNotAuthenticated
	}
	return nil
}

// do sends a WebDAV request and returns the body of a 2xx response.
func (c *Client) do(ctx context.Context, method, target, depth, body string) ([]byte, error) {
	req := c.http.R().SetContext(ctx)
	if depth != "" {
		req.SetHeader("Depth", depth)
	}
	if body != "" {
		req.SetBody(body)
	}

	resp, err := req.Execute(method, target)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, provider.RedactURL(target), err)
	}
	switch code := resp.StatusCode(); {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return nil, provider.ErrNotAuthenticated
	case code == http.StatusNotFound:
		return nil, provider.ErrNotFound
	case code < 200 || code > 299:
		return nil, fmt.Errorf("%s %s: HTTP %d", method, provider.RedactURL(target), code)
	}
	return resp.Body(), nil
}

func (c *Client) propfind(ctx context.Context, target, depth, body string) (multistatus, error) {
	data, err := c.do(ctx, "PROPFIND", target, depth, body)
	if err != nil {
		return multistatus{}, err
	}
	return parseMultistatus(data)
}

func resolve(base, href string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return "", err
	}
	return b.ResolveReference(ref).String(), nil
}

// calendarHome runs discovery once: current-user-principal, then
// calendar-home-set. A configured HomeURL skips it.
func (c *Client) calendarHome(ctx context.Context) (string, error) {
	c.mu.Lock()
	home := c.home
	c.mu.Unlock()
	if home != "" {
		return home, nil
	}

	root := strings.TrimSuffix(c.cfg.ServerURL, "/") + "/"
	ms, err := c.propfind(ctx, root, "0", propfindPrincipal)
	if err != nil {
		return "", fmt.Errorf("discover principal: %w", err)
	}
	var principal string
	for _, r := range ms.Responses {
		if h := r.ok().CurrentUserPrincipal.Href; h != "" {
			principal = h
			break
		}
	}
	if principal == "" {
		return "", fmt.Errorf("discover principal: no current-user-principal in response")
	}
	principalURL, err := resolve(root, principal)
	if err != nil {
		return "", err
	}

	ms, err = c.propfind(ctx, principalURL, "0", propfindHomeSet)
	if err != nil {
		return "", fmt.Errorf("discover calendar home: %w", err)
	}
	for _, r := range ms.Responses {
		if h := r.ok().CalendarHomeSet.Href; h != "" {
			home, err = resolve(principalURL, h)
			if err != nil {
				return "", err
			}
			break
		}
	}
	if home == "" {
		return "", fmt.Errorf("discover calendar home: no calendar-home-set in response")
	}

	c.mu.Lock()
	c.home = home
	c.mu.Unlock()
	appLog.Info("caldav calendar home discovered", "home", provider.RedactURL(home))
	return home, nil
}

// ListCalendars returns every event calendar under the home collection in
// server order.
func (c *Client) ListCalendars(ctx context.Context) ([]model.CalendarSource, error) {
	if err := c.authenticated(); err != nil {
		return nil, err
	}
	home, err := c.calendarHome(ctx)
	if err != nil {
		return nil, err
	}

	ms, err := c.propfind(ctx, home, "1", propfindCalendars)
	if err != nil {
		return nil, fmt.Errorf("list calendars: %w", err)
	}

	var out []model.CalendarSource
	for _, r := range ms.Responses {
		p := r.ok()
		if !p.holdsEvents() {
			continue
		}
		u, err := resolve(home, r.Href)
		if err != nil {
			appLog.Warn("caldav calendar href unusable", "href", r.Href, "err", err.Error())
			continue
		}
		name := strings.TrimSpace(p.DisplayName)
		if name == "" {
			name = u
		}
		out = append(out, model.CalendarSource{
			Provider:    model.ProviderICloud,
			URL:         u,
			DisplayName: name,
			Color:       strings.TrimSpace(p.CalendarColor),
			Index:       len(out),
		})
	}
	return out, nil
}
