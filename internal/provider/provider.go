// Package provider defines the contract shared by the calendar backends.
package provider

import (
	"context"
	"errors"

	"bizcal/internal/model"
)

var (
	// ErrNotAuthenticated means the provider has no usable credentials. It is
	// the only provider error surfaced to API callers as-is.
	ErrNotAuthenticated = errors.New("provider not authenticated")
	ErrNotFound         = errors.New("event not found")
	ErrUnknownProvider  = errors.New("unknown provider")
)

// Provider is one external calendar backend. FetchEvents returns canonical,
// unexpanded events: masters keep their rule and raw payload and overrides are
// separate events. An unbounded window means "everything".
type Provider interface {
	Kind() model.ProviderKind
	// Principal identifies the account; it namespaces cache keys.
	Principal() string
	// Required providers fail the request when they are not authenticated.
	Required() bool

	ListCalendars(ctx context.Context) ([]model.CalendarSource, error)
	FetchEvents(ctx context.Context, cal model.CalendarSource, window model.Window) ([]model.Event, error)
	CreateEvent(ctx context.Context, in model.NewEvent, uid string) (model.Event, error)
	DeleteEvent(ctx context.Context, ref model.EventRef) error
}

// RedactURL hides everything after the host so calendar paths and tokens
// never reach the logs.
//
//	https://p01-caldav.icloud.com/1234/calendars/work/ -> https://p01-caldav.icloud.com/...(redacted)
func RedactURL(u string) string {
	const redactedSuffix = "/...(redacted)"

	i := -1
	for idx := 0; idx+2 < len(u); idx++ {
		if u[idx:idx+3] == "://" {
			i = idx + 3
			break
		}
	}
	if i == -1 {
		return "...(redacted)"
	}

	j := i
	for j < len(u) && u[j] != '/' {
		j++
	}
	return u[:j] + redactedSuffix
}
