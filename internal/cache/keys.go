package cache

import (
	"fmt"
	"time"

	"bizcal/internal/model"
)

// Scope is the query family a key belongs to.
type Scope string

const (
	ScopeDay       Scope = "day"
	ScopeWeek      Scope = "week"
	ScopeMonth     Scope = "month"
	ScopeAll       Scope = "all"
	ScopeCalendars Scope = "calendars"
	ScopeConfig    Scope = "config"
	ScopeColors    Scope = "colors"
)

const dateLayout = "2006-01-02"

// Key identifies one cache entry: (provider, scope, window-or-params, principal).
type Key struct {
	Provider  model.ProviderKind
	Scope     Scope
	Params    string
	Principal string
}

func (k Key) String() string {
	return fmt.Sprintf("cal:%s:%s:%s:%s", k.Principal, k.Provider, k.Scope, k.Params)
}

// Owner is one (provider, principal) pair whose keys get invalidated together.
type Owner struct {
	Provider  model.ProviderKind
	Principal string
}

func (o Owner) Day(date time.Time) Key {
	return Key{Provider: o.Provider, Principal: o.Principal, Scope: ScopeDay, Params: date.Format(dateLayout)}
}

// Week keys carry both the first and the last (inclusive) date.
func (o Owner) Week(start, end time.Time) Key {
	return Key{Provider: o.Provider, Principal: o.Principal, Scope: ScopeWeek,
		Params: start.Format(dateLayout) + "_" + end.Format(dateLayout)}
}

func (o Owner) Month(year int, month time.Month) Key {
	return Key{Provider: o.Provider, Principal: o.Principal, Scope: ScopeMonth,
		Params: fmt.Sprintf("%04d-%02d", year, int(month))}
}

func (o Owner) All() Key {
	return Key{Provider: o.Provider, Principal: o.Principal, Scope: ScopeAll}
}

func (o Owner) Calendars() Key {
	return Key{Provider: o.Provider, Principal: o.Principal, Scope: ScopeCalendars}
}

func (o Owner) Colors() Key {
	return Key{Provider: o.Provider, Principal: o.Principal, Scope: ScopeColors}
}

// ConfigKey is shared across providers: the calendar preferences document
// belongs to the business, not to an account.
func ConfigKey() Key {
	return Key{Provider: "all", Principal: "business", Scope: ScopeConfig}
}
