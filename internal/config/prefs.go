package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

// ErrConfigMissing is reported when no calendar preferences document has been
// saved yet. Readers fall back to DefaultCalendarConfig.
var ErrConfigMissing = errors.New("calendar config missing")

// CalendarConfig is the persisted display/sync preferences document.
type CalendarConfig struct {
	// BusyCalendarURLs lists calendars whose events block time by default.
	BusyCalendarURLs []string `yaml:"busy_calendars" json:"busyCalendarUrls"`
	// WhitelistUIDs never block, even on a busy calendar.
	WhitelistUIDs []string `yaml:"whitelist" json:"whitelistUids"`
	// ForcedBusyUIDs always block.
	ForcedBusyUIDs []string `yaml:"busy_events" json:"forcedBusyUids"`
	// ColorOverrides maps calendar URL to a user-chosen color.
	ColorOverrides map[string]string `yaml:"colors" json:"colorOverrides"`
	// ColorOverrideFlags enables an override per calendar URL.
	ColorOverrideFlags map[string]bool `yaml:"color_overwritten" json:"colorOverrideFlags"`

	// Missing is set when the document has never been saved. Every calendar
	// then counts as busy.
	Missing bool `yaml:"-" json:"-"`
}

// DefaultCalendarConfig is used when nothing has been persisted: show
// everything and force nothing busy.
func DefaultCalendarConfig() *CalendarConfig {
	c := &CalendarConfig{Missing: true}
	c.Normalize()
	return c
}

// Normalize sorts and de-duplicates every set so that saving the same
// preferences twice yields byte-identical documents.
func (c *CalendarConfig) Normalize() {
	c.BusyCalendarURLs = uniqueSorted(c.BusyCalendarURLs)
	c.WhitelistUIDs = uniqueSorted(c.WhitelistUIDs)
	c.ForcedBusyUIDs = uniqueSorted(c.ForcedBusyUIDs)
	if c.ColorOverrides == nil {
		c.ColorOverrides = map[string]string{}
	}
	if c.ColorOverrideFlags == nil {
		c.ColorOverrideFlags = map[string]bool{}
	}
}

// CalendarBusy reports whether events of the calendar block by default.
func (c *CalendarConfig) CalendarBusy(url string) bool {
	if c.Missing {
		return true
	}
	return contains(c.BusyCalendarURLs, url)
}

func (c *CalendarConfig) Whitelisted(uid string) bool { return contains(c.WhitelistUIDs, uid) }
func (c *CalendarConfig) ForcedBusy(uid string) bool  { return contains(c.ForcedBusyUIDs, uid) }

// ColorOverride returns the user color for a calendar when its flag is set.
func (c *CalendarConfig) ColorOverride(url string) (string, bool) {
	if !c.ColorOverrideFlags[url] {
		return "", false
	}
	col, ok := c.ColorOverrides[url]
	return col, ok && col != ""
}

func contains(sorted []string, v string) bool {
	i := sort.SearchStrings(sorted, v)
	return i < len(sorted) && sorted[i] == v
}

func uniqueSorted(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, v := range in {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// PrefsStore reads and writes the CalendarConfig document.
type PrefsStore struct {
	path string
	mu   sync.Mutex
}

func NewPrefsStore(path string) *PrefsStore {
	return &PrefsStore{path: path}
}

// Load returns the stored document. When the file does not exist it returns
// DefaultCalendarConfig together with ErrConfigMissing.
func (s *PrefsStore) Load() (*CalendarConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return DefaultCalendarConfig(), ErrConfigMissing
		}
		return nil, err
	}

	var c CalendarConfig
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	c.Normalize()
	return &c, nil
}

// Save normalizes and atomically replaces the document.
func (s *PrefsStore) Save(c *CalendarConfig) error {
	if c == nil {
		return errors.New("calendar config is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	c.Normalize()
	c.Missing = false

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return writeAtomic(s.path, data)
}

// writeAtomic writes via a temp file in the same directory and renames it
// over path, leaving a 0600 file.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".bizcal-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
