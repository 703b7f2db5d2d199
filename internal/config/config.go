package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// NOTE: the YAML file carries everything except secrets. Secrets come from
// BIZCAL_* environment variables and are never written back to disk.

// Hours is one weekday's opening window in "HH:MM" form. An empty Open means
// the business is closed that day.
type Hours struct {
	Open  string `yaml:"open" json:"open"`
	Close string `yaml:"close" json:"close"`
}

// Bounds returns the offsets of Open and Close from midnight.
func (h Hours) Bounds() (time.Duration, time.Duration, bool, error) {
	if h.Open == "" || h.Close == "" {
		return 0, 0, false, nil
	}
	open, err := clock(h.Open)
	if err != nil {
		return 0, 0, false, err
	}
	closeAt, err := clock(h.Close)
	if err != nil {
		return 0, 0, false, err
	}
	if closeAt <= open {
		return 0, 0, false, fmt.Errorf("business hours close %q is not after open %q", h.Close, h.Open)
	}
	return open, closeAt, true, nil
}

func clock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid clock value %q: %w", s, err)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// CacheConfig configures the cache layer.
type CacheConfig struct {
	// RedisAddr selects the distributed backend. Empty means in-process only.
	RedisAddr     string `yaml:"redis_addr" json:"redis_addr"`
	RedisPassword string `yaml:"-" json:"-"`
	RedisDB       int    `yaml:"redis_db" json:"redis_db"`

	// PingTimeout bounds the one-shot startup connection check.
	PingTimeout time.Duration `yaml:"ping_timeout" json:"ping_timeout"`

	// MemorySize is the LRU capacity of the in-process fallback.
	MemorySize int `yaml:"memory_size" json:"memory_size"`

	WindowTTL    time.Duration `yaml:"window_ttl" json:"window_ttl"`
	AllTTL       time.Duration `yaml:"all_ttl" json:"all_ttl"`
	CalendarsTTL time.Duration `yaml:"calendars_ttl" json:"calendars_ttl"`
	ColorsTTL    time.Duration `yaml:"colors_ttl" json:"colors_ttl"`

	// InvalidateWeeks is how many weeks around today mutations invalidate.
	InvalidateWeeks int `yaml:"invalidate_weeks" json:"invalidate_weeks"`
}

// ICloudConfig configures the CalDAV provider.
type ICloudConfig struct {
	Enabled   bool   `yaml:"enabled" json:"enabled"`
	ServerURL string `yaml:"server_url" json:"server_url"`
	// HomeURL skips principal discovery when set.
	HomeURL  string `yaml:"home_url" json:"home_url"`
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"-" json:"-"`
	Required bool   `yaml:"required" json:"required"`
}

// GoogleConfig configures the Calendar API provider.
type GoogleConfig struct {
	Enabled      bool   `yaml:"enabled" json:"enabled"`
	ClientID     string `yaml:"client_id" json:"client_id"`
	ClientSecret string `yaml:"-" json:"-"`
	// TokenFile holds the OAuth2 token JSON (refresh token included).
	TokenFile string `yaml:"token_file" json:"token_file"`
	// Account is the principal used in cache keys (e.g. the account email).
	Account  string `yaml:"account" json:"account"`
	Required bool   `yaml:"required" json:"required"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"-" json:"-"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the single IANA zone the business operates in. Floating and
	// TZID-qualified times are assumed to be wall-clock time in this zone.
	Timezone string `yaml:"timezone" json:"timezone"`

	// RefreshCron is a cron-style schedule used to keep today's cache warm.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// PrefsPath is the location of the calendar preferences document.
	PrefsPath string `yaml:"prefs_path" json:"prefs_path"`

	// BusinessHours is keyed by lower-case English weekday name.
	BusinessHours map[string]Hours `yaml:"business_hours" json:"business_hours"`

	// SlotStep is the distance between candidate slot starts. Zero means
	// "same as the requested duration".
	SlotStep time.Duration `yaml:"slot_step" json:"slot_step"`

	Cache  CacheConfig  `yaml:"cache" json:"cache"`
	ICloud ICloudConfig `yaml:"icloud" json:"icloud"`
	Google GoogleConfig `yaml:"google" json:"google"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// Secrets are read from the environment with the BIZCAL prefix.
type Secrets struct {
	ICloudUsername     string `envconfig:"ICLOUD_USERNAME"`
	ICloudPassword     string `envconfig:"ICLOUD_PASSWORD"`
	GoogleClientID     string `envconfig:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string `envconfig:"GOOGLE_CLIENT_SECRET"`
	GoogleTokenFile    string `envconfig:"GOOGLE_TOKEN_FILE"`
	RedisAddr          string `envconfig:"REDIS_ADDR"`
	RedisPassword      string `envconfig:"REDIS_PASSWORD"`
	BasicAuthUsername  string `envconfig:"BASIC_AUTH_USERNAME"`
	BasicAuthPassword  string `envconfig:"BASIC_AUTH_PASSWORD"`
}

func defaultHours() map[string]Hours {
	weekday := Hours{Open: "09:00", Close: "17:00"}
	return map[string]Hours{
		"monday":    weekday,
		"tuesday":   weekday,
		"wednesday": weekday,
		"thursday":  weekday,
		"friday":    weekday,
	}
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:        "127.0.0.1:8080",
		Timezone:      "Europe/Berlin",
		RefreshCron:   "*/5 * * * *",
		PrefsPath:     "/var/lib/bizcal/calendars.yaml",
		BusinessHours: defaultHours(),
		Cache: CacheConfig{
			PingTimeout:     2 * time.Second,
			MemorySize:      1024,
			WindowTTL:       5 * time.Minute,
			AllTTL:          time.Hour,
			CalendarsTTL:    time.Hour,
			ColorsTTL:       30 * 24 * time.Hour,
			InvalidateWeeks: 4,
		},
		ICloud: ICloudConfig{
			ServerURL: "https://caldav.icloud.com",
		},
	}
}

// Normalize fills in missing/zero values with defaults so that partially
// filled files still behave.
func (c *Config) Normalize() {
	d := DefaultConfig()
	if c.Listen == "" {
		c.Listen = d.Listen
	}
	if c.Timezone == "" {
		c.Timezone = d.Timezone
	}
	if c.RefreshCron == "" {
		c.RefreshCron = d.RefreshCron
	}
	if c.PrefsPath == "" {
		c.PrefsPath = d.PrefsPath
	}
	if c.BusinessHours == nil {
		c.BusinessHours = d.BusinessHours
	}
	if c.Cache.PingTimeout <= 0 {
		c.Cache.PingTimeout = d.Cache.PingTimeout
	}
	if c.Cache.MemorySize <= 0 {
		c.Cache.MemorySize = d.Cache.MemorySize
	}
	if c.Cache.WindowTTL <= 0 {
		c.Cache.WindowTTL = d.Cache.WindowTTL
	}
	if c.Cache.AllTTL <= 0 {
		c.Cache.AllTTL = d.Cache.AllTTL
	}
	if c.Cache.CalendarsTTL <= 0 {
		c.Cache.CalendarsTTL = d.Cache.CalendarsTTL
	}
	if c.Cache.ColorsTTL <= 0 {
		c.Cache.ColorsTTL = d.Cache.ColorsTTL
	}
	if c.Cache.InvalidateWeeks <= 0 {
		c.Cache.InvalidateWeeks = d.Cache.InvalidateWeeks
	}
	if c.ICloud.ServerURL == "" {
		c.ICloud.ServerURL = d.ICloud.ServerURL
	}
}

// Location resolves Timezone, falling back to UTC for unknown names.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// HoursFor returns the opening window of the given weekday.
func (c *Config) HoursFor(wd time.Weekday) Hours {
	return c.BusinessHours[strings.ToLower(wd.String())]
}

// ApplySecrets overlays environment secrets onto the file configuration.
func (c *Config) ApplySecrets(s Secrets) {
	if s.ICloudUsername != "" {
		c.ICloud.Username = s.ICloudUsername
	}
	c.ICloud.Password = s.ICloudPassword
	if s.GoogleClientID != "" {
		c.Google.ClientID = s.GoogleClientID
	}
	c.Google.ClientSecret = s.GoogleClientSecret
	if s.GoogleTokenFile != "" {
		c.Google.TokenFile = s.GoogleTokenFile
	}
	if s.RedisAddr != "" {
		c.Cache.RedisAddr = s.RedisAddr
	}
	c.Cache.RedisPassword = s.RedisPassword
	if s.BasicAuthUsername != "" || s.BasicAuthPassword != "" {
		if c.BasicAuth == nil {
			c.BasicAuth = &BasicAuthConfig{}
		}
		if s.BasicAuthUsername != "" {
			c.BasicAuth.Username = s.BasicAuthUsername
		}
		c.BasicAuth.Password = s.BasicAuthPassword
	}
}

// Load loads configuration from the given YAML path and overlays secrets from
// the environment.
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600
//     permissions and returned.
//   - Otherwise the YAML is read and defaults are filled in.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	cfg, err := readFile(path)
	if err != nil {
		return cfg, err
	}

	var s Secrets
	if err := envconfig.Process("BIZCAL", &s); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}
	cfg.ApplySecrets(s)

	return cfg, nil
}

func readFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()
	return &cfg, nil
}

// Save writes the configuration atomically with 0600 permissions. Secrets
// are excluded by their yaml:"-" tags.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return writeAtomic(path, data)
}
