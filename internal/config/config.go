// Package config loads the bridge configuration from a file and the environment.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"feedbridge/internal/model"
	"feedbridge/internal/state"
)

// ErrConfigMissing is returned when the configuration file does not exist.
var ErrConfigMissing = errors.New("config file missing")

// Transports.
const (
	TransportMatrix   = "matrix"
	TransportTelegram = "telegram"
)

const (
	defaultPacing       = 2 * time.Second
	defaultFetchTimeout = 30 * time.Second
	defaultSendTimeout  = 30 * time.Second
	defaultLogLevel     = "info"
)

// Config holds the application configuration.
type Config struct {
	Transport string         `json:"transport"`
	Matrix    MatrixConfig   `json:"matrix"`
	Telegram  TelegramConfig `json:"telegram"`
	Feeds     []FeedConfig   `json:"rss"`
	OPML      []OPMLImport   `json:"opml"`
	Defaults  Defaults       `json:"defaults"`
	State     StateConfig    `json:"state"`
	HTTP      HTTPConfig     `json:"http"`
	LogLevel  string         `json:"log_level"`
	LogFile   string         `json:"log_file"`
}

// MatrixConfig holds the Matrix account. Password or AccessToken may
// come from MATRIX_PASSWORD and MATRIX_ACCESS_TOKEN.
type MatrixConfig struct {
	Server      string `json:"server"`
	Username    string `json:"username"`
	Password    string `json:"password"`
	AccessToken string `json:"access_token"`
	DeviceName  string `json:"device_name"`
}

// TelegramConfig holds the bot token and the users allowed to run commands.
// ALLOWED_USERS, a comma separated list of user IDs, replaces AllowedUsers.
type TelegramConfig struct {
	Token        string  `json:"token"`
	AllowedUsers []int64 `json:"allowed_users"`
}

// FeedConfig is one entry of the rss list. Interval is in seconds.
type FeedConfig struct {
	Name     string         `json:"name"`
	URL      string         `json:"feed"`
	Room     string         `json:"room"`
	Interval int            `json:"interval"`
	Schedule string         `json:"schedule"`
	Filters  []FilterConfig `json:"filters"`
}

// FilterConfig is a keyword rule. Scope defaults to all.
type FilterConfig struct {
	Kind  string `json:"kind"`
	Scope string `json:"scope"`
	Value string `json:"value"`
}

// OPMLImport adds every feed of an OPML file, all delivering to Room.
// A relative Path is resolved against the config file's directory.
type OPMLImport struct {
	Path     string `json:"path"`
	Room     string `json:"room"`
	Interval int    `json:"interval"`
	Prefix   string `json:"prefix"`
}

// Defaults apply to every feed. Durations are in seconds.
type Defaults struct {
	Interval     int     `json:"interval"`
	SendPacing   float64 `json:"send_pacing"`
	FetchTimeout int     `json:"fetch_timeout"`
	SendTimeout  int     `json:"send_timeout"`
	MaxSummary   int     `json:"max_summary"`
	MaxRejects   int     `json:"max_rejects"`
}

// StateConfig selects the delivery state backend.
type StateConfig struct {
	Driver string `json:"driver"`
	Path   string `json:"path"`
	DSN    string `json:"dsn"`
	Strict bool   `json:"strict"`
}

// HTTPConfig enables the status server when Listen is set.
type HTTPConfig struct {
	Listen string `json:"listen"`
}

// Load reads the configuration file at path, applies environment
// overrides and defaults, expands OPML imports and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrConfigMissing, path)
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg, err := Parse(path, data)
	if err != nil {
		return nil, err
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	if err := cfg.expandOPML(filepath.Dir(path)); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes a YAML or JSON document. The format is chosen by the
// file extension of path; unknown fields are rejected.
func Parse(path string, data []byte) (*Config, error) {
	jb, err := toJSON(path, data)
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("decode config %s: trailing data", path)
	}
	return &cfg, nil
}

func (c *Config) applyEnv() error {
	overrides := []struct {
		env string
		dst *string
	}{
		{"MATRIX_PASSWORD", &c.Matrix.Password},
		{"MATRIX_ACCESS_TOKEN", &c.Matrix.AccessToken},
		{"TELEGRAM_BOT_TOKEN", &c.Telegram.Token},
		{"LOG_LEVEL", &c.LogLevel},
		{"STATE_PATH", &c.State.Path},
		{"DATABASE_URL", &c.State.DSN},
	}
	for _, o := range overrides {
		if v := os.Getenv(o.env); v != "" {
			*o.dst = v
		}
	}

	if raw := os.Getenv("ALLOWED_USERS"); raw != "" {
		var allowedUsers []int64
		for _, s := range strings.Split(raw, ",") {
			s = strings.TrimSpace(s)
			if s == "" {
				continue
			}
			uid, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid user ID %q in ALLOWED_USERS: %w", s, err)
			}
			allowedUsers = append(allowedUsers, uid)
		}
		c.Telegram.AllowedUsers = allowedUsers
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Transport == "" {
		switch {
		case c.Matrix.Server != "":
			c.Transport = TransportMatrix
		case c.Telegram.Token != "":
			c.Transport = TransportTelegram
		}
	}
	if c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	}
	c.LogLevel = strings.ToLower(c.LogLevel)
	if c.State.Driver == "" {
		c.State.Driver = state.DriverFile
	}
	if c.State.Driver == state.DriverFile && c.State.Path == "" {
		c.State.Path = state.DefaultPath
	}
	if c.Defaults.Interval == 0 {
		c.Defaults.Interval = int(model.DefaultInterval / time.Second)
	}
}

// PollInterval is the interval used by feeds without their own.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Defaults.Interval) * time.Second
}

// SendPacing is the minimum gap between two messages of the same feed.
func (c *Config) SendPacing() time.Duration {
	if c.Defaults.SendPacing <= 0 {
		return defaultPacing
	}
	return time.Duration(c.Defaults.SendPacing * float64(time.Second))
}

// FetchTimeout bounds one feed download.
func (c *Config) FetchTimeout() time.Duration {
	if c.Defaults.FetchTimeout <= 0 {
		return defaultFetchTimeout
	}
	return time.Duration(c.Defaults.FetchTimeout) * time.Second
}

// SendTimeout bounds one message send.
func (c *Config) SendTimeout() time.Duration {
	if c.Defaults.SendTimeout <= 0 {
		return defaultSendTimeout
	}
	return time.Duration(c.Defaults.SendTimeout) * time.Second
}

// SlogLevel returns the configured log level.
func (c *Config) SlogLevel() slog.Level {
	return parseLevel(c.LogLevel)
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// StateStore returns the state backend settings.
func (c *Config) StateStore() state.Config {
	return state.Config{
		Driver: c.State.Driver,
		Path:   c.State.Path,
		DSN:    c.State.DSN,
		Strict: c.State.Strict,
	}
}

// ModelFeeds converts the configured feeds to domain feeds.
func (c *Config) ModelFeeds() []model.Feed {
	feeds := make([]model.Feed, 0, len(c.Feeds))
	for _, f := range c.Feeds {
		filters := make([]model.Filter, 0, len(f.Filters))
		for _, fl := range f.Filters {
			filters = append(filters, fl.model())
		}
		feeds = append(feeds, model.Feed{
			Name:     f.Name,
			URL:      f.URL,
			Room:     f.Room,
			Interval: time.Duration(f.Interval) * time.Second,
			Schedule: f.Schedule,
			Filters:  filters,
		})
	}
	return feeds
}

func (f FilterConfig) model() model.Filter {
	scope := model.FilterScope(strings.ToLower(f.Scope))
	if scope == "" {
		scope = model.ScopeAll
	}
	return model.Filter{
		Kind:  model.FilterKind(strings.ToLower(f.Kind)),
		Scope: scope,
		Value: f.Value,
	}
}
