package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/hashicorp/go-multierror"

	"feedbridge/internal/filter"
	"feedbridge/internal/model"
	"feedbridge/internal/scheduler"
	"feedbridge/internal/state"
)

// Validate reports every problem in the configuration at once.
func (c *Config) Validate() error {
	var result *multierror.Error
	add := func(format string, args ...any) {
		result = multierror.Append(result, fmt.Errorf(format, args...))
	}

	switch c.Transport {
	case TransportMatrix:
		if c.Matrix.Server == "" {
			add("matrix.server is required")
		}
		if c.Matrix.Username == "" {
			add("matrix.username is required")
		}
		if c.Matrix.Password == "" && c.Matrix.AccessToken == "" {
			add("matrix.password or matrix.access_token is required (or set MATRIX_PASSWORD / MATRIX_ACCESS_TOKEN)")
		}
	case TransportTelegram:
		if c.Telegram.Token == "" {
			add("telegram.token is required (or set TELEGRAM_BOT_TOKEN)")
		}
	case "":
		add("no chat transport configured: set matrix.server or telegram.token")
	default:
		add("unknown transport %q", c.Transport)
	}

	if len(c.Feeds) == 0 {
		add("at least one feed is required under rss")
	}
	seen := make(map[string]bool, len(c.Feeds))
	for i, f := range c.Feeds {
		label := fmt.Sprintf("rss[%d]", i)
		if f.Name != "" {
			label = fmt.Sprintf("rss[%d] (%s)", i, f.Name)
		}

		if strings.TrimSpace(f.Name) == "" {
			add("%s: name is required", label)
		} else if seen[f.Name] {
			add("%s: duplicate feed name", label)
		}
		seen[f.Name] = true

		if err := validateFeedURL(f.URL); err != nil {
			add("%s: %w", label, err)
		}
		if strings.TrimSpace(f.Room) == "" {
			add("%s: room is required", label)
		}
		if f.Interval < 0 {
			add("%s: interval must not be negative", label)
		}
		if f.Schedule != "" {
			if _, err := scheduler.ParseSchedule(f.Schedule); err != nil {
				add("%s: %w", label, err)
			}
		}
		if _, err := filter.Compile(c.feedFilters(i)); err != nil {
			add("%s: %w", label, err)
		}
	}

	if c.Defaults.Interval < 0 {
		add("defaults.interval must not be negative")
	}
	if c.Defaults.SendPacing < 0 {
		add("defaults.send_pacing must not be negative")
	}
	if c.Defaults.MaxSummary < 0 {
		add("defaults.max_summary must not be negative")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		add("log_level %q is not one of debug, info, warn, error", c.LogLevel)
	}

	switch c.State.Driver {
	case state.DriverFile, state.DriverSQLite:
	case state.DriverPostgres:
		if c.State.DSN == "" {
			add("state.dsn is required for the postgres driver (or set DATABASE_URL)")
		}
	default:
		add("unknown state driver %q", c.State.Driver)
	}

	return result.ErrorOrNil()
}

func (c *Config) feedFilters(i int) []model.Filter {
	out := make([]model.Filter, 0, len(c.Feeds[i].Filters))
	for _, fl := range c.Feeds[i].Filters {
		out = append(out, fl.model())
	}
	return out
}

func validateFeedURL(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return errors.New("feed url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid feed url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("feed url %q must be http or https", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("feed url %q has no host", raw)
	}
	return nil
}
