package config

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/hashicorp/go-multierror"

	"feedbridge/internal/model"
)

var envKeys = []string{
	"MATRIX_PASSWORD", "MATRIX_ACCESS_TOKEN", "TELEGRAM_BOT_TOKEN",
	"LOG_LEVEL", "STATE_PATH", "DATABASE_URL", "ALLOWED_USERS",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range envKeys {
		t.Setenv(key, "")
	}
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

const matrixYAML = `
matrix:
  server: https://matrix.example.org
  username: "@bot:example.org"
  password: hunter2
rss:
  - name: alpha
    feed: https://alpha.example.com/rss
    room: "#alpha:example.org"
    interval: 600
  - name: beta
    feed: https://beta.example.com/atom
    room: "#beta:example.org"
    schedule: "0 * * * *"
    filters:
      - kind: exclude
        value: sponsored
`

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		env     map[string]string
		want    *Config
	}{
		{
			name:    "matrix yaml with defaults",
			file:    "config.yaml",
			content: matrixYAML,
			want: &Config{
				Transport: TransportMatrix,
				Matrix: MatrixConfig{
					Server:   "https://matrix.example.org",
					Username: "@bot:example.org",
					Password: "hunter2",
				},
				Feeds: []FeedConfig{
					{Name: "alpha", URL: "https://alpha.example.com/rss", Room: "#alpha:example.org", Interval: 600},
					{
						Name:     "beta",
						URL:      "https://beta.example.com/atom",
						Room:     "#beta:example.org",
						Schedule: "0 * * * *",
						Filters:  []FilterConfig{{Kind: "exclude", Value: "sponsored"}},
					},
				},
				Defaults: Defaults{Interval: 3600},
				State:    StateConfig{Driver: "file", Path: ".state"},
				LogLevel: "info",
			},
		},
		{
			name: "telegram jwcc with env overrides",
			file: "config.json",
			content: `{
  // the token comes from the environment
  "telegram": {"allowed_users": [1]},
  "rss": [
    {"name": "alpha", "feed": "https://alpha.example.com/rss", "room": "@alpha_news"},
  ],
  "defaults": {"max_rejects": 5},
  "state": {"driver": "sqlite"},
  "http": {"listen": ":8080"},
}`,
			env: map[string]string{
				"TELEGRAM_BOT_TOKEN": "123:abc",
				"LOG_LEVEL":          "DEBUG",
				"STATE_PATH":         "/var/lib/feedbridge/state.db",
				"ALLOWED_USERS":      " 10 , 20 , ",
			},
			want: &Config{
				Transport: TransportTelegram,
				Telegram:  TelegramConfig{Token: "123:abc", AllowedUsers: []int64{10, 20}},
				Feeds: []FeedConfig{
					{Name: "alpha", URL: "https://alpha.example.com/rss", Room: "@alpha_news"},
				},
				Defaults: Defaults{Interval: 3600, MaxRejects: 5},
				State:    StateConfig{Driver: "sqlite", Path: "/var/lib/feedbridge/state.db"},
				HTTP:     HTTPConfig{Listen: ":8080"},
				LogLevel: "debug",
			},
		},
		{
			name: "postgres dsn from environment",
			file: "config.yml",
			content: `
matrix: {server: "https://m.example.org", username: "@b:example.org", access_token: "tok"}
rss: [{name: a, feed: "https://a.example.com/rss", room: "#a:example.org"}]
state: {driver: postgres}
`,
			env: map[string]string{"DATABASE_URL": "postgres://u:p@localhost/feedbridge"},
			want: &Config{
				Transport: TransportMatrix,
				Matrix:    MatrixConfig{Server: "https://m.example.org", Username: "@b:example.org", AccessToken: "tok"},
				Feeds:     []FeedConfig{{Name: "a", URL: "https://a.example.com/rss", Room: "#a:example.org"}},
				Defaults:  Defaults{Interval: 3600},
				State:     StateConfig{Driver: "postgres", DSN: "postgres://u:p@localhost/feedbridge"},
				LogLevel:  "info",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			path := writeFile(t, t.TempDir(), tt.file, tt.content)

			got, err := Load(path)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Load() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name     string
		file     string
		content  string
		env      map[string]string
		contains string
	}{
		{
			name:     "unknown field",
			file:     "config.yaml",
			content:  matrixYAML + "colour: blue\n",
			contains: `unknown field "colour"`,
		},
		{
			name:     "broken yaml",
			file:     "config.yaml",
			content:  "rss: [\n",
			contains: "yaml unmarshal",
		},
		{
			name:     "broken json",
			file:     "config.json",
			content:  `{"rss": `,
			contains: "jwcc parse",
		},
		{
			name:     "invalid allowed users",
			file:     "config.yaml",
			content:  matrixYAML,
			env:      map[string]string{"ALLOWED_USERS": "123,abc"},
			contains: "ALLOWED_USERS",
		},
		{
			name:     "missing opml file",
			file:     "config.yaml",
			content:  matrixYAML + "opml:\n  - path: missing.opml\n    room: \"#x:example.org\"\n",
			contains: "read opml",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			path := writeFile(t, t.TempDir(), tt.file, tt.content)

			_, err := Load(path)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.contains) {
				t.Errorf("error %q does not contain %q", err, tt.contains)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	clearEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "config.yaml"))
	if !errors.Is(err, ErrConfigMissing) {
		t.Fatalf("Load() error = %v, want ErrConfigMissing", err)
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	cfg := &Config{
		Transport: TransportMatrix,
		Matrix:    MatrixConfig{Server: "https://m.example.org"},
		Feeds: []FeedConfig{
			{Name: "a", URL: "https://a.example.com/rss", Room: "#a:x"},
			{Name: "a", URL: "ftp://a.example.com/rss", Room: "#a:x"},
			{Name: "", URL: "https://c.example.com/rss"},
			{Name: "d", URL: "https://d.example.com/rss", Room: "#d:x", Schedule: "whenever"},
			{Name: "e", URL: "https://e.example.com/rss", Room: "#e:x", Filters: []FilterConfig{{Kind: "include_re", Value: "(unclosed"}}},
		},
		State:    StateConfig{Driver: "postgres"},
		LogLevel: "verbose",
	}

	err := cfg.Validate()
	var merr *multierror.Error
	if !errors.As(err, &merr) {
		t.Fatalf("Validate() error = %v, want *multierror.Error", err)
	}

	wantSubstrings := []string{
		"matrix.username is required",
		"matrix.password or matrix.access_token is required",
		"rss[1] (a): duplicate feed name",
		"must be http or https",
		"rss[2]: name is required",
		"rss[2]: room is required",
		"rss[3] (d): parse schedule",
		"rss[4] (e): filter 0",
		"state.dsn is required",
		`log_level "verbose"`,
	}
	if diff := cmp.Diff(len(wantSubstrings), len(merr.Errors)); diff != "" {
		t.Errorf("error count mismatch (-want +got):\n%s\n%v", diff, err)
	}
	for _, want := range wantSubstrings {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Validate() error missing %q:\n%v", want, err)
		}
	}
}

func TestValidateRequiresTransportAndFeeds(t *testing.T) {
	cfg := &Config{LogLevel: "info", State: StateConfig{Driver: "file"}}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"no chat transport configured", "at least one feed"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Validate() error missing %q:\n%v", want, err)
		}
	}
}

const subscriptionsOPML = `<?xml version="1.0" encoding="UTF-8"?>
<opml version="2.0">
  <head><title>Subscriptions</title></head>
  <body>
    <outline text="Tech">
      <outline type="rss" text="Go Blog" title="The Go Blog" xmlUrl="https://go.dev/blog/feed.atom"/>
      <outline type="rss" text="Hacker News" xmlUrl="https://news.ycombinator.com/rss"/>
    </outline>
    <outline text="Folder without feeds"/>
  </body>
</opml>
`

func TestLoadOPMLImport(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	writeFile(t, dir, "subs.opml", subscriptionsOPML)
	path := writeFile(t, dir, "config.yaml", matrixYAML+`
opml:
  - path: subs.opml
    room: "#tech:example.org"
    interval: 1800
    prefix: "tech/"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []FeedConfig{
		{Name: "tech/The Go Blog", URL: "https://go.dev/blog/feed.atom", Room: "#tech:example.org", Interval: 1800},
		{Name: "tech/Hacker News", URL: "https://news.ycombinator.com/rss", Room: "#tech:example.org", Interval: 1800},
	}
	if diff := cmp.Diff(want, cfg.Feeds[2:]); diff != "" {
		t.Errorf("imported feeds mismatch (-want +got):\n%s", diff)
	}
}

func TestModelFeeds(t *testing.T) {
	cfg := &Config{Feeds: []FeedConfig{
		{
			Name:     "beta",
			URL:      "https://beta.example.com/atom",
			Room:     "#beta:example.org",
			Interval: 90,
			Schedule: "@hourly",
			Filters: []FilterConfig{
				{Kind: "EXCLUDE", Value: "sponsored"},
				{Kind: "include_re", Scope: "title", Value: "go(lang)?"},
			},
		},
	}}

	want := []model.Feed{{
		Name:     "beta",
		URL:      "https://beta.example.com/atom",
		Room:     "#beta:example.org",
		Interval: 90 * time.Second,
		Schedule: "@hourly",
		Filters: []model.Filter{
			{Kind: model.FilterExclude, Scope: model.ScopeAll, Value: "sponsored"},
			{Kind: model.FilterIncludeRe, Scope: model.ScopeTitle, Value: "go(lang)?"},
		},
	}}
	if diff := cmp.Diff(want, cfg.ModelFeeds()); diff != "" {
		t.Errorf("ModelFeeds() mismatch (-want +got):\n%s", diff)
	}
}

func TestDurations(t *testing.T) {
	tests := []struct {
		name     string
		defaults Defaults
		pacing   time.Duration
		fetch    time.Duration
		send     time.Duration
	}{
		{name: "unset", pacing: 2 * time.Second, fetch: 30 * time.Second, send: 30 * time.Second},
		{
			name:     "set",
			defaults: Defaults{SendPacing: 0.5, FetchTimeout: 10, SendTimeout: 5},
			pacing:   500 * time.Millisecond,
			fetch:    10 * time.Second,
			send:     5 * time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{Defaults: tt.defaults}
			got := []time.Duration{cfg.SendPacing(), cfg.FetchTimeout(), cfg.SendTimeout()}
			if diff := cmp.Diff([]time.Duration{tt.pacing, tt.fetch, tt.send}, got); diff != "" {
				t.Errorf("durations mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSlogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		cfg := &Config{LogLevel: tt.in}
		if diff := cmp.Diff(tt.want, cfg.SlogLevel()); diff != "" {
			t.Errorf("SlogLevel(%q) mismatch (-want +got):\n%s", tt.in, diff)
		}
	}
}
