package httpapi

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"feedbridge/internal/model"
)

type mockController struct {
	mu        sync.Mutex
	statuses  []model.FeedStatus
	triggered []string
}

func (m *mockController) Statuses() []model.FeedStatus {
	return m.statuses
}

func (m *mockController) Status(name string) (model.FeedStatus, bool) {
	for _, st := range m.statuses {
		if st.Name == name {
			return st, true
		}
	}
	return model.FeedStatus{}, false
}

func (m *mockController) Trigger(name string) bool {
	st, ok := m.Status(name)
	if !ok || st.Stopped {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.triggered = append(m.triggered, name)
	return true
}

var lastPoll = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testStatuses() []model.FeedStatus {
	return []model.FeedStatus{
		{
			Name:      "alpha",
			URL:       "https://alpha.example.com/rss",
			Room:      "#alpha:example.org",
			RoomID:    "!alpha:example.org",
			Phase:     "sleeping",
			Delivered: 3,
			Polls:     2,
			LastPoll:  lastPoll,
		},
		{
			Name:      "go blog",
			URL:       "https://go.dev/blog/feed.atom",
			Room:      "#go:example.org",
			Phase:     "stopped",
			LastError: "resolve room #go:example.org: not found",
			Stopped:   true,
		},
	}
}

func newTestServer(statuses []model.FeedStatus) (*Server, *mockController) {
	ctrl := &mockController{statuses: statuses}
	return New(ctrl, slog.New(slog.NewTextHandler(io.Discard, nil))), ctrl
}

func do(t *testing.T, s *Server, method, target string) (int, []byte) {
	t.Helper()
	resp, err := s.App().Test(httptest.NewRequest(method, target, nil), -1)
	if err != nil {
		t.Fatalf("%s %s: %v", method, target, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, body
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name     string
		statuses []model.FeedStatus
		code     int
		want     healthResponse
	}{
		{
			name:     "some feeds running",
			statuses: testStatuses(),
			code:     http.StatusOK,
			want:     healthResponse{Status: "ok", Feeds: 2, Stopped: 1},
		},
		{
			name:     "every feed stopped",
			statuses: testStatuses()[1:],
			code:     http.StatusServiceUnavailable,
			want:     healthResponse{Status: "degraded", Feeds: 1, Stopped: 1},
		},
		{
			name: "no feeds",
			code: http.StatusOK,
			want: healthResponse{Status: "ok"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestServer(tt.statuses)
			code, body := do(t, s, http.MethodGet, "/healthz")
			if code != tt.code {
				t.Errorf("status code = %d, want %d", code, tt.code)
			}
			var got healthResponse
			if err := json.Unmarshal(body, &got); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("healthz mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestListFeeds(t *testing.T) {
	s, _ := newTestServer(testStatuses())
	code, body := do(t, s, http.MethodGet, "/feeds")
	if code != http.StatusOK {
		t.Fatalf("status code = %d, want 200", code)
	}
	var got []model.FeedStatus
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if diff := cmp.Diff(testStatuses(), got); diff != "" {
		t.Errorf("GET /feeds mismatch (-want +got):\n%s", diff)
	}
}

func TestGetFeed(t *testing.T) {
	tests := []struct {
		name   string
		target string
		code   int
		want   string
	}{
		{name: "known feed", target: "/feeds/alpha", code: http.StatusOK, want: "alpha"},
		{name: "escaped name", target: "/feeds/go%20blog", code: http.StatusOK, want: "go blog"},
		{name: "unknown feed", target: "/feeds/gamma", code: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestServer(testStatuses())
			code, body := do(t, s, http.MethodGet, tt.target)
			if code != tt.code {
				t.Fatalf("status code = %d, want %d: %s", code, tt.code, body)
			}
			if tt.want == "" {
				return
			}
			var got model.FeedStatus
			if err := json.Unmarshal(body, &got); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if got.Name != tt.want {
				t.Errorf("feed name = %q, want %q", got.Name, tt.want)
			}
		})
	}
}

func TestCheckFeed(t *testing.T) {
	tests := []struct {
		name          string
		target        string
		code          int
		wantTriggered []string
	}{
		{name: "running feed", target: "/feeds/alpha/check", code: http.StatusAccepted, wantTriggered: []string{"alpha"}},
		{name: "stopped feed", target: "/feeds/go%20blog/check", code: http.StatusConflict},
		{name: "unknown feed", target: "/feeds/gamma/check", code: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, ctrl := newTestServer(testStatuses())
			code, body := do(t, s, http.MethodPost, tt.target)
			if code != tt.code {
				t.Fatalf("status code = %d, want %d: %s", code, tt.code, body)
			}
			if diff := cmp.Diff(tt.wantTriggered, ctrl.triggered); diff != "" {
				t.Errorf("triggered feeds mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestCheckRequiresPost(t *testing.T) {
	s, ctrl := newTestServer(testStatuses())
	code, _ := do(t, s, http.MethodGet, "/feeds/alpha/check")
	if code != http.StatusNotFound && code != http.StatusMethodNotAllowed {
		t.Errorf("status code = %d, want 404 or 405", code)
	}
	if len(ctrl.triggered) != 0 {
		t.Errorf("GET triggered a poll: %v", ctrl.triggered)
	}
}
