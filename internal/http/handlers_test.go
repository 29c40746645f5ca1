package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"ballarena/server/internal/input"
	"ballarena/server/internal/logging"
	"ballarena/server/internal/networking"
	"ballarena/server/internal/replay"
)

type stubReadiness struct {
	clients int
	pending int
	uptime  time.Duration
	err     error
}

func (s *stubReadiness) ClientCounts() (int, int) { return s.clients, s.pending }
func (s *stubReadiness) StartupError() error      { return s.err }
func (s *stubReadiness) Uptime() time.Duration    { return s.uptime }

type stubLimiter struct {
	remaining int
}

func (s *stubLimiter) Allow() bool {
	if s.remaining <= 0 {
		return false
	}
	s.remaining--
	return true
}

type stubDumper struct {
	location string
	err      error
	calls    int
}

func (s *stubDumper) DumpReplay(ctx context.Context) (string, error) {
	s.calls++
	return s.location, s.err
}

func TestLivenessHandlerReturnsJSON(t *testing.T) {
	fixed := time.Date(2024, time.January, 2, 15, 4, 5, 0, time.UTC)
	handlers := NewHandlerSet(Options{Logger: logging.NewTestLogger(), TimeSource: func() time.Time { return fixed }})
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/livez", nil)

	handlers.LivenessHandler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var payload struct {
		Status    string `json:"status"`
		Timestamp string `json:"timestamp"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Status != "alive" {
		t.Fatalf("unexpected status %q", payload.Status)
	}
	if payload.Timestamp != fixed.Format(time.RFC3339Nano) {
		t.Fatalf("unexpected timestamp %q", payload.Timestamp)
	}
}

func TestReadinessHandlerUnavailable(t *testing.T) {
	readiness := &stubReadiness{clients: 3, pending: 1, uptime: 45 * time.Second, err: errors.New("boom")}
	handlers := NewHandlerSet(Options{Logger: logging.NewTestLogger(), Readiness: readiness})

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	handlers.ReadinessHandler().ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	var payload struct {
		Status         string  `json:"status"`
		Message        string  `json:"message"`
		UptimeSeconds  float64 `json:"uptime_seconds"`
		Clients        int     `json:"clients"`
		PendingClients int     `json:"pending_clients"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Status != "error" || payload.Message != "boom" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
	if payload.Clients != 3 || payload.PendingClients != 1 {
		t.Fatalf("unexpected client counts: %+v", payload)
	}
	if payload.UptimeSeconds != readiness.uptime.Seconds() {
		t.Fatalf("unexpected uptime: got %f want %f", payload.UptimeSeconds, readiness.uptime.Seconds())
	}
}

func TestReadinessHandlerReportsArenaStatus(t *testing.T) {
	readiness := &stubReadiness{clients: 1}
	handlers := NewHandlerSet(Options{
		Logger:    logging.NewTestLogger(),
		Readiness: readiness,
		Stats:     func() ArenaStats { return ArenaStats{Status: "Playing", Tick: 42} },
	})

	rr := httptest.NewRecorder()
	handlers.ReadinessHandler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var payload struct {
		Status      string `json:"status"`
		ArenaStatus string `json:"arena_status"`
		Tick        uint64 `json:"tick"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Status != "ok" || payload.ArenaStatus != "Playing" || payload.Tick != 42 {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestMetricsHandlerOutputsPrometheusFormat(t *testing.T) {
	readiness := &stubReadiness{clients: 2, pending: 1, uptime: 90 * time.Second}
	snapshots := networking.NewSnapshotMetrics()
	snapshots.Observe(7, 512)
	snapshots.Drop(networking.DropReasonQueueFull)
	handlers := NewHandlerSet(Options{
		Logger:    logging.NewTestLogger(),
		Readiness: readiness,
		Snapshots: snapshots,
		Stats: func() ArenaStats {
			return ArenaStats{Status: "Playing", Tick: 120, Players: 2, Dots: 150, Broadcasts: 4, Overflows: 1, TickAverage: 2 * time.Millisecond, SpectatorFrames: 6}
		},
		ReplayStats: func() replay.Stats { return replay.Stats{Frames: 9, Events: 3, Rolls: 1} },
		Storage:     func() replay.StorageStats { return replay.StorageStats{Bundles: 3, Bytes: 4096, Removed: 2} },
		Validation: func() map[input.ValidationReason]uint64 {
			return map[input.ValidationReason]uint64{input.ValidationReasonZeroDirection: 5, input.ValidationReasonNameTrimmed: 1}
		},
	})

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	handlers.MetricsHandler().ServeHTTP(rr, req)

	if got := rr.Header().Get("Content-Type"); got != "text/plain; version=0.0.4" {
		t.Fatalf("unexpected content type %q", got)
	}
	body := rr.Body.String()
	for _, substr := range []string{
		"arena_broadcasts_total 4",
		"arena_clients 2",
		"arena_pending_clients 1",
		"arena_uptime_seconds 90",
		"arena_tick 120",
		"arena_players 2",
		"arena_dots 150",
		"arena_playing 1",
		"arena_queue_overflows_total 1",
		"arena_tick_duration_avg_seconds 0.002000",
		`arena_snapshot_bytes_per_client{player="7"} 512`,
		`arena_snapshot_drops_total{reason="queue_full"} 1`,
		"arena_snapshot_bytes_total 512",
		"arena_replay_frames_total 9",
		"arena_replay_rolls_total 1",
		"arena_spectator_frames_total 6",
		"arena_replay_bundles 3",
		"arena_replay_disk_bytes 4096",
		"arena_replay_pruned_total 2",
		`arena_input_validations_total{reason="zero_direction"} 5`,
		`arena_input_validations_total{reason="name_trimmed"} 1`,
	} {
		if !strings.Contains(body, substr) {
			t.Fatalf("metrics missing %q:\n%s", substr, body)
		}
	}
}

func TestReplayDumpHandlerAuthAndRateLimits(t *testing.T) {
	dumper := &stubDumper{location: "/tmp/latest"}
	limiter := &stubLimiter{remaining: 1}
	handlers := NewHandlerSet(Options{
		Logger:      logging.NewTestLogger(),
		Replay:      dumper,
		AdminToken:  "topsecret",
		RateLimiter: limiter,
	})

	makeRequest := func(token string) *httptest.ResponseRecorder {
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/replay/dump", nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		handlers.ReplayDumpHandler().ServeHTTP(rr, req)
		return rr
	}

	if resp := makeRequest(""); resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected unauthorized for missing token, got %d", resp.Code)
	}

	if resp := makeRequest("topsecret"); resp.Code != http.StatusAccepted {
		t.Fatalf("expected 202 for authorised request, got %d", resp.Code)
	}
	if dumper.calls != 1 {
		t.Fatalf("expected dumper invoked once, got %d", dumper.calls)
	}

	if resp := makeRequest("topsecret"); resp.Code != http.StatusTooManyRequests {
		t.Fatalf("expected rate limit, got %d", resp.Code)
	}
}

func TestReplayDumpHandlerAdvertisesRetryAfter(t *testing.T) {
	now := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	handlers := NewHandlerSet(Options{
		Logger:      logging.NewTestLogger(),
		Replay:      &stubDumper{location: "/tmp/latest"},
		AdminToken:  "topsecret",
		RateLimiter: NewSlidingWindowLimiter(time.Minute, 1, func() time.Time { return now }),
	})
	dump := func() *httptest.ResponseRecorder {
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/replay/dump", nil)
		req.Header.Set("X-Admin-Token", "topsecret")
		handlers.ReplayDumpHandler().ServeHTTP(rr, req)
		return rr
	}

	if resp := dump(); resp.Code != http.StatusAccepted {
		t.Fatalf("expected first dump accepted, got %d", resp.Code)
	}
	now = now.Add(15500 * time.Millisecond)
	resp := dump()
	if resp.Code != http.StatusTooManyRequests {
		t.Fatalf("expected rate limit, got %d", resp.Code)
	}
	if got := resp.Header().Get("Retry-After"); got != "45" {
		t.Fatalf("expected Retry-After 45, got %q", got)
	}
}

func TestReplayDumpHandlerRejectsWrongMethodAndDisabledAuth(t *testing.T) {
	handlers := NewHandlerSet(Options{Logger: logging.NewTestLogger(), Replay: &stubDumper{}})

	rr := httptest.NewRecorder()
	handlers.ReplayDumpHandler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/replay/dump", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	handlers.ReplayDumpHandler().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/replay/dump", nil))
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without a configured token, got %d", rr.Code)
	}
}

func TestReplayDumpHandlerAcceptsAdminHeaderAndReportsFailures(t *testing.T) {
	dumper := &stubDumper{err: errors.New("disk full")}
	handlers := NewHandlerSet(Options{Logger: logging.NewTestLogger(), Replay: dumper, AdminToken: "topsecret"})

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/replay/dump", nil)
	req.Header.Set("X-Admin-Token", "topsecret")
	handlers.ReplayDumpHandler().ServeHTTP(rr, req)

	if rr.Code != http.StatusInternalServerError || dumper.calls != 1 {
		t.Fatalf("expected 500 after one call, got %d/%d", rr.Code, dumper.calls)
	}

	rr = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/replay/dump", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	handlers.ReplayDumpHandler().ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a wrong token, got %d", rr.Code)
	}
}
