package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"ballarena/server/internal/input"
	"ballarena/server/internal/logging"
	"ballarena/server/internal/networking"
	"ballarena/server/internal/replay"
)

// ReadinessProvider exposes server state required for readiness checks.
type ReadinessProvider interface {
	ClientCounts() (clients, pending int)
	StartupError() error
	Uptime() time.Duration
}

// ArenaStats is the gameplay and delivery view exported on /metrics.
type ArenaStats struct {
	Status          string
	Tick            uint64
	Players         int
	Dots            int
	Broadcasts      uint64
	DecodeErrors    uint64
	Rejected        uint64
	Overflows       uint64
	Kicks           uint64
	TickAverage     time.Duration
	TickMax         time.Duration
	TickOverruns    int
	SkippedSteps    uint64
	Spectators      int
	SpectatorFrames uint64
	SpectatorDrops  uint64
}

// StatsFunc returns the current arena statistics.
type StatsFunc func() ArenaStats

// ReplayDumper rolls the active replay bundle and returns the sealed location.
type ReplayDumper interface {
	DumpReplay(ctx context.Context) (string, error)
}

// ReplayDumperFunc adapts a function into a ReplayDumper.
type ReplayDumperFunc func(ctx context.Context) (string, error)

// DumpReplay implements ReplayDumper.
func (f ReplayDumperFunc) DumpReplay(ctx context.Context) (string, error) { return f(ctx) }

// RateLimiter gates how frequently sensitive operations may be invoked.
type RateLimiter interface {
	Allow() bool
}

// Options configures the HandlerSet.
type Options struct {
	Logger      *logging.Logger
	Readiness   ReadinessProvider
	Stats       StatsFunc
	Snapshots   *networking.SnapshotMetrics
	Replay      ReplayDumper
	AdminToken  string
	RateLimiter RateLimiter
	TimeSource  func() time.Time
	ReplayStats func() replay.Stats
	Storage     func() replay.StorageStats
	Validation  func() map[input.ValidationReason]uint64
}

// HandlerSet bundles the arena operational handlers.
type HandlerSet struct {
	logger      *logging.Logger
	readiness   ReadinessProvider
	stats       StatsFunc
	snapshots   *networking.SnapshotMetrics
	replay      ReplayDumper
	adminToken  string
	rateLimiter RateLimiter
	now         func() time.Time
	replayStats func() replay.Stats
	storage     func() replay.StorageStats
	validation  func() map[input.ValidationReason]uint64
}

// NewHandlerSet constructs a HandlerSet using the provided options.
func NewHandlerSet(opts Options) *HandlerSet {
	logger := opts.Logger
	if logger == nil {
		logger = logging.L()
	}
	now := opts.TimeSource
	if now == nil {
		now = time.Now
	}
	return &HandlerSet{
		logger:      logger,
		readiness:   opts.Readiness,
		stats:       opts.Stats,
		snapshots:   opts.Snapshots,
		replay:      opts.Replay,
		adminToken:  strings.TrimSpace(opts.AdminToken),
		rateLimiter: opts.RateLimiter,
		now:         now,
		replayStats: opts.ReplayStats,
		storage:     opts.Storage,
		validation:  opts.Validation,
	}
}

// Register attaches all handlers to the provided mux.
func (h *HandlerSet) Register(mux *http.ServeMux) {
	if mux == nil {
		return
	}
	mux.HandleFunc("/livez", h.LivenessHandler())
	mux.HandleFunc("/readyz", h.ReadinessHandler())
	mux.HandleFunc("/metrics", h.MetricsHandler())
	mux.HandleFunc("/replay/dump", h.ReplayDumpHandler())
}

// LivenessHandler reports that the HTTP server is reachable.
func (h *HandlerSet) LivenessHandler() http.HandlerFunc {
	type response struct {
		Status    string `json:"status"`
		Timestamp string `json:"timestamp"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, response{
			Status:    "alive",
			Timestamp: h.now().UTC().Format(time.RFC3339Nano),
		})
	}
}

// ReadinessHandler reports readiness, including client counts, arena status and startup errors.
func (h *HandlerSet) ReadinessHandler() http.HandlerFunc {
	type response struct {
		Status         string  `json:"status"`
		Message        string  `json:"message,omitempty"`
		UptimeSeconds  float64 `json:"uptime_seconds"`
		Clients        int     `json:"clients"`
		PendingClients int     `json:"pending_clients"`
		ArenaStatus    string  `json:"arena_status,omitempty"`
		Tick           uint64  `json:"tick"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		resp := response{Status: "ok"}
		if h.stats != nil {
			stats := h.stats()
			resp.ArenaStatus = stats.Status
			resp.Tick = stats.Tick
		}
		if h.readiness != nil {
			clients, pending := h.readiness.ClientCounts()
			resp.Clients = clients
			resp.PendingClients = pending
			resp.UptimeSeconds = h.readiness.Uptime().Seconds()
			if err := h.readiness.StartupError(); err != nil {
				status = http.StatusServiceUnavailable
				resp.Status = "error"
				resp.Message = err.Error()
			}
		}
		writeJSON(w, status, resp)
	}
}

// MetricsHandler emits Prometheus compatible text metrics.
func (h *HandlerSet) MetricsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")

		clients, pending, uptime := h.clientsAndUptime()
		metric(w, "arena_uptime_seconds", "gauge", "Server uptime in seconds.", fmt.Sprintf("%.0f", uptime))
		metric(w, "arena_clients", "gauge", "Current admitted sessions.", clients)
		metric(w, "arena_pending_clients", "gauge", "Pending WebSocket handshakes awaiting upgrade.", pending)

		if h.stats != nil {
			stats := h.stats()
			metric(w, "arena_tick", "counter", "Simulation steps completed.", stats.Tick)
			metric(w, "arena_players", "gauge", "Players currently in the arena.", stats.Players)
			metric(w, "arena_dots", "gauge", "Food dots currently in the arena.", stats.Dots)
			metric(w, "arena_playing", "gauge", "Whether the arena left the waiting state.", boolGauge(stats.Status == "Playing"))
			metric(w, "arena_broadcasts_total", "counter", "Snapshots broadcast to sessions.", stats.Broadcasts)
			metric(w, "arena_decode_errors_total", "counter", "Inbound frames dropped because they could not be decoded.", stats.DecodeErrors)
			metric(w, "arena_rejected_frames_total", "counter", "Inbound frames rejected by shape checks.", stats.Rejected)
			metric(w, "arena_queue_overflows_total", "counter", "Broadcasts that found a full session queue.", stats.Overflows)
			metric(w, "arena_kicks_total", "counter", "Sessions closed by the server.", stats.Kicks)
			metric(w, "arena_tick_duration_avg_seconds", "gauge", "Average tick duration.", fmt.Sprintf("%.6f", stats.TickAverage.Seconds()))
			metric(w, "arena_tick_duration_max_seconds", "gauge", "Slowest tick duration.", fmt.Sprintf("%.6f", stats.TickMax.Seconds()))
			metric(w, "arena_tick_overruns_total", "counter", "Ticks slower than the tick interval.", stats.TickOverruns)
			metric(w, "arena_tick_skipped_total", "counter", "Steps dropped because the loop fell behind.", stats.SkippedSteps)
			metric(w, "arena_spectators", "gauge", "Connected spectator streams.", stats.Spectators)
			metric(w, "arena_spectator_frames_total", "counter", "Snapshots published to the spectator hub.", stats.SpectatorFrames)
			metric(w, "arena_spectator_drops_total", "counter", "Spectator frames dropped on full buffers.", stats.SpectatorDrops)
		}
		if h.snapshots != nil {
			metric(w, "arena_snapshot_bytes_total", "counter", "Snapshot payload bytes written to sessions.", h.snapshots.BytesSent())

			bytes := h.snapshots.BytesPerClient()
			ids := make([]uint64, 0, len(bytes))
			for id := range bytes {
				ids = append(ids, id)
			}
			sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
			header(w, "arena_snapshot_bytes_per_client", "gauge", "Last snapshot payload size per session in bytes.")
			for _, id := range ids {
				fmt.Fprintf(w, "arena_snapshot_bytes_per_client{player=\"%d\"} %d\n", id, bytes[id])
			}

			drops := h.snapshots.DropCounts()
			reasons := make([]string, 0, len(drops))
			for reason := range drops {
				reasons = append(reasons, reason)
			}
			sort.Strings(reasons)
			header(w, "arena_snapshot_drops_total", "counter", "Snapshots not delivered to a session, by reason.")
			for _, reason := range reasons {
				fmt.Fprintf(w, "arena_snapshot_drops_total{reason=%q} %d\n", reason, drops[reason])
			}
		}
		if h.replayStats != nil {
			stats := h.replayStats()
			metric(w, "arena_replay_frames_total", "counter", "Frames written to replay bundles.", stats.Frames)
			metric(w, "arena_replay_events_total", "counter", "Events written to replay bundles.", stats.Events)
			metric(w, "arena_replay_frame_bytes_total", "counter", "Uncompressed frame bytes written to replay bundles.", stats.FrameBytes)
			metric(w, "arena_replay_rolls_total", "counter", "Replay bundles sealed by dumps.", stats.Rolls)
		}
		if h.storage != nil {
			stats := h.storage()
			metric(w, "arena_replay_bundles", "gauge", "Replay bundles on disk after the last sweep.", stats.Bundles)
			metric(w, "arena_replay_disk_bytes", "gauge", "Replay bytes on disk after the last sweep.", stats.Bytes)
			metric(w, "arena_replay_pruned_total", "counter", "Replay bundles removed by retention.", stats.Removed)
		}
		if h.validation != nil {
			counts := h.validation()
			reasons := make([]string, 0, len(counts))
			for reason := range counts {
				reasons = append(reasons, string(reason))
			}
			sort.Strings(reasons)
			header(w, "arena_input_validations_total", "counter", "Inbound frames rejected or rewritten by shape checks, by reason.")
			for _, reason := range reasons {
				fmt.Fprintf(w, "arena_input_validations_total{reason=%q} %d\n", reason, counts[input.ValidationReason(reason)])
			}
		}
	}
}

// ReplayDumpHandler authorises and triggers replay dump creation.
func (h *HandlerSet) ReplayDumpHandler() http.HandlerFunc {
	type response struct {
		Status   string `json:"status"`
		Location string `json:"location,omitempty"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		reqLogger := h.logger.With(
			logging.String("handler", "replay_dump"),
			logging.String("remote_addr", r.RemoteAddr),
		)
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if h.adminToken == "" {
			reqLogger.Warn("replay dump denied: admin auth disabled")
			http.Error(w, "admin authentication not configured", http.StatusForbidden)
			return
		}
		if !h.authorise(r) {
			reqLogger.Warn("replay dump denied: unauthorized request")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if h.rateLimiter != nil && !h.rateLimiter.Allow() {
			reqLogger.Warn("replay dump denied: rate limit exceeded")
			if waiter, ok := h.rateLimiter.(interface{ RetryAfter() time.Duration }); ok {
				if wait := waiter.RetryAfter(); wait > 0 {
					w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
				}
			}
			http.Error(w, "too many requests", http.StatusTooManyRequests)
			return
		}
		if h.replay == nil {
			reqLogger.Warn("replay dump denied: recording disabled")
			http.Error(w, "replay recording is disabled", http.StatusServiceUnavailable)
			return
		}
		location, err := h.replay.DumpReplay(r.Context())
		if err != nil {
			reqLogger.Error("replay dump failed", logging.Error(err))
			http.Error(w, "failed to dump replay", http.StatusInternalServerError)
			return
		}
		reqLogger.Info("replay dump sealed", logging.String("location", location))
		writeJSON(w, http.StatusAccepted, response{Status: "accepted", Location: location})
	}
}

func (h *HandlerSet) clientsAndUptime() (clients, pending int, uptime float64) {
	if h.readiness == nil {
		return 0, 0, 0
	}
	clients, pending = h.readiness.ClientCounts()
	return clients, pending, h.readiness.Uptime().Seconds()
}

func (h *HandlerSet) authorise(r *http.Request) bool {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	var token string
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		token = strings.TrimSpace(header[7:])
	} else if header != "" {
		token = header
	}
	if token == "" {
		token = strings.TrimSpace(r.Header.Get("X-Admin-Token"))
	}
	if token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.adminToken)) == 1
}

func header(w io.Writer, name, kind, help string) {
	fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	fmt.Fprintf(w, "# TYPE %s %s\n", name, kind)
}

func metric(w io.Writer, name, kind, help string, value any) {
	header(w, name, kind, help)
	fmt.Fprintf(w, "%s %v\n", name, value)
}

func boolGauge(v bool) int {
	if v {
		return 1
	}
	return 0
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(payload)
}
