package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"ballarena/server/internal/world"
)

const (
	// DefaultAddr is the default TCP address for HTTP and WebSocket traffic.
	DefaultAddr = ":8000"
	// DefaultPingInterval controls the keepalive cadence for WebSocket connections.
	DefaultPingInterval = 30 * time.Second
	// DefaultWriteTimeout bounds a single outbound frame write.
	DefaultWriteTimeout = 10 * time.Second
	// DefaultMaxPayloadBytes limits inbound WebSocket frame size; client frames are tiny.
	DefaultMaxPayloadBytes int64 = 4096
	// DefaultMaxClients bounds concurrent sessions. Zero disables the limit.
	DefaultMaxClients = 128
	// DefaultOutboundQueue is the per-session outbound queue depth.
	DefaultOutboundQueue = 64
	// DefaultOverflowPolicy decides what happens when a session queue is full.
	DefaultOverflowPolicy = OverflowDisconnect

	// DefaultReplayDumpWindow bounds how frequently replay dumps may be requested.
	DefaultReplayDumpWindow = time.Minute
	// DefaultReplayDumpBurst sets how many replay dumps may be made per window.
	DefaultReplayDumpBurst = 1

	// DefaultTickInterval is the fixed simulation cadence.
	DefaultTickInterval = 50 * time.Millisecond
	// DefaultWorldSize is the edge length of the square arena.
	DefaultWorldSize = 2000.0
	// DefaultDotCount is the food population created at start-up.
	DefaultDotCount = 150
	// DefaultDotReplenish keeps the food population constant.
	DefaultDotReplenish = true
	// DefaultCollideFraction is the radius ratio required to consume another player.
	DefaultCollideFraction = 1.1
	// DefaultBaseSpeed is the speed of a player with zero score.
	DefaultBaseSpeed = 150.0
	// DefaultBaseRadius is the radius of a player with zero score.
	DefaultBaseRadius = 10.0
	// DefaultDotRadius is the radius of the smallest dot tier.
	DefaultDotRadius = 4.0
	// DefaultConsumePolicy removes consumed players.
	DefaultConsumePolicy = ConsumeRemove

	// DefaultReplayMaxBundles caps retained replay bundles.
	DefaultReplayMaxBundles = 20
	// DefaultReplayMaxAge caps how long replay bundles stay on disk.
	DefaultReplayMaxAge = 7 * 24 * time.Hour
	// DefaultReplaySweepInterval controls retention sweep cadence.
	DefaultReplaySweepInterval = time.Hour

	// DefaultGRPCEncoding is the spectator stream compression when a client does not ask.
	DefaultGRPCEncoding = "zstd"

	// DefaultLogLevel controls verbosity.
	DefaultLogLevel = "info"
	// DefaultLogPath is where structured logs are written.
	DefaultLogPath = "arena.log"
	// DefaultLogMaxSizeMB caps the size of a single log file before rotation.
	DefaultLogMaxSizeMB = 100
	// DefaultLogMaxBackups limits retained rotated log files.
	DefaultLogMaxBackups = 10
	// DefaultLogMaxAgeDays controls how long rotated log files are kept.
	DefaultLogMaxAgeDays = 7
	// DefaultLogCompress toggles gzip compression for rotated log files.
	DefaultLogCompress = true
)

// Overflow policies for full session queues.
const (
	OverflowDisconnect = "disconnect"
	OverflowDrop       = "drop"
)

// Consume policies for players swallowed by a larger player.
const (
	ConsumeRemove  = "remove"
	ConsumeRespawn = "respawn"
)

// GRPCAuthMode enumerates the spectator stream authentication strategies.
type GRPCAuthMode string

const (
	GRPCAuthModeNone         GRPCAuthMode = "none"
	GRPCAuthModeSharedSecret GRPCAuthMode = "shared_secret"
	GRPCAuthModeMTLS         GRPCAuthMode = "mtls"
)

// Config captures all runtime tunables for the arena server.
type Config struct {
	Address          string
	AllowedOrigins   []string
	MaxPayloadBytes  int64
	PingInterval     time.Duration
	WriteTimeout     time.Duration
	MaxClients       int
	OutboundQueue    int
	OverflowPolicy   string
	TLSCertPath      string
	TLSKeyPath       string
	AdminToken       string
	ReplayDumpWindow time.Duration
	ReplayDumpBurst  int
	StaticDir        string

	GRPCAddr           string
	GRPCAuthMode       GRPCAuthMode
	GRPCSharedSecret   string
	GRPCServerCertPath string
	GRPCServerKeyPath  string
	GRPCClientCAPath   string
	GRPCEncoding       string

	Game    GameConfig
	Replay  ReplayConfig
	Logging LoggingConfig
}

// GameConfig holds simulation tuning.
type GameConfig struct {
	TickInterval    time.Duration
	WorldSize       float64
	DotCount        int
	DotReplenish    bool
	CollideFraction float64
	BaseSpeed       float64
	BaseRadius      float64
	DotRadius       float64
	ConsumePolicy   string
	Seed            int64
}

// Constants derives the values sent to clients in Welcome.
func (g GameConfig) Constants() world.Constants {
	return world.Constants{
		TickIntervalMs:      g.TickInterval.Milliseconds(),
		CollideSizeFraction: g.CollideFraction,
		MoveSpeedBase:       g.BaseSpeed,
		DotRadius:           g.DotRadius,
		PlayerRadius:        g.BaseRadius,
		WorldSize:           g.WorldSize,
	}
}

// ReplayConfig controls replay recording and retention.
type ReplayConfig struct {
	Dir           string
	MaxBundles    int
	MaxAge        time.Duration
	SweepInterval time.Duration
}

// Enabled reports whether replay recording was requested.
func (r ReplayConfig) Enabled() bool { return r.Dir != "" }

// LoggingConfig captures structured logging configuration options.
type LoggingConfig struct {
	Level      string
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Load reads the arena configuration from the environment, applying defaults
// and returning every invalid override in a single error.
//
// A dotenv file named by ARENA_ENV_FILE, or ./.env when present, is loaded
// first. Variables already set in the environment take precedence.
func Load() (*Config, error) {
	p := &parser{}
	p.loadEnvFile()

	cfg := &Config{
		Address:          getString("ARENA_ADDR", DefaultAddr),
		AllowedOrigins:   parseList(os.Getenv("ARENA_ALLOWED_ORIGINS")),
		MaxPayloadBytes:  DefaultMaxPayloadBytes,
		PingInterval:     DefaultPingInterval,
		WriteTimeout:     DefaultWriteTimeout,
		MaxClients:       DefaultMaxClients,
		OutboundQueue:    DefaultOutboundQueue,
		OverflowPolicy:   strings.ToLower(getString("ARENA_OVERFLOW_POLICY", DefaultOverflowPolicy)),
		TLSCertPath:      strings.TrimSpace(os.Getenv("ARENA_TLS_CERT")),
		TLSKeyPath:       strings.TrimSpace(os.Getenv("ARENA_TLS_KEY")),
		AdminToken:       strings.TrimSpace(os.Getenv("ARENA_ADMIN_TOKEN")),
		ReplayDumpWindow: DefaultReplayDumpWindow,
		ReplayDumpBurst:  DefaultReplayDumpBurst,
		StaticDir:        strings.TrimSpace(os.Getenv("ARENA_STATIC_DIR")),

		GRPCAddr:           strings.TrimSpace(os.Getenv("ARENA_GRPC_ADDR")),
		GRPCAuthMode:       GRPCAuthMode(strings.ToLower(getString("ARENA_GRPC_AUTH_MODE", string(GRPCAuthModeSharedSecret)))),
		GRPCSharedSecret:   strings.TrimSpace(os.Getenv("ARENA_GRPC_SHARED_SECRET")),
		GRPCServerCertPath: strings.TrimSpace(os.Getenv("ARENA_GRPC_SERVER_CERT")),
		GRPCServerKeyPath:  strings.TrimSpace(os.Getenv("ARENA_GRPC_SERVER_KEY")),
		GRPCClientCAPath:   strings.TrimSpace(os.Getenv("ARENA_GRPC_CLIENT_CA")),
		GRPCEncoding:       strings.ToLower(getString("ARENA_GRPC_ENCODING", DefaultGRPCEncoding)),

		Game: GameConfig{
			TickInterval:    DefaultTickInterval,
			WorldSize:       DefaultWorldSize,
			DotCount:        DefaultDotCount,
			DotReplenish:    DefaultDotReplenish,
			CollideFraction: DefaultCollideFraction,
			BaseSpeed:       DefaultBaseSpeed,
			BaseRadius:      DefaultBaseRadius,
			DotRadius:       DefaultDotRadius,
			ConsumePolicy:   strings.ToLower(getString("ARENA_CONSUME_POLICY", DefaultConsumePolicy)),
		},
		Replay: ReplayConfig{
			Dir:           strings.TrimSpace(os.Getenv("ARENA_REPLAY_DIR")),
			MaxBundles:    DefaultReplayMaxBundles,
			MaxAge:        DefaultReplayMaxAge,
			SweepInterval: DefaultReplaySweepInterval,
		},
		Logging: LoggingConfig{
			Level:      strings.TrimSpace(getString("ARENA_LOG_LEVEL", DefaultLogLevel)),
			Path:       strings.TrimSpace(getString("ARENA_LOG_PATH", DefaultLogPath)),
			MaxSizeMB:  DefaultLogMaxSizeMB,
			MaxBackups: DefaultLogMaxBackups,
			MaxAgeDays: DefaultLogMaxAgeDays,
			Compress:   DefaultLogCompress,
		},
	}

	//1.- Transport and operational overrides.
	p.int64("ARENA_MAX_PAYLOAD_BYTES", positive, &cfg.MaxPayloadBytes)
	p.duration("ARENA_PING_INTERVAL", &cfg.PingInterval)
	p.duration("ARENA_WRITE_TIMEOUT", &cfg.WriteTimeout)
	p.int("ARENA_MAX_CLIENTS", nonNegative, &cfg.MaxClients)
	p.int("ARENA_OUTBOUND_QUEUE", positive, &cfg.OutboundQueue)
	p.duration("ARENA_REPLAY_DUMP_WINDOW", &cfg.ReplayDumpWindow)
	p.int("ARENA_REPLAY_DUMP_BURST", positive, &cfg.ReplayDumpBurst)

	//2.- Simulation tuning.
	p.duration("ARENA_TICK_INTERVAL", &cfg.Game.TickInterval)
	p.float("ARENA_WORLD_SIZE", &cfg.Game.WorldSize)
	p.int("ARENA_DOT_COUNT", nonNegative, &cfg.Game.DotCount)
	p.bool("ARENA_DOT_REPLENISH", &cfg.Game.DotReplenish)
	p.float("ARENA_COLLIDE_FRACTION", &cfg.Game.CollideFraction)
	p.float("ARENA_BASE_SPEED", &cfg.Game.BaseSpeed)
	p.float("ARENA_BASE_RADIUS", &cfg.Game.BaseRadius)
	p.float("ARENA_DOT_RADIUS", &cfg.Game.DotRadius)
	p.seed("ARENA_SEED", &cfg.Game.Seed)

	//3.- Replay retention.
	p.int("ARENA_REPLAY_MAX_BUNDLES", nonNegative, &cfg.Replay.MaxBundles)
	p.duration("ARENA_REPLAY_MAX_AGE", &cfg.Replay.MaxAge)
	p.duration("ARENA_REPLAY_SWEEP_INTERVAL", &cfg.Replay.SweepInterval)

	//4.- Logging.
	p.int("ARENA_LOG_MAX_SIZE_MB", positive, &cfg.Logging.MaxSizeMB)
	p.int("ARENA_LOG_MAX_BACKUPS", nonNegative, &cfg.Logging.MaxBackups)
	p.int("ARENA_LOG_MAX_AGE_DAYS", nonNegative, &cfg.Logging.MaxAgeDays)
	p.bool("ARENA_LOG_COMPRESS", &cfg.Logging.Compress)

	//5.- Cross-field rules.
	if (cfg.TLSCertPath == "") != (cfg.TLSKeyPath == "") {
		p.problem("ARENA_TLS_CERT and ARENA_TLS_KEY must be provided together")
	}
	if cfg.Game.TickInterval < time.Millisecond {
		p.problem(fmt.Sprintf("ARENA_TICK_INTERVAL must be at least 1ms, got %s", cfg.Game.TickInterval))
	}
	if cfg.Game.CollideFraction < 1 {
		p.problem(fmt.Sprintf("ARENA_COLLIDE_FRACTION must be at least 1, got %g", cfg.Game.CollideFraction))
	}
	if cfg.Game.BaseRadius*2 >= cfg.Game.WorldSize {
		p.problem("ARENA_BASE_RADIUS must be smaller than half of ARENA_WORLD_SIZE")
	}
	switch cfg.OverflowPolicy {
	case OverflowDisconnect, OverflowDrop:
	default:
		p.problem(fmt.Sprintf("ARENA_OVERFLOW_POLICY must be %q or %q, got %q", OverflowDisconnect, OverflowDrop, cfg.OverflowPolicy))
	}
	switch cfg.Game.ConsumePolicy {
	case ConsumeRemove, ConsumeRespawn:
	default:
		p.problem(fmt.Sprintf("ARENA_CONSUME_POLICY must be %q or %q, got %q", ConsumeRemove, ConsumeRespawn, cfg.Game.ConsumePolicy))
	}
	switch cfg.GRPCEncoding {
	case "identity", "gzip", "zstd", "snappy":
	default:
		p.problem(fmt.Sprintf("ARENA_GRPC_ENCODING must be identity, gzip, zstd or snappy, got %q", cfg.GRPCEncoding))
	}
	if cfg.GRPCAddr != "" {
		switch cfg.GRPCAuthMode {
		case GRPCAuthModeNone:
		case GRPCAuthModeSharedSecret:
			if cfg.GRPCSharedSecret == "" {
				p.problem("ARENA_GRPC_SHARED_SECRET is required when ARENA_GRPC_AUTH_MODE=shared_secret")
			}
		case GRPCAuthModeMTLS:
			if cfg.GRPCServerCertPath == "" || cfg.GRPCServerKeyPath == "" || cfg.GRPCClientCAPath == "" {
				p.problem("ARENA_GRPC_SERVER_CERT, ARENA_GRPC_SERVER_KEY and ARENA_GRPC_CLIENT_CA are required when ARENA_GRPC_AUTH_MODE=mtls")
			}
		default:
			p.problem(fmt.Sprintf("ARENA_GRPC_AUTH_MODE must be none, shared_secret or mtls, got %q", cfg.GRPCAuthMode))
		}
	}

	if err := p.err(); err != nil {
		return nil, err
	}
	return cfg, nil
}

type parser struct {
	problems []string
}

func (p *parser) problem(msg string) {
	p.problems = append(p.problems, msg)
}

func (p *parser) err() error {
	if len(p.problems) == 0 {
		return nil
	}
	return errors.New(strings.Join(p.problems, "; "))
}

func (p *parser) loadEnvFile() {
	if path := strings.TrimSpace(os.Getenv("ARENA_ENV_FILE")); path != "" {
		if err := godotenv.Load(path); err != nil {
			p.problem(fmt.Sprintf("ARENA_ENV_FILE %q could not be loaded: %v", path, err))
		}
		return
	}
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			p.problem(fmt.Sprintf(".env could not be loaded: %v", err))
		}
	}
}

type bound int

const (
	positive bound = iota
	nonNegative
)

func (b bound) accepts(v int64) bool {
	if b == positive {
		return v > 0
	}
	return v >= 0
}

func (b bound) describe() string {
	if b == positive {
		return "a positive integer"
	}
	return "a non-negative integer"
}

func (p *parser) int(key string, b bound, dst *int) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return
	}
	value, err := strconv.Atoi(raw)
	if err != nil || !b.accepts(int64(value)) {
		p.problem(fmt.Sprintf("%s must be %s, got %q", key, b.describe(), raw))
		return
	}
	*dst = value
}

func (p *parser) int64(key string, b bound, dst *int64) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || !b.accepts(value) {
		p.problem(fmt.Sprintf("%s must be %s, got %q", key, b.describe(), raw))
		return
	}
	*dst = value
}

func (p *parser) seed(key string, dst *int64) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		p.problem(fmt.Sprintf("%s must be an integer, got %q", key, raw))
		return
	}
	*dst = value
}

func (p *parser) float(key string, dst *float64) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil || !(value > 0) || value > 1e9 {
		p.problem(fmt.Sprintf("%s must be a positive number, got %q", key, raw))
		return
	}
	*dst = value
}

func (p *parser) duration(key string, dst *time.Duration) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return
	}
	value, err := time.ParseDuration(raw)
	if err != nil || value <= 0 {
		p.problem(fmt.Sprintf("%s must be a positive duration, got %q", key, raw))
		return
	}
	*dst = value
}

func (p *parser) bool(key string, dst *bool) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		p.problem(fmt.Sprintf("%s must be a boolean value, got %q", key, raw))
		return
	}
	*dst = value
}

func getString(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func parseList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		if item := strings.TrimSpace(part); item != "" {
			values = append(values, item)
		}
	}
	return values
}
