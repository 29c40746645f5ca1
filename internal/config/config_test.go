package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Address != DefaultAddr {
		t.Fatalf("expected default address %q, got %q", DefaultAddr, cfg.Address)
	}
	if cfg.MaxPayloadBytes != DefaultMaxPayloadBytes {
		t.Fatalf("expected default payload %d, got %d", DefaultMaxPayloadBytes, cfg.MaxPayloadBytes)
	}
	if cfg.OutboundQueue != DefaultOutboundQueue || cfg.OverflowPolicy != OverflowDisconnect {
		t.Fatalf("unexpected queue defaults: %d %q", cfg.OutboundQueue, cfg.OverflowPolicy)
	}
	if cfg.Game.TickInterval != 50*time.Millisecond {
		t.Fatalf("expected 50ms tick, got %s", cfg.Game.TickInterval)
	}
	if cfg.Game.DotCount != DefaultDotCount || !cfg.Game.DotReplenish {
		t.Fatalf("unexpected dot defaults: %+v", cfg.Game)
	}
	if cfg.Game.ConsumePolicy != ConsumeRemove {
		t.Fatalf("expected remove policy, got %q", cfg.Game.ConsumePolicy)
	}
	if cfg.Replay.Enabled() {
		t.Fatal("expected replay recording to be disabled by default")
	}
	if cfg.GRPCAddr != "" || cfg.GRPCAuthMode != GRPCAuthModeSharedSecret {
		t.Fatalf("unexpected grpc defaults: addr=%q mode=%q", cfg.GRPCAddr, cfg.GRPCAuthMode)
	}
	if cfg.Logging.Path != DefaultLogPath || !cfg.Logging.Compress {
		t.Fatalf("unexpected logging defaults: %+v", cfg.Logging)
	}
}

func TestGameConstantsMatchClientDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	constants := cfg.Game.Constants()
	if constants.TickIntervalMs != 50 || constants.WorldSize != 2000 || constants.PlayerRadius != 10 {
		t.Fatalf("unexpected constants: %+v", constants)
	}
	if constants.CollideSizeFraction != 1.1 || constants.MoveSpeedBase != 150 || constants.DotRadius != 4 {
		t.Fatalf("unexpected constants: %+v", constants)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("ARENA_ADDR", "127.0.0.1:9000")
	t.Setenv("ARENA_ALLOWED_ORIGINS", " , ,https://ok.example, ")
	t.Setenv("ARENA_TICK_INTERVAL", "20ms")
	t.Setenv("ARENA_WORLD_SIZE", "500")
	t.Setenv("ARENA_DOT_REPLENISH", "false")
	t.Setenv("ARENA_CONSUME_POLICY", "RESPAWN")
	t.Setenv("ARENA_OVERFLOW_POLICY", "drop")
	t.Setenv("ARENA_SEED", "-42")
	t.Setenv("ARENA_REPLAY_DIR", "/tmp/replays")
	t.Setenv("ARENA_MAX_CLIENTS", "0")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.Address != "127.0.0.1:9000" {
		t.Fatalf("unexpected address %q", cfg.Address)
	}
	if len(cfg.AllowedOrigins) != 1 || cfg.AllowedOrigins[0] != "https://ok.example" {
		t.Fatalf("expected single cleaned origin, got %#v", cfg.AllowedOrigins)
	}
	if cfg.Game.TickInterval != 20*time.Millisecond || cfg.Game.Constants().TickIntervalMs != 20 {
		t.Fatalf("unexpected tick interval %s", cfg.Game.TickInterval)
	}
	if cfg.Game.WorldSize != 500 || cfg.Game.DotReplenish {
		t.Fatalf("unexpected game overrides %+v", cfg.Game)
	}
	if cfg.Game.ConsumePolicy != ConsumeRespawn || cfg.OverflowPolicy != OverflowDrop {
		t.Fatalf("unexpected policies consume=%q overflow=%q", cfg.Game.ConsumePolicy, cfg.OverflowPolicy)
	}
	if cfg.Game.Seed != -42 {
		t.Fatalf("expected seed -42, got %d", cfg.Game.Seed)
	}
	if !cfg.Replay.Enabled() || cfg.Replay.Dir != "/tmp/replays" {
		t.Fatalf("expected replay dir, got %+v", cfg.Replay)
	}
	if cfg.MaxClients != 0 {
		t.Fatalf("expected zero to disable limit, got %d", cfg.MaxClients)
	}
}

func TestLoadAccumulatesProblems(t *testing.T) {
	t.Setenv("ARENA_MAX_PAYLOAD_BYTES", "-1")
	t.Setenv("ARENA_PING_INTERVAL", "soon")
	t.Setenv("ARENA_MAX_CLIENTS", "-1")
	t.Setenv("ARENA_TLS_CERT", "/tmp/cert.pem")
	t.Setenv("ARENA_TLS_KEY", "")
	t.Setenv("ARENA_COLLIDE_FRACTION", "0.5")
	t.Setenv("ARENA_CONSUME_POLICY", "explode")
	t.Setenv("ARENA_DOT_REPLENISH", "maybe")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error from invalid configuration, got nil")
	}
	for _, want := range []string{
		"ARENA_MAX_PAYLOAD_BYTES",
		"ARENA_PING_INTERVAL",
		"ARENA_MAX_CLIENTS",
		"ARENA_TLS_CERT",
		"ARENA_COLLIDE_FRACTION",
		"ARENA_CONSUME_POLICY",
		"ARENA_DOT_REPLENISH",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected error to mention %s, got %q", want, err.Error())
		}
	}
}

func TestLoadRejectsOversizedPlayer(t *testing.T) {
	t.Setenv("ARENA_WORLD_SIZE", "15")

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "ARENA_BASE_RADIUS") {
		t.Fatalf("expected radius/world mismatch error, got %v", err)
	}
}

func TestLoadGRPCAuthRequirements(t *testing.T) {
	t.Run("shared secret required", func(t *testing.T) {
		t.Setenv("ARENA_GRPC_ADDR", ":9001")
		t.Setenv("ARENA_GRPC_SHARED_SECRET", "")
		_, err := Load()
		if err == nil || !strings.Contains(err.Error(), "ARENA_GRPC_SHARED_SECRET") {
			t.Fatalf("expected shared secret error, got %v", err)
		}
	})
	t.Run("mtls paths required", func(t *testing.T) {
		t.Setenv("ARENA_GRPC_ADDR", ":9001")
		t.Setenv("ARENA_GRPC_AUTH_MODE", "mtls")
		_, err := Load()
		if err == nil || !strings.Contains(err.Error(), "ARENA_GRPC_CLIENT_CA") {
			t.Fatalf("expected mtls error, got %v", err)
		}
	})
	t.Run("none accepted", func(t *testing.T) {
		t.Setenv("ARENA_GRPC_ADDR", ":9001")
		t.Setenv("ARENA_GRPC_AUTH_MODE", "none")
		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load() returned error: %v", err)
		}
		if cfg.GRPCAuthMode != GRPCAuthModeNone {
			t.Fatalf("expected none, got %q", cfg.GRPCAuthMode)
		}
	})
	t.Run("unknown encoding", func(t *testing.T) {
		t.Setenv("ARENA_GRPC_ENCODING", "brotli")
		_, err := Load()
		if err == nil || !strings.Contains(err.Error(), "ARENA_GRPC_ENCODING") {
			t.Fatalf("expected encoding error, got %v", err)
		}
	})
}

func TestLoadReadsEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "arena.env")
	if err := os.WriteFile(path, []byte("ARENA_DOT_COUNT=12\nARENA_WORLD_SIZE=900\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("ARENA_ENV_FILE", path)
	//1.- Register restoration, then clear so the file value is visible.
	t.Setenv("ARENA_DOT_COUNT", "")
	os.Unsetenv("ARENA_DOT_COUNT")
	//2.- An explicit environment value wins over the file.
	t.Setenv("ARENA_WORLD_SIZE", "1200")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.Game.DotCount != 12 {
		t.Fatalf("expected dot count from env file, got %d", cfg.Game.DotCount)
	}
	if cfg.Game.WorldSize != 1200 {
		t.Fatalf("expected environment to win, got %v", cfg.Game.WorldSize)
	}
}

func TestLoadReportsMissingEnvFile(t *testing.T) {
	t.Setenv("ARENA_ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "ARENA_ENV_FILE") {
		t.Fatalf("expected env file error, got %v", err)
	}
}
