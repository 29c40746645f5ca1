package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"

	"ballarena/server/internal/config"
	httpapi "ballarena/server/internal/http"
	"ballarena/server/internal/input"
	"ballarena/server/internal/logging"
	"ballarena/server/internal/networking"
	"ballarena/server/internal/replay"
	"ballarena/server/internal/session"
	"ballarena/server/internal/spectate"
	"ballarena/server/internal/state"
)

const shutdownTimeout = 5 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "arena:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	arenaID := uuid.NewString()
	logger, err := logging.New(cfg.Logging, logging.WithFields(logging.String("arena_id", arenaID)))
	if err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := newServer(ctx, cfg, arenaID, logger)
	if err != nil {
		logger.Error("arena startup failed", logging.Error(err))
		return err
	}
	return srv.run(ctx)
}

// server owns every long-lived component of one arena process.
type server struct {
	cfg        *config.Config
	log        *logging.Logger
	store      *state.Store
	sessions   *session.Manager
	arena      *Arena
	hub        *spectate.Hub
	recorder   *replay.Recorder
	cleaner    *replay.Cleaner
	httpServer *http.Server
	grpcServer *grpc.Server
	grpcLis    net.Listener
}

func newServer(ctx context.Context, cfg *config.Config, arenaID string, logger *logging.Logger) (*server, error) {
	constants := cfg.Game.Constants()
	store := state.NewStore(state.Config{
		Constants:     constants,
		DotCount:      cfg.Game.DotCount,
		ReplenishDots: cfg.Game.DotReplenish,
		ConsumePolicy: state.ConsumePolicy(cfg.Game.ConsumePolicy),
		Seed:          cfg.Game.Seed,
	})
	metrics := networking.NewSnapshotMetrics()
	validator := input.NewValidator(input.Limits{MaxDistance: constants.Diagonal()}, input.WithValidatorLogger(logger))
	sessions := session.NewManager(store, session.Options{
		MaxClients:   cfg.MaxClients,
		QueueSize:    cfg.OutboundQueue,
		Overflow:     session.OverflowPolicy(cfg.OverflowPolicy),
		PingInterval: cfg.PingInterval,
		Validator:    validator,
		Metrics:      metrics,
		Logger:       logger,
	})
	s := &server{cfg: cfg, log: logger, store: store, sessions: sessions}

	//1.- Optional components stay nil when disabled.
	opts := ArenaOptions{Store: store, Sessions: sessions, Logger: logger}
	if cfg.Replay.Enabled() {
		recorder, err := replay.NewRecorder(cfg.Replay.Dir, arenaID, replay.Metadata{
			Seed:          cfg.Game.Seed,
			Constants:     constants,
			DotCount:      cfg.Game.DotCount,
			ConsumePolicy: cfg.Game.ConsumePolicy,
		}, nil)
		if err != nil {
			return nil, fmt.Errorf("replay recorder: %w", err)
		}
		s.recorder = recorder
		s.cleaner = replay.NewCleaner(cfg.Replay.Dir, replay.RetentionPolicy{MaxBundles: cfg.Replay.MaxBundles, MaxAge: cfg.Replay.MaxAge}, logger)
		s.cleaner.ProtectActive(recorder.Active)
		opts.Recorder = recorder
	}
	if cfg.GRPCAddr != "" {
		s.hub = spectate.NewHub(spectate.DefaultBuffer)
		opts.Spectators = s.hub
	}
	s.arena = NewArena(opts)

	if err := s.listenGRPC(); err != nil {
		//2.- The player-facing server still starts; /readyz reports the failure.
		logger.Error("spectator listener unavailable", logging.Error(err))
		s.arena.SetStartupError(err)
	}

	mux := http.NewServeMux()
	mux.Handle(websocketPath, websocketHandler(ctx, sessions, cfg, logger))
	mux.Handle(protocolDocsPath, protocolDocsHandler(constants))
	handlers := httpapi.NewHandlerSet(httpapi.Options{
		Logger:      logger,
		Readiness:   s.arena,
		Stats:       s.arena.Stats,
		Snapshots:   metrics,
		Replay:      s.replayDumper(),
		AdminToken:  cfg.AdminToken,
		RateLimiter: httpapi.NewSlidingWindowLimiter(cfg.ReplayDumpWindow, cfg.ReplayDumpBurst, nil),
		ReplayStats: s.replayStats(),
		Storage:     s.storageStats(),
		Validation:  validator.Counters,
	})
	handlers.Register(mux)
	if cfg.StaticDir != "" {
		mux.Handle("/", staticHandler(cfg.StaticDir))
	}
	s.httpServer = &http.Server{
		Addr:              cfg.Address,
		Handler:           logging.HTTPTraceMiddleware(logger)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

func (s *server) replayDumper() httpapi.ReplayDumper {
	if s.recorder == nil {
		return nil
	}
	return s.recorder
}

func (s *server) replayStats() func() replay.Stats {
	if s.recorder == nil {
		return nil
	}
	return s.recorder.Stats
}

func (s *server) storageStats() func() replay.StorageStats {
	if s.cleaner == nil {
		return nil
	}
	return s.cleaner.Stats
}

func (s *server) listenGRPC() error {
	if s.cfg.GRPCAddr == "" {
		return nil
	}
	opts, err := spectatorServerOptions(s.cfg, s.log)
	if err != nil {
		return err
	}
	lis, err := net.Listen("tcp", s.cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.GRPCAddr, err)
	}
	s.grpcServer = grpc.NewServer(opts...)
	spectate.Register(s.grpcServer, spectate.NewService(s.hub,
		spectate.WithDefaultCompression(s.cfg.GRPCEncoding),
		spectate.WithLogger(s.log.With(logging.String("component", "spectate"))),
	))
	s.grpcLis = lis
	return nil
}

func (s *server) run(ctx context.Context) error {
	tlsEnabled := s.cfg.TLSCertPath != ""
	errCh := make(chan error, 2)

	s.arena.Start(ctx)
	if s.cleaner != nil {
		go s.cleaner.Run(ctx, s.cfg.Replay.SweepInterval)
	}
	if s.grpcServer != nil {
		go func() {
			s.log.Info("spectator stream listening", logging.String("addr", s.grpcLis.Addr().String()))
			if err := s.grpcServer.Serve(s.grpcLis); err != nil {
				errCh <- fmt.Errorf("grpc: %w", err)
			}
		}()
	}
	go func() {
		s.log.Info("arena listening",
			logging.String("url", listenerURL(s.cfg.Address, tlsEnabled)),
			logging.String("websocket", websocketURL(s.cfg.Address, tlsEnabled)),
		)
		var err error
		if tlsEnabled {
			err = s.httpServer.ListenAndServeTLS(s.cfg.TLSCertPath, s.cfg.TLSKeyPath)
		} else {
			err = s.httpServer.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		s.log.Info("shutdown requested")
	case runErr = <-errCh:
		s.log.Error("listener failed", logging.Error(runErr))
	}
	return errors.Join(runErr, s.shutdown())
}

// shutdown stops ticking first so no snapshot races the goodbye frames.
func (s *server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	s.arena.Stop()
	s.sessions.CloseAll(session.ByeShutdown)
	s.hub.Close()

	var errs error
	if s.grpcServer != nil {
		stopped := make(chan struct{})
		go func() {
			s.grpcServer.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-ctx.Done():
			s.grpcServer.Stop()
		}
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		errs = errors.Join(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := s.sessions.Wait(ctx); err != nil {
		errs = errors.Join(errs, fmt.Errorf("sessions: %w", err))
	}
	if err := s.recorder.Close(); err != nil {
		errs = errors.Join(errs, fmt.Errorf("replay: %w", err))
	}
	s.log.Info("arena stopped", logging.Uint64("tick", s.store.Tick()))
	return errs
}
