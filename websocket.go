package main

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gorilla/websocket"

	"ballarena/server/internal/config"
	"ballarena/server/internal/logging"
	"ballarena/server/internal/session"
)

const websocketPath = "/ws"

// sessionServer is the part of session.Manager the upgrade handler drives.
type sessionServer interface {
	BeginHandshake() func()
	Serve(ctx context.Context, conn session.Conn) error
}

// originChecker allows every origin when the list is empty or contains "*".
// Requests without an Origin header come from non-browser clients and pass.
func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		origin = strings.ToLower(strings.TrimRight(strings.TrimSpace(origin), "/"))
		if origin == "*" {
			return func(*http.Request) bool { return true }
		}
		if origin != "" {
			set[origin] = struct{}{}
		}
	}
	if len(set) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := strings.ToLower(strings.TrimRight(r.Header.Get("Origin"), "/"))
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

// websocketHandler upgrades /ws requests and hands the connection to the
// session manager. Sessions live until lifetime ends, not the request.
func websocketHandler(lifetime context.Context, sessions sessionServer, cfg *config.Config, logger *logging.Logger) http.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(cfg.AllowedOrigins),
	}
	opts := session.WebSocketOptions{
		MaxPayloadBytes: cfg.MaxPayloadBytes,
		PingInterval:    cfg.PingInterval,
		WriteTimeout:    cfg.WriteTimeout,
	}
	return func(w http.ResponseWriter, r *http.Request) {
		log := logging.LoggerFromContext(r.Context()).With(logging.String("remote_addr", r.RemoteAddr))
		release := sessions.BeginHandshake()
		conn, err := upgrader.Upgrade(w, r, nil)
		release()
		if err != nil {
			//1.- Upgrade already wrote the HTTP error response.
			log.Warn("websocket upgrade failed", logging.Error(err), logging.String("origin", r.Header.Get("Origin")))
			return
		}
		if err := sessions.Serve(lifetime, session.NewWebSocketConn(conn, opts)); err != nil {
			if errors.Is(err, session.ErrServerFull) {
				log.Info("websocket refused", logging.Error(err))
				return
			}
			log.Warn("websocket session failed", logging.Error(err))
		}
	}
}

// staticHandler serves the client directory. A missing index.html falls
// back to test.html at the root.
func staticHandler(dir string) http.Handler {
	files := http.FileServer(http.Dir(dir))
	root := http.Dir(dir)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			if f, err := root.Open("/index.html"); err == nil {
				f.Close()
			} else if f, err := root.Open("/test.html"); err == nil {
				f.Close()
				http.ServeFile(w, r, filepath.Join(dir, "test.html"))
				return
			}
		}
		files.ServeHTTP(w, r)
	})
}
