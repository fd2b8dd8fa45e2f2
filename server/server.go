// Package server exposes a recording session to a browser over HTTP and a
// WebSocket state feed.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/bosley/recordnote/config"
	"github.com/bosley/recordnote/observability"
	"github.com/bosley/recordnote/scribe"
	"github.com/bosley/recordnote/session"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const shutdownTimeout = 10 * time.Second

// Models is the model control surface of the transcription service.
// *scribe.Service satisfies it.
type Models interface {
	Info() scribe.Info
	SetModelSize(size scribe.ModelSize) error
	Check(ctx context.Context) (bool, error)
}

// Server serves one session.
type Server struct {
	session  *session.Session
	models   Models
	clients  *ClientList
	upgrader websocket.Upgrader
	version  string
	router   *mux.Router
	cancel   func()
}

// New wires the routes for sess and subscribes the WebSocket clients to its
// snapshots. Call Close to detach.
func New(sess *session.Session, models Models, cfg config.ServerConfig, version string) *Server {
	s := &Server{
		session:  sess,
		models:   models,
		clients:  NewClientList(),
		upgrader: newUpgrader(cfg.AllowedOrigins),
		version:  version,
	}
	s.cancel = sess.Subscribe(s.clients.Publish)
	s.router = s.routes()
	return s
}

func (s *Server) routes() *mux.Router {
	router := mux.NewRouter()
	router.Use(requestLogger)

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/session", s.handleGetSession).Methods(http.MethodGet)
	api.HandleFunc("/session/start", s.handleStart).Methods(http.MethodPost)
	api.HandleFunc("/session/stop", s.handleStop).Methods(http.MethodPost)
	api.HandleFunc("/session/reset", s.handleReset).Methods(http.MethodPost)
	api.HandleFunc("/session/title", s.handleSetTitle).Methods(http.MethodPut)
	api.HandleFunc("/session/document", s.handleDocument).Methods(http.MethodGet)
	api.HandleFunc("/model", s.handleGetModel).Methods(http.MethodGet)
	api.HandleFunc("/model", s.handleSetModel).Methods(http.MethodPut)

	router.HandleFunc("/ws", s.handleWebSocket)
	router.Handle("/health", observability.HealthCheckHandler(s.version)).Methods(http.MethodGet)
	router.Handle("/ready", observability.ReadinessHandler(s.version, map[string]observability.HealthCheckFunc{
		"transcription": s.models.Check,
	})).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	router.PathPrefix("/").Handler(staticHandler())

	return router
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Close detaches from the session and disconnects every WebSocket client.
func (s *Server) Close() {
	s.cancel()
	s.clients.CloseAll()
}

// Launch listens on cfg.Addr, with TLS when a certificate and key are
// configured, until ctx is done, then shuts down gracefully.
func (s *Server) Launch(ctx context.Context, cfg config.ServerConfig) error {
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.Addr, err)
	}

	if cfg.TLS() {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			ln.Close()
			return fmt.Errorf("failed to load server certificate and key: %w", err)
		}
		ln = tls.NewListener(ln, &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		})
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", ln.Addr().String()).
			Bool("tls", cfg.TLS()).
			Msg("HTTP server listening")
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("HTTP server error: %w", err)
	case <-ctx.Done():
	}

	log.Info().Msg("HTTP server shutting down")
	s.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
