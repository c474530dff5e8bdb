// Package api serves the HTTP interface of the case light: a JSON API built
// with huma and plain-text attribute routes that read and write like the
// driver's sysfs files.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/caselightd/internal/ledger"
	"github.com/dokzlo13/caselightd/internal/light"
)

// Light is the part of the device the API drives.
type Light interface {
	Transport() string
	Brightness() uint8
	SetBrightness(v uint8)
	Pending() (uint8, bool)
	State() light.State
	SetZone(i int, name string) error
	ReadZoneAttribute(i int) (string, error)
	WriteZoneAttribute(i int, text string) error
}

// DispatchLog lists recent firmware dispatches.
type DispatchLog interface {
	Recent(limit int) ([]ledger.Entry, error)
}

// Options configures the server.
type Options struct {
	Light Light
	// Ledger is optional; without it /api/dispatches answers 404.
	Ledger DispatchLog
	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
	// Ready reports readiness for /ready. Nil means always ready.
	Ready func() bool
}

// Server is the HTTP front end.
type Server struct {
	router chi.Router
	api    huma.API
	opts   Options
}

// NewServer builds the router and registers every route.
func NewServer(opts Options) *Server {
	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Use(requestLogger)

	config := huma.DefaultConfig("caselightd API", "1.0.0")
	config.Info.Description = "Case light brightness and zone color control"
	config.Servers = []*huma.Server{}

	s := &Server{
		router: router,
		api:    humachi.New(router, config),
		opts:   opts,
	}

	s.registerHealthRoutes()
	s.registerLightRoutes()
	s.registerAttributeRoutes()

	if opts.Metrics != nil {
		router.Method(http.MethodGet, "/metrics", opts.Metrics)
	}
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// API returns the huma API.
func (s *Server) API() huma.API {
	return s.api
}

// Run serves on addr until ctx is done, then shuts down within timeout.
func (s *Server) Run(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("HTTP server shutdown error")
		}
	}()

	log.Info().Str("addr", addr).Msg("Starting HTTP server")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) registerHealthRoutes() {
	s.router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	s.router.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if s.opts.Ready != nil && !s.opts.Ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"not ready"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	})
}

// requestLogger logs each request at a level picked from the status code.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		ev := log.Debug()
		switch {
		case status >= 500:
			ev = log.Error()
		case status >= 400:
			ev = log.Warn()
		}
		ev.Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Msg("HTTP request completed")
	})
}
