// Package server exposes the logo placer over HTTP for the browser UI.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"

	logoplacer "github.com/menta2k/logo-placer"
	"github.com/menta2k/logo-placer/internal/config"
	"github.com/menta2k/logo-placer/internal/store"
	"github.com/menta2k/logo-placer/pkg/intake"
)

// Server serves placements, the logo list and the UI's static files
type Server struct {
	config config.ServerConfig
	placer *logoplacer.Placer
	store  *store.Store
	images *intake.Validator
	logger log.FieldLogger
	http   *http.Server
}

// New creates a server
func New(cfg config.ServerConfig, placer *logoplacer.Placer, st *store.Store, logger log.FieldLogger) *Server {
	if logger == nil {
		logger = log.StandardLogger()
	}
	s := &Server{
		config: cfg,
		placer: placer,
		store:  st,
		images: intake.New(),
		logger: logger,
	}
	s.http = &http.Server{
		Addr:              cfg.Addr(),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the routed handler with logging and CORS applied
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /place-logo", s.handleIndex)
	mux.HandleFunc("POST /place-logo", s.handlePlaceLogo)
	mux.HandleFunc("POST /query-logos", s.handleQueryLogos)
	mux.HandleFunc("GET /query-logos", s.handleQueryLogos)
	mux.Handle("GET /", s.staticHandler())
	return s.withRequestLog(withCORS(mux))
}

// Run serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", s.http.Addr).Info("HTTP server listening")
		errc <- s.http.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	timeout := time.Duration(s.config.ShutdownTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	s.logger.Info("Shutting down HTTP server...")
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	return nil
}

// staticHandler serves files from the UI directory, then the store's blank,
// upload and logo directories, first match wins
func (s *Server) staticHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := filepath.Clean("/" + r.URL.Path)
		dirs := append([]string{s.config.StaticDir}, s.storeDirs()...)
		for _, dir := range dirs {
			if dir == "" {
				continue
			}
			path := filepath.Join(dir, filepath.FromSlash(name))
			info, err := os.Stat(path)
			if err != nil || info.IsDir() {
				continue
			}
			http.ServeFile(w, r, path)
			return
		}
		if name == "/" {
			s.handleIndex(w, r)
			return
		}
		http.NotFound(w, r)
	})
}

func (s *Server) storeDirs() []string {
	if s.store == nil {
		return nil
	}
	return s.store.Dirs()
}
