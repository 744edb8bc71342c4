// Package api exposes day layouts and drag gestures over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"dayline/internal/calendar"
)

// Exporter streams the reschedule audit workbook.
type Exporter interface {
	Export(ctx context.Context, out io.Writer) error
}

// Config holds HTTP server settings.
type Config struct {
	Port   int
	APIKey string
}

// HTTPServer serves the JSON API.
type HTTPServer struct {
	server   *http.Server
	registry *calendar.Registry
	exporter Exporter
	apiKey   string
	logger   *zerolog.Logger
	now      func() time.Time
}

// NewHTTPServer builds the server. exporter may be nil, which disables the audit endpoint.
func NewHTTPServer(cfg Config, registry *calendar.Registry, exporter Exporter, logger *zerolog.Logger) *HTTPServer {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	s := &HTTPServer{
		registry: registry,
		exporter: exporter,
		apiKey:   cfg.APIKey,
		logger:   logger,
		now:      time.Now,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/layout", s.handleLayout)
	mux.HandleFunc("GET /api/v1/appointments", s.handleAppointments)
	mux.HandleFunc("POST /api/v1/refresh", s.handleRefresh)
	mux.HandleFunc("POST /api/v1/drags", s.handleBeginDrag)
	mux.HandleFunc("GET /api/v1/drags/{token}", s.handleGetDrag)
	mux.HandleFunc("POST /api/v1/drags/{token}/move", s.handleMoveDrag)
	mux.HandleFunc("POST /api/v1/drags/{token}/release", s.handleReleaseDrag)
	mux.HandleFunc("POST /api/v1/drags/{token}/confirm", s.handleConfirmDrag)
	mux.HandleFunc("POST /api/v1/drags/{token}/cancel", s.handleCancelDrag)
	if exporter != nil {
		mux.HandleFunc("GET /api/v1/audit/export", s.handleAuditExport)
	}

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.withAuth(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start serves until ctx is done, then shuts down gracefully.
func (s *HTTPServer) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(ctxShutdown)
	}()

	s.logger.Info().Str("addr", s.server.Addr).Msg("API server started")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

func (s *HTTPServer) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey != "" && r.Header.Get("x-api-key") != s.apiKey {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
