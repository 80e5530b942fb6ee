package apihttp

import (
	"context"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"classcast/internal/domain"
	"classcast/internal/room"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// PublishOrchestrator handles the ingest lifecycle hooks and feeds the
// status endpoint.
type PublishOrchestrator interface {
	PrePublish(ev domain.PublishEvent) error
	PostPublish(ctx context.Context, ev domain.PublishEvent) error
	DonePublish(ctx context.Context, ev domain.PublishEvent)
	ActiveStreams() []domain.StreamStatus
}

// RecordingsStore lists cataloged recordings. Nil disables /api/recordings.
type RecordingsStore interface {
	ListRecent(ctx context.Context, limit int) ([]domain.RecordingRecord, error)
}

type Server struct {
	orch           PublishOrchestrator
	rooms          *room.Registry
	recordings     RecordingsStore
	streamsDir     string
	allowedOrigins []string
	logger         *slog.Logger
	handler        http.Handler
}

type ServerOption func(*Server)

func WithRecordings(store RecordingsStore) ServerOption {
	return func(s *Server) {
		s.recordings = store
	}
}

func WithStreamsDir(dir string) ServerOption {
	return func(s *Server) {
		dir = strings.TrimSpace(dir)
		if dir != "" {
			if abs, err := filepath.Abs(dir); err == nil {
				dir = abs
			}
			dir = filepath.Clean(dir)
		}
		s.streamsDir = dir
	}
}

// WithAllowedOrigins configures the CORS allowed origins whitelist.
// When empty (default), any origin is permitted (development mode).
func WithAllowedOrigins(origins []string) ServerOption {
	return func(s *Server) {
		s.allowedOrigins = origins
	}
}

func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

func NewServer(orch PublishOrchestrator, rooms *room.Registry, opts ...ServerOption) *Server {
	s := &Server{
		orch:  orch,
		rooms: rooms,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.logger == nil {
		s.logger = slog.Default()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/hooks/pre-publish", s.handlePrePublish)
	mux.HandleFunc("/hooks/publish", s.handlePublish)
	mux.HandleFunc("/hooks/publish-done", s.handlePublishDone)
	mux.HandleFunc("/api/streams", s.handleStreams)
	mux.HandleFunc("/api/rooms", s.handleRooms)
	mux.HandleFunc("/api/recordings", s.handleRecordings)
	mux.HandleFunc("/internal/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ws", s.handleWS)
	if s.streamsDir != "" {
		mux.HandleFunc("/streams/", s.handleStreamFile)
	}

	traced := otelhttp.NewHandler(loggingMiddleware(s.logger, mux), "classcast",
		otelhttp.WithFilter(func(r *http.Request) bool {
			p := r.URL.Path
			return p != "/metrics" && p != "/internal/health" && !strings.HasPrefix(p, "/streams/")
		}),
	)
	s.handler = recoveryMiddleware(s.logger, rateLimitMiddleware(100, 200, metricsMiddleware(corsMiddleware(s.allowedOrigins, traced))))
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}
