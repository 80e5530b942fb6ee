package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	apihttp "classcast/internal/api/http"
	"classcast/internal/app"
	"classcast/internal/metrics"
	"classcast/internal/orchestrator"
	mongorepo "classcast/internal/repository/mongo"
	"classcast/internal/room"
	"classcast/internal/telemetry"

	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.opentelemetry.io/contrib/instrumentation/go.mongodb.org/mongo-driver/mongo/otelmongo"
)

func main() {
	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Error("configuration invalid", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	metrics.Register(prometheus.DefaultRegisterer)

	shutdownTracer, err := telemetry.Init(context.Background(), "classcast")
	if err != nil {
		logger.Warn("otel init failed", slog.String("error", err.Error()))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	logger.Info("configuration loaded",
		slog.String("service", "classcast"),
		slog.String("httpAddr", cfg.HTTPAddr),
		slog.String("rtmpUrl", cfg.RTMPURL),
		slog.String("streamsDir", cfg.StreamsDir),
		slog.String("recordingsDir", cfg.RecordingsDir),
		slog.Bool("hwAccel", cfg.HardwareAccel),
		slog.Int("segmentDuration", cfg.SegmentDuration),
		slog.Int("playlistWindow", cfg.PlaylistWindow),
		slog.String("logLevel", cfg.LogLevel),
	)

	for _, dir := range []string{cfg.StreamsDir, cfg.RecordingsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			logger.Error("create directory failed", slog.String("dir", dir), slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var catalog *mongorepo.RecordingsRepository
	var disconnectMongo func()
	if cfg.MongoURI != "" {
		ctx, cancel := context.WithTimeout(rootCtx, 10*time.Second)
		mongoClient, err := mongorepo.Connect(ctx, cfg.MongoURI, options.Client().SetMonitor(otelmongo.NewMonitor()))
		if err != nil {
			cancel()
			logger.Error("mongo connect failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
		if err := mongoClient.Ping(ctx, readpref.Primary()); err != nil {
			cancel()
			logger.Error("mongo ping failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
		catalog = mongorepo.NewRecordingsRepository(mongoClient, cfg.MongoDatabase, "recordings")
		if err := catalog.EnsureIndexes(ctx); err != nil {
			logger.Warn("mongo ensure indexes failed", slog.String("error", err.Error()))
		}
		cancel()
		disconnectMongo = func() {
			if err := mongoClient.Disconnect(context.Background()); err != nil {
				logger.Warn("mongo disconnect error", slog.String("error", err.Error()))
			}
		}
	} else {
		logger.Info("recording catalog disabled, MONGO_URI is empty")
	}

	registry := room.NewRegistry(cfg.ChatRetention, logger)

	orchCfg := orchestrator.Config{
		IngestURL:       cfg.RTMPURL,
		StreamsDir:      cfg.StreamsDir,
		RecordingsDir:   cfg.RecordingsDir,
		HardwareAccel:   cfg.HardwareAccel,
		SegmentDuration: cfg.SegmentDuration,
		PlaylistWindow:  cfg.PlaylistWindow,
		FrameRate:       cfg.FrameRate,
		CleanupGrace:    time.Duration(cfg.CleanupGraceSeconds) * time.Second,
		H264Renditions:  cfg.H264Renditions,
		HEVCRenditions:  cfg.HEVCRenditions,
	}
	var orchCatalog orchestrator.RecordingCatalog
	if catalog != nil {
		orchCatalog = catalog
	}
	orch := orchestrator.New(orchCfg,
		orchestrator.NewFFMPEGFactory(cfg.FFMPEGPath, logger),
		registry, orchCatalog, logger)

	serverOpts := []apihttp.ServerOption{
		apihttp.WithLogger(logger),
		apihttp.WithStreamsDir(cfg.StreamsDir),
	}
	if catalog != nil {
		serverOpts = append(serverOpts, apihttp.WithRecordings(catalog))
	}
	handler := apihttp.NewServer(orch, registry, serverOpts...)

	go updateGauges(rootCtx, orch, registry)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      0,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	logger.Info("server started", slog.String("addr", cfg.HTTPAddr))

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	orch.Shutdown(shutdownCtx)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown error", slog.String("error", err.Error()))
	}
	if disconnectMongo != nil {
		disconnectMongo()
	}

	logger.Info("server stopped")
}

// updateGauges refreshes the Prometheus gauges from live state.
func updateGauges(ctx context.Context, orch *orchestrator.Orchestrator, registry *room.Registry) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.ActiveStreams.Set(float64(orch.ActiveCount()))
			rooms, participants := registry.Counts()
			metrics.RoomsOpen.Set(float64(rooms))
			metrics.ParticipantsConnected.Set(float64(participants))
		}
	}
}

func newLogger(levelRaw, formatRaw string) *slog.Logger {
	level := parseLogLevel(levelRaw)
	options := &slog.HandlerOptions{Level: level}
	format := strings.ToLower(strings.TrimSpace(formatRaw))
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, options))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, options))
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
