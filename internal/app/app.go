package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"maskserver/internal/config"
	"maskserver/internal/logger"
	"maskserver/internal/metrics"
	"maskserver/internal/repository/sqlite"
	"maskserver/internal/routes"
	"maskserver/internal/services"
	"maskserver/internal/services/ai"
	"maskserver/internal/services/camera"
	"maskserver/internal/services/pipeline"
	"maskserver/internal/services/stats"
	"maskserver/internal/services/websocket"
)

type App struct {
	config     *config.Config
	logger     *logger.Logger
	metrics    *metrics.Metrics
	db         *sqlite.DB
	repo       *sqlite.DetectionRepository
	detector   *ai.DetectorService
	pipeline   *pipeline.Pipeline
	encoder    *pipeline.StreamEncoder
	aggregator *stats.Aggregator
	hub        *websocket.HubService
	manager    *services.Manager
}

func NewApp() (*App, error) {
	cfg := config.Load()
	log := logger.NewLogger(cfg)
	m := metrics.New()

	if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	db, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}
	repo := sqlite.NewDetectionRepository(db)

	detector := ai.NewDetectorService(cfg, log)
	pipe := pipeline.New(camera.New(), detector, cfg, log, m)
	encoder := pipeline.NewStreamEncoder(pipe, cfg, log, m)
	aggregator := stats.NewAggregator(repo, cfg, log, m)
	hub := websocket.NewHubService(log, m)
	manager := services.NewManager(aggregator, hub, log, m)

	pipe.SetDetectionCallback(manager.HandleDetections)

	return &App{
		config:     cfg,
		logger:     log,
		metrics:    m,
		db:         db,
		repo:       repo,
		detector:   detector,
		pipeline:   pipe,
		encoder:    encoder,
		aggregator: aggregator,
		hub:        hub,
		manager:    manager,
	}, nil
}

func (a *App) Run() error {
	go a.hub.Run()
	go a.runRetention()

	router := routes.SetupRoutes(a.pipeline, a.encoder, a.manager, a.detector, a.repo, a.metrics, a.logger)
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", a.config.Port),
		Handler: router,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-quit
		a.logger.Info("Received %s, shutting down", sig)
		a.shutdown(server)
	}()

	fmt.Printf("🚀 Face Mask Detection Server\n")
	fmt.Printf("📍 URL: http://localhost:%d\n", a.config.Port)
	fmt.Printf("📹 Camera: device %d (%dx%d @ %d FPS)\n",
		a.config.CameraIndex, a.config.FrameWidth, a.config.FrameHeight, a.config.TargetFPS)
	fmt.Printf("💾 Database: %s\n", a.config.DatabasePath)

	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// runRetention prunes stored detections past the retention window once a day.
func (a *App) runRetention() {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for range ticker.C {
		cutoff := time.Now().UTC().AddDate(0, 0, -a.config.RetentionDays)
		deleted, err := a.repo.DeleteOlderThan(cutoff)
		if err != nil {
			a.logger.Error("Retention cleanup failed: %v", err)
			continue
		}
		a.logger.Info("Cleaned up %d old detections", deleted)
	}
}

// shutdown stops the producer first so no callback fires into a stopped
// manager, then drains the dispatch queue, closes the hub and releases
// everything else.
func (a *App) shutdown(server *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		a.logger.Error("HTTP shutdown error: %v", err)
	}

	if err := a.pipeline.Stop(); err != nil {
		a.logger.Error("Pipeline stop error: %v", err)
	}
	a.manager.Stop()
	a.hub.Stop()
	a.detector.Close()
	if err := a.db.Close(); err != nil {
		a.logger.Error("Database close error: %v", err)
	}
}
