package routes

import (
	"net/http"

	"maskserver/internal/handlers"
	"maskserver/internal/logger"
	"maskserver/internal/metrics"
	"maskserver/internal/middleware"
	"maskserver/internal/repository"
	"maskserver/internal/services"
	"maskserver/internal/services/ai"
	"maskserver/internal/services/pipeline"
)

// SetupRoutes registers the API endpoints, the websocket endpoint, the MJPEG
// feed and the metrics handler, and wraps the mux with the CORS middleware.
func SetupRoutes(
	p *pipeline.Pipeline,
	encoder *pipeline.StreamEncoder,
	manager *services.Manager,
	detector *ai.DetectorService,
	repo repository.DetectionRepository,
	m *metrics.Metrics,
	logger *logger.Logger,
) http.Handler {
	mux := http.NewServeMux()
	aggregator := manager.GetAggregator()

	// Detection control
	mux.HandleFunc("/api/detection/start", handlers.StartDetectionHandler(p, logger))
	mux.HandleFunc("/api/detection/stop", handlers.StopDetectionHandler(p, logger))

	// Video feed
	mux.HandleFunc("/api/video_feed", handlers.VideoFeedHandler(p, encoder, logger))

	// Statistics and history
	mux.HandleFunc("/api/statistics", handlers.StatisticsHandler(aggregator))
	mux.HandleFunc("/api/detections", handlers.DetectionsHandler(aggregator))
	mux.HandleFunc("/api/detections/stored", handlers.StoredDetectionsHandler(repo, logger))

	// Settings and alerts
	mux.HandleFunc("/api/settings", handlers.SettingsHandler(aggregator, logger))
	mux.HandleFunc("/api/alerts/clear", handlers.ClearAlertsHandler(aggregator))

	// Single image detection
	mux.HandleFunc("/api/detect_image", handlers.DetectImageHandler(detector, manager, logger))

	// Real-time updates
	mux.HandleFunc("/api/ws", handlers.WebsocketHandler(manager.GetHub(), logger))

	// Service banner and metrics
	mux.HandleFunc("/api/", handlers.RootHandler())
	mux.Handle("/metrics", m.Handler())

	return middleware.CORSMiddleware(mux)
}
