package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"gocv.io/x/gocv"

	"maskserver/internal/logger"
	"maskserver/internal/models"
	"maskserver/internal/repository"
	"maskserver/internal/services"
	"maskserver/internal/services/ai"
	"maskserver/internal/services/pipeline"
	"maskserver/internal/services/stats"
)

// maxUploadSize caps detect_image request bodies (8 MB).
const maxUploadSize = 8 << 20

type statusResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type detectionsResponse struct {
	Detections []models.Detection `json:"detections"`
}

type detectImageResponse struct {
	Success    bool               `json:"success"`
	Detections []models.Detection `json:"detections"`
	Statistics models.Statistics  `json:"statistics"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func limitQuery(r *http.Request, defaultLimit int) int {
	if value := r.URL.Query().Get("limit"); value != "" {
		if limit, err := strconv.Atoi(value); err == nil && limit > 0 {
			return limit
		}
	}
	return defaultLimit
}

// RootHandler serves the API banner.
func RootHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"message": "Face Mask Detection System API",
			"status":  "running",
		})
	}
}

// StartDetectionHandler starts the detection pipeline. Starting an already
// running pipeline succeeds without side effects.
func StartDetectionHandler(p *pipeline.Pipeline, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		if p.IsRunning() {
			writeJSON(w, http.StatusOK, statusResponse{Success: true, Message: "Detection already running"})
			return
		}

		if err := p.Start(); err != nil {
			logger.Error("Error starting detection: %v", err)
			writeJSON(w, http.StatusInternalServerError, statusResponse{Success: false, Message: err.Error()})
			return
		}

		writeJSON(w, http.StatusOK, statusResponse{Success: true, Message: "Detection started successfully"})
	}
}

// StopDetectionHandler stops the detection pipeline. Idempotent.
func StopDetectionHandler(p *pipeline.Pipeline, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		if !p.IsRunning() {
			writeJSON(w, http.StatusOK, statusResponse{Success: true, Message: "Detection not running"})
			return
		}

		if err := p.Stop(); err != nil {
			logger.Error("Error stopping detection: %v", err)
			writeJSON(w, http.StatusInternalServerError, statusResponse{Success: false, Message: err.Error()})
			return
		}

		writeJSON(w, http.StatusOK, statusResponse{Success: true, Message: "Detection stopped successfully"})
	}
}

// VideoFeedHandler streams the annotated video as multipart MJPEG. Each
// connection gets its own chunk sequence from the shared encoder.
func VideoFeedHandler(p *pipeline.Pipeline, encoder *pipeline.StreamEncoder, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !p.IsRunning() {
			http.Error(w, "Camera not running", http.StatusNotFound)
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", pipeline.StreamContentType)
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		w.Header().Set("Connection", "close")

		for chunk := range encoder.Chunks(r.Context()) {
			if _, err := w.Write(chunk); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// StatisticsHandler returns the current statistics snapshot.
func StatisticsHandler(aggregator *stats.Aggregator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, aggregator.GetStatistics())
	}
}

// DetectionsHandler returns the most recent detections from the in-memory
// rolling history.
func DetectionsHandler(aggregator *stats.Aggregator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		history := aggregator.GetHistory(limitQuery(r, 50))
		if history == nil {
			history = []models.Detection{}
		}
		writeJSON(w, http.StatusOK, detectionsResponse{Detections: history})
	}
}

// StoredDetectionsHandler returns recent detections from durable storage,
// newest-first.
func StoredDetectionsHandler(repo repository.DetectionRepository, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		detections, err := repo.GetRecent(limitQuery(r, 100))
		if err != nil {
			logger.Error("Error querying stored detections: %v", err)
			http.Error(w, "Failed to query detections", http.StatusInternalServerError)
			return
		}
		if detections == nil {
			detections = []models.Detection{}
		}
		writeJSON(w, http.StatusOK, detectionsResponse{Detections: detections})
	}
}

// SettingsHandler serves and updates the detection settings. PUT accepts a
// partial document; untouched fields keep their values.
func SettingsHandler(aggregator *stats.Aggregator, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, http.StatusOK, aggregator.GetSettings())

		case http.MethodPut:
			var update models.SettingsUpdate
			if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
				logger.Warning("Invalid settings payload: %v", err)
				http.Error(w, "Invalid settings payload", http.StatusBadRequest)
				return
			}
			writeJSON(w, http.StatusOK, aggregator.UpdateSettings(update))

		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	}
}

// ClearAlertsHandler resets the active alert counter and cooldowns.
func ClearAlertsHandler(aggregator *stats.Aggregator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		aggregator.ClearAlerts()
		writeJSON(w, http.StatusOK, statusResponse{Success: true, Message: "Alerts cleared"})
	}
}

// DetectImageHandler runs detection on a single uploaded image, ingests the
// results, and returns the processed detections with fresh statistics.
func DetectImageHandler(detector *ai.DetectorService, manager *services.Manager, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
		if err := r.ParseMultipartForm(maxUploadSize); err != nil {
			http.Error(w, "Invalid upload", http.StatusBadRequest)
			return
		}

		file, _, err := r.FormFile("file")
		if err != nil {
			http.Error(w, "Missing file", http.StatusBadRequest)
			return
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil {
			http.Error(w, "Error reading file", http.StatusBadRequest)
			return
		}

		img, err := gocv.IMDecode(data, gocv.IMReadColor)
		if err != nil || img.Empty() {
			http.Error(w, "Invalid image format", http.StatusBadRequest)
			return
		}
		defer img.Close()

		processed := manager.Process(detector.Detect(img))
		if processed == nil {
			processed = []models.Detection{}
		}

		writeJSON(w, http.StatusOK, detectImageResponse{
			Success:    true,
			Detections: processed,
			Statistics: manager.GetAggregator().GetStatistics(),
		})
	}
}
