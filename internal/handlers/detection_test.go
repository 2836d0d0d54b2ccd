package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"maskserver/internal/config"
	"maskserver/internal/logger"
	"maskserver/internal/metrics"
	"maskserver/internal/models"
	"maskserver/internal/services/camera"
	"maskserver/internal/services/pipeline"
	"maskserver/internal/services/stats"
)

// stubRepo is an in-memory repository.DetectionRepository.
type stubRepo struct {
	detections []models.Detection
	err        error
}

func (r *stubRepo) Insert(det *models.Detection) error {
	r.detections = append(r.detections, *det)
	return r.err
}

func (r *stubRepo) GetRecent(limit int) ([]models.Detection, error) {
	if r.err != nil {
		return nil, r.err
	}
	if limit > len(r.detections) {
		limit = len(r.detections)
	}
	return models.CloneBatch(r.detections[:limit]), nil
}

func (r *stubRepo) DeleteOlderThan(cutoff time.Time) (int64, error) {
	return 0, r.err
}

func testDeps(t *testing.T) (*stats.Aggregator, *logger.Logger) {
	t.Helper()
	cfg := &config.Config{
		HistoryCapacity:     100,
		ConfidenceThreshold: 0.8,
		AlertCooldownMs:     5000,
		LogDirectory:        t.TempDir(),
	}
	log := logger.NewLogger(cfg)
	return stats.NewAggregator(nil, cfg, log, metrics.New()), log
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
}

func TestRootHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	RootHandler()(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	var body map[string]string
	decodeBody(t, rec, &body)
	if body["status"] != "running" {
		t.Errorf("Expected status running, got %q", body["status"])
	}
	if body["message"] == "" {
		t.Error("Banner message should not be empty")
	}
}

func TestStatisticsHandler(t *testing.T) {
	aggregator, _ := testDeps(t)
	aggregator.Ingest([]models.Detection{
		{HasMask: true, Confidence: 0.9},
		{HasMask: false, Confidence: 0.7},
	})

	rec := httptest.NewRecorder()
	StatisticsHandler(aggregator)(rec, httptest.NewRequest(http.MethodGet, "/api/statistics", nil))

	var body models.Statistics
	decodeBody(t, rec, &body)
	if body.TotalDetections != 2 || body.MaskedCount != 1 {
		t.Errorf("Unexpected statistics: %+v", body)
	}
	if body.ComplianceRate != 50.0 {
		t.Errorf("Expected compliance rate 50.0, got %v", body.ComplianceRate)
	}
}

func TestDetectionsHandler(t *testing.T) {
	aggregator, _ := testDeps(t)
	for i := 0; i < 5; i++ {
		aggregator.Ingest([]models.Detection{{HasMask: true, Confidence: 0.9}})
	}

	rec := httptest.NewRecorder()
	DetectionsHandler(aggregator)(rec, httptest.NewRequest(http.MethodGet, "/api/detections?limit=3", nil))

	var body detectionsResponse
	decodeBody(t, rec, &body)
	if len(body.Detections) != 3 {
		t.Errorf("Expected 3 detections, got %d", len(body.Detections))
	}
}

func TestDetectionsHandler_EmptyHistoryIsArray(t *testing.T) {
	aggregator, _ := testDeps(t)

	rec := httptest.NewRecorder()
	DetectionsHandler(aggregator)(rec, httptest.NewRequest(http.MethodGet, "/api/detections", nil))

	if body := strings.TrimSpace(rec.Body.String()); !strings.Contains(body, `"detections":[]`) {
		t.Errorf("Empty history should serialize as an empty array, got %s", body)
	}
}

func TestStoredDetectionsHandler(t *testing.T) {
	repo := &stubRepo{detections: []models.Detection{{ID: "a"}, {ID: "b"}, {ID: "c"}}}
	_, log := testDeps(t)

	rec := httptest.NewRecorder()
	StoredDetectionsHandler(repo, log)(rec, httptest.NewRequest(http.MethodGet, "/api/detections/stored?limit=2", nil))

	var body detectionsResponse
	decodeBody(t, rec, &body)
	if len(body.Detections) != 2 {
		t.Errorf("Expected 2 stored detections, got %d", len(body.Detections))
	}
}

func TestStoredDetectionsHandler_QueryFailure(t *testing.T) {
	repo := &stubRepo{err: errors.New("disk full")}
	_, log := testDeps(t)

	rec := httptest.NewRecorder()
	StoredDetectionsHandler(repo, log)(rec, httptest.NewRequest(http.MethodGet, "/api/detections/stored", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("Expected 500 on query failure, got %d", rec.Code)
	}
}

func TestSettingsHandler_Get(t *testing.T) {
	aggregator, log := testDeps(t)

	rec := httptest.NewRecorder()
	SettingsHandler(aggregator, log)(rec, httptest.NewRequest(http.MethodGet, "/api/settings", nil))

	var body models.Settings
	decodeBody(t, rec, &body)
	if body.ConfidenceThreshold != 0.8 || body.AlertCooldown != 5000 {
		t.Errorf("Unexpected settings: %+v", body)
	}
	if !body.VisualAlerts || !body.SoundAlerts {
		t.Error("Alerts should default to enabled")
	}
}

func TestSettingsHandler_PutPartialMerge(t *testing.T) {
	aggregator, log := testDeps(t)
	handler := SettingsHandler(aggregator, log)

	req := httptest.NewRequest(http.MethodPut, "/api/settings", strings.NewReader(`{"confidenceThreshold":0.6}`))
	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	var body models.Settings
	decodeBody(t, rec, &body)
	if body.ConfidenceThreshold != 0.6 {
		t.Errorf("Expected threshold 0.6, got %v", body.ConfidenceThreshold)
	}
	if body.AlertCooldown != 5000 {
		t.Errorf("Untouched cooldown should stay 5000, got %d", body.AlertCooldown)
	}
}

func TestSettingsHandler_PutInvalidPayload(t *testing.T) {
	aggregator, log := testDeps(t)

	req := httptest.NewRequest(http.MethodPut, "/api/settings", strings.NewReader(`{"confidenceThreshold":`))
	rec := httptest.NewRecorder()
	SettingsHandler(aggregator, log)(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for malformed payload, got %d", rec.Code)
	}
}

func TestSettingsHandler_MethodNotAllowed(t *testing.T) {
	aggregator, log := testDeps(t)

	rec := httptest.NewRecorder()
	SettingsHandler(aggregator, log)(rec, httptest.NewRequest(http.MethodDelete, "/api/settings", nil))

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405, got %d", rec.Code)
	}
}

func TestClearAlertsHandler(t *testing.T) {
	aggregator, _ := testDeps(t)
	aggregator.Ingest([]models.Detection{{HasMask: false, Confidence: 0.95}})

	rec := httptest.NewRecorder()
	ClearAlertsHandler(aggregator)(rec, httptest.NewRequest(http.MethodPost, "/api/alerts/clear", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if got := aggregator.GetStatistics().ActiveAlerts; got != 0 {
		t.Errorf("Expected 0 active alerts after clear, got %d", got)
	}
}

func TestClearAlertsHandler_MethodNotAllowed(t *testing.T) {
	aggregator, _ := testDeps(t)

	rec := httptest.NewRecorder()
	ClearAlertsHandler(aggregator)(rec, httptest.NewRequest(http.MethodGet, "/api/alerts/clear", nil))

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405, got %d", rec.Code)
	}
}

func TestStartStopHandlers_MethodNotAllowed(t *testing.T) {
	_, log := testDeps(t)
	cfg := &config.Config{TargetFPS: 30, DetectionInterval: 5, LogDirectory: t.TempDir()}
	p := pipeline.New(camera.New(), nil, cfg, log, metrics.New())

	for _, handler := range []http.HandlerFunc{
		StartDetectionHandler(p, log),
		StopDetectionHandler(p, log),
	} {
		rec := httptest.NewRecorder()
		handler(rec, httptest.NewRequest(http.MethodGet, "/api/detection", nil))
		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("Expected 405 for GET, got %d", rec.Code)
		}
	}
}

func TestStopDetectionHandler_NotRunning(t *testing.T) {
	_, log := testDeps(t)
	cfg := &config.Config{TargetFPS: 30, DetectionInterval: 5, LogDirectory: t.TempDir()}
	p := pipeline.New(camera.New(), nil, cfg, log, metrics.New())

	rec := httptest.NewRecorder()
	StopDetectionHandler(p, log)(rec, httptest.NewRequest(http.MethodPost, "/api/detection/stop", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	var body statusResponse
	decodeBody(t, rec, &body)
	if !body.Success || body.Message != "Detection not running" {
		t.Errorf("Unexpected response: %+v", body)
	}
}

func TestVideoFeedHandler_CameraNotRunning(t *testing.T) {
	_, log := testDeps(t)
	m := metrics.New()
	cfg := &config.Config{TargetFPS: 30, DetectionInterval: 5, JPEGQuality: 80, LogDirectory: t.TempDir()}
	p := pipeline.New(camera.New(), nil, cfg, log, m)
	encoder := pipeline.NewStreamEncoder(p, cfg, log, m)

	rec := httptest.NewRecorder()
	VideoFeedHandler(p, encoder, log)(rec, httptest.NewRequest(http.MethodGet, "/api/video_feed", nil))

	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 when the camera is not running, got %d", rec.Code)
	}
}
