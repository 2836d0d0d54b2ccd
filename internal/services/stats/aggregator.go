package stats

import (
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"maskserver/internal/config"
	"maskserver/internal/logger"
	"maskserver/internal/metrics"
	"maskserver/internal/models"
	"maskserver/internal/repository"
)

// Aggregator consumes detection batches, maintains the rolling history and
// derived statistics, and evaluates the alert policy. All mutation goes
// through Ingest, which is serialized internally.
//
// Known limitation: detection ids are regenerated on every ingestion rather
// than tracking a physical face across
// frames, so the per-id alert cooldown almost never suppresses a repeat
// alert for the same violator.
type Aggregator struct {
	mu sync.Mutex

	history  []models.Detection // rolling window, FIFO eviction
	capacity int

	stats    models.Statistics
	settings models.Settings

	lastAlert map[string]time.Time

	// newID generates detection ids; swappable in tests.
	newID func() string

	repo    repository.DetectionRepository
	logger  *logger.Logger
	metrics *metrics.Metrics
}

func NewAggregator(repo repository.DetectionRepository, config *config.Config, logger *logger.Logger, metrics *metrics.Metrics) *Aggregator {
	capacity := config.HistoryCapacity
	if capacity < 1 {
		capacity = 1000
	}

	return &Aggregator{
		history:  make([]models.Detection, 0, capacity),
		capacity: capacity,
		stats: models.Statistics{
			LastUpdate: time.Now().UTC(),
		},
		settings: models.Settings{
			VisualAlerts:        true,
			SoundAlerts:         true,
			ConfidenceThreshold: config.ConfidenceThreshold,
			AlertCooldown:       config.AlertCooldownMs,
		},
		lastAlert: make(map[string]time.Time),
		newID:     uuid.NewString,
		repo:      repo,
		logger:    logger,
		metrics:   metrics,
	}
}

// Ingest processes a detection batch: assigns ids and ingestion timestamps,
// evaluates the alert predicate against the cooldown, appends to the rolling
// history, persists best-effort, and recomputes statistics. The processed
// batch is returned with ids, timestamps and alert flags filled in. Ingest
// never fails; persistence errors are logged and swallowed.
func (a *Aggregator) Ingest(batch []models.Detection) []models.Detection {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := time.Now().UTC()
	cooldown := time.Duration(a.settings.AlertCooldown) * time.Millisecond
	processed := make([]models.Detection, 0, len(batch))

	for _, det := range batch {
		det.ID = a.newID()
		det.Timestamp = now
		det.AlertTriggered = false

		if !det.HasMask && det.Confidence >= a.settings.ConfidenceThreshold {
			if now.Sub(a.lastAlert[det.ID]) >= cooldown {
				det.AlertTriggered = true
				a.lastAlert[det.ID] = now
				a.stats.ActiveAlerts++
				a.metrics.AlertsTriggered.Add(1)
			}
		}

		a.append(det)
		processed = append(processed, det)

		if a.repo != nil {
			record := det
			if err := a.repo.Insert(&record); err != nil {
				a.metrics.PersistErrors.Add(1)
				a.logger.Error("Failed to persist detection %s: %v", det.ID, err)
			}
		}
	}

	a.recompute(now)
	return processed
}

// append adds a detection to the rolling history, evicting the oldest entry
// when the window is full.
func (a *Aggregator) append(det models.Detection) {
	if len(a.history) == a.capacity {
		copy(a.history, a.history[1:])
		a.history = a.history[:a.capacity-1]
	}
	a.history = append(a.history, det)
}

// recompute derives statistics from the full rolling history. Caller holds
// the mutex.
func (a *Aggregator) recompute(now time.Time) {
	total := len(a.history)
	a.stats.TotalDetections = total
	a.stats.LastUpdate = now

	if total == 0 {
		a.stats.MaskedCount = 0
		a.stats.UnmaskedCount = 0
		a.stats.ComplianceRate = 0
		a.stats.AvgConfidence = 0
		return
	}

	masked := 0
	confidenceSum := 0.0
	for _, det := range a.history {
		if det.HasMask {
			masked++
		}
		confidenceSum += det.Confidence
	}

	a.stats.MaskedCount = masked
	a.stats.UnmaskedCount = total - masked
	a.stats.ComplianceRate = round(float64(masked)/float64(total)*100, 2)
	a.stats.AvgConfidence = round(confidenceSum/float64(total), 3)
}

// GetStatistics returns an immutable copy of the current statistics.
func (a *Aggregator) GetStatistics() models.Statistics {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}

// GetHistory returns the most recent limit detections, newest-last. A
// non-positive limit returns the full window.
func (a *Aggregator) GetHistory(limit int) []models.Detection {
	a.mu.Lock()
	defer a.mu.Unlock()

	if limit <= 0 || limit > len(a.history) {
		limit = len(a.history)
	}
	return models.CloneBatch(a.history[len(a.history)-limit:])
}

// GetSettings returns a copy of the current settings.
func (a *Aggregator) GetSettings() models.Settings {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.settings
}

// UpdateSettings merges a partial update into the settings and returns the
// resulting full settings.
func (a *Aggregator) UpdateSettings(update models.SettingsUpdate) models.Settings {
	a.mu.Lock()
	defer a.mu.Unlock()

	if update.VisualAlerts != nil {
		a.settings.VisualAlerts = *update.VisualAlerts
	}
	if update.SoundAlerts != nil {
		a.settings.SoundAlerts = *update.SoundAlerts
	}
	if update.ConfidenceThreshold != nil {
		a.settings.ConfidenceThreshold = *update.ConfidenceThreshold
	}
	if update.AlertCooldown != nil {
		a.settings.AlertCooldown = *update.AlertCooldown
	}

	a.logger.Info("Settings updated: %+v", a.settings)
	return a.settings
}

// ClearAlerts resets the active alert counter and the cooldown map.
func (a *Aggregator) ClearAlerts() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.stats.ActiveAlerts = 0
	a.lastAlert = make(map[string]time.Time)
}

func round(value float64, places int) float64 {
	factor := math.Pow(10, float64(places))
	return math.Round(value*factor) / factor
}
