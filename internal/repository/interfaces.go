package repository

import (
	"time"

	"maskserver/internal/models"
)

// DetectionRepository defines durable storage for processed detections.
// Writes are best-effort from the aggregator's perspective: a failed insert
// is logged by the caller and never propagated.
type DetectionRepository interface {
	Insert(det *models.Detection) error
	GetRecent(limit int) ([]models.Detection, error)
	DeleteOlderThan(cutoff time.Time) (int64, error)
}
