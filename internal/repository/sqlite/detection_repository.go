package sqlite

import (
	"fmt"
	"time"

	"maskserver/internal/models"
)

// DetectionRepository implements repository.DetectionRepository for SQLite.
type DetectionRepository struct {
	db *DB
}

// NewDetectionRepository creates a new SQLite detection repository.
func NewDetectionRepository(db *DB) *DetectionRepository {
	return &DetectionRepository{db: db}
}

// Insert appends a processed detection record.
func (r *DetectionRepository) Insert(det *models.Detection) error {
	r.db.Lock()
	defer r.db.Unlock()

	_, err := r.db.Conn().Exec(`
		INSERT INTO detections (id, timestamp, has_mask, confidence, x, y, w, h, alert_triggered)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, det.ID, det.Timestamp, det.HasMask, det.Confidence,
		det.BBox.X, det.BBox.Y, det.BBox.W, det.BBox.H, det.AlertTriggered)
	if err != nil {
		return fmt.Errorf("failed to insert detection: %w", err)
	}

	return nil
}

// GetRecent returns up to limit detections ordered newest-first.
func (r *DetectionRepository) GetRecent(limit int) ([]models.Detection, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	rows, err := r.db.Conn().Query(`
		SELECT id, timestamp, has_mask, confidence, x, y, w, h, alert_triggered
		FROM detections ORDER BY timestamp DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query detections: %w", err)
	}
	defer rows.Close()

	var detections []models.Detection
	for rows.Next() {
		var det models.Detection
		if err := rows.Scan(&det.ID, &det.Timestamp, &det.HasMask, &det.Confidence,
			&det.BBox.X, &det.BBox.Y, &det.BBox.W, &det.BBox.H, &det.AlertTriggered); err != nil {
			return nil, fmt.Errorf("failed to scan detection: %w", err)
		}
		detections = append(detections, det)
	}

	return detections, rows.Err()
}

// DeleteOlderThan removes detections recorded before the cutoff and returns
// the number of deleted rows.
func (r *DetectionRepository) DeleteOlderThan(cutoff time.Time) (int64, error) {
	r.db.Lock()
	defer r.db.Unlock()

	result, err := r.db.Conn().Exec(`DELETE FROM detections WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete detections: %w", err)
	}

	return result.RowsAffected()
}
