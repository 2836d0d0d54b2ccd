package models

import "time"

// Statistics is a derived snapshot recomputed from the rolling detection
// history. Owned by the stats aggregator; consumers only ever see copies.
type Statistics struct {
	TotalDetections int       `json:"totalDetections"`
	MaskedCount     int       `json:"maskedCount"`
	UnmaskedCount   int       `json:"unmaskedCount"`
	ComplianceRate  float64   `json:"complianceRate"`
	AvgConfidence   float64   `json:"avgConfidence"`
	ActiveAlerts    int       `json:"activeAlerts"`
	LastUpdate      time.Time `json:"lastUpdate"`
}
