package models

import "time"

// BBox is a face bounding box in pixel coordinates.
type BBox struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// Detection represents one classified face region at one point in time.
// The ID is assigned when the detection is ingested by the aggregator and
// is not stable across frames: two inference passes over the same physical
// face yield two different ids.
type Detection struct {
	ID             string    `json:"id"`
	BBox           BBox      `json:"bbox"`
	HasMask        bool      `json:"hasMask"`
	Confidence     float64   `json:"confidence"`
	Timestamp      time.Time `json:"timestamp"`
	AlertTriggered bool      `json:"alertTriggered"`
}

// CloneBatch returns an independent copy of a detection batch so consumers
// never share a slice with the capture loop.
func CloneBatch(batch []Detection) []Detection {
	if batch == nil {
		return nil
	}
	out := make([]Detection, len(batch))
	copy(out, batch)
	return out
}
