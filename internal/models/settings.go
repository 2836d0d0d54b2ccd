package models

// Settings is the runtime-mutable detection policy. AlertCooldown is in
// milliseconds to match the wire protocol.
type Settings struct {
	VisualAlerts        bool    `json:"visualAlerts"`
	SoundAlerts         bool    `json:"soundAlerts"`
	ConfidenceThreshold float64 `json:"confidenceThreshold"`
	AlertCooldown       int     `json:"alertCooldown"`
}

// SettingsUpdate carries a partial settings change; nil fields keep their
// current value.
type SettingsUpdate struct {
	VisualAlerts        *bool    `json:"visualAlerts,omitempty"`
	SoundAlerts         *bool    `json:"soundAlerts,omitempty"`
	ConfidenceThreshold *float64 `json:"confidenceThreshold,omitempty"`
	AlertCooldown       *int     `json:"alertCooldown,omitempty"`
}
