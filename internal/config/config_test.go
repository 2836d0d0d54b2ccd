package config

import (
	"path/filepath"
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()

	if cfg.Port != 8080 {
		t.Errorf("Expected default port 8080, got %d", cfg.Port)
	}
	if cfg.CameraIndex != 0 {
		t.Errorf("Expected default camera index 0, got %d", cfg.CameraIndex)
	}
	if cfg.FrameWidth != 640 || cfg.FrameHeight != 480 {
		t.Errorf("Expected default frame size 640x480, got %dx%d", cfg.FrameWidth, cfg.FrameHeight)
	}
	if cfg.TargetFPS != 30 {
		t.Errorf("Expected default target FPS 30, got %d", cfg.TargetFPS)
	}
	if cfg.DetectionInterval != 5 {
		t.Errorf("Expected default detection interval 5, got %d", cfg.DetectionInterval)
	}
	if cfg.HistoryCapacity != 1000 {
		t.Errorf("Expected default history capacity 1000, got %d", cfg.HistoryCapacity)
	}
	if cfg.ConfidenceThreshold != 0.8 {
		t.Errorf("Expected default confidence threshold 0.8, got %v", cfg.ConfidenceThreshold)
	}
	if cfg.AlertCooldownMs != 5000 {
		t.Errorf("Expected default alert cooldown 5000ms, got %d", cfg.AlertCooldownMs)
	}
	if cfg.JPEGQuality != 80 {
		t.Errorf("Expected default JPEG quality 80, got %d", cfg.JPEGQuality)
	}
	if cfg.RetentionDays != 7 {
		t.Errorf("Expected default retention of 7 days, got %d", cfg.RetentionDays)
	}
	if cfg.DatabasePath == "" || cfg.CascadePath == "" || cfg.LogDirectory == "" {
		t.Error("Path defaults should not be empty")
	}
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "custom.db")
	t.Setenv("PORT", "9090")
	t.Setenv("DB_PATH", dbPath)
	t.Setenv("TARGET_FPS", "15")
	t.Setenv("CONFIDENCE_THRESHOLD", "0.65")

	cfg := Load()

	if cfg.Port != 9090 {
		t.Errorf("Expected port 9090, got %d", cfg.Port)
	}
	if cfg.DatabasePath != dbPath {
		t.Errorf("Expected database path %s, got %s", dbPath, cfg.DatabasePath)
	}
	if cfg.TargetFPS != 15 {
		t.Errorf("Expected target FPS 15, got %d", cfg.TargetFPS)
	}
	if cfg.ConfidenceThreshold != 0.65 {
		t.Errorf("Expected confidence threshold 0.65, got %v", cfg.ConfidenceThreshold)
	}
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("PORT", "not-a-number")
	t.Setenv("CONFIDENCE_THRESHOLD", "high")

	cfg := Load()

	if cfg.Port != 8080 {
		t.Errorf("Invalid PORT should fall back to 8080, got %d", cfg.Port)
	}
	if cfg.ConfidenceThreshold != 0.8 {
		t.Errorf("Invalid threshold should fall back to 0.8, got %v", cfg.ConfidenceThreshold)
	}
}
