package config

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	Port                int
	DatabasePath        string
	CameraIndex         int
	FrameWidth          int     // Requested capture width (device may not honor it)
	FrameHeight         int     // Requested capture height
	TargetFPS           int     // Capture loop rate cap
	DetectionInterval   int     // Run inference every N-th frame (process-start constant)
	HistoryCapacity     int     // Rolling detection history size (process-start constant)
	ConfidenceThreshold float64 // Initial alert threshold, runtime-mutable via settings
	AlertCooldownMs     int     // Initial alert cooldown, runtime-mutable via settings
	JPEGQuality         int
	RetentionDays       int // Stored detections older than this are pruned
	CascadePath         string
	LogDirectory        string
}

func Load() *Config {
	// Optional .env next to the binary.
	_ = godotenv.Load()

	return &Config{
		Port:                getEnvAsInt("PORT", 8080),
		DatabasePath:        getEnv("DB_PATH", filepath.Join(".", "data", "detections.db")),
		CameraIndex:         getEnvAsInt("CAMERA_INDEX", 0),
		FrameWidth:          getEnvAsInt("FRAME_WIDTH", 640),
		FrameHeight:         getEnvAsInt("FRAME_HEIGHT", 480),
		TargetFPS:           getEnvAsInt("TARGET_FPS", 30),
		DetectionInterval:   getEnvAsInt("DETECTION_INTERVAL", 5),
		HistoryCapacity:     getEnvAsInt("HISTORY_CAPACITY", 1000),
		ConfidenceThreshold: getEnvAsFloat("CONFIDENCE_THRESHOLD", 0.8),
		AlertCooldownMs:     getEnvAsInt("ALERT_COOLDOWN_MS", 5000),
		JPEGQuality:         getEnvAsInt("JPEG_QUALITY", 80),
		RetentionDays:       getEnvAsInt("RETENTION_DAYS", 7),
		CascadePath:         getEnv("CASCADE_PATH", filepath.Join(".", "internal", "services", "ai", "haarcascade_frontalface_default.xml")),
		LogDirectory:        getEnv("LOG_DIR", filepath.Join(".", "logs")),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}
