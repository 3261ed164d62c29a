// Package config loads service configuration from an optional YAML file
// with environment variable overrides. A .env file, when present, is
// loaded by the CLI before this package reads the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds everything the service needs at startup.
type Config struct {
	// Server
	ListenAddr    string `yaml:"listen_addr"`
	LogLevel      string `yaml:"log_level"`
	MaxUploadSize int64  `yaml:"max_upload_size"`

	// Models
	LandmarkModelPath string `yaml:"landmark_model"`
	InpaintModelPath  string `yaml:"inpaint_model"`
	OrtLibraryPath    string `yaml:"ort_library"`
	Device            string `yaml:"device"` // cpu, cuda or coreml

	// Pipeline
	Workers          int           `yaml:"workers"`
	InferenceTimeout time.Duration `yaml:"inference_timeout"`

	// Sessions
	DataDir       string        `yaml:"data_dir"`
	Retention     time.Duration `yaml:"retention"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		ListenAddr:        ":8090",
		LogLevel:          "info",
		MaxUploadSize:     16 << 20,
		LandmarkModelPath: "models/landmark68.onnx",
		InpaintModelPath:  "models/inpaint.onnx",
		OrtLibraryPath:    "",
		Device:            "cpu",
		Workers:           2,
		InferenceTimeout:  2 * time.Minute,
		DataDir:           "sessions",
		Retention:         time.Hour,
		SweepInterval:     10 * time.Minute,
	}
}

// Load builds the configuration from defaults, an optional YAML file and
// environment overrides, in that order of precedence (later wins).
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if cfg.Workers < 1 {
		return nil, fmt.Errorf("workers must be at least 1, got %d", cfg.Workers)
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.ListenAddr = getEnv("INPAINTD_LISTEN_ADDR", c.ListenAddr)
	c.LogLevel = getEnv("INPAINTD_LOG_LEVEL", c.LogLevel)
	c.MaxUploadSize = getEnvAsInt64("INPAINTD_MAX_UPLOAD_SIZE", c.MaxUploadSize)
	c.LandmarkModelPath = getEnv("INPAINTD_LANDMARK_MODEL", c.LandmarkModelPath)
	c.InpaintModelPath = getEnv("INPAINTD_INPAINT_MODEL", c.InpaintModelPath)
	c.OrtLibraryPath = getEnv("INPAINTD_ORT_LIBRARY", c.OrtLibraryPath)
	c.Device = getEnv("INPAINTD_DEVICE", c.Device)
	c.Workers = getEnvAsInt("INPAINTD_WORKERS", c.Workers)
	c.InferenceTimeout = getEnvAsDuration("INPAINTD_INFERENCE_TIMEOUT", c.InferenceTimeout)
	c.DataDir = getEnv("INPAINTD_DATA_DIR", c.DataDir)
	c.Retention = getEnvAsDuration("INPAINTD_RETENTION", c.Retention)
	c.SweepInterval = getEnvAsDuration("INPAINTD_SWEEP_INTERVAL", c.SweepInterval)
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

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
