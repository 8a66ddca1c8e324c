// Package config loads layered service configuration: defaults, a TOML file,
// a .env file and finally environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// ErrInvalid marks a configuration value that was rejected.
var ErrInvalid = errors.New("invalid configuration")

// Config holds every runtime setting of the service and the CLI.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Paths     PathsConfig     `toml:"paths"`
	Detection DetectionConfig `toml:"detection"`
	Blur      BlurConfig      `toml:"blur"`
	Video     VideoConfig     `toml:"video"`
	Database  DatabaseConfig  `toml:"database"`
	LogLevel  string          `toml:"log_level"`
}

type ServerConfig struct {
	Addr         string `toml:"addr"`
	CORSOrigins  string `toml:"cors_origins"`
	MaxUploadMB  int    `toml:"max_upload_mb"`
	ReadTimeout  string `toml:"read_timeout"`
	WriteTimeout string `toml:"write_timeout"`
}

type PathsConfig struct {
	TempDir   string `toml:"temp_dir"`
	OutputDir string `toml:"output_dir"`
}

type DetectionConfig struct {
	MinConfidence  float64 `toml:"min_confidence"`
	ModelSelection int     `toml:"model_selection"`
	WorkerCommand  string  `toml:"worker_command"`
	WorkerScript   string  `toml:"worker_script"`
	WorkerTimeout  string  `toml:"worker_timeout"`
}

type BlurConfig struct {
	Method    string `toml:"method"`
	Intensity int    `toml:"intensity"`
}

type VideoConfig struct {
	FFmpeg                 string  `toml:"ffmpeg"`
	FFprobe                string  `toml:"ffprobe"`
	DefaultFPS             float64 `toml:"default_fps"`
	DefaultWidth           int     `toml:"default_width"`
	DefaultHeight          int     `toml:"default_height"`
	StreamFPS              float64 `toml:"stream_fps"`
	MaxConsecutiveFailures int     `toml:"max_consecutive_failures"`
	ReopenAttempts         int     `toml:"reopen_attempts"`
	JPEGQuality            int     `toml:"jpeg_quality"`
}

type DatabaseConfig struct {
	URL string `toml:"url"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:         ":5000",
			CORSOrigins:  "*",
			MaxUploadMB:  512,
			ReadTimeout:  "15s",
			WriteTimeout: "0s", // streams stay open
		},
		Paths: PathsConfig{
			TempDir:   "temp",
			OutputDir: "output",
		},
		Detection: DetectionConfig{
			MinConfidence:  0.5,
			ModelSelection: 1,
			WorkerCommand:  "python3",
			WorkerScript:   "python/face_worker.py",
			WorkerTimeout:  "30s",
		},
		Blur: BlurConfig{
			Method:    "gaussian",
			Intensity: 35,
		},
		Video: VideoConfig{
			FFmpeg:                 "ffmpeg",
			FFprobe:                "ffprobe",
			DefaultFPS:             30,
			DefaultWidth:           640,
			DefaultHeight:          480,
			StreamFPS:              30,
			MaxConsecutiveFailures: 10,
			ReopenAttempts:         3,
			JPEGQuality:            85,
		},
		LogLevel: "info",
	}
}

// Load builds the configuration from defaults, the TOML file at path (a
// missing file is not an error), an optional .env file and the environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, cfg); err != nil {
				return nil, fmt.Errorf("failed to decode config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat config: %w", err)
		}
	}

	// .env is optional; system environment variables still apply without it.
	_ = godotenv.Load()

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Server.Addr = getEnv("BLURFACE_HTTP_ADDR", c.Server.Addr)
	c.Server.CORSOrigins = getEnv("BLURFACE_CORS_ORIGINS", c.Server.CORSOrigins)
	c.Server.MaxUploadMB = getEnvInt("BLURFACE_MAX_UPLOAD_MB", c.Server.MaxUploadMB)
	c.Paths.TempDir = getEnv("BLURFACE_TEMP_DIR", c.Paths.TempDir)
	c.Paths.OutputDir = getEnv("BLURFACE_OUTPUT_DIR", c.Paths.OutputDir)
	c.Detection.MinConfidence = getEnvFloat("BLURFACE_MIN_CONFIDENCE", c.Detection.MinConfidence)
	c.Detection.ModelSelection = getEnvInt("BLURFACE_MODEL_SELECTION", c.Detection.ModelSelection)
	c.Detection.WorkerCommand = getEnv("BLURFACE_WORKER_COMMAND", c.Detection.WorkerCommand)
	c.Detection.WorkerScript = getEnv("BLURFACE_WORKER_SCRIPT", c.Detection.WorkerScript)
	c.Detection.WorkerTimeout = getEnv("BLURFACE_WORKER_TIMEOUT", c.Detection.WorkerTimeout)
	c.Blur.Method = getEnv("BLURFACE_BLUR_METHOD", c.Blur.Method)
	c.Blur.Intensity = getEnvInt("BLURFACE_BLUR_INTENSITY", c.Blur.Intensity)
	c.Video.FFmpeg = getEnv("BLURFACE_FFMPEG", c.Video.FFmpeg)
	c.Video.FFprobe = getEnv("BLURFACE_FFPROBE", c.Video.FFprobe)
	c.Video.StreamFPS = getEnvFloat("BLURFACE_STREAM_FPS", c.Video.StreamFPS)
	c.LogLevel = getEnv("BLURFACE_LOG_LEVEL", c.LogLevel)
	c.Database.URL = getEnv("BLURFACE_DATABASE_URL", c.Database.URL)

	// Build the connection string from the postgres variables when no URL was given.
	if c.Database.URL == "" {
		if host := os.Getenv("POSTGRES_HOST"); host != "" {
			port := getEnv("POSTGRES_PORT", "5432")
			c.Database.URL = fmt.Sprintf("postgres://%s:%s@%s:%s/%s",
				os.Getenv("POSTGRES_USER"), os.Getenv("POSTGRES_PASSWORD"), host, port, os.Getenv("POSTGRES_DB"))
		}
	}
}

// Validate rejects values the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Detection.MinConfidence <= 0 || c.Detection.MinConfidence > 1.0 {
		return fmt.Errorf("%w: min_confidence must be between 0.0 and 1.0, got %f", ErrInvalid, c.Detection.MinConfidence)
	}
	if c.Detection.ModelSelection != 0 && c.Detection.ModelSelection != 1 {
		return fmt.Errorf("%w: model_selection must be 0 or 1, got %d", ErrInvalid, c.Detection.ModelSelection)
	}
	switch c.Blur.Method {
	case "gaussian", "pixelate", "solid":
	default:
		return fmt.Errorf("%w: unknown blur method %q", ErrInvalid, c.Blur.Method)
	}
	if c.Blur.Intensity < 1 {
		c.Blur.Intensity = 1
	}
	if c.Video.DefaultFPS <= 0 || c.Video.StreamFPS <= 0 {
		return fmt.Errorf("%w: fps values must be positive", ErrInvalid)
	}
	if c.Video.DefaultWidth <= 0 || c.Video.DefaultHeight <= 0 {
		return fmt.Errorf("%w: default resolution must be positive, got %dx%d", ErrInvalid, c.Video.DefaultWidth, c.Video.DefaultHeight)
	}
	if c.Video.MaxConsecutiveFailures < 1 {
		c.Video.MaxConsecutiveFailures = 1
	}
	if c.Video.ReopenAttempts < 1 {
		c.Video.ReopenAttempts = 1
	}
	if c.Video.JPEGQuality < 1 || c.Video.JPEGQuality > 100 {
		return fmt.Errorf("%w: jpeg_quality must be between 1 and 100, got %d", ErrInvalid, c.Video.JPEGQuality)
	}
	for name, v := range map[string]string{
		"worker_timeout": c.Detection.WorkerTimeout,
		"read_timeout":   c.Server.ReadTimeout,
		"write_timeout":  c.Server.WriteTimeout,
	} {
		if _, err := time.ParseDuration(v); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalid, name, err)
		}
	}
	return nil
}

// DefaultDatabaseURL is the local job history used when no database is configured.
const DefaultDatabaseURL = "sqlite://blurface.db"

// DatabaseURL returns the configured job store URL, or the local SQLite default.
func (c *Config) DatabaseURL() string {
	if c.Database.URL == "" {
		return DefaultDatabaseURL
	}
	return c.Database.URL
}

// WorkerTimeout returns the parsed per-frame worker timeout.
func (c *Config) WorkerTimeout() time.Duration {
	d, _ := time.ParseDuration(c.Detection.WorkerTimeout)
	return d
}

// ServerTimeouts returns the parsed HTTP read and write timeouts.
func (c *Config) ServerTimeouts() (read, write time.Duration) {
	read, _ = time.ParseDuration(c.Server.ReadTimeout)
	write, _ = time.ParseDuration(c.Server.WriteTimeout)
	return read, write
}

// SlogLevel maps LogLevel onto slog levels. Unknown values fall back to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}
