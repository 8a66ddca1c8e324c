package config

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Chdir(t.TempDir()) // no stray .env
	t.Setenv("POSTGRES_HOST", "")
	t.Setenv("BLURFACE_DATABASE_URL", "")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	def := Default()
	if cfg.Blur.Method != def.Blur.Method || cfg.Blur.Intensity != def.Blur.Intensity {
		t.Errorf("blur defaults not applied: %+v", cfg.Blur)
	}
	if cfg.Detection.MinConfidence != 0.5 {
		t.Errorf("MinConfidence = %v, want 0.5", cfg.Detection.MinConfidence)
	}
	if cfg.WorkerTimeout() != 30*time.Second {
		t.Errorf("WorkerTimeout() = %v, want 30s", cfg.WorkerTimeout())
	}
	if cfg.DatabaseURL() != DefaultDatabaseURL {
		t.Errorf("DatabaseURL() = %q, want local default", cfg.DatabaseURL())
	}
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	t.Chdir(t.TempDir())

	path := filepath.Join(t.TempDir(), "blurface.toml")
	body := `
log_level = "debug"

[blur]
method = "pixelate"
intensity = 50

[video]
stream_fps = 15.0
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("BLURFACE_BLUR_INTENSITY", "70")
	t.Setenv("POSTGRES_HOST", "db")
	t.Setenv("POSTGRES_USER", "u")
	t.Setenv("POSTGRES_PASSWORD", "p")
	t.Setenv("POSTGRES_DB", "blur")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Blur.Method != "pixelate" {
		t.Errorf("Method = %q, want pixelate", cfg.Blur.Method)
	}
	if cfg.Blur.Intensity != 70 {
		t.Errorf("Intensity = %d, want env override 70", cfg.Blur.Intensity)
	}
	if cfg.Video.StreamFPS != 15 {
		t.Errorf("StreamFPS = %v, want 15", cfg.Video.StreamFPS)
	}
	if cfg.SlogLevel() != slog.LevelDebug {
		t.Errorf("SlogLevel() = %v, want debug", cfg.SlogLevel())
	}
	if want := "postgres://u:p@db:5432/blur"; cfg.DatabaseURL() != want {
		t.Errorf("DatabaseURL() = %q, want %q", cfg.DatabaseURL(), want)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"Defaults", func(c *Config) {}, false},
		{"Unknown blur method", func(c *Config) { c.Blur.Method = "smudge" }, true},
		{"Confidence above one", func(c *Config) { c.Detection.MinConfidence = 1.5 }, true},
		{"Confidence zero", func(c *Config) { c.Detection.MinConfidence = 0 }, true},
		{"Bad model selection", func(c *Config) { c.Detection.ModelSelection = 2 }, true},
		{"Bad worker timeout", func(c *Config) { c.Detection.WorkerTimeout = "soon" }, true},
		{"Zero fps", func(c *Config) { c.Video.StreamFPS = 0 }, true},
		{"Intensity floored", func(c *Config) { c.Blur.Intensity = -4 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(c)
			err := c.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalid) {
				t.Errorf("expected ErrInvalid, got %v", err)
			}
			if c.Blur.Intensity < 1 {
				t.Errorf("intensity not floored: %d", c.Blur.Intensity)
			}
		})
	}
}
