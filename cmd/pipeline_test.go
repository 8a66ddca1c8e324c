package cmd

import (
	"io"
	"log/slog"
	"testing"

	"github.com/TomSft15/BlurFace/internal/blur"
	"github.com/TomSft15/BlurFace/internal/config"
)

func TestNewPipelineFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Blur.Method = "pixelate"
	cfg.Blur.Intensity = 12
	cfg.Video.ReopenAttempts = 5
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	p, err := newPipeline(cfg, log)
	if err != nil {
		t.Fatalf("newPipeline failed: %v", err)
	}

	bc := p.batchConfig(log)
	if bc.BlurMethod != blur.Pixelate || bc.BlurIntensity != 12 {
		t.Errorf("batch blur = %v/%d, want pixelate/12", bc.BlurMethod, bc.BlurIntensity)
	}
	if bc.Opener == nil || bc.Sinks == nil || bc.DetectorFactory == nil {
		t.Error("batch config is missing its plumbing")
	}
	if bc.Detection.MinConfidence != 0.5 || bc.Detection.ModelSelection != 1 {
		t.Errorf("detection = %+v", bc.Detection)
	}

	so := p.sessionOptions(cfg, log)
	if so.ReopenAttempts != 5 || so.MaxConsecutiveFailures != 10 || so.DefaultWidth != 640 {
		t.Errorf("session options = %+v", so)
	}
	if p.ffmpeg.FFmpegBin != "ffmpeg" || p.inspector.FFprobe != "ffprobe" {
		t.Errorf("binaries = %q/%q", p.ffmpeg.FFmpegBin, p.inspector.FFprobe)
	}
}

func TestNewPipelineRejectsUnknownMethod(t *testing.T) {
	cfg := config.Default()
	cfg.Blur.Method = "swirl"
	if _, err := newPipeline(cfg, slog.Default()); err == nil {
		t.Error("expected an error for an unknown blur method")
	}
}
