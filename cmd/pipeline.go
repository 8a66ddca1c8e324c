package cmd

import (
	"log/slog"

	"github.com/TomSft15/BlurFace/internal/batch"
	"github.com/TomSft15/BlurFace/internal/blur"
	"github.com/TomSft15/BlurFace/internal/config"
	"github.com/TomSft15/BlurFace/internal/detector"
	"github.com/TomSft15/BlurFace/internal/session"
	"github.com/TomSft15/BlurFace/internal/video"
	"github.com/TomSft15/BlurFace/internal/worker"
)

// pipeline bundles the ffmpeg plumbing and detector factory built from config.
type pipeline struct {
	inspector video.Inspector
	ffmpeg    *video.FFmpeg
	detectors detector.Factory
	detection detector.Settings
	method    blur.Method
	intensity int
}

func newPipeline(cfg *config.Config, log *slog.Logger) (*pipeline, error) {
	method, err := blur.ParseMethod(cfg.Blur.Method)
	if err != nil {
		return nil, err
	}
	inspector := video.Inspector{FFprobe: cfg.Video.FFprobe, Log: log}
	return &pipeline{
		inspector: inspector,
		ffmpeg: &video.FFmpeg{
			FFmpegBin:     cfg.Video.FFmpeg,
			Inspector:     inspector,
			DefaultFPS:    cfg.Video.DefaultFPS,
			DefaultWidth:  cfg.Video.DefaultWidth,
			DefaultHeight: cfg.Video.DefaultHeight,
			Log:           log,
		},
		detectors: detector.WorkerFactory(worker.Config{
			Command:     cfg.Detection.WorkerCommand,
			Script:      cfg.Detection.WorkerScript,
			ReadTimeout: cfg.WorkerTimeout(),
		}),
		detection: detector.Settings{
			MinConfidence:  cfg.Detection.MinConfidence,
			ModelSelection: cfg.Detection.ModelSelection,
		},
		method:    method,
		intensity: cfg.Blur.Intensity,
	}, nil
}

func (p *pipeline) batchConfig(log *slog.Logger) batch.Config {
	return batch.Config{
		Opener:          p.ffmpeg,
		Sinks:           p.ffmpeg,
		DetectorFactory: p.detectors,
		Detection:       p.detection,
		BlurMethod:      p.method,
		BlurIntensity:   p.intensity,
		Log:             log,
	}
}

func (p *pipeline) sessionOptions(cfg *config.Config, log *slog.Logger) session.Options {
	return session.Options{
		Opener:                 p.ffmpeg,
		DetectorFactory:        p.detectors,
		Detection:              p.detection,
		BlurMethod:             p.method,
		BlurIntensity:          p.intensity,
		ReopenAttempts:         cfg.Video.ReopenAttempts,
		MaxConsecutiveFailures: cfg.Video.MaxConsecutiveFailures,
		DefaultWidth:           cfg.Video.DefaultWidth,
		DefaultHeight:          cfg.Video.DefaultHeight,
		Log:                    log,
	}
}
