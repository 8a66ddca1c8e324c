package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/TomSft15/BlurFace/internal/blur"
	"github.com/TomSft15/BlurFace/internal/detector"
	"github.com/TomSft15/BlurFace/internal/jobs"
	"github.com/TomSft15/BlurFace/internal/types"
	"github.com/TomSft15/BlurFace/internal/utils"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

// ProcessOptions holds the flags of the process command.
type ProcessOptions struct {
	InputPath      string
	OutputPath     string
	Method         string
	Intensity      int
	Faces          string
	DrawDetections bool
	MinConfidence  float64
	ModelSelection int
}

var processOpts ProcessOptions

var processCmd = &cobra.Command{
	Use:         "process",
	Short:       "Blur every face of a video file",
	Annotations: map[string]string{needsStore: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		// Unset flags fall back to the configuration.
		if !cmd.Flags().Changed("method") {
			processOpts.Method = Cfg.Blur.Method
		}
		if !cmd.Flags().Changed("intensity") {
			processOpts.Intensity = Cfg.Blur.Intensity
		}
		if !cmd.Flags().Changed("min-confidence") {
			processOpts.MinConfidence = Cfg.Detection.MinConfidence
		}
		if !cmd.Flags().Changed("model-selection") {
			processOpts.ModelSelection = Cfg.Detection.ModelSelection
		}
		return runProcess(cmd.Context(), processOpts)
	},
}

func init() {
	processCmd.Flags().StringVarP(&processOpts.InputPath, "input", "i", "", "Path to input video")
	processCmd.Flags().StringVarP(&processOpts.OutputPath, "output", "o", "", "Path to output video (default: <output_dir>/<input>_blurred.mp4)")
	processCmd.Flags().StringVarP(&processOpts.Method, "method", "m", "gaussian", "Blur method: gaussian, pixelate, solid")
	processCmd.Flags().IntVarP(&processOpts.Intensity, "intensity", "s", 35, "Blur intensity (kernel size or pixel block count)")
	processCmd.Flags().StringVarP(&processOpts.Faces, "faces", "f", "", "Comma-separated per-frame face indices to blur (default: all, 'none' for none)")
	processCmd.Flags().BoolVar(&processOpts.DrawDetections, "draw", false, "Draw detection boxes and scores on the output")
	processCmd.Flags().Float64VarP(&processOpts.MinConfidence, "min-confidence", "D", 0.5, "Face detection confidence threshold")
	processCmd.Flags().IntVar(&processOpts.ModelSelection, "model-selection", 1, "Detection model: 0 short range, 1 full range")

	processCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(processCmd)
}

func runProcess(ctx context.Context, opts ProcessOptions) error {
	// Create a cancellable context to ensure all child processes (FFmpeg, Python)
	// are killed immediately if this function returns early (e.g. on error).
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := validateProcessFlags(&opts); err != nil {
		return err
	}
	selected, err := parseFaces(opts.Faces)
	if err != nil {
		utils.ShowError("Invalid --faces list", err, nil)
		return err
	}

	p, err := newPipeline(Cfg, logger)
	if err != nil {
		utils.ShowError("Configuration Error", err, nil)
		return err
	}
	info, err := p.inspector.Info(ctx, opts.InputPath)
	if err != nil {
		utils.ShowError("Failed to read video metadata", err, nil)
		return err
	}

	manager := jobs.NewManager(ctx, p.batchConfig(logger), Jobs, Cfg.Paths.OutputDir, logger)
	intensity := opts.Intensity
	job, err := manager.Submit(jobs.Request{
		InputPath:      opts.InputPath,
		OutputPath:     opts.OutputPath,
		DrawDetections: opts.DrawDetections,
		Blur: jobs.BlurSettings{
			Method:        opts.Method,
			Intensity:     &intensity,
			SelectedFaces: selected,
		},
		Detection: &detector.Settings{MinConfidence: opts.MinConfidence, ModelSelection: opts.ModelSelection},
	})
	if err != nil {
		utils.ShowError("Failed to start processing", err, nil)
		return err
	}
	snap, updates, stop, err := manager.Subscribe(job.ID)
	if err != nil {
		return err
	}
	defer stop()

	var barTotal int64 = int64(info.FrameCount)
	if barTotal <= 0 {
		barTotal = -1 // Trigger spinner mode
	}
	bar := progressbar.NewOptions64(barTotal,
		progressbar.OptionSetDescription("Blurring"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
	)

	// A run that finished before Subscribe yields a terminal snapshot and no updates.
	final := snap.Status
	for s := range updates {
		if s.TotalFrames > 0 && int64(s.TotalFrames) != barTotal {
			barTotal = int64(s.TotalFrames)
			bar.ChangeMax64(barTotal)
		}
		bar.Set(s.FramesProcessed)
		final = s
	}
	manager.Wait()
	bar.Finish()
	fmt.Fprintln(os.Stderr)

	if final.Status == types.StatusError {
		err := errors.New("processing failed")
		if final.ErrorMessage != nil {
			err = errors.New(*final.ErrorMessage)
		}
		utils.ShowError("Processing failed", err, nil)
		return err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	fmt.Printf("✅ Blurred %d frames in %s → %s\n", final.FramesProcessed, utils.FormatDuration(final.ElapsedTime), job.OutputPath)
	fmt.Printf("   Job ID: %s\n", job.ID)
	return nil
}

func validateProcessFlags(opts *ProcessOptions) error {
	info, err := os.Stat(opts.InputPath)
	if err != nil {
		if os.IsNotExist(err) {
			utils.ShowError("Input file does not exist", err, nil)
			return err
		}
		utils.ShowError("Unable to access input file", err, nil)
		return err
	}
	if info.IsDir() {
		err := fmt.Errorf("is a directory")
		utils.ShowError("Input path is a directory, expected a video file", err, nil)
		return err
	}

	// Relative outputs given on the command line resolve against the working
	// directory, not the service output directory.
	if opts.OutputPath != "" {
		outAbs, err := filepath.Abs(opts.OutputPath)
		if err != nil {
			utils.ShowError("Invalid output path", err, nil)
			return err
		}
		opts.OutputPath = outAbs
		// Safety Check: Prevent overwriting input file which causes corruption
		inAbs, _ := filepath.Abs(opts.InputPath)
		if inAbs == outAbs {
			err := fmt.Errorf("input and output paths must be different to prevent file corruption")
			utils.ShowError("Configuration Error", err, nil)
			return err
		}
	}

	if _, err := blur.ParseMethod(opts.Method); err != nil {
		err := fmt.Errorf("invalid method '%s'. Must be one of: gaussian, pixelate, solid", opts.Method)
		utils.ShowError("Configuration Error", err, nil)
		return err
	}

	if opts.Intensity < 1 {
		opts.Intensity = 1
	}

	settings := detector.Settings{MinConfidence: opts.MinConfidence, ModelSelection: opts.ModelSelection}
	if err := settings.Validate(); err != nil {
		utils.ShowError("Invalid detection settings", err, nil)
		return err
	}

	return nil
}

// parseFaces turns "0,2" into a selection. An empty list selects every face
// and "none" selects no face at all.
func parseFaces(s string) (types.SelectedFaces, error) {
	s = strings.TrimSpace(s)
	switch s {
	case "":
		return nil, nil
	case "none":
		return types.SelectedFaces{}, nil
	}
	var out types.SelectedFaces
	for _, part := range strings.Split(s, ",") {
		idx, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || idx < 0 {
			return nil, fmt.Errorf("invalid face index %q", part)
		}
		out = append(out, idx)
	}
	return out, nil
}
