package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/TomSft15/BlurFace/internal/frame"
	"github.com/TomSft15/BlurFace/internal/utils"
	"github.com/TomSft15/BlurFace/internal/video"
	"github.com/spf13/cobra"
)

var (
	infoFrame  int
	infoOutput string
)

var infoCmd = &cobra.Command{
	Use:   "info <video>",
	Short: "Show video metadata, optionally extracting one frame as JPEG",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		ctx := cmd.Context()
		path := args[0]

		p, err := newPipeline(Cfg, logger)
		if err != nil {
			utils.ShowError("Configuration Error", err, nil)
			return err
		}
		info, err := p.inspector.Info(ctx, path)
		if err != nil {
			utils.ShowError("Failed to read video metadata", err, nil)
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintf(w, "FILE\t%s\n", info.Filename)
		fmt.Fprintf(w, "FORMAT\t%s\n", info.Format)
		fmt.Fprintf(w, "RESOLUTION\t%dx%d\n", info.Width, info.Height)
		fmt.Fprintf(w, "FPS\t%.2f\n", info.FPS)
		fmt.Fprintf(w, "FRAMES\t%d\n", info.FrameCount)
		fmt.Fprintf(w, "DURATION\t%s\n", info.DurationStr)
		w.Flush()

		if infoFrame < 0 {
			return nil
		}
		img, err := video.ExtractFrame(ctx, p.ffmpeg, path, infoFrame)
		if err != nil {
			utils.ShowError(fmt.Sprintf("Failed to extract frame %d", infoFrame), err, nil)
			return err
		}
		out, err := os.Create(infoOutput)
		if err != nil {
			utils.ShowError("Failed to create frame file", err, nil)
			return err
		}
		defer out.Close()
		if err := frame.EncodeJPEG(out, img, Cfg.Video.JPEGQuality); err != nil {
			utils.ShowError("Failed to encode frame", err, nil)
			return err
		}
		fmt.Printf("🖼️  Frame %d written to %s\n", infoFrame, infoOutput)
		return nil
	},
}

func init() {
	infoCmd.Flags().IntVar(&infoFrame, "frame", -1, "Extract the frame at this index")
	infoCmd.Flags().StringVarP(&infoOutput, "output", "o", "frame.jpg", "Where to write the extracted frame")
	rootCmd.AddCommand(infoCmd)
}
