package cmd

import (
	"log/slog"
	"os"

	"github.com/TomSft15/BlurFace/internal/api"
	"github.com/TomSft15/BlurFace/internal/jobs"
	"github.com/TomSft15/BlurFace/internal/session"
	"github.com/TomSft15/BlurFace/internal/utils"
	"github.com/spf13/cobra"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:         "serve",
	Short:       "Run the HTTP API for live sessions and batch jobs",
	Annotations: map[string]string{needsStore: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		if serveAddr != "" {
			Cfg.Server.Addr = serveAddr
		}

		ctx := cmd.Context()
		log := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: Cfg.SlogLevel()}))
		slog.SetDefault(log)

		p, err := newPipeline(Cfg, log)
		if err != nil {
			utils.ShowError("Configuration Error", err, nil)
			return err
		}
		for _, dir := range []string{Cfg.Paths.TempDir, Cfg.Paths.OutputDir} {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				utils.ShowError("Failed to create data directory", err, nil)
				return err
			}
		}

		manager := jobs.NewManager(ctx, p.batchConfig(log), Jobs, Cfg.Paths.OutputDir, log)
		srv := api.NewServer(api.Config{
			Version:         Version,
			Sessions:        session.NewRegistry(ctx, log),
			SessionDefaults: p.sessionOptions(Cfg, log),
			Jobs:            manager,
			Videos:          p.inspector,
			TempDir:         Cfg.Paths.TempDir,
			OutputDir:       Cfg.Paths.OutputDir,
			CORSOrigins:     Cfg.Server.CORSOrigins,
			MaxUploadBytes:  int64(Cfg.Server.MaxUploadMB) << 20,
			StreamFPS:       Cfg.Video.StreamFPS,
			JPEGQuality:     Cfg.Video.JPEGQuality,
			Log:             log,
		})

		read, write := Cfg.ServerTimeouts()
		err = srv.Run(ctx, Cfg.Server.Addr, read, write)

		// Cancelled jobs still record their terminal status.
		manager.Wait()
		if err != nil {
			utils.ShowError("HTTP server failed", err, nil)
		}
		return err
	},
}

func init() {
	serveCmd.Flags().StringVarP(&serveAddr, "addr", "a", "", "Listen address (default from config, :5000)")
	rootCmd.AddCommand(serveCmd)
}
