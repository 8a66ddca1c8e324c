package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/TomSft15/BlurFace/internal/config"
	"github.com/TomSft15/BlurFace/internal/store"
	"github.com/spf13/cobra"
)

var (
	// Cfg is the configuration shared by subcommands.
	Cfg *config.Config
	// Jobs is the job history, opened only for commands that need it.
	Jobs store.JobStore

	cfgFile  string
	dbURL    string
	logLevel string
	logger   *slog.Logger
)

// Version is the application version.
const Version = "1.0.0"

// needsStore marks commands that open the job history before running.
const needsStore = "store"

var rootCmd = &cobra.Command{
	Use:     "blurface",
	Short:   "Face detection and blurring for live streams and video files",
	Version: Version, // This enables the --version flag
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		Cfg, err = config.Load(cfgFile)
		if err != nil {
			return err
		}
		// Flags win over the file and the environment.
		if dbURL != "" {
			Cfg.Database.URL = dbURL
		}
		if logLevel != "" {
			Cfg.LogLevel = logLevel
		}

		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: Cfg.SlogLevel()}))
		slog.SetDefault(logger)

		if cmd.Annotations[needsStore] == "" {
			return nil
		}
		// Use the command's context (which will be cancellable) for the connection
		Jobs, err = store.Open(cmd.Context(), Cfg.DatabaseURL())
		if err != nil {
			return fmt.Errorf("failed to open job store: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if Jobs != nil {
			// Use Background here because the main context might be cancelled already (due to Ctrl+C)
			// and we still need to release the connection.
			Jobs.Close(context.Background())
		}
	},
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "blurface.toml", "Path to the TOML configuration file")
	rootCmd.PersistentFlags().StringVar(&dbURL, "db", "", "Job store URL, postgres://... or sqlite://path (default: sqlite://blurface.db)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
}
