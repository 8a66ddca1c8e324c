package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/TomSft15/BlurFace/internal/utils"
	"github.com/spf13/cobra"
)

var (
	resetDB    bool
	resetFiles bool
)

var resetCmd = &cobra.Command{
	Use:         "reset",
	Short:       "Reset system state (Job history, Uploads, Output Videos)",
	Long:        "Clears all data. By default, it resets everything. Use flags to clear specific components.",
	Annotations: map[string]string{needsStore: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		// If no flags are set, default to clearing EVERYTHING
		if !resetDB && !resetFiles {
			resetDB = true
			resetFiles = true
		}

		reader := bufio.NewReader(os.Stdin)

		if resetDB {
			if confirm(reader, "⚠️  Are you sure you want to delete the job history?") {
				fmt.Println("🗑️  Clearing Job History...")
				if err := Jobs.Reset(cmd.Context()); err != nil {
					utils.ShowError("Failed to reset job history", err, nil)
					return err
				}
			}
		}

		if resetFiles {
			if confirm(reader, "⚠️  Are you sure you want to delete all uploads and output videos?") {
				fmt.Println("🗑️  Clearing Files (Uploads, Videos)...")
				removeDir(Cfg.Paths.TempDir)
				removeDir(Cfg.Paths.OutputDir)
			}
		}

		fmt.Println("✨ System Reset Complete.")
		return nil
	},
}

func init() {
	resetCmd.Flags().BoolVar(&resetDB, "db", false, "Clear the job history")
	resetCmd.Flags().BoolVar(&resetFiles, "files", false, "Clear uploaded and generated videos")
	rootCmd.AddCommand(resetCmd)
}

func confirm(r *bufio.Reader, prompt string) bool {
	fmt.Printf("%s [y/N]: ", prompt)
	res, _ := r.ReadString('\n')
	res = strings.TrimSpace(strings.ToLower(res))
	return res == "y" || res == "yes"
}

func removeDir(path string) {
	if path == "" {
		return
	}
	if err := os.RemoveAll(path); err != nil {
		fmt.Fprintf(os.Stderr, "⚠️  Failed to remove %s: %v\n", path, err)
	}
}
