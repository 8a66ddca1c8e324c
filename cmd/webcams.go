package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/TomSft15/BlurFace/internal/video"
	"github.com/spf13/cobra"
)

var webcamsCmd = &cobra.Command{
	Use:   "webcams",
	Short: "List capture devices usable as live sources",
	Run: func(cmd *cobra.Command, args []string) {
		inspector := video.Inspector{FFprobe: Cfg.Video.FFprobe, Log: logger}
		cams := inspector.ListWebcams(cmd.Context())
		if len(cams) == 0 {
			fmt.Println("No webcams found.")
			return
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tDEVICE\tRESOLUTION\tFPS")
		fmt.Fprintln(w, "--\t----\t------\t----------\t---")
		for _, c := range cams {
			fmt.Fprintf(w, "%d\t%s\t%s\t%dx%d\t%.1f\n", c.DeviceID, c.Name, c.Path, c.Width, c.Height, c.FPS)
		}
		w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(webcamsCmd)
}
