package cmd

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/TomSft15/BlurFace/internal/store"
	"github.com/TomSft15/BlurFace/internal/types"
	"github.com/TomSft15/BlurFace/internal/utils"
	"github.com/spf13/cobra"
)

var jobsLimit int

var jobsCmd = &cobra.Command{
	Use:         "jobs [id]",
	Short:       "List recorded batch jobs, or show one in detail",
	Args:        cobra.MaximumNArgs(1),
	Annotations: map[string]string{needsStore: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		if len(args) == 1 {
			return showJob(cmd, args[0])
		}

		list, err := Jobs.ListJobs(cmd.Context(), jobsLimit)
		if err != nil {
			utils.ShowError("Failed to list jobs", err, nil)
			return err
		}
		if len(list) == 0 {
			fmt.Println("No jobs found in database.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "ID\tSTATUS\tPROGRESS\tFRAMES\tINPUT\tCREATED")
		fmt.Fprintln(w, "--\t------\t--------\t------\t-----\t-------")
		for _, j := range list {
			fmt.Fprintf(w, "%s\t%s\t%.0f%%\t%d/%d\t%s\t%s\n",
				j.ID, j.Status.Status, j.Status.Progress*100,
				j.Status.FramesProcessed, j.Status.TotalFrames,
				j.InputPath, j.CreatedAt.Local().Format("2006-01-02 15:04"))
		}
		w.Flush()
		return nil
	},
}

func init() {
	jobsCmd.Flags().IntVarP(&jobsLimit, "limit", "n", 20, "Number of jobs to show (0 for all)")
	rootCmd.AddCommand(jobsCmd)
}

func showJob(cmd *cobra.Command, id string) error {
	j, err := Jobs.GetJob(cmd.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		err = fmt.Errorf("no job with id %s", id)
		utils.ShowError("Job not found", err, nil)
		return err
	}
	if err != nil {
		utils.ShowError("Failed to load job", err, nil)
		return err
	}
	printJob(j)
	return nil
}

func printJob(j types.Job) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintf(w, "ID\t%s\n", j.ID)
	fmt.Fprintf(w, "STATUS\t%s\n", j.Status.Status)
	fmt.Fprintf(w, "INPUT\t%s\n", j.InputPath)
	fmt.Fprintf(w, "OUTPUT\t%s\n", j.OutputPath)
	fmt.Fprintf(w, "PROGRESS\t%.1f%% (%d/%d frames)\n", j.Status.Progress*100, j.Status.FramesProcessed, j.Status.TotalFrames)
	fmt.Fprintf(w, "ELAPSED\t%s\n", utils.FormatDuration(j.Status.ElapsedTime))
	if j.Status.ErrorMessage != nil {
		fmt.Fprintf(w, "ERROR\t%s\n", *j.Status.ErrorMessage)
	}
	fmt.Fprintf(w, "CREATED\t%s\n", j.CreatedAt.Local().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w, "UPDATED\t%s\n", j.UpdatedAt.Local().Format("2006-01-02 15:04:05"))
	w.Flush()
}
