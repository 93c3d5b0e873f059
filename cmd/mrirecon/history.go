package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"mrirecon/internal/database"
)

// NewHistoryCmd creates the history command.
func NewHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent reconstruction runs",
		Long: `History lists reconstruction runs recorded in the history database, newest
first. Runs are recorded by the reconstruct and session commands when
history.enabled is set in the configuration.`,
		Args: cobra.NoArgs,
		RunE: runHistoryCmd,
	}

	cmd.Flags().IntP("limit", "n", 20, "Maximum number of runs to list (0 for all)")

	return cmd
}

// runHistoryCmd executes the history command.
func runHistoryCmd(cmd *cobra.Command, _ []string) error {
	limit, err := cmd.Flags().GetInt("limit")
	if err != nil {
		return err
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if _, err := os.Stat(filepath.Join(cfg.History.Dir, database.FileName)); errors.Is(err, os.ErrNotExist) {
		fmt.Fprintln(out, "No runs recorded yet.")
		return nil
	}

	h, err := database.Open(cfg.History.Dir, database.Options{CreateIfNotExists: false})
	if err != nil {
		return err
	}
	defer h.Close()

	runs, err := h.ListRuns(cmd.Context(), limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs recorded yet.")
		return nil
	}

	return printRuns(out, runs)
}

// printRuns prints runs as an aligned table.
func printRuns(out io.Writer, runs []database.Run) error {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tRUN\tINPUT\tSIZE\tDURATION\tSSIM\tSTATUS\tOUTPUT")
	for _, r := range runs {
		status := string(r.Status)
		if r.Error != "" {
			status += ": " + r.Error
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%dx%d\t%.2fs\t%.3f\t%s\t%s\n",
			r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			shortID(r.ID),
			filepath.Base(r.InputPath),
			r.Width, r.Height,
			r.Duration.Seconds(),
			r.SSIM,
			status,
			r.OutputPath,
		)
	}
	return tw.Flush()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
