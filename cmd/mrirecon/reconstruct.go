package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"mrirecon/internal/models"
	"mrirecon/pkg/report"
	"mrirecon/pkg/session"
)

// NewReconstructCmd creates the reconstruct command.
func NewReconstructCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconstruct",
		Short: "Reconstruct a single MRI scan",
		Long: `Reconstruct loads one grayscale scan, runs the model on it and previews the
normalized result on the terminal. With --output the result is saved as an
8-bit image whose format follows the file extension (png, jpg, gif, bmp, tiff).

Examples:
  # Preview a reconstruction
  mrirecon reconstruct -i knee.png

  # Save the reconstruction and a markdown report
  mrirecon reconstruct -i knee.png -o knee_recon.png --report knee_recon.md`,
		Args: cobra.NoArgs,
		RunE: runReconstructCmd,
	}

	cmd.Flags().StringP("input", "i", "", "Grayscale scan to reconstruct")
	cmd.Flags().StringP("output", "o", "", "Save the reconstruction to this file")
	cmd.Flags().Bool("no-preview", false, "Do not render the reconstruction on the terminal")
	cmd.Flags().String("report", "", "Write a markdown report to this file")
	_ = cmd.MarkFlagRequired("input")

	return cmd
}

// runReconstructCmd executes the reconstruct command.
func runReconstructCmd(cmd *cobra.Command, _ []string) error {
	input, err := cmd.Flags().GetString("input")
	if err != nil {
		return err
	}
	output, err := cmd.Flags().GetString("output")
	if err != nil {
		return err
	}
	noPreview, err := cmd.Flags().GetBool("no-preview")
	if err != nil {
		return err
	}
	reportPath, err := cmd.Flags().GetString("report")
	if err != nil {
		return err
	}

	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()
	if noPreview {
		a.cfg.Preview.Enabled = false
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return reconstructOnce(ctx, a, cmd.OutOrStdout(), input, output, reportPath)
}

// reconstructOnce drives a session through load, reconstruct and an
// optional save, printing the status after each step.
func reconstructOnce(ctx context.Context, a *app, out io.Writer, input, output, reportPath string) error {
	sess := a.newSession()

	if err := sess.SelectInput(input); err != nil {
		return err
	}
	fmt.Fprintln(out, sess.Status())

	if err := sess.RequestReconstruction(ctx); err != nil {
		return err
	}
	fmt.Fprintln(out, sess.Status())

	a.preview(out, sess)
	printMetrics(out, sess.Result())

	if output != "" {
		if err := sess.SelectOutput(ctx, output); err != nil {
			return err
		}
		fmt.Fprintln(out, sess.Status())
		fmt.Fprintf(out, "Output saved to: %s\n", output)
		if a.cfg.Output.Report {
			fmt.Fprintf(out, "Report saved to: %s\n", report.PathFor(output))
		}
	}

	if reportPath != "" {
		if err := writeReport(reportPath, sess); err != nil {
			return fmt.Errorf("failed to write report: %w", err)
		}
		fmt.Fprintf(out, "Report saved to: %s\n", reportPath)
	}

	return nil
}

// writeReport writes the session's current run as markdown.
func writeReport(path string, sess *session.Session) error {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := report.NewMarkdownWriter(f).Write(sess.Report()); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// printMetrics prints the quality metrics of a reconstruction.
func printMetrics(out io.Writer, result *models.Result) {
	if result == nil {
		return
	}
	m := result.Metrics
	fmt.Fprintf(out, "\nQuality Metrics (input vs. reconstruction):\n")
	fmt.Fprintf(out, "===========================================\n")
	fmt.Fprintf(out, "Mutual Information (MI): %.3f\n", m.MI)
	fmt.Fprintf(out, "Entropy Difference: %.3f\n", m.EntropyDiff)
	fmt.Fprintf(out, "Root Mean Square Error (RMSE): %.6f\n", m.RMSE)
	fmt.Fprintf(out, "Structural Similarity Index (SSIM): %.3f\n", m.SSIM)
	fmt.Fprintf(out, "Edge Preservation: %.3f\n\n", m.EdgePreserved)
}
