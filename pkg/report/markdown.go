// Package report writes human-readable summaries of reconstruction runs.
package report

import (
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/nao1215/markdown"

	"mrirecon/internal/models"
)

// Run is everything known about one reconstruction
type Run struct {
	// ID is the run's history identifier, empty when history is disabled
	ID string

	Scan   *models.Scan
	Result *models.Result

	// OutputPath is where the reconstruction was saved, if it was
	OutputPath string

	// Model describes the network that produced the result
	Model string

	// Err is set when the run failed
	Err error

	// GeneratedAt defaults to the current time
	GeneratedAt time.Time
}

// MarkdownWriter outputs run reports as GitHub flavored markdown
type MarkdownWriter struct {
	output io.Writer
}

// NewMarkdownWriter creates a MarkdownWriter that outputs to the given writer.
func NewMarkdownWriter(output io.Writer) *MarkdownWriter {
	return &MarkdownWriter{output: output}
}

// Write outputs the report and returns the number of bytes written.
func (w *MarkdownWriter) Write(run *Run) (int, error) {
	md := markdown.NewMarkdown(w.output)

	w.writeHeader(md, run)
	w.writeMetrics(md, run)
	w.writeStatus(md, run)
	w.writeFooter(md, run)

	return len(md.String()), md.Build()
}

func (w *MarkdownWriter) writeHeader(md *markdown.Markdown, run *Run) {
	md.H1("MRI Reconstruction Report")
	md.PlainText("")

	rows := [][]string{}
	if run.ID != "" {
		rows = append(rows, []string{"Run", "`" + run.ID + "`"})
	}
	if run.Scan != nil {
		width, height := run.Scan.OriginalSize()
		rows = append(rows,
			[]string{"Input", "`" + filepath.Base(run.Scan.Path) + "`"},
			[]string{"Input Size", fmt.Sprintf("%d x %d", width, height)},
		)
		if run.Scan.Digest != "" {
			rows = append(rows, []string{"Input Digest", "`" + shortDigest(run.Scan.Digest) + "`"})
		}
	}
	if run.Result != nil {
		width, height := run.Result.Size()
		rows = append(rows,
			[]string{"Output Size", fmt.Sprintf("%d x %d", width, height)},
			[]string{"Inference Time", fmt.Sprintf("%.2fs", run.Result.Duration.Seconds())},
			[]string{"Raw Output Range", fmt.Sprintf("[%.4g, %.4g]", run.Result.RawMin, run.Result.RawMax)},
		)
	}
	if run.OutputPath != "" {
		rows = append(rows, []string{"Output", "`" + filepath.Base(run.OutputPath) + "`"})
	}
	if run.Model != "" {
		rows = append(rows, []string{"Model", "`" + run.Model + "`"})
	}

	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows:   rows,
	})
	md.PlainText("")
}

func (w *MarkdownWriter) writeMetrics(md *markdown.Markdown, run *Run) {
	if run.Result == nil {
		return
	}
	m := run.Result.Metrics

	md.H2("Quality Metrics")
	md.PlainText("")
	md.PlainText("Measured between the resized input and the normalized reconstruction.")
	md.PlainText("")

	md.Table(markdown.TableSet{
		Header: []string{"Metric", "Value"},
		Rows: [][]string{
			{"RMSE", formatMetric(m.RMSE)},
			{"SSIM", formatMetric(m.SSIM)},
			{"Mutual Information", formatMetric(m.MI)},
			{"Entropy Difference", formatMetric(m.EntropyDiff)},
			{"Edge Preservation", formatMetric(m.EdgePreserved)},
		},
	})
	md.PlainText("")
}

func (w *MarkdownWriter) writeStatus(md *markdown.Markdown, run *Run) {
	md.H2("Status")
	md.PlainText("")

	switch {
	case run.Err != nil:
		md.Cautionf("Reconstruction failed: %s", run.Err.Error())
	case run.Result == nil:
		md.Warningf("No reconstruction was produced.")
	case run.OutputPath == "":
		md.Note("Reconstruction completed but was not saved.")
	default:
		md.Tip("Reconstruction completed and saved.")
	}
	md.PlainText("")
}

func (w *MarkdownWriter) writeFooter(md *markdown.Markdown, run *Run) {
	generated := run.GeneratedAt
	if generated.IsZero() {
		generated = time.Now()
	}
	md.HorizontalRule()
	md.PlainText("")
	md.PlainTextf("*Generated by mrirecon on %s*", generated.Format("2006-01-02 15:04:05 MST"))
}

// PathFor returns the report path written next to a saved image:
// recon.png becomes recon.md
func PathFor(imagePath string) string {
	return strings.TrimSuffix(imagePath, filepath.Ext(imagePath)) + ".md"
}

func formatMetric(v float64) string {
	return strconv.FormatFloat(v, 'f', 4, 64)
}

func shortDigest(d string) string {
	if len(d) > 16 {
		return d[:16]
	}
	return d
}
