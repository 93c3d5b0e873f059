// Package session drives the reconstruction pipeline on behalf of a user
// interface.
//
// A Session owns the current scan and reconstruction and exposes the three
// user triggers (select input, request reconstruction, select output), the
// two affordances that gate them and a one-line status message. It has no
// knowledge of how it is displayed; the interactive shell in cmd/mrirecon
// is one front end.
//
// Every failure leaves the session in the state it was in before the
// trigger, so affordances never change on error.
package session

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"mrirecon/internal/database"
	"mrirecon/internal/models"
	"mrirecon/pkg/reconstruction"
	"mrirecon/pkg/report"
	"mrirecon/pkg/visualization"
)

// State is the position of a session in its lifecycle. A session starts in
// Idle once the model has been loaded.
type State int

const (
	// Idle means no scan has been loaded
	Idle State = iota

	// ScanReady means a scan is loaded and can be reconstructed
	ScanReady

	// ResultReady means the loaded scan has a reconstruction that can be saved
	ResultReady
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case ScanReady:
		return "scan ready"
	case ResultReady:
		return "result ready"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Status messages shown to the user.
const (
	StatusWelcome       = "Select an MRI scan to begin"
	StatusScanLoaded    = "MRI scan loaded successfully!"
	StatusSaved         = "MRI saved successfully!"
	StatusNeedScan      = "Load an MRI scan before reconstructing"
	StatusNeedResult    = "Reconstruct an MRI scan before saving"
	statusLoadFailed    = "Error loading MRI image: %v"
	statusReconstructed = "Reconstruction completed in %.2fs!"
	statusFailed        = "Error: %v"
	statusSaveFailed    = "Error saving MRI image: %v"
)

// Pipeline is the reconstruction pipeline a session drives.
// *reconstruction.Reconstructor implements it.
type Pipeline interface {
	LoadScan(path string) (*models.Scan, error)
	Reconstruct(ctx context.Context, scan *models.Scan) (*models.Result, error)
	Save(result *models.Result, path string) error
}

// Recorder keeps a history of reconstruction runs.
// *database.History implements it.
type Recorder interface {
	InsertRun(ctx context.Context, run *database.Run) error
	MarkSaved(ctx context.Context, id, outputPath string) error
}

// Option configures a Session.
type Option func(*Session)

// WithRecorder records every reconstruction attempt and save.
func WithRecorder(r Recorder) Option {
	return func(s *Session) {
		s.recorder = r
	}
}

// WithLogger sets the logger. slog.Default() is used otherwise.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) {
		s.logger = l
	}
}

// WithReports writes a markdown report next to every saved image.
// model describes the network in the report.
func WithReports(model string) Option {
	return func(s *Session) {
		s.reports = true
		s.model = model
	}
}

// Session is the state of one interactive reconstruction session.
// It is not safe for concurrent use.
type Session struct {
	pipeline Pipeline
	recorder Recorder
	logger   *slog.Logger
	reports  bool
	model    string

	state    State
	scan     *models.Scan
	result   *models.Result
	runID    string
	saved    string
	progress int
	status   string
	err      error
}

// New creates a session around a pipeline whose model is already loaded.
func New(pipeline Pipeline, opts ...Option) *Session {
	s := &Session{
		pipeline: pipeline,
		logger:   slog.Default(),
		state:    Idle,
		status:   StatusWelcome,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SelectInput loads the scan at path. A successful load replaces any
// previous scan and discards its reconstruction.
func (s *Session) SelectInput(path string) error {
	scan, err := s.pipeline.LoadScan(path)
	if err != nil {
		return s.fail(fmt.Sprintf(statusLoadFailed, err), err)
	}

	s.scan = scan
	s.result = nil
	s.runID = ""
	s.saved = ""
	s.progress = 0
	s.state = ScanReady
	s.succeed(StatusScanLoaded)

	s.logger.Info("scan selected", "path", path)
	return nil
}

// RequestReconstruction runs the model on the loaded scan. Without a scan
// it returns reconstruction.ErrNoScan and the model is not invoked.
func (s *Session) RequestReconstruction(ctx context.Context) error {
	if !s.CanReconstruct() {
		return s.fail(StatusNeedScan, reconstruction.ErrNoScan)
	}

	result, err := s.pipeline.Reconstruct(ctx, s.scan)
	runID := s.record(ctx, result, err)
	if err != nil {
		return s.fail(fmt.Sprintf(statusFailed, err), err)
	}

	s.result = result
	s.runID = runID
	s.saved = ""
	s.progress = 100
	s.state = ResultReady
	s.succeed(fmt.Sprintf(statusReconstructed, result.Duration.Seconds()))
	return nil
}

// SelectOutput saves the current reconstruction to path. Without one it
// returns reconstruction.ErrNoResult.
func (s *Session) SelectOutput(ctx context.Context, path string) error {
	if !s.CanSave() {
		return s.fail(StatusNeedResult, reconstruction.ErrNoResult)
	}

	if err := s.pipeline.Save(s.result, path); err != nil {
		return s.fail(fmt.Sprintf(statusSaveFailed, err), err)
	}
	s.saved = path

	if s.recorder != nil && s.runID != "" {
		if err := s.recorder.MarkSaved(ctx, s.runID, path); err != nil {
			s.logger.Warn("failed to update run history", "run", s.runID, "error", err)
		}
	}
	if s.reports {
		if err := s.writeReport(report.PathFor(path)); err != nil {
			s.logger.Warn("failed to write report", "error", err)
		}
	}

	s.succeed(StatusSaved)
	return nil
}

// CanReconstruct reports whether a scan is loaded.
func (s *Session) CanReconstruct() bool {
	return s.state == ScanReady || s.state == ResultReady
}

// CanSave reports whether a reconstruction is available.
func (s *Session) CanSave() bool {
	return s.state == ResultReady
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return s.state
}

// Status returns the message describing the last trigger's outcome.
func (s *Session) Status() string {
	return s.status
}

// Err returns the error of the last trigger, or nil if it succeeded.
func (s *Session) Err() error {
	return s.err
}

// Progress is 100 once the loaded scan has been reconstructed, 0 otherwise.
func (s *Session) Progress() int {
	return s.progress
}

// Scan returns the loaded scan, or nil.
func (s *Session) Scan() *models.Scan {
	return s.scan
}

// Result returns the current reconstruction, or nil.
func (s *Session) Result() *models.Result {
	return s.result
}

// Report returns a report of the current run.
func (s *Session) Report() *report.Run {
	return &report.Run{
		ID:         s.runID,
		Scan:       s.scan,
		Result:     s.result,
		OutputPath: s.saved,
		Model:      s.model,
	}
}

// Preview renders the current reconstruction to w.
func (s *Session) Preview(w io.Writer, opts visualization.Options) error {
	if !s.CanSave() {
		return reconstruction.ErrNoResult
	}
	return visualization.NewViewer(s.result).Render(w, opts)
}

func (s *Session) succeed(status string) {
	s.status = status
	s.err = nil
}

func (s *Session) fail(status string, err error) error {
	s.status = status
	s.err = err
	s.logger.Warn("session trigger failed", "state", s.state.String(), "error", err)
	return err
}

// record stores a reconstruction attempt and returns its run ID. History
// failures are logged and never fail the reconstruction.
func (s *Session) record(ctx context.Context, result *models.Result, err error) string {
	if s.recorder == nil {
		return ""
	}
	run := database.NewRun(s.scan, result, err)
	if rerr := s.recorder.InsertRun(ctx, run); rerr != nil {
		s.logger.Warn("failed to record run", "error", rerr)
		return ""
	}
	return run.ID
}

func (s *Session) writeReport(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := report.NewMarkdownWriter(f).Write(s.Report()); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
