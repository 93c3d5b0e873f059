package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"mrirecon/internal/database"
	mlog "mrirecon/internal/log"
	"mrirecon/pkg/config"
	"mrirecon/pkg/inference"
	"mrirecon/pkg/reconstruction"
	"mrirecon/pkg/session"
)

// loadedModel is a model ready for inference.
type loadedModel interface {
	reconstruction.Model
	Signature() string
	Close() error
}

// loadModel loads the model artifact. Tests replace it to run without
// ONNX Runtime.
var loadModel = func(opts inference.Options) (loadedModel, error) {
	m, err := inference.Load(opts)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// app holds everything a command needs once the model is loaded.
type app struct {
	cfg           *config.Config
	logger        *slog.Logger
	model         loadedModel
	reconstructor *reconstruction.Reconstructor
	history       *database.History
}

// getStringFlag retrieves a flag from the command or the root's persistent flags.
func getStringFlag(cmd *cobra.Command, name string) string {
	v, err := cmd.Flags().GetString(name)
	if err != nil {
		v, _ = cmd.Root().PersistentFlags().GetString(name)
	}
	return v
}

// getVerboseFlag retrieves the verbose flag from the command or its parent.
func getVerboseFlag(cmd *cobra.Command) bool {
	verbose, err := cmd.Flags().GetBool("verbose")
	if err != nil {
		verbose, err = cmd.Root().PersistentFlags().GetBool("verbose")
		if err != nil {
			return false
		}
	}
	return verbose
}

// configPath returns the --config flag or the default location.
func configPath(cmd *cobra.Command) string {
	if p := getStringFlag(cmd, "config"); p != "" {
		return p
	}
	return config.DefaultPath()
}

// loadConfig reads and validates the configuration.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.LoadConfig(configPath(cmd))
	if err != nil {
		return nil, err
	}
	if getVerboseFlag(cmd) {
		cfg.Logging.Verbose = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	return cfg, nil
}

// newApp loads the configuration and the model. A model that cannot be
// loaded is fatal. History is optional: if it cannot be opened a warning is
// logged and runs are not recorded.
func newApp(cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	logger := mlog.New(cmd.ErrOrStderr(), cfg.Logging.Verbose)
	slog.SetDefault(logger)

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Loading model...")
	model, err := loadModel(cfg.InferenceOptions())
	if err != nil {
		return nil, err
	}
	fmt.Fprintln(out, "Model loaded successfully!")
	logger.Debug("model loaded", "signature", model.Signature())

	params := cfg.ReconstructionParams()
	params.Logger = logger

	a := &app{
		cfg:           cfg,
		logger:        logger,
		model:         model,
		reconstructor: reconstruction.NewReconstructor(model, params),
	}

	if cfg.History.Enabled {
		h, err := database.Open(cfg.History.Dir, database.DefaultOptions())
		if err != nil {
			logger.Warn("run history disabled", "error", err)
		} else {
			a.history = h
		}
	}

	return a, nil
}

// newSession creates a session wired to the app's history and report settings.
func (a *app) newSession() *session.Session {
	opts := []session.Option{session.WithLogger(a.logger)}
	if a.history != nil {
		opts = append(opts, session.WithRecorder(a.history))
	}
	if a.cfg.Output.Report {
		opts = append(opts, session.WithReports(a.model.Signature()))
	}
	return session.New(a.reconstructor, opts...)
}

// preview renders the session's result if previews are enabled.
func (a *app) preview(w io.Writer, sess *session.Session) {
	if !a.cfg.Preview.Enabled {
		return
	}
	if err := sess.Preview(w, a.cfg.PreviewOptions()); err != nil {
		a.logger.Warn("preview failed", "error", err)
	}
}

// Close releases the model and the history database.
func (a *app) Close() error {
	var errs []error
	if a.history != nil {
		errs = append(errs, a.history.Close())
	}
	if a.model != nil {
		errs = append(errs, a.model.Close())
	}
	return errors.Join(errs...)
}
