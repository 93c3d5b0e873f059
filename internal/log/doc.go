// Package log provides structured logging on top of log/slog that keeps
// patient identifiers out of log output.
//
// Scan files are often named after the patient or carry accession numbers in
// their path. The RedactingHandler masks attributes whose keys name such
// identifiers, and file paths logged under the "path" key are reduced to
// their base name unless the logger is verbose.
//
// # Usage
//
//	logger := log.New(os.Stderr, verbose)
//	logger.Info("scan loaded", "path", path, "patient_id", id) // patient_id is masked
//	slog.SetDefault(logger)
package log
