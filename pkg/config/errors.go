package config

import "errors"

// Configuration validation errors returned by Config.Validate.
var (
	// ErrNoModelPath is returned when model.path is empty.
	ErrNoModelPath = errors.New("invalid model: path must not be empty")

	// ErrInvalidInputSize is returned when the model input width or height
	// is not positive.
	ErrInvalidInputSize = errors.New("invalid input size: width and height must be positive")

	// ErrInvalidThreads is returned when model.intraOpThreads is negative.
	ErrInvalidThreads = errors.New("invalid intra-op threads: must be non-negative")

	// ErrInvalidPreviewSize is returned when the preview is enabled with a
	// non-positive number of columns or lines.
	ErrInvalidPreviewSize = errors.New("invalid preview size: columns and lines must be positive")

	// ErrInvalidGamma is returned when preview.gamma is not positive.
	ErrInvalidGamma = errors.New("invalid preview gamma: must be positive")

	// ErrNoHistoryDir is returned when history is enabled without a directory.
	ErrNoHistoryDir = errors.New("invalid history: dir must not be empty when enabled")
)
