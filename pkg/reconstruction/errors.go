package reconstruction

import (
	"errors"
	"fmt"
)

// Kind classifies a pipeline failure.
type Kind int

const (
	// ModelLoadFailure means the model artifact is missing or incompatible.
	// The pipeline cannot serve any request.
	ModelLoadFailure Kind = iota + 1

	// ScanDecodeFailure means the input file could not be read or decoded
	ScanDecodeFailure

	// InferenceFailure covers everything between the model call and a
	// normalized result
	InferenceFailure

	// SaveFailure means the reconstruction could not be written
	SaveFailure
)

// Sentinel errors matching each Kind with errors.Is.
var (
	ErrModelLoad  = errors.New("model load failure")
	ErrScanDecode = errors.New("scan decode failure")
	ErrInference  = errors.New("inference failure")
	ErrSave       = errors.New("save failure")
)

// Precondition and degenerate-output errors.
var (
	// ErrNoScan is returned when reconstruction is requested without a scan.
	ErrNoScan = errors.New("no scan loaded")

	// ErrNoResult is returned when saving is requested without a reconstruction.
	ErrNoResult = errors.New("no reconstruction available")

	// ErrFlatOutput is returned when every value of the model output is
	// equal, so min-max normalization is undefined.
	ErrFlatOutput = errors.New("model output is constant")

	// ErrNonFinite is returned when the model output contains NaN or Inf.
	ErrNonFinite = errors.New("model output contains NaN or Inf")

	// ErrOutputShape is returned when the model output does not squeeze to 2D.
	ErrOutputShape = errors.New("model output is not a single-channel image")
)

func (k Kind) String() string {
	switch k {
	case ModelLoadFailure:
		return "model load failure"
	case ScanDecodeFailure:
		return "scan decode failure"
	case InferenceFailure:
		return "inference failure"
	case SaveFailure:
		return "save failure"
	default:
		return fmt.Sprintf("unknown failure (%d)", int(k))
	}
}

func (k Kind) sentinel() error {
	switch k {
	case ModelLoadFailure:
		return ErrModelLoad
	case ScanDecodeFailure:
		return ErrScanDecode
	case InferenceFailure:
		return ErrInference
	case SaveFailure:
		return ErrSave
	}
	return nil
}

// Error is a tagged pipeline failure.
type Error struct {
	// Kind tags the failure
	Kind Kind

	// Op is the step that failed, e.g. "decode" or "predict"
	Op string

	// Path is the file involved, if any
	Path string

	// Err is the underlying cause
	Err error
}

func (e *Error) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s %s: %v", e.Kind, e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel for e's Kind.
func (e *Error) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && target == s
}

// KindOf returns the Kind of the first *Error in err's chain, or 0.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

func newError(kind Kind, op, path string, err error) *Error {
	return &Error{Kind: kind, Op: op, Path: path, Err: err}
}
