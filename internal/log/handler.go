package log

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
)

// MaskValue replaces redacted attribute values.
const MaskValue = "***REDACTED***"

// identifierKeys are attribute keys that always carry patient identifiers.
var identifierKeys = map[string]bool{
	"patient":      true,
	"patient_id":   true,
	"patientid":    true,
	"patient_name": true,
	"name":         true,
	"dob":          true,
	"birth_date":   true,
	"mrn":          true,
	"accession":    true,
	"study_uid":    true,
}

// identifierKeywords match keys such as "referring_patient" or "accession_no".
var identifierKeywords = []string{"patient", "accession", "mrn", "birth"}

// RedactingHandler wraps an slog.Handler and masks patient identifiers
// before records reach it.
type RedactingHandler struct {
	// handler receives the redacted records
	handler slog.Handler

	// trimPaths reduces "path" attributes to their base name
	trimPaths bool
}

// NewRedactingHandler wraps handler. If handler is nil, slog.Default's
// handler is used.
func NewRedactingHandler(handler slog.Handler, trimPaths bool) *RedactingHandler {
	if handler == nil {
		handler = slog.Default().Handler()
	}
	return &RedactingHandler{handler: handler, trimPaths: trimPaths}
}

// Enabled delegates to the wrapped handler.
func (h *RedactingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

// Handle redacts the record's attributes and passes it on.
func (h *RedactingHandler) Handle(ctx context.Context, r slog.Record) error {
	redacted := slog.NewRecord(r.Time, r.Level, r.Message, r.PC)
	r.Attrs(func(a slog.Attr) bool {
		redacted.AddAttrs(h.redact(a))
		return true
	})
	return h.handler.Handle(ctx, redacted)
}

// WithAttrs redacts attrs before attaching them.
func (h *RedactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	redacted := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		redacted[i] = h.redact(a)
	}
	return &RedactingHandler{handler: h.handler.WithAttrs(redacted), trimPaths: h.trimPaths}
}

// WithGroup returns a handler nesting attributes under name.
func (h *RedactingHandler) WithGroup(name string) slog.Handler {
	return &RedactingHandler{handler: h.handler.WithGroup(name), trimPaths: h.trimPaths}
}

func (h *RedactingHandler) redact(a slog.Attr) slog.Attr {
	if a.Value.Kind() == slog.KindGroup {
		attrs := a.Value.Group()
		redacted := make([]slog.Attr, len(attrs))
		for i, ga := range attrs {
			redacted[i] = h.redact(ga)
		}
		return slog.Attr{Key: a.Key, Value: slog.GroupValue(redacted...)}
	}

	key := strings.ToLower(a.Key)
	if isIdentifierKey(key) {
		return slog.String(a.Key, MaskValue)
	}
	if h.trimPaths && key == "path" && a.Value.Kind() == slog.KindString {
		if p := a.Value.String(); p != "" {
			return slog.String(a.Key, filepath.Base(p))
		}
	}
	return a
}

func isIdentifierKey(key string) bool {
	if identifierKeys[key] {
		return true
	}
	for _, kw := range identifierKeywords {
		if strings.Contains(key, kw) {
			return true
		}
	}
	return false
}

// New returns a text logger writing to w. Verbose loggers log at debug level
// and keep full paths; otherwise only warnings and errors are written and
// paths are trimmed to their base name.
func New(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}

	text := slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	return slog.New(NewRedactingHandler(text, !verbose))
}
