package validate

import (
	"fmt"
	"strings"

	"synthpipe/internal/models"
)

// FieldError describes one validation failure on a configuration field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Result is the outcome of validating a JobConfiguration. An empty Errors
// slice denotes validity.
type Result struct {
	Errors []FieldError `json:"errors,omitempty"`
}

// Valid reports whether no field errors were recorded.
func (r Result) Valid() bool {
	return len(r.Errors) == 0
}

func (r Result) String() string {
	msgs := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		msgs = append(msgs, e.Error())
	}
	return strings.Join(msgs, "; ")
}

// Config checks required-field presence, numeric bounds, and format enum
// membership. It has no side effects and never inspects external state:
// bucket/path existence is not this layer's concern.
func Config(cfg models.JobConfiguration) Result {
	var res Result

	if cfg.DataType == "" {
		res.add("data_type", "is required")
	}
	if cfg.OutputFormat == "" {
		res.add("output_format", "is required")
	} else if !models.KnownFormat(cfg.OutputFormat) {
		res.add("output_format", fmt.Sprintf("unknown format %q", cfg.OutputFormat))
	}
	if cfg.InputFormat != "" && !models.KnownFormat(cfg.InputFormat) {
		res.add("input_format", fmt.Sprintf("unknown format %q", cfg.InputFormat))
	}
	if cfg.RowCount <= 0 {
		res.add("row_count", "must be positive")
	}
	if cfg.TimeoutSeconds <= 0 {
		res.add("timeout_seconds", "must be positive")
	}
	if cfg.ResumeWindowSeconds < 0 {
		res.add("resume_window_seconds", "must not be negative")
	}

	return res
}

func (r *Result) add(field, message string) {
	r.Errors = append(r.Errors, FieldError{Field: field, Message: message})
}
