// Package cverr defines the sentinel error markers shared across the
// conversion pipeline and helpers for wrapping component errors with them.
//
// Submission-time markers (ErrUnsupportedInput, ErrUnsupportedConversion)
// are returned synchronously and never attached to a job. Runtime markers
// are recorded on the job and surfaced through status lookups. Callers
// classify with errors.Is against the exported sentinels.
package cverr

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnsupportedInput marks an input extension unknown to every category.
	ErrUnsupportedInput = errors.New("unsupported input format")
	// ErrUnsupportedConversion marks a recognized input whose requested
	// output format is not reachable.
	ErrUnsupportedConversion = errors.New("unsupported conversion")
	// ErrBackendUnavailable marks a backend whose external tool was not found.
	ErrBackendUnavailable = errors.New("backend unavailable")
	// ErrConversion marks a failed backend attempt.
	ErrConversion = errors.New("conversion failed")
	// ErrCancelled marks a user-requested cancellation.
	ErrCancelled = errors.New("conversion cancelled")
	// ErrResourceExhausted marks scratch disk or memory pressure.
	ErrResourceExhausted = errors.New("resources exhausted")
	// ErrNotFound marks an unknown or expired job ID.
	ErrNotFound = errors.New("job not found")
	// ErrNotReady marks an output requested before the job succeeded.
	ErrNotReady = errors.New("output not ready")
)

// Wrap tags err with marker while adding component and operation context.
// A nil marker defaults to ErrConversion.
func Wrap(marker error, component, detail string, err error) error {
	if marker == nil {
		marker = ErrConversion
	}
	msg := buildDetail(component, detail)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, msg, err)
	}
	return fmt.Errorf("%w: %s", marker, msg)
}

func buildDetail(component, detail string) string {
	parts := make([]string, 0, 2)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if detail = strings.TrimSpace(detail); detail != "" {
		parts = append(parts, detail)
	}
	if len(parts) == 0 {
		return "failure"
	}
	return strings.Join(parts, ": ")
}
