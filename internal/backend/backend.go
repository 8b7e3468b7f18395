// Package backend defines the converter capability contract every format
// backend implements, along with the shared request/option types.
//
// Implementations live in subpackages, one per external library or tool.
// Each must emit at least a start (0.0) and end (1.0) progress event,
// honor context cancellation, refuse to overwrite an existing output path
// unless asked, and confine side effects to the request's scratch dir.
package backend

import (
	"context"
	"fmt"
	"os"
)

// ProgressFunc receives progress observations in [0,1] with optional
// status text. Implementations must treat it as non-blocking and cheap.
type ProgressFunc func(fraction float64, status string)

// Options carries per-conversion tuning.
type Options struct {
	// Overwrite permits replacing an existing file at the output path.
	Overwrite bool
	// ImageQuality is the JPEG/WebP quality, 1-100. Zero means default.
	ImageQuality int
	// AudioBitrate is the target bitrate for lossy audio, e.g. "192k".
	AudioBitrate string
}

// Request describes a single conversion attempt.
type Request struct {
	InputPath  string
	OutputPath string
	ScratchDir string
	InputExt   string
	OutputExt  string
	Options    Options
	Progress   ProgressFunc
}

// Emit reports progress, tolerating a nil sink.
func (r Request) Emit(fraction float64, status string) {
	if r.Progress != nil {
		r.Progress(fraction, status)
	}
}

// Converter is the capability every backend variant provides.
type Converter interface {
	// ID returns the registry identifier for this backend.
	ID() string
	// Probe reports whether the backend can run in this process. It is
	// side-effect-free and idempotent; the dispatcher caches the result
	// for the process lifetime.
	Probe() error
	// Convert performs one conversion attempt.
	Convert(ctx context.Context, req Request) error
}

// CheckOutputPath enforces the never-silently-overwrite contract.
func CheckOutputPath(req Request) error {
	if req.Options.Overwrite {
		return nil
	}
	if _, err := os.Stat(req.OutputPath); err == nil {
		return fmt.Errorf("output path %s already exists", req.OutputPath)
	}
	return nil
}
