// Package poppler wraps poppler's pdftoppm tool to render the first page
// of a PDF as a JPEG. It is the only backend serving the pdf to image
// pairs.
package poppler

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"converto/internal/backend"
	"converto/internal/cverr"
	"converto/internal/formats"
)

var commandContext = exec.CommandContext

// DefaultBinary is the pdftoppm command resolved from PATH.
const DefaultBinary = "pdftoppm"

// Converter renders PDF pages to images through pdftoppm.
type Converter struct {
	binary string
}

// New constructs the poppler backend. An empty binary uses the default.
func New(binary string) *Converter {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		binary = DefaultBinary
	}
	return &Converter{binary: binary}
}

// ID implements backend.Converter.
func (c *Converter) ID() string { return formats.BackendPoppler }

// Probe implements backend.Converter.
func (c *Converter) Probe() error {
	if _, err := exec.LookPath(c.binary); err != nil {
		return cverr.Wrap(cverr.ErrBackendUnavailable, c.ID(), fmt.Sprintf("binary %q not found", c.binary), nil)
	}
	return nil
}

// Convert implements backend.Converter.
func (c *Converter) Convert(ctx context.Context, req backend.Request) error {
	if err := backend.CheckOutputPath(req); err != nil {
		return cverr.Wrap(cverr.ErrConversion, c.ID(), "output check", err)
	}
	req.Emit(0, "rendering pdf page")

	// pdftoppm writes <prefix>.jpg (single page) or <prefix>-N.jpg; render
	// into the scratch dir and move the first page into place.
	prefix := filepath.Join(req.ScratchDir, "page")
	cmd := commandContext(ctx, c.binary,
		"-jpeg", "-r", "150",
		"-f", "1", "-l", "1",
		"-singlefile",
		req.InputPath, prefix,
	)
	var stderr strings.Builder
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return cverr.Wrap(cverr.ErrCancelled, c.ID(), "pdftoppm terminated", ctx.Err())
		}
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = "pdftoppm failed"
		}
		return cverr.Wrap(cverr.ErrConversion, c.ID(), detail, err)
	}

	rendered := prefix + ".jpg"
	if _, err := os.Stat(rendered); err != nil {
		return cverr.Wrap(cverr.ErrConversion, c.ID(), "rendered page missing", err)
	}
	req.Emit(0.8, "storing image")
	if err := os.Rename(rendered, req.OutputPath); err != nil {
		return cverr.Wrap(cverr.ErrConversion, c.ID(), "move output", err)
	}
	req.Emit(1, "image written")
	return nil
}

var _ backend.Converter = (*Converter)(nil)
