package pdfconv

import (
	"bytes"
	"context"
	"io"
	"os"

	"github.com/ledongthuc/pdf"

	"converto/internal/backend"
	"converto/internal/cverr"
	"converto/internal/formats"
)

// TextExtractor is the backend converting PDF to plain text.
type TextExtractor struct{}

// NewTextExtractor constructs the pdf→txt backend.
func NewTextExtractor() *TextExtractor { return &TextExtractor{} }

// ID implements backend.Converter.
func (t *TextExtractor) ID() string { return formats.BackendPDFText }

// Probe implements backend.Converter.
func (t *TextExtractor) Probe() error { return nil }

// Convert implements backend.Converter.
func (t *TextExtractor) Convert(ctx context.Context, req backend.Request) error {
	if err := backend.CheckOutputPath(req); err != nil {
		return cverr.Wrap(cverr.ErrConversion, t.ID(), "output check", err)
	}
	req.Emit(0, "extracting text")

	text, err := extractText(req.InputPath)
	if err != nil {
		return cverr.Wrap(cverr.ErrConversion, t.ID(), "extract", err)
	}
	req.Emit(0.7, "writing text")
	if err := ctx.Err(); err != nil {
		return cverr.Wrap(cverr.ErrCancelled, t.ID(), "cancelled", err)
	}

	out, err := os.Create(req.OutputPath)
	if err != nil {
		return cverr.Wrap(cverr.ErrConversion, t.ID(), "create output", err)
	}
	defer out.Close()
	if _, err := io.Copy(out, text); err != nil {
		return cverr.Wrap(cverr.ErrConversion, t.ID(), "write output", err)
	}
	req.Emit(1, "text written")
	return nil
}

func extractText(path string) (io.Reader, error) {
	file, reader, err := pdf.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	plain, err := reader.GetPlainText()
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, plain); err != nil {
		return nil, err
	}
	return &buf, nil
}

var _ backend.Converter = (*TextExtractor)(nil)
