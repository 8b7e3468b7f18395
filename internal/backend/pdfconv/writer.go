package pdfconv

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"image/png"
	"os"

	"github.com/jung-kurt/gofpdf"

	"converto/internal/backend"
	"converto/internal/backend/imageconv"
	"converto/internal/cverr"
	"converto/internal/formats"
)

// A4 content box in millimeters, with a 10mm margin on each side.
const (
	pageWidthMM    = 210.0
	pageHeightMM   = 297.0
	pageMarginMM   = 10.0
	contentWidthMM = pageWidthMM - 2*pageMarginMM
)

// Writer is the pdf-library backend producing PDF output from images and
// plain text.
type Writer struct{}

// NewWriter constructs the PDF writer backend.
func NewWriter() *Writer { return &Writer{} }

// ID implements backend.Converter.
func (w *Writer) ID() string { return formats.BackendPDFWriter }

// Probe implements backend.Converter.
func (w *Writer) Probe() error { return nil }

// Convert implements backend.Converter.
func (w *Writer) Convert(ctx context.Context, req backend.Request) error {
	if err := backend.CheckOutputPath(req); err != nil {
		return cverr.Wrap(cverr.ErrConversion, w.ID(), "output check", err)
	}
	req.Emit(0, "building pdf")

	var err error
	switch formats.NormalizeExt(req.InputExt) {
	case "txt":
		err = w.textToPDF(ctx, req)
	default:
		err = w.imageToPDF(ctx, req)
	}
	if err != nil {
		return err
	}
	req.Emit(1, "pdf written")
	return nil
}

func (w *Writer) imageToPDF(ctx context.Context, req backend.Request) error {
	img, err := imageconv.Decode(req.InputPath, req.InputExt)
	if err != nil {
		return cverr.Wrap(cverr.ErrConversion, w.ID(), "decode image", err)
	}
	req.Emit(0.4, "embedding image")
	if err := ctx.Err(); err != nil {
		return cverr.Wrap(cverr.ErrCancelled, w.ID(), "cancelled", err)
	}

	// Re-encode to PNG so gofpdf sees one well-supported embed type
	// regardless of the source format.
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return cverr.Wrap(cverr.ErrConversion, w.ID(), "reencode image", err)
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.AddPage()
	opts := gofpdf.ImageOptions{ImageType: "PNG"}
	info := pdf.RegisterImageOptionsReader("source", opts, &buf)
	if pdf.Err() {
		return cverr.Wrap(cverr.ErrConversion, w.ID(), "register image", pdf.Error())
	}

	width := contentWidthMM
	height := width * info.Height() / info.Width()
	if height > pageHeightMM-2*pageMarginMM {
		height = pageHeightMM - 2*pageMarginMM
		width = height * info.Width() / info.Height()
	}
	pdf.ImageOptions("source", pageMarginMM, pageMarginMM, width, height, false, opts, 0, "")

	if err := pdf.OutputFileAndClose(req.OutputPath); err != nil {
		return cverr.Wrap(cverr.ErrConversion, w.ID(), "write pdf", err)
	}
	return nil
}

func (w *Writer) textToPDF(ctx context.Context, req backend.Request) error {
	file, err := os.Open(req.InputPath)
	if err != nil {
		return cverr.Wrap(cverr.ErrConversion, w.ID(), "open text", err)
	}
	defer file.Close()

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(pageMarginMM, pageMarginMM, pageMarginMM)
	pdf.AddPage()
	pdf.SetFont("Helvetica", "", 11)
	translate := pdf.UnicodeTranslatorFromDescriptor("")

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lines := 0
	for scanner.Scan() {
		if lines%200 == 0 {
			if err := ctx.Err(); err != nil {
				return cverr.Wrap(cverr.ErrCancelled, w.ID(), "cancelled", err)
			}
		}
		pdf.MultiCell(contentWidthMM, 5.5, translate(scanner.Text()), "", "L", false)
		lines++
	}
	if err := scanner.Err(); err != nil {
		return cverr.Wrap(cverr.ErrConversion, w.ID(), "read text", err)
	}
	req.Emit(0.7, fmt.Sprintf("laid out %d lines", lines))

	if err := pdf.OutputFileAndClose(req.OutputPath); err != nil {
		return cverr.Wrap(cverr.ErrConversion, w.ID(), "write pdf", err)
	}
	return nil
}

var _ backend.Converter = (*Writer)(nil)
