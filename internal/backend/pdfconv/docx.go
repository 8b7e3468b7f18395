package pdfconv

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"io"
	"os"
	"strings"

	"converto/internal/backend"
	"converto/internal/cverr"
	"converto/internal/formats"
)

const docxContentTypes = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">
  <Default Extension="rels" ContentType="application/vnd.openxmlformats-package.relationships+xml"/>
  <Default Extension="xml" ContentType="application/xml"/>
  <Override PartName="/word/document.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"/>
</Types>`

const docxRels = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">
  <Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/officeDocument" Target="word/document.xml"/>
</Relationships>`

// DocxWriter converts a PDF into a minimal OOXML document: one paragraph
// per extracted text line, no styling. It exists so pdf→docx keeps working
// without an office suite on the host.
type DocxWriter struct{}

// NewDocxWriter constructs the pdf→docx backend.
func NewDocxWriter() *DocxWriter { return &DocxWriter{} }

// ID implements backend.Converter.
func (d *DocxWriter) ID() string { return formats.BackendDocxWriter }

// Probe implements backend.Converter.
func (d *DocxWriter) Probe() error { return nil }

// Convert implements backend.Converter.
func (d *DocxWriter) Convert(ctx context.Context, req backend.Request) error {
	if err := backend.CheckOutputPath(req); err != nil {
		return cverr.Wrap(cverr.ErrConversion, d.ID(), "output check", err)
	}
	req.Emit(0, "extracting text")

	text, err := extractText(req.InputPath)
	if err != nil {
		return cverr.Wrap(cverr.ErrConversion, d.ID(), "extract", err)
	}
	raw, err := io.ReadAll(text)
	if err != nil {
		return cverr.Wrap(cverr.ErrConversion, d.ID(), "read text", err)
	}
	req.Emit(0.6, "writing document")
	if err := ctx.Err(); err != nil {
		return cverr.Wrap(cverr.ErrCancelled, d.ID(), "cancelled", err)
	}

	if err := writeDocx(req.OutputPath, string(raw)); err != nil {
		return cverr.Wrap(cverr.ErrConversion, d.ID(), "write docx", err)
	}
	req.Emit(1, "document written")
	return nil
}

func writeDocx(path, text string) error {
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	defer out.Close()

	archive := zip.NewWriter(out)
	parts := []struct {
		name string
		body string
	}{
		{"[Content_Types].xml", docxContentTypes},
		{"_rels/.rels", docxRels},
		{"word/document.xml", documentXML(text)},
	}
	for _, part := range parts {
		w, err := archive.Create(part.name)
		if err != nil {
			return err
		}
		if _, err := io.WriteString(w, part.body); err != nil {
			return err
		}
	}
	return archive.Close()
}

func documentXML(text string) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>`)
	b.WriteString(`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>`)
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r")
		b.WriteString(`<w:p><w:r><w:t xml:space="preserve">`)
		_ = xml.EscapeText(&b, []byte(line))
		b.WriteString(`</w:t></w:r></w:p>`)
	}
	b.WriteString(`</w:body></w:document>`)
	return b.String()
}

var _ backend.Converter = (*DocxWriter)(nil)
