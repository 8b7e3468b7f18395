// Package pdfconv holds the pdf-library backends: composing PDFs from
// images and plain text with gofpdf, extracting plain text from PDFs with
// ledongthuc/pdf, and emitting a minimal OOXML document from extracted
// PDF text.
package pdfconv
