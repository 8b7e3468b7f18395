package gotenberg

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"converto/internal/backend"
	"converto/internal/cverr"
	"converto/internal/testsupport"
)

func TestProbeWithoutURL(t *testing.T) {
	client := New("")
	if err := client.Probe(); !errors.Is(err, cverr.ErrBackendUnavailable) {
		t.Errorf("probe = %v, want ErrBackendUnavailable", err)
	}
}

func TestProbeAgainstHealthEndpoint(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer healthy.Close()

	if err := New(healthy.URL).Probe(); err != nil {
		t.Errorf("probe healthy = %v", err)
	}

	sick := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer sick.Close()

	if err := New(sick.URL).Probe(); !errors.Is(err, cverr.ErrBackendUnavailable) {
		t.Errorf("probe sick = %v, want ErrBackendUnavailable", err)
	}
}

func TestConvertUploadsAndStoresArtifact(t *testing.T) {
	var gotPath string
	var gotFilename string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		file, header, err := r.FormFile("files")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer file.Close()
		gotFilename = header.Filename
		if _, err := io.ReadAll(file); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte("%PDF-1.4 converted"))
	}))
	defer server.Close()

	dir := t.TempDir()
	inputPath := filepath.Join(dir, "report.docx")
	testsupport.WriteFile(t, inputPath, 64)

	req := backend.Request{
		InputPath:  inputPath,
		OutputPath: filepath.Join(dir, "report.pdf"),
		InputExt:   "docx",
		OutputExt:  "pdf",
	}
	if err := New(server.URL).Convert(context.Background(), req); err != nil {
		t.Fatalf("convert: %v", err)
	}

	if gotPath != "/forms/libreoffice/convert" {
		t.Errorf("request path = %q", gotPath)
	}
	if gotFilename != "report.docx" {
		t.Errorf("uploaded filename = %q", gotFilename)
	}
	data, err := os.ReadFile(req.OutputPath)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if string(data) != "%PDF-1.4 converted" {
		t.Errorf("output = %q", data)
	}
}

func TestConvertSurfacesServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "libreoffice crashed", http.StatusInternalServerError)
	}))
	defer server.Close()

	dir := t.TempDir()
	inputPath := filepath.Join(dir, "report.docx")
	testsupport.WriteFile(t, inputPath, 16)

	req := backend.Request{
		InputPath:  inputPath,
		OutputPath: filepath.Join(dir, "report.pdf"),
		InputExt:   "docx",
		OutputExt:  "pdf",
	}
	err := New(server.URL).Convert(context.Background(), req)
	if !errors.Is(err, cverr.ErrConversion) {
		t.Fatalf("error = %v, want ErrConversion", err)
	}
}

func TestConvertCancelledContext(t *testing.T) {
	block := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer server.Close()
	defer close(block)

	dir := t.TempDir()
	inputPath := filepath.Join(dir, "report.docx")
	testsupport.WriteFile(t, inputPath, 16)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	req := backend.Request{
		InputPath:  inputPath,
		OutputPath: filepath.Join(dir, "report.pdf"),
		InputExt:   "docx",
		OutputExt:  "pdf",
	}
	err := New(server.URL).Convert(ctx, req)
	if !errors.Is(err, cverr.ErrCancelled) {
		t.Fatalf("error = %v, want ErrCancelled", err)
	}
}
