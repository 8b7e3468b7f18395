// Package gotenberg is the document-conversion backend. It posts the
// source document to a Gotenberg instance's LibreOffice route and stores
// the returned artifact. Availability is probed once against the health
// endpoint; without a configured URL the backend reports unavailable and
// the dispatcher skips it.
package gotenberg

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"converto/internal/backend"
	"converto/internal/cverr"
	"converto/internal/formats"
)

// Client converts documents through a Gotenberg instance.
type Client struct {
	baseURL string
	client  *http.Client
}

// New constructs the document backend for the given base URL. An empty
// URL produces a permanently unavailable backend.
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		// Timeouts come from the per-attempt context.
		client: &http.Client{Timeout: 0},
	}
}

// ID implements backend.Converter.
func (c *Client) ID() string { return formats.BackendGotenberg }

// Probe implements backend.Converter.
func (c *Client) Probe() error {
	if c.baseURL == "" {
		return cverr.Wrap(cverr.ErrBackendUnavailable, c.ID(), "gotenberg_url not configured", nil)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return cverr.Wrap(cverr.ErrBackendUnavailable, c.ID(), "build health request", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return cverr.Wrap(cverr.ErrBackendUnavailable, c.ID(), "gotenberg unreachable", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return cverr.Wrap(cverr.ErrBackendUnavailable, c.ID(), fmt.Sprintf("health returned status %d", resp.StatusCode), nil)
	}
	return nil
}

// Convert implements backend.Converter.
func (c *Client) Convert(ctx context.Context, req backend.Request) error {
	if err := backend.CheckOutputPath(req); err != nil {
		return cverr.Wrap(cverr.ErrConversion, c.ID(), "output check", err)
	}
	req.Emit(0, "uploading document")

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("files", filepath.Base(req.InputPath))
	if err != nil {
		return cverr.Wrap(cverr.ErrConversion, c.ID(), "build form", err)
	}
	file, err := os.Open(req.InputPath)
	if err != nil {
		return cverr.Wrap(cverr.ErrConversion, c.ID(), "open input", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		file.Close()
		return cverr.Wrap(cverr.ErrConversion, c.ID(), "copy input", err)
	}
	file.Close()
	if err := writer.Close(); err != nil {
		return cverr.Wrap(cverr.ErrConversion, c.ID(), "close form", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/forms/libreoffice/convert", body)
	if err != nil {
		return cverr.Wrap(cverr.ErrConversion, c.ID(), "build request", err)
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())

	req.Emit(0.3, "converting document")
	resp, err := c.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return cverr.Wrap(cverr.ErrCancelled, c.ID(), "request aborted", ctx.Err())
		}
		return cverr.Wrap(cverr.ErrConversion, c.ID(), "gotenberg request", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return cverr.Wrap(cverr.ErrConversion, c.ID(),
			fmt.Sprintf("gotenberg returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail))), nil)
	}

	req.Emit(0.8, "storing artifact")
	out, err := os.Create(req.OutputPath)
	if err != nil {
		return cverr.Wrap(cverr.ErrConversion, c.ID(), "create output", err)
	}
	defer out.Close()
	if _, err := io.Copy(out, resp.Body); err != nil {
		return cverr.Wrap(cverr.ErrConversion, c.ID(), "store artifact", err)
	}
	req.Emit(1, "document converted")
	return nil
}

var _ backend.Converter = (*Client)(nil)
