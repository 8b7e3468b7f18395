package testsupport

import (
	"context"
	"os"
	"sync"

	"converto/internal/backend"
)

// FakeConverter is a scriptable backend implementation for scheduler and
// dispatcher tests.
type FakeConverter struct {
	Identifier string
	ProbeErr   error
	ConvertFn  func(ctx context.Context, req backend.Request) error

	mu    sync.Mutex
	calls int
}

// ID implements backend.Converter.
func (f *FakeConverter) ID() string { return f.Identifier }

// Probe implements backend.Converter.
func (f *FakeConverter) Probe() error { return f.ProbeErr }

// Convert implements backend.Converter. When ConvertFn is nil the fake
// writes a one-byte output file and reports full progress.
func (f *FakeConverter) Convert(ctx context.Context, req backend.Request) error {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if f.ConvertFn != nil {
		return f.ConvertFn(ctx, req)
	}
	req.Emit(0.5, "converting")
	if err := os.WriteFile(req.OutputPath, []byte{0x1}, 0o644); err != nil {
		return err
	}
	req.Emit(1, "done")
	return nil
}

// Calls reports how many times Convert ran.
func (f *FakeConverter) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}
