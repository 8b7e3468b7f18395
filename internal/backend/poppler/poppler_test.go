package poppler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"converto/internal/backend"
	"converto/internal/cverr"
)

func TestProbeMissingBinary(t *testing.T) {
	conv := New("definitely-not-pdftoppm")
	if err := conv.Probe(); !errors.Is(err, cverr.ErrBackendUnavailable) {
		t.Errorf("probe = %v, want ErrBackendUnavailable", err)
	}
}

func TestNewDefaultsBinary(t *testing.T) {
	if New("").binary != DefaultBinary {
		t.Error("empty binary should fall back to the default")
	}
	if New("  /opt/pdftoppm  ").binary != "/opt/pdftoppm" {
		t.Error("binary override should be trimmed and kept")
	}
}

func stubPdftoppm(t *testing.T, mode string) *[]string {
	t.Helper()
	captured := &[]string{}
	original := commandContext
	commandContext = func(ctx context.Context, name string, args ...string) *exec.Cmd {
		*captured = append([]string(nil), args...)
		cmd := exec.CommandContext(ctx, os.Args[0], "-test.run=TestHelperProcess")
		cmd.Env = append(os.Environ(), "GO_WANT_HELPER_PROCESS=1", "PDFTOPPM_HELPER_MODE="+mode)
		return cmd
	}
	t.Cleanup(func() {
		commandContext = original
	})
	return captured
}

func TestConvertRendersFirstPage(t *testing.T) {
	args := stubPdftoppm(t, "render")

	dir := t.TempDir()
	inputPath := filepath.Join(dir, "doc.pdf")
	if err := os.WriteFile(inputPath, []byte("%PDF-1.4"), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}

	req := backend.Request{
		InputPath:  inputPath,
		OutputPath: filepath.Join(dir, "doc.jpg"),
		ScratchDir: dir,
		InputExt:   "pdf",
		OutputExt:  "jpg",
	}
	if err := New("").Convert(context.Background(), req); err != nil {
		t.Fatalf("convert: %v", err)
	}

	if _, err := os.Stat(req.OutputPath); err != nil {
		t.Errorf("output image missing: %v", err)
	}
	joined := fmt.Sprint(*args)
	for _, want := range []string{"-jpeg", "-singlefile", inputPath} {
		found := false
		for _, arg := range *args {
			if arg == want {
				found = true
			}
		}
		if !found {
			t.Errorf("args %s missing %q", joined, want)
		}
	}
}

func TestConvertSurfacesToolFailure(t *testing.T) {
	stubPdftoppm(t, "fail")

	dir := t.TempDir()
	inputPath := filepath.Join(dir, "doc.pdf")
	if err := os.WriteFile(inputPath, []byte("%PDF-1.4"), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}

	req := backend.Request{
		InputPath:  inputPath,
		OutputPath: filepath.Join(dir, "doc.jpg"),
		ScratchDir: dir,
		InputExt:   "pdf",
		OutputExt:  "jpg",
	}
	err := New("").Convert(context.Background(), req)
	if !errors.Is(err, cverr.ErrConversion) {
		t.Fatalf("error = %v, want ErrConversion", err)
	}
}

// TestHelperProcess stands in for pdftoppm in the tests above. The render
// mode recreates its output contract: a file named <prefix>.jpg.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	switch os.Getenv("PDFTOPPM_HELPER_MODE") {
	case "render":
		args := os.Args
		prefix := args[len(args)-1]
		if err := os.WriteFile(prefix+".jpg", []byte{0xff, 0xd8, 0xff}, 0o644); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	case "fail":
		fmt.Fprintln(os.Stderr, "Syntax Error: couldn't read xref table")
		os.Exit(1)
	}
	os.Exit(0)
}
