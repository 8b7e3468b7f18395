package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"converto/internal/backend"
	"converto/internal/cverr"
)

func stubCommand(t *testing.T, mode string) {
	t.Helper()
	original := commandContext
	commandContext = func(ctx context.Context, name string, args ...string) *exec.Cmd {
		helperMode := mode
		if name == DefaultProbeBinary {
			helperMode = "duration"
		}
		cmd := exec.CommandContext(ctx, os.Args[0], "-test.run=TestHelperProcess")
		cmd.Env = append(os.Environ(), "GO_WANT_HELPER_PROCESS=1", "FFMPEG_HELPER_MODE="+helperMode)
		return cmd
	}
	t.Cleanup(func() {
		commandContext = original
	})
}

func newRequest(t *testing.T) (backend.Request, *[]float64) {
	t.Helper()
	dir := t.TempDir()
	inputPath := filepath.Join(dir, "in.wav")
	if err := os.WriteFile(inputPath, []byte("data"), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}
	fractions := &[]float64{}
	return backend.Request{
		InputPath:  inputPath,
		OutputPath: filepath.Join(dir, "out.mp3"),
		ScratchDir: dir,
		InputExt:   "wav",
		OutputExt:  "mp3",
		Progress: func(fraction float64, status string) {
			*fractions = append(*fractions, fraction)
		},
	}, fractions
}

func TestRunReportsGranularProgress(t *testing.T) {
	stubCommand(t, "progress")

	runner := NewRunner()
	req, fractions := newRequest(t)
	if err := runner.run(context.Background(), "ffmpeg-audio", req, []string{"-vn"}); err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(*fractions) < 3 {
		t.Fatalf("fractions = %v, want start, mid, final", *fractions)
	}
	last := (*fractions)[len(*fractions)-1]
	if last != 1 {
		t.Errorf("final fraction = %v, want 1", last)
	}
	var sawMid bool
	for _, f := range *fractions {
		if f > 0 && f < 1 {
			sawMid = true
		}
	}
	if !sawMid {
		t.Errorf("expected an intermediate fraction, got %v", *fractions)
	}
}

func TestRunSurfacesStderrTailOnFailure(t *testing.T) {
	stubCommand(t, "fail")

	runner := NewRunner()
	req, _ := newRequest(t)
	err := runner.run(context.Background(), "ffmpeg-audio", req, []string{"-vn"})
	if !errors.Is(err, cverr.ErrConversion) {
		t.Fatalf("error = %v, want ErrConversion", err)
	}
	if !strings.Contains(err.Error(), "unsupported codec") {
		t.Errorf("error should carry the stderr tail: %v", err)
	}
}

func TestRunRefusesExistingOutput(t *testing.T) {
	stubCommand(t, "progress")

	runner := NewRunner()
	req, _ := newRequest(t)
	if err := os.WriteFile(req.OutputPath, []byte("already here"), 0o644); err != nil {
		t.Fatalf("write output: %v", err)
	}
	if err := runner.run(context.Background(), "ffmpeg-audio", req, []string{"-vn"}); err == nil {
		t.Error("run must refuse to overwrite an existing output")
	}
}

func TestRunCancelledContext(t *testing.T) {
	stubCommand(t, "hang")

	runner := NewRunner()
	req, _ := newRequest(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	time.AfterFunc(50*time.Millisecond, cancel)

	err := runner.run(ctx, "ffmpeg-audio", req, []string{"-vn"})
	if !errors.Is(err, cverr.ErrCancelled) {
		t.Fatalf("error = %v, want ErrCancelled", err)
	}
}

func TestProbeMissingBinary(t *testing.T) {
	runner := NewRunner(WithBinary("definitely-not-a-real-ffmpeg"))
	err := runner.probe("ffmpeg-audio")
	if !errors.Is(err, cverr.ErrBackendUnavailable) {
		t.Fatalf("error = %v, want ErrBackendUnavailable", err)
	}
}

func TestAudioArgs(t *testing.T) {
	cases := []struct {
		out     string
		bitrate string
		want    []string
	}{
		{"mp3", "", []string{"-vn", "-acodec", "libmp3lame", "-b:a", "192k"}},
		{"mp3", "320k", []string{"-vn", "-acodec", "libmp3lame", "-b:a", "320k"}},
		{"wav", "", []string{"-vn", "-acodec", "pcm_s16le"}},
		{"flac", "", []string{"-vn", "-acodec", "flac"}},
		{"ogg", "", []string{"-vn", "-acodec", "libvorbis"}},
		{"m4a", "", []string{"-vn", "-acodec", "aac", "-f", "mp4"}},
	}
	for _, tc := range cases {
		req := backend.Request{OutputExt: tc.out, Options: backend.Options{AudioBitrate: tc.bitrate}}
		got, err := audioArgs(req)
		if err != nil {
			t.Fatalf("audioArgs(%s): %v", tc.out, err)
		}
		if strings.Join(got, " ") != strings.Join(tc.want, " ") {
			t.Errorf("audioArgs(%s) = %v, want %v", tc.out, got, tc.want)
		}
	}

	if _, err := audioArgs(backend.Request{OutputExt: "aiff"}); err == nil {
		t.Error("unknown target should fail")
	}
}

func TestVideoArgs(t *testing.T) {
	mp4 := videoArgs(backend.Request{OutputExt: "mp4"})
	if strings.Join(mp4, " ") != "-c:v libx264 -c:a aac -crf 23 -strict experimental" {
		t.Errorf("mp4 args = %v", mp4)
	}
	webm := videoArgs(backend.Request{OutputExt: "webm"})
	if webm[1] != "libvpx-vp9" {
		t.Errorf("webm args = %v", webm)
	}
}

func TestSummarizeStderr(t *testing.T) {
	long := "banner line\nmore banner\nline a\nline b\nline c"
	got := summarizeStderr(long)
	if strings.Contains(got, "banner line") {
		t.Errorf("summary should drop the head: %q", got)
	}
	if !strings.Contains(got, "line c") {
		t.Errorf("summary should keep the tail: %q", got)
	}
	if summarizeStderr("") == "" {
		t.Error("empty stderr should still produce a message")
	}
}

// TestHelperProcess stands in for ffmpeg/ffprobe in the tests above.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	switch os.Getenv("FFMPEG_HELPER_MODE") {
	case "duration":
		fmt.Println("10.000000")
	case "progress":
		fmt.Println("out_time_us=2500000")
		fmt.Println("out_time_us=5000000")
		fmt.Println("out_time_us=9000000")
		fmt.Println("progress=end")
	case "fail":
		fmt.Fprintln(os.Stderr, "ffmpeg version banner")
		fmt.Fprintln(os.Stderr, "Input #0, wav")
		fmt.Fprintln(os.Stderr, "unsupported codec for output stream")
		os.Exit(1)
	case "hang":
		select {}
	}
	os.Exit(0)
}
