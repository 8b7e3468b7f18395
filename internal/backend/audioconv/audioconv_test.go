package audioconv

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"converto/internal/backend"
	"converto/internal/cverr"
	"converto/internal/testsupport"
)

func TestConvertWavPassThrough(t *testing.T) {
	dir := t.TempDir()
	inputPath := filepath.Join(dir, "voice.wav")
	testsupport.WriteFile(t, inputPath, 512)

	req := backend.Request{
		InputPath:  inputPath,
		OutputPath: filepath.Join(dir, "copy.wav"),
		InputExt:   "wav",
		OutputExt:  "wav",
	}
	if err := New().Convert(context.Background(), req); err != nil {
		t.Fatalf("convert: %v", err)
	}
	info, err := os.Stat(req.OutputPath)
	if err != nil {
		t.Fatalf("stat output: %v", err)
	}
	if info.Size() != 512 {
		t.Errorf("output size = %d, want 512", info.Size())
	}
}

func TestConvertRejectsPairsNeedingFFmpeg(t *testing.T) {
	dir := t.TempDir()
	inputPath := filepath.Join(dir, "song.flac")
	testsupport.WriteFile(t, inputPath, 64)

	cases := []struct{ in, out string }{
		{"flac", "mp3"},
		{"wav", "mp3"},
		{"ogg", "wav"},
		{"mp3", "flac"},
	}
	for _, tc := range cases {
		req := backend.Request{
			InputPath:  inputPath,
			OutputPath: filepath.Join(dir, "out-"+tc.in+"-"+tc.out),
			InputExt:   tc.in,
			OutputExt:  tc.out,
		}
		err := New().Convert(context.Background(), req)
		if !errors.Is(err, cverr.ErrConversion) {
			t.Errorf("%s -> %s: error = %v, want ErrConversion", tc.in, tc.out, err)
		}
		if err != nil && !strings.Contains(err.Error(), "ffmpeg") {
			t.Errorf("%s -> %s: error should point at the ffmpeg backend: %v", tc.in, tc.out, err)
		}
	}
}

func TestConvertRejectsCorruptMP3(t *testing.T) {
	dir := t.TempDir()
	inputPath := filepath.Join(dir, "broken.mp3")
	testsupport.WriteFile(t, inputPath, 128)

	req := backend.Request{
		InputPath:  inputPath,
		OutputPath: filepath.Join(dir, "out.wav"),
		InputExt:   "mp3",
		OutputExt:  "wav",
	}
	if err := New().Convert(context.Background(), req); !errors.Is(err, cverr.ErrConversion) {
		t.Errorf("error = %v, want ErrConversion for garbage mp3 input", err)
	}
}

func TestProbeAlwaysAvailable(t *testing.T) {
	if err := New().Probe(); err != nil {
		t.Errorf("probe: %v", err)
	}
}

func TestConvertRefusesOverwrite(t *testing.T) {
	dir := t.TempDir()
	inputPath := filepath.Join(dir, "voice.wav")
	testsupport.WriteFile(t, inputPath, 16)

	req := backend.Request{
		InputPath:  inputPath,
		OutputPath: filepath.Join(dir, "copy.wav"),
		InputExt:   "wav",
		OutputExt:  "wav",
	}
	testsupport.WriteFile(t, req.OutputPath, 1)
	if err := New().Convert(context.Background(), req); err == nil {
		t.Error("convert must refuse an existing output path")
	}
}
