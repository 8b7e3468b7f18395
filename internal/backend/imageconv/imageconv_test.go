package imageconv

import (
	"context"
	"errors"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	ico "github.com/biessek/golang-ico"
	"github.com/disintegration/imaging"

	"converto/internal/backend"
	"converto/internal/cverr"
	"converto/internal/testsupport"
)

func newRequest(t *testing.T, outExt string) backend.Request {
	t.Helper()
	dir := t.TempDir()
	inputPath := filepath.Join(dir, "photo.png")
	testsupport.WritePNG(t, inputPath, 24, 16)
	return backend.Request{
		InputPath:  inputPath,
		OutputPath: filepath.Join(dir, "photo."+outExt),
		ScratchDir: dir,
		InputExt:   "png",
		OutputExt:  outExt,
	}
}

func TestConvertPNGToJPEG(t *testing.T) {
	conv := New()
	req := newRequest(t, "jpg")
	if err := conv.Convert(context.Background(), req); err != nil {
		t.Fatalf("convert: %v", err)
	}

	img, err := imaging.Open(req.OutputPath)
	if err != nil {
		t.Fatalf("open output: %v", err)
	}
	bounds := img.Bounds()
	if bounds.Dx() != 24 || bounds.Dy() != 16 {
		t.Errorf("output dimensions = %dx%d, want 24x16", bounds.Dx(), bounds.Dy())
	}
}

func TestConvertPNGToWebP(t *testing.T) {
	conv := New()
	req := newRequest(t, "webp")
	if err := conv.Convert(context.Background(), req); err != nil {
		t.Fatalf("convert: %v", err)
	}

	img, err := Decode(req.OutputPath, "webp")
	if err != nil {
		t.Fatalf("decode webp output: %v", err)
	}
	if img.Bounds().Dx() != 24 {
		t.Errorf("width = %d, want 24", img.Bounds().Dx())
	}
}

func TestConvertRoundTripWebP(t *testing.T) {
	conv := New()
	first := newRequest(t, "webp")
	if err := conv.Convert(context.Background(), first); err != nil {
		t.Fatalf("png -> webp: %v", err)
	}

	second := backend.Request{
		InputPath:  first.OutputPath,
		OutputPath: filepath.Join(filepath.Dir(first.OutputPath), "back.png"),
		InputExt:   "webp",
		OutputExt:  "png",
	}
	if err := conv.Convert(context.Background(), second); err != nil {
		t.Fatalf("webp -> png: %v", err)
	}
	if _, err := imaging.Open(second.OutputPath); err != nil {
		t.Fatalf("open round-tripped png: %v", err)
	}
}

func TestConvertEmitsProgressBounds(t *testing.T) {
	conv := New()
	req := newRequest(t, "bmp")
	var fractions []float64
	req.Progress = func(fraction float64, status string) {
		fractions = append(fractions, fraction)
	}
	if err := conv.Convert(context.Background(), req); err != nil {
		t.Fatalf("convert: %v", err)
	}
	if len(fractions) == 0 || fractions[0] != 0 || fractions[len(fractions)-1] != 1 {
		t.Errorf("fractions = %v, want 0 first and 1 last", fractions)
	}
}

func TestConvertRefusesOverwrite(t *testing.T) {
	conv := New()
	req := newRequest(t, "jpg")
	if err := os.WriteFile(req.OutputPath, []byte("existing"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := conv.Convert(context.Background(), req); err == nil {
		t.Error("convert must refuse an existing output path")
	}
}

func TestConvertIcoToPNG(t *testing.T) {
	conv := New()
	dir := t.TempDir()

	src := imaging.New(16, 16, color.NRGBA{R: 0xcc, G: 0x33, B: 0x11, A: 0xff})
	inputPath := filepath.Join(dir, "favicon.ico")
	file, err := os.Create(inputPath)
	if err != nil {
		t.Fatalf("create ico: %v", err)
	}
	if err := ico.Encode(file, src); err != nil {
		file.Close()
		t.Fatalf("encode ico: %v", err)
	}
	if err := file.Close(); err != nil {
		t.Fatalf("close ico: %v", err)
	}

	req := backend.Request{
		InputPath:  inputPath,
		OutputPath: filepath.Join(dir, "favicon.png"),
		ScratchDir: dir,
		InputExt:   "ico",
		OutputExt:  "png",
	}
	if err := conv.Convert(context.Background(), req); err != nil {
		t.Fatalf("convert: %v", err)
	}

	img, err := imaging.Open(req.OutputPath)
	if err != nil {
		t.Fatalf("open output: %v", err)
	}
	if img.Bounds().Dx() != 16 || img.Bounds().Dy() != 16 {
		t.Errorf("output dimensions = %dx%d, want 16x16", img.Bounds().Dx(), img.Bounds().Dy())
	}
}

func TestConvertRejectsCorruptInput(t *testing.T) {
	conv := New()
	dir := t.TempDir()
	inputPath := filepath.Join(dir, "photo.png")
	testsupport.WriteText(t, inputPath, "not an image")
	req := backend.Request{
		InputPath:  inputPath,
		OutputPath: filepath.Join(dir, "photo.jpg"),
		ScratchDir: dir,
		InputExt:   "png",
		OutputExt:  "jpg",
	}
	err := conv.Convert(context.Background(), req)
	if !errors.Is(err, cverr.ErrConversion) {
		t.Fatalf("error = %v, want ErrConversion", err)
	}
}

func TestConvertHonorsCancelledContext(t *testing.T) {
	conv := New()
	req := newRequest(t, "jpg")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := conv.Convert(ctx, req)
	if !errors.Is(err, cverr.ErrCancelled) {
		t.Fatalf("error = %v, want ErrCancelled", err)
	}
	if _, statErr := os.Stat(req.OutputPath); !os.IsNotExist(statErr) {
		t.Error("no output should be written after cancellation")
	}
}
