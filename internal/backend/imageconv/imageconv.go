// Package imageconv converts raster images between formats using the
// disintegration/imaging codec paths, with chai2010/webp handling WebP
// on both sides.
package imageconv

import (
	"context"
	"image"
	"os"

	ico "github.com/biessek/golang-ico"
	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"

	"converto/internal/backend"
	"converto/internal/cverr"
	"converto/internal/formats"
)

const defaultQuality = 90

// Converter is the image-library backend.
type Converter struct{}

// New constructs the image backend.
func New() *Converter { return &Converter{} }

// ID implements backend.Converter.
func (c *Converter) ID() string { return formats.BackendImaging }

// Probe implements backend.Converter. Image codecs are linked in, so the
// backend is always available.
func (c *Converter) Probe() error { return nil }

// Convert implements backend.Converter.
func (c *Converter) Convert(ctx context.Context, req backend.Request) error {
	if err := backend.CheckOutputPath(req); err != nil {
		return cverr.Wrap(cverr.ErrConversion, c.ID(), "output check", err)
	}
	req.Emit(0, "decoding image")

	img, err := Decode(req.InputPath, req.InputExt)
	if err != nil {
		return cverr.Wrap(cverr.ErrConversion, c.ID(), "decode", err)
	}
	req.Emit(0.5, "encoding image")

	if err := ctx.Err(); err != nil {
		return cverr.Wrap(cverr.ErrCancelled, c.ID(), "cancelled before encode", err)
	}

	quality := req.Options.ImageQuality
	if quality <= 0 || quality > 100 {
		quality = defaultQuality
	}
	if err := encode(img, req.OutputPath, req.OutputExt, quality); err != nil {
		return cverr.Wrap(cverr.ErrConversion, c.ID(), "encode", err)
	}
	req.Emit(1, "image written")
	return nil
}

// Decode reads an image file, routing WebP through chai2010/webp, ICO
// through golang-ico, and everything else through imaging. Shared with
// the pdf writer backend.
func Decode(path, ext string) (image.Image, error) {
	switch formats.NormalizeExt(ext) {
	case "webp":
		file, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer file.Close()
		return webp.Decode(file)
	case "ico":
		file, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer file.Close()
		return ico.Decode(file)
	default:
		return imaging.Open(path)
	}
}

func encode(img image.Image, path, ext string, quality int) error {
	switch formats.NormalizeExt(ext) {
	case "webp":
		file, err := os.Create(path)
		if err != nil {
			return err
		}
		defer file.Close()
		return webp.Encode(file, img, &webp.Options{Quality: float32(quality)})
	default:
		return imaging.Save(img, path, imaging.JPEGQuality(quality))
	}
}

var _ backend.Converter = (*Converter)(nil)
