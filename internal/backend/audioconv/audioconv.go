// Package audioconv is the library audio backend used when ffmpeg is
// absent or fails: pure-Go MP3 decoding (hajimehoshi/go-mp3) and WAV
// encoding (go-audio/wav). It only produces WAV output; every other
// target needs ffmpeg.
package audioconv

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"

	"converto/internal/backend"
	"converto/internal/cverr"
	"converto/internal/formats"
)

// chunkFrames is the number of PCM frames converted per progress check.
const chunkFrames = 32768

// Converter is the audio-library fallback backend.
type Converter struct{}

// New constructs the audio-library backend.
func New() *Converter { return &Converter{} }

// ID implements backend.Converter.
func (c *Converter) ID() string { return formats.BackendGoAudio }

// Probe implements backend.Converter.
func (c *Converter) Probe() error { return nil }

// Convert implements backend.Converter.
func (c *Converter) Convert(ctx context.Context, req backend.Request) error {
	if err := backend.CheckOutputPath(req); err != nil {
		return cverr.Wrap(cverr.ErrConversion, c.ID(), "output check", err)
	}
	in := formats.NormalizeExt(req.InputExt)
	out := formats.NormalizeExt(req.OutputExt)

	req.Emit(0, "decoding audio")
	var err error
	switch {
	case in == "wav" && out == "wav":
		err = c.copyFile(ctx, req)
	case in == "mp3" && out == "wav":
		err = c.mp3ToWav(ctx, req)
	default:
		err = cverr.Wrap(cverr.ErrConversion, c.ID(),
			fmt.Sprintf("%s -> %s needs the ffmpeg backend", in, out), nil)
	}
	if err != nil {
		return err
	}
	req.Emit(1, "audio written")
	return nil
}

func (c *Converter) copyFile(ctx context.Context, req backend.Request) error {
	src, err := os.Open(req.InputPath)
	if err != nil {
		return cverr.Wrap(cverr.ErrConversion, c.ID(), "open input", err)
	}
	defer src.Close()
	dst, err := os.Create(req.OutputPath)
	if err != nil {
		return cverr.Wrap(cverr.ErrConversion, c.ID(), "create output", err)
	}
	defer dst.Close()
	if _, err := io.Copy(dst, src); err != nil {
		return cverr.Wrap(cverr.ErrConversion, c.ID(), "copy", err)
	}
	return nil
}

func (c *Converter) mp3ToWav(ctx context.Context, req backend.Request) error {
	src, err := os.Open(req.InputPath)
	if err != nil {
		return cverr.Wrap(cverr.ErrConversion, c.ID(), "open input", err)
	}
	defer src.Close()

	decoder, err := mp3.NewDecoder(src)
	if err != nil {
		return cverr.Wrap(cverr.ErrConversion, c.ID(), "decode mp3", err)
	}

	out, err := os.Create(req.OutputPath)
	if err != nil {
		return cverr.Wrap(cverr.ErrConversion, c.ID(), "create output", err)
	}
	defer out.Close()

	// go-mp3 always yields 16-bit little-endian stereo PCM.
	encoder := wav.NewEncoder(out, decoder.SampleRate(), 16, 2, 1)
	totalBytes := decoder.Length()
	writtenBytes := int64(0)

	raw := make([]byte, chunkFrames*4)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 2, SampleRate: decoder.SampleRate()},
		SourceBitDepth: 16,
	}
	for {
		if err := ctx.Err(); err != nil {
			encoder.Close()
			return cverr.Wrap(cverr.ErrCancelled, c.ID(), "cancelled", err)
		}
		n, readErr := io.ReadFull(decoder, raw)
		if n > 0 {
			samples := n / 2
			if cap(buf.Data) < samples {
				buf.Data = make([]int, samples)
			}
			buf.Data = buf.Data[:samples]
			for i := 0; i < samples; i++ {
				buf.Data[i] = int(int16(binary.LittleEndian.Uint16(raw[i*2:])))
			}
			if err := encoder.Write(buf); err != nil {
				encoder.Close()
				return cverr.Wrap(cverr.ErrConversion, c.ID(), "write wav", err)
			}
			writtenBytes += int64(n)
			if totalBytes > 0 {
				fraction := float64(writtenBytes) / float64(totalBytes)
				if fraction > 0.99 {
					fraction = 0.99
				}
				req.Emit(fraction, "encoding wav")
			}
		}
		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			break
		}
		if readErr != nil {
			encoder.Close()
			return cverr.Wrap(cverr.ErrConversion, c.ID(), "read pcm", readErr)
		}
	}

	if err := encoder.Close(); err != nil {
		return cverr.Wrap(cverr.ErrConversion, c.ID(), "finalize wav", err)
	}
	return nil
}

var _ backend.Converter = (*Converter)(nil)
