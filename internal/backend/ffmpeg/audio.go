package ffmpeg

import (
	"context"
	"fmt"
	"strings"

	"converto/internal/backend"
	"converto/internal/cverr"
	"converto/internal/formats"
)

const defaultAudioBitrate = "192k"

// Audio is the primary audio backend, transcoding through ffmpeg.
type Audio struct {
	runner *Runner
}

// NewAudio constructs the ffmpeg audio backend.
func NewAudio(runner *Runner) *Audio {
	if runner == nil {
		runner = NewRunner()
	}
	return &Audio{runner: runner}
}

// ID implements backend.Converter.
func (a *Audio) ID() string { return formats.BackendFFmpegAudio }

// Probe implements backend.Converter.
func (a *Audio) Probe() error { return a.runner.probe(a.ID()) }

// Convert implements backend.Converter.
func (a *Audio) Convert(ctx context.Context, req backend.Request) error {
	args, err := audioArgs(req)
	if err != nil {
		return cverr.Wrap(cverr.ErrConversion, a.ID(), "arguments", err)
	}
	return a.runner.run(ctx, a.ID(), req, args)
}

func audioArgs(req backend.Request) ([]string, error) {
	bitrate := strings.TrimSpace(req.Options.AudioBitrate)
	if bitrate == "" {
		bitrate = defaultAudioBitrate
	}
	args := []string{"-vn"}
	switch formats.NormalizeExt(req.OutputExt) {
	case "mp3":
		args = append(args, "-acodec", "libmp3lame", "-b:a", bitrate)
	case "wav":
		args = append(args, "-acodec", "pcm_s16le")
	case "flac":
		args = append(args, "-acodec", "flac")
	case "ogg":
		args = append(args, "-acodec", "libvorbis")
	case "m4a":
		args = append(args, "-acodec", "aac", "-f", "mp4")
	default:
		return nil, fmt.Errorf("no audio encoder mapping for %q", req.OutputExt)
	}
	return args, nil
}

var _ backend.Converter = (*Audio)(nil)
