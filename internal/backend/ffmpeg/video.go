package ffmpeg

import (
	"context"

	"converto/internal/backend"
	"converto/internal/formats"
)

// Transcode is the primary video backend: full re-encode with the H.264 +
// AAC defaults the project has always shipped (crf 23), or VP9 + Opus for
// WebM targets.
type Transcode struct {
	runner *Runner
}

// NewTranscode constructs the primary video backend.
func NewTranscode(runner *Runner) *Transcode {
	if runner == nil {
		runner = NewRunner()
	}
	return &Transcode{runner: runner}
}

// ID implements backend.Converter.
func (t *Transcode) ID() string { return formats.BackendFFmpegVideo }

// Probe implements backend.Converter.
func (t *Transcode) Probe() error { return t.runner.probe(t.ID()) }

// Convert implements backend.Converter.
func (t *Transcode) Convert(ctx context.Context, req backend.Request) error {
	return t.runner.run(ctx, t.ID(), req, videoArgs(req))
}

func videoArgs(req backend.Request) []string {
	if formats.NormalizeExt(req.OutputExt) == "webm" {
		return []string{"-c:v", "libvpx-vp9", "-c:a", "libopus", "-crf", "32", "-b:v", "0"}
	}
	return []string{"-c:v", "libx264", "-c:a", "aac", "-crf", "23", "-strict", "experimental"}
}

// Remux is the fallback video backend: container rewrite with stream copy.
// It succeeds on codec combinations the transcoder rejects and is far
// cheaper, at the cost of keeping the source encoding.
type Remux struct {
	runner *Runner
}

// NewRemux constructs the fallback video backend.
func NewRemux(runner *Runner) *Remux {
	if runner == nil {
		runner = NewRunner()
	}
	return &Remux{runner: runner}
}

// ID implements backend.Converter.
func (r *Remux) ID() string { return formats.BackendFFmpegRemux }

// Probe implements backend.Converter.
func (r *Remux) Probe() error { return r.runner.probe(r.ID()) }

// Convert implements backend.Converter.
func (r *Remux) Convert(ctx context.Context, req backend.Request) error {
	return r.runner.run(ctx, r.ID(), req, []string{"-c", "copy"})
}

var (
	_ backend.Converter = (*Transcode)(nil)
	_ backend.Converter = (*Remux)(nil)
)
