// Package ffmpeg wraps the ffmpeg command-line tool as converter backends:
// a lossy audio transcoder, the primary video transcoder, and a container
// remux fallback. Progress is parsed from ffmpeg's -progress key=value
// stream; when ffprobe can report the input duration the fraction is
// granular, otherwise coarse start/end events are emitted.
package ffmpeg

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"converto/internal/backend"
	"converto/internal/cverr"
)

var commandContext = exec.CommandContext

// DefaultBinary is the ffmpeg command resolved from PATH when the
// configuration does not override it.
const DefaultBinary = "ffmpeg"

// DefaultProbeBinary is the ffprobe command used for duration lookup.
const DefaultProbeBinary = "ffprobe"

// Runner owns the shared process and progress plumbing for the ffmpeg
// backend variants.
type Runner struct {
	binary      string
	probeBinary string
	grace       time.Duration
}

// Option configures a Runner.
type Option func(*Runner)

// WithBinary overrides the ffmpeg command.
func WithBinary(binary string) Option {
	return func(r *Runner) {
		if strings.TrimSpace(binary) != "" {
			r.binary = binary
		}
	}
}

// WithProbeBinary overrides the ffprobe command.
func WithProbeBinary(binary string) Option {
	return func(r *Runner) {
		if strings.TrimSpace(binary) != "" {
			r.probeBinary = binary
		}
	}
}

// WithGrace sets how long a cancelled ffmpeg process may keep running
// before it is killed outright.
func WithGrace(grace time.Duration) Option {
	return func(r *Runner) {
		if grace > 0 {
			r.grace = grace
		}
	}
}

// NewRunner constructs a Runner with defaults.
func NewRunner(opts ...Option) *Runner {
	r := &Runner{binary: DefaultBinary, probeBinary: DefaultProbeBinary}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Runner) probe(id string) error {
	if _, err := exec.LookPath(r.binary); err != nil {
		return cverr.Wrap(cverr.ErrBackendUnavailable, id, fmt.Sprintf("binary %q not found", r.binary), nil)
	}
	return nil
}

// duration asks ffprobe for the input length. Zero means unknown.
func (r *Runner) duration(ctx context.Context, inputPath string) time.Duration {
	if _, err := exec.LookPath(r.probeBinary); err != nil {
		return 0
	}
	cmd := commandContext(ctx, r.probeBinary,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		inputPath,
	)
	out, err := cmd.Output()
	if err != nil {
		return 0
	}
	seconds, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil || seconds <= 0 {
		return 0
	}
	return time.Duration(seconds * float64(time.Second))
}

// run executes ffmpeg with the given output arguments, streaming progress
// to the request sink. The context kills the process on cancellation.
func (r *Runner) run(ctx context.Context, id string, req backend.Request, outputArgs []string) error {
	if err := backend.CheckOutputPath(req); err != nil {
		return cverr.Wrap(cverr.ErrConversion, id, "output check", err)
	}

	total := r.duration(ctx, req.InputPath)
	req.Emit(0, "starting ffmpeg")

	args := []string{
		"-hide_banner", "-nostdin", "-nostats",
		"-progress", "pipe:1",
		"-i", req.InputPath,
	}
	args = append(args, outputArgs...)
	args = append(args, "-y", req.OutputPath)

	cmd := commandContext(ctx, r.binary, args...)
	if req.ScratchDir != "" {
		cmd.Dir = req.ScratchDir
	}
	if r.grace > 0 {
		cmd.Cancel = func() error {
			return cmd.Process.Signal(os.Interrupt)
		}
		cmd.WaitDelay = r.grace
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return cverr.Wrap(cverr.ErrConversion, id, "stdout pipe", err)
	}
	var stderr strings.Builder
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return cverr.Wrap(cverr.ErrConversion, id, "start ffmpeg", err)
	}

	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(scanner.Text()), "=")
		if !ok {
			continue
		}
		switch key {
		case "out_time_us":
			if total <= 0 {
				continue
			}
			us, err := strconv.ParseInt(value, 10, 64)
			if err != nil || us < 0 {
				continue
			}
			fraction := float64(us) / float64(total.Microseconds())
			if fraction > 0.99 {
				fraction = 0.99
			}
			req.Emit(fraction, "transcoding")
		case "progress":
			if value == "end" {
				req.Emit(0.99, "finalizing")
			}
		}
	}

	waitErr := cmd.Wait()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return cverr.Wrap(cverr.ErrCancelled, id, "ffmpeg terminated", ctxErr)
	}
	if waitErr != nil {
		return cverr.Wrap(cverr.ErrConversion, id, summarizeStderr(stderr.String()), waitErr)
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, ctx.Err()) {
		return cverr.Wrap(cverr.ErrConversion, id, "read ffmpeg output", err)
	}

	req.Emit(1, "ffmpeg finished")
	return nil
}

// summarizeStderr keeps the tail of ffmpeg's stderr, which carries the
// actionable message, and drops the banner noise.
func summarizeStderr(output string) string {
	lines := strings.Split(strings.TrimSpace(output), "\n")
	if len(lines) == 0 {
		return "ffmpeg failed"
	}
	start := len(lines) - 3
	if start < 0 {
		start = 0
	}
	return strings.TrimSpace(strings.Join(lines[start:], " "))
}
