// Package dispatch drives the backend fallback chain for one job: ordered
// candidates from the format registry, cached availability probing,
// strictly sequential attempts with fresh per-attempt output paths, and
// aggregation of every attempt's outcome when the chain exhausts.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"converto/internal/backend"
	"converto/internal/cverr"
	"converto/internal/formats"
	"converto/internal/job"
	"converto/internal/logging"
)

// Dispatcher selects and runs converter backends for jobs.
type Dispatcher struct {
	backends map[string]backend.Converter
	options  backend.Options
	logger   *slog.Logger

	mu     sync.Mutex
	probed map[string]error
}

// New constructs a dispatcher over the given backend set. opts carries
// the tunables handed to every backend request.
func New(converters []backend.Converter, opts backend.Options, logger *slog.Logger) *Dispatcher {
	backends := make(map[string]backend.Converter, len(converters))
	for _, conv := range converters {
		backends[conv.ID()] = conv
	}
	return &Dispatcher{
		backends: backends,
		options:  opts,
		logger:   logging.WithComponent(logger, "dispatch"),
		probed:   make(map[string]error),
	}
}

// Backends lists the registered backend identifiers in no particular order.
func (d *Dispatcher) Backends() []string {
	ids := make([]string, 0, len(d.backends))
	for id := range d.backends {
		ids = append(ids, id)
	}
	return ids
}

// Availability returns the cached probe result for a backend identifier,
// probing on first use. A nil error means available. Probes run once per
// process; a backend found unavailable is never retried.
func (d *Dispatcher) Availability(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if result, ok := d.probed[id]; ok {
		return result
	}
	conv, ok := d.backends[id]
	if !ok {
		err := cverr.Wrap(cverr.ErrBackendUnavailable, id, "backend not registered", nil)
		d.probed[id] = err
		return err
	}
	err := conv.Probe()
	d.probed[id] = err
	return err
}

// Attempt runs the fallback chain for jb and finalizes it: Succeed on the
// first working backend, Fail with an aggregated reason when every
// candidate is exhausted. publish is invoked after each observable change
// so the caller can fan events out; it must not block.
//
// Fallback is strictly sequential: no two backends ever run concurrently
// for the same job.
func (d *Dispatcher) Attempt(ctx context.Context, jb *job.Job, publish func(*job.Job)) error {
	if publish == nil {
		publish = func(*job.Job) {}
	}
	logger := d.logger.With(
		logging.String(logging.FieldJobID, jb.ID),
		logging.String(logging.FieldCategory, string(jb.Category)),
	)

	candidates, err := formats.Candidates(jb.Category, jb.Input.Ext, jb.TargetExt)
	if err != nil {
		jb.Fail(err.Error())
		publish(jb)
		return err
	}

	attempted := false
	for i, id := range candidates {
		if err := ctx.Err(); err != nil {
			return cverr.Wrap(cverr.ErrCancelled, "dispatch", "cancelled before attempt", err)
		}

		if availErr := d.Availability(id); availErr != nil {
			now := time.Now().UTC()
			jb.RecordAttempt(job.Attempt{
				Backend:   id,
				StartedAt: now,
				EndedAt:   now,
				Outcome:   job.AttemptSkipped,
				Error:     availErr.Error(),
			})
			logger.Info("skipping unavailable backend",
				logging.String(logging.FieldBackend, id),
				logging.String("reason", availErr.Error()),
			)
			continue
		}

		if attempted {
			jb.ResetProgress(fmt.Sprintf("falling back to %s", id))
			publish(jb)
		}
		attempted = true

		req, err := d.attemptRequest(jb, i, id, publish)
		if err != nil {
			jb.Fail(err.Error())
			publish(jb)
			return err
		}

		started := time.Now().UTC()
		convErr := d.invoke(ctx, d.backends[id], req)
		record := job.Attempt{
			Backend:   id,
			StartedAt: started,
			EndedAt:   time.Now().UTC(),
		}

		if convErr == nil {
			record.Outcome = job.AttemptSucceeded
			jb.RecordAttempt(record)
			jb.Succeed(req.OutputPath)
			publish(jb)
			logger.Info("conversion succeeded",
				logging.String(logging.FieldBackend, id),
				logging.Duration("elapsed", record.EndedAt.Sub(record.StartedAt)),
			)
			return nil
		}

		record.Outcome = job.AttemptFailed
		record.Error = convErr.Error()
		jb.RecordAttempt(record)

		if errors.Is(convErr, cverr.ErrCancelled) || ctx.Err() != nil {
			return cverr.Wrap(cverr.ErrCancelled, "dispatch", "attempt cancelled", convErr)
		}

		logger.Warn("backend attempt failed; trying next candidate",
			logging.String(logging.FieldBackend, id),
			logging.Error(convErr),
			logging.String(logging.FieldEventType, "backend_attempt_failed"),
		)
	}

	failure := d.aggregate(jb)
	jb.Fail(failure)
	publish(jb)
	return cverr.Wrap(cverr.ErrConversion, "dispatch", failure, nil)
}

// attemptRequest builds a fresh sub-scratch output path so a failed
// attempt's partial output can never race a later attempt.
func (d *Dispatcher) attemptRequest(jb *job.Job, index int, id string, publish func(*job.Job)) (backend.Request, error) {
	attemptDir := filepath.Join(jb.ScratchDir(), fmt.Sprintf("attempt-%d-%s", index, id))
	if err := os.MkdirAll(attemptDir, 0o755); err != nil {
		return backend.Request{}, cverr.Wrap(cverr.ErrResourceExhausted, "dispatch", "create attempt dir", err)
	}
	stem := strings.TrimSuffix(jb.Input.Filename, filepath.Ext(jb.Input.Filename))
	if stem == "" {
		stem = "output"
	}
	return backend.Request{
		InputPath:  jb.Input.Path,
		OutputPath: filepath.Join(attemptDir, stem+"."+jb.TargetExt),
		ScratchDir: attemptDir,
		InputExt:   jb.Input.Ext,
		OutputExt:  jb.TargetExt,
		Options:    d.options,
		Progress: func(fraction float64, status string) {
			jb.SetProgress(fraction, status)
			publish(jb)
		},
	}, nil
}

// invoke shields the worker from a panicking backend, converting the
// panic into a failed attempt.
func (d *Dispatcher) invoke(ctx context.Context, conv backend.Converter, req backend.Request) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = cverr.Wrap(cverr.ErrConversion, conv.ID(), fmt.Sprintf("backend panicked: %v", r), nil)
		}
	}()
	return conv.Convert(ctx, req)
}

func (d *Dispatcher) aggregate(jb *job.Job) string {
	snapshot := jb.Snapshot()
	if len(snapshot.Attempts) == 0 {
		return "no backend available for this conversion"
	}
	parts := make([]string, 0, len(snapshot.Attempts))
	for _, attempt := range snapshot.Attempts {
		switch attempt.Outcome {
		case job.AttemptSkipped:
			parts = append(parts, fmt.Sprintf("%s skipped (%s)", attempt.Backend, attempt.Error))
		default:
			parts = append(parts, fmt.Sprintf("%s failed (%s)", attempt.Backend, attempt.Error))
		}
	}
	return "all backends exhausted: " + strings.Join(parts, "; ")
}
