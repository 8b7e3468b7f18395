// Package api is the embedding surface of the conversion core. It
// validates submissions synchronously, stages input bytes into scratch
// space, and exposes job status, output retrieval, cancellation, and
// live progress watching over the scheduler.
package api

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"converto/internal/cverr"
	"converto/internal/formats"
	"converto/internal/job"
	"converto/internal/logging"
	"converto/internal/progress"
	"converto/internal/schedule"
	"converto/internal/scratch"
)

// Service wires format validation, scratch staging, and the scheduler
// into one facade.
type Service struct {
	sched  *schedule.Scheduler
	store  *scratch.Store
	bus    *progress.Bus
	logger *slog.Logger
}

// New constructs the service facade.
func New(sched *schedule.Scheduler, store *scratch.Store, bus *progress.Bus, logger *slog.Logger) (*Service, error) {
	if sched == nil {
		return nil, fmt.Errorf("api: scheduler is required")
	}
	if store == nil {
		return nil, fmt.Errorf("api: scratch store is required")
	}
	if bus == nil {
		return nil, fmt.Errorf("api: progress bus is required")
	}
	return &Service{
		sched:  sched,
		store:  store,
		bus:    bus,
		logger: logging.WithComponent(logger, "api"),
	}, nil
}

// Submit validates the filename and target format, stages the input
// bytes into scratch space, and enqueues a new job. Validation failures
// surface synchronously and leave no job behind.
func (s *Service) Submit(ctx context.Context, input io.Reader, filename, targetFormat string) (job.Snapshot, error) {
	category, inputExt, err := formats.Classify(filename)
	if err != nil {
		return job.Snapshot{}, err
	}
	targetExt := formats.NormalizeExt(targetFormat)
	if _, err := formats.Candidates(category, inputExt, targetExt); err != nil {
		return job.Snapshot{}, err
	}

	jb := job.New(category, job.Input{
		Filename: filepath.Base(filename),
		Ext:      inputExt,
	}, targetExt)

	dir, err := s.store.Alloc(jb.ID)
	if err != nil {
		return job.Snapshot{}, err
	}
	jb.SetScratchDir(dir)

	stagedPath := filepath.Join(dir, "input-"+jb.Input.Filename)
	size, err := stageInput(ctx, stagedPath, input)
	if err != nil {
		_ = s.store.Release(jb.ID)
		return job.Snapshot{}, err
	}
	jb.Input.Path = stagedPath
	jb.Input.Size = size

	if err := s.sched.Submit(jb); err != nil {
		_ = s.store.Release(jb.ID)
		return job.Snapshot{}, err
	}

	snapshot := jb.Snapshot()
	s.logger.Info("job submitted",
		logging.String(logging.FieldJobID, snapshot.ID),
		logging.String(logging.FieldCategory, string(category)),
		logging.String("input", snapshot.Input.Filename),
		logging.String("target", targetExt),
	)
	return snapshot, nil
}

// SubmitPath is a convenience wrapper around Submit that reads the
// input from a file on disk.
func (s *Service) SubmitPath(ctx context.Context, path, targetFormat string) (job.Snapshot, error) {
	file, err := os.Open(path)
	if err != nil {
		return job.Snapshot{}, cverr.Wrap(cverr.ErrUnsupportedInput, "api", "open input file", err)
	}
	defer file.Close()
	return s.Submit(ctx, file, filepath.Base(path), targetFormat)
}

// Status returns the current snapshot for a job, live or retained.
func (s *Service) Status(jobID string) (job.Snapshot, error) {
	return s.sched.Status(jobID)
}

// Snapshots lists every job the scheduler still knows about.
func (s *Service) Snapshots() []job.Snapshot {
	return s.sched.Snapshots()
}

// Cancel requests cancellation of a queued or running job.
func (s *Service) Cancel(jobID string) error {
	return s.sched.Cancel(jobID)
}

// Output opens the converted artifact of a succeeded job for reading.
func (s *Service) Output(jobID string) (io.ReadCloser, error) {
	return s.sched.Output(jobID)
}

// Watch subscribes to the progress stream for one job. The caller must
// Close the subscription when done.
func (s *Service) Watch(jobID string) *progress.Subscription {
	return s.bus.Subscribe(jobID)
}

func stageInput(ctx context.Context, path string, input io.Reader) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, cverr.Wrap(cverr.ErrCancelled, "api", "stage input", err)
	}
	out, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return 0, cverr.Wrap(cverr.ErrResourceExhausted, "api", "stage input", err)
	}
	size, copyErr := io.Copy(out, input)
	closeErr := out.Close()
	if copyErr != nil {
		_ = os.Remove(path)
		return 0, cverr.Wrap(cverr.ErrResourceExhausted, "api", "write input bytes", copyErr)
	}
	if closeErr != nil {
		_ = os.Remove(path)
		return 0, cverr.Wrap(cverr.ErrResourceExhausted, "api", "flush input bytes", closeErr)
	}
	return size, nil
}
