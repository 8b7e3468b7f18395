package schedule

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"time"

	"converto/internal/cverr"
	"converto/internal/job"
	"converto/internal/logging"
)

func (s *Scheduler) runWorker(ctx context.Context, id int) {
	defer s.wg.Done()
	logger := s.logger.With(logging.Int("worker", id))
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		e := s.dequeue()
		if e == nil {
			select {
			case <-ctx.Done():
				return
			case <-s.wake:
			case <-time.After(pollInterval):
			}
			continue
		}
		s.process(ctx, logger, e)
	}
}

func (s *Scheduler) dequeue() *entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return nil
	}
	e := s.queue[0]
	s.queue = s.queue[1:]
	return e
}

func (s *Scheduler) process(ctx context.Context, logger *slog.Logger, e *entry) {
	jb := e.job

	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.mu.Lock()
	e.cancel = cancel
	s.mu.Unlock()

	if !jb.Transition(job.StateRunning) {
		// Lost the race against a cancellation: nothing to run.
		s.finalize(e)
		return
	}
	s.publish(jb)

	err := s.dispatcher.Attempt(jobCtx, jb, s.publish)
	switch {
	case err == nil:
		s.retainOutput(jb)
	case errors.Is(err, cverr.ErrCancelled):
		jb.CancelFinalize()
		s.publish(jb)
		logger.Info("job cancelled", logging.String(logging.FieldJobID, jb.ID))
	default:
		// Dispatcher already failed the job and published the event.
		logger.Warn("job failed",
			logging.String(logging.FieldJobID, jb.ID),
			logging.Error(err),
			logging.String(logging.FieldEventType, "job_failed"),
		)
	}

	s.finalize(e)
}

// retainOutput moves the artifact out of scratch space so the scratch
// directory can be released while the output stays downloadable for the
// retention window.
func (s *Scheduler) retainOutput(jb *job.Job) {
	snapshot := jb.Snapshot()
	if snapshot.State != job.StateSucceeded || snapshot.OutputPath == "" {
		return
	}
	if err := os.MkdirAll(s.outputDir, 0o755); err != nil {
		s.logger.Warn("failed to prepare output directory",
			logging.Error(err),
			logging.String(logging.FieldEventType, "output_retain_failed"),
		)
		return
	}
	dest := s.outputRestingPlace(snapshot)
	if err := moveFile(snapshot.OutputPath, dest); err != nil {
		s.logger.Warn("failed to retain output artifact",
			logging.String(logging.FieldJobID, jb.ID),
			logging.Error(err),
			logging.String(logging.FieldEventType, "output_retain_failed"),
			logging.String(logging.FieldErrorHint, "check output_dir permissions and free space"),
		)
		return
	}
	jb.RelocateOutput(dest)
}

// finalize releases scratch space, records the terminal snapshot, and
// moves the job into the retention map. Idempotent: the cancellation path
// and the worker path can both reach it for the same job.
func (s *Scheduler) finalize(e *entry) {
	s.mu.Lock()
	if e.finalized {
		s.mu.Unlock()
		return
	}
	e.finalized = true
	s.mu.Unlock()

	jb := e.job
	if err := s.store.Release(jb.ID); err != nil {
		s.logger.Warn("scratch release failed",
			logging.String(logging.FieldJobID, jb.ID),
			logging.Error(err),
		)
	}

	snapshot := jb.Snapshot()
	s.mu.Lock()
	delete(s.jobs, jb.ID)
	s.done[jb.ID] = &retired{
		snapshot:  snapshot,
		expiresAt: time.Now().Add(s.retention),
	}
	s.mu.Unlock()

	if s.recorder != nil {
		if err := s.recorder.Record(snapshot); err != nil {
			s.logger.Warn("failed to record job history",
				logging.String(logging.FieldJobID, jb.ID),
				logging.Error(err),
				logging.String(logging.FieldEventType, "history_record_failed"),
			)
		}
	}
}

func moveFile(src, dest string) error {
	if err := os.Rename(src, dest); err == nil {
		return nil
	}
	// Rename fails across filesystems; fall back to copy + remove.
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}
