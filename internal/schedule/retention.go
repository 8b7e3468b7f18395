package schedule

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"converto/internal/cverr"
	"converto/internal/job"
	"converto/internal/logging"
)

// Output opens the converted artifact for a succeeded job. It fails with
// ErrNotReady before success and ErrNotFound once the retention window
// has expired.
func (s *Scheduler) Output(jobID string) (io.ReadCloser, error) {
	snapshot, err := s.Status(jobID)
	if err != nil {
		return nil, err
	}
	if snapshot.State != job.StateSucceeded {
		return nil, cverr.Wrap(cverr.ErrNotReady, "scheduler",
			fmt.Sprintf("job %s is %s", jobID, snapshot.State), nil)
	}
	file, err := os.Open(snapshot.OutputPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, cverr.Wrap(cverr.ErrNotFound, "scheduler", "output expired", err)
		}
		return nil, fmt.Errorf("open output: %w", err)
	}
	return file, nil
}

func (s *Scheduler) runJanitor(ctx context.Context) {
	defer s.wg.Done()
	interval := s.retention / 4
	if interval > 30*time.Second {
		interval = 30 * time.Second
	}
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.purgeExpired()
		}
	}
}

// purgeExpired drops retained jobs past their retention deadline, deleting
// their outputs and releasing bus state.
func (s *Scheduler) purgeExpired() {
	now := time.Now()
	s.mu.Lock()
	var expired []*retired
	for id, r := range s.done {
		if now.After(r.expiresAt) {
			expired = append(expired, r)
			delete(s.done, id)
		}
	}
	s.mu.Unlock()

	for _, r := range expired {
		s.bus.Forget(r.snapshot.ID)
		if r.snapshot.State == job.StateSucceeded && r.snapshot.OutputPath != "" {
			if err := os.Remove(r.snapshot.OutputPath); err != nil && !os.IsNotExist(err) {
				s.logger.Warn("failed to delete expired output",
					logging.String(logging.FieldJobID, r.snapshot.ID),
					logging.Error(err),
					logging.String(logging.FieldEventType, "retention_purge_failed"),
				)
				continue
			}
		}
		s.logger.Info("purged expired job",
			logging.String(logging.FieldJobID, r.snapshot.ID),
			logging.String("state", string(r.snapshot.State)),
		)
	}
}
