// Package schedule owns the worker pool and job lifecycle: FIFO admission,
// bounded concurrency, cooperative cancellation, terminal-job retention,
// and the hand-off of progress events onto the bus.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"converto/internal/cverr"
	"converto/internal/dispatch"
	"converto/internal/job"
	"converto/internal/logging"
	"converto/internal/progress"
	"converto/internal/scratch"
)

const (
	// DefaultWorkers bounds concurrent conversions. Video and audio work
	// is memory- and CPU-hungry, so the default stays small.
	DefaultWorkers = 2
	// DefaultRetention is how long terminal jobs and their outputs stay
	// retrievable after completion.
	DefaultRetention = 30 * time.Minute

	pollInterval = 50 * time.Millisecond
)

// Options configures a Scheduler.
type Options struct {
	Workers   int
	Retention time.Duration
	// OutputDir receives converted artifacts moved out of scratch space.
	OutputDir string
}

// Recorder persists terminal job snapshots; wired to the history store.
type Recorder interface {
	Record(job.Snapshot) error
}

type entry struct {
	job       *job.Job
	cancel    context.CancelFunc // non-nil only while running
	finalized bool
}

type retired struct {
	snapshot  job.Snapshot
	expiresAt time.Time
}

// Scheduler admits, runs, cancels, and retires conversion jobs.
type Scheduler struct {
	dispatcher *dispatch.Dispatcher
	store      *scratch.Store
	bus        *progress.Bus
	recorder   Recorder
	logger     *slog.Logger
	workers    int
	retention  time.Duration
	outputDir  string

	mu      sync.Mutex
	queue   []*entry
	jobs    map[string]*entry
	done    map[string]*retired
	running bool
	cancel  context.CancelFunc
	wake    chan struct{}
	wg      sync.WaitGroup
}

// New constructs a stopped scheduler.
func New(dispatcher *dispatch.Dispatcher, store *scratch.Store, bus *progress.Bus, logger *slog.Logger, opts Options) (*Scheduler, error) {
	if dispatcher == nil || store == nil || bus == nil {
		return nil, errors.New("scheduler requires dispatcher, scratch store, and progress bus")
	}
	if strings.TrimSpace(opts.OutputDir) == "" {
		return nil, errors.New("scheduler requires an output directory")
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	retention := opts.Retention
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Scheduler{
		dispatcher: dispatcher,
		store:      store,
		bus:        bus,
		logger:     logging.WithComponent(logger, "scheduler"),
		workers:    workers,
		retention:  retention,
		outputDir:  opts.OutputDir,
		jobs:       make(map[string]*entry),
		done:       make(map[string]*retired),
		wake:       make(chan struct{}, 1),
	}, nil
}

// SetRecorder wires an optional terminal-job recorder. Must be called
// before Start.
func (s *Scheduler) SetRecorder(recorder Recorder) {
	s.recorder = recorder
}

// Start launches the worker pool and the retention janitor.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("scheduler already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	s.mu.Unlock()

	s.wg.Add(s.workers + 1)
	for i := 0; i < s.workers; i++ {
		go s.runWorker(runCtx, i)
	}
	go s.runJanitor(runCtx)
	return nil
}

// Stop terminates processing and waits for the workers to drain. Running
// jobs are cancelled cooperatively.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	s.running = false
	s.cancel = nil
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
}

// Submit admits a created job into the FIFO queue. It never blocks: excess
// jobs wait in Queued until a worker frees up.
func (s *Scheduler) Submit(jb *job.Job) error {
	if jb == nil {
		return errors.New("nil job")
	}
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return errors.New("scheduler not running")
	}
	if _, exists := s.jobs[jb.ID]; exists {
		s.mu.Unlock()
		return fmt.Errorf("job %s already submitted", jb.ID)
	}
	e := &entry{job: jb}
	jb.Transition(job.StateQueued)
	s.jobs[jb.ID] = e
	s.queue = append(s.queue, e)
	// Publish before unlocking so a worker that claims the job immediately
	// cannot put its Running event on the bus ahead of the Queued event.
	s.publish(jb)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	s.logger.Info("job queued",
		logging.String(logging.FieldJobID, jb.ID),
		logging.String(logging.FieldCategory, string(jb.Category)),
		logging.String("target", jb.TargetExt),
	)
	return nil
}

// Cancel stops a job. A queued job transitions to Cancelled synchronously
// without ever running; a running job is signalled to stop cooperatively.
// Cancelling a terminal job is a no-op.
func (s *Scheduler) Cancel(jobID string) error {
	s.mu.Lock()
	if _, terminal := s.done[jobID]; terminal {
		s.mu.Unlock()
		return nil
	}
	e, ok := s.jobs[jobID]
	if !ok {
		s.mu.Unlock()
		return cverr.Wrap(cverr.ErrNotFound, "scheduler", fmt.Sprintf("job %s", jobID), nil)
	}
	if e.cancel != nil {
		cancel := e.cancel
		s.mu.Unlock()
		cancel()
		return nil
	}
	// Still queued: pull it out of the FIFO before a worker can claim it.
	for i, queued := range s.queue {
		if queued == e {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			break
		}
	}
	s.mu.Unlock()

	e.job.CancelFinalize()
	// Subscribers still need the terminal event; nothing else will emit
	// one for a job that never reached a worker.
	s.publish(e.job)
	s.finalize(e)
	return nil
}

// Status returns a snapshot of a live or retained job.
func (s *Scheduler) Status(jobID string) (job.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.jobs[jobID]; ok {
		return e.job.Snapshot(), nil
	}
	if r, ok := s.done[jobID]; ok {
		return r.snapshot, nil
	}
	return job.Snapshot{}, cverr.Wrap(cverr.ErrNotFound, "scheduler", fmt.Sprintf("job %s unknown or expired", jobID), nil)
}

// Snapshots lists every live and retained job, newest first.
func (s *Scheduler) Snapshots() []job.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]job.Snapshot, 0, len(s.jobs)+len(s.done))
	for _, e := range s.jobs {
		out = append(out, e.job.Snapshot())
	}
	for _, r := range s.done {
		out = append(out, r.snapshot)
	}
	return out
}

func (s *Scheduler) publish(jb *job.Job) {
	snapshot := jb.Snapshot()
	s.bus.Publish(progress.Event{
		JobID:    snapshot.ID,
		State:    snapshot.State,
		Fraction: snapshot.Progress,
		Status:   snapshot.StatusText,
		Terminal: snapshot.State.IsTerminal(),
	})
}

func (s *Scheduler) outputRestingPlace(snapshot job.Snapshot) string {
	base := filepath.Base(snapshot.OutputPath)
	return filepath.Join(s.outputDir, snapshot.ID+"-"+base)
}
