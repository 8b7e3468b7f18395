package main

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

	"github.com/gofrs/flock"

	"converto/internal/api"
	"converto/internal/backend"
	"converto/internal/backend/audioconv"
	"converto/internal/backend/ffmpeg"
	"converto/internal/backend/gotenberg"
	"converto/internal/backend/imageconv"
	"converto/internal/backend/pdfconv"
	"converto/internal/backend/poppler"
	"converto/internal/config"
	"converto/internal/dispatch"
	"converto/internal/history"
	"converto/internal/logging"
	"converto/internal/progress"
	"converto/internal/schedule"
	"converto/internal/scratch"
)

// staleScratchAge is how old an untracked scratch directory must be
// before startup cleanup removes it.
const staleScratchAge = 24 * time.Hour

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// core bundles the assembled conversion engine for one CLI invocation.
type core struct {
	cfg        *config.Config
	logger     *slog.Logger
	service    *api.Service
	scheduler  *schedule.Scheduler
	dispatcher *dispatch.Dispatcher
	store      *scratch.Store
	bus        *progress.Bus
	ledger     *history.Store
	lock       *flock.Flock
	logFile    *os.File
}

// buildCore assembles backends, dispatcher, scratch store, scheduler,
// and history ledger, and takes the single-instance lock on the work
// directory. It does not start the scheduler.
func (c *commandContext) buildCore() (*core, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}

	// Structured logs go to the log file so stdout stays free for
	// progress and tables.
	logFile, err := logging.OpenLogFile(filepath.Join(cfg.Paths.LogDir, "converto.log"))
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(logging.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: logFile,
	})
	if err != nil {
		_ = logFile.Close()
		return nil, err
	}

	lock := flock.New(filepath.Join(cfg.Paths.WorkDir, "converto.lock"))
	ok, err := lock.TryLock()
	if err != nil {
		_ = logFile.Close()
		return nil, fmt.Errorf("acquire work dir lock: %w", err)
	}
	if !ok {
		_ = logFile.Close()
		return nil, errors.New("another converto instance is already using this work directory")
	}

	unwind := func() {
		_ = lock.Unlock()
		_ = logFile.Close()
	}

	bus := progress.NewBus()
	store, err := scratch.NewStore(cfg.Paths.WorkDir, cfg.MinFreeDiskBytes(), logger)
	if err != nil {
		unwind()
		return nil, err
	}
	store.CleanStale(staleScratchAge)

	runner := ffmpeg.NewRunner(
		ffmpeg.WithBinary(cfg.Tools.FFmpeg),
		ffmpeg.WithProbeBinary(cfg.Tools.FFprobe),
		ffmpeg.WithGrace(cfg.CancelGrace()),
	)
	converters := []backend.Converter{
		imageconv.New(),
		pdfconv.NewWriter(),
		pdfconv.NewTextExtractor(),
		pdfconv.NewDocxWriter(),
		audioconv.New(),
		ffmpeg.NewAudio(runner),
		ffmpeg.NewTranscode(runner),
		ffmpeg.NewRemux(runner),
		gotenberg.New(cfg.Tools.GotenbergURL),
		poppler.New(cfg.Tools.PDFToPPM),
	}

	dispatcher := dispatch.New(converters, backend.Options{
		ImageQuality: cfg.Convert.ImageQuality,
		AudioBitrate: cfg.Convert.AudioBitrate,
	}, logger)

	scheduler, err := schedule.New(dispatcher, store, bus, logger, schedule.Options{
		Workers:   cfg.Scheduler.Workers,
		Retention: cfg.Retention(),
		OutputDir: cfg.Paths.OutputDir,
	})
	if err != nil {
		unwind()
		return nil, err
	}

	var ledger *history.Store
	if cfg.Paths.HistoryDB != "" {
		ledger, err = history.Open(cfg.Paths.HistoryDB)
		if err != nil {
			unwind()
			return nil, err
		}
		scheduler.SetRecorder(ledger)
	}

	service, err := api.New(scheduler, store, bus, logger)
	if err != nil {
		_ = ledger.Close()
		unwind()
		return nil, err
	}

	return &core{
		cfg:        cfg,
		logger:     logger,
		service:    service,
		scheduler:  scheduler,
		dispatcher: dispatcher,
		store:      store,
		bus:        bus,
		ledger:     ledger,
		lock:       lock,
		logFile:    logFile,
	}, nil
}

// Start launches the scheduler workers.
func (co *core) Start(ctx context.Context) error {
	return co.scheduler.Start(ctx)
}

// Close stops the scheduler, closes the ledger, and releases the lock.
func (co *core) Close() {
	co.scheduler.Stop()
	if co.ledger != nil {
		_ = co.ledger.Close()
	}
	_ = co.lock.Unlock()
	_ = co.logFile.Close()
}
