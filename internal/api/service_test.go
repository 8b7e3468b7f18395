package api

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"converto/internal/backend"
	"converto/internal/cverr"
	"converto/internal/dispatch"
	"converto/internal/formats"
	"converto/internal/job"
	"converto/internal/logging"
	"converto/internal/progress"
	"converto/internal/schedule"
	"converto/internal/scratch"
	"converto/internal/testsupport"
)

func newTestService(t *testing.T, convs ...backend.Converter) (*Service, *scratch.Store) {
	t.Helper()
	base := t.TempDir()
	store, err := scratch.NewStore(filepath.Join(base, "work"), 0, logging.NewNop())
	if err != nil {
		t.Fatalf("scratch store: %v", err)
	}
	bus := progress.NewBus()
	d := dispatch.New(convs, backend.Options{}, logging.NewNop())
	sched, err := schedule.New(d, store, bus, logging.NewNop(), schedule.Options{
		Workers:   1,
		Retention: time.Minute,
		OutputDir: filepath.Join(base, "outputs"),
	})
	if err != nil {
		t.Fatalf("scheduler: %v", err)
	}
	if err := sched.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(sched.Stop)

	svc, err := New(sched, store, bus, logging.NewNop())
	if err != nil {
		t.Fatalf("service: %v", err)
	}
	return svc, store
}

func waitState(t *testing.T, svc *Service, jobID string, want job.State) job.Snapshot {
	t.Helper()
	sub := svc.Watch(jobID)
	defer sub.Close()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case evt, ok := <-sub.Events():
			if !ok {
				t.Fatalf("stream closed before reaching %s", want)
			}
			if evt.State == want {
				snap, err := svc.Status(jobID)
				if err != nil {
					t.Fatalf("status: %v", err)
				}
				return snap
			}
			if evt.Terminal {
				t.Fatalf("terminal state %s, wanted %s", evt.State, want)
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}

func TestSubmitRunsConversionEndToEnd(t *testing.T) {
	conv := &testsupport.FakeConverter{Identifier: formats.BackendFFmpegAudio}
	svc, store := newTestService(t, conv)

	snap, err := svc.Submit(context.Background(), strings.NewReader("riff data"), "song.wav", "mp3")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if snap.Category != formats.CategoryAudio || snap.TargetExt != "mp3" {
		t.Errorf("snapshot = %+v", snap)
	}
	if snap.Input.Size != int64(len("riff data")) {
		t.Errorf("input size = %d", snap.Input.Size)
	}

	final := waitState(t, svc, snap.ID, job.StateSucceeded)
	reader, err := svc.Output(snap.ID)
	if err != nil {
		t.Fatalf("output: %v", err)
	}
	defer reader.Close()
	if _, err := io.ReadAll(reader); err != nil {
		t.Fatalf("read output: %v", err)
	}
	if final.OutputPath == "" {
		t.Error("expected relocated output path")
	}
	if store.Tracked(snap.ID) {
		t.Error("scratch should be released after completion")
	}
}

func TestSubmitRejectsUnknownInputSynchronously(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Submit(context.Background(), strings.NewReader("x"), "archive.zip", "pdf")
	if !errors.Is(err, cverr.ErrUnsupportedInput) {
		t.Fatalf("error = %v, want ErrUnsupportedInput", err)
	}
	if snaps := svc.Snapshots(); len(snaps) != 0 {
		t.Errorf("no job should exist after a rejected submit: %+v", snaps)
	}
}

func TestSubmitRejectsUnsupportedPairSynchronously(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Submit(context.Background(), strings.NewReader("x"), "notes.txt", "mp3")
	if !errors.Is(err, cverr.ErrUnsupportedConversion) {
		t.Fatalf("error = %v, want ErrUnsupportedConversion", err)
	}
	if snaps := svc.Snapshots(); len(snaps) != 0 {
		t.Errorf("no job should exist after a rejected submit: %+v", snaps)
	}
}

func TestSubmitNormalizesTargetFormat(t *testing.T) {
	conv := &testsupport.FakeConverter{Identifier: formats.BackendFFmpegAudio}
	svc, _ := newTestService(t, conv)

	snap, err := svc.Submit(context.Background(), strings.NewReader("x"), "song.wav", ".MP3")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if snap.TargetExt != "mp3" {
		t.Errorf("target = %q, want mp3", snap.TargetExt)
	}
}

func TestSubmitPathStagesFromDisk(t *testing.T) {
	conv := &testsupport.FakeConverter{Identifier: formats.BackendFFmpegAudio}
	svc, _ := newTestService(t, conv)

	inputPath := filepath.Join(t.TempDir(), "voice.wav")
	testsupport.WriteFile(t, inputPath, 256)

	snap, err := svc.SubmitPath(context.Background(), inputPath, "mp3")
	if err != nil {
		t.Fatalf("submit path: %v", err)
	}
	if snap.Input.Filename != "voice.wav" || snap.Input.Size != 256 {
		t.Errorf("input = %+v", snap.Input)
	}
	waitState(t, svc, snap.ID, job.StateSucceeded)
}

func TestSubmitPathMissingFile(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.SubmitPath(context.Background(), "/no/such/file.wav", "mp3")
	if !errors.Is(err, cverr.ErrUnsupportedInput) {
		t.Fatalf("error = %v, want ErrUnsupportedInput", err)
	}
}

func TestCancelThroughFacade(t *testing.T) {
	started := make(chan struct{}, 1)
	conv := &testsupport.FakeConverter{
		Identifier: formats.BackendFFmpegAudio,
		ConvertFn: func(ctx context.Context, req backend.Request) error {
			started <- struct{}{}
			<-ctx.Done()
			return cverr.Wrap(cverr.ErrCancelled, formats.BackendFFmpegAudio, "interrupted", ctx.Err())
		},
	}
	svc, _ := newTestService(t, conv)

	snap, err := svc.Submit(context.Background(), strings.NewReader("x"), "song.wav", "mp3")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("backend never started")
	}

	if err := svc.Cancel(snap.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	final := waitState(t, svc, snap.ID, job.StateCancelled)
	if _, err := svc.Output(snap.ID); !errors.Is(err, cverr.ErrNotReady) {
		t.Errorf("output error = %v, want ErrNotReady", err)
	}
	if final.State != job.StateCancelled {
		t.Errorf("state = %s", final.State)
	}
}

func TestStatusUnknownJob(t *testing.T) {
	svc, _ := newTestService(t)
	if _, err := svc.Status("missing"); !errors.Is(err, cverr.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
	if err := svc.Cancel("missing"); !errors.Is(err, cverr.ErrNotFound) {
		t.Errorf("cancel error = %v, want ErrNotFound", err)
	}
}

func TestStagedInputLandsInScratch(t *testing.T) {
	ran := make(chan string, 1)
	conv := &testsupport.FakeConverter{
		Identifier: formats.BackendFFmpegAudio,
		ConvertFn: func(ctx context.Context, req backend.Request) error {
			ran <- req.InputPath
			return os.WriteFile(req.OutputPath, []byte{0x1}, 0o644)
		},
	}
	svc, _ := newTestService(t, conv)

	snap, err := svc.Submit(context.Background(), strings.NewReader("payload"), "song.wav", "mp3")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitState(t, svc, snap.ID, job.StateSucceeded)

	inputPath := <-ran
	if !strings.Contains(inputPath, snap.ID) {
		t.Errorf("staged input %q should live in the job's scratch dir", inputPath)
	}
	if filepath.Base(inputPath) != "input-song.wav" {
		t.Errorf("staged input name = %q", filepath.Base(inputPath))
	}
}
