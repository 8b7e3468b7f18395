package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"converto/internal/job"
)

func newConvertCommand(ctx *commandContext) *cobra.Command {
	var targetFormat string
	var outputDir string

	cmd := &cobra.Command{
		Use:   "convert INPUT...",
		Short: "Convert one or more files to a target format",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if targetFormat == "" {
				return errors.New("--to is required")
			}
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if outputDir != "" {
				cfg.Paths.OutputDir = outputDir
				if err := cfg.EnsureDirectories(); err != nil {
					return err
				}
			}
			return runConvert(cmd, ctx, args, targetFormat)
		},
	}

	cmd.Flags().StringVarP(&targetFormat, "to", "t", "", "Target format extension (for example webp, mp3, pdf)")
	cmd.Flags().StringVarP(&outputDir, "output", "o", "", "Directory for converted files (defaults to the configured output dir)")
	return cmd
}

type convertResult struct {
	input    string
	snapshot job.Snapshot
	err      error
}

func runConvert(cmd *cobra.Command, ctx *commandContext, inputs []string, targetFormat string) error {
	core, err := ctx.buildCore()
	if err != nil {
		return err
	}
	defer core.Close()

	runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := core.Start(runCtx); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	interactive := isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())

	results := make([]convertResult, len(inputs))
	submitted := make([]string, 0, len(inputs))
	var wg sync.WaitGroup
	for i, input := range inputs {
		snapshot, err := core.service.SubmitPath(runCtx, input, targetFormat)
		if err != nil {
			results[i] = convertResult{input: input, err: err}
			fmt.Fprintf(out, "%s: %v\n", filepath.Base(input), err)
			continue
		}
		results[i] = convertResult{input: input, snapshot: snapshot}
		submitted = append(submitted, snapshot.ID)

		wg.Add(1)
		go func(idx int, jobID, name string) {
			defer wg.Done()
			results[idx].snapshot = watchJob(core, jobID, name, out, interactive)
		}(i, snapshot.ID, snapshot.Input.Filename)
	}

	// A signal cancels every in-flight job; the watchers then drain the
	// terminal events published during cancellation.
	go func() {
		<-runCtx.Done()
		for _, id := range submitted {
			_ = core.service.Cancel(id)
		}
	}()

	wg.Wait()
	fmt.Fprintln(out, renderConvertSummary(results))

	for _, res := range results {
		if res.err != nil || res.snapshot.State != job.StateSucceeded {
			return errors.New("one or more conversions did not succeed")
		}
	}
	return nil
}

// watchJob streams progress until the job reaches a terminal state and
// returns the final snapshot.
func watchJob(core *core, jobID, name string, out io.Writer, interactive bool) job.Snapshot {
	sub := core.service.Watch(jobID)
	defer sub.Close()

	lastState := job.State("")
	for evt := range sub.Events() {
		switch {
		case interactive:
			fmt.Fprintf(out, "%-30s %3.0f%%  %s\n", name, evt.Fraction*100, evt.Status)
		case evt.State != lastState:
			fmt.Fprintf(out, "%s: %s\n", name, evt.State)
		}
		lastState = evt.State
		if evt.Terminal {
			break
		}
	}

	snapshot, err := core.service.Status(jobID)
	if err != nil {
		snapshot = job.Snapshot{ID: jobID, State: lastState}
	}
	return snapshot
}

func renderConvertSummary(results []convertResult) string {
	rows := make([][]string, 0, len(results))
	for _, res := range results {
		name := filepath.Base(res.input)
		if res.err != nil {
			rows = append(rows, []string{name, "rejected", "", res.err.Error()})
			continue
		}
		snap := res.snapshot
		detail := snap.OutputPath
		if snap.State != job.StateSucceeded {
			detail = snap.Error
		}
		rows = append(rows, []string{name, string(snap.State), lastBackend(snap), detail})
	}
	return renderTable([]string{"Input", "Result", "Backend", "Detail"}, rows)
}

func lastBackend(snap job.Snapshot) string {
	for i := len(snap.Attempts) - 1; i >= 0; i-- {
		if snap.Attempts[i].Outcome == job.AttemptSucceeded {
			return snap.Attempts[i].Backend
		}
	}
	if len(snap.Attempts) > 0 {
		return snap.Attempts[len(snap.Attempts)-1].Backend
	}
	return ""
}
