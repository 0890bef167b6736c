package command

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/goliatone/go-sceneexport/scene"
)

type captureRunner struct {
	names []string
	fail  map[string]bool
}

func (c *captureRunner) Run(ctx context.Context, job scene.Job) (scene.RunResult, error) {
	_ = ctx
	c.names = append(c.names, job.Name)
	if c.fail[job.Name] {
		return scene.RunResult{}, errors.New("failed " + job.Name)
	}
	return scene.RunResult{Job: job.Name}, nil
}

func staticLoader(names ...string) BatchLoader {
	return func(ctx context.Context) ([]scene.Job, error) {
		jobs := make([]scene.Job, 0, len(names))
		for _, name := range names {
			jobs = append(jobs, sampleJob(name))
		}
		return jobs, nil
	}
}

func TestBatchCommand_RunHonorsLimits(t *testing.T) {
	runner := &captureRunner{}
	var slept int
	cmd := NewBatchCommand(runner, staticLoader("a", "b", "c"), WithBatchLimits(BatchLimits{MaxJobs: 2, MinInterval: time.Millisecond}))
	cmd.sleep = func(time.Duration) { slept++ }

	report, err := cmd.Run(context.Background(), "")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(report.Results) != 2 || len(runner.names) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runner.names))
	}
	if slept != 1 {
		t.Fatalf("expected one pause between jobs, got %d", slept)
	}
}

func TestBatchCommand_StopsOnFirstFailure(t *testing.T) {
	runner := &captureRunner{fail: map[string]bool{"b": true}}
	cmd := NewBatchCommand(runner, staticLoader("a", "b", "c"))

	report, err := cmd.Run(context.Background(), "")
	if err == nil {
		t.Fatalf("expected failure")
	}
	if len(runner.names) != 2 || len(report.Results) != 1 {
		t.Fatalf("expected stop after b, ran %v", runner.names)
	}
}

func TestBatchCommand_ContinueOnError(t *testing.T) {
	runner := &captureRunner{fail: map[string]bool{"b": true}}
	cmd := NewBatchCommand(runner, staticLoader("a", "b", "c"), WithBatchLimits(BatchLimits{ContinueOnError: true}))

	report, err := cmd.Run(context.Background(), "")
	if err == nil {
		t.Fatalf("expected aggregated failure")
	}
	if len(runner.names) != 3 || len(report.Results) != 2 {
		t.Fatalf("expected all jobs to run, ran %v", runner.names)
	}
	if _, ok := report.Failed["b"]; !ok {
		t.Fatalf("expected b recorded as failed")
	}
}

func TestBatchCommand_LoadsDirectory(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b", "a"} {
		doc := "name: " + name + "\nscene:\n  pages:\n    - width: 10\n      height: 10\nexports:\n  - mime: image/png\n    template: \"" + name + "(N).png\"\n"
		if err := os.WriteFile(filepath.Join(dir, name+".yaml"), []byte(doc), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	runner := &captureRunner{}
	cmd := NewBatchCommand(runner, nil)
	if _, err := cmd.Run(context.Background(), dir); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(runner.names) != 2 || runner.names[0] != "a" || runner.names[1] != "b" {
		t.Fatalf("expected sorted jobs, got %v", runner.names)
	}
}

func TestBatchCommand_RequiresLoader(t *testing.T) {
	cmd := NewBatchCommand(&captureRunner{}, nil)
	if _, err := cmd.Run(context.Background(), ""); err == nil {
		t.Fatalf("expected loader error")
	}
}
