package command

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-sceneexport/scene"
)

// BatchLoader loads jobs for a batch run.
type BatchLoader func(ctx context.Context) ([]scene.Job, error)

// BatchCommand runs several jobs sequentially.
type BatchCommand struct {
	runner JobRunner
	loader BatchLoader
	limits BatchLimits
	logger scene.Logger
	sleep  func(time.Duration)
}

// BatchOption customizes batch commands.
type BatchOption func(*BatchCommand)

// BatchLimits bounds batch execution throughput.
type BatchLimits struct {
	MaxJobs     int
	MinInterval time.Duration
	// ContinueOnError keeps running the remaining jobs after a failure.
	ContinueOnError bool
}

// BatchReport summarizes a batch run.
type BatchReport struct {
	Results []scene.RunResult
	Failed  map[string]error
}

// WithBatchLimits overrides batch execution limits.
func WithBatchLimits(limits BatchLimits) BatchOption {
	return func(cmd *BatchCommand) {
		cmd.limits = limits
	}
}

// WithBatchLogger sets the logger used for per-job failures.
func WithBatchLogger(logger scene.Logger) BatchOption {
	return func(cmd *BatchCommand) {
		cmd.logger = logger
	}
}

// NewBatchCommand creates a batch command.
func NewBatchCommand(runner JobRunner, loader BatchLoader, opts ...BatchOption) *BatchCommand {
	cmd := &BatchCommand{
		runner: runner,
		loader: loader,
		logger: scene.NopLogger{},
		sleep:  time.Sleep,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(cmd)
		}
	}
	return cmd
}

// DirLoader loads every .yaml, .yml and .json job in dir, sorted by name.
func DirLoader(dir string) BatchLoader {
	return func(ctx context.Context) ([]scene.Job, error) {
		_ = ctx
		return loadJobsFromDir(dir)
	}
}

// Run executes the batch. A non-empty from overrides the loader with a job
// directory.
func (c *BatchCommand) Run(ctx context.Context, from string) (BatchReport, error) {
	report := BatchReport{Failed: map[string]error{}}
	if c == nil {
		return report, errors.New("batch command is nil", errors.CategoryInternal).
			WithTextCode("BATCH_CMD_NIL")
	}
	if c.runner == nil {
		return report, errors.New("job runner is required", errors.CategoryValidation).
			WithTextCode("RUNNER_REQUIRED")
	}

	jobs, err := c.loadJobs(ctx, from)
	if err != nil {
		return report, err
	}

	for i, job := range jobs {
		if c.limits.MaxJobs > 0 && i >= c.limits.MaxJobs {
			break
		}
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if i > 0 && c.limits.MinInterval > 0 && c.sleep != nil {
			c.sleep(c.limits.MinInterval)
		}
		result, err := c.runner.Run(ctx, job)
		if err != nil {
			report.Failed[job.Name] = err
			if !c.limits.ContinueOnError {
				return report, err
			}
			c.logger.Warn("batch job failed", "job", job.Name, "error", err)
			continue
		}
		report.Results = append(report.Results, result)
	}
	if len(report.Failed) > 0 {
		return report, errors.New(fmt.Sprintf("%d batch jobs failed", len(report.Failed)), errors.CategoryOperation).
			WithTextCode("BATCH_FAILED")
	}
	return report, nil
}

func (c *BatchCommand) loadJobs(ctx context.Context, from string) ([]scene.Job, error) {
	if strings.TrimSpace(from) != "" {
		return loadJobsFromDir(from)
	}
	if c.loader == nil {
		return nil, errors.New("batch loader not configured", errors.CategoryValidation).
			WithTextCode("LOADER_REQUIRED")
	}
	return c.loader(ctx)
}

func loadJobsFromDir(dir string) ([]scene.Job, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryExternal, "read job directory failed").
			WithTextCode("BATCH_DIR_READ")
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".yaml", ".yml", ".json":
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	jobs := make([]scene.Job, 0, len(names))
	for _, name := range names {
		job, err := scene.LoadJob(filepath.Join(dir, name))
		if err != nil {
			return nil, errors.Wrap(err, errors.CategoryValidation, "job file "+name+" invalid").
				WithTextCode("BATCH_FILE_INVALID")
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}
