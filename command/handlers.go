package command

import (
	"context"

	gcmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-sceneexport/scene"
)

// JobRunner runs a declarative job. *scene.Pipeline satisfies it.
type JobRunner interface {
	Run(ctx context.Context, job scene.Job) (scene.RunResult, error)
}

// JobRunnerFunc adapts a function to a JobRunner.
type JobRunnerFunc func(ctx context.Context, job scene.Job) (scene.RunResult, error)

func (f JobRunnerFunc) Run(ctx context.Context, job scene.Job) (scene.RunResult, error) {
	if f == nil {
		return scene.RunResult{}, errors.New("job runner is required", errors.CategoryInternal).
			WithTextCode("RUNNER_NIL")
	}
	return f(ctx, job)
}

// RunJobHandler runs jobs and exposes the run result.
type RunJobHandler struct {
	Runner JobRunner
}

func NewRunJobHandler(runner JobRunner) *RunJobHandler {
	return &RunJobHandler{Runner: runner}
}

func (h *RunJobHandler) Execute(ctx context.Context, msg RunJob) error {
	if h == nil || h.Runner == nil {
		return errors.New("job runner is required", errors.CategoryInternal).
			WithTextCode("RUNNER_REQUIRED")
	}
	result, err := h.Runner.Run(ctx, msg.Job)
	if msg.Result != nil {
		*msg.Result = result
	}
	if err != nil {
		return err
	}
	if res := gcmd.ResultFromContext[scene.RunResult](ctx); res != nil {
		res.Store(result)
	}
	return nil
}

// RunJobFileHandler loads job files and delegates to a RunJobHandler.
type RunJobFileHandler struct {
	Jobs *RunJobHandler
}

func NewRunJobFileHandler(runner JobRunner) *RunJobFileHandler {
	return &RunJobFileHandler{Jobs: NewRunJobHandler(runner)}
}

func (h *RunJobFileHandler) Execute(ctx context.Context, msg RunJobFile) error {
	if h == nil || h.Jobs == nil {
		return errors.New("job handler is required", errors.CategoryInternal).
			WithTextCode("HANDLER_REQUIRED")
	}
	job, err := scene.LoadJob(msg.Path)
	if err != nil {
		return err
	}
	if msg.OutputDir != "" {
		job.OutputDir = msg.OutputDir
	}
	return h.Jobs.Execute(ctx, RunJob{Job: job, Result: msg.Result})
}
