package command

import (
	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-sceneexport/scene"
)

// RunJob runs one declarative job through the pipeline.
type RunJob struct {
	Job    scene.Job
	Result *scene.RunResult
}

func (RunJob) Type() string { return "scene:run" }

func (msg RunJob) Validate() error {
	if msg.Job.Name == "" {
		return errors.New("job name is required", errors.CategoryValidation).
			WithTextCode("JOB_NAME_REQUIRED")
	}
	if err := msg.Job.Validate(); err != nil {
		return scene.AsGoError(err)
	}
	return nil
}

// RunJobFile loads a job document from disk and runs it.
type RunJobFile struct {
	Path      string
	OutputDir string
	Result    *scene.RunResult
}

func (RunJobFile) Type() string { return "scene:run-file" }

func (msg RunJobFile) Validate() error {
	if msg.Path == "" {
		return errors.New("job file path is required", errors.CategoryValidation).
			WithTextCode("JOB_PATH_REQUIRED")
	}
	return nil
}
