// Package runner executes the ordered build steps of one target job.
// Every step is wrapped in a check-then-act-then-mark pattern: a step
// whose completion marker already exists is skipped, so a multi-hour
// pipeline interrupted at any point resumes without redoing finished
// work. The first failing step halts the job and the pipeline.
package runner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/opnlabs/crossforge/pkg/models"
)

type Status string

const (
	StatusPending   Status = "Pending"
	StatusRunning   Status = "Running"
	StatusCompleted Status = "Completed"
	StatusFailed    Status = "Failed"
)

// BuildStep is one named, idempotent unit of work. Action is opaque to
// the runner; it typically drives an external toolchain build through an
// Executor. The action is never invoked while MarkerPath exists, and
// MarkerPath is created only after the action returns success.
type BuildStep struct {
	Name       string
	MarkerPath string
	Action     func(ctx context.Context) error
}

// BuildJob is the ordered step list for one target. Insertion order is
// execution order; steps are never reordered.
type BuildJob struct {
	Target models.TargetSpec
	Steps  []BuildStep

	status Status
}

func NewJob(target models.TargetSpec, steps []BuildStep) *BuildJob {
	return &BuildJob{
		Target: target,
		Steps:  steps,
		status: StatusPending,
	}
}

func (j *BuildJob) Status() Status {
	return j.status
}

// StepError reports the failing step with enough context to resume after
// a manual fix.
type StepError struct {
	Step   string
	Target string
	Err    error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s failed for target %s: %v", e.Step, e.Target, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

type Runner struct {
	logger *log.Logger
}

func NewRunner(logger *log.Logger) *Runner {
	return &Runner{logger: logger}
}

// Run drives the job's steps in order. The job transitions
// Pending -> Running on the first step and ends Completed or Failed; a
// Failed job is terminal and nothing after the failing step runs.
func (r *Runner) Run(ctx context.Context, job *BuildJob) error {
	job.status = StatusRunning
	target := job.Target.ID()

	for _, step := range job.Steps {
		if _, err := os.Stat(step.MarkerPath); err == nil {
			r.logger.Info("step already completed, skipping", "target", target, "step", step.Name)
			continue
		}

		r.logger.Info("running step", "target", target, "step", step.Name)
		if err := step.Action(ctx); err != nil {
			job.status = StatusFailed
			r.logger.Error("step failed", "target", target, "step", step.Name, "err", err)
			return &StepError{Step: step.Name, Target: target, Err: err}
		}

		if err := writeMarker(step.MarkerPath); err != nil {
			job.status = StatusFailed
			return &StepError{Step: step.Name, Target: target, Err: err}
		}
		r.logger.Info("step completed", "target", target, "step", step.Name)
	}

	job.status = StatusCompleted
	return nil
}

// writeMarker publishes the completion marker atomically (write to a temp
// file, then rename) so a crash cannot leave a marker for a half-finished
// step.
func writeMarker(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".stamp-*")
	if err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return nil
}
