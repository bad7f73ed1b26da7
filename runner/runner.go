package runner

import (
	"context"
	"time"

	"github.com/run-ci/conduit/pipeline"
	"github.com/run-ci/conduit/store"
	"github.com/sirupsen/logrus"
)

// DefaultStepTimeout bounds how long a single step may run.
const DefaultStepTimeout = 10 * time.Minute

// RunStore is the subset of store behavior the runner needs to record
// the progress of a run.
type RunStore interface {
	CreateRun(*store.Run) error
	CreateStep(*store.Step) error

	UpdateRun(*store.Run) error
	UpdateStep(*store.Step) error
	UpdatePipeline(*store.Pipeline) error
}

// Runner drives one pipeline spec at a time through an executor,
// fail-fast: the first step that doesn't exit zero ends the run, and
// the steps after it never execute.
type Runner struct {
	st   RunStore
	exec Executor

	// StepTimeout applies to each step individually.
	StepTimeout time.Duration
}

// New returns a Runner recording into st and executing through exec.
func New(st RunStore, exec Executor) *Runner {
	return &Runner{
		st:   st,
		exec: exec,

		StepTimeout: DefaultStepTimeout,
	}
}

// RunPipeline executes spec as a new run of p, started by trigger. The
// returned run's Success reports the terminal state: true when every
// step exited zero, false as soon as one didn't. The error return is
// reserved for the run not being recordable; a failing step is not an
// error here.
func (r *Runner) RunPipeline(ctx context.Context, p *store.Pipeline, trigger pipeline.Trigger, spec *pipeline.Spec) (store.Run, error) {
	logger := logger.WithField("pipeline", spec.Name).
		WithField("trigger", trigger)

	run := store.Run{
		PipelineID: p.ID,
		Trigger:    trigger.String(),
	}
	run.SetStart()

	if err := r.st.CreateRun(&run); err != nil {
		logger.WithError(err).Error("unable to create run")
		return run, err
	}

	logger = logger.WithField("count", run.Count)
	logger.Info("starting run")

	for i, spstep := range spec.Steps {
		step := store.Step{
			Name:       spstep.Name,
			Cmd:        spstep.Run,
			PipelineID: p.ID,
			RunCount:   run.Count,
		}
		step.SetStart()

		if err := r.st.CreateStep(&step); err != nil {
			logger.WithError(err).Error("unable to create step")
			return r.finish(logger, p, &run, false), err
		}

		logger := logger.WithField("step", step.Name)
		logger.Info("running step")

		stepctx, cancel := context.WithTimeout(ctx, r.StepTimeout)
		res, err := r.exec.RunCommand(stepctx, Command{
			Name: spstep.Name,
			Run:  spstep.Run,
			Env:  spec.Environ(i),
		})
		cancel()

		step.Output = res.Output
		step.SetEnd()

		passed := err == nil && res.ExitCode == 0
		step.MarkSuccess(passed)

		if uerr := r.st.UpdateStep(&step); uerr != nil {
			logger.WithError(uerr).Error("unable to update step")
			return r.finish(logger, p, &run, false), uerr
		}

		run.Steps = append(run.Steps, step)

		if err != nil {
			logger.WithError(err).Error("executor was unable to run step")
			return r.finish(logger, p, &run, false), nil
		}

		if res.ExitCode != 0 {
			logger.WithField("exit_code", res.ExitCode).
				Info("step failed, halting run")
			return r.finish(logger, p, &run, false), nil
		}

		logger.Info("step passed")
	}

	return r.finish(logger, p, &run, true), nil
}

// finish stamps the terminal state on the run and its pipeline.
func (r *Runner) finish(logger *logrus.Entry, p *store.Pipeline, run *store.Run, passed bool) store.Run {
	run.SetEnd()
	run.MarkSuccess(passed)

	if err := r.st.UpdateRun(run); err != nil {
		logger.WithError(err).Error("unable to update run")
	}

	p.MarkSuccess(passed)
	if err := r.st.UpdatePipeline(p); err != nil {
		logger.WithError(err).Error("unable to update pipeline")
	}

	logger.WithField("success", passed).Info("run finished")

	return *run
}
