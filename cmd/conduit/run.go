package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/run-ci/conduit/pipeline"
	"github.com/run-ci/conduit/runner"
	"github.com/run-ci/conduit/store"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [pipeline file]",
		Short: "Execute a pipeline file locally",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runExecute,
	}

	flags := cmd.Flags()
	flags.String("dir", ".", "directory to run steps in")
	flags.StringArray("env", nil, "extra environment variable (KEY=VALUE, repeatable)")
	flags.Duration("timeout", runner.DefaultStepTimeout, "per-step timeout")

	return cmd
}

func runExecute(cmd *cobra.Command, args []string) error {
	path := pipeline.DefaultFile
	if len(args) == 1 {
		path = args[0]
	}

	spec, err := pipeline.Load(path)
	if err != nil {
		return err
	}

	extra, err := cmd.Flags().GetStringArray("env")
	if err != nil {
		return err
	}

	for _, pair := range extra {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			return fmt.Errorf("invalid env %q, want KEY=VALUE", pair)
		}

		if spec.Env == nil {
			spec.Env = map[string]string{}
		}
		spec.Env[kv[0]] = kv[1]
	}

	dir, err := cmd.Flags().GetString("dir")
	if err != nil {
		return err
	}

	timeout, err := cmd.Flags().GetDuration("timeout")
	if err != nil {
		return err
	}

	st := store.NewMemory()

	p := store.Pipeline{Name: spec.Name}
	if err := st.CreatePipeline(&p); err != nil {
		return err
	}

	engine := runner.New(st, &runner.Local{Dir: dir})
	engine.StepTimeout = timeout

	run, err := engine.RunPipeline(context.Background(), &p, pipeline.TriggerManual, spec)
	if err != nil {
		return err
	}

	report(cmd, run)

	if run.Failed() {
		return fmt.Errorf("pipeline %q failed", spec.Name)
	}

	return nil
}

func report(cmd *cobra.Command, run store.Run) {
	out := cmd.OutOrStdout()

	for _, step := range run.Steps {
		status := "ok"
		if step.Failed() {
			status = "FAILED"
		}

		var took time.Duration
		if step.Start != nil && step.End != nil {
			took = step.End.Sub(*step.Start).Round(time.Millisecond)
		}

		fmt.Fprintf(out, "%v  %v (%v)\n", status, step.Name, took)

		if step.Failed() && step.Output != "" {
			fmt.Fprintln(out, strings.TrimRight(step.Output, "\n"))
		}
	}
}
