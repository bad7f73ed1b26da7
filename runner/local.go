package runner

import (
	"bytes"
	"context"
	"os"
	"os/exec"
)

// Local runs commands directly on the agent's machine through `sh -c`,
// in the given working directory. The process environment is inherited
// and the command's declared variables are layered on top.
type Local struct {
	// Dir is the working directory commands run in. Empty means the
	// process's own working directory.
	Dir string
}

// RunCommand implements the Executor interface.
func (e *Local) RunCommand(ctx context.Context, cmd Command) (Result, error) {
	logger := logger.WithField("step", cmd.Name)
	logger.Debug("running command in local shell")

	shell := exec.CommandContext(ctx, "sh", "-c", cmd.Run)
	shell.Dir = e.Dir
	shell.Env = append(os.Environ(), environ(cmd.Env)...)

	var out bytes.Buffer
	shell.Stdout = &out
	shell.Stderr = &out

	err := shell.Run()

	res := Result{Output: out.String()}

	if err != nil {
		if exit, ok := err.(*exec.ExitError); ok {
			res.ExitCode = exit.ExitCode()

			logger.WithField("exit_code", res.ExitCode).
				Debug("command exited non-zero")

			return res, nil
		}

		// Anything that isn't an ExitError means the command never got
		// to run: a missing shell, a bad working directory, a context
		// timeout.
		return res, err
	}

	return res, nil
}
