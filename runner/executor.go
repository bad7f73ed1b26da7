// Package runner executes pipeline specs step by step, recording what
// happened in a store. Steps run strictly in declared order and the
// first failure ends the run.
package runner

import (
	"context"
	"sort"

	"github.com/sirupsen/logrus"
)

var logger *logrus.Entry

func init() {
	logger = logrus.WithField("package", "runner")
}

// Command is one step's worth of work for an executor: the command
// itself plus the environment it runs under.
type Command struct {
	Name string
	Run  string
	Env  map[string]string
}

// Result is what came out of running a command. A non-zero exit code is
// not an executor error; it's a normal outcome that fails the step.
type Result struct {
	Output   string
	ExitCode int
}

// Executor runs a single command to completion. Implementations block
// until the command exits or the context is done. An error return means
// the executor itself broke, not that the command failed.
type Executor interface {
	RunCommand(ctx context.Context, cmd Command) (Result, error)
}

// environ flattens an env map into KEY=VALUE pairs in a stable order.
func environ(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(env))
	for _, k := range keys {
		pairs = append(pairs, k+"="+env[k])
	}

	return pairs
}
