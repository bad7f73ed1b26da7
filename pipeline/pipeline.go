// Package pipeline defines the pipeline file format: a named, ordered
// list of shell commands with an environment configuration that's shared
// by every step.
package pipeline

import (
	"errors"
	"fmt"
	"os"

	yaml "gopkg.in/yaml.v3"
)

// DefaultFile is where a checked-out tree declares its pipelines.
const DefaultFile = ".conduit.yaml"

var (
	// ErrNoName is returned when a spec is missing its name.
	ErrNoName = errors.New("pipeline needs a name")
	// ErrNoSteps is returned when a spec declares no steps.
	ErrNoSteps = errors.New("pipeline needs at least one step")
)

// Spec is a parsed pipeline definition. Env is the run-wide environment
// configuration: it's built once when a run starts, read-only after
// that, and every step sees the same values.
type Spec struct {
	Name string            `yaml:"name" json:"name"`
	Env  map[string]string `yaml:"env,omitempty" json:"env,omitempty"`

	Steps []StepSpec `yaml:"steps" json:"steps"`
}

// StepSpec is one ordered step: a name, a command for the shell, and
// optional per-step overrides layered on top of the pipeline env.
type StepSpec struct {
	Name string            `yaml:"name" json:"name"`
	Run  string            `yaml:"run" json:"run"`
	Env  map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
}

// Parse unmarshals a pipeline spec and validates it.
func Parse(data []byte) (*Spec, error) {
	var spec Spec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, err
	}

	if err := spec.Validate(); err != nil {
		return nil, err
	}

	return &spec, nil
}

// Load reads a pipeline spec from the given path.
func Load(path string) (*Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	return Parse(data)
}

// Validate checks the structural invariants of a spec: a name, at least
// one step, and a name and command on every step.
func (s *Spec) Validate() error {
	if s.Name == "" {
		return ErrNoName
	}

	if len(s.Steps) == 0 {
		return ErrNoSteps
	}

	for i, step := range s.Steps {
		if step.Name == "" {
			return fmt.Errorf("step %v needs a name", i+1)
		}

		if step.Run == "" {
			return fmt.Errorf("step %q needs a command", step.Name)
		}
	}

	return nil
}

// Environ builds the environment for the step at index i: the pipeline
// env with the step's own overrides layered on top. The pipeline-level
// variables are identical in value for every step of a run.
func (s *Spec) Environ(i int) map[string]string {
	env := map[string]string{}
	for k, v := range s.Env {
		env[k] = v
	}

	if i >= 0 && i < len(s.Steps) {
		for k, v := range s.Steps[i].Env {
			env[k] = v
		}
	}

	return env
}
