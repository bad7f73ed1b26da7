package main

import (
	"github.com/run-ci/conduit/pipeline"
	"github.com/run-ci/conduit/store"
)

// Event is a message that comes in requesting a pipeline run.
type Event struct {
	Trigger   string          `json:"trigger"`
	Name      string          `json:"name"`
	GitRemote store.GitRemote `json:"git_remote"`

	// Spec is only set when the dispatcher inlined one. When it's nil
	// the spec is read out of the checked-out tree.
	Spec *pipeline.Spec `json:"spec,omitempty"`
}
