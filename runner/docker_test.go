package runner

import (
	"reflect"
	"testing"
)

func TestDockerConfig(t *testing.T) {
	e := &Docker{
		image:   "alpine/git",
		volume:  "conduit.test",
		workdir: "/ci/repo",
	}

	conf := e.config(Command{
		Name: "checkout",
		Run:  "git clone https://test/repo.git .",
		Env:  map[string]string{"GIT_TERMINAL_PROMPT": "0"},
	})

	// The entrypoint has to be forced to a shell: the git image's own
	// entrypoint would otherwise turn the command into git arguments.
	if !reflect.DeepEqual(conf.Entrypoint, []string{"/bin/sh", "-c"}) {
		t.Fatalf("expected shell entrypoint, got %v", conf.Entrypoint)
	}

	if !reflect.DeepEqual(conf.Cmd, []string{"git clone https://test/repo.git ."}) {
		t.Fatalf("expected command as the single shell argument, got %v", conf.Cmd)
	}

	if conf.WorkingDir != "/ci/repo" {
		t.Fatalf("expected workdir /ci/repo, got %v", conf.WorkingDir)
	}

	if !reflect.DeepEqual(conf.Env, []string{"GIT_TERMINAL_PROMPT=0"}) {
		t.Fatalf("expected env to be flattened, got %v", conf.Env)
	}
}
