package main

import (
	"context"
	"fmt"
	"os"

	docker "github.com/fsouza/go-dockerclient"
	"github.com/google/uuid"
	"github.com/run-ci/conduit/runner"
	"github.com/run-ci/conduit/store"
)

// workspace is a checked-out source tree plus the executor that runs
// commands against it. Cleanup always runs, pass or fail.
type workspace struct {
	exec    runner.Executor
	cleanup func()
}

// localWorkspace clones the remote into a scratch directory and returns
// a shell executor rooted there.
func localWorkspace(ctx context.Context, remote store.GitRemote) (*workspace, error) {
	dir, err := os.MkdirTemp(workdir, "conduit.")
	if err != nil {
		return nil, err
	}

	exec := &runner.Local{Dir: dir}

	res, err := exec.RunCommand(ctx, runner.Command{
		Name: "checkout",
		Run:  cloneCmd(remote),
	})
	if err != nil {
		os.RemoveAll(dir)
		return nil, err
	}

	if res.ExitCode != 0 {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("checkout exited %v: %v", res.ExitCode, res.Output)
	}

	return &workspace{
		exec: exec,
		cleanup: func() {
			os.RemoveAll(dir)
		},
	}, nil
}

// dockerWorkspace populates a fresh volume with the checked-out tree by
// running a git-clone container against it, then returns an executor
// that mounts the volume into step containers.
func dockerWorkspace(ctx context.Context, client *docker.Client, remote store.GitRemote) (*workspace, error) {
	logger := logger.WithField("remote", remote.URL)

	name := fmt.Sprintf("conduit.%v", uuid.New())

	vol, err := client.CreateVolume(docker.CreateVolumeOptions{
		Name:    name,
		Context: ctx,
	})
	if err != nil {
		return nil, err
	}

	logger = logger.WithField("vol", vol.Name)
	logger.Debugf("created volume: %v", vol.Name)

	cleanup := func() {
		err := client.RemoveVolume(vol.Name)
		if err != nil {
			logger.WithError(err).Warn("unable to remove volume")
		}
	}

	clone, err := runner.NewDocker(client, gitimg, vol.Name, cimnt)
	if err != nil {
		cleanup()
		return nil, err
	}

	logger.Debug("populating volume")

	res, err := clone.RunCommand(ctx, runner.Command{
		Name: "checkout",
		Run:  cloneCmd(remote),
	})
	if err != nil {
		cleanup()
		return nil, err
	}

	if res.ExitCode != 0 {
		cleanup()
		return nil, fmt.Errorf("checkout exited %v: %v", res.ExitCode, res.Output)
	}

	exec, err := runner.NewDocker(client, stepimg, vol.Name, cimnt)
	if err != nil {
		cleanup()
		return nil, err
	}

	return &workspace{
		exec:    exec,
		cleanup: cleanup,
	}, nil
}

// cloneCmd builds the shell command that checks the remote out into the
// working directory.
func cloneCmd(remote store.GitRemote) string {
	if remote.Branch == "" {
		return fmt.Sprintf("git clone %v .", remote.URL)
	}

	return fmt.Sprintf("git clone --branch %v %v .", remote.Branch, remote.URL)
}
