package runner

import (
	"bytes"
	"context"
	"fmt"

	docker "github.com/fsouza/go-dockerclient"
	"github.com/google/uuid"
)

// Docker runs each command in a fresh container with the run's
// workspace volume mounted. One Docker executor serves one run; the
// volume holds the checked-out tree for that run only.
type Docker struct {
	client *docker.Client

	image   string
	volume  string
	workdir string
}

// NewDocker returns an executor that runs commands in containers off
// `image`, with `volume` mounted at `workdir`.
func NewDocker(client *docker.Client, image, volume, workdir string) (*Docker, error) {
	e := &Docker{
		client:  client,
		image:   image,
		volume:  volume,
		workdir: workdir,
	}

	if err := e.verifyImage(context.Background()); err != nil {
		return nil, err
	}

	return e, nil
}

// verifyImage makes sure the step image is present, pulling it if it
// isn't.
func (e *Docker) verifyImage(ctx context.Context) error {
	logger := logger.WithField("image", e.image)

	_, err := e.client.InspectImage(e.image)
	if err == nil {
		return nil
	}

	if err != docker.ErrNoSuchImage {
		return err
	}

	logger.Info("image not present, pulling")

	repo, tag := docker.ParseRepositoryTag(e.image)
	if tag == "" {
		tag = "latest"
	}

	return e.client.PullImage(docker.PullImageOptions{
		Repository: repo,
		Tag:        tag,
		Context:    ctx,
	}, docker.AuthConfiguration{})
}

// config builds the container config for one command. The entrypoint is
// pinned to a shell: images like alpine/git set their own entrypoint,
// which would otherwise swallow the command as arguments.
func (e *Docker) config(cmd Command) *docker.Config {
	return &docker.Config{
		Image:      e.image,
		Entrypoint: []string{"/bin/sh", "-c"},
		Cmd:        []string{cmd.Run},
		Env:        environ(cmd.Env),
		WorkingDir: e.workdir,
	}
}

// RunCommand implements the Executor interface. The container is always
// removed, whatever the command did.
func (e *Docker) RunCommand(ctx context.Context, cmd Command) (Result, error) {
	logger := logger.WithField("step", cmd.Name)

	name := fmt.Sprintf("conduit.%v", uuid.New())
	logger = logger.WithField("container", name)

	container, err := e.client.CreateContainer(docker.CreateContainerOptions{
		Name:   name,
		Config: e.config(cmd),
		HostConfig: &docker.HostConfig{
			Mounts: []docker.HostMount{
				{
					Source: e.volume,
					Target: e.workdir,
					Type:   "volume",
				},
			},
		},
		Context: ctx,
	})
	if err != nil {
		return Result{}, err
	}

	defer func() {
		err := e.client.RemoveContainer(docker.RemoveContainerOptions{
			ID:    container.ID,
			Force: true,
		})
		if err != nil {
			logger.WithError(err).Warn("unable to remove container")
		}
	}()

	logger.Debug("starting container")

	err = e.client.StartContainer(container.ID, nil)
	if err != nil {
		return Result{}, err
	}

	status, err := e.client.WaitContainerWithContext(container.ID, ctx)
	if err != nil {
		return Result{}, err
	}

	var out bytes.Buffer
	err = e.client.Logs(docker.LogsOptions{
		Container:    container.ID,
		OutputStream: &out,
		ErrorStream:  &out,
		Stdout:       true,
		Stderr:       true,
		Context:      ctx,
	})
	if err != nil {
		logger.WithError(err).Warn("unable to collect container logs")
	}

	logger.WithField("exit_code", status).
		Debug("container exited")

	return Result{
		Output:   out.String(),
		ExitCode: status,
	}, nil
}
