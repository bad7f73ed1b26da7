package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	docker "github.com/fsouza/go-dockerclient"
	nats "github.com/nats-io/go-nats"
	"github.com/sirupsen/logrus"

	"github.com/run-ci/conduit/pipeline"
	"github.com/run-ci/conduit/queue"
	"github.com/run-ci/conduit/runner"
	"github.com/run-ci/conduit/store"
)

// gitimg is the image used to populate workspace volumes, mounted
// at cimnt.
const (
	gitimg = "alpine/git"
	cimnt  = "/ci/repo"
)

var logger *logrus.Entry

var natsURL, pgconnstr, mode, stepimg, workdir string

func init() {
	lvl, err := logrus.ParseLevel(os.Getenv("CONDUIT_LOG_LEVEL"))
	if err != nil {
		lvl = logrus.InfoLevel
	}

	logrus.SetLevel(lvl)

	logger = logrus.WithField("package", "main")

	natsURL = os.Getenv("CONDUIT_NATS_URL")
	if natsURL == "" {
		logger.Warnf("setting NATS url to %v", nats.DefaultURL)
		natsURL = nats.DefaultURL
	}

	mode = os.Getenv("CONDUIT_AGENT_EXECUTOR")
	if mode == "" {
		logger.Info("CONDUIT_AGENT_EXECUTOR not set - defaulting to local")
		mode = "local"
	}
	if mode != "local" && mode != "docker" {
		logger.Fatalf("unknown executor %q, want local or docker", mode)
	}

	stepimg = os.Getenv("CONDUIT_AGENT_IMAGE")
	if stepimg == "" {
		stepimg = "alpine:3.8"
	}

	workdir = os.Getenv("CONDUIT_AGENT_WORKDIR")
	if workdir == "" {
		workdir = os.TempDir()
	}

	pguser := os.Getenv("CONDUIT_POSTGRES_USER")
	if pguser == "" {
		logger.Warn("CONDUIT_POSTGRES_USER not set - runs won't be persisted")
		return
	}

	pgpass := os.Getenv("CONDUIT_POSTGRES_PASS")
	pghref := os.Getenv("CONDUIT_POSTGRES_HREF")
	pgdb := os.Getenv("CONDUIT_POSTGRES_DB")

	pgssl := os.Getenv("CONDUIT_POSTGRES_SSL")
	if pgssl == "" {
		pgssl = "verify-full"
	}

	pgconnstr = fmt.Sprintf("postgres://%v:%v@%v/%v?sslmode=%v",
		pguser, pgpass, pghref, pgdb, pgssl)
}

func main() {
	logger.Info("booting agent...")

	var st store.ConduitStore
	var err error

	if pgconnstr != "" {
		logger.Info("connecting to database")

		st, err = store.NewPostgres(pgconnstr)
		if err != nil {
			logger.WithError(err).Fatal("unable to connect to postgres")
		}
	} else {
		st = store.NewMemory()
	}

	var client *docker.Client
	if mode == "docker" {
		client, err = docker.NewClientFromEnv()
		if err != nil {
			logger.WithError(err).Fatal("unable to connect to docker")
		}
	}

	logger.Info("setting up NATS connection")
	bus, err := queue.NewNATS(natsURL)
	if err != nil {
		logger.WithError(err).Fatal("unable to connect to NATS")
	}

	recv, err := bus.ReceiverOn("runs", "agents")
	if err != nil {
		logger.WithError(err).Fatal("unable to subscribe to runs")
	}

	logger.Info("waiting for run requests")

	for msg := range recv {
		var ev Event
		if err := json.Unmarshal(msg, &ev); err != nil {
			logger.WithError(err).Error("unable to unmarshal event")
			continue
		}

		if err := handleEvent(context.Background(), st, client, ev); err != nil {
			logger.WithError(err).Error("run failed")
		}
	}
}

func handleEvent(ctx context.Context, st store.ConduitStore, client *docker.Client, ev Event) error {
	logger := logger.WithFields(logrus.Fields{
		"pipeline": ev.Name,
		"trigger":  ev.Trigger,
		"remote":   ev.GitRemote.URL,
	})

	trigger, err := pipeline.ParseTrigger(ev.Trigger)
	if err != nil {
		return err
	}

	p, err := resolvePipeline(st, ev)
	if err != nil {
		return err
	}

	logger = logger.WithField("pipeline_id", p.ID)
	logger.Info("preparing workspace")

	var ws *workspace
	if mode == "docker" {
		ws, err = dockerWorkspace(ctx, client, ev.GitRemote)
	} else {
		ws, err = localWorkspace(ctx, ev.GitRemote)
	}
	if err != nil {
		// A checkout that can't complete fails the run before any step
		// gets to execute.
		recordFailure(st, &p, trigger)

		return fmt.Errorf("unable to prepare workspace: %v", err)
	}
	defer ws.cleanup()

	spec := ev.Spec
	if spec == nil {
		spec, err = loadSpec(ctx, ws.exec)
		if err != nil {
			recordFailure(st, &p, trigger)

			return fmt.Errorf("unable to load spec: %v", err)
		}
	}

	run, err := runner.New(st, ws.exec).RunPipeline(ctx, &p, trigger, spec)
	if err != nil {
		return err
	}

	logger.WithFields(logrus.Fields{
		"count":   run.Count,
		"success": !run.Failed(),
	}).Info("run complete")

	return nil
}

// recordFailure stamps a failed zero-step run on the pipeline, so a
// checkout that never ran any steps still shows up in the run history.
func recordFailure(st store.ConduitStore, p *store.Pipeline, trigger pipeline.Trigger) {
	run := store.Run{
		PipelineID: p.ID,
		Trigger:    trigger.String(),
	}
	run.SetStart()

	if err := st.CreateRun(&run); err != nil {
		logger.WithError(err).Error("unable to create run")
		return
	}

	run.SetEnd()
	run.MarkSuccess(false)
	if err := st.UpdateRun(&run); err != nil {
		logger.WithError(err).Error("unable to update run")
	}

	p.MarkSuccess(false)
	if err := st.UpdatePipeline(p); err != nil {
		logger.WithError(err).Error("unable to update pipeline")
	}
}

// resolvePipeline finds the pipeline row for the event, creating it the
// first time the remote shows up.
func resolvePipeline(st store.ConduitStore, ev Event) (store.Pipeline, error) {
	p := store.Pipeline{
		Name:      ev.Name,
		GitRemote: ev.GitRemote,
	}

	id, err := st.GetPipelineID(ev.GitRemote, ev.Name)
	if err == store.ErrNoPipelines {
		if cerr := st.CreatePipeline(&p); cerr != nil {
			return p, cerr
		}

		return p, nil
	}
	if err != nil {
		return p, err
	}

	p.ID = id
	return p, nil
}

// loadSpec reads the pipeline file out of the workspace through the
// executor, so it works the same for local directories and volumes.
func loadSpec(ctx context.Context, exec runner.Executor) (*pipeline.Spec, error) {
	res, err := exec.RunCommand(ctx, runner.Command{
		Name: "load-spec",
		Run:  "cat " + pipeline.DefaultFile,
	})
	if err != nil {
		return nil, err
	}

	if res.ExitCode != 0 {
		return nil, fmt.Errorf("no pipeline file %v in workspace", pipeline.DefaultFile)
	}

	return pipeline.Parse([]byte(res.Output))
}
