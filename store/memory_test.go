package store

import (
	"testing"
)

func seedPipeline(t *testing.T, st *Memory) Pipeline {
	t.Helper()

	proj := Project{
		Name: "conduit",
		Authorization: Authorization{
			User: User{Email: "user@test"},
		},
	}
	if err := st.CreateProject(&proj); err != nil {
		t.Fatalf("got error creating project: %v", err)
	}

	p := Pipeline{
		Name: "default",
		GitRemote: GitRemote{
			URL:    "https://github.com/run-ci/conduit.git",
			Branch: "master",
		},
		ProjectID: proj.ID,
	}

	if err := st.CreatePipeline(&p); err != nil {
		t.Fatalf("got error creating pipeline: %v", err)
	}

	return p
}

func TestMemoryPipelineLookup(t *testing.T) {
	st := NewMemory()
	p := seedPipeline(t, st)

	if p.ID == 0 {
		t.Fatalf("expected pipeline to get an ID")
	}

	id, err := st.GetPipelineID(p.GitRemote, p.Name)
	if err != nil {
		t.Fatalf("got error looking up pipeline: %v", err)
	}

	if id != p.ID {
		t.Fatalf("expected id %v, got %v", p.ID, id)
	}

	_, err = st.GetPipelineID(GitRemote{URL: "https://example.com/other.git"}, "default")
	if err != ErrNoPipelines {
		t.Fatalf("expected ErrNoPipelines, got %v", err)
	}
}

func TestMemoryRunCounts(t *testing.T) {
	st := NewMemory()
	p := seedPipeline(t, st)

	first := Run{PipelineID: p.ID, Trigger: "push"}
	if err := st.CreateRun(&first); err != nil {
		t.Fatalf("got error creating run: %v", err)
	}

	second := Run{PipelineID: p.ID, Trigger: "manual"}
	if err := st.CreateRun(&second); err != nil {
		t.Fatalf("got error creating run: %v", err)
	}

	if first.Count != 1 || second.Count != 2 {
		t.Fatalf("expected counts 1 and 2, got %v and %v", first.Count, second.Count)
	}

	got, err := st.GetRun("user@test", p.ID, 2)
	if err != nil {
		t.Fatalf("got error fetching run: %v", err)
	}

	if got.Trigger != "manual" {
		t.Fatalf("expected trigger manual, got %q", got.Trigger)
	}

	if _, err := st.GetRun("user@test", p.ID, 3); err != ErrRunNotFound {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
}

func TestMemoryStepOrder(t *testing.T) {
	st := NewMemory()
	p := seedPipeline(t, st)

	run := Run{PipelineID: p.ID, Trigger: "push"}
	if err := st.CreateRun(&run); err != nil {
		t.Fatalf("got error creating run: %v", err)
	}

	names := []string{"checkout", "build", "test"}
	for _, name := range names {
		step := Step{
			Name:       name,
			Cmd:        "make " + name,
			PipelineID: p.ID,
			RunCount:   run.Count,
		}

		if err := st.CreateStep(&step); err != nil {
			t.Fatalf("got error creating step: %v", err)
		}
	}

	got, err := st.GetRun("user@test", p.ID, run.Count)
	if err != nil {
		t.Fatalf("got error fetching run: %v", err)
	}

	if len(got.Steps) != len(names) {
		t.Fatalf("expected %v steps, got %v", len(names), len(got.Steps))
	}

	for i, name := range names {
		if got.Steps[i].Name != name {
			t.Fatalf("expected step %v at position %v, got %v", name, i, got.Steps[i].Name)
		}
	}
}

func TestMemoryUpdateStep(t *testing.T) {
	st := NewMemory()
	p := seedPipeline(t, st)

	run := Run{PipelineID: p.ID}
	if err := st.CreateRun(&run); err != nil {
		t.Fatalf("got error creating run: %v", err)
	}

	step := Step{
		Name:       "build",
		Cmd:        "make build",
		PipelineID: p.ID,
		RunCount:   run.Count,
	}
	if err := st.CreateStep(&step); err != nil {
		t.Fatalf("got error creating step: %v", err)
	}

	step.Output = "compile error"
	step.SetEnd()
	step.MarkSuccess(false)

	if err := st.UpdateStep(&step); err != nil {
		t.Fatalf("got error updating step: %v", err)
	}

	got, err := st.GetStep("user@test", step.ID)
	if err != nil {
		t.Fatalf("got error fetching step: %v", err)
	}

	if !got.Failed() {
		t.Fatalf("expected step to be marked failed")
	}

	if got.Output != "compile error" {
		t.Fatalf("expected output to be saved, got %q", got.Output)
	}

	if _, err := st.GetStep("user@test", 999); err != ErrStepNotFound {
		t.Fatalf("expected ErrStepNotFound, got %v", err)
	}
}

func TestMemoryRunVisibility(t *testing.T) {
	st := NewMemory()
	p := seedPipeline(t, st)

	run := Run{PipelineID: p.ID, Trigger: "push"}
	if err := st.CreateRun(&run); err != nil {
		t.Fatalf("got error creating run: %v", err)
	}

	step := Step{
		Name:       "build",
		Cmd:        "make build",
		Output:     "secret build log",
		PipelineID: p.ID,
		RunCount:   run.Count,
	}
	if err := st.CreateStep(&step); err != nil {
		t.Fatalf("got error creating step: %v", err)
	}

	// The project has no group or public read bits, so only the owner
	// can see anything under it.
	if _, err := st.GetPipeline("stranger@test", p.ID); err != ErrPipelineNotFound {
		t.Fatalf("expected ErrPipelineNotFound, got %v", err)
	}

	if _, err := st.GetRun("stranger@test", p.ID, run.Count); err != ErrRunNotFound {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}

	if _, err := st.GetStep("stranger@test", step.ID); err != ErrStepNotFound {
		t.Fatalf("expected ErrStepNotFound, got %v", err)
	}

	ps, err := st.GetPipelines("stranger@test", p.ProjectID)
	if err != nil {
		t.Fatalf("got error fetching pipelines: %v", err)
	}
	if len(ps) != 0 {
		t.Fatalf("expected no visible pipelines, got %v", len(ps))
	}

	if _, err := st.GetRun("user@test", p.ID, run.Count); err != nil {
		t.Fatalf("got error fetching run as owner: %v", err)
	}
}

func TestMemoryProjectVisibility(t *testing.T) {
	st := NewMemory()

	mine := Project{
		Name: "mine",
		Authorization: Authorization{
			User: User{Email: "user@test"},
		},
	}
	if err := st.CreateProject(&mine); err != nil {
		t.Fatalf("got error creating project: %v", err)
	}

	private := Project{
		Name: "private",
		Authorization: Authorization{
			User: User{Email: "other@test"},
		},
	}
	if err := st.CreateProject(&private); err != nil {
		t.Fatalf("got error creating project: %v", err)
	}

	public := Project{
		Name: "public",
		Authorization: Authorization{
			User:        User{Email: "other@test"},
			Permissions: 16,
		},
	}
	if err := st.CreateProject(&public); err != nil {
		t.Fatalf("got error creating project: %v", err)
	}

	ps, err := st.GetProjects("user@test")
	if err != nil {
		t.Fatalf("got error fetching projects: %v", err)
	}

	if len(ps) != 2 {
		t.Fatalf("expected to see 2 projects, got %v", len(ps))
	}

	if _, err := st.GetProject("user@test", private.ID); err != ErrProjectNotFound {
		t.Fatalf("expected ErrProjectNotFound, got %v", err)
	}
}

func TestMemoryAuthenticate(t *testing.T) {
	st := NewMemory()

	u := User{
		Name:     "Test User",
		Email:    "user@test",
		Password: "hunter2",
	}
	if err := st.CreateUser(&u); err != nil {
		t.Fatalf("got error creating user: %v", err)
	}

	if err := st.Authenticate("user@test", "hunter2"); err != nil {
		t.Fatalf("got error authenticating: %v", err)
	}

	if err := st.Authenticate("user@test", "wrong"); err != ErrNotAuthenticated {
		t.Fatalf("expected ErrNotAuthenticated, got %v", err)
	}

	if err := st.Authenticate("ghost@test", "hunter2"); err != ErrNotAuthenticated {
		t.Fatalf("expected ErrNotAuthenticated, got %v", err)
	}
}
