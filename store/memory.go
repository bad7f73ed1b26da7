package store

import (
	"sort"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

type pipelinenode struct {
	children map[int]*runnode
	data     Pipeline
}

type runnode struct {
	children map[int]*stepnode
	data     Run
}

type stepnode struct {
	data Step
}

// Memory is an in-memory ConduitStore. It backs local runs from the CLI
// and the test suites. Nothing it holds survives the process.
type Memory struct {
	mu sync.Mutex

	projects  map[int]Project
	pipelines map[int]*pipelinenode
	steps     map[int]*stepnode
	users     map[string]User

	nextProjectID  int
	nextPipelineID int
	nextStepID     int
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		projects:  map[int]Project{},
		pipelines: map[int]*pipelinenode{},
		steps:     map[int]*stepnode{},
		users:     map[string]User{},
	}
}

// CreateProject saves the project and assigns it an ID.
func (st *Memory) CreateProject(p *Project) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	st.nextProjectID++
	p.ID = st.nextProjectID
	if p.GitRemotes == nil {
		p.GitRemotes = []GitRemote{}
	}
	st.projects[p.ID] = *p

	return nil
}

func (st *Memory) visible(user string, p Project) bool {
	if p.User.Email == user {
		return true
	}

	// 128 is "group read", 16 is "public read".
	if p.Group.Name == p.User.Group.Name && (p.Permissions&128) != 0 {
		return true
	}

	return (p.Permissions & 16) != 0
}

// pipelineVisible checks the owning project's permission bits. A pipeline
// without a project is visible to nobody, matching the inner joins the
// SQL store does.
func (st *Memory) pipelineVisible(user string, p Pipeline) bool {
	proj, ok := st.projects[p.ProjectID]
	if !ok {
		return false
	}

	return st.visible(user, proj)
}

// GetProject returns the project with the given ID if the user can see
// it, or ErrProjectNotFound.
func (st *Memory) GetProject(user string, id int) (Project, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	p, ok := st.projects[id]
	if !ok || !st.visible(user, p) {
		return Project{}, ErrProjectNotFound
	}

	return p, nil
}

// GetProjects returns all projects visible to the user.
func (st *Memory) GetProjects(user string) ([]Project, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	ps := []Project{}
	for _, p := range st.projects {
		if st.visible(user, p) {
			ps = append(ps, p)
		}
	}

	return ps, nil
}

// CreateGitRemote attaches the remote to its project.
func (st *Memory) CreateGitRemote(r *GitRemote) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	p, ok := st.projects[r.ProjectID]
	if !ok {
		return ErrProjectNotFound
	}

	p.GitRemotes = append(p.GitRemotes, *r)
	st.projects[r.ProjectID] = p

	return nil
}

// GetPipelines returns all pipelines in the given project.
func (st *Memory) GetPipelines(user string, pid int) ([]Pipeline, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	ps := []Pipeline{}
	for _, node := range st.pipelines {
		if node.data.ProjectID == pid && st.pipelineVisible(user, node.data) {
			ps = append(ps, node.data)
		}
	}

	return ps, nil
}

// GetPipeline returns the pipeline with the given ID along with its runs.
func (st *Memory) GetPipeline(user string, id int) (Pipeline, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	node, ok := st.pipelines[id]
	if !ok || !st.pipelineVisible(user, node.data) {
		return Pipeline{}, ErrPipelineNotFound
	}

	p := node.data
	p.Runs = []Run{}
	for _, rn := range node.children {
		p.Runs = append(p.Runs, rn.data)
	}

	sort.Slice(p.Runs, func(i, j int) bool {
		return p.Runs[i].Count < p.Runs[j].Count
	})

	return p, nil
}

// GetPipelineID finds a pipeline by its remote and name. If no pipeline
// matches it returns ErrNoPipelines.
func (st *Memory) GetPipelineID(remote GitRemote, name string) (int, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	for id, node := range st.pipelines {
		p := node.data
		if p.Name == name && p.GitRemote.URL == remote.URL &&
			p.GitRemote.Branch == remote.Branch {
			return id, nil
		}
	}

	return 0, ErrNoPipelines
}

// CreatePipeline saves a pipeline and assigns it an ID.
func (st *Memory) CreatePipeline(p *Pipeline) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	st.nextPipelineID++
	p.ID = st.nextPipelineID
	st.pipelines[p.ID] = &pipelinenode{
		children: map[int]*runnode{},
		data:     *p,
	}

	return nil
}

// CreateRun saves a run under its pipeline and sets the count.
func (st *Memory) CreateRun(r *Run) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	node, ok := st.pipelines[r.PipelineID]
	if !ok {
		return ErrPipelineNotFound
	}

	r.Count = len(node.children) + 1
	node.children[r.Count] = &runnode{
		children: map[int]*stepnode{},
		data:     *r,
	}

	return nil
}

// CreateStep saves a step under its run and assigns it an ID.
func (st *Memory) CreateStep(s *Step) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	pnode, ok := st.pipelines[s.PipelineID]
	if !ok {
		return ErrPipelineNotFound
	}

	rnode, ok := pnode.children[s.RunCount]
	if !ok {
		return ErrRunNotFound
	}

	st.nextStepID++
	s.ID = st.nextStepID

	node := &stepnode{data: *s}
	rnode.children[s.ID] = node
	st.steps[s.ID] = node

	return nil
}

// UpdatePipeline overwrites the stored pipeline's status fields.
func (st *Memory) UpdatePipeline(p *Pipeline) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	node, ok := st.pipelines[p.ID]
	if !ok {
		return ErrPipelineNotFound
	}

	node.data.Success = p.Success

	return nil
}

// UpdateRun overwrites the stored run's status fields.
func (st *Memory) UpdateRun(r *Run) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	pnode, ok := st.pipelines[r.PipelineID]
	if !ok {
		return ErrPipelineNotFound
	}

	rnode, ok := pnode.children[r.Count]
	if !ok {
		return ErrRunNotFound
	}

	rnode.data.Success = r.Success
	rnode.data.End = r.End

	return nil
}

// UpdateStep overwrites the stored step's status fields and output.
func (st *Memory) UpdateStep(s *Step) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	node, ok := st.steps[s.ID]
	if !ok {
		return ErrStepNotFound
	}

	node.data.Success = s.Success
	node.data.End = s.End
	node.data.Output = s.Output

	return nil
}

// GetRun returns the nth run of the pipeline with the given ID, with its
// steps attached.
func (st *Memory) GetRun(user string, pid, n int) (Run, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	pnode, ok := st.pipelines[pid]
	if !ok || !st.pipelineVisible(user, pnode.data) {
		return Run{}, ErrRunNotFound
	}

	rnode, ok := pnode.children[n]
	if !ok {
		return Run{}, ErrRunNotFound
	}

	r := rnode.data
	r.Steps = []Step{}
	for _, sn := range rnode.children {
		r.Steps = append(r.Steps, sn.data)
	}

	// IDs are handed out in creation order, so this puts the steps
	// back in execution order.
	sort.Slice(r.Steps, func(i, j int) bool {
		return r.Steps[i].ID < r.Steps[j].ID
	})

	return r, nil
}

// GetStep returns the step with the given ID.
func (st *Memory) GetStep(user string, id int) (Step, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	node, ok := st.steps[id]
	if !ok {
		return Step{}, ErrStepNotFound
	}

	pnode, ok := st.pipelines[node.data.PipelineID]
	if !ok || !st.pipelineVisible(user, pnode.data) {
		return Step{}, ErrStepNotFound
	}

	return node.data, nil
}

// CreateGroup is a no-op beyond validation; groups in the memory store
// only exist as names on users.
func (st *Memory) CreateGroup(g *Group) error {
	return nil
}

// CreateUser saves the user with an encrypted password.
func (st *Memory) CreateUser(u *User) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	if u.Group.Name == "" {
		u.Group = DefaultGroup
	}

	password, err := bcrypt.GenerateFromPassword([]byte(u.Password), bcrypt.MinCost)
	if err != nil {
		return err
	}

	saved := *u
	saved.Password = string(password)
	st.users[u.Email] = saved

	return nil
}

// Authenticate checks the password for the user with the given email
// address.
func (st *Memory) Authenticate(email, pass string) error {
	st.mu.Lock()
	u, ok := st.users[email]
	st.mu.Unlock()

	if !ok {
		return ErrNotAuthenticated
	}

	if bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(pass)) != nil {
		return ErrNotAuthenticated
	}

	return nil
}
