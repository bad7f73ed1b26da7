package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/run-ci/conduit/pipeline"
	"github.com/run-ci/conduit/store"
)

func seedPipeline(t *testing.T, st *store.Memory) store.Pipeline {
	t.Helper()

	proj := store.Project{
		Name: "test-trigger",
		Authorization: store.Authorization{
			User: store.User{Email: "user@test"},
		},
	}
	if err := st.CreateProject(&proj); err != nil {
		t.Fatalf("got error seeding project: %v", err)
	}

	p := store.Pipeline{
		Name: "default",
		GitRemote: store.GitRemote{
			URL:    "https://test/trigger.git",
			Branch: "main",
		},
		ProjectID: proj.ID,
	}
	if err := st.CreatePipeline(&p); err != nil {
		t.Fatalf("got error seeding pipeline: %v", err)
	}

	return p
}

func recvRequest(t *testing.T, ch <-chan []byte) runRequest {
	t.Helper()

	select {
	case raw := <-ch:
		var request runRequest
		if err := json.Unmarshal(raw, &request); err != nil {
			t.Fatalf("got error unmarshaling run request: %v", err)
		}
		return request
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for run request")
		return runRequest{}
	}
}

func TestTriggerPipeline(t *testing.T) {
	st := store.NewMemory()
	p := seedPipeline(t, st)

	runch := make(chan []byte, 1)
	srv := NewServer(":9001", runch, st, "test")

	r := mux.NewRouter()
	r.Handle("/pipelines/{id}/trigger",
		chain(srv.handleTriggerPipeline, setRequestID, autoAuth)).
		Methods(http.MethodPost)

	ts := httptest.NewServer(r)
	defer ts.Close()

	requrl := fmt.Sprintf("%v/pipelines/%v/trigger", ts.URL, p.ID)
	resp, err := http.Post(requrl, "application/json", nil)
	if err != nil {
		t.Fatalf("error executing test against test server: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected status %v, got %v", http.StatusAccepted, resp.StatusCode)
	}

	request := recvRequest(t, runch)

	if request.Trigger != pipeline.TriggerManual.String() {
		t.Fatalf("expected trigger %v, got %v", pipeline.TriggerManual, request.Trigger)
	}

	if request.GitRemote.URL != p.GitRemote.URL {
		t.Fatalf("expected remote %v, got %v", p.GitRemote.URL, request.GitRemote.URL)
	}

	if request.Spec != nil {
		t.Fatalf("expected no inline spec, got %+v", request.Spec)
	}
}

func TestTriggerPipelineInlineSpec(t *testing.T) {
	st := store.NewMemory()
	p := seedPipeline(t, st)

	runch := make(chan []byte, 1)
	srv := NewServer(":9001", runch, st, "test")

	r := mux.NewRouter()
	r.Handle("/pipelines/{id}/trigger",
		chain(srv.handleTriggerPipeline, setRequestID, autoAuth)).
		Methods(http.MethodPost)

	ts := httptest.NewServer(r)
	defer ts.Close()

	body, err := json.Marshal(map[string]interface{}{
		"spec": pipeline.Spec{
			Name: "default",
			Env:  map[string]string{"CI": "true"},
			Steps: []pipeline.StepSpec{
				{Name: "build", Run: "make"},
			},
		},
	})
	if err != nil {
		t.Fatalf("got error marshaling request payload: %v", err)
	}

	requrl := fmt.Sprintf("%v/pipelines/%v/trigger", ts.URL, p.ID)
	resp, err := http.Post(requrl, "application/json", bytes.NewBuffer(body))
	if err != nil {
		t.Fatalf("error executing test against test server: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected status %v, got %v", http.StatusAccepted, resp.StatusCode)
	}

	request := recvRequest(t, runch)

	if request.Spec == nil {
		t.Fatalf("expected inline spec on run request")
	}

	if len(request.Spec.Steps) != 1 || request.Spec.Steps[0].Name != "build" {
		t.Fatalf("expected inline spec steps to survive, got %+v", request.Spec.Steps)
	}
}

func TestTriggerPipelineInvalidInlineSpec(t *testing.T) {
	st := store.NewMemory()
	p := seedPipeline(t, st)

	srv := NewServer(":9001", make(chan []byte, 1), st, "test")

	r := mux.NewRouter()
	r.Handle("/pipelines/{id}/trigger",
		chain(srv.handleTriggerPipeline, setRequestID, autoAuth)).
		Methods(http.MethodPost)

	ts := httptest.NewServer(r)
	defer ts.Close()

	// A spec with no steps can't run.
	body := []byte(`{"spec": {"name": "default"}}`)

	requrl := fmt.Sprintf("%v/pipelines/%v/trigger", ts.URL, p.ID)
	resp, err := http.Post(requrl, "application/json", bytes.NewBuffer(body))
	if err != nil {
		t.Fatalf("error executing test against test server: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected status %v, got %v", http.StatusBadRequest, resp.StatusCode)
	}
}

type brokenReader struct{}

func (brokenReader) Read([]byte) (int, error) {
	return 0, errors.New("read error")
}

func TestTriggerPipelineBodyReadError(t *testing.T) {
	st := store.NewMemory()
	p := seedPipeline(t, st)

	runch := make(chan []byte, 1)
	srv := NewServer(":9001", runch, st, "test")

	r := mux.NewRouter()
	r.Handle("/pipelines/{id}/trigger",
		chain(srv.handleTriggerPipeline, setRequestID, autoAuth)).
		Methods(http.MethodPost)

	target := fmt.Sprintf("http://test/pipelines/%v/trigger", p.ID)
	req := httptest.NewRequest(http.MethodPost, target, brokenReader{})
	rw := httptest.NewRecorder()

	r.ServeHTTP(rw, req)

	// A body that can't be read is an error, not an empty inline spec.
	if rw.Result().StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected status %v, got %v",
			http.StatusInternalServerError, rw.Result().StatusCode)
	}

	select {
	case <-runch:
		t.Fatalf("expected no run request to be dispatched")
	default:
	}
}

func TestTriggerPipelineNotFound(t *testing.T) {
	srv := NewServer(":9001", make(chan []byte, 1), store.NewMemory(), "test")

	r := mux.NewRouter()
	r.Handle("/pipelines/{id}/trigger",
		chain(srv.handleTriggerPipeline, setRequestID, autoAuth)).
		Methods(http.MethodPost)

	ts := httptest.NewServer(r)
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/pipelines/42/trigger", "application/json", nil)
	if err != nil {
		t.Fatalf("error executing test against test server: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected status %v, got %v", http.StatusNotFound, resp.StatusCode)
	}
}

func TestGitWebhook(t *testing.T) {
	runch := make(chan []byte, 1)
	srv := NewServer(":9001", runch, store.NewMemory(), "test")

	body, err := json.Marshal(map[string]interface{}{
		"event": "push",
		"remote": store.GitRemote{
			URL:    "https://test/webhook.git",
			Branch: "main",
		},
	})
	if err != nil {
		t.Fatalf("got error marshaling request payload: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "http://test/webhooks/git", bytes.NewBuffer(body))
	req = req.WithContext(authedCtx(""))
	rw := httptest.NewRecorder()

	srv.handleGitWebhook(rw, req)

	if rw.Result().StatusCode != http.StatusAccepted {
		t.Fatalf("expected status %v, got %v",
			http.StatusAccepted, rw.Result().StatusCode)
	}

	request := recvRequest(t, runch)

	if request.Trigger != pipeline.TriggerPush.String() {
		t.Fatalf("expected trigger %v, got %v", pipeline.TriggerPush, request.Trigger)
	}

	// When the hook doesn't name a pipeline, it gets the default.
	if request.Name != "default" {
		t.Fatalf("expected pipeline name default, got %v", request.Name)
	}
}

func TestGitWebhookRejected(t *testing.T) {
	srv := NewServer(":9001", make(chan []byte, 1), store.NewMemory(), "test")

	tests := []struct {
		desc string
		body string
	}{
		{
			desc: "unknown event",
			body: `{"event": "cron", "remote": {"url": "https://test/hook.git"}}`,
		},
		{
			desc: "manual event",
			body: `{"event": "manual", "remote": {"url": "https://test/hook.git"}}`,
		},
		{
			desc: "missing remote url",
			body: `{"event": "pull_request"}`,
		},
	}

	for _, test := range tests {
		req := httptest.NewRequest(http.MethodPost, "http://test/webhooks/git",
			bytes.NewBufferString(test.body))
		req = req.WithContext(authedCtx(""))
		rw := httptest.NewRecorder()

		srv.handleGitWebhook(rw, req)

		if rw.Result().StatusCode != http.StatusBadRequest {
			t.Fatalf("%v: expected status %v, got %v",
				test.desc, http.StatusBadRequest, rw.Result().StatusCode)
		}
	}
}
