package http

import (
	"encoding/json"
	"errors"
	"io/ioutil"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/run-ci/conduit/pipeline"
	"github.com/run-ci/conduit/store"
	"github.com/sirupsen/logrus"
)

// runRequest is the message sent to agents on the runs subject. The
// agent checks out the remote and executes the pipeline; the spec is
// only inlined when the caller supplied one, otherwise the agent reads
// it from the checked-out tree.
type runRequest struct {
	Trigger   string          `json:"trigger"`
	Name      string          `json:"name"`
	GitRemote store.GitRemote `json:"git_remote"`

	Spec *pipeline.Spec `json:"spec,omitempty"`
}

// handleTriggerPipeline is the manual dispatch surface. The other two
// trigger kinds come in through the git webhook; all three produce the
// same run request and the same step sequence.
func (srv *Server) handleTriggerPipeline(rw http.ResponseWriter, req *http.Request) {
	reqID := req.Context().Value(keyReqID).(string)
	reqSub := req.Context().Value(keyReqSub).(string)
	logger := logger.WithFields(logrus.Fields{
		"request_id":      reqID,
		"request_subject": reqSub,
	})

	logger.Debug("checking mux vars for id")
	vars := mux.Vars(req)

	var raw string
	var ok bool
	if raw, ok = vars["id"]; !ok || raw == "" {
		err := errors.New("missing parameter 'id' from request")
		logger.WithError(err).Error("unable to complete request")

		writeErrResp(rw, err, http.StatusBadRequest)
		return
	}

	logger.Debug("parsing id")

	id, err := strconv.Atoi(raw)
	if err != nil {
		logger.WithError(err).Error("unable to parse id as integer")

		writeErrResp(rw, err, http.StatusBadRequest)
		return
	}

	logger = logger.WithField("id", id)

	logger.Debug("retrieving pipeline from store")

	p, err := srv.st.GetPipeline(reqSub, id)
	if err != nil {
		logger.WithError(err).Error("unable to retrieve pipeline")
		if err == store.ErrPipelineNotFound {
			writeErrResp(rw, err, http.StatusNotFound)
			return
		}

		writeErrResp(rw, err, http.StatusInternalServerError)
		return
	}

	request := runRequest{
		Trigger:   pipeline.TriggerManual.String(),
		Name:      p.Name,
		GitRemote: p.GitRemote,
	}

	buf, err := ioutil.ReadAll(req.Body)
	if err != nil {
		logger.WithError(err).Error("unable to read request body")

		writeErrResp(rw, err, http.StatusInternalServerError)
		return
	}

	// A manual dispatch can carry an inline spec to run instead of the
	// one in the tree.
	if len(buf) > 0 {
		var body struct {
			Spec *pipeline.Spec `json:"spec"`
		}

		if err := json.Unmarshal(buf, &body); err != nil {
			logger.WithError(err).Error("unable to unmarshal request body")

			writeErrResp(rw, err, http.StatusBadRequest)
			return
		}

		if body.Spec != nil {
			if err := body.Spec.Validate(); err != nil {
				logger.WithError(err).Error("invalid inline spec")

				writeErrResp(rw, err, http.StatusBadRequest)
				return
			}

			request.Spec = body.Spec
		}
	}

	rawmsg, err := json.Marshal(request)
	if err != nil {
		logger.WithError(err).Error("unable to marshal run request")

		writeErrResp(rw, err, http.StatusInternalServerError)
		return
	}

	logger.Info("dispatching run request")

	go sendWithBackoff(logger, srv.runch, rawmsg)

	resp, _ := json.Marshal(map[string]interface{}{
		"pipeline_id": id,
		"trigger":     request.Trigger,
	})

	rw.WriteHeader(http.StatusAccepted)
	rw.Write(resp)
	return
}

// handleGitWebhook takes push and pull_request events from the forge
// and turns them into run requests.
func (srv *Server) handleGitWebhook(rw http.ResponseWriter, req *http.Request) {
	reqID := req.Context().Value(keyReqID).(string)
	logger := logger.WithField("request_id", reqID)

	logger.Debug("reading request body")

	buf, err := ioutil.ReadAll(req.Body)
	if err != nil {
		logger.WithError(err).Error("unable to read request body")

		writeErrResp(rw, err, http.StatusInternalServerError)
		return
	}

	var hook struct {
		Event  string          `json:"event"`
		Name   string          `json:"name"`
		Remote store.GitRemote `json:"remote"`
	}

	err = json.Unmarshal(buf, &hook)
	if err != nil {
		logger.WithError(err).Error("unable to unmarshal request body")

		writeErrResp(rw, err, http.StatusBadRequest)
		return
	}

	trigger, err := pipeline.ParseTrigger(hook.Event)
	if err != nil {
		logger.WithError(err).Error("unable to parse trigger")

		writeErrResp(rw, err, http.StatusBadRequest)
		return
	}

	// Manual dispatches have their own endpoint with a bearer token on
	// it. A forge has no business sending one.
	if trigger == pipeline.TriggerManual {
		err := errors.New("webhooks can't dispatch manual runs")
		logger.WithError(err).Error("unable to complete request")

		writeErrResp(rw, err, http.StatusBadRequest)
		return
	}

	if hook.Remote.URL == "" {
		err := errors.New("missing remote url in webhook")
		logger.WithError(err).Error("unable to complete request")

		writeErrResp(rw, err, http.StatusBadRequest)
		return
	}

	if hook.Name == "" {
		hook.Name = "default"
	}

	logger = logger.WithFields(logrus.Fields{
		"trigger": trigger,
		"url":     hook.Remote.URL,
		"branch":  hook.Remote.Branch,
	})

	request := runRequest{
		Trigger:   trigger.String(),
		Name:      hook.Name,
		GitRemote: hook.Remote,
	}

	rawmsg, err := json.Marshal(request)
	if err != nil {
		logger.WithError(err).Error("unable to marshal run request")

		writeErrResp(rw, err, http.StatusInternalServerError)
		return
	}

	logger.Info("dispatching run request")

	go sendWithBackoff(logger, srv.runch, rawmsg)

	rw.WriteHeader(http.StatusAccepted)
	return
}
