// Package api exposes the orchestrator's HTTP surface: workflow and bead
// command/query endpoints, a health check, and an event-stream subscriber
// endpoint, built on a bare net/http.ServeMux with an optional bearer-token
// middleware.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/lprior-repo/oya-sub007/internal/dag"
	"github.com/lprior-repo/oya-sub007/internal/errs"
	"github.com/lprior-repo/oya-sub007/internal/eventbus"
	"github.com/lprior-repo/oya-sub007/internal/ids"
	"github.com/lprior-repo/oya-sub007/internal/scheduler"
	"github.com/lprior-repo/oya-sub007/internal/swarm"
)

// Server holds the dependencies the HTTP handlers need: the scheduler
// router for commands/queries, the event bus for the stream endpoint, and
// the agent swarm registry for the agent-facing claim/ack surface.
type Server struct {
	router *scheduler.SchedulerActor
	bus    *eventbus.Bus
	agents *swarm.Registry
}

// New returns a Server ready to be mounted via Routes.
func New(router *scheduler.SchedulerActor, bus *eventbus.Bus, agents *swarm.Registry) *Server {
	return &Server{router: router, bus: bus, agents: agents}
}

// Routes registers every handler on mux.
func (s *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/v1/workflows", s.handleWorkflows)
	mux.HandleFunc("/v1/workflows/", s.handleWorkflowByID)
	mux.HandleFunc("/v1/beads/", s.handleBeadByID)
	mux.HandleFunc("/v1/events", s.handleEventStream)
	mux.HandleFunc("/v1/agents", s.handleAgents)
	mux.HandleFunc("/v1/agents/", s.handleAgentByID)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type createWorkflowRequest struct {
	Beads []beadSpec `json:"beads"`
}

type beadSpec struct {
	ID           string   `json:"id"`
	DependsOn    []string `json:"depends_on,omitempty"`
	PreferredFor []string `json:"preferred_for,omitempty"`
}

type createWorkflowResponse struct {
	WorkflowID string `json:"workflow_id"`
}

func (s *Server) handleWorkflows(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, errs.InvalidContract("method not allowed"), http.StatusMethodNotAllowed)
		return
	}

	var req createWorkflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errs.SchemaError("invalid request body"), http.StatusBadRequest)
		return
	}

	wfID := ids.New()
	actor := s.router.RegisterWorkflow(wfID)

	beadIDs := make(map[string]ids.ID, len(req.Beads))
	for _, b := range req.Beads {
		beadID := ids.New()
		beadIDs[b.ID] = beadID
		if err := actor.AddBead(beadID); err != nil {
			writeError(w, err, http.StatusInternalServerError)
			return
		}
	}
	for _, b := range req.Beads {
		from := beadIDs[b.ID]
		for _, dep := range b.DependsOn {
			to, ok := beadIDs[dep]
			if !ok {
				writeError(w, errs.SchemaError("unknown dependency bead id: "+dep), http.StatusBadRequest)
				return
			}
			if err := actor.AddDependency(to, from, dag.Blocking); err != nil {
				writeError(w, err, http.StatusConflict)
				return
			}
		}
		for _, pref := range b.PreferredFor {
			to, ok := beadIDs[pref]
			if !ok {
				continue
			}
			if err := actor.AddDependency(from, to, dag.Preferred); err != nil {
				writeError(w, err, http.StatusConflict)
				return
			}
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(createWorkflowResponse{WorkflowID: wfID.String()})
}

type workflowStatusResponse struct {
	WorkflowID string   `json:"workflow_id"`
	Status     string   `json:"status"`
	ReadyBeads []string `json:"ready_beads"`
}

func (s *Server) handleWorkflowByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, errs.InvalidContract("method not allowed"), http.StatusMethodNotAllowed)
		return
	}
	idStr := r.URL.Path[len("/v1/workflows/"):]
	wfID, err := ids.Parse(idStr)
	if err != nil {
		writeError(w, errs.SchemaError("invalid workflow id"), http.StatusBadRequest)
		return
	}

	actor, err := s.router.Workflow(wfID)
	if err != nil {
		writeError(w, err, http.StatusNotFound)
		return
	}

	ctx := r.Context()
	status, err := actor.GetWorkflowStatus(ctx)
	if err != nil {
		writeError(w, err, http.StatusInternalServerError)
		return
	}
	ready, err := actor.GetReadyBeads(ctx)
	if err != nil {
		writeError(w, err, http.StatusInternalServerError)
		return
	}
	readyStrs := make([]string, len(ready))
	for i, id := range ready {
		readyStrs[i] = id.String()
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(workflowStatusResponse{
		WorkflowID: wfID.String(),
		Status:     statusName(status),
		ReadyBeads: readyStrs,
	})
}

func statusName(s scheduler.WorkflowStatus) string {
	switch s {
	case scheduler.WorkflowPending:
		return "pending"
	case scheduler.WorkflowRunning:
		return "running"
	case scheduler.WorkflowCompleted:
		return "completed"
	case scheduler.WorkflowFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// handleBeadByID serves POST /v1/beads/{id}/cancel — every other path under
// /v1/beads/ is reserved for future bead-detail endpoints.
func (s *Server) handleBeadByID(w http.ResponseWriter, r *http.Request) {
	const suffix = "/cancel"
	path := r.URL.Path[len("/v1/beads/"):]
	if r.Method != http.MethodPost || len(path) <= len(suffix) || path[len(path)-len(suffix):] != suffix {
		writeError(w, errs.InvalidContract("unsupported bead route"), http.StatusNotFound)
		return
	}
	idStr := path[:len(path)-len(suffix)]
	beadID, err := ids.Parse(idStr)
	if err != nil {
		writeError(w, errs.SchemaError("invalid bead id"), http.StatusBadRequest)
		return
	}

	wfID, err := ids.Parse(r.URL.Query().Get("workflow_id"))
	if err != nil {
		writeError(w, errs.SchemaError("workflow_id query parameter required"), http.StatusBadRequest)
		return
	}
	actor, err := s.router.Workflow(wfID)
	if err != nil {
		writeError(w, err, http.StatusNotFound)
		return
	}

	if err := actor.CancelBead(beadID); err != nil {
		writeError(w, err, statusForErr(err))
		return
	}
	w.WriteHeader(http.StatusOK)
}

// handleEventStream streams newline-delimited JSON events to the caller as
// they are published, using plain net/http flush-based streaming rather
// than a websocket dependency.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, errs.InvalidContract("streaming unsupported"), http.StatusInternalServerError)
		return
	}
	ch, cancel := s.bus.Subscribe(128)
	defer cancel()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	enc := json.NewEncoder(w)
	ctx := r.Context()
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := enc.Encode(ev); err != nil {
				return
			}
			flusher.Flush()
		case <-ctx.Done():
			return
		}
	}
}

func statusForErr(err error) int {
	switch errs.KindOf(err) {
	case errs.KindNotFound:
		return http.StatusNotFound
	case errs.KindInvalidTransition, errs.KindAlreadyClaimed:
		return http.StatusConflict
	case errs.KindSchemaError, errs.KindInvalidContract:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error, status int) {
	slog.Warn("api request failed", "error", err, "status", status)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
