package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/lprior-repo/oya-sub007/internal/agentproto"
	"github.com/lprior-repo/oya-sub007/internal/distribution"
	"github.com/lprior-repo/oya-sub007/internal/errs"
	"github.com/lprior-repo/oya-sub007/internal/ids"
	"github.com/lprior-repo/oya-sub007/internal/swarm"
)

// registerAgentRequest is the body of POST /v1/agents.
type registerAgentRequest struct {
	ID           string   `json:"id"`
	Role         string   `json:"role"`
	Capabilities []string `json:"capabilities,omitempty"`
}

// handleAgents serves POST /v1/agents: an agent process announces itself
// and joins the swarm registry Idle, ready to be claimed against.
func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, errs.InvalidContract("method not allowed"), http.StatusMethodNotAllowed)
		return
	}
	var req registerAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == "" {
		writeError(w, errs.SchemaError("invalid agent registration body"), http.StatusBadRequest)
		return
	}
	s.agents.Register(req.ID, swarm.Role(req.Role), req.Capabilities, time.Now())
	w.WriteHeader(http.StatusCreated)
}

// handleAgentByID dispatches the three verbs an agent drives against its
// own record: heartbeat, claim the next ready bead, and ack the outcome of
// a previously claimed bead.
func (s *Server) handleAgentByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, errs.InvalidContract("method not allowed"), http.StatusMethodNotAllowed)
		return
	}
	path := r.URL.Path[len("/v1/agents/"):]
	agentID, action, ok := splitAgentPath(path)
	if !ok {
		writeError(w, errs.InvalidContract("unsupported agent route"), http.StatusNotFound)
		return
	}
	if _, ok := s.agents.Get(agentID); !ok {
		writeError(w, errs.NotFound("agent", agentID), http.StatusNotFound)
		return
	}

	switch action {
	case "heartbeat":
		s.handleAgentHeartbeat(w, agentID)
	case "claim":
		s.handleAgentClaim(w, r, agentID)
	case "ack":
		s.handleAgentAck(w, r, agentID)
	default:
		writeError(w, errs.InvalidContract("unsupported agent route"), http.StatusNotFound)
	}
}

func splitAgentPath(path string) (agentID, action string, ok bool) {
	idx := strings.LastIndex(path, "/")
	if idx <= 0 || idx == len(path)-1 {
		return "", "", false
	}
	return path[:idx], path[idx+1:], true
}

func (s *Server) handleAgentHeartbeat(w http.ResponseWriter, agentID string) {
	if !s.agents.Touch(agentID, time.Now()) {
		writeError(w, errs.NotFound("agent", agentID), http.StatusNotFound)
		return
	}
	a, _ := s.agents.Get(agentID)
	writeJSON(w, http.StatusOK, agentproto.FromAgent{
		Type:        agentproto.HeartbeatAck,
		State:       a.State.String(),
		CurrentBead: a.ClaimedBead,
	})
}

// handleAgentClaim asks the distribution strategy of every registered
// workflow, in turn, to pick the next ready bead for this agent, claiming
// the first one it finds. This is the production path from "agent is free"
// to "claim issued, agent should start executing" that ClaimNextReadyBead
// alone cannot provide without an external caller driving it.
func (s *Server) handleAgentClaim(w http.ResponseWriter, r *http.Request, agentID string) {
	a, _ := s.agents.Get(agentID)
	if a.State != swarm.AgentIdle {
		writeError(w, errs.AlreadyClaimed("agent", agentID), http.StatusConflict)
		return
	}
	candidate := []distribution.AgentCandidate{{ID: agentID, Capabilities: a.Capabilities}}

	ctx := r.Context()
	for _, wfID := range s.router.WorkflowIDs() {
		actor, err := s.router.Workflow(wfID)
		if err != nil {
			continue
		}
		beadID, pickedAgent, ok, err := actor.ClaimNextReadyBead(ctx, candidate)
		if err != nil || !ok || pickedAgent != agentID {
			continue
		}
		s.agents.Claim(agentID, beadID.String())
		writeJSON(w, http.StatusOK, agentproto.ToAgent{
			Type:       agentproto.AssignBead,
			BeadID:     beadID.String(),
			WorkflowID: wfID.String(),
		})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ackRequest wraps agentproto.FromAgent with the workflow id the agent's
// bead belongs to, since the wire message itself carries only the bead id.
type ackRequest struct {
	agentproto.FromAgent
	WorkflowID string `json:"workflow_id"`
}

// handleAgentAck applies the outcome an agent reports for a bead it was
// previously assigned. Once the bead is completed, failed or rejected the
// agent is released back to Idle so it becomes claimable again; an accepted
// or started ack leaves the agent holding its claim.
func (s *Server) handleAgentAck(w http.ResponseWriter, r *http.Request, agentID string) {
	var req ackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errs.SchemaError("invalid ack body"), http.StatusBadRequest)
		return
	}
	wfID, err := ids.Parse(req.WorkflowID)
	if err != nil {
		writeError(w, errs.SchemaError("invalid workflow_id"), http.StatusBadRequest)
		return
	}
	beadID, err := ids.Parse(req.BeadID)
	if err != nil {
		writeError(w, errs.SchemaError("invalid bead_id"), http.StatusBadRequest)
		return
	}
	actor, err := s.router.Workflow(wfID)
	if err != nil {
		writeError(w, err, http.StatusNotFound)
		return
	}

	switch req.Type {
	case agentproto.BeadAccepted, agentproto.BeadStarted:
		err = actor.MarkRunning(beadID)
	case agentproto.BeadCompleted:
		// A bead only transitions to Completed from Running; an agent may ack
		// completion without a separate "started" ack in between, so bring the
		// bead through Running first. A bead already Running reports
		// InvalidTransition here, which is expected and not itself a failure.
		if runErr := actor.MarkRunning(beadID); runErr != nil && errs.KindOf(runErr) != errs.KindInvalidTransition {
			err = runErr
			break
		}
		err = actor.MarkCompleted(beadID)
		s.agents.Release(agentID)
	case agentproto.BeadFailed, agentproto.BeadRejected:
		reason := req.Reason
		if reason == "" {
			reason = req.Error
		}
		if runErr := actor.MarkRunning(beadID); runErr != nil && errs.KindOf(runErr) != errs.KindInvalidTransition {
			err = runErr
			break
		}
		err = actor.MarkFailed(beadID, reason)
		s.agents.Release(agentID)
	default:
		writeError(w, errs.SchemaError("unsupported ack type: "+string(req.Type)), http.StatusBadRequest)
		return
	}
	if err != nil {
		writeError(w, err, statusForErr(err))
		return
	}
	w.WriteHeader(http.StatusOK)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
