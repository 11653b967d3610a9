// Package agentproto defines the tagged-union messages exchanged between
// the orchestrator and an external agent process. The transport carrying
// these messages is deliberately not this package's concern — the HTTP
// claim/ack endpoints in internal/api are one transport; a queue or gRPC
// stream could carry the same wire shapes.
package agentproto

import "encoding/json"

// ToAgentType discriminates a message sent to an agent.
type ToAgentType string

const (
	AssignBead   ToAgentType = "assign_bead"
	Heartbeat    ToAgentType = "heartbeat"
	CancelBead   ToAgentType = "cancel_bead"
	Shutdown     ToAgentType = "shutdown"
	GetStatus    ToAgentType = "get_status"
	UpdateConfig ToAgentType = "update_config"
)

// ToAgent is a message the orchestrator sends to an agent. Fields not
// relevant to Type are left zero; omitempty keeps the wire form compact.
type ToAgent struct {
	Type       ToAgentType     `json:"type"`
	BeadID     string          `json:"bead_id,omitempty"`
	WorkflowID string          `json:"workflow_id,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Reason     string          `json:"reason,omitempty"`
	Graceful   bool            `json:"graceful,omitempty"`
	Config     json.RawMessage `json:"config,omitempty"`
}

// FromAgentType discriminates a message an agent sends back.
type FromAgentType string

const (
	BeadAccepted FromAgentType = "bead_accepted"
	BeadRejected FromAgentType = "bead_rejected"
	BeadStarted  FromAgentType = "bead_started"
	BeadCompleted FromAgentType = "bead_completed"
	BeadFailed   FromAgentType = "bead_failed"
	HeartbeatAck FromAgentType = "heartbeat_ack"
	Status       FromAgentType = "status"
	ShutdownAck  FromAgentType = "shutdown_ack"
	Error        FromAgentType = "error"
)

// FromAgent is a message an agent sends back to the orchestrator, e.g. in
// response to a ToAgent message or as a periodic status report.
type FromAgent struct {
	Type         FromAgentType   `json:"type"`
	BeadID       string          `json:"bead_id,omitempty"`
	Reason       string          `json:"reason,omitempty"`
	Result       json.RawMessage `json:"result,omitempty"`
	Error        string          `json:"error,omitempty"`
	State        string          `json:"state,omitempty"`
	CurrentBead  string          `json:"current_bead,omitempty"`
	Capabilities []string        `json:"capabilities,omitempty"`
	UptimeSecs   uint64          `json:"uptime_secs,omitempty"`
	Message      string          `json:"message,omitempty"`
}
