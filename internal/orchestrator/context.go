package orchestrator

import (
	"time"

	"github.com/google/uuid"
)

// AgentStatus tracks a node execution's state machine. Terminal states
// are Completed and Failed; a context never returns to Idle.
type AgentStatus string

const (
	StatusIdle      AgentStatus = "idle"
	StatusWorking   AgentStatus = "working"
	StatusCompleted AgentStatus = "completed"
	StatusFailed    AgentStatus = "failed"
	StatusRetrying  AgentStatus = "retrying"
)

// AgentContext is the isolated per-worker-per-node mutable state and
// reasoning trail. It is exclusively owned by the lifecycle run
// executing its node: no lock, no concurrent mutation. The only
// ownership transfer is the explicit copy taken by Snapshot during
// replacement handoff.
type AgentContext struct {
	AgentID        string                 `json:"agent_id"`
	AgentName      string                 `json:"agent_name"`
	TaskNodeID     string                 `json:"task_node_id"`
	LocalState     map[string]interface{} `json:"local_state,omitempty"`
	ReasoningChain []string               `json:"reasoning_chain,omitempty"`
	InputContext   map[string]interface{} `json:"input_context,omitempty"`
	Artifacts      []string               `json:"output_artifacts,omitempty"`
	Status         AgentStatus            `json:"status"`
	RetryCount     int                    `json:"retry_count"`
	CreatedAt      time.Time              `json:"created_at"`
}

// NewAgentContext creates an idle context for one worker on one node.
func NewAgentContext(workerKey, workerName, nodeID string) *AgentContext {
	return &AgentContext{
		AgentID:        uuid.New().String(),
		AgentName:      workerName,
		TaskNodeID:     nodeID,
		LocalState:     make(map[string]interface{}),
		InputContext:   map[string]interface{}{"worker_key": workerKey},
		Status:         StatusIdle,
		CreatedAt:      time.Now(),
	}
}

// Reason appends an entry to the reasoning chain.
func (a *AgentContext) Reason(entry string) {
	a.ReasoningChain = append(a.ReasoningChain, entry)
}

// LastReasoning returns up to n trailing reasoning entries, oldest first.
func (a *AgentContext) LastReasoning(n int) []string {
	if n <= 0 || len(a.ReasoningChain) == 0 {
		return nil
	}
	start := len(a.ReasoningChain) - n
	if start < 0 {
		start = 0
	}
	out := make([]string, len(a.ReasoningChain)-start)
	copy(out, a.ReasoningChain[start:])
	return out
}

// Snapshot returns a deep copy for handing off to a replacement worker.
// The original and the copy share nothing mutable afterwards.
func (a *AgentContext) Snapshot() *AgentContext {
	cp := &AgentContext{
		AgentID:    a.AgentID,
		AgentName:  a.AgentName,
		TaskNodeID: a.TaskNodeID,
		Status:     a.Status,
		RetryCount: a.RetryCount,
		CreatedAt:  a.CreatedAt,
	}
	cp.LocalState = make(map[string]interface{}, len(a.LocalState))
	for k, v := range a.LocalState {
		cp.LocalState[k] = v
	}
	cp.InputContext = make(map[string]interface{}, len(a.InputContext))
	for k, v := range a.InputContext {
		cp.InputContext[k] = v
	}
	cp.ReasoningChain = append([]string(nil), a.ReasoningChain...)
	cp.Artifacts = append([]string(nil), a.Artifacts...)
	return cp
}
