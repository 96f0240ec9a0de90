package orchestrator

import (
	"context"
	"time"

	"github.com/nidhogg/arbiter/internal/intent"
	"github.com/nidhogg/arbiter/internal/plan"
	"github.com/nidhogg/arbiter/internal/provider"
	"github.com/nidhogg/arbiter/internal/worker"
)

// Progress event types emitted to the caller's sink.
const (
	EventTaskStart      = "task_start"
	EventTaskProgress   = "task_progress"
	EventTaskRetry      = "task_retry"
	EventTaskReplace    = "task_replace"
	EventTaskComplete   = "task_complete"
	EventTaskFail       = "task_fail"
	EventPlanReady      = "plan_ready"
	EventConsensusReady = "consensus_ready"
)

// ProgressSink receives orchestration progress events. Implementations
// live outside the core; their errors and panics are swallowed.
type ProgressSink interface {
	Emit(eventType string, payload map[string]interface{})
}

// emit delivers an event to the sink, absorbing panics so a broken
// observer can never disturb a run.
func emit(sink ProgressSink, eventType string, payload map[string]interface{}) {
	if sink == nil {
		return
	}
	defer func() { _ = recover() }()
	sink.Emit(eventType, payload)
}

// TaskRequest is the orchestrator's entry-point input.
type TaskRequest struct {
	Description string                 `json:"description"`
	Context     map[string]interface{} `json:"context,omitempty"`
	Model       *provider.ModelConfig  `json:"model,omitempty"`
	Sink        ProgressSink           `json:"-"`
}

// NodeResult pairs a plan node with its terminal response.
type NodeResult struct {
	NodeID   string           `json:"node_id"`
	Response *worker.Response `json:"response"`
}

// TaskResult is the aggregated outcome of one orchestration run.
type TaskResult struct {
	RunID          string                `json:"run_id"`
	OriginalTask   string                `json:"original_task"`
	Intent         intent.Classification `json:"intent"`
	Plan           *plan.Plan            `json:"plan"`
	Directive      plan.Directive        `json:"directive"`
	Results        []NodeResult          `json:"results"`
	Outstanding    []string              `json:"outstanding,omitempty"`
	Consensus      *ConsensusArtifact    `json:"consensus,omitempty"`
	Summary        string                `json:"summary"`
	MemoryRecordID string                `json:"memory_record_id,omitempty"`
	Rounds         int                   `json:"rounds"`
	Aborted        string                `json:"aborted,omitempty"`
	Elapsed        time.Duration         `json:"elapsed"`
	StartedAt      time.Time             `json:"started_at"`
}

// RunRecord is what the memory bridge persists after a run.
type RunRecord struct {
	RunID           string              `json:"run_id"`
	Description     string              `json:"description"`
	Intent          string              `json:"intent"`
	Plan            *plan.Plan          `json:"plan"`
	Results         []NodeResult        `json:"results"`
	Summary         string              `json:"summary"`
	Outcome         string              `json:"outcome"`
	Rating          float64             `json:"rating"`
	ReasoningChains map[string][]string `json:"reasoning_chains,omitempty"`
	RetryCounts     map[string]int      `json:"retry_counts,omitempty"`
	Elapsed         time.Duration       `json:"elapsed"`
}

// MemoryBridge is the orchestrator's view of the external memory tiers.
// Every call is best-effort: the orchestrator logs failures and moves on.
type MemoryBridge interface {
	// SimilarCases queries episodic memory before planning.
	SimilarCases(ctx context.Context, description string, limit int) ([]plan.PriorCase, error)
	// SaveRun writes the run record to episodic memory after a run and
	// returns the record id.
	SaveRun(ctx context.Context, rec *RunRecord) (string, error)
	// MirrorMessages copies the run's message pool into working memory.
	MirrorMessages(ctx context.Context, runID string, msgs []*PoolMessage) error
	// SaveSnapshot stores a per-agent context snapshot in working memory.
	SaveSnapshot(ctx context.Context, runID string, snap *AgentContext) error
}
