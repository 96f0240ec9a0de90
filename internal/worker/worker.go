package worker

import (
	"context"

	"github.com/nidhogg/arbiter/internal/provider"
)

// Task is the unit of work handed to a worker. DependentResults carries
// the final responses of every plan node this task depends on, keyed by
// node ID.
type Task struct {
	NodeID           string                 `json:"node_id"`
	Description      string                 `json:"description"`
	Context          map[string]interface{} `json:"context,omitempty"`
	DependentResults map[string]*Response   `json:"dependent_results,omitempty"`
	Model            *provider.ModelConfig  `json:"model,omitempty"`
}

// Response is the structured output of one worker execution. Metadata
// carries the error/degraded/timeout flags the orchestration core uses
// to classify outcomes.
type Response struct {
	AgentName string                 `json:"agent_name"`
	Content   string                 `json:"content"`
	Reasoning string                 `json:"reasoning,omitempty"`
	Citations []string               `json:"citations,omitempty"`
	Actions   []string               `json:"actions,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Flag reports whether the named metadata flag is set true.
func (r *Response) Flag(name string) bool {
	if r == nil || r.Metadata == nil {
		return false
	}
	v, ok := r.Metadata[name].(bool)
	return ok && v
}

// SetFlag sets a boolean metadata flag.
func (r *Response) SetFlag(name string, v bool) {
	if r.Metadata == nil {
		r.Metadata = make(map[string]interface{})
	}
	r.Metadata[name] = v
}

// Succeeded reports whether the response is free of failure flags.
func (r *Response) Succeeded() bool {
	return r != nil && !r.Flag("error") && !r.Flag("degraded") && !r.Flag("timeout")
}

// Worker is the capability contract implemented by every executable
// worker. The orchestration core treats implementations as opaque.
type Worker interface {
	Key() string
	Name() string
	Process(ctx context.Context, task *Task) (*Response, error)
}

// Capability describes a worker for planning prompts.
type Capability struct {
	Key         string `json:"key"`
	Name        string `json:"name"`
	Description string `json:"description"`
}
