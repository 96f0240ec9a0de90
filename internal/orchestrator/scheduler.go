package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/nidhogg/arbiter/internal/plan"
	"github.com/nidhogg/arbiter/internal/provider"
	"github.com/nidhogg/arbiter/internal/worker"
	"go.uber.org/zap"
)

// Abort reasons reported by a run outcome.
const (
	AbortUnsatisfiable = "unsatisfiable_graph"
	AbortRoundLimit    = "round_limit"
	AbortTimeout       = "run_timeout"
)

// RunOutcome is the raw result of driving one plan to termination.
// Executed and Outstanding together always cover every node id in the
// plan; no id is dropped on any abort path.
type RunOutcome struct {
	Executed    map[string]*worker.Response
	Contexts    map[string]*AgentContext
	Order       []string
	Outstanding []string
	Rounds      int
	Aborted     string
}

// Scheduler drives a plan round by round over the lifecycle executor.
// Each round launches the full dependency frontier concurrently; the
// shared limiter inside the lifecycle bounds actual simultaneous
// outbound calls.
type Scheduler struct {
	lifecycle  *Lifecycle
	maxRounds  int
	runTimeout time.Duration
	logger     *zap.Logger
}

// NewScheduler creates a scheduler with a round ceiling and a global
// per-run wall-clock budget.
func NewScheduler(lifecycle *Lifecycle, maxRounds int, runTimeout time.Duration, logger *zap.Logger) *Scheduler {
	if maxRounds <= 0 {
		maxRounds = 8
	}
	if runTimeout <= 0 {
		runTimeout = 5 * time.Minute
	}
	return &Scheduler{
		lifecycle:  lifecycle,
		maxRounds:  maxRounds,
		runTimeout: runTimeout,
		logger:     logger,
	}
}

// Run executes the plan until pending is empty or an abort condition
// fires. The round-limit and timeout checks happen between rounds only:
// an in-flight attempt is never interrupted mid-call, it finishes or
// hits its own per-attempt timeout.
func (s *Scheduler) Run(ctx context.Context, runID string, p *plan.Plan, model *provider.ModelConfig, bus *MessageBus, sink ProgressSink) *RunOutcome {
	out := &RunOutcome{
		Executed: make(map[string]*worker.Response, len(p.Nodes)),
		Contexts: make(map[string]*AgentContext, len(p.Nodes)),
	}

	pending := make(map[string]plan.TaskNode, len(p.Nodes))
	for _, n := range p.Nodes {
		pending[n.ID] = n
	}
	start := time.Now()

	for len(pending) > 0 {
		if out.Rounds >= s.maxRounds {
			out.Aborted = AbortRoundLimit
			s.logger.Warn("round ceiling reached",
				zap.String("run", runID), zap.Int("rounds", out.Rounds))
			break
		}
		if time.Since(start) > s.runTimeout {
			out.Aborted = AbortTimeout
			s.logger.Warn("run timeout exceeded",
				zap.String("run", runID), zap.Duration("elapsed", time.Since(start)))
			break
		}
		if ctx.Err() != nil {
			out.Aborted = AbortTimeout
			break
		}

		frontier := s.frontier(p, pending, out.Executed)
		if len(frontier) == 0 {
			// Cycle or dangling reference: no pending node can ever
			// become runnable. Report every remaining id.
			out.Aborted = AbortUnsatisfiable
			s.logger.Error("unsatisfiable dependency graph",
				zap.String("run", runID), zap.Int("stranded", len(pending)))
			break
		}

		var (
			mu sync.Mutex
			wg sync.WaitGroup
		)
		for _, node := range frontier {
			deps := s.gatherDeps(node, out.Executed)
			wg.Add(1)
			go func(n plan.TaskNode, d map[string]*worker.Response) {
				defer wg.Done()
				resp, actx := s.lifecycle.ExecuteNode(ctx, runID, n, d, model, bus, sink)
				mu.Lock()
				out.Executed[n.ID] = resp
				out.Contexts[n.ID] = actx
				mu.Unlock()
			}(node, deps)
		}
		wg.Wait()

		for _, n := range frontier {
			delete(pending, n.ID)
		}
		out.Rounds++

		emit(sink, EventTaskProgress, map[string]interface{}{
			"run_id": runID, "round": out.Rounds,
			"executed": len(out.Executed), "pending": len(pending),
		})
	}

	// Preserve plan order for both executed results and stranded ids.
	for _, n := range p.Nodes {
		if _, ok := out.Executed[n.ID]; ok {
			out.Order = append(out.Order, n.ID)
		} else {
			out.Outstanding = append(out.Outstanding, n.ID)
		}
	}
	return out
}

// frontier returns pending nodes whose dependencies are all executed,
// in plan order.
func (s *Scheduler) frontier(p *plan.Plan, pending map[string]plan.TaskNode, executed map[string]*worker.Response) []plan.TaskNode {
	var out []plan.TaskNode
	for _, n := range p.Nodes {
		if _, ok := pending[n.ID]; !ok {
			continue
		}
		ready := true
		for _, dep := range n.DependsOn {
			if _, ok := executed[dep]; !ok {
				ready = false
				break
			}
		}
		if ready {
			out = append(out, n)
		}
	}
	return out
}

// gatherDeps collects each dependency's final response for the node.
func (s *Scheduler) gatherDeps(n plan.TaskNode, executed map[string]*worker.Response) map[string]*worker.Response {
	if len(n.DependsOn) == 0 {
		return nil
	}
	deps := make(map[string]*worker.Response, len(n.DependsOn))
	for _, dep := range n.DependsOn {
		deps[dep] = executed[dep]
	}
	return deps
}
