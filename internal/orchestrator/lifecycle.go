package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nidhogg/arbiter/internal/plan"
	"github.com/nidhogg/arbiter/internal/provider"
	"github.com/nidhogg/arbiter/internal/worker"
	"go.uber.org/zap"
)

// recoverablePatterns marks an error transient and worth retrying.
var recoverablePatterns = []string{
	"timeout",
	"timed out",
	"deadline exceeded",
	"rate limit",
	"too many requests",
	"429",
	"connection refused",
	"connection reset",
	"connection failed",
	"unavailable",
}

// timeoutGrowth widens the per-attempt budget on every retry: later
// attempts trade latency for better odds against slow upstreams.
const timeoutGrowth = 1.5

// handoffEntries is how many trailing reasoning entries the failed
// context contributes to a replacement's instruction.
const handoffEntries = 3

// Lifecycle executes exactly one plan node against its worker with
// bounded fault tolerance: retry for recoverable errors, replacement
// from the substitution table, and degradation as the last resort.
type Lifecycle struct {
	registry       *worker.Registry
	limiter        *Limiter
	attemptTimeout time.Duration
	maxAttempts    int
	logger         *zap.Logger
}

// NewLifecycle creates a lifecycle executor. The limiter is the shared
// process-wide one; attemptTimeout is the first attempt's budget.
func NewLifecycle(registry *worker.Registry, limiter *Limiter, attemptTimeout time.Duration, maxAttempts int, logger *zap.Logger) *Lifecycle {
	if attemptTimeout <= 0 {
		attemptTimeout = 45 * time.Second
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Lifecycle{
		registry:       registry,
		limiter:        limiter,
		attemptTimeout: attemptTimeout,
		maxAttempts:    maxAttempts,
		logger:         logger,
	}
}

// AttemptBudget returns the timeout for the given 1-based attempt.
func (l *Lifecycle) AttemptBudget(attempt int) time.Duration {
	budget := float64(l.attemptTimeout)
	for i := 1; i < attempt; i++ {
		budget *= timeoutGrowth
	}
	return time.Duration(budget)
}

// ExecuteNode runs one node to a terminal response. It never returns an
// error: every failure mode ends in a response whose metadata flags
// describe what happened. The returned AgentContext belongs to whichever
// worker produced the terminal response.
func (l *Lifecycle) ExecuteNode(ctx context.Context, runID string, node plan.TaskNode, deps map[string]*worker.Response, model *provider.ModelConfig, bus *MessageBus, sink ProgressSink) (*worker.Response, *AgentContext) {
	w, ok := l.registry.Get(node.AgentKey)
	if !ok {
		actx := NewAgentContext(node.AgentKey, node.AgentKey, node.ID)
		actx.Status = StatusFailed
		actx.Reason("no worker registered under key " + node.AgentKey)
		resp := l.degraded(node, actx, fmt.Errorf("worker %q not registered", node.AgentKey), false)
		emit(sink, EventTaskFail, map[string]interface{}{
			"run_id": runID, "node_id": node.ID, "agent_key": node.AgentKey,
			"reason": "unknown worker",
		})
		return resp, actx
	}

	actx := NewAgentContext(node.AgentKey, w.Name(), node.ID)

	if err := l.limiter.Acquire(ctx); err != nil {
		actx.Status = StatusFailed
		actx.Reason("run cancelled while queued for an execution slot")
		resp := l.degraded(node, actx, err, true)
		emit(sink, EventTaskFail, map[string]interface{}{
			"run_id": runID, "node_id": node.ID, "agent_key": node.AgentKey,
			"reason": "cancelled in queue",
		})
		return resp, actx
	}
	defer l.limiter.Release()

	emit(sink, EventTaskStart, map[string]interface{}{
		"run_id": runID, "node_id": node.ID, "agent_key": node.AgentKey,
	})

	task := &worker.Task{
		NodeID:           node.ID,
		Description:      node.Instruction,
		Context:          map[string]interface{}{"run_id": runID},
		DependentResults: deps,
		Model:            model,
	}

	actx.Status = StatusWorking
	actx.Reason("assigned node " + node.ID)

	var lastErr error
	allTimeouts := true
	for attempt := 1; attempt <= l.maxAttempts; attempt++ {
		budget := l.AttemptBudget(attempt)
		actx.Reason(fmt.Sprintf("attempt %d, budget %s", attempt, budget))

		attemptCtx, cancel := context.WithTimeout(ctx, budget)
		resp, err := w.Process(attemptCtx, task)
		cancel()

		if err == nil && resp != nil {
			actx.Status = StatusCompleted
			actx.Reason("completed on attempt " + fmt.Sprint(attempt))
			bus.Publish(node.AgentKey, TopicFinding, summarize(resp.Content), PriorityNormal)
			emit(sink, EventTaskComplete, map[string]interface{}{
				"run_id": runID, "node_id": node.ID, "agent_key": node.AgentKey,
				"attempts": attempt,
			})
			return resp, actx
		}
		if err == nil {
			err = errors.New("worker returned nil response")
		}
		lastErr = err
		if !isTimeout(err) {
			allTimeouts = false
		}

		if recoverable(err) && attempt < l.maxAttempts && ctx.Err() == nil {
			actx.Status = StatusRetrying
			actx.RetryCount++
			actx.Reason("recoverable failure: " + err.Error())
			bus.Publish(node.AgentKey, TopicWarning,
				fmt.Sprintf("node %s attempt %d failed: %v", node.ID, attempt, err),
				PriorityHigh)
			emit(sink, EventTaskRetry, map[string]interface{}{
				"run_id": runID, "node_id": node.ID, "agent_key": node.AgentKey,
				"attempt": attempt, "error": err.Error(),
			})
			actx.Status = StatusWorking
			continue
		}
		break
	}

	actx.Status = StatusFailed
	actx.Reason("terminal failure: " + lastErr.Error())
	l.logger.Warn("node execution failed",
		zap.String("node", node.ID),
		zap.String("worker", node.AgentKey),
		zap.Int("retries", actx.RetryCount),
		zap.Error(lastErr))

	if resp, subCtx, ok := l.replace(ctx, runID, node, task, actx, sink); ok {
		return resp, subCtx
	}

	resp := l.degraded(node, actx, lastErr, allTimeouts)
	emit(sink, EventTaskFail, map[string]interface{}{
		"run_id": runID, "node_id": node.ID, "agent_key": node.AgentKey,
		"error": lastErr.Error(),
	})
	return resp, actx
}

// replace hands the node to the first healthy substitute, carrying the
// failed context over by snapshot. The substitute runs exactly once.
func (l *Lifecycle) replace(ctx context.Context, runID string, node plan.TaskNode, task *worker.Task, failed *AgentContext, sink ProgressSink) (*worker.Response, *AgentContext, bool) {
	if ctx.Err() != nil {
		return nil, nil, false
	}
	sub, ok := l.registry.SubstituteFor(node.AgentKey)
	if !ok {
		return nil, nil, false
	}

	snap := failed.Snapshot()
	emit(sink, EventTaskReplace, map[string]interface{}{
		"run_id": runID, "node_id": node.ID,
		"failed_key": node.AgentKey, "substitute_key": sub.Key(),
	})
	l.logger.Info("replacing failed worker",
		zap.String("node", node.ID),
		zap.String("failed", node.AgentKey),
		zap.String("substitute", sub.Key()))

	subCtx := snap
	subCtx.AgentName = sub.Name()
	subCtx.InputContext["replaced_from"] = node.AgentKey
	subCtx.Status = StatusWorking
	subCtx.Reason("took over node " + node.ID + " from " + node.AgentKey)

	handoffTask := *task
	handoffTask.Description = handoffNote(node.Instruction, node.AgentKey, snap.LastReasoning(handoffEntries))

	attemptCtx, cancel := context.WithTimeout(ctx, l.AttemptBudget(1))
	resp, err := sub.Process(attemptCtx, &handoffTask)
	cancel()

	if err != nil || resp == nil {
		if err == nil {
			err = errors.New("substitute returned nil response")
		}
		subCtx.Status = StatusFailed
		subCtx.Reason("substitute failed: " + err.Error())
		l.logger.Warn("substitute failed",
			zap.String("node", node.ID),
			zap.String("substitute", sub.Key()),
			zap.Error(err))
		return nil, nil, false
	}

	subCtx.Status = StatusCompleted
	subCtx.Reason("completed as substitute")
	resp.SetFlag("replaced", true)
	if resp.Metadata == nil {
		resp.Metadata = make(map[string]interface{})
	}
	resp.Metadata["replaced_from"] = node.AgentKey
	emit(sink, EventTaskComplete, map[string]interface{}{
		"run_id": runID, "node_id": node.ID, "agent_key": sub.Key(),
		"replaced_from": node.AgentKey,
	})
	return resp, subCtx, true
}

// degraded builds the terminal failure response: an explicit explanation
// of what happened and what to do next, never a fabricated answer.
func (l *Lifecycle) degraded(node plan.TaskNode, actx *AgentContext, cause error, timedOut bool) *worker.Response {
	what := "执行失败"
	if timedOut {
		what = "执行超时"
	}
	content := fmt.Sprintf(
		"节点 %s（工作者 %s）%s，共尝试 %d 次，最后错误: %v。该节点未能产出结论；"+
			"后续结果不包含此部分。建议稍后重试，或将此节点交由人工处理。",
		node.ID, node.AgentKey, what, actx.RetryCount+1, cause)

	resp := &worker.Response{
		AgentName: node.AgentKey,
		Content:   content,
		Metadata:  map[string]interface{}{"degraded": true},
	}
	if timedOut {
		resp.SetFlag("timeout", true)
	}
	return resp
}

// handoffNote augments the original instruction with the failed
// attempt's trailing reasoning so the substitute does not start blind.
func handoffNote(instruction, failedKey string, reasoning []string) string {
	var buf strings.Builder
	buf.WriteString(instruction)
	fmt.Fprintf(&buf, "\n\n[接管说明] 原工作者 %s 执行失败，由你接管。其最后的执行记录:\n", failedKey)
	for _, r := range reasoning {
		buf.WriteString("- " + r + "\n")
	}
	buf.WriteString("请在其基础上独立完成任务，不要重复失败的路径。")
	return buf.String()
}

func recoverable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	for _, p := range recoverablePatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out") ||
		strings.Contains(msg, "deadline exceeded")
}

func summarize(s string) string {
	const max = 280
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
