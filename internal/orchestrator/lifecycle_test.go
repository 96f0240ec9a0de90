package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nidhogg/arbiter/internal/plan"
	"github.com/nidhogg/arbiter/internal/worker"
	"go.uber.org/zap"
)

// stubWorker is a scriptable worker for lifecycle and scheduler tests.
type stubWorker struct {
	key  string
	name string
	fn   func(ctx context.Context, task *worker.Task) (*worker.Response, error)

	mu    sync.Mutex
	calls int
	tasks []*worker.Task
}

func (s *stubWorker) Key() string  { return s.key }
func (s *stubWorker) Name() string { return s.name }

func (s *stubWorker) Process(ctx context.Context, task *worker.Task) (*worker.Response, error) {
	s.mu.Lock()
	s.calls++
	s.tasks = append(s.tasks, task)
	s.mu.Unlock()
	if s.fn != nil {
		return s.fn(ctx, task)
	}
	return &worker.Response{AgentName: s.name, Content: "ok from " + s.key}, nil
}

func (s *stubWorker) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *stubWorker) lastTask() *worker.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.tasks) == 0 {
		return nil
	}
	return s.tasks[len(s.tasks)-1]
}

func newTestLifecycle(t *testing.T, reg *worker.Registry) *Lifecycle {
	t.Helper()
	return NewLifecycle(reg, NewLimiter(4), 50*time.Millisecond, 3, zap.NewNop())
}

func node(id, agentKey string, deps ...string) plan.TaskNode {
	return plan.TaskNode{ID: id, AgentKey: agentKey, Instruction: "审查采购合同", DependsOn: deps}
}

func TestAttemptBudgetGrows(t *testing.T) {
	l := NewLifecycle(worker.NewRegistry(zap.NewNop()), NewLimiter(1), 10*time.Second, 3, zap.NewNop())

	prev := time.Duration(0)
	for attempt := 1; attempt <= 3; attempt++ {
		budget := l.AttemptBudget(attempt)
		if budget <= prev {
			t.Errorf("attempt %d budget %s not greater than previous %s", attempt, budget, prev)
		}
		prev = budget
	}
	if got, want := l.AttemptBudget(2), 15*time.Second; got != want {
		t.Errorf("attempt 2 budget = %s, want %s", got, want)
	}
}

func TestExecuteNodeSuccessFirstAttempt(t *testing.T) {
	reg := worker.NewRegistry(zap.NewNop())
	w := &stubWorker{key: "contract_reviewer", name: "合同审查员"}
	reg.Register(w, "reviews contracts")

	l := newTestLifecycle(t, reg)
	bus := NewMessageBus(zap.NewNop())

	resp, actx := l.ExecuteNode(context.Background(), "run1", node("t1", "contract_reviewer"), nil, nil, bus, nil)

	if !resp.Succeeded() {
		t.Fatalf("expected success, got metadata %v", resp.Metadata)
	}
	if w.callCount() != 1 {
		t.Errorf("got %d calls, want 1", w.callCount())
	}
	if actx.Status != StatusCompleted {
		t.Errorf("got status %s, want %s", actx.Status, StatusCompleted)
	}
	if bus.Len() != 1 {
		t.Errorf("success should publish one finding, bus has %d", bus.Len())
	}
}

func TestExecuteNodeRetriesRecoverableError(t *testing.T) {
	reg := worker.NewRegistry(zap.NewNop())
	w := &stubWorker{key: "risk_assessor", name: "风险评估员"}
	w.fn = func(ctx context.Context, task *worker.Task) (*worker.Response, error) {
		if w.callCount() < 3 {
			return nil, errors.New("upstream rate limit exceeded")
		}
		return &worker.Response{AgentName: w.name, Content: "风险可控"}, nil
	}
	reg.Register(w, "assesses risk")

	l := newTestLifecycle(t, reg)
	bus := NewMessageBus(zap.NewNop())

	resp, actx := l.ExecuteNode(context.Background(), "run1", node("t1", "risk_assessor"), nil, nil, bus, nil)

	if !resp.Succeeded() {
		t.Fatalf("expected eventual success, got %v", resp.Metadata)
	}
	if w.callCount() != 3 {
		t.Errorf("got %d calls, want 3", w.callCount())
	}
	if actx.RetryCount != 2 {
		t.Errorf("got retry count %d, want 2", actx.RetryCount)
	}
	if len(bus.Query(TopicWarning, "", time.Time{})) != 2 {
		t.Errorf("each retry should publish a warning")
	}
}

func TestExecuteNodeNonRecoverableNoRetry(t *testing.T) {
	reg := worker.NewRegistry(zap.NewNop())
	w := &stubWorker{key: "legal_researcher", name: "法律检索员"}
	w.fn = func(ctx context.Context, task *worker.Task) (*worker.Response, error) {
		return nil, errors.New("invalid api key")
	}
	reg.Register(w, "researches law")

	l := newTestLifecycle(t, reg)
	resp, _ := l.ExecuteNode(context.Background(), "run1", node("t1", "legal_researcher"), nil, nil, NewMessageBus(zap.NewNop()), nil)

	if w.callCount() != 1 {
		t.Errorf("non-recoverable error must not retry, got %d calls", w.callCount())
	}
	if !resp.Flag("degraded") {
		t.Error("terminal failure without substitute must degrade")
	}
}

func TestExecuteNodeReplacement(t *testing.T) {
	reg := worker.NewRegistry(zap.NewNop())
	failing := &stubWorker{key: "contract_reviewer", name: "合同审查员"}
	failing.fn = func(ctx context.Context, task *worker.Task) (*worker.Response, error) {
		return nil, errors.New("connection refused")
	}
	sub := &stubWorker{key: "general_counsel", name: "法律顾问"}
	reg.Register(failing, "reviews contracts")
	reg.Register(sub, "general counsel")
	if err := reg.SetSubstitutes(map[string][]string{"contract_reviewer": {"general_counsel"}}); err != nil {
		t.Fatalf("SetSubstitutes: %v", err)
	}

	l := newTestLifecycle(t, reg)
	resp, actx := l.ExecuteNode(context.Background(), "run1", node("t1", "contract_reviewer"), nil, nil, NewMessageBus(zap.NewNop()), nil)

	if !resp.Succeeded() {
		t.Fatalf("substitute succeeded, response should too: %v", resp.Metadata)
	}
	if resp.AgentName != "法律顾问" {
		t.Errorf("got agent %q, want substitute", resp.AgentName)
	}
	if !resp.Flag("replaced") {
		t.Error("replacement result must carry the replaced flag")
	}
	if resp.Metadata["replaced_from"] != "contract_reviewer" {
		t.Errorf("got replaced_from %v", resp.Metadata["replaced_from"])
	}
	if sub.callCount() != 1 {
		t.Errorf("substitute runs exactly once, got %d", sub.callCount())
	}
	if actx.AgentName != "法律顾问" {
		t.Errorf("returned context belongs to the substitute, got %q", actx.AgentName)
	}

	// The handoff instruction carries the failed attempt's trail.
	handoff := sub.lastTask()
	if handoff == nil || !strings.Contains(handoff.Description, "接管") {
		t.Error("substitute task should include the handoff note")
	}
	if !strings.Contains(handoff.Description, "contract_reviewer") {
		t.Error("handoff note should name the failed worker")
	}
}

func TestExecuteNodeDegradation(t *testing.T) {
	reg := worker.NewRegistry(zap.NewNop())
	w := &stubWorker{key: "case_analyst", name: "案件分析员"}
	w.fn = func(ctx context.Context, task *worker.Task) (*worker.Response, error) {
		return nil, errors.New("request timed out")
	}
	reg.Register(w, "analyses cases")

	l := newTestLifecycle(t, reg)
	resp, actx := l.ExecuteNode(context.Background(), "run1", node("t1", "case_analyst"), nil, nil, NewMessageBus(zap.NewNop()), nil)

	if resp == nil {
		t.Fatal("degradation must still return a response")
	}
	if !resp.Flag("degraded") || !resp.Flag("timeout") {
		t.Errorf("all-timeout failure should flag degraded+timeout, got %v", resp.Metadata)
	}
	if !strings.Contains(resp.Content, "超时") {
		t.Error("degraded content should state what happened")
	}
	if actx.Status != StatusFailed {
		t.Errorf("got status %s, want %s", actx.Status, StatusFailed)
	}
}

func TestExecuteNodeUnknownWorker(t *testing.T) {
	reg := worker.NewRegistry(zap.NewNop())
	l := newTestLifecycle(t, reg)

	resp, actx := l.ExecuteNode(context.Background(), "run1", node("t1", "nobody"), nil, nil, NewMessageBus(zap.NewNop()), nil)
	if !resp.Flag("degraded") {
		t.Error("unknown worker must degrade, never panic or error")
	}
	if actx.Status != StatusFailed {
		t.Errorf("got status %s, want %s", actx.Status, StatusFailed)
	}
}
