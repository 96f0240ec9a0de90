package memory

import (
	"context"
	"testing"
	"time"

	"github.com/nidhogg/arbiter/internal/orchestrator"
	"github.com/nidhogg/arbiter/internal/plan"
	"github.com/testcontainers/testcontainers-go"
	tcpg "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"go.uber.org/zap"
)

// startRedis starts a Redis testcontainer and returns its URL.
func startRedis(t *testing.T, ctx context.Context) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	container, err := tcredis.Run(ctx, "redis:7-alpine")
	testcontainers.CleanupContainer(t, container)
	if err != nil {
		t.Skipf("docker unavailable: %v", err)
	}

	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("redis endpoint: %v", err)
	}
	return "redis://" + endpoint
}

// startPostgres starts a PostgreSQL testcontainer and returns its DSN.
func startPostgres(t *testing.T, ctx context.Context) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	container, err := tcpg.Run(ctx, "postgres:16-alpine",
		tcpg.WithDatabase("arbiter_test"),
		tcpg.WithUsername("test"),
		tcpg.WithPassword("test"),
		tcpg.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, container)
	if err != nil {
		t.Skipf("docker unavailable: %v", err)
	}

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("pg connection string: %v", err)
	}
	return dsn
}

func TestWorkingMemoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	url := startRedis(t, ctx)

	w, err := NewWorking(url, time.Hour, zap.NewNop())
	if err != nil {
		t.Fatalf("NewWorking: %v", err)
	}
	defer w.Close()

	runID := "run-working-test"

	snap := orchestrator.NewAgentContext("contract_reviewer", "合同审查员", "t1")
	snap.Reason("attempt 1")
	snap.Status = orchestrator.StatusCompleted
	if err := w.SaveSnapshot(ctx, runID, snap); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}
	other := orchestrator.NewAgentContext("risk_assessor", "风险评估员", "t2")
	if err := w.SaveSnapshot(ctx, runID, other); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}

	got, err := w.Snapshots(ctx, runID)
	if err != nil {
		t.Fatalf("Snapshots: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d snapshots, want 2", len(got))
	}
	if got["t1"].Status != orchestrator.StatusCompleted {
		t.Errorf("got status %s", got["t1"].Status)
	}
	if len(got["t1"].ReasoningChain) != 1 {
		t.Errorf("reasoning chain lost: %v", got["t1"].ReasoningChain)
	}

	if err := w.SetVar(ctx, runID, "matter_id", "M-2026-081"); err != nil {
		t.Fatalf("SetVar: %v", err)
	}
	var matter string
	if err := w.GetVar(ctx, runID, "matter_id", &matter); err != nil {
		t.Fatalf("GetVar: %v", err)
	}
	if matter != "M-2026-081" {
		t.Errorf("got %q", matter)
	}

	msgs := []*orchestrator.PoolMessage{
		{ID: "m1", Sender: "contract_reviewer", Topic: orchestrator.TopicFinding, Content: "first", Priority: orchestrator.PriorityNormal, Timestamp: time.Now()},
		{ID: "m2", Sender: "risk_assessor", Topic: orchestrator.TopicWarning, Content: "second", Priority: orchestrator.PriorityHigh, Timestamp: time.Now()},
	}
	if err := w.MirrorMessages(ctx, runID, msgs); err != nil {
		t.Fatalf("MirrorMessages: %v", err)
	}
	back, err := w.Messages(ctx, runID)
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	if len(back) != 2 || back[0].ID != "m1" || back[1].ID != "m2" {
		t.Errorf("mirror lost order: %v", back)
	}

	// Re-mirroring replaces, not appends.
	if err := w.MirrorMessages(ctx, runID, msgs[:1]); err != nil {
		t.Fatalf("MirrorMessages: %v", err)
	}
	back, _ = w.Messages(ctx, runID)
	if len(back) != 1 {
		t.Errorf("got %d messages after re-mirror, want 1", len(back))
	}
}

func TestEpisodicSaveAndUpdate(t *testing.T) {
	ctx := context.Background()
	dsn := startPostgres(t, ctx)

	// No vector store wired: similarity recall is disabled but
	// persistence still works.
	e, err := NewEpisodic(ctx, dsn, nil, nil, zap.NewNop())
	if err != nil {
		t.Fatalf("NewEpisodic: %v", err)
	}
	defer e.Close()

	rec := &orchestrator.RunRecord{
		RunID:       "8400ae8e-5a54-4c43-ba08-3041b1f4d26e",
		Description: "审查采购合同",
		Intent:      "contract_review",
		Plan: &plan.Plan{Nodes: []plan.TaskNode{
			{ID: "t1", AgentKey: "contract_reviewer", Instruction: "审查"},
			{ID: "t2", AgentKey: "risk_assessor", Instruction: "评估", DependsOn: []string{"t1"}},
		}},
		Summary:         "两处高危条款",
		Outcome:         "success",
		Rating:          1.0,
		ReasoningChains: map[string][]string{"t1": {"attempt 1"}},
		RetryCounts:     map[string]int{"t1": 0},
	}

	id, err := e.SaveRun(ctx, rec)
	if err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
	if id != rec.RunID {
		t.Errorf("got id %q, want the run id", id)
	}

	// Saving the same run again upserts instead of failing.
	rec.Outcome = "partial"
	if _, err := e.SaveRun(ctx, rec); err != nil {
		t.Fatalf("SaveRun upsert: %v", err)
	}

	var count int
	if err := e.db.QueryRow(ctx, "SELECT count(*) FROM episodic_runs").Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Errorf("got %d rows, want 1", count)
	}
	var outcome string
	if err := e.db.QueryRow(ctx, "SELECT outcome FROM episodic_runs WHERE id = $1", rec.RunID).Scan(&outcome); err != nil {
		t.Fatalf("select outcome: %v", err)
	}
	if outcome != "partial" {
		t.Errorf("got outcome %q, want partial", outcome)
	}

	// Without vectors, recall is silently empty.
	cases, err := e.SimilarCases(ctx, "采购合同", 2)
	if err != nil {
		t.Fatalf("SimilarCases: %v", err)
	}
	if len(cases) != 0 {
		t.Errorf("got %d cases, want none without a vector store", len(cases))
	}
}

func TestBridgeWithoutTiers(t *testing.T) {
	b := NewBridge(nil, nil, nil, zap.NewNop())
	ctx := context.Background()

	if cases, err := b.SimilarCases(ctx, "anything", 2); err != nil || cases != nil {
		t.Errorf("got (%v, %v), want nil, nil", cases, err)
	}
	if err := b.MirrorMessages(ctx, "run", nil); err != nil {
		t.Errorf("MirrorMessages should no-op: %v", err)
	}
	if err := b.SaveSnapshot(ctx, "run", nil); err != nil {
		t.Errorf("SaveSnapshot should no-op: %v", err)
	}
	if _, err := b.SaveRun(ctx, &orchestrator.RunRecord{}); err == nil {
		t.Error("SaveRun without an episodic tier must report unavailable")
	}
	b.Close(ctx)
}

func TestPlanSummary(t *testing.T) {
	p := &plan.Plan{Nodes: []plan.TaskNode{
		{ID: "t1", AgentKey: "contract_reviewer"},
		{ID: "t2", AgentKey: "risk_assessor"},
	}}
	if got := planSummary(p); got != "t1:contract_reviewer -> t2:risk_assessor" {
		t.Errorf("got %q", got)
	}
	if got := planSummary(nil); got != "" {
		t.Errorf("nil plan renders empty, got %q", got)
	}
}
