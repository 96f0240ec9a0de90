package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nidhogg/arbiter/internal/config"
	"github.com/nidhogg/arbiter/internal/intent"
	"github.com/nidhogg/arbiter/internal/orchestrator"
	"github.com/nidhogg/arbiter/internal/plan"
	"github.com/nidhogg/arbiter/internal/worker"
	"go.uber.org/zap"
)

type echoWorker struct{ key, name string }

func (e *echoWorker) Key() string  { return e.key }
func (e *echoWorker) Name() string { return e.name }
func (e *echoWorker) Process(ctx context.Context, task *worker.Task) (*worker.Response, error) {
	return &worker.Response{AgentName: e.name, Content: "处理完成: " + task.Description}, nil
}

// newTestHandler wires a handler with stub workers and no memory tiers.
func newTestHandler(t *testing.T) (*Handler, http.Handler) {
	t.Helper()
	logger := zap.NewNop()

	reg := worker.NewRegistry(logger)
	for _, key := range []string{
		worker.KeyContractReviewer, worker.KeyRiskAssessor, worker.KeyLegalResearcher,
		worker.KeyDocumentDrafter, worker.KeyCaseAnalyst, worker.KeyComplianceChecker,
		worker.KeyGeneralCounsel,
	} {
		reg.Register(&echoWorker{key: key, name: key}, "")
	}

	intents := intent.NewRouter(nil, logger)
	planner := plan.NewGenerator(reg, nil, logger)
	orch := orchestrator.New(config.OrchestratorConfig{}, reg, intents, planner, nil, nil, logger)

	h := NewHandler(orch, reg, logger)
	return h, h.Router()
}

func postJSON(t *testing.T, ts *httptest.Server, path string, body interface{}) *http.Response {
	t.Helper()
	b, _ := json.Marshal(body)
	resp, err := http.Post(ts.URL+path, "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return resp
}

func getJSON(t *testing.T, ts *httptest.Server, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(ts.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

// --- Tests ---

func TestHealthCheck(t *testing.T) {
	_, router := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	resp := getJSON(t, ts, "/api/health")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("got status %d", resp.StatusCode)
	}
	var body map[string]string
	decodeJSON(t, resp, &body)
	if body["status"] != "ok" {
		t.Errorf("got %v", body)
	}
}

func TestListWorkers(t *testing.T) {
	_, router := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	resp := getJSON(t, ts, "/api/workers")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("got status %d", resp.StatusCode)
	}
	var caps []worker.Capability
	decodeJSON(t, resp, &caps)
	if len(caps) != 7 {
		t.Errorf("got %d workers, want 7", len(caps))
	}
}

func TestRunTask(t *testing.T) {
	_, router := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	resp := postJSON(t, ts, "/api/tasks", map[string]interface{}{
		"description": "请帮我审查合同",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("got status %d", resp.StatusCode)
	}
	var result orchestrator.TaskResult
	decodeJSON(t, resp, &result)
	if result.RunID == "" {
		t.Fatal("result missing run id")
	}
	if len(result.Results) == 0 {
		t.Error("run produced no results")
	}
	if result.Summary == "" {
		t.Error("run produced no summary")
	}

	// The finished run stays queryable.
	got := getJSON(t, ts, "/api/tasks/"+result.RunID)
	if got.StatusCode != http.StatusOK {
		t.Errorf("GET run: got status %d", got.StatusCode)
	}
	got.Body.Close()

	events := getJSON(t, ts, "/api/tasks/"+result.RunID+"/events")
	if events.StatusCode != http.StatusOK {
		t.Fatalf("GET events: got status %d", events.StatusCode)
	}
	var evs []ProgressEvent
	decodeJSON(t, events, &evs)
	if len(evs) == 0 {
		t.Error("run should record progress events")
	}
}

func TestRunTaskValidation(t *testing.T) {
	_, router := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	resp := postJSON(t, ts, "/api/tasks", map[string]interface{}{})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty description: got status %d", resp.StatusCode)
	}
	resp.Body.Close()

	raw, err := http.Post(ts.URL+"/api/tasks", "application/json", bytes.NewReader([]byte("not json")))
	if err != nil {
		t.Fatal(err)
	}
	if raw.StatusCode != http.StatusBadRequest {
		t.Errorf("invalid body: got status %d", raw.StatusCode)
	}
	raw.Body.Close()
}

func TestGetUnknownRun(t *testing.T) {
	_, router := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	resp := getJSON(t, ts, "/api/tasks/no-such-run")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("got status %d, want 404", resp.StatusCode)
	}
	resp.Body.Close()
}
