package worker

import (
	"context"
	"strings"
	"testing"

	"go.uber.org/zap"
)

type fakeWorker struct {
	key  string
	name string
}

func (f *fakeWorker) Key() string  { return f.key }
func (f *fakeWorker) Name() string { return f.name }
func (f *fakeWorker) Process(ctx context.Context, task *Task) (*Response, error) {
	return &Response{AgentName: f.name, Content: "done"}, nil
}

func newRegistryWith(t *testing.T, keys ...string) *Registry {
	t.Helper()
	reg := NewRegistry(zap.NewNop())
	for _, k := range keys {
		reg.Register(&fakeWorker{key: k, name: "worker " + k}, "handles "+k)
	}
	return reg
}

func TestRegistryGetAndKeys(t *testing.T) {
	reg := newRegistryWith(t, "b", "a", "c")

	if _, ok := reg.Get("a"); !ok {
		t.Error("registered worker not found")
	}
	if _, ok := reg.Get("nope"); ok {
		t.Error("unregistered key must miss")
	}

	keys := reg.Keys()
	if len(keys) != 3 || keys[0] != "a" || keys[2] != "c" {
		t.Errorf("got %v, want sorted [a b c]", keys)
	}
}

func TestRegistryCapabilities(t *testing.T) {
	reg := newRegistryWith(t, "contract_reviewer")

	caps := reg.Capabilities()
	if len(caps) != 1 {
		t.Fatalf("got %d capabilities", len(caps))
	}
	if caps[0].Description != "handles contract_reviewer" {
		t.Errorf("got description %q", caps[0].Description)
	}
}

func TestSetSubstitutesValidatesKeys(t *testing.T) {
	reg := newRegistryWith(t, "a", "b")

	if err := reg.SetSubstitutes(map[string][]string{"a": {"b"}}); err != nil {
		t.Fatalf("valid table rejected: %v", err)
	}
	if err := reg.SetSubstitutes(map[string][]string{"ghost": {"b"}}); err == nil {
		t.Error("unknown primary key must be rejected")
	}
	if err := reg.SetSubstitutes(map[string][]string{"a": {"ghost"}}); err == nil {
		t.Error("unknown candidate must be rejected")
	}
}

func TestSubstituteForSkipsUnhealthy(t *testing.T) {
	reg := newRegistryWith(t, "a", "b", "c")
	if err := reg.SetSubstitutes(map[string][]string{"a": {"b", "c"}}); err != nil {
		t.Fatal(err)
	}

	w, ok := reg.SubstituteFor("a")
	if !ok || w.Key() != "b" {
		t.Fatalf("got %v, want first candidate b", w)
	}

	reg.MarkUnhealthy("b")
	w, ok = reg.SubstituteFor("a")
	if !ok || w.Key() != "c" {
		t.Errorf("unhealthy candidate should be skipped, got %v", w)
	}

	reg.MarkUnhealthy("c")
	if _, ok := reg.SubstituteFor("a"); ok {
		t.Error("no healthy candidate, no substitute")
	}

	reg.MarkHealthy("b")
	if !reg.Healthy("b") {
		t.Error("health restore lost")
	}
	if w, ok := reg.SubstituteFor("a"); !ok || w.Key() != "b" {
		t.Error("restored candidate should be eligible again")
	}
}

func TestSubstituteForWithoutTable(t *testing.T) {
	reg := newRegistryWith(t, "a")
	if _, ok := reg.SubstituteFor("a"); ok {
		t.Error("no table entry means no substitute")
	}
}

func TestResponseFlags(t *testing.T) {
	r := &Response{AgentName: "a", Content: "x"}
	if !r.Succeeded() {
		t.Error("flagless response counts as success")
	}

	r.SetFlag("degraded", true)
	if r.Succeeded() {
		t.Error("degraded flag must fail Succeeded")
	}
	if !r.Flag("degraded") {
		t.Error("set flag not readable")
	}

	var nilResp *Response
	if nilResp.Succeeded() {
		t.Error("nil response is not a success")
	}
	if nilResp.Flag("anything") {
		t.Error("nil response has no flags")
	}
}

func TestDefaultSubstitutesCoversEveryBuiltin(t *testing.T) {
	table := DefaultSubstitutes()
	for _, p := range BuiltinPersonas() {
		candidates, ok := table[p.Key]
		if !ok || len(candidates) == 0 {
			t.Errorf("builtin %s has no substitutes", p.Key)
		}
		for _, c := range candidates {
			if c == p.Key {
				t.Errorf("%s lists itself as its own substitute", p.Key)
			}
		}
	}
}

func TestFormatDependentResults(t *testing.T) {
	if got := formatDependentResults(nil); got != "" {
		t.Errorf("no deps, no block, got %q", got)
	}

	deps := map[string]*Response{
		"t1": {AgentName: "合同审查员", Content: "第3条有单方解除权"},
		"t2": nil,
	}
	got := formatDependentResults(deps)
	if got == "" {
		t.Fatal("deps should render a block")
	}
	for _, want := range []string{"t1", "合同审查员", "第3条有单方解除权"} {
		if !strings.Contains(got, want) {
			t.Errorf("block lost %q: %q", want, got)
		}
	}
}
