package orchestrator

import "testing"

func TestAgentContextReasoningTrail(t *testing.T) {
	actx := NewAgentContext("contract_reviewer", "合同审查员", "t1")
	for _, e := range []string{"one", "two", "three", "four"} {
		actx.Reason(e)
	}

	last := actx.LastReasoning(3)
	if len(last) != 3 {
		t.Fatalf("got %d entries, want 3", len(last))
	}
	if last[0] != "two" || last[2] != "four" {
		t.Errorf("got %v, want trailing entries oldest first", last)
	}
	if got := actx.LastReasoning(10); len(got) != 4 {
		t.Errorf("over-asking returns the whole chain, got %d", len(got))
	}
	if got := actx.LastReasoning(0); got != nil {
		t.Errorf("n=0 returns nil, got %v", got)
	}
}

func TestAgentContextSnapshotIsolation(t *testing.T) {
	actx := NewAgentContext("contract_reviewer", "合同审查员", "t1")
	actx.Reason("original")
	actx.LocalState["draft"] = "v1"

	snap := actx.Snapshot()
	snap.Reason("snapshot-only")
	snap.LocalState["draft"] = "v2"
	snap.InputContext["replaced_from"] = "contract_reviewer"

	if len(actx.ReasoningChain) != 1 {
		t.Errorf("mutating the snapshot leaked into the original chain: %v", actx.ReasoningChain)
	}
	if actx.LocalState["draft"] != "v1" {
		t.Errorf("got %v, want original local state untouched", actx.LocalState["draft"])
	}
	if _, ok := actx.InputContext["replaced_from"]; ok {
		t.Error("snapshot input context must not alias the original")
	}
	if snap.AgentID != actx.AgentID {
		t.Error("snapshot keeps the identity fields")
	}
}
