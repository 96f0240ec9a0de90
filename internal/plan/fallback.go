package plan

import (
	"strings"

	"github.com/nidhogg/arbiter/internal/worker"
)

// fallbackEntry maps trigger words to the worker that should lead the
// fallback plan, with an optional follow-up reviewer node.
type fallbackEntry struct {
	triggers []string
	lead     string
	follow   string
}

// fallbackTable is consulted in order when generative planning fails.
// The word list is advisory, not a contract; the mechanism (ordered
// keyword table, one or two nodes, never empty) is what matters.
var fallbackTable = []fallbackEntry{
	{triggers: []string{"合同", "条款", "contract", "clause"}, lead: worker.KeyContractReviewer, follow: worker.KeyRiskAssessor},
	{triggers: []string{"风险", "risk"}, lead: worker.KeyRiskAssessor},
	{triggers: []string{"法规", "法条", "判例", "检索", "research", "statute"}, lead: worker.KeyLegalResearcher},
	{triggers: []string{"起草", "拟定", "draft"}, lead: worker.KeyDocumentDrafter, follow: worker.KeyContractReviewer},
	{triggers: []string{"案件", "纠纷", "诉讼", "case", "lawsuit"}, lead: worker.KeyCaseAnalyst, follow: worker.KeyRiskAssessor},
	{triggers: []string{"合规", "compliance"}, lead: worker.KeyComplianceChecker},
}

// fallbackPlan builds a deterministic one- or two-node plan by keyword
// matching against the description. Guaranteed non-empty: with no
// trigger hit the general counsel takes the task alone.
func fallbackPlan(description string) *Plan {
	lower := strings.ToLower(description)

	lead := worker.KeyGeneralCounsel
	follow := ""
	for _, e := range fallbackTable {
		if containsAny(lower, e.triggers) {
			lead = e.lead
			follow = e.follow
			break
		}
	}

	nodes := []TaskNode{
		{ID: "f1", AgentKey: lead, Instruction: description},
	}
	if follow != "" {
		nodes = append(nodes, TaskNode{
			ID:          "f2",
			AgentKey:    follow,
			Instruction: description + "\n\n基于前置节点的结论补充评估。",
			DependsOn:   []string{"f1"},
		})
	}
	return &Plan{
		Analysis:  "规划降级：采用规则兜底计划",
		Reasoning: "keyword fallback",
		Priority:  "normal",
		Nodes:     nodes,
	}
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, strings.ToLower(sub)) {
			return true
		}
	}
	return false
}
