package plan

import (
	"github.com/nidhogg/arbiter/internal/intent"
	"github.com/nidhogg/arbiter/internal/worker"
)

// templateNode is one static node shape: fixed worker and edges, with
// an optional instruction suffix appended to the raw task description.
type templateNode struct {
	id        string
	agentKey  string
	suffix    string
	dependsOn []string
}

// template is a fixed plan shape registered for one intent. Instantiation
// makes zero model calls.
type template struct {
	analysis string
	priority string
	nodes    []templateNode
}

func (t template) instantiate(description string) *Plan {
	nodes := make([]TaskNode, len(t.nodes))
	for i, tn := range t.nodes {
		instruction := description
		if tn.suffix != "" {
			instruction += "\n\n" + tn.suffix
		}
		nodes[i] = TaskNode{
			ID:          tn.id,
			AgentKey:    tn.agentKey,
			Instruction: instruction,
			DependsOn:   append([]string(nil), tn.dependsOn...),
		}
	}
	return &Plan{
		Analysis:  t.analysis,
		Reasoning: "template plan",
		Priority:  t.priority,
		Nodes:     nodes,
	}
}

// defaultTemplates maps well-known intents to fixed plan shapes.
func defaultTemplates() map[intent.Intent]template {
	return map[intent.Intent]template{
		intent.ContractReview: {
			analysis: "合同审查：先逐条审查，再基于审查结论评估风险",
			priority: "high",
			nodes: []templateNode{
				{id: "t1", agentKey: worker.KeyContractReviewer},
				{id: "t2", agentKey: worker.KeyRiskAssessor,
					suffix:    "基于前置审查结论，评估主要法律与商业风险并分级。",
					dependsOn: []string{"t1"}},
			},
		},
		intent.RiskAssessment: {
			analysis: "风险评估：单节点直接评估",
			priority: "normal",
			nodes: []templateNode{
				{id: "t1", agentKey: worker.KeyRiskAssessor},
			},
		},
		intent.LegalResearch: {
			analysis: "法律检索：单节点检索法规与类案",
			priority: "normal",
			nodes: []templateNode{
				{id: "t1", agentKey: worker.KeyLegalResearcher},
			},
		},
		intent.DocumentDraft: {
			analysis: "文书起草：先起草，再交叉审查",
			priority: "normal",
			nodes: []templateNode{
				{id: "t1", agentKey: worker.KeyDocumentDrafter},
				{id: "t2", agentKey: worker.KeyContractReviewer,
					suffix:    "审查前置节点产出的草稿，指出缺陷并给出修订意见。",
					dependsOn: []string{"t1"}},
			},
		},
		intent.CaseAnalysis: {
			analysis: "案情分析：先梳理案情，再评估风险敞口",
			priority: "high",
			nodes: []templateNode{
				{id: "t1", agentKey: worker.KeyCaseAnalyst},
				{id: "t2", agentKey: worker.KeyRiskAssessor,
					suffix:    "基于案情分析结论评估诉讼风险。",
					dependsOn: []string{"t1"}},
			},
		},
		intent.ComplianceCheck: {
			analysis: "合规核查：单节点逐项比对",
			priority: "normal",
			nodes: []templateNode{
				{id: "t1", agentKey: worker.KeyComplianceChecker},
			},
		},
		intent.Consultation: {
			analysis: "法律咨询：综合顾问直接答复",
			priority: "normal",
			nodes: []templateNode{
				{id: "t1", agentKey: worker.KeyGeneralCounsel},
			},
		},
	}
}
