package intent

import "strings"

// rule is one ordered entry of the keyword table. The first rule with at
// least one keyword hit wins; extra hits boost confidence.
type rule struct {
	keywords   []string
	intent     Intent
	confidence float64
}

// defaultRules is ordered from most to least specific.
func defaultRules() []rule {
	return []rule{
		{
			keywords:   []string{"审查合同", "合同审查", "审核合同", "合同条款", "review contract", "contract review", "contract clause"},
			intent:     ContractReview,
			confidence: 0.92,
		},
		{
			keywords:   []string{"风险评估", "风险分析", "有什么风险", "risk assessment", "assess risk", "risk analysis"},
			intent:     RiskAssessment,
			confidence: 0.9,
		},
		{
			keywords:   []string{"法律检索", "查法条", "相关法规", "判例", "case law", "legal research", "statute"},
			intent:     LegalResearch,
			confidence: 0.88,
		},
		{
			keywords:   []string{"起草", "拟一份", "写一份合同", "draft", "drafting"},
			intent:     DocumentDraft,
			confidence: 0.87,
		},
		{
			keywords:   []string{"案情分析", "争议焦点", "分析案件", "case analysis", "dispute"},
			intent:     CaseAnalysis,
			confidence: 0.87,
		},
		{
			keywords:   []string{"合规", "合规审查", "compliance"},
			intent:     ComplianceCheck,
			confidence: 0.86,
		},
		{
			keywords:   []string{"咨询", "请问", "是否合法", "能不能", "consult", "is it legal"},
			intent:     Consultation,
			confidence: 0.78,
		},
	}
}

const (
	perKeywordBoost = 0.05
	maxBoost        = 0.08
	maxConfidence   = 0.99
	// ruleShortCircuit: rule hits at or above this skip the generative tier.
	ruleShortCircuit = 0.8
)

// matchRules runs the ordered keyword table against normalized text.
// Returns the winning classification and true on any hit.
func matchRules(normalized string, rules []rule) (Classification, bool) {
	for _, r := range rules {
		var hits int
		var first string
		for _, kw := range r.keywords {
			if strings.Contains(normalized, strings.ToLower(kw)) {
				hits++
				if first == "" {
					first = kw
				}
			}
		}
		if hits == 0 {
			continue
		}
		boost := perKeywordBoost * float64(hits-1)
		if boost > maxBoost {
			boost = maxBoost
		}
		conf := r.confidence + boost
		if conf > maxConfidence {
			conf = maxConfidence
		}
		return Classification{
			Intent:     r.intent,
			Confidence: conf,
			Reasoning:  "keyword match: " + first,
			Source:     "rule",
		}, true
	}
	return Classification{}, false
}
