package intent

// Intent is one of the closed set of task categories the planner knows
// how to handle. Complex is the catch-all for anything that needs a
// generatively-built plan.
type Intent string

const (
	ContractReview  Intent = "contract_review"
	RiskAssessment  Intent = "risk_assessment"
	LegalResearch   Intent = "legal_research"
	DocumentDraft   Intent = "document_draft"
	CaseAnalysis    Intent = "case_analysis"
	ComplianceCheck Intent = "compliance_check"
	Consultation    Intent = "consultation"
	Complex         Intent = "complex"
)

// All lists every recognized intent, catch-all last.
func All() []Intent {
	return []Intent{
		ContractReview, RiskAssessment, LegalResearch, DocumentDraft,
		CaseAnalysis, ComplianceCheck, Consultation, Complex,
	}
}

// Valid reports whether s names a known intent.
func Valid(s string) bool {
	for _, it := range All() {
		if string(it) == s {
			return true
		}
	}
	return false
}

// Classification is the outcome of intent resolution.
type Classification struct {
	Intent     Intent  `json:"intent"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
	Source     string  `json:"source"` // "rule", "cache" or "generative"
}
