package plan

import (
	"strings"

	"github.com/nidhogg/arbiter/internal/intent"
)

// Depth grades how elaborate the final response should be.
type Depth string

const (
	DepthBrief    Depth = "brief"
	DepthStandard Depth = "standard"
	DepthDeep     Depth = "deep"
)

// Directive is advisory interaction-shaping metadata returned alongside
// a plan. It influences how downstream surfaces render the result and
// never affects scheduling.
type Directive struct {
	Depth          Depth  `json:"depth"`
	IncludeCaveats bool   `json:"include_caveats"`
	Reason         string `json:"reason"`
}

// ShapingInput carries the caller-visible signals the directive is
// computed from.
type ShapingInput struct {
	Intent         intent.Intent
	Description    string
	TurnCount      int
	HasAttachments bool
	ModeHint       string // "", "brief" or "deep"
}

var deepMarkers = []string{"详细", "逐条", "全面", "深入", "detailed", "thorough", "comprehensive"}
var briefMarkers = []string{"简单", "简要", "一句话", "briefly", "summary", "tl;dr"}

// Shape computes the directive from pure rules: explicit mode hint
// first, then text markers, then intent and context signals.
func Shape(in ShapingInput) Directive {
	switch in.ModeHint {
	case "brief":
		return Directive{Depth: DepthBrief, Reason: "caller requested brief mode"}
	case "deep":
		return Directive{Depth: DepthDeep, IncludeCaveats: true, Reason: "caller requested deep mode"}
	}

	lower := strings.ToLower(in.Description)
	if containsAny(lower, briefMarkers) {
		return Directive{Depth: DepthBrief, Reason: "brief marker in request"}
	}
	if containsAny(lower, deepMarkers) || in.HasAttachments {
		return Directive{Depth: DepthDeep, IncludeCaveats: true, Reason: "deep marker or attachments present"}
	}

	// Long requests and high-stakes intents default deeper; repeated
	// turns on the same matter trend briefer.
	runes := len([]rune(in.Description))
	switch {
	case in.TurnCount > 4 && runes < 200:
		return Directive{Depth: DepthBrief, Reason: "late-turn short follow-up"}
	case runes > 600,
		in.Intent == intent.ContractReview,
		in.Intent == intent.CaseAnalysis,
		in.Intent == intent.Complex:
		return Directive{Depth: DepthDeep, IncludeCaveats: true, Reason: "high-stakes or long request"}
	default:
		return Directive{Depth: DepthStandard, IncludeCaveats: true, Reason: "default"}
	}
}
