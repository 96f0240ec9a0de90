package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/nidhogg/arbiter/internal/provider"
	"go.uber.org/zap"
)

// consensusRouteKey is the provider-router binding for arbitration calls.
const consensusRouteKey = "consensus_arbiter"

// Position is one side of a disagreement point.
type Position struct {
	Agent     string  `json:"agent"`
	Stance    string  `json:"stance"`
	Rationale string  `json:"rationale"`
	Score     float64 `json:"score"`
}

// DisagreementPoint is one contested topic across worker outputs.
type DisagreementPoint struct {
	Topic     string     `json:"topic"`
	Positions []Position `json:"positions"`
}

// ConsensusArtifact reconciles divergent worker outputs.
type ConsensusArtifact struct {
	Points     []DisagreementPoint `json:"points,omitempty"`
	Winner     string              `json:"winner,omitempty"`
	Synthesis  string              `json:"synthesis"`
	Confidence float64             `json:"confidence"`
	Risk       string              `json:"risk"`
	Reached    bool                `json:"consensus_reached"`
}

// ChatRouter is the slice of the provider router the arbiter needs.
type ChatRouter interface {
	Route(ctx context.Context, key string, req *provider.ChatRequest) (*provider.ChatResponse, error)
}

// Consensus runs the arbitration stage over a run's successful results.
type Consensus struct {
	chat   ChatRouter
	budget time.Duration
	logger *zap.Logger
}

// NewConsensus creates the arbitration stage. chat may be nil, in which
// case Evaluate always reports no artifact.
func NewConsensus(chat ChatRouter, budget time.Duration, logger *zap.Logger) *Consensus {
	if budget <= 0 {
		budget = 60 * time.Second
	}
	return &Consensus{chat: chat, budget: budget, logger: logger}
}

// Evaluate produces one arbitration artifact when at least two results
// are free of error/degraded flags; otherwise it returns nil to skip
// the stage. Call or parse failure also returns nil so consensus never
// blocks final aggregation.
func (c *Consensus) Evaluate(ctx context.Context, description string, results []NodeResult) *ConsensusArtifact {
	var clean []NodeResult
	for _, r := range results {
		if r.Response.Succeeded() {
			clean = append(clean, r)
		}
	}
	if len(clean) < 2 {
		return nil
	}
	if c.chat == nil {
		return nil
	}

	callCtx, cancel := context.WithTimeout(ctx, c.budget)
	defer cancel()

	req := &provider.ChatRequest{
		Messages:  []provider.Message{{Role: "user", Content: c.buildPrompt(description, clean)}},
		MaxTokens: 2048,
	}
	resp, err := c.chat.Route(callCtx, consensusRouteKey, req)
	if err != nil {
		c.logger.Warn("consensus call failed", zap.Error(err))
		return nil
	}

	artifact, ok := parseArtifact(resp.Content)
	if !ok {
		c.logger.Warn("unparseable consensus response")
		return nil
	}
	return artifact
}

func (c *Consensus) buildPrompt(description string, results []NodeResult) string {
	var buf strings.Builder
	buf.WriteString("你是仲裁者。多个专家就同一任务给出了结论，请找出分歧点并仲裁。\n\n")
	fmt.Fprintf(&buf, "任务: %s\n\n", description)
	for _, r := range results {
		fmt.Fprintf(&buf, "[%s 的结论]\n%s\n\n", r.Response.AgentName, r.Response.Content)
	}
	buf.WriteString(`以JSON格式回复:
{"points":[{"topic":"...","positions":[{"agent":"...","stance":"...","rationale":"...","score":0.0}]}],
"winner":"同意的一方，无明确胜者则留空","synthesis":"综合结论",
"confidence":0.0,"risk":"high|medium|low","consensus_reached":true}

若各方结论一致，points 为空数组且 consensus_reached 为 true。分数无法区分时不要指定 winner，给出 synthesis。`)
	return buf.String()
}

var artifactObjectRe = regexp.MustCompile(`(?s)\{.*\}`)

func parseArtifact(content string) (*ConsensusArtifact, bool) {
	var a ConsensusArtifact
	try := func(s string) bool {
		return json.Unmarshal([]byte(s), &a) == nil && a.Synthesis != ""
	}
	if !try(content) {
		m := artifactObjectRe.FindString(content)
		if m == "" || !try(m) {
			return nil, false
		}
	}
	if a.Confidence < 0 || a.Confidence > 1 {
		a.Confidence = 0.5
	}
	return &a, true
}
