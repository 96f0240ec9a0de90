package plan

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/nidhogg/arbiter/internal/intent"
	"github.com/nidhogg/arbiter/internal/provider"
	"github.com/nidhogg/arbiter/internal/worker"
	"go.uber.org/zap"
)

// routeKey is the provider-router binding used for plan generation calls.
const routeKey = "plan_generator"

// ChatRouter is the narrow slice of the provider router the generative
// mode needs. Satisfied by *provider.Router.
type ChatRouter interface {
	Route(ctx context.Context, key string, req *provider.ChatRequest) (*provider.ChatResponse, error)
}

// CapabilitySource lists available workers. Satisfied by *worker.Registry.
type CapabilitySource interface {
	Capabilities() []worker.Capability
}

// PriorCase is a similar historical case injected into the generative
// planning prompt.
type PriorCase struct {
	Description string  `json:"description"`
	PlanSummary string  `json:"plan_summary"`
	Outcome     string  `json:"outcome"`
	Rating      float64 `json:"rating"`
}

// Generator produces plans: deterministically from templates for
// well-known intents, generatively (one model call) for the catch-all,
// with a keyword fallback that guarantees a non-empty plan.
type Generator struct {
	templates map[intent.Intent]template
	workers   CapabilitySource
	chat      ChatRouter
	logger    *zap.Logger
}

// NewGenerator creates a plan generator. chat may be nil; Complex
// intents then go straight to the fallback plan.
func NewGenerator(workers CapabilitySource, chat ChatRouter, logger *zap.Logger) *Generator {
	return &Generator{
		templates: defaultTemplates(),
		workers:   workers,
		chat:      chat,
		logger:    logger,
	}
}

// Generate builds a plan for the classified task. history carries up to
// two similar prior cases from episodic memory; extra entries are
// dropped. The returned plan is always non-empty and structurally valid.
func (g *Generator) Generate(ctx context.Context, description string, cls intent.Classification, history []PriorCase) *Plan {
	if t, ok := g.templates[cls.Intent]; ok {
		return t.instantiate(description)
	}

	if len(history) > 2 {
		history = history[:2]
	}
	p := g.generative(ctx, description, history)
	if p == nil {
		return fallbackPlan(description)
	}
	return p
}

// generative makes one planning call and parses it defensively.
// Returns nil on any failure so the caller substitutes the fallback.
func (g *Generator) generative(ctx context.Context, description string, history []PriorCase) *Plan {
	if g.chat == nil {
		return nil
	}

	prompt := g.buildPrompt(description, history)
	req := &provider.ChatRequest{
		Messages:  []provider.Message{{Role: "user", Content: prompt}},
		MaxTokens: 2048,
	}
	resp, err := g.chat.Route(ctx, routeKey, req)
	if err != nil {
		g.logger.Warn("generative planning failed", zap.Error(err))
		return nil
	}

	p, ok := g.parsePlan(resp.Content)
	if !ok {
		g.logger.Warn("unparseable plan response")
		return nil
	}
	return p
}

func (g *Generator) buildPrompt(description string, history []PriorCase) string {
	var buf strings.Builder
	buf.WriteString("你是任务规划器。将用户任务拆解为有依赖关系的子任务 DAG。\n可用工作者:\n")
	for _, c := range g.workers.Capabilities() {
		fmt.Fprintf(&buf, "- %s (%s): %s\n", c.Key, c.Name, c.Description)
	}
	if len(history) > 0 {
		buf.WriteString("\n相似历史案例:\n")
		for i, h := range history {
			fmt.Fprintf(&buf, "%d. 任务: %s\n   计划: %s\n   结果: %s (评分 %.1f)\n",
				i+1, h.Description, h.PlanSummary, h.Outcome, h.Rating)
		}
	}
	fmt.Fprintf(&buf, `
用户任务: %s

以JSON格式回复:
{"analysis":"...","plan":[{"id":"t1","agent_key":"...","instruction":"...","depends_on":[]}],"reasoning":"...","priority":"high|normal|low"}

约束: agent_key 必须来自可用工作者列表; depends_on 只能引用同计划内的 id; 不要产生环。`, description)
	return buf.String()
}

var planObjectRe = regexp.MustCompile(`(?s)\{.*\}`)

// parsePlan unmarshals the planning response, retrying with a JSON
// object extracted from surrounding prose, and validates the result
// against the worker registry.
func (g *Generator) parsePlan(content string) (*Plan, bool) {
	var raw struct {
		Analysis  string     `json:"analysis"`
		Plan      []TaskNode `json:"plan"`
		Reasoning string     `json:"reasoning"`
		Priority  string     `json:"priority"`
	}

	try := func(s string) bool {
		return json.Unmarshal([]byte(s), &raw) == nil && len(raw.Plan) > 0
	}
	if !try(content) {
		m := planObjectRe.FindString(content)
		if m == "" || !try(m) {
			return nil, false
		}
	}

	known := make(map[string]bool)
	for _, c := range g.workers.Capabilities() {
		known[c.Key] = true
	}
	for _, n := range raw.Plan {
		if !known[n.AgentKey] {
			g.logger.Warn("generated plan references unknown worker",
				zap.String("agent_key", n.AgentKey))
			return nil, false
		}
	}

	p := &Plan{
		Analysis:  raw.Analysis,
		Reasoning: raw.Reasoning,
		Priority:  raw.Priority,
		Nodes:     raw.Plan,
	}
	if err := p.Validate(); err != nil {
		g.logger.Warn("generated plan invalid", zap.Error(err))
		return nil, false
	}
	return p, true
}
