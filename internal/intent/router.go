package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"regexp"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/nidhogg/arbiter/internal/provider"
	"go.uber.org/zap"
)

// routeKey is the provider-router binding used for classification calls.
const routeKey = "intent_router"

// Generator is the narrow slice of the provider router the generative
// tier needs. Satisfied by *provider.Router.
type Generator interface {
	Route(ctx context.Context, key string, req *provider.ChatRequest) (*provider.ChatResponse, error)
}

// Router classifies free text into an intent through three tiers:
// keyword rules, a TTL cache of prior generative results, and one
// structured LLM call. Classification never fails; any breakage
// degrades to a low-confidence Complex.
type Router struct {
	rules  []rule
	cache  *expirable.LRU[uint64, Classification]
	gen    Generator
	logger *zap.Logger
}

const (
	cacheSize = 512
	cacheTTL  = 300 * time.Second
)

// NewRouter creates an intent router. gen may be nil, in which case the
// generative tier is skipped and unmatched input classifies as Complex.
func NewRouter(gen Generator, logger *zap.Logger) *Router {
	return &Router{
		rules:  defaultRules(),
		cache:  expirable.NewLRU[uint64, Classification](cacheSize, nil, cacheTTL),
		gen:    gen,
		logger: logger,
	}
}

// Classify resolves text to an intent. Hints (session metadata) are
// currently folded into the generative prompt only.
func (r *Router) Classify(ctx context.Context, text string, hints map[string]interface{}) Classification {
	normalized := normalize(text)

	if c, ok := matchRules(normalized, r.rules); ok && c.Confidence >= ruleShortCircuit {
		return c
	}

	key := hashInput(normalized)
	if c, ok := r.cache.Get(key); ok {
		c.Source = "cache"
		return c
	}

	c := r.generative(ctx, text, hints)
	if c.Source == "generative" {
		r.cache.Add(key, c)
	}
	return c
}

// generative makes one structured-output classification call.
func (r *Router) generative(ctx context.Context, text string, hints map[string]interface{}) Classification {
	fallback := Classification{
		Intent:     Complex,
		Confidence: 0.3,
		Reasoning:  "classification fallback",
		Source:     "fallback",
	}
	if r.gen == nil {
		return fallback
	}

	var categories []string
	for _, it := range All() {
		categories = append(categories, string(it))
	}
	prompt := fmt.Sprintf(`将用户请求分类到以下意图之一: %s
"complex" 是兜底类别，用于跨领域或多步骤请求。

用户请求: %s
%s
以JSON格式回复: {"intent":"...","confidence":0.0,"reasoning":"..."}`,
		strings.Join(categories, ", "), text, formatHints(hints))

	req := &provider.ChatRequest{
		Messages:  []provider.Message{{Role: "user", Content: prompt}},
		MaxTokens: 256,
	}
	resp, err := r.gen.Route(ctx, routeKey, req)
	if err != nil {
		r.logger.Warn("generative classification failed", zap.Error(err))
		return fallback
	}

	parsed, ok := parseClassification(resp.Content)
	if !ok {
		r.logger.Warn("unparseable classification response",
			zap.String("content", truncate(resp.Content, 200)))
		return fallback
	}
	parsed.Source = "generative"
	return parsed
}

var jsonObjectRe = regexp.MustCompile(`(?s)\{.*\}`)

// parseClassification tries a direct unmarshal, then extracts the first
// JSON object from surrounding prose, then gives up.
func parseClassification(content string) (Classification, bool) {
	var raw struct {
		Intent     string  `json:"intent"`
		Confidence float64 `json:"confidence"`
		Reasoning  string  `json:"reasoning"`
	}

	try := func(s string) bool {
		return json.Unmarshal([]byte(s), &raw) == nil && raw.Intent != ""
	}

	if !try(content) {
		m := jsonObjectRe.FindString(content)
		if m == "" || !try(m) {
			return Classification{}, false
		}
	}

	if !Valid(raw.Intent) {
		return Classification{}, false
	}
	conf := raw.Confidence
	if conf <= 0 || conf > 1 {
		conf = 0.5
	}
	return Classification{
		Intent:     Intent(raw.Intent),
		Confidence: conf,
		Reasoning:  raw.Reasoning,
	}, true
}

var whitespaceRe = regexp.MustCompile(`\s+`)

func normalize(text string) string {
	return whitespaceRe.ReplaceAllString(strings.ToLower(strings.TrimSpace(text)), " ")
}

func hashInput(normalized string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(normalized))
	return h.Sum64()
}

func formatHints(hints map[string]interface{}) string {
	if len(hints) == 0 {
		return ""
	}
	b, err := json.Marshal(hints)
	if err != nil {
		return ""
	}
	return "会话提示: " + string(b) + "\n"
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
