package worker

import (
	"context"
	"fmt"
	"strings"

	"github.com/nidhogg/arbiter/internal/provider"
	"go.uber.org/zap"
)

// KnowledgeSource is the narrow view an LLM worker has of the semantic
// memory tier. Lookups are best-effort: failures are logged by the
// caller and never block execution.
type KnowledgeSource interface {
	Lookup(ctx context.Context, workerKey, query string, limit int) ([]string, error)
}

// Persona configures one LLM-backed worker.
type Persona struct {
	Key          string `json:"key"`
	Name         string `json:"name"`
	Description  string `json:"description"`
	SystemPrompt string `json:"system_prompt"`
}

// LLMWorker executes tasks by prompting an LLM through the provider
// router with a fixed persona.
type LLMWorker struct {
	persona   Persona
	router    *provider.Router
	knowledge KnowledgeSource
	logger    *zap.Logger
}

// NewLLMWorker creates an LLM-backed worker. knowledge may be nil.
func NewLLMWorker(p Persona, router *provider.Router, knowledge KnowledgeSource, logger *zap.Logger) *LLMWorker {
	return &LLMWorker{persona: p, router: router, knowledge: knowledge, logger: logger}
}

func (w *LLMWorker) Key() string  { return w.persona.Key }
func (w *LLMWorker) Name() string { return w.persona.Name }

// Process runs one task through the persona's prompt. Dependent results
// and recalled domain knowledge are folded into the context block.
func (w *LLMWorker) Process(ctx context.Context, task *Task) (*Response, error) {
	messages := []provider.Message{
		{Role: "system", Content: w.persona.SystemPrompt},
	}

	if w.knowledge != nil {
		notes, err := w.knowledge.Lookup(ctx, w.persona.Key, task.Description, 3)
		if err != nil {
			w.logger.Warn("knowledge lookup failed",
				zap.String("worker", w.persona.Key), zap.Error(err))
		} else if len(notes) > 0 {
			messages = append(messages, provider.Message{
				Role:    "system",
				Content: "相关领域知识:\n" + strings.Join(notes, "\n"),
			})
		}
	}

	if block := formatDependentResults(task.DependentResults); block != "" {
		messages = append(messages, provider.Message{Role: "system", Content: block})
	}

	messages = append(messages, provider.Message{Role: "user", Content: task.Description})

	req := &provider.ChatRequest{
		Messages:  messages,
		MaxTokens: 4096,
	}
	task.Model.Apply(req)

	resp, err := w.router.Route(ctx, w.persona.Key, req)
	if err != nil {
		return nil, fmt.Errorf("worker %s: %w", w.persona.Key, err)
	}

	return &Response{
		AgentName: w.persona.Key,
		Content:   resp.Content,
		Metadata: map[string]interface{}{
			"model":        resp.Model,
			"total_tokens": resp.Usage.TotalTokens,
		},
	}, nil
}

// formatDependentResults renders upstream node outputs for the prompt.
func formatDependentResults(deps map[string]*Response) string {
	if len(deps) == 0 {
		return ""
	}
	var buf strings.Builder
	buf.WriteString("前置任务结果:\n")
	for id, r := range deps {
		if r == nil {
			continue
		}
		fmt.Fprintf(&buf, "[%s by %s]\n%s\n", id, r.AgentName, r.Content)
	}
	return buf.String()
}
