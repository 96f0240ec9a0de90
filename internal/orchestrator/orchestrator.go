package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nidhogg/arbiter/internal/config"
	"github.com/nidhogg/arbiter/internal/intent"
	"github.com/nidhogg/arbiter/internal/plan"
	"github.com/nidhogg/arbiter/internal/worker"
	"go.uber.org/zap"
)

// Orchestrator is the single explicit context object holding every
// process-wide orchestration resource: the worker registry, the shared
// call limiter, the intent router and the planner. One instance is
// constructed at process start and passed by reference wherever runs
// are started; there is no hidden global state.
type Orchestrator struct {
	registry  *worker.Registry
	limiter   *Limiter
	intents   *intent.Router
	planner   *plan.Generator
	consensus *Consensus
	scheduler *Scheduler
	bridge    MemoryBridge
	logger    *zap.Logger
}

// New wires an orchestrator from its collaborators. bridge may be nil
// (runs then skip memory enrichment and persistence).
func New(cfg config.OrchestratorConfig, registry *worker.Registry, intents *intent.Router, planner *plan.Generator, chat ChatRouter, bridge MemoryBridge, logger *zap.Logger) *Orchestrator {
	cfg.Normalize()
	limiter := NewLimiter(cfg.PoolSize)
	lifecycle := NewLifecycle(registry, limiter, cfg.AttemptTimeout, cfg.MaxAttempts, logger)
	return &Orchestrator{
		registry:  registry,
		limiter:   limiter,
		intents:   intents,
		planner:   planner,
		consensus: NewConsensus(chat, cfg.ConsensusBudget, logger),
		scheduler: NewScheduler(lifecycle, cfg.MaxRounds, cfg.RunTimeout, logger),
		bridge:    bridge,
		logger:    logger,
	}
}

// Registry exposes the worker registry for wiring and inspection.
func (o *Orchestrator) Registry() *worker.Registry { return o.registry }

// Limiter exposes the shared call limiter.
func (o *Orchestrator) Limiter() *Limiter { return o.limiter }

// HandleTask runs the full pipeline for one request: classify, enrich
// from episodic memory, plan, schedule, arbitrate, aggregate, persist.
// It never returns an error; every failure mode degrades into the
// result's metadata.
func (o *Orchestrator) HandleTask(ctx context.Context, req *TaskRequest) *TaskResult {
	start := time.Now()
	runID := uuid.New().String()
	sink := req.Sink

	cls := o.intents.Classify(ctx, req.Description, req.Context)
	o.logger.Info("classified task",
		zap.String("run", runID),
		zap.String("intent", string(cls.Intent)),
		zap.Float64("confidence", cls.Confidence),
		zap.String("source", cls.Source))

	history := o.recallHistory(ctx, req.Description)

	p := o.planner.Generate(ctx, req.Description, cls, history)
	directive := plan.Shape(shapingInput(cls.Intent, req))
	emit(sink, EventPlanReady, map[string]interface{}{
		"run_id": runID, "nodes": len(p.Nodes), "analysis": p.Analysis,
	})

	bus := NewMessageBus(o.logger)
	outcome := o.scheduler.Run(ctx, runID, p, req.Model, bus, sink)

	results := make([]NodeResult, 0, len(outcome.Order))
	for _, id := range outcome.Order {
		results = append(results, NodeResult{NodeID: id, Response: outcome.Executed[id]})
	}

	artifact := o.consensus.Evaluate(ctx, req.Description, results)
	if artifact != nil {
		emit(sink, EventConsensusReady, map[string]interface{}{
			"run_id": runID, "reached": artifact.Reached, "risk": artifact.Risk,
		})
	}

	summary := aggregate(results, outcome.Outstanding, artifact)

	res := &TaskResult{
		RunID:        runID,
		OriginalTask: req.Description,
		Intent:       cls,
		Plan:         p,
		Directive:    directive,
		Results:      results,
		Outstanding:  outcome.Outstanding,
		Consensus:    artifact,
		Summary:      summary,
		Rounds:       outcome.Rounds,
		Aborted:      outcome.Aborted,
		Elapsed:      time.Since(start),
		StartedAt:    start,
	}
	res.MemoryRecordID = o.persist(ctx, runID, req, cls, p, outcome, results, summary, bus)
	return res
}

// recallHistory queries episodic memory before planning, best-effort.
func (o *Orchestrator) recallHistory(ctx context.Context, description string) []plan.PriorCase {
	if o.bridge == nil {
		return nil
	}
	history, err := o.bridge.SimilarCases(ctx, description, 2)
	if err != nil {
		o.logger.Warn("episodic recall failed", zap.Error(err))
		return nil
	}
	return history
}

// persist writes the run into the memory tiers, best-effort. Failures
// are logged, never fatal.
func (o *Orchestrator) persist(ctx context.Context, runID string, req *TaskRequest, cls intent.Classification, p *plan.Plan, outcome *RunOutcome, results []NodeResult, summary string, bus *MessageBus) string {
	if o.bridge == nil {
		return ""
	}

	chains := make(map[string][]string, len(outcome.Contexts))
	retries := make(map[string]int, len(outcome.Contexts))
	for id, actx := range outcome.Contexts {
		chains[id] = actx.ReasoningChain
		retries[id] = actx.RetryCount
		if err := o.bridge.SaveSnapshot(ctx, runID, actx.Snapshot()); err != nil {
			o.logger.Warn("snapshot persist failed",
				zap.String("node", id), zap.Error(err))
		}
	}

	if err := o.bridge.MirrorMessages(ctx, runID, bus.Messages()); err != nil {
		o.logger.Warn("message pool mirror failed", zap.Error(err))
	}

	rec := &RunRecord{
		RunID:           runID,
		Description:     req.Description,
		Intent:          string(cls.Intent),
		Plan:            p,
		Results:         results,
		Summary:         summary,
		Outcome:         runOutcomeLabel(outcome, results),
		Rating:          runRating(outcome, results),
		ReasoningChains: chains,
		RetryCounts:     retries,
	}
	id, err := o.bridge.SaveRun(ctx, rec)
	if err != nil {
		o.logger.Warn("run record persist failed", zap.Error(err))
		return ""
	}
	return id
}

// aggregate renders the ordered node results, stranded nodes and the
// arbitration verdict into one textual summary.
func aggregate(results []NodeResult, outstanding []string, artifact *ConsensusArtifact) string {
	var buf strings.Builder
	for i, r := range results {
		if i > 0 {
			buf.WriteString("\n---\n")
		}
		fmt.Fprintf(&buf, "[%s] %s", r.Response.AgentName, r.Response.Content)
	}
	if len(outstanding) > 0 {
		fmt.Fprintf(&buf, "\n\n未执行节点: %s", strings.Join(outstanding, ", "))
	}
	if artifact != nil {
		fmt.Fprintf(&buf, "\n\n仲裁结论: %s", artifact.Synthesis)
		if !artifact.Reached {
			buf.WriteString("（各方未达成一致）")
		}
	}
	return buf.String()
}

func shapingInput(it intent.Intent, req *TaskRequest) plan.ShapingInput {
	in := plan.ShapingInput{Intent: it, Description: req.Description}
	if v, ok := req.Context["turn_count"].(int); ok {
		in.TurnCount = v
	} else if f, ok := req.Context["turn_count"].(float64); ok {
		in.TurnCount = int(f)
	}
	if v, ok := req.Context["has_attachments"].(bool); ok {
		in.HasAttachments = v
	}
	if v, ok := req.Context["mode"].(string); ok {
		in.ModeHint = v
	}
	return in
}

func runOutcomeLabel(outcome *RunOutcome, results []NodeResult) string {
	if outcome.Aborted != "" {
		return "aborted: " + outcome.Aborted
	}
	for _, r := range results {
		if !r.Response.Succeeded() {
			return "partial"
		}
	}
	return "success"
}

// runRating grades the run for episodic memory: full success 1.0,
// degraded nodes and aborts pull it down.
func runRating(outcome *RunOutcome, results []NodeResult) float64 {
	if len(results) == 0 {
		return 0
	}
	ok := 0
	for _, r := range results {
		if r.Response.Succeeded() {
			ok++
		}
	}
	rating := float64(ok) / float64(len(results)+len(outcome.Outstanding))
	if outcome.Aborted != "" && rating > 0.8 {
		rating = 0.8
	}
	return rating
}
