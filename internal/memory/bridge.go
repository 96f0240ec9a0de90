package memory

import (
	"context"
	"fmt"

	"github.com/nidhogg/arbiter/internal/orchestrator"
	"github.com/nidhogg/arbiter/internal/plan"
	"go.uber.org/zap"
)

// Bridge composes the three memory tiers behind the orchestrator's
// narrow contract: read before planning, write after a run, always
// best-effort. Any tier may be nil; its operations then no-op.
type Bridge struct {
	working  *Working
	episodic *Episodic
	semantic *Semantic
	logger   *zap.Logger
}

// NewBridge assembles the bridge from whatever tiers are available.
func NewBridge(working *Working, episodic *Episodic, semantic *Semantic, logger *zap.Logger) *Bridge {
	return &Bridge{working: working, episodic: episodic, semantic: semantic, logger: logger}
}

// Working exposes the working tier, nil when unavailable.
func (b *Bridge) Working() *Working { return b.working }

// Semantic exposes the semantic tier for worker wiring, nil when
// unavailable.
func (b *Bridge) Semantic() *Semantic { return b.semantic }

// SimilarCases queries episodic memory for prior cases like description.
func (b *Bridge) SimilarCases(ctx context.Context, description string, limit int) ([]plan.PriorCase, error) {
	if b.episodic == nil {
		return nil, nil
	}
	return b.episodic.SimilarCases(ctx, description, limit)
}

// SaveRun writes the run record to episodic memory.
func (b *Bridge) SaveRun(ctx context.Context, rec *orchestrator.RunRecord) (string, error) {
	if b.episodic == nil {
		return "", fmt.Errorf("episodic tier unavailable")
	}
	return b.episodic.SaveRun(ctx, rec)
}

// MirrorMessages copies the run's message pool into working memory.
func (b *Bridge) MirrorMessages(ctx context.Context, runID string, msgs []*orchestrator.PoolMessage) error {
	if b.working == nil {
		return nil
	}
	return b.working.MirrorMessages(ctx, runID, msgs)
}

// SaveSnapshot stores an agent context snapshot in working memory.
func (b *Bridge) SaveSnapshot(ctx context.Context, runID string, snap *orchestrator.AgentContext) error {
	if b.working == nil {
		return nil
	}
	return b.working.SaveSnapshot(ctx, runID, snap)
}

// Close releases every connected tier.
func (b *Bridge) Close(ctx context.Context) {
	if b.working != nil {
		if err := b.working.Close(); err != nil {
			b.logger.Warn("close working tier", zap.Error(err))
		}
	}
	if b.episodic != nil {
		b.episodic.Close()
	}
	if b.semantic != nil {
		if err := b.semantic.Close(ctx); err != nil {
			b.logger.Warn("close semantic tier", zap.Error(err))
		}
	}
}
