package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nidhogg/arbiter/internal/embedding"
	"github.com/nidhogg/arbiter/internal/orchestrator"
	"github.com/nidhogg/arbiter/internal/plan"
	"github.com/nidhogg/arbiter/internal/vectorstore"
	"go.uber.org/zap"
)

const episodicCollection = "arbiter_episodes"

// minSimilarity filters out barely-related prior cases.
const minSimilarity = 0.35

// Episodic is the similarity-searchable history of past runs: full
// records in PostgreSQL, description vectors in Qdrant.
type Episodic struct {
	db      *pgxpool.Pool
	vectors *vectorstore.Client
	embed   embedding.Provider
	logger  *zap.Logger
}

// NewEpisodic connects the episodic tier and ensures its schema exists.
// vectors and embed may be nil together: similarity search is then
// disabled and SimilarCases returns nothing.
func NewEpisodic(ctx context.Context, dsn string, vectors *vectorstore.Client, embed embedding.Provider, logger *zap.Logger) (*Episodic, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	e := &Episodic{db: pool, vectors: vectors, embed: embed, logger: logger}
	if err := e.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	if vectors != nil && embed != nil {
		if err := vectors.EnsureCollection(ctx, episodicCollection, uint64(embed.Dimension())); err != nil {
			logger.Warn("episodic vector collection unavailable", zap.Error(err))
			e.vectors = nil
		}
	}
	logger.Info("episodic memory connected")
	return e, nil
}

func (e *Episodic) ensureSchema(ctx context.Context) error {
	_, err := e.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS episodic_runs (
			id          UUID PRIMARY KEY,
			description TEXT NOT NULL,
			intent      TEXT NOT NULL DEFAULT '',
			plan        JSONB,
			results     JSONB,
			summary     TEXT NOT NULL DEFAULT '',
			outcome     TEXT NOT NULL DEFAULT '',
			rating      DOUBLE PRECISION NOT NULL DEFAULT 0,
			reasoning   JSONB,
			retries     JSONB,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
		)`)
	if err != nil {
		return fmt.Errorf("ensure episodic schema: %w", err)
	}
	return nil
}

// SaveRun persists a finished run and indexes its description vector.
// Returns the record id.
func (e *Episodic) SaveRun(ctx context.Context, rec *orchestrator.RunRecord) (string, error) {
	id := rec.RunID
	if id == "" {
		id = uuid.New().String()
	}

	planJSON, _ := json.Marshal(rec.Plan)
	resultsJSON, _ := json.Marshal(rec.Results)
	reasoningJSON, _ := json.Marshal(rec.ReasoningChains)
	retriesJSON, _ := json.Marshal(rec.RetryCounts)

	_, err := e.db.Exec(ctx, `
		INSERT INTO episodic_runs (id, description, intent, plan, results, summary, outcome, rating, reasoning, retries)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (id) DO UPDATE SET
			results = EXCLUDED.results, summary = EXCLUDED.summary,
			outcome = EXCLUDED.outcome, rating = EXCLUDED.rating`,
		id, rec.Description, rec.Intent, planJSON, resultsJSON,
		rec.Summary, rec.Outcome, rec.Rating, reasoningJSON, retriesJSON)
	if err != nil {
		return "", fmt.Errorf("insert episodic run: %w", err)
	}

	if e.vectors != nil && e.embed != nil {
		vecs, err := e.embed.Embed(ctx, []string{rec.Description})
		if err != nil || len(vecs) == 0 {
			e.logger.Warn("episode embedding failed", zap.Error(err))
			return id, nil
		}
		payload := map[string]string{
			"description":  rec.Description,
			"plan_summary": planSummary(rec.Plan),
			"outcome":      rec.Outcome,
			"rating":       fmt.Sprintf("%.2f", rec.Rating),
		}
		if err := e.vectors.Upsert(ctx, episodicCollection, id, vecs[0], payload); err != nil {
			e.logger.Warn("episode vector upsert failed", zap.Error(err))
		}
	}
	return id, nil
}

// SimilarCases returns up to limit prior cases similar to description,
// best match first.
func (e *Episodic) SimilarCases(ctx context.Context, description string, limit int) ([]plan.PriorCase, error) {
	if e.vectors == nil || e.embed == nil || limit <= 0 {
		return nil, nil
	}
	vecs, err := e.embed.Embed(ctx, []string{description})
	if err != nil || len(vecs) == 0 {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	hits, err := e.vectors.Search(ctx, episodicCollection, vecs[0], uint64(limit), minSimilarity)
	if err != nil {
		return nil, err
	}

	cases := make([]plan.PriorCase, 0, len(hits))
	for _, h := range hits {
		var rating float64
		fmt.Sscanf(h.Payload["rating"], "%f", &rating)
		cases = append(cases, plan.PriorCase{
			Description: h.Payload["description"],
			PlanSummary: h.Payload["plan_summary"],
			Outcome:     h.Payload["outcome"],
			Rating:      rating,
		})
	}
	return cases, nil
}

// planSummary renders a plan as "t1:contract_reviewer -> t2:risk_assessor".
func planSummary(p *plan.Plan) string {
	if p == nil {
		return ""
	}
	parts := make([]string, len(p.Nodes))
	for i, n := range p.Nodes {
		parts[i] = n.ID + ":" + n.AgentKey
	}
	return strings.Join(parts, " -> ")
}

// Close shuts down the connection pool.
func (e *Episodic) Close() {
	e.db.Close()
}
