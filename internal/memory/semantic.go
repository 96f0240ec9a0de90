package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"
)

// Note is one durable domain-knowledge entry.
type Note struct {
	ID        string    `json:"id"`
	WorkerKey string    `json:"worker_key"` // "" means shared across workers
	Topic     string    `json:"topic"`
	Content   string    `json:"content"`
	Weight    float64   `json:"weight"`
	CreatedAt time.Time `json:"created_at"`
}

// Semantic is the durable knowledge tier backed by Neo4j. The
// orchestration core never touches it; individual workers consult it
// through the worker.KnowledgeSource interface.
type Semantic struct {
	driver neo4j.DriverWithContext
	logger *zap.Logger
}

// NewSemantic connects the semantic tier.
func NewSemantic(uri, user, password string, logger *zap.Logger) (*Semantic, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	return &Semantic{driver: driver, logger: logger}, nil
}

// Ping verifies the Neo4j connection.
func (s *Semantic) Ping(ctx context.Context) error {
	return s.driver.VerifyConnectivity(ctx)
}

// AddNote stores one knowledge entry.
func (s *Semantic) AddNote(ctx context.Context, note *Note) error {
	if note.ID == "" {
		note.ID = uuid.New().String()
	}
	note.CreatedAt = time.Now()
	if note.Weight == 0 {
		note.Weight = 0.5
	}

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	_, err := session.Run(ctx,
		`CREATE (n:Knowledge {
			id: $id, worker_key: $workerKey, topic: $topic,
			content: $content, weight: $weight, created_at: datetime()
		})`,
		map[string]interface{}{
			"id":        note.ID,
			"workerKey": note.WorkerKey,
			"topic":     note.Topic,
			"content":   note.Content,
			"weight":    note.Weight,
		})
	if err != nil {
		return fmt.Errorf("create knowledge note: %w", err)
	}
	return nil
}

// Lookup returns up to limit knowledge contents relevant to the query
// for the given worker (worker-specific notes plus shared ones).
// Implements worker.KnowledgeSource.
func (s *Semantic) Lookup(ctx context.Context, workerKey, query string, limit int) ([]string, error) {
	terms := queryTerms(query)
	if len(terms) == 0 {
		return nil, nil
	}

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	result, err := session.Run(ctx,
		`MATCH (n:Knowledge)
		 WHERE (n.worker_key = $workerKey OR n.worker_key = '')
		   AND any(t IN $terms WHERE toLower(n.topic) CONTAINS t OR toLower(n.content) CONTAINS t)
		 RETURN n.topic, n.content
		 ORDER BY n.weight DESC LIMIT $limit`,
		map[string]interface{}{
			"workerKey": workerKey,
			"terms":     terms,
			"limit":     limit,
		})
	if err != nil {
		return nil, err
	}

	var notes []string
	for result.Next(ctx) {
		rec := result.Record()
		topic, _ := rec.Get("n.topic")
		content, _ := rec.Get("n.content")
		notes = append(notes, fmt.Sprintf("[%v] %v", topic, content))
	}
	return notes, result.Err()
}

// queryTerms extracts lowercase lookup terms from free text. CJK text
// has no word boundaries, so runs of CJK characters are sliced into
// bigrams.
func queryTerms(query string) []string {
	var terms []string
	seen := make(map[string]bool)
	add := func(t string) {
		if len(t) > 0 && !seen[t] {
			seen[t] = true
			terms = append(terms, t)
		}
	}

	var cjk []rune
	flushCJK := func() {
		for i := 0; i+1 < len(cjk); i++ {
			add(string(cjk[i : i+2]))
		}
		cjk = cjk[:0]
	}

	var word []rune
	flushWord := func() {
		if len(word) >= 3 {
			add(strings.ToLower(string(word)))
		}
		word = word[:0]
	}

	for _, r := range query {
		switch {
		case r >= 0x4E00 && r <= 0x9FFF:
			flushWord()
			cjk = append(cjk, r)
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'):
			flushCJK()
			word = append(word, r)
		default:
			flushWord()
			flushCJK()
		}
		if len(terms) >= 16 {
			break
		}
	}
	flushWord()
	flushCJK()
	return terms
}

// Close shuts down the Neo4j driver.
func (s *Semantic) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}
