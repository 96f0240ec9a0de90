package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nidhogg/arbiter/internal/orchestrator"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const keyPrefix = "arbiter:run:"

// Working is the session-scoped fast tier backed by Redis: per-agent
// context snapshots, shared run variables and a mirror of the message
// pool, all under one fixed TTL.
type Working struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewWorking connects the working-memory tier.
func NewWorking(redisURL string, ttl time.Duration, logger *zap.Logger) (*Working, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &Working{rdb: rdb, ttl: ttl, logger: logger}, nil
}

// SaveSnapshot stores one agent context snapshot under the run.
func (w *Working) SaveSnapshot(ctx context.Context, runID string, snap *orchestrator.AgentContext) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	key := keyPrefix + runID + ":agents"
	pipe := w.rdb.TxPipeline()
	pipe.HSet(ctx, key, snap.TaskNodeID, data)
	pipe.Expire(ctx, key, w.ttl)
	_, err = pipe.Exec(ctx)
	return err
}

// Snapshots returns all stored agent snapshots for a run.
func (w *Working) Snapshots(ctx context.Context, runID string) (map[string]*orchestrator.AgentContext, error) {
	raw, err := w.rdb.HGetAll(ctx, keyPrefix+runID+":agents").Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]*orchestrator.AgentContext, len(raw))
	for nodeID, data := range raw {
		var snap orchestrator.AgentContext
		if err := json.Unmarshal([]byte(data), &snap); err != nil {
			continue
		}
		out[nodeID] = &snap
	}
	return out, nil
}

// SetVar writes a shared run variable.
func (w *Working) SetVar(ctx context.Context, runID, name string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal var %s: %w", name, err)
	}
	key := keyPrefix + runID + ":vars"
	pipe := w.rdb.TxPipeline()
	pipe.HSet(ctx, key, name, data)
	pipe.Expire(ctx, key, w.ttl)
	_, err = pipe.Exec(ctx)
	return err
}

// GetVar reads a shared run variable into out.
func (w *Working) GetVar(ctx context.Context, runID, name string, out interface{}) error {
	data, err := w.rdb.HGet(ctx, keyPrefix+runID+":vars", name).Result()
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(data), out)
}

// MirrorMessages replaces the run's message-pool mirror with the given
// log snapshot.
func (w *Working) MirrorMessages(ctx context.Context, runID string, msgs []*orchestrator.PoolMessage) error {
	key := keyPrefix + runID + ":pool"
	pipe := w.rdb.TxPipeline()
	pipe.Del(ctx, key)
	for _, m := range msgs {
		data, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("marshal pool message: %w", err)
		}
		pipe.RPush(ctx, key, data)
	}
	pipe.Expire(ctx, key, w.ttl)
	_, err := pipe.Exec(ctx)
	return err
}

// Messages reads back the mirrored message pool for a run.
func (w *Working) Messages(ctx context.Context, runID string) ([]*orchestrator.PoolMessage, error) {
	raw, err := w.rdb.LRange(ctx, keyPrefix+runID+":pool", 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*orchestrator.PoolMessage, 0, len(raw))
	for _, data := range raw {
		var m orchestrator.PoolMessage
		if err := json.Unmarshal([]byte(data), &m); err != nil {
			continue
		}
		out = append(out, &m)
	}
	return out, nil
}

// Close shuts down the Redis connection.
func (w *Working) Close() error {
	return w.rdb.Close()
}
