package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Topic classifies pool messages.
type Topic string

const (
	TopicFinding    Topic = "finding"
	TopicAlignment  Topic = "alignment"
	TopicDependency Topic = "dependency"
	TopicWarning    Topic = "warning"
	TopicRequest    Topic = "request"
)

// Priority grades pool messages.
type Priority string

const (
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// PoolMessage is one append-only log entry.
type PoolMessage struct {
	ID        string    `json:"id"`
	Sender    string    `json:"sender"`
	Topic     Topic     `json:"topic"`
	Content   string    `json:"content"`
	Priority  Priority  `json:"priority"`
	Timestamp time.Time `json:"timestamp"`
}

// waiter is a parked WaitFor call. Delivery closes over a buffered
// channel so Publish never blocks on a slow waiter.
type waiter struct {
	topic  Topic
	sender string
	ch     chan *PoolMessage
}

// MessageBus is the per-run append-only message pool. Publishing twice
// with identical content yields two distinct entries; the log only
// grows. One instance lives for exactly one scheduling run.
type MessageBus struct {
	mu      sync.Mutex
	log     []*PoolMessage
	waiters []*waiter
	logger  *zap.Logger
}

// NewMessageBus creates an empty per-run bus.
func NewMessageBus(logger *zap.Logger) *MessageBus {
	return &MessageBus{logger: logger}
}

// Publish appends a message and wakes every waiter registered for its
// topic (and sender, when the waiter filtered on one).
func (b *MessageBus) Publish(sender string, topic Topic, content string, priority Priority) *PoolMessage {
	msg := &PoolMessage{
		ID:        uuid.New().String(),
		Sender:    sender,
		Topic:     topic,
		Content:   content,
		Priority:  priority,
		Timestamp: time.Now(),
	}

	b.mu.Lock()
	b.log = append(b.log, msg)
	remaining := b.waiters[:0]
	for _, w := range b.waiters {
		if w.topic == topic && (w.sender == "" || w.sender == sender) {
			w.ch <- msg
			continue
		}
		remaining = append(remaining, w)
	}
	b.waiters = remaining
	b.mu.Unlock()

	b.logger.Debug("pool message published",
		zap.String("sender", sender),
		zap.String("topic", string(topic)),
		zap.String("priority", string(priority)))
	return msg
}

// WaitFor returns the latest existing message matching topic (and
// sender, if non-empty) immediately; otherwise it parks until a
// matching publish, the timeout, or ctx cancellation. Returns nil on
// timeout or cancellation, never an error.
//
// The existing-message check and waiter registration happen under one
// lock acquisition, so a publish cannot slip between them.
func (b *MessageBus) WaitFor(ctx context.Context, topic Topic, sender string, timeout time.Duration) *PoolMessage {
	b.mu.Lock()
	for i := len(b.log) - 1; i >= 0; i-- {
		m := b.log[i]
		if m.Topic == topic && (sender == "" || m.Sender == sender) {
			b.mu.Unlock()
			return m
		}
	}
	w := &waiter{topic: topic, sender: sender, ch: make(chan *PoolMessage, 1)}
	b.waiters = append(b.waiters, w)
	b.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case msg := <-w.ch:
		return msg
	case <-timer.C:
		b.removeWaiter(w)
		return nil
	case <-ctx.Done():
		b.removeWaiter(w)
		return nil
	}
}

func (b *MessageBus) removeWaiter(w *waiter) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, cur := range b.waiters {
		if cur == w {
			b.waiters = append(b.waiters[:i], b.waiters[i+1:]...)
			return
		}
	}
}

// Query returns messages matching the filters. Zero values disable a
// filter: empty topic/sender match everything, a zero since matches
// from the beginning.
func (b *MessageBus) Query(topic Topic, sender string, since time.Time) []*PoolMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []*PoolMessage
	for _, m := range b.log {
		if topic != "" && m.Topic != topic {
			continue
		}
		if sender != "" && m.Sender != sender {
			continue
		}
		if !since.IsZero() && m.Timestamp.Before(since) {
			continue
		}
		out = append(out, m)
	}
	return out
}

// Len returns the current log length.
func (b *MessageBus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.log)
}

// Messages returns a snapshot of the full log for mirroring.
func (b *MessageBus) Messages() []*PoolMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*PoolMessage, len(b.log))
	copy(out, b.log)
	return out
}
