package orchestrator

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestBusAppendOnly(t *testing.T) {
	bus := NewMessageBus(zap.NewNop())

	first := bus.Publish("contract_reviewer", TopicFinding, "第3条存在单方解除权", PriorityNormal)
	second := bus.Publish("contract_reviewer", TopicFinding, "第3条存在单方解除权", PriorityNormal)

	if bus.Len() != 2 {
		t.Fatalf("got %d entries, want 2", bus.Len())
	}
	if first.ID == second.ID {
		t.Error("identical publishes must yield distinct entries")
	}
	msgs := bus.Messages()
	if msgs[0].Content != msgs[1].Content {
		t.Error("both entries should carry the published content")
	}
}

func TestBusWaitForExistingMessage(t *testing.T) {
	bus := NewMessageBus(zap.NewNop())
	bus.Publish("risk_assessor", TopicWarning, "old", PriorityHigh)
	bus.Publish("risk_assessor", TopicWarning, "new", PriorityHigh)

	got := bus.WaitFor(context.Background(), TopicWarning, "risk_assessor", 10*time.Millisecond)
	if got == nil {
		t.Fatal("expected immediate delivery of an existing message")
	}
	if got.Content != "new" {
		t.Errorf("got %q, want latest match %q", got.Content, "new")
	}
}

func TestBusWaitForFuturePublish(t *testing.T) {
	bus := NewMessageBus(zap.NewNop())

	done := make(chan *PoolMessage, 1)
	go func() {
		done <- bus.WaitFor(context.Background(), TopicFinding, "", 2*time.Second)
	}()

	// Give the waiter time to park before publishing.
	time.Sleep(20 * time.Millisecond)
	bus.Publish("legal_researcher", TopicFinding, "找到相关判例", PriorityNormal)

	select {
	case got := <-done:
		if got == nil {
			t.Fatal("waiter should receive the published message")
		}
		if got.Sender != "legal_researcher" {
			t.Errorf("got sender %q, want %q", got.Sender, "legal_researcher")
		}
	case <-time.After(time.Second):
		t.Fatal("waiter never woke up")
	}
}

func TestBusWaitForTimeout(t *testing.T) {
	bus := NewMessageBus(zap.NewNop())
	bus.Publish("a", TopicFinding, "wrong topic", PriorityNormal)

	got := bus.WaitFor(context.Background(), TopicAlignment, "", 30*time.Millisecond)
	if got != nil {
		t.Errorf("got %v, want nil on timeout", got)
	}
}

func TestBusWaitForSenderFilter(t *testing.T) {
	bus := NewMessageBus(zap.NewNop())
	bus.Publish("other", TopicFinding, "not mine", PriorityNormal)

	got := bus.WaitFor(context.Background(), TopicFinding, "wanted", 30*time.Millisecond)
	if got != nil {
		t.Errorf("sender filter should reject other senders, got %v", got)
	}
}

func TestBusQueryFilters(t *testing.T) {
	bus := NewMessageBus(zap.NewNop())
	bus.Publish("a", TopicFinding, "one", PriorityNormal)
	cutoff := time.Now()
	time.Sleep(5 * time.Millisecond)
	bus.Publish("b", TopicFinding, "two", PriorityNormal)
	bus.Publish("a", TopicWarning, "three", PriorityHigh)

	if got := bus.Query(TopicFinding, "", time.Time{}); len(got) != 2 {
		t.Errorf("topic filter: got %d, want 2", len(got))
	}
	if got := bus.Query("", "a", time.Time{}); len(got) != 2 {
		t.Errorf("sender filter: got %d, want 2", len(got))
	}
	if got := bus.Query(TopicFinding, "", cutoff); len(got) != 1 {
		t.Errorf("since filter: got %d, want 1", len(got))
	}
}
