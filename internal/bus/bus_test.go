package bus

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opensource-health/readmit/internal/domain"
)

func waitFor(t *testing.T, ch <-chan *domain.Message) *domain.Message {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
		return nil
	}
}

func TestChannelBus(t *testing.T) {
	bus := NewChannelBus(100)
	defer bus.Close()

	ctx := context.Background()
	datasetID := "ds-001"

	t.Run("PublishAndSubscribe", func(t *testing.T) {
		got := make(chan *domain.Message, 1)
		_, err := bus.Subscribe(ctx, datasetID, domain.TopicRunRequested, func(ctx context.Context, msg *domain.Message) error {
			got <- msg
			return nil
		})
		if err != nil {
			t.Fatalf("subscribe failed: %v", err)
		}

		if err := bus.Publish(ctx, datasetID, domain.TopicRunRequested, []byte("hello")); err != nil {
			t.Fatalf("publish failed: %v", err)
		}

		msg := waitFor(t, got)
		if string(msg.Payload) != "hello" {
			t.Errorf("expected payload 'hello', got '%s'", string(msg.Payload))
		}
		if msg.DatasetID != datasetID {
			t.Errorf("expected datasetID '%s', got '%s'", datasetID, msg.DatasetID)
		}
		if msg.ID == "" {
			t.Error("expected message id")
		}
	})

	t.Run("DatasetIsolation", func(t *testing.T) {
		var other atomic.Int32
		mine := make(chan *domain.Message, 1)

		_, _ = bus.Subscribe(ctx, "ds-a", "isolation.topic", func(ctx context.Context, msg *domain.Message) error {
			mine <- msg
			return nil
		})
		_, _ = bus.Subscribe(ctx, "ds-b", "isolation.topic", func(ctx context.Context, msg *domain.Message) error {
			other.Add(1)
			return nil
		})

		_ = bus.Publish(ctx, "ds-a", "isolation.topic", []byte("x"))
		waitFor(t, mine)

		time.Sleep(20 * time.Millisecond)
		if other.Load() != 0 {
			t.Errorf("ds-b received %d messages for ds-a", other.Load())
		}
	})

	t.Run("AllDatasetsSubscriber", func(t *testing.T) {
		got := make(chan *domain.Message, 2)
		_, _ = bus.Subscribe(ctx, domain.AllDatasets, "wildcard.topic", func(ctx context.Context, msg *domain.Message) error {
			got <- msg
			return nil
		})

		_ = bus.Publish(ctx, "ds-x", "wildcard.topic", nil)
		_ = bus.Publish(ctx, "ds-y", "wildcard.topic", nil)

		seen := map[string]bool{}
		seen[waitFor(t, got).DatasetID] = true
		seen[waitFor(t, got).DatasetID] = true
		if !seen["ds-x"] || !seen["ds-y"] {
			t.Errorf("expected messages from both datasets, got %v", seen)
		}
	})

	t.Run("Unsubscribe", func(t *testing.T) {
		var count atomic.Int32
		sub, _ := bus.Subscribe(ctx, datasetID, "unsub.topic", func(ctx context.Context, msg *domain.Message) error {
			count.Add(1)
			return nil
		})
		if sub.Topic() != "unsub.topic" {
			t.Errorf("expected topic 'unsub.topic', got %q", sub.Topic())
		}
		_ = sub.Unsubscribe()

		_ = bus.Publish(ctx, datasetID, "unsub.topic", nil)
		time.Sleep(20 * time.Millisecond)
		if count.Load() != 0 {
			t.Errorf("expected no delivery after unsubscribe, got %d", count.Load())
		}
	})

	t.Run("RequiresDatasetID", func(t *testing.T) {
		if err := bus.Publish(ctx, "", "t", nil); !errors.Is(err, ErrDatasetRequired) {
			t.Errorf("expected ErrDatasetRequired, got %v", err)
		}
		if err := bus.Publish(ctx, domain.AllDatasets, "t", nil); !errors.Is(err, ErrDatasetRequired) {
			t.Errorf("expected ErrDatasetRequired for wildcard publish, got %v", err)
		}
	})
}

func TestChannelBusBufferFull(t *testing.T) {
	bus := NewChannelBus(1)
	defer bus.Close()
	ctx := context.Background()

	block := make(chan struct{})
	_, _ = bus.Subscribe(ctx, "ds", "slow", func(ctx context.Context, msg *domain.Message) error {
		<-block
		return nil
	})
	defer close(block)

	var full bool
	for i := 0; i < 5; i++ {
		if err := bus.Publish(ctx, "ds", "slow", nil); errors.Is(err, ErrBufferFull) {
			full = true
			break
		}
	}
	if !full {
		t.Error("expected ErrBufferFull from a blocked subscriber")
	}
}

func TestChannelBusClose(t *testing.T) {
	bus := NewChannelBus(10)
	ctx := context.Background()

	if err := bus.Ping(ctx); err != nil {
		t.Fatalf("ping failed: %v", err)
	}
	_ = bus.Close()

	if err := bus.Publish(ctx, "ds", "t", nil); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	if _, err := bus.Subscribe(ctx, "ds", "t", nil); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	if err := bus.Ping(ctx); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed from ping, got %v", err)
	}
}

func TestSubject(t *testing.T) {
	if got := Subject("ds-1", domain.TopicRunRequested); got != "readmit.run.requested.ds-1" {
		t.Errorf("unexpected subject %q", got)
	}
	if got := Subject(domain.AllDatasets, domain.TopicRunCompleted); got != "readmit.run.completed.*" {
		t.Errorf("unexpected wildcard subject %q", got)
	}
}

func TestNew(t *testing.T) {
	b, err := New(domain.EventBusConfig{Type: "channel"})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer b.Close()

	if _, err := New(domain.EventBusConfig{Type: "kafka"}); err == nil {
		t.Error("expected error for unsupported bus type")
	}
}
