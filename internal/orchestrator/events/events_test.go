package events_test

import (
	"testing"
	"time"

	"github.com/knowledgeminer/knowledgeminer/internal/orchestrator/events"
	"github.com/knowledgeminer/knowledgeminer/internal/store"
)

func TestBus_PublishReachesSubscriber(t *testing.T) {
	t.Parallel()
	b := events.NewBus()
	ch, cancel := b.Subscribe()
	defer cancel()

	b.Publish(events.Event{SourceID: "src-1", Stage: store.StageDownload, Status: store.StatusCompleted})

	select {
	case e := <-ch:
		if e.SourceID != "src-1" {
			t.Errorf("SourceID = %q, want src-1", e.SourceID)
		}
		if e.Timestamp.IsZero() {
			t.Error("expected Publish to stamp a Timestamp")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestBus_UnsubscribeClosesChannel(t *testing.T) {
	t.Parallel()
	b := events.NewBus()
	ch, cancel := b.Subscribe()
	cancel()

	if _, ok := <-ch; ok {
		t.Error("expected channel to be closed after unsubscribe")
	}
	if b.SubscriberCount() != 0 {
		t.Errorf("SubscriberCount = %d, want 0", b.SubscriberCount())
	}
}

func TestBus_DropsWhenSubscriberBufferFull(t *testing.T) {
	t.Parallel()
	b := events.NewBus()
	_, cancel := b.Subscribe()
	defer cancel()

	// Publishing far more events than the buffer should not block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			b.Publish(events.Event{SourceID: "flood"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a full subscriber buffer")
	}
}
