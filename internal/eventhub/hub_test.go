package eventhub

import (
	"context"
	"testing"
	"time"
)

func TestPublishDoesNotBlockWithNoRunner(t *testing.T) {
	h := NewHub(nil)
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			h.Publish(DumpCompleted)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked")
	}
}

func TestRunBroadcastsUntilCanceled(t *testing.T) {
	h := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)

	h.Publish(ReportFinished)
	cancel()
	time.Sleep(10 * time.Millisecond)
}
