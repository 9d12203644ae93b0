package shutdown

import (
	"context"
	"testing"
)

func TestNotifyContextFollowsParent(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	ctx, stop := NotifyContext(parent)
	defer stop()

	if ctx.Err() != nil {
		t.Fatal("context canceled before any signal")
	}
	cancel()
	<-ctx.Done()
}

func TestStopCancels(t *testing.T) {
	ctx, stop := NotifyContext(context.Background())
	stop()
	if ctx.Err() == nil {
		t.Error("stop did not cancel the context")
	}
}

func TestSignalsNotEmpty(t *testing.T) {
	if len(signals) == 0 {
		t.Error("no termination signals registered")
	}
}
