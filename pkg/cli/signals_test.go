package cli

import (
	"context"
	"testing"
)

func TestNotifyContext(t *testing.T) {
	parent, cancelParent := context.WithCancel(context.Background())
	ctx, stop := NotifyContext(parent)
	defer stop()

	select {
	case <-ctx.Done():
		t.Fatal("context canceled before any signal")
	default:
	}

	cancelParent()
	<-ctx.Done()
}

func TestNotifyContextStop(t *testing.T) {
	ctx, stop := NotifyContext(context.Background())
	stop()
	<-ctx.Done()
}
