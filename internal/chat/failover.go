package chat

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/voxlink/voxlink/internal/convo"
)

// FailoverReplier prefers the primary replier and switches to the fallback
// when the primary fails. Once the fallback succeeds it stays active until
// it fails; then the primary is retried.
type FailoverReplier struct {
	primary        Replier
	fallback       Replier
	fallbackActive atomic.Bool
}

func NewFailoverReplier(primary, fallback Replier) *FailoverReplier {
	return &FailoverReplier{primary: primary, fallback: fallback}
}

func (f *FailoverReplier) Reply(ctx context.Context, message string, history []convo.Turn) (string, error) {
	if f.fallbackActive.Load() {
		reply, fbErr := f.fallback.Reply(ctx, message, history)
		if fbErr == nil {
			return reply, nil
		}
		// Fallback failed after being active; try primary again.
		reply, prErr := f.primary.Reply(ctx, message, history)
		if prErr == nil {
			f.fallbackActive.Store(false)
			return reply, nil
		}
		return "", fmt.Errorf("chat fallback failed: %v; chat primary failed: %w", fbErr, prErr)
	}

	reply, prErr := f.primary.Reply(ctx, message, history)
	if prErr == nil {
		return reply, nil
	}
	reply, fbErr := f.fallback.Reply(ctx, message, history)
	if fbErr != nil {
		return "", fmt.Errorf("chat primary failed: %v; chat fallback failed: %w", prErr, fbErr)
	}
	f.fallbackActive.Store(true)
	return reply, nil
}

func (f *FailoverReplier) Ready() bool {
	return f.primary.Ready() || f.fallback.Ready()
}
