package chat

import (
	"context"

	"github.com/voxlink/voxlink/internal/convo"
)

// Replier produces an assistant reply for a message given prior conversation
// turns in chronological order.
type Replier interface {
	Reply(ctx context.Context, message string, history []convo.Turn) (string, error)
	Ready() bool
}
