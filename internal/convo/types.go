package convo

import "context"

// Role identifies who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is a single conversational exchange entry.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Store keeps bounded per-conversation histories. An empty id passed to
// GetOrCreate mints a fresh conversation; unknown non-empty ids are created
// on first reference. Histories never exceed the configured turn bound: the
// oldest turns are dropped first.
type Store interface {
	GetOrCreate(ctx context.Context, id string) (string, []Turn, error)
	AppendExchange(ctx context.Context, id, userText, assistantText string) error
	Clear(ctx context.Context, id string) (bool, error)
	Active(ctx context.Context) ([]string, error)
	Close() error
}
