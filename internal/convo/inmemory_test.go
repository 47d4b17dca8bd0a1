package convo

import (
	"context"
	"fmt"
	"testing"
)

func TestGetOrCreateMintsDistinctIDs(t *testing.T) {
	s := NewInMemoryStore(20)
	ctx := context.Background()

	id1, turns1, err := s.GetOrCreate(ctx, "")
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	id2, _, err := s.GetOrCreate(ctx, "")
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	if id1 == "" || id2 == "" || id1 == id2 {
		t.Fatalf("minted ids = %q, %q, want two distinct non-empty ids", id1, id2)
	}
	if len(turns1) != 0 {
		t.Fatalf("fresh conversation has %d turns, want 0", len(turns1))
	}
}

func TestGetOrCreateSameIDSharesHistory(t *testing.T) {
	s := NewInMemoryStore(20)
	ctx := context.Background()

	id, _, _ := s.GetOrCreate(ctx, "")
	if err := s.AppendExchange(ctx, id, "哈囉", "你好！"); err != nil {
		t.Fatalf("AppendExchange() error = %v", err)
	}

	again, turns, err := s.GetOrCreate(ctx, id)
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	if again != id {
		t.Fatalf("id = %q, want %q", again, id)
	}
	if len(turns) != 2 || turns[0].Role != RoleUser || turns[1].Role != RoleAssistant {
		t.Fatalf("unexpected history: %+v", turns)
	}
}

func TestAppendExchangeEnforcesBound(t *testing.T) {
	const maxTurns = 20
	s := NewInMemoryStore(maxTurns)
	ctx := context.Background()
	id, _, _ := s.GetOrCreate(ctx, "")

	// 24 turns total appended; only the most recent 20 may remain.
	for i := 0; i < (maxTurns+5)/2; i++ {
		msg := fmt.Sprintf("message %d", i)
		if err := s.AppendExchange(ctx, id, msg, "reply to "+msg); err != nil {
			t.Fatalf("AppendExchange() error = %v", err)
		}
	}

	_, turns, _ := s.GetOrCreate(ctx, id)
	if len(turns) != maxTurns {
		t.Fatalf("history length = %d, want %d", len(turns), maxTurns)
	}
	// Most recent exchange must be last, in relative order.
	last := turns[len(turns)-1]
	if last.Role != RoleAssistant || last.Content != "reply to message 11" {
		t.Fatalf("last turn = %+v, want most recent assistant reply", last)
	}
	first := turns[0]
	if first.Role != RoleUser && first.Role != RoleAssistant {
		t.Fatalf("unexpected first turn role %q", first.Role)
	}
}

func TestClearReportsExistence(t *testing.T) {
	s := NewInMemoryStore(20)
	ctx := context.Background()
	id, _, _ := s.GetOrCreate(ctx, "")

	existed, err := s.Clear(ctx, id)
	if err != nil || !existed {
		t.Fatalf("Clear(known) = %v, %v, want true, nil", existed, err)
	}
	existed, err = s.Clear(ctx, id)
	if err != nil || existed {
		t.Fatalf("Clear(cleared) = %v, %v, want false, nil", existed, err)
	}
}

func TestActiveListsConversations(t *testing.T) {
	s := NewInMemoryStore(20)
	ctx := context.Background()
	id1, _, _ := s.GetOrCreate(ctx, "")
	id2, _, _ := s.GetOrCreate(ctx, "")

	ids, err := s.Active(ctx)
	if err != nil {
		t.Fatalf("Active() error = %v", err)
	}
	seen := map[string]bool{}
	for _, id := range ids {
		seen[id] = true
	}
	if !seen[id1] || !seen[id2] {
		t.Fatalf("Active() = %v, missing %q or %q", ids, id1, id2)
	}
}
