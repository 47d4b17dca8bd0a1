package convo

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// InMemoryStore is the default in-process conversation store.
type InMemoryStore struct {
	mu        sync.Mutex
	histories map[string][]Turn
	maxTurns  int
}

func NewInMemoryStore(maxTurns int) *InMemoryStore {
	if maxTurns <= 0 {
		maxTurns = 20
	}
	return &InMemoryStore{
		histories: make(map[string][]Turn),
		maxTurns:  maxTurns,
	}
}

func (s *InMemoryStore) GetOrCreate(_ context.Context, id string) (string, []Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id == "" {
		id = uuid.NewString()
	}
	turns, ok := s.histories[id]
	if !ok {
		s.histories[id] = nil
	}
	out := make([]Turn, len(turns))
	copy(out, turns)
	return id, out, nil
}

func (s *InMemoryStore) AppendExchange(_ context.Context, id, userText, assistantText string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	turns := append(s.histories[id],
		Turn{Role: RoleUser, Content: userText},
		Turn{Role: RoleAssistant, Content: assistantText},
	)
	if len(turns) > s.maxTurns {
		turns = turns[len(turns)-s.maxTurns:]
	}
	s.histories[id] = turns
	return nil
}

func (s *InMemoryStore) Clear(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.histories[id]
	delete(s.histories, id)
	return ok, nil
}

func (s *InMemoryStore) Active(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.histories))
	for id := range s.histories {
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *InMemoryStore) Close() error { return nil }
