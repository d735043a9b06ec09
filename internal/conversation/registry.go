package conversation

import (
	"errors"
	"strings"
	"sync"

	"chat-agent/internal/domain"
)

// Registry maps conversation identities to their single in-process actor.
type Registry struct {
	store Store
	limit int

	mu     sync.Mutex
	actors map[domain.ConversationID]*Actor
}

// NewRegistry creates a Registry whose actors keep at most limit non-system
// messages. A non-positive limit selects DefaultHistoryLimit.
func NewRegistry(store Store, limit int) (*Registry, error) {
	if store == nil {
		return nil, errors.New("conversation: store must not be nil")
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &Registry{
		store:  store,
		limit:  limit,
		actors: make(map[domain.ConversationID]*Actor),
	}, nil
}

// Actor returns the actor for id, creating it on first use.
func (r *Registry) Actor(id domain.ConversationID) (*Actor, error) {
	if strings.TrimSpace(string(id)) == "" {
		return nil, errors.New("conversation: conversation id must not be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.actors[id]; ok {
		return a, nil
	}
	a := &Actor{id: id, store: r.store, limit: r.limit}
	r.actors[id] = a
	return a, nil
}
