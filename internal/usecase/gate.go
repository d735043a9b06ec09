package usecase

import (
	"context"
	"strings"

	"chat-agent/internal/integrations/paramstore"
)

// Gate admits events from allow-listed senders only. It is immutable once
// built and is rebuilt for every batch.
type Gate struct {
	allowed map[string]struct{}
}

// NewGate builds a Gate over ids. Blank ids are ignored.
func NewGate(ids []string) *Gate {
	g := &Gate{allowed: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			g.allowed[id] = struct{}{}
		}
	}
	return g
}

// Admit reports whether senderID may trigger processing.
func (g *Gate) Admit(senderID string) bool {
	if g == nil {
		return false
	}
	_, ok := g.allowed[strings.TrimSpace(senderID)]
	return ok
}

// Len returns the number of allowed senders.
func (g *Gate) Len() int {
	if g == nil {
		return 0
	}
	return len(g.allowed)
}

// LoadGate reads the allow-list parameter and builds a Gate from it.
func LoadGate(ctx context.Context, params ParamGetter, name string) (*Gate, error) {
	ids, err := paramstore.GetStringList(ctx, params, name)
	if err != nil {
		return nil, newError(ErrorConfig, "allow_list_load_error", err)
	}
	return NewGate(ids), nil
}
