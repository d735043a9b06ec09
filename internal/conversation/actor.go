package conversation

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"chat-agent/internal/domain"
	"chat-agent/internal/repository"
)

// DefaultHistoryLimit is the retention bound used when none is configured.
const DefaultHistoryLimit = 20

// maxConflictAttempts bounds how often a read-modify-write is replayed after
// another process updated the same conversation in between.
const maxConflictAttempts = 3

// ErrInvalidMessage is returned for messages that may not enter the history.
var ErrInvalidMessage = errors.New("conversation: invalid message")

// Store is the per-conversation persistence the actor owns.
// *repository.Client satisfies this interface.
type Store interface {
	GetState(ctx context.Context, id domain.ConversationID) (domain.ConversationState, bool, error)
	PutState(ctx context.Context, state domain.ConversationState) (int64, error)
}

// Window is an ordered history whose first element is the system directive.
type Window []domain.ChatMessage

// NonSystemLen returns the number of messages counted against the retention bound.
func (w Window) NonSystemLen() int {
	n := 0
	for _, m := range w {
		if m.Role != domain.RoleSystem {
			n++
		}
	}
	return n
}

// Actor owns the stored state of one conversation. All of its operations are
// serialized; obtain actors through a Registry so that one identity never
// has two actors in the same process.
type Actor struct {
	id    domain.ConversationID
	store Store
	limit int

	mu sync.Mutex
}

// ID returns the conversation identity the actor serves.
func (a *Actor) ID() domain.ConversationID {
	return a.id
}

// History returns the stored window, or a window holding only a fresh
// directive when nothing has been stored yet.
func (a *Actor) History(ctx context.Context) (Window, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	state, _, err := a.store.GetState(ctx, a.id)
	if err != nil {
		return nil, fmt.Errorf("conversation: history: %w", err)
	}
	cfg := resolveConfig(state.Config)
	if len(state.Messages) == 0 {
		return freshWindow(cfg), nil
	}
	return append(Window(nil), state.Messages...), nil
}

// PushMessage appends m, applies the retention bound and persists the result.
func (a *Actor) PushMessage(ctx context.Context, m domain.ChatMessage) (Window, error) {
	return a.PushMessages(ctx, m)
}

// PushMessages appends all of msgs in one write. An assistant message that
// requested tools is pushed together with its tool results this way.
func (a *Actor) PushMessages(ctx context.Context, msgs ...domain.ChatMessage) (Window, error) {
	for _, m := range msgs {
		if err := validateMessage(m); err != nil {
			return nil, err
		}
	}

	var window Window
	err := a.update(ctx, func(state *domain.ConversationState, _ bool) (bool, error) {
		cfg := resolveConfig(state.Config)
		current := Window(state.Messages)
		if len(current) == 0 {
			current = freshWindow(cfg)
		}
		next := make(Window, 0, len(current)+len(msgs))
		next = append(next, current...)
		next = append(next, msgs...)
		window = trimWindow(next, cfg, a.limit)

		state.Config = cfg
		state.Messages = window
		return true, nil
	})
	if err != nil {
		return nil, fmt.Errorf("conversation: push message: %w", err)
	}
	return append(Window(nil), window...), nil
}

// ClearHistory replaces the history with a fresh directive and returns how
// many non-system messages were dropped.
func (a *Actor) ClearHistory(ctx context.Context) (int, error) {
	var cleared int
	err := a.update(ctx, func(state *domain.ConversationState, found bool) (bool, error) {
		cleared = Window(state.Messages).NonSystemLen()
		if !found {
			return false, nil
		}
		cfg := resolveConfig(state.Config)
		state.Config = cfg
		state.Messages = freshWindow(cfg)
		return true, nil
	})
	if err != nil {
		return 0, fmt.Errorf("conversation: clear history: %w", err)
	}
	return cleared, nil
}

// SetConfig merges p into the stored configuration. The directive changes
// with the configuration, so the history is reset in the same write.
func (a *Actor) SetConfig(ctx context.Context, p domain.ConfigPatch) error {
	err := a.update(ctx, func(state *domain.ConversationState, _ bool) (bool, error) {
		cfg, err := applyPatch(resolveConfig(state.Config), p)
		if err != nil {
			return false, err
		}
		state.Config = cfg
		state.Messages = freshWindow(cfg)
		return true, nil
	})
	if err != nil {
		return fmt.Errorf("conversation: set config: %w", err)
	}
	return nil
}

// Config returns the stored configuration with defaults applied.
func (a *Actor) Config(ctx context.Context) (domain.ConversationConfig, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	state, _, err := a.store.GetState(ctx, a.id)
	if err != nil {
		return domain.ConversationConfig{}, fmt.Errorf("conversation: config: %w", err)
	}
	return resolveConfig(state.Config), nil
}

// update runs one serialized read-modify-write. fn reports whether the state
// must be written. On a version conflict the cycle is replayed from a fresh read.
func (a *Actor) update(ctx context.Context, fn func(state *domain.ConversationState, found bool) (bool, error)) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	for attempt := 1; ; attempt++ {
		state, found, err := a.store.GetState(ctx, a.id)
		if err != nil {
			return err
		}
		state.ConversationID = a.id

		write, err := fn(&state, found)
		if err != nil || !write {
			return err
		}

		_, err = a.store.PutState(ctx, state)
		if errors.Is(err, repository.ErrConflict) && attempt < maxConflictAttempts {
			continue
		}
		return err
	}
}

func validateMessage(m domain.ChatMessage) error {
	switch m.Role {
	case domain.RoleUser, domain.RoleAssistant:
		if m.Content == nil && len(m.ToolCalls) == 0 {
			return fmt.Errorf("%w: %s message without content", ErrInvalidMessage, m.Role)
		}
	case domain.RoleTool:
		if m.ToolCallID == "" {
			return fmt.Errorf("%w: tool message without tool call id", ErrInvalidMessage)
		}
	case domain.RoleSystem:
		return fmt.Errorf("%w: the system directive is managed by the conversation", ErrInvalidMessage)
	default:
		return fmt.Errorf("%w: unknown role %q", ErrInvalidMessage, m.Role)
	}
	return nil
}

func freshWindow(cfg domain.ConversationConfig) Window {
	return Window{domain.SystemMessage(BuildDirective(cfg))}
}

// trimWindow enforces the retention bound. When it is exceeded the window is
// rebuilt around a directive regenerated from cfg, keeping the newest limit
// non-system messages. Tool results whose call was cut off are dropped too.
func trimWindow(w Window, cfg domain.ConversationConfig, limit int) Window {
	if w.NonSystemLen() <= limit {
		return w
	}
	rest := make(Window, 0, len(w))
	for _, m := range w {
		if m.Role != domain.RoleSystem {
			rest = append(rest, m)
		}
	}
	rest = rest[len(rest)-limit:]
	for len(rest) > 0 && rest[0].Role == domain.RoleTool {
		rest = rest[1:]
	}
	return append(freshWindow(cfg), rest...)
}
