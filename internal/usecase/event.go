package usecase

import (
	"log/slog"
	"strconv"
	"strings"

	"chat-agent/internal/domain"
)

// ContentKind is the closed set of message payloads the consumer handles.
type ContentKind int

const (
	ContentNone ContentKind = iota
	ContentText
	ContentMedia
	ContentVoice
)

func (k ContentKind) String() string {
	switch k {
	case ContentText:
		return "text"
	case ContentMedia:
		return "media"
	case ContentVoice:
		return "voice"
	default:
		return "none"
	}
}

// EventContext is the working copy of one queued event.
type EventContext struct {
	ChatID      int64
	MessageID   int64
	SenderID    string
	SenderName  string
	GroupChat   bool
	Kind        domain.EventKind
	Text        string
	Caption     string
	HasMedia    bool
	VoiceFileID string
	Command     *domain.Command
}

// NewEventContext rehydrates an inbound event.
func NewEventContext(in domain.InboundEvent) (EventContext, error) {
	if in.ChatID == 0 {
		return EventContext{}, newError(ErrorValidation, "missing_chat_id", nil)
	}
	kind := in.Kind
	if kind == "" {
		kind = domain.EventMessage
	}
	return EventContext{
		ChatID:      in.ChatID,
		MessageID:   in.MessageID,
		SenderID:    strings.TrimSpace(in.SenderID),
		SenderName:  in.SenderName,
		GroupChat:   in.GroupChat,
		Kind:        kind,
		Text:        in.Text,
		Caption:     in.Caption,
		HasMedia:    in.HasMedia,
		VoiceFileID: strings.TrimSpace(in.VoiceFileID),
		Command:     in.Command,
	}, nil
}

// ConversationID is the conversation the event belongs to.
func (e EventContext) ConversationID() domain.ConversationID {
	return domain.ConversationID(strconv.FormatInt(e.ChatID, 10))
}

func (e EventContext) logAttrs() []any {
	return []any{
		slog.Int64("chat_id", e.ChatID),
		slog.Int64("message_id", e.MessageID),
		slog.String("sender_id", e.SenderID),
	}
}

// contentPredicates are evaluated in order; the first match wins.
var contentPredicates = []struct {
	kind  ContentKind
	match func(EventContext) bool
}{
	{ContentText, func(e EventContext) bool { return strings.TrimSpace(e.Text) != "" }},
	{ContentMedia, func(e EventContext) bool { return e.HasMedia }},
	{ContentVoice, func(e EventContext) bool { return e.VoiceFileID != "" }},
}

// ContentKind classifies the event's payload.
func (e EventContext) ContentKind() ContentKind {
	for _, p := range contentPredicates {
		if p.match(e) {
			return p.kind
		}
	}
	return ContentNone
}
