package domain

// EventKind separates plain chat messages from commands already handled at
// ingress.
type EventKind string

const (
	EventMessage EventKind = "message"
	EventCommand EventKind = "command"
)

// Command names understood by the consumer. Parsing happens at ingress.
const (
	CommandSetConfig    = "set_config"
	CommandClearHistory = "clear_history"
)

// QueueEvent is the body of one queued record.
type QueueEvent struct {
	ConversationContext InboundEvent `json:"conversationContext"`
}

// InboundEvent is the classified chat event produced by the ingress adapter.
type InboundEvent struct {
	UpdateID    int64     `json:"updateId"`
	ChatID      int64     `json:"chatId"`
	MessageID   int64     `json:"messageId"`
	SenderID    string    `json:"senderId"`
	SenderName  string    `json:"senderName"`
	GroupChat   bool      `json:"groupChat,omitempty"`
	Kind        EventKind `json:"kind"`
	Text        string    `json:"text,omitempty"`
	Caption     string    `json:"caption,omitempty"`
	HasMedia    bool      `json:"hasMedia,omitempty"`
	VoiceFileID string    `json:"voiceFileId,omitempty"`
	Command     *Command  `json:"command,omitempty"`
}

// Command is a configuration command parsed at ingress.
type Command struct {
	Name   string       `json:"name"`
	Config *ConfigPatch `json:"config,omitempty"`
}
