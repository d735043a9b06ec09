package domain

// Role is the author role of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ChatMessage is the provider-agnostic chat message shape used by the
// conversation actor and LLM integrations. Content is nil for assistant
// messages that only request tool calls.
type ChatMessage struct {
	Role       Role       `json:"role"`
	Content    *string    `json:"content"`
	Name       string     `json:"name,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
}

// ToolCall is a structured function invocation requested by the model.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall names the function and carries its raw JSON arguments.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolSpec advertises a callable function to the completion endpoint.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  []byte
}

// Choice is one completion alternative.
type Choice struct {
	Message *ChatMessage
}

// Completion is the result of a completion call.
type Completion struct {
	Choices []Choice
}

// Text returns a pointer to s, for building message content.
func Text(s string) *string {
	return &s
}

// TextOf returns the message content or "" when it is null.
func (m ChatMessage) TextOf() string {
	if m.Content == nil {
		return ""
	}
	return *m.Content
}

// SystemMessage builds a system-role message.
func SystemMessage(content string) ChatMessage {
	return ChatMessage{Role: RoleSystem, Content: Text(content)}
}

// UserMessage builds a user-role message with an optional author label.
func UserMessage(content, name string) ChatMessage {
	return ChatMessage{Role: RoleUser, Content: Text(content), Name: name}
}

// AssistantMessage builds an assistant-role reply.
func AssistantMessage(content string) ChatMessage {
	return ChatMessage{Role: RoleAssistant, Content: Text(content)}
}

// ToolResultMessage builds the tool message answering callID.
func ToolResultMessage(callID, content string) ChatMessage {
	return ChatMessage{Role: RoleTool, Content: Text(content), ToolCallID: callID}
}
