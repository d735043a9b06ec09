package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"chat-agent/internal/conversation"
	"chat-agent/internal/domain"
	"chat-agent/internal/integrations/telegram"
	"chat-agent/internal/tools"
)

const testPrefix = "/chat-agent"

type mockParams struct {
	mu    sync.Mutex
	vals  map[string]string
	err   error
	calls map[string]int
}

func newMockParams(allowed string) *mockParams {
	return &mockParams{vals: map[string]string{
		testPrefix + "/config/openai_model": "gpt-test",
		testPrefix + "/allowed_senders":     allowed,
	}}
}

func (m *mockParams) GetParameter(_ context.Context, name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.calls == nil {
		m.calls = map[string]int{}
	}
	m.calls[name]++
	if m.err != nil {
		return "", m.err
	}
	v, ok := m.vals[name]
	if !ok {
		return "", fmt.Errorf("param not found: %s", name)
	}
	return v, nil
}

func (m *mockParams) callsFor(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[name]
}

// memStore is an in-memory conversation.Store that counts its calls.
type memStore struct {
	mu     sync.Mutex
	states map[domain.ConversationID]domain.ConversationState
	gets   int
	puts   int
	getErr error
	putErr error
}

func newMemStore() *memStore {
	return &memStore{states: map[domain.ConversationID]domain.ConversationState{}}
}

func (m *memStore) GetState(_ context.Context, id domain.ConversationID) (domain.ConversationState, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	if m.getErr != nil {
		return domain.ConversationState{}, false, m.getErr
	}
	s, ok := m.states[id]
	if !ok {
		return domain.ConversationState{ConversationID: id}, false, nil
	}
	s.Messages = append([]domain.ChatMessage(nil), s.Messages...)
	return s, true, nil
}

func (m *memStore) PutState(_ context.Context, s domain.ConversationState) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.puts++
	if m.putErr != nil {
		return 0, m.putErr
	}
	s.Version++
	m.states[s.ConversationID] = s
	return s.Version, nil
}

func (m *memStore) calls() (gets, puts int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gets, m.puts
}

func (m *memStore) messages(id domain.ConversationID) []domain.ChatMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.ChatMessage(nil), m.states[id].Messages...)
}

type completionStep struct {
	out  domain.Completion
	err  error
	wait time.Duration
}

type fakeCompleter struct {
	mu    sync.Mutex
	steps []completionStep
	calls int
	seen  [][]domain.ChatMessage
	tools [][]domain.ToolSpec
}

func (f *fakeCompleter) Complete(_ context.Context, _ string, msgs []domain.ChatMessage, specs []domain.ToolSpec) (domain.Completion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.steps) > 0 {
		if wait := f.steps[min(f.calls, len(f.steps)-1)].wait; wait > 0 {
			time.Sleep(wait)
		}
	}
	f.seen = append(f.seen, append([]domain.ChatMessage(nil), msgs...))
	f.tools = append(f.tools, specs)
	if len(f.steps) == 0 {
		f.calls++
		return domain.Completion{}, errors.New("no completion configured")
	}
	idx := min(f.calls, len(f.steps)-1)
	f.calls++
	return f.steps[idx].out, f.steps[idx].err
}

func (f *fakeCompleter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func textCompletion(s string) completionStep {
	return completionStep{out: domain.Completion{Choices: []domain.Choice{{Message: &domain.ChatMessage{Role: domain.RoleAssistant, Content: domain.Text(s)}}}}}
}

func toolCompletion(calls ...domain.ToolCall) completionStep {
	return completionStep{out: domain.Completion{Choices: []domain.Choice{{Message: &domain.ChatMessage{Role: domain.RoleAssistant, ToolCalls: calls}}}}}
}

func toolCall(id, name, args string) domain.ToolCall {
	return domain.ToolCall{ID: id, Type: "function", Function: domain.FunctionCall{Name: name, Arguments: args}}
}

type sentMessage struct {
	chatID  int64
	text    string
	replyTo int64
}

type fakeMessenger struct {
	mu       sync.Mutex
	sent     []sentMessage
	actions  int
	sendErr  error
	file     []byte
	fileErrs []error
	files    int
	botUser  string
	botErr   error
}

func (f *fakeMessenger) SendMessage(_ context.Context, chatID int64, text string, replyTo int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, sentMessage{chatID: chatID, text: text, replyTo: replyTo})
	return nil
}

func (f *fakeMessenger) SendChatAction(_ context.Context, _ int64, action string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if action != telegram.ActionTyping {
		return fmt.Errorf("unexpected action %q", action)
	}
	f.actions++
	return nil
}

func (f *fakeMessenger) DownloadFile(_ context.Context, _ string) (string, []byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files++
	if len(f.fileErrs) > 0 {
		err := f.fileErrs[0]
		f.fileErrs = f.fileErrs[1:]
		if err != nil {
			return "", nil, err
		}
	}
	return "voice.oga", f.file, nil
}

func (f *fakeMessenger) BotInfo(context.Context) (telegram.User, error) {
	if f.botErr != nil {
		return telegram.User{}, f.botErr
	}
	return telegram.User{ID: 1, IsBot: true, Username: f.botUser}, nil
}

func (f *fakeMessenger) sentTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.sent))
	for _, m := range f.sent {
		out = append(out, m.text)
	}
	return out
}

func (f *fakeMessenger) actionCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.actions
}

type fakeTranscriber struct {
	text  string
	errs  []error
	calls int
}

func (f *fakeTranscriber) Transcribe(_ context.Context, _ string, _ []byte) (string, error) {
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return "", err
		}
	}
	return f.text, nil
}

type fakeTools struct {
	specs      []domain.ToolSpec
	results    map[string]string
	err        error
	dispatched []domain.ToolCall
}

func newFakeTools() *fakeTools {
	return &fakeTools{
		specs:   []domain.ToolSpec{{Name: "add_to_list", Parameters: []byte(`{"type":"object"}`)}},
		results: map[string]string{"add_to_list": `Added "milk" to the list.`},
	}
}

func (f *fakeTools) Specs() []domain.ToolSpec { return f.specs }

func (f *fakeTools) Validate(call domain.ToolCall) error {
	for _, spec := range f.specs {
		if spec.Name == call.Function.Name {
			return nil
		}
	}
	return &tools.ValidationError{Tool: call.Function.Name, Reason: "unknown tool"}
}

func (f *fakeTools) Dispatch(_ context.Context, call domain.ToolCall) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.dispatched = append(f.dispatched, call)
	return f.results[call.Function.Name], nil
}

type fakeDeduper struct {
	claims   map[string]bool
	claimErr error
	released []string
}

func (f *fakeDeduper) Claim(_ context.Context, key string) (bool, error) {
	if f.claimErr != nil {
		return false, f.claimErr
	}
	if f.claims == nil {
		f.claims = map[string]bool{}
	}
	if f.claims[key] {
		return false, nil
	}
	f.claims[key] = true
	return true, nil
}

func (f *fakeDeduper) Release(_ context.Context, key string) error {
	delete(f.claims, key)
	f.released = append(f.released, key)
	return nil
}

// fixture wires a ChatService and a Consumer over fakes.
type fixture struct {
	params    *mockParams
	store     *memStore
	convs     *conversation.Registry
	llm       *fakeCompleter
	tools     *fakeTools
	messenger *fakeMessenger
	voice     *fakeTranscriber
	dedupe    *fakeDeduper
	chat      *ChatService
	consumer  *Consumer
}

type fixtureOptions struct {
	followUp bool
	echo     bool
	dedupe   bool
}

func newFixture(t *testing.T, opts fixtureOptions, steps ...completionStep) *fixture {
	t.Helper()
	f := &fixture{
		params:    newMockParams(`["100","200"]`),
		store:     newMemStore(),
		llm:       &fakeCompleter{steps: steps},
		tools:     newFakeTools(),
		messenger: &fakeMessenger{botUser: "lingo_bot", file: []byte("OggS")},
		voice:     &fakeTranscriber{text: "buy milk"},
	}
	var err error
	f.convs, err = conversation.NewRegistry(f.store, 20)
	require.NoError(t, err)

	f.chat, err = NewChatService(f.params, testPrefix, f.convs, f.llm, f.tools, f.messenger, ChatOptions{ToolFollowUp: opts.followUp})
	require.NoError(t, err)

	deps := ConsumerDeps{
		Params:        f.params,
		Conversations: f.convs,
		Chat:          f.chat,
		Messenger:     f.messenger,
		Transcriber:   f.voice,
	}
	if opts.dedupe {
		f.dedupe = &fakeDeduper{}
		deps.Deduper = f.dedupe
	}
	f.consumer, err = NewConsumer(deps, ConsumerConfig{
		ParamPrefix:       testPrefix,
		LivenessInterval:  5 * time.Millisecond,
		EchoTranscription: opts.echo,
	})
	require.NoError(t, err)
	return f
}

func textEvent(chatID, messageID int64, sender, text string) domain.InboundEvent {
	return domain.InboundEvent{
		ChatID:     chatID,
		MessageID:  messageID,
		SenderID:   sender,
		SenderName: "Olena Petrenko",
		Kind:       domain.EventMessage,
		Text:       text,
	}
}

func testEventContext(t *testing.T, in domain.InboundEvent) EventContext {
	t.Helper()
	ev, err := NewEventContext(in)
	require.NoError(t, err)
	return ev
}
