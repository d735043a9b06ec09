package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"chat-agent/internal/conversation"
	"chat-agent/internal/domain"
	"chat-agent/internal/retry"
	"chat-agent/internal/tools"
)

type ParamGetter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

type Completer interface {
	Complete(ctx context.Context, model string, messages []domain.ChatMessage, tools []domain.ToolSpec) (domain.Completion, error)
}

type ToolDispatcher interface {
	Specs() []domain.ToolSpec
	Validate(call domain.ToolCall) error
	Dispatch(ctx context.Context, call domain.ToolCall) (string, error)
}

// Replier delivers text to a chat, quoting replyTo when it is non-zero.
type Replier interface {
	SendMessage(ctx context.Context, chatID int64, text string, replyTo int64) error
}

// ChatOptions tunes a ChatService.
type ChatOptions struct {
	Retry retry.Policy
	// ToolFollowUp runs a second completion after tool calls and sends its
	// reply instead of the tools' confirmations.
	ToolFollowUp bool
	Logger       *slog.Logger
}

// ChatService turns a user message into an assistant reply, keeping the
// conversation history in step.
type ChatService struct {
	params      ParamGetter
	paramPrefix string
	convs       *conversation.Registry
	llm         Completer
	tools       ToolDispatcher
	replier     Replier
	policy      retry.Policy
	followUp    bool
	logger      *slog.Logger

	cacheMu     sync.RWMutex
	cacheLoaded bool
	openaiModel string
}

func NewChatService(p ParamGetter, paramPrefix string, convs *conversation.Registry, llm Completer, td ToolDispatcher, r Replier, opts ChatOptions) (*ChatService, error) {
	if p == nil {
		return nil, errors.New("usecase: param getter must not be nil")
	}
	if convs == nil {
		return nil, errors.New("usecase: conversation registry must not be nil")
	}
	if llm == nil {
		return nil, errors.New("usecase: completer must not be nil")
	}
	if td == nil {
		return nil, errors.New("usecase: tool dispatcher must not be nil")
	}
	if r == nil {
		return nil, errors.New("usecase: replier must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("usecase: parameter prefix must not be empty")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatService{
		params:      p,
		paramPrefix: paramPrefix,
		convs:       convs,
		llm:         llm,
		tools:       td,
		replier:     r,
		policy:      opts.Retry,
		followUp:    opts.ToolFollowUp,
		logger:      logger.With("component", "chat"),
	}, nil
}

// Respond records text as a user turn, asks the model for a reply and
// delivers it. Delivery failures are logged; every other failure is returned
// as an *Error.
func (s *ChatService) Respond(ctx context.Context, ev EventContext, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return newError(ErrorValidation, "empty_message", nil)
	}
	log := s.logger.With(ev.logAttrs()...)

	actor, err := s.convs.Actor(ev.ConversationID())
	if err != nil {
		return newError(ErrorValidation, "conversation_id", err)
	}
	model, err := s.ensureModel(ctx)
	if err != nil {
		return newError(ErrorConfig, "ssm_load_error", err)
	}

	window, err := actor.PushMessage(ctx, domain.UserMessage(text, AuthorLabel(ev.SenderName)))
	if err != nil {
		return actorError("push_user_message", err)
	}

	msg, err := s.complete(ctx, log, model, window, s.tools.Specs())
	if err != nil {
		return err
	}
	if msg == nil {
		log.Warn("completion returned an empty choice")
		return nil
	}
	if len(msg.ToolCalls) > 0 {
		return s.runTools(ctx, log, ev, actor, model, *msg)
	}
	return s.reply(ctx, log, ev, actor, msg.TextOf())
}

func (s *ChatService) complete(ctx context.Context, log *slog.Logger, model string, window conversation.Window, specs []domain.ToolSpec) (*domain.ChatMessage, error) {
	policy := s.policy
	policy.OnRetry = func(attempt int, err error) {
		log.Warn("retrying completion", "attempt", attempt, "err", err)
	}
	res, err := retry.Do(ctx, policy, func(ctx context.Context) (domain.Completion, error) {
		c, err := s.llm.Complete(ctx, model, window, specs)
		if err != nil {
			return domain.Completion{}, retryClass(err)
		}
		if len(c.Choices) == 0 {
			return domain.Completion{}, retry.Invalid("completion without choices")
		}
		return c, nil
	})
	if err != nil {
		return nil, newError(ErrorUpstream, "completion_error", err)
	}
	return res.Choices[0].Message, nil
}

// runTools validates every requested call before running any of them, so a
// rejected call leaves neither tool side effects nor history behind. The
// assistant request and its results are then appended in one write.
func (s *ChatService) runTools(ctx context.Context, log *slog.Logger, ev EventContext, actor *conversation.Actor, model string, msg domain.ChatMessage) error {
	for _, call := range msg.ToolCalls {
		if err := s.tools.Validate(call); err != nil {
			return newError(ErrorValidation, "tool_call_invalid", err)
		}
	}

	turn := make([]domain.ChatMessage, 0, len(msg.ToolCalls)+1)
	turn = append(turn, domain.ChatMessage{Role: domain.RoleAssistant, Content: msg.Content, ToolCalls: msg.ToolCalls})
	acks := make([]string, 0, len(msg.ToolCalls))
	for _, call := range msg.ToolCalls {
		out, err := s.tools.Dispatch(ctx, call)
		if err != nil {
			if tools.IsValidation(err) {
				return newError(ErrorValidation, "tool_call_invalid", err)
			}
			return newError(ErrorUpstream, "tool_call_failed", err)
		}
		log.Info("tool call executed", "tool", call.Function.Name, "call_id", call.ID)
		turn = append(turn, domain.ToolResultMessage(call.ID, out))
		acks = append(acks, out)
	}

	window, err := actor.PushMessages(ctx, turn...)
	if err != nil {
		return actorError("push_tool_results", err)
	}

	if !s.followUp {
		s.deliver(ctx, log, ev, strings.Join(acks, "\n"))
		return nil
	}
	follow, err := s.complete(ctx, log, model, window, s.tools.Specs())
	if err != nil {
		return err
	}
	if follow == nil {
		log.Warn("follow-up completion returned an empty choice")
		return nil
	}
	return s.reply(ctx, log, ev, actor, follow.TextOf())
}

func (s *ChatService) reply(ctx context.Context, log *slog.Logger, ev EventContext, actor *conversation.Actor, content string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		log.Info("completion carried neither content nor tool calls")
		return nil
	}
	s.deliver(ctx, log, ev, content)
	if _, err := actor.PushMessage(ctx, domain.AssistantMessage(content)); err != nil {
		return actorError("push_assistant_reply", err)
	}
	return nil
}

// deliver sends text to the event's chat. A failed send is logged only, so
// the reply still lands in the history.
func (s *ChatService) deliver(ctx context.Context, log *slog.Logger, ev EventContext, text string) {
	if err := s.replier.SendMessage(ctx, ev.ChatID, text, ev.MessageID); err != nil {
		log.Error("reply delivery failed", "code", ErrorDelivery, "err", err)
	}
}

func (s *ChatService) ensureModel(ctx context.Context) (string, error) {
	s.cacheMu.RLock()
	if s.cacheLoaded {
		model := s.openaiModel
		s.cacheMu.RUnlock()
		return model, nil
	}
	s.cacheMu.RUnlock()

	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if s.cacheLoaded {
		return s.openaiModel, nil
	}

	model, err := s.params.GetParameter(ctx, s.paramPrefix+"/config/openai_model")
	if err != nil {
		return "", fmt.Errorf("usecase: load openai model: %w", err)
	}
	model = strings.TrimSpace(model)
	if model == "" {
		return "", errors.New("usecase: openai model parameter is empty")
	}
	s.openaiModel = model
	s.cacheLoaded = true
	return model, nil
}
