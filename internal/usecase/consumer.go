package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"chat-agent/internal/conversation"
	"chat-agent/internal/dedupe"
	"chat-agent/internal/domain"
	"chat-agent/internal/integrations/telegram"
	"chat-agent/internal/liveness"
	"chat-agent/internal/retry"
)

// Messenger is the chat channel. *telegram.Client satisfies it.
type Messenger interface {
	Replier
	SendChatAction(ctx context.Context, chatID int64, action string) error
	DownloadFile(ctx context.Context, fileID string) (string, []byte, error)
	BotInfo(ctx context.Context) (telegram.User, error)
}

type Transcriber interface {
	Transcribe(ctx context.Context, filename string, audio []byte) (string, error)
}

type Responder interface {
	Respond(ctx context.Context, ev EventContext, text string) error
}

// Deduper claims events so that a redelivered copy is skipped.
// *dedupe.Store satisfies it.
type Deduper interface {
	Claim(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

// Outcome describes what happened to one event of a batch.
type Outcome string

const (
	OutcomeProcessed Outcome = "processed"
	OutcomeRejected  Outcome = "rejected"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeFailed    Outcome = "failed"
)

// Result is the outcome of the event at Index in the batch. Err is set only
// for OutcomeFailed.
type Result struct {
	Index   int
	Outcome Outcome
	Err     error
}

// ConsumerDeps are the collaborators of a Consumer. Deduper is optional.
type ConsumerDeps struct {
	Params        ParamGetter
	Conversations *conversation.Registry
	Chat          Responder
	Messenger     Messenger
	Transcriber   Transcriber
	Deduper       Deduper
	Logger        *slog.Logger
}

// ConsumerConfig tunes a Consumer.
type ConsumerConfig struct {
	ParamPrefix       string
	LivenessInterval  time.Duration
	EchoTranscription bool
	Retry             retry.Policy
}

// Consumer drains batches of queued chat events.
type Consumer struct {
	params         ParamGetter
	allowListParam string
	convs          *conversation.Registry
	chat           Responder
	messenger      Messenger
	transcriber    Transcriber
	dedupe         Deduper
	interval       time.Duration
	echo           bool
	policy         retry.Policy
	logger         *slog.Logger
}

func NewConsumer(deps ConsumerDeps, cfg ConsumerConfig) (*Consumer, error) {
	switch {
	case deps.Params == nil:
		return nil, errors.New("usecase: param getter must not be nil")
	case deps.Conversations == nil:
		return nil, errors.New("usecase: conversation registry must not be nil")
	case deps.Chat == nil:
		return nil, errors.New("usecase: chat responder must not be nil")
	case deps.Messenger == nil:
		return nil, errors.New("usecase: messenger must not be nil")
	case deps.Transcriber == nil:
		return nil, errors.New("usecase: transcriber must not be nil")
	}
	prefix := strings.TrimRight(strings.TrimSpace(cfg.ParamPrefix), "/")
	if prefix == "" {
		return nil, errors.New("usecase: parameter prefix must not be empty")
	}
	interval := cfg.LivenessInterval
	if interval <= 0 {
		interval = liveness.DefaultInterval
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		params:         deps.Params,
		allowListParam: prefix + "/allowed_senders",
		convs:          deps.Conversations,
		chat:           deps.Chat,
		messenger:      deps.Messenger,
		transcriber:    deps.Transcriber,
		dedupe:         deps.Deduper,
		interval:       interval,
		echo:           cfg.EchoTranscription,
		policy:         cfg.Retry,
		logger:         logger.With("component", "consumer"),
	}, nil
}

// ProcessBatch handles events one after another and returns one Result per
// event. A failing event never stops the rest of the batch. The error return
// is reserved for failures that affect the whole batch, such as an
// unreadable allow-list.
func (c *Consumer) ProcessBatch(ctx context.Context, events []domain.InboundEvent) ([]Result, error) {
	gate, err := LoadGate(ctx, c.params, c.allowListParam)
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(events))
	for i, in := range events {
		outcome, err := c.processOne(ctx, gate, in)
		results = append(results, Result{Index: i, Outcome: outcome, Err: err})
	}
	return results, nil
}

func (c *Consumer) processOne(ctx context.Context, gate *Gate, in domain.InboundEvent) (Outcome, error) {
	ev, err := NewEventContext(in)
	if err != nil {
		c.logger.Warn("dropping malformed event", "update_id", in.UpdateID, "err", err)
		return OutcomeFailed, err
	}
	log := c.logger.With(ev.logAttrs()...)

	key := dedupe.EventKey(ev.ChatID, ev.MessageID)
	claimed := false
	// Without a message id the key would be shared by every such event in
	// the chat.
	if c.dedupe != nil && ev.MessageID != 0 {
		ok, err := c.dedupe.Claim(ctx, key)
		switch {
		case err != nil:
			log.Warn("dedupe claim failed, processing anyway", "err", err)
		case !ok:
			log.Info("skipping duplicate event")
			return OutcomeDuplicate, nil
		default:
			claimed = true
		}
	}

	outcome, err := c.route(ctx, log, gate, ev)
	if err != nil {
		log.Error("event failed", "code", CodeOf(err), "reason", ReasonOf(err), "err", err)
		if claimed && Redeliverable(err) {
			if relErr := c.dedupe.Release(ctx, key); relErr != nil {
				log.Warn("dedupe release failed", "err", relErr)
			}
		}
		return OutcomeFailed, err
	}
	return outcome, nil
}

func (c *Consumer) route(ctx context.Context, log *slog.Logger, gate *Gate, ev EventContext) (Outcome, error) {
	switch ev.Kind {
	case domain.EventCommand:
		// Commands are authorized at ingress.
		return OutcomeProcessed, c.handleCommand(ctx, log, ev)
	case domain.EventMessage:
	default:
		log.Warn("ignoring event of unknown kind", "kind", ev.Kind)
		return OutcomeIgnored, nil
	}

	if !gate.Admit(ev.SenderID) {
		log.Info("sender not on allow-list")
		return OutcomeRejected, nil
	}

	switch kind := ev.ContentKind(); kind {
	case ContentText, ContentMedia:
		text := ev.Text
		if kind == ContentMedia {
			text = ev.Caption
		}
		text = strings.TrimSpace(c.stripMention(ctx, log, ev, text))
		if text == "" {
			log.Debug("no text left to answer", "content_kind", kind)
			return OutcomeIgnored, nil
		}
		return OutcomeProcessed, c.guarded(ctx, ev, func(ctx context.Context) error {
			return c.chat.Respond(ctx, ev, text)
		})
	case ContentVoice:
		return OutcomeProcessed, c.guarded(ctx, ev, func(ctx context.Context) error {
			return c.handleVoice(ctx, log, ev)
		})
	default:
		log.Debug("event has no supported content", "content_kind", kind)
		return OutcomeIgnored, nil
	}
}

// guarded runs fn with a typing indicator shown in the event's chat.
func (c *Consumer) guarded(ctx context.Context, ev EventContext, fn func(ctx context.Context) error) error {
	return liveness.Guard(ctx, c.interval, func(ctx context.Context) {
		if err := c.messenger.SendChatAction(ctx, ev.ChatID, telegram.ActionTyping); err != nil && ctx.Err() == nil {
			c.logger.Debug("chat action failed", "chat_id", ev.ChatID, "err", err)
		}
	}, fn)
}

func (c *Consumer) handleVoice(ctx context.Context, log *slog.Logger, ev EventContext) error {
	policy := c.policy
	policy.OnRetry = func(attempt int, err error) {
		log.Warn("retrying transcription", "attempt", attempt, "err", err)
	}
	text, err := retry.Do(ctx, policy, func(ctx context.Context) (string, error) {
		name, audio, err := c.messenger.DownloadFile(ctx, ev.VoiceFileID)
		if err != nil {
			return "", retryClass(err)
		}
		text, err := c.transcriber.Transcribe(ctx, name, audio)
		if err != nil {
			return "", retryClass(err)
		}
		return text, nil
	})
	if err != nil {
		return newError(ErrorUpstream, "transcription_error", err)
	}

	if c.echo {
		if err := c.messenger.SendMessage(ctx, ev.ChatID, "🎙 "+text, ev.MessageID); err != nil {
			log.Error("transcription echo failed", "code", ErrorDelivery, "err", err)
		}
	}
	return c.chat.Respond(ctx, ev, text)
}

// stripMention removes the bot's own @username from group messages. The text
// is used as is when the bot's identity cannot be resolved.
func (c *Consumer) stripMention(ctx context.Context, log *slog.Logger, ev EventContext, text string) string {
	if !ev.GroupChat {
		return text
	}
	bot, err := c.messenger.BotInfo(ctx)
	if err != nil {
		log.Warn("bot info unavailable", "err", err)
		return text
	}
	return telegram.StripBotMention(text, bot.Username)
}

func (c *Consumer) handleCommand(ctx context.Context, log *slog.Logger, ev EventContext) error {
	if ev.Command == nil {
		return newError(ErrorValidation, "missing_command", nil)
	}
	actor, err := c.convs.Actor(ev.ConversationID())
	if err != nil {
		return newError(ErrorValidation, "conversation_id", err)
	}

	var reply string
	switch ev.Command.Name {
	case domain.CommandSetConfig:
		if ev.Command.Config == nil || ev.Command.Config.Empty() {
			return newError(ErrorValidation, "empty_config", nil)
		}
		if err := actor.SetConfig(ctx, *ev.Command.Config); err != nil {
			return actorError("set_config", err)
		}
		cfg, err := actor.Config(ctx)
		if err != nil {
			return actorError("read_config", err)
		}
		reply = describeConfig(cfg)
	case domain.CommandClearHistory:
		n, err := actor.ClearHistory(ctx)
		if err != nil {
			return actorError("clear_history", err)
		}
		reply = fmt.Sprintf("Cleared %d messages.", n)
	default:
		return newError(ErrorValidation, "unknown_command", fmt.Errorf("command %q", ev.Command.Name))
	}

	log.Info("command applied", "command", ev.Command.Name)
	if err := c.messenger.SendMessage(ctx, ev.ChatID, reply, ev.MessageID); err != nil {
		log.Error("command reply failed", "code", ErrorDelivery, "err", err)
	}
	return nil
}

func describeConfig(cfg domain.ConversationConfig) string {
	mode := "off"
	if cfg.LearningMode {
		mode = "on"
	}
	return fmt.Sprintf("Settings updated. Languages: %s. Learning mode: %s. History cleared.",
		strings.Join(cfg.Languages, ", "), mode)
}
