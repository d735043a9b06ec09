package main

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"chat-agent/handler"
	"chat-agent/internal/conversation"
	"chat-agent/internal/dedupe"
	"chat-agent/internal/integrations/openai"
	"chat-agent/internal/integrations/paramstore"
	"chat-agent/internal/integrations/telegram"
	"chat-agent/internal/integrations/todoist"
	"chat-agent/internal/repository"
	"chat-agent/internal/retry"
	"chat-agent/internal/tools"
	"chat-agent/internal/usecase"
)

func main() {
	ctx := context.Background()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// ---- Configuration (read only here) ----
	stateTable := mustEnv("STATE_TABLE")
	paramPrefix := strings.TrimRight(mustEnv("PARAM_PREFIX"), "/")
	historyLimit := envInt("HISTORY_LIMIT", conversation.DefaultHistoryLimit)
	policy := retry.Policy{
		MaxAttempts: envInt("MAX_ATTEMPTS", retry.DefaultMaxAttempts),
		Delay:       envDuration("RETRY_DELAY_MS", 0),
	}
	livenessInterval := envDuration("LIVENESS_INTERVAL_MS", 4*time.Second)
	echoTranscription := envBool("ECHO_TRANSCRIPTION", false)
	toolFollowUp := envBool("TOOL_FOLLOW_UP", false)
	redisURL := os.Getenv("REDIS_URL")
	dedupeTTL := time.Duration(envInt("DEDUPE_TTL_SECONDS", int(dedupe.DefaultTTL/time.Second))) * time.Second

	// ---- AWS SDK config ----
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		fatal("failed to load AWS config", err)
	}

	// ---- Clients ----
	ssmClient, err := paramstore.New(awsssm.NewFromConfig(cfg))
	if err != nil {
		fatal("failed to create SSM client", err)
	}
	stateClient, err := repository.New(awsdynamodb.NewFromConfig(cfg), stateTable)
	if err != nil {
		fatal("failed to create state client", err)
	}

	openaiClient, err := openai.NewClient(mustTokenSource(ssmClient, paramPrefix+"/open-ai-token"))
	if err != nil {
		fatal("failed to create OpenAI client", err)
	}
	telegramClient, err := telegram.NewClient(mustTokenSource(ssmClient, paramPrefix+"/telegram-token"))
	if err != nil {
		fatal("failed to create Telegram client", err)
	}
	todoistClient, err := todoist.NewClient(
		mustTokenSource(ssmClient, paramPrefix+"/todoist-token"),
		todoist.WithProject(os.Getenv("TODOIST_PROJECT_ID"), os.Getenv("TODOIST_SECTION_ID")),
	)
	if err != nil {
		fatal("failed to create Todoist client", err)
	}

	// ---- Domain ----
	dispatcher, err := tools.NewDispatcher(todoistClient)
	if err != nil {
		fatal("failed to create tool dispatcher", err)
	}
	registry, err := conversation.NewRegistry(stateClient, historyLimit)
	if err != nil {
		fatal("failed to create conversation registry", err)
	}
	chat, err := usecase.NewChatService(ssmClient, paramPrefix, registry, openaiClient, dispatcher, telegramClient, usecase.ChatOptions{
		Retry:        policy,
		ToolFollowUp: toolFollowUp,
		Logger:       logger,
	})
	if err != nil {
		fatal("failed to create chat service", err)
	}

	deps := usecase.ConsumerDeps{
		Params:        ssmClient,
		Conversations: registry,
		Chat:          chat,
		Messenger:     telegramClient,
		Transcriber:   openaiClient,
		Logger:        logger,
	}
	if redisURL != "" {
		rdb, err := dedupe.Open(ctx, redisURL)
		if err != nil {
			// Redelivered events are processed twice without it, nothing worse.
			logger.Warn("dedupe disabled", "err", err)
		} else {
			store, err := dedupe.New(rdb, "chat-agent", dedupeTTL)
			if err != nil {
				fatal("failed to create dedupe store", err)
			}
			deps.Deduper = store
		}
	}
	consumer, err := usecase.NewConsumer(deps, usecase.ConsumerConfig{
		ParamPrefix:       paramPrefix,
		LivenessInterval:  livenessInterval,
		EchoTranscription: echoTranscription,
		Retry:             policy,
	})
	if err != nil {
		fatal("failed to create consumer", err)
	}

	// ---- Handler ----
	h, err := handler.NewHandler(consumer, logger)
	if err != nil {
		fatal("failed to create handler", err)
	}

	lambda.Start(h.Handle)
}

func fatal(msg string, err error) {
	slog.Error(msg, "err", err)
	os.Exit(1)
}

func mustTokenSource(g paramstore.Getter, name string) *paramstore.TokenSource {
	ts, err := paramstore.NewTokenSource(g, name)
	if err != nil {
		fatal("failed to create token source", err)
	}
	return ts
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		slog.Error("required environment variable is not set", "key", key)
		os.Exit(1)
	}
	return v
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// envDuration reads a millisecond count.
func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	ms, err := strconv.Atoi(v)
	if err != nil || ms < 0 {
		return def
	}
	return time.Duration(ms) * time.Millisecond
}
