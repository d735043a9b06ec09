// Package handler adapts SQS batches to the queue consumer.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"chat-agent/internal/domain"
	"chat-agent/internal/usecase"
)

type BatchProcessor interface {
	ProcessBatch(ctx context.Context, events []domain.InboundEvent) ([]usecase.Result, error)
}

type Handler struct {
	consumer BatchProcessor
	logger   *slog.Logger
}

func NewHandler(p BatchProcessor, logger *slog.Logger) (*Handler, error) {
	if p == nil {
		return nil, errors.New("handler: batch processor must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{consumer: p, logger: logger.With("component", "handler")}, nil
}

// Handle decodes the batch and reports back the records SQS should deliver
// again. Records that cannot be decoded are logged and dropped since a retry
// would fail the same way.
func (h *Handler) Handle(ctx context.Context, ev events.SQSEvent) (events.SQSEventResponse, error) {
	log := h.logger.With("batch_id", uuid.NewString(), "records", len(ev.Records))

	inbound := make([]domain.InboundEvent, 0, len(ev.Records))
	messageIDs := make([]string, 0, len(ev.Records))
	for _, rec := range ev.Records {
		var body domain.QueueEvent
		if err := json.Unmarshal([]byte(rec.Body), &body); err != nil {
			log.Error("dropping undecodable record", "message_id", rec.MessageId, "err", err)
			continue
		}
		inbound = append(inbound, body.ConversationContext)
		messageIDs = append(messageIDs, rec.MessageId)
	}

	var resp events.SQSEventResponse
	if len(inbound) == 0 {
		return resp, nil
	}

	results, err := h.consumer.ProcessBatch(ctx, inbound)
	if err != nil {
		log.Error("batch failed", "code", usecase.CodeOf(err), "reason", usecase.ReasonOf(err), "err", err)
		for _, id := range messageIDs {
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: id})
		}
		return resp, nil
	}

	counts := make(map[usecase.Outcome]int)
	for _, r := range results {
		counts[r.Outcome]++
		if r.Index < 0 || r.Index >= len(messageIDs) || !usecase.Redeliverable(r.Err) {
			continue
		}
		resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: messageIDs[r.Index]})
	}
	log.Info("batch done",
		"processed", counts[usecase.OutcomeProcessed],
		"rejected", counts[usecase.OutcomeRejected],
		"duplicate", counts[usecase.OutcomeDuplicate],
		"ignored", counts[usecase.OutcomeIgnored],
		"failed", counts[usecase.OutcomeFailed],
		"redeliver", len(resp.BatchItemFailures),
	)
	return resp, nil
}
