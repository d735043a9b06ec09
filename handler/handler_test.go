package handler

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/require"

	"chat-agent/internal/domain"
	"chat-agent/internal/usecase"
)

type stubConsumer struct {
	results []usecase.Result
	err     error
	in      []domain.InboundEvent
	calls   int
}

func (s *stubConsumer) ProcessBatch(_ context.Context, in []domain.InboundEvent) ([]usecase.Result, error) {
	s.calls++
	s.in = in
	return s.results, s.err
}

func makeEvent(records ...events.SQSMessage) events.SQSEvent {
	return events.SQSEvent{Records: records}
}

func record(id, body string) events.SQSMessage {
	return events.SQSMessage{MessageId: id, Body: body}
}

func failedIDs(resp events.SQSEventResponse) []string {
	var ids []string
	for _, f := range resp.BatchItemFailures {
		ids = append(ids, f.ItemIdentifier)
	}
	return ids
}

func TestNewHandler_ValidatesDependency(t *testing.T) {
	_, err := NewHandler(nil, nil)
	require.Error(t, err)
}

func TestHandle_DecodesRecords(t *testing.T) {
	c := &stubConsumer{results: []usecase.Result{{Index: 0, Outcome: usecase.OutcomeProcessed}}}
	h, err := NewHandler(c, nil)
	require.NoError(t, err)

	resp, err := h.Handle(context.Background(), makeEvent(
		record("m-1", `{"conversationContext":{"chatId":42,"messageId":7,"senderId":"100","senderName":"Olena","kind":"message","text":"hello"}}`),
	))
	require.NoError(t, err)
	require.Empty(t, resp.BatchItemFailures)
	require.Equal(t, []domain.InboundEvent{{
		ChatID:     42,
		MessageID:  7,
		SenderID:   "100",
		SenderName: "Olena",
		Kind:       domain.EventMessage,
		Text:       "hello",
	}}, c.in)
}

func TestHandle_DropsUndecodableRecords(t *testing.T) {
	c := &stubConsumer{results: []usecase.Result{{Index: 0, Outcome: usecase.OutcomeProcessed}}}
	h, err := NewHandler(c, nil)
	require.NoError(t, err)

	resp, err := h.Handle(context.Background(), makeEvent(
		record("m-1", `not-json`),
		record("m-2", `{"conversationContext":{"chatId":42,"text":"hi"}}`),
	))
	require.NoError(t, err)
	require.Empty(t, resp.BatchItemFailures)
	require.Len(t, c.in, 1)
	require.Equal(t, int64(42), c.in[0].ChatID)

	c.calls = 0
	resp, err = h.Handle(context.Background(), makeEvent(record("m-3", `[]`)))
	require.NoError(t, err)
	require.Empty(t, resp.BatchItemFailures)
	require.Zero(t, c.calls)
}

func TestHandle_ReportsOnlyRedeliverableFailures(t *testing.T) {
	c := &stubConsumer{results: []usecase.Result{
		{Index: 0, Outcome: usecase.OutcomeFailed, Err: &usecase.Error{Code: usecase.ErrorPersistence, Reason: "push_user_message"}},
		{Index: 1, Outcome: usecase.OutcomeFailed, Err: &usecase.Error{Code: usecase.ErrorUpstream, Reason: "completion_error"}},
		{Index: 2, Outcome: usecase.OutcomeFailed, Err: &usecase.Error{Code: usecase.ErrorPersistence, Reason: "push_assistant_reply"}},
		{Index: 3, Outcome: usecase.OutcomeRejected},
		{Index: 4, Outcome: usecase.OutcomeFailed, Err: errors.New("boom")},
	}}
	h, err := NewHandler(c, nil)
	require.NoError(t, err)

	body := `{"conversationContext":{"chatId":42,"text":"hi"}}`
	resp, err := h.Handle(context.Background(), makeEvent(
		record("m-1", body),
		record("m-2", body),
		record("m-3", body),
		record("m-4", body),
		record("m-5", body),
	))
	require.NoError(t, err)
	require.Equal(t, []string{"m-1"}, failedIDs(resp))
}

func TestHandle_IndexesSkipDroppedRecords(t *testing.T) {
	c := &stubConsumer{results: []usecase.Result{
		{Index: 0, Outcome: usecase.OutcomeProcessed},
		{Index: 1, Outcome: usecase.OutcomeFailed, Err: &usecase.Error{Code: usecase.ErrorPersistence, Reason: "clear_history"}},
	}}
	h, err := NewHandler(c, nil)
	require.NoError(t, err)

	body := `{"conversationContext":{"chatId":42,"text":"hi"}}`
	resp, err := h.Handle(context.Background(), makeEvent(
		record("m-1", body),
		record("m-2", `{broken`),
		record("m-3", body),
	))
	require.NoError(t, err)
	require.Equal(t, []string{"m-3"}, failedIDs(resp))
}

func TestHandle_BatchErrorRedeliversDecodedRecords(t *testing.T) {
	c := &stubConsumer{err: &usecase.Error{Code: usecase.ErrorConfig, Reason: "allow_list_load_error"}}
	h, err := NewHandler(c, nil)
	require.NoError(t, err)

	body := `{"conversationContext":{"chatId":42,"text":"hi"}}`
	resp, err := h.Handle(context.Background(), makeEvent(
		record("m-1", body),
		record("m-2", `nope`),
		record("m-3", body),
	))
	require.NoError(t, err)
	require.Equal(t, []string{"m-1", "m-3"}, failedIDs(resp))
}
