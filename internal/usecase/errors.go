package usecase

import (
	"errors"
	"fmt"
	"net/http"

	"chat-agent/internal/conversation"
	"chat-agent/internal/retry"
)

type ErrorCode string

const (
	ErrorUpstream    ErrorCode = "UPSTREAM"
	ErrorValidation  ErrorCode = "VALIDATION"
	ErrorDelivery    ErrorCode = "DELIVERY"
	ErrorPersistence ErrorCode = "PERSISTENCE"
	ErrorConfig      ErrorCode = "CONFIG"
	ErrorInternal    ErrorCode = "INTERNAL"
)

type Error struct {
	Code   ErrorCode
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("usecase: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("usecase: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}

// CodeOf returns the code of the first *Error in err's chain, or
// ErrorInternal when there is none.
func CodeOf(err error) ErrorCode {
	var ue *Error
	if errors.As(err, &ue) {
		return ue.Code
	}
	return ErrorInternal
}

// ReasonOf returns the reason of the first *Error in err's chain.
func ReasonOf(err error) string {
	var ue *Error
	if errors.As(err, &ue) {
		return ue.Reason
	}
	return ""
}

// afterSideEffect lists persistence failures that happen once the user has
// already seen a reply or a tool has already run.
var afterSideEffect = map[string]bool{
	"push_tool_results":    true,
	"push_assistant_reply": true,
}

// Redeliverable reports whether the queue should deliver the event again.
// Only persistence failures that precede any visible effect qualify.
func Redeliverable(err error) bool {
	if err == nil || CodeOf(err) != ErrorPersistence {
		return false
	}
	return !afterSideEffect[ReasonOf(err)]
}

// actorError classifies an error returned by a conversation actor.
func actorError(reason string, err error) *Error {
	if errors.Is(err, conversation.ErrInvalidMessage) || errors.Is(err, conversation.ErrInvalidConfig) {
		return newError(ErrorValidation, reason, err)
	}
	return newError(ErrorPersistence, reason, err)
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

func upstreamStatusCode(err error) (int, bool) {
	var statusErr httpStatusCoder
	if !errors.As(err, &statusErr) {
		return 0, false
	}
	return statusErr.HTTPStatusCode(), true
}

// retryClass marks client errors other than timeouts and rate limits as
// permanent so the retry loop gives up at once.
func retryClass(err error) error {
	status, ok := upstreamStatusCode(err)
	if !ok || status < 400 || status >= 500 {
		return err
	}
	if status == http.StatusRequestTimeout || status == http.StatusTooManyRequests {
		return err
	}
	return retry.Permanent(err)
}
