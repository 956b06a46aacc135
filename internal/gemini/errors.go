package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/lexiqai/speech-coach/internal/inference"
	"github.com/lexiqai/speech-coach/internal/resilience"
	"google.golang.org/genai"
)

// kindFor maps a Gemini status to the inference error taxonomy. The HTTP
// code wins over the status string when both are present.
func kindFor(code int, status string) inference.Kind {
	switch code {
	case http.StatusTooManyRequests:
		return inference.KindRateLimited
	case http.StatusServiceUnavailable, 529:
		return inference.KindOverloaded
	}
	switch status {
	case "RESOURCE_EXHAUSTED":
		return inference.KindRateLimited
	case "UNAVAILABLE":
		return inference.KindOverloaded
	case "INTERNAL", "DEADLINE_EXCEEDED", "UNKNOWN":
		return inference.KindServerError
	}
	if code >= 500 {
		return inference.KindServerError
	}
	return inference.KindOther
}

// classify converts an SDK or transport error into an *inference.RemoteError
// so retry and failure policies can inspect its kind.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return remoteFromAPI(apiErr, err)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return remoteFromAPI(*apiErrPtr, err)
	}

	if resilience.IsRetryableNetworkError(err) {
		return &inference.RemoteError{
			Kind:    inference.KindServerError,
			Message: err.Error(),
			Err:     err,
		}
	}
	return &inference.RemoteError{Kind: inference.KindOther, Message: err.Error(), Err: err}
}

func remoteFromAPI(apiErr genai.APIError, cause error) error {
	msg := apiErr.Message
	if msg == "" {
		msg = fmt.Sprintf("request failed with status %d", apiErr.Code)
	}
	return &inference.RemoteError{
		Kind:    kindFor(apiErr.Code, apiErr.Status),
		Code:    apiErr.Code,
		Status:  apiErr.Status,
		Message: msg,
		Err:     cause,
	}
}
