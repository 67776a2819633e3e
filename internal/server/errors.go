package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/ashita-ai/council/internal/model"
	"github.com/ashita-ai/council/internal/persona"
	"github.com/ashita-ai/council/internal/service/council"
	"github.com/ashita-ai/council/internal/storage"
)

// classify maps a domain error to its wire code and HTTP status. Unknown
// errors are internal.
func classify(err error) (code string, status int) {
	switch {
	case errors.Is(err, council.ErrSessionNotFound),
		errors.Is(err, council.ErrTemplateNotFound),
		errors.Is(err, persona.ErrNotFound),
		errors.Is(err, storage.ErrNotFound):
		return model.ErrCodeNotFound, http.StatusNotFound
	case errors.Is(err, council.ErrAlreadyInState):
		return model.ErrCodeNoOp, http.StatusConflict
	case errors.Is(err, council.ErrInvalidState):
		return model.ErrCodeInvalidState, http.StatusConflict
	case errors.Is(err, council.ErrInvalidConfig),
		errors.Is(err, council.ErrInvalidMessage),
		errors.Is(err, persona.ErrInvalid):
		return model.ErrCodeInvalidInput, http.StatusBadRequest
	case errors.Is(err, council.ErrPersonaMissing):
		return model.ErrCodeProvisioningFailed, http.StatusUnprocessableEntity
	default:
		return model.ErrCodeInternalError, http.StatusInternalServerError
	}
}

// clientMessage is the error text shown to clients. Internal failures are
// reported generically; their detail only goes to the log.
func clientMessage(err error, code string) string {
	if code == model.ErrCodeInternalError {
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			return "command timed out"
		case errors.Is(err, council.ErrClosed):
			return "server is shutting down"
		}
		return "internal error"
	}
	msg := err.Error()
	for _, prefix := range []string{"council: ", "persona: ", "storage: "} {
		msg = strings.TrimPrefix(msg, prefix)
	}
	return msg
}
