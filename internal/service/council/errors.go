package council

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by session commands. Callers classify them with
// errors.Is; messages are wrapped with detail via fmt.Errorf("%w").
var (
	ErrSessionNotFound  = errors.New("council: session not found")
	ErrInvalidState     = errors.New("council: invalid state")
	ErrSessionCompleted = fmt.Errorf("%w: session is completed", ErrInvalidState)
	ErrAlreadyInState   = errors.New("council: already in requested state")
	ErrInvalidConfig    = errors.New("council: invalid session config")
	ErrInvalidMessage   = errors.New("council: invalid message")
	ErrPersonaMissing   = errors.New("council: persona missing")
	ErrTemplateNotFound = errors.New("council: template not found")
	ErrClosed           = errors.New("council: manager closed")
	ErrInternal         = errors.New("council: internal error")
)
