package orchestrator

import "errors"

var (
	// ErrSessionClosed is returned by flows started after Close.
	ErrSessionClosed = errors.New("session closed")

	// ErrEmptyPrompt is returned when a flow is given no request text.
	ErrEmptyPrompt = errors.New("empty prompt")
)
