package stream

import (
	"context"
	"errors"
)

// ErrStreamClosed is returned by Next after Close.
var ErrStreamClosed = errors.New("stream closed")

// Request is one streaming turn sequence.
type Request struct {
	Model        string
	SystemPrompt string
	Tools        []string
	MaxTurns     int
	ResumeToken  string
	WorkDir      string
	Prompt       string
}

// Stream yields events in order. Next returns io.EOF after the last event.
type Stream interface {
	Next(ctx context.Context) (Event, error)
	Close() error
}

// Querier opens streams.
type Querier interface {
	Query(ctx context.Context, req Request) (Stream, error)
}

// QuerierFunc adapts a function to Querier.
type QuerierFunc func(ctx context.Context, req Request) (Stream, error)

// Query implements Querier.
func (f QuerierFunc) Query(ctx context.Context, req Request) (Stream, error) {
	return f(ctx, req)
}
