package router

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/fyrsmithlabs/refacta/internal/stream"
)

// Classifier answers a single-turn routing question.
type Classifier interface {
	Classify(ctx context.Context, system, prompt string) (string, error)
}

// ClassifierFunc adapts a function to Classifier.
type ClassifierFunc func(ctx context.Context, system, prompt string) (string, error)

// Classify implements Classifier.
func (f ClassifierFunc) Classify(ctx context.Context, system, prompt string) (string, error) {
	return f(ctx, system, prompt)
}

// QuerierClassifier runs classification through a streaming Querier with
// one turn and no tools.
type QuerierClassifier struct {
	Querier stream.Querier
	Model   string
	WorkDir string
}

// Classify implements Classifier by concatenating every text fragment of a
// single-turn stream.
func (c *QuerierClassifier) Classify(ctx context.Context, system, prompt string) (string, error) {
	s, err := c.Querier.Query(ctx, stream.Request{
		Model:        c.Model,
		SystemPrompt: system,
		MaxTurns:     1,
		WorkDir:      c.WorkDir,
		Prompt:       prompt,
	})
	if err != nil {
		return "", err
	}
	defer s.Close()

	var b strings.Builder
	for {
		ev, err := s.Next(ctx)
		if errors.Is(err, io.EOF) {
			return b.String(), nil
		}
		if err != nil {
			if b.Len() > 0 {
				return b.String(), nil
			}
			return "", err
		}
		if t, ok := ev.(stream.TextFragment); ok {
			b.WriteString(t.Text)
		}
	}
}
