package claude

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/refacta/internal/stream"
)

func TestScriptedQuerier_ReplaysInOrder(t *testing.T) {
	boom := errors.New("boom")
	q := NewScriptedQuerier(
		Script{Events: []stream.Event{stream.TextFragment{Text: "a"}}},
		Script{QueryErr: boom},
	)

	s, err := q.Query(context.Background(), stream.Request{Prompt: "one"})
	require.NoError(t, err)
	evs, err := drain(t, s)
	require.NoError(t, err)
	assert.Equal(t, []stream.Event{stream.TextFragment{Text: "a"}}, evs)

	_, err = q.Query(context.Background(), stream.Request{Prompt: "two"})
	assert.ErrorIs(t, err, boom)

	_, err = q.Query(context.Background(), stream.Request{Prompt: "three"})
	assert.ErrorIs(t, err, ErrNoScript)

	reqs := q.Requests()
	require.Len(t, reqs, 3)
	assert.Equal(t, "two", reqs[1].Prompt)
}

func TestScriptedQuerier_Repeat(t *testing.T) {
	q := NewScriptedQuerier(Script{Events: []stream.Event{stream.TextFragment{Text: "x"}}})
	q.Repeat = true

	for i := 0; i < 3; i++ {
		_, err := q.Query(context.Background(), stream.Request{})
		require.NoError(t, err)
	}
}

func TestScriptedStream_ErrAndHang(t *testing.T) {
	late := errors.New("late fault")
	q := NewScriptedQuerier(
		Script{Events: []stream.Event{stream.TextFragment{Text: "a"}}, Err: late},
		Script{Hang: true},
	)

	s, err := q.Query(context.Background(), stream.Request{})
	require.NoError(t, err)
	_, err = s.Next(context.Background())
	require.NoError(t, err)
	_, err = s.Next(context.Background())
	assert.ErrorIs(t, err, late)

	hang, err := q.Query(context.Background(), stream.Request{})
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = hang.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, hang.Close())
	_, err = hang.Next(context.Background())
	assert.ErrorIs(t, err, stream.ErrStreamClosed)
}

func TestLoadScript(t *testing.T) {
	sc, err := LoadScript(strings.NewReader(transcript))
	require.NoError(t, err)
	require.Len(t, sc.Events, 6)

	s := &scriptedStream{script: sc}
	for range sc.Events {
		_, err := s.Next(context.Background())
		require.NoError(t, err)
	}
	_, err = s.Next(context.Background())
	assert.ErrorIs(t, err, io.EOF)

	_, err = LoadScript(strings.NewReader("{\"type\":\"system\"}\nnot json\n"))
	assert.ErrorContains(t, err, "line 2")
}
