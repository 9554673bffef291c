package claude

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/fyrsmithlabs/refacta/internal/stream"
)

// ErrNoScript is returned when a ScriptedQuerier runs out of scripts.
var ErrNoScript = errors.New("no scripted stream left")

// Script is one canned stream.
type Script struct {
	// QueryErr fails the Query call itself.
	QueryErr error
	Events   []stream.Event
	// Err is returned by Next after the events instead of io.EOF.
	Err error
	// Hang makes Next block after the events until its context is done.
	Hang bool
}

// ScriptedQuerier replays scripts in order, one per Query call. When Repeat
// is set the last script is reused once the others are consumed.
type ScriptedQuerier struct {
	Repeat bool

	mu       sync.Mutex
	scripts  []Script
	requests []stream.Request
}

// NewScriptedQuerier returns a querier that replays scripts in order.
func NewScriptedQuerier(scripts ...Script) *ScriptedQuerier {
	return &ScriptedQuerier{scripts: scripts}
}

// Query implements stream.Querier.
func (q *ScriptedQuerier) Query(ctx context.Context, req stream.Request) (stream.Stream, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.requests = append(q.requests, req)
	if len(q.scripts) == 0 {
		return nil, ErrNoScript
	}
	sc := q.scripts[0]
	if len(q.scripts) > 1 || !q.Repeat {
		q.scripts = q.scripts[1:]
	}
	if sc.QueryErr != nil {
		return nil, sc.QueryErr
	}
	return &scriptedStream{script: sc}, nil
}

// Requests returns every request received so far.
func (q *ScriptedQuerier) Requests() []stream.Request {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]stream.Request, len(q.requests))
	copy(out, q.requests)
	return out
}

type scriptedStream struct {
	mu     sync.Mutex
	script Script
	pos    int
	closed bool
}

func (s *scriptedStream) Next(ctx context.Context) (stream.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, stream.ErrStreamClosed
	}
	if s.pos < len(s.script.Events) {
		ev := s.script.Events[s.pos]
		s.pos++
		s.mu.Unlock()
		return ev, nil
	}
	sc := s.script
	s.mu.Unlock()

	if sc.Hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if sc.Err != nil {
		return nil, sc.Err
	}
	return nil, io.EOF
}

func (s *scriptedStream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// LoadScript reads a recorded stream-json transcript (one JSON object per
// line, as printed by `claude --output-format stream-json`) into a Script.
func LoadScript(r io.Reader) (Script, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	var sc Script
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		evs, err := DecodeLine(line)
		if err != nil {
			return Script{}, fmt.Errorf("line %d: %w", lineNo, err)
		}
		sc.Events = append(sc.Events, evs...)
	}
	if err := scanner.Err(); err != nil {
		return Script{}, fmt.Errorf("reading transcript: %w", err)
	}
	return sc, nil
}
