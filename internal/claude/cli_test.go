package claude

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/refacta/internal/logging"
	"github.com/fyrsmithlabs/refacta/internal/stream"
)

// fakeClaude writes an executable shell script standing in for the CLI.
func fakeClaude(t *testing.T, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script fixture")
	}
	path := filepath.Join(t.TempDir(), "claude")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script+"\n"), 0o755))
	return path
}

func catTranscript(t *testing.T, lines string) string {
	t.Helper()
	data := filepath.Join(t.TempDir(), "transcript.jsonl")
	require.NoError(t, os.WriteFile(data, []byte(lines), 0o644))
	return "cat " + data
}

func drain(t *testing.T, s stream.Stream) ([]stream.Event, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var out []stream.Event
	for {
		ev, err := s.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			return out, err
		}
		out = append(out, ev)
	}
}

func TestCLI_Args(t *testing.T) {
	c := NewCLI(CLIOptions{ExtraArgs: []string{"--permission-mode", "acceptEdits"}})
	args := c.Args(stream.Request{
		Prompt:       "fix it",
		MaxTurns:     20,
		Tools:        []string{"Read", "Edit"},
		SystemPrompt: "You are python-refactorer.",
		ResumeToken:  "tok-1",
		Model:        "haiku",
	})

	assert.Equal(t, []string{
		"-p", "fix it",
		"--output-format", "stream-json",
		"--verbose",
		"--max-turns", "20",
		"--allowedTools", "Read,Edit",
		"--append-system-prompt", "You are python-refactorer.",
		"--resume", "tok-1",
		"--model", "haiku",
		"--permission-mode", "acceptEdits",
	}, args)

	minimal := c.Args(stream.Request{Prompt: "hi"})
	assert.Equal(t, []string{"-p", "hi", "--output-format", "stream-json", "--verbose", "--permission-mode", "acceptEdits"}, minimal)
}

func TestCLI_StreamsTranscript(t *testing.T) {
	bin := fakeClaude(t, "echo 'not json banner'\n"+catTranscript(t, transcript))
	c := NewCLI(CLIOptions{Binary: bin})

	s, err := c.Query(context.Background(), stream.Request{Prompt: "fix", WorkDir: t.TempDir()})
	require.NoError(t, err)
	defer s.Close()

	evs, err := drain(t, s)
	require.NoError(t, err)
	require.Len(t, evs, 6)
	assert.Equal(t, stream.KindSystemInit, evs[0].Kind())
	assert.Equal(t, stream.TextFragment{Text: "Done."}, evs[4])
	assert.Equal(t, "tok-1", evs[5].(stream.Terminal).ContinuationToken)
}

func TestCLI_LogsUndecodableLines(t *testing.T) {
	bin := fakeClaude(t, "echo 'not json banner'\n"+catTranscript(t, transcript))
	tl := logging.NewTestLogger()
	c := NewCLI(CLIOptions{Binary: bin, Logger: tl.Logger})

	s, err := c.Query(context.Background(), stream.Request{Prompt: "fix", WorkDir: t.TempDir()})
	require.NoError(t, err)
	defer s.Close()

	evs, err := drain(t, s)
	require.NoError(t, err)
	require.Len(t, evs, 6)

	skipped := tl.FilterMessage("skipping undecodable claude output").All()
	require.Len(t, skipped, 1)
	assert.Equal(t, "not json banner", skipped[0].ContextMap()["line"])
}

func TestCLI_FailureAfterContentKeepsEvents(t *testing.T) {
	bin := fakeClaude(t, catTranscript(t, transcript)+"\necho 'connection reset' >&2\nexit 1")
	c := NewCLI(CLIOptions{Binary: bin})

	s, err := c.Query(context.Background(), stream.Request{Prompt: "fix"})
	require.NoError(t, err)
	defer s.Close()

	evs, err := drain(t, s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	assert.Len(t, evs, 6, "events before the fault are delivered")
}

func TestCLI_TurnCapExitIsNotAFault(t *testing.T) {
	line := `{"type":"result","subtype":"error_max_turns","is_error":true,"num_turns":2,"session_id":"tok-2","total_cost_usd":0.001,"usage":{"input_tokens":5,"output_tokens":1}}` + "\n"
	bin := fakeClaude(t, catTranscript(t, line)+"\nexit 1")
	c := NewCLI(CLIOptions{Binary: bin})

	s, err := c.Query(context.Background(), stream.Request{Prompt: "fix", MaxTurns: 2})
	require.NoError(t, err)
	defer s.Close()

	evs, err := drain(t, s)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.True(t, evs[0].(stream.Terminal).TurnCapReached)
}

func TestCLI_RateLimitFromStderr(t *testing.T) {
	bin := fakeClaude(t, "echo 'Error: 429 Too Many Requests' >&2\nexit 1")
	c := NewCLI(CLIOptions{Binary: bin})

	s, err := c.Query(context.Background(), stream.Request{Prompt: "fix"})
	require.NoError(t, err)
	defer s.Close()

	_, err = drain(t, s)
	var rl *RateLimitError
	require.ErrorAs(t, err, &rl)
	assert.Equal(t, "claude-cli", rl.Provider)
}

func TestCLI_CloseKillsProcess(t *testing.T) {
	bin := fakeClaude(t, `echo '{"type":"assistant","message":{"content":[{"type":"text","text":"working"}]}}'
exec sleep 30`)
	c := NewCLI(CLIOptions{Binary: bin})

	s, err := c.Query(context.Background(), stream.Request{Prompt: "fix"})
	require.NoError(t, err)

	ev, err := s.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, stream.TextFragment{Text: "working"}, ev)

	closed := make(chan struct{})
	go func() {
		_ = s.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(10 * time.Second):
		t.Fatal("Close did not return")
	}
}

func TestCLI_MissingBinary(t *testing.T) {
	c := NewCLI(CLIOptions{Binary: filepath.Join(t.TempDir(), "does-not-exist")})
	_, err := c.Query(context.Background(), stream.Request{Prompt: "x"})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "starting"))
}

func TestTailBuffer(t *testing.T) {
	b := &tailBuffer{limit: 4}
	_, _ = b.Write([]byte("abc"))
	_, _ = b.Write([]byte("defg"))
	assert.Equal(t, "defg", b.String())
}
