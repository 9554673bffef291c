package orchestrator

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/refacta/internal/claude"
	"github.com/fyrsmithlabs/refacta/internal/continuation"
	"github.com/fyrsmithlabs/refacta/internal/engine"
	"github.com/fyrsmithlabs/refacta/internal/router"
	"github.com/fyrsmithlabs/refacta/internal/specialist"
	"github.com/fyrsmithlabs/refacta/internal/stream"
)

func editEvents(path, token string) []stream.Event {
	return []stream.Event{
		stream.TextFragment{Text: "Editing " + path},
		stream.ToolInvocation{Name: "Edit", Input: map[string]any{
			"file_path": path, "old_string": "a", "new_string": "b",
		}},
		stream.Terminal{EventID: token, InputTokens: 1000, OutputTokens: 234, CostUSD: 0.0125, ContinuationToken: token},
	}
}

func newTestSession(t *testing.T, classifier router.Classifier, scripts ...claude.Script) (*Session, *claude.ScriptedQuerier) {
	t.Helper()

	reg := specialist.FromDefinitions(
		specialist.Definition{Name: "python-refactorer", Description: "Python", Instructions: "Refactor Python."},
		specialist.Definition{Name: "nextjs-refactorer", Description: "React", Instructions: "Refactor React."},
	)
	r, err := router.New(reg, classifier, router.Options{Default: "python-refactorer"})
	require.NoError(t, err)

	q := claude.NewScriptedQuerier(scripts...)
	sess, err := NewSession(context.Background(), Deps{
		Registry: reg,
		Querier:  q,
		Router:   r,
	}, func() Config {
		cfg := DefaultConfig()
		cfg.Root = t.TempDir()
		return cfg
	}())
	require.NoError(t, err)
	return sess, q
}

func drain(run *engine.Run) engine.Result {
	for range run.Updates() {
	}
	return run.Wait()
}

func TestSession_SmartRoutesAndRunsFresh(t *testing.T) {
	classifier := router.ClassifierFunc(func(context.Context, string, string) (string, error) {
		return `["nextjs-refactorer"]`, nil
	})
	sess, q := newTestSession(t, classifier, claude.Script{Events: editEvents("app/page.tsx", "tok-smart")})
	sess.Continuations().Set("nextjs-refactorer", "stale")

	d, run, err := sess.Smart(context.Background(), "convert the page component")
	require.NoError(t, err)
	assert.Equal(t, []string{"nextjs-refactorer"}, d.Names)

	res := drain(run)
	assert.True(t, res.Accepted)
	require.Len(t, res.Edits, 1)

	reqs := q.Requests()
	require.Len(t, reqs, 1)
	assert.Empty(t, reqs[0].ResumeToken)
	assert.Equal(t, 20, reqs[0].MaxTurns)
	assert.Equal(t, sess.Root(), reqs[0].WorkDir)
}

func TestSession_DirectResumesSpecialistSession(t *testing.T) {
	sess, q := newTestSession(t, nil,
		claude.Script{Events: editEvents("a.py", "tok-1")},
		claude.Script{Events: editEvents("b.py", "tok-2")},
	)

	run, err := sess.Direct(context.Background(), "python-refactorer", "first")
	require.NoError(t, err)
	drain(run)

	run, err = sess.Direct(context.Background(), "python-refactorer", "second")
	require.NoError(t, err)
	drain(run)

	reqs := q.Requests()
	require.Len(t, reqs, 2)
	assert.Empty(t, reqs[0].ResumeToken)
	assert.Equal(t, "tok-1", reqs[1].ResumeToken)
	assert.Equal(t, 15, reqs[1].MaxTurns)

	_, err = sess.Direct(context.Background(), "ghost", "x")
	require.ErrorIs(t, err, specialist.ErrNotFound)
}

func TestSession_ChatUsesMainContinuation(t *testing.T) {
	sess, q := newTestSession(t, nil,
		claude.Script{Events: editEvents("a.py", "tok-main")},
		claude.Script{Events: []stream.Event{stream.TextFragment{Text: "ok"}}},
	)

	run, err := sess.Chat(context.Background(), "hello")
	require.NoError(t, err)
	drain(run)

	tok, ok := sess.Continuations().Get(continuation.MainKey)
	require.True(t, ok)
	assert.Equal(t, "tok-main", tok)

	sess.ClearSessions()
	run, err = sess.Chat(context.Background(), "again")
	require.NoError(t, err)
	drain(run)

	reqs := q.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, 5, reqs[0].MaxTurns)
	assert.Empty(t, reqs[1].ResumeToken)
}

func TestSession_CloseFinalizesLedger(t *testing.T) {
	sess, _ := newTestSession(t, nil,
		claude.Script{Events: editEvents("a.py", "t1")},
	)

	run, err := sess.Direct(context.Background(), "python-refactorer", "edit a")
	require.NoError(t, err)
	drain(run)
	require.NoError(t, sess.AddSummary("Renamed a thing."))

	path, err := sess.Close(context.Background())
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(data)
	assert.Contains(t, content, "### Edit #1")
	assert.Contains(t, content, "### Summary\n\nRenamed a thing.")
	assert.Contains(t, content, "- **Tokens Used**: 1,234")
	assert.Contains(t, content, "- **Estimated Cost**: $0.0125")
	assert.Equal(t, 1, strings.Count(content, "### Session Complete"))

	again, err := sess.Close(context.Background())
	require.NoError(t, err)
	assert.Equal(t, path, again)

	_, err = sess.Chat(context.Background(), "after close")
	require.ErrorIs(t, err, ErrSessionClosed)
}

func TestSession_EmptyPrompt(t *testing.T) {
	sess, _ := newTestSession(t, nil)

	_, _, err := sess.Smart(context.Background(), "   ")
	require.ErrorIs(t, err, ErrEmptyPrompt)
}

func TestSession_RouteWithoutRouter(t *testing.T) {
	reg := specialist.FromDefinitions(specialist.Definition{Name: "python-refactorer"})
	cfg := DefaultConfig()
	cfg.Root = t.TempDir()
	sess, err := NewSession(context.Background(), Deps{
		Registry: reg,
		Querier:  claude.NewScriptedQuerier(),
	}, cfg)
	require.NoError(t, err)

	d, err := sess.Route(context.Background(), "anything")
	require.NoError(t, err)
	assert.Equal(t, []string{"python-refactorer"}, d.Names)
	assert.True(t, d.Fallback)
}

func TestSession_RunsDoNotOverlap(t *testing.T) {
	sess, q := newTestSession(t, nil,
		claude.Script{Events: []stream.Event{stream.TextFragment{Text: "first"}}, Hang: true},
		claude.Script{Events: editEvents("b.py", "tok-b")},
	)

	ctx1, cancel1 := context.WithCancel(context.Background())
	defer cancel1()
	run1, err := sess.Direct(ctx1, "python-refactorer", "first request")
	require.NoError(t, err)
	for u := range run1.Updates() {
		if u.Kind == engine.UpdateText {
			break
		}
	}

	second := make(chan *engine.Run, 1)
	go func() {
		run2, err := sess.Direct(context.Background(), "python-refactorer", "second request")
		assert.NoError(t, err)
		second <- run2
	}()

	assert.Never(t, func() bool { return len(second) > 0 }, 200*time.Millisecond, 10*time.Millisecond,
		"second run started while the first was streaming")
	assert.Len(t, q.Requests(), 1)

	cancel1()
	drain(run1)

	var run2 *engine.Run
	select {
	case run2 = <-second:
	case <-time.After(5 * time.Second):
		t.Fatal("second run never started after the first finished")
	}
	res := drain(run2)
	assert.True(t, res.Accepted)
	assert.Len(t, q.Requests(), 2)
}

func TestSession_QueuedRunHonorsContext(t *testing.T) {
	sess, _ := newTestSession(t, nil,
		claude.Script{Events: []stream.Event{stream.TextFragment{Text: "busy"}}, Hang: true},
	)

	ctx1, cancel1 := context.WithCancel(context.Background())
	run1, err := sess.Chat(ctx1, "keep working")
	require.NoError(t, err)

	ctx2, cancel2 := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel2()
	_, err = sess.Chat(ctx2, "are you done")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	cancel1()
	drain(run1)
}
