package notify

import (
	"context"
	"sync"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/refacta/internal/claude"
	"github.com/fyrsmithlabs/refacta/internal/engine"
	"github.com/fyrsmithlabs/refacta/internal/specialist"
	"github.com/fyrsmithlabs/refacta/internal/stream"
)

// startTestNATSServer starts an embedded NATS server for testing.
func startTestNATSServer(t *testing.T) *natsserver.Server {
	opts := &natsserver.Options{
		Host:           "127.0.0.1",
		Port:           -1, // Random port
		NoLog:          true,
		NoSigs:         true,
		MaxControlLine: 2048,
	}

	server, err := natsserver.NewServer(opts)
	require.NoError(t, err)

	go server.Start()

	if !server.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}

	t.Cleanup(func() {
		server.Shutdown()
		server.WaitForShutdown()
	})

	return server
}

type collector struct {
	mu      sync.Mutex
	updates []engine.Update
}

func (c *collector) add(u engine.Update) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updates = append(c.updates, u)
}

func (c *collector) snapshot() []engine.Update {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]engine.Update(nil), c.updates...)
}

func TestPublisher_Subject(t *testing.T) {
	p := NewPublisher(nil, "", nil)
	assert.Equal(t, "refacta.runs.run-1.edit", p.Subject("run-1", engine.UpdateEdit))
	assert.Equal(t, "refacta.runs.a_b_c.done", p.Subject("a.b*c", engine.UpdateDone))
	assert.Equal(t, "refacta.runs.>", p.RunWildcard(""))
	assert.Equal(t, "refacta.runs.r.>", p.RunWildcard("r"))

	custom := NewPublisher(nil, "team.", nil)
	assert.Equal(t, "team.runs._.text", custom.Subject("", engine.UpdateText))
}

func TestPublisher_PublishSubscribe(t *testing.T) {
	server := startTestNATSServer(t)
	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	p := NewPublisher(nc, "", nil)
	got := &collector{}
	sub, err := p.Subscribe("run-1", got.add)
	require.NoError(t, err)
	defer sub.Unsubscribe()
	require.NoError(t, nc.Flush())

	edit := engine.EditOperation{FilePath: "src/app.py", Before: "x=1", After: "x=2", Accepted: true}
	require.NoError(t, p.Publish(engine.Update{Kind: engine.UpdateEdit, RunID: "run-1", Edit: &edit}))
	require.NoError(t, p.Publish(engine.Update{Kind: engine.UpdateText, RunID: "run-2", Text: "other run"}))
	require.NoError(t, p.Flush(context.Background()))

	require.Eventually(t, func() bool { return len(got.snapshot()) == 1 }, 5*time.Second, 10*time.Millisecond)
	u := got.snapshot()[0]
	assert.Equal(t, engine.UpdateEdit, u.Kind)
	require.NotNil(t, u.Edit)
	assert.Equal(t, "src/app.py", u.Edit.FilePath)
}

func TestPublisher_ObservesEngineRun(t *testing.T) {
	server := startTestNATSServer(t)
	p, err := Connect(server.ClientURL(), "", nil)
	require.NoError(t, err)
	defer p.Close()

	got := &collector{}
	sub, err := p.Subscribe("", got.add)
	require.NoError(t, err)
	defer sub.Unsubscribe()
	require.NoError(t, p.Flush(context.Background()))

	e, err := engine.New(engine.Deps{
		Registry: specialist.FromDefinitions(specialist.Definition{Name: "python-refactorer"}),
		Querier: claude.NewScriptedQuerier(claude.Script{Events: []stream.Event{
			stream.TextFragment{Text: "Done."},
			stream.Terminal{EventID: "r1", InputTokens: 3, OutputTokens: 4, CostUSD: 0.001},
		}}),
		Observers: []engine.Observer{p},
	}, engine.DefaultOptions())
	require.NoError(t, err)

	res := e.Execute(context.Background(), engine.Request{RunID: "run-7", Specialists: []string{"python-refactorer"}}, nil)
	require.True(t, res.Accepted)
	require.NoError(t, p.Flush(context.Background()))

	require.Eventually(t, func() bool { return len(got.snapshot()) == 4 }, 5*time.Second, 10*time.Millisecond)
	updates := got.snapshot()
	last := updates[len(updates)-1]
	assert.Equal(t, engine.UpdateDone, last.Kind)
	assert.Equal(t, "run-7", last.RunID)
	require.NotNil(t, last.Result)
	assert.Equal(t, 7, last.Result.TotalTokens)
	assert.Equal(t, engine.OutcomeClean, last.Result.Outcome)
}

func TestPublisher_ClosedConnection(t *testing.T) {
	server := startTestNATSServer(t)
	p, err := Connect(server.ClientURL(), "", nil)
	require.NoError(t, err)
	require.NoError(t, p.Close())

	err = p.Publish(engine.Update{Kind: engine.UpdateText, RunID: "r"})
	assert.ErrorIs(t, err, ErrClosed)
}
