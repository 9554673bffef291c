// Package notify fans engine updates out over NATS.
//
// Every update is published as JSON on
//
//	<prefix>.runs.<run_id>.<kind>
//
// so consumers can follow one run (<prefix>.runs.<id>.>) or every run
// (<prefix>.runs.>).
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/refacta/internal/engine"
	"github.com/fyrsmithlabs/refacta/internal/logging"
)

// DefaultPrefix is the subject root used when none is configured.
const DefaultPrefix = "refacta"

// ErrClosed is returned when publishing on a closed publisher.
var ErrClosed = errors.New("notify: publisher closed")

// Publisher publishes run updates to NATS. It implements engine.Observer.
type Publisher struct {
	conn   *nats.Conn
	prefix string
	logger *logging.Logger
	owned  bool
}

// Connect dials url and returns a Publisher that owns the connection.
func Connect(url, prefix string, logger *logging.Logger) (*Publisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("refacta"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(1*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	p := NewPublisher(nc, prefix, logger)
	p.owned = true
	return p, nil
}

// NewPublisher wraps an existing connection. Close leaves nc open.
func NewPublisher(nc *nats.Conn, prefix string, logger *logging.Logger) *Publisher {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Publisher{conn: nc, prefix: strings.TrimSuffix(prefix, "."), logger: logger}
}

// Subject returns the subject for one update of a run.
func (p *Publisher) Subject(runID string, kind engine.UpdateKind) string {
	return fmt.Sprintf("%s.runs.%s.%s", p.prefix, token(runID), kind)
}

// RunWildcard matches every update of runID, or of every run when runID is
// empty.
func (p *Publisher) RunWildcard(runID string) string {
	if runID == "" {
		return p.prefix + ".runs.>"
	}
	return fmt.Sprintf("%s.runs.%s.>", p.prefix, token(runID))
}

// Publish sends u.
func (p *Publisher) Publish(u engine.Update) error {
	if p.conn == nil || p.conn.IsClosed() || p.conn.IsDraining() {
		return ErrClosed
	}
	data, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("marshal update: %w", err)
	}
	if err := p.conn.Publish(p.Subject(u.RunID, u.Kind), data); err != nil {
		return fmt.Errorf("publish %s update: %w", u.Kind, err)
	}
	return nil
}

// Observe implements engine.Observer. Failures are logged and dropped.
func (p *Publisher) Observe(ctx context.Context, u engine.Update) {
	if err := p.Publish(u); err != nil {
		p.logger.Warn(ctx, "run update not published", zap.String("kind", string(u.Kind)), zap.Error(err))
	}
}

// Subscribe delivers decoded updates for runID (every run when empty) to fn
// until the returned subscription is drained or unsubscribed.
func (p *Publisher) Subscribe(runID string, fn func(engine.Update)) (*nats.Subscription, error) {
	return p.conn.Subscribe(p.RunWildcard(runID), func(msg *nats.Msg) {
		var u engine.Update
		if err := json.Unmarshal(msg.Data, &u); err != nil {
			p.logger.Warn(context.Background(), "undecodable run update", zap.String("subject", msg.Subject), zap.Error(err))
			return
		}
		fn(u)
	})
}

// Flush waits until the server has processed every published update.
func (p *Publisher) Flush(ctx context.Context) error {
	return p.conn.FlushWithContext(ctx)
}

// Close flushes pending updates and closes the connection if it is owned.
func (p *Publisher) Close() error {
	if !p.owned || p.conn.IsClosed() {
		return nil
	}
	err := p.conn.Drain()
	if errors.Is(err, nats.ErrConnectionClosed) {
		return nil
	}
	return err
}

// token makes s safe as a single subject token.
func token(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, s)
}
