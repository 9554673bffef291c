package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/fyrsmithlabs/refacta/internal/continuation"
	"github.com/fyrsmithlabs/refacta/internal/engine"
	"github.com/fyrsmithlabs/refacta/internal/ledger"
	"github.com/fyrsmithlabs/refacta/internal/logging"
	"github.com/fyrsmithlabs/refacta/internal/router"
	"github.com/fyrsmithlabs/refacta/internal/specialist"
	"github.com/fyrsmithlabs/refacta/internal/stream"
	"github.com/fyrsmithlabs/refacta/internal/usage"
)

// Router selects specialists for a request.
type Router interface {
	Route(ctx context.Context, text string) (router.Decision, error)
}

// Registry is the specialist lookup a session needs.
type Registry interface {
	Get(name string) (specialist.Definition, error)
	Has(name string) bool
}

// Deps are the shared collaborators of a session.
type Deps struct {
	Registry Registry
	Querier  stream.Querier
	// Router is required for Smart.
	Router Router
	Skills specialist.SkillSource
	// Ledgers is optional; a private cache is created when nil.
	Ledgers   *ledger.Cache
	Observers []engine.Observer
	Logger    *logging.Logger
}

// Config holds per-session settings.
type Config struct {
	// Root is any path inside the project. The enclosing git worktree is
	// used when there is one.
	Root              string
	DefaultSpecialist string
	MaxTurnsSmart     int
	MaxTurnsDirect    int
	MaxTurnsChat      int
	Engine            engine.Options
	Ledger            ledger.Options
}

// DefaultConfig returns the standard flow settings rooted at ".".
func DefaultConfig() Config {
	return Config{
		Root:              ".",
		DefaultSpecialist: "python-refactorer",
		MaxTurnsSmart:     20,
		MaxTurnsDirect:    15,
		MaxTurnsChat:      5,
		Engine:            engine.DefaultOptions(),
	}
}

// Session runs flows against one project root.
type Session struct {
	id       string
	cfg      Config
	deps     Deps
	logger   *logging.Logger
	ledger   *ledger.Ledger
	usage    *usage.Accumulator
	store    *continuation.Store
	engine   *engine.Engine
	registry Registry

	// slot admits one run at a time; it is released when the run's Done
	// channel closes.
	slot *semaphore.Weighted

	mu     sync.Mutex
	closed bool
}

// NewSession resolves the project root and wires an engine for it.
func NewSession(ctx context.Context, deps Deps, cfg Config) (*Session, error) {
	if deps.Registry == nil || deps.Querier == nil {
		return nil, fmt.Errorf("orchestrator: registry and querier are required")
	}
	if deps.Logger == nil {
		deps.Logger = logging.NewNop()
	}
	if deps.Ledgers == nil {
		deps.Ledgers = ledger.NewCache(cfg.Ledger)
	}
	if cfg.Root == "" {
		cfg.Root = "."
	}

	l, err := deps.Ledgers.For(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("opening ledger: %w", err)
	}

	s := &Session{
		id:       uuid.NewString(),
		cfg:      cfg,
		deps:     deps,
		logger:   deps.Logger,
		ledger:   l,
		usage:    usage.NewAccumulator(),
		store:    continuation.NewStore(),
		registry: deps.Registry,
		slot:     semaphore.NewWeighted(1),
	}

	engineOpts := cfg.Engine
	engineOpts.Logger = deps.Logger.Named("engine")
	s.engine, err = engine.New(engine.Deps{
		Registry:  deps.Registry,
		Querier:   deps.Querier,
		Usage:     s.usage,
		Store:     s.store,
		Ledger:    l,
		Skills:    deps.Skills,
		Observers: deps.Observers,
	}, engineOpts)
	if err != nil {
		return nil, err
	}

	s.logger.Info(logging.WithSessionID(ctx, s.id), "session started", zap.String("root", l.Root()))
	return s, nil
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Root returns the resolved project root.
func (s *Session) Root() string { return s.ledger.Root() }

// Ledger returns the session's ledger.
func (s *Session) Ledger() *ledger.Ledger { return s.ledger }

// Totals returns the usage recorded so far.
func (s *Session) Totals() usage.Totals { return s.usage.Totals() }

// Continuations returns the continuation store.
func (s *Session) Continuations() *continuation.Store { return s.store }

// Route asks the router for specialists without executing anything.
func (s *Session) Route(ctx context.Context, text string) (router.Decision, error) {
	if s.deps.Router == nil {
		if !s.registry.Has(s.cfg.DefaultSpecialist) {
			return router.Decision{}, fmt.Errorf("default specialist %q: %w", s.cfg.DefaultSpecialist, specialist.ErrNotFound)
		}
		return router.Decision{
			Names:    []string{s.cfg.DefaultSpecialist},
			Fallback: true,
			Reason:   "no router configured",
			Source:   router.SourceDefault,
		}, nil
	}
	return s.deps.Router.Route(s.context(ctx), text)
}

// Smart routes prompt and runs the chosen specialists without resuming.
func (s *Session) Smart(ctx context.Context, prompt string) (router.Decision, *engine.Run, error) {
	if err := s.check(prompt); err != nil {
		return router.Decision{}, nil, err
	}
	d, err := s.Route(ctx, prompt)
	if err != nil {
		return router.Decision{}, nil, fmt.Errorf("routing: %w", err)
	}
	run, err := s.Execute(ctx, engine.Request{
		Specialists: d.Names,
		Prompt:      prompt,
		MaxTurns:    s.cfg.MaxTurnsSmart,
	})
	if err != nil {
		return router.Decision{}, nil, err
	}
	return d, run, nil
}

// Direct runs the named specialist, resuming its previous continuation.
func (s *Session) Direct(ctx context.Context, name, prompt string) (*engine.Run, error) {
	if err := s.check(prompt); err != nil {
		return nil, err
	}
	if !s.registry.Has(name) {
		return nil, fmt.Errorf("%w: %q", specialist.ErrNotFound, name)
	}
	return s.Execute(ctx, engine.Request{
		Specialists: []string{name},
		Prompt:      prompt,
		Resume:      true,
		MaxTurns:    s.cfg.MaxTurnsDirect,
	})
}

// Chat runs the default specialist on the shared main continuation.
func (s *Session) Chat(ctx context.Context, prompt string) (*engine.Run, error) {
	if err := s.check(prompt); err != nil {
		return nil, err
	}
	if !s.registry.Has(s.cfg.DefaultSpecialist) {
		return nil, fmt.Errorf("default specialist %q: %w", s.cfg.DefaultSpecialist, specialist.ErrNotFound)
	}
	return s.Execute(ctx, engine.Request{
		Specialists: []string{s.cfg.DefaultSpecialist},
		Prompt:      prompt,
		Resume:      true,
		SessionKey:  continuation.MainKey,
		MaxTurns:    s.cfg.MaxTurnsChat,
	})
}

// Execute starts an arbitrary request in the session's project root. Runs
// on one session are serialized: Execute waits until the previous run has
// finished, or until ctx is done.
func (s *Session) Execute(ctx context.Context, req engine.Request) (*engine.Run, error) {
	if req.WorkDir == "" {
		req.WorkDir = s.Root()
	}
	if err := s.slot.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("waiting for previous run: %w", err)
	}
	if s.isClosed() {
		s.slot.Release(1)
		return nil, ErrSessionClosed
	}

	run := s.engine.Start(s.context(ctx), req)
	go func() {
		<-run.Done()
		s.slot.Release(1)
	}()
	return run, nil
}

// ClearSessions forgets every continuation token.
func (s *Session) ClearSessions() {
	s.store.Clear()
}

// AddSummary appends a summary section to the ledger.
func (s *Session) AddSummary(text string) error {
	return s.ledger.AddSummary(text)
}

// Close finalizes the ledger with the session totals and returns its path.
// Closing twice is safe.
func (s *Session) Close(ctx context.Context) (string, error) {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	t := s.usage.Totals()
	path, err := s.ledger.Finalize(t.TotalTokens(), t.CostUSD)
	if err != nil {
		s.logger.Error(s.context(ctx), "finalizing ledger failed", zap.Error(err))
		return "", fmt.Errorf("finalizing ledger: %w", err)
	}
	s.logger.Info(s.context(ctx), "session closed",
		zap.String("ledger", path),
		zap.Int("edits", s.ledger.Count()),
		zap.Int("tokens", t.TotalTokens()),
		zap.Float64("cost_usd", t.CostUSD))
	return path, nil
}

func (s *Session) check(prompt string) error {
	if s.isClosed() {
		return ErrSessionClosed
	}
	if strings.TrimSpace(prompt) == "" {
		return ErrEmptyPrompt
	}
	return nil
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) context(ctx context.Context) context.Context {
	return logging.WithSessionID(ctx, s.id)
}
