package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/refacta/internal/continuation"
	"github.com/fyrsmithlabs/refacta/internal/ledger"
	"github.com/fyrsmithlabs/refacta/internal/logging"
	"github.com/fyrsmithlabs/refacta/internal/specialist"
	"github.com/fyrsmithlabs/refacta/internal/stream"
	"github.com/fyrsmithlabs/refacta/internal/usage"
)

// Registry resolves specialist definitions by name.
type Registry interface {
	Get(name string) (specialist.Definition, error)
}

// LedgerSink records accepted edits.
type LedgerSink interface {
	Append(in ledger.EntryInput) (int, error)
}

// Observer sees every update as it is emitted. Observe must not block.
type Observer interface {
	Observe(ctx context.Context, u Update)
}

// Deps are the collaborators an Engine drives. Ledger and Observers are
// optional.
type Deps struct {
	Registry  Registry
	Querier   stream.Querier
	Usage     *usage.Accumulator
	Store     *continuation.Store
	Ledger    LedgerSink
	Skills    specialist.SkillSource
	Observers []Observer
}

// Options configures an Engine. Start from DefaultOptions.
type Options struct {
	// Model is used when a definition names no known model alias.
	Model string
	// MaxTurns caps each stream unless the request overrides it.
	MaxTurns int
	// DefaultTools applies to definitions that list none.
	DefaultTools []string
	// EditTool is the capability whose invocations are edits.
	EditTool string
	// DedupeEdits keeps only the first edit per file path within one
	// specialist run.
	DedupeEdits bool
	// UpdateBuffer sizes the channel returned by Start.
	UpdateBuffer int
	Prompt       specialist.PromptOptions
	Logger       *logging.Logger
	// Meter and Tracer override the global OTel providers.
	Meter  metric.Meter
	Tracer trace.Tracer
}

// DefaultOptions returns the standard engine settings.
func DefaultOptions() Options {
	return Options{
		MaxTurns:     20,
		EditTool:     "Edit",
		DedupeEdits:  true,
		UpdateBuffer: 64,
	}
}

func (o Options) withDefaults() Options {
	if o.MaxTurns <= 0 {
		o.MaxTurns = 20
	}
	if o.EditTool == "" {
		o.EditTool = "Edit"
	}
	if o.UpdateBuffer < 0 {
		o.UpdateBuffer = 0
	}
	if o.Logger == nil {
		o.Logger = logging.NewNop()
	}
	return o
}

// Engine runs specialists against a Querier.
type Engine struct {
	deps    Deps
	opts    Options
	metrics *Metrics
	otel    *otelMetrics
	tracer  trace.Tracer
}

// New creates an Engine. Usage and Store default to fresh instances when nil.
func New(deps Deps, opts Options) (*Engine, error) {
	if deps.Registry == nil {
		return nil, errors.New("engine: registry is required")
	}
	if deps.Querier == nil {
		return nil, errors.New("engine: querier is required")
	}
	if deps.Usage == nil {
		deps.Usage = usage.NewAccumulator()
	}
	if deps.Store == nil {
		deps.Store = continuation.NewStore()
	}

	opts = opts.withDefaults()
	om, err := newOTelMetrics(opts.Meter)
	if err != nil {
		return nil, fmt.Errorf("engine: creating otel metrics: %w", err)
	}

	tr := opts.Tracer
	if tr == nil {
		tr = tracer()
	}

	return &Engine{
		deps:    deps,
		opts:    opts,
		metrics: NewMetrics(),
		otel:    om,
		tracer:  tr,
	}, nil
}

// Run is an execution started with Start.
type Run struct {
	id      string
	updates chan Update
	done    chan struct{}
	result  Result
}

// ID returns the run id.
func (r *Run) ID() string { return r.id }

// Updates returns the ordered update stream. It is closed after the
// UpdateDone update. Callers must drain it or cancel the context.
func (r *Run) Updates() <-chan Update { return r.updates }

// Done is closed once the result is available.
func (r *Run) Done() <-chan struct{} { return r.done }

// Wait blocks until the run finishes and returns its result.
func (r *Run) Wait() Result {
	<-r.done
	return r.result
}

// Start executes req in its own goroutine.
func (e *Engine) Start(ctx context.Context, req Request) *Run {
	if req.RunID == "" {
		req.RunID = uuid.NewString()
	}
	r := &Run{
		id:      req.RunID,
		updates: make(chan Update, e.opts.UpdateBuffer),
		done:    make(chan struct{}),
	}
	go func() {
		r.result = e.Execute(ctx, req, r.updates)
		close(r.updates)
		close(r.done)
	}()
	return r
}

// Execute runs every requested specialist in order and returns the
// aggregate. updates may be nil; it is never closed by Execute.
func (e *Engine) Execute(ctx context.Context, req Request, updates chan<- Update) Result {
	if req.RunID == "" {
		req.RunID = uuid.NewString()
	}
	ctx = logging.WithRunID(ctx, req.RunID)
	ctx, span := e.tracer.Start(ctx, "engine.execute")
	defer span.End()
	span.SetAttributes(
		attribute.String("run_id", req.RunID),
		attribute.StringSlice("specialists", req.Specialists),
	)

	runs := make([]SpecialistRun, 0, len(req.Specialists))
	for _, name := range req.Specialists {
		if ctx.Err() != nil {
			break
		}
		runs = append(runs, e.runSpecialist(ctx, req, name, updates))
	}

	res := aggregate(req, runs, ctx.Err())
	if !res.Accepted {
		span.SetStatus(codes.Error, res.Error)
	}
	span.SetAttributes(
		attribute.String("outcome", res.Outcome.String()),
		attribute.Int("edits", len(res.Edits)),
		attribute.Int("tokens", res.TotalTokens),
	)
	e.opts.Logger.Info(ctx, "execution finished",
		zap.String("outcome", res.Outcome.String()),
		zap.Bool("accepted", res.Accepted),
		zap.Int("edits", len(res.Edits)),
		zap.Int("tokens", res.TotalTokens),
		zap.Float64("cost_usd", res.CostUSD))

	final := res
	e.emit(ctx, updates, Update{Kind: UpdateDone, RunID: req.RunID, Result: &final})
	return res
}

func aggregate(req Request, runs []SpecialistRun, ctxErr error) Result {
	res := Result{
		RunID:       req.RunID,
		Specialists: append([]string(nil), req.Specialists...),
		Runs:        runs,
		Outcome:     OutcomeClean,
	}
	if len(req.Specialists) == 0 {
		res.Outcome = OutcomeFailed
		res.Error = ErrNoSpecialists.Error()
		return res
	}

	var texts, failures []string
	succeeded, degraded := 0, false
	for _, run := range runs {
		if run.Text != "" {
			texts = append(texts, run.Text)
		}
		res.InputTokens += run.InputTokens
		res.OutputTokens += run.OutputTokens
		res.CostUSD += run.CostUSD
		res.Edits = append(res.Edits, run.Edits...)
		if run.ContinuationToken != "" {
			res.ContinuationToken = run.ContinuationToken
		}

		switch run.Outcome {
		case OutcomeClean:
			succeeded++
		case OutcomeSalvaged:
			succeeded++
			degraded = true
		case OutcomeCanceled:
			// reported once below
		default:
			failures = append(failures, fmt.Sprintf("%s: %s", run.Specialist, run.Error))
		}
	}
	res.Text = strings.Join(texts, "\n")
	res.TotalTokens = res.InputTokens + res.OutputTokens

	switch {
	case ctxErr != nil:
		res.Outcome = OutcomeCanceled
		failures = append(failures, "canceled: "+ctxErr.Error())
	case succeeded == 0:
		res.Outcome = OutcomeFailed
	case degraded || len(failures) > 0:
		res.Outcome = OutcomeSalvaged
	}
	res.Accepted = succeeded > 0 && ctxErr == nil
	if len(failures) > 0 {
		res.Error = strings.Join(failures, "; ")
	}
	return res
}

// emit hands u to every observer, then to the update channel.
func (e *Engine) emit(ctx context.Context, ch chan<- Update, u Update) {
	for _, o := range e.deps.Observers {
		o.Observe(ctx, u)
	}
	send(ctx, ch, u)
}

// send delivers u in order. Once ctx is done it only delivers if there is
// buffer room, so cancellation never blocks.
func send(ctx context.Context, ch chan<- Update, u Update) {
	if ch == nil {
		return
	}
	if ctx.Err() != nil {
		select {
		case ch <- u:
		default:
		}
		return
	}
	select {
	case ch <- u:
	case <-ctx.Done():
	}
}

// since is swapped in tests.
var since = time.Since
