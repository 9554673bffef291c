package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/refacta/internal/ledger"
	"github.com/fyrsmithlabs/refacta/internal/logging"
	"github.com/fyrsmithlabs/refacta/internal/specialist"
	"github.com/fyrsmithlabs/refacta/internal/stream"
	"github.com/fyrsmithlabs/refacta/internal/usage"
)

// runState tracks one specialist stream while it is consumed.
type runState struct {
	run         SpecialistRun
	key         string
	scope       string
	text        strings.Builder
	seenPaths   map[string]struct{}
	hasContent  bool
	hasTerminal bool
	provisional string
	upstreamErr string
}

func (e *Engine) runSpecialist(ctx context.Context, req Request, name string, updates chan<- Update) SpecialistRun {
	start := time.Now()
	ctx = logging.WithSpecialist(ctx, name)
	ctx, span := e.tracer.Start(ctx, "engine.specialist")
	defer span.End()
	span.SetAttributes(attribute.String("specialist", name))

	st := &runState{
		run:       SpecialistRun{Specialist: name},
		key:       req.SessionKey,
		scope:     req.RunID + "/" + name,
		seenPaths: make(map[string]struct{}),
	}
	if st.key == "" {
		st.key = name
	}

	finish := func() SpecialistRun {
		st.run.Text = st.text.String()
		st.run.Duration = since(start)
		if st.run.Outcome == OutcomeFailed || st.run.Outcome == OutcomeCanceled {
			span.SetStatus(codes.Error, st.run.Error)
		}
		span.SetAttributes(attribute.String("outcome", st.run.Outcome.String()))
		e.metrics.observeRun(st.run)
		e.otel.recordRun(ctx, st.run)

		run := st.run
		e.emit(ctx, updates, Update{Kind: UpdateSpecialistDone, RunID: req.RunID, Specialist: name, Run: &run})
		return st.run
	}

	def, err := e.deps.Registry.Get(name)
	if err != nil {
		e.opts.Logger.Warn(ctx, "specialist not found", zap.Error(err))
		st.run.Outcome = OutcomeFailed
		st.run.Error = err.Error()
		return finish()
	}

	e.emit(ctx, updates, Update{Kind: UpdateSpecialistStart, RunID: req.RunID, Specialist: name})

	s, err := e.deps.Querier.Query(ctx, e.streamRequest(req, def, st.key))
	if err != nil {
		e.fault(ctx, st, err)
		return finish()
	}
	defer s.Close()

	for {
		ev, err := s.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			e.fault(ctx, st, err)
			return finish()
		}
		e.handle(ctx, req, st, ev, updates)
	}

	if st.run.ContinuationToken == "" && st.provisional != "" {
		st.run.ContinuationToken = st.provisional
		e.deps.Store.Set(st.key, st.provisional)
	}
	if st.upstreamErr != "" {
		st.run.Error = st.upstreamErr
		if st.hasContent {
			st.run.Outcome = OutcomeSalvaged
		} else {
			st.run.Outcome = OutcomeFailed
		}
	}
	return finish()
}

func (e *Engine) streamRequest(req Request, def specialist.Definition, key string) stream.Request {
	tools := specialist.ToolsFor(def)
	if len(def.Tools) == 0 && len(e.opts.DefaultTools) > 0 {
		tools = append([]string(nil), e.opts.DefaultTools...)
	}
	maxTurns := e.opts.MaxTurns
	if req.MaxTurns > 0 {
		maxTurns = req.MaxTurns
	}

	var resume string
	if req.Resume {
		resume, _ = e.deps.Store.Get(key)
	}

	return stream.Request{
		Model:        specialist.ResolveModel(def, e.opts.Model),
		SystemPrompt: specialist.BuildSystemPrompt(def, e.deps.Skills.Load(def), req.WorkDir, e.opts.Prompt),
		Tools:        tools,
		MaxTurns:     maxTurns,
		ResumeToken:  resume,
		WorkDir:      req.WorkDir,
		Prompt:       req.Prompt,
	}
}

// fault classifies a stream or query error.
func (e *Engine) fault(ctx context.Context, st *runState, err error) {
	switch {
	case ctx.Err() != nil:
		st.run.Outcome = OutcomeCanceled
		st.run.Error = "canceled: " + ctx.Err().Error()
		e.opts.Logger.Info(ctx, "specialist run canceled")
	case st.hasContent || st.hasTerminal:
		st.run.Outcome = OutcomeSalvaged
		st.run.Error = err.Error()
		e.opts.Logger.Warn(ctx, "stream faulted after content, keeping partial result", zap.Error(err))
	default:
		st.run.Outcome = OutcomeFailed
		st.run.Error = err.Error()
		e.opts.Logger.Error(ctx, "stream failed before any content", zap.Error(err))
	}
}

func (e *Engine) handle(ctx context.Context, req Request, st *runState, ev stream.Event, updates chan<- Update) {
	switch ev := ev.(type) {
	case stream.TextFragment:
		if ev.Text == "" {
			return
		}
		st.text.WriteString(ev.Text)
		st.hasContent = true
		if strings.TrimSpace(ev.Text) != "" {
			e.emit(ctx, updates, Update{Kind: UpdateText, RunID: req.RunID, Specialist: st.run.Specialist, Text: ev.Text})
		}

	case stream.ToolInvocation:
		if ev.Name != e.opts.EditTool {
			e.opts.Logger.Debug(ctx, "tool invocation", zap.String("tool", ev.Name))
			return
		}
		e.handleEdit(ctx, req, st, ev, updates)

	case stream.Terminal:
		st.hasTerminal = true
		counted := e.deps.Usage.Record(usage.Event{
			ID:           ev.EventID,
			InputTokens:  ev.InputTokens,
			OutputTokens: ev.OutputTokens,
			Cost:         &usage.CostSignal{Scope: st.scope, USD: ev.CostUSD},
		})
		if counted {
			st.run.InputTokens += ev.InputTokens
			st.run.OutputTokens += ev.OutputTokens
			if ev.CostUSD >= 0 {
				st.run.CostUSD = ev.CostUSD
			}
		}
		if ev.ContinuationToken != "" {
			st.run.ContinuationToken = ev.ContinuationToken
			e.deps.Store.Set(st.key, ev.ContinuationToken)
		}
		if ev.TurnCapReached {
			st.run.TurnCapReached = true
			e.opts.Logger.Info(ctx, "turn cap reached, keeping partial result", zap.Int("turns", ev.NumTurns))
		} else if ev.IsError {
			st.upstreamErr = ev.Message
			if st.upstreamErr == "" {
				st.upstreamErr = "upstream reported an error"
			}
		}

	case stream.SystemInit:
		st.provisional = ev.SessionID
		e.opts.Logger.Debug(ctx, "stream initialized",
			zap.String("session", ev.SessionID),
			zap.String("model", ev.Model),
			zap.Strings("tools", ev.Tools))
	}
}

func (e *Engine) handleEdit(ctx context.Context, req Request, st *runState, ev stream.ToolInvocation, updates chan<- Update) {
	path := ev.String("file_path")
	if path == "" {
		st.run.DroppedEdits++
		e.opts.Logger.Debug(ctx, "edit without file_path dropped")
		return
	}
	if e.opts.DedupeEdits {
		if _, dup := st.seenPaths[path]; dup {
			st.run.DroppedEdits++
			e.opts.Logger.Debug(ctx, "repeat edit dropped", zap.String("file", path))
			return
		}
		st.seenPaths[path] = struct{}{}
	}

	edit := EditOperation{
		FilePath:   path,
		Before:     ev.String("old_string"),
		After:      ev.String("new_string"),
		Specialist: st.run.Specialist,
		Accepted:   true,
	}
	st.run.Edits = append(st.run.Edits, edit)
	st.hasContent = true
	e.emit(ctx, updates, Update{Kind: UpdateEdit, RunID: req.RunID, Specialist: st.run.Specialist, Edit: &edit})

	if e.deps.Ledger == nil {
		return
	}
	if _, err := e.deps.Ledger.Append(ledger.EntryInput{
		FilePath:   edit.FilePath,
		Before:     edit.Before,
		After:      edit.After,
		Specialist: edit.Specialist,
		Accepted:   true,
	}); err != nil {
		e.metrics.LedgerFailuresTotal.Inc()
		e.opts.Logger.Error(ctx, "ledger write failed", zap.String("file", path), zap.Error(fmt.Errorf("appending edit: %w", err)))
	}
}
