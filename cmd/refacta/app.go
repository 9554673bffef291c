package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/refacta/internal/claude"
	"github.com/fyrsmithlabs/refacta/internal/config"
	"github.com/fyrsmithlabs/refacta/internal/engine"
	"github.com/fyrsmithlabs/refacta/internal/ledger"
	"github.com/fyrsmithlabs/refacta/internal/logging"
	"github.com/fyrsmithlabs/refacta/internal/notify"
	"github.com/fyrsmithlabs/refacta/internal/orchestrator"
	"github.com/fyrsmithlabs/refacta/internal/router"
	"github.com/fyrsmithlabs/refacta/internal/specialist"
	"github.com/fyrsmithlabs/refacta/internal/stream"
	"github.com/fyrsmithlabs/refacta/internal/telemetry"
)

// app holds the collaborators shared by every subcommand.
type app struct {
	cfg       *config.Config
	root      string
	logger    *logging.Logger
	telemetry *telemetry.Telemetry

	registry  *specialist.Registry
	querier   stream.Querier
	router    *router.Router
	publisher *notify.Publisher
	session   *orchestrator.Session
}

type appOptions struct {
	configPath string
	project    string
	logLevel   string
}

// newApp loads configuration and the specialist registry. Subcommands add
// the router and session they need on top.
func newApp(ctx context.Context, opts appOptions) (*app, error) {
	root, err := filepath.Abs(opts.project)
	if err != nil {
		return nil, fmt.Errorf("resolving project dir: %w", err)
	}

	cfg, err := config.Load(config.LoadOptions{Path: opts.configPath, ProjectDir: root})
	if err != nil {
		return nil, err
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}

	tel, err := telemetry.New(ctx, telemetry.FromConfig(cfg.Telemetry, version))
	if err != nil {
		return nil, err
	}

	logger, err := newLogger(cfg.Log, tel)
	if err != nil {
		_ = tel.Shutdown(ctx)
		return nil, err
	}

	a := &app{cfg: cfg, root: root, logger: logger, telemetry: tel}
	if h := tel.Health(); h.Degraded {
		logger.Warn(ctx, "telemetry degraded", zap.String("reason", h.Reason))
	}

	a.registry, err = specialist.NewDirRegistry(ctx, a.resolve(cfg.Specialists.Dir), logger.Named("specialists"))
	if err != nil {
		_ = a.close(ctx)
		return nil, fmt.Errorf("loading specialists: %w", err)
	}
	return a, nil
}

// useRouter builds the querier and router. replay serves every specialist
// query from a recorded transcript and limits routing to keyword rules.
func (a *app) useRouter(replay string) error {
	var err error
	a.querier, err = a.newQuerier(replay)
	if err != nil {
		return err
	}

	classifier, err := a.newClassifier(replay != "")
	if err != nil {
		return err
	}
	a.router, err = router.New(a.registry, classifier, router.Options{
		Default:   a.cfg.Router.DefaultSpecialist,
		Rules:     keywordRules(a.cfg.Router.Rules),
		CacheSize: a.cfg.Router.CacheSize,
		CacheTTL:  a.cfg.Router.CacheTTL.Duration(),
		Logger:    a.logger.Named("router"),
	})
	return err
}

// useSession builds the router and a session over the project root. With
// publish set, run updates are fanned out over NATS even when nats.enabled
// is off.
func (a *app) useSession(ctx context.Context, replay string, publish bool) error {
	if err := a.useRouter(replay); err != nil {
		return err
	}

	var observers []engine.Observer
	if a.cfg.NATS.Enabled || publish {
		var err error
		a.publisher, err = notify.Connect(a.cfg.NATS.URL, a.cfg.NATS.SubjectPrefix, a.logger.Named("notify"))
		if err != nil {
			return err
		}
		observers = append(observers, a.publisher)
	}

	sc := sessionConfig(a.cfg, a.root)
	sc.Engine.Meter = a.telemetry.Meter("github.com/fyrsmithlabs/refacta/internal/engine")
	sc.Engine.Tracer = a.telemetry.Tracer("github.com/fyrsmithlabs/refacta/internal/engine")

	var err error
	a.session, err = orchestrator.NewSession(ctx, orchestrator.Deps{
		Registry:  a.registry,
		Querier:   a.querier,
		Router:    a.router,
		Skills:    specialist.SkillSource{FS: os.DirFS(a.root), Dir: a.cfg.Specialists.SkillsDir},
		Observers: observers,
		Logger:    a.logger,
	}, sc)
	return err
}

func newLogger(lc config.LogConfig, tel *telemetry.Telemetry) (*logging.Logger, error) {
	cfg := logging.NewDefaultConfig()
	level, err := logging.LevelFromString(lc.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", lc.Level, err)
	}
	cfg.Level = level
	cfg.Format = lc.Format
	cfg.Output.File = lc.File
	cfg.Output.OTEL = tel.LoggerProvider() != nil
	return logging.NewLogger(cfg, tel.LoggerProvider())
}

func (a *app) resolve(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(a.root, p)
}

func (a *app) newQuerier(replay string) (stream.Querier, error) {
	if replay != "" {
		f, err := os.Open(replay)
		if err != nil {
			return nil, fmt.Errorf("opening replay transcript: %w", err)
		}
		defer f.Close()
		script, err := claude.LoadScript(f)
		if err != nil {
			return nil, fmt.Errorf("loading replay transcript %s: %w", replay, err)
		}
		q := claude.NewScriptedQuerier(script)
		q.Repeat = true
		return q, nil
	}
	return claude.NewCLI(claude.CLIOptions{
		Binary:    a.cfg.Claude.Binary,
		ExtraArgs: a.cfg.Claude.ExtraArgs,
		Timeout:   a.cfg.Claude.Timeout.Duration(),
		Logger:    a.logger,
	}), nil
}

// newClassifier returns nil for keyword-only routing. Replays always route
// by keyword so that classification never consumes the transcript.
func (a *app) newClassifier(replaying bool) (router.Classifier, error) {
	if replaying {
		return nil, nil
	}
	switch a.cfg.Router.Classifier {
	case "keyword":
		return nil, nil
	case "api":
		c, err := claude.NewAPIClient(claude.APIOptions{
			APIKey:     a.cfg.Anthropic.APIKey.Value(),
			BaseURL:    a.cfg.Anthropic.BaseURL,
			Model:      a.cfg.Anthropic.Model,
			Timeout:    a.cfg.Anthropic.Timeout.Duration(),
			RateLimit:  a.cfg.Anthropic.RateLimit,
			Burst:      a.cfg.Anthropic.Burst,
			MaxRetries: a.cfg.Anthropic.MaxRetries,
		})
		if err != nil {
			return nil, fmt.Errorf("creating classifier: %w", err)
		}
		return c, nil
	default:
		return &router.QuerierClassifier{
			Querier: a.querier,
			Model:   a.cfg.Router.Model,
			WorkDir: a.root,
		}, nil
	}
}

func keywordRules(rules []config.KeywordRule) []router.KeywordRule {
	if len(rules) == 0 {
		return nil
	}
	out := make([]router.KeywordRule, len(rules))
	for i, r := range rules {
		out[i] = router.KeywordRule{Specialist: r.Specialist, Keywords: r.Keywords}
	}
	return out
}

func sessionConfig(cfg *config.Config, root string) orchestrator.Config {
	sc := orchestrator.DefaultConfig()
	sc.Root = root
	sc.DefaultSpecialist = cfg.Router.DefaultSpecialist
	sc.MaxTurnsSmart = cfg.Engine.MaxTurns
	sc.MaxTurnsDirect = cfg.Engine.MaxTurnsDirect
	sc.MaxTurnsChat = cfg.Engine.MaxTurnsChat
	sc.Engine.Model = cfg.Engine.Model
	sc.Engine.MaxTurns = cfg.Engine.MaxTurns
	sc.Engine.DefaultTools = cfg.Engine.DefaultTools
	sc.Engine.EditTool = cfg.Engine.EditTool
	sc.Engine.DedupeEdits = cfg.Engine.DedupeEdits
	sc.Engine.UpdateBuffer = cfg.Engine.UpdateBuffer
	sc.Engine.Prompt = specialist.PromptOptions{Concise: cfg.Specialists.ConciseSkills}
	sc.Ledger = ledger.Options{
		Dir:           cfg.Ledger.Dir,
		FileName:      cfg.Ledger.FileName,
		PreviewLimit:  cfg.Ledger.PreviewLimit,
		Redact:        cfg.Ledger.Redact,
		UserAllowlist: cfg.Ledger.AllowlistPath,
	}
	return sc
}

// close finalizes the session ledger and releases every connection.
func (a *app) close(ctx context.Context) error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if a.session != nil {
		_, err := a.session.Close(ctx)
		keep(err)
	}
	if a.publisher != nil {
		keep(a.publisher.Close())
	}
	if a.router != nil {
		a.router.Close()
	}
	keep(a.telemetry.Shutdown(ctx))
	_ = a.logger.Sync()
	return firstErr
}
