// Package router selects the specialists that should handle a request.
//
// A classifier is asked first. When it fails or answers with nothing usable
// the router falls back to keyword rules and then to a default specialist,
// so a decision is always produced while the default exists.
package router

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/refacta/internal/logging"
	"github.com/fyrsmithlabs/refacta/internal/specialist"
)

const instrumentationName = "github.com/fyrsmithlabs/refacta/internal/router"

// Decision sources.
const (
	SourceClassifier = "classifier"
	SourceCache      = "cache"
	SourceKeyword    = "keyword"
	SourceDefault    = "default"
)

// Catalog is the registry view the router needs.
type Catalog interface {
	Catalog() []specialist.CatalogEntry
	Has(name string) bool
	Generation() uint64
}

// Decision is an ordered, non-empty list of registry-valid specialist names.
type Decision struct {
	Names    []string
	Fallback bool
	Reason   string
	Source   string
}

// Options configures a Router.
type Options struct {
	Default   string
	Rules     []KeywordRule
	CacheSize int64
	CacheTTL  time.Duration
	Logger    *logging.Logger
}

func (o Options) withDefaults() Options {
	if o.Default == "" {
		o.Default = "python-refactorer"
	}
	if o.Rules == nil {
		o.Rules = DefaultRules()
	}
	if o.CacheTTL <= 0 {
		o.CacheTTL = 10 * time.Minute
	}
	if o.Logger == nil {
		o.Logger = logging.NewNop()
	}
	return o
}

// Router picks specialists for free-text requests.
type Router struct {
	catalog    Catalog
	classifier Classifier
	opts       Options
	cache      *ristretto.Cache[string, Decision]
	metrics    *Metrics
	tracer     trace.Tracer
}

// New creates a Router. classifier may be nil, in which case every request
// takes the fallback path. A CacheSize of zero disables the decision cache.
func New(catalog Catalog, classifier Classifier, opts Options) (*Router, error) {
	opts = opts.withDefaults()
	r := &Router{
		catalog:    catalog,
		classifier: classifier,
		opts:       opts,
		metrics:    NewMetrics(),
		tracer:     otel.Tracer(instrumentationName),
	}
	if opts.CacheSize > 0 {
		c, err := ristretto.NewCache(&ristretto.Config[string, Decision]{
			NumCounters: opts.CacheSize * 10,
			MaxCost:     opts.CacheSize,
			BufferItems: 64,
			// Each decision costs 1, so MaxCost is an entry count.
			IgnoreInternalCost: true,
		})
		if err != nil {
			return nil, fmt.Errorf("creating routing cache: %w", err)
		}
		r.cache = c
	}
	return r, nil
}

// Close releases the decision cache.
func (r *Router) Close() {
	if r.cache != nil {
		r.cache.Close()
	}
}

// Route returns the specialists for text. The only error besides context
// cancellation is specialist.ErrNotFound when the default specialist is
// missing and nothing else matched.
func (r *Router) Route(ctx context.Context, text string) (Decision, error) {
	ctx, span := r.tracer.Start(ctx, "router.route")
	defer span.End()

	d, err := r.route(ctx, text)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Decision{}, err
	}
	span.SetAttributes(
		attribute.String("source", d.Source),
		attribute.StringSlice("specialists", d.Names),
		attribute.Bool("fallback", d.Fallback),
	)
	r.metrics.DecisionsTotal.WithLabelValues(d.Source).Inc()
	return d, nil
}

func (r *Router) route(ctx context.Context, text string) (Decision, error) {
	key := r.cacheKey(text)
	if r.cache != nil {
		if d, ok := r.cache.Get(key); ok {
			r.metrics.CacheHitsTotal.Inc()
			d.Names = append([]string(nil), d.Names...)
			d.Source = SourceCache
			return d, nil
		}
		r.metrics.CacheMissesTotal.Inc()
	}

	reason := "no classifier configured"
	if r.classifier != nil {
		names, err := r.classify(ctx, text)
		if err == nil {
			d := Decision{Names: names, Reason: "classified", Source: SourceClassifier}
			if r.cache != nil {
				r.cache.SetWithTTL(key, d, 1, r.opts.CacheTTL)
				r.cache.Wait()
			}
			return d, nil
		}
		if ctx.Err() != nil {
			return Decision{}, ctx.Err()
		}
		reason = err.Error()
	}

	return r.fallback(ctx, text, reason)
}

func (r *Router) classify(ctx context.Context, text string) ([]string, error) {
	start := time.Now()
	raw, err := r.classifier.Classify(ctx, BuildRoutingPrompt(r.catalog.Catalog()), text)
	r.metrics.ClassifyDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("classifier: %w", err)
	}
	return ParseDecision(raw, r.catalog.Has)
}

func (r *Router) fallback(ctx context.Context, text, reason string) (Decision, error) {
	if rule, kw, ok := matchRules(r.opts.Rules, text, r.catalog.Has); ok {
		r.opts.Logger.Warn(ctx, "routing fell back to keyword rule",
			zap.String("reason", reason),
			zap.String("keyword", kw),
			zap.String("specialist", rule.Specialist))
		return Decision{
			Names:    []string{rule.Specialist},
			Fallback: true,
			Reason:   fmt.Sprintf("keyword %q (%s)", kw, reason),
			Source:   SourceKeyword,
		}, nil
	}

	if !r.catalog.Has(r.opts.Default) {
		r.opts.Logger.Error(ctx, "routing failed and default specialist is missing",
			zap.String("reason", reason),
			zap.String("default", r.opts.Default))
		return Decision{}, fmt.Errorf("default specialist %q: %w", r.opts.Default, specialist.ErrNotFound)
	}

	r.opts.Logger.Warn(ctx, "routing fell back to default specialist",
		zap.String("reason", reason),
		zap.String("specialist", r.opts.Default))
	return Decision{
		Names:    []string{r.opts.Default},
		Fallback: true,
		Reason:   fmt.Sprintf("default (%s)", reason),
		Source:   SourceDefault,
	}, nil
}

func (r *Router) cacheKey(text string) string {
	return strconv.FormatUint(r.catalog.Generation(), 10) + "\x00" + normalize(text)
}

func normalize(text string) string {
	return strings.ToLower(strings.Join(strings.Fields(text), " "))
}
