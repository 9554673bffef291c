// Package usage accumulates token and cost usage reported by upstream streams.
package usage

import (
	"sort"
	"sync"
)

// CostSignal is a cumulative cost reading for one scope, usually one
// specialist run. A newer signal for the same scope replaces the older one.
type CostSignal struct {
	Scope string
	USD   float64
}

// Event is one usage observation. ID is its identity: an event with an ID
// that was already recorded is ignored.
type Event struct {
	ID           string
	InputTokens  int
	OutputTokens int
	Cost         *CostSignal
}

// Totals is a snapshot of accumulated usage.
type Totals struct {
	InputTokens  int
	OutputTokens int
	CostUSD      float64
}

// TotalTokens returns input plus output tokens.
func (t Totals) TotalTokens() int {
	return t.InputTokens + t.OutputTokens
}

// Accumulator is an idempotent usage counter.
//
// Token counts are additive per new event. Cost is cumulative upstream, so a
// cost signal overwrites the value held for its scope; the reported total is
// the sum of the latest value of every scope.
type Accumulator struct {
	mu           sync.Mutex
	seen         map[string]struct{}
	inputTokens  int
	outputTokens int
	costByScope  map[string]float64
}

// NewAccumulator creates an empty accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{
		seen:        make(map[string]struct{}),
		costByScope: make(map[string]float64),
	}
}

// Record adds e to the totals. It returns false when e was ignored because
// its ID was already recorded or is empty.
func (a *Accumulator) Record(e Event) bool {
	if e.ID == "" {
		return false
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if _, dup := a.seen[e.ID]; dup {
		return false
	}
	a.seen[e.ID] = struct{}{}

	if e.InputTokens > 0 {
		a.inputTokens += e.InputTokens
	}
	if e.OutputTokens > 0 {
		a.outputTokens += e.OutputTokens
	}
	if e.Cost != nil && e.Cost.USD >= 0 {
		a.costByScope[e.Cost.Scope] = e.Cost.USD
	}
	return true
}

// Totals returns a snapshot of the accumulated usage.
func (a *Accumulator) Totals() Totals {
	a.mu.Lock()
	defer a.mu.Unlock()

	// Sum in a stable order so repeated calls produce identical floats.
	scopes := make([]string, 0, len(a.costByScope))
	for scope := range a.costByScope {
		scopes = append(scopes, scope)
	}
	sort.Strings(scopes)

	var cost float64
	for _, scope := range scopes {
		cost += a.costByScope[scope]
	}

	return Totals{
		InputTokens:  a.inputTokens,
		OutputTokens: a.outputTokens,
		CostUSD:      cost,
	}
}

// Seen reports whether an event ID was already recorded.
func (a *Accumulator) Seen(id string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.seen[id]
	return ok
}

// Reset clears totals and forgets every recorded ID.
func (a *Accumulator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.seen = make(map[string]struct{})
	a.costByScope = make(map[string]float64)
	a.inputTokens = 0
	a.outputTokens = 0
}
