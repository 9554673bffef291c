package engine

import (
	"fmt"
	"time"
)

// Outcome classifies how a specialist run (or a whole request) ended.
type Outcome int

const (
	// OutcomeClean means the stream finished without a fault.
	OutcomeClean Outcome = iota
	// OutcomeSalvaged means the stream faulted after delivering content or
	// terminal data, which was kept.
	OutcomeSalvaged
	// OutcomeFailed means nothing usable was produced.
	OutcomeFailed
	// OutcomeCanceled means the context ended consumption.
	OutcomeCanceled
)

// String returns the outcome name.
func (o Outcome) String() string {
	switch o {
	case OutcomeClean:
		return "clean"
	case OutcomeSalvaged:
		return "salvaged"
	case OutcomeFailed:
		return "failed"
	case OutcomeCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (o *Outcome) UnmarshalText(text []byte) error {
	for _, c := range []Outcome{OutcomeClean, OutcomeSalvaged, OutcomeFailed, OutcomeCanceled} {
		if c.String() == string(text) {
			*o = c
			return nil
		}
	}
	return fmt.Errorf("unknown outcome %q", text)
}

// Request asks the engine to run specialists in order.
type Request struct {
	Specialists []string
	Prompt      string
	// Resume continues from stored continuation tokens.
	Resume bool
	// SessionKey selects the continuation slot. Empty means one slot per
	// specialist name.
	SessionKey string
	WorkDir    string
	// MaxTurns overrides Options.MaxTurns when positive.
	MaxTurns int
	// RunID identifies the request in updates and logs. Generated when empty.
	RunID string
}

// EditOperation is one file edit proposed by a specialist.
type EditOperation struct {
	FilePath   string `json:"file_path"`
	Before     string `json:"before"`
	After      string `json:"after"`
	Specialist string `json:"specialist"`
	Accepted   bool   `json:"accepted"`
	Error      string `json:"error,omitempty"`
}

// SpecialistRun is the outcome of one specialist's stream.
type SpecialistRun struct {
	Specialist        string          `json:"specialist"`
	Outcome           Outcome         `json:"outcome"`
	Text              string          `json:"text"`
	Edits             []EditOperation `json:"edits"`
	DroppedEdits      int             `json:"dropped_edits"`
	InputTokens       int             `json:"input_tokens"`
	OutputTokens      int             `json:"output_tokens"`
	CostUSD           float64         `json:"cost_usd"`
	ContinuationToken string          `json:"continuation_token,omitempty"`
	TurnCapReached    bool            `json:"turn_cap_reached"`
	Error             string          `json:"error,omitempty"`
	Duration          time.Duration   `json:"duration"`
}

// Result aggregates every specialist run of one request.
type Result struct {
	RunID             string          `json:"run_id"`
	Text              string          `json:"text"`
	Specialists       []string        `json:"specialists"`
	Accepted          bool            `json:"accepted"`
	Error             string          `json:"error,omitempty"`
	Outcome           Outcome         `json:"outcome"`
	TotalTokens       int             `json:"total_tokens"`
	InputTokens       int             `json:"input_tokens"`
	OutputTokens      int             `json:"output_tokens"`
	CostUSD           float64         `json:"cost_usd"`
	ContinuationToken string          `json:"continuation_token,omitempty"`
	Edits             []EditOperation `json:"edits"`
	Runs              []SpecialistRun `json:"runs"`
}

// UpdateKind discriminates Update.
type UpdateKind string

const (
	UpdateSpecialistStart UpdateKind = "specialist_start"
	UpdateText            UpdateKind = "text"
	UpdateEdit            UpdateKind = "edit"
	UpdateSpecialistDone  UpdateKind = "specialist_done"
	UpdateDone            UpdateKind = "done"
)

// Update is one live progress item. Which payload field is set depends on
// Kind.
type Update struct {
	Kind       UpdateKind     `json:"kind"`
	RunID      string         `json:"run_id"`
	Specialist string         `json:"specialist,omitempty"`
	Text       string         `json:"text,omitempty"`
	Edit       *EditOperation `json:"edit,omitempty"`
	Run        *SpecialistRun `json:"run,omitempty"`
	Result     *Result        `json:"result,omitempty"`
}
