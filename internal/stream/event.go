// Package stream defines the events produced by an upstream streaming query
// and the contract for issuing one.
package stream

import "fmt"

// Kind discriminates Event variants.
type Kind int

const (
	KindText Kind = iota + 1
	KindToolInvocation
	KindTerminal
	KindSystemInit
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindToolInvocation:
		return "tool_invocation"
	case KindTerminal:
		return "terminal"
	case KindSystemInit:
		return "system_init"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Event is one item of a stream. The set of variants is closed: TextFragment,
// ToolInvocation, Terminal and SystemInit.
type Event interface {
	Kind() Kind
	isEvent()
}

// TextFragment is a piece of assistant text, in emission order.
type TextFragment struct {
	Text string
}

// ToolInvocation is a structured tool call made by the model.
type ToolInvocation struct {
	ID    string
	Name  string
	Input map[string]any
}

// String returns Input[key] when it is a string.
func (t ToolInvocation) String(key string) string {
	if v, ok := t.Input[key].(string); ok {
		return v
	}
	return ""
}

// Terminal closes a turn sequence with usage, cost and continuation data.
type Terminal struct {
	// EventID identifies this usage report for deduplication.
	EventID      string
	InputTokens  int
	OutputTokens int
	// CostUSD is cumulative for the whole turn sequence.
	CostUSD           float64
	ContinuationToken string
	// TurnCapReached is set when the sequence ended on the turn cap.
	TurnCapReached bool
	NumTurns       int
	IsError        bool
	Message        string
}

// SystemInit is emitted once at stream start.
type SystemInit struct {
	SessionID string
	Model     string
	Tools     []string
}

func (TextFragment) Kind() Kind   { return KindText }
func (ToolInvocation) Kind() Kind { return KindToolInvocation }
func (Terminal) Kind() Kind       { return KindTerminal }
func (SystemInit) Kind() Kind     { return KindSystemInit }

func (TextFragment) isEvent()   {}
func (ToolInvocation) isEvent() {}
func (Terminal) isEvent()       {}
func (SystemInit) isEvent()     {}
