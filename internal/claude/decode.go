package claude

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/fyrsmithlabs/refacta/internal/stream"
)

// Result subtypes reported on the final stream-json line.
const (
	resultSuccess      = "success"
	resultErrorMaxTurn = "error_max_turns"
)

// cliLine is one JSONL record of `claude --output-format stream-json`.
type cliLine struct {
	Type      string `json:"type"`
	Subtype   string `json:"subtype"`
	UUID      string `json:"uuid"`
	SessionID string `json:"session_id"`

	// system/init
	Model string   `json:"model"`
	Tools []string `json:"tools"`

	// assistant
	Message *cliMessage `json:"message"`

	// result
	IsError      bool      `json:"is_error"`
	NumTurns     int       `json:"num_turns"`
	Result       string    `json:"result"`
	TotalCostUSD float64   `json:"total_cost_usd"`
	Usage        *cliUsage `json:"usage"`
}

type cliMessage struct {
	ID      string     `json:"id"`
	Content []cliBlock `json:"content"`
}

type cliBlock struct {
	Type  string         `json:"type"`
	Text  string         `json:"text"`
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	Input map[string]any `json:"input"`
}

type cliUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// DecodeLine converts one stream-json line into zero or more events. Lines
// that carry nothing the engine consumes (user tool results, partial
// deltas, unknown types) decode to no events.
func DecodeLine(line []byte) ([]stream.Event, error) {
	var l cliLine
	if err := json.Unmarshal(line, &l); err != nil {
		return nil, fmt.Errorf("decoding stream-json line: %w", err)
	}

	switch l.Type {
	case "system":
		if l.Subtype != "init" {
			return nil, nil
		}
		return []stream.Event{stream.SystemInit{
			SessionID: l.SessionID,
			Model:     l.Model,
			Tools:     l.Tools,
		}}, nil

	case "assistant":
		if l.Message == nil {
			return nil, nil
		}
		var out []stream.Event
		for _, b := range l.Message.Content {
			switch b.Type {
			case "text":
				if b.Text != "" {
					out = append(out, stream.TextFragment{Text: b.Text})
				}
			case "tool_use":
				out = append(out, stream.ToolInvocation{ID: b.ID, Name: b.Name, Input: b.Input})
			}
		}
		return out, nil

	case "result":
		id := l.UUID
		if id == "" {
			id = uuid.NewString()
		}
		term := stream.Terminal{
			EventID:           id,
			CostUSD:           l.TotalCostUSD,
			ContinuationToken: l.SessionID,
			TurnCapReached:    l.Subtype == resultErrorMaxTurn,
			NumTurns:          l.NumTurns,
			IsError:           l.IsError && l.Subtype != resultErrorMaxTurn,
		}
		if l.Usage != nil {
			term.InputTokens = l.Usage.InputTokens
			term.OutputTokens = l.Usage.OutputTokens
		}
		if term.IsError || l.Subtype != resultSuccess {
			term.Message = l.Result
		}
		return []stream.Event{term}, nil
	}

	return nil, nil
}
