package claude

import (
	"encoding/json"
	"strings"
)

// Event is one NDJSON line of the CLI's stream-json output
type Event struct {
	Type      string  `json:"type"`
	Subtype   string  `json:"subtype,omitempty"`
	SessionID string  `json:"session_id,omitempty"`
	Message   Message `json:"message,omitempty"`

	// Fields from the "result" event
	Result       string  `json:"result,omitempty"`
	TotalCostUSD float64 `json:"total_cost_usd,omitempty"`
	NumTurns     int     `json:"num_turns,omitempty"`
	DurationMs   int64   `json:"duration_ms,omitempty"`
	IsError      bool    `json:"is_error,omitempty"`
}

// Message carries the content blocks of assistant and user events
type Message struct {
	Content []ContentBlock `json:"content"`
}

// ContentBlock is one element of a message: assistant text, a tool
// invocation, or a tool result echoed back on a user event.
type ContentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
}

// TextBlocks concatenates the text content of an assistant event
func (e *Event) TextBlocks() string {
	var parts []string
	for _, block := range e.Message.Content {
		if block.Type == "text" && strings.TrimSpace(block.Text) != "" {
			parts = append(parts, strings.TrimSpace(block.Text))
		}
	}
	return strings.Join(parts, "\n")
}

// ToolUses returns the tool invocations of an assistant event
func (e *Event) ToolUses() []ContentBlock {
	var uses []ContentBlock
	for _, block := range e.Message.Content {
		if block.Type == "tool_use" {
			uses = append(uses, block)
		}
	}
	return uses
}

// ToolSummary pulls the most useful input field of a tool invocation for a
// one-line activity display.
func ToolSummary(block ContentBlock) string {
	if len(block.Input) == 0 {
		return ""
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(block.Input, &fields); err != nil {
		return truncate(string(block.Input), 120)
	}

	var key string
	switch block.Name {
	case "Bash":
		key = "command"
	case "Read", "Write", "Edit":
		key = "file_path"
	case "Grep", "Glob":
		key = "pattern"
	case "WebFetch":
		key = "url"
	case "WebSearch":
		key = "query"
	case "Task":
		key = "description"
	}
	if key != "" {
		if val, ok := fields[key]; ok {
			var s string
			if err := json.Unmarshal(val, &s); err == nil {
				return truncate(s, 120)
			}
		}
	}
	return truncate(string(block.Input), 120)
}

// ToolResultText extracts tool_result content, which the CLI emits either as
// a plain string or as an array of content blocks.
func ToolResultText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var blocks []struct {
		Type string `json:"type"`
		Text string `json:"text,omitempty"`
	}
	if err := json.Unmarshal(raw, &blocks); err == nil {
		var parts []string
		for _, b := range blocks {
			if b.Text != "" {
				parts = append(parts, b.Text)
			}
		}
		return strings.Join(parts, " ")
	}
	return string(raw)
}

// truncate collapses whitespace and cuts s to maxLen characters
func truncate(s string, maxLen int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
