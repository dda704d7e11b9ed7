package claude

import (
	"bytes"
	"encoding/json"
	"time"
)

// EventType identifies the kind of output event emitted by the CLI.
type EventType string

const (
	// EventSystem is a system-level event (init is a subtype).
	EventSystem EventType = "system"
	// EventAssistant is an assistant message event.
	EventAssistant EventType = "assistant"
	// EventResult is a completion/result event.
	EventResult EventType = "result"
	// EventError is an error event.
	EventError EventType = "error"
)

// OutputEvent represents one parsed line of the CLI's stream-json output,
// or the single object emitted in --output-format json mode.
type OutputEvent struct {
	Type      EventType `json:"type"`
	SubType   string    `json:"subtype,omitempty"`
	Timestamp time.Time `json:"-"`

	// Session information (from init and result events)
	SessionID string `json:"session_id,omitempty"`
	WorkDir   string `json:"cwd,omitempty"`

	// Message content (from assistant events)
	Message *MessageContent `json:"message,omitempty"`

	// Result payload (from result events)
	Result        string  `json:"result,omitempty"`
	IsErrorResult bool    `json:"is_error,omitempty"`
	TotalCostUSD  float64 `json:"total_cost_usd,omitempty"`
	DurationMs    int64   `json:"duration_ms,omitempty"`

	// Token usage (from result events)
	Usage *UsageInfo `json:"usage,omitempty"`

	// Raw payload for debugging
	Raw json.RawMessage `json:"-"`
}

// IsInit returns true if this is a system init event.
func (e *OutputEvent) IsInit() bool {
	return e.Type == EventSystem && e.SubType == "init"
}

// IsAssistant returns true if this is an assistant message event.
func (e *OutputEvent) IsAssistant() bool {
	return e.Type == EventAssistant
}

// IsResult returns true if this is a result (completion) event.
func (e *OutputEvent) IsResult() bool {
	return e.Type == EventResult
}

// MessageContent holds assistant message content.
type MessageContent struct {
	ID      string         `json:"id,omitempty"`
	Role    string         `json:"role,omitempty"`
	Content []ContentBlock `json:"content,omitempty"`
	Model   string         `json:"model,omitempty"`
}

// GetText returns the concatenated text content from all text blocks.
func (m *MessageContent) GetText() string {
	if m == nil {
		return ""
	}
	var buf bytes.Buffer
	for _, block := range m.Content {
		if block.Type == "text" {
			buf.WriteString(block.Text)
		}
	}
	return buf.String()
}

// ContentBlock represents a single content block in a message.
type ContentBlock struct {
	Type string `json:"type,omitempty"`
	Text string `json:"text,omitempty"`
}

// UsageInfo holds token usage from result events.
type UsageInfo struct {
	InputTokens              int `json:"input_tokens,omitempty"`
	OutputTokens             int `json:"output_tokens,omitempty"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens,omitempty"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens,omitempty"`
}

// ParseEvent parses one line of stream-json output.
func ParseEvent(line []byte) (OutputEvent, error) {
	var event OutputEvent
	if err := json.Unmarshal(line, &event); err != nil {
		return OutputEvent{}, err
	}
	event.Raw = make([]byte, len(line))
	copy(event.Raw, line)
	event.Timestamp = time.Now()
	return event, nil
}

// ExtractSessionID returns the native session identifier from structured
// output, or "" when none is present. It accepts both a single JSON result
// object (--output-format json) and stream-json, where the id appears on
// the init and result lines.
func ExtractSessionID(raw []byte) string {
	for _, line := range bytes.Split(raw, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		event, err := ParseEvent(line)
		if err != nil {
			continue
		}
		if event.SessionID != "" {
			return event.SessionID
		}
	}
	return ""
}
