package envelope

import (
	"encoding/json"
	"strings"

	"github.com/ChrisColeTech/claude-wrapper-sub018/internal/log"
)

// RawKind tags what the CLI actually emitted.
type RawKind int

const (
	// PlainText means the output was not a JSON object.
	PlainText RawKind = iota
	// Structured means the output parsed as a JSON object.
	Structured
)

// RawOutput is the tagged result of parsing CLI output once, so callers
// never re-check its shape ad hoc.
type RawOutput struct {
	Kind   RawKind
	Text   string                     // PlainText: the whole output
	Fields map[string]json.RawMessage // Structured: top-level fields
}

// ParseRaw classifies raw CLI output as structured or plain text.
func ParseRaw(raw string) RawOutput {
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "{") {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal([]byte(trimmed), &fields); err == nil {
			return RawOutput{Kind: Structured, Fields: fields}
		}
	}
	return RawOutput{Kind: PlainText, Text: raw}
}

// answerText extracts the textual answer. Structured output with a "result"
// field yields that field's value; anything else yields the whole raw
// output, covering executables that emit plain text despite structured
// output flags.
func answerText(raw string) string {
	parsed := ParseRaw(raw)
	if parsed.Kind == Structured {
		if resultRaw, ok := parsed.Fields["result"]; ok {
			var result string
			if err := json.Unmarshal(resultRaw, &result); err == nil {
				return result
			}
		}
	}
	return raw
}

// Normalize reconciles the CLI's variable output into one guaranteed
// response shape. It never fails: output that doesn't validate as a
// completion envelope is wrapped verbatim into a fresh minimal one with
// placeholder usage figures.
func Normalize(raw string, req ChatCompletionRequest) ChatCompletionResponse {
	answer := answerText(raw)

	if resp, ok := validate(answer); ok {
		return resp
	}

	log.Debug(log.CatAPI, "wrapping non-envelope output", "bytes", len(answer))
	return NewResponse(req.Model, answer)
}

// validate parses s as a completion envelope and checks the minimal
// required shape: identifier, object-kind marker, timestamp, model, choices
// with role/content/finish-reason, and a usage block.
func validate(s string) (ChatCompletionResponse, bool) {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "{") {
		return ChatCompletionResponse{}, false
	}

	var resp ChatCompletionResponse
	if err := json.Unmarshal([]byte(trimmed), &resp); err != nil {
		return ChatCompletionResponse{}, false
	}
	if resp.ID == "" || resp.Object != ObjectChatCompletion || resp.Created == 0 || resp.Model == "" {
		return ChatCompletionResponse{}, false
	}
	if len(resp.Choices) == 0 || resp.Usage == nil {
		return ChatCompletionResponse{}, false
	}
	for _, choice := range resp.Choices {
		if choice.Message.Role == "" || choice.FinishReason == "" {
			return ChatCompletionResponse{}, false
		}
	}
	return resp, true
}
