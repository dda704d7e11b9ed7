// Package envelope defines the chat-completion wire shapes and normalizes
// the claude CLI's variable output into them.
package envelope

import (
	"time"

	"github.com/google/uuid"
)

// ObjectChatCompletion is the object-kind marker for sync responses.
const ObjectChatCompletion = "chat.completion"

// ObjectChatCompletionChunk is the object-kind marker for stream frames.
const ObjectChatCompletionChunk = "chat.completion.chunk"

// ChatMessage is one conversation turn.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatCompletionRequest is the subset of the request schema this wrapper
// consumes. Full schema validation is deliberately out of scope.
type ChatCompletionRequest struct {
	Model    string        `json:"model"`
	Messages []ChatMessage `json:"messages"`
	Stream   bool          `json:"stream,omitempty"`
}

// Usage is the token accounting block.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Choice is one completion alternative.
type Choice struct {
	Index        int         `json:"index"`
	Message      ChatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

// ChatCompletionResponse is the guaranteed response shape.
type ChatCompletionResponse struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   *Usage   `json:"usage"`
}

// ChunkDelta is the incremental content of a stream frame.
type ChunkDelta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

// ChunkChoice is one alternative within a stream frame.
type ChunkChoice struct {
	Index        int        `json:"index"`
	Delta        ChunkDelta `json:"delta"`
	FinishReason *string    `json:"finish_reason"`
}

// ChatCompletionChunk is one SSE frame of a streamed completion.
type ChatCompletionChunk struct {
	ID      string        `json:"id"`
	Object  string        `json:"object"`
	Created int64         `json:"created"`
	Model   string        `json:"model"`
	Choices []ChunkChoice `json:"choices"`
}

// placeholderUsage is used when the CLI gave us no token accounting.
// The values are deliberately non-zero so clients that divide by
// total_tokens don't blow up.
func placeholderUsage() *Usage {
	return &Usage{PromptTokens: 1, CompletionTokens: 1, TotalTokens: 2}
}

// NewResponse builds a minimal valid envelope wrapping content verbatim.
func NewResponse(model, content string) ChatCompletionResponse {
	return ChatCompletionResponse{
		ID:      "chatcmpl-" + uuid.NewString(),
		Object:  ObjectChatCompletion,
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []Choice{
			{
				Index:        0,
				Message:      ChatMessage{Role: "assistant", Content: content},
				FinishReason: "stop",
			},
		},
		Usage: placeholderUsage(),
	}
}

// NewChunk builds one stream frame carrying content.
func NewChunk(id, model, content string, finish bool) ChatCompletionChunk {
	choice := ChunkChoice{Index: 0, Delta: ChunkDelta{Content: content}}
	if finish {
		reason := "stop"
		choice.FinishReason = &reason
		choice.Delta = ChunkDelta{}
	}
	return ChatCompletionChunk{
		ID:      id,
		Object:  ObjectChatCompletionChunk,
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []ChunkChoice{choice},
	}
}
