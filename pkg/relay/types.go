package relay

import (
	"encoding/json"
	"fmt"

	"github.com/LLM-Red-Team/hailuo-free-api/pkg/jsontime"
)

// ChatRequest is the OpenAI-compatible chat completion request body.
type ChatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream,omitempty"`

	// ConversationID continues an existing upstream conversation instead
	// of starting (and afterwards deleting) an ephemeral one.
	ConversationID string `json:"conversation_id,omitempty"`
}

// Message is one chat turn. Content is either a plain string or a list of
// typed parts.
type Message struct {
	Role    string         `json:"role"`
	Content MessageContent `json:"content"`
}

// MessageContent accepts the two OpenAI content encodings: a bare string
// or an array of typed parts.
type MessageContent struct {
	Text  string
	Parts []ContentPart
}

// ContentPart is a typed piece of a structured message content array.
type ContentPart struct {
	Type     string  `json:"type"`
	Text     string  `json:"text,omitempty"`
	FileURL  *URLRef `json:"file_url,omitempty"`
	ImageURL *URLRef `json:"image_url,omitempty"`
}

// URLRef wraps a url field.
type URLRef struct {
	URL string `json:"url"`
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *MessageContent) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		return json.Unmarshal(b, &c.Text)
	}
	if err := json.Unmarshal(b, &c.Parts); err != nil {
		return fmt.Errorf("content must be a string or an array of parts: %w", err)
	}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (c MessageContent) MarshalJSON() ([]byte, error) {
	if c.Parts != nil {
		return json.Marshal(c.Parts)
	}
	return json.Marshal(c.Text)
}

// PlainText flattens the content to text, ignoring attachments.
func (c MessageContent) PlainText() string {
	if c.Parts == nil {
		return c.Text
	}
	var out string
	for _, p := range c.Parts {
		if p.Type == "text" {
			out += p.Text
		}
	}
	return out
}

// ChatCompletion is the OpenAI-shaped non-streamed response object.
type ChatCompletion struct {
	ID      string        `json:"id"`
	Model   string        `json:"model"`
	Object  string        `json:"object"`
	Choices []Choice      `json:"choices"`
	Usage   Usage         `json:"usage"`
	Created jsontime.Unix `json:"created"`
}

// Choice is one completion choice.
type Choice struct {
	Index        int               `json:"index"`
	Message      *AssistantMessage `json:"message,omitempty"`
	FinishReason string            `json:"finish_reason"`
}

// AssistantMessage is the completed assistant turn.
type AssistantMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Usage is the token-usage block. True token accounting is not observable
// behind the web upstream, so completions carry a fixed placeholder.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// placeholderUsage is attached to every non-streamed completion.
var placeholderUsage = Usage{PromptTokens: 1, CompletionTokens: 1, TotalTokens: 2}

// Chunk is the OpenAI-shaped streamed delta object.
type Chunk struct {
	ID      string        `json:"id"`
	Model   string        `json:"model"`
	Object  string        `json:"object"`
	Choices []ChunkChoice `json:"choices"`
	Created jsontime.Unix `json:"created"`
}

// ChunkChoice is one streamed choice.
type ChunkChoice struct {
	Index        int     `json:"index"`
	Delta        Delta   `json:"delta"`
	FinishReason *string `json:"finish_reason"`
}

// Delta is the incremental piece of an assistant turn.
type Delta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

// SpeechRequest is the OpenAI-compatible speech synthesis request body.
type SpeechRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
	Voice string `json:"voice"`
}
