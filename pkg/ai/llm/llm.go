// Package llm defines the narrow interfaces the turn engine consumes from a
// language model: a tokenizer, a token-by-token generation primitive and the
// chat message shape shared with end-of-utterance detection.
package llm

import (
	"context"

	"github.com/chriscow/turnkit/pkg/ai"
)

// LLM-specific error variables for backward compatibility
var (
	// ErrRecoverable indicates a temporary generation failure that may succeed if retried.
	ErrRecoverable = ai.ErrRecoverable

	// ErrFatal indicates a permanent generation failure that will not succeed if retried.
	ErrFatal = ai.ErrFatal
)

// TokenID identifies a token in the model vocabulary.
type TokenID int32

// MessageRole represents the role of a message in a chat conversation.
type MessageRole string

const (
	RoleSystem    MessageRole = "system"
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// Message represents a single message in a chat conversation.
type Message struct {
	Role    MessageRole `json:"role"`
	Content string      `json:"content"`
}

// SamplingParams are passed through to the generation primitive unmodified.
type SamplingParams struct {
	TopK          int     `yaml:"top_k" json:"top_k"`
	TopP          float32 `yaml:"top_p" json:"top_p"`
	Temperature   float32 `yaml:"temperature" json:"temperature"`
	RepeatPenalty float32 `yaml:"repeat_penalty" json:"repeat_penalty"`
}

// DefaultSamplingParams mirrors the llama.cpp defaults the engine was tuned with.
func DefaultSamplingParams() SamplingParams {
	return SamplingParams{
		TopK:          40,
		TopP:          0.95,
		Temperature:   1.0,
		RepeatPenalty: 1.1,
	}
}

// Tokenizer converts between text and token ids. Tokenize never adds
// BOS or other special tokens.
type Tokenizer interface {
	Tokenize(text string) ([]TokenID, error)
	Detokenize(ids []TokenID) (string, error)
}

// TokenStream is a lazy, effectively infinite sequence of generated tokens.
// Next blocks until the next token is produced; callers stop the sequence by
// no longer calling Next and calling Close. Next returns io.EOF when the
// backend ends the sequence on its own.
type TokenStream interface {
	Next(ctx context.Context) (TokenID, error)
	Close() error
}

// Generator is the token-producing generation primitive.
type Generator interface {
	Generate(ctx context.Context, prompt []TokenID, params SamplingParams) (TokenStream, error)

	// EndOfSequence returns the id of the end-of-sequence token.
	EndOfSequence() TokenID
}

// Model is a tokenizer and generator over the same vocabulary.
type Model interface {
	Tokenizer
	Generator
}
