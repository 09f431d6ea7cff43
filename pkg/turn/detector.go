// Package turn decides when a user has finished speaking. Detectors score
// the dialogue so far; the Gate assembles recognizer segments into user
// turns and holds them until a detector, or a timeout, releases them.
package turn

import (
	"context"
	"errors"

	"github.com/chriscow/turnkit/pkg/ai/llm"
	"github.com/chriscow/turnkit/pkg/memory"
)

// ErrUnsupportedLanguage is returned for languages without a tuned threshold.
var ErrUnsupportedLanguage = errors.New("unsupported language")

// Detector predicts end of utterance.
type Detector interface {
	// UnlikelyThreshold returns the probability below which the user is
	// assumed to still be speaking.
	UnlikelyThreshold(language string) (float64, error)

	SupportsLanguage(language string) bool

	// PredictEndOfTurn returns the probability (0-1) that the last user
	// message is complete.
	PredictEndOfTurn(ctx context.Context, chatCtx ChatContext) (float64, error)
}

// ChatContext is the dialogue a detector scores.
type ChatContext struct {
	Messages []llm.Message
	Language string
}

// Messages converts dialogue memory turns to chat messages, using each
// turn's body without template affixes.
func Messages(turns []memory.Utterance) []llm.Message {
	out := make([]llm.Message, 0, len(turns))
	for _, u := range turns {
		var role llm.MessageRole
		switch u.Role {
		case memory.RoleSystem:
			role = llm.RoleSystem
		case memory.RoleUser:
			role = llm.RoleUser
		default:
			role = llm.RoleAssistant
		}
		if u.Body == "" {
			continue
		}
		out = append(out, llm.Message{Role: role, Content: u.Body})
	}
	return out
}
