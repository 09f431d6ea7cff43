// Package hf adapts a HuggingFace tokenizer.json to llm.Tokenizer.
package hf

import (
	"fmt"
	"os"

	"github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/pretrained"

	"github.com/chriscow/turnkit/pkg/ai/llm"
)

// DefaultEOSToken is the end-of-sequence literal of Llama-family vocabularies.
const DefaultEOSToken = "</s>"

// Tokenizer wraps a sugarme tokenizer. It never adds special tokens when
// encoding.
type Tokenizer struct {
	tk  *tokenizer.Tokenizer
	eos llm.TokenID
}

// Load reads a tokenizer.json file. eosToken names the end-of-sequence
// token; it defaults to DefaultEOSToken.
func Load(path, eosToken string) (*Tokenizer, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("tokenizer file: %w", err)
	}
	tk, err := pretrained.FromFile(path)
	if err != nil {
		return nil, fmt.Errorf("load tokenizer %s: %w", path, err)
	}
	return New(tk, eosToken)
}

// New wraps an already loaded tokenizer.
func New(tk *tokenizer.Tokenizer, eosToken string) (*Tokenizer, error) {
	if tk == nil {
		return nil, fmt.Errorf("tokenizer is required")
	}
	if eosToken == "" {
		eosToken = DefaultEOSToken
	}
	id, ok := tk.TokenToId(eosToken)
	if !ok {
		return nil, fmt.Errorf("end-of-sequence token %q not in vocabulary", eosToken)
	}
	return &Tokenizer{tk: tk, eos: llm.TokenID(id)}, nil
}

// Tokenize implements llm.Tokenizer.
func (t *Tokenizer) Tokenize(text string) ([]llm.TokenID, error) {
	if text == "" {
		return nil, nil
	}
	enc, err := t.tk.EncodeSingle(text, false)
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	raw := enc.GetIds()
	ids := make([]llm.TokenID, len(raw))
	for i, id := range raw {
		ids[i] = llm.TokenID(id)
	}
	return ids, nil
}

// Detokenize implements llm.Tokenizer. Special tokens decode to nothing.
func (t *Tokenizer) Detokenize(ids []llm.TokenID) (string, error) {
	raw := make([]int, 0, len(ids))
	for _, id := range ids {
		if id == t.eos {
			continue
		}
		raw = append(raw, int(id))
	}
	if len(raw) == 0 {
		return "", nil
	}
	return t.tk.Decode(raw, true), nil
}

// EndOfSequence returns the id of the end-of-sequence token.
func (t *Tokenizer) EndOfSequence() llm.TokenID {
	return t.eos
}
