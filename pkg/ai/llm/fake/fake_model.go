// Package fake provides a scripted llm.Model for tests and offline demos.
package fake

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/chriscow/turnkit/pkg/ai/llm"
)

const (
	// EOS is the end-of-sequence token id of every FakeModel.
	EOS llm.TokenID = 1

	firstPieceID llm.TokenID = 2
)

// FakeModel tokenizes text into word-like pieces (a word keeps its leading
// space, every other non-space rune is its own piece) and replays scripted
// responses one token at a time.
type FakeModel struct {
	mu        sync.Mutex
	pieces    map[string]llm.TokenID
	byID      map[llm.TokenID]string
	responses []string
	callCount int
	prompts   []string
	params    []llm.SamplingParams

	delay    time.Duration
	gate     <-chan struct{}
	noEOS    bool
	failAt   int
	failErr  error
	openErrs []error
}

// Option configures a FakeModel.
type Option func(*FakeModel)

// WithTokenDelay makes every Next call wait d before returning.
func WithTokenDelay(d time.Duration) Option {
	return func(m *FakeModel) { m.delay = d }
}

// WithGate makes every Next call wait for a receive on gate, so tests can
// release tokens one at a time.
func WithGate(gate <-chan struct{}) Option {
	return func(m *FakeModel) { m.gate = gate }
}

// WithoutEOS ends scripted streams with io.EOF instead of the EOS token.
func WithoutEOS() Option {
	return func(m *FakeModel) { m.noEOS = true }
}

// WithFailure makes streams return err in place of the token at index n.
func WithFailure(n int, err error) Option {
	return func(m *FakeModel) {
		m.failAt = n
		m.failErr = err
	}
}

// WithOpenErrors makes the next len(errs) Generate calls fail in order.
func WithOpenErrors(errs ...error) Option {
	return func(m *FakeModel) { m.openErrs = errs }
}

// NewFakeModel creates a fake model that cycles through responses.
func NewFakeModel(responses []string, opts ...Option) *FakeModel {
	if len(responses) == 0 {
		responses = []string{"Teacher : This is a fake answer, from the fake model."}
	}
	m := &FakeModel{
		pieces:    make(map[string]llm.TokenID),
		byID:      make(map[llm.TokenID]string),
		responses: responses,
		failAt:    -1,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Split returns the pieces FakeModel tokenizes text into.
func Split(text string) []string {
	var pieces []string
	runes := []rune(text)
	for i := 0; i < len(runes); {
		start := i
		if runes[i] == ' ' && i+1 < len(runes) && runes[i+1] != ' ' && runes[i+1] != '\n' {
			i++
		}
		if isWordRune(runes[i]) {
			for i < len(runes) && isWordRune(runes[i]) {
				i++
			}
		} else {
			i++
		}
		pieces = append(pieces, string(runes[start:i]))
	}
	return pieces
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\''
}

// Tokenize implements llm.Tokenizer.
func (m *FakeModel) Tokenize(text string) ([]llm.TokenID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pieces := Split(text)
	ids := make([]llm.TokenID, len(pieces))
	for i, p := range pieces {
		ids[i] = m.idLocked(p)
	}
	return ids, nil
}

func (m *FakeModel) idLocked(piece string) llm.TokenID {
	if id, ok := m.pieces[piece]; ok {
		return id
	}
	id := firstPieceID + llm.TokenID(len(m.pieces))
	m.pieces[piece] = id
	m.byID[id] = piece
	return id
}

// Detokenize implements llm.Tokenizer. EOS decodes to the empty string.
func (m *FakeModel) Detokenize(ids []llm.TokenID) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var sb strings.Builder
	for _, id := range ids {
		if id == EOS {
			continue
		}
		piece, ok := m.byID[id]
		if !ok {
			return "", fmt.Errorf("unknown token id %d", id)
		}
		sb.WriteString(piece)
	}
	return sb.String(), nil
}

// EndOfSequence implements llm.Generator.
func (m *FakeModel) EndOfSequence() llm.TokenID {
	return EOS
}

// Generate implements llm.Generator by replaying the next scripted response.
func (m *FakeModel) Generate(ctx context.Context, prompt []llm.TokenID, params llm.SamplingParams) (llm.TokenStream, error) {
	promptText, err := m.Detokenize(prompt)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.prompts = append(m.prompts, promptText)
	m.params = append(m.params, params)
	if len(m.openErrs) > 0 {
		err := m.openErrs[0]
		m.openErrs = m.openErrs[1:]
		m.mu.Unlock()
		return nil, err
	}
	response := m.responses[m.callCount%len(m.responses)]
	m.callCount++
	m.mu.Unlock()

	ids, err := m.Tokenize(response)
	if err != nil {
		return nil, err
	}
	if !m.noEOS {
		ids = append(ids, EOS)
	}

	return &stream{model: m, ids: ids}, nil
}

// Prompts returns every prompt passed to Generate, decoded.
func (m *FakeModel) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.prompts...)
}

// Params returns the sampling parameters of every Generate call.
func (m *FakeModel) Params() []llm.SamplingParams {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]llm.SamplingParams(nil), m.params...)
}

// CallCount returns how many streams were opened successfully.
func (m *FakeModel) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

type stream struct {
	model  *FakeModel
	ids    []llm.TokenID
	pos    int
	closed bool
}

func (s *stream) Next(ctx context.Context) (llm.TokenID, error) {
	if s.closed {
		return 0, io.ErrClosedPipe
	}
	if s.model.gate != nil {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-s.model.gate:
		}
	}
	if s.model.delay > 0 {
		timer := time.NewTimer(s.model.delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return 0, ctx.Err()
		case <-timer.C:
		}
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s.pos == s.model.failAt {
		return 0, s.model.failErr
	}
	if s.pos >= len(s.ids) {
		return 0, io.EOF
	}
	id := s.ids[s.pos]
	s.pos++
	return id, nil
}

func (s *stream) Close() error {
	s.closed = true
	return nil
}
