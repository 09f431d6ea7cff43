// Package openai implements llm.Model over an OpenAI-compatible streaming
// completions endpoint, such as a local llama.cpp or vLLM server.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"unicode"

	openai "github.com/sashabaranov/go-openai"

	"github.com/chriscow/turnkit/pkg/ai"
	"github.com/chriscow/turnkit/pkg/ai/llm"
)

// pieceOffset separates vocabulary ids of the configured tokenizer from ids
// interned for streamed text. The end-of-sequence id sits at the offset.
const pieceOffset llm.TokenID = 1 << 24

// EOS is the end-of-sequence id of every Model.
const EOS = pieceOffset

// Config configures a Model.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string

	// Tokenizer, when set, provides prompt token ids and counts. Without it
	// text is split into word pieces.
	Tokenizer llm.Tokenizer

	// MaxTokens caps a single completion. Zero lets the server decide.
	MaxTokens int

	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Model streams completions and maps every streamed piece to a token id.
type Model struct {
	client *openai.Client
	cfg    Config
	logger *slog.Logger

	mu     sync.Mutex
	pieces map[string]llm.TokenID
	byID   map[llm.TokenID]string
}

// New creates a completions-backed model.
func New(cfg Config) (*Model, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("Model is required")
	}
	if cfg.APIKey == "" && cfg.BaseURL == "" {
		return nil, fmt.Errorf("APIKey is required when BaseURL is not set")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if cfg.HTTPClient != nil {
		clientCfg.HTTPClient = cfg.HTTPClient
	}

	return &Model{
		client: openai.NewClientWithConfig(clientCfg),
		cfg:    cfg,
		logger: logger.With(slog.String("backend", "openai"), slog.String("model", cfg.Model)),
		pieces: make(map[string]llm.TokenID),
		byID:   make(map[llm.TokenID]string),
	}, nil
}

// Tokenize implements llm.Tokenizer.
func (m *Model) Tokenize(text string) ([]llm.TokenID, error) {
	if m.cfg.Tokenizer != nil {
		return m.cfg.Tokenizer.Tokenize(text)
	}
	words := splitWords(text)
	ids := make([]llm.TokenID, len(words))

	m.mu.Lock()
	defer m.mu.Unlock()
	for i, w := range words {
		ids[i] = m.internLocked(w)
	}
	return ids, nil
}

// Detokenize implements llm.Tokenizer. Runs of vocabulary ids are decoded
// by the configured tokenizer; interned ids decode to their piece.
func (m *Model) Detokenize(ids []llm.TokenID) (string, error) {
	var sb strings.Builder
	var run []llm.TokenID

	flush := func() error {
		if len(run) == 0 {
			return nil
		}
		if m.cfg.Tokenizer == nil {
			return fmt.Errorf("token id %d outside the piece table", run[0])
		}
		text, err := m.cfg.Tokenizer.Detokenize(run)
		if err != nil {
			return err
		}
		sb.WriteString(text)
		run = run[:0]
		return nil
	}

	for _, id := range ids {
		switch {
		case id == EOS:
			continue
		case id > pieceOffset:
			if err := flush(); err != nil {
				return "", err
			}
			m.mu.Lock()
			piece, ok := m.byID[id]
			m.mu.Unlock()
			if !ok {
				return "", fmt.Errorf("unknown token id %d", id)
			}
			sb.WriteString(piece)
		default:
			run = append(run, id)
		}
	}
	if err := flush(); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// EndOfSequence implements llm.Generator.
func (m *Model) EndOfSequence() llm.TokenID {
	return EOS
}

// Generate implements llm.Generator. Temperature and top_p are forwarded;
// the completions API has no fields for top_k and repeat_penalty.
func (m *Model) Generate(ctx context.Context, prompt []llm.TokenID, params llm.SamplingParams) (llm.TokenStream, error) {
	text, err := m.Detokenize(prompt)
	if err != nil {
		return nil, ai.NewFatalError(err, "decode prompt")
	}

	req := openai.CompletionRequest{
		Model:       m.cfg.Model,
		Prompt:      text,
		MaxTokens:   m.cfg.MaxTokens,
		Temperature: params.Temperature,
		TopP:        params.TopP,
		Stream:      true,
	}

	m.logger.Debug("Opening completion stream", slog.Int("prompt_tokens", len(prompt)))
	s, err := m.client.CreateCompletionStream(ctx, req)
	if err != nil {
		return nil, classify(err, "open completion stream")
	}
	return &stream{model: m, s: s}, nil
}

func (m *Model) internLocked(piece string) llm.TokenID {
	if id, ok := m.pieces[piece]; ok {
		return id
	}
	id := pieceOffset + 1 + llm.TokenID(len(m.pieces))
	m.pieces[piece] = id
	m.byID[id] = piece
	return id
}

type stream struct {
	model   *Model
	s       *openai.CompletionStream
	queue   []llm.TokenID
	done    bool
	sentEOS bool
}

// Next returns queued pieces, reading another chunk when the queue is empty.
// A finished completion yields EOS once and io.EOF afterwards.
func (s *stream) Next(ctx context.Context) (llm.TokenID, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	for len(s.queue) == 0 {
		if s.done {
			if s.sentEOS {
				return 0, io.EOF
			}
			s.sentEOS = true
			return EOS, nil
		}

		resp, err := s.s.Recv()
		if errors.Is(err, io.EOF) {
			s.done = true
			continue
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return 0, ctxErr
			}
			return 0, classify(err, "read completion stream")
		}
		if len(resp.Choices) == 0 {
			continue
		}

		choice := resp.Choices[0]
		if choice.Text != "" {
			s.model.mu.Lock()
			for _, w := range splitWords(choice.Text) {
				s.queue = append(s.queue, s.model.internLocked(w))
			}
			s.model.mu.Unlock()
		}
		if choice.FinishReason != "" {
			s.done = true
		}
	}

	id := s.queue[0]
	s.queue = s.queue[1:]
	return id, nil
}

func (s *stream) Close() error {
	s.s.Close()
	return nil
}

// classify maps transport errors onto the recoverable/fatal split: rate
// limits, server errors and network failures are recoverable.
func classify(err error, msg string) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500 {
			return ai.NewRecoverableError(err, msg)
		}
		return ai.NewFatalError(err, msg)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		if reqErr.HTTPStatusCode == http.StatusTooManyRequests || reqErr.HTTPStatusCode >= 500 {
			return ai.NewRecoverableError(err, msg)
		}
		return ai.NewFatalError(err, msg)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return ai.NewRecoverableError(err, msg)
	}
	return ai.NewFatalError(err, msg)
}

// splitWords cuts text into pieces: a word keeps one leading space, every
// other rune stands alone.
func splitWords(text string) []string {
	var out []string
	runes := []rune(text)
	for i := 0; i < len(runes); {
		start := i
		if runes[i] == ' ' && i+1 < len(runes) && isWordRune(runes[i+1]) {
			i++
		}
		if isWordRune(runes[i]) {
			for i < len(runes) && isWordRune(runes[i]) {
				i++
			}
		} else {
			i++
		}
		out = append(out, string(runes[start:i]))
	}
	return out
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\''
}
