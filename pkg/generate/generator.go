// Package generate drives a token-by-token generation primitive, classifies
// every increment with a pattern.Matcher and decides, in one place, when and
// why a generated turn ends.
package generate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/chriscow/turnkit/pkg/ai"
	"github.com/chriscow/turnkit/pkg/ai/llm"
	"github.com/chriscow/turnkit/pkg/pattern"
)

// Reason is why a generation stopped.
type Reason int

const (
	ReasonNone Reason = iota
	// ReasonInterrupted: the user barged in.
	ReasonInterrupted
	// ReasonStopPattern: the model started the other speaker's turn.
	ReasonStopPattern
	// ReasonStopToken: the model emitted end-of-sequence.
	ReasonStopToken
	// ReasonMaxTokens: the per-turn token cap was reached.
	ReasonMaxTokens
)

func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonInterrupted:
		return "interrupted"
	case ReasonStopPattern:
		return "stop_pattern"
	case ReasonStopToken:
		return "stop_token"
	case ReasonMaxTokens:
		return "max_tokens"
	default:
		return fmt.Sprintf("Unknown(%d)", int(r))
	}
}

// Interrupter reports whether the user has started talking over the agent.
type Interrupter interface {
	Interrupted() bool
}

// Increment is one forwarded token, already classified.
type Increment struct {
	Token         llm.TokenID
	Text          string
	IsPunctuation bool
	StopPattern   *pattern.Pattern
	RolePattern   *pattern.Pattern
}

// Result summarizes a finished generation.
type Result struct {
	Text        string
	Tokens      int
	Reason      Reason
	StopPattern *pattern.Pattern
	// Trigger is the text of the token that ended the run, if any. It was
	// not forwarded.
	Trigger string
}

// Config holds the generation parameters.
type Config struct {
	Sampling llm.SamplingParams
	// StopTokens are literal token texts treated like end-of-sequence.
	StopTokens []string
	// MaxTokens caps a single turn; zero means unlimited.
	MaxTokens int
	Retry     ai.RetryConfig
	Logger    *slog.Logger
}

// Generator starts generation runs against a model.
type Generator struct {
	model   llm.Model
	matcher *pattern.Matcher
	cfg     Config
	stops   map[string]struct{}
	logger  *slog.Logger
}

// New creates a Generator.
func New(model llm.Model, matcher *pattern.Matcher, cfg Config) (*Generator, error) {
	if model == nil {
		return nil, fmt.Errorf("model is required")
	}
	if matcher == nil {
		return nil, fmt.Errorf("matcher is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	stops := make(map[string]struct{}, len(cfg.StopTokens))
	for _, s := range cfg.StopTokens {
		stops[s] = struct{}{}
	}

	return &Generator{
		model:   model,
		matcher: matcher,
		cfg:     cfg,
		stops:   stops,
		logger:  logger,
	}, nil
}

// Start tokenizes prompt and opens a token stream. The returned Run must be
// drained with Next and released with Close.
func (g *Generator) Start(ctx context.Context, prompt string, intr Interrupter) (*Run, error) {
	ids, err := g.model.Tokenize(prompt)
	if err != nil {
		return nil, fmt.Errorf("tokenize prompt: %w", err)
	}

	var stream llm.TokenStream
	err = ai.Retry(ctx, g.cfg.Retry, func(ctx context.Context) error {
		s, err := g.model.Generate(ctx, ids, g.cfg.Sampling)
		if err != nil {
			g.logger.Warn("Opening token stream failed", slog.String("error", err.Error()))
			return err
		}
		stream = s
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("open token stream: %w", err)
	}

	g.logger.Debug("Generation started", slog.Int("prompt_tokens", len(ids)))

	return &Run{
		gen:    g,
		ctx:    ctx,
		stream: stream,
		intr:   intr,
	}, nil
}

// Run is a single generation in progress. It is not safe for concurrent use.
type Run struct {
	gen    *Generator
	ctx    context.Context
	stream llm.TokenStream
	intr   Interrupter

	text     string
	tokens   int
	roleSeen bool
	cur      Increment
	result   Result
	err      error
	done     bool
}

// Next requests the next token. It returns true with a forwardable
// increment, or false once a terminal condition fired or an error occurred.
func (r *Run) Next() bool {
	if r.done {
		return false
	}
	if r.interrupted() {
		return r.finish(ReasonInterrupted, nil)
	}
	if limit := r.gen.cfg.MaxTokens; limit > 0 && r.tokens >= limit {
		return r.finish(ReasonMaxTokens, nil)
	}

	id, err := r.stream.Next(r.ctx)
	if err != nil {
		switch {
		case r.interrupted():
			return r.finish(ReasonInterrupted, nil)
		case errors.Is(err, io.EOF):
			return r.finish(ReasonStopToken, nil)
		default:
			r.err = fmt.Errorf("next token: %w", err)
			return r.finish(ReasonNone, nil)
		}
	}

	text, err := r.gen.model.Detokenize([]llm.TokenID{id})
	if err != nil {
		r.err = fmt.Errorf("detokenize %d: %w", id, err)
		return r.finish(ReasonNone, nil)
	}

	eos := id == r.gen.model.EndOfSequence()
	if _, ok := r.gen.stops[text]; ok && text != "" {
		eos = true
	}
	if !eos {
		r.text += text
		r.tokens++
	}

	inc := Increment{
		Token:         id,
		Text:          text,
		IsPunctuation: r.gen.matcher.IsPunctuation(text),
	}
	stop, isStop := r.gen.matcher.MatchStopSuffix(r.text)
	if isStop {
		inc.StopPattern = &stop
	}
	if !r.roleSeen {
		if role, ok := r.gen.matcher.MatchRolePrefix(r.text); ok {
			r.roleSeen = true
			inc.RolePattern = &role
		}
	}

	switch {
	case r.interrupted():
		r.result.Trigger = text
		return r.finish(ReasonInterrupted, nil)
	case isStop:
		r.result.Trigger = text
		return r.finish(ReasonStopPattern, &stop)
	case eos:
		r.result.Trigger = text
		return r.finish(ReasonStopToken, nil)
	}

	r.cur = inc
	return true
}

// Increment returns the increment produced by the last successful Next.
func (r *Run) Increment() Increment {
	return r.cur
}

// Text returns everything generated so far.
func (r *Run) Text() string {
	return r.text
}

// Result returns the outcome once Next has returned false.
func (r *Run) Result() (Result, error) {
	return r.result, r.err
}

// Close releases the token stream. It is safe to call more than once.
func (r *Run) Close() error {
	if r.stream == nil {
		return nil
	}
	err := r.stream.Close()
	r.stream = nil
	return err
}

func (r *Run) interrupted() bool {
	return r.intr != nil && r.intr.Interrupted()
}

func (r *Run) finish(reason Reason, stop *pattern.Pattern) bool {
	r.done = true
	r.cur = Increment{}
	r.result.Text = r.text
	r.result.Tokens = r.tokens
	r.result.Reason = reason
	r.result.StopPattern = stop
	if err := r.Close(); err != nil {
		r.gen.logger.Debug("Closing token stream failed", slog.String("error", err.Error()))
	}
	return false
}
