package turn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/chriscow/turnkit/pkg/ai/llm"
)

// Recognizer segment actions.
const (
	SegmentAdd    = "add"
	SegmentRevoke = "revoke"
	SegmentCommit = "commit"
	// SegmentEnd closes the user's utterance regardless of the detector.
	SegmentEnd = "end"
)

// ErrUnknownAction is returned for an unrecognized segment action.
var ErrUnknownAction = errors.New("unknown segment action")

// DefaultMaxWait is how long committed text is held before it is submitted
// without an end-of-utterance decision.
const DefaultMaxWait = 700 * time.Millisecond

// GateConfig configures a Gate.
type GateConfig struct {
	// Submit receives each assembled user turn. Required.
	Submit func(text string) error

	// Detector is optional. Without it committed text is submitted after
	// MaxWait, or on SegmentEnd.
	Detector Detector
	Language string
	// Threshold overrides the detector's language threshold when > 0.
	Threshold float64
	MaxWait   time.Duration

	// History returns the dialogue preceding the pending user turn.
	History func() []llm.Message

	Logger *slog.Logger
}

// Gate assembles committed recognizer segments into a single user turn.
// Additions and revocations are hypotheses and are not part of the turn.
type Gate struct {
	cfg    GateConfig
	logger *slog.Logger

	mu        sync.Mutex
	committed []string
	partial   string
	timer     *time.Timer
	closed    bool
}

// NewGate creates a gate.
func NewGate(cfg GateConfig) (*Gate, error) {
	if cfg.Submit == nil {
		return nil, fmt.Errorf("Submit is required")
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = DefaultMaxWait
	}
	if cfg.Language == "" {
		cfg.Language = "en"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{cfg: cfg, logger: logger.With(slog.String("component", "gate"))}, nil
}

// Handle applies one recognizer segment. A commit may release the turn at
// once when the detector is confident the user has finished.
func (g *Gate) Handle(ctx context.Context, action, text string) error {
	switch action {
	case SegmentAdd:
		g.mu.Lock()
		g.partial = text
		g.mu.Unlock()
		return nil
	case SegmentRevoke:
		g.mu.Lock()
		g.partial = ""
		g.mu.Unlock()
		return nil
	case SegmentCommit:
		return g.commit(ctx, text)
	case SegmentEnd:
		if text != "" {
			g.append(text)
		}
		return g.Flush()
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
}

// Pending returns the committed text not yet submitted.
func (g *Gate) Pending() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return strings.Join(g.committed, " ")
}

// Partial returns the latest uncommitted recognizer hypothesis.
func (g *Gate) Partial() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.partial
}

// Flush submits the pending turn, if any.
func (g *Gate) Flush() error {
	g.mu.Lock()
	text := g.takeLocked()
	g.mu.Unlock()

	if text == "" {
		return nil
	}
	g.logger.Debug("Submitting user turn", slog.Int("chars", len(text)))
	return g.cfg.Submit(text)
}

// Close stops the wait timer and drops pending text.
func (g *Gate) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
	g.takeLocked()
}

func (g *Gate) append(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	g.committed = append(g.committed, text)
	g.partial = ""
	g.mu.Unlock()
}

func (g *Gate) commit(ctx context.Context, text string) error {
	g.append(text)
	pending := g.Pending()
	if pending == "" {
		return nil
	}

	if g.cfg.Detector != nil {
		done, err := g.endOfUtterance(ctx, pending)
		if err != nil {
			g.logger.Warn("End-of-utterance prediction failed", slog.String("error", err.Error()))
		} else if done {
			return g.Flush()
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return nil
	}
	if g.timer != nil {
		g.timer.Stop()
	}
	g.timer = time.AfterFunc(g.cfg.MaxWait, func() {
		if err := g.Flush(); err != nil {
			g.logger.Warn("Submitting held user turn failed", slog.String("error", err.Error()))
		}
	})
	return nil
}

func (g *Gate) endOfUtterance(ctx context.Context, pending string) (bool, error) {
	threshold := g.cfg.Threshold
	if threshold <= 0 {
		t, err := g.cfg.Detector.UnlikelyThreshold(g.cfg.Language)
		if err != nil {
			return false, err
		}
		threshold = t
	}

	var messages []llm.Message
	if g.cfg.History != nil {
		messages = g.cfg.History()
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: pending})

	prob, err := g.cfg.Detector.PredictEndOfTurn(ctx, ChatContext{Messages: messages, Language: g.cfg.Language})
	if err != nil {
		return false, err
	}
	g.logger.Debug("End-of-utterance probability",
		slog.Float64("probability", prob), slog.Float64("threshold", threshold))
	return prob >= threshold, nil
}

func (g *Gate) takeLocked() string {
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
	text := strings.Join(g.committed, " ")
	g.committed = nil
	g.partial = ""
	return text
}
