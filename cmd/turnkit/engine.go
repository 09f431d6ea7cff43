package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/chriscow/turnkit/internal/metrics"
	"github.com/chriscow/turnkit/pkg/ai"
	"github.com/chriscow/turnkit/pkg/ai/llm"
	"github.com/chriscow/turnkit/pkg/align"
	"github.com/chriscow/turnkit/pkg/config"
	"github.com/chriscow/turnkit/pkg/dialogue"
	"github.com/chriscow/turnkit/pkg/generate"
	"github.com/chriscow/turnkit/pkg/memory"
	"github.com/chriscow/turnkit/pkg/pattern"
	"github.com/chriscow/turnkit/pkg/plugin"
	"github.com/chriscow/turnkit/pkg/turn"
)

// engine is the wired turn engine shared by every transport command.
type engine struct {
	orch     *dialogue.Orchestrator
	gate     *turn.Gate
	metrics  *metrics.Collector
	detector turn.Detector
}

func (e *engine) Close() {
	e.gate.Close()
	e.orch.Close()
}

// buildEngine validates cfg and assembles the orchestrator, its
// collaborators and the recognizer gate.
func buildEngine(cfg config.Config, logger *slog.Logger) (*engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	model, err := plugin.NewModel(cfg.Model.Backend, cfg.Model.BackendConfig(tokenizerPath(cfg)))
	if err != nil {
		return nil, fmt.Errorf("model backend: %w", err)
	}

	matcher, err := pattern.NewMatcher(cfg.Patterns, model)
	if err != nil {
		return nil, fmt.Errorf("patterns: %w", err)
	}

	gen, err := generate.New(model, matcher, generate.Config{
		Sampling:  cfg.Sampling,
		MaxTokens: cfg.Model.MaxTokens,
		Retry:     ai.DefaultRetryConfig,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}

	mem, err := memory.New(model, cfg.Template, memory.Config{
		Budget:               cfg.Memory.ShortTermSize,
		ReservedSuffixTokens: cfg.Memory.ReservedSuffixTokens,
		SystemPrompt:         cfg.Memory.SystemPrompt,
		Logger:               logger,
	})
	if err != nil {
		return nil, fmt.Errorf("memory: %w", err)
	}

	aligner, err := align.New(model, matcher, align.Config{
		AgentRole: cfg.Template.AgentRole,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}

	col := metrics.New()
	orch, err := dialogue.New(dialogue.Config{
		Generator: gen,
		Memory:    mem,
		Matcher:   matcher,
		Aligner:   aligner,
		Recorder:  col,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}

	detector, err := newDetector(cfg.Turn, logger)
	if err != nil {
		return nil, err
	}

	gate, err := turn.NewGate(turn.GateConfig{
		Submit:    orch.SubmitUserTurn,
		Detector:  detector,
		Language:  cfg.Turn.Language,
		Threshold: cfg.Turn.Threshold,
		MaxWait:   cfg.Turn.MaxWait,
		History: func() []llm.Message {
			return turn.Messages(orch.Memory().Turns())
		},
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}

	logger.Info("Engine ready",
		slog.String("backend", cfg.Model.Backend),
		slog.String("model", cfg.Model.ModelName()),
		slog.Int("short_term_size", cfg.Memory.ShortTermSize),
		slog.String("detector", cfg.Turn.Detector))

	return &engine{orch: orch, gate: gate, metrics: col, detector: detector}, nil
}

// newDetector builds the configured end-of-utterance detector, or nil when
// turns are released by the timer alone.
func newDetector(tc config.TurnConfig, logger *slog.Logger) (turn.Detector, error) {
	if tc.Detector == "" {
		return nil, nil
	}
	factory, ok := plugin.Get(plugin.KindDetector, tc.Detector)
	if !ok {
		return nil, fmt.Errorf("detector %q: %w", tc.Detector, plugin.ErrNotFound)
	}
	inst, err := factory(map[string]any{
		"model":      tc.DetectorModel,
		"model_path": tc.ModelPath,
		"remote_url": tc.RemoteURL,
		"logger":     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("detector %q: %w", tc.Detector, err)
	}
	det, ok := inst.(turn.Detector)
	if !ok {
		return nil, fmt.Errorf("detector %q returned %T", tc.Detector, inst)
	}
	return det, nil
}

// tokenizerPath resolves the tokenizer.json for the model: the configured
// path, else the repository's downloaded tokenizer when present.
func tokenizerPath(cfg config.Config) string {
	if cfg.Model.TokenizerPath != "" {
		return cfg.Model.TokenizerPath
	}
	if cfg.Model.Repo == "" {
		return ""
	}
	path := turn.ModelFile(cfg.Turn.ModelPath, turn.TokenizerModel(cfg.Model.Repo, ""), "tokenizer.json")
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}
