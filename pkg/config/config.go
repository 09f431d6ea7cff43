// Package config loads turnkit settings from a YAML file, a .env file and
// TK_* environment variables, in that order of precedence (last wins).
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/chriscow/turnkit/pkg/ai/llm"
	"github.com/chriscow/turnkit/pkg/memory"
	"github.com/chriscow/turnkit/pkg/pattern"
)

var (
	// ErrNoModelSource means neither a local model path nor a repository
	// was configured.
	ErrNoModelSource = errors.New("no model source: set model.path or model.repo and model.file")

	// ErrAmbiguousModelSource means both a local path and a repository
	// were configured.
	ErrAmbiguousModelSource = errors.New("ambiguous model source: set either model.path or model.repo, not both")
)

// Config is the complete engine configuration.
type Config struct {
	Model    ModelConfig        `yaml:"model"`
	Memory   MemoryConfig       `yaml:"memory"`
	Patterns pattern.Config     `yaml:"patterns"`
	Template memory.Template    `yaml:"template"`
	Sampling llm.SamplingParams `yaml:"sampling"`
	Turn     TurnConfig         `yaml:"turn"`
	Server   ServerConfig       `yaml:"server"`
	Room     RoomConfig         `yaml:"room"`
}

// ModelConfig selects the generation backend and where its model comes from.
type ModelConfig struct {
	// Backend is a registered model backend: "openai" or "fake".
	Backend string `yaml:"backend"`

	// Path is a local model file as known to the inference server.
	Path string `yaml:"path"`
	// Repo and File name a model in a HuggingFace repository.
	Repo string `yaml:"repo"`
	File string `yaml:"file"`

	BaseURL   string `yaml:"base_url"`
	APIKey    string `yaml:"api_key"`
	MaxTokens int    `yaml:"max_tokens"`

	// TokenizerPath is a tokenizer.json. When empty and Repo is set, the
	// repository's tokenizer.json is used from the model directory.
	TokenizerPath string `yaml:"tokenizer_path"`
	EOSToken      string `yaml:"eos_token"`

	// Responses script the fake backend.
	Responses []string `yaml:"responses"`
}

// MemoryConfig bounds the dialogue window.
type MemoryConfig struct {
	ContextSize          int    `yaml:"context_size"`
	ShortTermSize        int    `yaml:"short_term_size"`
	ReservedSuffixTokens int    `yaml:"reserved_suffix_tokens"`
	SystemPrompt         string `yaml:"system_prompt"`
}

// TurnConfig configures recognizer assembly and end-of-utterance detection.
type TurnConfig struct {
	// Detector is "" for timer-only assembly or "onnx".
	Detector      string        `yaml:"detector"`
	DetectorModel string        `yaml:"detector_model"`
	RemoteURL     string        `yaml:"remote_url"`
	ModelPath     string        `yaml:"model_path"`
	Language      string        `yaml:"language"`
	Threshold     float64       `yaml:"threshold"`
	MaxWait       time.Duration `yaml:"max_wait"`
}

// ServerConfig configures the websocket bridge.
type ServerConfig struct {
	Addr            string  `yaml:"addr"`
	EventsPerSecond float64 `yaml:"events_per_second"`
	EventBurst      int     `yaml:"event_burst"`
}

// RoomConfig configures the LiveKit transport.
type RoomConfig struct {
	URL       string `yaml:"url"`
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	Token     string `yaml:"token"`
	Room      string `yaml:"room"`
	Identity  string `yaml:"identity"`
}

// Default returns the reference configuration.
func Default() Config {
	return Config{
		Model: ModelConfig{
			Backend:   "openai",
			BaseURL:   "http://localhost:8080/v1",
			MaxTokens: 256,
		},
		Memory: MemoryConfig{
			ContextSize:   2000,
			ShortTermSize: 500,
			SystemPrompt:  "This is a spoken dialogue between a child and a teacher. The teacher answers in short, kind sentences.",
		},
		Patterns: pattern.DefaultConfig(),
		Template: memory.DefaultTemplate(),
		Sampling: llm.DefaultSamplingParams(),
		Turn: TurnConfig{
			DetectorModel: "english",
			Language:      "en",
			MaxWait:       700 * time.Millisecond,
		},
		Server: ServerConfig{
			Addr:            ":8080",
			EventsPerSecond: 20,
			EventBurst:      40,
		},
		Room: RoomConfig{
			Identity: "turnkit",
		},
	}
}

// Load reads .env (or the file named by TK_ENV_FILE), then path when it is
// not empty, then the environment. It does not validate.
func Load(path string) (Config, error) {
	if err := loadDotEnv(); err != nil {
		return Config{}, err
	}

	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadDotEnv() error {
	if file := os.Getenv("TK_ENV_FILE"); file != "" {
		if err := godotenv.Load(file); err != nil {
			return fmt.Errorf("load %s: %w", file, err)
		}
		return nil
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Debug("No usable .env file", slog.String("error", err.Error()))
	}
	return nil
}

func (c *Config) applyEnv() error {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	str("TK_LLM_BACKEND", &c.Model.Backend)
	str("TK_LLM_PATH", &c.Model.Path)
	str("TK_LLM_REPO", &c.Model.Repo)
	str("TK_LLM_FILE", &c.Model.File)
	str("TK_LLM_BASE_URL", &c.Model.BaseURL)
	str("TK_LLM_TOKENIZER", &c.Model.TokenizerPath)
	str("OPENAI_API_KEY", &c.Model.APIKey)
	str("TK_SYSTEM_PROMPT", &c.Memory.SystemPrompt)
	str("TK_TURN_DETECTOR", &c.Turn.Detector)
	str("TK_LANGUAGE", &c.Turn.Language)
	str("TK_REMOTE_EOT_URL", &c.Turn.RemoteURL)
	str("TK_MODEL_PATH", &c.Turn.ModelPath)
	str("TK_SERVER_ADDR", &c.Server.Addr)
	str("LIVEKIT_URL", &c.Room.URL)
	str("LIVEKIT_API_KEY", &c.Room.APIKey)
	str("LIVEKIT_API_SECRET", &c.Room.APISecret)
	str("TK_ROOM", &c.Room.Room)

	ints := []struct {
		key string
		dst *int
	}{
		{"TK_CONTEXT_SIZE", &c.Memory.ContextSize},
		{"TK_SHORT_TERM_SIZE", &c.Memory.ShortTermSize},
		{"TK_LLM_MAX_TOKENS", &c.Model.MaxTokens},
	}
	for _, e := range ints {
		v, ok := os.LookupEnv(e.key)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", e.key, err)
		}
		*e.dst = n
	}
	return nil
}

// Validate reports every configuration problem, joined.
func (c Config) Validate() error {
	var errs []error

	switch {
	case c.Model.Backend == "":
		errs = append(errs, fmt.Errorf("model.backend is required"))
	case c.Model.Backend == "fake":
	case c.Model.Path != "" && c.Model.Repo != "":
		errs = append(errs, ErrAmbiguousModelSource)
	case c.Model.Path == "" && c.Model.Repo == "":
		errs = append(errs, ErrNoModelSource)
	case c.Model.Repo != "" && c.Model.File == "":
		errs = append(errs, fmt.Errorf("%w: model.file is required with model.repo", ErrNoModelSource))
	}

	if c.Memory.ContextSize <= 0 {
		errs = append(errs, fmt.Errorf("memory.context_size must be positive"))
	}
	if c.Memory.ShortTermSize <= 0 {
		errs = append(errs, fmt.Errorf("memory.short_term_size must be positive"))
	} else if c.Memory.ShortTermSize >= c.Memory.ContextSize {
		errs = append(errs, fmt.Errorf("memory.short_term_size (%d) must be below memory.context_size (%d)",
			c.Memory.ShortTermSize, c.Memory.ContextSize))
	}
	if c.Memory.ReservedSuffixTokens < 0 {
		errs = append(errs, fmt.Errorf("memory.reserved_suffix_tokens must not be negative"))
	}

	s := c.Sampling
	if s.TopK < 0 {
		errs = append(errs, fmt.Errorf("sampling.top_k must not be negative"))
	}
	if s.TopP <= 0 || s.TopP > 1 {
		errs = append(errs, fmt.Errorf("sampling.top_p must be in (0, 1]"))
	}
	if s.Temperature < 0 {
		errs = append(errs, fmt.Errorf("sampling.temperature must not be negative"))
	}
	if s.RepeatPenalty <= 0 {
		errs = append(errs, fmt.Errorf("sampling.repeat_penalty must be positive"))
	}

	if len(c.Patterns.Punctuation) == 0 {
		errs = append(errs, fmt.Errorf("patterns.punctuation must not be empty"))
	}

	switch c.Turn.Detector {
	case "", "onnx":
	default:
		errs = append(errs, fmt.Errorf("turn.detector %q is not one of: onnx", c.Turn.Detector))
	}
	if c.Turn.Threshold < 0 || c.Turn.Threshold > 1 {
		errs = append(errs, fmt.Errorf("turn.threshold must be in [0, 1]"))
	}

	return errors.Join(errs...)
}

// ModelName is the name the backend requests from the inference server.
func (m ModelConfig) ModelName() string {
	if m.Path != "" {
		return m.Path
	}
	if m.Repo != "" {
		return strings.TrimSuffix(m.Repo, "/") + "/" + m.File
	}
	return ""
}

// BackendConfig is the factory configuration for the selected backend.
// tokenizer is the resolved tokenizer.json path, possibly empty.
func (m ModelConfig) BackendConfig(tokenizer string) map[string]any {
	cfg := map[string]any{
		"model":      m.ModelName(),
		"base_url":   m.BaseURL,
		"api_key":    m.APIKey,
		"max_tokens": m.MaxTokens,
		"eos_token":  m.EOSToken,
		"tokenizer":  tokenizer,
	}
	if len(m.Responses) > 0 {
		cfg["responses"] = m.Responses
	}
	return cfg
}
