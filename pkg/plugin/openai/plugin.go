package openai

import (
	"fmt"
	"os"

	"github.com/chriscow/turnkit/pkg/ai/llm/hf"
	"github.com/chriscow/turnkit/pkg/plugin"
)

// newModel is the factory for the completions backend.
func newModel(cfg map[string]any) (any, error) {
	config := Config{}

	if apiKey, ok := cfg["api_key"].(string); ok && apiKey != "" {
		config.APIKey = apiKey
	} else {
		config.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if baseURL, ok := cfg["base_url"].(string); ok {
		config.BaseURL = baseURL
	}
	if model, ok := cfg["model"].(string); ok {
		config.Model = model
	}
	if maxTokens, ok := cfg["max_tokens"].(int); ok {
		config.MaxTokens = maxTokens
	}

	if path, ok := cfg["tokenizer"].(string); ok && path != "" {
		eos, _ := cfg["eos_token"].(string)
		tk, err := hf.Load(path, eos)
		if err != nil {
			return nil, fmt.Errorf("load tokenizer: %w", err)
		}
		config.Tokenizer = tk
	}

	return New(config)
}

func init() {
	plugin.RegisterWithMetadata(&plugin.Plugin{
		Kind:        plugin.KindModel,
		Name:        "openai",
		Factory:     newModel,
		Description: "OpenAI-compatible streaming completions endpoint",
		Version:     "1.0.0",
		Config: map[string]any{
			"api_key":    "API key (or set OPENAI_API_KEY env var)",
			"base_url":   "http://localhost:8080/v1",
			"model":      "gpt-3.5-turbo-instruct",
			"max_tokens": 256,
			"tokenizer":  "path to tokenizer.json (optional)",
			"eos_token":  "</s>",
		},
	})
}
