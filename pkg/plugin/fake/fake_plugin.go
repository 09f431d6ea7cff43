// Package fake registers the scripted model backend, used for tests and for
// running the engine without a language model.
package fake

import (
	"time"

	llmfake "github.com/chriscow/turnkit/pkg/ai/llm/fake"
	"github.com/chriscow/turnkit/pkg/plugin"
)

// newFakeModel creates a scripted model from configuration.
func newFakeModel(cfg map[string]any) (any, error) {
	var responses []string
	switch r := cfg["responses"].(type) {
	case []string:
		responses = r
	case []any:
		for _, v := range r {
			if s, ok := v.(string); ok {
				responses = append(responses, s)
			}
		}
	}

	var opts []llmfake.Option
	switch d := cfg["token_delay"].(type) {
	case time.Duration:
		opts = append(opts, llmfake.WithTokenDelay(d))
	case string:
		if parsed, err := time.ParseDuration(d); err == nil {
			opts = append(opts, llmfake.WithTokenDelay(parsed))
		}
	}

	return llmfake.NewFakeModel(responses, opts...), nil
}

func init() {
	plugin.RegisterWithMetadata(&plugin.Plugin{
		Kind:        plugin.KindModel,
		Name:        "fake",
		Factory:     newFakeModel,
		Description: "Scripted model that replays canned responses token by token",
		Version:     "1.0.0",
		Config: map[string]any{
			"responses":   []string{"Teacher : This is a fake answer, from the fake model."},
			"token_delay": "0s",
		},
	})
}
