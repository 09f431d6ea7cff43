package turn

import (
	"fmt"
	"log/slog"
	"os"
)

// DetectorConfig configures NewDetector.
type DetectorConfig struct {
	// Model is "english" (default) or "multilingual".
	Model     string
	ModelPath string
	// RemoteURL selects a remote endpoint with the local model as fallback.
	// TK_REMOTE_EOT_URL is used when empty.
	RemoteURL string
	Logger    *slog.Logger
}

// NewDetector builds the local ONNX detector, wrapped by a RemoteDetector
// when a remote endpoint is configured.
func NewDetector(cfg DetectorConfig) (Detector, error) {
	if cfg.Model == "" {
		cfg.Model = "english"
	}
	remoteURL := cfg.RemoteURL
	if remoteURL == "" {
		remoteURL = os.Getenv("TK_REMOTE_EOT_URL")
	}

	local, err := NewONNXDetector(cfg.Model, cfg.ModelPath, cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("create onnx detector: %w", err)
	}
	if remoteURL != "" {
		return NewRemoteDetector(remoteURL, local, cfg.Logger), nil
	}
	return local, nil
}
