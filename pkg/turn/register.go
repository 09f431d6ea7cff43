package turn

import (
	"log/slog"

	"github.com/chriscow/turnkit/pkg/plugin"
)

// defaultDownloader resolves TK_MODEL_PATH when it runs, not at init.
type defaultDownloader struct{}

func (defaultDownloader) Download() error {
	return NewDownloader(DownloaderConfig{}).Download()
}

func newDetectorPlugin(cfg map[string]any) (any, error) {
	dc := DetectorConfig{}
	dc.Model, _ = cfg["model"].(string)
	dc.ModelPath, _ = cfg["model_path"].(string)
	dc.RemoteURL, _ = cfg["remote_url"].(string)
	if logger, ok := cfg["logger"].(*slog.Logger); ok {
		dc.Logger = logger
	}
	return NewDetector(dc)
}

func init() {
	plugin.RegisterWithMetadata(&plugin.Plugin{
		Kind:        plugin.KindDetector,
		Name:        "onnx",
		Factory:     newDetectorPlugin,
		Description: "End-of-utterance detector on a local ONNX model, optionally behind a remote endpoint",
		Version:     "1.0.0",
		Config: map[string]any{
			"model":      "english|multilingual",
			"model_path": "model directory (or TK_MODEL_PATH)",
			"remote_url": "remote inference URL (or TK_REMOTE_EOT_URL)",
		},
		Downloader: defaultDownloader{},
	})
}
