package main

import (
	"fmt"
	"io"
	"log/slog"
	"sort"

	"github.com/spf13/cobra"

	"github.com/chriscow/turnkit/pkg/config"
	"github.com/chriscow/turnkit/pkg/plugin"
	"github.com/chriscow/turnkit/pkg/turn"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "Manage downloaded model files",
}

var modelsDownloadCmd = &cobra.Command{
	Use:   "download",
	Short: "Download the detector models and the model tokenizer",
	Long: `Download every end-of-utterance detector revision, plus the tokenizer.json
of model.repo when one is configured. Files are verified against their
SHA-256 and stored under turn.model_path, TK_MODEL_PATH or ~/.turnkit/models.

With --plugins, the downloaders of every registered plugin run as well.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := slog.Default()
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		d := newModelDownloader(cfg, logger)
		if err := d.DownloadAll(cmd.Context()); err != nil {
			return err
		}

		if all, _ := cmd.Flags().GetBool("plugins"); all {
			if err := runPluginDownloaders(logger); err != nil {
				return err
			}
		}
		return printStatus(cmd.OutOrStdout(), d.Status())
	},
}

var modelsStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report which model files are present and verified",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return printStatus(cmd.OutOrStdout(), newModelDownloader(cfg, slog.Default()).Status())
	},
}

func newModelDownloader(cfg config.Config, logger *slog.Logger) *turn.Downloader {
	models := turn.DetectorModels()
	if cfg.Model.Repo != "" && cfg.Model.TokenizerPath == "" {
		models = append(models, turn.TokenizerModel(cfg.Model.Repo, ""))
	}
	return turn.NewDownloader(turn.DownloaderConfig{
		ModelPath: cfg.Turn.ModelPath,
		Models:    models,
		Logger:    logger,
	})
}

// runPluginDownloaders runs every plugin downloader except the detector's,
// which newModelDownloader already covers.
func runPluginDownloaders(logger *slog.Logger) error {
	downloaders := plugin.Downloaders()
	keys := make([]string, 0, len(downloaders))
	for k := range downloaders {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	failed := 0
	for _, k := range keys {
		if k == plugin.KindDetector+"/onnx" {
			continue
		}
		logger.Info("Downloading plugin files", slog.String("plugin", k))
		if err := downloaders[k].Download(); err != nil {
			logger.Error("Failed to download plugin files",
				slog.String("plugin", k),
				slog.String("error", err.Error()))
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("failed to download files for %d plugins", failed)
	}
	return nil
}

func printStatus(w io.Writer, status map[string]bool) error {
	names := make([]string, 0, len(status))
	for name := range status {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		state := "missing"
		if status[name] {
			state = "ok"
		}
		if _, err := fmt.Fprintf(w, "%-60s %s\n", name, state); err != nil {
			return err
		}
	}
	return nil
}

func init() {
	modelsDownloadCmd.Flags().Bool("plugins", false, "Also run every registered plugin's downloader")
	modelsCmd.AddCommand(modelsDownloadCmd, modelsStatusCmd)
}
