package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/chriscow/turnkit/pkg/config"
	"github.com/chriscow/turnkit/pkg/plugin"
	_ "github.com/chriscow/turnkit/pkg/plugin/fake"   // registers the fake backend
	_ "github.com/chriscow/turnkit/pkg/plugin/openai" // registers the openai backend
	"github.com/chriscow/turnkit/pkg/version"
)

var (
	configPath string
	pluginDir  string
)

var rootCmd = &cobra.Command{
	Use:   "turnkit",
	Short: "turnkit - an incremental turn-taking engine for spoken dialogue",
	Long: `turnkit streams a language model's reply as incremental units, stops it
when the model starts the user's turn, and rewinds the dialogue to what was
actually spoken when the user barges in.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if pluginDir == "" {
			return nil
		}
		n, err := plugin.LoadDynamic(pluginDir)
		if err != nil {
			return fmt.Errorf("load plugins from %s: %w", pluginDir, err)
		}
		slog.Debug("Loaded dynamic plugins", slog.Int("count", n), slog.String("dir", pluginDir))
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version.GetVersionInfo())
	},
}

// setupLogger configures the default logger from TK_LOG_FORMAT (json or
// console) and TK_LOG_LEVEL. Logs go to stderr so chat output stays clean.
func setupLogger() *slog.Logger {
	logFormat := os.Getenv("TK_LOG_FORMAT")
	logLevel := os.Getenv("TK_LOG_LEVEL")

	opts := &slog.HandlerOptions{}
	switch logLevel {
	case "debug":
		opts.Level = slog.LevelDebug
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	default:
		opts.Level = slog.LevelInfo
	}

	var handler slog.Handler
	if logFormat == "console" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// loadConfig loads --config and the environment.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// ignoreCanceled maps a shutdown-by-signal to a clean exit.
func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&pluginDir, "plugin-dir", "", "Load dynamic plugins from this directory (linux, -tags=plugindyn)")

	rootCmd.AddCommand(versionCmd, serveCmd, roomCmd, chatCmd, predictCmd, modelsCmd, pluginsCmd)
}

func main() {
	setupLogger()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
