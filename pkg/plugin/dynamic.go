//go:build plugindyn && linux

package plugin

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	goplugin "plugin"
)

// DefaultPluginDir is searched when neither an explicit directory nor
// TK_PLUGIN_PATH is given.
const DefaultPluginDir = "/usr/local/lib/turnkit/plugins"

// LoadDynamic opens every .so in dir and calls its exported
// RegisterBackends function, which registers model backends or detectors
// with this package.
func LoadDynamic(dir string) (int, error) {
	if dir == "" {
		dir = os.Getenv("TK_PLUGIN_PATH")
	}
	if dir == "" {
		dir = DefaultPluginDir
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return 0, nil
	}

	files, err := filepath.Glob(filepath.Join(dir, "*.so"))
	if err != nil {
		return 0, fmt.Errorf("search %s: %w", dir, err)
	}

	for i, f := range files {
		if err := openBackend(f); err != nil {
			return i, fmt.Errorf("load %s: %w", f, err)
		}
		slog.Info("Loaded backend plugin", slog.String("file", f))
	}
	return len(files), nil
}

func openBackend(path string) error {
	p, err := goplugin.Open(path)
	if err != nil {
		return err
	}
	sym, err := p.Lookup("RegisterBackends")
	if err != nil {
		return fmt.Errorf("missing RegisterBackends: %w", err)
	}
	register, ok := sym.(func() error)
	if !ok {
		return fmt.Errorf("RegisterBackends has type %T, want func() error", sym)
	}
	return register()
}
