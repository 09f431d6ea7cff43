package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/chriscow/turnkit/pkg/plugin"
)

var pluginsCmd = &cobra.Command{
	Use:   "plugins",
	Short: "Inspect registered backends and detectors",
}

var pluginsListCmd = &cobra.Command{
	Use:   "list [kind]",
	Short: "List registered plugins",
	Long: `List all registered plugins or those of one kind.
Available kinds: model, detector`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind := ""
		if len(args) > 0 {
			kind = args[0]
		}
		return printPlugins(cmd.OutOrStdout(), plugin.List(kind), kind)
	},
}

var pluginsLoadCmd = &cobra.Command{
	Use:   "load [directory]",
	Short: "Load dynamic plugins (linux, -tags=plugindyn)",
	Long: `Load .so plugins from the directory, TK_PLUGIN_PATH, or
/usr/local/lib/turnkit/plugins. Each plugin must export
RegisterBackends() error.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := ""
		if len(args) > 0 {
			dir = args[0]
		}
		n, err := plugin.LoadDynamic(dir)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Loaded %d plugins\n", n)
		return printPlugins(cmd.OutOrStdout(), plugin.List(""), "")
	},
}

func printPlugins(w io.Writer, plugins []*plugin.Plugin, kind string) error {
	if len(plugins) == 0 {
		if kind == "" {
			_, err := fmt.Fprintln(w, "No plugins registered")
			return err
		}
		_, err := fmt.Fprintf(w, "No plugins registered for kind: %s\n", kind)
		return err
	}

	fmt.Fprintf(w, "%-9s %-10s %-8s %s\n", "KIND", "NAME", "VERSION", "DESCRIPTION")
	for _, p := range plugins {
		version := p.Version
		if version == "" {
			version = "N/A"
		}
		description := p.Description
		if description == "" {
			description = "No description"
		}
		if _, err := fmt.Fprintf(w, "%-9s %-10s %-8s %s\n", p.Kind, p.Name, version, description); err != nil {
			return err
		}
	}
	return nil
}

func init() {
	pluginsCmd.AddCommand(pluginsListCmd, pluginsLoadCmd)
}
