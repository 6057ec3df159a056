package main

import (
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jamesainslie/parallax/pkg/parallax/config"
	"github.com/jamesainslie/parallax/pkg/parallax/profiler"
)

func newConfigCmd(a *app) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		Long: `Manage parallax configuration settings.

Configuration is loaded from:
  1. $XDG_CONFIG_HOME/parallax/config.yaml (if set)
  2. ~/.config/parallax/config.yaml

Environment variables can override config file settings using the PARALLAX_ prefix:
  PARALLAX_OPTIMIZER_SAMPLE_SIZE=10
  PARALLAX_OPTIMIZER_FORCE_BACKEND=thread_pool
  PARALLAX_CACHE_ENABLED=false`,
	}

	configShowCmd := &cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		Long:  `Display the effective configuration from all sources.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConfigShow(cmd, a)
		},
	}

	configEditCmd := &cobra.Command{
		Use:   "edit",
		Short: "Edit configuration file",
		Long: `Open the configuration file in your default editor.

The editor is determined by:
  1. $VISUAL environment variable
  2. $EDITOR environment variable
  3. Falls back to 'vi'

If the config file doesn't exist, a default one will be created first.`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runConfigEdit()
		},
	}

	configInitCmd := &cobra.Command{
		Use:   "init",
		Short: "Create default configuration file",
		Long:  `Create a default configuration file if one doesn't exist.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := config.ConfigPath()
			if err != nil {
				return err
			}
			if _, err := os.Stat(path); err == nil {
				a.infof(cmd.OutOrStdout(), "Config file already exists: %s", path)
				a.infof(cmd.OutOrStdout(), "Use 'parallax config edit' to modify it.")
				return nil
			}

			if _, err := config.WriteDefault(); err != nil {
				return fmt.Errorf("failed to create config file: %w", err)
			}
			a.infof(cmd.OutOrStdout(), "Created default config file: %s", path)
			return nil
		},
	}

	configPathCmd := &cobra.Command{
		Use:   "path",
		Short: "Show configuration file path",
		Long:  `Display the path to the configuration file.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := a.cfg.File
			if path == "" {
				var err error
				if path, err = config.ConfigPath(); err != nil {
					return err
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}

	configCmd.AddCommand(configShowCmd, configEditCmd, configInitCmd, configPathCmd)
	return configCmd
}

// runConfigShow prints the effective settings as YAML followed by any
// environment overrides.
func runConfigShow(cmd *cobra.Command, a *app) error {
	w := cmd.OutOrStdout()

	if a.cfg.File != "" {
		fmt.Fprintf(w, "# Config file: %s\n", a.cfg.File)
	} else {
		fmt.Fprintln(w, "# Config file: (using defaults, no file found)")
	}

	data, err := yaml.Marshal(a.v.AllSettings())
	if err != nil {
		return fmt.Errorf("failed to render configuration: %w", err)
	}
	fmt.Fprint(w, string(data))

	var overrides []string
	for _, kv := range os.Environ() {
		if strings.HasPrefix(kv, "PARALLAX_") && !strings.HasPrefix(kv, profiler.ProbeEnv+"=") {
			overrides = append(overrides, kv)
		}
	}
	sort.Strings(overrides)

	fmt.Fprintln(w, "\n# Environment overrides:")
	if len(overrides) == 0 {
		fmt.Fprintln(w, "#   (none)")
	}
	for _, kv := range overrides {
		fmt.Fprintf(w, "#   %s\n", kv)
	}
	return nil
}

// runConfigEdit opens the config file in an editor.
func runConfigEdit() error {
	path, err := config.WriteDefault()
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}

	editor := os.Getenv("VISUAL")
	if editor == "" {
		editor = os.Getenv("EDITOR")
	}
	if editor == "" {
		editor = "vi"
	}

	logger.Debug("opening config", "path", path, "editor", editor)

	editorCmd := exec.Command(editor, path)
	editorCmd.Stdin = os.Stdin
	editorCmd.Stdout = os.Stdout
	editorCmd.Stderr = os.Stderr

	if err := editorCmd.Run(); err != nil {
		return fmt.Errorf("editor command failed: %w", err)
	}

	return nil
}
