package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/neoclaw-ai/turnrouter/internal/config"
	"github.com/spf13/cobra"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print merged configuration as TOML",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return config.Write(cmd.OutOrStdout())
		},
	}
	cmd.AddCommand(newConfigInitCmd())
	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter config.toml",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			path := cfg.ConfigPath()
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("config file %s already exists (use --force to overwrite)", path)
			} else if err != nil && !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("stat config file %q: %w", path, err)
			}

			body, err := config.DefaultUserConfigTOML()
			if err != nil {
				return err
			}
			if err := os.MkdirAll(cfg.HomeDir, 0o755); err != nil {
				return fmt.Errorf("create home dir: %w", err)
			}
			if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
				return fmt.Errorf("write config file: %w", err)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\nEdit it to add provider API keys.\n", path)
			return err
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config file")
	return cmd
}
