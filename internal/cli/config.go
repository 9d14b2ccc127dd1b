package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage client configuration",
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configGetCmd)
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "server.url = %s\n", cfg.Server.URL)
		fmt.Fprintf(out, "server.api_key = %s\n", maskKey(cfg.Server.APIKey))
		fmt.Fprintf(out, "defaults.profile = %s\n", cfg.Defaults.Profile)
		fmt.Fprintf(out, "defaults.output = %s\n", cfg.Defaults.Output)
		fmt.Fprintf(out, "local.engine = %s\n", cfg.Local.Engine)
		fmt.Fprintf(out, "local.language = %s\n", cfg.Local.Language)
		fmt.Fprintf(out, "local.tesseract_path = %s\n", cfg.Local.TesseractPath)
		fmt.Fprintf(out, "local.jobs = %d\n", cfg.Local.Jobs)
		fmt.Fprintf(out, "tui.theme = %s\n", cfg.TUI.Theme)
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := cfg.Set(key, value); err != nil {
			return err
		}
		if err := saveConfig(); err != nil {
			return fmt.Errorf("save config: %w", err)
		}

		if key == "server.api_key" {
			value = maskKey(value)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", key, value)
		return nil
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get a configuration value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		value, err := cfg.Get(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), value)
		return nil
	},
}

func maskKey(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 8 {
		return "***"
	}
	return key[:4] + "..." + key[len(key)-4:]
}
