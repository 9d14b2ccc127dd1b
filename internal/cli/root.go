package cli

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gouthamgo/privascan/internal/client"
	"github.com/gouthamgo/privascan/internal/config"
	"github.com/spf13/cobra"
)

// Version is set at build time.
var Version = "0.1.0"

var (
	cfgFile   string
	verbose   bool
	cfg       *config.ClientConfig
	apiClient *client.Client
)

var rootCmd = &cobra.Command{
	Use:   "privascan",
	Short: "privascan - OCR text extraction for photographed pages",
	Long: "privascan normalizes photographs of printed pages, recognizes their text and removes " +
		"scanning artifacts from the result, locally or through a privascan server.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		setupLogging(verbose)

		var err error
		if cfgFile != "" {
			cfg, err = config.LoadClientFrom(cfgFile)
		} else {
			cfg, err = config.LoadClient()
		}
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		if server, _ := cmd.Flags().GetString("server"); server != "" {
			cfg.Server.URL = server
		}
		if key, _ := cmd.Flags().GetString("api-key"); key != "" {
			cfg.Server.APIKey = key
		}

		apiClient = client.New(cfg.Server.URL, cfg.Server.APIKey)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")
	rootCmd.PersistentFlags().String("server", "", "server URL (overrides config)")
	rootCmd.PersistentFlags().String("api-key", "", "API key (overrides config)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging")

	rootCmd.AddCommand(cleanCmd)
	rootCmd.AddCommand(normalizeCmd)
	rootCmd.AddCommand(ocrCmd)
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(profilesCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(tuiCmd)
	rootCmd.AddCommand(versionCmd)
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func getClient() *client.Client {
	return apiClient
}

// setupLogging sends warnings to stderr, or everything with --verbose.
func setupLogging(verbose bool) {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// saveConfig writes cfg back to the file it was loaded from.
func saveConfig() error {
	if cfgFile != "" {
		return cfg.SaveTo(cfgFile)
	}
	return cfg.Save()
}

// localProfiles returns the built-in profiles plus any from the profiles
// directory next to the client config file.
func localProfiles() (*config.ProfileStore, error) {
	dir := filepath.Join(filepath.Dir(config.ClientConfigPath()), "profiles")
	if cfgFile != "" {
		dir = filepath.Join(filepath.Dir(cfgFile), "profiles")
	}
	return config.NewProfileStore(dir)
}

func localProfile(name string) (*config.Profile, error) {
	store, err := localProfiles()
	if err != nil {
		return nil, err
	}
	if name == "" {
		name = cfg.Defaults.Profile
	}
	profile, ok := store.Get(name)
	if !ok {
		return nil, fmt.Errorf("unknown profile: %s", name)
	}
	return profile, nil
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "privascan v%s\n", Version)
	},
}
