package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// ClientConfig holds the CLI configuration.
type ClientConfig struct {
	Server   ClientServerConfig `toml:"server"`
	Defaults DefaultsConfig     `toml:"defaults"`
	Local    LocalConfig        `toml:"local"`
	TUI      TUIConfig          `toml:"tui"`
}

type ClientServerConfig struct {
	URL        string `toml:"url"`
	APIKey     string `toml:"api_key"`
	APIKeyFile string `toml:"api_key_file"`
}

type DefaultsConfig struct {
	Profile string `toml:"profile"`
	Output  string `toml:"output"`
}

// LocalConfig configures commands that run the pipeline without a server.
type LocalConfig struct {
	Engine        string `toml:"engine"`
	Language      string `toml:"language"`
	TesseractPath string `toml:"tesseract_path"`
	Jobs          int    `toml:"jobs"`
}

type TUIConfig struct {
	Theme string `toml:"theme"`
}

// ClientConfigPath returns the default client configuration file location.
func ClientConfigPath() string {
	configDir, err := os.UserConfigDir()
	if err != nil {
		configDir = filepath.Join(os.Getenv("HOME"), ".config")
	}
	return filepath.Join(configDir, "privascan", "client.toml")
}

// LoadClient reads the client configuration from the default location.
func LoadClient() (*ClientConfig, error) {
	return LoadClientFrom(ClientConfigPath())
}

// LoadClientFrom reads the client configuration from a specific file. A
// missing file yields the defaults.
func LoadClientFrom(path string) (*ClientConfig, error) {
	cfg := DefaultClientConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if cfg.Server.APIKeyFile != "" && cfg.Server.APIKey == "" {
		key, err := readSecretFile(expandPath(cfg.Server.APIKeyFile))
		if err == nil {
			cfg.Server.APIKey = key
		}
	}

	return cfg, nil
}

// DefaultClientConfig returns the default client configuration.
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		Server: ClientServerConfig{
			URL: "http://localhost:8080",
		},
		Defaults: DefaultsConfig{
			Profile: "standard",
		},
		Local: LocalConfig{
			Engine:        "auto",
			Language:      "eng",
			TesseractPath: "tesseract",
			Jobs:          2,
		},
		TUI: TUIConfig{
			Theme: "dark",
		},
	}
}

// Save writes the configuration to the default location.
func (c *ClientConfig) Save() error {
	path := ClientConfigPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	return c.SaveTo(path)
}

// SaveTo writes the configuration to a specific file.
func (c *ClientConfig) SaveTo(path string) error {
	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

// Set updates a configuration value by dotted key path.
func (c *ClientConfig) Set(key, value string) error {
	switch key {
	case "server.url":
		c.Server.URL = value
	case "server.api_key":
		c.Server.APIKey = value
	case "defaults.profile":
		c.Defaults.Profile = value
	case "defaults.output":
		c.Defaults.Output = value
	case "local.engine":
		c.Local.Engine = value
	case "local.language":
		c.Local.Language = value
	case "local.tesseract_path":
		c.Local.TesseractPath = value
	case "local.jobs":
		n, err := strconv.Atoi(value)
		if err != nil || n < 1 {
			return fmt.Errorf("local.jobs must be a positive integer")
		}
		c.Local.Jobs = n
	case "tui.theme":
		c.TUI.Theme = value
	default:
		return fmt.Errorf("unknown config key: %s", key)
	}
	return nil
}

// Get returns a configuration value by dotted key path.
func (c *ClientConfig) Get(key string) (string, error) {
	switch key {
	case "server.url":
		return c.Server.URL, nil
	case "server.api_key":
		return c.Server.APIKey, nil
	case "defaults.profile":
		return c.Defaults.Profile, nil
	case "defaults.output":
		return c.Defaults.Output, nil
	case "local.engine":
		return c.Local.Engine, nil
	case "local.language":
		return c.Local.Language, nil
	case "local.tesseract_path":
		return c.Local.TesseractPath, nil
	case "local.jobs":
		return strconv.Itoa(c.Local.Jobs), nil
	case "tui.theme":
		return c.TUI.Theme, nil
	default:
		return "", fmt.Errorf("unknown config key: %s", key)
	}
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}
