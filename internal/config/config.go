package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config holds the complete server configuration.
type Config struct {
	Server     ServerConfig     `toml:"server"`
	Processing ProcessingConfig `toml:"processing"`
	Output     OutputConfig     `toml:"output"`
	Logging    LoggingConfig    `toml:"logging"`
}

type ServerConfig struct {
	Host        string     `toml:"host"`
	Port        int        `toml:"port"`
	BaseURL     string     `toml:"base_url"`
	MaxUploadMB int        `toml:"max_upload_mb"`
	CORSOrigins []string   `toml:"cors_origins"`
	Auth        AuthConfig `toml:"auth"`
	TLS         TLSConfig  `toml:"tls"`
}

type AuthConfig struct {
	Enabled           bool     `toml:"enabled"`
	APIKeys           []string `toml:"api_keys"`
	APIKeysFile       string   `toml:"api_keys_file"`
	BasicAuthUser     string   `toml:"basic_auth_user"`
	BasicAuthPassHash string   `toml:"basic_auth_password_hash"`
}

type TLSConfig struct {
	Enabled  bool   `toml:"enabled"`
	CertFile string `toml:"cert_file"`
	KeyFile  string `toml:"key_file"`
}

type ProcessingConfig struct {
	MaxConcurrentJobs int       `toml:"max_concurrent_jobs"`
	QueueSize         int       `toml:"queue_size"`
	CacheTTL          duration  `toml:"cache_ttl"`
	JobRetention      duration  `toml:"job_retention"`
	DefaultProfile    string    `toml:"default_profile"`
	ProfilesDirectory string    `toml:"profiles_directory"`
	OCR               OCRConfig `toml:"ocr"`
}

// OCRConfig selects and tunes the recognition engine.
type OCRConfig struct {
	// Engine is "tesseract", "gosseract" or "auto".
	Engine        string   `toml:"engine"`
	Language      string   `toml:"language"`
	TesseractPath string   `toml:"tesseract_path"`
	PageSegMode   int      `toml:"page_seg_mode"`
	Timeout       duration `toml:"timeout"`
}

type OutputConfig struct {
	Filesystem FilesystemConfig `toml:"filesystem"`
	SMB        SMBConfig        `toml:"smb"`
	Email      EmailConfig      `toml:"email"`
}

type FilesystemConfig struct {
	Enabled   bool   `toml:"enabled"`
	Directory string `toml:"directory"`
}

type SMBConfig struct {
	Enabled         bool   `toml:"enabled"`
	Server          string `toml:"server"`
	Share           string `toml:"share"`
	Username        string `toml:"username"`
	Password        string `toml:"password"`
	PasswordFile    string `toml:"password_file"`
	Directory       string `toml:"directory"`
	FilenamePattern string `toml:"filename_pattern"`
}

type EmailConfig struct {
	Enabled          bool   `toml:"enabled"`
	SMTPHost         string `toml:"smtp_host"`
	SMTPPort         int    `toml:"smtp_port"`
	SMTPUser         string `toml:"smtp_user"`
	SMTPPassword     string `toml:"smtp_password"`
	SMTPPasswordFile string `toml:"smtp_password_file"`
	FromAddress      string `toml:"from_address"`
	DefaultRecipient string `toml:"default_recipient"`
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
	File   string `toml:"file"`
}

// duration wraps time.Duration for TOML unmarshaling.
type duration time.Duration

func (d *duration) UnmarshalText(text []byte) error {
	dur, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = duration(dur)
	return nil
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d duration) Duration() time.Duration {
	return time.Duration(d)
}

// Load reads and parses the server configuration from a TOML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.loadSecrets(); err != nil {
		return nil, fmt.Errorf("load secrets: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// DefaultConfig returns the configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        8080,
			MaxUploadMB: 20,
		},
		Processing: ProcessingConfig{
			MaxConcurrentJobs: 2,
			QueueSize:         100,
			CacheTTL:          duration(30 * time.Minute),
			JobRetention:      duration(24 * time.Hour),
			DefaultProfile:    "standard",
			ProfilesDirectory: "/etc/privascan/profiles",
			OCR: OCRConfig{
				Engine:        "auto",
				Language:      "eng",
				TesseractPath: "tesseract",
				PageSegMode:   3,
				Timeout:       duration(2 * time.Minute),
			},
		},
		Output: OutputConfig{
			Filesystem: FilesystemConfig{
				Enabled:   true,
				Directory: "/var/lib/privascan/documents",
			},
			Email: EmailConfig{
				SMTPPort: 587,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate checks values that would otherwise fail much later at runtime.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Server.MaxUploadMB <= 0 {
		return fmt.Errorf("max_upload_mb must be positive")
	}
	if c.Processing.MaxConcurrentJobs <= 0 {
		return fmt.Errorf("max_concurrent_jobs must be positive")
	}
	switch c.Processing.OCR.Engine {
	case "", "auto", "tesseract", "gosseract":
	default:
		return fmt.Errorf("unknown ocr engine %q", c.Processing.OCR.Engine)
	}
	if c.Server.TLS.Enabled && (c.Server.TLS.CertFile == "" || c.Server.TLS.KeyFile == "") {
		return fmt.Errorf("tls enabled without cert_file and key_file")
	}
	return nil
}

// MaxUploadBytes is the request body limit for image uploads.
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.Server.MaxUploadMB) << 20
}

// loadSecrets reads secret values from files.
func (c *Config) loadSecrets() error {
	if c.Output.SMB.PasswordFile != "" && c.Output.SMB.Password == "" {
		pw, err := readSecretFile(c.Output.SMB.PasswordFile)
		if err != nil && c.Output.SMB.Enabled {
			return fmt.Errorf("smb password: %w", err)
		}
		c.Output.SMB.Password = pw
	}

	if c.Output.Email.SMTPPasswordFile != "" && c.Output.Email.SMTPPassword == "" {
		pw, err := readSecretFile(c.Output.Email.SMTPPasswordFile)
		if err != nil && c.Output.Email.Enabled {
			return fmt.Errorf("smtp password: %w", err)
		}
		c.Output.Email.SMTPPassword = pw
	}

	if c.Server.Auth.APIKeysFile != "" {
		data, err := readSecretFile(c.Server.Auth.APIKeysFile)
		if err != nil {
			return fmt.Errorf("api keys: %w", err)
		}
		for _, line := range strings.Split(data, "\n") {
			if key := strings.TrimSpace(line); key != "" && !strings.HasPrefix(key, "#") {
				c.Server.Auth.APIKeys = append(c.Server.Auth.APIKeys, key)
			}
		}
	}
	return nil
}

func readSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
