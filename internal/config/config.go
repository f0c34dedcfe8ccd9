package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

const Version = "0.1.0"

// SupportedModels are the generation models the API currently serves.
var SupportedModels = []string{
	"veo-2.0-generate-001",
	"veo-3.0-generate-preview",
	"veo-3.0-fast-generate-preview",
}

// Credentials holds the API key loaded from credentials.toml.
type Credentials struct {
	GeminiAPIKey string `toml:"gemini_api_key"`
}

// LoadCredentials reads credentials.toml. Returns empty Credentials if the
// file does not exist. Warns if the file has insecure permissions.
func LoadCredentials() (*Credentials, error) {
	path, err := CredentialsPath()
	if err != nil {
		return &Credentials{}, nil
	}

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return &Credentials{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("stat credentials: %w", err)
	}

	// Warn on anything beyond owner read/write.
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		slog.Warn("credentials file has insecure permissions",
			"path", path, "mode", fmt.Sprintf("%04o", perm))
	}

	creds := &Credentials{}
	if _, err := toml.DecodeFile(path, creds); err != nil {
		return nil, fmt.Errorf("decode credentials %s: %w", path, err)
	}
	return creds, nil
}

type Config struct {
	StateDir     string `toml:"state_dir"`
	DownloadsDir string `toml:"downloads_dir"`
	LogLevel     string `toml:"log_level"`

	API    APIConfig    `toml:"api"`
	Worker WorkerConfig `toml:"worker"`

	// Resolved at runtime (not in TOML).
	BaseDir string `toml:"-"`
}

type APIConfig struct {
	Key     string `toml:"key"` // prefer credentials.toml or GEMINI_API_KEY
	Model   string `toml:"model"`
	BaseURL string `toml:"base_url"`
}

type WorkerConfig struct {
	PollInterval    string `toml:"poll_interval"`
	MaxPollInterval string `toml:"max_poll_interval"`
	MaxPollFailures int    `toml:"max_poll_failures"`
	CancelGrace     string `toml:"cancel_grace"`
}

// Load reads a TOML config file and layers credentials and env on top.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	cfg.BaseDir = filepath.Dir(path)
	keyFromFile := cfg.API.Key
	applyDefaults(cfg)
	applyCredentialsAndEnv(cfg)
	if keyFromFile != "" {
		slog.Warn("api key found in config file; prefer credentials.toml or GEMINI_API_KEY env var")
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}
	resolvePaths(cfg)
	return cfg, nil
}

// Default builds a config from defaults, credentials, and env only. Every
// command works without a config file.
func Default() (*Config, error) {
	cfg := &Config{}
	applyDefaults(cfg)
	applyCredentialsAndEnv(cfg)
	if err := validate(cfg); err != nil {
		return nil, err
	}
	resolvePaths(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.StateDir == "" {
		if d, err := DataDir(); err == nil {
			cfg.StateDir = filepath.Join(d, "sessions")
		} else {
			cfg.StateDir = ".veogen/sessions"
		}
	}
	if cfg.DownloadsDir == "" {
		if d, err := DataDir(); err == nil {
			cfg.DownloadsDir = filepath.Join(d, "downloads")
		} else {
			cfg.DownloadsDir = ".veogen/downloads"
		}
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.API.Model == "" {
		cfg.API.Model = "veo-3.0-generate-preview"
	}
	if cfg.Worker.PollInterval == "" {
		cfg.Worker.PollInterval = "5s"
	}
	if cfg.Worker.MaxPollInterval == "" {
		cfg.Worker.MaxPollInterval = "30s"
	}
	if cfg.Worker.MaxPollFailures == 0 {
		cfg.Worker.MaxPollFailures = 5
	}
	if cfg.Worker.CancelGrace == "" {
		cfg.Worker.CancelGrace = "5s"
	}
}

// applyCredentialsAndEnv merges the API key and model overrides.
// Priority (highest first): env > credentials.toml > config file.
func applyCredentialsAndEnv(cfg *Config) {
	creds, err := LoadCredentials()
	if err != nil {
		slog.Warn("failed to load credentials", "error", err)
	}
	if creds != nil && creds.GeminiAPIKey != "" {
		cfg.API.Key = creds.GeminiAPIKey
	}

	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		cfg.API.Key = v
	}
	if v := os.Getenv("VEO_MODEL"); v != "" {
		cfg.API.Model = v
	}
}

func validate(cfg *Config) error {
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unsupported log_level: %q", cfg.LogLevel)
	}
	if !IsSupportedModel(cfg.API.Model) {
		return fmt.Errorf("unsupported api.model: %q", cfg.API.Model)
	}
	for _, field := range []struct{ name, value string }{
		{"worker.poll_interval", cfg.Worker.PollInterval},
		{"worker.max_poll_interval", cfg.Worker.MaxPollInterval},
		{"worker.cancel_grace", cfg.Worker.CancelGrace},
	} {
		if _, err := time.ParseDuration(field.value); err != nil {
			return fmt.Errorf("invalid %s %q: %w", field.name, field.value, err)
		}
	}
	return nil
}

func resolvePaths(cfg *Config) {
	cfg.StateDir = absPath(cfg.BaseDir, cfg.StateDir)
	cfg.DownloadsDir = absPath(cfg.BaseDir, cfg.DownloadsDir)
}

func absPath(base, path string) string {
	if filepath.IsAbs(path) || base == "" {
		return path
	}
	return filepath.Join(base, path)
}

// IsSupportedModel reports whether model is one the API serves.
func IsSupportedModel(model string) bool {
	for _, m := range SupportedModels {
		if m == model {
			return true
		}
	}
	return false
}

// RequireAPIKey fails when no API key is configured. Only the operations
// that talk to the remote API call this; check/list/cancel/cleanup work
// without credentials.
func (cfg *Config) RequireAPIKey() error {
	if cfg.API.Key == "" {
		return fmt.Errorf("no API key configured; set GEMINI_API_KEY or add gemini_api_key to credentials.toml")
	}
	return nil
}

// LogDir returns the directory for per-session worker logs.
func (cfg *Config) LogDir() string {
	return filepath.Join(cfg.StateDir, "logs")
}

func (cfg *Config) SlogLevel() slog.Level {
	switch cfg.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// PollInterval returns the parsed worker poll interval.
func (cfg *Config) PollInterval() time.Duration { return mustDuration(cfg.Worker.PollInterval) }

// MaxPollInterval returns the parsed backoff cap.
func (cfg *Config) MaxPollInterval() time.Duration { return mustDuration(cfg.Worker.MaxPollInterval) }

// CancelGrace returns the parsed SIGTERM grace period.
func (cfg *Config) CancelGrace() time.Duration { return mustDuration(cfg.Worker.CancelGrace) }

// mustDuration is safe after validate() has run.
func mustDuration(s string) time.Duration {
	d, _ := time.ParseDuration(s)
	return d
}
