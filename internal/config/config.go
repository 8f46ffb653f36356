package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/theirongolddev/claude-usage-tracker/internal/atomicfile"
)

// AppName names the config and data directories.
const AppName = "claude-usage-tracker"

// Credential sources.
const (
	SourceAuto    = "auto"
	SourceFile    = "file"
	SourceBridge  = "bridge"
	SourceKeyring = "keyring"
)

// Environment overrides.
const (
	EnvClaudeConfigDir  = "CLAUDE_CONFIG_DIR"
	EnvCredentialSource = "CLAUDE_USAGE_CREDENTIAL_SOURCE"
)

// Data file names inside DataDir.
const (
	cacheFile   = "usage.json"
	historyFile = "history.json"
	samplesFile = "samples.db"
)

// ErrUnknownSource is returned for a credential source outside Sources.
var ErrUnknownSource = errors.New("unknown credential source")

// Sources lists the accepted credential sources.
var Sources = []string{SourceAuto, SourceFile, SourceBridge, SourceKeyring}

// Config holds all claude-usage-tracker configuration.
type Config struct {
	General     GeneralConfig     `toml:"general"`
	Credentials CredentialsConfig `toml:"credentials"`
	API         APIConfig         `toml:"api"`
	Log         LogConfig         `toml:"log"`
}

// GeneralConfig holds directory locations and history retention.
type GeneralConfig struct {
	ClaudeDir   string `toml:"claude_dir,omitempty"`
	DataDir     string `toml:"data_dir,omitempty"`
	HistoryDays int    `toml:"history_days"`
}

// CredentialsConfig selects where the OAuth credential is read from and how
// it is refreshed.
type CredentialsConfig struct {
	Source         string `toml:"source"`
	BridgeCommand  string `toml:"bridge_command,omitempty"`
	KeyringService string `toml:"keyring_service,omitempty"`
	KeyringUser    string `toml:"keyring_user,omitempty"`
	ClientID       string `toml:"client_id,omitempty"`
	TokenURL       string `toml:"token_url,omitempty"`
}

// APIConfig holds usage endpoint settings.
type APIConfig struct {
	UsageURL       string `toml:"usage_url,omitempty"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `toml:"level"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		General: GeneralConfig{
			HistoryDays: 7,
		},
		Credentials: CredentialsConfig{
			Source: SourceAuto,
		},
		API: APIConfig{
			TimeoutSeconds: 15,
		},
		Log: LogConfig{
			Level: "warn",
		},
	}
}

// ConfigDir returns the XDG-compliant config directory.
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, AppName)
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", AppName)
}

// ConfigPath returns the full path to the config file.
func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.toml")
}

// Load reads the config file, returning defaults if it doesn't exist.
func Load() (Config, error) {
	return LoadFrom(ConfigPath())
}

// LoadFrom reads the config file at path, returning defaults if it doesn't exist.
func LoadFrom(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config: %w", err)
	}

	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config: %w", err)
	}

	return cfg, nil
}

// Save writes the config to the default path.
func Save(cfg Config) error {
	return SaveTo(ConfigPath(), cfg)
}

// SaveTo writes the config to path, readable by the owner only.
func SaveTo(path string, cfg Config) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := atomicfile.Write(path, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// Exists returns true if a config file exists on disk.
func Exists() bool {
	_, err := os.Stat(ConfigPath())
	return err == nil
}

// ClaudeDir returns the Claude Code configuration directory:
// $CLAUDE_CONFIG_DIR, then general.claude_dir, then ~/.claude.
func (c Config) ClaudeDir() string {
	if dir := os.Getenv(EnvClaudeConfigDir); dir != "" {
		return dir
	}
	if c.General.ClaudeDir != "" {
		return expandHome(c.General.ClaudeDir)
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".claude")
}

// CredentialsPath returns the Claude Code credential document.
func (c Config) CredentialsPath() string {
	return filepath.Join(c.ClaudeDir(), ".credentials.json")
}

// DataDir returns the directory holding the cache, history and sample log.
func (c Config) DataDir() string {
	if c.General.DataDir != "" {
		return expandHome(c.General.DataDir)
	}
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, AppName)
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", AppName)
}

// CachePath returns the snapshot cache read by the widget.
func (c Config) CachePath() string { return filepath.Join(c.DataDir(), cacheFile) }

// HistoryPath returns the 7-day history document.
func (c Config) HistoryPath() string { return filepath.Join(c.DataDir(), historyFile) }

// SamplesPath returns the SQLite sample log.
func (c Config) SamplesPath() string { return filepath.Join(c.DataDir(), samplesFile) }

// HistoryDays returns the history window, at least one day.
func (c Config) HistoryDays() int {
	if c.General.HistoryDays <= 0 {
		return 7
	}
	return c.General.HistoryDays
}

// Timeout returns the usage request timeout.
func (c Config) Timeout() time.Duration {
	if c.API.TimeoutSeconds <= 0 {
		return 15 * time.Second
	}
	return time.Duration(c.API.TimeoutSeconds) * time.Second
}

// CredentialSource returns the effective credential source:
// $CLAUDE_USAGE_CREDENTIAL_SOURCE, then credentials.source, then auto.
func (c Config) CredentialSource() (string, error) {
	src := c.Credentials.Source
	if env := os.Getenv(EnvCredentialSource); env != "" {
		src = env
	}
	return NormalizeSource(src)
}

// NormalizeSource validates a credential source name. "kwallet" is accepted
// as an alias for the keyring.
func NormalizeSource(src string) (string, error) {
	src = strings.ToLower(strings.TrimSpace(src))
	switch src {
	case "":
		return SourceAuto, nil
	case "kwallet":
		return SourceKeyring, nil
	case SourceAuto, SourceFile, SourceBridge, SourceKeyring:
		return src, nil
	default:
		return "", fmt.Errorf("%w %q (want one of %s)", ErrUnknownSource, src, strings.Join(Sources, ", "))
	}
}

// BridgeArgv splits credentials.bridge_command into an argument vector.
func (c Config) BridgeArgv() []string {
	return strings.Fields(c.Credentials.BridgeCommand)
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, strings.TrimPrefix(p, "~"))
	}
	return p
}
