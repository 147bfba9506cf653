package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	General     GeneralConfig     `json:"general"`
	Browser     BrowserConfig     `json:"browser"`
	Profiles    ProfilesConfig    `json:"profiles"`
	Coordinator CoordinatorConfig `json:"coordinator"`
	Engine      EngineConfig      `json:"engine"`
	Channels    ChannelsConfig    `json:"channels"`
	Metrics     MetricsConfig     `json:"metrics"`
}

type GeneralConfig struct {
	LogLevel string `json:"logLevel"`
	LogFile  string `json:"logFile,omitempty"`
}

// BrowserConfig controls the Chrome instance that hosts the chat pages.
// With RemoteURL set, chatcast attaches to an already running browser
// (chrome --remote-debugging-port) instead of launching its own.
type BrowserConfig struct {
	ProfileDir string   `json:"profileDir"`
	Headless   bool     `json:"headless"`
	RemoteURL  string   `json:"remoteURL,omitempty"`
	Sites      []string `json:"sites"`
	UserAgent  string   `json:"userAgent,omitempty"`
}

type ProfilesConfig struct {
	Path  string `json:"path,omitempty"`
	Watch bool   `json:"watch"`
}

type CoordinatorConfig struct {
	DebounceMs int `json:"debounceMs"`
}

// EngineConfig holds the per-page worker's retry and settle timings.
type EngineConfig struct {
	SyncAttempts      int `json:"syncAttempts"`
	SyncRetryDelayMs  int `json:"syncRetryDelayMs"`
	FocusSettleMs     int `json:"focusSettleMs"`
	PostInjectMs      int `json:"postInjectMs"`
	QueueSize         int `json:"queueSize"`
	SyncRatePerMinute int `json:"syncRatePerMinute"`
	SyncBurst         int `json:"syncBurst"`
}

func (e EngineConfig) SyncRetryDelay() time.Duration {
	return time.Duration(e.SyncRetryDelayMs) * time.Millisecond
}

func (e EngineConfig) FocusSettle() time.Duration {
	return time.Duration(e.FocusSettleMs) * time.Millisecond
}

func (e EngineConfig) PostInject() time.Duration {
	return time.Duration(e.PostInjectMs) * time.Millisecond
}

type ChannelsConfig struct {
	Web      WebConfig      `json:"web"`
	CLI      CLIConfig      `json:"cli"`
	Telegram TelegramConfig `json:"telegram"`
}

type TelegramConfig struct {
	Enabled   bool           `json:"enabled"`
	Token     string         `json:"token"`
	AllowFrom FlexStringList `json:"allowFrom"`
}

// FlexStringList is a []string that can unmarshal from JSON arrays containing
// both strings and numbers (e.g. ["123", 456] both become "123", "456").
type FlexStringList []string

func (f *FlexStringList) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, item := range raw {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			result = append(result, s)
			continue
		}
		var n float64
		if err := json.Unmarshal(item, &n); err == nil {
			result = append(result, strconv.FormatInt(int64(n), 10))
			continue
		}
		result = append(result, string(item))
	}
	*f = result
	return nil
}

type WebConfig struct {
	Enabled bool    `json:"enabled"`
	Host    string  `json:"host"`
	Port    int     `json:"port"`
	Auth    WebAuth `json:"auth"`
}

type WebAuth struct {
	Enabled      bool   `json:"enabled"`
	Username     string `json:"username"`
	PasswordHash string `json:"passwordHash"` // hex sha256
}

type CLIConfig struct {
	Enabled bool `json:"enabled"`
}

type MetricsConfig struct {
	Enabled  bool   `json:"enabled"`
	Endpoint string `json:"endpoint"`
}

func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".chatcast"
	}
	return filepath.Join(home, ".chatcast")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.Browser.ProfileDir = ExpandPath(cfg.Browser.ProfileDir)
	cfg.Profiles.Path = ExpandPath(cfg.Profiles.Path)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		name := groups[1]
		hasDefault := len(groups) >= 3 && groups[2] != ""

		val, ok := os.LookupEnv(name)
		if !ok || val == "" {
			if hasDefault {
				return groups[2]
			}
			return match
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	// The file may carry the Telegram token.
	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	switch strings.ToLower(cfg.General.LogLevel) {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}

	if cfg.Browser.ProfileDir == "" && cfg.Browser.RemoteURL == "" {
		errs = append(errs, "browser.profileDir is required unless browser.remoteURL is set")
	}
	if cfg.Browser.RemoteURL != "" &&
		!strings.HasPrefix(cfg.Browser.RemoteURL, "ws://") &&
		!strings.HasPrefix(cfg.Browser.RemoteURL, "http://") {
		errs = append(errs, "browser.remoteURL must start with ws:// or http://")
	}

	if cfg.Coordinator.DebounceMs < 0 || cfg.Coordinator.DebounceMs > 5000 {
		errs = append(errs, "coordinator.debounceMs must be between 0 and 5000")
	}

	if cfg.Engine.SyncAttempts < 1 || cfg.Engine.SyncAttempts > 50 {
		errs = append(errs, "engine.syncAttempts must be between 1 and 50")
	}
	for name, v := range map[string]int{
		"engine.syncRetryDelayMs": cfg.Engine.SyncRetryDelayMs,
		"engine.focusSettleMs":    cfg.Engine.FocusSettleMs,
		"engine.postInjectMs":     cfg.Engine.PostInjectMs,
	} {
		if v < 0 {
			errs = append(errs, name+" must be >= 0")
		}
	}
	if cfg.Engine.QueueSize < 1 {
		errs = append(errs, "engine.queueSize must be >= 1")
	}
	if cfg.Engine.SyncRatePerMinute < 1 {
		errs = append(errs, "engine.syncRatePerMinute must be >= 1")
	}
	if cfg.Engine.SyncBurst < 1 {
		errs = append(errs, "engine.syncBurst must be >= 1")
	}

	if cfg.Channels.Web.Port < 0 || cfg.Channels.Web.Port > 65535 {
		errs = append(errs, "channels.web.port must be between 0 and 65535")
	}
	if cfg.Channels.Web.Auth.Enabled && (cfg.Channels.Web.Auth.Username == "" || cfg.Channels.Web.Auth.PasswordHash == "") {
		errs = append(errs, "channels.web.auth requires username and passwordHash when enabled")
	}
	if cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.Token == "" {
		errs = append(errs, "channels.telegram.token is required when telegram is enabled")
	}

	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Endpoint, "/") {
		errs = append(errs, "metrics.endpoint must start with /")
	}

	if len(errs) > 0 {
		sort.Strings(errs)
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
