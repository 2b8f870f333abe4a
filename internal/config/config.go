package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"cmdgate/internal/domain"
)

// Config is the root configuration for cmdgate.
type Config struct {
	General  GeneralConfig  `json:"general"`
	Server   ServerConfig   `json:"server"`
	Store    StoreConfig    `json:"store"`
	Rules    RulesConfig    `json:"rules"`
	Credits  CreditsConfig  `json:"credits"`
	Executor ExecutorConfig `json:"executor"`
	Notify   NotifyConfig   `json:"notify"`
	Admin    AdminConfig    `json:"admin"`
	Metrics  MetricsConfig  `json:"metrics"`
}

type GeneralConfig struct {
	LogLevel string `json:"logLevel"`
	LogFile  string `json:"logFile,omitempty"` // optional log file path
}

type ServerConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

type StoreConfig struct {
	DBPath string `json:"dbPath"`
}

type RulesConfig struct {
	// DefaultAction applies when no rule matches a submitted command.
	DefaultAction string `json:"defaultAction"`
	// SeedFile is an optional YAML rule pack loaded when the rule table
	// is empty.
	SeedFile string `json:"seedFile,omitempty"`
}

type CreditsConfig struct {
	MemberCredits int `json:"memberCredits"`
	AdminCredits  int `json:"adminCredits"`
	CommandCost   int `json:"commandCost"`
}

type ExecutorConfig struct {
	Mode           string `json:"mode"` // "simulate" | "shell"
	TimeoutSeconds int    `json:"timeoutSeconds"`
	MaxOutputBytes int    `json:"maxOutputBytes"`
	WorkingDir     string `json:"workingDir,omitempty"`
}

type NotifyConfig struct {
	BufferSize int            `json:"bufferSize"`
	Telegram   TelegramConfig `json:"telegram"`
}

type TelegramConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token,omitempty"`
	ChatID  int64  `json:"chatId,omitempty"`
}

// AdminConfig bootstraps the first admin account. It is applied only when
// no admin exists in the database yet.
type AdminConfig struct {
	Name   string `json:"name"`
	APIKey string `json:"apiKey,omitempty"`
}

type MetricsConfig struct {
	Enabled bool `json:"enabled"`
}

// DefaultConfigDir returns the default config directory (~/.cmdgate).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".cmdgate"
	}
	return filepath.Join(home, ".cmdgate")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func Load(path string) (*Config, error) {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("cannot resolve home directory: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}

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

	cfg.Store.DBPath = ExpandPath(cfg.Store.DBPath)
	cfg.Rules.SeedFile = ExpandPath(cfg.Rules.SeedFile)
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.Executor.WorkingDir = ExpandPath(cfg.Executor.WorkingDir)

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
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match // Keep original if no env var and no default
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	switch cfg.General.LogLevel {
	case "debug", "info", "warn", "error":
		// valid
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}

	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 0 and 65535")
	}

	if cfg.Store.DBPath == "" {
		errs = append(errs, "store.dbPath must not be empty")
	}

	if !domain.ValidRuleAction(cfg.Rules.DefaultAction) {
		errs = append(errs, "rules.defaultAction must be one of: AUTO_ACCEPT, AUTO_REJECT, REQUIRE_APPROVAL")
	}

	if cfg.Credits.MemberCredits < 0 {
		errs = append(errs, "credits.memberCredits must be >= 0")
	}
	if cfg.Credits.AdminCredits < 0 {
		errs = append(errs, "credits.adminCredits must be >= 0")
	}
	if cfg.Credits.CommandCost < 1 {
		errs = append(errs, "credits.commandCost must be >= 1")
	}

	switch cfg.Executor.Mode {
	case "simulate", "shell":
		// valid
	default:
		errs = append(errs, "executor.mode must be one of: simulate, shell")
	}
	if cfg.Executor.TimeoutSeconds < 1 {
		errs = append(errs, "executor.timeoutSeconds must be >= 1")
	}
	if cfg.Executor.MaxOutputBytes < 1 {
		errs = append(errs, "executor.maxOutputBytes must be >= 1")
	}

	if cfg.Notify.BufferSize < 1 {
		errs = append(errs, "notify.bufferSize must be >= 1")
	}
	if cfg.Notify.Telegram.Enabled {
		if cfg.Notify.Telegram.Token == "" {
			errs = append(errs, "notify.telegram.token is required when telegram is enabled")
		}
		if cfg.Notify.Telegram.ChatID == 0 {
			errs = append(errs, "notify.telegram.chatId is required when telegram is enabled")
		}
	}

	if len(errs) > 0 {
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
