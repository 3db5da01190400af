package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sha1n/kseek/internal/buffer"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable read by kseek.
const EnvPrefix = "KSEEK"

// Auth type constants
const (
	AuthTypeNone   = "none"
	AuthTypeBasic  = "basic"
	AuthTypeAPIKey = "apikey"
)

// Transport constants
const (
	TransportStdio = "stdio"
	TransportSSE   = "sse"
)

// AuthSettings configuration for authentication
type AuthSettings struct {
	Type    string            `mapstructure:"type"` // AuthTypeNone, AuthTypeBasic, or AuthTypeAPIKey
	Basic   BasicAuthSettings `mapstructure:"basic"`
	APIKeys []string          `mapstructure:"api_keys"`
}

// BasicAuthSettings configuration for basic auth. Either Password or a
// bcrypt PasswordHash is set.
type BasicAuthSettings struct {
	Username     string `mapstructure:"username"`
	Password     string `mapstructure:"password"`
	PasswordHash string `mapstructure:"password_hash"`
}

// KafkaSettings configuration for the Kafka record source
type KafkaSettings struct {
	Brokers   []string `mapstructure:"brokers"`
	Topics    []string `mapstructure:"topics"`
	ClientID  string   `mapstructure:"client_id"`
	StopAtEnd bool     `mapstructure:"stop_at_end"`
}

// ConsumerSettings bounds the micro-batches pulled from the source
type ConsumerSettings struct {
	BufferCapacity int `mapstructure:"buffer_capacity"`
	TimeoutInMs    int `mapstructure:"timeout_in_ms"`
}

// BatchTimeout returns TimeoutInMs as a duration.
func (c ConsumerSettings) BatchTimeout() time.Duration {
	return time.Duration(c.TimeoutInMs) * time.Millisecond
}

// SearchSettings configuration for running searches
type SearchSettings struct {
	SortInterval  time.Duration `mapstructure:"sort_interval"`
	FilterTimeout time.Duration `mapstructure:"filter_timeout"`
	MaxResults    int           `mapstructure:"max_results"`
	ResultsBuffer int           `mapstructure:"results_buffer"`
	HistorySize   int           `mapstructure:"history_size"`
}

// Settings application settings
type Settings struct {
	Workspace   string `mapstructure:"workspace"`
	FiltersDir  string `mapstructure:"filters_dir"`
	HistoryFile string `mapstructure:"history_file"`
	ExportDir   string `mapstructure:"export_dir"`
	LogLevel    string `mapstructure:"log_level"`

	Kafka    KafkaSettings    `mapstructure:"kafka"`
	Consumer ConsumerSettings `mapstructure:"consumer"`
	Search   SearchSettings   `mapstructure:"search"`

	Transport string       `mapstructure:"transport"`
	Host      string       `mapstructure:"host"`
	Port      int          `mapstructure:"port"`
	Auth      AuthSettings `mapstructure:"auth"`
}

// settingFlags maps setting keys to their CLI flag names. Every key is also
// read from the environment as KSEEK_<KEY> with dots replaced by underscores.
var settingFlags = map[string]string{
	"workspace":                "workspace",
	"filters_dir":              "filters-dir",
	"history_file":             "history-file",
	"export_dir":               "export-dir",
	"log_level":                "log-level",
	"kafka.brokers":            "kafka-brokers",
	"kafka.topics":             "kafka-topics",
	"kafka.client_id":          "kafka-client-id",
	"kafka.stop_at_end":        "kafka-stop-at-end",
	"consumer.buffer_capacity": "consumer-buffer-capacity",
	"consumer.timeout_in_ms":   "consumer-timeout-in-ms",
	"search.sort_interval":     "search-sort-interval",
	"search.filter_timeout":    "search-filter-timeout",
	"search.max_results":       "search-max-results",
	"search.results_buffer":    "search-results-buffer",
	"search.history_size":      "search-history-size",
	"transport":                "transport",
	"host":                     "host",
	"port":                     "port",
	"auth.type":                "auth-type",
	"auth.basic.username":      "auth-basic-username",
	"auth.basic.password":      "auth-basic-password",
	"auth.basic.password_hash": "auth-basic-password-hash",
	"auth.api_keys":            "auth-api-keys",
}

// EnvName returns the environment variable of a setting key.
func EnvName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// LoadSettings loads settings from environment variables and optional .env file
func LoadSettings() (*Settings, error) {
	return LoadSettingsWithFlags(nil)
}

// LoadSettingsWithFlags loads settings with optional CLI flag overrides.
// Priority: CLI flags > environment variables > .env file > defaults.
// If flags is nil, only env vars and defaults are used.
func LoadSettingsWithFlags(flags *pflag.FlagSet) (*Settings, error) {
	v := viper.New()

	// Default values
	v.SetDefault("workspace", defaultWorkspace())
	v.SetDefault("log_level", "info")
	v.SetDefault("consumer.buffer_capacity", 1000)
	v.SetDefault("consumer.timeout_in_ms", 10)
	v.SetDefault("search.sort_interval", time.Second)
	v.SetDefault("search.filter_timeout", time.Second)
	v.SetDefault("search.max_results", 100)
	v.SetDefault("search.results_buffer", buffer.DefaultCapacity)
	v.SetDefault("search.history_size", 100)
	v.SetDefault("kafka.client_id", "kseek")
	v.SetDefault("transport", TransportStdio)
	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("port", 8080)
	v.SetDefault("auth.type", AuthTypeNone)

	// Environment variables
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, flag := range settingFlags {
		// Bind nested keys explicitly so Unmarshal sees them
		_ = v.BindEnv(key, EnvName(key))

		// Bind CLI flags if provided (highest priority)
		if flags != nil {
			if f := flags.Lookup(flag); f != nil {
				_ = v.BindPFlag(key, f)
			}
		}
	}

	// Helper to look for .env file
	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	_ = v.ReadInConfig() // Ignore error if .env doesn't exist

	var settings Settings
	if err := v.Unmarshal(&settings); err != nil {
		return nil, err
	}

	settings.Kafka.Brokers = listSetting("kafka.brokers", settings.Kafka.Brokers)
	settings.Kafka.Topics = listSetting("kafka.topics", settings.Kafka.Topics)
	settings.Auth.APIKeys = listSetting("auth.api_keys", settings.Auth.APIKeys)

	// Expand home directory and derive workspace paths
	settings.Workspace = expandHomeDir(settings.Workspace)
	settings.FiltersDir = workspacePath(settings.FiltersDir, settings.Workspace, "filters")
	settings.HistoryFile = workspacePath(settings.HistoryFile, settings.Workspace, "history.json")
	settings.ExportDir = workspacePath(settings.ExportDir, settings.Workspace, "export")

	return &settings, nil
}

// listSetting splits comma-separated values given through the environment,
// trims spaces and drops empty entries.
func listSetting(key string, values []string) []string {
	if env := os.Getenv(EnvName(key)); env != "" {
		if len(values) == 0 || (len(values) == 1 && strings.Contains(values[0], ",")) {
			values = strings.Split(env, ",")
		}
	}

	var result []string
	for _, s := range values {
		if s = strings.TrimSpace(s); s != "" {
			result = append(result, s)
		}
	}
	return result
}

// defaultWorkspace returns the default workspace directory
func defaultWorkspace() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".kseek"
	}
	return filepath.Join(home, ".config", "kseek")
}

// workspacePath expands path, or defaults it to name under the workspace.
func workspacePath(path, workspace, name string) string {
	if path == "" {
		return filepath.Join(workspace, name)
	}
	return expandHomeDir(path)
}

// expandHomeDir expands ~ to the user's home directory
func expandHomeDir(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	if path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return home
	}
	return path
}

// ValidateSettings checks for conflicting configurations.
// Returns an error if the settings contain mutually exclusive or incomplete config.
func ValidateSettings(s *Settings) error {
	// Validate transport type
	switch s.Transport {
	case TransportStdio, TransportSSE:
		// valid
	default:
		return errors.New("transport must be 'stdio' or 'sse', got: " + s.Transport)
	}

	if _, err := ParseLogLevel(s.LogLevel); err != nil {
		return err
	}

	if err := validateAuthSettings(&s.Auth); err != nil {
		return err
	}
	if err := validateConsumerSettings(&s.Consumer); err != nil {
		return err
	}
	return validateSearchSettings(&s.Search)
}

func validateAuthSettings(a *AuthSettings) error {
	hasBasicCreds := a.Basic.Username != "" || a.Basic.Password != "" || a.Basic.PasswordHash != ""
	hasAPIKeys := len(a.APIKeys) > 0

	switch a.Type {
	case AuthTypeNone, "":
		if hasBasicCreds || hasAPIKeys {
			return errors.New("auth-type 'none' is incompatible with auth credentials")
		}
	case AuthTypeBasic:
		if hasAPIKeys {
			return errors.New("auth-type 'basic' is mutually exclusive with auth-api-keys")
		}
		if a.Basic.Password != "" && a.Basic.PasswordHash != "" {
			return errors.New("auth-basic-password and auth-basic-password-hash are mutually exclusive")
		}
		if a.Basic.Username == "" || (a.Basic.Password == "" && a.Basic.PasswordHash == "") {
			return errors.New("auth-type 'basic' requires a username and a password or password hash")
		}
	case AuthTypeAPIKey:
		if hasBasicCreds {
			return errors.New("auth-type 'apikey' is mutually exclusive with basic auth credentials")
		}
		if !hasAPIKeys {
			return errors.New("auth-type 'apikey' requires at least one API key")
		}
	default:
		return errors.New("unknown auth-type: " + a.Type)
	}
	return nil
}

func validateConsumerSettings(c *ConsumerSettings) error {
	if c.BufferCapacity <= 0 {
		return errors.New("consumer-buffer-capacity must be positive")
	}
	if c.TimeoutInMs <= 0 {
		return errors.New("consumer-timeout-in-ms must be positive")
	}
	return nil
}

func validateSearchSettings(s *SearchSettings) error {
	if s.SortInterval <= 0 {
		return errors.New("search-sort-interval must be positive")
	}
	if s.FilterTimeout <= 0 {
		return errors.New("search-filter-timeout must be positive")
	}
	if s.MaxResults <= 0 {
		return errors.New("search-max-results must be positive")
	}
	if s.ResultsBuffer <= 0 {
		return errors.New("search-results-buffer must be positive")
	}
	if s.HistorySize <= 0 {
		return fmt.Errorf("search-history-size must be positive, got: %d", s.HistorySize)
	}
	return nil
}

// ValidateKafkaSettings checks the settings needed to consume from Kafka.
func ValidateKafkaSettings(k *KafkaSettings) error {
	if len(k.Brokers) == 0 {
		return errors.New("kafka-brokers requires at least one broker address")
	}
	if len(k.Topics) == 0 {
		return errors.New("kafka-topics requires at least one topic")
	}
	return nil
}
