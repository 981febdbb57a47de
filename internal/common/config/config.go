// Package config loads acpchat configuration from defaults, an optional
// config.yaml and ACPCHAT_* environment variables.
package config

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config holds all configuration sections.
type Config struct {
	Server  ServerConfig           `mapstructure:"server"`
	Logging LoggingConfig          `mapstructure:"logging"`
	Store   StoreConfig            `mapstructure:"store"`
	NATS    NATSConfig             `mapstructure:"nats"`
	Runtime RuntimeConfig          `mapstructure:"runtime"`
	Agents  map[string]AgentConfig `mapstructure:"agents"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	ReadTimeout    int    `mapstructure:"readTimeout"`  // in seconds
	WriteTimeout   int    `mapstructure:"writeTimeout"` // in seconds
	MetricsEnabled bool   `mapstructure:"metricsEnabled"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// StoreConfig selects the chat store backend.
type StoreConfig struct {
	Driver   string `mapstructure:"driver"` // memory, sqlite, postgres
	Path     string `mapstructure:"path"`
	DSN      string `mapstructure:"dsn"`
	MaxConns int    `mapstructure:"maxConns"`
	MinConns int    `mapstructure:"minConns"`
}

// NATSConfig holds NATS messaging configuration. An empty URL selects the
// in-memory event bus.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// RuntimeConfig holds settings shared by every ACP runtime.
type RuntimeConfig struct {
	Cwd           string `mapstructure:"cwd"`
	ClientName    string `mapstructure:"clientName"`
	ClientVersion string `mapstructure:"clientVersion"`
	DefaultAgent  string `mapstructure:"defaultAgent"`
}

// MCPServerConfig is an auxiliary stdio tool server passed to session/new.
type MCPServerConfig struct {
	Name    string            `mapstructure:"name"`
	Command string            `mapstructure:"command"`
	Args    []string          `mapstructure:"args"`
	Env     map[string]string `mapstructure:"env"`
}

// AgentConfig describes one agent type. Kind picks the adapter: claude,
// kiro or generic.
type AgentConfig struct {
	Kind        string            `mapstructure:"kind"`
	Command     string            `mapstructure:"command"`
	Args        []string          `mapstructure:"args"`
	Env         map[string]string `mapstructure:"env"`
	DisplayName string            `mapstructure:"displayName"`
	MentionName string            `mapstructure:"mentionName"`
	MCPServers  []MCPServerConfig `mapstructure:"mcpServers"`
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// Addr returns host:port.
func (s *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// AgentTypes returns the configured agent types, sorted.
func (c *Config) AgentTypes() []string {
	out := make([]string, 0, len(c.Agents))
	for name := range c.Agents {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// detectDefaultLogFormat returns json under Kubernetes or ACPCHAT_ENV=production,
// console otherwise.
func detectDefaultLogFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	if env := os.Getenv("ACPCHAT_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "console"
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8765)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 0) // websocket streams stay open
	v.SetDefault("server.metricsEnabled", true)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stderr")

	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.path", "./acpchat.db")
	v.SetDefault("store.dsn", "")

	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clientId", "acpchat")
	v.SetDefault("nats.maxReconnects", 10)

	v.SetDefault("runtime.cwd", "")
	v.SetDefault("runtime.clientName", "acpchat")
	v.SetDefault("runtime.clientVersion", "0.1.0")
	v.SetDefault("runtime.defaultAgent", "claude")

	v.SetDefault("agents", map[string]any{
		"claude": map[string]any{
			"kind":        "claude",
			"command":     "claude-code-acp",
			"displayName": "Claude",
			"mentionName": "claude",
		},
		"kiro": map[string]any{
			"kind":        "kiro",
			"command":     "kiro-cli",
			"args":        []string{"acp"},
			"displayName": "Kiro",
			"mentionName": "kiro",
		},
	})
}

// Loader keeps the viper instance so the config file can be watched.
type Loader struct {
	v *viper.Viper
}

// Load reads configuration from environment variables, config file, and defaults.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	_, cfg, err := NewLoader(configPath)
	return cfg, err
}

// NewLoader reads the configuration once and returns the loader for Watch.
// Environment variables use the ACPCHAT_ prefix with "." replaced by "_",
// e.g. ACPCHAT_SERVER_PORT.
func NewLoader(configPath string) (*Loader, *Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("ACPCHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("store.dsn", "ACPCHAT_STORE_DSN", "DATABASE_URL")
	_ = v.BindEnv("nats.url", "ACPCHAT_NATS_URL", "NATS_URL")
	_ = v.BindEnv("runtime.defaultAgent", "ACPCHAT_RUNTIME_DEFAULT_AGENT")

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(home + "/.acpchat")
	}
	v.AddConfigPath("/etc/acpchat/")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	l := &Loader{v: v}
	cfg, err := l.decode()
	if err != nil {
		return nil, nil, err
	}
	return l, cfg, nil
}

func (l *Loader) decode() (*Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// ConfigFile returns the file in use, or "" when running on defaults.
func (l *Loader) ConfigFile() string {
	return l.v.ConfigFileUsed()
}

// Watch calls onChange with the re-read configuration every time the config
// file changes. Invalid files are reported through err and leave the previous
// configuration in place. Without a config file Watch does nothing.
func (l *Loader) Watch(onChange func(cfg *Config, err error)) {
	if l.v.ConfigFileUsed() == "" {
		return
	}
	l.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		onChange(l.decode())
	})
	l.v.WatchConfig()
}

// validate checks that all required configuration fields are set.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "console": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, console")
	}

	switch cfg.Store.Driver {
	case "memory":
	case "sqlite":
		if cfg.Store.Path == "" {
			errs = append(errs, "store.path is required for the sqlite driver")
		}
	case "postgres":
		if cfg.Store.DSN == "" {
			errs = append(errs, "store.dsn is required for the postgres driver")
		}
	default:
		errs = append(errs, "store.driver must be one of: memory, sqlite, postgres")
	}

	for _, name := range cfg.AgentTypes() {
		agent := cfg.Agents[name]
		if strings.TrimSpace(agent.Command) == "" {
			errs = append(errs, fmt.Sprintf("agents.%s.command is required", name))
		}
		switch agent.Kind {
		case "", "claude", "kiro", "generic":
		default:
			errs = append(errs, fmt.Sprintf("agents.%s.kind must be one of: claude, kiro, generic", name))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}
