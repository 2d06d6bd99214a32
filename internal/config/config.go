// Package config loads the interviewer's YAML configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/nugget/resume-interviewer/internal/mailer"
)

// appName names the per-user and system config directories.
const appName = "resume-interviewer"

// DefaultSearchPaths returns the config file search order:
// ./config.yaml, ~/.config/resume-interviewer/config.yaml,
// /etc/resume-interviewer/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", appName, "config.yaml"))
	}

	paths = append(paths, filepath.Join("/etc", appName, "config.yaml"))
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all interviewer configuration.
type Config struct {
	Listen    ListenConfig    `yaml:"listen"`
	Store     StoreConfig     `yaml:"store"`
	Schema    SchemaConfig    `yaml:"schema"`
	Models    ModelsConfig    `yaml:"models"`
	Anthropic AnthropicConfig `yaml:"anthropic"`
	Gemini    GeminiConfig    `yaml:"gemini"`
	Ollama    OllamaConfig    `yaml:"ollama"`
	Agent     AgentConfig     `yaml:"agent"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	SMTP      mailer.Config   `yaml:"smtp"`

	// DataDir holds the database and the MQTT instance ID when their
	// paths are not set explicitly.
	DataDir string `yaml:"data_dir"`

	LogLevel string `yaml:"log_level"`
	// LogFormat is "text" (default) or "json".
	LogFormat string `yaml:"log_format"`
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// Addr returns the host:port to listen on.
func (l ListenConfig) Addr() string {
	return fmt.Sprintf("%s:%d", l.Address, l.Port)
}

// StoreConfig selects the SQLite driver and database file.
type StoreConfig struct {
	// Driver is "sqlite3" (cgo, default) or "sqlite" (pure Go).
	Driver string `yaml:"driver"`
	// Path is the database file. Default: <data_dir>/interviewer.db.
	Path string `yaml:"path"`
}

// SchemaConfig points at the question catalog.
type SchemaConfig struct {
	// Path is a YAML or CSV catalog file.
	Path string `yaml:"path"`
	// Watch rebuilds the schema when the file changes.
	Watch bool `yaml:"watch"`
}

// ModelsConfig names the models each job uses and the provider that
// serves each model.
type ModelsConfig struct {
	// Chat is the conversational model.
	Chat string `yaml:"chat"`
	// Precise runs the completeness audit, repairs, and extraction.
	// Defaults to Chat.
	Precise string `yaml:"precise"`
	// Guard runs the safety screen. Defaults to Precise.
	Guard string `yaml:"guard"`
	// Temperature for the conversational model.
	Temperature float64 `yaml:"temperature"`
	// Providers maps a model name to "anthropic", "gemini" or "ollama".
	Providers map[string]string `yaml:"providers"`
	// DefaultProvider serves models missing from Providers.
	DefaultProvider string `yaml:"default_provider"`
}

// AnthropicConfig defines Anthropic API settings.
type AnthropicConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// Configured reports whether the provider has credentials.
func (a AnthropicConfig) Configured() bool { return a.APIKey != "" }

// GeminiConfig defines Gemini API settings. Requests rotate over the
// keys round-robin.
type GeminiConfig struct {
	// APIKeys is a comma-separated key list, usually from the
	// environment.
	APIKeys string `yaml:"api_keys"`
	BaseURL string `yaml:"base_url"`
}

// Configured reports whether the provider has credentials.
func (g GeminiConfig) Configured() bool { return strings.TrimSpace(g.APIKeys) != "" }

// OllamaConfig defines the local Ollama server.
type OllamaConfig struct {
	URL string `yaml:"url"`
}

// Configured reports whether the provider is enabled.
func (o OllamaConfig) Configured() bool { return o.URL != "" }

// AgentConfig tunes the conversational engine.
type AgentConfig struct {
	// MaxIterations caps model calls per turn. Default: 8.
	MaxIterations int `yaml:"max_iterations"`
	// HistoryLimit is how many past turns are replayed. Default: 50.
	HistoryLimit int `yaml:"history_limit"`
	// CarryOver lists the fields a reset copies into the new profile.
	CarryOver []string `yaml:"carry_over"`
}

// MQTTConfig defines the optional MQTT event relay. The relay is
// enabled when Broker is set.
type MQTTConfig struct {
	// Broker is the broker URL (mqtt://, mqtts://, ssl:// or tcp://).
	Broker   string `yaml:"broker"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// DeviceName names the Home Assistant device and the topic root.
	// Default: "interviewer".
	DeviceName string `yaml:"device_name"`
	// DiscoveryPrefix is the Home Assistant discovery prefix. Default:
	// "homeassistant".
	DiscoveryPrefix string `yaml:"discovery_prefix"`
	// PublishIntervalSec is how often sensor states are published.
	// Default: 60.
	PublishIntervalSec int `yaml:"publish_interval"`
	// MaxEventsPerMinute caps relayed events. Default: 600.
	MaxEventsPerMinute int `yaml:"max_events_per_minute"`
}

// Configured reports whether the relay should run.
func (m MQTTConfig) Configured() bool { return m.Broker != "" }

// Load reads configuration from a YAML file, expanding environment
// variables, applying defaults and validating the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{
		Listen:  ListenConfig{Port: 8080},
		Store:   StoreConfig{Driver: "sqlite3"},
		DataDir: "data",
	}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Listen.Port == 0 {
		c.Listen.Port = 8080
	}
	if c.DataDir == "" {
		c.DataDir = "data"
	}
	if c.Store.Driver == "" {
		c.Store.Driver = "sqlite3"
	}
	if c.Store.Path == "" {
		c.Store.Path = filepath.Join(c.DataDir, "interviewer.db")
	}
	if c.Models.Precise == "" {
		c.Models.Precise = c.Models.Chat
	}
	if c.Models.Guard == "" {
		c.Models.Guard = c.Models.Precise
	}
	if c.Agent.MaxIterations <= 0 {
		c.Agent.MaxIterations = 8
	}
	if c.Agent.HistoryLimit <= 0 {
		c.Agent.HistoryLimit = 50
	}
	if c.MQTT.DeviceName == "" {
		c.MQTT.DeviceName = "interviewer"
	}
	if c.MQTT.DiscoveryPrefix == "" {
		c.MQTT.DiscoveryPrefix = "homeassistant"
	}
	if c.MQTT.PublishIntervalSec <= 0 {
		c.MQTT.PublishIntervalSec = 60
	}
	if c.MQTT.MaxEventsPerMinute <= 0 {
		c.MQTT.MaxEventsPerMinute = 600
	}
	c.SMTP.ApplyDefaults()
}

// Validate reports missing or contradictory settings.
func (c *Config) Validate() error {
	var errs []error
	if c.Schema.Path == "" {
		errs = append(errs, errors.New("schema.path is required"))
	}
	if c.Models.Chat == "" {
		errs = append(errs, errors.New("models.chat is required"))
	}
	if !c.Anthropic.Configured() && !c.Gemini.Configured() && !c.Ollama.Configured() {
		errs = append(errs, errors.New("no model provider configured (anthropic, gemini or ollama)"))
	}
	for model, provider := range c.Models.Providers {
		if !c.providerConfigured(provider) {
			errs = append(errs, fmt.Errorf("model %s routed to unconfigured provider %q", model, provider))
		}
	}
	if p := c.Models.DefaultProvider; p != "" && !c.providerConfigured(p) {
		errs = append(errs, fmt.Errorf("default provider %q is not configured", p))
	}
	switch c.Store.Driver {
	case "sqlite3", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("store.driver %q: want sqlite3 or sqlite", c.Store.Driver))
	}
	switch strings.ToLower(c.LogFormat) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log_format %q: want text or json", c.LogFormat))
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (c *Config) providerConfigured(name string) bool {
	switch name {
	case "anthropic":
		return c.Anthropic.Configured()
	case "gemini":
		return c.Gemini.Configured()
	case "ollama":
		return c.Ollama.Configured()
	}
	return false
}
