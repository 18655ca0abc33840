// Package config provides YAML-based configuration loading for the hub.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the top-level hub configuration, loaded from config.yaml.
type Config struct {
	Token        string        `yaml:"token"`
	ListenPort   int           `yaml:"listen_port"`
	RegistryPath string        `yaml:"registry_path"`
	AuditPath    string        `yaml:"audit_path"`
	Runtime      RuntimeConfig `yaml:"runtime"`
	Probe        ProbeConfig   `yaml:"probe"`
	GitHub       GitHubConfig  `yaml:"github"`
	Notify       NotifyConfig  `yaml:"notify"`
}

// RuntimeConfig holds container engine settings.
type RuntimeConfig struct {
	Binary         string `yaml:"binary"`
	Image          string `yaml:"image"`
	DefaultPort    int    `yaml:"default_port"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// ProbeConfig controls preview reachability probing.
type ProbeConfig struct {
	Schedule  string `yaml:"schedule"` // 5-field cron expression
	TimeoutMS int    `yaml:"timeout_ms"`
}

// GitHubConfig holds the token used for pull-request reads.
type GitHubConfig struct {
	Token string `yaml:"token"`
}

// NotifyConfig configures optional chat notifications.
type NotifyConfig struct {
	Slack   SlackConfig   `yaml:"slack"`
	Discord DiscordConfig `yaml:"discord"`
}

// SlackConfig enables Slack notifications when both fields are set.
type SlackConfig struct {
	BotToken string `yaml:"bot_token"`
	Channel  string `yaml:"channel"`
}

// DiscordConfig enables Discord notifications when both fields are set.
type DiscordConfig struct {
	BotToken  string `yaml:"bot_token"`
	ChannelID string `yaml:"channel_id"`
}

// DefaultPath returns the conventional config location:
// ~/.dronehub/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("config: resolve home directory: %w", err)
	}
	return filepath.Join(home, ".dronehub", "config.yaml"), nil
}

// Load reads a YAML config file from path and returns a validated
// Config. A missing file yields defaults, so a fresh install works
// without any config at all (the hub generates a session token).
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Parse(nil)
	}
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() error {
	if c.ListenPort == 0 {
		c.ListenPort = 7700
	}
	if c.RegistryPath == "" || c.AuditPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("config: resolve home directory: %w", err)
		}
		if c.RegistryPath == "" {
			c.RegistryPath = filepath.Join(home, ".dronehub", "registry.json")
		}
		if c.AuditPath == "" {
			c.AuditPath = filepath.Join(home, ".dronehub", "audit.db")
		}
	}
	if c.Runtime.Binary == "" {
		c.Runtime.Binary = "docker"
	}
	if c.Runtime.Image == "" {
		c.Runtime.Image = "dronehub/sandbox:latest"
	}
	if c.Runtime.DefaultPort == 0 {
		c.Runtime.DefaultPort = 7777
	}
	if c.Runtime.TimeoutSeconds == 0 {
		c.Runtime.TimeoutSeconds = 45
	}
	if c.Probe.Schedule == "" {
		c.Probe.Schedule = "* * * * *"
	}
	if c.Probe.TimeoutMS == 0 {
		c.Probe.TimeoutMS = 800
	}
	return nil
}

// validate checks that all present fields are consistent.
func (c *Config) validate() error {
	var errs []string
	if c.ListenPort < 1 || c.ListenPort > 65535 {
		errs = append(errs, fmt.Sprintf("listen_port %d out of range", c.ListenPort))
	}
	if c.Runtime.DefaultPort < 1 || c.Runtime.DefaultPort > 65535 {
		errs = append(errs, fmt.Sprintf("runtime.default_port %d out of range", c.Runtime.DefaultPort))
	}
	if c.Runtime.TimeoutSeconds < 1 {
		errs = append(errs, "runtime.timeout_seconds must be positive")
	}
	if (c.Notify.Slack.BotToken == "") != (c.Notify.Slack.Channel == "") {
		errs = append(errs, "notify.slack requires both bot_token and channel")
	}
	if (c.Notify.Discord.BotToken == "") != (c.Notify.Discord.ChannelID == "") {
		errs = append(errs, "notify.discord requires both bot_token and channel_id")
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
