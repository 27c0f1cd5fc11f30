// Package config holds the daemon-wide ambient configuration: observability,
// the command execution engine's defaults, and where to find the
// per-network INI configuration (see internal/config/ini) and plugin
// directory. It deliberately does not describe instances, channels, or
// modules — that is the INI loader's job, per spec.md section 6.
package config

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"time"
)

// ObservabilityConfig holds tracing/metrics/logging settings, same shape
// as the teacher's nova.Config.Observability.
type ObservabilityConfig struct {
	Tracing TracingConfig `json:"tracing"`
	Metrics MetricsConfig `json:"metrics"`
	Logging LoggingConfig `json:"logging"`
}

type TracingConfig struct {
	Enabled     bool    `json:"enabled"`
	Exporter    string  `json:"exporter"`     // otlp-http, stdout
	Endpoint    string  `json:"endpoint"`     // localhost:4318
	ServiceName string  `json:"service_name"` // ircbotd
	SampleRate  float64 `json:"sample_rate"`  // 1.0
}

type MetricsConfig struct {
	Enabled   bool   `json:"enabled"`
	Namespace string `json:"namespace"` // ircbot
	Addr      string `json:"addr"`      // :9100, serves /metrics
}

type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // text, json
}

// CommandChannelConfig holds the per-worker timeout/timer settings of C10.
type CommandChannelConfig struct {
	TimeoutSeconds int `json:"timeout_seconds"` // COMMAND_TIMEOUT_SECONDS, default 5
}

// FloodConfig holds the outbound flood limiter defaults of I5 (C6).
type FloodConfig struct {
	Lines            int           `json:"lines"`             // IRC_FLOOD_LINES, default 4
	IntervalDuration  time.Duration `json:"interval"`           // IRC_FLOOD_INTERVAL, default 1s
}

// StoreConfig points at the directory holding per-instance SQLite
// databases, one file per instance as spec.md section 6 requires.
type StoreConfig struct {
	Dir string `json:"dir"` // e.g. ./data
}

// PluginConfig points at the plugin directory and its whitelist policy.
type PluginConfig struct {
	Dir             string `json:"dir"`               // ./plugins
	WhitelistStrict bool   `json:"whitelist_strict"`  // refuse to load on any unknown symbol
}

// DaemonConfig holds process-level settings.
type DaemonConfig struct {
	ConfigPath    string `json:"config_path"`    // path to the INI instance config
	PIDFile       string `json:"pid_file"`
	ControlSocket string `json:"control_socket"` // unix socket for reload/unload/access admin commands
}

// Config is the central ambient configuration struct.
type Config struct {
	Daemon        DaemonConfig         `json:"daemon"`
	Observability ObservabilityConfig  `json:"observability"`
	CommandChannel CommandChannelConfig `json:"command_channel"`
	Flood         FloodConfig          `json:"flood"`
	Store         StoreConfig          `json:"store"`
	Plugins       PluginConfig         `json:"plugins"`
}

// DefaultConfig returns a Config with sensible defaults, matching spec.md's
// stated defaults (4 lines/1s flood, 5s command timeout).
func DefaultConfig() *Config {
	return &Config{
		Daemon: DaemonConfig{
			ConfigPath:    "ircbot.ini",
			PIDFile:       "",
			ControlSocket: "./ircbotd.sock",
		},
		Observability: ObservabilityConfig{
			Tracing: TracingConfig{
				Enabled:     false,
				Exporter:    "otlp-http",
				Endpoint:    "localhost:4318",
				ServiceName: "ircbotd",
				SampleRate:  1.0,
			},
			Metrics: MetricsConfig{
				Enabled:   true,
				Namespace: "ircbot",
				Addr:      ":9100",
			},
			Logging: LoggingConfig{
				Level:  "info",
				Format: "text",
			},
		},
		CommandChannel: CommandChannelConfig{
			TimeoutSeconds: 5,
		},
		Flood: FloodConfig{
			Lines:            4,
			IntervalDuration: time.Second,
		},
		Store: StoreConfig{
			Dir: "./data",
		},
		Plugins: PluginConfig{
			Dir:             "./plugins",
			WhitelistStrict: true,
		},
	}
}

// LoadFromFile loads JSON ambient configuration, applying it on top of
// DefaultConfig() so that a partial file only overrides what it sets.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromEnv applies IRCBOT_* environment variable overrides.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("IRCBOT_CONFIG_PATH"); v != "" {
		cfg.Daemon.ConfigPath = v
	}
	if v := os.Getenv("IRCBOT_CONTROL_SOCKET"); v != "" {
		cfg.Daemon.ControlSocket = v
	}
	if v := os.Getenv("IRCBOT_LOG_LEVEL"); v != "" {
		cfg.Observability.Logging.Level = v
	}
	if v := os.Getenv("IRCBOT_LOG_FORMAT"); v != "" {
		cfg.Observability.Logging.Format = v
	}
	if v := os.Getenv("IRCBOT_TRACING_ENABLED"); v != "" {
		cfg.Observability.Tracing.Enabled = parseBool(v)
	}
	if v := os.Getenv("IRCBOT_TRACING_ENDPOINT"); v != "" {
		cfg.Observability.Tracing.Endpoint = v
	}
	if v := os.Getenv("IRCBOT_METRICS_ENABLED"); v != "" {
		cfg.Observability.Metrics.Enabled = parseBool(v)
	}
	if v := os.Getenv("IRCBOT_METRICS_ADDR"); v != "" {
		cfg.Observability.Metrics.Addr = v
	}
	if v := os.Getenv("IRCBOT_COMMAND_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.CommandChannel.TimeoutSeconds = n
		}
	}
	if v := os.Getenv("IRCBOT_FLOOD_LINES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Flood.Lines = n
		}
	}
	if v := os.Getenv("IRCBOT_FLOOD_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Flood.IntervalDuration = d
		}
	}
	if v := os.Getenv("IRCBOT_STORE_DIR"); v != "" {
		cfg.Store.Dir = v
	}
	if v := os.Getenv("IRCBOT_PLUGIN_DIR"); v != "" {
		cfg.Plugins.Dir = v
	}
	if v := os.Getenv("IRCBOT_PLUGIN_WHITELIST_STRICT"); v != "" {
		cfg.Plugins.WhitelistStrict = parseBool(v)
	}
}

func parseBool(s string) bool {
	s = strings.ToLower(s)
	return s == "true" || s == "1" || s == "yes"
}
