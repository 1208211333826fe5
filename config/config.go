package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/mcphostlib/mcphost/host"
	"github.com/mcphostlib/mcphost/protocol"
)

// Defaults for every daemon setting not otherwise supplied by file or environment.
const (
	DefaultMCPPath         = "/mcp"
	DefaultPort            = 3000
	DefaultSessionTTL      = time.Hour
	DefaultSamplingTimeout = 300 * time.Second
	envPrefix              = "MCPHOST"
	configPathEnvVar       = "MCPHOST_CONFIG"
)

// Config is the fully resolved configuration for one mcphostd process: the daemon-level
// HTTP/auth settings plus the embedded Host Engine configuration.
type Config struct {
	MCPPath         string
	Port            int
	SessionTTL      time.Duration
	SamplingTimeout time.Duration
	APIKeys         []string
	AuthRequired    bool

	Host host.HostConfig
}

// fileShape is the JSON document accepted at the configured file path. Its top-level
// fields follow host.HostConfig; each server entry is decoded as a serverShape and
// translated into a host.ServerConfig by toHostConfig.
type fileShape struct {
	HostInfo         protocol.Info        `json:"hostInfo"`
	HostCapabilities host.HostCapabilities `json:"hostCapabilities"`
	Servers          []serverShape        `json:"servers"`
}

type serverShape struct {
	ID        string             `json:"id"`
	Name      string             `json:"name"`
	Transport host.TransportKind `json:"transport"`
	Command   string             `json:"command"`
	Args      []string           `json:"args"`
	Env       map[string]string  `json:"env"`
	Dir       string             `json:"dir"`
	URL       string             `json:"url"`
	Headers   map[string]string  `json:"headers"`
}

// Load resolves a Config from, in increasing priority: built-in defaults, the JSON file at
// configPath (or MCPHOST_CONFIG if configPath is empty), and MCPHOST_-prefixed environment
// variables. A missing or malformed file falls back to defaults with a logged warning
// rather than failing the process.
func Load(configPath string, logger *slog.Logger) (*Config, error) {
	if logger == nil {
		logger = slog.Default()
	}

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	v.SetDefault("mcp_path", DefaultMCPPath)
	v.SetDefault("port", DefaultPort)
	v.SetDefault("session_ttl_ms", DefaultSessionTTL.Milliseconds())
	v.SetDefault("sampling_timeout_ms", DefaultSamplingTimeout.Milliseconds())
	v.SetDefault("api_keys", "")
	v.BindEnv("mcp_path", "MCPHOST_MCP_PATH")
	v.BindEnv("port", "MCPHOST_PORT")
	v.BindEnv("session_ttl_ms", "MCPHOST_SESSION_TTL_MS")
	v.BindEnv("sampling_timeout_ms", "MCPHOST_SAMPLING_TIMEOUT_MS")
	v.BindEnv("api_keys", "MCPHOST_API_KEYS")
	v.BindEnv("auth_required", "MCPHOST_AUTH_REQUIRED")

	cfg := &Config{
		MCPPath:         v.GetString("mcp_path"),
		Port:            v.GetInt("port"),
		SessionTTL:      time.Duration(v.GetInt64("session_ttl_ms")) * time.Millisecond,
		SamplingTimeout: time.Duration(v.GetInt64("sampling_timeout_ms")) * time.Millisecond,
	}
	if raw := v.GetString("api_keys"); raw != "" {
		for _, key := range strings.Split(raw, ",") {
			if key = strings.TrimSpace(key); key != "" {
				cfg.APIKeys = append(cfg.APIKeys, key)
			}
		}
	}
	if v.IsSet("auth_required") {
		cfg.AuthRequired = v.GetBool("auth_required")
	} else {
		cfg.AuthRequired = len(cfg.APIKeys) > 0
	}

	if configPath == "" {
		configPath = os.Getenv(configPathEnvVar)
	}
	if configPath != "" {
		shape, err := loadFile(configPath)
		if err != nil {
			logger.Warn("failed to load host config file, falling back to defaults", slog.String("path", configPath), slog.Any("err", err))
		} else {
			cfg.Host = toHostConfig(*shape)
		}
	}

	return cfg, nil
}

func loadFile(path string) (*fileShape, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	var shape fileShape
	if err := json.Unmarshal(data, &shape); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	return &shape, nil
}

func toHostConfig(shape fileShape) host.HostConfig {
	servers := make([]host.ServerConfig, 0, len(shape.Servers))
	for _, s := range shape.Servers {
		servers = append(servers, host.ServerConfig{
			ID:        s.ID,
			Name:      s.Name,
			Transport: s.Transport,
			Command:   s.Command,
			Args:      s.Args,
			Env:       s.Env,
			Dir:       s.Dir,
			URL:       s.URL,
			Headers:   s.Headers,
		})
	}
	return host.HostConfig{
		HostInfo:         shape.HostInfo,
		HostCapabilities: shape.HostCapabilities,
		Servers:          servers,
	}
}
