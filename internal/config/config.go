package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/cobra"
)

type Config struct {
	Server     ServerConfig     `koanf:"server" yaml:"server"`
	Stream     StreamConfig     `koanf:"stream" yaml:"stream"`
	Decision   DecisionConfig   `koanf:"decision" yaml:"decision"`
	Transcript TranscriptConfig `koanf:"transcript" yaml:"transcript"`
	Mock       MockConfig       `koanf:"mock" yaml:"mock"`
}

type ServerConfig struct {
	BaseURL        string `koanf:"base_url" yaml:"base_url"`
	LogLevel       string `koanf:"log_level" yaml:"log_level"`
	RequestTimeout string `koanf:"request_timeout" yaml:"request_timeout"`
}

type StreamConfig struct {
	// Transport is "sse" or "websocket".
	Transport      string `koanf:"transport" yaml:"transport"`
	ReconnectDelay string `koanf:"reconnect_delay" yaml:"reconnect_delay"`
	MaxFrameBytes  int    `koanf:"max_frame_bytes" yaml:"max_frame_bytes"`
}

type DecisionConfig struct {
	MinEventIDLength   int `koanf:"min_event_id_length" yaml:"min_event_id_length"`
	MinResolveIDLength int `koanf:"min_resolve_id_length" yaml:"min_resolve_id_length"`
}

type TranscriptConfig struct {
	ExportDir string `koanf:"export_dir" yaml:"export_dir"`
}

type MockConfig struct {
	Port int `koanf:"port" yaml:"port"`
}

const (
	TransportSSE       = "sse"
	TransportWebSocket = "websocket"
)

const (
	DefaultServerBaseURL              = "http://localhost:8080"
	DefaultServerLogLevel             = "info"
	DefaultServerRequestTimeout       = "10s"
	DefaultStreamTransport            = TransportSSE
	DefaultStreamReconnectDelay       = "3s"
	DefaultStreamMaxFrameBytes        = 1024 * 1024
	DefaultDecisionMinEventIDLength   = 10
	DefaultDecisionMinResolveIDLength = 30
	DefaultMockPort                   = 8080
)

func Load(cmd *cobra.Command) (*Config, error) {
	k := koanf.New(".")

	// Hardcoded Defaults
	defaults := map[string]interface{}{
		"server.base_url":                DefaultServerBaseURL,
		"server.log_level":               DefaultServerLogLevel,
		"server.request_timeout":         DefaultServerRequestTimeout,
		"stream.transport":               DefaultStreamTransport,
		"stream.reconnect_delay":         DefaultStreamReconnectDelay,
		"stream.max_frame_bytes":         DefaultStreamMaxFrameBytes,
		"decision.min_event_id_length":   DefaultDecisionMinEventIDLength,
		"decision.min_resolve_id_length": DefaultDecisionMinResolveIDLength,
		"transcript.export_dir":          filepath.Join(os.Getenv("HOME"), ".infrapilot", "exports"),
		"mock.port":                      DefaultMockPort,
	}
	for key, value := range defaults {
		k.Set(key, value)
	}

	configPath := ""
	if cmd != nil {
		if flag := cmd.Flags().Lookup("config"); flag != nil {
			configPath = strings.TrimSpace(flag.Value.String())
		}
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, err
		}
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			globalPath := filepath.Join(home, ".infrapilot", "config.yaml")
			if err := k.Load(file.Provider(globalPath), yaml.Parser()); err != nil {
				slog.Debug("Global config not found or invalid", "path", globalPath, "error", err)
			}
		}
	}

	// INFRAPILOT_STREAM_RECONNECT_DELAY -> stream.reconnect_delay
	k.Load(env.Provider("INFRAPILOT_", ".", func(s string) string {
		key := strings.ToLower(strings.TrimPrefix(s, "INFRAPILOT_"))
		section, rest, found := strings.Cut(key, "_")
		if !found {
			return key
		}
		return section + "." + rest
	}), nil)

	if cmd != nil {
		k.Load(posflag.Provider(cmd.Flags(), ".", k), nil)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	exportDir, err := expandPath(cfg.Transcript.ExportDir)
	if err != nil {
		return nil, err
	}
	cfg.Transcript.ExportDir = exportDir

	return &cfg, nil
}

func (c *Config) validate() error {
	c.Server.BaseURL = strings.TrimRight(strings.TrimSpace(c.Server.BaseURL), "/")
	if c.Server.BaseURL == "" {
		return fmt.Errorf("server.base_url is required")
	}

	c.Stream.Transport = strings.ToLower(strings.TrimSpace(c.Stream.Transport))
	switch c.Stream.Transport {
	case TransportSSE, TransportWebSocket:
	case "":
		c.Stream.Transport = DefaultStreamTransport
	default:
		return fmt.Errorf("stream.transport must be %q or %q, got %q", TransportSSE, TransportWebSocket, c.Stream.Transport)
	}

	if c.Stream.MaxFrameBytes <= 0 {
		c.Stream.MaxFrameBytes = DefaultStreamMaxFrameBytes
	}
	if c.Decision.MinEventIDLength <= 0 {
		c.Decision.MinEventIDLength = DefaultDecisionMinEventIDLength
	}
	if c.Decision.MinResolveIDLength <= 0 {
		c.Decision.MinResolveIDLength = DefaultDecisionMinResolveIDLength
	}
	return nil
}

// expandPath resolves environment variables and a leading "~/".
func expandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", nil
	}

	expanded := os.ExpandEnv(trimmed)
	if expanded == "~" || strings.HasPrefix(expanded, "~/") {
		home, err := os.UserHomeDir()
		if err != nil || strings.TrimSpace(home) == "" {
			return "", fmt.Errorf("resolve home dir for %q: %w", path, err)
		}
		expanded = filepath.Join(home, strings.TrimPrefix(strings.TrimPrefix(expanded, "~"), "/"))
	}

	return filepath.Clean(expanded), nil
}
