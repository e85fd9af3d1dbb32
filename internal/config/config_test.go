package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	// We pass nil for cmd to skip flags
	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Server.BaseURL != DefaultServerBaseURL {
		t.Errorf("Expected default base url %s, got %s", DefaultServerBaseURL, cfg.Server.BaseURL)
	}
	if cfg.Server.LogLevel != DefaultServerLogLevel {
		t.Errorf("Expected default log level %s, got %s", DefaultServerLogLevel, cfg.Server.LogLevel)
	}
	if cfg.Stream.Transport != TransportSSE {
		t.Errorf("Expected default transport %s, got %s", TransportSSE, cfg.Stream.Transport)
	}
	if cfg.Stream.ReconnectDelay != DefaultStreamReconnectDelay {
		t.Errorf("Expected default reconnect delay %s, got %s", DefaultStreamReconnectDelay, cfg.Stream.ReconnectDelay)
	}
	if cfg.Stream.MaxFrameBytes != DefaultStreamMaxFrameBytes {
		t.Errorf("Expected default max frame bytes %d, got %d", DefaultStreamMaxFrameBytes, cfg.Stream.MaxFrameBytes)
	}
	if cfg.Decision.MinEventIDLength != DefaultDecisionMinEventIDLength {
		t.Errorf("Expected default min event id length %d, got %d", DefaultDecisionMinEventIDLength, cfg.Decision.MinEventIDLength)
	}
	if cfg.Decision.MinResolveIDLength != DefaultDecisionMinResolveIDLength {
		t.Errorf("Expected default min resolve id length %d, got %d", DefaultDecisionMinResolveIDLength, cfg.Decision.MinResolveIDLength)
	}
	if cfg.Mock.Port != DefaultMockPort {
		t.Errorf("Expected default mock port %d, got %d", DefaultMockPort, cfg.Mock.Port)
	}

	timeouts, err := cfg.Timeouts()
	if err != nil {
		t.Fatalf("Failed to parse timeouts: %v", err)
	}
	if timeouts.ReconnectDelay != 3*time.Second {
		t.Errorf("Expected reconnect delay 3s, got %s", timeouts.ReconnectDelay)
	}
	if timeouts.Request != 10*time.Second {
		t.Errorf("Expected request timeout 10s, got %s", timeouts.Request)
	}
}

func TestLoadWithConfigFlag(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	content := []byte(`
server:
  base_url: http://backend.internal:9000/
stream:
  transport: WebSocket
  reconnect_delay: 500ms
`)
	if err := os.WriteFile(configPath, content, 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cmd := &cobra.Command{}
	cmd.Flags().String("config", "", "config file path")
	if err := cmd.Flags().Set("config", configPath); err != nil {
		t.Fatalf("failed to set config flag: %v", err)
	}

	cfg, err := Load(cmd)
	if err != nil {
		t.Fatalf("failed to load config with --config: %v", err)
	}

	if cfg.Server.BaseURL != "http://backend.internal:9000" {
		t.Fatalf("expected trailing slash trimmed, got %s", cfg.Server.BaseURL)
	}
	if cfg.Stream.Transport != TransportWebSocket {
		t.Fatalf("expected websocket transport, got %s", cfg.Stream.Transport)
	}
	timeouts, err := cfg.Timeouts()
	if err != nil {
		t.Fatalf("failed to parse timeouts: %v", err)
	}
	if timeouts.ReconnectDelay != 500*time.Millisecond {
		t.Fatalf("expected reconnect delay 500ms, got %s", timeouts.ReconnectDelay)
	}
}

func TestLoadWithMissingConfigFlagReturnsError(t *testing.T) {
	cmd := &cobra.Command{}
	cmd.Flags().String("config", "", "config file path")
	if err := cmd.Flags().Set("config", filepath.Join(t.TempDir(), "missing.yaml")); err != nil {
		t.Fatalf("failed to set config flag: %v", err)
	}

	if _, err := Load(cmd); err == nil {
		t.Fatal("expected error when --config points to missing file")
	}
}

func TestLoadRejectsUnknownTransport(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("INFRAPILOT_STREAM_TRANSPORT", "carrier-pigeon")

	if _, err := Load(nil); err == nil {
		t.Fatal("expected error for unknown stream transport")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("INFRAPILOT_SERVER_BASE_URL", "http://env-backend:8081")
	t.Setenv("INFRAPILOT_STREAM_RECONNECT_DELAY", "1s")

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if cfg.Server.BaseURL != "http://env-backend:8081" {
		t.Fatalf("expected env base url, got %s", cfg.Server.BaseURL)
	}
	if cfg.Stream.ReconnectDelay != "1s" {
		t.Fatalf("expected env reconnect delay, got %s", cfg.Stream.ReconnectDelay)
	}
}

func TestLoadFlagOverrides(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cmd := &cobra.Command{}
	cmd.Flags().String("server.base_url", DefaultServerBaseURL, "")
	if err := cmd.Flags().Set("server.base_url", "http://flag-backend:7000"); err != nil {
		t.Fatalf("failed to set flag: %v", err)
	}

	cfg, err := Load(cmd)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if cfg.Server.BaseURL != "http://flag-backend:7000" {
		t.Fatalf("expected flag base url, got %s", cfg.Server.BaseURL)
	}
}

func TestLoad_ExpandsExportDir(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)

	configPath := filepath.Join(tmpDir, "config.yaml")
	content := []byte(`
transcript:
  export_dir: ~/.infrapilot/out
`)
	if err := os.WriteFile(configPath, content, 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cmd := &cobra.Command{}
	cmd.Flags().String("config", "", "config file path")
	if err := cmd.Flags().Set("config", configPath); err != nil {
		t.Fatalf("failed to set config flag: %v", err)
	}

	cfg, err := Load(cmd)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	want := filepath.Join(tmpDir, ".infrapilot", "out")
	if cfg.Transcript.ExportDir != want {
		t.Fatalf("export dir mismatch: got %q want %q", cfg.Transcript.ExportDir, want)
	}
}

func TestDurationOrDefault(t *testing.T) {
	d, err := DurationOrDefault("", "2s")
	if err != nil || d != 2*time.Second {
		t.Fatalf("expected fallback 2s, got %s (%v)", d, err)
	}
	if _, err := DurationOrDefault("nope", "2s"); err == nil {
		t.Fatal("expected parse error")
	}
	if _, err := DurationOrDefault("-1s", ""); err == nil {
		t.Fatal("expected negative duration error")
	}
}
