package config

import (
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap/zaptest"
)

// Loading a non-existent file falls back to defaults.
func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("non-existent-config.toml", zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Server.WebPort != 8080 {
		t.Errorf("expected web port 8080, got %d", cfg.Server.WebPort)
	}
	if cfg.Server.BindIP != "0.0.0.0" {
		t.Errorf("expected bind IP 0.0.0.0, got %s", cfg.Server.BindIP)
	}
	if cfg.Preview.MinIntervalMs != 20 {
		t.Errorf("expected preview interval 20ms, got %d", cfg.Preview.MinIntervalMs)
	}
	if cfg.Grading.PresetDir != "luts" {
		t.Errorf("expected preset dir luts, got %s", cfg.Grading.PresetDir)
	}
	if cfg.Record.OutputDir != "recordings" {
		t.Errorf("expected output dir recordings, got %s", cfg.Record.OutputDir)
	}
	if cfg.Monitor.Enabled {
		t.Error("monitor must default to disabled")
	}
	if cfg.Monitor.Port != 5557 {
		t.Errorf("expected monitor port 5557, got %d", cfg.Monitor.Port)
	}
	if len(cfg.Capture.Devices) != 1 {
		t.Fatalf("expected 1 default device, got %d", len(cfg.Capture.Devices))
	}

	device := cfg.Capture.Devices[0]
	if device.Position != "back" || device.Lens != "wide_angle" {
		t.Errorf("expected back/wide_angle default device, got %s/%s", device.Position, device.Lens)
	}
	if device.SampleRate != 48000 || device.Channels != 1 {
		t.Errorf("expected 48000/1 audio, got %d/%d", device.SampleRate, device.Channels)
	}
	if len(device.Formats) != 3 {
		t.Errorf("expected 3 default formats, got %d", len(device.Formats))
	}
}

// Values in a config file override defaults; unset sections keep them.
func TestLoadConfigOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[server]
web_port = 9090

[preview]
min_interval_ms = 33
jpeg_quality = 70

[monitor]
enabled = true
max_clients = 2
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	cfg, err := LoadConfig(path, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Server.WebPort != 9090 {
		t.Errorf("expected web port 9090, got %d", cfg.Server.WebPort)
	}
	if cfg.Preview.MinIntervalMs != 33 || cfg.Preview.JPEGQuality != 70 {
		t.Errorf("expected preview 33/70, got %d/%d", cfg.Preview.MinIntervalMs, cfg.Preview.JPEGQuality)
	}
	if !cfg.Monitor.Enabled || cfg.Monitor.MaxClients != 2 {
		t.Errorf("expected monitor enabled with 2 clients, got %v/%d", cfg.Monitor.Enabled, cfg.Monitor.MaxClients)
	}
	if cfg.Record.OutputDir != "recordings" {
		t.Errorf("unset section must keep defaults, got %s", cfg.Record.OutputDir)
	}
	if cfg.Timeouts.MuxerFinishTimeout != 10 {
		t.Errorf("expected muxer timeout 10s, got %d", cfg.Timeouts.MuxerFinishTimeout)
	}
}

// A malformed config file surfaces as an error.
func TestLoadConfigMalformed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte("not [valid toml"), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	if _, err := LoadConfig(path, zaptest.NewLogger(t)); err == nil {
		t.Error("expected an error for malformed config")
	}
}

// SaveConfig round-trips through LoadConfig.
func TestSaveConfigRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	cfg, err := LoadConfig("non-existent-config.toml", zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	cfg.Server.WebPort = 7000

	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}

	loaded, err := LoadConfig(path, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if loaded.Server.WebPort != 7000 {
		t.Errorf("expected saved port 7000, got %d", loaded.Server.WebPort)
	}
}
