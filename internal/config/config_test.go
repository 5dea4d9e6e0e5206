package config

import (
	"os"
	"path/filepath"
	"testing"
)

type testOptions struct {
	Config     string `toml:"-"`
	Host       string `toml:"server.host" env:"HOST"`
	Port       int    `toml:"server.port" env:"PORT"`
	Debug      bool   `toml:"debug" env:"DEBUG"`
	DevicePath string `toml:"camera.device" env:"DEVICE_PATH"`
}

func writeTOML(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfigFromTOML(t *testing.T) {
	path := writeTOML(t, `
debug = true

[server]
host = "0.0.0.0"
port = 9000

[camera]
device = "/dev/video2"
`)

	opts := testOptions{Config: path, Host: "127.0.0.1", Port: 8080}
	if err := LoadConfig(&opts, nil); err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if opts.Host != "0.0.0.0" {
		t.Errorf("Host = %q, want 0.0.0.0", opts.Host)
	}
	if opts.Port != 9000 {
		t.Errorf("Port = %d, want 9000", opts.Port)
	}
	if !opts.Debug {
		t.Error("Debug not loaded")
	}
	if opts.DevicePath != "/dev/video2" {
		t.Errorf("DevicePath = %q", opts.DevicePath)
	}
}

func TestLoadConfigEnvOverridesTOML(t *testing.T) {
	path := writeTOML(t, `
[server]
port = 9000
`)
	t.Setenv("CAMNODE_PORT", "9100")

	opts := testOptions{Config: path}
	if err := LoadConfig(&opts, nil); err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if opts.Port != 9100 {
		t.Errorf("Port = %d, want env value 9100", opts.Port)
	}
}

func TestLoadConfigMissingFileKeepsDefaults(t *testing.T) {
	opts := testOptions{Config: "/nonexistent/config.toml", Port: 8080}
	if err := LoadConfig(&opts, nil); err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if opts.Port != 8080 {
		t.Errorf("Port = %d, want default 8080", opts.Port)
	}
}

func TestLoadConfigInvalidTOML(t *testing.T) {
	path := writeTOML(t, `not [valid toml`)
	opts := testOptions{Config: path}
	if err := LoadConfig(&opts, nil); err == nil {
		t.Error("expected parse error")
	}
}

func TestLoadLoggingConfig(t *testing.T) {
	path := writeTOML(t, `
[logging]
level = "debug"
format = "json"
webrtc = "warn"
camera = "debug"
`)

	cfg := LoadLoggingConfig(path)
	if cfg.Level != "debug" || cfg.Format != "json" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Modules["webrtc"] != "warn" || cfg.Modules["camera"] != "debug" {
		t.Errorf("modules = %+v", cfg.Modules)
	}
}

func TestFieldNameToFlag(t *testing.T) {
	tests := []struct{ in, want string }{
		{"Port", "port"},
		{"DevicePath", "device-path"},
		{"LoggingLevel", "logging-level"},
	}
	for _, tt := range tests {
		if got := fieldNameToFlag(tt.in); got != tt.want {
			t.Errorf("fieldNameToFlag(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
