package config

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultICEConfig(t *testing.T) {
	store := NewICEStore("", slog.Default())
	cfg := store.Current()

	if len(cfg.Servers) != 1 {
		t.Fatalf("servers = %d, want 1", len(cfg.Servers))
	}
	if cfg.Servers[0].URLs[0] != "stun:stun.l.google.com:19302" {
		t.Errorf("default server = %q", cfg.Servers[0].URLs[0])
	}
	if cfg.RelayOnly {
		t.Error("relay_only should default to false")
	}
}

func TestICEStoreLoadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ice.json")
	content := ICEConfig{
		Servers: []ICEServer{
			{URLs: []string{"turn:turn.example.com:3478"}, Username: "u", Credential: "c"},
		},
		RelayOnly: true,
	}
	data, _ := json.Marshal(content)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	store := NewICEStore(path, slog.Default())
	cfg := store.Current()
	if len(cfg.Servers) != 1 || cfg.Servers[0].URLs[0] != "turn:turn.example.com:3478" {
		t.Errorf("cfg = %+v", cfg)
	}
	if !cfg.RelayOnly {
		t.Error("relay_only not loaded")
	}
}

func TestICEStoreEnvOverrides(t *testing.T) {
	t.Setenv("CAMNODE_USE_TURN", "true")
	t.Setenv("CAMNODE_TURN_URLS", "turn:a.example.com:3478, turns:b.example.com:5349")
	t.Setenv("CAMNODE_TURN_USERNAME", "user")
	t.Setenv("CAMNODE_TURN_CREDENTIAL", "pass")
	t.Setenv("CAMNODE_ICE_RELAY_ONLY", "1")

	store := NewICEStore("", slog.Default())
	cfg := store.Current()

	if len(cfg.Servers) != 2 {
		t.Fatalf("servers = %d, want default stun + env turn", len(cfg.Servers))
	}
	turn := cfg.Servers[1]
	if len(turn.URLs) != 2 || turn.Username != "user" || turn.Credential != "pass" {
		t.Errorf("turn entry = %+v", turn)
	}
	if !cfg.RelayOnly {
		t.Error("relay_only not applied from env")
	}
}

func TestICEStoreUpdateValidates(t *testing.T) {
	store := NewICEStore("", slog.Default())

	tests := []struct {
		name    string
		cfg     ICEConfig
		wantErr bool
	}{
		{
			name:    "empty servers",
			cfg:     ICEConfig{},
			wantErr: true,
		},
		{
			name:    "entry without urls",
			cfg:     ICEConfig{Servers: []ICEServer{{}}},
			wantErr: true,
		},
		{
			name:    "bad scheme",
			cfg:     ICEConfig{Servers: []ICEServer{{URLs: []string{"http://x"}}}},
			wantErr: true,
		},
		{
			name:    "valid stun",
			cfg:     ICEConfig{Servers: []ICEServer{{URLs: []string{"stun:x:3478"}}}},
			wantErr: false,
		},
		{
			name: "valid turns",
			cfg: ICEConfig{Servers: []ICEServer{
				{URLs: []string{"turns:x:5349"}, Username: "u", Credential: "c"},
			}},
			wantErr: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := store.Update(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("Update() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestICEStoreUpdatePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ice.json")
	store := NewICEStore(path, slog.Default())

	want := ICEConfig{Servers: []ICEServer{{URLs: []string{"stun:s.example.com:3478"}}}}
	if err := store.Update(want); err != nil {
		t.Fatalf("Update: %v", err)
	}

	loaded, err := LoadICEFile(path)
	if err != nil {
		t.Fatalf("LoadICEFile: %v", err)
	}
	if loaded.Servers[0].URLs[0] != want.Servers[0].URLs[0] {
		t.Errorf("persisted = %+v, want %+v", loaded, want)
	}
}
