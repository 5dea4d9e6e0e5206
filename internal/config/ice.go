package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// ICEServer describes one STUN or TURN server entry.
type ICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

// ICEConfig is the full ICE setup handed to new peer connections.
type ICEConfig struct {
	Servers   []ICEServer `json:"ice_servers"`
	RelayOnly bool        `json:"relay_only"`
}

// DefaultICEConfig returns the public-STUN-only configuration used when
// nothing else is configured.
func DefaultICEConfig() ICEConfig {
	return ICEConfig{
		Servers: []ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
		},
	}
}

// ICEStore holds the active ICE configuration. Precedence on load:
// environment > JSON file > defaults. Runtime updates go through Update,
// which validates and persists when a file path is configured.
type ICEStore struct {
	logger *slog.Logger

	mu   sync.RWMutex
	path string
	cfg  ICEConfig
}

// NewICEStore builds a store from the given file path (may be empty) plus
// environment overrides.
func NewICEStore(path string, logger *slog.Logger) *ICEStore {
	s := &ICEStore{path: path, logger: logger, cfg: DefaultICEConfig()}

	if path != "" {
		if cfg, err := LoadICEFile(path); err == nil {
			s.cfg = cfg
			logger.Info("ICE configuration loaded", "path", path, "servers", len(cfg.Servers))
		} else if !os.IsNotExist(err) {
			logger.Warn("ICE configuration file unreadable, using defaults", "path", path, "error", err)
		}
	}

	s.applyEnv()
	return s
}

// LoadICEFile reads and validates an ICE configuration JSON file.
func LoadICEFile(path string) (ICEConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ICEConfig{}, err
	}
	var cfg ICEConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return ICEConfig{}, fmt.Errorf("parse ICE config: %w", err)
	}
	if err := validateICE(cfg); err != nil {
		return ICEConfig{}, err
	}
	return cfg, nil
}

// applyEnv layers environment overrides on top of the loaded config.
func (s *ICEStore) applyEnv() {
	if urls := os.Getenv("CAMNODE_TURN_URLS"); urls != "" && envBool("CAMNODE_USE_TURN") {
		server := ICEServer{
			Username:   os.Getenv("CAMNODE_TURN_USERNAME"),
			Credential: os.Getenv("CAMNODE_TURN_CREDENTIAL"),
		}
		for _, u := range strings.Split(urls, ",") {
			if u = strings.TrimSpace(u); u != "" {
				server.URLs = append(server.URLs, u)
			}
		}
		if len(server.URLs) > 0 {
			s.cfg.Servers = append(s.cfg.Servers, server)
			s.logger.Info("TURN servers added from environment", "urls", server.URLs)
		}
	}
	if envBool("CAMNODE_ICE_RELAY_ONLY") {
		s.cfg.RelayOnly = true
	}
}

func envBool(key string) bool {
	v := strings.ToLower(os.Getenv(key))
	return v == "1" || v == "true" || v == "yes"
}

// Current returns a copy of the active configuration.
func (s *ICEStore) Current() ICEConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := s.cfg
	out.Servers = make([]ICEServer, len(s.cfg.Servers))
	copy(out.Servers, s.cfg.Servers)
	return out
}

// Update replaces the active configuration after validation and persists it
// when a file path is configured. Existing sessions keep their old servers;
// only new peer connections see the update.
func (s *ICEStore) Update(cfg ICEConfig) error {
	if err := validateICE(cfg); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg

	if s.path != "" {
		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return fmt.Errorf("encode ICE config: %w", err)
		}
		if err := os.WriteFile(s.path, data, 0o644); err != nil {
			return fmt.Errorf("persist ICE config: %w", err)
		}
	}
	s.logger.Info("ICE configuration updated", "servers", len(cfg.Servers), "relay_only", cfg.RelayOnly)
	return nil
}

// Replace swaps the active configuration without persisting. Used by the
// file watcher, where the file is already the source.
func (s *ICEStore) Replace(cfg ICEConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
}

// Path returns the backing file path, or "" when the store is memory-only.
func (s *ICEStore) Path() string { return s.path }

func validateICE(cfg ICEConfig) error {
	if len(cfg.Servers) == 0 {
		return fmt.Errorf("at least one ICE server is required")
	}
	for _, srv := range cfg.Servers {
		if len(srv.URLs) == 0 {
			return fmt.Errorf("ICE server entry has no URLs")
		}
		for _, u := range srv.URLs {
			if !strings.HasPrefix(u, "stun:") && !strings.HasPrefix(u, "stuns:") &&
				!strings.HasPrefix(u, "turn:") && !strings.HasPrefix(u, "turns:") {
				return fmt.Errorf("unsupported ICE URL scheme: %q", u)
			}
		}
	}
	return nil
}
