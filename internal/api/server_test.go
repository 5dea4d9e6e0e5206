package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/visionbox/camnode/internal/api/models"
	"github.com/visionbox/camnode/internal/camera"
	"github.com/visionbox/camnode/internal/config"
	"github.com/visionbox/camnode/internal/session"
	"github.com/visionbox/camnode/internal/webrtc"
)

type stubBackend struct{}

func (stubBackend) Start() error { return nil }
func (stubBackend) Stop()        {}
func (stubBackend) ReadFrame(timeout time.Duration) (*camera.Frame, error) {
	return nil, camera.ErrFrameTimeout
}

type stubProber struct{ err error }

func (p stubProber) Available() error             { return p.err }
func (p stubProber) Conflicts() []camera.ProcHint { return nil }
func (p stubProber) Reset()                       {}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	logger := slog.Default()

	manager := camera.NewManager(stubBackend{}, stubProber{}, camera.DefaultManagerConfig(), logger)
	svc := camera.NewService(manager, camera.DefaultServiceConfig(), logger)

	arbiter := session.NewArbiter(time.Hour, logger)
	ice := config.NewICEStore("", logger)
	sessions := webrtc.NewManager(arbiter, ice, svc, nil, 30, logger)

	return NewServer(&Options{
		Sessions: sessions,
		Camera:   svc,
		ICE:      ice,
		CameraConfig: models.CameraConfigData{
			DevicePath: "/dev/video0",
			Width:      1280,
			Height:     720,
			FPS:        30,
		},
	})
}

func doJSON(t *testing.T, s *Server, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.GetMux().ServeHTTP(rec, req)

	var decoded map[string]any
	if rec.Body.Len() > 0 {
		_ = json.Unmarshal(rec.Body.Bytes(), &decoded)
	}
	return rec, decoded
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)
	rec, body := doJSON(t, s, http.MethodGet, "/api/health", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if body["status"] != "ok" {
		t.Errorf("body = %v", body)
	}
}

func TestVersionEndpoint(t *testing.T) {
	s := newTestServer(t)
	rec, body := doJSON(t, s, http.MethodGet, "/api/version", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if body["version"] == "" {
		t.Errorf("missing version: %v", body)
	}
}

func TestCameraStatusEndpoint(t *testing.T) {
	s := newTestServer(t)
	rec, body := doJSON(t, s, http.MethodGet, "/api/camera/status", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if body["state"] != "disconnected" {
		t.Errorf("state = %v, want disconnected before start", body["state"])
	}
	if body["available"] != true {
		t.Errorf("available = %v, want true with healthy prober", body["available"])
	}
}

func TestCameraConfigEndpoint(t *testing.T) {
	s := newTestServer(t)
	rec, body := doJSON(t, s, http.MethodGet, "/api/camera/config", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if body["device_path"] != "/dev/video0" {
		t.Errorf("device_path = %v", body["device_path"])
	}
	if body["width"] != float64(1280) {
		t.Errorf("width = %v", body["width"])
	}
}

func TestConnectionsEmpty(t *testing.T) {
	s := newTestServer(t)
	rec, body := doJSON(t, s, http.MethodGet, "/api/connections", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if body["count"] != float64(0) {
		t.Errorf("count = %v, want 0", body["count"])
	}
}

func TestCleanupNothingToEvict(t *testing.T) {
	s := newTestServer(t)
	rec, body := doJSON(t, s, http.MethodPost, "/api/cleanup", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if body["released"] != false {
		t.Errorf("released = %v, want false with no session", body["released"])
	}
}

func TestForceReleaseEmptySlot(t *testing.T) {
	s := newTestServer(t)
	rec, body := doJSON(t, s, http.MethodPost, "/api/force-release", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if body["released"] != false {
		t.Errorf("released = %v, want false", body["released"])
	}
}

func TestOfferRequiresSDP(t *testing.T) {
	s := newTestServer(t)
	rec, _ := doJSON(t, s, http.MethodPost, "/api/offer", `{"sdp": ""}`)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestICECandidateUnknownSession(t *testing.T) {
	s := newTestServer(t)
	rec, _ := doJSON(t, s, http.MethodPost, "/api/ice",
		`{"client_id": "nope", "candidate": "candidate:1 1 udp 1 127.0.0.1 50000 typ host"}`)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestCloseUnknownConnection(t *testing.T) {
	s := newTestServer(t)
	rec, _ := doJSON(t, s, http.MethodDelete, "/api/connections/nope", "")

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestGetICEConfig(t *testing.T) {
	s := newTestServer(t)
	rec, body := doJSON(t, s, http.MethodGet, "/api/ice_config", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	servers, ok := body["ice_servers"].([]any)
	if !ok || len(servers) != 1 {
		t.Errorf("ice_servers = %v, want the default STUN entry", body["ice_servers"])
	}
}

func TestUpdateICEConfigRejectsInvalid(t *testing.T) {
	s := newTestServer(t)
	rec, _ := doJSON(t, s, http.MethodPost, "/api/ice_config",
		`{"ice_servers": [{"urls": ["http://not-ice"]}], "relay_only": false}`)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestUpdateICEConfigAccepted(t *testing.T) {
	s := newTestServer(t)
	rec, body := doJSON(t, s, http.MethodPost, "/api/ice_config",
		`{"ice_servers": [{"urls": ["turn:turn.example.com:3478"], "username": "u", "credential": "c"}], "relay_only": true}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if body["relay_only"] != true {
		t.Errorf("relay_only = %v, want true", body["relay_only"])
	}
}

func TestBasicAuthEnforced(t *testing.T) {
	logger := slog.Default()
	manager := camera.NewManager(stubBackend{}, stubProber{}, camera.DefaultManagerConfig(), logger)
	svc := camera.NewService(manager, camera.DefaultServiceConfig(), logger)
	arbiter := session.NewArbiter(time.Hour, logger)
	ice := config.NewICEStore("", logger)

	s := NewServer(&Options{
		AuthUsername: "admin",
		AuthPassword: "secret",
		Sessions:     webrtc.NewManager(arbiter, ice, svc, nil, 30, logger),
		Camera:       svc,
		ICE:          ice,
	})

	// Protected endpoint without credentials
	rec, _ := doJSON(t, s, http.MethodGet, "/api/connections", "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401 without credentials", rec.Code)
	}

	// Health stays open
	rec, _ = doJSON(t, s, http.MethodGet, "/api/health", "")
	if rec.Code != http.StatusOK {
		t.Errorf("health status = %d, want 200 without credentials", rec.Code)
	}

	// Correct credentials pass
	req := httptest.NewRequest(http.MethodGet, "/api/connections", nil)
	req.SetBasicAuth("admin", "secret")
	out := httptest.NewRecorder()
	s.GetMux().ServeHTTP(out, req)
	if out.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 with credentials", out.Code)
	}
}
