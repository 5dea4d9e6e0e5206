// Package models contains the API request and response types.
package models

// HealthData contains API health status information.
type HealthData struct {
	Status  string `json:"status" example:"ok" doc:"Health status"`
	Message string `json:"message" example:"API is healthy" doc:"Status message"`
}

// HealthResponse wraps health data for Huma.
type HealthResponse struct {
	Body HealthData
}

// VersionData contains version and build information.
type VersionData struct {
	Version   string `json:"version" example:"1.0.0" doc:"Application version"`
	GitCommit string `json:"git_commit" example:"abc123" doc:"Git commit hash"`
	BuildDate string `json:"build_date" example:"2025-01-27" doc:"Build timestamp"`
	GoVersion string `json:"go_version" example:"go1.24" doc:"Go toolchain version"`
	Platform  string `json:"platform" example:"linux/arm64" doc:"Build platform"`
}

// VersionResponse wraps version data for Huma.
type VersionResponse struct {
	Body VersionData
}

// OfferRequest is an SDP offer from a browser.
type OfferRequest struct {
	Body struct {
		SDP string `json:"sdp" doc:"SDP offer from the client"`
	}
}

// OfferData is the SDP answer returned to the client.
type OfferData struct {
	ClientID string `json:"client_id" example:"6f1c2d3e-..." doc:"Assigned client identifier"`
	Type     string `json:"type" example:"answer" doc:"SDP type"`
	SDP      string `json:"sdp" doc:"Complete SDP answer with gathered candidates"`
}

// OfferResponse wraps the answer for Huma.
type OfferResponse struct {
	Body OfferData
}

// CandidateRequest is a trickled ICE candidate from the client.
type CandidateRequest struct {
	Body struct {
		ClientID      string  `json:"client_id" doc:"Client identifier from the offer exchange"`
		Candidate     string  `json:"candidate" doc:"ICE candidate string"`
		SDPMid        *string `json:"sdpMid,omitempty" doc:"Media stream identification"`
		SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty" doc:"Media line index"`
	}
}

// MessageData is a generic status payload.
type MessageData struct {
	Status  string `json:"status" example:"ok" doc:"Operation status"`
	Message string `json:"message,omitempty" doc:"Human-readable detail"`
}

// MessageResponse wraps a status message for Huma.
type MessageResponse struct {
	Body MessageData
}

// ConnectionInfo describes one active streaming session.
type ConnectionInfo struct {
	ClientID  string            `json:"client_id" doc:"Client identifier"`
	State     string            `json:"state" example:"connected" doc:"Peer connection state"`
	Substates map[string]string `json:"substates,omitempty" doc:"Transport state machines keyed by kind: connection, ice_connection, ice_gathering"`
	CreatedAt string            `json:"created_at" example:"2025-01-27T10:30:00Z" doc:"Binding timestamp"`
}

// ConnectionsData lists active sessions.
type ConnectionsData struct {
	Connections []ConnectionInfo `json:"connections" doc:"Active sessions"`
	Count       int              `json:"count" example:"1" doc:"Number of active sessions"`
}

// ConnectionsResponse wraps the session list for Huma.
type ConnectionsResponse struct {
	Body ConnectionsData
}

// EvictionData reports the outcome of a slot-clearing operation.
type EvictionData struct {
	Evicted  string `json:"evicted,omitempty" doc:"Client ID that lost the slot, if any"`
	Released bool   `json:"released" doc:"Whether a session was actually evicted"`
}

// EvictionResponse wraps eviction data for Huma.
type EvictionResponse struct {
	Body EvictionData
}

// CameraStatusData is a snapshot of the camera connection state machine.
type CameraStatusData struct {
	State       string `json:"state" example:"connected" doc:"Connection state: disconnected, connecting, connected, failed"`
	Running     bool   `json:"running" doc:"Whether the device handle is open"`
	RetryCount  int    `json:"retry_count" doc:"Consecutive failed reconnect attempts"`
	LastAttempt string `json:"last_attempt,omitempty" doc:"Timestamp of the last reconnect attempt"`
	LastFrame   string `json:"last_successful_frame,omitempty" doc:"Timestamp of the last delivered frame"`
	Available   bool   `json:"available" doc:"Whether the device currently probes as openable"`
}

// CameraStatusResponse wraps camera status for Huma.
type CameraStatusResponse struct {
	Body CameraStatusData
}

// CameraConfigData is the active capture configuration.
type CameraConfigData struct {
	DevicePath string `json:"device_path" example:"/dev/video0" doc:"Video device path"`
	Serial     string `json:"serial,omitempty" doc:"Device serial used for path resolution"`
	Width      int    `json:"width" example:"1280" doc:"Capture width"`
	Height     int    `json:"height" example:"720" doc:"Capture height"`
	FPS        int    `json:"fps" example:"30" doc:"Capture framerate"`
	Rotation   int    `json:"rotation" example:"0" doc:"Rotation in degrees: 0, 90, 180, 270"`
}

// CameraConfigResponse wraps camera config for Huma.
type CameraConfigResponse struct {
	Body CameraConfigData
}

// ICEServerData describes one STUN/TURN server.
type ICEServerData struct {
	URLs       []string `json:"urls" doc:"Server URLs (stun:, turn:, turns: schemes)"`
	Username   string   `json:"username,omitempty" doc:"TURN username"`
	Credential string   `json:"credential,omitempty" doc:"TURN credential"`
}

// ICEConfigData is the ICE configuration for new peer connections.
type ICEConfigData struct {
	Servers   []ICEServerData `json:"ice_servers" doc:"STUN/TURN servers"`
	RelayOnly bool            `json:"relay_only" doc:"Restrict candidates to TURN relay"`
}

// ICEConfigResponse wraps ICE config for Huma.
type ICEConfigResponse struct {
	Body ICEConfigData
}

// ICEConfigRequest replaces the ICE configuration.
type ICEConfigRequest struct {
	Body ICEConfigData
}
