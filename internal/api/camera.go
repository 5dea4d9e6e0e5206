package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/visionbox/camnode/internal/api/models"
)

// registerCameraRoutes sets up the camera status and control endpoints.
func (s *Server) registerCameraRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "get-camera-status",
		Method:      http.MethodGet,
		Path:        "/api/camera/status",
		Summary:     "Camera Status",
		Description: "Get the camera connection state machine snapshot",
		Tags:        []string{"camera"},
		Errors:      []int{401},
		Security:    withAuth(),
	}, func(ctx context.Context, input *struct{}) (*models.CameraStatusResponse, error) {
		snap := s.camera.Status()
		data := models.CameraStatusData{
			State:      string(snap.State),
			Running:    snap.Running,
			RetryCount: snap.RetryCount,
			Available:  s.camera.Manager().ProbeAvailable(),
		}
		if !snap.LastAttempt.IsZero() {
			data.LastAttempt = snap.LastAttempt.UTC().Format(time.RFC3339)
		}
		if !snap.LastFrame.IsZero() {
			data.LastFrame = snap.LastFrame.UTC().Format(time.RFC3339)
		}
		return &models.CameraStatusResponse{Body: data}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "reconnect-camera",
		Method:      http.MethodPost,
		Path:        "/api/camera/reconnect",
		Summary:     "Reconnect Camera",
		Description: "Force a full stop/start cycle of the camera device",
		Tags:        []string{"camera"},
		Errors:      []int{401, 500},
		Security:    withAuth(),
	}, func(ctx context.Context, input *struct{}) (*models.MessageResponse, error) {
		if err := s.camera.Manager().Reconnect(); err != nil {
			s.logger.Warn("forced reconnect failed", "error", err)
			return nil, huma.Error500InternalServerError("camera reconnect failed", err)
		}
		return &models.MessageResponse{
			Body: models.MessageData{Status: "ok", Message: "camera reconnected"},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-camera-config",
		Method:      http.MethodGet,
		Path:        "/api/camera/config",
		Summary:     "Camera Configuration",
		Description: "Get the active capture configuration",
		Tags:        []string{"camera"},
		Errors:      []int{401},
		Security:    withAuth(),
	}, func(ctx context.Context, input *struct{}) (*models.CameraConfigResponse, error) {
		return &models.CameraConfigResponse{Body: s.options.CameraConfig}, nil
	})
}
