package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	pion "github.com/pion/webrtc/v4"

	"github.com/visionbox/camnode/internal/api/models"
)

// registerSessionRoutes sets up the WebRTC signaling and session management
// endpoints.
func (s *Server) registerSessionRoutes() {
	// Offer/answer exchange. Binding the new client evicts any current one.
	huma.Register(s.api, huma.Operation{
		OperationID: "create-offer",
		Method:      http.MethodPost,
		Path:        "/api/offer",
		Summary:     "Create Session",
		Description: "Exchange an SDP offer for an answer and bind the client to the streaming slot",
		Tags:        []string{"sessions"},
		Errors:      []int{400, 401, 500},
		Security:    withAuth(),
	}, func(ctx context.Context, input *models.OfferRequest) (*models.OfferResponse, error) {
		if input.Body.SDP == "" {
			return nil, huma.Error400BadRequest("SDP offer is required")
		}

		clientID, answer, err := s.sessions.CreateSession(input.Body.SDP)
		if err != nil {
			s.logger.Error("session creation failed", "error", err)
			return nil, huma.Error500InternalServerError("failed to create session", err)
		}

		return &models.OfferResponse{
			Body: models.OfferData{
				ClientID: clientID,
				Type:     "answer",
				SDP:      answer,
			},
		}, nil
	})

	// Trickled ICE candidates.
	huma.Register(s.api, huma.Operation{
		OperationID: "add-ice-candidate",
		Method:      http.MethodPost,
		Path:        "/api/ice",
		Summary:     "Add ICE Candidate",
		Description: "Apply a trickled ICE candidate to an active session",
		Tags:        []string{"sessions"},
		Errors:      []int{400, 401, 404},
		Security:    withAuth(),
	}, func(ctx context.Context, input *models.CandidateRequest) (*models.MessageResponse, error) {
		if input.Body.ClientID == "" || input.Body.Candidate == "" {
			return nil, huma.Error400BadRequest("client_id and candidate are required")
		}

		candidate := pion.ICECandidateInit{
			Candidate:     input.Body.Candidate,
			SDPMid:        input.Body.SDPMid,
			SDPMLineIndex: input.Body.SDPMLineIndex,
		}
		if err := s.sessions.AddCandidate(input.Body.ClientID, candidate); err != nil {
			// Evicted clients get 404 without learning who replaced them
			return nil, huma.Error404NotFound("session not found")
		}

		return &models.MessageResponse{
			Body: models.MessageData{Status: "ok"},
		}, nil
	})

	// List active sessions.
	huma.Register(s.api, huma.Operation{
		OperationID: "list-connections",
		Method:      http.MethodGet,
		Path:        "/api/connections",
		Summary:     "List Connections",
		Description: "List the active streaming session, if any",
		Tags:        []string{"sessions"},
		Errors:      []int{401},
		Security:    withAuth(),
	}, func(ctx context.Context, input *struct{}) (*models.ConnectionsResponse, error) {
		bindings := s.sessions.Connections()
		conns := make([]models.ConnectionInfo, len(bindings))
		for i, b := range bindings {
			conns[i] = models.ConnectionInfo{
				ClientID:  b.ClientID,
				State:     b.State,
				Substates: b.Substates,
				CreatedAt: b.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
			}
		}
		return &models.ConnectionsResponse{
			Body: models.ConnectionsData{
				Connections: conns,
				Count:       len(conns),
			},
		}, nil
	})

	// Close a specific session.
	huma.Register(s.api, huma.Operation{
		OperationID: "close-connection",
		Method:      http.MethodDelete,
		Path:        "/api/connections/{client_id}",
		Summary:     "Close Connection",
		Description: "Close a specific streaming session",
		Tags:        []string{"sessions"},
		Errors:      []int{401, 404},
		Security:    withAuth(),
	}, func(ctx context.Context, input *struct {
		ClientID string `path:"client_id" doc:"Client identifier"`
	}) (*models.MessageResponse, error) {
		if !s.sessions.CloseSession(input.ClientID) {
			return nil, huma.Error404NotFound("session not found")
		}
		return &models.MessageResponse{
			Body: models.MessageData{Status: "ok", Message: "session closed"},
		}, nil
	})

	// Evict a stale session.
	huma.Register(s.api, huma.Operation{
		OperationID: "cleanup-sessions",
		Method:      http.MethodPost,
		Path:        "/api/cleanup",
		Summary:     "Cleanup Stale Sessions",
		Description: "Evict the slot holder if its binding exceeds the maximum age",
		Tags:        []string{"sessions"},
		Errors:      []int{401},
		Security:    withAuth(),
	}, func(ctx context.Context, input *struct{}) (*models.EvictionResponse, error) {
		evicted := s.sessions.Cleanup()
		return &models.EvictionResponse{
			Body: models.EvictionData{
				Evicted:  evicted,
				Released: evicted != "",
			},
		}, nil
	})

	// Operator-forced slot release.
	huma.Register(s.api, huma.Operation{
		OperationID: "force-release",
		Method:      http.MethodPost,
		Path:        "/api/force-release",
		Summary:     "Force Release Slot",
		Description: "Evict whoever holds the streaming slot",
		Tags:        []string{"sessions"},
		Errors:      []int{401},
		Security:    withAuth(),
	}, func(ctx context.Context, input *struct{}) (*models.EvictionResponse, error) {
		evicted := s.sessions.ForceRelease()
		return &models.EvictionResponse{
			Body: models.EvictionData{
				Evicted:  evicted,
				Released: evicted != "",
			},
		}, nil
	})
}
