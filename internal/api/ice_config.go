package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/visionbox/camnode/internal/api/models"
	"github.com/visionbox/camnode/internal/config"
)

// registerICERoutes sets up the ICE configuration endpoints. Updates only
// affect new peer connections; existing sessions keep their servers.
func (s *Server) registerICERoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "get-ice-config",
		Method:      http.MethodGet,
		Path:        "/api/ice_config",
		Summary:     "Get ICE Configuration",
		Description: "Get the STUN/TURN servers handed to new peer connections",
		Tags:        []string{"ice"},
		Errors:      []int{401},
		Security:    withAuth(),
	}, func(ctx context.Context, input *struct{}) (*models.ICEConfigResponse, error) {
		return &models.ICEConfigResponse{Body: toICEModel(s.options.ICE.Current())}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "update-ice-config",
		Method:      http.MethodPost,
		Path:        "/api/ice_config",
		Summary:     "Update ICE Configuration",
		Description: "Replace the STUN/TURN configuration for new peer connections",
		Tags:        []string{"ice"},
		Errors:      []int{400, 401, 500},
		Security:    withAuth(),
	}, func(ctx context.Context, input *models.ICEConfigRequest) (*models.ICEConfigResponse, error) {
		cfg := fromICEModel(input.Body)
		if err := s.options.ICE.Update(cfg); err != nil {
			return nil, huma.Error400BadRequest("invalid ICE configuration", err)
		}
		return &models.ICEConfigResponse{Body: toICEModel(s.options.ICE.Current())}, nil
	})
}

func toICEModel(cfg config.ICEConfig) models.ICEConfigData {
	out := models.ICEConfigData{RelayOnly: cfg.RelayOnly}
	for _, srv := range cfg.Servers {
		out.Servers = append(out.Servers, models.ICEServerData{
			URLs:       srv.URLs,
			Username:   srv.Username,
			Credential: srv.Credential,
		})
	}
	return out
}

func fromICEModel(data models.ICEConfigData) config.ICEConfig {
	out := config.ICEConfig{RelayOnly: data.RelayOnly}
	for _, srv := range data.Servers {
		out.Servers = append(out.Servers, config.ICEServer{
			URLs:       srv.URLs,
			Username:   srv.Username,
			Credential: srv.Credential,
		})
	}
	return out
}
