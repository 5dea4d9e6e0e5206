package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"

	"github.com/visionbox/camnode/internal/events"
)

// registerEventRoutes sets up the SSE stream carrying camera and session
// events to operator dashboards.
func (s *Server) registerEventRoutes() {
	sse.Register(s.api, huma.Operation{
		OperationID: "events-stream",
		Method:      http.MethodGet,
		Path:        "/api/events",
		Summary:     "Event Stream",
		Description: "Real-time stream of camera state transitions and session lifecycle events",
		Tags:        []string{"events"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, map[string]any{
		"camera-state-changed": events.CameraStateChangedEvent{},
		"session-created":      events.SessionCreatedEvent{},
		"session-evicted":      events.SessionEvictedEvent{},
		"session-closed":       events.SessionClosedEvent{},
	}, func(ctx context.Context, _ *struct{}, send sse.Sender) {
		eventCh := make(chan any, 10)

		unsubscribers := []func(){
			events.SubscribeToChannel[events.CameraStateChangedEvent](s.bus, eventCh),
			events.SubscribeToChannel[events.SessionCreatedEvent](s.bus, eventCh),
			events.SubscribeToChannel[events.SessionEvictedEvent](s.bus, eventCh),
			events.SubscribeToChannel[events.SessionClosedEvent](s.bus, eventCh),
		}
		defer func() {
			for _, unsub := range unsubscribers {
				unsub()
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-eventCh:
				if err := send.Data(ev); err != nil {
					return
				}
			}
		}
	})
}
