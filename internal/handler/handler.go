package handler

import (
	"context"
	"net/http"

	"clipfactory/internal/events"
	"clipfactory/internal/pipeline"
	"clipfactory/internal/types"

	"github.com/gorilla/websocket"
)

// PipelineService is the slice of the orchestrator the API needs.
type PipelineService interface {
	Submit(ctx context.Context, sourceRef string, meta map[string]string) (*pipeline.SubmitResult, error)
	RequestExport(ctx context.Context, rootID, clipID, userID string) (*types.ExportRecord, error)
	Status(ctx context.Context, id string) (*pipeline.Status, error)
}

type Handler struct {
	Service PipelineService
	Bus     events.Bus
	Store   types.ObjectStore

	upgrader websocket.Upgrader
}

func NewHandler(svc PipelineService, bus events.Bus, store types.ObjectStore) Handler {
	return Handler{
		Service: svc,
		Bus:     bus,
		Store:   store,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// The API binds to localhost by default; origin checks belong to the proxy in front.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}
