package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/clinsight/backend/internal/gateway"
	analysisHandler "github.com/clinsight/backend/internal/handler/analysis"
	chatHandler "github.com/clinsight/backend/internal/handler/chat"
	streamHandler "github.com/clinsight/backend/internal/handler/stream"
	middlewarePkg "github.com/clinsight/backend/internal/middleware"
	"github.com/clinsight/backend/internal/model/panel"
	analysisService "github.com/clinsight/backend/internal/service/analysis"
)

// NewRouter wires HTTP routes to core services.
func NewRouter(registry *analysisService.Registry, gw gateway.Gateway, panels panel.Store) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	analysis := analysisHandler.New(registry, gw, panels)
	chat := chatHandler.New(registry)
	stream := streamHandler.New(registry)

	r.Route("/api", func(api chi.Router) {
		analysis.RegisterRoutes(api)
		chat.RegisterRoutes(api)
		stream.RegisterRoutes(api)
	})

	return r
}
