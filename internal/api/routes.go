// Package api mounts the HTTP and websocket surface of the guide service.
package api

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/fjwyyds6668/ai-tourguide/internal/api/handlers"
	"github.com/fjwyyds6668/ai-tourguide/internal/metrics"
)

type Handlers struct {
	RAG       *handlers.RAGHandler
	Knowledge *handlers.KnowledgeHandler
	Graph     *handlers.GraphHandler
	History   *handlers.HistoryHandler
	WebSocket *handlers.WebSocketHandler
	Health    *handlers.HealthHandler
}

func RegisterRoutes(app *fiber.App, h Handlers) {
	app.Get("/health", h.Health.Health)
	app.Get("/ready", h.Health.Ready)
	app.Get("/metrics", metrics.MetricsHandler())

	api := app.Group("/api/v1")

	ragGroup := api.Group("/rag")
	ragGroup.Post("/generate", h.RAG.Generate)
	ragGroup.Post("/search", h.RAG.Search)
	ragGroup.Get("/sessions/:id", h.RAG.GetSession)
	ragGroup.Delete("/sessions/:id", h.RAG.DeleteSession)

	api.Post("/knowledge", h.Knowledge.Upload)
	api.Delete("/knowledge/:docId", h.Knowledge.Delete)

	api.Get("/graph/subgraph", h.Graph.Subgraph)
	api.Get("/graph/stats", h.Graph.Stats)

	api.Get("/history", h.History.List)

	api.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	api.Get("/ws/chat", websocket.New(h.WebSocket.HandleConnection))
}
