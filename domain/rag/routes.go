package rag

import (
	"github.com/labstack/echo/v4"

	"github.com/cortexa-labs/ragserver/pkg/auth"
)

// RegisterRoutes registers the question-answering routes
func RegisterRoutes(e *echo.Echo, handler *Handler, authMiddleware *auth.Middleware) {
	g := e.Group("/api/rag")
	g.Use(authMiddleware.RequireAuth())

	g.POST("/ask", handler.Ask)
	g.POST("/ask-sync", handler.AskSync)
	g.POST("/ask-file/:fileId", handler.AskFile)
	g.GET("/status/:jobId", handler.Status)
	g.GET("/stats", handler.Stats)
}
