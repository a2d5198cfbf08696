package api

import (
	"bison/internal/api/middleware"
)

func (s *Server) registerRoutes() {
	// Health check
	s.echo.GET("/health", s.healthCheck)

	auth := middleware.NewAuthMiddleware(s.config.JWT.Secret)
	api := s.echo.Group("", auth.Middleware())

	api.GET("/emails", s.emails.List)
	api.POST("/send", s.emails.Send)

	api.POST("/sequences", s.sequences.Create)
	api.POST("/sequences/:id/contacts", s.sequences.AddContact)
	api.GET("/sequences/:id/contacts/:email", s.sequences.ContactStatus)
}
