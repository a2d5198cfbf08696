package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"gorm.io/gorm"

	"bison/internal/config"
	"bison/internal/handlers"
	"bison/internal/services"
)

// Server hosts the HTTP API in front of the mail store and the sequence
// engine's tracker.
type Server struct {
	echo      *echo.Echo
	config    *config.Config
	emails    *handlers.EmailHandler
	sequences *handlers.SequenceHandler
}

type requestValidator struct {
	validator *validator.Validate
}

func (v *requestValidator) Validate(i interface{}) error {
	return v.validator.Struct(i)
}

func NewServer(cfg *config.Config, db *gorm.DB, emails *services.EmailService, enrollments *services.EnrollmentService) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Validator = &requestValidator{validator: validator.New()}
	e.Use(echomw.Recover())
	e.Use(echomw.Logger())

	sequenceService := services.NewSequenceService(db)

	s := &Server{
		echo:      e,
		config:    cfg,
		emails:    handlers.NewEmailHandler(emails),
		sequences: handlers.NewSequenceHandler(sequenceService, enrollments),
	}
	s.registerRoutes()
	return s
}

// Echo exposes the underlying router for tests.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	return s.echo.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) healthCheck(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
