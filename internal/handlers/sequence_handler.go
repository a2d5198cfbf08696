package handlers

import (
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/labstack/echo/v4"

	"bison/internal/models"
	"bison/internal/services"
)

// SequenceHandler serves sequence creation, enrollment and status.
type SequenceHandler struct {
	sequences   *services.SequenceService
	enrollments *services.EnrollmentService
}

func NewSequenceHandler(sequences *services.SequenceService, enrollments *services.EnrollmentService) *SequenceHandler {
	return &SequenceHandler{sequences: sequences, enrollments: enrollments}
}

type CreateSequenceRequest struct {
	Name        string               `json:"name" validate:"required,min=1"`
	Description string               `json:"description"`
	Steps       []services.StepInput `json:"steps" validate:"required,dive"`
}

type AddContactRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// SequenceStatusResponse is the per-contact progress view.
type SequenceStatusResponse struct {
	SequenceID      string                  `json:"sequence_id"`
	ContactEmail    string                  `json:"contact_email"`
	Status          models.EnrollmentStatus `json:"status"`
	CurrentStep     int                     `json:"current_step"`
	NextSendDate    *time.Time              `json:"next_send_date"`
	LastInteraction *time.Time              `json:"last_interaction"`
}

func statusResponse(e *models.Enrollment) SequenceStatusResponse {
	return SequenceStatusResponse{
		SequenceID:      e.SequenceID,
		ContactEmail:    e.ContactEmail,
		Status:          e.Status,
		CurrentStep:     e.CurrentStep,
		NextSendDate:    e.NextSendAt,
		LastInteraction: e.LastInteraction,
	}
}

// Create stores a new immutable sequence definition.
func (h *SequenceHandler) Create(c echo.Context) error {
	var req CreateSequenceRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	seq, err := h.sequences.Create(c.Request().Context(), req.Name, req.Description, req.Steps)
	if err != nil {
		if errors.Is(err, services.ErrInvalidSteps) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to create sequence")
	}
	return c.JSON(http.StatusCreated, seq)
}

// AddContact enrolls a contact at step 1.
func (h *SequenceHandler) AddContact(c echo.Context) error {
	var req AddContactRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	enrollment, err := h.enrollments.Enroll(c.Request().Context(), c.Param("id"), req.Email)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrSequenceNotFound):
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		case errors.Is(err, services.ErrAlreadyEnrolled):
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		case errors.Is(err, services.ErrInvalidEmail), errors.Is(err, services.ErrInvalidSteps):
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		default:
			return echo.NewHTTPError(http.StatusInternalServerError, "Failed to enroll contact")
		}
	}
	return c.JSON(http.StatusCreated, statusResponse(enrollment))
}

// ContactStatus returns the contact's progress through the sequence.
func (h *SequenceHandler) ContactStatus(c echo.Context) error {
	email := c.Param("email")
	if decoded, err := url.PathUnescape(email); err == nil {
		email = decoded
	}

	enrollment, err := h.enrollments.GetStatus(c.Request().Context(), c.Param("id"), email)
	if err != nil {
		if errors.Is(err, services.ErrEnrollmentNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to load enrollment")
	}
	return c.JSON(http.StatusOK, statusResponse(enrollment))
}
