package handlers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"bison/internal/models"
	"bison/internal/services"
)

// EmailHandler serves the inbox listing and direct send endpoints.
type EmailHandler struct {
	emails *services.EmailService
}

func NewEmailHandler(emails *services.EmailService) *EmailHandler {
	return &EmailHandler{emails: emails}
}

type SendEmailRequest struct {
	To      string `json:"to" validate:"required,email"`
	Subject string `json:"subject" validate:"required"`
	Body    string `json:"body" validate:"required"`
}

// List returns stored emails for a folder (inbox by default).
func (h *EmailHandler) List(c echo.Context) error {
	folder := models.EmailStatus(c.QueryParam("folder"))
	if folder == "" {
		folder = models.EmailStatusInbox
	}
	if !models.ValidEmailStatus(folder) {
		return echo.NewHTTPError(http.StatusBadRequest, "folder must be one of inbox, sent, archived")
	}

	emails, err := h.emails.List(c.Request().Context(), folder)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to list emails")
	}
	return c.JSON(http.StatusOK, emails)
}

// Send delivers one email and returns the stored record.
func (h *EmailHandler) Send(c echo.Context) error {
	var req SendEmailRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	email, err := h.emails.Send(c.Request().Context(), req.To, req.Subject, req.Body)
	if err != nil {
		if errors.Is(err, services.ErrInvalidEmail) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return echo.NewHTTPError(http.StatusBadGateway, "Failed to send email")
	}
	return c.JSON(http.StatusOK, email)
}
