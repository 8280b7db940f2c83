package httputil

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/ncecere/carving_editor/internal/models"
)

// ErrorBody is the JSON error envelope returned by every route.
type ErrorBody struct {
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}

// WriteError standardizes JSON error responses.
func WriteError(c *fiber.Ctx, status int, msg string) error {
	return WriteErrorDetails(c, status, msg, nil)
}

// WriteErrorDetails writes the error envelope with optional diagnostics.
func WriteErrorDetails(c *fiber.Ctx, status int, msg string, details any) error {
	if msg == "" {
		msg = http.StatusText(status)
		if msg == "" {
			msg = "unknown error"
		}
	}
	return c.Status(status).JSON(ErrorBody{Error: msg, Details: details})
}

// WriteProviderError maps a provider failure onto its HTTP status, falling
// back to 500 for anything unclassified.
func WriteProviderError(c *fiber.Ctx, err error) error {
	var perr *models.ProviderError
	if errors.As(err, &perr) {
		msg := perr.Message
		if msg == "" {
			msg = perr.Error()
		}
		return WriteErrorDetails(c, perr.HTTPStatus(), msg, perr.Details)
	}
	return WriteError(c, fiber.StatusInternalServerError, err.Error())
}

// ErrorHandler renders fiber errors (body too large, unknown route) as JSON.
func ErrorHandler(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		status = fe.Code
	}
	return WriteError(c, status, err.Error())
}
