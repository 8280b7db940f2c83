package public

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/ncecere/carving_editor/internal/admission"
	"github.com/ncecere/carving_editor/internal/app"
	"github.com/ncecere/carving_editor/internal/cache"
	"github.com/ncecere/carving_editor/internal/executor"
	"github.com/ncecere/carving_editor/internal/httpserver/httputil"
	"github.com/ncecere/carving_editor/internal/models"
)

const (
	msgMissingFields = "Missing required fields"
	msgBusy          = "Server is busy, please try again shortly."
	msgNoImage       = "No image in response"

	headerIdempotencyKey = "Idempotency-Key"
	headerReplayed       = "Idempotent-Replayed"
	headerEditID         = "X-Edit-ID"
)

type editHandler struct {
	container *app.Container
	executor  *executor.Executor
}

type editImageRequest struct {
	Base64ImageData string  `json:"base64ImageData"`
	MimeType        string  `json:"mimeType"`
	Prompt          string  `json:"prompt"`
	Width           float64 `json:"width,omitempty"`
	Height          float64 `json:"height,omitempty"`
}

type editImageResponse struct {
	Image string `json:"image"`
}

func (r editImageRequest) toModel() models.EditRequest {
	return models.EditRequest{
		ImageBase64: r.Base64ImageData,
		MimeType:    r.MimeType,
		Prompt:      r.Prompt,
		Width:       dimension(r.Width),
		Height:      dimension(r.Height),
	}
}

func dimension(v float64) int {
	if v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return int(math.Round(v))
}

func (h *editHandler) editImage(c *fiber.Ctx) error {
	var body editImageRequest
	if err := json.Unmarshal(c.Body(), &body); err != nil {
		return httputil.WriteError(c, fiber.StatusBadRequest, msgMissingFields)
	}
	req := body.toModel()
	if err := req.Validate(); err != nil {
		return httputil.WriteError(c, fiber.StatusBadRequest, msgMissingFields)
	}

	ctx := userContext(c)
	idempotencyKey := strings.TrimSpace(c.Get(headerIdempotencyKey))
	if idempotencyKey != "" {
		if entry, ok := h.container.Idempotency.Get(ctx, idempotencyKey); ok {
			c.Set(headerReplayed, "true")
			if entry.EditID != "" {
				c.Set(headerEditID, entry.EditID)
			}
			c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
			return c.Status(entry.Status).Send(entry.Body)
		}
	}

	result, err := h.executor.Edit(ctx, req)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrInvalidRequest):
			return httputil.WriteError(c, fiber.StatusBadRequest, msgMissingFields)
		case errors.Is(err, admission.ErrBusy):
			return httputil.WriteError(c, fiber.StatusTooManyRequests, msgBusy)
		default:
			return httputil.WriteProviderError(c, err)
		}
	}

	image, ok := result.FirstImage()
	if !ok {
		return httputil.WriteErrorDetails(c, fiber.StatusUnprocessableEntity, msgNoImage, result.Text())
	}

	editID := h.archive(ctx, req, image, result.Provider)
	if editID != "" {
		c.Set(headerEditID, editID)
	}

	payload, err := json.Marshal(editImageResponse{Image: image.DataURI()})
	if err != nil {
		return httputil.WriteError(c, fiber.StatusInternalServerError, err.Error())
	}
	if idempotencyKey != "" {
		h.container.Idempotency.Set(ctx, idempotencyKey, cache.Entry{
			Status: fiber.StatusOK,
			Body:   payload,
			EditID: editID,
		})
	}
	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return c.Status(fiber.StatusOK).Send(payload)
}

// archive stores the edit when archiving is enabled. Failures are logged and
// never fail the request.
func (h *editHandler) archive(ctx context.Context, req models.EditRequest, image models.InlineData, provider string) string {
	if h.container.Archive == nil {
		return ""
	}
	manifest, err := h.container.Archive.Save(ctx, req, image, provider)
	if err != nil {
		slog.Warn("archive edit failed", "provider", provider, "error", err)
		return ""
	}
	return manifest.ID.String()
}

func userContext(c *fiber.Ctx) context.Context {
	if c == nil {
		return context.Background()
	}
	if uc := c.UserContext(); uc != nil {
		return uc
	}
	return context.Background()
}
