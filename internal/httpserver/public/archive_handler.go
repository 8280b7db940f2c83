package public

import (
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/ncecere/carving_editor/internal/app"
	"github.com/ncecere/carving_editor/internal/httpserver/httputil"
	"github.com/ncecere/carving_editor/internal/services/archive"
)

const (
	msgArchiveDisabled = "Edit archive is disabled"
	msgInvalidEditID   = "Invalid edit id"
	msgEditNotFound    = "Edit not found"
	msgUnknownAsset    = "Unknown asset, expected input or output"
)

type archiveHandler struct {
	container *app.Container
}

// editID parses the :id param; ok is false once an error response is written.
func (h *archiveHandler) editID(c *fiber.Ctx) (uuid.UUID, bool, error) {
	if h.container.Archive == nil {
		return uuid.Nil, false, httputil.WriteError(c, fiber.StatusNotFound, msgArchiveDisabled)
	}
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return uuid.Nil, false, httputil.WriteError(c, fiber.StatusBadRequest, msgInvalidEditID)
	}
	return id, true, nil
}

func (h *archiveHandler) archiveError(c *fiber.Ctx, id uuid.UUID, err error) error {
	if errors.Is(err, archive.ErrNotFound) {
		return httputil.WriteError(c, fiber.StatusNotFound, msgEditNotFound)
	}
	slog.Error("archive read failed", "edit_id", id, "error", err)
	return httputil.WriteError(c, fiber.StatusInternalServerError, "Failed to read archived edit")
}

func (h *archiveHandler) manifest(c *fiber.Ctx) error {
	id, ok, err := h.editID(c)
	if !ok {
		return err
	}
	m, err := h.container.Archive.Load(userContext(c), id)
	if err != nil {
		return h.archiveError(c, id, err)
	}
	return c.JSON(m)
}

func (h *archiveHandler) image(c *fiber.Ctx) error {
	id, ok, err := h.editID(c)
	if !ok {
		return err
	}
	asset := archive.Asset(c.Params("asset"))
	if asset != archive.AssetInput && asset != archive.AssetOutput {
		return httputil.WriteError(c, fiber.StatusNotFound, msgUnknownAsset)
	}
	data, mimeType, err := h.container.Archive.Image(userContext(c), id, asset)
	if err != nil {
		return h.archiveError(c, id, err)
	}
	if mimeType == "" {
		mimeType = fiber.MIMEOctetStream
	}
	c.Set(fiber.HeaderContentType, mimeType)
	return c.Status(fiber.StatusOK).Send(data)
}

func (h *archiveHandler) remove(c *fiber.Ctx) error {
	id, ok, err := h.editID(c)
	if !ok {
		return err
	}
	if err := h.container.Archive.Delete(userContext(c), id); err != nil {
		return h.archiveError(c, id, err)
	}
	slog.Info("archived edit deleted", "edit_id", id)
	return c.SendStatus(fiber.StatusNoContent)
}
