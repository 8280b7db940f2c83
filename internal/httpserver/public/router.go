package public

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ncecere/carving_editor/internal/app"
	"github.com/ncecere/carving_editor/internal/executor"
)

// Register wires the edit API under the configured prefix.
func Register(app *fiber.App, container *app.Container) {
	group := app.Group(container.Config.Server.APIPrefix)

	handler := &editHandler{container: container, executor: executor.New(container)}
	group.Post("/edit-image", handler.editImage)

	status := &statusHandler{container: container}
	group.Get("/health", status.health)
	group.Get("/provider-status", status.providerStatus)

	edits := &archiveHandler{container: container}
	group.Get("/edits/:id", edits.manifest)
	group.Get("/edits/:id/:asset", edits.image)
	group.Delete("/edits/:id", edits.remove)
}
