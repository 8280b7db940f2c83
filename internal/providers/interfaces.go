package providers

import (
	"context"

	"github.com/ncecere/carving_editor/internal/models"
)

// Editor turns an image plus instruction into an edited image.
type Editor interface {
	Name() string
	Edit(ctx context.Context, req models.EditRequest) (models.EditResult, error)
}
