package public

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ncecere/carving_editor/internal/app"
)

type statusHandler struct {
	container *app.Container
}

type providerStatusResponse struct {
	Provider        string  `json:"provider"`
	Fallback        *string `json:"fallback"`
	HasGeminiKey    bool    `json:"hasGeminiKey"`
	HasStabilityKey bool    `json:"hasStabilityKey"`
	ModelID         string  `json:"modelId"`
	StabilityEngine string  `json:"stabilityEngine"`
}

func (h *statusHandler) health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"ok": true})
}

// providerStatus reports configuration only; secrets are reduced to presence flags.
func (h *statusHandler) providerStatus(c *fiber.Ctx) error {
	p := h.container.Config.Providers
	resp := providerStatusResponse{
		Provider:        p.Primary,
		HasGeminiKey:    p.HasGeminiCredential(),
		HasStabilityKey: p.HasStabilityKey(),
		ModelID:         p.Gemini.Model,
		StabilityEngine: p.Stability.Engine,
	}
	if fallback := p.EffectiveFallback(); fallback != "" {
		resp.Fallback = &fallback
	}
	return c.JSON(resp)
}
