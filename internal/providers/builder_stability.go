package providers

import (
	"context"

	"github.com/ncecere/carving_editor/internal/adapters/stability"
	"github.com/ncecere/carving_editor/internal/config"
)

func init() {
	RegisterDefinition(Definition{
		Name:        config.ProviderStability,
		Description: "Stability AI diffusion image-to-image",
		Credential:  "STABILITY_API_KEY",
		Builder:     buildStabilityEditor,
	})
}

func buildStabilityEditor(_ context.Context, cfg *config.Config) (Editor, error) {
	cfg = EnsureConfig(cfg)
	sc := cfg.Providers.Stability

	adapter, err := stability.New(stability.Options{
		APIKey:       sc.APIKey,
		Engine:       sc.Engine,
		BaseURL:      sc.BaseURL,
		FitCanvas:    sc.FitCanvas,
		Timeout:      cfg.Server.ProviderTimeout,
		QuotaMarkers: cfg.Retry.QuotaMarkers,
	})
	if err != nil {
		return nil, err
	}
	return adapter, nil
}
