package providers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ncecere/carving_editor/internal/adapters/gemini"
	"github.com/ncecere/carving_editor/internal/config"
)

func pickFirst(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

func init() {
	RegisterDefinition(Definition{
		Name:        config.ProviderGemini,
		Description: "Google Gemini multimodal image editing (API key or Vertex AI)",
		Credential:  "GEMINI_API_KEY",
		Builder:     buildGeminiEditor,
	})
}

func buildGeminiEditor(ctx context.Context, cfg *config.Config) (Editor, error) {
	cfg = EnsureConfig(cfg)
	gc := cfg.Providers.Gemini

	opts := gemini.Options{
		APIKey:       gc.APIKey,
		Model:        gc.Model,
		BaseURL:      gc.BaseURL,
		Timeout:      cfg.Server.ProviderTimeout,
		QuotaMarkers: cfg.Retry.QuotaMarkers,
	}

	if gc.Vertex.Enabled() {
		creds, err := decodeCredentials(gc.Vertex.CredentialsJSON, gc.Vertex.CredentialsFormat)
		if err != nil {
			return nil, err
		}
		opts.ProjectID = gc.Vertex.ProjectID
		opts.Location = pickFirst(gc.Vertex.Location, "us-central1")
		opts.CredentialsJSON = creds
		if strings.TrimSuffix(opts.BaseURL, "/") == gemini.DefaultBaseURL {
			opts.BaseURL = ""
		}
	}

	adapter, err := gemini.New(ctx, opts)
	if err != nil {
		return nil, err
	}
	return adapter, nil
}

// decodeCredentials accepts raw JSON or base64 encoded JSON service account keys.
func decodeCredentials(source, format string) ([]byte, error) {
	source = strings.TrimSpace(source)
	credBytes := []byte(source)
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "base64":
		decoded, err := base64.StdEncoding.DecodeString(source)
		if err != nil {
			return nil, fmt.Errorf("vertex credentials base64 decode: %w", err)
		}
		if !json.Valid(decoded) {
			return nil, fmt.Errorf("vertex credentials base64 decode produced invalid JSON")
		}
		return decoded, nil
	case "json", "":
		if json.Valid(credBytes) {
			return credBytes, nil
		}
		if decoded, err := base64.StdEncoding.DecodeString(source); err == nil && json.Valid(decoded) {
			return decoded, nil
		}
		return nil, fmt.Errorf("vertex credentials json invalid or truncated")
	default:
		return nil, fmt.Errorf("vertex credentials format %q not supported", format)
	}
}
