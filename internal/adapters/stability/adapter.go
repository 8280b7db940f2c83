package stability

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/ncecere/carving_editor/internal/models"
)

const (
	ProviderName = "stability"

	DefaultBaseURL = "https://api.stability.ai"

	outputMimeType = "image/png"
	maxBody        = 32 << 20
)

// Options configure the Stability image-to-image adapter.
type Options struct {
	APIKey  string
	Engine  string
	BaseURL string
	// FitCanvas letterboxes the init image onto a FitCanvas-sized square; 0 disables.
	FitCanvas int

	Timeout      time.Duration
	QuotaMarkers []string
	HTTPClient   *http.Client
}

// Adapter calls the Stability v1 image-to-image generation endpoint.
type Adapter struct {
	client    *http.Client
	apiKey    string
	engine    string
	spec      engineSpec
	endpoint  string
	fitCanvas int
	markers   []string
}

func New(opts Options) (*Adapter, error) {
	engine := strings.ToLower(strings.TrimSpace(opts.Engine))
	if engine == "" {
		engine = EngineV16
	}
	spec, ok := engines[engine]
	if !ok {
		return nil, fmt.Errorf("stability: engine %q not supported", opts.Engine)
	}
	base := strings.TrimSuffix(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	markers := opts.QuotaMarkers
	if len(markers) == 0 {
		markers = models.DefaultQuotaMarkers
	}
	return &Adapter{
		client:    client,
		apiKey:    strings.TrimSpace(opts.APIKey),
		engine:    engine,
		spec:      spec,
		endpoint:  base + spec.path,
		fitCanvas: opts.FitCanvas,
		markers:   markers,
	}, nil
}

func (a *Adapter) Name() string { return ProviderName }

// Engine returns the normalized engine id.
func (a *Adapter) Engine() string { return a.engine }

// Edit uploads the image as init_image and returns the first artifact.
func (a *Adapter) Edit(ctx context.Context, req models.EditRequest) (models.EditResult, error) {
	if a.apiKey == "" {
		return models.EditResult{}, models.NotConfigured(ProviderName, "STABILITY_API_KEY is not set")
	}

	image, err := models.DecodeImageData(req.ImageBase64)
	if err != nil {
		return models.EditResult{}, &models.ProviderError{
			Provider: ProviderName,
			Kind:     models.KindInvalidInput,
			Status:   http.StatusBadRequest,
			Message:  "Invalid base64 image data",
			Err:      err,
		}
	}
	mimeType := req.MimeType
	if a.fitCanvas > 0 {
		if image, err = fitCanvas(image, a.fitCanvas); err != nil {
			return models.EditResult{}, &models.ProviderError{
				Provider: ProviderName,
				Kind:     models.KindInvalidInput,
				Status:   http.StatusBadRequest,
				Message:  "Unsupported image data",
				Err:      err,
			}
		}
		mimeType = outputMimeType
	}

	body, contentType, err := a.buildForm(image, mimeType, SanitizePrompt(req.Prompt))
	if err != nil {
		return models.EditResult{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, body)
	if err != nil {
		return models.EditResult{}, err
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return models.EditResult{}, models.Transport(ProviderName, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return models.EditResult{}, models.Transport(ProviderName, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return models.EditResult{}, a.apiError(resp.StatusCode, raw)
	}

	var parsed stabilityResponse
	if err := json.Unmarshal(raw, &parsed); err == nil {
		for _, artifact := range parsed.Artifacts {
			if artifact.Base64 == "" {
				continue
			}
			return models.EditResult{
				Provider: ProviderName,
				Candidates: []models.Candidate{{Parts: []models.Part{{
					InlineData: &models.InlineData{MimeType: outputMimeType, Data: artifact.Base64},
				}}}},
			}, nil
		}
	}
	return models.EditResult{}, &models.ProviderError{
		Provider: ProviderName,
		Kind:     models.KindInvalidResponse,
		Status:   http.StatusBadGateway,
		Message:  "Invalid response from Stability",
		Details:  errorDetails(raw, resp.StatusCode),
	}
}

func (a *Adapter) buildForm(image []byte, mimeType, prompt string) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="init_image"; filename="init_image"`)
	header.Set("Content-Type", mimeType)
	part, err := w.CreatePart(header)
	if err != nil {
		return nil, "", fmt.Errorf("stability: build form: %w", err)
	}
	if _, err := part.Write(image); err != nil {
		return nil, "", fmt.Errorf("stability: build form: %w", err)
	}

	fields := [][2]string{
		{"text_prompts[0][text]", prompt},
		{"cfg_scale", strconv.Itoa(a.spec.cfgScale)},
		{"steps", strconv.Itoa(defaultSteps)},
		{"samples", strconv.Itoa(defaultSamples)},
		{"image_strength", strconv.FormatFloat(defaultImageStrength, 'f', -1, 64)},
		{"sampler", samplerEulerAncestral},
		{"init_image_mode", initImageStrength},
	}
	for _, f := range fields {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return nil, "", fmt.Errorf("stability: build form: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("stability: build form: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}

func (a *Adapter) apiError(status int, raw []byte) error {
	details := errorDetails(raw, status)

	signal := strings.TrimSpace(string(raw))
	var code string
	var apiErr stabilityAPIError
	if err := json.Unmarshal(raw, &apiErr); err == nil {
		code = apiErr.Name
	}
	return &models.ProviderError{
		Provider: ProviderName,
		Kind:     models.ClassifyHTTP(status, code, signal, a.markers),
		Status:   status,
		Code:     code,
		Message:  fmt.Sprintf("Stability request failed with %d (%s)", status, a.endpoint),
		Details:  details,
	}
}

// errorDetails returns the body as parsed JSON, else as text, else a status line.
func errorDetails(raw []byte, status int) any {
	var parsed any
	if err := json.Unmarshal(raw, &parsed); err == nil {
		return parsed
	}
	if text := strings.TrimSpace(string(raw)); text != "" {
		return text
	}
	return fmt.Sprintf("HTTP %d", status)
}
