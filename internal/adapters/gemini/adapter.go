package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/ncecere/carving_editor/internal/models"
	"github.com/ncecere/carving_editor/internal/retry"
)

const (
	ProviderName = "gemini"

	DefaultModel   = "gemini-2.5-flash-image"
	DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

	cloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"
	maxErrorBody       = 64 << 10
)

// Options configure the Gemini adapter. Either APIKey or the Vertex fields
// (ProjectID, Location, CredentialsJSON) authenticate requests.
type Options struct {
	APIKey  string
	Model   string
	BaseURL string

	ProjectID       string
	Location        string
	CredentialsJSON []byte

	Timeout      time.Duration
	QuotaMarkers []string
	HTTPClient   *http.Client
}

// Adapter edits images through the Gemini generateContent API.
type Adapter struct {
	client   *http.Client
	apiKey   string
	model    string
	url      string
	markers  []string
	hasCreds bool
}

// New builds the adapter. Missing credentials are not an error here; every
// Edit call reports them instead.
func New(ctx context.Context, opts Options) (*Adapter, error) {
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = DefaultModel
	}
	markers := opts.QuotaMarkers
	if len(markers) == 0 {
		markers = models.DefaultQuotaMarkers
	}

	a := &Adapter{
		client:  opts.HTTPClient,
		apiKey:  strings.TrimSpace(opts.APIKey),
		model:   model,
		markers: markers,
	}

	vertex := len(opts.CredentialsJSON) > 0 && strings.TrimSpace(opts.ProjectID) != ""
	switch {
	case vertex:
		location := strings.TrimSpace(opts.Location)
		if location == "" {
			location = "us-central1"
		}
		base := strings.TrimSuffix(strings.TrimSpace(opts.BaseURL), "/")
		if base == "" {
			base = fmt.Sprintf("https://%s-aiplatform.googleapis.com/v1/projects/%s/locations/%s/publishers/google",
				location, opts.ProjectID, location)
		}
		a.url = fmt.Sprintf("%s/models/%s:generateContent", base, model)
		// Vertex authenticates with OAuth; the API key header is not sent.
		a.apiKey = ""
		if a.client == nil {
			creds, err := google.CredentialsFromJSON(ctx, opts.CredentialsJSON, cloudPlatformScope)
			if err != nil {
				return nil, fmt.Errorf("gemini: load vertex credentials: %w", err)
			}
			a.client = oauth2.NewClient(ctx, creds.TokenSource)
			a.client.Timeout = opts.Timeout
		}
		a.hasCreds = true
	default:
		base := strings.TrimSuffix(strings.TrimSpace(opts.BaseURL), "/")
		if base == "" {
			base = DefaultBaseURL
		}
		a.url = fmt.Sprintf("%s/models/%s:generateContent", base, model)
		a.hasCreds = a.apiKey != ""
	}

	if a.client == nil {
		a.client = &http.Client{Timeout: opts.Timeout}
	}
	return a, nil
}

func (a *Adapter) Name() string { return ProviderName }

// Model returns the configured model id.
func (a *Adapter) Model() string { return a.model }

// Edit sends the image and instruction as one user turn and returns the
// candidates unchanged.
func (a *Adapter) Edit(ctx context.Context, req models.EditRequest) (models.EditResult, error) {
	if !a.hasCreds {
		return models.EditResult{}, models.NotConfigured(ProviderName, "GEMINI_API_KEY is not set")
	}

	payload := geminiGenerateRequest{
		Contents: []geminiContent{{
			Role: "user",
			Parts: []geminiPart{
				{InlineData: &geminiInlineData{MimeType: req.MimeType, Data: req.ImageBase64}},
				{Text: req.Prompt},
			},
		}},
		GenerationConfig: &geminiGenerationConfig{ResponseModalities: []string{"IMAGE"}},
	}

	var resp geminiGenerateResponse
	if err := a.postJSON(ctx, payload, &resp); err != nil {
		return models.EditResult{}, err
	}
	return convertResponse(resp), nil
}

func (a *Adapter) postJSON(ctx context.Context, payload any, out any) error {
	resp, err := a.post(ctx, payload)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &models.ProviderError{
			Provider: ProviderName,
			Kind:     models.KindInvalidResponse,
			Status:   http.StatusBadGateway,
			Message:  "Invalid response from Gemini",
			Err:      fmt.Errorf("gemini decode response: %w", err),
		}
	}
	return nil
}

func (a *Adapter) post(ctx context.Context, payload any) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("gemini encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if a.apiKey != "" {
		req.Header.Set("x-goog-api-key", a.apiKey)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, models.Transport(ProviderName, err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		return nil, a.decodeAPIError(resp)
	}
	return resp, nil
}

func (a *Adapter) decodeAPIError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	perr := &models.ProviderError{
		Provider: ProviderName,
		Status:   resp.StatusCode,
	}

	signal := ""
	var apiErr geminiAPIError
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error.Message != "" {
		perr.Code = apiErr.Error.Status
		perr.Message = apiErr.Error.Message
		signal = perr.Message
		perr.RetryAfter = retry.ParseRetryDelay(apiErr.Error.retryDelay())
		var details map[string]any
		if err := json.Unmarshal(body, &details); err == nil {
			perr.Details = details["error"]
		}
	} else {
		text := strings.TrimSpace(string(body))
		perr.Message = fmt.Sprintf("Gemini request failed with %d", resp.StatusCode)
		signal = text
		if text != "" {
			perr.Details = text
		}
	}
	perr.Kind = models.ClassifyHTTP(perr.Status, perr.Code, signal, a.markers)
	return perr
}

func convertResponse(resp geminiGenerateResponse) models.EditResult {
	result := models.EditResult{
		Provider:   ProviderName,
		Candidates: make([]models.Candidate, 0, len(resp.Candidates)),
	}
	for _, cand := range resp.Candidates {
		parts := make([]models.Part, 0, len(cand.Content.Parts))
		for _, p := range cand.Content.Parts {
			part := models.Part{Text: p.Text}
			if p.InlineData != nil && p.InlineData.Data != "" {
				part.InlineData = &models.InlineData{MimeType: p.InlineData.MimeType, Data: p.InlineData.Data}
			}
			parts = append(parts, part)
		}
		result.Candidates = append(result.Candidates, models.Candidate{Parts: parts})
	}
	return result
}
