package public

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/ncecere/carving_editor/internal/admission"
	"github.com/ncecere/carving_editor/internal/app"
	"github.com/ncecere/carving_editor/internal/cache"
	"github.com/ncecere/carving_editor/internal/config"
	"github.com/ncecere/carving_editor/internal/httpserver/httputil"
	"github.com/ncecere/carving_editor/internal/models"
	"github.com/ncecere/carving_editor/internal/providers"
	"github.com/ncecere/carving_editor/internal/services/archive"
	"github.com/ncecere/carving_editor/internal/storage/blob"
)

type stubEditor struct {
	name  string
	calls atomic.Int32
	fn    func(models.EditRequest) (models.EditResult, error)
}

func (s *stubEditor) Name() string { return s.name }

func (s *stubEditor) Edit(_ context.Context, req models.EditRequest) (models.EditResult, error) {
	s.calls.Add(1)
	return s.fn(req)
}

func imageResult(data string) models.EditResult {
	return models.EditResult{Candidates: []models.Candidate{{Parts: []models.Part{
		{Text: "done"},
		{InlineData: &models.InlineData{MimeType: "image/png", Data: data}},
	}}}}
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{APIPrefix: "/api"},
		Providers: config.ProviderConfig{
			Primary:   config.ProviderGemini,
			Gemini:    config.GeminiConfig{Model: "gemini-2.5-flash-image"},
			Stability: config.StabilityConfig{Engine: config.StabilityEngineV16},
		},
		Retry: config.RetryConfig{MaxRetries: 0},
	}
}

func newTestApp(t *testing.T, container *app.Container) *fiber.App {
	t.Helper()
	if container.Config == nil {
		container.Config = testConfig()
	}
	a := fiber.New(fiber.Config{ErrorHandler: httputil.ErrorHandler})
	Register(a, container)
	return a
}

func postEdit(t *testing.T, a *fiber.App, body any, headers map[string]string) (*http.Response, map[string]any) {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/edit-image", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := a.Test(req, -1)
	require.NoError(t, err)
	return resp, decodeBody(t, resp)
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func validBody() map[string]any {
	return map[string]any{
		"base64ImageData": "aW1n",
		"mimeType":        "image/jpeg",
		"prompt":          "remove the background",
		"width":           1024,
		"height":          768,
	}
}

func TestEditImageSuccess(t *testing.T) {
	var seen models.EditRequest
	primary := &stubEditor{name: "gemini", fn: func(req models.EditRequest) (models.EditResult, error) {
		seen = req
		return imageResult("b3V0"), nil
	}}
	a := newTestApp(t, &app.Container{Providers: providers.Set{Primary: primary}})

	resp, body := postEdit(t, a, validBody(), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "data:image/png;base64,b3V0", body["image"])
	require.Equal(t, 1024, seen.Width)
	require.Equal(t, 768, seen.Height)
	require.Empty(t, resp.Header.Get(headerEditID))
}

func TestEditImageMissingFields(t *testing.T) {
	primary := &stubEditor{name: "gemini", fn: func(models.EditRequest) (models.EditResult, error) {
		return imageResult("x"), nil
	}}
	a := newTestApp(t, &app.Container{Providers: providers.Set{Primary: primary}})

	for _, field := range []string{"base64ImageData", "mimeType", "prompt"} {
		payload := validBody()
		payload[field] = ""
		resp, body := postEdit(t, a, payload, nil)
		require.Equal(t, http.StatusBadRequest, resp.StatusCode, field)
		require.Equal(t, msgMissingFields, body["error"])
	}

	req := httptest.NewRequest(http.MethodPost, "/api/edit-image", bytes.NewReader([]byte("{not json")))
	req.Header.Set("Content-Type", "application/json")
	resp, err := a.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Zero(t, primary.calls.Load())
}

func TestEditImageBusy(t *testing.T) {
	gate := admission.NewMemoryGate()
	release, err := gate.Acquire(context.Background())
	require.NoError(t, err)
	defer release()

	primary := &stubEditor{name: "gemini", fn: func(models.EditRequest) (models.EditResult, error) {
		return imageResult("x"), nil
	}}
	a := newTestApp(t, &app.Container{Gate: gate, Providers: providers.Set{Primary: primary}})

	resp, body := postEdit(t, a, validBody(), nil)
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	require.Equal(t, msgBusy, body["error"])
	require.Zero(t, primary.calls.Load())
}

func TestEditImageProviderErrorPassesStatusAndDetails(t *testing.T) {
	primary := &stubEditor{name: "gemini", fn: func(models.EditRequest) (models.EditResult, error) {
		return models.EditResult{}, &models.ProviderError{
			Provider: "gemini",
			Kind:     models.KindTransport,
			Status:   http.StatusBadRequest,
			Message:  "Image format not supported",
			Details:  map[string]any{"status": "INVALID_ARGUMENT"},
		}
	}}
	a := newTestApp(t, &app.Container{Providers: providers.Set{Primary: primary}})

	resp, body := postEdit(t, a, validBody(), nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "Image format not supported", body["error"])
	require.Equal(t, map[string]any{"status": "INVALID_ARGUMENT"}, body["details"])
}

func TestEditImageQuotaFallsBack(t *testing.T) {
	primary := &stubEditor{name: "gemini", fn: func(models.EditRequest) (models.EditResult, error) {
		return models.EditResult{}, &models.ProviderError{Provider: "gemini", Kind: models.KindQuotaExceeded, Status: 429, Message: "quota"}
	}}
	fallback := &stubEditor{name: "stability", fn: func(models.EditRequest) (models.EditResult, error) {
		return imageResult("ZmI="), nil
	}}
	a := newTestApp(t, &app.Container{Providers: providers.Set{Primary: primary, Fallback: fallback}})

	resp, body := postEdit(t, a, validBody(), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "data:image/png;base64,ZmI=", body["image"])
	require.EqualValues(t, 1, primary.calls.Load())
	require.EqualValues(t, 1, fallback.calls.Load())
}

func TestEditImageNotImplementedProvider(t *testing.T) {
	cfg := testConfig()
	cfg.Providers.Primary = "dalle"
	set, err := providers.NewFactory(cfg).BuildSet(context.Background())
	require.NoError(t, err)
	a := newTestApp(t, &app.Container{Config: cfg, Providers: set})

	resp, body := postEdit(t, a, validBody(), nil)
	require.Equal(t, http.StatusNotImplemented, resp.StatusCode)
	require.Equal(t, "Provider not implemented: dalle", body["error"])
}

func TestEditImageNoImageInResponse(t *testing.T) {
	primary := &stubEditor{name: "gemini", fn: func(models.EditRequest) (models.EditResult, error) {
		return models.EditResult{Candidates: []models.Candidate{{Parts: []models.Part{{Text: "I cannot edit this"}}}}}, nil
	}}
	a := newTestApp(t, &app.Container{Providers: providers.Set{Primary: primary}})

	resp, body := postEdit(t, a, validBody(), nil)
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	require.Equal(t, msgNoImage, body["error"])
	require.Equal(t, "I cannot edit this", body["details"])
}

func TestEditImageIdempotentReplay(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	primary := &stubEditor{name: "gemini", fn: func(models.EditRequest) (models.EditResult, error) {
		return imageResult("b3V0"), nil
	}}
	a := newTestApp(t, &app.Container{
		Providers:   providers.Set{Primary: primary},
		Idempotency: cache.NewIdempotencyCache(client, 0),
	})

	headers := map[string]string{headerIdempotencyKey: "edit-1"}
	first, firstBody := postEdit(t, a, validBody(), headers)
	require.Equal(t, http.StatusOK, first.StatusCode)
	require.Empty(t, first.Header.Get(headerReplayed))

	second, secondBody := postEdit(t, a, validBody(), headers)
	require.Equal(t, http.StatusOK, second.StatusCode)
	require.Equal(t, "true", second.Header.Get(headerReplayed))
	require.Equal(t, firstBody, secondBody)
	require.EqualValues(t, 1, primary.calls.Load())
}

func newArchiveApp(t *testing.T) *fiber.App {
	t.Helper()
	store, err := blob.New(context.Background(), config.ArchiveConfig{
		Storage: "local",
		Local:   config.ArchiveLocalConfig{Directory: t.TempDir()},
	})
	require.NoError(t, err)

	primary := &stubEditor{name: "gemini", fn: func(models.EditRequest) (models.EditResult, error) {
		return imageResult("b3V0"), nil
	}}
	return newTestApp(t, &app.Container{
		Providers: providers.Set{Primary: primary},
		Archive:   archive.NewService(store),
	})
}

func get(t *testing.T, a *fiber.App, method, target string) (*http.Response, []byte) {
	t.Helper()
	resp, err := a.Test(httptest.NewRequest(method, target, nil), -1)
	require.NoError(t, err)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func TestEditImageArchivesResult(t *testing.T) {
	a := newArchiveApp(t)

	resp, _ := postEdit(t, a, validBody(), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	editID := resp.Header.Get(headerEditID)
	require.NotEmpty(t, editID)

	manifestResp, raw := get(t, a, http.MethodGet, "/api/edits/"+editID)
	require.Equal(t, http.StatusOK, manifestResp.StatusCode)
	var manifest archive.Manifest
	require.NoError(t, json.Unmarshal(raw, &manifest))
	require.Equal(t, editID, manifest.ID.String())
	require.Equal(t, "gemini", manifest.Provider)
	require.Equal(t, "remove the background", manifest.Prompt)

	outResp, out := get(t, a, http.MethodGet, "/api/edits/"+editID+"/output")
	require.Equal(t, http.StatusOK, outResp.StatusCode)
	require.Equal(t, "image/png", outResp.Header.Get(fiber.HeaderContentType))
	require.Equal(t, "out", string(out))

	inResp, in := get(t, a, http.MethodGet, "/api/edits/"+editID+"/input")
	require.Equal(t, http.StatusOK, inResp.StatusCode)
	require.Equal(t, "image/jpeg", inResp.Header.Get(fiber.HeaderContentType))
	require.Equal(t, "img", string(in))

	delResp, _ := get(t, a, http.MethodDelete, "/api/edits/"+editID)
	require.Equal(t, http.StatusNoContent, delResp.StatusCode)

	goneResp, body := get(t, a, http.MethodGet, "/api/edits/"+editID)
	require.Equal(t, http.StatusNotFound, goneResp.StatusCode)
	require.Contains(t, string(body), msgEditNotFound)
}

func TestArchiveRoutesRejectBadInput(t *testing.T) {
	a := newArchiveApp(t)

	resp, body := get(t, a, http.MethodGet, "/api/edits/not-a-uuid")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Contains(t, string(body), msgInvalidEditID)

	resp, _ = get(t, a, http.MethodGet, "/api/edits/"+uuid.NewString())
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = get(t, a, http.MethodDelete, "/api/edits/"+uuid.NewString())
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = get(t, a, http.MethodGet, "/api/edits/"+uuid.NewString()+"/thumbnail")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Contains(t, string(body), msgUnknownAsset)
}

func TestArchiveRoutesWhenDisabled(t *testing.T) {
	a := newTestApp(t, &app.Container{})

	resp, body := get(t, a, http.MethodGet, "/api/edits/"+uuid.NewString())
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Contains(t, string(body), msgArchiveDisabled)
}

func TestHealth(t *testing.T) {
	a := newTestApp(t, &app.Container{})
	resp, err := a.Test(httptest.NewRequest(http.MethodGet, "/api/health", nil), -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, map[string]any{"ok": true}, decodeBody(t, resp))
}

func TestProviderStatus(t *testing.T) {
	cfg := testConfig()
	cfg.Providers.Gemini.APIKey = "secret-gemini"
	cfg.Providers.Fallback = config.ProviderStability
	a := newTestApp(t, &app.Container{Config: cfg})

	resp, err := a.Test(httptest.NewRequest(http.MethodGet, "/api/provider-status", nil), -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, map[string]any{
		"provider":        "gemini",
		"fallback":        "stability",
		"hasGeminiKey":    true,
		"hasStabilityKey": false,
		"modelId":         "gemini-2.5-flash-image",
		"stabilityEngine": "v1-6",
	}, decodeBody(t, resp))
}

func TestProviderStatusWithoutFallback(t *testing.T) {
	a := newTestApp(t, &app.Container{})
	resp, err := a.Test(httptest.NewRequest(http.MethodGet, "/api/provider-status", nil), -1)
	require.NoError(t, err)
	body := decodeBody(t, resp)
	require.Contains(t, body, "fallback")
	require.Nil(t, body["fallback"])
}
