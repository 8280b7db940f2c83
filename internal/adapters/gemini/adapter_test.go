package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ncecere/carving_editor/internal/models"
)

func newTestAdapter(t *testing.T, handler http.HandlerFunc) *Adapter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	a, err := New(context.Background(), Options{APIKey: "g-key", BaseURL: srv.URL, Timeout: 5 * time.Second})
	require.NoError(t, err)
	return a
}

func sampleRequest() models.EditRequest {
	return models.EditRequest{ImageBase64: "aW1n", MimeType: "image/jpeg", Prompt: "remove background"}
}

func TestEditSendsImageThenPrompt(t *testing.T) {
	var captured geminiGenerateRequest
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/models/gemini-2.5-flash-image:generateContent", r.URL.Path)
		require.Equal(t, "g-key", r.Header.Get("x-goog-api-key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"role":"model","parts":[
			{"text":"done"},
			{"inlineData":{"mimeType":"image/png","data":"b3V0"}}
		]},"finishReason":"STOP"}]}`))
	})

	result, err := a.Edit(context.Background(), sampleRequest())
	require.NoError(t, err)

	require.Len(t, captured.Contents, 1)
	parts := captured.Contents[0].Parts
	require.Len(t, parts, 2)
	require.Equal(t, "image/jpeg", parts[0].InlineData.MimeType)
	require.Equal(t, "aW1n", parts[0].InlineData.Data)
	require.Equal(t, "remove background", parts[1].Text)
	require.Equal(t, []string{"IMAGE"}, captured.GenerationConfig.ResponseModalities)

	require.Equal(t, ProviderName, result.Provider)
	img, ok := result.FirstImage()
	require.True(t, ok)
	require.Equal(t, "data:image/png;base64,b3V0", img.DataURI())
	require.Equal(t, "done", result.Text())
}

func TestEditTextOnlyResponseHasNoImage(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"I cannot edit this image."}]}}]}`))
	})

	result, err := a.Edit(context.Background(), sampleRequest())
	require.NoError(t, err)
	_, ok := result.FirstImage()
	require.False(t, ok)
	require.Equal(t, "I cannot edit this image.", result.Text())
}

func TestEditQuotaErrorCarriesRetryInfo(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"code":429,"message":"Quota exceeded for metric","status":"RESOURCE_EXHAUSTED",
			"details":[
				{"@type":"type.googleapis.com/google.rpc.QuotaFailure","violations":[]},
				{"@type":"type.googleapis.com/google.rpc.RetryInfo","retryDelay":"40s"}
			]}}`))
	})

	_, err := a.Edit(context.Background(), sampleRequest())
	require.Error(t, err)

	var perr *models.ProviderError
	require.True(t, errors.As(err, &perr))
	require.Equal(t, models.KindQuotaExceeded, perr.Kind)
	require.Equal(t, http.StatusTooManyRequests, perr.Status)
	require.Equal(t, "RESOURCE_EXHAUSTED", perr.Code)
	require.Equal(t, 40*time.Second, perr.RetryAfter)
	require.Equal(t, "Quota exceeded for metric", perr.Message)
	require.NotNil(t, perr.Details)
	require.True(t, models.IsQuota(err))
}

func TestEditServerErrorIsTransport(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"code":400,"message":"Unsupported MIME type","status":"INVALID_ARGUMENT"}}`))
	})

	_, err := a.Edit(context.Background(), sampleRequest())
	var perr *models.ProviderError
	require.True(t, errors.As(err, &perr))
	require.Equal(t, models.KindTransport, perr.Kind)
	require.Equal(t, http.StatusBadRequest, perr.HTTPStatus())
	require.False(t, models.IsQuota(err))
}

func TestEditPlainTextErrorBody(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("upstream RESOURCE_EXHAUSTED"))
	})

	_, err := a.Edit(context.Background(), sampleRequest())
	var perr *models.ProviderError
	require.True(t, errors.As(err, &perr))
	require.Equal(t, models.KindQuotaExceeded, perr.Kind)
	require.Equal(t, "upstream RESOURCE_EXHAUSTED", perr.Details)
}

func TestEditWithoutCredentialsFailsBeforeNetwork(t *testing.T) {
	a, err := New(context.Background(), Options{BaseURL: "http://127.0.0.1:1"})
	require.NoError(t, err)

	_, err = a.Edit(context.Background(), sampleRequest())
	var perr *models.ProviderError
	require.True(t, errors.As(err, &perr))
	require.Equal(t, models.KindNotConfigured, perr.Kind)
	require.Equal(t, http.StatusInternalServerError, perr.HTTPStatus())
	require.Equal(t, "GEMINI_API_KEY is not set", perr.Message)
}

func TestEditNetworkFailureIsTransport(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	a, err := New(context.Background(), Options{APIKey: "k", BaseURL: url})
	require.NoError(t, err)

	_, err = a.Edit(context.Background(), sampleRequest())
	var perr *models.ProviderError
	require.True(t, errors.As(err, &perr))
	require.Equal(t, models.KindTransport, perr.Kind)
	require.Equal(t, http.StatusInternalServerError, perr.HTTPStatus())
}

func TestVertexModeUsesInjectedClientWithoutAPIKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Empty(t, r.Header.Get("x-goog-api-key"))
		require.Equal(t, "/models/custom-model:generateContent", r.URL.Path)
		_, _ = w.Write([]byte(`{"candidates":[]}`))
	}))
	t.Cleanup(srv.Close)

	a, err := New(context.Background(), Options{
		APIKey:          "ignored",
		Model:           "custom-model",
		BaseURL:         srv.URL,
		ProjectID:       "proj",
		CredentialsJSON: []byte(`{"type":"service_account"}`),
		HTTPClient:      srv.Client(),
	})
	require.NoError(t, err)
	require.Equal(t, "custom-model", a.Model())

	result, err := a.Edit(context.Background(), sampleRequest())
	require.NoError(t, err)
	require.Empty(t, result.Candidates)
}
