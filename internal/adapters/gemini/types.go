package gemini

import (
	"encoding/json"
	"strings"
)

type geminiInlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	ResponseModalities []string `json:"responseModalities,omitempty"`
}

type geminiGenerateRequest struct {
	Contents         []geminiContent         `json:"contents"`
	GenerationConfig *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason,omitempty"`
}

type geminiGenerateResponse struct {
	Candidates []geminiCandidate `json:"candidates"`
}

// geminiAPIError is the google.rpc.Status envelope returned on failures.
type geminiAPIError struct {
	Error geminiErrorBody `json:"error"`
}

type geminiErrorBody struct {
	Code    int               `json:"code"`
	Message string            `json:"message"`
	Status  string            `json:"status"`
	Details []json.RawMessage `json:"details,omitempty"`
}

type geminiErrorDetail struct {
	Type       string `json:"@type"`
	RetryDelay string `json:"retryDelay,omitempty"`
}

// retryDelay returns the RetryInfo delay string, if the error carries one.
func (b geminiErrorBody) retryDelay() string {
	for _, raw := range b.Details {
		var detail geminiErrorDetail
		if err := json.Unmarshal(raw, &detail); err != nil {
			continue
		}
		if strings.Contains(detail.Type, "RetryInfo") && detail.RetryDelay != "" {
			return detail.RetryDelay
		}
	}
	return ""
}
