package models

import (
	"encoding/base64"
	"errors"
	"strings"
)

// ErrInvalidRequest indicates that an edit request is missing one of the
// required fields and must be rejected before any provider is contacted.
var ErrInvalidRequest = errors.New("missing required fields")

// EditRequest captures a single image edit: one image, one prompt and
// optional advisory output dimensions.
type EditRequest struct {
	// ImageBase64 is the source image, base64 encoded as received on the wire.
	ImageBase64 string
	MimeType    string
	Prompt      string
	// Width and Height are advisory; zero means unset. Not every provider
	// honors them.
	Width  int
	Height int
}

// Validate reports ErrInvalidRequest when the image, mime type or prompt is empty.
func (r EditRequest) Validate() error {
	if strings.TrimSpace(r.ImageBase64) == "" ||
		strings.TrimSpace(r.MimeType) == "" ||
		strings.TrimSpace(r.Prompt) == "" {
		return ErrInvalidRequest
	}
	return nil
}

// DecodeImageData decodes request or provider image data. Padded and
// unpadded standard base64 are both accepted.
func DecodeImageData(data string) ([]byte, error) {
	data = strings.TrimSpace(data)
	if decoded, err := base64.StdEncoding.DecodeString(data); err == nil {
		return decoded, nil
	}
	return base64.RawStdEncoding.DecodeString(strings.TrimRight(data, "="))
}

// InlineData is a base64 image payload returned by a provider.
type InlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

// Part is either image data or text.
type Part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *InlineData `json:"inlineData,omitempty"`
}

// HasImage reports whether the part carries an image payload.
func (p Part) HasImage() bool {
	return p.InlineData != nil && p.InlineData.Data != ""
}

// Candidate groups the ordered output parts of one provider candidate.
type Candidate struct {
	Parts []Part `json:"parts"`
}

// EditResult is the provider-agnostic success value. Only the first image
// part of the first candidate is consumed by callers.
type EditResult struct {
	Provider   string      `json:"provider,omitempty"`
	Candidates []Candidate `json:"candidates"`
}

// FirstImage scans the first candidate's parts in order and returns the
// first one carrying image data.
func (r EditResult) FirstImage() (InlineData, bool) {
	if len(r.Candidates) == 0 {
		return InlineData{}, false
	}
	for _, part := range r.Candidates[0].Parts {
		if part.HasImage() {
			return *part.InlineData, true
		}
	}
	return InlineData{}, false
}

// Text joins the text parts of the first candidate.
func (r EditResult) Text() string {
	if len(r.Candidates) == 0 {
		return ""
	}
	var builder strings.Builder
	for _, part := range r.Candidates[0].Parts {
		if part.Text == "" {
			continue
		}
		if builder.Len() > 0 {
			builder.WriteString("\n")
		}
		builder.WriteString(part.Text)
	}
	return builder.String()
}

// DataURI renders the payload as a data URI.
func (d InlineData) DataURI() string {
	return "data:" + d.MimeType + ";base64," + d.Data
}
