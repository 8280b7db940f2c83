package models

import (
	"errors"
	"testing"
)

func TestEditRequestValidate(t *testing.T) {
	valid := EditRequest{ImageBase64: "AAAA", MimeType: "image/png", Prompt: "clean"}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid request rejected: %v", err)
	}

	tests := []struct {
		name string
		req  EditRequest
	}{
		{name: "missing image", req: EditRequest{MimeType: "image/png", Prompt: "clean"}},
		{name: "missing mime", req: EditRequest{ImageBase64: "AAAA", Prompt: "clean"}},
		{name: "missing prompt", req: EditRequest{ImageBase64: "AAAA", MimeType: "image/png"}},
		{name: "blank prompt", req: EditRequest{ImageBase64: "AAAA", MimeType: "image/png", Prompt: "   "}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.req.Validate(); !errors.Is(err, ErrInvalidRequest) {
				t.Fatalf("expected ErrInvalidRequest, got %v", err)
			}
		})
	}
}

func TestEditResultFirstImageUsesFirstCandidateOnly(t *testing.T) {
	result := EditResult{Candidates: []Candidate{
		{Parts: []Part{
			{Text: "here you go"},
			{InlineData: &InlineData{MimeType: "image/png", Data: "AAAA"}},
			{InlineData: &InlineData{MimeType: "image/jpeg", Data: "BBBB"}},
		}},
		{Parts: []Part{{InlineData: &InlineData{MimeType: "image/png", Data: "CCCC"}}}},
	}}

	img, ok := result.FirstImage()
	if !ok {
		t.Fatalf("expected an image")
	}
	if got := img.DataURI(); got != "data:image/png;base64,AAAA" {
		t.Fatalf("unexpected data uri %q", got)
	}

	textOnly := EditResult{Candidates: []Candidate{
		{Parts: []Part{{Text: "cannot edit"}, {Text: "try again"}}},
		{Parts: []Part{{InlineData: &InlineData{MimeType: "image/png", Data: "CCCC"}}}},
	}}
	if _, ok := textOnly.FirstImage(); ok {
		t.Fatalf("images in later candidates must be ignored")
	}
	if got := textOnly.Text(); got != "cannot edit\ntry again" {
		t.Fatalf("unexpected text %q", got)
	}

	if _, ok := (EditResult{}).FirstImage(); ok {
		t.Fatalf("empty result should have no image")
	}
}

func TestDecodeImageDataAcceptsPaddedAndUnpadded(t *testing.T) {
	for _, in := range []string{"aW1hZ2U=", "aW1hZ2U", " aW1hZ2U=\n"} {
		got, err := DecodeImageData(in)
		if err != nil {
			t.Fatalf("decode %q: %v", in, err)
		}
		if string(got) != "image" {
			t.Fatalf("decode %q = %q", in, got)
		}
	}
	if _, err := DecodeImageData("!!not-base64!!"); err == nil {
		t.Fatalf("expected error for invalid data")
	}
}
