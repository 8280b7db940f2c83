package archive

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ncecere/carving_editor/internal/models"
	"github.com/ncecere/carving_editor/internal/storage/blob"
)

// ErrNotFound is returned when no archived edit exists for an ID.
var ErrNotFound = errors.New("edit not found")

// Asset names one of the two archived images of an edit.
type Asset string

const (
	AssetInput  Asset = "input"
	AssetOutput Asset = "output"
)

// Manifest describes one archived edit.
type Manifest struct {
	ID             uuid.UUID `json:"id"`
	Provider       string    `json:"provider"`
	Prompt         string    `json:"prompt"`
	InputKey       string    `json:"input_key"`
	InputMimeType  string    `json:"input_mime_type"`
	InputChecksum  string    `json:"input_sha256"`
	OutputKey      string    `json:"output_key"`
	OutputMimeType string    `json:"output_mime_type"`
	CreatedAt      time.Time `json:"created_at"`
}

// Service stores the uploaded image, the edited image and a manifest per
// edit under edits/<id>/, so the ID alone locates all three.
type Service struct {
	store blob.Store
	now   func() time.Time
}

func NewService(store blob.Store) *Service {
	return &Service{store: store, now: time.Now}
}

func editPrefix(id uuid.UUID) string {
	return path.Join("edits", id.String())
}

func manifestKey(id uuid.UUID) string {
	return path.Join(editPrefix(id), "manifest.json")
}

// Save archives a successful edit and returns its manifest. The manifest is
// written last so a readable manifest implies both images exist.
func (s *Service) Save(ctx context.Context, req models.EditRequest, output models.InlineData, provider string) (Manifest, error) {
	if s == nil || s.store == nil {
		return Manifest{}, fmt.Errorf("archive not configured")
	}
	input, err := models.DecodeImageData(req.ImageBase64)
	if err != nil {
		return Manifest{}, fmt.Errorf("decode input image: %w", err)
	}
	edited, err := models.DecodeImageData(output.Data)
	if err != nil {
		return Manifest{}, fmt.Errorf("decode output image: %w", err)
	}

	id := uuid.New()
	prefix := editPrefix(id)
	sum := sha256.Sum256(input)

	m := Manifest{
		ID:             id,
		Provider:       provider,
		Prompt:         req.Prompt,
		InputKey:       path.Join(prefix, string(AssetInput)+extensionFor(req.MimeType)),
		InputMimeType:  req.MimeType,
		InputChecksum:  hex.EncodeToString(sum[:]),
		OutputKey:      path.Join(prefix, string(AssetOutput)+extensionFor(output.MimeType)),
		OutputMimeType: output.MimeType,
		CreatedAt:      s.now().UTC(),
	}

	if err := s.store.Put(ctx, blob.Object{Key: m.InputKey, ContentType: req.MimeType, Data: input}); err != nil {
		return Manifest{}, fmt.Errorf("store input: %w", err)
	}
	if err := s.store.Put(ctx, blob.Object{Key: m.OutputKey, ContentType: output.MimeType, Data: edited}); err != nil {
		return Manifest{}, fmt.Errorf("store output: %w", err)
	}
	data, err := json.Marshal(m)
	if err != nil {
		return Manifest{}, err
	}
	if err := s.store.Put(ctx, blob.Object{Key: manifestKey(id), ContentType: "application/json", Data: data}); err != nil {
		return Manifest{}, fmt.Errorf("store manifest: %w", err)
	}
	return m, nil
}

// Load reads back the manifest for an archived edit.
func (s *Service) Load(ctx context.Context, id uuid.UUID) (Manifest, error) {
	obj, err := s.store.Get(ctx, manifestKey(id))
	if errors.Is(err, blob.ErrNotFound) {
		return Manifest{}, ErrNotFound
	}
	if err != nil {
		return Manifest{}, err
	}
	var m Manifest
	if err := json.Unmarshal(obj.Data, &m); err != nil {
		return Manifest{}, fmt.Errorf("decode manifest: %w", err)
	}
	return m, nil
}

// Image returns the bytes and MIME type of one archived image.
func (s *Service) Image(ctx context.Context, id uuid.UUID, asset Asset) ([]byte, string, error) {
	m, err := s.Load(ctx, id)
	if err != nil {
		return nil, "", err
	}
	key, mimeType := m.OutputKey, m.OutputMimeType
	switch asset {
	case AssetOutput:
	case AssetInput:
		key, mimeType = m.InputKey, m.InputMimeType
	default:
		return nil, "", fmt.Errorf("unknown asset %q", asset)
	}
	obj, err := s.store.Get(ctx, key)
	if errors.Is(err, blob.ErrNotFound) {
		return nil, "", ErrNotFound
	}
	if err != nil {
		return nil, "", err
	}
	return obj.Data, mimeType, nil
}

// Delete removes every object of an archived edit. The manifest goes first so
// a partially deleted edit is no longer visible.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	m, err := s.Load(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, manifestKey(id)); err != nil {
		return fmt.Errorf("delete manifest: %w", err)
	}
	if err := s.store.Delete(ctx, m.InputKey, m.OutputKey); err != nil {
		return fmt.Errorf("delete images: %w", err)
	}
	return nil
}

func extensionFor(mimeType string) string {
	switch strings.ToLower(strings.TrimSpace(mimeType)) {
	case "image/png":
		return ".png"
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	default:
		return ".bin"
	}
}
