package blob

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/ncecere/carving_editor/internal/config"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("archive object not found")

// Object is one archived file addressed by a slash-separated key.
type Object struct {
	Key         string
	ContentType string
	Data        []byte
}

// Store persists archive objects. Implementations must treat Delete of a
// missing key as success.
type Store interface {
	Put(ctx context.Context, obj Object) error
	Get(ctx context.Context, key string) (Object, error)
	Delete(ctx context.Context, keys ...string) error
}

// New builds the configured backend, sealing objects when an encryption key is set.
func New(ctx context.Context, cfg config.ArchiveConfig) (Store, error) {
	var backend Store
	switch strings.ToLower(strings.TrimSpace(cfg.Storage)) {
	case "s3":
		awsCfg, err := loadS3Config(ctx, cfg.S3)
		if err != nil {
			return nil, err
		}
		s3, err := newS3Store(cfg.S3, awsCfg)
		if err != nil {
			return nil, err
		}
		backend = s3
	default:
		local, err := newLocalStore(cfg.Local)
		if err != nil {
			return nil, err
		}
		backend = local
	}

	if strings.TrimSpace(cfg.EncryptionKey) == "" {
		return backend, nil
	}
	s, err := newSealer(cfg.EncryptionKey)
	if err != nil {
		return nil, err
	}
	return &sealedStore{backend: backend, sealer: s}, nil
}

// cleanKey normalizes key and rejects anything that would leave the archive root.
func cleanKey(key string) (string, error) {
	cleaned := path.Clean("/" + strings.TrimSpace(key))[1:]
	if cleaned == "" || strings.Contains(key, "..") {
		return "", fmt.Errorf("invalid archive key %q", key)
	}
	return cleaned, nil
}

// sealedStore encrypts object bodies before they reach the backend.
type sealedStore struct {
	backend Store
	sealer  *sealer
}

func (s *sealedStore) Put(ctx context.Context, obj Object) error {
	sealed, err := s.sealer.seal(obj.Data)
	if err != nil {
		return err
	}
	obj.Data = sealed
	return s.backend.Put(ctx, obj)
}

// Get opens sealed objects; objects written before encryption was enabled
// are returned as stored.
func (s *sealedStore) Get(ctx context.Context, key string) (Object, error) {
	obj, err := s.backend.Get(ctx, key)
	if err != nil || !isSealed(obj.Data) {
		return obj, err
	}
	plain, err := s.sealer.open(obj.Data)
	if err != nil {
		return Object{}, fmt.Errorf("open %s: %w", key, err)
	}
	obj.Data = plain
	return obj, nil
}

func (s *sealedStore) Delete(ctx context.Context, keys ...string) error {
	return s.backend.Delete(ctx, keys...)
}
