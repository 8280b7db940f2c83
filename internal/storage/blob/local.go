package blob

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/ncecere/carving_editor/internal/config"
)

// localStore writes objects under a directory; the content type is derived
// from the key's extension.
type localStore struct {
	root string
}

func newLocalStore(cfg config.ArchiveLocalConfig) (*localStore, error) {
	root := strings.TrimSpace(cfg.Directory)
	if root == "" {
		root = "./data/edits"
	}
	root = filepath.Clean(root)
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create archive dir: %w", err)
	}
	return &localStore{root: root}, nil
}

func (s *localStore) path(key string) (string, error) {
	cleaned, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.root, filepath.FromSlash(cleaned)), nil
}

func (s *localStore) Put(ctx context.Context, obj Object) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	target, err := s.path(obj.Key)
	if err != nil {
		return err
	}
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}
	// Write then rename so readers never observe a partial object.
	tmp, err := os.CreateTemp(dir, ".put-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(obj.Data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), target)
}

func (s *localStore) Get(ctx context.Context, key string) (Object, error) {
	if err := ctx.Err(); err != nil {
		return Object{}, err
	}
	target, err := s.path(key)
	if err != nil {
		return Object{}, err
	}
	data, err := os.ReadFile(target)
	if errors.Is(err, fs.ErrNotExist) {
		return Object{}, ErrNotFound
	}
	if err != nil {
		return Object{}, err
	}
	return Object{Key: key, ContentType: contentTypeFor(key), Data: data}, nil
}

// Delete removes the keys and then any directories they leave empty.
func (s *localStore) Delete(_ context.Context, keys ...string) error {
	dirs := make(map[string]struct{})
	for _, key := range keys {
		target, err := s.path(key)
		if err != nil {
			return err
		}
		if err := os.Remove(target); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		dirs[filepath.Dir(target)] = struct{}{}
	}
	for dir := range dirs {
		for dir != s.root && strings.HasPrefix(dir, s.root) {
			if os.Remove(dir) != nil {
				break
			}
			dir = filepath.Dir(dir)
		}
	}
	return nil
}

func contentTypeFor(key string) string {
	if ct := mime.TypeByExtension(path.Ext(key)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
