// Package storage persists raw document bytes and extracted text outside the
// database. Blobs are content-addressed: the caller supplies a hash-derived
// key, so writing the same content twice is a no-op.
package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// Storage stores and retrieves immutable blobs by key.
type Storage interface {
	// Put writes data under key and returns a URI for later retrieval.
	Put(ctx context.Context, key string, data []byte) (string, error)
	// Get reads the blob a previous Put returned uri for.
	Get(ctx context.Context, uri string) ([]byte, error)
}

// Local stores blobs on the local filesystem under a root directory, sharded
// by the first two characters of the key so no single directory grows
// unbounded.
type Local struct {
	root string
}

// NewLocal creates the root directory if needed and returns a Local store.
func NewLocal(root string) (*Local, error) {
	if root == "" {
		return nil, eris.New("storage: root directory required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, eris.Wrapf(err, "storage: create root %s", root)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, eris.Wrap(err, "storage: resolve root")
	}
	return &Local{root: abs}, nil
}

func (l *Local) Put(ctx context.Context, key string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", eris.Wrap(err, "storage: put")
	}
	path, err := l.pathFor(key)
	if err != nil {
		return "", err
	}

	// Content-addressed: an existing blob under this key is the same bytes.
	if _, err := os.Stat(path); err == nil {
		return uriFor(path), nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", eris.Wrapf(err, "storage: create shard dir for %s", key)
	}

	// Write to a temp file then rename so readers never see partial blobs.
	tmp, err := os.CreateTemp(filepath.Dir(path), ".put-*")
	if err != nil {
		return "", eris.Wrap(err, "storage: create temp file")
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", eris.Wrapf(err, "storage: write %s", key)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", eris.Wrapf(err, "storage: close %s", key)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return "", eris.Wrapf(err, "storage: rename %s", key)
	}
	return uriFor(path), nil
}

func (l *Local) Get(ctx context.Context, uri string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "storage: get")
	}
	path := strings.TrimPrefix(uri, "file://")
	if !strings.HasPrefix(path, l.root+string(filepath.Separator)) {
		return nil, eris.Errorf("storage: uri outside root: %s", uri)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "storage: read %s", uri)
	}
	return data, nil
}

// pathFor maps a key like "abc123.pdf" to <root>/ab/abc123.pdf.
func (l *Local) pathFor(key string) (string, error) {
	if len(key) < 2 || strings.ContainsAny(key, "/\\") || strings.Contains(key, "..") {
		return "", eris.Errorf("storage: invalid key %q", key)
	}
	return filepath.Join(l.root, key[:2], key), nil
}

func uriFor(path string) string {
	return "file://" + path
}
