// Package file implements provider.ObjectStore on a local directory.
//
// Objects live at <root>/<key>; content type and user metadata are kept in a
// JSON sidecar at <root>/<key>.meta.json. URLs are built from a base URL the
// HTTP server mounts the store under.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/3leaps/quickcast/pkg/provider"
)

// MetaSuffix is appended to an object path to form its sidecar path.
const MetaSuffix = ".meta.json"

// Config configures a file store.
type Config struct {
	// Root is the directory objects are stored under (required).
	Root string

	// BaseURL prefixes keys in URLs returned by URL, e.g. "/media".
	BaseURL string
}

// Validate checks that required configuration is present.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Root) == "" {
		return fmt.Errorf("root dir is required")
	}
	return nil
}

// Store implements provider.ObjectStore for a local directory.
type Store struct {
	root    string
	baseURL string
}

var (
	_ provider.ObjectStore  = (*Store)(nil)
	_ provider.ObjectGetter = (*Store)(nil)
)

type sidecar struct {
	ContentType string            `json:"content_type,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// New creates a file store rooted at cfg.Root, creating the directory if needed.
func New(cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	root := filepath.Clean(cfg.Root)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, wrapError("New", "", err)
	}
	return &Store{root: root, baseURL: strings.TrimRight(cfg.BaseURL, "/")}, nil
}

// Root returns the store's root directory.
func (s *Store) Root() string { return s.root }

func (s *Store) Close() error { return nil }

// Put writes body to key atomically, then writes the metadata sidecar.
func (s *Store) Put(ctx context.Context, key string, body io.Reader, size int64, opts provider.PutOptions) error {
	full, err := s.fullPath(key)
	if err != nil {
		return wrapError("Put", key, err)
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return wrapError("Put", key, err)
	}

	n, err := writeAtomic(full, body)
	if err != nil {
		return wrapError("Put", key, err)
	}
	if size >= 0 && n != size {
		_ = os.Remove(full)
		return wrapError("Put", key, fmt.Errorf("short write: got %d bytes, want %d", n, size))
	}

	meta, err := json.Marshal(sidecar{ContentType: opts.ContentType, Metadata: opts.Metadata})
	if err != nil {
		return wrapError("Put", key, err)
	}
	if _, err := writeAtomic(full+MetaSuffix, strings.NewReader(string(meta))); err != nil {
		return wrapError("Put", key, err)
	}
	return nil
}

// Head returns the object's size, modification time and sidecar metadata.
func (s *Store) Head(ctx context.Context, key string) (*provider.ObjectMeta, error) {
	full, err := s.fullPath(key)
	if err != nil {
		return nil, wrapError("Head", key, err)
	}
	st, err := os.Stat(full)
	if err != nil {
		return nil, wrapError("Head", key, err)
	}
	if st.IsDir() {
		return nil, &provider.ProviderError{Op: "Head", Provider: provider.ProviderFile, Key: key, Err: provider.ErrNotFound}
	}

	meta := &provider.ObjectMeta{
		Key:          cleanKey(key),
		Size:         st.Size(),
		LastModified: st.ModTime(),
	}
	raw, err := os.ReadFile(full + MetaSuffix)
	switch {
	case err == nil:
		var sc sidecar
		if err := json.Unmarshal(raw, &sc); err != nil {
			return nil, wrapError("Head", key, fmt.Errorf("corrupt metadata sidecar: %w", err))
		}
		meta.ContentType = sc.ContentType
		meta.Metadata = sc.Metadata
	case !os.IsNotExist(err):
		return nil, wrapError("Head", key, err)
	}
	return meta, nil
}

// GetObject opens the object for reading. The caller closes the body.
func (s *Store) GetObject(ctx context.Context, key string) (io.ReadCloser, *provider.ObjectMeta, error) {
	meta, err := s.Head(ctx, key)
	if err != nil {
		return nil, nil, err
	}
	full, _ := s.fullPath(key)
	f, err := os.Open(full)
	if err != nil {
		return nil, nil, wrapError("GetObject", key, err)
	}
	return f, meta, nil
}

// Delete removes the object and its sidecar. Missing objects are not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	full, err := s.fullPath(key)
	if err != nil {
		return wrapError("Delete", key, err)
	}
	for _, p := range []string{full, full + MetaSuffix} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return wrapError("Delete", key, err)
		}
	}
	return nil
}

// URL returns <BaseURL>/<key>. The ttl is ignored; expiry is enforced by
// the share metadata rather than by the link.
func (s *Store) URL(ctx context.Context, key string, _ time.Duration) (string, error) {
	if _, err := s.fullPath(key); err != nil {
		return "", wrapError("URL", key, err)
	}
	parts := strings.Split(cleanKey(key), "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return s.baseURL + "/" + strings.Join(parts, "/"), nil
}

func cleanKey(key string) string {
	return strings.TrimPrefix(strings.TrimSpace(key), "/")
}

func (s *Store) fullPath(key string) (string, error) {
	key = cleanKey(key)
	if key == "" {
		return "", fmt.Errorf("empty key")
	}
	// Prevent path traversal.
	clean := strings.TrimPrefix(filepath.Clean("/"+key), "/")
	if clean == "" || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("invalid key path")
	}
	if strings.HasSuffix(clean, MetaSuffix) {
		return "", fmt.Errorf("reserved key suffix %q", MetaSuffix)
	}
	return filepath.Join(s.root, filepath.FromSlash(clean)), nil
}

func writeAtomic(path string, r io.Reader) (int64, error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".quickcast-put-*")
	if err != nil {
		return 0, err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	n, err := io.Copy(tmp, r)
	if err != nil {
		return n, err
	}
	if err := tmp.Close(); err != nil {
		return n, err
	}
	return n, os.Rename(tmpName, path)
}

func wrapError(op, key string, err error) error {
	wrapped := &provider.ProviderError{Op: op, Provider: provider.ProviderFile, Key: key, Err: err}
	switch {
	case os.IsNotExist(err):
		wrapped.Err = provider.ErrNotFound
	case os.IsPermission(err):
		wrapped.Err = provider.ErrAccessDenied
	}
	return wrapped
}
