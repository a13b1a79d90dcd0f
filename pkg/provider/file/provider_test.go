package file

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/quickcast/pkg/provider"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(Config{Root: filepath.Join(t.TempDir(), "shared"), BaseURL: "/media/"})
	require.NoError(t, err)
	return s
}

func TestNew_RequiresRoot(t *testing.T) {
	_, err := New(Config{Root: "  "})
	assert.Error(t, err)
}

func TestStore_PutHeadGet(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	body := "RIFF....WAVE"
	err := s.Put(ctx, "ab12cd34.wav", strings.NewReader(body), int64(len(body)), provider.PutOptions{
		ContentType: "audio/wav",
		Metadata:    map[string]string{"title": "b64:SGk", "duration": "2.5"},
	})
	require.NoError(t, err)

	meta, err := s.Head(ctx, "ab12cd34.wav")
	require.NoError(t, err)
	assert.Equal(t, "ab12cd34.wav", meta.Key)
	assert.Equal(t, int64(len(body)), meta.Size)
	assert.Equal(t, "audio/wav", meta.ContentType)
	assert.Equal(t, "2.5", meta.Metadata["duration"])
	assert.WithinDuration(t, time.Now(), meta.LastModified, time.Minute)

	rc, gmeta, err := s.GetObject(ctx, "/ab12cd34.wav")
	require.NoError(t, err)
	defer func() { _ = rc.Close() }()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, body, string(data))
	assert.Equal(t, "audio/wav", gmeta.ContentType)

	entries, err := os.ReadDir(s.Root())
	require.NoError(t, err)
	assert.Len(t, entries, 2, "object and sidecar only, no temp files left")
}

func TestStore_PutSizeMismatch(t *testing.T) {
	s := newStore(t)
	err := s.Put(context.Background(), "a.wav", strings.NewReader("abc"), 10, provider.PutOptions{})
	require.Error(t, err)

	_, err = s.Head(context.Background(), "a.wav")
	assert.True(t, provider.IsNotFound(err))
}

func TestStore_HeadMissing(t *testing.T) {
	s := newStore(t)
	_, err := s.Head(context.Background(), "nope.wav")
	require.Error(t, err)
	assert.True(t, provider.IsNotFound(err))

	var provErr *provider.ProviderError
	require.ErrorAs(t, err, &provErr)
	assert.Equal(t, provider.ProviderFile, provErr.Provider)
}

func TestStore_Delete(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	require.NoError(t, s.Put(ctx, "x.wav", strings.NewReader("x"), 1, provider.PutOptions{}))

	require.NoError(t, s.Delete(ctx, "x.wav"))
	_, err := s.Head(ctx, "x.wav")
	assert.True(t, provider.IsNotFound(err))
	assert.NoFileExists(t, filepath.Join(s.Root(), "x.wav"+MetaSuffix))

	assert.NoError(t, s.Delete(ctx, "x.wav"), "deleting twice is fine")
}

func TestStore_URL(t *testing.T) {
	s := newStore(t)
	u, err := s.URL(context.Background(), "ab12cd34.wav", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "/media/ab12cd34.wav", u)

	u, err = s.URL(context.Background(), "dir/a b.wav", 0)
	require.NoError(t, err)
	assert.Equal(t, "/media/dir/a%20b.wav", u)
}

func TestStore_RejectsBadKeys(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	for _, key := range []string{"", "  ", "x.wav" + MetaSuffix} {
		err := s.Put(ctx, key, strings.NewReader("x"), 1, provider.PutOptions{})
		assert.Error(t, err, "key %q", key)
	}
}

func TestStore_ConfinesTraversal(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	require.NoError(t, s.Put(ctx, "../escape.wav", strings.NewReader("x"), 1, provider.PutOptions{}))
	assert.FileExists(t, filepath.Join(s.Root(), "escape.wav"))
	assert.NoFileExists(t, filepath.Join(filepath.Dir(s.Root()), "escape.wav"))
}
