package evidence

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirStore(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := NewDirStore(dir, "http://localhost:8080/evidence/")
	require.NoError(t, err)

	url, err := s.Put(ctx, "Shelf.PNG", []byte("png-bytes"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, "http://localhost:8080/evidence/"))
	assert.True(t, strings.HasSuffix(url, ".png"))

	name := filepath.Base(url)
	data, err := os.ReadFile(filepath.Join(dir, name))
	require.NoError(t, err)
	assert.Equal(t, "png-bytes", string(data))

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/"+name, nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code, "directory listing is hidden")
	assert.NotContains(t, rec.Body.String(), name)

	require.NoError(t, s.Remove(ctx, url))
	_, err = os.Stat(filepath.Join(dir, name))
	assert.True(t, os.IsNotExist(err))
	require.NoError(t, s.Remove(ctx, url))

	assert.ErrorIs(t, s.Remove(ctx, "http://elsewhere/x.png"), ErrForeignURL)
}

func TestDirStoreRejects(t *testing.T) {
	ctx := context.Background()
	s, err := NewDirStore(t.TempDir(), "/evidence")
	require.NoError(t, err)

	_, err = s.Put(ctx, "a.png", nil)
	assert.ErrorIs(t, err, ErrEmpty)
	_, err = s.Put(ctx, "a.exe", []byte("x"))
	assert.ErrorIs(t, err, ErrBadType)
	_, err = s.Put(ctx, "a.png", make([]byte, MaxSize+1))
	assert.ErrorIs(t, err, ErrTooLarge)
}
