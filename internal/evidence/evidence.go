// Package evidence stores completion evidence files and hands back URLs.
package evidence

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// MaxSize is the largest accepted evidence file.
const MaxSize = 10 << 20

var (
	ErrTooLarge   = errors.New("evidence file too large")
	ErrEmpty      = errors.New("evidence file is empty")
	ErrForeignURL = errors.New("url was not issued by this store")
	ErrBadType    = errors.New("unsupported evidence type")
)

var allowedExt = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".webp": true, ".pdf": true,
}

// DirStore keeps evidence files in a local directory served under BaseURL.
type DirStore struct {
	dir     string
	baseURL string
}

// NewDirStore creates dir if needed.
func NewDirStore(dir, baseURL string) (*DirStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create evidence dir: %w", err)
	}
	return &DirStore{dir: dir, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// Put writes data under a fresh name keeping the original extension, and
// returns its URL.
func (s *DirStore) Put(ctx context.Context, name string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", ErrEmpty
	}
	if len(data) > MaxSize {
		return "", ErrTooLarge
	}
	ext := strings.ToLower(filepath.Ext(name))
	if !allowedExt[ext] {
		return "", fmt.Errorf("%w %q", ErrBadType, ext)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	file := uuid.NewString() + ext
	if err := os.WriteFile(filepath.Join(s.dir, file), data, 0644); err != nil {
		return "", fmt.Errorf("write evidence: %w", err)
	}
	return s.baseURL + "/" + file, nil
}

// Remove deletes the file behind url. Missing files are not an error.
func (s *DirStore) Remove(ctx context.Context, url string) error {
	prefix := s.baseURL + "/"
	if !strings.HasPrefix(url, prefix) {
		return ErrForeignURL
	}
	file := path.Base(strings.TrimPrefix(url, prefix))
	if file == "." || file == "/" || strings.Contains(file, "..") {
		return ErrForeignURL
	}
	if err := os.Remove(filepath.Join(s.dir, file)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove evidence: %w", err)
	}
	return nil
}

// Handler serves the stored files. Mount it at the path of BaseURL.
// Directories are never listed.
func (s *DirStore) Handler() http.Handler {
	return http.FileServer(filesOnly{http.Dir(s.dir)})
}

// filesOnly hides directories so FileServer answers 404 for them.
type filesOnly struct {
	fs http.FileSystem
}

func (f filesOnly) Open(name string) (http.File, error) {
	file, err := f.fs.Open(name)
	if err != nil {
		return nil, err
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}
	if info.IsDir() {
		file.Close()
		return nil, os.ErrNotExist
	}
	return file, nil
}
