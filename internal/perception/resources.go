package perception

import (
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ResourceStore loads reference images addressed by language and file name.
type ResourceStore interface {
	Load(language, name string) (image.Image, error)
}

// DirStore reads reference images from <root>/<language>/<name> and caches
// decoded images for the life of the store.
type DirStore struct {
	root string

	mu    sync.Mutex
	cache map[string]image.Image
}

// NewDirStore returns a store rooted at dir.
func NewDirStore(dir string) *DirStore {
	return &DirStore{root: dir, cache: make(map[string]image.Image)}
}

// Path returns the file a resource is read from.
func (s *DirStore) Path(language, name string) string {
	return filepath.Join(s.root, language, filepath.FromSlash(name))
}

// Load implements ResourceStore.
func (s *DirStore) Load(language, name string) (image.Image, error) {
	const op = "load_resource"
	if name == "" || strings.Contains(name, "..") || filepath.IsAbs(name) {
		return nil, fail(op, ErrResourceNotFound, fmt.Errorf("invalid resource name %q", name))
	}
	path := s.Path(language, name)

	s.mu.Lock()
	img, ok := s.cache[path]
	s.mu.Unlock()
	if ok {
		return img, nil
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fail(op, ErrResourceNotFound, fmt.Errorf("%s", path))
		}
		return nil, fail(op, ErrResourceNotFound, err)
	}
	defer f.Close()

	img, _, err = image.Decode(f)
	if err != nil {
		return nil, fail(op, ErrDecodeFailed, fmt.Errorf("%s: %w", path, err))
	}

	s.mu.Lock()
	s.cache[path] = img
	s.mu.Unlock()
	return img, nil
}
