// Package output writes debug artifacts: the last analyzed screen region
// and per-instance run transcripts.
package output

import (
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"sync"
)

// Writer writes artifacts under one directory.
type Writer struct {
	dir       string
	mu        sync.Mutex
	truncated map[string]bool
}

// NewWriter creates a writer rooted at dir. The directory is created on
// first write.
func NewWriter(dir string) *Writer {
	return &Writer{
		dir:       dir,
		truncated: make(map[string]bool),
	}
}

// Dir returns the artifact directory.
func (w *Writer) Dir() string {
	return w.dir
}

func (w *Writer) path(name string) (string, error) {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create artifact dir %s: %w", w.dir, err)
	}
	return filepath.Join(w.dir, filepath.Base(name)), nil
}

// WriteFile writes content to name, truncating on the first write and
// appending thereafter.
func (w *Writer) WriteFile(name, content string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	path, err := w.path(name)
	if err != nil {
		return err
	}

	flag := os.O_APPEND | os.O_WRONLY | os.O_CREATE
	if !w.truncated[path] {
		flag = os.O_TRUNC | os.O_WRONLY | os.O_CREATE
		w.truncated[path] = true
	}

	f, err := os.OpenFile(path, flag, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open file %s: %w", path, err)
	}
	defer f.Close()

	if _, err := f.WriteString(content); err != nil {
		return fmt.Errorf("failed to write to file %s: %w", path, err)
	}
	return nil
}

// AppendFile appends content to name, never truncating.
func (w *Writer) AppendFile(name, content string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	path, err := w.path(name)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open file %s: %w", path, err)
	}
	defer f.Close()

	if _, err := f.WriteString(content); err != nil {
		return fmt.Errorf("failed to write to file %s: %w", path, err)
	}
	return nil
}

// WriteImage replaces name with img encoded as PNG. Readers never see a
// partially written file.
func (w *Writer) WriteImage(name string, img image.Image) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	path, err := w.path(name)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(w.dir, ".tmp-*.png")
	if err != nil {
		return fmt.Errorf("failed to create temp file in %s: %w", w.dir, err)
	}
	defer os.Remove(tmp.Name())

	if err := png.Encode(tmp, img); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// Reset forgets which files were truncated.
func (w *Writer) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.truncated = make(map[string]bool)
}
