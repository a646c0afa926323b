package ocr

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/LiboWorks/screenflow/internal/backend"
)

// Candidate is one recognized string with its confidence.
type Candidate = backend.TextCandidate

// Recognizer reads text from an image region.
type Recognizer interface {
	Recognize(ctx context.Context, img image.Image) ([]Candidate, error)
	Close() error
}

// Factory builds the recognizer for one language.
type Factory func(ctx context.Context, language string) (Recognizer, error)

// ErrUnknownBackend is returned for a backend name with no factory.
var ErrUnknownBackend = errors.New("unknown OCR backend")

type key struct {
	backend  string
	language string
}

type entry struct {
	once sync.Once
	rec  Recognizer
	err  error
}

// Registry hands out one recognizer per (backend, language), created on
// first use. A failed initialization is cached for that entry only; other
// entries are unaffected.
type Registry struct {
	mu        sync.Mutex
	factories map[string]Factory
	entries   map[key]*entry
	fallback  string
	logger    *zap.Logger
}

// NewRegistry creates an empty registry. defaultBackend is used when a
// caller passes an empty backend name.
func NewRegistry(defaultBackend string, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		factories: make(map[string]Factory),
		entries:   make(map[key]*entry),
		fallback:  defaultBackend,
		logger:    logger.Named("ocr"),
	}
}

// Register adds a backend factory.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[strings.ToLower(name)] = f
}

// Backends returns the sorted names of registered backends.
func (r *Registry) Backends() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Recognizer returns the recognizer for backend and language, creating it
// on first use.
func (r *Registry) Recognizer(ctx context.Context, backendName, language string) (Recognizer, error) {
	if backendName == "" {
		backendName = r.fallback
	}
	backendName = strings.ToLower(backendName)
	k := key{backend: backendName, language: language}

	r.mu.Lock()
	f, ok := r.factories[backendName]
	if !ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w %q", ErrUnknownBackend, backendName)
	}
	e, ok := r.entries[k]
	if !ok {
		e = &entry{}
		r.entries[k] = e
	}
	r.mu.Unlock()

	e.once.Do(func() {
		e.rec, e.err = f(ctx, language)
		if e.err != nil {
			r.logger.Error("Recognizer initialization failed",
				zap.String("backend", backendName), zap.String("language", language), zap.Error(e.err))
			return
		}
		r.logger.Info("Recognizer ready", zap.String("backend", backendName), zap.String("language", language))
	})
	if e.err != nil {
		return nil, fmt.Errorf("%s recognizer for %q: %w", backendName, language, e.err)
	}
	return e.rec, nil
}

// Close releases every initialized recognizer.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for k, e := range r.entries {
		if e.rec != nil {
			if err := e.rec.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %s/%s: %w", k.backend, k.language, err))
			}
		}
	}
	r.entries = make(map[key]*entry)
	return errors.Join(errs...)
}
