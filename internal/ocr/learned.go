package ocr

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"

	"github.com/LiboWorks/screenflow/internal/backend"
)

// LearnedRecognizer sends the raw region to a vision backend.
type LearnedRecognizer struct {
	vision   backend.VisionBackend
	language string
	owned    bool
}

// NewLearned wraps vision for one language. When owned is true, Close also
// closes the backend.
func NewLearned(vision backend.VisionBackend, language string, owned bool) *LearnedRecognizer {
	return &LearnedRecognizer{vision: vision, language: language, owned: owned}
}

// Recognize implements Recognizer.
func (l *LearnedRecognizer) Recognize(ctx context.Context, img image.Image) ([]Candidate, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode region: %w", err)
	}
	candidates, err := l.vision.ReadText(ctx, buf.Bytes(), l.language)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", l.vision.Name(), err)
	}
	return candidates, nil
}

// Close implements Recognizer.
func (l *LearnedRecognizer) Close() error {
	if l.owned {
		return l.vision.Close()
	}
	return nil
}

// LearnedFactory returns a Factory that opens a fresh vision backend for
// each language.
func LearnedFactory(open func(ctx context.Context) (backend.VisionBackend, error)) Factory {
	return func(ctx context.Context, language string) (Recognizer, error) {
		vision, err := open(ctx)
		if err != nil {
			return nil, err
		}
		return NewLearned(vision, language, true), nil
	}
}
