// Package backend defines the external tools screenflow drives: a shell
// for command-line programs (adb, tesseract) and vision models that read
// text from screen regions.
package backend

import "context"

// TextCandidate is one recognized text fragment with the recognizer's
// confidence in [0, 1]. Zero means the backend does not report confidence.
type TextCandidate struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// VisionBackend reads text from an image.
type VisionBackend interface {
	// ReadText returns ranked candidates for the text in png, best first.
	// language is a hint such as "en".
	ReadText(ctx context.Context, png []byte, language string) ([]TextCandidate, error)

	// Name returns a human-readable name for the backend.
	Name() string

	// Close releases any resources held by the backend.
	Close() error
}

// ShellBackend executes external programs.
type ShellBackend interface {
	// Run executes a shell command line and returns its stdout.
	Run(ctx context.Context, command string) (string, error)

	// RunWithEnv executes with additional environment variables.
	RunWithEnv(ctx context.Context, command string, env map[string]string) (string, error)

	// Exec runs name with args directly, without a shell, and returns stdout.
	Exec(ctx context.Context, name string, args ...string) ([]byte, error)
}
