package ocr

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/LiboWorks/screenflow/internal/backend"
)

// tesseractLanguages maps short language codes to tesseract traineddata names.
var tesseractLanguages = map[string]string{
	"en":    "eng",
	"de":    "deu",
	"fr":    "fra",
	"es":    "spa",
	"it":    "ita",
	"pt":    "por",
	"ru":    "rus",
	"ja":    "jpn",
	"ko":    "kor",
	"zh":    "chi_sim",
	"zh-tw": "chi_tra",
}

// TesseractLanguage returns the traineddata name for a language code.
// Unknown codes are passed through.
func TesseractLanguage(code string) string {
	code = strings.ToLower(strings.TrimSpace(code))
	if lang, ok := tesseractLanguages[code]; ok {
		return lang
	}
	return code
}

// TesseractConfig configures the deterministic recognizer.
type TesseractConfig struct {
	Path       string
	PSM        int
	Preprocess PreprocessOptions
}

// TesseractRecognizer binarizes the region and runs the tesseract CLI on it.
type TesseractRecognizer struct {
	shell  backend.ShellBackend
	cfg    TesseractConfig
	lang   string
	logger *zap.Logger
}

// NewTesseract checks that tesseract has data for language and returns a
// recognizer for it.
func NewTesseract(ctx context.Context, shell backend.ShellBackend, cfg TesseractConfig, language string, logger *zap.Logger) (*TesseractRecognizer, error) {
	if cfg.Path == "" {
		cfg.Path = "tesseract"
	}
	if cfg.PSM == 0 {
		cfg.PSM = 7
	}
	lang := TesseractLanguage(language)

	out, err := shell.Exec(ctx, cfg.Path, "--list-langs")
	if err != nil {
		return nil, fmt.Errorf("list tesseract languages: %w", err)
	}
	if !hasLanguage(string(out), lang) {
		return nil, fmt.Errorf("tesseract has no traineddata for %q", lang)
	}

	if logger == nil {
		logger = zap.NewNop()
	}
	return &TesseractRecognizer{shell: shell, cfg: cfg, lang: lang, logger: logger.Named("tesseract")}, nil
}

func hasLanguage(listing, lang string) bool {
	for _, line := range strings.Split(listing, "\n") {
		if strings.TrimSpace(line) == lang {
			return true
		}
	}
	return false
}

// Recognize implements Recognizer. Each non-empty output line becomes one
// candidate.
func (t *TesseractRecognizer) Recognize(ctx context.Context, img image.Image) ([]Candidate, error) {
	prepared := Preprocess(img, t.cfg.Preprocess)

	f, err := os.CreateTemp("", "screenflow-ocr-*.png")
	if err != nil {
		return nil, err
	}
	defer os.Remove(f.Name())

	if err := png.Encode(f, prepared); err != nil {
		f.Close()
		return nil, fmt.Errorf("encode region: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, err
	}

	out, err := t.shell.Exec(ctx, t.cfg.Path, f.Name(), "stdout", "-l", t.lang, "--psm", strconv.Itoa(t.cfg.PSM))
	if err != nil {
		return nil, fmt.Errorf("tesseract: %w", err)
	}
	candidates := splitLines(string(out))
	t.logger.Debug("Tesseract output", zap.String("language", t.lang), zap.Int("lines", len(candidates)))
	return candidates, nil
}

func splitLines(text string) []Candidate {
	var out []Candidate
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, Candidate{Text: line})
		}
	}
	return out
}

// Close implements Recognizer.
func (t *TesseractRecognizer) Close() error {
	return nil
}

// TesseractFactory returns a Factory producing tesseract recognizers.
func TesseractFactory(shell backend.ShellBackend, cfg TesseractConfig, logger *zap.Logger) Factory {
	return func(ctx context.Context, language string) (Recognizer, error) {
		rec, err := NewTesseract(ctx, shell, cfg, language, logger)
		if err != nil {
			return nil, err
		}
		return rec, nil
	}
}
