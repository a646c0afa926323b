package perception

import (
	"context"
	"errors"
	"image"
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/LiboWorks/screenflow/internal/device"
	"github.com/LiboWorks/screenflow/internal/ocr"
)

// LastCaptureName is the artifact name of the most recent analyzed region.
const LastCaptureName = "last_capture.png"

// TextRecognizers hands out recognizers per backend and language.
type TextRecognizers interface {
	Recognizer(ctx context.Context, backend, language string) (ocr.Recognizer, error)
}

// ArtifactSink receives debug images.
type ArtifactSink interface {
	WriteImage(name string, img image.Image) error
}

// Options are the default strategy parameters. Per-call arguments override
// Threshold and MinMatches.
type Options struct {
	Threshold         float64
	MinMatches        int
	MaxHamming        int
	Ratio             float64
	ClusterEps        float64
	ClusterMinSamples int
	MaxKeypoints      int
	PyramidLevels     int
	TextBackend       string
}

// DefaultOptions returns the built-in strategy parameters.
func DefaultOptions() Options {
	return Options{
		Threshold:         0.85,
		MinMatches:        10,
		MaxHamming:        64,
		Ratio:             0.75,
		ClusterEps:        40,
		ClusterMinSamples: 3,
		MaxKeypoints:      500,
		PyramidLevels:     3,
	}
}

// Engine runs the perception primitives against live captures. Every
// primitive captures first and fails closed: on any failure it returns a
// negative result together with a *Failure, after logging it.
type Engine struct {
	capture   device.Capturer
	resources ResourceStore
	text      TextRecognizers
	artifacts ArtifactSink
	opts      Options
	logger    *zap.Logger
}

// NewEngine creates an engine. text may be nil when no text matching is
// needed.
func NewEngine(capture device.Capturer, resources ResourceStore, text TextRecognizers, opts Options, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		capture:   capture,
		resources: resources,
		text:      text,
		opts:      opts,
		logger:    logger.Named("perception"),
	}
}

// WithArtifacts makes the engine dump every analyzed region to sink.
func (e *Engine) WithArtifacts(sink ArtifactSink) *Engine {
	e.artifacts = sink
	return e
}

// Options returns the engine defaults.
func (e *Engine) Options() Options {
	return e.opts
}

// grab captures the screen and extracts region r (whole screen when nil).
// The returned origin is the region's top-left in screen coordinates.
func (e *Engine) grab(ctx context.Context, op string, t device.Target, r *Region) (image.Image, image.Point, error) {
	screen, err := e.capture.Capture(ctx, t)
	if err != nil {
		return nil, image.Point{}, fail(op, ErrCaptureFailed, err)
	}
	if screen == nil {
		return nil, image.Point{}, fail(op, ErrCaptureFailed, nil)
	}

	area := Region{W: screen.Bounds().Dx(), H: screen.Bounds().Dy()}
	if r != nil {
		area = *r
	}
	img, err := Extract(screen, area)
	if err != nil {
		return nil, image.Point{}, retag(op, err, ErrRegionOutOfBounds)
	}

	if e.artifacts != nil {
		if err := e.artifacts.WriteImage(LastCaptureName, img); err != nil {
			e.logger.Debug("Failed to write debug capture", zap.Error(err))
		}
	}
	return img, image.Pt(area.X, area.Y), nil
}

func (e *Engine) load(op string, t device.Target, name string) (image.Image, error) {
	img, err := e.resources.Load(t.Language, name)
	if err != nil {
		return nil, retag(op, err, ErrResourceNotFound)
	}
	return img, nil
}

// retag attributes err to op, keeping its kind when it already has one.
func retag(op string, err, kind error) error {
	var f *Failure
	if errors.As(err, &f) {
		return fail(op, f.Kind, f.Err)
	}
	return fail(op, kind, err)
}

// failed logs err with the call's parameters and returns it.
func (e *Engine) failed(t device.Target, r *Region, err error, fields ...zap.Field) error {
	fields = append(fields, zap.String("target", t.String()), zap.String("region", regionString(r)), zap.Error(err))
	if IsConfiguration(err) {
		e.logger.Error("Perception misconfigured", fields...)
	} else {
		e.logger.Warn("Perception failed", fields...)
	}
	return err
}

func regionString(r *Region) string {
	if r == nil {
		return "screen"
	}
	return r.String()
}

func (e *Engine) threshold(t float64) float64 {
	if t > 0 {
		return t
	}
	return e.opts.Threshold
}

func (e *Engine) featureParams() featureParams {
	return featureParams{MaxKeypoints: e.opts.MaxKeypoints, Levels: e.opts.PyramidLevels}
}

// bestScore correlates tmpl against img and returns the maximum score.
func bestScore(ctx context.Context, op string, img, tmpl image.Image) (float64, error) {
	if err := checkFit(op, img, tmpl); err != nil {
		return 0, err
	}
	s, err := correlate(ctx, NewGray(img), NewGray(tmpl))
	if err != nil {
		return 0, fail(op, ErrDecodeFailed, err)
	}
	score, _ := s.max()
	return score, nil
}

// MatchTemplate reports whether the reference image name appears in the
// region with a correlation score of at least threshold.
func (e *Engine) MatchTemplate(ctx context.Context, t device.Target, r *Region, name string, threshold float64) (bool, error) {
	const op = "match_template"
	threshold = e.threshold(threshold)
	fields := []zap.Field{zap.String("op", op), zap.String("image", name), zap.Float64("threshold", threshold)}

	img, _, err := e.grab(ctx, op, t, r)
	if err != nil {
		return false, e.failed(t, r, err, fields...)
	}
	tmpl, err := e.load(op, t, name)
	if err != nil {
		return false, e.failed(t, r, err, fields...)
	}
	score, err := bestScore(ctx, op, img, tmpl)
	if err != nil {
		return false, e.failed(t, r, err, fields...)
	}

	matched := score >= threshold
	e.logger.Debug("Template score", append(fields, zap.Float64("score", score), zap.Bool("matched", matched))...)
	return matched, nil
}

// MatchAnyTemplate captures once and tries each reference image in order.
// Missing or undecodable references are skipped.
func (e *Engine) MatchAnyTemplate(ctx context.Context, t device.Target, r *Region, names []string, threshold float64) (bool, error) {
	const op = "match_any_template"
	threshold = e.threshold(threshold)
	fields := []zap.Field{zap.String("op", op), zap.Strings("images", names), zap.Float64("threshold", threshold)}

	img, _, err := e.grab(ctx, op, t, r)
	if err != nil {
		return false, e.failed(t, r, err, fields...)
	}

	for _, name := range names {
		tmpl, err := e.load(op, t, name)
		if err != nil {
			e.failed(t, r, err, append(fields, zap.String("image", name))...)
			continue
		}
		score, err := bestScore(ctx, op, img, tmpl)
		if err != nil {
			e.failed(t, r, err, append(fields, zap.String("image", name))...)
			continue
		}
		e.logger.Debug("Template score", append(fields, zap.String("image", name), zap.Float64("score", score))...)
		if score >= threshold {
			return true, nil
		}
	}
	return false, nil
}

// LocateTemplates returns the centers of every occurrence of the reference
// image, in screen coordinates, sorted top to bottom then left to right.
// Only local score maxima become candidates, and at most maxCandidates of
// the strongest are grouped.
func (e *Engine) LocateTemplates(ctx context.Context, t device.Target, r *Region, name string, threshold float64) ([]image.Point, error) {
	const op = "locate_templates"
	threshold = e.threshold(threshold)
	fields := []zap.Field{zap.String("op", op), zap.String("image", name), zap.Float64("threshold", threshold)}

	img, origin, err := e.grab(ctx, op, t, r)
	if err != nil {
		return nil, e.failed(t, r, err, fields...)
	}
	tmpl, err := e.load(op, t, name)
	if err != nil {
		return nil, e.failed(t, r, err, fields...)
	}
	if err := checkFit(op, img, tmpl); err != nil {
		return nil, e.failed(t, r, err, fields...)
	}
	s, err := correlate(ctx, NewGray(img), NewGray(tmpl))
	if err != nil {
		return nil, e.failed(t, r, fail(op, ErrDecodeFailed, err), fields...)
	}

	tw, th := tmpl.Bounds().Dx(), tmpl.Bounds().Dy()
	var boxes []image.Rectangle
	for _, p := range peaks(s, threshold, tw, th, maxCandidates) {
		boxes = append(boxes, image.Rect(p.X, p.Y, p.X+tw, p.Y+th))
	}

	var centers []image.Point
	for _, box := range groupRectangles(boxes, groupEps) {
		centers = append(centers, center(box).Add(origin))
	}
	sortPoints(centers)
	e.logger.Debug("Located templates", append(fields, zap.Int("candidates", len(boxes)), zap.Int("found", len(centers)))...)
	return centers, nil
}

// MatchFeatures reports whether at least minMatches cross-checked feature
// matches link the reference image to the region.
func (e *Engine) MatchFeatures(ctx context.Context, t device.Target, r *Region, name string, minMatches int) (bool, error) {
	const op = "match_features"
	if minMatches <= 0 {
		minMatches = e.opts.MinMatches
	}
	fields := []zap.Field{zap.String("op", op), zap.String("image", name), zap.Int("min_matches", minMatches)}

	img, _, err := e.grab(ctx, op, t, r)
	if err != nil {
		return false, e.failed(t, r, err, fields...)
	}
	tmpl, err := e.load(op, t, name)
	if err != nil {
		return false, e.failed(t, r, err, fields...)
	}

	ref := extractFeatures(tmpl, e.featureParams())
	scene := extractFeatures(img, e.featureParams())
	if len(ref.Descriptors) == 0 || len(scene.Descriptors) == 0 {
		err := fail(op, ErrInsufficientFeatures, nil)
		return false, e.failed(t, r, err, append(fields,
			zap.Int("reference_keypoints", len(ref.Keypoints)), zap.Int("region_keypoints", len(scene.Keypoints)))...)
	}

	matches := crossCheckMatches(ref.Descriptors, scene.Descriptors, e.opts.MaxHamming)
	found := len(matches) >= minMatches
	e.logger.Debug("Feature matches", append(fields, zap.Int("matches", len(matches)), zap.Bool("matched", found))...)
	return found, nil
}

// LocateFeatures finds every instance of the reference image by clustering
// the region keypoints that pass the ratio test. It returns one center per
// cluster in screen coordinates, sorted.
func (e *Engine) LocateFeatures(ctx context.Context, t device.Target, r *Region, name string) ([]image.Point, error) {
	const op = "locate_features"
	fields := []zap.Field{zap.String("op", op), zap.String("image", name),
		zap.Float64("eps", e.opts.ClusterEps), zap.Int("min_samples", e.opts.ClusterMinSamples)}

	img, origin, err := e.grab(ctx, op, t, r)
	if err != nil {
		return nil, e.failed(t, r, err, fields...)
	}
	tmpl, err := e.load(op, t, name)
	if err != nil {
		return nil, e.failed(t, r, err, fields...)
	}

	ref := extractFeatures(tmpl, e.featureParams())
	scene := extractFeatures(img, e.featureParams())
	if len(ref.Descriptors) == 0 || len(scene.Descriptors) == 0 {
		return nil, e.failed(t, r, fail(op, ErrInsufficientFeatures, nil), fields...)
	}

	matches := ratioMatches(scene.Descriptors, ref.Descriptors, e.opts.Ratio, e.opts.MaxHamming)
	points := make([]vec, len(matches))
	for i, m := range matches {
		kp := scene.Keypoints[m.Query]
		points[i] = vec{X: kp.X, Y: kp.Y}
	}

	var centers []image.Point
	for _, members := range dbscan(points, e.opts.ClusterEps, e.opts.ClusterMinSamples) {
		c := centroid(points, members)
		centers = append(centers, image.Pt(int(math.Round(c.X)), int(math.Round(c.Y))).Add(origin))
	}
	sortPoints(centers)
	e.logger.Debug("Located features", append(fields, zap.Int("matches", len(matches)), zap.Int("found", len(centers)))...)
	return centers, nil
}

// MatchText reports whether any recognized fragment in the region contains
// expected, ignoring case. An empty backend selects the default one.
func (e *Engine) MatchText(ctx context.Context, t device.Target, r *Region, expected, backend string) (bool, error) {
	const op = "match_text"
	if backend == "" {
		backend = e.opts.TextBackend
	}
	fields := []zap.Field{zap.String("op", op), zap.String("text", expected), zap.String("backend", backend)}

	img, _, err := e.grab(ctx, op, t, r)
	if err != nil {
		return false, e.failed(t, r, err, fields...)
	}
	if e.text == nil {
		return false, e.failed(t, r, fail(op, ErrRecognitionFailed, nil), fields...)
	}
	rec, err := e.text.Recognizer(ctx, backend, t.Language)
	if err != nil {
		return false, e.failed(t, r, fail(op, ErrRecognitionFailed, err), fields...)
	}
	candidates, err := rec.Recognize(ctx, img)
	if err != nil {
		return false, e.failed(t, r, fail(op, ErrRecognitionFailed, err), fields...)
	}

	want := strings.ToLower(expected)
	texts := make([]string, len(candidates))
	for i, c := range candidates {
		texts[i] = c.Text
		if strings.Contains(strings.ToLower(c.Text), want) {
			e.logger.Debug("Text matched", append(fields, zap.String("fragment", c.Text), zap.Float64("confidence", c.Confidence))...)
			return true, nil
		}
	}
	e.logger.Debug("Text not found", append(fields, zap.Strings("fragments", texts))...)
	return false, nil
}
