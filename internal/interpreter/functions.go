package interpreter

import (
	"context"
	"fmt"
	"image"

	"go.uber.org/zap"

	"github.com/LiboWorks/screenflow/internal/device"
	"github.com/LiboWorks/screenflow/internal/perception"
	"github.com/LiboWorks/screenflow/internal/runtime"
)

// Perception is the set of screen primitives the callables delegate to.
// *perception.Engine implements it.
type Perception interface {
	MatchTemplate(ctx context.Context, t device.Target, r *perception.Region, name string, threshold float64) (bool, error)
	MatchAnyTemplate(ctx context.Context, t device.Target, r *perception.Region, names []string, threshold float64) (bool, error)
	MatchFeatures(ctx context.Context, t device.Target, r *perception.Region, name string, minMatches int) (bool, error)
	LocateTemplates(ctx context.Context, t device.Target, r *perception.Region, name string, threshold float64) ([]image.Point, error)
	LocateFeatures(ctx context.Context, t device.Target, r *perception.Region, name string) ([]image.Point, error)
	MatchText(ctx context.Context, t device.Target, r *perception.Region, expected, backend string) (bool, error)
}

// callables binds the perception primitives to one run. Perception
// failures have already been logged by the engine and surface here as a
// negative result; only malformed arguments become evaluation faults.
type callables struct {
	ctx    context.Context
	target device.Target
	perc   Perception
	logger *zap.Logger
}

func (c *callables) register(r *runtime.Resolver) {
	r.Register("compare_with_image", c.compareWithImage)
	r.Register("compare_with_any_image", c.compareWithAnyImage)
	r.Register("compare_with_text", c.compareWithText)
	r.Register("compare_with_features", c.compareWithFeatures)
	r.Register("locate_all_images", c.locateAllImages)
	r.Register("locate_all_features", c.locateAllFeatures)
	r.Register("get_coords", c.getCoords)
}

// compare_with_image(x, y, w, h, image, threshold=0.85)
func (c *callables) compareWithImage(args ...any) (any, error) {
	const fn = "compare_with_image"
	if err := arity(fn, args, 5, 6); err != nil {
		return nil, err
	}
	region, err := regionArg(fn, args, 0)
	if err != nil {
		return nil, err
	}
	name, err := stringArg(fn, args, 4)
	if err != nil {
		return nil, err
	}
	threshold, err := optFloat(fn, args, 5)
	if err != nil {
		return nil, err
	}
	ok, perr := c.perc.MatchTemplate(c.ctx, c.target, region, name, threshold)
	c.trace(fn, ok, perr, zap.String("image", name), regionField(region))
	return ok, nil
}

// compare_with_any_image(x, y, w, h, images, threshold=0.85)
func (c *callables) compareWithAnyImage(args ...any) (any, error) {
	const fn = "compare_with_any_image"
	if err := arity(fn, args, 5, 6); err != nil {
		return nil, err
	}
	region, err := regionArg(fn, args, 0)
	if err != nil {
		return nil, err
	}
	names, err := stringsArg(fn, args, 4)
	if err != nil {
		return nil, err
	}
	threshold, err := optFloat(fn, args, 5)
	if err != nil {
		return nil, err
	}
	ok, perr := c.perc.MatchAnyTemplate(c.ctx, c.target, region, names, threshold)
	c.trace(fn, ok, perr, zap.Strings("images", names), regionField(region))
	return ok, nil
}

// compare_with_text(x, y, w, h, text, backend="")
func (c *callables) compareWithText(args ...any) (any, error) {
	const fn = "compare_with_text"
	if err := arity(fn, args, 5, 6); err != nil {
		return nil, err
	}
	region, err := regionArg(fn, args, 0)
	if err != nil {
		return nil, err
	}
	expected, err := stringArg(fn, args, 4)
	if err != nil {
		return nil, err
	}
	var backend string
	if len(args) == 6 {
		if backend, err = stringArg(fn, args, 5); err != nil {
			return nil, err
		}
	}
	ok, perr := c.perc.MatchText(c.ctx, c.target, region, expected, backend)
	c.trace(fn, ok, perr, zap.String("text", expected), regionField(region))
	return ok, nil
}

// compare_with_features(x, y, w, h, image, min_matches)
func (c *callables) compareWithFeatures(args ...any) (any, error) {
	const fn = "compare_with_features"
	if err := arity(fn, args, 5, 6); err != nil {
		return nil, err
	}
	region, err := regionArg(fn, args, 0)
	if err != nil {
		return nil, err
	}
	name, err := stringArg(fn, args, 4)
	if err != nil {
		return nil, err
	}
	minMatches := 0
	if len(args) == 6 {
		if minMatches, err = intArg(fn, args, 5); err != nil {
			return nil, err
		}
	}
	ok, perr := c.perc.MatchFeatures(c.ctx, c.target, region, name, minMatches)
	c.trace(fn, ok, perr, zap.String("image", name), regionField(region))
	return ok, nil
}

// locate_all_images(image[, threshold[, x, y, w, h]])
func (c *callables) locateAllImages(args ...any) (any, error) {
	pts, err := c.locateImages("locate_all_images", args)
	if err != nil {
		return nil, err
	}
	return pointList(pts), nil
}

// get_coords(image[, threshold[, x, y, w, h]]) returns the first center or None.
func (c *callables) getCoords(args ...any) (any, error) {
	pts, err := c.locateImages("get_coords", args)
	if err != nil {
		return nil, err
	}
	if len(pts) == 0 {
		return nil, nil
	}
	return []any{pts[0].X, pts[0].Y}, nil
}

func (c *callables) locateImages(fn string, args []any) ([]image.Point, error) {
	if err := arity(fn, args, 1, 2, 6); err != nil {
		return nil, err
	}
	name, err := stringArg(fn, args, 0)
	if err != nil {
		return nil, err
	}
	threshold, err := optFloat(fn, args, 1)
	if err != nil {
		return nil, err
	}
	var region *perception.Region
	if len(args) == 6 {
		if region, err = regionArg(fn, args, 2); err != nil {
			return nil, err
		}
	}
	pts, perr := c.perc.LocateTemplates(c.ctx, c.target, region, name, threshold)
	c.trace(fn, len(pts), perr, zap.String("image", name), regionField(region))
	return pts, nil
}

// locate_all_features(image[, x, y, w, h])
func (c *callables) locateAllFeatures(args ...any) (any, error) {
	const fn = "locate_all_features"
	if err := arity(fn, args, 1, 5); err != nil {
		return nil, err
	}
	name, err := stringArg(fn, args, 0)
	if err != nil {
		return nil, err
	}
	var region *perception.Region
	if len(args) == 5 {
		if region, err = regionArg(fn, args, 1); err != nil {
			return nil, err
		}
	}
	pts, perr := c.perc.LocateFeatures(c.ctx, c.target, region, name)
	c.trace(fn, len(pts), perr, zap.String("image", name), regionField(region))
	return pointList(pts), nil
}

func (c *callables) trace(fn string, result any, err error, fields ...zap.Field) {
	fields = append(fields, zap.String("primitive", fn), zap.Any("result", result))
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	c.logger.Debug("Perception call", fields...)
}

// pointList converts points into the nested list shape expressions see.
func pointList(pts []image.Point) []any {
	out := make([]any, len(pts))
	for i, p := range pts {
		out[i] = []any{p.X, p.Y}
	}
	return out
}

func arity(fn string, args []any, counts ...int) error {
	for _, n := range counts {
		if len(args) == n {
			return nil
		}
	}
	return fmt.Errorf("%s: unexpected number of arguments (%d)", fn, len(args))
}

func intArg(fn string, args []any, i int) (int, error) {
	n, ok := runtime.FromNative(args[i]).Int()
	if !ok {
		return 0, fmt.Errorf("%s: argument %d must be an integer, got %v", fn, i+1, args[i])
	}
	return int(n), nil
}

func stringArg(fn string, args []any, i int) (string, error) {
	s, ok := runtime.FromNative(args[i]).Str()
	if !ok {
		return "", fmt.Errorf("%s: argument %d must be a string, got %v", fn, i+1, args[i])
	}
	return s, nil
}

// stringsArg accepts a list of names or a single name.
func stringsArg(fn string, args []any, i int) ([]string, error) {
	v := runtime.FromNative(args[i])
	if s, ok := v.Str(); ok {
		return []string{s}, nil
	}
	if v.Kind() != runtime.KindList {
		return nil, fmt.Errorf("%s: argument %d must be a list of names, got %v", fn, i+1, args[i])
	}
	names := make([]string, 0, len(v.List()))
	for _, e := range v.List() {
		s, ok := e.Str()
		if !ok {
			return nil, fmt.Errorf("%s: argument %d must be a list of names, got %v", fn, i+1, args[i])
		}
		names = append(names, s)
	}
	return names, nil
}

// optFloat returns args[i] as a float, or 0 (engine default) when absent.
func optFloat(fn string, args []any, i int) (float64, error) {
	if i >= len(args) {
		return 0, nil
	}
	f, ok := runtime.FromNative(args[i]).Float()
	if !ok {
		return 0, fmt.Errorf("%s: argument %d must be a number, got %v", fn, i+1, args[i])
	}
	return f, nil
}

func regionArg(fn string, args []any, i int) (*perception.Region, error) {
	var xywh [4]int
	for k := range xywh {
		n, err := intArg(fn, args, i+k)
		if err != nil {
			return nil, err
		}
		xywh[k] = n
	}
	return &perception.Region{X: xywh[0], Y: xywh[1], W: xywh[2], H: xywh[3]}, nil
}

func regionField(r *perception.Region) zap.Field {
	if r == nil {
		return zap.String("region", "screen")
	}
	return zap.Stringer("region", r)
}
