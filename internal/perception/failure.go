package perception

import (
	"errors"
	"fmt"
)

// Failure kinds. Test with errors.Is.
var (
	ErrCaptureFailed        = errors.New("capture failed")
	ErrResourceNotFound     = errors.New("resource not found")
	ErrDecodeFailed         = errors.New("decode failed")
	ErrRegionOutOfBounds    = errors.New("region out of bounds")
	ErrInsufficientFeatures = errors.New("insufficient features")
	ErrRecognitionFailed    = errors.New("text recognition failed")

	// ErrTemplateLargerThanRegion is a scenario configuration problem rather
	// than a perception miss.
	ErrTemplateLargerThanRegion = errors.New("template larger than region")
)

// Failure is a perception error tagged with its kind.
type Failure struct {
	Op   string
	Kind error
	Err  error
}

func (f *Failure) Error() string {
	if f.Err == nil {
		return fmt.Sprintf("%s: %v", f.Op, f.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", f.Op, f.Kind, f.Err)
}

func (f *Failure) Unwrap() []error {
	if f.Err == nil {
		return []error{f.Kind}
	}
	return []error{f.Kind, f.Err}
}

// IsConfiguration reports whether err stems from scenario configuration.
func IsConfiguration(err error) bool {
	return errors.Is(err, ErrTemplateLargerThanRegion)
}

func fail(op string, kind, err error) error {
	return &Failure{Op: op, Kind: kind, Err: err}
}
