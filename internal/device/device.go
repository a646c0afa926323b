// Package device talks to the target: screen capture and input events.
package device

import (
	"context"
	"fmt"
	"image"
	"strings"
)

// Target identifies one device and the language of its resources.
type Target struct {
	Name     string
	Serial   string
	Language string
}

func (t Target) String() string {
	if t.Name == "" {
		return t.Serial
	}
	return t.Name
}

// Capturer grabs the current screen of a target.
type Capturer interface {
	Capture(ctx context.Context, target Target) (image.Image, error)
}

// Input issues input events to a target.
type Input interface {
	Tap(ctx context.Context, target Target, x, y int) error
	Swipe(ctx context.Context, target Target, x, y int, dir Direction, distance int) error
}

// Direction of a swipe gesture.
type Direction string

const (
	Up    Direction = "up"
	Down  Direction = "down"
	Left  Direction = "left"
	Right Direction = "right"
)

// ParseDirection accepts a direction name in any case.
func ParseDirection(s string) (Direction, error) {
	switch d := Direction(strings.ToLower(strings.TrimSpace(s))); d {
	case Up, Down, Left, Right:
		return d, nil
	}
	return "", fmt.Errorf("unknown swipe direction %q", s)
}

// SwipeEnd returns where a swipe starting at (x, y) ends.
func SwipeEnd(x, y int, dir Direction, distance int) (int, int, error) {
	switch dir {
	case Up:
		return x, y - distance, nil
	case Down:
		return x, y + distance, nil
	case Left:
		return x - distance, y, nil
	case Right:
		return x + distance, y, nil
	}
	return 0, 0, fmt.Errorf("unknown swipe direction %q", dir)
}
