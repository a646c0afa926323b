package device

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/LiboWorks/screenflow/internal/backend"
)

// ADBConfig configures the adb adapter.
type ADBConfig struct {
	// Path of the adb binary (default: "adb")
	Path string
	// SettleDelay is waited after every input event so the screen can
	// react before the next capture.
	SettleDelay time.Duration
	// SwipeDuration is the gesture duration passed to `input swipe`.
	SwipeDuration time.Duration
	// MaxCaptureRate caps screencaps per second; zero means unlimited.
	MaxCaptureRate float64
}

// ADB implements Capturer and Input through the adb command line.
type ADB struct {
	shell   backend.ShellBackend
	cfg     ADBConfig
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewADB creates an adb adapter running commands through shell.
func NewADB(shell backend.ShellBackend, cfg ADBConfig, logger *zap.Logger) *ADB {
	if cfg.Path == "" {
		cfg.Path = "adb"
	}
	if cfg.SwipeDuration <= 0 {
		cfg.SwipeDuration = 300 * time.Millisecond
	}
	limit := rate.Inf
	if cfg.MaxCaptureRate > 0 {
		limit = rate.Limit(cfg.MaxCaptureRate)
	}
	return &ADB{
		shell:   shell,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger.Named("adb"),
	}
}

func (a *ADB) adb(ctx context.Context, t Target, args ...string) ([]byte, error) {
	return a.shell.Exec(ctx, a.cfg.Path, append([]string{"-s", t.Serial}, args...)...)
}

// Connect attaches a network device (serial of the form host:port).
func (a *ADB) Connect(ctx context.Context, t Target) error {
	out, err := a.shell.Exec(ctx, a.cfg.Path, "connect", t.Serial)
	if err != nil {
		return fmt.Errorf("adb connect %s: %w", t.Serial, err)
	}
	msg := strings.TrimSpace(string(out))
	if !strings.Contains(msg, "connected") || strings.Contains(msg, "cannot") {
		return fmt.Errorf("adb connect %s: %s", t.Serial, msg)
	}
	a.logger.Info("Connected to device", zap.String("serial", t.Serial))
	return nil
}

// Capture implements Capturer using `exec-out screencap -p`.
func (a *ADB) Capture(ctx context.Context, t Target) (image.Image, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	out, err := a.adb(ctx, t, "exec-out", "screencap", "-p")
	if err != nil {
		return nil, fmt.Errorf("screencap on %s: %w", t.Serial, err)
	}
	img, err := png.Decode(bytes.NewReader(out))
	if err != nil {
		return nil, fmt.Errorf("decode screencap from %s (%d bytes): %w", t.Serial, len(out), err)
	}
	return img, nil
}

// Tap implements Input.
func (a *ADB) Tap(ctx context.Context, t Target, x, y int) error {
	a.logger.Info("Tap", zap.String("target", t.String()), zap.Int("x", x), zap.Int("y", y))
	if _, err := a.adb(ctx, t, "shell", "input", "tap", strconv.Itoa(x), strconv.Itoa(y)); err != nil {
		return fmt.Errorf("tap on %s: %w", t.Serial, err)
	}
	return a.settle(ctx)
}

// Swipe implements Input.
func (a *ADB) Swipe(ctx context.Context, t Target, x, y int, dir Direction, distance int) error {
	x2, y2, err := SwipeEnd(x, y, dir, distance)
	if err != nil {
		return err
	}
	a.logger.Info("Swipe", zap.String("target", t.String()),
		zap.Int("x", x), zap.Int("y", y), zap.String("direction", string(dir)), zap.Int("distance", distance))

	ms := strconv.FormatInt(a.cfg.SwipeDuration.Milliseconds(), 10)
	if _, err := a.adb(ctx, t, "shell", "input", "swipe",
		strconv.Itoa(x), strconv.Itoa(y), strconv.Itoa(x2), strconv.Itoa(y2), ms); err != nil {
		return fmt.Errorf("swipe on %s: %w", t.Serial, err)
	}
	return a.settle(ctx)
}

func (a *ADB) settle(ctx context.Context) error {
	if a.cfg.SettleDelay <= 0 {
		return nil
	}
	timer := time.NewTimer(a.cfg.SettleDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
