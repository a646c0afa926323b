package host

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/LiboWorks/screenflow/internal/backend"
	"github.com/LiboWorks/screenflow/internal/config"
	"github.com/LiboWorks/screenflow/internal/device"
	"github.com/LiboWorks/screenflow/internal/interpreter"
	"github.com/LiboWorks/screenflow/internal/notify"
	"github.com/LiboWorks/screenflow/internal/ocr"
	"github.com/LiboWorks/screenflow/internal/output"
	"github.com/LiboWorks/screenflow/internal/perception"
	"github.com/LiboWorks/screenflow/internal/record"
	"github.com/LiboWorks/screenflow/internal/worker"
)

// Components are the long-lived parts built from configuration.
type Components struct {
	Shell     backend.ShellBackend
	ADB       *device.ADB
	OCR       *ocr.Registry
	Engine    *perception.Engine
	Notifier  notify.Notifier
	Records   record.Sink
	Artifacts *output.Writer
}

// PerceptionOptions maps the perception and ocr sections to engine options.
func PerceptionOptions(cfg *config.Config) perception.Options {
	p := cfg.Perception
	return perception.Options{
		Threshold:         p.Threshold,
		MinMatches:        p.MinMatches,
		MaxHamming:        p.MaxHamming,
		Ratio:             p.Ratio,
		ClusterEps:        p.ClusterEps,
		ClusterMinSamples: p.ClusterMinSamples,
		MaxKeypoints:      p.MaxKeypoints,
		PyramidLevels:     p.PyramidLevels,
		TextBackend:       cfg.OCR.DefaultBackend,
	}
}

// NewOCRRegistry registers both text backends. Recognizers are created on
// first use per language.
func NewOCRRegistry(cfg *config.Config, shell backend.ShellBackend, logger *zap.Logger) *ocr.Registry {
	reg := ocr.NewRegistry(cfg.OCR.DefaultBackend, logger)
	reg.Register(config.OCRBackendDeterministic, ocr.TesseractFactory(shell, ocr.TesseractConfig{
		Path: cfg.OCR.TesseractPath,
		PSM:  cfg.OCR.PSM,
		Preprocess: ocr.PreprocessOptions{
			Upscale:   cfg.OCR.Upscale,
			ClipLimit: cfg.OCR.ClipLimit,
		},
	}, logger))

	learned := cfg.OCR.Learned
	reg.Register(config.OCRBackendLearned, ocr.LearnedFactory(func(ctx context.Context) (backend.VisionBackend, error) {
		switch learned.Kind {
		case config.LearnedKindWorker:
			return worker.Spawn(learned.WorkerCommand, logger)
		default:
			return backend.NewOpenAIBackend(backend.OpenAIConfig{
				APIKey:       learned.APIKey,
				BaseURL:      learned.BaseURL,
				DefaultModel: learned.Model,
			})
		}
	}))
	return reg
}

// NewNotifier always logs notifications and also mails them when SMTP is
// enabled.
func NewNotifier(cfg *config.Config, logger *zap.Logger) (notify.Notifier, error) {
	notifiers := notify.Multi{notify.NewLogNotifier(logger)}
	if cfg.Notify.SMTP.Enabled {
		smtp, err := notify.NewSMTPNotifier(cfg.Notify.SMTP, logger)
		if err != nil {
			return nil, err
		}
		notifiers = append(notifiers, smtp)
	}
	return notifiers, nil
}

// NewRecords opens the configured record sink, or a no-op sink without a DSN.
func NewRecords(ctx context.Context, cfg *config.Config, logger *zap.Logger) (record.Sink, error) {
	if cfg.Records.DSN == "" {
		return record.NopSink{}, nil
	}
	return record.Open(ctx, cfg.Records.Driver, cfg.Records.DSN, logger)
}

// Build creates every component described by cfg.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Components, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Components{Shell: backend.NewShellBackend(backend.ShellConfig{})}
	c.ADB = device.NewADB(c.Shell, device.ADBConfig{
		Path:           cfg.Device.ADBPath,
		SettleDelay:    cfg.Device.SettleDelay,
		SwipeDuration:  cfg.Device.SwipeDuration,
		MaxCaptureRate: cfg.Device.MaxCaptureRate,
	}, logger)

	c.OCR = NewOCRRegistry(cfg, c.Shell, logger)
	c.Engine = perception.NewEngine(c.ADB, perception.NewDirStore(cfg.ResourcesDir), c.OCR, PerceptionOptions(cfg), logger)
	if cfg.Device.DebugDir != "" {
		c.Artifacts = output.NewWriter(cfg.Device.DebugDir)
		c.Engine.WithArtifacts(c.Artifacts)
	}

	notifier, err := NewNotifier(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("notifications: %w", err)
	}
	c.Notifier = notifier

	records, err := NewRecords(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("run records: %w", err)
	}
	c.Records = records
	return c, nil
}

// New builds a ready-to-run host from configuration.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts ...Option) (*Host, *Components, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c, err := Build(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	interp := interpreter.New(c.Engine, c.ADB, c.Notifier, logger)

	base := []Option{WithRecords(c.Records), WithCloser(c.OCR.Close)}
	if c.Artifacts != nil {
		base = append(base, WithTranscript(c.Artifacts))
	}
	return NewHost(cfg, interp, c.Shell, c.ADB, logger, append(base, opts...)...), c, nil
}
