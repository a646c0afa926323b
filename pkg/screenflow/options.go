package screenflow

import (
	"time"

	"go.uber.org/zap"
)

// Abort policies accepted by WithAbortPolicy.
const (
	// AbortPolicyRun ends only the current scenario on an abort step.
	AbortPolicyRun = "run"

	// AbortPolicyProcess exits the process with status 1 on an abort step.
	AbortPolicyProcess = "process"
)

// Instance is one device the runner drives.
type Instance struct {
	Name     string
	Serial   string
	Language string

	// Scenarios run in order when no single scenario is requested.
	Scenarios []string

	// LaunchCommand, when set, runs through the shell before the first
	// scenario, e.g. to boot an emulator.
	LaunchCommand string

	// Connect runs "adb connect" for network serials.
	Connect bool
}

// Options configures a Runner.
type Options struct {
	// ConfigFile is a screenflow.yaml to start from. Other options are
	// applied on top of it.
	ConfigFile string

	ResourcesDir string
	ADBPath      string
	SettleDelay  time.Duration
	DebugDir     string

	OpenAIKey     string
	OpenAIBaseURL string
	OpenAIModel   string
	WorkerCommand []string

	AbortPolicy   string
	RecordsDriver string
	RecordsDSN    string

	Instances []Instance
	Logger    *zap.Logger
}

// DefaultOptions returns Options with no overrides.
func DefaultOptions() *Options {
	return &Options{SettleDelay: -1}
}

// Option is a functional option for configuring a Runner.
type Option func(*Options)

// WithConfigFile loads path before applying the other options.
func WithConfigFile(path string) Option {
	return func(o *Options) {
		o.ConfigFile = path
	}
}

// WithResources sets the directory holding <language>/workflows.yaml and
// the reference images.
func WithResources(dir string) Option {
	return func(o *Options) {
		o.ResourcesDir = dir
	}
}

// WithADB sets the adb binary and the pause after each input event.
func WithADB(path string, settle time.Duration) Option {
	return func(o *Options) {
		o.ADBPath = path
		o.SettleDelay = settle
	}
}

// WithDebugDir dumps the last captured region and run transcripts to dir.
func WithDebugDir(dir string) Option {
	return func(o *Options) {
		o.DebugDir = dir
	}
}

// WithOpenAI uses an OpenAI-compatible vision model for learned OCR.
func WithOpenAI(apiKey, baseURL, model string) Option {
	return func(o *Options) {
		o.OpenAIKey = apiKey
		o.OpenAIBaseURL = baseURL
		o.OpenAIModel = model
		o.WorkerCommand = nil
	}
}

// WithOCRWorker runs learned OCR in a helper process.
func WithOCRWorker(command ...string) Option {
	return func(o *Options) {
		o.WorkerCommand = command
		o.OpenAIKey = ""
	}
}

// WithAbortPolicy selects AbortPolicyRun or AbortPolicyProcess.
func WithAbortPolicy(policy string) Option {
	return func(o *Options) {
		o.AbortPolicy = policy
	}
}

// WithRecords stores a row per run using a "sqlite" or "postgres" DSN.
func WithRecords(driver, dsn string) Option {
	return func(o *Options) {
		o.RecordsDriver = driver
		o.RecordsDSN = dsn
	}
}

// WithInstance adds an instance.
func WithInstance(inst Instance) Option {
	return func(o *Options) {
		o.Instances = append(o.Instances, inst)
	}
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}

// ApplyOptions applies functional options to the defaults.
func ApplyOptions(opts ...Option) *Options {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	return o
}
