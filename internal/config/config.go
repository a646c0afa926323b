// Package config provides centralized configuration management for screenflow.
// Values come from defaults, an optional YAML file and SCREENFLOW_* environment
// variables, layered through viper.
package config

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Abort policies decide what an explicit abort step (or emergency stop) ends.
const (
	AbortPolicyRun     = "run"
	AbortPolicyProcess = "process"
)

// OCR backend names.
const (
	OCRBackendDeterministic = "deterministic"
	OCRBackendLearned       = "learned"
)

// Learned recognizer kinds.
const (
	LearnedKindOpenAI = "openai"
	LearnedKindWorker = "worker"
)

// Default values
const (
	DefaultResourcesDir      = "resources"
	DefaultADBPath           = "adb"
	DefaultSettleDelay       = time.Second
	DefaultSwipeDuration     = 300 * time.Millisecond
	DefaultThreshold         = 0.85
	DefaultMinMatches        = 10
	DefaultMaxHamming        = 64
	DefaultRatio             = 0.75
	DefaultClusterEps        = 40.0
	DefaultClusterMinSamples = 3
	DefaultMaxKeypoints      = 500
	DefaultPyramidLevels     = 3
	DefaultTesseractPath     = "tesseract"
	DefaultPSM               = 7
	DefaultUpscale           = 3
	DefaultClipLimit         = 2.0
	DefaultOpenAIModel       = "gpt-4o-mini"
	DefaultOpenAIBaseURL     = "https://api.openai.com/v1"
	DefaultSMTPPort          = 587
	DefaultRecordsDriver     = "sqlite"
)

// LoggerConfig configures the global zap logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level"`
	Format      string      `mapstructure:"format"`
	ServiceName string      `mapstructure:"service_name"`
	AddSource   bool        `mapstructure:"add_source"`
	LogFile     string      `mapstructure:"log_file"`
	MaxSize     int         `mapstructure:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups"`
	MaxAge      int         `mapstructure:"max_age"`
	Compress    bool        `mapstructure:"compress"`
	Colors      ColorConfig `mapstructure:"colors"`
}

// ColorConfig maps log levels to console color names.
type ColorConfig struct {
	Debug  string `mapstructure:"debug"`
	Info   string `mapstructure:"info"`
	Warn   string `mapstructure:"warn"`
	Error  string `mapstructure:"error"`
	DPanic string `mapstructure:"dpanic"`
	Panic  string `mapstructure:"panic"`
	Fatal  string `mapstructure:"fatal"`
}

// DeviceConfig configures the adb adapters.
type DeviceConfig struct {
	ADBPath        string        `mapstructure:"adb_path"`
	SettleDelay    time.Duration `mapstructure:"settle_delay"`
	SwipeDuration  time.Duration `mapstructure:"swipe_duration"`
	MaxCaptureRate float64       `mapstructure:"max_capture_rate"`
	DebugDir       string        `mapstructure:"debug_dir"`
}

// PerceptionConfig holds the default strategy parameters of the perception engine.
type PerceptionConfig struct {
	Threshold         float64 `mapstructure:"threshold"`
	MinMatches        int     `mapstructure:"min_matches"`
	MaxHamming        int     `mapstructure:"max_hamming"`
	Ratio             float64 `mapstructure:"ratio"`
	ClusterEps        float64 `mapstructure:"cluster_eps"`
	ClusterMinSamples int     `mapstructure:"cluster_min_samples"`
	MaxKeypoints      int     `mapstructure:"max_keypoints"`
	PyramidLevels     int     `mapstructure:"pyramid_levels"`
}

// OCRConfig configures both text recognition backends.
type OCRConfig struct {
	DefaultBackend string        `mapstructure:"default_backend"`
	TesseractPath  string        `mapstructure:"tesseract_path"`
	PSM            int           `mapstructure:"psm"`
	Upscale        int           `mapstructure:"upscale"`
	ClipLimit      float64       `mapstructure:"clip_limit"`
	Learned        LearnedConfig `mapstructure:"learned"`
}

// LearnedConfig selects and configures the learned recognizer.
type LearnedConfig struct {
	Kind          string   `mapstructure:"kind"`
	Model         string   `mapstructure:"model"`
	BaseURL       string   `mapstructure:"base_url"`
	APIKey        string   `mapstructure:"api_key"`
	WorkerCommand []string `mapstructure:"worker_command"`
}

// NotifyConfig configures the out-of-band notification channel.
type NotifyConfig struct {
	SMTP SMTPConfig `mapstructure:"smtp"`
}

// SMTPConfig configures e-mail notifications.
type SMTPConfig struct {
	Enabled  bool     `mapstructure:"enabled"`
	Host     string   `mapstructure:"host"`
	Port     int      `mapstructure:"port"`
	Username string   `mapstructure:"username"`
	Password string   `mapstructure:"password"`
	From     string   `mapstructure:"from"`
	To       []string `mapstructure:"to"`
}

// RecordsConfig configures the run record sink. An empty DSN disables it.
type RecordsConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// InstanceConfig describes one target and the scenarios to run against it.
type InstanceConfig struct {
	Name          string   `mapstructure:"name"`
	Serial        string   `mapstructure:"serial"`
	Language      string   `mapstructure:"language"`
	Scenarios     []string `mapstructure:"scenarios"`
	LaunchCommand string   `mapstructure:"launch_command"`
	Connect       bool     `mapstructure:"connect"`
}

// Config holds all configuration settings for screenflow.
type Config struct {
	Logger       LoggerConfig     `mapstructure:"logger"`
	ResourcesDir string           `mapstructure:"resources_dir"`
	Device       DeviceConfig     `mapstructure:"device"`
	Perception   PerceptionConfig `mapstructure:"perception"`
	OCR          OCRConfig        `mapstructure:"ocr"`
	Notify       NotifyConfig     `mapstructure:"notify"`
	Records      RecordsConfig    `mapstructure:"records"`
	AbortPolicy  string           `mapstructure:"abort_policy"`
	Instances    []InstanceConfig `mapstructure:"instances"`
}

var (
	globalConfig *Config
	configOnce   sync.Once
)

// Get returns the global configuration, loading defaults and environment
// overrides on first use. A configuration that fails to load falls back to
// the built-in defaults.
func Get() *Config {
	configOnce.Do(func() {
		v := viper.New()
		BindEnv(v)
		cfg, err := NewConfigFromViper(v)
		if err != nil {
			cfg = NewConfig()
		}
		globalConfig = cfg
	})
	return globalConfig
}

// Set installs cfg as the global configuration.
func Set(cfg *Config) {
	configOnce.Do(func() {})
	globalConfig = cfg
}

// Reset clears the global configuration, forcing reload on next Get()
// This is primarily useful for testing
func Reset() {
	configOnce = sync.Once{}
	globalConfig = nil
}

// SetDefaults registers every default value on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.service_name", "screenflow")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 10)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 28)
	v.SetDefault("logger.compress", false)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	v.SetDefault("resources_dir", DefaultResourcesDir)

	v.SetDefault("device.adb_path", DefaultADBPath)
	v.SetDefault("device.settle_delay", DefaultSettleDelay)
	v.SetDefault("device.swipe_duration", DefaultSwipeDuration)
	v.SetDefault("device.max_capture_rate", 0.0)
	v.SetDefault("device.debug_dir", "")

	v.SetDefault("perception.threshold", DefaultThreshold)
	v.SetDefault("perception.min_matches", DefaultMinMatches)
	v.SetDefault("perception.max_hamming", DefaultMaxHamming)
	v.SetDefault("perception.ratio", DefaultRatio)
	v.SetDefault("perception.cluster_eps", DefaultClusterEps)
	v.SetDefault("perception.cluster_min_samples", DefaultClusterMinSamples)
	v.SetDefault("perception.max_keypoints", DefaultMaxKeypoints)
	v.SetDefault("perception.pyramid_levels", DefaultPyramidLevels)

	v.SetDefault("ocr.default_backend", OCRBackendDeterministic)
	v.SetDefault("ocr.tesseract_path", DefaultTesseractPath)
	v.SetDefault("ocr.psm", DefaultPSM)
	v.SetDefault("ocr.upscale", DefaultUpscale)
	v.SetDefault("ocr.clip_limit", DefaultClipLimit)
	v.SetDefault("ocr.learned.kind", LearnedKindOpenAI)
	v.SetDefault("ocr.learned.model", DefaultOpenAIModel)
	v.SetDefault("ocr.learned.base_url", DefaultOpenAIBaseURL)
	v.SetDefault("ocr.learned.api_key", "")
	v.SetDefault("ocr.learned.worker_command", []string{})

	v.SetDefault("notify.smtp.enabled", false)
	v.SetDefault("notify.smtp.host", "")
	v.SetDefault("notify.smtp.port", DefaultSMTPPort)
	v.SetDefault("notify.smtp.username", "")
	v.SetDefault("notify.smtp.password", "")
	v.SetDefault("notify.smtp.from", "")
	v.SetDefault("notify.smtp.to", []string{})

	v.SetDefault("records.driver", DefaultRecordsDriver)
	v.SetDefault("records.dsn", "")

	v.SetDefault("abort_policy", AbortPolicyRun)
}

// BindEnv makes every key overridable through SCREENFLOW_* variables,
// e.g. SCREENFLOW_DEVICE_ADB_PATH.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix("SCREENFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// NewConfigFromViper builds a validated Config from v. Defaults are
// registered on v first.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}

	if cfg.OCR.Learned.APIKey == "" {
		cfg.OCR.Learned.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load reads the YAML file at path (or ./screenflow.yaml when path is
// empty and such a file exists) and returns the resulting Config.
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("screenflow")
		v.SetConfigType("yaml")
	}
	BindEnv(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}
	return NewConfigFromViper(v)
}

// NewConfig creates a new configuration with default values.
// This is useful for testing or programmatic configuration
func NewConfig() *Config {
	v := viper.New()
	SetDefaults(v)
	cfg := &Config{}
	// Defaults always decode.
	_ = v.Unmarshal(cfg)
	return cfg
}

// WithResources sets the resources directory.
func (c *Config) WithResources(dir string) *Config {
	if dir != "" {
		c.ResourcesDir = dir
	}
	return c
}

// WithADB configures the adb binary and the delay after each input event.
func (c *Config) WithADB(path string, settle time.Duration) *Config {
	if path != "" {
		c.Device.ADBPath = path
	}
	if settle >= 0 {
		c.Device.SettleDelay = settle
	}
	return c
}

// WithOpenAI configures the learned recognizer to use an OpenAI-compatible API.
func (c *Config) WithOpenAI(apiKey, baseURL, model string) *Config {
	c.OCR.Learned.Kind = LearnedKindOpenAI
	c.OCR.Learned.APIKey = apiKey
	if baseURL != "" {
		c.OCR.Learned.BaseURL = baseURL
	}
	if model != "" {
		c.OCR.Learned.Model = model
	}
	return c
}

// WithOCRWorker configures the learned recognizer to use a worker subprocess.
func (c *Config) WithOCRWorker(command ...string) *Config {
	c.OCR.Learned.Kind = LearnedKindWorker
	c.OCR.Learned.WorkerCommand = command
	return c
}

// WithAbortPolicy sets the abort policy.
func (c *Config) WithAbortPolicy(policy string) *Config {
	c.AbortPolicy = policy
	return c
}

// WithRecords configures the run record sink.
func (c *Config) WithRecords(driver, dsn string) *Config {
	if driver != "" {
		c.Records.Driver = driver
	}
	c.Records.DSN = dsn
	return c
}

// WithInstance appends an instance.
func (c *Config) WithInstance(inst InstanceConfig) *Config {
	c.Instances = append(c.Instances, inst)
	return c
}

// Instance returns the instance with the given name.
func (c *Config) Instance(name string) (InstanceConfig, bool) {
	for _, inst := range c.Instances {
		if inst.Name == name {
			return inst, true
		}
	}
	return InstanceConfig{}, false
}

// Validate checks if the configuration is valid for the intended use
func (c *Config) Validate() error {
	switch c.AbortPolicy {
	case AbortPolicyRun, AbortPolicyProcess:
	default:
		return fmt.Errorf("abort_policy must be %q or %q, got %q", AbortPolicyRun, AbortPolicyProcess, c.AbortPolicy)
	}

	if c.ResourcesDir == "" {
		return fmt.Errorf("resources_dir is required")
	}

	p := c.Perception
	if p.Threshold <= 0 || p.Threshold > 1 {
		return fmt.Errorf("perception.threshold must be in (0, 1], got %v", p.Threshold)
	}
	if p.Ratio <= 0 || p.Ratio >= 1 {
		return fmt.Errorf("perception.ratio must be in (0, 1), got %v", p.Ratio)
	}
	if p.MinMatches < 1 || p.ClusterMinSamples < 1 || p.PyramidLevels < 1 || p.MaxKeypoints < 1 {
		return fmt.Errorf("perception counts must be positive")
	}
	if p.ClusterEps <= 0 {
		return fmt.Errorf("perception.cluster_eps must be positive")
	}

	switch c.OCR.DefaultBackend {
	case OCRBackendDeterministic, OCRBackendLearned:
	default:
		return fmt.Errorf("unknown ocr.default_backend %q", c.OCR.DefaultBackend)
	}
	if c.OCR.Upscale < 1 {
		return fmt.Errorf("ocr.upscale must be at least 1")
	}
	switch c.OCR.Learned.Kind {
	case LearnedKindOpenAI, LearnedKindWorker:
	default:
		return fmt.Errorf("unknown ocr.learned.kind %q", c.OCR.Learned.Kind)
	}

	if c.Notify.SMTP.Enabled {
		s := c.Notify.SMTP
		if s.Host == "" || s.From == "" || len(s.To) == 0 {
			return fmt.Errorf("notify.smtp requires host, from and at least one recipient")
		}
	}

	switch c.Records.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("records.driver must be sqlite or postgres, got %q", c.Records.Driver)
	}

	seen := make(map[string]bool)
	for i, inst := range c.Instances {
		if inst.Name == "" {
			return fmt.Errorf("instance %d is missing a name", i+1)
		}
		if seen[inst.Name] {
			return fmt.Errorf("duplicate instance name %q", inst.Name)
		}
		seen[inst.Name] = true
		if inst.Serial == "" {
			return fmt.Errorf("instance %s is missing a serial", inst.Name)
		}
		if inst.Language == "" {
			return fmt.Errorf("instance %s is missing a language", inst.Name)
		}
	}
	return nil
}

func (c *Config) expandPaths() error {
	for _, p := range []*string{&c.ResourcesDir, &c.Device.DebugDir, &c.Logger.LogFile} {
		if *p == "" {
			continue
		}
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("failed to expand path %q: %w", *p, err)
		}
		*p = expanded
	}
	return nil
}
