// File: internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"

	"github.com/xkilldash9x/receipt-harvester/api/schemas"
)

// Config is the root of the application configuration. It is populated by
// viper from config.yaml, HARVEST_* environment variables and flags.
type Config struct {
	Logger    LoggerConfig    `mapstructure:"logger" yaml:"logger"`
	Browser   BrowserConfig   `mapstructure:"browser" yaml:"browser"`
	Auth      AuthConfig      `mapstructure:"auth" yaml:"auth"`
	Harvest   HarvestConfig   `mapstructure:"harvest" yaml:"harvest"`
	Selectors SelectorsConfig `mapstructure:"selectors" yaml:"selectors"`
	Retry     RetryConfig     `mapstructure:"retry" yaml:"retry"`
	Capture   CaptureConfig   `mapstructure:"capture" yaml:"capture"`
	Output    OutputConfig    `mapstructure:"output" yaml:"output"`
	Operator  OperatorConfig  `mapstructure:"operator" yaml:"operator"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig holds settings for the controlled browser instance.
type BrowserConfig struct {
	Headless        bool     `mapstructure:"headless" yaml:"headless"`
	IgnoreTLSErrors bool     `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	Debug           bool     `mapstructure:"debug" yaml:"debug"`
	Args            []string `mapstructure:"args" yaml:"args"`
	WindowWidth     int      `mapstructure:"window_width" yaml:"window_width"`
	WindowHeight    int      `mapstructure:"window_height" yaml:"window_height"`
	// NavigationTimeout bounds a single navigation including readiness.
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	// ActionTimeout bounds clicks, lookups and script evaluation.
	ActionTimeout time.Duration `mapstructure:"action_timeout" yaml:"action_timeout"`
	RenderTimeout time.Duration `mapstructure:"render_timeout" yaml:"render_timeout"`
	PollInterval  time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	// NavigationRate caps navigations per second. Zero disables pacing.
	NavigationRate  float64 `mapstructure:"navigation_rate" yaml:"navigation_rate"`
	NavigationBurst int     `mapstructure:"navigation_burst" yaml:"navigation_burst"`
}

// AuthConfig covers the manual login wait that precedes a run.
type AuthConfig struct {
	Manual              bool          `mapstructure:"manual" yaml:"manual"`
	LoginURL            string        `mapstructure:"login_url" yaml:"login_url"`
	Timeout             time.Duration `mapstructure:"timeout" yaml:"timeout"`
	ReadyAddressMarkers []string      `mapstructure:"ready_address_markers" yaml:"ready_address_markers"`
	ReadyTextMarkers    []string      `mapstructure:"ready_text_markers" yaml:"ready_text_markers"`
}

// HarvestConfig drives page traversal.
type HarvestConfig struct {
	ListURL       string `mapstructure:"list_url" yaml:"list_url"`
	PromptListURL bool   `mapstructure:"prompt_list_url" yaml:"prompt_list_url"`
	// PageURLTemplate builds absolute page addresses, e.g. "...?page=%d".
	PageURLTemplate string `mapstructure:"page_url_template" yaml:"page_url_template"`
	// PageCount > 0 skips next-page discovery and uses PageURLTemplate.
	PageCount int `mapstructure:"page_count" yaml:"page_count"`
	// ItemCount is the expected number of receipts over all pages, used for
	// progress display. Zero means counted or estimated during discovery.
	ItemCount int `mapstructure:"item_count" yaml:"item_count"`
	// MaxPages caps discovery. Zero means unlimited.
	MaxPages      int           `mapstructure:"max_pages" yaml:"max_pages"`
	SettleDelay   time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`
	ProbeTimeout  time.Duration `mapstructure:"probe_timeout" yaml:"probe_timeout"`
	LookupTimeout time.Duration `mapstructure:"lookup_timeout" yaml:"lookup_timeout"`
}

// StrategyConfig is one named entry of an ordered lookup list.
type StrategyConfig struct {
	Name             string `mapstructure:"name" yaml:"name"`
	schemas.Selector `mapstructure:",squash" yaml:",inline"`
	// Timeout overrides harvest.lookup_timeout for this strategy.
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// SelectorsConfig holds the ordered lookup strategies for every affordance
// the harvester interacts with. Empty lists fall back to DefaultSelectors.
type SelectorsConfig struct {
	ItemLinks    []StrategyConfig `mapstructure:"item_links" yaml:"item_links"`
	NextPage     []StrategyConfig `mapstructure:"next_page" yaml:"next_page"`
	IssuedMarker []StrategyConfig `mapstructure:"issued_marker" yaml:"issued_marker"`
	Preview      []StrategyConfig `mapstructure:"preview" yaml:"preview"`
	Issue        []StrategyConfig `mapstructure:"issue" yaml:"issue"`
	Confirm      []StrategyConfig `mapstructure:"confirm" yaml:"confirm"`
	// ConfirmTexts feed the scripted acknowledgement fallback.
	ConfirmTexts []string `mapstructure:"confirm_texts" yaml:"confirm_texts"`
}

// RetryConfig is the bounded retry policy shared by pages and items.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	Backoff     time.Duration `mapstructure:"backoff" yaml:"backoff"`
}

// CaptureConfig tunes the capture fallback chain.
type CaptureConfig struct {
	FilePrefix         string        `mapstructure:"file_prefix" yaml:"file_prefix"`
	ReferenceMaxLength int           `mapstructure:"reference_max_length" yaml:"reference_max_length"`
	ReferenceLabels    []string      `mapstructure:"reference_labels" yaml:"reference_labels"`
	RetryPause         time.Duration `mapstructure:"retry_pause" yaml:"retry_pause"`
	InteractivePrint   bool          `mapstructure:"interactive_print" yaml:"interactive_print"`
	PaperWidth         float64       `mapstructure:"paper_width" yaml:"paper_width"`
	PaperHeight        float64       `mapstructure:"paper_height" yaml:"paper_height"`
	Scale              float64       `mapstructure:"scale" yaml:"scale"`
	PrintBackground    bool          `mapstructure:"print_background" yaml:"print_background"`
	CosmeticPasses     int           `mapstructure:"cosmetic_passes" yaml:"cosmetic_passes"`
	CosmeticPause      time.Duration `mapstructure:"cosmetic_pause" yaml:"cosmetic_pause"`
}

// RenderOptions converts the paper settings into view render options.
func (c CaptureConfig) RenderOptions() schemas.RenderOptions {
	opts := schemas.A4RenderOptions()
	if c.PaperWidth > 0 {
		opts.PaperWidth = c.PaperWidth
	}
	if c.PaperHeight > 0 {
		opts.PaperHeight = c.PaperHeight
	}
	if c.Scale > 0 {
		opts.Scale = c.Scale
	}
	opts.PrintBackground = c.PrintBackground
	return opts
}

// OutputConfig locates the per-run output directory.
type OutputConfig struct {
	BaseDir   string `mapstructure:"base_dir" yaml:"base_dir"`
	DirPrefix string `mapstructure:"dir_prefix" yaml:"dir_prefix"`
	// Dir, when set, is used verbatim instead of a timestamped directory.
	Dir string `mapstructure:"dir" yaml:"dir"`
}

// OperatorConfig controls the console prompts.
type OperatorConfig struct {
	// Interactive disables every prompt when false.
	Interactive bool `mapstructure:"interactive" yaml:"interactive"`
	// UnattendedDecision is "skip" or "abort"; used when no operator answers.
	UnattendedDecision string `mapstructure:"unattended_decision" yaml:"unattended_decision"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	cfg.Selectors.applyDefaults()
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "harvest")
	v.SetDefault("logger.log_file", "receipt_harvest.log")
	v.SetDefault("logger.max_size", 20)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", false)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Browser --
	v.SetDefault("browser.headless", false)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.debug", false)
	v.SetDefault("browser.window_width", 1920)
	v.SetDefault("browser.window_height", 1080)
	v.SetDefault("browser.navigation_timeout", "60s")
	v.SetDefault("browser.action_timeout", "20s")
	v.SetDefault("browser.render_timeout", "60s")
	v.SetDefault("browser.poll_interval", "250ms")
	v.SetDefault("browser.navigation_rate", 1.0)
	v.SetDefault("browser.navigation_burst", 2)

	// -- Auth --
	v.SetDefault("auth.manual", true)
	v.SetDefault("auth.login_url", "https://crowdworks.jp/login")
	v.SetDefault("auth.timeout", "5m")
	v.SetDefault("auth.ready_address_markers", []string{"/mypage"})
	v.SetDefault("auth.ready_text_markers", []string{"マイページ"})

	// -- Harvest --
	v.SetDefault("harvest.list_url", "https://crowdworks.jp/payments?ref=login_header")
	v.SetDefault("harvest.prompt_list_url", true)
	v.SetDefault("harvest.page_url_template", "https://crowdworks.jp/payments?page=%d&ref=login_header")
	v.SetDefault("harvest.page_count", 0)
	v.SetDefault("harvest.max_pages", 0)
	v.SetDefault("harvest.item_count", 0)
	v.SetDefault("harvest.settle_delay", "2s")
	v.SetDefault("harvest.probe_timeout", "5s")
	v.SetDefault("harvest.lookup_timeout", "10s")

	// -- Retry --
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.backoff", "3s")

	// -- Capture --
	v.SetDefault("capture.file_prefix", "領収書")
	v.SetDefault("capture.reference_max_length", 20)
	v.SetDefault("capture.reference_labels", []string{"領収書番号", "請求書番号", "受領書番号"})
	v.SetDefault("capture.retry_pause", "2s")
	v.SetDefault("capture.interactive_print", true)
	v.SetDefault("capture.paper_width", 8.27)
	v.SetDefault("capture.paper_height", 11.69)
	v.SetDefault("capture.scale", 0.9)
	v.SetDefault("capture.print_background", true)
	v.SetDefault("capture.cosmetic_passes", 2)
	v.SetDefault("capture.cosmetic_pause", "500ms")

	// -- Output --
	v.SetDefault("output.base_dir", ".")
	v.SetDefault("output.dir_prefix", "receipts_")

	// -- Operator --
	v.SetDefault("operator.interactive", true)
	v.SetDefault("operator.unattended_decision", "skip")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	cfg.Selectors.applyDefaults()

	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}

	// Manual login needs a visible window.
	if cfg.Auth.Manual && cfg.Browser.Headless {
		cfg.Browser.Headless = false
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func (c *Config) expandPaths() error {
	var err error
	if c.Output.BaseDir, err = homedir.Expand(c.Output.BaseDir); err != nil {
		return fmt.Errorf("output.base_dir: %w", err)
	}
	if c.Output.Dir, err = homedir.Expand(c.Output.Dir); err != nil {
		return fmt.Errorf("output.dir: %w", err)
	}
	if c.Logger.LogFile, err = homedir.Expand(c.Logger.LogFile); err != nil {
		return fmt.Errorf("logger.log_file: %w", err)
	}
	return nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry.max_attempts must be a positive integer")
	}
	if c.Retry.Backoff < 0 {
		return fmt.Errorf("retry.backoff must not be negative")
	}
	if c.Capture.ReferenceMaxLength <= 0 {
		return fmt.Errorf("capture.reference_max_length must be a positive integer")
	}
	if strings.TrimSpace(c.Capture.FilePrefix) == "" {
		return fmt.Errorf("capture.file_prefix is required")
	}
	if strings.ContainsAny(c.Capture.FilePrefix, `\/:*?"<>|`) {
		return fmt.Errorf("capture.file_prefix contains characters not allowed in filenames")
	}
	if c.Harvest.ListURL == "" {
		return fmt.Errorf("harvest.list_url is required")
	}
	if c.Harvest.PageCount > 0 && !strings.Contains(c.Harvest.PageURLTemplate, "%d") {
		return fmt.Errorf("harvest.page_url_template must contain %%d when harvest.page_count is set")
	}
	if c.Harvest.PageCount < 0 || c.Harvest.MaxPages < 0 || c.Harvest.ItemCount < 0 {
		return fmt.Errorf("harvest.page_count, harvest.max_pages and harvest.item_count must not be negative")
	}
	if c.Auth.Manual && c.Auth.Timeout <= 0 {
		return fmt.Errorf("auth.timeout must be a positive duration")
	}
	if c.Browser.PollInterval <= 0 {
		return fmt.Errorf("browser.poll_interval must be a positive duration")
	}
	switch c.Operator.UnattendedDecision {
	case "skip", "abort":
	default:
		return fmt.Errorf("operator.unattended_decision must be \"skip\" or \"abort\", got %q", c.Operator.UnattendedDecision)
	}
	if len(c.Selectors.ItemLinks) == 0 {
		return fmt.Errorf("selectors.item_links must contain at least one strategy")
	}
	return nil
}
