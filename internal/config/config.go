package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"codeberg.org/mutker/battguard/internal/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	// DefaultLogLevel is used when no log level is configured
	DefaultLogLevel = "info"

	defaultEnvPrefix = "BATTGUARD"
	configName       = "battguard"
)

// Config holds all settings consumed by the monitoring core. Immutable
// after Load.
type Config struct {
	// Battery thresholds (percent)
	CriticalThreshold int `mapstructure:"critical_threshold"`
	LowThreshold      int `mapstructure:"low_threshold"`
	FullThreshold     int `mapstructure:"full_threshold"`

	// Notification settings
	NotificationCooldown int `mapstructure:"notification_cooldown"` // seconds

	// Brightness control
	BrightnessControl   bool `mapstructure:"brightness_control"`
	BrightnessMax       int  `mapstructure:"brightness_max"`
	BrightnessVeryHigh  int  `mapstructure:"brightness_very_high"`
	BrightnessHigh      int  `mapstructure:"brightness_high"`
	BrightnessMedHigh   int  `mapstructure:"brightness_medium_high"`
	BrightnessMedium    int  `mapstructure:"brightness_medium"`
	BrightnessMedLow    int  `mapstructure:"brightness_medium_low"`
	BrightnessLow       int  `mapstructure:"brightness_low"`
	BrightnessCritical  int  `mapstructure:"brightness_critical"`
	BatteryVeryHigh     int  `mapstructure:"battery_very_high_threshold"`
	BatteryHigh         int  `mapstructure:"battery_high_threshold"`
	BatteryMedHigh      int  `mapstructure:"battery_medium_high_threshold"`
	BatteryMedium       int  `mapstructure:"battery_medium_threshold"`
	BatteryMedLow       int  `mapstructure:"battery_medium_low_threshold"`
	BatteryLow          int  `mapstructure:"battery_low_threshold"`

	// Adaptive polling (seconds)
	BackoffInitial  int `mapstructure:"backoff_initial"`
	BackoffMax      int `mapstructure:"backoff_max"`
	BackoffFactor   int `mapstructure:"backoff_factor"`
	CriticalPolling int `mapstructure:"critical_polling"`

	// Runtime behavior
	Monitor  bool   `mapstructure:"monitor"`
	Debug    bool   `mapstructure:"debug"`
	Verbose  bool   `mapstructure:"verbose"`
	LogLevel string `mapstructure:"log_level"`
}

// BrightnessStep pairs a battery threshold with the brightness level to
// apply at or above it.
type BrightnessStep struct {
	Threshold int
	Level     int
}

// BrightnessSteps returns the battery-to-brightness table in descending
// threshold order, as evaluated by the brightness policy.
func (c *Config) BrightnessSteps() []BrightnessStep {
	return []BrightnessStep{
		{c.BatteryVeryHigh, c.BrightnessVeryHigh},
		{c.BatteryHigh, c.BrightnessHigh},
		{c.BatteryMedHigh, c.BrightnessMedHigh},
		{c.BatteryMedium, c.BrightnessMedium},
		{c.BatteryMedLow, c.BrightnessMedLow},
		{c.BatteryLow, c.BrightnessLow},
		{c.CriticalThreshold, c.BrightnessCritical},
	}
}

func (c *Config) BackoffInitialInterval() time.Duration {
	return time.Duration(c.BackoffInitial) * time.Second
}

func (c *Config) BackoffMaxInterval() time.Duration {
	return time.Duration(c.BackoffMax) * time.Second
}

func (c *Config) CriticalPollingInterval() time.Duration {
	return time.Duration(c.CriticalPolling) * time.Second
}

func (c *Config) CooldownWindow() time.Duration {
	return time.Duration(c.NotificationCooldown) * time.Second
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("critical_threshold", 10)
	v.SetDefault("low_threshold", 20)
	v.SetDefault("full_threshold", 90)

	v.SetDefault("notification_cooldown", 300)

	v.SetDefault("brightness_control", true)
	v.SetDefault("brightness_max", 100)
	v.SetDefault("brightness_very_high", 95)
	v.SetDefault("brightness_high", 85)
	v.SetDefault("brightness_medium_high", 70)
	v.SetDefault("brightness_medium", 60)
	v.SetDefault("brightness_medium_low", 45)
	v.SetDefault("brightness_low", 35)
	v.SetDefault("brightness_critical", 15)
	v.SetDefault("battery_very_high_threshold", 85)
	v.SetDefault("battery_high_threshold", 70)
	v.SetDefault("battery_medium_high_threshold", 60)
	v.SetDefault("battery_medium_threshold", 50)
	v.SetDefault("battery_medium_low_threshold", 30)
	v.SetDefault("battery_low_threshold", 20)

	v.SetDefault("backoff_initial", 10)
	v.SetDefault("backoff_max", 300)
	v.SetDefault("backoff_factor", 2)
	v.SetDefault("critical_polling", 30)

	v.SetDefault("monitor", false)
	v.SetDefault("debug", false)
	v.SetDefault("verbose", false)
	v.SetDefault("log_level", DefaultLogLevel)
}

// Load reads configuration from file, environment and command-line flags,
// in increasing order of precedence, and validates the result.
func Load(opts ...Option) (*Config, error) {
	errFactory := errors.New()

	o := &options{envPrefix: defaultEnvPrefix}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
		}
	}

	// Define flags on a private FlagSet so Load stays re-entrant
	fs := pflag.NewFlagSet(configName, pflag.ContinueOnError)
	fs.ParseErrorsWhitelist.UnknownFlags = true
	fs.Bool("debug", false, "Enable debugging mode")
	fs.Bool("verbose", false, "Enable verbose logging")
	fs.Bool("monitor", false, "Only log power status; no brightness or notification side effects")
	fs.String("log-level", "", "Logging level (debug, info, warning, error)")
	fs.String("config", "", "Path to configuration file")
	if err := fs.Parse(os.Args[1:]); err != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigType("toml")

	configPath := o.configPath
	if configPath == "" {
		configPath, _ = fs.GetString("config")
	}
	if configPath == "" {
		configPath = os.Getenv(o.envPrefix + "_CONFIG")
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, errFactory.Wrap(errors.ErrReadConfig, err)
		}
	} else {
		v.SetConfigName(configName)
		if configDir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(configDir, configName))
		}
		v.AddConfigPath("/etc")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, errFactory.Wrap(errors.ErrReadConfig, err)
			}
		}
	}

	// Environment overrides, e.g. BATTGUARD_CRITICAL_THRESHOLD=5
	v.SetEnvPrefix(o.envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	// Flags set on the command line override file and environment values
	fs.Visit(func(f *pflag.Flag) {
		v.Set(strings.ReplaceAll(f.Name, "-", "_"), f.Value.String())
	})

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
	}

	if !LogLevel(config.LogLevel).IsValid() {
		return nil, errFactory.New(errors.ErrInvalidLogLevel).
			WithData(config.LogLevel)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks invariants across the loaded values.
func (c *Config) Validate() error {
	errFactory := errors.New()

	if c.CriticalThreshold <= 0 || c.CriticalThreshold >= c.LowThreshold ||
		c.LowThreshold >= c.FullThreshold || c.FullThreshold > 100 {
		return errFactory.WithMessage(errors.ErrInvalidConfig,
			"battery thresholds must satisfy 0 < critical < low < full <= 100")
	}

	if c.BackoffInitial < 1 || c.BackoffMax < c.BackoffInitial || c.BackoffFactor < 1 {
		return errFactory.New(errors.ErrInvalidInterval).
			WithData(map[string]int{
				"backoff_initial": c.BackoffInitial,
				"backoff_max":     c.BackoffMax,
				"backoff_factor":  c.BackoffFactor,
			})
	}

	if c.CriticalPolling < 1 {
		return errFactory.New(errors.ErrInvalidInterval).WithData(c.CriticalPolling)
	}

	if c.NotificationCooldown < 0 {
		return errFactory.WithMessage(errors.ErrInvalidConfig,
			"notification_cooldown must not be negative")
	}

	for _, step := range c.BrightnessSteps() {
		if step.Level < 0 || step.Level > 100 {
			return errFactory.WithMessage(errors.ErrInvalidConfig,
				"brightness levels must be within 0-100")
		}
	}
	if c.BrightnessMax < 0 || c.BrightnessMax > 100 {
		return errFactory.WithMessage(errors.ErrInvalidConfig,
			"brightness_max must be within 0-100")
	}

	return nil
}
