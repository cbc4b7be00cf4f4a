package common

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string           `toml:"environment"` // "development" or "production"
	Logging     LoggingConfig    `toml:"logging"`
	Storage     StorageConfig    `toml:"storage"`
	Queue       QueueConfig      `toml:"queue"`
	Brokers     BrokersDirConfig `toml:"brokers"`
	Profile     ProfileConfig    `toml:"profile"`
	Automation  AutomationConfig `toml:"automation"`
	Captcha     CaptchaConfig    `toml:"captcha"`
	Email       EmailConfig      `toml:"email"`
}

type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Output []string `toml:"output"` // "stdout", "file"
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

type QueueConfig struct {
	Concurrency int    `toml:"concurrency"` // Concurrent operation collections
	Schedule    string `toml:"schedule"`    // Cron expression for scheduled passes
}

// BrokersDirConfig points at the directory of per-broker TOML definitions.
type BrokersDirConfig struct {
	Dir string `toml:"dir"`
}

// ProfileConfig points at the monitored person's profile definition.
type ProfileConfig struct {
	Path string `toml:"path"`
}

type AutomationConfig struct {
	Headless          string `toml:"headless"`            // "true"/"false"; string so env override stays uniform
	StepTimeout       string `toml:"step_timeout"`        // e.g. "90s" per automation step
	RequestsPerMinute int    `toml:"requests_per_minute"` // per-host politeness limit
}

func (a AutomationConfig) IsHeadless() bool {
	return a.Headless != "false"
}

// StepTimeoutDuration parses the step timeout, defaulting to 90 seconds.
func (a AutomationConfig) StepTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(a.StepTimeout)
	if err != nil || d <= 0 {
		return 90 * time.Second
	}
	return d
}

type CaptchaConfig struct {
	Endpoint     string `toml:"endpoint"`
	APIKey       string `toml:"api_key"`
	PollInterval string `toml:"poll_interval"` // e.g. "5s"
	Retries      int    `toml:"retries"`
}

func (c CaptchaConfig) PollIntervalDuration() time.Duration {
	d, err := time.ParseDuration(c.PollInterval)
	if err != nil || d <= 0 {
		return 5 * time.Second
	}
	return d
}

type EmailConfig struct {
	Host         string `toml:"host"`
	Port         int    `toml:"port"`
	Username     string `toml:"username"`
	Password     string `toml:"password"`
	UseTLS       bool   `toml:"use_tls"`
	Address      string `toml:"address"`       // Address opt-out requests are submitted with
	PollInterval string `toml:"poll_interval"` // e.g. "30s"
	Retries      int    `toml:"retries"`
}

func (e EmailConfig) PollIntervalDuration() time.Duration {
	d, err := time.ParseDuration(e.PollInterval)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// DefaultConfig returns the baseline configuration before file and env
// overrides are applied.
func DefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout"},
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{Path: "./data/expunge"},
		},
		Queue: QueueConfig{
			Concurrency: 2,
			Schedule:    "@every 1h",
		},
		Brokers: BrokersDirConfig{Dir: "./brokers"},
		Profile: ProfileConfig{Path: "./profile.toml"},
		Automation: AutomationConfig{
			Headless:          "true",
			StepTimeout:       "90s",
			RequestsPerMinute: 10,
		},
		Captcha: CaptchaConfig{
			PollInterval: "5s",
			Retries:      24,
		},
		Email: EmailConfig{
			Port:         993,
			UseTLS:       true,
			PollInterval: "30s",
			Retries:      10,
		},
	}
}

// LoadFromFile loads configuration from a TOML file over the defaults,
// then applies environment overrides.
func LoadFromFile(path string) (*Config, error) {
	config := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)

	if config.Queue.Concurrency <= 0 {
		config.Queue.Concurrency = 2
	}

	return config, nil
}

// applyEnvOverrides applies EXPUNGE_* environment variables on top of the
// loaded configuration.
func applyEnvOverrides(config *Config) {
	if v := os.Getenv("EXPUNGE_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
	if v := os.Getenv("EXPUNGE_BADGER_PATH"); v != "" {
		config.Storage.Badger.Path = v
	}
	if v := os.Getenv("EXPUNGE_QUEUE_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.Queue.Concurrency = n
		}
	}
	if v := os.Getenv("EXPUNGE_QUEUE_SCHEDULE"); v != "" {
		config.Queue.Schedule = v
	}
	if v := os.Getenv("EXPUNGE_BROKERS_DIR"); v != "" {
		config.Brokers.Dir = v
	}
	if v := os.Getenv("EXPUNGE_PROFILE_PATH"); v != "" {
		config.Profile.Path = v
	}
	if v := os.Getenv("EXPUNGE_CAPTCHA_ENDPOINT"); v != "" {
		config.Captcha.Endpoint = v
	}
	if v := os.Getenv("EXPUNGE_CAPTCHA_API_KEY"); v != "" {
		config.Captcha.APIKey = v
	}
	if v := os.Getenv("EXPUNGE_EMAIL_HOST"); v != "" {
		config.Email.Host = v
	}
	if v := os.Getenv("EXPUNGE_EMAIL_USERNAME"); v != "" {
		config.Email.Username = v
	}
	if v := os.Getenv("EXPUNGE_EMAIL_PASSWORD"); v != "" {
		config.Email.Password = v
	}
	if v := os.Getenv("EXPUNGE_EMAIL_ADDRESS"); v != "" {
		config.Email.Address = v
	}
}
