package core

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultBaseURL is the public FLUX API root.
const DefaultBaseURL = "https://api.bfl.ai/v1"

// Config holds all configuration values.
type Config struct {
	// Credential sent in the x-key header. May be empty when callers pass a
	// credential per invocation.
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`

	// Polling
	PollMaxAttempts int           `yaml:"poll_max_attempts"`
	PollMaxDelay    time.Duration `yaml:"poll_max_delay"`

	// HTTP
	RequestTimeout       time.Duration `yaml:"request_timeout"`
	DownloadTimeout      time.Duration `yaml:"download_timeout"`
	RequestsPerSecond    float64       `yaml:"requests_per_second"` // 0 disables limiting
	AllowSelfSignedCerts bool          `yaml:"allow_self_signed_certs"`

	// Local files
	HistoryDBPath string `yaml:"history_db"` // empty disables run history
	OutputDir     string `yaml:"output_dir"`
	LogFile       string `yaml:"log_file"`

	DevMode bool `yaml:"dev_mode"`
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:         DefaultBaseURL,
		PollMaxAttempts: 15,
		PollMaxDelay:    30 * time.Second,
		RequestTimeout:  30 * time.Second,
		DownloadTimeout: 60 * time.Second,
		OutputDir:       "output",
		LogFile:         "fluxtask.log",
	}
}

// LoadConfig loads configuration from environment variables on top of the
// defaults. It does not require a credential; see Validate.
func LoadConfig() (*Config, error) {
	d := DefaultConfig()

	cfg := &Config{
		APIKey:               os.Getenv("BFL_API_KEY"),
		BaseURL:              GetEnvOrDefault("BFL_BASE_URL", d.BaseURL),
		PollMaxAttempts:      ParseIntEnv("BFL_POLL_MAX_ATTEMPTS", d.PollMaxAttempts),
		PollMaxDelay:         ParseDurationEnv("BFL_POLL_MAX_DELAY_SECONDS", int(d.PollMaxDelay/time.Second)),
		RequestTimeout:       ParseDurationEnv("BFL_REQUEST_TIMEOUT_SECONDS", int(d.RequestTimeout/time.Second)),
		DownloadTimeout:      ParseDurationEnv("BFL_DOWNLOAD_TIMEOUT_SECONDS", int(d.DownloadTimeout/time.Second)),
		RequestsPerSecond:    ParseFloat64Env("BFL_REQUESTS_PER_SECOND", 0),
		AllowSelfSignedCerts: ParseBoolEnv("ALLOW_SELF_SIGNED_CERTS", false),
		HistoryDBPath:        os.Getenv("FLUXTASK_HISTORY_DB"),
		OutputDir:            GetEnvOrDefault("FLUXTASK_OUTPUT_DIR", d.OutputDir),
		LogFile:              GetEnvOrDefault("FLUXTASK_LOG_FILE", d.LogFile),
		DevMode:              ParseBoolEnv("DEV_MODE", false),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfigFile overlays the YAML file at path onto base. Keys absent from
// the file keep their base values.
//
// Example file:
//
//	base_url: https://api.us1.bfl.ai/v1
//	poll_max_attempts: 20
//	poll_max_delay: 45s
//	history_db: ~/.fluxtask/history.db
func LoadConfigFile(path string, base *Config) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrConfigFileMissing(path)
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg := DefaultConfig()
	if base != nil {
		copied := *base
		cfg = &copied
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, ErrInvalidConfigFile(path, err.Error())
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges. A missing APIKey is not an error here.
func (c *Config) Validate() error {
	if err := ValidateBaseURL(c.BaseURL); err != nil {
		return err
	}
	if c.PollMaxAttempts < 1 {
		return ErrInvalidValue("BFL_POLL_MAX_ATTEMPTS", fmt.Sprintf("must be at least 1, got %d", c.PollMaxAttempts))
	}
	if c.PollMaxDelay < time.Second {
		return ErrInvalidValue("BFL_POLL_MAX_DELAY_SECONDS", fmt.Sprintf("must be at least 1s, got %v", c.PollMaxDelay))
	}
	if c.RequestTimeout <= 0 {
		return ErrInvalidValue("BFL_REQUEST_TIMEOUT_SECONDS", "must be positive")
	}
	if c.DownloadTimeout <= 0 {
		return ErrInvalidValue("BFL_DOWNLOAD_TIMEOUT_SECONDS", "must be positive")
	}
	if c.RequestsPerSecond < 0 {
		return ErrInvalidValue("BFL_REQUESTS_PER_SECOND", "must not be negative")
	}
	return nil
}

// Credential returns override when set, otherwise the configured API key.
// The result may be empty; the orchestrator rejects empty credentials.
func (c *Config) Credential(override string) string {
	if override != "" {
		return override
	}
	return c.APIKey
}
