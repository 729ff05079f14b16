package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/isceproc/isceproc/pkg/telemetry"
	"github.com/isceproc/isceproc/pkg/transports/ssh"
)

const (
	// DefaultFile is the config file looked up in the processing directory.
	DefaultFile = "isceproc.yaml"

	// DataDir holds the run database and generated keys of a processing directory.
	DataDir = ".isceproc"

	// EnvConfigPath overrides the config file location.
	EnvConfigPath = "ISCEPROC_CONFIG"
)

// Executor names accepted by ExecutorConfig.Default.
const (
	ExecutorNative = "native"
	ExecutorRunPy  = "runpy"
	ExecutorSSH    = "ssh"
)

// Config is the application configuration. Processing parameters never live
// here; they come from the template file of each project.
type Config struct {
	Logging  telemetry.LoggingConfig `yaml:"logging"`
	Tracing  telemetry.TracingConfig `yaml:"tracing"`
	Metrics  telemetry.MetricsConfig `yaml:"metrics"`
	Store    StoreConfig             `yaml:"store"`
	Executor ExecutorConfig          `yaml:"executor"`

	// SSH is only required by the ssh executor.
	SSH *ssh.Config `yaml:"ssh,omitempty"`
}

// StoreConfig configures the run history database.
type StoreConfig struct {
	// Path of the SQLite database file.
	Path string `yaml:"path" validate:"required"`

	// BusyTimeout bounds how long a writer waits on a locked database.
	BusyTimeout time.Duration `yaml:"busy_timeout" validate:"gte=0"`
}

// ExecutorConfig selects how run files are executed.
type ExecutorConfig struct {
	// Default is the run-file executor used when --executor is not given.
	Default string `yaml:"default" validate:"oneof=native runpy ssh"`

	// Shell runs each line of a run file for the native executor.
	Shell string `yaml:"shell" validate:"required"`

	// MaxRetries is the number of retries of a step that failed transiently.
	MaxRetries int `yaml:"max_retries" validate:"gte=0,lte=10"`

	// StepTimeout bounds each processing step; zero means no limit.
	StepTimeout time.Duration `yaml:"step_timeout" validate:"gte=0"`
}

// Default returns the configuration used when no config file exists.
func Default() *Config {
	tel := telemetry.DefaultConfig()
	return &Config{
		Logging: tel.Logging,
		Tracing: tel.Tracing,
		Metrics: tel.Metrics,
		Store: StoreConfig{
			Path:        filepath.Join(DataDir, "isceproc.db"),
			BusyTimeout: 5 * time.Second,
		},
		Executor: ExecutorConfig{
			Default:    ExecutorNative,
			Shell:      "/bin/bash",
			MaxRetries: 2,
		},
	}
}

// Path resolves the config file location: the explicit path when set,
// then $ISCEPROC_CONFIG, then ./isceproc.yaml.
func Path(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if env := os.Getenv(EnvConfigPath); env != "" {
		return env
	}
	return DefaultFile
}

// Load reads the config file at path on top of the defaults. A missing file
// yields the defaults unless the path was given explicitly.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(Path(path))
	switch {
	case errors.Is(err, os.ErrNotExist) && path == "":
		return cfg, nil
	case err != nil:
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	// yaml.v3 decodes into the existing value, so a present ssh section
	// keeps the defaults of the fields it omits.
	cfg.SSH = ssh.DefaultConfig("", "")
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", Path(path), err)
	}
	if cfg.SSH != nil && cfg.SSH.Host == "" {
		cfg.SSH = nil
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", Path(path), err)
	}

	return cfg, nil
}

// Validate checks field constraints and the cross-section rules.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}

	if err := c.Telemetry().Validate(); err != nil {
		return err
	}

	if c.Executor.Default == ExecutorSSH {
		if c.SSH == nil {
			return fmt.Errorf("executor %q requires an ssh section", ExecutorSSH)
		}
		if c.SSH.RemoteDir == "" {
			return fmt.Errorf("ssh.remote_dir is required for the %q executor", ExecutorSSH)
		}
		if err := c.SSH.Validate(); err != nil {
			return fmt.Errorf("ssh: %w", err)
		}
	}

	return nil
}

// Telemetry returns the telemetry section as a telemetry.Config.
func (c *Config) Telemetry() *telemetry.Config {
	tel := telemetry.DefaultConfig()
	tel.Logging = c.Logging
	tel.Tracing = c.Tracing
	tel.Metrics = c.Metrics
	return tel
}

// Save writes the configuration as YAML, creating parent directories.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
