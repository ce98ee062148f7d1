package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all run-wide settings. It is loaded once and threaded
// explicitly through plan building and execution; there is no ambient
// global state.
type Config struct {
	Run     RunConfig     `mapstructure:"run"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// RunConfig holds execution settings.
type RunConfig struct {
	// Forks is the host-level worker pool size.
	Forks int `mapstructure:"forks"`
	// TaskTimeout bounds a single remote invocation, in seconds. Zero
	// disables the bound.
	TaskTimeout int `mapstructure:"task_timeout"`
	// AnyErrorsFatal escalates one host's failure into run-wide
	// cancellation: in-flight units finish, nothing new is dispatched.
	AnyErrorsFatal bool `mapstructure:"any_errors_fatal"`
	// CheckMode forces dry-run execution for every play.
	CheckMode bool `mapstructure:"check_mode"`
	// SettleDelay is an inter-task pause per host, in milliseconds.
	SettleDelay int `mapstructure:"settle_delay"`
}

// LoggingConfig holds logging-related configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Timestamps bool   `mapstructure:"timestamps"`
	File       string `mapstructure:"file"`
}

// TaskTimeout returns the per-unit timeout as a duration.
func (c *Config) TaskTimeout() time.Duration {
	return time.Duration(c.Run.TaskTimeout) * time.Second
}

// SettleDelay returns the inter-task settle delay as a duration.
func (c *Config) SettleDelay() time.Duration {
	return time.Duration(c.Run.SettleDelay) * time.Millisecond
}

// Load loads configuration from files and ATTUNE_* environment variables.
func Load(configPaths ...string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	for _, path := range configPaths {
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", path, err)
		}
	}

	v.SetEnvPrefix("ATTUNE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("run.forks", 5)
	v.SetDefault("run.task_timeout", 0)
	v.SetDefault("run.any_errors_fatal", false)
	v.SetDefault("run.check_mode", false)
	v.SetDefault("run.settle_delay", 0)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "plain")
	v.SetDefault("logging.timestamps", true)
	v.SetDefault("logging.file", "")
}
