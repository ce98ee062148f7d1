package cmd

import (
	"github.com/spf13/cobra"

	"github.com/attune-dev/attune/pkg/common"
	"github.com/attune-dev/attune/pkg/config"
)

var (
	configFile string
	logLevel   string
	logFormat  string
)

var rootCmd = &cobra.Command{
	Use:   "attune",
	Short: "Converge hosts toward a declared state",
	Long:  `Attune runs declarative playbooks against an inventory of hosts, converging each host toward the declared state exactly once per run.`,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format (plain, json)")
}

// loadConfig loads the config file (if given) and applies logging flags on
// top of it.
func loadConfig() (*config.Config, error) {
	var paths []string
	if configFile != "" {
		paths = append(paths, configFile)
	}
	cfg, err := config.Load(paths...)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if logFormat != "" {
		cfg.Logging.Format = logFormat
	}
	if err := common.SetLogFormat(cfg.Logging); err != nil {
		return nil, err
	}
	common.SetLogLevel(cfg.Logging.Level)
	if cfg.Logging.File != "" {
		if err := common.SetLogFile(cfg.Logging.File); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
