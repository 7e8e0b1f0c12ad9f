package config

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// CLIConfig holds the settings of the dasi command line tools
type CLIConfig struct {
	ConfigFile string `mapstructure:"config"`
	LogLevel   string `mapstructure:"log_level"`
	LogFormat  string `mapstructure:"log_format"`
	LogFile    string `mapstructure:"log_file"`
	LogSyslog  string `mapstructure:"log_syslog"`
}

// LoadCLI loads command line settings from flags and DASI_* environment
// variables
func LoadCLI(cmd *cobra.Command) (*CLIConfig, error) {
	v := viper.New()

	setCLIDefaults(v)

	if err := bindFlags(cmd, v); err != nil {
		return nil, fmt.Errorf("failed to bind flags: %w", err)
	}

	v.SetEnvPrefix("DASI")
	v.AutomaticEnv()

	var cfg CLIConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setCLIDefaults(v *viper.Viper) {
	v.SetDefault("config", "")
	v.SetDefault("log_level", "warn")
	v.SetDefault("log_format", "text")
	v.SetDefault("log_file", "")
	v.SetDefault("log_syslog", "")
}

func bindFlags(cmd *cobra.Command, v *viper.Viper) error {
	flags := map[string]string{
		"config":     "config",
		"log-level":  "log_level",
		"log-format": "log_format",
		"log-file":   "log_file",
		"log-syslog": "log_syslog",
	}

	for flag, key := range flags {
		f := cmd.Flags().Lookup(flag)
		if f == nil {
			f = cmd.PersistentFlags().Lookup(flag)
		}
		if f == nil {
			f = cmd.InheritedFlags().Lookup(flag)
		}
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return err
		}
	}

	return nil
}
