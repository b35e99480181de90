package main

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tokenbridge/federator/federator/config"
	"github.com/tokenbridge/federator/federator/constant"
)

const (
	flagHome     = "home"
	flagLogLevel = "log-level"

	// Secrets are only read from the environment so they never show up in ps output.
	envKey           = "key"
	envKeyPassphrase = "key_passphrase"
)

func NewRootCmd() *cobra.Command {
	return newRootCmd(newViper())
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(constant.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

func newRootCmd(v *viper.Viper) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "federatord",
		Short:         "Token bridge federator daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.String(flagHome, constant.DefaultNodeHome, "federator home directory (env FEDERATOR_HOME)")
	flags.Int(flagLogLevel, 1, "log level override, 0 = debug (env FEDERATOR_LOG_LEVEL)")
	_ = v.BindPFlag(flagHome, flags.Lookup(flagHome))
	_ = v.BindPFlag(flagLogLevel, flags.Lookup(flagLogLevel))
	_ = v.BindEnv(envKey)
	_ = v.BindEnv(envKeyPassphrase)

	InitRootCmd(rootCmd, v)

	return rootCmd
}

// loadConfig reads the config under the home directory and applies overrides
// from flags and FEDERATOR_* variables.
func loadConfig(v *viper.Viper) (config.Config, error) {
	cfg, err := config.Load(v.GetString(flagHome))
	if err != nil {
		return config.Config{}, err
	}
	if v.IsSet(flagLogLevel) {
		cfg.LogLevel = v.GetInt(flagLogLevel)
		if err := config.Validate(&cfg); err != nil {
			return config.Config{}, err
		}
	}
	if key := v.GetString(envKey); key != "" {
		cfg.PrivateKey = key
	}
	return cfg, nil
}
