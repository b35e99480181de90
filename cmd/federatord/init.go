package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tokenbridge/federator/federator/config"
	"github.com/tokenbridge/federator/federator/constant"
	"github.com/tokenbridge/federator/federator/keys"
)

const (
	flagGenerateKey = "generate-key"
	flagForce       = "force"
)

func initCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default configuration to the home directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			home := v.GetString(flagHome)
			generateKey, _ := cmd.Flags().GetBool(flagGenerateKey)
			force, _ := cmd.Flags().GetBool(flagForce)

			configFile := filepath.Join(home, constant.ConfigSubdir, constant.ConfigFileName)
			if _, err := os.Stat(configFile); err == nil && !force {
				return fmt.Errorf("config already exists at %s, use --%s to overwrite", configFile, flagForce)
			}

			cfg, err := config.LoadDefaultConfig()
			if err != nil {
				return err
			}
			cfg.NodeHome = home
			if err := config.Save(cfg, home); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "config written to %s\n", configFile)

			if generateKey {
				key, err := keys.Generate(keys.KeyFilePath(home), v.GetString(envKeyPassphrase))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "federator account: %s\n", keys.Address(key).Hex())
			}
			return nil
		},
	}
	cmd.Flags().Bool(flagGenerateKey, false, "generate a signing key under <home>/config, encrypted with FEDERATOR_KEY_PASSPHRASE when set")
	cmd.Flags().Bool(flagForce, false, "overwrite an existing config")
	return cmd
}
