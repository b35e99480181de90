package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tokenbridge/federator/federator/constant"
)

func InitRootCmd(rootCmd *cobra.Command, v *viper.Viper) {
	rootCmd.AddCommand(startCmd(v))
	rootCmd.AddCommand(initCmd(v))
	rootCmd.AddCommand(statusCmd(v))
	rootCmd.AddCommand(resetCursorCmd(v))
	rootCmd.AddCommand(versionCmd())
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print federatord version info",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Name:       %s\n", "federatord")
			fmt.Fprintf(out, "Version:    %s\n", constant.FederatorVersion)
			fmt.Fprintf(out, "Go Version: %s\n", runtime.Version())
		},
	}
}
