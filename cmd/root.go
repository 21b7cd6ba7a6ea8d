package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/plategate/plategate/cmd/check"
	"github.com/plategate/plategate/cmd/cloud"
	"github.com/plategate/plategate/cmd/edge"
	"github.com/plategate/plategate/internal/conf"
)

// RootCommand creates and returns the root command.
func RootCommand(settings *conf.Settings) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "plategate",
		Short: "License plate access control",
		Long: "plategate turns license plate reads into gate decisions: a cloud\n" +
			"control plane holds the canonical rules and per-gate edge devices\n" +
			"keep deciding from a cached copy when the network does not.",
		SilenceUsage: true,
	}

	if settings.Version != "" {
		rootCmd.Version = settings.Version
	}

	// Set up the global flags for the root command.
	if err := setupFlags(rootCmd, settings); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
		os.Exit(1)
	}

	subcommands := []*cobra.Command{
		cloud.Command(settings),
		edge.Command(settings),
		check.Command(settings),
	}
	rootCmd.AddCommand(subcommands...)

	return rootCmd
}

// setupFlags defines flags that are global to the command line interface.
func setupFlags(rootCmd *cobra.Command, settings *conf.Settings) error {
	rootCmd.PersistentFlags().BoolVarP(&settings.Debug, "debug", "d", viper.GetBool("debug"), "Enable debug output")

	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		return fmt.Errorf("error binding flags: %v", err)
	}

	return nil
}
