package cloud

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/plategate/plategate/internal/conf"
	"github.com/plategate/plategate/internal/service"
)

// Command creates the cloud control plane command.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cloud",
		Short: "Run the cloud control plane",
		Long: "Serve the canonical rule store, versioned rule snapshots, event intake\n" +
			"and device health tracking over HTTP.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return service.RunCloud(settings)
		},
	}

	// Set up flags specific to the 'cloud' command
	if err := setupFlags(cmd, settings); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
		os.Exit(1)
	}

	return cmd
}

// setupFlags configures flags specific to the cloud command.
func setupFlags(cmd *cobra.Command, settings *conf.Settings) error {
	cmd.Flags().StringVar(&settings.Cloud.Host, "host", viper.GetString("cloud.host"), "Address to bind the cloud API to")
	cmd.Flags().StringVar(&settings.Cloud.Port, "port", viper.GetString("cloud.port"), "Port to bind the cloud API to")
	cmd.Flags().StringVar(&settings.Cloud.APIKey, "apikey", viper.GetString("cloud.apikey"), "API key required on sync and mutating routes, empty disables auth")

	// Bind flags to the viper settings
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("error binding flags: %v", err)
	}

	return nil
}
