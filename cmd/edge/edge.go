package edge

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/plategate/plategate/internal/conf"
	"github.com/plategate/plategate/internal/service"
)

// Command creates the edge device command.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "edge",
		Short: "Run the edge device process",
		Long: "Sync rules from the cloud, evaluate plate detections locally, actuate\n" +
			"the gate and report decisions back, surviving network outages on the\n" +
			"cached rule set.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return service.RunEdge(settings)
		},
	}

	// Set up flags specific to the 'edge' command
	if err := setupFlags(cmd, settings); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
		os.Exit(1)
	}

	return cmd
}

// setupFlags configures flags specific to the edge command.
func setupFlags(cmd *cobra.Command, settings *conf.Settings) error {
	cmd.Flags().StringVar(&settings.Edge.DeviceID, "deviceid", viper.GetString("edge.deviceid"), "Unique identifier of this device")
	cmd.Flags().StringVar(&settings.Edge.PropertyID, "propertyid", viper.GetString("edge.propertyid"), "Property whose rules this device enforces")
	cmd.Flags().StringVar(&settings.Edge.CloudURL, "cloudurl", viper.GetString("edge.cloudurl"), "Base URL of the cloud API")
	cmd.Flags().StringVar(&settings.Edge.APIKey, "apikey", viper.GetString("edge.apikey"), "API key presented to the cloud")
	cmd.Flags().StringVar(&settings.Edge.Host, "host", viper.GetString("edge.host"), "Address to bind the local API to")
	cmd.Flags().StringVar(&settings.Edge.Port, "port", viper.GetString("edge.port"), "Port to bind the local API to")

	// Bind flags to the viper settings
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("error binding flags: %v", err)
	}

	return nil
}
