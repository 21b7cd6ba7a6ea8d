package check

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/plategate/plategate/internal/conf"
	"github.com/plategate/plategate/internal/service"
)

// Command creates the check command: a one-shot evaluation of a plate
// against the canonical rule store.
func Command(settings *conf.Settings) *cobra.Command {
	var opts service.CheckOptions

	cmd := &cobra.Command{
		Use:   "check <plate>",
		Short: "Evaluate a plate against the canonical rules",
		Long: "Resolve one plate the way a gate would, against the cloud rule store,\n" +
			"and print the outcome with the matched rule.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Plate = args[0]
			return service.RunCheck(settings, opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.PropertyID, "property", viper.GetString("edge.propertyid"), "Property whose rules to evaluate against")
	cmd.Flags().Float64Var(&opts.Confidence, "confidence", 100, "Reader confidence to assume, 0-100")
	cmd.Flags().BoolVar(&opts.JSON, "json", false, "Print the result as JSON")

	return cmd
}
