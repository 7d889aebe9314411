package cli

import (
	"github.com/spf13/cobra"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Provision peak records for configured assets",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Seed(cmd.Context())
	},
}
