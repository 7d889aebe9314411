package cli

import (
	"errors"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var (
	simulateSymbol string
	simulatePrice  float64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "Run one cycle for an asset with a fixed price",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateSymbol == "" {
			return errors.New("--symbol is required")
		}
		if simulatePrice <= 0 {
			return errors.New("--price must be greater than 0")
		}

		return getApp().SimulateAlert(cmd.Context(), simulateSymbol, decimal.NewFromFloat(simulatePrice))
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateSymbol, "symbol", "", "Asset symbol to simulate")
	simulateCmd.Flags().Float64Var(&simulatePrice, "price", 0, "Simulated current price in USD")
}
