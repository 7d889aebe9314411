package cli

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"etf-guardian/internal/app"
)

var (
	showLimit     int
	markUsedLevel float64
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display assets, recent samples, alerts and open levels",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			Limit: showLimit,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

var markUsedCmd = &cobra.Command{
	Use:   "mark-used SYMBOL",
	Short: "Mark an open investment level as acted on",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if markUsedLevel >= 0 {
			return errors.New("--level must be negative, e.g. --level=-10")
		}
		return getApp().MarkLevelUsed(cmd.Context(), args[0], decimal.NewFromFloat(markUsedLevel))
	},
}

func init() {
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of rows to display per section")
	markUsedCmd.Flags().Float64Var(&markUsedLevel, "level", 0, "Drawdown level to mark, e.g. -10")
}
