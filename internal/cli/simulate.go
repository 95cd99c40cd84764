package cli

import (
	"github.com/spf13/cobra"

	"p2p-market-watch/internal/app"
)

var (
	simulateSide    string
	simulateFiat    string
	simulateAmount  float64
	simulatePremium float64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "Push a synthetic order through the alert pipeline",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().SimulateAlert(cmd.Context(), app.SimulateOptions{
			Side:       simulateSide,
			Currency:   simulateFiat,
			Amount:     simulateAmount,
			PremiumPct: simulatePremium,
		})
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateSide, "side", "sell", "Order side (buy or sell)")
	simulateCmd.Flags().StringVar(&simulateFiat, "currency", "USD", "Fiat currency code")
	simulateCmd.Flags().Float64Var(&simulateAmount, "amount", 100, "Fiat amount")
	simulateCmd.Flags().Float64Var(&simulatePremium, "premium", 0, "Premium percent over market rate")
}
