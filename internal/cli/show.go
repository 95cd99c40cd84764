package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"p2p-market-watch/internal/app"
)

var (
	showLimit    int
	showCurrency string
	showSide     string
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display recently archived orders",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			Limit:    showLimit,
			Currency: showCurrency,
			Side:     showSide,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of orders to display")
	showCmd.Flags().StringVar(&showCurrency, "currency", "", "Filter by currency code")
	showCmd.Flags().StringVar(&showSide, "side", "", "Filter by side (buy or sell)")
}
