package cli

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var (
	simulateSymbol string
	simulatePrice  string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "Run one alert tick with a fixed price for a symbol",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateSymbol == "" {
			return errors.New("--symbol is required")
		}
		price, err := decimal.NewFromString(simulatePrice)
		if err != nil {
			return fmt.Errorf("invalid --price: %w", err)
		}
		if !price.IsPositive() {
			return errors.New("--price must be greater than 0")
		}

		_, err = getApp().SimulateAlert(cmd.Context(), simulateSymbol, price)
		return err
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateSymbol, "symbol", "", "Symbol to price, e.g. BTC")
	simulateCmd.Flags().StringVar(&simulatePrice, "price", "", "Price to report for the symbol")
}
