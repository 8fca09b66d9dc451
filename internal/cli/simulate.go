package cli

import (
	"errors"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var (
	simulateETH   float64
	simulateMATIC float64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "模拟一次采样周期并触发告警",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateETH <= 0 || simulateMATIC <= 0 {
			return errors.New("--eth 与 --matic 必须大于 0")
		}

		eth := decimal.NewFromFloat(simulateETH)
		matic := decimal.NewFromFloat(simulateMATIC)
		return getApp().SimulateAlert(cmd.Context(), eth, matic)
	},
}

func init() {
	simulateCmd.Flags().Float64Var(&simulateETH, "eth", 0, "模拟的 ETH 美元价格")
	simulateCmd.Flags().Float64Var(&simulateMATIC, "matic", 0, "模拟的 MATIC 美元价格")
}
