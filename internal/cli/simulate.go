package cli

import (
	"errors"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"sbfeed/internal/app"
)

var (
	simulatePrice     string
	simulateReference string
	simulateSlotLag   uint64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "模拟一次喂价并走完校验与告警流程",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulatePrice == "" {
			return errors.New("--price 必须配置")
		}
		price, err := decimal.NewFromString(simulatePrice)
		if err != nil {
			return err
		}

		opts := app.SimulateOptions{Price: price, SlotLag: simulateSlotLag}
		if simulateReference != "" {
			if opts.Reference, err = decimal.NewFromString(simulateReference); err != nil {
				return err
			}
			if !opts.Reference.IsPositive() {
				return errors.New("--reference 必须大于 0")
			}
		}
		return getApp().SimulateAlert(cmd.Context(), opts)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulatePrice, "price", "", "Switchboard 聚合结果")
	simulateCmd.Flags().StringVar(&simulateReference, "reference", "", "参考价格 (可选)")
	simulateCmd.Flags().Uint64Var(&simulateSlotLag, "slot-lag", 0, "轮次开启后经过的 slot 数")
}
