package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"sbfeed/internal/app"
)

var (
	inspectFile string
	inspectDump string
	inspectSlot uint64
)

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Decode an aggregator account and print its state",
	Long: `Decode the configured aggregator account, fetched over RPC or read from
a raw account file, and print its fields, resolved result and guard verdict.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if inspectFile != "" && inspectDump != "" {
			return errors.New("--dump only applies to accounts fetched over RPC")
		}
		return getApp().Inspect(cmd.Context(), app.InspectOptions{
			File:     inspectFile,
			DumpPath: inspectDump,
			NowSlot:  inspectSlot,
		})
	},
}

func init() {
	inspectCmd.Flags().StringVar(&inspectFile, "file", "", "Decode raw account bytes from this file instead of RPC")
	inspectCmd.Flags().StringVar(&inspectDump, "dump", "", "Write the fetched raw account bytes to this path")
	inspectCmd.Flags().Uint64Var(&inspectSlot, "slot", 0, "Observed slot used for the staleness check with --file")
}
