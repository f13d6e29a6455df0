package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/abdul-hamid-achik/postkit/packages/transfer"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "postkit version %s\n", version)
		fmt.Fprintf(cmd.OutOrStdout(), "Built: %s\n", buildTime)

		engine := transfer.New()
		defer engine.Close()
		fmt.Fprintf(cmd.OutOrStdout(), "Engine: %s\n", engine.Backend())
	},
}
