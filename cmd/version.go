// File: cmd/version.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Hardcode the version string here
const version = "v0.3.1"

func init() {
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of lmline",
	Long:  `Prints the current version of lmline.`,
	Run: func(cmd *cobra.Command, args []string) {
		// Match the default cobra --version output format
		fmt.Printf("%s %s\n", rootCmd.CommandPath(), version)
	},
}
