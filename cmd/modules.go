package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/attune-dev/attune/pkg"
	_ "github.com/attune-dev/attune/pkg/modules"
)

var modulesCmd = &cobra.Command{
	Use:   "modules",
	Short: "List the available modules",
	Run: func(cmd *cobra.Command, args []string) {
		for _, name := range pkg.ModuleNames() {
			fmt.Println(name)
		}
	},
}

func init() {
	rootCmd.AddCommand(modulesCmd)
}
