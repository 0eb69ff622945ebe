package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lmline/lmline/data"
	"github.com/lmline/lmline/service"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage lmline configuration",
	Long:  `Get or set configuration values, or print the config file location.`,
}

var configGetCmd = &cobra.Command{
	Use:   "get [key]",
	Short: "Print one configuration value, or all of them",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		store := data.NewConfigStore()
		if len(args) == 0 {
			for _, key := range data.Keys() {
				value, _ := store.Get(key)
				fmt.Printf("%s = %s\n", key, value)
			}
			return
		}
		value, ok := store.Get(args[0])
		if !ok {
			service.Errorf("unknown key %q", args[0])
			return
		}
		fmt.Println(value)
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		store := data.NewConfigStore()
		if !store.Set(args[0], args[1]) {
			service.Errorf("unknown key %q (known keys: %v)", args[0], data.Keys())
			return
		}
		if err := store.Save(getDefaultConfigFilePath()); err != nil {
			service.Errorf("failed to save config: %v", err)
			return
		}
		fmt.Printf("%s = %s\n", args[0], args[1])
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file location",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(getDefaultConfigFilePath())
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configPathCmd)
}
