package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var setCmd = &cobra.Command{
	Use:   "set",
	Short: "Store local configuration",
}

var setAPIKeyCmd = &cobra.Command{
	Use:   "api-key <key>",
	Short: "Store the API key in ~/.vast_api_key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.SaveAPIKey(args[0]); err != nil {
			return err
		}
		fmt.Printf("Wrote %s\n", cfg.APIKeyFile)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(setCmd)
	setCmd.AddCommand(setAPIKeyCmd)
}
