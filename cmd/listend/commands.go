package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lennylistens/listend/internal/config"
)

var clearTestDataCmd = &cobra.Command{
	Use:   "clear-test-data",
	Short: "Remove pending test conversations (IDs prefixed with \"test-\")",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			printError("%v", err)
			return err
		}

		resp, err := client.post("/api/admin/clear-test-data", nil)
		if err != nil {
			printError("%v", err)
			return err
		}

		var result struct {
			Success   bool `json:"success"`
			Cleared   int  `json:"cleared"`
			Remaining int  `json:"remaining"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			printError("%v", err)
			return err
		}

		printSuccess("Cleared %d test conversation(s), %d pending remaining", result.Cleared, result.Remaining)
		return nil
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and modify listend configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration values",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			printError("%v", err)
			return err
		}
		for _, info := range config.ShowAll(cfg) {
			value := info.Value
			if value == "" {
				value = "(not set)"
			}
			fmt.Printf("  %s %s\n", colorize(colorCyan, fmt.Sprintf("%-28s", info.Key)), value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Persist a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.SetKey(args[0], args[1]); err != nil {
			printError("%v", err)
			fmt.Println("Valid keys:")
			for _, key := range config.ValidKeys() {
				fmt.Printf("  %s\n", key)
			}
			return err
		}
		printSuccess("Set %s = %s", args[0], args[1])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
