package cli

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/sludgewire/internal/models"
)

var configKeys = []string{models.ConfigMaxNewPerRun, models.ConfigEmailEnabled}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Read or change run-level settings stored in the database",
}

var configGetCmd = &cobra.Command{
	Use:   "get [key]",
	Short: "Show one setting or all of them",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		keys := configKeys
		if len(args) == 1 {
			keys = args
		}
		for _, k := range keys {
			v, ok, err := deps.Store.GetConfig(cmd.Context(), k)
			if err != nil {
				return fmt.Errorf("get %s: %w", k, err)
			}
			if !ok {
				v = "(unset)"
			}
			fmt.Printf("%s = %s\n", k, v)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Change a setting",
	Long: `Change a run-level setting.

Keys:
  max_new_per_run  new filings claimed per feed per pass (integer > 0)
  email_enabled    whether alerts are sent (true/false)`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]
		if err := validateConfig(key, value); err != nil {
			return err
		}
		if err := deps.Store.SetConfig(cmd.Context(), key, value); err != nil {
			return fmt.Errorf("set %s: %w", key, err)
		}
		fmt.Printf("%s = %s\n", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configSetCmd)
	rootCmd.AddCommand(configCmd)
}

func validateConfig(key, value string) error {
	switch key {
	case models.ConfigMaxNewPerRun:
		n, err := strconv.Atoi(value)
		if err != nil || n <= 0 {
			return fmt.Errorf("%s must be a positive integer", key)
		}
	case models.ConfigEmailEnabled:
		if !slices.Contains([]string{"true", "false", "1", "0", "yes", "no"}, strings.ToLower(value)) {
			return fmt.Errorf("%s must be true or false", key)
		}
	default:
		if !slices.Contains(configKeys, key) {
			return fmt.Errorf("unknown key %q", key)
		}
	}
	return nil
}
