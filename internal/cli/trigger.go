package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var triggerCmd = remote(&cobra.Command{
	Use:   "trigger",
	Short: "Ask the server to start a catch-up pass",
	Long: `Ask a running sludgewire-server to poll every feed until caught up.
The server refuses while a pass is running or during the trigger cooldown.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := httpClient.Trigger(cmd.Context())
		if err != nil {
			return fmt.Errorf("trigger: %w", err)
		}
		if !res.Accepted {
			return fmt.Errorf("trigger refused: %s", res.Status)
		}
		fmt.Println("Catch-up pass started")
		return nil
	},
})

var statsCmd = remote(&cobra.Command{
	Use:   "stats",
	Short: "Show the server's pipeline counters",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		snap, err := httpClient.Stats(cmd.Context())
		if err != nil {
			return fmt.Errorf("stats: %w", err)
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	},
})

func init() {
	rootCmd.AddCommand(triggerCmd)
	rootCmd.AddCommand(statsCmd)
}
