package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var untilCaughtUp bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one ingestion pass over every feed",
	Long: `Read the F3X feed and every independent expenditure feed once, claiming
and ingesting new filings. With --until-caught-up, repeat passes until a pass
comes back short of the per-run cap, then send alerts.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		var result any
		if untilCaughtUp {
			result = deps.Poller.RunUntilCaughtUp(ctx)
		} else {
			result = deps.Poller.RunOnce(ctx)
			if _, err := deps.Alerts.Send(ctx); err != nil {
				logger.Error("send alerts failed", "error", err)
			}
		}

		snap := deps.Metrics.Snapshot()
		logger.Info("run finished", "counters", snap.Counters)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			return fmt.Errorf("encode result: %w", err)
		}
		return nil
	},
}

func init() {
	runCmd.Flags().BoolVar(&untilCaughtUp, "until-caught-up", false, "repeat passes until the feeds are drained")
	rootCmd.AddCommand(runCmd)
}
