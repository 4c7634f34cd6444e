package cli

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/sludgewire/internal/models"
)

var (
	tasksStatus string
	tasksSource string
	tasksLimit  int
)

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "List ingestion tasks from the claim ledger",
	Long: `List ingestion tasks, most recently updated first.

Examples:
  sludgewire tasks --status failed
  sludgewire tasks --source BACKFILL-3X --limit 20`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		filter := models.TaskFilter{Limit: tasksLimit}
		if tasksStatus != "" {
			st := models.TaskStatus(tasksStatus)
			if !st.Valid() {
				return fmt.Errorf("unknown status %q", tasksStatus)
			}
			filter.Status = &st
		}
		if tasksSource != "" {
			filter.Source = &tasksSource
		}

		tasks, err := deps.Store.ListTasks(cmd.Context(), filter)
		if err != nil {
			return fmt.Errorf("list tasks: %w", err)
		}
		if len(tasks) == 0 {
			fmt.Println("No tasks found")
			return nil
		}

		fmt.Printf("%-10s %-28s %-12s %-20s %s\n", "FILING", "SOURCE", "STATUS", "UPDATED", "DETAIL")
		for _, t := range tasks {
			fmt.Printf("%-10d %-28s %-12s %-20s %s\n",
				t.FilingID, truncateCol(t.Source, 28), t.Status, t.UpdatedAt.Format(time.DateTime), taskDetail(t))
		}
		return nil
	},
}

var resetSource string

var resetFailedCmd = &cobra.Command{
	Use:   "reset-failed [filing-id...]",
	Short: "Return failed tasks to claimed so the next pass retries them",
	Long: `Move failed tasks back to claimed and clear their failure details.
Without filing ids every failed task (of --source, if given) is reset.
Feed passes retry reset tasks; a completed backfill day needs --retry.

Examples:
  sludgewire reset-failed 1876543
  sludgewire reset-failed --source BACKFILL-E
  sludgewire backfill 2026-03-09 --type e --retry`,
	RunE: func(cmd *cobra.Command, args []string) error {
		filter := models.ResetFilter{}
		if resetSource != "" {
			filter.Source = &resetSource
		}
		for _, a := range args {
			id, err := strconv.ParseInt(a, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid filing id %q", a)
			}
			filter.FilingIDs = append(filter.FilingIDs, id)
		}

		n, err := deps.Store.ResetFailedTasks(cmd.Context(), filter)
		if err != nil {
			return fmt.Errorf("reset failed tasks: %w", err)
		}
		fmt.Printf("Reset %d task(s)\n", n)
		return nil
	},
}

func init() {
	tasksCmd.Flags().StringVar(&tasksStatus, "status", "", "filter by status")
	tasksCmd.Flags().StringVar(&tasksSource, "source", "", "filter by source")
	tasksCmd.Flags().IntVar(&tasksLimit, "limit", 50, "maximum tasks to list")

	resetFailedCmd.Flags().StringVar(&resetSource, "source", "", "only reset tasks of this source")

	rootCmd.AddCommand(tasksCmd)
	rootCmd.AddCommand(resetFailedCmd)
}

func taskDetail(t models.IngestionTask) string {
	switch {
	case t.ErrorMessage != nil:
		step := ""
		if t.FailedStep != nil {
			step = *t.FailedStep + ": "
		}
		return truncateCol(step+*t.ErrorMessage, 60)
	case t.SkipReason != nil:
		if t.FileSizeMB != nil {
			return fmt.Sprintf("%s (%.1f MB)", *t.SkipReason, *t.FileSizeMB)
		}
		return *t.SkipReason
	}
	return ""
}

func truncateCol(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
