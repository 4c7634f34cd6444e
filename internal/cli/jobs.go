package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/sludgewire/internal/service"
)

var jobsCmd = remote(&cobra.Command{
	Use:   "jobs [job-id]",
	Short: "List or inspect backfill jobs on the server",
	Long: `List all backfill range jobs on the server or inspect one by ID.

Examples:
  sludgewire jobs           # List all jobs
  sludgewire jobs abc123    # Show details for job abc123`,
	Args: cobra.MaximumNArgs(1),
	RunE: runJobs,
})

func init() {
	rootCmd.AddCommand(jobsCmd)
}

func runJobs(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if len(args) == 1 {
		return showJob(ctx, args[0])
	}
	return listJobs(ctx)
}

func listJobs(ctx context.Context) error {
	jobs, err := httpClient.ListJobs(ctx)
	if err != nil {
		return fmt.Errorf("list jobs: %w", err)
	}

	if len(jobs) == 0 {
		fmt.Println("No jobs found")
		return nil
	}

	fmt.Printf("%-10s %-5s %-23s %-10s %-10s %s\n", "ID", "TYPE", "RANGE", "STATUS", "DAYS", "STARTED")
	for _, j := range jobs {
		fmt.Printf("%-10s %-5s %-23s %-10s %-10s %s\n",
			j.ID,
			j.FilingType,
			j.From+".."+j.To,
			j.Status,
			fmt.Sprintf("%d/%d", j.DaysDone, j.DaysTotal),
			formatTimeAgo(j.StartedAt),
		)
	}
	return nil
}

func showJob(ctx context.Context, id string) error {
	job, err := httpClient.GetJob(ctx, id)
	if err != nil {
		return fmt.Errorf("get job: %w", err)
	}
	printJobSnapshot(*job)
	return nil
}

func printJobSnapshot(j service.JobSnapshot) {
	fmt.Printf("Job: %s\n", j.ID)
	fmt.Printf("  Type: %s\n", j.FilingType)
	fmt.Printf("  Range: %s .. %s\n", j.From, j.To)
	fmt.Printf("  Status: %s\n", j.Status)
	fmt.Printf("  Days: %d/%d\n", j.DaysDone, j.DaysTotal)
	fmt.Printf("  Filings found: %d\n", j.FilingsFound)
	fmt.Printf("  Started: %s\n", j.StartedAt.Format(time.RFC3339))
	if j.CompletedAt != nil {
		fmt.Printf("  Completed: %s\n", j.CompletedAt.Format(time.RFC3339))
		fmt.Printf("  Duration: %s\n", j.CompletedAt.Sub(j.StartedAt).Round(time.Millisecond))
	}
	if len(j.FailedDays) > 0 {
		fmt.Printf("  Failed days: %s\n", strings.Join(j.FailedDays, ", "))
	}
	if j.Error != "" {
		fmt.Printf("  Error: %s\n", j.Error)
	}
}

func formatTimeAgo(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return t.Format("Jan 2 15:04")
	}
}
