package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/raphaelgruber/sludgewire/internal/models"
	"github.com/raphaelgruber/sludgewire/internal/service"
)

var (
	backfillTo          string
	backfillType        string
	backfillConcurrency int
	backfillRemote      bool
	backfillRetry       bool
)

var backfillCmd = &cobra.Command{
	Use:   "backfill <date>",
	Short: "Replay filings received on a day (or a range) from the historical API",
	Long: `Replay every filing of --type received on <date> (YYYY-MM-DD). With --to,
replay every day from <date> through --to, newest first, with bounded
concurrency. Completed days are not replayed again unless --retry reopens
one, which re-drives the tasks reset-failed returned to claimed.

With --remote the range runs on a sludgewire-server and Ctrl+C detaches.

Examples:
  sludgewire backfill 2026-03-09 --type 3x
  sludgewire backfill 2026-03-01 --to 2026-03-09 --type e --concurrency 4
  sludgewire backfill 2026-03-09 --type e --retry`,
	Args: cobra.ExactArgs(1),
	RunE: runBackfill,
}

var backfillStatusCmd = &cobra.Command{
	Use:   "backfill-status <date>",
	Short: "Show the backfill state of one day",
	Long:  `Show the backfill job of <date> and --type. A running job that has gone stale is reset to pending.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		date, ft, err := parseDateType(args[0], backfillType)
		if err != nil {
			return err
		}
		var job *models.BackfillJob
		if backfillRemote {
			job, err = httpClient.BackfillStatus(cmd.Context(), date, ft)
		} else {
			job, err = deps.Backfill.Status(cmd.Context(), date, ft)
		}
		if err != nil {
			return fmt.Errorf("backfill status: %w", err)
		}
		printBackfillJob(job)
		return nil
	},
}

func init() {
	backfillCmd.Flags().StringVar(&backfillTo, "to", "", "last day of the range (YYYY-MM-DD)")
	backfillCmd.Flags().StringVarP(&backfillType, "type", "t", "", "filing type: 3x or e")
	backfillCmd.Flags().IntVar(&backfillConcurrency, "concurrency", 0, "days replayed in parallel (default $BACKFILL_WORKERS)")
	backfillCmd.Flags().BoolVar(&backfillRemote, "remote", false, "run on the server")
	backfillCmd.Flags().BoolVar(&backfillRetry, "retry", false, "reopen a completed day and retry its reset tasks")
	_ = backfillCmd.MarkFlagRequired("type")

	backfillStatusCmd.Flags().StringVarP(&backfillType, "type", "t", "", "filing type: 3x or e")
	backfillStatusCmd.Flags().BoolVar(&backfillRemote, "remote", false, "ask the server")
	_ = backfillStatusCmd.MarkFlagRequired("type")

	rootCmd.AddCommand(backfillCmd)
	rootCmd.AddCommand(backfillStatusCmd)
}

func runBackfill(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	from, ft, err := parseDateType(args[0], backfillType)
	if err != nil {
		return err
	}
	to := from
	if backfillTo != "" {
		if to, err = models.ParseDay(backfillTo); err != nil {
			return err
		}
	}

	if backfillRetry && (backfillRemote || !from.Equal(to)) {
		return fmt.Errorf("--retry works on a single local day")
	}
	if backfillRemote {
		return runRemoteBackfill(ctx, from, to, ft)
	}
	if from.Equal(to) {
		return runSingleDay(ctx, from, ft)
	}
	return runLocalRange(ctx, from, to, ft)
}

func runSingleDay(ctx context.Context, date time.Time, ft models.FilingType) error {
	progress := func(p service.BackfillProgress) {
		fmt.Fprintf(os.Stderr, "page %d/%d  processed %d  found %d\n", p.Page, p.Pages, p.Processed, p.Found)
	}
	run := deps.Backfill.RunWithProgress
	if backfillRetry {
		run = deps.Backfill.Retry
	}
	job, err := run(ctx, date, ft, progress)
	if err != nil {
		return fmt.Errorf("backfill: %w", err)
	}
	printBackfillJob(job)
	if job.Status == models.BackfillFailed {
		return fmt.Errorf("backfill %s failed", date.Format(time.DateOnly))
	}
	return nil
}

func runLocalRange(ctx context.Context, from, to time.Time, ft models.FilingType) error {
	jobs := deps.Jobs
	if backfillConcurrency > 0 {
		jobs = service.NewJobManager(backfillConcurrency, deps.Backfill, logger)
	}
	job, err := jobs.Start(ctx, from, to, ft)
	if err != nil {
		return err
	}
	snap := job.Snapshot()

	if term.IsTerminal(int(os.Stdout.Fd())) {
		fetch := func(context.Context) (*service.JobSnapshot, error) {
			s := job.Snapshot()
			return &s, nil
		}
		_, quit, err := runJobProgress(fetch, &snap, "")
		if quit {
			return fmt.Errorf("backfill interrupted")
		}
		return err
	}

	final, err := job.Wait(ctx)
	if err != nil {
		return err
	}
	printJobSnapshot(final)
	if final.Status == service.JobStatusFailed {
		return fmt.Errorf("%s", final.Error)
	}
	return nil
}

func runRemoteBackfill(ctx context.Context, from, to time.Time, ft models.FilingType) error {
	snap, err := httpClient.StartBackfill(ctx, from, to, ft)
	if err != nil {
		return fmt.Errorf("start backfill: %w", err)
	}

	if !term.IsTerminal(int(os.Stdout.Fd())) {
		fmt.Printf("Started job %s (%d days)\n", snap.ID, snap.DaysTotal)
		return nil
	}
	fetch := func(ctx context.Context) (*service.JobSnapshot, error) {
		return httpClient.GetJob(ctx, snap.ID)
	}
	_, _, err = runJobProgress(fetch, snap, "Press Ctrl+C to continue in background")
	return err
}

func parseDateType(date, ft string) (time.Time, models.FilingType, error) {
	d, err := models.ParseDay(date)
	if err != nil {
		return time.Time{}, "", err
	}
	t, err := models.ParseFilingType(ft)
	if err != nil {
		return time.Time{}, "", err
	}
	return d, t, nil
}

func printBackfillJob(job *models.BackfillJob) {
	fmt.Printf("Backfill %s %s\n", job.TargetDate.Format(time.DateOnly), job.FilingType)
	fmt.Printf("  Status: %s\n", job.Status)
	fmt.Printf("  Filings found: %d\n", job.FilingsFound)
	if job.StartedAt != nil {
		fmt.Printf("  Started: %s\n", job.StartedAt.Format(time.RFC3339))
	}
	if job.CompletedAt != nil {
		fmt.Printf("  Completed: %s\n", job.CompletedAt.Format(time.RFC3339))
	}
	if job.ErrorMessage != nil {
		fmt.Printf("  Error: %s\n", *job.ErrorMessage)
	}
}
