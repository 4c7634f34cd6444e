// Package cli provides the command-line interface for sludgewire.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/sludgewire/internal/app"
	"github.com/raphaelgruber/sludgewire/internal/client"
	"github.com/raphaelgruber/sludgewire/internal/config"
)

// remoteAnnotation marks commands that only talk to a running server.
const remoteAnnotation = "remote"

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	verbose   bool
	serverURL string

	// Global config and dependencies
	cfg        config.Config
	logger     *slog.Logger
	closeLog   func() error
	deps       *app.App
	httpClient *client.Client
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "sludgewire",
	Short: "FEC filing ingestion pipeline",
	Long: `Sludgewire watches the FEC e-filing feeds, downloads new filings, and
stores committee summaries and independent expenditures.

Local commands open the configured store directly (STORE_BACKEND);
trigger and jobs talk to a running sludgewire-server.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip setup for version and help commands
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}

		cfg = config.Load()
		if verbose {
			cfg.LogLevel = slog.LevelDebug
		}
		logger, closeLog = config.SetupLogger("sludgewire", cfg.LogFile, cfg.LogLevel)
		slog.SetDefault(logger)

		if isRemote(cmd) {
			httpClient = client.New(serverURL)
			return nil
		}

		var err error
		deps, err = app.New(cmd.Context(), cfg, logger)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if deps != nil {
			if err := deps.Close(context.Background()); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to close store: %v\n", err)
			}
		}
		if closeLog != nil {
			_ = closeLog()
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "server URL for remote commands (default $SLUDGEWIRE_SERVER_URL)")
}

// isRemote reports whether cmd runs against a server instead of the store,
// either always (annotated) or because --remote was passed.
func isRemote(cmd *cobra.Command) bool {
	if cmd.Annotations[remoteAnnotation] == "true" {
		return true
	}
	on, err := cmd.Flags().GetBool("remote")
	return err == nil && on
}

// remote marks cmd as a server client command.
func remote(cmd *cobra.Command) *cobra.Command {
	if cmd.Annotations == nil {
		cmd.Annotations = map[string]string{}
	}
	cmd.Annotations[remoteAnnotation] = "true"
	return cmd
}
