// Package crawl implements the crawl command for fetching web content.
package crawl

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jonesrussell/sitecrawl/internal/config"
	"github.com/jonesrussell/sitecrawl/internal/logger"
	"github.com/jonesrussell/sitecrawl/internal/session"
)

// Command returns the crawl command for use in the root command.
func Command() *cobra.Command {
	var (
		maxDepth  uint
		maxPages  int64
		timeout   time.Duration
		outputDir string
	)

	cmd := &cobra.Command{
		Use:   "crawl [seed...]",
		Short: "Crawl allowlisted websites starting from the seed URLs",
		Long: `This command crawls the configured (or given) seed URLs, following links
within the domain allowlist until the frontier is empty or a budget is hit.
Fetched bodies are stored under the output directory alongside a JSON manifest,
and a crawl report is printed when the session ends.

Seeds given as arguments replace the seeds from the configuration. Flags
override the corresponding configuration values.`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfigWithSeeds(args)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}

			if cmd.Flags().Changed("max-depth") {
				cfg.Crawler.MaxDepth = maxDepth
				cfg.Crawler.MaxDepthDFS = maxDepth
			}
			if cmd.Flags().Changed("max-pages") {
				cfg.Crawler.MaxPagesTotal = maxPages
			}
			if cmd.Flags().Changed("timeout") {
				cfg.Crawler.WallClockTimeout = timeout
			}
			if cmd.Flags().Changed("output-dir") {
				cfg.Storage.OutputDir = outputDir
			}

			log, err := logger.New(&cfg.Logger)
			if err != nil {
				return fmt.Errorf("failed to create logger: %w", err)
			}

			sess, err := session.New(cfg, log)
			if err != nil {
				return fmt.Errorf("failed to create crawl session: %w", err)
			}

			// A first signal requests a graceful stop; a second one
			// kills the process through the default handler.
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sigCh)
			go func() {
				sig, ok := <-sigCh
				if !ok {
					return
				}
				log.Info("Shutdown signal received, stopping crawl", "signal", sig.String())
				sess.Stop()
				signal.Stop(sigCh)
			}()

			report, err := sess.Run(cmd.Context())
			if err != nil {
				return fmt.Errorf("crawl session failed: %w", err)
			}

			encoded, err := json.MarshalIndent(report, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to encode report: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(encoded))
			return nil
		},
	}

	cmd.Flags().UintVar(&maxDepth, "max-depth", 0, "override the configured maximum crawl depth")
	cmd.Flags().Int64Var(&maxPages, "max-pages", 0, "override the total page budget (0 = unlimited)")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "override the wall-clock timeout (0 = none)")
	cmd.Flags().StringVar(&outputDir, "output-dir", "", "override the storage output directory")

	return cmd
}
