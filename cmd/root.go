// Package cmd implements the command-line interface for sitecrawl.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/jonesrussell/sitecrawl/cmd/crawl"
	"github.com/jonesrussell/sitecrawl/internal/config"
)

var (
	cfgFile string

	// Debug enables verbose logging regardless of the configured level.
	Debug bool
)

var rootCmd = &cobra.Command{
	Use:   "sitecrawl",
	Short: "A polite, budget-bounded web crawler",
	Long: `sitecrawl fetches pages from an allowlisted set of domains, honoring
robots.txt, per-domain rate limits, and page budgets. Fetched bodies and a
JSON manifest are written to the configured output directory.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return cmd.Help()
	},
}

// Execute runs the root command.
func Execute() error {
	// Load .env before flag parsing so environment-driven config is
	// available to every subcommand.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Warning: .env file not loaded: %v\n", err)
	}

	if err := rootCmd.ParseFlags(os.Args[1:]); err != nil {
		return fmt.Errorf("failed to parse flags: %w", err)
	}

	if err := initConfig(); err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		return fmt.Errorf("command failed: %w", err)
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&Debug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Println("sitecrawl v1.0.0")
		},
	})
	rootCmd.AddCommand(crawl.Command())
}

// initConfig wires viper to the config file, environment, and flags.
func initConfig() error {
	return config.InitializeViper(cfgFile, Debug)
}
