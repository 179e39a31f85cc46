// clir builds indexes, runs single queries and batch runs, and precomputes
// translation tables against the same configuration the searcher uses.
//
// Usage:
//
//	clir index -i docs.jsonl
//	clir query "chien c:500" --model weclirtlm
//	clir batch -t topics.tsv -o run.txt
//	clir precompute
//	clir loadtest --url http://localhost:8080 --models standard,weclir
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nectic/terrier-core/pkg/config"
	"github.com/nectic/terrier-core/pkg/logger"
)

// version is set at build time via -ldflags.
var version = "dev"

var rootFlags struct {
	configPath string
	logLevel   string
}

// cfg is loaded once before any subcommand runs.
var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "clir",
	Short: "Offline tooling for the cross-lingual retrieval core",
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		var err error
		cfg, err = config.Load(rootFlags.configPath)
		if err != nil {
			return err
		}
		level := cfg.Logging.Level
		if rootFlags.logLevel != "" {
			level = rootFlags.logLevel
		}
		logger.SetupWriter(cmd.ErrOrStderr(), level, "text")
		return nil
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&rootFlags.configPath, "config", "", "Path to config file (defaults plus SP_* overrides when empty)")
	pf.StringVar(&rootFlags.logLevel, "log-level", "", "Override the configured log level")

	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(batchCmd)
	rootCmd.AddCommand(precomputeCmd)
	rootCmd.AddCommand(loadtestCmd)
	rootCmd.Version = version
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
