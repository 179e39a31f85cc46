package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/nectic/terrier-core/internal/batch"
	"github.com/nectic/terrier-core/internal/searcher"
	"github.com/nectic/terrier-core/internal/searcher/executor"
)

var batchFlags struct {
	topics      string
	output      string
	model       string
	weighting   string
	controls    map[string]string
	parallelism int
	runTag      string
}

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Run a topic file and write a TREC run",
	RunE:  runBatch,
}

func init() {
	f := batchCmd.Flags()
	f.StringVarP(&batchFlags.topics, "topics", "t", "", "Topic file, one qid<TAB>query per line (required)")
	f.StringVarP(&batchFlags.output, "output", "o", "-", "Run file (- for stdout)")
	f.StringVar(&batchFlags.model, "model", "", "Matching model")
	f.StringVar(&batchFlags.weighting, "weighting", "", "Weighting model")
	f.StringToStringVar(&batchFlags.controls, "control", nil, "Controls applied to every topic, as name=value")
	f.IntVar(&batchFlags.parallelism, "parallelism", 0, "Concurrent queries (defaults to batch.parallelism)")
	f.StringVar(&batchFlags.runTag, "run-tag", "", "Run tag prefix (defaults to batch.runTag)")

	_ = batchCmd.MarkFlagRequired("topics")
}

func runBatch(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	batchCfg := cfg.Batch
	if batchFlags.parallelism > 0 {
		batchCfg.Parallelism = batchFlags.parallelism
	}
	if batchFlags.runTag != "" {
		batchCfg.RunTag = batchFlags.runTag
	}

	f, err := os.Open(batchFlags.topics)
	if err != nil {
		return fmt.Errorf("open topics: %w", err)
	}
	topics, err := batch.ReadTopics(f)
	f.Close()
	if err != nil {
		return err
	}

	engine, err := searcher.Open(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer engine.Close()

	var out io.Writer = cmd.OutOrStdout()
	if batchFlags.output != "-" {
		file, err := os.Create(batchFlags.output)
		if err != nil {
			return fmt.Errorf("create run file: %w", err)
		}
		defer file.Close()
		out = file
	}

	runner := batch.NewRunner(engine.Executor, batchCfg, executor.Request{
		MatchingModel:  batchFlags.model,
		WeightingModel: batchFlags.weighting,
		Controls:       batchFlags.controls,
	})
	summary, err := runner.Run(ctx, topics, batch.NewRunTag(batchCfg.RunTag), out)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "%s: %d topics, %d retrieved, %d empty, %d without results in %s\n",
		summary.RunTag, summary.Topics, summary.Retrieved, summary.Empty, summary.ZeroResult, summary.Duration.Round(time.Millisecond))
	return nil
}
