package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/nectic/terrier-core/internal/indexer"
	"github.com/nectic/terrier-core/internal/terms"
	"github.com/nectic/terrier-core/pkg/kafka"
)

var indexFlags struct {
	input   string
	output  string
	fields  []string
	publish bool
}

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Build a segment from a JSON-lines document collection",
	RunE:  runIndex,
}

func init() {
	f := indexCmd.Flags()
	f.StringVarP(&indexFlags.input, "input", "i", "-", "Documents, one JSON object per line (- for stdin)")
	f.StringVarP(&indexFlags.output, "output", "o", "", "Segment path (defaults to index.path)")
	f.StringSliceVar(&indexFlags.fields, "fields", nil, "Fields to index (defaults to index.fields, empty indexes all)")
	f.BoolVar(&indexFlags.publish, "publish", false, "Announce the segment on the index-complete topic")
}

func runIndex(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	indexCfg := cfg.Index
	if indexFlags.output != "" {
		indexCfg.Path = indexFlags.output
	}
	if len(indexFlags.fields) > 0 {
		indexCfg.Fields = indexFlags.fields
	}

	acc, err := terms.NewAccessor(cfg.Querying.TermPipelines)
	if err != nil {
		return err
	}

	var publisher indexer.Publisher
	if indexFlags.publish {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.IndexComplete)
		defer producer.Close()
		publisher = producer
	}

	var in io.Reader = cmd.InOrStdin()
	if indexFlags.input != "-" {
		f, err := os.Open(indexFlags.input)
		if err != nil {
			return fmt.Errorf("open documents: %w", err)
		}
		defer f.Close()
		in = f
	}

	engine := indexer.NewEngine(indexCfg, acc, publisher)
	if _, err := engine.IndexJSONL(ctx, in); err != nil {
		return err
	}
	done, err := engine.Flush(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Indexed %d documents (%d terms) into %s\n", done.Documents, done.Terms, done.Path)
	return nil
}
