package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nectic/terrier-core/internal/searcher"
	"github.com/nectic/terrier-core/internal/searcher/executor"
)

var queryFlags struct {
	qid       string
	model     string
	weighting string
	controls  map[string]string
	asJSON    bool
}

var queryCmd = &cobra.Command{
	Use:   "query <text>",
	Short: "Run one query against the configured index",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runQuery,
}

func init() {
	f := queryCmd.Flags()
	f.StringVar(&queryFlags.qid, "qid", "", "Query id")
	f.StringVar(&queryFlags.model, "model", "", "Matching model (standard, weclir, weclirtlm, wemono, wemonotlm)")
	f.StringVar(&queryFlags.weighting, "weighting", "", "Weighting model")
	f.StringToStringVar(&queryFlags.controls, "control", nil, "Controls as name=value")
	f.BoolVar(&queryFlags.asJSON, "json", false, "Print the result as JSON")
}

func runQuery(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	engine, err := searcher.Open(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer engine.Close()

	res, err := engine.Executor.Execute(ctx, executor.Request{
		QueryID:        queryFlags.qid,
		Query:          strings.Join(args, " "),
		MatchingModel:  queryFlags.model,
		WeightingModel: queryFlags.weighting,
		Controls:       queryFlags.controls,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if queryFlags.asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	fmt.Fprintf(out, "%s: %d matched, %d shown (%s, %dms)\n", res.QueryID, res.TotalHits, len(res.Results), res.Info, res.LatencyMs)
	if res.Empty {
		fmt.Fprintln(out, "query has no searchable terms")
	}
	for _, hit := range res.Results {
		fmt.Fprintf(out, "%4d  %-20s %.4f\n", hit.Rank, hit.DocNo, hit.Score)
	}
	return nil
}
