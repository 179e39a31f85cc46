package batch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nectic/terrier-core/internal/searcher/executor"
	"github.com/nectic/terrier-core/pkg/config"
)

// Summary describes a finished run.
type Summary struct {
	RunTag     string
	Topics     int
	Empty      int
	ZeroResult int
	Retrieved  int
	Duration   time.Duration
}

type Runner struct {
	exec    *executor.Executor
	cfg     config.BatchConfig
	request executor.Request
	logger  *slog.Logger
}

// NewRunner creates a runner. template supplies the models and controls
// every topic runs with; its query and id are ignored.
func NewRunner(exec *executor.Executor, cfg config.BatchConfig, template executor.Request) *Runner {
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 1
	}
	return &Runner{
		exec:    exec,
		cfg:     cfg,
		request: template,
		logger:  slog.Default().With("component", "batch-runner"),
	}
}

// Run executes topics with bounded parallelism and writes their rankings
// to w in topic order. The first failing topic cancels the rest.
func (r *Runner) Run(ctx context.Context, topics []Topic, runTag string, w io.Writer) (Summary, error) {
	start := time.Now()
	results := make([]*executor.SearchResult, len(topics))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Parallelism)
	for i, topic := range topics {
		g.Go(func() error {
			res, err := r.exec.Execute(gctx, r.requestFor(topic))
			if err != nil {
				return fmt.Errorf("topic %s: %w", topic.ID, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Summary{}, err
	}

	summary := Summary{RunTag: runTag, Topics: len(topics)}
	out := NewTRECWriter(w, runTag)
	for i, res := range results {
		switch {
		case res.Empty:
			summary.Empty++
		case res.TotalHits == 0:
			summary.ZeroResult++
		}
		summary.Retrieved += len(res.Results)
		if err := out.Write(topics[i].ID, res.Results); err != nil {
			return summary, fmt.Errorf("writing run: %w", err)
		}
	}
	if err := out.Flush(); err != nil {
		return summary, fmt.Errorf("writing run: %w", err)
	}
	summary.Duration = time.Since(start)
	r.logger.Info("batch run finished",
		"run_tag", runTag,
		"topics", summary.Topics,
		"empty", summary.Empty,
		"zero_result", summary.ZeroResult,
		"retrieved", summary.Retrieved,
		"duration", summary.Duration,
	)
	return summary, nil
}

func (r *Runner) requestFor(topic Topic) executor.Request {
	req := r.request
	req.QueryID = topic.ID
	req.Query = topic.Query
	req.Controls = make(map[string]string, len(r.request.Controls)+1)
	for k, v := range r.request.Controls {
		req.Controls[k] = v
	}
	if _, set := req.Controls["end"]; !set && r.cfg.MaxResults > 0 {
		req.Controls["end"] = strconv.Itoa(r.cfg.MaxResults - 1)
	}
	return req
}
