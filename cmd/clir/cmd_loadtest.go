package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"

	"github.com/nectic/terrier-core/internal/batch"
	"github.com/nectic/terrier-core/internal/searcher/executor"
)

var loadtestFlags struct {
	baseURL     string
	concurrency int
	duration    time.Duration
	topics      string
	models      []string
}

var loadtestCmd = &cobra.Command{
	Use:   "loadtest",
	Short: "Drive a running searcher with concurrent queries and report latency",
	RunE:  runLoadtest,
}

func init() {
	f := loadtestCmd.Flags()
	f.StringVar(&loadtestFlags.baseURL, "url", "http://localhost:8080", "Base URL of the search service")
	f.IntVar(&loadtestFlags.concurrency, "concurrency", 10, "Concurrent workers")
	f.DurationVar(&loadtestFlags.duration, "duration", 30*time.Second, "Test duration")
	f.StringVarP(&loadtestFlags.topics, "topics", "t", "", "Topic file to draw queries from (built-in queries when empty)")
	f.StringSliceVar(&loadtestFlags.models, "models", []string{"standard"}, "Matching models to rotate through")
}

var defaultLoadQueries = []string{
	"design patterns",
	"system design",
	"cooking recipes",
	"chien",
	"le chien noir",
	"maison c:900",
	"inverted index",
	"query expansion",
}

type loadStats struct {
	totalRequests atomic.Int64
	successCount  atomic.Int64
	errorCount    atomic.Int64
	zeroResults   atomic.Int64
	latencies     []time.Duration
	latenciesMu   sync.Mutex
	statusCodes   map[int]*atomic.Int64
	statusCodesMu sync.Mutex
}

func newLoadStats() *loadStats {
	return &loadStats{
		latencies:   make([]time.Duration, 0, 100000),
		statusCodes: make(map[int]*atomic.Int64),
	}
}

func (s *loadStats) record(duration time.Duration, statusCode int, err error) {
	s.totalRequests.Add(1)
	if err != nil {
		s.errorCount.Add(1)
		return
	}
	if statusCode >= 200 && statusCode < 300 {
		s.successCount.Add(1)
	} else {
		s.errorCount.Add(1)
	}

	s.latenciesMu.Lock()
	s.latencies = append(s.latencies, duration)
	s.latenciesMu.Unlock()

	s.statusCodesMu.Lock()
	if _, ok := s.statusCodes[statusCode]; !ok {
		s.statusCodes[statusCode] = &atomic.Int64{}
	}
	s.statusCodes[statusCode].Add(1)
	s.statusCodesMu.Unlock()
}

func runLoadtest(cmd *cobra.Command, _ []string) error {
	queries := defaultLoadQueries
	if loadtestFlags.topics != "" {
		f, err := os.Open(loadtestFlags.topics)
		if err != nil {
			return fmt.Errorf("open topics: %w", err)
		}
		topics, err := batch.ReadTopics(f)
		f.Close()
		if err != nil {
			return err
		}
		queries = make([]string, len(topics))
		for i, topic := range topics {
			queries[i] = topic.Query
		}
	}
	if len(queries) == 0 || len(loadtestFlags.models) == 0 {
		return fmt.Errorf("nothing to send")
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Target:      %s\n", loadtestFlags.baseURL)
	fmt.Fprintf(out, "Concurrency: %d\n", loadtestFlags.concurrency)
	fmt.Fprintf(out, "Duration:    %s\n", loadtestFlags.duration)
	fmt.Fprintf(out, "Queries:     %d unique, models %v\n\n", len(queries), loadtestFlags.models)

	ctx, cancel := context.WithTimeout(cmd.Context(), loadtestFlags.duration)
	defer cancel()
	stats := driveLoad(ctx, queries)
	return printLoadReport(out, stats, loadtestFlags.duration)
}

func driveLoad(ctx context.Context, queries []string) *loadStats {
	stats := newLoadStats()
	client := &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        loadtestFlags.concurrency * 2,
			MaxIdleConnsPerHost: loadtestFlags.concurrency * 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}
	models := loadtestFlags.models

	var wg sync.WaitGroup
	for w := 0; w < loadtestFlags.concurrency; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			n := workerID
			for ctx.Err() == nil {
				params := url.Values{}
				params.Set("q", queries[n%len(queries)])
				params.Set("model", models[(n/len(queries))%len(models)])
				n++

				req, err := http.NewRequestWithContext(ctx, http.MethodGet, loadtestFlags.baseURL+"/api/v1/search?"+params.Encode(), nil)
				if err != nil {
					stats.record(0, 0, err)
					return
				}
				start := time.Now()
				resp, err := client.Do(req)
				duration := time.Since(start)
				if err != nil {
					if ctx.Err() == nil {
						stats.record(duration, 0, err)
					}
					continue
				}
				var res executor.SearchResult
				if resp.StatusCode == http.StatusOK && json.NewDecoder(resp.Body).Decode(&res) == nil && res.TotalHits == 0 {
					stats.zeroResults.Add(1)
				}
				io.Copy(io.Discard, resp.Body)
				resp.Body.Close()
				stats.record(duration, resp.StatusCode, nil)
			}
		}(w)
	}
	wg.Wait()
	return stats
}

func printLoadReport(out io.Writer, stats *loadStats, duration time.Duration) error {
	total := stats.totalRequests.Load()
	errs := stats.errorCount.Load()

	fmt.Fprintln(out, "=== Results ===")
	fmt.Fprintf(out, "Total Requests:  %d\n", total)
	fmt.Fprintf(out, "Successful:      %d\n", stats.successCount.Load())
	fmt.Fprintf(out, "Zero results:    %d\n", stats.zeroResults.Load())
	fmt.Fprintf(out, "Errors:          %d\n", errs)
	if total > 0 {
		fmt.Fprintf(out, "Error Rate:      %.2f%%\n", float64(errs)/float64(total)*100)
		fmt.Fprintf(out, "Requests/sec:    %.2f\n", float64(total)/duration.Seconds())
	}

	stats.latenciesMu.Lock()
	latencies := append([]time.Duration(nil), stats.latencies...)
	stats.latenciesMu.Unlock()

	if len(latencies) > 0 {
		sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
		var sum time.Duration
		for _, l := range latencies {
			sum += l
		}
		avg := sum / time.Duration(len(latencies))

		fmt.Fprintln(out, "\n=== Latency ===")
		fmt.Fprintf(out, "Min:    %s\n", latencies[0])
		fmt.Fprintf(out, "Avg:    %s\n", avg)
		fmt.Fprintf(out, "P50:    %s\n", latencyPercentile(latencies, 50))
		fmt.Fprintf(out, "P95:    %s\n", latencyPercentile(latencies, 95))
		fmt.Fprintf(out, "P99:    %s\n", latencyPercentile(latencies, 99))
		fmt.Fprintf(out, "Max:    %s\n", latencies[len(latencies)-1])
	}

	fmt.Fprintln(out, "\n=== Status Codes ===")
	stats.statusCodesMu.Lock()
	codes := make([]int, 0, len(stats.statusCodes))
	for code := range stats.statusCodes {
		codes = append(codes, code)
	}
	sort.Ints(codes)
	for _, code := range codes {
		fmt.Fprintf(out, "  %d: %d\n", code, stats.statusCodes[code].Load())
	}
	stats.statusCodesMu.Unlock()

	if total == 0 {
		return fmt.Errorf("no requests completed, is the service running at %s?", loadtestFlags.baseURL)
	}
	return nil
}

func latencyPercentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	idx = max(0, min(idx, len(sorted)-1))
	return sorted[idx]
}
