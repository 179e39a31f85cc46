package analytics

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/nectic/terrier-core/pkg/kafka"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []kafka.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e kafka.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func TestClassify(t *testing.T) {
	tests := []struct {
		failed, empty bool
		hits          int
		want          EventType
	}{
		{true, true, 0, EventFailed},
		{false, true, 0, EventEmptyQuery},
		{false, false, 0, EventZeroResult},
		{false, false, 3, EventQuery},
	}
	for _, tt := range tests {
		if got := Classify(tt.failed, tt.empty, tt.hits); got != tt.want {
			t.Errorf("Classify(%v, %v, %d) = %s, want %s", tt.failed, tt.empty, tt.hits, got, tt.want)
		}
	}
}

func TestCollectorPublishesOnClose(t *testing.T) {
	pub := &recordingPublisher{}
	c := NewCollector(pub, nil, 16)
	c.Start(context.Background())
	c.Track(QueryEvent{QueryID: "1", Type: EventQuery})
	c.Track(QueryEvent{QueryID: "2", Type: EventZeroResult})
	c.Close()

	if len(pub.events) != 2 {
		t.Fatalf("published %d events", len(pub.events))
	}
	if pub.events[1].Key != "2" {
		t.Errorf("key = %q", pub.events[1].Key)
	}
	if ev := pub.events[0].Value.(QueryEvent); ev.Timestamp.IsZero() {
		t.Error("timestamp not set")
	}
}

func TestCollectorFeedsLocalAggregator(t *testing.T) {
	agg := NewAggregator()
	c := NewCollector(nil, agg, 4)
	c.Start(context.Background())
	c.Track(QueryEvent{Query: "chien", MatchingModel: "weclirtlm", Type: EventQuery})
	c.Close()
	if got := agg.Stats().ByVariant["weclirtlm"]; got != 1 {
		t.Errorf("weclirtlm count = %d", got)
	}
}

func TestAggregatorStats(t *testing.T) {
	agg := NewAggregator()
	events := []QueryEvent{
		{Query: "design", MatchingModel: "standard", Type: EventQuery, LatencyMs: 10, CacheHit: true},
		{Query: "design", MatchingModel: "standard", Type: EventQuery, LatencyMs: 20},
		{Query: "zzz", MatchingModel: "standard", Type: EventZeroResult, LatencyMs: 30},
		{Query: "", MatchingModel: "weclir", Type: EventEmptyQuery, LatencyMs: 40},
	}
	for _, e := range events {
		data, _ := json.Marshal(e)
		if err := agg.HandleMessage(context.Background(), nil, data); err != nil {
			t.Fatal(err)
		}
	}
	agg.HandleMessage(context.Background(), nil, []byte("not json"))

	s := agg.Stats()
	if s.TotalQueries != 4 || s.EmptyQueries != 1 || s.ZeroResultCount != 1 || s.CacheHits != 1 {
		t.Errorf("counters = %+v", s)
	}
	if diff := cmp.Diff(map[string]int64{"standard": 3, "weclir": 1}, s.ByVariant); diff != "" {
		t.Errorf("by variant (-want +got):\n%s", diff)
	}
	if s.AvgLatencyMs != 25 || s.P50LatencyMs != 30 {
		t.Errorf("latency avg=%v p50=%d", s.AvgLatencyMs, s.P50LatencyMs)
	}
	if s.TopQueries[0] != (QueryCount{Query: "design", Count: 2}) {
		t.Errorf("top = %v", s.TopQueries)
	}
	if diff := cmp.Diff([]QueryCount{{Query: "zzz", Count: 1}}, s.ZeroResultQueries); diff != "" {
		t.Errorf("zero result queries (-want +got):\n%s", diff)
	}
}

func TestHandlerServesStats(t *testing.T) {
	agg := NewAggregator()
	agg.Record(QueryEvent{Query: "design", Type: EventQuery})
	rec := httptest.NewRecorder()
	NewHandler(agg).Stats(rec, httptest.NewRequest(http.MethodGet, "/api/v1/analytics", nil))

	var got AggregatedStats
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.TotalQueries != 1 {
		t.Errorf("total = %d", got.TotalQueries)
	}
}
