// Package analytics records one event per executed query, publishes the
// events to Kafka and aggregates them into serving statistics.
package analytics

import "time"

type EventType string

const (
	EventQuery      EventType = "query"
	EventEmptyQuery EventType = "empty_query"
	EventZeroResult EventType = "zero_result"
	EventFailed     EventType = "failed"
)

// QueryEvent describes one executed query.
type QueryEvent struct {
	Type           EventType `json:"type"`
	QueryID        string    `json:"qid"`
	Query          string    `json:"query"`
	MatchingModel  string    `json:"matching_model"`
	WeightingModel string    `json:"weighting_model"`
	Info           string    `json:"info"`
	TotalHits      int       `json:"total_hits"`
	Returned       int       `json:"returned"`
	LatencyMs      int64     `json:"latency_ms"`
	CacheHit       bool      `json:"cache_hit"`
	Timestamp      time.Time `json:"timestamp"`
	RequestID      string    `json:"request_id,omitempty"`
}

// Classify picks the event type from the outcome of a query.
func Classify(failed, empty bool, totalHits int) EventType {
	switch {
	case failed:
		return EventFailed
	case empty:
		return EventEmptyQuery
	case totalHits == 0:
		return EventZeroResult
	default:
		return EventQuery
	}
}
