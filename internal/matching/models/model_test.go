package models

import (
	"errors"
	"math"
	"testing"

	"github.com/nectic/terrier-core/internal/index"
	apperrors "github.com/nectic/terrier-core/pkg/errors"
)

var stats = index.CollectionStatistics{
	NumberOfDocuments:     100,
	NumberOfTokens:        10000,
	AverageDocumentLength: 100,
}

var entry = index.TermEntry{Term: "design", DocumentFrequency: 10, Frequency: 40}

func TestNewUnknown(t *testing.T) {
	_, err := New("Nope")
	if !errors.Is(err, apperrors.ErrUnknownModule) {
		t.Fatalf("err = %v, want ErrUnknownModule", err)
	}
}

func TestDefaults(t *testing.T) {
	tests := []struct {
		name string
		c    float64
		info string
	}{
		{"InL2", 1.0, "InL2c1.0"},
		{"PL2", 1.0, "PL2c1.0"},
		{"BM25", 0.75, "BM25c0.75"},
		{"TF_IDF", 0.75, "TF_IDFc0.75"},
		{"DirichletLM", 2500, "DirichletLMc2500.0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := New(tt.name)
			if err != nil {
				t.Fatal(err)
			}
			if m.Parameter() != tt.c {
				t.Errorf("default parameter = %v, want %v", m.Parameter(), tt.c)
			}
			if m.Info() != tt.info {
				t.Errorf("Info() = %q, want %q", m.Info(), tt.info)
			}
		})
	}
}

func TestScoresIncreaseWithFrequency(t *testing.T) {
	for _, name := range Names() {
		t.Run(name, func(t *testing.T) {
			m, _ := New(name)
			m.Prepare(stats, entry)
			low := m.Score(index.Posting{DocID: 1, Frequency: 1, DocLength: 100})
			high := m.Score(index.Posting{DocID: 2, Frequency: 5, DocLength: 100})
			if math.IsNaN(low) || math.IsNaN(high) {
				t.Fatalf("NaN score: %v %v", low, high)
			}
			if !(high > low) {
				t.Errorf("score(tf=5)=%v not above score(tf=1)=%v", high, low)
			}
		})
	}
}

func TestInL2Value(t *testing.T) {
	m := NewInL2()
	m.Prepare(stats, entry)
	// tfn = 2*log2(1+1*100/100) = 2; score = 2/3 * log2(101/10.5)
	want := 2.0 / 3.0 * math.Log2(101/10.5)
	got := m.Score(index.Posting{Frequency: 2, DocLength: 100})
	if math.Abs(got-want) > 1e-12 {
		t.Errorf("InL2 = %v, want %v", got, want)
	}
}

func TestSetParameterChangesScore(t *testing.T) {
	m := NewInL2()
	m.Prepare(stats, entry)
	p := index.Posting{Frequency: 3, DocLength: 50}
	before := m.Score(p)
	m.SetParameter(7)
	if m.Score(p) == before {
		t.Error("parameter had no effect")
	}
	if m.Info() != "InL2c7.0" {
		t.Errorf("Info() = %q", m.Info())
	}
}

func TestZeroLengthDocument(t *testing.T) {
	m := NewInL2()
	m.Prepare(stats, entry)
	if got := m.Score(index.Posting{Frequency: 1, DocLength: 0}); got != 0 {
		t.Errorf("score for empty doc = %v", got)
	}
}
