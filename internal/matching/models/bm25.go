package models

import (
	"math"

	"github.com/nectic/terrier-core/internal/index"
)

const k1 = 1.2

// BM25 uses b as its free parameter. IDF is ln((N-df)/(df+0.5) + 1), which
// stays positive for terms in more than half the collection.
type BM25 struct{ base }

func NewBM25() *BM25 {
	return &BM25{base{c: 0.75}}
}

func (m *BM25) Name() string { return "BM25" }

func (m *BM25) Info() string { return info(m.Name(), m.c) }

func (m *BM25) Score(p index.Posting) float64 {
	idf := computeIDF(int64(m.stats.NumberOfDocuments), int64(m.entry.DocumentFrequency))
	return idf * computeTFNorm(float64(p.Frequency), float64(p.DocLength), m.stats.AverageDocumentLength, m.c)
}

func computeIDF(totalDocs int64, docFreq int64) float64 {
	numerator := float64(totalDocs) - float64(docFreq)
	denominator := float64(docFreq) + 0.5
	return math.Log(numerator/denominator + 1)
}

func computeTFNorm(termFreq, docLength, avgDocLength, b float64) float64 {
	if avgDocLength == 0 {
		return 0
	}
	lengthRatio := docLength / avgDocLength
	denominator := termFreq + k1*(1-b+b*lengthRatio)
	return (termFreq * (k1 + 1)) / denominator
}

// TFIDF combines Robertson's term frequency with log2(N/df + 1).
type TFIDF struct{ base }

func NewTFIDF() *TFIDF {
	return &TFIDF{base{c: 0.75}}
}

func (m *TFIDF) Name() string { return "TF_IDF" }

func (m *TFIDF) Info() string { return info(m.Name(), m.c) }

func (m *TFIDF) Score(p index.Posting) float64 {
	if m.entry.DocumentFrequency == 0 || m.stats.AverageDocumentLength == 0 {
		return 0
	}
	tf := float64(p.Frequency)
	robertson := k1 * tf / (tf + k1*(1-m.c+m.c*float64(p.DocLength)/m.stats.AverageDocumentLength))
	idf := log2(float64(m.stats.NumberOfDocuments)/float64(m.entry.DocumentFrequency) + 1)
	return robertson * idf
}

// DirichletLM is the language model with Dirichlet smoothing; its free
// parameter is mu.
type DirichletLM struct{ base }

func NewDirichletLM() *DirichletLM {
	return &DirichletLM{base{c: 2500}}
}

func (m *DirichletLM) Name() string { return "DirichletLM" }

func (m *DirichletLM) Info() string { return info(m.Name(), m.c) }

func (m *DirichletLM) Score(p index.Posting) float64 {
	if m.stats.NumberOfTokens == 0 || m.entry.Frequency == 0 {
		return 0
	}
	pc := float64(m.entry.Frequency) / float64(m.stats.NumberOfTokens)
	dl := float64(p.DocLength)
	return log2(1+float64(p.Frequency)/(m.c*pc)) + log2(m.c/(dl+m.c))
}
