package models

import (
	"math"

	"github.com/nectic/terrier-core/internal/index"
)

// normalisation2 is the DFR term-frequency normalisation
// tf * log2(1 + c * avgdl / dl).
func normalisation2(tf, dl, avgdl, c float64) float64 {
	return tf * log2(1+c*avgdl/dl)
}

// InL2 is the DFR model with inverse document frequency, Laplace after-effect
// and normalisation 2.
type InL2 struct{ base }

func NewInL2() *InL2 {
	return &InL2{base{c: 1.0}}
}

func (m *InL2) Name() string { return "InL2" }

func (m *InL2) Info() string { return info(m.Name(), m.c) }

func (m *InL2) Score(p index.Posting) float64 {
	if p.DocLength == 0 || m.stats.AverageDocumentLength == 0 {
		return 0
	}
	tfn := normalisation2(float64(p.Frequency), float64(p.DocLength), m.stats.AverageDocumentLength, m.c)
	n := float64(m.stats.NumberOfDocuments)
	df := float64(m.entry.DocumentFrequency)
	return tfn / (tfn + 1) * log2((n+1)/(df+0.5))
}

// PL2 is the DFR model with a Poisson randomness model, Laplace after-effect
// and normalisation 2.
type PL2 struct{ base }

func NewPL2() *PL2 {
	return &PL2{base{c: 1.0}}
}

func (m *PL2) Name() string { return "PL2" }

func (m *PL2) Info() string { return info(m.Name(), m.c) }

func (m *PL2) Score(p index.Posting) float64 {
	if p.DocLength == 0 || m.stats.AverageDocumentLength == 0 || m.stats.NumberOfDocuments == 0 {
		return 0
	}
	tfn := normalisation2(float64(p.Frequency), float64(p.DocLength), m.stats.AverageDocumentLength, m.c)
	if tfn <= 0 {
		return 0
	}
	f := float64(m.entry.Frequency) / float64(m.stats.NumberOfDocuments)
	recLog2E := 1 / math.Ln2
	return 1 / (tfn + 1) * (tfn*log2(1/f) +
		f*recLog2E +
		0.5*log2(2*math.Pi*tfn) +
		tfn*(log2(tfn)-recLog2E))
}
