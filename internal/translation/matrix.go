package translation

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
)

// Matrix is a set of word embeddings of equal dimension.
type Matrix struct {
	dims    int
	vectors map[string][]float64
	norms   map[string]float64
	terms   []string
}

// NewMatrix builds a Matrix from vectors. All vectors must share one length.
func NewMatrix(vectors map[string][]float64) (*Matrix, error) {
	m := &Matrix{
		vectors: make(map[string][]float64, len(vectors)),
		norms:   make(map[string]float64, len(vectors)),
	}
	for term, v := range vectors {
		if err := m.add(term, v); err != nil {
			return nil, err
		}
	}
	m.sortTerms()
	return m, nil
}

func (m *Matrix) add(term string, v []float64) error {
	if m.dims == 0 {
		m.dims = len(v)
	}
	if len(v) != m.dims {
		return fmt.Errorf("vector for %q has %d dimensions, want %d", term, len(v), m.dims)
	}
	var sq float64
	for _, x := range v {
		sq += x * x
	}
	m.vectors[term] = v
	m.norms[term] = math.Sqrt(sq)
	return nil
}

func (m *Matrix) sortTerms() {
	m.terms = make([]string, 0, len(m.vectors))
	for term := range m.vectors {
		m.terms = append(m.terms, term)
	}
	sort.Strings(m.terms)
}

// ReadMatrix parses the word2vec text format: a "<count> <dims>" header line
// followed by one "term v1 ... vn" line per vector. When keep is non-nil only
// terms it accepts are retained.
func ReadMatrix(r io.Reader, keep func(term string) bool) (*Matrix, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)

	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return nil, fmt.Errorf("reading embedding header: %w", err)
		}
		return nil, fmt.Errorf("reading embedding header: empty input")
	}
	header := strings.Fields(sc.Text())
	if len(header) != 2 {
		return nil, fmt.Errorf("malformed embedding header %q", sc.Text())
	}
	count, err := strconv.Atoi(header[0])
	if err != nil {
		return nil, fmt.Errorf("parsing embedding count: %w", err)
	}
	dims, err := strconv.Atoi(header[1])
	if err != nil {
		return nil, fmt.Errorf("parsing embedding dimensions: %w", err)
	}

	m := &Matrix{
		dims:    dims,
		vectors: make(map[string][]float64, count),
		norms:   make(map[string]float64, count),
	}
	line := 1
	for sc.Scan() {
		line++
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		term := fields[0]
		if keep != nil && !keep(term) {
			continue
		}
		if len(fields)-1 != dims {
			return nil, fmt.Errorf("line %d: %q has %d values, want %d", line, term, len(fields)-1, dims)
		}
		v := make([]float64, dims)
		for i, f := range fields[1:] {
			if v[i], err = strconv.ParseFloat(f, 64); err != nil {
				return nil, fmt.Errorf("line %d: parsing value %d of %q: %w", line, i, term, err)
			}
		}
		if err := m.add(term, v); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading embeddings: %w", err)
	}
	m.sortTerms()
	return m, nil
}

// LoadMatrix reads a word2vec text file from disk.
func LoadMatrix(path string, keep func(term string) bool) (*Matrix, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening embeddings %s: %w", path, err)
	}
	defer f.Close()
	m, err := ReadMatrix(f, keep)
	if err != nil {
		return nil, fmt.Errorf("loading embeddings %s: %w", path, err)
	}
	return m, nil
}

// Has reports whether term has a vector.
func (m *Matrix) Has(term string) bool {
	_, ok := m.vectors[term]
	return ok
}

// Vector returns the embedding for term, or nil.
func (m *Matrix) Vector(term string) []float64 {
	return m.vectors[term]
}

// Len returns the number of vectors.
func (m *Matrix) Len() int {
	return len(m.vectors)
}

// Dims returns the vector dimension.
func (m *Matrix) Dims() int {
	return m.dims
}

// Terms returns the terms in lexicographic order.
func (m *Matrix) Terms() []string {
	return m.terms
}

// Cosine returns the cosine similarity between v and the vector of term.
func (m *Matrix) Cosine(v []float64, term string) float64 {
	u := m.vectors[term]
	if u == nil || len(u) != len(v) {
		return 0
	}
	var dot, sq float64
	for i := range v {
		dot += v[i] * u[i]
		sq += v[i] * v[i]
	}
	denom := math.Sqrt(sq) * m.norms[term]
	if denom == 0 {
		return 0
	}
	return dot / denom
}

// Distribution scores every term of target against v and divides each
// cosine by the sum of all cosines.
func Distribution(v []float64, target *Matrix) map[string]float64 {
	cos := make(map[string]float64, target.Len())
	var sum float64
	for _, term := range target.terms {
		c := target.Cosine(v, term)
		cos[term] = c
		sum += c
	}
	if sum == 0 {
		return cos
	}
	for term, c := range cos {
		cos[term] = c / sum
	}
	return cos
}
