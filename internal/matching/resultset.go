// Package matching scores a query's terms against a posting source and
// produces a ranked ResultSet. One Strategy per scoring variant shares the
// Accumulator bookkeeping and the boolean requirement handling.
package matching

// ResultSet is a ranked list of documents. ExactSize is the number of
// documents that matched before any windowing or filtering.
type ResultSet struct {
	DocIDs    []int
	Scores    []float64
	ExactSize int
	Metadata  map[string][]string
}

// NewResultSet wraps parallel docid and score slices.
func NewResultSet(docIDs []int, scores []float64, exactSize int) *ResultSet {
	return &ResultSet{DocIDs: docIDs, Scores: scores, ExactSize: exactSize}
}

// EmptyResultSet returns a result with no documents.
func EmptyResultSet() *ResultSet {
	return &ResultSet{DocIDs: []int{}, Scores: []float64{}}
}

// Size is the number of documents currently held.
func (r *ResultSet) Size() int {
	if r == nil {
		return 0
	}
	return len(r.DocIDs)
}

// Crop returns the documents at ranks [start, start+length). The window is
// clamped to the result size. ExactSize is kept.
func (r *ResultSet) Crop(start, length int) *ResultSet {
	n := r.Size()
	if start < 0 {
		start = 0
	}
	if start > n {
		start = n
	}
	end := start + length
	if length < 0 || end > n {
		end = n
	}
	out := &ResultSet{
		DocIDs:    append([]int{}, r.DocIDs[start:end]...),
		Scores:    append([]float64{}, r.Scores[start:end]...),
		ExactSize: r.ExactSize,
	}
	for key, values := range r.Metadata {
		if len(values) == n {
			out.AddMetadata(key, append([]string{}, values[start:end]...))
		}
	}
	return out
}

// Select returns the documents at the given ranks, in the given order.
// ExactSize is kept.
func (r *ResultSet) Select(ranks []int) *ResultSet {
	out := &ResultSet{
		DocIDs:    make([]int, len(ranks)),
		Scores:    make([]float64, len(ranks)),
		ExactSize: r.ExactSize,
	}
	for i, rank := range ranks {
		out.DocIDs[i] = r.DocIDs[rank]
		out.Scores[i] = r.Scores[rank]
	}
	for key, values := range r.Metadata {
		if len(values) != len(r.DocIDs) {
			continue
		}
		selected := make([]string, len(ranks))
		for i, rank := range ranks {
			selected[i] = values[rank]
		}
		out.AddMetadata(key, selected)
	}
	return out
}

// AddMetadata attaches a per-document column, parallel to DocIDs.
func (r *ResultSet) AddMetadata(key string, values []string) {
	if r.Metadata == nil {
		r.Metadata = make(map[string][]string)
	}
	r.Metadata[key] = values
}

// MetadataAt returns the metadata value for the document at rank.
func (r *ResultSet) MetadataAt(key string, rank int) (string, bool) {
	values, ok := r.Metadata[key]
	if !ok || rank < 0 || rank >= len(values) {
		return "", false
	}
	return values[rank], true
}
