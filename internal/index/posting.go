// Package index defines the posting-source contract the query engine reads
// from, together with an in-memory implementation built from documents.
package index

// Handle identifies an index instance. Caches that are scoped to one index
// are keyed by it.
type Handle string

// Posting is one observation of a term in one document.
type Posting struct {
	DocID     int `json:"d"`
	Frequency int `json:"f"`
	DocLength int `json:"l"`
}

type PostingList []Posting

// TermEntry is a lexicon entry. Frequency is the term's total number of
// occurrences across the collection.
type TermEntry struct {
	Term              string
	DocumentFrequency int
	Frequency         int64
}

// CollectionStatistics summarises the whole collection.
type CollectionStatistics struct {
	NumberOfDocuments     int
	NumberOfTokens        int64
	NumberOfUniqueTerms   int
	AverageDocumentLength float64
}

// PostingIterator walks a posting list in document order. Next returns false
// at the end of the list or on error; Err reports which.
type PostingIterator interface {
	Next() bool
	Posting() Posting
	Err() error
}

// Source is the read side of an index: lexicon lookup, posting iteration and
// collection statistics.
type Source interface {
	Handle() Handle
	Lookup(term string) (TermEntry, bool)
	Postings(entry TermEntry) (PostingIterator, error)
	CollectionStatistics() CollectionStatistics
}

// MetaSource is implemented by sources that keep external document numbers.
type MetaSource interface {
	DocNo(docID int) (string, bool)
}

// FieldTerm is the lexicon key for term restricted to field.
func FieldTerm(field, term string) string {
	return field + ":" + term
}

type sliceIterator struct {
	postings PostingList
	pos      int
}

// NewSliceIterator iterates over an in-memory posting list.
func NewSliceIterator(postings PostingList) PostingIterator {
	return &sliceIterator{postings: postings, pos: -1}
}

func (it *sliceIterator) Next() bool {
	if it.pos+1 >= len(it.postings) {
		it.pos = len(it.postings)
		return false
	}
	it.pos++
	return true
}

func (it *sliceIterator) Posting() Posting {
	return it.postings[it.pos]
}

func (it *sliceIterator) Err() error {
	return nil
}

func averageLength(docs int, tokens int64) float64 {
	if docs == 0 {
		return 0
	}
	return float64(tokens) / float64(docs)
}
