package index

import (
	"sort"
	"sync"

	"github.com/nectic/terrier-core/internal/terms"
)

// Normalizer maps a raw token to its indexed form, or reports it eliminated.
type Normalizer interface {
	Normalize(term string) (string, bool)
}

// MemoryIndex is an append-only in-memory inverted index. Document ids are
// assigned sequentially from zero, so every posting list is in document order.
type MemoryIndex struct {
	mu         sync.RWMutex
	handle     Handle
	normalizer Normalizer
	postings   map[string]PostingList
	freq       map[string]int64
	docLengths []int
	docNos     []string
	tokens     int64
}

// NewMemoryIndex creates an empty index whose tokens pass through normalizer.
// A nil normalizer indexes lowercased tokens unchanged.
func NewMemoryIndex(handle Handle, normalizer Normalizer) *MemoryIndex {
	return &MemoryIndex{
		handle:     handle,
		normalizer: normalizer,
		postings:   make(map[string]PostingList),
		freq:       make(map[string]int64),
	}
}

// AddDocument indexes the text of each field under docNo and returns the
// assigned document id. Every field contributes to the document's main
// postings; field-restricted postings are kept under FieldTerm keys.
func (m *MemoryIndex) AddDocument(docNo string, fields map[string]string) int {
	counts := make(map[string]int)
	fieldCounts := make(map[string]int)
	length := 0

	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, field := range names {
		for _, tok := range terms.Split(fields[field]) {
			term := tok
			if m.normalizer != nil {
				var ok bool
				term, ok = m.normalizer.Normalize(tok)
				if !ok {
					continue
				}
			}
			counts[term]++
			if field != "" {
				fieldCounts[FieldTerm(field, term)]++
			}
			length++
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	docID := len(m.docLengths)
	m.docLengths = append(m.docLengths, length)
	m.docNos = append(m.docNos, docNo)
	m.tokens += int64(length)

	add := func(term string, tf int) {
		m.postings[term] = append(m.postings[term], Posting{
			DocID:     docID,
			Frequency: tf,
			DocLength: length,
		})
		m.freq[term] += int64(tf)
	}
	for term, tf := range counts {
		add(term, tf)
	}
	for term, tf := range fieldCounts {
		add(term, tf)
	}
	return docID
}

func (m *MemoryIndex) Handle() Handle {
	return m.handle
}

func (m *MemoryIndex) Lookup(term string) (TermEntry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pl, ok := m.postings[term]
	if !ok {
		return TermEntry{}, false
	}
	return TermEntry{
		Term:              term,
		DocumentFrequency: len(pl),
		Frequency:         m.freq[term],
	}, true
}

func (m *MemoryIndex) Postings(entry TermEntry) (PostingIterator, error) {
	m.mu.RLock()
	pl := m.postings[entry.Term]
	m.mu.RUnlock()
	return NewSliceIterator(pl), nil
}

func (m *MemoryIndex) CollectionStatistics() CollectionStatistics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return CollectionStatistics{
		NumberOfDocuments:     len(m.docLengths),
		NumberOfTokens:        m.tokens,
		NumberOfUniqueTerms:   len(m.postings),
		AverageDocumentLength: averageLength(len(m.docLengths), m.tokens),
	}
}

func (m *MemoryIndex) DocNo(docID int) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if docID < 0 || docID >= len(m.docNos) {
		return "", false
	}
	return m.docNos[docID], true
}

// SnapshotTerm is one lexicon entry with its full posting list.
type SnapshotTerm struct {
	Entry    TermEntry
	Postings PostingList
}

// Snapshot is a point-in-time copy of an index, ordered by term, suitable for
// writing to a segment file.
type Snapshot struct {
	Terms      []SnapshotTerm
	DocLengths []int
	DocNos     []string
	Tokens     int64
}

func (m *MemoryIndex) Snapshot() *Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap := &Snapshot{
		Terms:      make([]SnapshotTerm, 0, len(m.postings)),
		DocLengths: append([]int(nil), m.docLengths...),
		DocNos:     append([]string(nil), m.docNos...),
		Tokens:     m.tokens,
	}
	for term, pl := range m.postings {
		snap.Terms = append(snap.Terms, SnapshotTerm{
			Entry: TermEntry{
				Term:              term,
				DocumentFrequency: len(pl),
				Frequency:         m.freq[term],
			},
			Postings: append(PostingList(nil), pl...),
		})
	}
	sort.Slice(snap.Terms, func(i, j int) bool {
		return snap.Terms[i].Entry.Term < snap.Terms[j].Entry.Term
	})
	return snap
}

// DocCount returns the number of indexed documents.
func (m *MemoryIndex) DocCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docLengths)
}
