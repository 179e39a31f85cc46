package segment

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"os"
	"sort"

	"github.com/nectic/terrier-core/internal/index"
	apperrors "github.com/nectic/terrier-core/pkg/errors"
)

// Reader serves a segment file as an index.Source. The dictionary and
// document table are held in memory; posting lists are read on demand.
type Reader struct {
	file     *os.File
	filePath string
	header   SegmentHeader
	dict     []DictEntry
	docs     docTable
}

var _ index.Source = (*Reader)(nil)

// OpenReader opens and validates the segment at path.
func OpenReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening segment file: %w", err)
	}
	r, err := load(f, path)
	if err != nil {
		f.Close()
		return nil, err
	}
	return r, nil
}

func load(f *os.File, path string) (*Reader, error) {
	stat, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat segment file: %w", err)
	}
	if stat.Size() < int64(HeaderSize+FooterSize) {
		return nil, fmt.Errorf("invalid segment file %s: too short", path)
	}

	headerBytes := make([]byte, HeaderSize)
	if _, err := f.ReadAt(headerBytes, 0); err != nil {
		return nil, fmt.Errorf("reading segment header: %w", err)
	}
	header := decodeHeader(headerBytes)
	if header.Magic != MagicBytes {
		return nil, fmt.Errorf("invalid segment file: bad magic bytes %x", header.Magic)
	}
	if header.Version != FormatVersion {
		return nil, fmt.Errorf("unsupported segment version %d", header.Version)
	}

	footer := make([]byte, FooterSize)
	if _, err := f.ReadAt(footer, stat.Size()-int64(FooterSize)); err != nil {
		return nil, fmt.Errorf("reading segment footer: %w", err)
	}
	dictSum := binary.LittleEndian.Uint32(footer[0:4])
	docsSum := binary.LittleEndian.Uint32(footer[4:8])
	docsOffset := int64(binary.LittleEndian.Uint64(footer[8:16]))
	docsSize := int64(binary.LittleEndian.Uint64(footer[16:24]))

	dictBytes := make([]byte, header.DictSize)
	if _, err := f.ReadAt(dictBytes, header.DictOffset); err != nil {
		return nil, fmt.Errorf("reading dictionary: %w", err)
	}
	if crc32.ChecksumIEEE(dictBytes) != dictSum {
		return nil, fmt.Errorf("dictionary checksum mismatch in %s", path)
	}
	var dict []DictEntry
	if err := json.Unmarshal(dictBytes, &dict); err != nil {
		return nil, fmt.Errorf("parsing dictionary: %w", err)
	}

	docsBytes := make([]byte, docsSize)
	if _, err := f.ReadAt(docsBytes, docsOffset); err != nil {
		return nil, fmt.Errorf("reading document table: %w", err)
	}
	if crc32.ChecksumIEEE(docsBytes) != docsSum {
		return nil, fmt.Errorf("document table checksum mismatch in %s", path)
	}
	var docs docTable
	if err := json.Unmarshal(docsBytes, &docs); err != nil {
		return nil, fmt.Errorf("parsing document table: %w", err)
	}

	return &Reader{
		file:     f,
		filePath: path,
		header:   header,
		dict:     dict,
		docs:     docs,
	}, nil
}

// Handle names the file and the moment it was written, so a segment
// rewritten in place gets a new handle.
func (r *Reader) Handle() index.Handle {
	return index.Handle(fmt.Sprintf("%s@%d", r.filePath, r.header.CreatedAt))
}

func (r *Reader) find(term string) (DictEntry, bool) {
	idx := sort.Search(len(r.dict), func(i int) bool {
		return r.dict[i].Term >= term
	})
	if idx >= len(r.dict) || r.dict[idx].Term != term {
		return DictEntry{}, false
	}
	return r.dict[idx], true
}

func (r *Reader) Lookup(term string) (index.TermEntry, bool) {
	e, ok := r.find(term)
	if !ok {
		return index.TermEntry{}, false
	}
	return index.TermEntry{Term: e.Term, DocumentFrequency: e.DocFreq, Frequency: e.Freq}, true
}

// Postings reads the posting list for entry from disk. Read or decode
// failures wrap ErrPostingRead.
func (r *Reader) Postings(entry index.TermEntry) (index.PostingIterator, error) {
	e, ok := r.find(entry.Term)
	if !ok {
		return index.NewSliceIterator(nil), nil
	}
	buf := make([]byte, e.PostLen)
	if _, err := r.file.ReadAt(buf, r.header.PostOffset+e.PostOffset); err != nil {
		return nil, fmt.Errorf("reading postings for %q: %w: %v", entry.Term, apperrors.ErrPostingRead, err)
	}
	var postings index.PostingList
	if err := json.Unmarshal(buf, &postings); err != nil {
		return nil, fmt.Errorf("parsing postings for %q: %w: %v", entry.Term, apperrors.ErrPostingRead, err)
	}
	return index.NewSliceIterator(postings), nil
}

func (r *Reader) CollectionStatistics() index.CollectionStatistics {
	docs := int(r.header.DocCount)
	var avg float64
	if docs > 0 {
		avg = float64(r.header.Tokens) / float64(docs)
	}
	return index.CollectionStatistics{
		NumberOfDocuments:     docs,
		NumberOfTokens:        r.header.Tokens,
		NumberOfUniqueTerms:   len(r.dict),
		AverageDocumentLength: avg,
	}
}

func (r *Reader) DocNo(docID int) (string, bool) {
	if docID < 0 || docID >= len(r.docs.DocNos) {
		return "", false
	}
	return r.docs.DocNos[docID], true
}

// Terms returns the number of dictionary entries.
func (r *Reader) Terms() int {
	return len(r.dict)
}

func (r *Reader) Close() error {
	return r.file.Close()
}
