// Package segment persists an index snapshot as a single .spdx file and
// serves it back as an index.Source. Layout: a 64-byte binary header, the
// JSON-encoded posting lists, a JSON dictionary, a JSON document table and a
// 32-byte footer carrying checksums.
package segment

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"time"

	"github.com/nectic/terrier-core/internal/index"
)

// MagicBytes identifies a valid .spdx segment file.
const (
	MagicBytes    uint32 = 0x53504458
	FormatVersion uint32 = 2
	HeaderSize    int    = 64
	FooterSize    int    = 32
)

// SegmentHeader is the 64-byte header written at the start of every segment.
type SegmentHeader struct {
	Magic      uint32
	Version    uint32
	TermCount  uint32
	DocCount   uint32
	CreatedAt  int64
	DictOffset int64
	DictSize   int64
	PostOffset int64
	PostSize   int64
	Tokens     int64
}

// DictEntry maps a term to its postings offset and length, plus the
// statistics needed to score it.
type DictEntry struct {
	Term       string `json:"t"`
	PostOffset int64  `json:"o"`
	PostLen    int    `json:"l"`
	DocFreq    int    `json:"d"`
	Freq       int64  `json:"f"`
}

type docTable struct {
	Lengths []int    `json:"lengths"`
	DocNos  []string `json:"docnos"`
}

// Write atomically creates the segment file at path from snap. It writes to
// a .tmp file first and renames on success.
func Write(path string, snap *index.Snapshot) error {
	if snap == nil || len(snap.DocLengths) == 0 {
		return fmt.Errorf("cannot write empty segment")
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating segment directory: %w", err)
		}
	}
	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("creating temp segment file: %w", err)
	}
	defer f.Close()

	header := SegmentHeader{
		Magic:     MagicBytes,
		Version:   FormatVersion,
		TermCount: uint32(len(snap.Terms)),
		DocCount:  uint32(len(snap.DocLengths)),
		CreatedAt: time.Now().UnixNano(),
		Tokens:    snap.Tokens,
	}
	if _, err := f.Write(make([]byte, HeaderSize)); err != nil {
		return fmt.Errorf("writing header placeholder: %w", err)
	}

	header.PostOffset = int64(HeaderSize)
	offset := int64(0)
	dict := make([]DictEntry, 0, len(snap.Terms))
	for _, t := range snap.Terms {
		data, err := json.Marshal(t.Postings)
		if err != nil {
			return fmt.Errorf("marshaling postings for term %q: %w", t.Entry.Term, err)
		}
		if _, err := f.Write(data); err != nil {
			return fmt.Errorf("writing postings for term %q: %w", t.Entry.Term, err)
		}
		dict = append(dict, DictEntry{
			Term:       t.Entry.Term,
			PostOffset: offset,
			PostLen:    len(data),
			DocFreq:    t.Entry.DocumentFrequency,
			Freq:       t.Entry.Frequency,
		})
		offset += int64(len(data))
	}
	header.PostSize = offset

	dictData, err := json.Marshal(dict)
	if err != nil {
		return fmt.Errorf("marshaling dictionary: %w", err)
	}
	header.DictOffset = header.PostOffset + header.PostSize
	header.DictSize = int64(len(dictData))
	if _, err := f.Write(dictData); err != nil {
		return fmt.Errorf("writing dictionary: %w", err)
	}

	docsData, err := json.Marshal(docTable{Lengths: snap.DocLengths, DocNos: snap.DocNos})
	if err != nil {
		return fmt.Errorf("marshaling document table: %w", err)
	}
	docsOffset := header.DictOffset + header.DictSize
	if _, err := f.Write(docsData); err != nil {
		return fmt.Errorf("writing document table: %w", err)
	}

	footer := make([]byte, FooterSize)
	binary.LittleEndian.PutUint32(footer[0:4], crc32.ChecksumIEEE(dictData))
	binary.LittleEndian.PutUint32(footer[4:8], crc32.ChecksumIEEE(docsData))
	binary.LittleEndian.PutUint64(footer[8:16], uint64(docsOffset))
	binary.LittleEndian.PutUint64(footer[16:24], uint64(len(docsData)))
	if _, err := f.Write(footer); err != nil {
		return fmt.Errorf("writing footer: %w", err)
	}

	if _, err := f.WriteAt(encodeHeader(header), 0); err != nil {
		return fmt.Errorf("updating header: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("syncing segment file: %w", err)
	}
	f.Close()
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("renaming segment file: %w", err)
	}
	return nil
}

func encodeHeader(h SegmentHeader) []byte {
	b := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(b[0:4], h.Magic)
	binary.LittleEndian.PutUint32(b[4:8], h.Version)
	binary.LittleEndian.PutUint32(b[8:12], h.TermCount)
	binary.LittleEndian.PutUint32(b[12:16], h.DocCount)
	binary.LittleEndian.PutUint64(b[16:24], uint64(h.CreatedAt))
	binary.LittleEndian.PutUint64(b[24:32], uint64(h.DictOffset))
	binary.LittleEndian.PutUint64(b[32:40], uint64(h.DictSize))
	binary.LittleEndian.PutUint64(b[40:48], uint64(h.PostOffset))
	binary.LittleEndian.PutUint64(b[48:56], uint64(h.PostSize))
	binary.LittleEndian.PutUint64(b[56:64], uint64(h.Tokens))
	return b
}

func decodeHeader(b []byte) SegmentHeader {
	return SegmentHeader{
		Magic:      binary.LittleEndian.Uint32(b[0:4]),
		Version:    binary.LittleEndian.Uint32(b[4:8]),
		TermCount:  binary.LittleEndian.Uint32(b[8:12]),
		DocCount:   binary.LittleEndian.Uint32(b[12:16]),
		CreatedAt:  int64(binary.LittleEndian.Uint64(b[16:24])),
		DictOffset: int64(binary.LittleEndian.Uint64(b[24:32])),
		DictSize:   int64(binary.LittleEndian.Uint64(b[32:40])),
		PostOffset: int64(binary.LittleEndian.Uint64(b[40:48])),
		PostSize:   int64(binary.LittleEndian.Uint64(b[48:56])),
		Tokens:     int64(binary.LittleEndian.Uint64(b[56:64])),
	}
}
