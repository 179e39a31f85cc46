package terms

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

var englishStopwords = []string{
	"a", "about", "after", "all", "also", "an", "and", "any", "are", "as", "at",
	"be", "been", "but", "by", "can", "could", "do", "does", "each", "for",
	"from", "had", "has", "have", "he", "her", "his", "how", "i", "if", "in",
	"into", "is", "it", "its", "more", "no", "not", "of", "on", "or", "other",
	"our", "she", "so", "some", "than", "that", "the", "their", "them", "then",
	"there", "these", "they", "this", "to", "was", "we", "were", "what", "when",
	"where", "which", "who", "will", "with", "would", "you", "your",
}

// StopList is a set of terms to eliminate.
type StopList map[string]struct{}

// Contains reports whether term is a stopword.
func (s StopList) Contains(term string) bool {
	_, ok := s[term]
	return ok
}

// EnglishStopwords returns a fresh copy of the built-in English list.
func EnglishStopwords() StopList {
	list := make(StopList, len(englishStopwords))
	for _, w := range englishStopwords {
		list[w] = struct{}{}
	}
	return list
}

// ReadStopList reads one stopword per line. Blank lines and lines starting
// with '#' are skipped; entries are lower-cased.
func ReadStopList(r io.Reader) (StopList, error) {
	list := make(StopList)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		list[strings.ToLower(line)] = struct{}{}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading stopword list: %w", err)
	}
	return list, nil
}

// LoadStopList reads a stopword file from disk.
func LoadStopList(path string) (StopList, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening stopword file %s: %w", path, err)
	}
	defer f.Close()
	return ReadStopList(f)
}

// Stopwords drops terms found in its list.
type Stopwords struct {
	next Pipeline
	list StopList
}

// NewStopwords builds a stopword step over a custom list.
func NewStopwords(next Pipeline, list StopList) *Stopwords {
	return &Stopwords{next: next, list: list}
}

func (s *Stopwords) ProcessTerm(term string) {
	if s.list.Contains(term) {
		return
	}
	s.next.ProcessTerm(term)
}
