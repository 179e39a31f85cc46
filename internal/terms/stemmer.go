package terms

import (
	"strings"

	"github.com/kljensen/snowball/english"
	"github.com/kljensen/snowball/french"
)

// EnglishStemmer applies the Snowball English (Porter2) stemmer.
type EnglishStemmer struct {
	next Pipeline
}

func (s *EnglishStemmer) ProcessTerm(term string) {
	if stemmed := english.Stem(term, false); stemmed != "" {
		s.next.ProcessTerm(stemmed)
	}
}

// FrenchStemmer applies the Snowball French stemmer.
type FrenchStemmer struct {
	next Pipeline
}

func (s *FrenchStemmer) ProcessTerm(term string) {
	if stemmed := french.Stem(term, false); stemmed != "" {
		s.next.ProcessTerm(stemmed)
	}
}

// SuffixStemmer strips a fixed table of English suffixes. It is cheaper and
// much cruder than the Snowball stemmers.
type SuffixStemmer struct {
	next Pipeline
}

func (s *SuffixStemmer) ProcessTerm(term string) {
	if stemmed := stripSuffix(term); stemmed != "" {
		s.next.ProcessTerm(stemmed)
	}
}

var suffixRules = []struct {
	suffix      string
	replacement string
	minLen      int
}{
	{"ational", "ate", 2},
	{"tional", "tion", 2},
	{"encies", "ence", 2},
	{"ances", "ance", 2},
	{"ments", "ment", 2},
	{"izing", "ize", 2},
	{"ating", "ate", 2},
	{"iness", "y", 2},
	{"ously", "ous", 2},
	{"ively", "ive", 2},
	{"tion", "t", 3},
	{"sion", "s", 3},
	{"ying", "y", 2},
	{"ies", "y", 2},
	{"ing", "", 3},
	{"ers", "er", 2},
	{"ful", "", 3},
	{"ed", "", 3},
	{"ly", "", 3},
	{"es", "", 3},
	{"ss", "ss", 2},
	{"s", "", 3},
}

func stripSuffix(word string) string {
	for _, rule := range suffixRules {
		if strings.HasSuffix(word, rule.suffix) {
			stemmed := word[:len(word)-len(rule.suffix)] + rule.replacement
			if len(stemmed) >= rule.minLen {
				return stemmed
			}
		}
	}
	return word
}
