package parser

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/nectic/terrier-core/internal/terms"
	apperrors "github.com/nectic/terrier-core/pkg/errors"
)

type Requirement int

const (
	Optional Requirement = iota
	Required
	Prohibited
)

// Clause is one query term.
type Clause struct {
	Term        string
	Field       string
	Weight      float64
	Requirement Requirement
}

// Tree is a parsed query: its term clauses and the name:value controls it
// carried.
type Tree struct {
	Clauses  []Clause
	Controls map[string]string
	RawQuery string
}

// Empty reports whether the tree has no term clauses.
func (t *Tree) Empty() bool {
	return t == nil || len(t.Clauses) == 0
}

// Parser splits raw query text into a Tree. Field names are matched
// case-insensitively.
type Parser struct {
	fields map[string]bool
}

func New(fields []string) *Parser {
	p := &Parser{fields: make(map[string]bool, len(fields))}
	for _, f := range fields {
		if f = strings.ToLower(strings.TrimSpace(f)); f != "" {
			p.fields[f] = true
		}
	}
	return p
}

// Parse always returns a tree. A non-nil error lists the clauses that could
// not be parsed; the tree holds everything else.
func (p *Parser) Parse(query string) (*Tree, error) {
	tree := &Tree{
		Clauses:  make([]Clause, 0),
		Controls: make(map[string]string),
		RawQuery: query,
	}
	if strings.TrimSpace(query) == "" {
		return tree, nil
	}

	var errs []error
	words := strings.Fields(query)
	excludeNext := false
	for i := 0; i < len(words); i++ {
		word := words[i]
		switch strings.ToUpper(word) {
		case "AND", "OR":
			continue
		case "NOT":
			excludeNext = true
			continue
		}

		req := Optional
		if excludeNext {
			req = Prohibited
			excludeNext = false
		}
		switch word[0] {
		case '+':
			req, word = Required, word[1:]
		case '-':
			req, word = Prohibited, word[1:]
		}
		if word == "" {
			errs = append(errs, clauseError(words[i], "requirement without a term"))
			continue
		}

		weight := 1.0
		if at := strings.LastIndexByte(word, '^'); at >= 0 {
			w, err := strconv.ParseFloat(word[at+1:], 64)
			if err != nil || math.IsNaN(w) || math.IsInf(w, 1) {
				errs = append(errs, clauseError(words[i], "invalid weight"))
			} else {
				weight = w
			}
			word = word[:at]
		}

		field := ""
		if at := strings.IndexByte(word, ':'); at > 0 {
			name, value := strings.ToLower(word[:at]), word[at+1:]
			if value == "" {
				errs = append(errs, clauseError(words[i], "empty value"))
				continue
			}
			if !p.fields[name] {
				tree.Controls[name] = value
				continue
			}
			field, word = name, value
		}

		tokens := terms.Split(word)
		for _, tok := range tokens {
			tree.Clauses = append(tree.Clauses, Clause{
				Term:        tok,
				Field:       field,
				Weight:      weight,
				Requirement: req,
			})
		}
	}
	if excludeNext {
		errs = append(errs, clauseError("NOT", "no term follows"))
	}
	return tree, errors.Join(errs...)
}

func clauseError(clause, reason string) error {
	return fmt.Errorf("query clause %q: %s: %w", clause, reason, apperrors.ErrInvalidInput)
}
