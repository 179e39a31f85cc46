// Package batch runs a topic file through the query executor and writes the
// rankings in TREC run format.
package batch

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"strings"

	apperrors "github.com/nectic/terrier-core/pkg/errors"
)

// Topic is one query of a batch.
type Topic struct {
	ID    string
	Query string
}

// ReadTopics parses one topic per line: the id, a tab, then the query text.
// A line without a tab splits at the first space instead. Blank lines and
// lines starting with # are skipped. Duplicate ids are rejected.
func ReadTopics(r io.Reader) ([]Topic, error) {
	var topics []Topic
	seen := make(map[string]bool)
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		id, query, ok := strings.Cut(text, "\t")
		if !ok {
			id, query, ok = strings.Cut(text, " ")
		}
		id, query = strings.TrimSpace(id), strings.TrimSpace(query)
		if !ok || query == "" {
			return nil, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "line %d: topic %q has no query", line, id)
		}
		if seen[id] {
			return nil, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "line %d: duplicate topic id %q", line, id)
		}
		seen[id] = true
		topics = append(topics, Topic{ID: id, Query: query})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading topics: %w", err)
	}
	return topics, nil
}
