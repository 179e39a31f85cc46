package batch

import (
	"bufio"
	"crypto/rand"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/nectic/terrier-core/internal/searcher/executor"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewRunTag returns prefix joined to a fresh ULID, so repeated runs with
// the same configuration stay distinguishable and sort by start time.
func NewRunTag(prefix string) string {
	entropyMu.Lock()
	id := ulid.MustNew(ulid.Now(), entropy)
	entropyMu.Unlock()
	tag := strings.ToLower(id.String())
	if prefix = strings.TrimSpace(prefix); prefix != "" {
		tag = prefix + "-" + tag
	}
	return tag
}

// TRECWriter writes "qid Q0 docno rank score tag" lines.
type TRECWriter struct {
	w   *bufio.Writer
	tag string
}

func NewTRECWriter(w io.Writer, runTag string) *TRECWriter {
	return &TRECWriter{w: bufio.NewWriter(w), tag: strings.Join(strings.Fields(runTag), "_")}
}

// Write emits the ranking of one query. Hits without a docno fall back to
// their document id.
func (t *TRECWriter) Write(qid string, hits []executor.Hit) error {
	for _, hit := range hits {
		docno := hit.DocNo
		if docno == "" {
			docno = strconv.Itoa(hit.DocID)
		}
		if _, err := fmt.Fprintf(t.w, "%s Q0 %s %d %s %s\n",
			qid, docno, hit.Rank, strconv.FormatFloat(hit.Score, 'f', 6, 64), t.tag); err != nil {
			return err
		}
	}
	return nil
}

func (t *TRECWriter) Flush() error {
	return t.w.Flush()
}
