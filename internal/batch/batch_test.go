package batch

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/nectic/terrier-core/internal/index"
	"github.com/nectic/terrier-core/internal/querying"
	"github.com/nectic/terrier-core/internal/searcher/executor"
	"github.com/nectic/terrier-core/pkg/config"
	apperrors "github.com/nectic/terrier-core/pkg/errors"
)

func TestReadTopics(t *testing.T) {
	input := "# trec topics\n301\tdesign patterns\n\n302 system design\n303\t  cooking  \n"
	got, err := ReadTopics(strings.NewReader(input))
	if err != nil {
		t.Fatal(err)
	}
	want := []Topic{
		{ID: "301", Query: "design patterns"},
		{ID: "302", Query: "system design"},
		{ID: "303", Query: "cooking"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("topics (-want +got):\n%s", diff)
	}
}

func TestReadTopicsRejects(t *testing.T) {
	for _, input := range []string{"301\n", "301\tdesign\n301\tagain\n", "302\t \n"} {
		if _, err := ReadTopics(strings.NewReader(input)); !errors.Is(err, apperrors.ErrInvalidInput) {
			t.Errorf("%q: err = %v", input, err)
		}
	}
}

func TestNewRunTag(t *testing.T) {
	a, b := NewRunTag("inl2"), NewRunTag("inl2")
	if a == b || !strings.HasPrefix(a, "inl2-") {
		t.Errorf("tags %q %q", a, b)
	}
	if a >= b {
		t.Errorf("tags not monotonic: %q >= %q", a, b)
	}
	if tag := NewRunTag(""); strings.Contains(tag, "-") || len(tag) != 26 {
		t.Errorf("bare tag %q", tag)
	}
}

func TestTRECWriter(t *testing.T) {
	var buf bytes.Buffer
	w := NewTRECWriter(&buf, "my run")
	w.Write("301", []executor.Hit{{Rank: 0, DocID: 4, DocNo: "D4", Score: 2.5}, {Rank: 1, DocID: 7, Score: 1}})
	w.Flush()
	want := "301 Q0 D4 0 2.500000 my_run\n301 Q0 7 1 1.000000 my_run\n"
	if diff := cmp.Diff(want, buf.String()); diff != "" {
		t.Errorf("run (-want +got):\n%s", diff)
	}
}

func newExecutor(t *testing.T) *executor.Executor {
	t.Helper()
	ix := index.NewMemoryIndex("batch", nil)
	ix.AddDocument("D0", map[string]string{"body": "design patterns design"})
	ix.AddDocument("D1", map[string]string{"body": "system design"})
	ix.AddDocument("D2", map[string]string{"body": "cooking recipes"})
	m, err := querying.New(ix, querying.Options{Properties: config.NewProperties(map[string]string{
		config.KeyAllowedControls: "c,start,end",
	})})
	if err != nil {
		t.Fatal(err)
	}
	return executor.New(m)
}

func TestRunnerWritesTopicOrder(t *testing.T) {
	r := NewRunner(newExecutor(t), config.BatchConfig{Parallelism: 3, MaxResults: 1}, executor.Request{})
	topics := []Topic{
		{ID: "1", Query: "design"},
		{ID: "2", Query: "zebra"},
		{ID: "3", Query: "cooking"},
		{ID: "4", Query: "c:2"},
	}
	var buf bytes.Buffer
	summary, err := r.Run(context.Background(), topics, "t", &buf)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	var qids []string
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		qids = append(qids, strings.Fields(line)[0]+":"+strings.Fields(line)[2])
	}
	if diff := cmp.Diff([]string{"1:D0", "3:D2"}, qids); diff != "" {
		t.Errorf("run lines (-want +got):\n%s", diff)
	}
	if summary.Topics != 4 || summary.ZeroResult != 1 || summary.Empty != 1 || summary.Retrieved != 2 {
		t.Errorf("summary = %+v", summary)
	}
}

func TestRunnerStopsOnInvalidModel(t *testing.T) {
	r := NewRunner(newExecutor(t), config.BatchConfig{Parallelism: 2}, executor.Request{MatchingModel: "nope"})
	_, err := r.Run(context.Background(), []Topic{{ID: "1", Query: "design"}}, "t", &bytes.Buffer{})
	if !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Errorf("err = %v", err)
	}
}
