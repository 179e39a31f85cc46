package executor

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/nectic/terrier-core/internal/index"
	"github.com/nectic/terrier-core/internal/querying"
	"github.com/nectic/terrier-core/internal/terms"
	"github.com/nectic/terrier-core/pkg/config"
	apperrors "github.com/nectic/terrier-core/pkg/errors"
)

func newExecutor(t *testing.T) *Executor {
	t.Helper()
	return newExecutorWith(t, nil)
}

func newExecutorWith(t *testing.T, extra map[string]string) *Executor {
	t.Helper()
	acc, err := terms.NewAccessor("Stopwords")
	if err != nil {
		t.Fatal(err)
	}
	ix := index.NewMemoryIndex("test", acc)
	ix.AddDocument("D0", map[string]string{"body": "design patterns design"})
	ix.AddDocument("D1", map[string]string{"body": "system design"})
	ix.AddDocument("D2", map[string]string{"body": "cooking recipes"})

	props := map[string]string{
		config.KeyTermPipelines:   "Stopwords",
		config.KeyAllowedControls: "c,start,end",
	}
	for k, v := range extra {
		props[k] = v
	}
	m, err := querying.New(ix, querying.Options{Properties: config.NewProperties(props)})
	if err != nil {
		t.Fatal(err)
	}
	return New(m)
}

func TestExecute(t *testing.T) {
	e := newExecutor(t)
	res, err := e.Execute(context.Background(), Request{QueryID: "7", Query: "design"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	var docnos []string
	for _, h := range res.Results {
		docnos = append(docnos, h.DocNo)
	}
	if diff := cmp.Diff([]string{"D0", "D1"}, docnos); diff != "" {
		t.Errorf("docnos (-want +got):\n%s", diff)
	}
	if res.QueryID != "7" || res.TotalHits != 2 || res.Info != "InL2c1.0" {
		t.Errorf("result = %+v", res)
	}
}

func TestExecuteControlsAndModels(t *testing.T) {
	e := newExecutor(t)
	res, err := e.Execute(context.Background(), Request{
		Query:          "design",
		WeightingModel: "BM25",
		Controls:       map[string]string{"start": "1", "end": "1"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Results) != 1 || res.Results[0].DocNo != "D1" || res.TotalHits != 2 {
		t.Errorf("windowed result = %+v", res)
	}
	if res.Info != "BM25c0.75" {
		t.Errorf("Info = %q", res.Info)
	}
	if res.QueryID != querying.GenericQueryID {
		t.Errorf("qid = %q", res.QueryID)
	}
}

func TestExecuteIgnoresDisallowedControls(t *testing.T) {
	e := newExecutorWith(t, map[string]string{config.KeyPostfilterControls: "minscore:MinScore"})
	for _, controls := range []map[string]string{
		nil,
		{"minscore": "1000"},
		{"MinScore": "1000"},
	} {
		res, err := e.Execute(context.Background(), Request{Query: "design", Controls: controls})
		if err != nil {
			t.Fatal(err)
		}
		if res.TotalHits != 2 || len(res.Results) != 2 {
			t.Errorf("controls %v: result = %+v", controls, res)
		}
	}
}

func TestExecuteRejectsUnknownModels(t *testing.T) {
	e := newExecutor(t)
	for _, req := range []Request{
		{Query: "design", MatchingModel: "nope"},
		{Query: "design", WeightingModel: "nope"},
	} {
		_, err := e.Execute(context.Background(), req)
		if !errors.Is(err, apperrors.ErrInvalidInput) || apperrors.HTTPStatusCode(err) != http.StatusBadRequest {
			t.Errorf("%+v: err = %v", req, err)
		}
	}
}

func TestExecuteCancelled(t *testing.T) {
	e := newExecutor(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := e.Execute(ctx, Request{Query: "design"}); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v", err)
	}
}

func TestRequestKey(t *testing.T) {
	a := Request{QueryID: "1", Query: "design  patterns", Controls: map[string]string{"end": "9", "c": "2"}}
	b := Request{QueryID: "2", Query: "design patterns", Controls: map[string]string{"c": "2", "end": "9"}}
	if a.Key() != b.Key() {
		t.Errorf("equivalent requests keyed differently:\n%s\n%s", a.Key(), b.Key())
	}
	b.WeightingModel = "BM25"
	if a.Key() == b.Key() {
		t.Error("weighting model not part of the key")
	}
}
