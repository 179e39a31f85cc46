package translation

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/nectic/terrier-core/pkg/config"
	apperrors "github.com/nectic/terrier-core/pkg/errors"
)

type flakyStore struct {
	failures int
	calls    int
	table    map[string][]Candidate
}

func (s *flakyStore) Load(context.Context) (map[string][]Candidate, error) {
	s.calls++
	if s.calls <= s.failures {
		return nil, errors.New("connection refused")
	}
	return s.table, nil
}

func (s *flakyStore) Save(context.Context, map[string][]Candidate) error { return nil }
func (s *flakyStore) Close() error                                       { return nil }

func TestLoadRetriesStore(t *testing.T) {
	store := &flakyStore{failures: 2, table: map[string][]Candidate{"chat": {{Term: "cat", Score: 1}}}}
	ix, err := Load(context.Background(), LoadOptions{
		Config: config.TranslationConfig{LoadRetryAttempts: 3, LoadTimeout: 5 * time.Second},
		Store:  store,
	})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if store.calls != 3 || ix.Len() != 1 {
		t.Errorf("calls=%d entries=%d", store.calls, ix.Len())
	}
}

func TestLoadGivesUp(t *testing.T) {
	store := &flakyStore{failures: 10}
	_, err := Load(context.Background(), LoadOptions{
		Config: config.TranslationConfig{LoadRetryAttempts: 2, LoadTimeout: 5 * time.Second},
		Store:  store,
	})
	if !errors.Is(err, apperrors.ErrTranslationStore) {
		t.Fatalf("err = %v", err)
	}
	if store.calls != 2 {
		t.Errorf("calls = %d", store.calls)
	}
}

func TestLoadWithoutSources(t *testing.T) {
	ix, err := Load(context.Background(), LoadOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if got := ix.LookupTopK("chien", 5); got["chien"] != 1 || len(got) != 1 {
		t.Errorf("self fallback = %v", got)
	}
}

func TestOpenStore(t *testing.T) {
	ctx := context.Background()
	s, err := OpenStore(ctx, config.TranslationConfig{Store: "none"}, nil)
	if s != nil || err != nil {
		t.Errorf("none: %v %v", s, err)
	}
	if _, err := OpenStore(ctx, config.TranslationConfig{Store: "postgres"}, nil); !errors.Is(err, apperrors.ErrTranslationStore) {
		t.Errorf("postgres without client: %v", err)
	}
	if _, err := OpenStore(ctx, config.TranslationConfig{Store: "redis"}, nil); !errors.Is(err, apperrors.ErrUnknownModule) {
		t.Errorf("unknown backend: %v", err)
	}
	s, err = OpenStore(ctx, config.TranslationConfig{Store: "SQLite", SQLitePath: filepath.Join(t.TempDir(), "t.db")}, nil)
	if err != nil {
		t.Fatalf("sqlite: %v", err)
	}
	s.Close()
}
