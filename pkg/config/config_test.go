package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Querying.AllowedControls != "c,start,end" {
		t.Errorf("allowed controls = %q", cfg.Querying.AllowedControls)
	}
	if cfg.Querying.WeightingModel != "InL2" {
		t.Errorf("weighting model = %q, want InL2", cfg.Querying.WeightingModel)
	}
	if cfg.Translation.TopTerms != 10 {
		t.Errorf("top terms = %d, want 10", cfg.Translation.TopTerms)
	}
}

func TestLoadYAMLAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cfg.yaml")
	yml := `
querying:
  allowedControls: "c,start,end,scope"
  postfilters:
    order: "Scope"
    controls: "scope:Scope"
  matchingModel: weclirtlm
translation:
  topTerms: 3
`
	if err := os.WriteFile(path, []byte(yml), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SP_QUERYING_WEIGHTING_MODEL", "BM25")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Querying.Postfilters.Controls != "scope:Scope" {
		t.Errorf("postfilter controls = %q", cfg.Querying.Postfilters.Controls)
	}
	if cfg.Querying.WeightingModel != "BM25" {
		t.Errorf("env override not applied: %q", cfg.Querying.WeightingModel)
	}
	// Unset keys keep their defaults.
	if cfg.Querying.TermPipelines != "Stopwords,PorterStemmer" {
		t.Errorf("term pipelines = %q", cfg.Querying.TermPipelines)
	}

	props := cfg.Properties()
	if got := props.Get(KeyMatchingModel, ""); got != "weclirtlm" {
		t.Errorf("matching model property = %q", got)
	}
	if got := props.Int(KeyTopTranslationTerms, 0); got != 3 {
		t.Errorf("top terms property = %d", got)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/cfg.yaml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestProperties(t *testing.T) {
	p := NewProperties(map[string]string{"a": "TRUE", "n": "x"})
	if !p.Bool("a", false) {
		t.Error("Bool(a) = false")
	}
	if p.Bool("missing", true) != true {
		t.Error("Bool default not honoured")
	}
	if p.Int("n", 7) != 7 {
		t.Error("malformed int should yield default")
	}
	p.Set("n", "12")
	if p.Int("n", 7) != 12 {
		t.Error("Set not visible")
	}
	if p.Get("missing", "def") != "def" {
		t.Error("Get default not honoured")
	}
}
