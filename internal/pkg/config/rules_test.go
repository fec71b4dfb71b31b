package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestRulesLoader(t *testing.T) {
	t.Run("Missing File Uses Defaults", func(t *testing.T) {
		l, err := NewRulesLoader(filepath.Join(t.TempDir(), "absent.yaml"))
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		rules := l.Rules()
		if rules.Resolver.SimilarityThreshold != 0.6 {
			t.Errorf("expected default similarity threshold 0.6, got %v", rules.Resolver.SimilarityThreshold)
		}
		if rules.Quality.LineSumTolerance != 0.01 {
			t.Errorf("expected default line sum tolerance 0.01, got %v", rules.Quality.LineSumTolerance)
		}
	})

	t.Run("File Overrides Defaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "rules.yaml")
		content := []byte("resolver:\n  similarity_threshold: 0.8\nquality:\n  amount_ceiling: 5000\n")
		if err := os.WriteFile(path, content, 0o644); err != nil {
			t.Fatal(err)
		}

		l, err := NewRulesLoader(path)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		rules := l.Rules()
		if rules.Resolver.SimilarityThreshold != 0.8 {
			t.Errorf("expected similarity threshold 0.8, got %v", rules.Resolver.SimilarityThreshold)
		}
		if rules.Quality.AmountCeiling != 5000 {
			t.Errorf("expected amount ceiling 5000, got %v", rules.Quality.AmountCeiling)
		}
		// Unset fields keep their defaults.
		if rules.Quality.CoverageWindowMinutes != 60 {
			t.Errorf("expected default coverage window 60, got %v", rules.Quality.CoverageWindowMinutes)
		}
	})

	t.Run("Bad YAML Is An Error", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "rules.yaml")
		if err := os.WriteFile(path, []byte("quality: ["), 0o644); err != nil {
			t.Fatal(err)
		}
		if _, err := NewRulesLoader(path); err == nil {
			t.Fatal("expected a parse error, got nil")
		}
	})
}
