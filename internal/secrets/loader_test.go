package secrets

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadPrefersFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "key")
	if err := os.WriteFile(path, []byte("  from-file\n"), 0o600); err != nil {
		t.Fatalf("write secret: %v", err)
	}
	t.Setenv("MD_MATCHER_TEST_KEY", "from-env")

	got, err := Load(Source{Name: "api key", File: path, Env: "MD_MATCHER_TEST_KEY", Value: "inline"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "from-file" {
		t.Fatalf("expected file secret, got %q", got)
	}
}

func TestLoadEnvThenValue(t *testing.T) {
	t.Setenv("MD_MATCHER_TEST_KEY", " from-env ")

	got, err := Load(Source{Env: "MD_MATCHER_TEST_KEY", Value: "inline"})
	if err != nil || got != "from-env" {
		t.Fatalf("expected env secret, got %q (%v)", got, err)
	}

	t.Setenv("MD_MATCHER_TEST_KEY", "")
	got, err = Load(Source{Env: "MD_MATCHER_TEST_KEY", Value: "inline"})
	if err != nil || got != "inline" {
		t.Fatalf("expected inline secret, got %q (%v)", got, err)
	}
}

func TestLoadErrors(t *testing.T) {
	empty := filepath.Join(t.TempDir(), "empty")
	if err := os.WriteFile(empty, []byte("\n"), 0o600); err != nil {
		t.Fatalf("write secret: %v", err)
	}

	if _, err := Load(Source{Name: "api key", File: empty}); err == nil || !strings.Contains(err.Error(), "is empty") {
		t.Fatalf("expected empty file error, got %v", err)
	}

	if _, err := Load(Source{Name: "api key", File: filepath.Join(t.TempDir(), "missing")}); err == nil {
		t.Fatal("expected missing file error")
	}

	t.Setenv("MD_MATCHER_TEST_KEY", "")
	_, err := Load(Source{Name: "api key", Env: "MD_MATCHER_TEST_KEY"})
	if err == nil || !strings.Contains(err.Error(), "MD_MATCHER_TEST_KEY") {
		t.Fatalf("expected not configured error naming the env var, got %v", err)
	}
}
