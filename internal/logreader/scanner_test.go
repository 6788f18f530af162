package logreader

import (
	"os"
	"path/filepath"
	"testing"
)

func TestExpandPatterns_Glob(t *testing.T) {
	dir := t.TempDir()
	for _, f := range []string{"b.log", "a.log", "c.txt"} {
		writePlain(t, dir, f, "x")
	}
	if err := os.Mkdir(filepath.Join(dir, "dir.log"), 0755); err != nil {
		t.Fatal(err)
	}

	matches, err := ExpandPatterns([]string{filepath.Join(dir, "*.log")})
	if err != nil {
		t.Fatalf("ExpandPatterns() error = %v", err)
	}
	files := Files(matches)
	if len(files) != 2 {
		t.Fatalf("got %v, want 2 regular files", files)
	}
	if filepath.Base(files[0]) != "a.log" || filepath.Base(files[1]) != "b.log" {
		t.Errorf("files not sorted: %v", files)
	}
	for _, f := range files {
		if !filepath.IsAbs(f) {
			t.Errorf("expected absolute path, got %s", f)
		}
	}
}

func TestExpandPatterns_Deduplication(t *testing.T) {
	dir := t.TempDir()
	file := writePlain(t, dir, "test.log", "x")

	matches, err := ExpandPatterns([]string{file, filepath.Join(dir, "*.log")})
	if err != nil {
		t.Fatal(err)
	}
	if got := Files(matches); len(got) != 1 {
		t.Errorf("got %v, want 1 file", got)
	}
	if empty := EmptyPatterns(matches); len(empty) != 0 {
		t.Errorf("a pattern matching only duplicates is not empty, got %v", empty)
	}
}

func TestExpandPatterns_NoMatch(t *testing.T) {
	pattern := filepath.Join(t.TempDir(), "*.nonexistent")

	matches, err := ExpandPatterns([]string{pattern})
	if err != nil {
		t.Fatal(err)
	}
	empty := EmptyPatterns(matches)
	if len(empty) != 1 || empty[0] != pattern {
		t.Errorf("EmptyPatterns() = %v, want [%s]", empty, pattern)
	}
}

func TestExpandPatterns_InvalidPattern(t *testing.T) {
	if _, err := ExpandPatterns([]string{"[invalid"}); err == nil {
		t.Error("expected error for invalid pattern")
	}
}
