package pathutil

import (
	"os"
	"path/filepath"
	"testing"
)

func TestExpand_HomeShortcut(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Fatalf("user home dir: %v", err)
	}

	got, err := Expand("~/.etat/data")
	if err != nil {
		t.Fatalf("expand path: %v", err)
	}

	want := filepath.Join(home, ".etat", "data")
	if got != want {
		t.Fatalf("path mismatch: got %q want %q", got, want)
	}
}

func TestExpand_EnvVar(t *testing.T) {
	t.Setenv("ETAT_PATH_TEST", "/tmp/etat-path")

	got, err := Expand("$ETAT_PATH_TEST/data")
	if err != nil {
		t.Fatalf("expand path: %v", err)
	}

	if want := filepath.Clean("/tmp/etat-path/data"); got != want {
		t.Fatalf("path mismatch: got %q want %q", got, want)
	}
}

func TestEnsureDir(t *testing.T) {
	target := filepath.Join(t.TempDir(), "nested", "data")

	got, err := EnsureDir(target)
	if err != nil {
		t.Fatalf("ensure dir: %v", err)
	}
	if info, err := os.Stat(got); err != nil || !info.IsDir() {
		t.Fatalf("expected directory at %s", got)
	}

	if _, err := EnsureDir(""); err == nil {
		t.Fatal("expected error for empty path")
	}
}
