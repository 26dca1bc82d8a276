package workspace

import (
	"os"
	"path/filepath"
	"testing"
)

func seedRepo(t *testing.T) string {
	t.Helper()
	src := t.TempDir()
	if err := os.MkdirAll(filepath.Join(src, "app"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(src, ".git"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(src, ".legwork", "logs"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(src, "app", "models.py"), []byte("pass\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(src, ".git", "HEAD"), []byte("ref\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	return src
}

func TestPrepareCopiesCheckoutPerLeg(t *testing.T) {
	src := seedRepo(t)
	m, err := NewManager(filepath.Join(t.TempDir(), "work"), false)
	if err != nil {
		t.Fatal(err)
	}
	a, err := m.Prepare("run-1", "python-3.6", src)
	if err != nil {
		t.Fatalf("Prepare returned error: %v", err)
	}
	b, err := m.Prepare("run-1", "python-3.7", src)
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Fatal("legs must not share a workspace")
	}
	for _, dir := range []string{a, b} {
		if _, err := os.Stat(filepath.Join(dir, "app", "models.py")); err != nil {
			t.Fatalf("checkout missing in %s: %v", dir, err)
		}
		if _, err := os.Stat(filepath.Join(dir, ".git")); !os.IsNotExist(err) {
			t.Fatal(".git must not be copied")
		}
		if _, err := os.Stat(filepath.Join(dir, ".legwork")); !os.IsNotExist(err) {
			t.Fatal(".legwork must not be copied")
		}
	}
}

func TestLegWritesDoNotLeakAcrossWorkspaces(t *testing.T) {
	src := seedRepo(t)
	m, _ := NewManager(filepath.Join(t.TempDir(), "work"), false)
	a, _ := m.Prepare("run-1", "a", src)
	b, _ := m.Prepare("run-1", "b", src)
	if err := os.WriteFile(filepath.Join(a, "app", "models.py"), []byte("changed\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(filepath.Join(b, "app", "models.py"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "pass\n" {
		t.Fatal("write in one leg visible in another")
	}
}

func TestCleanupHonorsKeep(t *testing.T) {
	src := seedRepo(t)
	root := filepath.Join(t.TempDir(), "work")

	m, _ := NewManager(root, false)
	dir, _ := m.Prepare("run-1", "a", src)
	if err := m.Cleanup(dir); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatal("workspace should be removed")
	}

	keeper, _ := NewManager(root, true)
	dir, _ = keeper.Prepare("run-2", "a", src)
	if err := keeper.Cleanup(dir); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Fatal("workspace should be kept")
	}
}
