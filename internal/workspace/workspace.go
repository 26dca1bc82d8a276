// Package workspace gives every matrix leg its own private checkout so legs
// share nothing at runtime beyond the source they started from.
package workspace

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// Skipped directories that must never be copied into a leg workspace.
var skipDirs = map[string]struct{}{
	".git":     {},
	".legwork": {},
}

// Manager creates and removes per-leg workspaces under a run-scoped root.
type Manager struct {
	root string
	keep bool
}

// NewManager roots workspaces under dir. When keep is true, Cleanup leaves
// workspaces on disk for postmortems.
func NewManager(dir string, keep bool) (*Manager, error) {
	if dir == "" {
		return nil, fmt.Errorf("workspace: root dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("workspace: ensure root: %w", err)
	}
	return &Manager{root: dir, keep: keep}, nil
}

// Prepare copies the repository checkout into a fresh directory for one leg
// of one run and returns its path.
func (m *Manager) Prepare(runID, leg, sourceDir string) (string, error) {
	if runID == "" || leg == "" {
		return "", fmt.Errorf("workspace: run id and leg name are required")
	}
	dir := filepath.Join(m.root, runID, leg)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("workspace: create %s: %w", dir, err)
	}
	if err := copyTree(sourceDir, dir); err != nil {
		return "", fmt.Errorf("workspace: populate %s: %w", dir, err)
	}
	return dir, nil
}

// Cleanup removes one leg workspace unless the manager keeps them.
func (m *Manager) Cleanup(dir string) error {
	if m.keep || dir == "" {
		return nil
	}
	return os.RemoveAll(dir)
}

// CleanupRun removes the whole run directory.
func (m *Manager) CleanupRun(runID string) error {
	if m.keep || runID == "" {
		return nil
	}
	return os.RemoveAll(filepath.Join(m.root, runID))
}

func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if entry.IsDir() {
			if _, skip := skipDirs[entry.Name()]; skip {
				return filepath.SkipDir
			}
			return os.MkdirAll(filepath.Join(dst, rel), 0o755)
		}
		if !entry.Type().IsRegular() {
			// Symlinks and sockets stay behind; stages that need them
			// recreate them inside the leg.
			return nil
		}
		return copyFile(path, filepath.Join(dst, rel), entry)
	})
}

func copyFile(src, dst string, entry fs.DirEntry) error {
	info, err := entry.Info()
	if err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
