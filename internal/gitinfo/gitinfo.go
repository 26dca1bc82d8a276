// Package gitinfo reads the current commit and branch from the project's
// git checkout. The CLI uses it to fill in trigger fields the user did not
// pass explicitly.
package gitinfo

import (
	"fmt"
	"os/exec"
	"strings"
)

// HeadCommit returns the full hash of HEAD in dir.
func HeadCommit(dir string) (string, error) {
	out, err := runGit(dir, "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("gitinfo: resolve HEAD: %w", err)
	}
	return out, nil
}

// CurrentBranch returns the checked-out branch name in dir. A detached HEAD
// yields an error, matching `git rev-parse --abbrev-ref`.
func CurrentBranch(dir string) (string, error) {
	out, err := runGit(dir, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", fmt.Errorf("gitinfo: resolve branch: %w", err)
	}
	if out == "HEAD" {
		return "", fmt.Errorf("gitinfo: detached HEAD, pass the branch explicitly")
	}
	return out, nil
}

func runGit(dir string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok && len(exitErr.Stderr) > 0 {
			return "", fmt.Errorf("%s", strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
