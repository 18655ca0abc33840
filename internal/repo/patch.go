package repo

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// ConflictError reports a patch that does not apply cleanly. It carries
// the machine-readable code and structured file list so clients can
// render diagnostics without parsing prose.
type ConflictError struct {
	PatchName     string   `json:"patchName"`
	ConflictFiles []string `json:"conflictFiles"`
}

// Code is the wire identifier for patch-apply conflicts.
const ConflictCode = "patch_apply_conflict"

func (e *ConflictError) Error() string {
	return fmt.Sprintf("patch %s conflicts with %d file(s)", e.PatchName, len(e.ConflictFiles))
}

// ApplyPatch applies a unified diff to the working tree at repoPath.
// The patch is checked first; a conflict returns *ConflictError and
// leaves the tree untouched.
func ApplyPatch(ctx context.Context, repoPath, patchName string, patch []byte) error {
	ctx, cancel := context.WithTimeout(ctx, gitTimeout)
	defer cancel()

	tmp, err := os.CreateTemp("", "dronehub-*.patch")
	if err != nil {
		return fmt.Errorf("repo: write patch: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(patch); err != nil {
		tmp.Close()
		return fmt.Errorf("repo: write patch: %w", err)
	}
	tmp.Close()

	check := exec.CommandContext(ctx, "git", "-C", repoPath, "apply", "--check", tmp.Name())
	if out, err := check.CombinedOutput(); err != nil {
		files := conflictFiles(string(out))
		if len(files) > 0 {
			return &ConflictError{PatchName: patchName, ConflictFiles: files}
		}
		return fmt.Errorf("repo: check patch %s: %s", patchName, strings.TrimSpace(string(out)))
	}

	apply := exec.CommandContext(ctx, "git", "-C", repoPath, "apply", tmp.Name())
	if out, err := apply.CombinedOutput(); err != nil {
		return fmt.Errorf("repo: apply patch %s: %s", patchName, strings.TrimSpace(string(out)))
	}
	return nil
}

// conflictFiles extracts the file names from git apply's conflict
// diagnostics, lines like "error: patch failed: path/to/file:12".
func conflictFiles(out string) []string {
	seen := map[string]bool{}
	var files []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		name := ""
		switch {
		case strings.HasPrefix(line, "error: patch failed: "):
			name = strings.TrimPrefix(line, "error: patch failed: ")
			if i := strings.LastIndex(name, ":"); i > 0 {
				name = name[:i]
			}
		case strings.HasPrefix(line, "error: ") && strings.HasSuffix(line, ": patch does not apply"):
			name = strings.TrimSuffix(strings.TrimPrefix(line, "error: "), ": patch does not apply")
		}
		name = filepath.ToSlash(strings.TrimSpace(name))
		if name != "" && !seen[name] {
			seen[name] = true
			files = append(files, name)
		}
	}
	return files
}
