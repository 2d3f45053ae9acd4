package git

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Status describes how git sees one store file
type Status struct {
	IsRepo  bool
	Path    string
	Tracked bool
	Ignored bool
}

// git runs a git subcommand in workDir and returns its stdout. A non-zero
// exit status is returned as an error.
func git(ctx context.Context, workDir string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = workDir
	return cmd.Output()
}

// IsGitRepo checks if workDir is inside a git work tree
func IsGitRepo(ctx context.Context, workDir string) bool {
	_, err := git(ctx, workDir, "rev-parse", "--is-inside-work-tree")
	return err == nil
}

// IsTracked checks if path is in the git index
func IsTracked(ctx context.Context, workDir, path string) bool {
	out, err := git(ctx, workDir, "ls-files", "--", path)
	return err == nil && len(bytes.TrimSpace(out)) > 0
}

// IsIgnored checks if path matches any .gitignore rule. check-ignore exits
// 0 for ignored paths.
func IsIgnored(ctx context.Context, workDir, path string) bool {
	_, err := git(ctx, workDir, "check-ignore", "-q", "--", path)
	return err == nil
}

// Check reports the git status of the store file at path, relative to
// workDir. Outside a work tree only IsRepo is meaningful.
func Check(ctx context.Context, workDir, path string) *Status {
	status := &Status{Path: path}
	if !IsGitRepo(ctx, workDir) {
		return status
	}
	status.IsRepo = true
	status.Tracked = IsTracked(ctx, workDir, path)
	status.Ignored = IsIgnored(ctx, workDir, path)
	return status
}

// Format renders the status for display. encrypted tells whether the store
// is encrypted, which decides if tracking it is a problem.
func Format(status *Status, encrypted bool) string {
	if !status.IsRepo {
		return ""
	}

	var result strings.Builder
	result.WriteString("\nGit Integration:\n")

	switch {
	case status.Tracked && !encrypted:
		result.WriteString(fmt.Sprintf("   error: plaintext store %s is tracked by git (run: git rm --cached %s)\n", status.Path, status.Path))
	case status.Tracked:
		result.WriteString(fmt.Sprintf("   ok: %s is tracked by git (encrypted)\n", status.Path))
	case status.Ignored:
		result.WriteString(fmt.Sprintf("   ok: %s is in .gitignore\n", status.Path))
	case !encrypted:
		result.WriteString(fmt.Sprintf("   warning: plaintext store %s not in .gitignore (add to .gitignore)\n", status.Path))
	default:
		result.WriteString(fmt.Sprintf("   ok: %s is not tracked by git\n", status.Path))
	}

	return result.String()
}
