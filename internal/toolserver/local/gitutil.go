package local

import (
	"bytes"
	"context"
	"os/exec"
	"strings"

	"github.com/cockroachdb/errors"
)

// RunGit runs a git command in dir and returns its stdout
func RunGit(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		switch {
		case strings.Contains(msg, "not a git repository"):
			return "", errors.New("not a git repository (or any of the parent directories)")
		case errors.Is(err, exec.ErrNotFound):
			return "", errors.New("git command not found")
		}
		return "", errors.Newf("git %s: %s", strings.Join(args, " "), msg)
	}

	return stdout.String(), nil
}
