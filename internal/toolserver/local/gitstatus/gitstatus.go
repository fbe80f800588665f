// Package gitstatus provides a tool that reports the git status of a directory
package gitstatus

import (
	"context"
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/jaimegago/mcpbridge/internal/llm"
	"github.com/jaimegago/mcpbridge/internal/toolserver/local"
)

type Tool struct{}

type FileStatus struct {
	Path   string `json:"path"`
	Status string `json:"status"`
}

// Status is the tool's result
type Status struct {
	Branch    string       `json:"branch"`
	IsClean   bool         `json:"is_clean"`
	Staged    []FileStatus `json:"staged"`
	Unstaged  []FileStatus `json:"unstaged"`
	Untracked []FileStatus `json:"untracked"`
}

func New() *Tool {
	return &Tool{}
}

func (t *Tool) Name() string {
	return "local_git_status"
}

func (t *Tool) Description() string {
	return "Get git status of the tool server's working directory or a specified path. Shows current branch, staged changes, unstaged changes, and untracked files."
}

func (t *Tool) Parameters() llm.ParameterSchema {
	return llm.ParameterSchema{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "Directory path (defaults to the working directory, ~ expands to home directory)",
			},
		},
	}
}

func (t *Tool) Execute(ctx context.Context, args map[string]any) (any, error) {
	dir, err := os.Getwd()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get current directory")
	}
	if pathArg, ok := args["path"].(string); ok && pathArg != "" {
		if dir, err = local.ExpandPath(pathArg); err != nil {
			return nil, errors.Wrap(err, "failed to expand path")
		}
	}

	branch, err := local.RunGit(ctx, dir, "branch", "--show-current")
	if err != nil {
		return nil, err
	}
	porcelain, err := local.RunGit(ctx, dir, "status", "--porcelain")
	if err != nil {
		return nil, err
	}

	status := ParsePorcelain(porcelain)
	status.Branch = strings.TrimSpace(branch)
	return status, nil
}

// ParsePorcelain parses `git status --porcelain` (v1) output
func ParsePorcelain(out string) Status {
	status := Status{Staged: []FileStatus{}, Unstaged: []FileStatus{}, Untracked: []FileStatus{}}

	for _, line := range strings.Split(out, "\n") {
		if len(line) < 4 {
			continue
		}
		x, y, path := line[0], line[1], strings.TrimSpace(line[3:])

		if x == '?' && y == '?' {
			status.Untracked = append(status.Untracked, FileStatus{Path: path, Status: "untracked"})
			continue
		}
		if x != ' ' {
			status.Staged = append(status.Staged, FileStatus{Path: path, Status: statusName(x)})
		}
		if y != ' ' {
			status.Unstaged = append(status.Unstaged, FileStatus{Path: path, Status: statusName(y)})
		}
	}

	status.IsClean = len(status.Staged) == 0 && len(status.Unstaged) == 0 && len(status.Untracked) == 0
	return status
}

func statusName(code byte) string {
	switch code {
	case 'M':
		return "modified"
	case 'A':
		return "added"
	case 'D':
		return "deleted"
	case 'R':
		return "renamed"
	case 'C':
		return "copied"
	case 'U':
		return "unmerged"
	default:
		return string(code)
	}
}
