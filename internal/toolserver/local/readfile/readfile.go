// Package readfile provides a tool that reads a text file from disk
package readfile

import (
	"bytes"
	"context"
	"io/fs"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/jaimegago/mcpbridge/internal/llm"
	"github.com/jaimegago/mcpbridge/internal/toolserver/local"
)

const maxFileSize = 1 * 1024 * 1024 // 1MB

// Tool reads text files of up to 1MB
type Tool struct{}

// Result is what the tool returns
type Result struct {
	Path      string `json:"path"`
	Content   string `json:"content"`
	SizeBytes int    `json:"size_bytes"`
}

func New() *Tool {
	return &Tool{}
}

func (t *Tool) Name() string {
	return "read_file"
}

func (t *Tool) Description() string {
	return "Read contents of a file from the local filesystem. Use this to read configuration files, source code, or any text files the user asks about."
}

func (t *Tool) Parameters() llm.ParameterSchema {
	return llm.ParameterSchema{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "Path to file (absolute or relative to the server's working directory, ~ expands to home directory)",
			},
		},
		"required": []string{"path"},
	}
}

func (t *Tool) Execute(ctx context.Context, args map[string]any) (any, error) {
	pathArg, ok := args["path"].(string)
	if !ok || pathArg == "" {
		return nil, errors.New("path parameter is required and must be a string")
	}

	absPath, err := local.ExpandPath(pathArg)
	if err != nil {
		return nil, errors.Wrap(err, "failed to expand path")
	}

	info, err := os.Stat(absPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil, errors.Newf("file not found: %s", absPath)
	case errors.Is(err, fs.ErrPermission):
		return nil, errors.Newf("permission denied: %s", absPath)
	case err != nil:
		return nil, errors.Wrap(err, "failed to stat file")
	case info.IsDir():
		return nil, errors.Newf("path is a directory, not a file: %s", absPath)
	case info.Size() > maxFileSize:
		return nil, errors.Newf("file too large (%.1fMB), max 1MB supported", float64(info.Size())/(1024*1024))
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read file")
	}
	if isBinary(data) {
		return nil, errors.Newf("file appears to be binary, not text: %s", absPath)
	}

	return Result{Path: absPath, Content: string(data), SizeBytes: len(data)}, nil
}

// isBinary reports whether the first 512 bytes contain a NUL
func isBinary(data []byte) bool {
	return bytes.IndexByte(data[:min(len(data), 512)], 0) >= 0
}
