package repl

import (
	"fmt"
	"io"
	"sync"

	"github.com/jaimegago/mcpbridge/internal/llm"
	"github.com/jaimegago/mcpbridge/internal/tools"
)

// Progress prints what the agent is doing while a query runs
type Progress struct {
	mu  sync.Mutex
	out io.Writer
}

// NewProgress creates a Progress writing to out
func NewProgress(out io.Writer) *Progress {
	return &Progress{out: out}
}

func (p *Progress) ModelCall(round int) {
	if round == 1 {
		p.printf("[calling model]\n")
		return
	}
	p.printf("[calling model, round %d]\n", round)
}

func (p *Progress) ToolCall(call llm.ToolCall) {
	args := call.Arguments
	if args == "" {
		args = "{}"
	}
	p.printf("[running tool %s with args %s]\n", call.Name, args)
}

func (p *Progress) ToolResult(result tools.ToolCallResult) {
	if result.IsError {
		p.printf("[tool %s failed: %s]\n", result.Name, result.Content)
	}
}

func (p *Progress) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, format, args...)
}
