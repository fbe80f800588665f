// Package repl is the interactive chat loop of mcpbridge
package repl

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/jaimegago/mcpbridge/internal/config"
	"github.com/jaimegago/mcpbridge/internal/llm"
	"github.com/jaimegago/mcpbridge/internal/useragent"
)

// ErrExit is returned by a command that ends the session
var ErrExit = errors.New("exit requested")

// Agent is what the REPL drives: the local agent or a daemon client
type Agent interface {
	Run(ctx context.Context, query string) (*useragent.Transcript, error)
	Tools(ctx context.Context) ([]llm.ToolDefinition, error)
	CurrentModelName() string
	SwitchModel(ctx context.Context, provider, model, displayName string) error
}

// PickFunc picks one of choices, or returns "" when cancelled
type PickFunc func(choices []Choice, current string) (string, error)

// Option configures the REPL
type Option func(*REPL)

// WithIO replaces stdin and stdout
func WithIO(in io.Reader, out io.Writer) Option {
	return func(r *REPL) {
		r.in = in
		r.out = out
	}
}

// WithModelPicker replaces the interactive model picker
func WithModelPicker(p PickFunc) Option {
	return func(r *REPL) { r.pickModel = p }
}

// REPL implements the Read-Eval-Print-Loop for interactive mode
type REPL struct {
	agent     Agent
	config    *config.Config
	in        io.Reader
	out       io.Writer
	pickModel PickFunc

	// totals over the whole session
	queries    int
	modelCalls int
	usage      llm.TokenUsage
}

// New creates a new REPL with the given agent and config
func New(a Agent, cfg *config.Config, opts ...Option) *REPL {
	r := &REPL{
		agent:     a,
		config:    cfg,
		in:        os.Stdin,
		out:       os.Stdout,
		pickModel: RunModelPicker,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run starts the REPL loop.
// Prints the server's tools, then loops reading queries and answering them.
// Exits on "exit", "quit", /exit or Ctrl+D (EOF).
func (r *REPL) Run(ctx context.Context) error {
	fmt.Fprintln(r.out, "mcpbridge is ready.")
	r.printTools(ctx)
	fmt.Fprintln(r.out, "Type your queries or 'quit' to exit.")
	fmt.Fprintln(r.out)

	scanner := bufio.NewScanner(r.in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		if ctx.Err() != nil {
			return nil
		}
		fmt.Fprint(r.out, "> ")

		if !scanner.Scan() {
			fmt.Fprintln(r.out)
			break
		}

		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}

		if isQuit(input) {
			fmt.Fprintln(r.out, "Goodbye.")
			return nil
		}

		if strings.HasPrefix(input, "/") {
			if err := r.handleCommand(ctx, input); err != nil {
				if errors.Is(err, ErrExit) {
					fmt.Fprintln(r.out, "Goodbye.")
					return nil
				}
				fmt.Fprintf(r.out, "Error: %v\n", err)
			}
			fmt.Fprintln(r.out)
			continue
		}

		r.query(ctx, input)
	}

	if err := scanner.Err(); err != nil {
		return errors.Wrap(err, "error reading input")
	}
	return nil
}

// query answers one line. Ctrl+C cancels the query but not the session.
func (r *REPL) query(ctx context.Context, input string) {
	qctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	t, err := r.agent.Run(qctx, input)
	if err != nil {
		if qctx.Err() != nil && ctx.Err() == nil {
			fmt.Fprintln(r.out, "Cancelled.")
		} else {
			fmt.Fprintf(r.out, "Error: %v\n", err)
		}
		fmt.Fprintln(r.out)
		return
	}

	r.queries++
	r.modelCalls += t.ModelCalls
	r.usage = r.usage.Add(t.Usage)

	fmt.Fprintln(r.out, t.Answer)
	fmt.Fprintln(r.out)
}

func isQuit(input string) bool {
	return strings.EqualFold(input, "quit") || strings.EqualFold(input, "exit")
}

func (r *REPL) printTools(ctx context.Context) {
	defs, err := r.agent.Tools(ctx)
	if err != nil {
		fmt.Fprintf(r.out, "Error: %v\n", err)
		return
	}
	names := make([]string, len(defs))
	for i, d := range defs {
		names[i] = d.Name
	}
	fmt.Fprintf(r.out, "Connected to server with tools: %v\n", names)
}

// handleCommand processes REPL commands starting with /
func (r *REPL) handleCommand(ctx context.Context, input string) error {
	parts := strings.Fields(strings.TrimPrefix(input, "/"))
	if len(parts) == 0 {
		return nil
	}

	switch strings.ToLower(parts[0]) {
	case "model":
		return r.handleModelCommand(ctx)
	case "tools":
		return r.handleToolsCommand(ctx)
	case "usage":
		r.handleUsageCommand()
		return nil
	case "help":
		r.handleHelpCommand()
		return nil
	case "exit", "quit":
		return ErrExit
	default:
		return errors.Newf("unknown command: /%s. Type /help for available commands", parts[0])
	}
}

func (r *REPL) handleToolsCommand(ctx context.Context) error {
	defs, err := r.agent.Tools(ctx)
	if err != nil {
		return err
	}
	if len(defs) == 0 {
		fmt.Fprintln(r.out, "The server offers no tools")
		return nil
	}
	for _, d := range defs {
		fmt.Fprintf(r.out, "  %-24s %s\n", d.Name, firstLine(d.Description))
	}
	return nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// handleModelCommand shows an interactive model selector and switches models
func (r *REPL) handleModelCommand(ctx context.Context) error {
	if r.config == nil {
		return errors.New("no configuration loaded")
	}
	models := r.config.LLM.ModelNames()
	current := r.config.LLM.Current

	if len(models) == 0 {
		fmt.Fprintln(r.out, "No models configured in config.yaml")
		return nil
	}
	if len(models) == 1 {
		fmt.Fprintf(r.out, "Only one model configured: %s\n", current)
		return nil
	}

	choices := make([]Choice, len(models))
	for i, name := range models {
		mc := r.config.LLM.Available[name]
		choices[i] = Choice{Name: name, Detail: mc.Provider + "/" + mc.Model}
	}

	selected, err := r.pickModel(choices, current)
	if err != nil {
		return errors.Wrap(err, "failed to run selector")
	}
	if selected == "" {
		fmt.Fprintln(r.out, "Cancelled")
		return nil
	}
	if selected == current {
		fmt.Fprintf(r.out, "Already using %s\n", current)
		return nil
	}

	modelCfg, ok := r.config.LLM.Available[selected]
	if !ok {
		return errors.Newf("model %s not found in config", selected)
	}

	if err := r.agent.SwitchModel(ctx, modelCfg.Provider, modelCfg.Model, selected); err != nil {
		return errors.Wrap(err, "failed to switch model")
	}
	r.config.LLM.Current = selected

	fmt.Fprintf(r.out, "Switched to %s (%s/%s)\n", selected, modelCfg.Provider, modelCfg.Model)
	return nil
}

func (r *REPL) handleUsageCommand() {
	fmt.Fprintf(r.out, "Session: %d queries, %d model calls, %d tokens (%d in, %d out)\n",
		r.queries, r.modelCalls, r.usage.TotalTokens, r.usage.InputTokens, r.usage.OutputTokens)
}

func (r *REPL) handleHelpCommand() {
	fmt.Fprint(r.out, `Available commands:
  /tools    - List the server's tools
  /model    - Switch LLM model
  /usage    - Show token usage for this session
  /help     - Show this help
  /exit     - Exit mcpbridge (or type quit, or use Ctrl+D)
`)
}
