package useragent

import (
	"github.com/cockroachdb/errors"
	"github.com/jaimegago/mcpbridge/internal/llm"
)

// ErrTurnOrder is returned when an append would break the pairing between an
// assistant turn's tool calls and the tool-result turns that answer them
var ErrTurnOrder = errors.New("conversation turn out of order")

// Conversation is the ordered, append-only turn log of one query. Turns are
// only handed out as copies.
type Conversation struct {
	turns      []llm.Message
	usage      llm.TokenUsage
	modelCalls int
}

// NewConversation creates an empty conversation
func NewConversation() *Conversation {
	return &Conversation{turns: make([]llm.Message, 0, 4)}
}

// AppendUser adds a user turn
func (c *Conversation) AppendUser(text string) error {
	if err := c.checkNoPendingCalls(); err != nil {
		return err
	}
	c.turns = append(c.turns, llm.Message{Role: llm.RoleUser, Content: text})
	return nil
}

// AppendAssistant adds an assistant turn. Calls keep the model's order and IDs.
func (c *Conversation) AppendAssistant(content string, calls []llm.ToolCall) error {
	if err := c.checkNoPendingCalls(); err != nil {
		return err
	}
	c.turns = append(c.turns, llm.Message{
		Role:      llm.RoleAssistant,
		Content:   content,
		ToolCalls: cloneCalls(calls),
	})
	return nil
}

// AppendToolResults adds the answers to the last assistant turn's calls. The
// batch must hold exactly one tool-result turn per call, in call order.
func (c *Conversation) AppendToolResults(results []llm.Message) error {
	last, ok := c.Last()
	if !ok || last.Role != llm.RoleAssistant || len(last.ToolCalls) == 0 {
		return errors.Mark(errors.New("tool results must follow an assistant turn with tool calls"), ErrTurnOrder)
	}
	if len(results) != len(last.ToolCalls) {
		return errors.Mark(errors.Newf("got %d tool results for %d tool calls", len(results), len(last.ToolCalls)), ErrTurnOrder)
	}
	for i, r := range results {
		if r.Role != llm.RoleTool {
			return errors.Mark(errors.Newf("result %d has role %q", i, r.Role), ErrTurnOrder)
		}
		if r.ToolCallID != last.ToolCalls[i].ID {
			return errors.Mark(errors.Newf("result %d answers call %q, expected %q", i, r.ToolCallID, last.ToolCalls[i].ID), ErrTurnOrder)
		}
	}

	for _, r := range results {
		r.ToolCalls = nil
		c.turns = append(c.turns, r)
	}
	return nil
}

func (c *Conversation) checkNoPendingCalls() error {
	if last, ok := c.Last(); ok && last.Role == llm.RoleAssistant && len(last.ToolCalls) > 0 {
		return errors.Mark(errors.Newf("%d tool calls are still unanswered", len(last.ToolCalls)), ErrTurnOrder)
	}
	return nil
}

// Turns returns a copy of every turn in order
func (c *Conversation) Turns() []llm.Message {
	out := make([]llm.Message, len(c.turns))
	for i, t := range c.turns {
		t.ToolCalls = cloneCalls(t.ToolCalls)
		out[i] = t
	}
	return out
}

// Len returns the number of turns
func (c *Conversation) Len() int {
	return len(c.turns)
}

// Last returns a copy of the most recent turn
func (c *Conversation) Last() (llm.Message, bool) {
	if len(c.turns) == 0 {
		return llm.Message{}, false
	}
	t := c.turns[len(c.turns)-1]
	t.ToolCalls = cloneCalls(t.ToolCalls)
	return t, true
}

// RecordUsage adds the token usage of one model call
func (c *Conversation) RecordUsage(u llm.TokenUsage) {
	c.usage = c.usage.Add(u)
	c.modelCalls++
}

// Usage returns the tokens spent so far
func (c *Conversation) Usage() llm.TokenUsage {
	return c.usage
}

// ModelCalls returns the number of model calls made so far
func (c *Conversation) ModelCalls() int {
	return c.modelCalls
}

func cloneCalls(calls []llm.ToolCall) []llm.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]llm.ToolCall, len(calls))
	copy(out, calls)
	return out
}
