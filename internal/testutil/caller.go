package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Call is one request received by a ScriptedCaller.
type Call struct {
	Provider string
	Model    string
	Prompt   string
}

type rule struct {
	match string
	reply []string
	err   error
}

// ScriptedCaller answers gateway calls from rules matched by prompt
// substring; the first matching rule wins. Example:
//
//	c := NewScriptedCaller().
//		On("Problem:", "the model").
//		On("Solver:", "stress 10", "stress 5 converged").
//		Fail("Modeling Result:", errBoom)
//
// A rule with several replies hands them out in order and repeats the last.
// Prompts matching no rule get "echo: <prompt>".
type ScriptedCaller struct {
	mu    sync.Mutex
	rules []*rule
	used  map[*rule]int
	calls []Call
}

// NewScriptedCaller creates an empty ScriptedCaller.
func NewScriptedCaller() *ScriptedCaller {
	return &ScriptedCaller{used: map[*rule]int{}}
}

// On answers prompts containing substr (chainable).
func (c *ScriptedCaller) On(substr string, replies ...string) *ScriptedCaller {
	c.rules = append(c.rules, &rule{match: substr, reply: replies})
	return c
}

// Fail returns err for prompts containing substr (chainable).
func (c *ScriptedCaller) Fail(substr string, err error) *ScriptedCaller {
	c.rules = append(c.rules, &rule{match: substr, err: err})
	return c
}

// Call implements the gateway call surface.
func (c *ScriptedCaller) Call(ctx context.Context, provider, model, prompt string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, Call{Provider: provider, Model: model, Prompt: prompt})

	if err := ctx.Err(); err != nil {
		return "", err
	}
	for _, r := range c.rules {
		if !strings.Contains(prompt, r.match) {
			continue
		}
		if r.err != nil {
			return "", r.err
		}
		n := c.used[r]
		c.used[r] = n + 1
		if n >= len(r.reply) {
			n = len(r.reply) - 1
		}
		if n < 0 {
			return "", nil
		}
		return r.reply[n], nil
	}
	return fmt.Sprintf("echo: %s", prompt), nil
}

// Calls returns a snapshot of the received calls.
func (c *ScriptedCaller) Calls() []Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Call(nil), c.calls...)
}

// CallsWithPrefix counts calls whose prompt starts with prefix.
func (c *ScriptedCaller) CallsWithPrefix(prefix string) int {
	n := 0
	for _, call := range c.Calls() {
		if strings.HasPrefix(call.Prompt, prefix) {
			n++
		}
	}
	return n
}
