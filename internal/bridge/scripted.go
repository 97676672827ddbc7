package bridge

import (
	"context"
	"sync"
	"time"

	"github.com/strandtools/webrelay/internal/catalog"
)

// ScriptedBridge is an in-memory Bridge whose responses are scripted per
// tool. Router and relay tests use it in place of a real engine.
type ScriptedBridge struct {
	Backend    BackendID
	Categories map[catalog.Category]bool

	mu       sync.Mutex
	results  map[string]*Result
	failures map[string]error
	delays   map[string]time.Duration
	calls    []string
}

// NewScriptedBridge creates a bridge that supports every bridged category
// until narrowed with Limit.
func NewScriptedBridge(id BackendID) *ScriptedBridge {
	cats := make(map[catalog.Category]bool)
	for _, c := range catalog.Categories() {
		if c.IsBridged() {
			cats[c] = true
		}
	}
	return &ScriptedBridge{
		Backend:    id,
		Categories: cats,
		results:    make(map[string]*Result),
		failures:   make(map[string]error),
		delays:     make(map[string]time.Duration),
	}
}

// Limit narrows the supported categories.
func (b *ScriptedBridge) Limit(cats ...catalog.Category) *ScriptedBridge {
	b.Categories = make(map[catalog.Category]bool, len(cats))
	for _, c := range cats {
		b.Categories[c] = true
	}
	return b
}

// Script sets the result returned for a tool.
func (b *ScriptedBridge) Script(tool string, result *Result) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.results[tool] = result
	delete(b.failures, tool)
}

// Fail sets the error returned for a tool.
func (b *ScriptedBridge) Fail(tool string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures[tool] = err
}

// Delay makes a tool call block for d before responding (or until the
// context is cancelled).
func (b *ScriptedBridge) Delay(tool string, d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.delays[tool] = d
}

// Calls returns the tools invoked so far, in order.
func (b *ScriptedBridge) Calls() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.calls))
	copy(out, b.calls)
	return out
}

func (b *ScriptedBridge) ID() BackendID { return b.Backend }

func (b *ScriptedBridge) Supports(category catalog.Category) bool {
	return b.Categories[category]
}

func (b *ScriptedBridge) Call(ctx context.Context, tool string, args map[string]interface{}) (*Result, error) {
	b.mu.Lock()
	b.calls = append(b.calls, tool)
	delay := b.delays[tool]
	failure := b.failures[tool]
	result := b.results[tool]
	b.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, NewTimeout(b.Backend, tool, delay)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, NewTimeout(b.Backend, tool, 0)
	}
	if failure != nil {
		return nil, failure
	}
	if result != nil {
		return result, nil
	}
	return &Result{Content: map[string]interface{}{"ok": true, "tool": tool}}, nil
}
