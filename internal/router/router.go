package router

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/strandtools/webrelay/internal/bridge"
	"github.com/strandtools/webrelay/internal/catalog"
	"github.com/strandtools/webrelay/pkg/events"
)

// DefaultCallTimeout bounds one backend call. Distinct from, and nested
// within, a workflow stage's own timeout.
const DefaultCallTimeout = 30 * time.Second

// Response is a successful dispatch outcome.
type Response struct {
	Content map[string]interface{} `json:"content"`
	Backend bridge.BackendID       `json:"backend"`
	Elapsed time.Duration          `json:"elapsedMs"`
}

// Router resolves tool names to categories, selects a backend per the
// routing policy, and dispatches with one fallback retry when policy
// allows. Every call's outcome lands on the event bus.
type Router struct {
	catalog  *catalog.Catalog
	bridges  map[bridge.BackendID]bridge.Bridge
	policy   Policy
	bus      *events.Bus
	timeout  time.Duration
	sessions *sessionTable
	logger   *zap.Logger
}

// New builds a router over the given bridges. A zero timeout selects
// DefaultCallTimeout.
func New(cat *catalog.Catalog, bridges []bridge.Bridge, policy Policy, bus *events.Bus, timeout time.Duration, logger *zap.Logger) *Router {
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	byID := make(map[bridge.BackendID]bridge.Bridge, len(bridges))
	for _, b := range bridges {
		byID[b.ID()] = b
	}
	return &Router{
		catalog:  cat,
		bridges:  byID,
		policy:   policy,
		bus:      bus,
		timeout:  timeout,
		sessions: newSessionTable(),
		logger:   logger.Named("router"),
	}
}

// Dispatch routes one tool invocation for a session.
func (r *Router) Dispatch(ctx context.Context, sessionID, tool string, args map[string]interface{}) (*Response, error) {
	desc, ok := r.catalog.Get(tool)
	if !ok {
		return nil, &DispatchError{
			Code:    CodeUnknownTool,
			Message: fmt.Sprintf("tool %q is not in the catalog", tool),
			Tool:    tool,
		}
	}

	if missing := missingArgs(desc, args); len(missing) > 0 {
		// Schema violations are never retried.
		return nil, &ArgumentError{Tool: tool, Missing: missing}
	}

	if !desc.Category.IsBridged() {
		return nil, &DispatchError{
			Code:     CodeNotBridged,
			Message:  fmt.Sprintf("tool %q is served by the broker, not a backend", tool),
			Tool:     tool,
			Category: desc.Category,
		}
	}

	st := r.sessions.get(sessionID)
	if st.isAborted() {
		return nil, ErrSessionAborted
	}

	if desc.Category.IsInteraction() {
		st.callMu.Lock()
		defer st.callMu.Unlock()
	} else {
		st.callMu.RLock()
		defer st.callMu.RUnlock()
	}

	// Abandoned while queued.
	if st.isAborted() {
		return nil, ErrSessionAborted
	}

	order := r.backendOrder(st, desc)
	if len(order) == 0 {
		return nil, &DispatchError{
			Code:     CodeBackendError,
			Message:  fmt.Sprintf("no backend available for category %s", desc.Category),
			Tool:     tool,
			Category: desc.Category,
		}
	}

	var attempted []bridge.BackendID
	var lastErr error
	var elapsed time.Duration
	for _, id := range order {
		b := r.bridges[id]
		attempted = append(attempted, id)

		start := time.Now()
		res, err := r.call(ctx, b, tool, args)
		elapsed = time.Since(start)

		if err == nil {
			st.recordBackend(desc.Category, id)
			r.emitOutcome(sessionID, desc, id, elapsed, "", res)
			r.forwardTelemetry(res)
			return &Response{Content: res.Content, Backend: id, Elapsed: elapsed}, nil
		}

		lastErr = err
		r.logger.Warn("backend call failed",
			zap.String("tool", tool),
			zap.String("backend", string(id)),
			zap.Duration("elapsed", elapsed),
			zap.Error(err))
	}

	code := CodeBackendError
	var bf *bridge.Failure
	if errors.As(lastErr, &bf) && bf.Timeout {
		code = CodeBackendTimeout
	}
	derr := &DispatchError{
		Code:     code,
		Message:  lastErr.Error(),
		Tool:     tool,
		Category: desc.Category,
		Backends: attempted,
		Elapsed:  elapsed,
	}
	r.emitOutcome(sessionID, desc, attempted[len(attempted)-1], elapsed, derr.Error(), nil)
	return nil, derr
}

// call runs one backend attempt under the per-call timeout.
func (r *Router) call(ctx context.Context, b bridge.Bridge, tool string, args map[string]interface{}) (*bridge.Result, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	res, err := b.Call(callCtx, tool, args)
	if err != nil {
		if callCtx.Err() == context.DeadlineExceeded {
			return nil, bridge.NewTimeout(b.ID(), tool, time.Since(start))
		}
		return nil, err
	}
	return res, nil
}

// backendOrder resolves the attempt order for a descriptor: the session's
// previously used backend for the category wins for consistency, then the
// descriptor's affinity hint, then the static rule. The fallback is
// appended when policy allows and the backend supports the category.
func (r *Router) backendOrder(st *sessionState, desc catalog.ToolDescriptor) []bridge.BackendID {
	rule := r.policy[desc.Category]

	primary := rule.Primary
	if id, ok := st.sticky(desc.Category); ok && r.supports(id, desc.Category) {
		primary = id
	} else if desc.Affinity != catalog.AffinityNone && r.supports(bridge.BackendID(desc.Affinity), desc.Category) {
		primary = bridge.BackendID(desc.Affinity)
	}

	var order []bridge.BackendID
	if r.supports(primary, desc.Category) {
		order = append(order, primary)
	}
	if rule.AllowFallback {
		for _, candidate := range []bridge.BackendID{rule.Fallback, rule.Primary} {
			if candidate != "" && candidate != primary && r.supports(candidate, desc.Category) {
				order = append(order, candidate)
				break
			}
		}
	}
	return order
}

func (r *Router) supports(id bridge.BackendID, category catalog.Category) bool {
	b, ok := r.bridges[id]
	return ok && b.Supports(category)
}

// AbortSession abandons any queued calls for the session and records a
// terminal lifecycle event. In-flight results are discarded by the caller.
// Sessions that never dispatched a call are unknown and return false.
func (r *Router) AbortSession(sessionID string) bool {
	st, ok := r.sessions.lookup(sessionID)
	if !ok {
		return false
	}
	if !st.abort() {
		return false
	}
	r.bus.Push(events.CategoryLifecycle, "session.abort", sessionID, map[string]interface{}{
		"sessionId": sessionID,
	})
	r.logger.Info("session aborted", zap.String("session", sessionID))
	return true
}

// ReleaseSession forgets a session's routing state.
func (r *Router) ReleaseSession(sessionID string) {
	r.sessions.remove(sessionID)
}

func (r *Router) emitOutcome(sessionID string, desc catalog.ToolDescriptor, backend bridge.BackendID, elapsed time.Duration, errText string, res *bridge.Result) {
	payload := map[string]interface{}{
		"tool":      desc.Name,
		"category":  string(desc.Category),
		"backend":   string(backend),
		"elapsedMs": elapsed.Milliseconds(),
		"sessionId": sessionID,
	}
	eventType := "call.ok"
	if errText != "" {
		payload["error"] = errText
		eventType = "call.error"
	} else if res != nil && res.Content != nil {
		if u, ok := res.Content["url"].(string); ok {
			payload["url"] = u
		}
	}
	r.bus.Push(busCategory(desc.Category), eventType, "router", payload)
}

// forwardTelemetry pushes bridge side-channel events into the bus under
// their own categories.
func (r *Router) forwardTelemetry(res *bridge.Result) {
	for _, ev := range res.Events {
		r.bus.Push(ev.Category, ev.Type, ev.Source, ev.Payload)
	}
}

// busCategory maps a tool category onto a telemetry bucket. Payload
// shapes for network and console calls match their buckets; the rest is
// custom traffic.
func busCategory(c catalog.Category) events.Category {
	switch c {
	case catalog.CategoryNetwork:
		return events.CategoryNetwork
	case catalog.CategoryConsole:
		return events.CategoryConsole
	default:
		return events.CategoryCustom
	}
}

func missingArgs(desc catalog.ToolDescriptor, args map[string]interface{}) []string {
	var missing []string
	for _, name := range desc.Required {
		v, ok := args[name]
		if !ok || v == nil {
			missing = append(missing, name)
			continue
		}
		if s, isString := v.(string); isString && s == "" {
			missing = append(missing, name)
		}
	}
	return missing
}
