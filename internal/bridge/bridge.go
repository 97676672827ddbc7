package bridge

import (
	"context"
	"fmt"
	"time"

	"github.com/strandtools/webrelay/internal/catalog"
	"github.com/strandtools/webrelay/pkg/events"
)

// BackendID identifies one concrete automation engine.
type BackendID string

const (
	BackendPlaywright BackendID = "playwright"
	BackendDevTools   BackendID = "devtools"
)

// ParseBackendID validates a configured backend name.
func ParseBackendID(s string) (BackendID, error) {
	switch BackendID(s) {
	case BackendPlaywright, BackendDevTools:
		return BackendID(s), nil
	default:
		return "", fmt.Errorf("unknown backend %q", s)
	}
}

// Result is a successful bridge call outcome. Events carries side-channel
// telemetry observed during the call; the router forwards it to the bus.
type Result struct {
	Content map[string]interface{}
	Events  []events.Event
}

// Bridge is an abstract capability provider for one automation engine.
// Concrete engines live outside this repository; the broker only depends
// on this contract.
type Bridge interface {
	ID() BackendID

	// Supports reports whether the backend implements the category's
	// operation surface.
	Supports(category catalog.Category) bool

	// Call executes one tool operation. Implementations must honor ctx
	// cancellation and return a *Failure for backend-side errors.
	Call(ctx context.Context, tool string, args map[string]interface{}) (*Result, error)
}

// Failure is a backend-side error with enough context for routing and
// caller decisions.
type Failure struct {
	Backend BackendID
	Tool    string
	Reason  string
	Elapsed time.Duration
	Timeout bool
}

func (f *Failure) Error() string {
	if f.Timeout {
		return fmt.Sprintf("backend %s timed out after %s calling %s", f.Backend, f.Elapsed, f.Tool)
	}
	return fmt.Sprintf("backend %s failed calling %s: %s", f.Backend, f.Tool, f.Reason)
}

// NewFailure builds a non-timeout failure.
func NewFailure(backend BackendID, tool, reason string, elapsed time.Duration) *Failure {
	return &Failure{Backend: backend, Tool: tool, Reason: reason, Elapsed: elapsed}
}

// NewTimeout builds a timeout failure.
func NewTimeout(backend BackendID, tool string, elapsed time.Duration) *Failure {
	return &Failure{Backend: backend, Tool: tool, Reason: "timeout", Elapsed: elapsed, Timeout: true}
}
