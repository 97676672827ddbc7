package catalog

import "fmt"

// Category is the closed set of tool groupings used for routing and
// profile filtering. Categories are compile-time constants rather than
// free-form strings so a typo cannot silently create a new bucket.
type Category string

const (
	CategoryNavigation  Category = "navigation"
	CategoryInteraction Category = "interaction"
	CategoryCapture     Category = "capture"
	CategoryEvaluation  Category = "evaluation"
	CategoryNetwork     Category = "network"
	CategoryConsole     Category = "console"
	CategoryDialog      Category = "dialog"
	CategorySession     Category = "session"
	CategoryWorkflow    Category = "workflow"
	CategoryRecovery    Category = "recovery"
	CategoryTelemetry   Category = "telemetry"
)

// Categories returns every category in stable order.
func Categories() []Category {
	return []Category{
		CategoryNavigation,
		CategoryInteraction,
		CategoryCapture,
		CategoryEvaluation,
		CategoryNetwork,
		CategoryConsole,
		CategoryDialog,
		CategorySession,
		CategoryWorkflow,
		CategoryRecovery,
		CategoryTelemetry,
	}
}

// ParseCategory validates a user-supplied category name.
func ParseCategory(s string) (Category, error) {
	for _, c := range Categories() {
		if string(c) == s {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown tool category %q", s)
}

// IsBridged reports whether tools in this category are dispatched to a
// browser backend. The workflow, recovery and telemetry categories are
// served by the broker itself.
func (c Category) IsBridged() bool {
	switch c {
	case CategoryWorkflow, CategoryRecovery, CategoryTelemetry:
		return false
	default:
		return true
	}
}

// IsInteraction reports whether tools in this category mutate page state
// and therefore must be serialized per session. Read-only categories may
// run concurrently behind any in-flight interaction.
func (c Category) IsInteraction() bool {
	switch c {
	case CategoryNavigation, CategoryInteraction, CategoryDialog, CategorySession:
		return true
	default:
		return false
	}
}

// Affinity is a backend-affinity hint carried by a tool descriptor. An
// empty affinity means the routing policy alone decides.
type Affinity string

const (
	AffinityNone       Affinity = ""
	AffinityPlaywright Affinity = "playwright"
	AffinityDevTools   Affinity = "devtools"
)
