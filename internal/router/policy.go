package router

import (
	"github.com/strandtools/webrelay/internal/bridge"
	"github.com/strandtools/webrelay/internal/catalog"
)

// Rule selects backends for one category. Static, loaded at startup;
// never mutated by individual calls.
type Rule struct {
	Primary       bridge.BackendID
	Fallback      bridge.BackendID
	AllowFallback bool
}

// Policy is the per-category routing table. Read-only after startup.
type Policy map[catalog.Category]Rule

// DefaultPolicy routes page-manipulation categories to the Playwright
// engine and protocol-level telemetry categories to the DevTools engine,
// each falling back to the other.
func DefaultPolicy() Policy {
	pwPrimary := Rule{Primary: bridge.BackendPlaywright, Fallback: bridge.BackendDevTools, AllowFallback: true}
	dtPrimary := Rule{Primary: bridge.BackendDevTools, Fallback: bridge.BackendPlaywright, AllowFallback: true}
	return Policy{
		catalog.CategoryNavigation:  pwPrimary,
		catalog.CategoryInteraction: pwPrimary,
		catalog.CategoryCapture:     pwPrimary,
		catalog.CategorySession:     pwPrimary,
		catalog.CategoryDialog:      pwPrimary,
		catalog.CategoryEvaluation:  dtPrimary,
		catalog.CategoryNetwork:     dtPrimary,
		catalog.CategoryConsole:     dtPrimary,
	}
}

// Override replaces the rule for one category. Intended for startup
// configuration only.
func (p Policy) Override(category catalog.Category, rule Rule) {
	p[category] = rule
}
