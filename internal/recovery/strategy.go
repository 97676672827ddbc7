package recovery

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/strandtools/webrelay/internal/workflow"
)

// Error types assigned by Analyze. UNKNOWN means no strategy pattern
// matched the message.
const (
	TypeNavigationTimeout   = "NAVIGATION_TIMEOUT"
	TypeElementNotFound     = "ELEMENT_NOT_FOUND"
	TypeArtifactMissing     = "ARTIFACT_MISSING"
	TypeBackendDisconnected = "BACKEND_DISCONNECTED"
	TypeValidationRejected  = "VALIDATION_REJECTED"
	TypePermissionDenied    = "PERMISSION_DENIED"
	TypeUnknown             = "UNKNOWN"
)

// Attempt statuses recorded in outcomes and the recovery log.
const (
	StatusRecovered      = "RECOVERED"
	StatusRetry          = "RETRY"
	StatusFailed         = "FAILED"
	StatusNoStrategy     = "NO_STRATEGY"
	StatusManualRequired = "MANUAL_REQUIRED"
)

// Context carries per-attempt state supplied by the caller. RetryCount
// is the caller's running tally for this failure; handlers compare it
// against their strategy's MaxRetries rather than keeping state of
// their own.
type Context struct {
	RetryCount     int
	Timeout        time.Duration
	AlternatePaths []string
}

// Outcome is the structured result of a recovery attempt.
type Outcome struct {
	Success   bool   `json:"success"`
	Status    string `json:"status"`
	Detail    string `json:"detail,omitempty"`
	Retry     bool   `json:"retry,omitempty"`
	TimeoutMs int64  `json:"timeoutMs,omitempty"`
}

// Handler remediates one failure class. It may mutate the instance's
// artifact map; the manager persists the change when the outcome
// succeeds.
type Handler func(in *workflow.Instance, ctx *Context) (*Outcome, error)

// Strategy binds an error pattern to a remediation. Strategies are
// evaluated in declaration order and the first matching pattern wins.
type Strategy struct {
	Type        string
	Pattern     *regexp.Regexp
	AutoRecover bool
	MaxRetries  int
	Handler     Handler
}

// Analysis is the classification result for one error message.
type Analysis struct {
	Type     string    `json:"type"`
	Strategy *Strategy `json:"-"`
}

const defaultNavigationTimeout = 30 * time.Second

// builtinStrategies returns the ordered strategy table. Order matters:
// the navigation-timeout pattern must be tried before the generic
// element-not-found one because Playwright timeout messages mention
// selectors too.
func builtinStrategies() []Strategy {
	return []Strategy{
		{
			Type:        TypeNavigationTimeout,
			Pattern:     regexp.MustCompile(`(?i)navigation timeout|timeout of \d+ ?ms exceeded|net::ERR_TIMED_OUT`),
			AutoRecover: true,
			MaxRetries:  2,
			Handler:     handleNavigationTimeout,
		},
		{
			Type:        TypeElementNotFound,
			Pattern:     regexp.MustCompile(`(?i)element not found|no element matches|waiting for selector|failed to find element`),
			AutoRecover: true,
			MaxRetries:  3,
			Handler:     handleElementNotFound,
		},
		{
			Type:        TypeArtifactMissing,
			Pattern:     regexp.MustCompile(`(?i)no such file|artifact .* (missing|not found)|file not found`),
			AutoRecover: true,
			MaxRetries:  1,
			Handler:     handleArtifactMissing,
		},
		{
			Type:        TypeBackendDisconnected,
			Pattern:     regexp.MustCompile(`(?i)connection (lost|refused|reset|closed)|target closed|browser has been closed|websocket.*closed|backend disconnected`),
			AutoRecover: true,
			MaxRetries:  1,
			Handler:     handleBackendDisconnected,
		},
		{
			Type:        TypeValidationRejected,
			Pattern:     regexp.MustCompile(`(?i)ValidationFailed|validator rejected|validation failed`),
			AutoRecover: false,
		},
		{
			Type:        TypePermissionDenied,
			Pattern:     regexp.MustCompile(`(?i)permission denied|unauthorized|forbidden|access denied`),
			AutoRecover: false,
		},
	}
}

// handleNavigationTimeout succeeds immediately and hands the caller a
// doubled timeout to retry with.
func handleNavigationTimeout(_ *workflow.Instance, ctx *Context) (*Outcome, error) {
	base := ctx.Timeout
	if base <= 0 {
		base = defaultNavigationTimeout
	}
	increased := base * 2
	return &Outcome{
		Success:   true,
		Status:    StatusRecovered,
		Detail:    fmt.Sprintf("retry navigation with timeout %s", increased),
		Retry:     true,
		TimeoutMs: increased.Milliseconds(),
	}, nil
}

// handleElementNotFound requests a bounded retry. The strategy's
// MaxRetries cap is enforced here against the caller's retry count.
func handleElementNotFound(_ *workflow.Instance, ctx *Context) (*Outcome, error) {
	const maxRetries = 3
	if ctx.RetryCount >= maxRetries {
		return &Outcome{
			Success: false,
			Status:  StatusFailed,
			Detail:  fmt.Sprintf("element still missing after %d retries", ctx.RetryCount),
		}, nil
	}
	return &Outcome{
		Success: true,
		Status:  StatusRetry,
		Detail:  fmt.Sprintf("retry %d of %d after settle delay", ctx.RetryCount+1, maxRetries),
		Retry:   true,
	}, nil
}

// handleArtifactMissing probes the context's alternate directories for
// each artifact whose recorded path no longer exists, rewriting the
// instance's artifact map in place when a file turns up.
func handleArtifactMissing(in *workflow.Instance, ctx *Context) (*Outcome, error) {
	if in == nil {
		return &Outcome{Success: false, Status: StatusFailed, Detail: "no workflow attached"}, nil
	}
	recovered := 0
	missing := 0
	for key, path := range in.Artifacts {
		if _, err := os.Stat(path); err == nil {
			continue
		}
		missing++
		for _, dir := range ctx.AlternatePaths {
			candidate := filepath.Join(dir, filepath.Base(path))
			if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
				in.Artifacts[key] = candidate
				recovered++
				break
			}
		}
	}
	switch {
	case missing == 0:
		return &Outcome{Success: true, Status: StatusRecovered, Detail: "all artifacts present"}, nil
	case recovered == missing:
		return &Outcome{
			Success: true,
			Status:  StatusRecovered,
			Detail:  fmt.Sprintf("relocated %d artifact(s) via alternate paths", recovered),
		}, nil
	default:
		return &Outcome{
			Success: false,
			Status:  StatusFailed,
			Detail:  fmt.Sprintf("%d of %d missing artifact(s) not found in alternate paths", missing-recovered, missing),
		}, nil
	}
}

// handleBackendDisconnected signals the caller to reconnect the backend
// and resume the workflow from its last completed stage.
func handleBackendDisconnected(_ *workflow.Instance, _ *Context) (*Outcome, error) {
	return &Outcome{
		Success: true,
		Status:  StatusRecovered,
		Detail:  "reconnect backend, then resume workflow",
		Retry:   true,
	}, nil
}
