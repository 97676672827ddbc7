package router

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/strandtools/webrelay/internal/bridge"
	"github.com/strandtools/webrelay/internal/catalog"
)

// Code is a stable, machine-readable dispatch error code.
type Code string

const (
	CodeUnknownTool      Code = "UnknownTool"
	CodeInvalidArguments Code = "InvalidArguments"
	CodeBackendTimeout   Code = "BackendTimeout"
	CodeBackendError     Code = "BackendError"
	CodeNotBridged       Code = "NotBridged"
	CodeSessionAborted   Code = "SessionAborted"
)

// DispatchError is the structured failure surfaced by Dispatch. Backends
// lists every backend attempted, in order.
type DispatchError struct {
	Code     Code
	Message  string
	Tool     string
	Category catalog.Category
	Backends []bridge.BackendID
	Elapsed  time.Duration
}

func (e *DispatchError) Error() string {
	if len(e.Backends) > 0 {
		names := make([]string, len(e.Backends))
		for i, b := range e.Backends {
			names[i] = string(b)
		}
		return fmt.Sprintf("%s: %s (backends: %s)", e.Code, e.Message, strings.Join(names, ", "))
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ArgumentError reports schema-required parameters that are missing or
// malformed. Never retried.
type ArgumentError struct {
	Tool    string
	Missing []string
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("InvalidArguments: tool %s missing required arguments: %s",
		e.Tool, strings.Join(e.Missing, ", "))
}

// ErrSessionAborted is returned for calls issued after a session abort.
var ErrSessionAborted = errors.New("session aborted")

// ErrorCode extracts the stable code from any dispatch failure.
func ErrorCode(err error) Code {
	var de *DispatchError
	if errors.As(err, &de) {
		return de.Code
	}
	var ae *ArgumentError
	if errors.As(err, &ae) {
		return CodeInvalidArguments
	}
	if errors.Is(err, ErrSessionAborted) {
		return CodeSessionAborted
	}
	return CodeBackendError
}
