package relay

import (
	"encoding/json"
	"errors"

	"github.com/strandtools/webrelay/internal/recovery"
	"github.com/strandtools/webrelay/internal/router"
	"github.com/strandtools/webrelay/internal/workflow"
)

// JSON-RPC 2.0 message types.
type RPCMessage struct {
	Jsonrpc string          `json:"jsonrpc"`
	ID      interface{}     `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

const (
	codeParseError     = -32700
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeToolFailed     = -32000
)

func resultMessage(id interface{}, result interface{}) *RPCMessage {
	return &RPCMessage{Jsonrpc: "2.0", ID: id, Result: result}
}

func errorMessage(id interface{}, code int, message string, data interface{}) *RPCMessage {
	return &RPCMessage{
		Jsonrpc: "2.0",
		ID:      id,
		Error:   &RPCError{Code: code, Message: message, Data: data},
	}
}

// toolError maps a dispatch or broker failure onto the wire. Protocol
// mistakes (unknown tool, bad arguments) become -32602; everything else
// is a tool failure carrying structured data so the caller can decide
// whether to retry, resume, or abandon.
func toolError(id interface{}, err error) *RPCMessage {
	var derr *router.DispatchError
	if errors.As(err, &derr) {
		data := map[string]interface{}{
			"code":     string(derr.Code),
			"category": string(derr.Category),
		}
		if len(derr.Backends) > 0 {
			backends := make([]string, len(derr.Backends))
			for i, b := range derr.Backends {
				backends[i] = string(b)
			}
			data["backends"] = backends
		}
		if derr.Elapsed > 0 {
			data["elapsedMs"] = derr.Elapsed.Milliseconds()
		}
		switch derr.Code {
		case router.CodeUnknownTool, router.CodeInvalidArguments:
			return errorMessage(id, codeInvalidParams, derr.Error(), data)
		default:
			return errorMessage(id, codeToolFailed, derr.Error(), data)
		}
	}

	var aerr *router.ArgumentError
	if errors.As(err, &aerr) {
		return errorMessage(id, codeInvalidParams, aerr.Error(), map[string]interface{}{
			"code":    string(router.CodeInvalidArguments),
			"missing": aerr.Missing,
		})
	}

	data := map[string]interface{}{"code": string(router.ErrorCode(err))}
	var verr *workflow.ValidationError
	var perr *workflow.PrerequisiteError
	switch {
	case errors.As(err, &verr):
		data["code"] = "ValidationFailed"
		data["stage"] = verr.Stage
	case errors.As(err, &perr):
		data["code"] = "PrerequisiteNotMet"
		data["stage"] = perr.Stage
	case errors.Is(err, workflow.ErrUnknownWorkflow):
		data["code"] = "UnknownWorkflow"
	case errors.Is(err, workflow.ErrWorkflowComplete):
		data["code"] = "WorkflowComplete"
	case errors.Is(err, workflow.ErrWorkflowNotActive):
		data["code"] = "WorkflowNotActive"
	case errors.Is(err, workflow.ErrUnknownTemplate):
		return errorMessage(id, codeInvalidParams, err.Error(), map[string]interface{}{"code": "UnknownTemplate"})
	case errors.Is(err, recovery.ErrNoResumableStage):
		data["code"] = "NoResumableStage"
	}
	return errorMessage(id, codeToolFailed, err.Error(), data)
}

// workflowError enriches a workflow failure with the instance's current
// position so the client can choose its next move.
func workflowError(id interface{}, err error, in *workflow.Instance) *RPCMessage {
	msg := toolError(id, err)
	if in == nil || msg.Error == nil {
		return msg
	}
	data, ok := msg.Error.Data.(map[string]interface{})
	if !ok {
		return msg
	}
	data["currentStage"] = in.CurrentStage
	data["status"] = string(in.Status)
	return msg
}
