package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/strandtools/webrelay/internal/catalog"
	"github.com/strandtools/webrelay/internal/recovery"
	"github.com/strandtools/webrelay/pkg/events"
)

// Version is reported by initialize and the stdio transport.
const Version = "1.2.0"

// handleToolsList returns the session profile's visible slice of the
// catalog. Filtering is discovery-only: a hidden tool still executes
// when called directly.
func (s *Server) handleToolsList(msg *RPCMessage, session *Session) *RPCMessage {
	visible := s.profiles.VisibleTools(session.Profile, s.catalog)
	tools := make([]map[string]interface{}, 0, len(visible))
	for _, desc := range visible {
		entry := map[string]interface{}{
			"name":        desc.Name,
			"description": desc.Description,
			"category":    string(desc.Category),
		}
		if len(desc.InputSchema) > 0 {
			var schema interface{}
			if err := json.Unmarshal(desc.InputSchema, &schema); err == nil {
				entry["inputSchema"] = schema
			}
		}
		tools = append(tools, entry)
	}
	return resultMessage(msg.ID, map[string]interface{}{
		"tools":   tools,
		"profile": session.Profile,
	})
}

func (s *Server) handleToolsCall(ctx context.Context, msg *RPCMessage, session *Session) *RPCMessage {
	var params struct {
		Name      string                 `json:"name"`
		Arguments map[string]interface{} `json:"arguments"`
	}
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return errorMessage(msg.ID, codeInvalidParams, "Invalid params", err.Error())
	}
	if params.Arguments == nil {
		params.Arguments = map[string]interface{}{}
	}

	desc, ok := s.catalog.Get(params.Name)
	if !ok {
		return errorMessage(msg.ID, codeInvalidParams, "Tool not found",
			fmt.Sprintf("tool %q is not in the catalog", params.Name))
	}

	// Workflow, recovery, and telemetry tools are served by the broker
	// itself; everything else goes through the router to a backend.
	if !desc.Category.IsBridged() {
		if rpcErr := checkRequired(msg.ID, desc, params.Arguments); rpcErr != nil {
			return rpcErr
		}
		return s.callBrokerTool(msg.ID, params.Name, params.Arguments)
	}

	resp, err := s.dispatcher.Dispatch(ctx, session.ID, params.Name, params.Arguments)
	if err != nil {
		return toolError(msg.ID, err)
	}
	return resultMessage(msg.ID, map[string]interface{}{
		"content":   resp.Content,
		"backend":   string(resp.Backend),
		"elapsedMs": resp.Elapsed.Milliseconds(),
	})
}

func checkRequired(id interface{}, desc catalog.ToolDescriptor, args map[string]interface{}) *RPCMessage {
	var missing []string
	for _, key := range desc.Required {
		v, ok := args[key]
		if !ok || v == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return errorMessage(id, codeInvalidParams,
		fmt.Sprintf("tool %q missing required arguments: %s", desc.Name, strings.Join(missing, ", ")),
		map[string]interface{}{"missing": missing})
}

// handleBrokerMethod exposes the broker tools as first-class JSON-RPC
// methods ("workflow/transition" etc) sharing the tool implementations.
func (s *Server) handleBrokerMethod(msg *RPCMessage) *RPCMessage {
	tool := strings.Replace(msg.Method, "/", "_", 1)
	var args map[string]interface{}
	if len(msg.Params) > 0 {
		if err := json.Unmarshal(msg.Params, &args); err != nil {
			return errorMessage(msg.ID, codeInvalidParams, "Invalid params", err.Error())
		}
	}
	if args == nil {
		args = map[string]interface{}{}
	}
	if desc, ok := s.catalog.Get(tool); ok {
		if rpcErr := checkRequired(msg.ID, desc, args); rpcErr != nil {
			return rpcErr
		}
	}
	return s.callBrokerTool(msg.ID, tool, args)
}

func (s *Server) callBrokerTool(id interface{}, tool string, args map[string]interface{}) *RPCMessage {
	switch tool {
	case "workflow_initialize":
		in, err := s.coordinator.Initialize(stringArg(args, "ticketId"), stringArg(args, "template"))
		if err != nil {
			return toolError(id, err)
		}
		return resultMessage(id, in)

	case "workflow_transition":
		in, err := s.coordinator.Transition(stringArg(args, "workflowId"), stringMapArg(args, "artifacts"))
		if err != nil {
			return workflowError(id, err, in)
		}
		return resultMessage(id, in)

	case "workflow_fail":
		in, err := s.coordinator.Fail(stringArg(args, "workflowId"), stringArg(args, "reason"))
		if err != nil {
			return workflowError(id, err, in)
		}
		return resultMessage(id, in)

	case "workflow_summary":
		sum, err := s.coordinator.Summary(stringArg(args, "workflowId"))
		if err != nil {
			return toolError(id, err)
		}
		return resultMessage(id, sum)

	case "recovery_analyze":
		analysis := s.recovery.Analyze(stringArg(args, "error"))
		result := map[string]interface{}{
			"type":    analysis.Type,
			"matched": analysis.Strategy != nil,
		}
		if analysis.Strategy != nil {
			result["autoRecover"] = analysis.Strategy.AutoRecover
			result["maxRetries"] = analysis.Strategy.MaxRetries
		}
		return resultMessage(id, result)

	case "recovery_attempt":
		ctx := &recovery.Context{RetryCount: intArg(args, "retryCount")}
		out, err := s.recovery.Attempt(stringArg(args, "workflowId"), stringArg(args, "error"), ctx)
		if err != nil {
			return toolError(id, err)
		}
		return resultMessage(id, out)

	case "recovery_resume":
		in, err := s.recovery.Resume(stringArg(args, "workflowId"))
		if err != nil {
			return toolError(id, err)
		}
		return resultMessage(id, in)

	case "events_get":
		q, rpcErr := eventQueryFromArgs(id, args)
		if rpcErr != nil {
			return rpcErr
		}
		return resultMessage(id, s.bus.Get(q))

	case "events_clear":
		return s.handleEventsClear(&RPCMessage{ID: id, Params: mustMarshal(args)})

	case "events_stats":
		return resultMessage(id, s.bus.Stats())

	default:
		return errorMessage(id, codeMethodNotFound, "Method not found", tool)
	}
}

func eventQueryFromArgs(id interface{}, args map[string]interface{}) (events.Query, *RPCMessage) {
	msg := &RPCMessage{ID: id, Params: mustMarshal(args)}
	return parseEventQuery(msg)
}

func stringArg(args map[string]interface{}, key string) string {
	v, _ := args[key].(string)
	return v
}

func intArg(args map[string]interface{}, key string) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

func stringMapArg(args map[string]interface{}, key string) map[string]string {
	raw, ok := args[key].(map[string]interface{})
	if !ok {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}

func mustMarshal(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("{}")
	}
	return data
}
