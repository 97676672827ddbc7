package catalog

import "encoding/json"

// Default builds the static tool catalog. Called once at process start.
func Default() *Catalog {
	c, err := New(defaultTools())
	if err != nil {
		// Duplicate names in the static table are a programming error.
		panic(err)
	}
	return c
}

func objSchema(s string) json.RawMessage {
	return json.RawMessage(s)
}

func defaultTools() []ToolDescriptor {
	return []ToolDescriptor{
		// Navigation
		{
			Name:        "browser_navigate",
			Description: "Navigate the session's page to a URL and wait for the load event.",
			Category:    CategoryNavigation,
			InputSchema: objSchema(`{
				"type": "object",
				"properties": {
					"url": {"type": "string", "description": "Absolute URL to open"},
					"waitUntil": {"type": "string", "enum": ["load", "domcontentloaded", "networkidle"]}
				},
				"required": ["url"]
			}`),
			Required: []string{"url"},
		},
		{
			Name:        "browser_reload",
			Description: "Reload the current page.",
			Category:    CategoryNavigation,
			InputSchema: objSchema(`{"type": "object", "properties": {}}`),
		},
		{
			Name:        "browser_back",
			Description: "Go back one entry in the session history.",
			Category:    CategoryNavigation,
			InputSchema: objSchema(`{"type": "object", "properties": {}}`),
		},
		{
			Name:        "browser_wait_for",
			Description: "Wait until a selector is visible, hidden, or attached.",
			Category:    CategoryNavigation,
			InputSchema: objSchema(`{
				"type": "object",
				"properties": {
					"selector": {"type": "string"},
					"state": {"type": "string", "enum": ["visible", "hidden", "attached"]},
					"timeoutMs": {"type": "integer"}
				},
				"required": ["selector"]
			}`),
			Required: []string{"selector"},
		},

		// Interaction
		{
			Name:        "browser_click",
			Description: "Click the element identified by a ref or selector.",
			Category:    CategoryInteraction,
			InputSchema: objSchema(`{
				"type": "object",
				"properties": {
					"ref": {"type": "string", "description": "Element ref from a prior snapshot, or a CSS selector"},
					"button": {"type": "string", "enum": ["left", "middle", "right"]},
					"clickCount": {"type": "integer"}
				},
				"required": ["ref"]
			}`),
			Required: []string{"ref"},
		},
		{
			Name:        "browser_type",
			Description: "Type text into the element identified by a ref, optionally submitting with Enter.",
			Category:    CategoryInteraction,
			InputSchema: objSchema(`{
				"type": "object",
				"properties": {
					"ref": {"type": "string"},
					"text": {"type": "string"},
					"submit": {"type": "boolean"}
				},
				"required": ["ref", "text"]
			}`),
			Required: []string{"ref", "text"},
		},
		{
			Name:        "browser_hover",
			Description: "Hover the pointer over an element.",
			Category:    CategoryInteraction,
			InputSchema: objSchema(`{
				"type": "object",
				"properties": {"ref": {"type": "string"}},
				"required": ["ref"]
			}`),
			Required: []string{"ref"},
		},
		{
			Name:        "browser_press",
			Description: "Press a keyboard key (e.g. Enter, Tab, ArrowDown) in the focused element.",
			Category:    CategoryInteraction,
			InputSchema: objSchema(`{
				"type": "object",
				"properties": {"key": {"type": "string"}},
				"required": ["key"]
			}`),
			Required: []string{"key"},
		},
		{
			Name:        "browser_scroll",
			Description: "Scroll the page or an element by a pixel delta.",
			Category:    CategoryInteraction,
			InputSchema: objSchema(`{
				"type": "object",
				"properties": {
					"ref": {"type": "string"},
					"deltaX": {"type": "integer"},
					"deltaY": {"type": "integer"}
				}
			}`),
		},
		{
			Name:        "browser_select",
			Description: "Select one or more options in a select element.",
			Category:    CategoryInteraction,
			InputSchema: objSchema(`{
				"type": "object",
				"properties": {
					"ref": {"type": "string"},
					"values": {"type": "array", "items": {"type": "string"}}
				},
				"required": ["ref", "values"]
			}`),
			Required: []string{"ref", "values"},
		},

		// Capture
		{
			Name:        "browser_screenshot",
			Description: "Capture a screenshot of the page or an element and return the artifact path.",
			Category:    CategoryCapture,
			InputSchema: objSchema(`{
				"type": "object",
				"properties": {
					"ref": {"type": "string"},
					"fullPage": {"type": "boolean"},
					"path": {"type": "string"}
				}
			}`),
			Affinity: AffinityPlaywright,
		},
		{
			Name:        "browser_snapshot",
			Description: "Return an accessibility snapshot of the page with stable element refs for later interaction calls.",
			Category:    CategoryCapture,
			InputSchema: objSchema(`{"type": "object", "properties": {}}`),
			Affinity:    AffinityPlaywright,
		},

		// Evaluation
		{
			Name:        "browser_evaluate",
			Description: "Evaluate a JavaScript expression in the page and return its JSON-serializable result.",
			Category:    CategoryEvaluation,
			InputSchema: objSchema(`{
				"type": "object",
				"properties": {"expression": {"type": "string"}},
				"required": ["expression"]
			}`),
			Required: []string{"expression"},
			Affinity: AffinityDevTools,
		},

		// Network
		{
			Name:        "network_requests",
			Description: "List captured network requests, optionally filtered by URL substring or status.",
			Category:    CategoryNetwork,
			InputSchema: objSchema(`{
				"type": "object",
				"properties": {
					"url": {"type": "string"},
					"status": {"type": "integer"},
					"limit": {"type": "integer"}
				}
			}`),
			Affinity: AffinityDevTools,
		},
		{
			Name:        "network_clear",
			Description: "Discard captured network requests for the session.",
			Category:    CategoryNetwork,
			InputSchema: objSchema(`{"type": "object", "properties": {}}`),
			Affinity:    AffinityDevTools,
		},

		// Console
		{
			Name:        "console_messages",
			Description: "List captured console output, optionally filtered by level.",
			Category:    CategoryConsole,
			InputSchema: objSchema(`{
				"type": "object",
				"properties": {
					"level": {"type": "string", "enum": ["log", "info", "warn", "error"]},
					"limit": {"type": "integer"}
				}
			}`),
			Affinity: AffinityDevTools,
		},

		// Dialog
		{
			Name:        "dialog_handle",
			Description: "Accept or dismiss the pending page dialog (alert, confirm, prompt).",
			Category:    CategoryDialog,
			InputSchema: objSchema(`{
				"type": "object",
				"properties": {
					"accept": {"type": "boolean"},
					"promptText": {"type": "string"}
				},
				"required": ["accept"]
			}`),
			Required: []string{"accept"},
		},

		// Session
		{
			Name:        "session_resize",
			Description: "Resize the session viewport.",
			Category:    CategorySession,
			InputSchema: objSchema(`{
				"type": "object",
				"properties": {
					"width": {"type": "integer"},
					"height": {"type": "integer"}
				},
				"required": ["width", "height"]
			}`),
			Required: []string{"width", "height"},
		},
		{
			Name:        "session_close",
			Description: "Close the session's page and release backend resources.",
			Category:    CategorySession,
			InputSchema: objSchema(`{"type": "object", "properties": {}}`),
		},

		// Workflow (served by the broker, never routed to a backend)
		{
			Name:        "workflow_initialize",
			Description: "Create a workflow instance for a ticket from a registered template.",
			Category:    CategoryWorkflow,
			InputSchema: objSchema(`{
				"type": "object",
				"properties": {
					"ticketId": {"type": "string"},
					"template": {"type": "string"}
				},
				"required": ["ticketId", "template"]
			}`),
			Required: []string{"ticketId", "template"},
		},
		{
			Name:        "workflow_transition",
			Description: "Advance a workflow exactly one stage, validating the target stage's artifacts first.",
			Category:    CategoryWorkflow,
			InputSchema: objSchema(`{
				"type": "object",
				"properties": {
					"workflowId": {"type": "string"},
					"artifacts": {"type": "object", "additionalProperties": {"type": "string"}}
				},
				"required": ["workflowId"]
			}`),
			Required: []string{"workflowId"},
		},
		{
			Name:        "workflow_fail",
			Description: "Mark a workflow FAILED with a reason so recovery can be attempted.",
			Category:    CategoryWorkflow,
			InputSchema: objSchema(`{
				"type": "object",
				"properties": {
					"workflowId": {"type": "string"},
					"reason": {"type": "string"}
				},
				"required": ["workflowId", "reason"]
			}`),
			Required: []string{"workflowId", "reason"},
		},
		{
			Name:        "workflow_summary",
			Description: "Read-only workflow projection: duration, artifacts, current stage, status.",
			Category:    CategoryWorkflow,
			InputSchema: objSchema(`{
				"type": "object",
				"properties": {"workflowId": {"type": "string"}},
				"required": ["workflowId"]
			}`),
			Required: []string{"workflowId"},
		},

		// Recovery
		{
			Name:        "recovery_analyze",
			Description: "Match an error message against the recovery strategy table.",
			Category:    CategoryRecovery,
			InputSchema: objSchema(`{
				"type": "object",
				"properties": {"error": {"type": "string"}},
				"required": ["error"]
			}`),
			Required: []string{"error"},
		},
		{
			Name:        "recovery_attempt",
			Description: "Run the matched recovery strategy against a failed workflow.",
			Category:    CategoryRecovery,
			InputSchema: objSchema(`{
				"type": "object",
				"properties": {
					"workflowId": {"type": "string"},
					"error": {"type": "string"},
					"retryCount": {"type": "integer"}
				},
				"required": ["workflowId", "error"]
			}`),
			Required: []string{"workflowId", "error"},
		},
		{
			Name:        "recovery_resume",
			Description: "Reload a persisted workflow and reposition it at its last successful stage.",
			Category:    CategoryRecovery,
			InputSchema: objSchema(`{
				"type": "object",
				"properties": {"workflowId": {"type": "string", "description": "Workflow ID or ticket ID"}},
				"required": ["workflowId"]
			}`),
			Required: []string{"workflowId"},
		},

		// Telemetry
		{
			Name:        "events_get",
			Description: "Query buffered telemetry events by category, time, source, type, or URL substring.",
			Category:    CategoryTelemetry,
			InputSchema: objSchema(`{
				"type": "object",
				"properties": {
					"category": {"type": "string"},
					"since": {"type": "string", "format": "date-time"},
					"source": {"type": "string"},
					"type": {"type": "string"},
					"url": {"type": "string"},
					"limit": {"type": "integer"}
				}
			}`),
		},
		{
			Name:        "events_clear",
			Description: "Empty one or all telemetry ring buffers.",
			Category:    CategoryTelemetry,
			InputSchema: objSchema(`{
				"type": "object",
				"properties": {"category": {"type": "string"}}
			}`),
		},
		{
			Name:        "events_stats",
			Description: "Per-category push totals and buffer occupancy.",
			Category:    CategoryTelemetry,
			InputSchema: objSchema(`{"type": "object", "properties": {}}`),
		},
	}
}
