package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/strandtools/webrelay/internal/catalog"
	"github.com/strandtools/webrelay/internal/recovery"
	"github.com/strandtools/webrelay/internal/router"
	"github.com/strandtools/webrelay/internal/workflow"
	"github.com/strandtools/webrelay/pkg/events"
	"github.com/strandtools/webrelay/pkg/ports"
)

// Server is the HTTP face of the broker: JSON-RPC on POST /rpc, SSE on
// GET /events, a websocket mirror on /ws, and REST conveniences. Every
// dependency is injected at construction.
type Server struct {
	host    string
	port    int
	routes  *mux.Router
	server  *http.Server
	catalog *catalog.Catalog

	profiles    *catalog.Profiles
	dispatcher  *router.Router
	coordinator *workflow.Coordinator
	recovery    *recovery.Manager
	bus         *events.Bus
	sessions    *sessionManager
	logger      *zap.Logger

	wsUpgrader websocket.Upgrader
	listener   net.Listener
}

// Options collects the injected dependencies for NewServer.
type Options struct {
	Host           string
	Port           int
	Catalog        *catalog.Catalog
	Profiles       *catalog.Profiles
	Router         *router.Router
	Coordinator    *workflow.Coordinator
	Recovery       *recovery.Manager
	Bus            *events.Bus
	DefaultProfile string
	Logger         *zap.Logger
}

func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		host:        opts.Host,
		port:        opts.Port,
		routes:      mux.NewRouter(),
		catalog:     opts.Catalog,
		profiles:    opts.Profiles,
		dispatcher:  opts.Router,
		coordinator: opts.Coordinator,
		recovery:    opts.Recovery,
		bus:         opts.Bus,
		sessions:    newSessionManager(opts.DefaultProfile),
		logger:      logger.Named("relay"),
		wsUpgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.routes.HandleFunc("/rpc", s.handleRPC).Methods("POST")
	s.routes.HandleFunc("/events", s.handleSSE).Methods("GET")
	s.routes.HandleFunc("/events/query", s.handleEventsQuery).Methods("GET")
	s.routes.HandleFunc("/ws", s.handleWebSocket).Methods("GET")
	s.routes.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Handler exposes the route table for tests.
func (s *Server) Handler() http.Handler {
	return s.routes
}

// Start binds the listener and serves until Stop. A busy configured
// port falls through to the next free one.
func (s *Server) Start() error {
	port, err := ports.Pick(s.port)
	if err != nil {
		return err
	}
	if port != s.port {
		s.logger.Warn("configured port busy", zap.Int("configured", s.port), zap.Int("using", port))
		s.port = port
	}
	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	s.listener = ln
	s.server = &http.Server{
		Handler:           s.routes,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("relay listening", zap.String("addr", ln.Addr().String()))
	if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop drains in-flight requests within the context's deadline.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Addr reports the bound address, useful when port 0 was requested.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, errorMessage(nil, codeParseError, "Parse error", err.Error()))
		return
	}
	defer r.Body.Close()

	// A batch is a JSON array; fall back to a single message.
	var messages []RPCMessage
	batch := true
	if err := json.Unmarshal(body, &messages); err != nil {
		var msg RPCMessage
		if err := json.Unmarshal(body, &msg); err != nil {
			writeJSON(w, errorMessage(nil, codeParseError, "Parse error", err.Error()))
			return
		}
		messages = []RPCMessage{msg}
		batch = false
	}

	session := s.sessions.resolve(r.Header.Get(headerSessionID), r.Header.Get(headerProfile))
	w.Header().Set(headerSessionID, session.ID)

	responses := make([]*RPCMessage, 0, len(messages))
	for i := range messages {
		if resp := s.processMessage(r.Context(), &messages[i], session); resp != nil {
			responses = append(responses, resp)
		}
	}

	switch {
	case len(responses) == 0:
		w.WriteHeader(http.StatusNoContent)
	case batch:
		writeJSON(w, responses)
	default:
		writeJSON(w, responses[0])
	}
}

func (s *Server) processMessage(ctx context.Context, msg *RPCMessage, session *Session) *RPCMessage {
	switch msg.Method {
	case "initialize":
		return s.handleInitialize(msg, session)
	case "tools/list":
		return s.handleToolsList(msg, session)
	case "tools/call":
		return s.handleToolsCall(ctx, msg, session)
	case "events/get":
		return s.handleEventsGet(msg)
	case "events/clear":
		return s.handleEventsClear(msg)
	case "events/stats":
		return resultMessage(msg.ID, s.bus.Stats())
	case "workflow/initialize", "workflow/transition", "workflow/fail",
		"workflow/summary", "recovery/analyze", "recovery/attempt",
		"recovery/resume":
		return s.handleBrokerMethod(msg)
	case "session/abort":
		return s.handleSessionAbort(msg, session)
	default:
		return errorMessage(msg.ID, codeMethodNotFound, "Method not found", msg.Method)
	}
}

func (s *Server) handleInitialize(msg *RPCMessage, session *Session) *RPCMessage {
	var params struct {
		Profile string `json:"profile"`
	}
	if len(msg.Params) > 0 {
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			return errorMessage(msg.ID, codeInvalidParams, "Invalid params", err.Error())
		}
	}
	if params.Profile != "" {
		session.Profile = params.Profile
	}
	return resultMessage(msg.ID, map[string]interface{}{
		"protocolVersion": "2024-11-05",
		"serverInfo":      map[string]string{"name": "webrelay", "version": Version},
		"session":         session,
		"capabilities": map[string]interface{}{
			"tools": map[string]bool{"listChanged": false},
		},
	})
}

func (s *Server) handleSessionAbort(msg *RPCMessage, session *Session) *RPCMessage {
	aborted := s.dispatcher.AbortSession(session.ID)
	s.sessions.remove(session.ID)
	return resultMessage(msg.ID, map[string]interface{}{
		"sessionId": session.ID,
		"aborted":   aborted,
	})
}

func (s *Server) handleEventsGet(msg *RPCMessage) *RPCMessage {
	q, rpcErr := parseEventQuery(msg)
	if rpcErr != nil {
		return rpcErr
	}
	return resultMessage(msg.ID, s.bus.Get(q))
}

func (s *Server) handleEventsClear(msg *RPCMessage) *RPCMessage {
	var params struct {
		Category string `json:"category"`
	}
	if len(msg.Params) > 0 {
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			return errorMessage(msg.ID, codeInvalidParams, "Invalid params", err.Error())
		}
	}
	category := events.Wildcard
	if params.Category != "" {
		parsed, err := events.ParseCategory(params.Category)
		if err != nil {
			return errorMessage(msg.ID, codeInvalidParams, "Invalid params", err.Error())
		}
		category = parsed
	}
	s.bus.Clear(category)
	return resultMessage(msg.ID, map[string]bool{"cleared": true})
}

func parseEventQuery(msg *RPCMessage) (events.Query, *RPCMessage) {
	var params struct {
		Category string    `json:"category"`
		Since    time.Time `json:"since"`
		Source   string    `json:"source"`
		Type     string    `json:"type"`
		URL      string    `json:"url"`
		Limit    int       `json:"limit"`
	}
	if len(msg.Params) > 0 {
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			return events.Query{}, errorMessage(msg.ID, codeInvalidParams, "Invalid params", err.Error())
		}
	}
	q := events.Query{
		Since:       params.Since,
		Source:      params.Source,
		Type:        params.Type,
		URLContains: params.URL,
		Limit:       params.Limit,
	}
	if params.Category != "" {
		category, err := events.ParseCategory(params.Category)
		if err != nil {
			return events.Query{}, errorMessage(msg.ID, codeInvalidParams, "Invalid params", err.Error())
		}
		q.Category = category
	}
	return q, nil
}

func (s *Server) handleEventsQuery(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	vals := r.URL.Query()
	q := events.Query{
		Source:      vals.Get("source"),
		Type:        vals.Get("type"),
		URLContains: vals.Get("url"),
	}
	if v := vals.Get("category"); v != "" {
		category, err := events.ParseCategory(v)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			writeJSON(w, map[string]string{"error": err.Error()})
			return
		}
		q.Category = category
	}
	if v := vals.Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			writeJSON(w, map[string]string{"error": fmt.Sprintf("since: %v", err)})
			return
		}
		q.Since = since
	}
	if v := vals.Get("limit"); v != "" {
		fmt.Sscanf(v, "%d", &q.Limit)
	}
	writeJSON(w, s.bus.Get(q))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]interface{}{
		"status":   "healthy",
		"sessions": s.sessions.count(),
		"tools":    s.catalog.Len(),
	})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	_ = json.NewEncoder(w).Encode(v)
}
