package proxy

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/elazarl/goproxy"
	"go.uber.org/zap"

	"github.com/strandtools/webrelay/pkg/events"
)

// maxRequests bounds the in-memory request history.
const maxRequests = 1000

// Request is one proxied HTTP exchange.
type Request struct {
	ID         string        `json:"id"`
	Method     string        `json:"method"`
	URL        string        `json:"url"`
	Host       string        `json:"host"`
	Path       string        `json:"path"`
	StatusCode int           `json:"statusCode"`
	StartTime  time.Time     `json:"startTime"`
	Duration   time.Duration `json:"duration"`
	Size       int64         `json:"size"`
	Error      string        `json:"error,omitempty"`
}

// Server is an optional capture proxy: pages driven outside the bridges
// (a dev server, an externally launched browser) can point at it and
// their network traffic lands on the event bus like any other telemetry.
type Server struct {
	port   int
	proxy  *goproxy.ProxyHttpServer
	server *http.Server
	bus    *events.Bus
	logger *zap.Logger

	mu       sync.RWMutex
	requests []Request
	running  bool
}

// NewServer builds the capture proxy on the given port.
func NewServer(port int, bus *events.Bus, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		port:     port,
		bus:      bus,
		logger:   logger.Named("proxy"),
		requests: make([]Request, 0, maxRequests),
	}
	p := goproxy.NewProxyHttpServer()
	p.Verbose = false
	s.proxy = p
	s.setupHandlers()
	return s
}

func (s *Server) setupHandlers() {
	s.proxy.OnRequest().DoFunc(func(r *http.Request, ctx *goproxy.ProxyCtx) (*http.Request, *http.Response) {
		ctx.UserData = &Request{
			ID:        fmt.Sprintf("%d", ctx.Session),
			Method:    r.Method,
			URL:       r.URL.String(),
			Host:      r.Host,
			Path:      r.URL.Path,
			StartTime: time.Now(),
		}
		return r, nil
	})

	s.proxy.OnResponse().DoFunc(func(resp *http.Response, ctx *goproxy.ProxyCtx) *http.Response {
		req, ok := ctx.UserData.(*Request)
		if !ok {
			return resp
		}
		req.Duration = time.Since(req.StartTime)
		if resp != nil {
			req.StatusCode = resp.StatusCode
			if resp.ContentLength > 0 {
				req.Size = resp.ContentLength
			}
		} else {
			req.Error = "no response from upstream"
		}
		s.record(*req)
		return resp
	})
}

func (s *Server) record(req Request) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	if len(s.requests) > maxRequests {
		s.requests = s.requests[len(s.requests)-maxRequests:]
	}
	s.mu.Unlock()

	eventType := "network.request"
	if req.Error != "" {
		eventType = "network.failure"
	}
	s.bus.Push(events.CategoryNetwork, eventType, "proxy", map[string]interface{}{
		"method":   req.Method,
		"url":      req.URL,
		"status":   req.StatusCode,
		"duration": req.Duration.Milliseconds(),
		"size":     req.Size,
		"error":    req.Error,
	})
}

// Requests returns a copy of the bounded history, oldest first.
func (s *Server) Requests() []Request {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Request, len(s.requests))
	copy(out, s.requests)
	return out
}

// Clear empties the history. Buffered bus events are unaffected.
func (s *Server) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = s.requests[:0]
}

// Handler exposes the proxy for tests.
func (s *Server) Handler() http.Handler {
	return s.proxy
}

// Start serves until Stop. Returns immediately with an error when the
// port is taken.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("capture proxy already running")
	}
	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: s.proxy,
	}
	s.running = true
	s.mu.Unlock()

	s.logger.Info("capture proxy listening", zap.Int("port", s.port))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop shuts the proxy down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	s.running = false
	return s.server.Shutdown(ctx)
}

// IsRunning reports whether Start has been called without Stop.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}
