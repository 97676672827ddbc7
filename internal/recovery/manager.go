package recovery

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/strandtools/webrelay/internal/workflow"
	"github.com/strandtools/webrelay/pkg/events"
)

// ErrNoResumableStage is returned by Resume when the workflow's history
// holds no SUCCESS entry to reposition to.
var ErrNoResumableStage = errors.New("NoResumableStage: workflow has no completed stage to resume from")

// Manager classifies failures against an ordered strategy table, runs
// auto-recovery handlers, and repositions parked workflows. Constructed
// once at startup and injected wherever needed.
type Manager struct {
	coordinator *workflow.Coordinator
	strategies  []Strategy
	log         *Log
	bus         *events.Bus
	logger      *zap.Logger
}

// NewManager wires the manager against the coordinator's persisted
// state and the shared event bus. logPath names the append-only audit
// file; bus may be nil in tests that don't care about events.
func NewManager(coordinator *workflow.Coordinator, logPath string, bus *events.Bus, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	log, err := NewLog(logPath)
	if err != nil {
		return nil, err
	}
	return &Manager{
		coordinator: coordinator,
		strategies:  builtinStrategies(),
		log:         log,
		bus:         bus,
		logger:      logger.Named("recovery"),
	}, nil
}

// Analyze matches the message against the strategy table in order. The
// first matching pattern wins; no match yields UNKNOWN with a nil
// strategy.
func (m *Manager) Analyze(message string) Analysis {
	for i := range m.strategies {
		if m.strategies[i].Pattern.MatchString(message) {
			return Analysis{Type: m.strategies[i].Type, Strategy: &m.strategies[i]}
		}
	}
	return Analysis{Type: TypeUnknown}
}

// Attempt runs recovery for one failure. With no matching strategy it
// returns NO_STRATEGY and touches nothing; a matched manual strategy
// returns MANUAL_REQUIRED and likewise leaves the workflow alone. Auto
// strategies load the instance, run the handler, and persist any
// artifact rewrites on success. Every path appends a log entry.
func (m *Manager) Attempt(workflowID, message string, ctx *Context) (*Outcome, error) {
	if ctx == nil {
		ctx = &Context{}
	}
	analysis := m.Analyze(message)

	if analysis.Strategy == nil {
		out := &Outcome{Success: false, Status: StatusNoStrategy, Detail: message}
		m.record(workflowID, analysis.Type, out)
		return out, nil
	}
	if !analysis.Strategy.AutoRecover {
		out := &Outcome{
			Success: false,
			Status:  StatusManualRequired,
			Detail:  fmt.Sprintf("%s requires operator action", analysis.Type),
		}
		m.record(workflowID, analysis.Type, out)
		return out, nil
	}

	var in *workflow.Instance
	if workflowID != "" {
		loaded, err := m.coordinator.Get(workflowID)
		if err != nil {
			return nil, err
		}
		in = loaded
	}

	out, err := analysis.Strategy.Handler(in, ctx)
	if err != nil {
		out = &Outcome{Success: false, Status: StatusFailed, Detail: err.Error()}
	}
	if out.Success && in != nil {
		if _, perr := m.coordinator.SetArtifacts(in.ID, in.Artifacts); perr != nil {
			m.logger.Error("persist recovered artifacts",
				zap.String("workflow", in.ID), zap.Error(perr))
		}
	}

	m.record(workflowID, analysis.Type, out)
	m.logger.Info("recovery attempt",
		zap.String("workflow", workflowID),
		zap.String("type", analysis.Type),
		zap.String("status", out.Status),
		zap.Bool("success", out.Success))
	return out, nil
}

// Resume loads the workflow by ID (falling back to ticket lookup),
// finds the last SUCCESS history entry, and repositions the workflow
// ACTIVE at that stage so the next transition re-attempts the stage
// after it.
func (m *Manager) Resume(idOrTicket string) (*workflow.Instance, error) {
	in, err := m.coordinator.Get(idOrTicket)
	if errors.Is(err, workflow.ErrUnknownWorkflow) {
		in, err = m.coordinator.GetByTicket(idOrTicket)
	}
	if err != nil {
		return nil, err
	}

	stage := ""
	for i := len(in.History) - 1; i >= 0; i-- {
		if in.History[i].Outcome == workflow.OutcomeSuccess {
			stage = in.History[i].Stage
			break
		}
	}
	if stage == "" {
		return nil, ErrNoResumableStage
	}

	resumed, err := m.coordinator.Reposition(in.ID, stage)
	if err != nil {
		return nil, err
	}
	m.record(in.ID, "RESUME", &Outcome{
		Success: true,
		Status:  StatusRecovered,
		Detail:  fmt.Sprintf("repositioned at stage %q", stage),
	})
	m.logger.Info("workflow resumed",
		zap.String("workflow", in.ID),
		zap.String("stage", stage))
	return resumed, nil
}

// History exposes the audit log for the telemetry surface.
func (m *Manager) History() ([]LogEntry, error) {
	return m.log.Entries()
}

func (m *Manager) record(workflowID, errorType string, out *Outcome) {
	entry := LogEntry{
		Time:       time.Now(),
		WorkflowID: workflowID,
		ErrorType:  errorType,
		Outcome:    out.Status,
		Detail:     out.Detail,
	}
	if err := m.log.Append(entry); err != nil {
		m.logger.Error("append recovery log", zap.Error(err))
	}
	if m.bus != nil {
		m.bus.Push(events.CategoryLifecycle, "recovery.attempt", "recovery", map[string]interface{}{
			"workflowId": workflowID,
			"errorType":  errorType,
			"outcome":    out.Status,
			"success":    out.Success,
		})
	}
}
