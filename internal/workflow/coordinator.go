package workflow

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/strandtools/webrelay/pkg/events"
)

// Coordinator drives workflow instances through their template's stage
// list. State lives in memory and is persisted to disk before every
// mutating call returns. Two different workflow IDs never contend: each
// instance has its own lock.
type Coordinator struct {
	templates *TemplateSet
	store     *Store
	bus       *events.Bus
	logger    *zap.Logger

	mu        sync.Mutex
	instances map[string]*Instance
	locks     map[string]*sync.Mutex
}

// NewCoordinator loads any previously persisted workflows so a restart
// resumes with full audit history.
func NewCoordinator(templates *TemplateSet, store *Store, bus *events.Bus, logger *zap.Logger) (*Coordinator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Coordinator{
		templates: templates,
		store:     store,
		bus:       bus,
		logger:    logger.Named("workflow"),
		instances: make(map[string]*Instance),
		locks:     make(map[string]*sync.Mutex),
	}
	ids, err := store.List()
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		in, err := store.Load(id)
		if err != nil {
			c.logger.Warn("skipping unreadable workflow file", zap.String("id", id), zap.Error(err))
			continue
		}
		c.instances[id] = in
	}
	return c, nil
}

func (c *Coordinator) lockFor(id string) (*sync.Mutex, *Instance, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	in, ok := c.instances[id]
	if !ok {
		return nil, nil, ErrUnknownWorkflow
	}
	lk, ok := c.locks[id]
	if !ok {
		lk = &sync.Mutex{}
		c.locks[id] = lk
	}
	return lk, in, nil
}

// Initialize creates a new workflow for a ticket and persists it before
// returning. The instance starts at the PENDING stage marker with status
// ACTIVE so it can accept its first transition.
func (c *Coordinator) Initialize(ticketID, templateName string) (*Instance, error) {
	if _, ok := c.templates.Get(templateName); !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTemplate, templateName)
	}

	in := &Instance{
		ID:           uuid.New().String(),
		TicketID:     ticketID,
		TemplateName: templateName,
		CurrentStage: StagePending,
		Status:       StatusActive,
		Artifacts:    make(map[string]string),
		CreatedAt:    time.Now(),
	}
	if err := c.store.Save(in); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.instances[in.ID] = in
	c.mu.Unlock()

	c.emit(in, "workflow.initialized", map[string]interface{}{"template": templateName})
	c.logger.Info("workflow initialized",
		zap.String("id", in.ID),
		zap.String("ticket", ticketID),
		zap.String("template", templateName))
	return in.Clone(), nil
}

// Transition advances the workflow exactly one declared stage. The
// target stage's prerequisites must all be SUCCESS entries in history,
// and its validator must accept the artifacts accumulated so far (with
// delta merged in). On validation failure CurrentStage is untouched and
// the failure is recorded in Errors.
func (c *Coordinator) Transition(id string, artifactsDelta map[string]string) (*Instance, error) {
	lk, in, err := c.lockFor(id)
	if err != nil {
		return nil, err
	}
	lk.Lock()
	defer lk.Unlock()

	switch in.Status {
	case StatusCompleted:
		return in.Clone(), ErrWorkflowComplete
	case StatusActive:
	default:
		return in.Clone(), fmt.Errorf("%w (status %s)", ErrWorkflowNotActive, in.Status)
	}

	tpl, ok := c.templates.Get(in.TemplateName)
	if !ok {
		return in.Clone(), fmt.Errorf("%w: %q", ErrUnknownTemplate, in.TemplateName)
	}
	target, ok := tpl.NextStage(in.CurrentStage)
	if !ok {
		return in.Clone(), ErrWorkflowComplete
	}

	// Prerequisite gate before any artifact validation.
	succeeded := in.succeededStages()
	var missing []string
	for _, pre := range target.Prerequisites {
		if !succeeded[pre] {
			missing = append(missing, pre)
		}
	}
	if len(missing) > 0 {
		return in.Clone(), &PrerequisiteError{Stage: target.Name, Missing: missing}
	}

	merged := make(map[string]string, len(in.Artifacts)+len(artifactsDelta))
	for k, v := range in.Artifacts {
		merged[k] = v
	}
	for k, v := range artifactsDelta {
		merged[k] = v
	}

	if err := runValidator(target.Validator, merged); err != nil {
		verr := &ValidationError{Stage: target.Name, Reason: err.Error()}
		in.Errors = append(in.Errors, FailureRecord{
			Stage:     target.Name,
			Reason:    verr.Error(),
			Timestamp: time.Now(),
		})
		if perr := c.store.Save(in); perr != nil {
			c.logger.Error("persist after validation failure", zap.String("id", id), zap.Error(perr))
		}
		c.emit(in, "workflow.validation_failed", map[string]interface{}{
			"stage":  target.Name,
			"reason": err.Error(),
		})
		return in.Clone(), verr
	}

	in.Artifacts = merged
	in.CurrentStage = target.Name
	in.History = append(in.History, TransitionRecord{
		Stage:     target.Name,
		Outcome:   OutcomeSuccess,
		Timestamp: time.Now(),
	})
	if tpl.IsTerminal(target.Name) {
		now := time.Now()
		in.Status = StatusCompleted
		in.CompletedAt = &now
	}
	if err := c.store.Save(in); err != nil {
		return in.Clone(), err
	}

	c.emit(in, "workflow.stage_completed", map[string]interface{}{
		"stage":    target.Name,
		"terminal": in.Status == StatusCompleted,
	})
	c.logger.Info("workflow stage completed",
		zap.String("id", in.ID),
		zap.String("stage", target.Name),
		zap.String("status", string(in.Status)))
	return in.Clone(), nil
}

// Fail parks the workflow in FAILED with a failure record and returns
// the instance so the caller can hand it to the recovery manager. It
// never deletes artifacts and never resurrects a failed workflow: each
// call appends exactly one record. COMPLETED and ROLLED_BACK workflows
// are terminal and cannot be failed.
func (c *Coordinator) Fail(id, reason string) (*Instance, error) {
	lk, in, err := c.lockFor(id)
	if err != nil {
		return nil, err
	}
	lk.Lock()
	defer lk.Unlock()

	switch in.Status {
	case StatusCompleted:
		return in.Clone(), ErrWorkflowComplete
	case StatusRolledBack:
		return in.Clone(), fmt.Errorf("%w (status %s)", ErrWorkflowNotActive, in.Status)
	}

	in.Status = StatusFailed
	in.Errors = append(in.Errors, FailureRecord{
		Stage:     in.CurrentStage,
		Reason:    reason,
		Timestamp: time.Now(),
	})
	if err := c.store.Save(in); err != nil {
		return in.Clone(), err
	}

	c.emit(in, "workflow.failed", map[string]interface{}{"reason": reason})
	c.logger.Warn("workflow failed",
		zap.String("id", in.ID),
		zap.String("stage", in.CurrentStage),
		zap.String("reason", reason))
	return in.Clone(), nil
}

// Cancel is a workflow-level cancel: FAILED with reason "cancelled",
// CurrentStage untouched.
func (c *Coordinator) Cancel(id string) (*Instance, error) {
	return c.Fail(id, "cancelled")
}

// Rollback moves a FAILED workflow to the terminal ROLLED_BACK state.
// Artifact cleanup is the caller's declared rollback strategy, not the
// coordinator's.
func (c *Coordinator) Rollback(id, note string) (*Instance, error) {
	lk, in, err := c.lockFor(id)
	if err != nil {
		return nil, err
	}
	lk.Lock()
	defer lk.Unlock()

	if in.Status != StatusFailed {
		return in.Clone(), fmt.Errorf("%w: rollback requires FAILED, have %s", ErrWorkflowNotActive, in.Status)
	}
	in.Status = StatusRolledBack
	in.History = append(in.History, TransitionRecord{
		Stage:     in.CurrentStage,
		Outcome:   OutcomeRollback,
		Timestamp: time.Now(),
		Note:      note,
	})
	if err := c.store.Save(in); err != nil {
		return in.Clone(), err
	}
	c.emit(in, "workflow.rolled_back", map[string]interface{}{"note": note})
	return in.Clone(), nil
}

// Get returns a copy of the instance.
func (c *Coordinator) Get(id string) (*Instance, error) {
	lk, in, err := c.lockFor(id)
	if err != nil {
		return nil, err
	}
	lk.Lock()
	defer lk.Unlock()
	return in.Clone(), nil
}

// GetByTicket resolves the newest workflow for a ticket.
func (c *Coordinator) GetByTicket(ticketID string) (*Instance, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var newest *Instance
	for _, in := range c.instances {
		if in.TicketID != ticketID {
			continue
		}
		if newest == nil || in.CreatedAt.After(newest.CreatedAt) {
			newest = in
		}
	}
	if newest == nil {
		return nil, ErrUnknownWorkflow
	}
	return newest.Clone(), nil
}

// Summary returns the read-only projection.
func (c *Coordinator) Summary(id string) (Summary, error) {
	lk, in, err := c.lockFor(id)
	if err != nil {
		return Summary{}, err
	}
	lk.Lock()
	defer lk.Unlock()
	return in.summary(time.Now()), nil
}

// Reposition rewrites the instance to ACTIVE at the given stage. Used by
// the recovery manager's resume path; persists before returning.
func (c *Coordinator) Reposition(id, stage string) (*Instance, error) {
	lk, in, err := c.lockFor(id)
	if err != nil {
		return nil, err
	}
	lk.Lock()
	defer lk.Unlock()

	in.Status = StatusActive
	in.CurrentStage = stage
	in.CompletedAt = nil
	if err := c.store.Save(in); err != nil {
		return in.Clone(), err
	}
	c.emit(in, "workflow.resumed", map[string]interface{}{"stage": stage})
	return in.Clone(), nil
}

// SetArtifacts overwrites the artifact map. Used by recovery handlers
// that discover artifacts at alternate paths; persists before returning.
func (c *Coordinator) SetArtifacts(id string, artifacts map[string]string) (*Instance, error) {
	lk, in, err := c.lockFor(id)
	if err != nil {
		return nil, err
	}
	lk.Lock()
	defer lk.Unlock()

	in.Artifacts = make(map[string]string, len(artifacts))
	for k, v := range artifacts {
		in.Artifacts[k] = v
	}
	if err := c.store.Save(in); err != nil {
		return in.Clone(), err
	}
	return in.Clone(), nil
}

// Adopt installs a loaded instance (e.g. one written by another process
// and found on disk) into the in-memory table.
func (c *Coordinator) Adopt(in *Instance) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.instances[in.ID] = in.Clone()
}

// Templates exposes the registry for callers that validate names.
func (c *Coordinator) Templates() *TemplateSet {
	return c.templates
}

// Store exposes the persistence layer for the recovery manager.
func (c *Coordinator) Store() *Store {
	return c.store
}

func (c *Coordinator) emit(in *Instance, eventType string, payload map[string]interface{}) {
	if c.bus == nil {
		return
	}
	if payload == nil {
		payload = make(map[string]interface{})
	}
	payload["workflowId"] = in.ID
	payload["ticketId"] = in.TicketID
	payload["currentStage"] = in.CurrentStage
	payload["status"] = string(in.Status)
	c.bus.Push(events.CategoryWorkflow, eventType, "coordinator", payload)
}
