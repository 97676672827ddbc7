package workflow

import "time"

// Status is the workflow lifecycle state, orthogonal to CurrentStage.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusActive     Status = "ACTIVE"
	StatusFailed     Status = "FAILED"
	StatusRolledBack Status = "ROLLED_BACK"
	StatusCompleted  Status = "COMPLETED"
)

// StagePending is the CurrentStage marker before the first transition.
const StagePending = "PENDING"

// Transition outcomes recorded in history.
const (
	OutcomeSuccess  = "SUCCESS"
	OutcomeRollback = "ROLLBACK"
)

// TransitionRecord is one append-only history entry, ordered by time.
type TransitionRecord struct {
	Stage     string    `json:"stage"`
	Outcome   string    `json:"outcome"`
	Timestamp time.Time `json:"timestamp"`
	Note      string    `json:"note,omitempty"`
}

// FailureRecord is one append-only error entry.
type FailureRecord struct {
	Stage     string    `json:"stage"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// Instance is one stateful run of a template. Mutated only by the
// coordinator and the recovery resume path; persisted after every
// mutation; never deleted automatically.
type Instance struct {
	ID           string            `json:"id"`
	TicketID     string            `json:"ticketId"`
	TemplateName string            `json:"template"`
	CurrentStage string            `json:"currentStage"`
	Status       Status            `json:"status"`
	Artifacts    map[string]string `json:"artifacts"`
	History      []TransitionRecord `json:"history"`
	Errors       []FailureRecord    `json:"errors"`
	CreatedAt    time.Time          `json:"createdAt"`
	CompletedAt  *time.Time         `json:"completedAt,omitempty"`
}

// Clone deep-copies the instance so callers never share mutable state
// with the coordinator.
func (in *Instance) Clone() *Instance {
	out := *in
	out.Artifacts = make(map[string]string, len(in.Artifacts))
	for k, v := range in.Artifacts {
		out.Artifacts[k] = v
	}
	out.History = append([]TransitionRecord(nil), in.History...)
	out.Errors = append([]FailureRecord(nil), in.Errors...)
	if in.CompletedAt != nil {
		t := *in.CompletedAt
		out.CompletedAt = &t
	}
	return &out
}

// lastSuccess returns the most recent SUCCESS history entry.
func (in *Instance) lastSuccess() (TransitionRecord, bool) {
	for i := len(in.History) - 1; i >= 0; i-- {
		if in.History[i].Outcome == OutcomeSuccess {
			return in.History[i], true
		}
	}
	return TransitionRecord{}, false
}

// succeededStages collects stage names with a SUCCESS history entry.
func (in *Instance) succeededStages() map[string]bool {
	out := make(map[string]bool)
	for _, rec := range in.History {
		if rec.Outcome == OutcomeSuccess {
			out[rec.Stage] = true
		}
	}
	return out
}

// Summary is the read-only projection returned to callers.
type Summary struct {
	ID           string            `json:"id"`
	TicketID     string            `json:"ticketId"`
	Template     string            `json:"template"`
	CurrentStage string            `json:"currentStage"`
	Status       Status            `json:"status"`
	DurationMs   int64             `json:"durationMs"`
	Artifacts    map[string]string `json:"artifacts"`
	StagesDone   int               `json:"stagesDone"`
	ErrorCount   int               `json:"errorCount"`
}

func (in *Instance) summary(now time.Time) Summary {
	end := now
	if in.CompletedAt != nil {
		end = *in.CompletedAt
	}
	artifacts := make(map[string]string, len(in.Artifacts))
	for k, v := range in.Artifacts {
		artifacts[k] = v
	}
	done := 0
	for _, rec := range in.History {
		if rec.Outcome == OutcomeSuccess {
			done++
		}
	}
	return Summary{
		ID:           in.ID,
		TicketID:     in.TicketID,
		Template:     in.TemplateName,
		CurrentStage: in.CurrentStage,
		Status:       in.Status,
		DurationMs:   end.Sub(in.CreatedAt).Milliseconds(),
		Artifacts:    artifacts,
		StagesDone:   done,
		ErrorCount:   len(in.Errors),
	}
}
