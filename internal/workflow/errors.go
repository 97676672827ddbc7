package workflow

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownTemplate means initialize named an unregistered template.
	ErrUnknownTemplate = errors.New("unknown workflow template")
	// ErrUnknownWorkflow means the workflow ID has no persisted state.
	ErrUnknownWorkflow = errors.New("unknown workflow")
	// ErrWorkflowComplete means the workflow reached its terminal stage.
	ErrWorkflowComplete = errors.New("workflow already completed")
	// ErrWorkflowNotActive means a transition was attempted on a FAILED
	// or rolled-back workflow; it must be resumed first.
	ErrWorkflowNotActive = errors.New("workflow is not active")
)

// PrerequisiteError reports a target stage whose prerequisites are not
// all SUCCESS entries in history.
type PrerequisiteError struct {
	Stage   string
	Missing []string
}

func (e *PrerequisiteError) Error() string {
	return fmt.Sprintf("PrerequisiteNotMet: stage %q requires %v", e.Stage, e.Missing)
}

// ValidationError reports a target stage whose validator rejected the
// accumulated artifacts. The transition did not mutate CurrentStage.
type ValidationError struct {
	Stage  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("ValidationFailed: stage %q: %s", e.Stage, e.Reason)
}
