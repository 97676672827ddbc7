package workflow

import (
	"fmt"
	"time"
)

// StageDefinition is one named unit of a template: a validation gate, a
// timeout bounding the whole stage, and the stages that must already have
// succeeded before this one may run. Immutable once registered.
type StageDefinition struct {
	Name          string        `json:"name"`
	Timeout       time.Duration `json:"timeoutMs"`
	Validator     string        `json:"validator,omitempty"`
	Prerequisites []string      `json:"prerequisites,omitempty"`
}

// Template is an ordered stage list. Workflows advance through it one
// stage at a time, never skipping.
type Template struct {
	Name   string
	Stages []StageDefinition
}

func (t Template) stageIndex(name string) int {
	for i, s := range t.Stages {
		if s.Name == name {
			return i
		}
	}
	return -1
}

// NextStage returns the stage after current, where current may be the
// StagePending marker. ok is false when current is the terminal stage.
func (t Template) NextStage(current string) (StageDefinition, bool) {
	if current == StagePending {
		if len(t.Stages) == 0 {
			return StageDefinition{}, false
		}
		return t.Stages[0], true
	}
	idx := t.stageIndex(current)
	if idx < 0 || idx+1 >= len(t.Stages) {
		return StageDefinition{}, false
	}
	return t.Stages[idx+1], true
}

// IsTerminal reports whether the named stage is the template's last.
func (t Template) IsTerminal(stage string) bool {
	return len(t.Stages) > 0 && t.Stages[len(t.Stages)-1].Name == stage
}

// TemplateSet is the template registry. Read-only after startup.
type TemplateSet struct {
	templates map[string]Template
}

// NewTemplateSet builds a registry seeded with the built-in templates.
func NewTemplateSet() *TemplateSet {
	ts := &TemplateSet{templates: make(map[string]Template)}
	ts.Register(basicTemplate())
	return ts
}

// Register adds or replaces a template. Stage prerequisites must name
// earlier stages of the same template.
func (ts *TemplateSet) Register(t Template) error {
	seen := make(map[string]bool, len(t.Stages))
	for _, stage := range t.Stages {
		if seen[stage.Name] {
			return fmt.Errorf("template %s: duplicate stage %q", t.Name, stage.Name)
		}
		for _, pre := range stage.Prerequisites {
			if !seen[pre] {
				return fmt.Errorf("template %s: stage %q prerequisite %q does not precede it", t.Name, stage.Name, pre)
			}
		}
		seen[stage.Name] = true
	}
	ts.templates[t.Name] = t
	return nil
}

// Get resolves a template by name.
func (ts *TemplateSet) Get(name string) (Template, bool) {
	t, ok := ts.templates[name]
	return t, ok
}

// Names lists the registered template names.
func (ts *TemplateSet) Names() []string {
	out := make([]string, 0, len(ts.templates))
	for name := range ts.templates {
		out = append(out, name)
	}
	return out
}

// basicTemplate is the default four-stage pipeline: prepare the target,
// capture artifacts, verify them, publish the report.
func basicTemplate() Template {
	return Template{
		Name: "basic",
		Stages: []StageDefinition{
			{
				Name:    "prepare",
				Timeout: 2 * time.Minute,
			},
			{
				Name:          "capture",
				Timeout:       5 * time.Minute,
				Validator:     "require_artifact:screenshot",
				Prerequisites: []string{"prepare"},
			},
			{
				Name:          "verify",
				Timeout:       5 * time.Minute,
				Validator:     "nonzero_file:screenshot",
				Prerequisites: []string{"prepare", "capture"},
			},
			{
				Name:          "publish",
				Timeout:       2 * time.Minute,
				Validator:     "extension:report:.json",
				Prerequisites: []string{"verify"},
			},
		},
	}
}
