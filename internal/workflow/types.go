// Package workflow implements the Workflow Registry (SPEC_FULL.md §4.1 /
// spec.md §4.1): loading and validating TOML manifests at boot, indexing them
// by name, evaluating the condition grammar, and rendering prompt templates.
// The registry is read-only after boot — there is no hot-reload in v1.
package workflow

import "colony/internal/model"

// Manifest is the parsed form of one workflow TOML file
// (spec.md §6 "Workflow manifest file").
type Manifest struct {
	Workflow WorkflowMeta `toml:"workflow"`
	Steps    []StepSpec   `toml:"steps"`
}

// WorkflowMeta is the [workflow] table.
type WorkflowMeta struct {
	Name        string `toml:"name"`
	Description string `toml:"description"`
	Version     string `toml:"version"`
}

// StepSpec is one [[steps]] table entry.
type StepSpec struct {
	ID          string   `toml:"id"`
	Role        string   `toml:"role"`
	PromptFile  string   `toml:"prompt_file"`
	DependsOn   []string `toml:"depends_on"`
	Condition   string   `toml:"condition"`
	MaxRetries  int      `toml:"max_retries"`
	// RetryTarget names the step this step's completion should re-queue, per
	// Design Note 1 in spec.md §9: the retry cycle is synthesized at cascade
	// time, never encoded as a manifest dependency. When empty and Condition
	// references a step, that referenced step is the implicit retry target
	// (see resolveRetryTargets).
	RetryTarget string `toml:"retry_target"`
}

// Workflow is a validated, boot-time-indexed manifest, ready for the Mission
// Expander to materialize into tasks.
type Workflow struct {
	Name        string
	Description string
	Version     string
	Steps       []Step
	byID        map[string]int // step id -> index in Steps, manifest order preserved
}

// Step is a validated manifest step with its retry target resolved.
type Step struct {
	ID          string
	Role        model.Role
	PromptFile  string
	PromptText  string
	DependsOn   []string
	Condition   string
	MaxRetries  int
	RetryTarget string
}

// StepByID returns the step with the given id, and whether it was found.
func (w *Workflow) StepByID(id string) (Step, bool) {
	idx, ok := w.byID[id]
	if !ok {
		return Step{}, false
	}
	return w.Steps[idx], true
}

// LoadError is a single manifest's validation failure, recorded rather than
// fatal to the whole boot (spec.md §4.1 / §7 ManifestInvalid).
type LoadError struct {
	File string
	Err  error
}
