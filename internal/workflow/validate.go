package workflow

import (
	"fmt"
	"os"
	"path/filepath"

	"colony/internal/apperr"
	"colony/internal/model"
)

// validate checks rules (a)-(e) from spec.md §4.1 and, on success, returns a
// Workflow with retry targets resolved and prompt templates read from disk.
// templateDir is the directory prompt_file paths are resolved relative to
// (the teacher's own prompt templates live alongside the workflow that uses
// them; this keeps the same layout).
func validate(m Manifest, templateDir string) (*Workflow, error) {
	if m.Workflow.Name == "" {
		return nil, apperr.ManifestInvalid("workflow name is required")
	}
	if len(m.Steps) == 0 {
		return nil, apperr.ManifestInvalid("workflow %q declares no steps", m.Workflow.Name)
	}

	byID := make(map[string]int, len(m.Steps))
	for i, s := range m.Steps {
		if s.ID == "" {
			return nil, apperr.ManifestInvalid("workflow %q: step %d has no id", m.Workflow.Name, i)
		}
		if _, dup := byID[s.ID]; dup {
			return nil, apperr.ManifestInvalid("workflow %q: duplicate step id %q", m.Workflow.Name, s.ID)
		}
		byID[s.ID] = i
	}

	for _, s := range m.Steps {
		role := model.Role(s.Role)
		if !role.Valid() {
			return nil, apperr.ManifestInvalid("workflow %q: step %q has invalid role %q", m.Workflow.Name, s.ID, s.Role)
		}
		for _, dep := range s.DependsOn {
			if _, ok := byID[dep]; !ok {
				return nil, apperr.ManifestInvalid("workflow %q: step %q depends on undeclared step %q", m.Workflow.Name, s.ID, dep)
			}
		}
		if s.MaxRetries < 0 {
			return nil, apperr.ManifestInvalid("workflow %q: step %q has negative max_retries", m.Workflow.Name, s.ID)
		}
		if s.PromptFile == "" {
			return nil, apperr.ManifestInvalid("workflow %q: step %q has no prompt_file", m.Workflow.Name, s.ID)
		}
	}

	if err := checkAcyclic(m.Steps, byID); err != nil {
		return nil, apperr.ManifestInvalid("workflow %q: %v", m.Workflow.Name, err)
	}

	steps := make([]Step, 0, len(m.Steps))
	for _, s := range m.Steps {
		text, err := os.ReadFile(filepath.Join(templateDir, s.PromptFile))
		if err != nil {
			return nil, apperr.ManifestInvalid("workflow %q: step %q: prompt template %q does not resolve: %v", m.Workflow.Name, s.ID, s.PromptFile, err)
		}

		steps = append(steps, Step{
			ID:          s.ID,
			Role:        model.Role(s.Role),
			PromptFile:  s.PromptFile,
			PromptText:  string(text),
			DependsOn:   s.DependsOn,
			Condition:   s.Condition,
			MaxRetries:  s.MaxRetries,
			RetryTarget: s.RetryTarget,
		})
	}

	resolveRetryTargets(steps)

	newByID := make(map[string]int, len(steps))
	for i, s := range steps {
		newByID[s.ID] = i
	}

	return &Workflow{
		Name:        m.Workflow.Name,
		Description: m.Workflow.Description,
		Version:     m.Workflow.Version,
		Steps:       steps,
		byID:        newByID,
	}, nil
}

// resolveRetryTargets fills in an implicit retry target from a step's own
// condition when the manifest didn't set retry_target explicitly, per Design
// Note 1: "represent the fix-target relationship as metadata on the retry
// step, defaulting to the step named in the retry step's condition."
func resolveRetryTargets(steps []Step) {
	for i := range steps {
		if steps[i].RetryTarget != "" {
			continue
		}
		cond, err := ParseCondition(steps[i].Condition)
		if err != nil || cond == nil {
			continue
		}
		steps[i].RetryTarget = cond.Step
	}
}

// checkAcyclic runs an iterative DFS cycle check over the depends_on relation
// (spec.md §4.1(c)).
func checkAcyclic(steps []StepSpec, byID map[string]int) error {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make([]int, len(steps))

	var visit func(i int, path []string) error
	visit = func(i int, path []string) error {
		switch state[i] {
		case done:
			return nil
		case visiting:
			return fmt.Errorf("cycle detected: %v -> %s", path, steps[i].ID)
		}
		state[i] = visiting
		for _, dep := range steps[i].DependsOn {
			j := byID[dep]
			if err := visit(j, append(path, steps[i].ID)); err != nil {
				return err
			}
		}
		state[i] = done
		return nil
	}

	for i := range steps {
		if err := visit(i, nil); err != nil {
			return err
		}
	}
	return nil
}
