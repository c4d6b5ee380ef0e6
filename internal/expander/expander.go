// Package expander implements the Mission Expander (SPEC_FULL.md §4.2): it
// turns an operator's mission request into a persisted mission plus its task
// DAG, either by instantiating a named workflow's steps or, for an ad-hoc
// mission, a single degenerate task with no dependencies.
package expander

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"colony/internal/model"
	"colony/internal/store"
	"colony/internal/workflow"
)

// ExpandInput is everything the operator supplies when creating a mission.
type ExpandInput struct {
	ColonyID     string
	Prompt       string
	WorkflowName string // empty means ad-hoc, single-task mission
	ExternalRef  string
	WorkdirPath  string
	CustomVars   map[string]string // forwarded to workflow.TemplateVars.Custom at render time
}

// Expander creates missions and their task DAG inside a single store
// transaction, per spec.md §5's "create mission with N tasks and M edges" atomicity
// requirement.
type Expander struct {
	store     store.Store
	workflows *workflow.Registry
}

func New(st store.Store, registry *workflow.Registry) *Expander {
	return &Expander{store: st, workflows: registry}
}

// Expand creates the mission row and, when a workflow is named, one task per
// manifest step in manifest order with the dependency edges it declares.
// Every task whose depends_on list is empty starts Queued; every other task
// starts Blocked (SPEC_FULL.md §4.2).
func (e *Expander) Expand(ctx context.Context, in ExpandInput) (*model.Mission, error) {
	var wf *workflow.Workflow
	if in.WorkflowName != "" {
		found, ok := e.workflows.Get(in.WorkflowName)
		if !ok {
			return nil, fmt.Errorf("workflow %q not registered", in.WorkflowName)
		}
		wf = found
	}

	now := time.Now().UTC()
	mission := &model.Mission{
		ID:           uuid.NewString(),
		ColonyID:     in.ColonyID,
		Prompt:       in.Prompt,
		WorkflowName: in.WorkflowName,
		ExternalRef:  in.ExternalRef,
		Status:       model.MissionPending,
		WorkdirPath:  in.WorkdirPath,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err := e.store.WithTx(ctx, func(tx store.Store) error {
		if err := tx.CreateMission(ctx, mission); err != nil {
			return fmt.Errorf("create mission: %w", err)
		}

		if wf == nil {
			return e.createAdHocTask(ctx, tx, mission, in)
		}
		return e.createWorkflowTasks(ctx, tx, mission, wf, in)
	})
	if err != nil {
		return nil, err
	}
	return mission, nil
}

func (e *Expander) createAdHocTask(ctx context.Context, tx store.Store, mission *model.Mission, in ExpandInput) error {
	now := time.Now().UTC()
	task := &model.Task{
		ID:        uuid.NewString(),
		MissionID: mission.ID,
		StepID:    "main",
		Role:           model.RoleAny,
		Status:         model.TaskQueued,
		PromptTemplate: in.Prompt,
		Prompt: workflow.Render(in.Prompt, workflow.TemplateVars{
			MissionPrompt: in.Prompt,
			WorktreePath:  in.WorkdirPath,
			Custom:        in.CustomVars,
		}),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := tx.CreateTask(ctx, task); err != nil {
		return fmt.Errorf("create ad-hoc task: %w", err)
	}
	return nil
}

func (e *Expander) createWorkflowTasks(ctx context.Context, tx store.Store, mission *model.Mission, wf *workflow.Workflow, in ExpandInput) error {
	now := time.Now().UTC()
	idByStep := make(map[string]string, len(wf.Steps))

	for _, step := range wf.Steps {
		status := model.TaskBlocked
		if len(step.DependsOn) == 0 {
			status = model.TaskQueued
		}

		taskID := uuid.NewString()
		idByStep[step.ID] = taskID

		task := &model.Task{
			ID:        taskID,
			MissionID: mission.ID,
			StepID:    step.ID,
			Role:           step.Role,
			Status:         status,
			PromptTemplate: step.PromptText,
			Prompt: workflow.Render(step.PromptText, workflow.TemplateVars{
				MissionPrompt: in.Prompt,
				WorktreePath:  in.WorkdirPath,
				Custom:        in.CustomVars,
			}),
			Condition:   step.Condition,
			RetryTarget: step.RetryTarget,
			MaxRetries:  step.MaxRetries,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := tx.CreateTask(ctx, task); err != nil {
			return fmt.Errorf("create task for step %q: %w", step.ID, err)
		}
	}

	for _, step := range wf.Steps {
		for _, dep := range step.DependsOn {
			prereqID, ok := idByStep[dep]
			if !ok {
				return fmt.Errorf("step %q depends on unknown step %q", step.ID, dep)
			}
			if err := tx.CreateEdge(ctx, &model.DependencyEdge{TaskID: idByStep[step.ID], PrerequisiteID: prereqID}); err != nil {
				return fmt.Errorf("create edge %s -> %s: %w", step.ID, dep, err)
			}
		}
	}

	return nil
}
