package model

import "time"

// Colony is a tenancy boundary owning crabs and missions (spec.md §3).
type Colony struct {
	ID          string
	Name        string
	Description string
	SourceRepo  string
	CreatedAt   time.Time
}

// Crab is a long-lived executor agent (spec.md §3).
type Crab struct {
	ID         string
	ColonyID   string
	Name       string
	Role       Role
	State      CrabState
	CurrentTaskID string // empty unless State == CrabBusy
	CurrentRunID  string // empty unless State == CrabBusy
	LastHeartbeat time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Mission is a top-level operator-submitted objective (spec.md §3).
type Mission struct {
	ID           string
	ColonyID     string
	Prompt       string
	WorkflowName string // empty for an ad-hoc, single-task mission
	ExternalRef  string // e.g. a ticket number; stored only, not substituted into prompt templates
	Status       MissionStatus
	WorkdirPath  string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Task is one node of a mission's workflow DAG (spec.md §3).
type Task struct {
	ID          string
	MissionID   string
	StepID      string
	Role        Role
	Status      TaskStatus
	AssignedCrabID string
	PromptTemplate string // unrendered template text, re-rendered whenever Context changes
	Prompt      string
	Context     string
	Condition   string // e.g. "review.result == 'PASS'"; empty means always-true
	RetryTarget string // step ID this task's completion should re-queue, if any
	MaxRetries  int
	RetryCount  int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// DependencyEdge is an ordered (task, prerequisite) pair within one mission
// (spec.md §3). Inserted only by the Mission Expander.
type DependencyEdge struct {
	TaskID          string
	PrerequisiteID  string
}

// RunMetrics captures the lightweight execution metrics a run reports.
type RunMetrics struct {
	PromptTokens     int
	CompletionTokens int
	LatencyMs        int64
}

// Run is a single execution attempt by a crab on a task (spec.md §3).
type Run struct {
	ID        string
	TaskID    string
	CrabID    string
	MissionID string
	WorkdirPath string
	Status    RunStatus
	Progress  string
	Result    string // short discriminator, e.g. "PASS" / "FAIL"
	Summary   string
	Metrics   RunMetrics
	StartedAt time.Time
	UpdatedAt time.Time
	CompletedAt *time.Time
}
