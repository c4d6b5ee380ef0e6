// Package store declares the State Store contract (spec.md §3 / §4 component
// B): a durable, pure-CRUD record of colonies, crabs, missions, tasks,
// dependency edges, runs, and events, with no scheduling or cascade policy.
// The concrete SQLite-backed implementation lives in internal/store/sqlite —
// the driver itself is an out-of-scope external collaborator per spec.md §1,
// but the schema and queries it runs are this module's responsibility.
package store

import (
	"context"
	"time"

	"colony/internal/model"
)

// Store is the full CRUD surface every other component depends on. WithTx
// runs fn against a Store bound to a single database transaction — every
// multi-step invariant named in spec.md §5 ("create mission with N tasks and
// M edges; atomic assign; atomic cascade of one downstream task; retry loop
// reset") is expressed as one WithTx call.
type Store interface {
	WithTx(ctx context.Context, fn func(Store) error) error

	CreateColony(ctx context.Context, c *model.Colony) error
	GetColony(ctx context.Context, id string) (*model.Colony, error)
	ListColonies(ctx context.Context) ([]*model.Colony, error)

	UpsertCrab(ctx context.Context, c *model.Crab) error
	FindCrabByRole(ctx context.Context, colonyID string, role model.Role) (*model.Crab, error)
	GetCrab(ctx context.Context, id string) (*model.Crab, error)
	ListCrabs(ctx context.Context, colonyID string) ([]*model.Crab, error)
	ListIdleCrabs(ctx context.Context, colonyID string) ([]*model.Crab, error)
	SetCrabState(ctx context.Context, crabID string, state model.CrabState, currentTaskID, currentRunID string) error
	TouchHeartbeat(ctx context.Context, crabID string, at time.Time) error
	ListStaleCrabs(ctx context.Context, cutoff time.Time) ([]*model.Crab, error)

	CreateMission(ctx context.Context, m *model.Mission) error
	GetMission(ctx context.Context, id string) (*model.Mission, error)
	ListMissions(ctx context.Context, colonyID string) ([]*model.Mission, error)
	UpdateMissionStatus(ctx context.Context, id string, status model.MissionStatus) error

	CreateTask(ctx context.Context, t *model.Task) error
	GetTask(ctx context.Context, id string) (*model.Task, error)
	ListTasksByMission(ctx context.Context, missionID string) ([]*model.Task, error)
	ListQueuedTasks(ctx context.Context) ([]*model.Task, error)
	UpdateTask(ctx context.Context, t *model.Task) error

	CreateEdge(ctx context.Context, e *model.DependencyEdge) error
	ListPrerequisites(ctx context.Context, taskID string) ([]string, error)
	ListDependents(ctx context.Context, prerequisiteTaskID string) ([]string, error)

	CreateRun(ctx context.Context, r *model.Run) error
	GetRun(ctx context.Context, id string) (*model.Run, error)
	GetLatestRunForTask(ctx context.Context, taskID string) (*model.Run, error)
	ListRunsByTask(ctx context.Context, taskID string) ([]*model.Run, error)
	UpdateRun(ctx context.Context, r *model.Run) error

	CreateEvent(ctx context.Context, e *model.Event) error
	ListEvents(ctx context.Context, colonyID string, limit int) ([]*model.Event, error)
}
