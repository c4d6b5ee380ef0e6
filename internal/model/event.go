package model

import "time"

// EventType is the closed set of state-change events the Event Bus fans out
// (spec.md §4.6 / §6).
type EventType string

const (
	EventColonyCreated  EventType = "colony.created"
	EventCrabRegistered EventType = "crab.registered"
	EventCrabUpdated    EventType = "crab.updated"
	EventMissionCreated EventType = "mission.created"
	EventMissionUpdated EventType = "mission.updated"
	EventTaskCreated    EventType = "task.created"
	EventTaskUpdated    EventType = "task.updated"
	EventRunCreated     EventType = "run.created"
	EventRunUpdated     EventType = "run.updated"
	EventRunCompleted   EventType = "run.completed"
	EventSnapshot       EventType = "snapshot"
)

// Event is the persisted, fanned-out record of a state change. Shaped after
// the teacher's CloudEvent envelope (internal/lattice/events/types.go),
// trimmed to what this domain needs: a type, a subject identifying the
// affected entity, a colony for scoping, and a JSON-ish payload carried as a
// map so observers (and the Store) don't need a generated union type.
type Event struct {
	ID        string
	Type      EventType
	ColonyID  string
	MissionID string
	Subject   string // entity ID the event is about (crab, mission, task, or run ID)
	Data      map[string]string
	CreatedAt time.Time
}
