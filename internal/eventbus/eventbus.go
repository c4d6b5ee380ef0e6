// Package eventbus implements the Event Bus (SPEC_FULL.md §4.6): per-crab
// inbound delivery of task assignments, and best-effort broadcast of state
// changes to observers. Shaped after the teacher's CloudEvent envelope in
// internal/lattice/events/types.go, trimmed to this domain's event types.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"colony/internal/model"
	"colony/internal/store"
)

// Assignment is what the Scheduler delivers to a crab's inbox when it
// matches a queued task (spec.md §4.5 / §6 "Crab inbound protocol").
type Assignment struct {
	TaskID      string
	MissionID   string
	Role        model.Role
	Prompt      string
	Context     string
	WorkdirPath string
}

const (
	inboxCapacity    = 16 // at-least-once; a full inbox means the crab is behind, not that delivery is dropped
	observerCapacity = 64
)

// Bus owns per-crab inboxes and observer broadcast channels. It also exposes
// Ticks, the coalesced signal the Scheduler listens on (spec.md §4.5: "runs
// on a timer and on every event that could make a match possible").
type Bus struct {
	logger *slog.Logger
	store  store.Store

	mu      sync.Mutex
	inboxes map[string]chan Assignment

	obsMu     sync.Mutex
	observers map[int]chan model.Event
	nextObsID int

	ticks chan struct{}
}

func New(st store.Store, logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		logger:    logger,
		store:     st,
		inboxes:   make(map[string]chan Assignment),
		observers: make(map[int]chan model.Event),
		ticks:     make(chan struct{}, 1),
	}
}

// Inbox returns (creating if necessary) the per-crab channel assignments are
// delivered on. The channel is looked up by identity, so a reconnecting crab
// gets back any assignment queued while it was disconnected.
func (b *Bus) Inbox(crabID string) chan Assignment {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.inboxes[crabID]
	if !ok {
		ch = make(chan Assignment, inboxCapacity)
		b.inboxes[crabID] = ch
	}
	return ch
}

// Deliver sends an assignment to a crab's inbox without blocking. Delivery is
// at-least-once: the store (task status Assigned) is the durable truth, so if
// the inbox is momentarily full the assignment is simply picked up on the
// crab's next poll rather than retried here.
func (b *Bus) Deliver(crabID string, a Assignment) {
	ch := b.Inbox(crabID)
	select {
	case ch <- a:
	default:
		b.logger.Warn("crab inbox full, assignment left for next poll", "crab_id", crabID, "task_id", a.TaskID)
	}
}

// Ticks returns the coalesced scheduler-wake channel. A send to it is
// non-blocking and never queues more than one pending wake.
func (b *Bus) Ticks() <-chan struct{} {
	return b.ticks
}

// Notify wakes the scheduler. Safe to call from the cascade engine, the
// registration gate, or a cron-driven timer; redundant notifications coalesce.
func (b *Bus) Notify() {
	select {
	case b.ticks <- struct{}{}:
	default:
	}
}

// Subscribe registers an observer. It first receives a synthesized snapshot
// event built from the store's current state for colonyID, then every
// subsequent published event. The returned channel is closed when ctx is
// done.
func (b *Bus) Subscribe(ctx context.Context, colonyID string) <-chan model.Event {
	ch := make(chan model.Event, observerCapacity)

	b.obsMu.Lock()
	id := b.nextObsID
	b.nextObsID++
	b.observers[id] = ch
	b.obsMu.Unlock()

	go func() {
		snapshot, err := b.buildSnapshot(ctx, colonyID)
		if err != nil {
			b.logger.Warn("failed to build observer snapshot", "colony_id", colonyID, "error", err)
		} else {
			select {
			case ch <- *snapshot:
			case <-ctx.Done():
			}
		}

		<-ctx.Done()
		b.obsMu.Lock()
		delete(b.observers, id)
		close(ch)
		b.obsMu.Unlock()
	}()

	return ch
}

// snapshotState is the full current state a freshly connected observer needs
// to render a dashboard without replaying history, per spec.md §4.6.
type snapshotState struct {
	Colony   *model.Colony   `json:"colony"`
	Crabs    []*model.Crab   `json:"crabs"`
	Missions []*model.Mission `json:"missions"`
	Tasks    []*model.Task   `json:"tasks"`
}

func (b *Bus) buildSnapshot(ctx context.Context, colonyID string) (*model.Event, error) {
	colony, err := b.store.GetColony(ctx, colonyID)
	if err != nil {
		return nil, fmt.Errorf("load colony for snapshot: %w", err)
	}
	crabs, err := b.store.ListCrabs(ctx, colonyID)
	if err != nil {
		return nil, fmt.Errorf("list crabs for snapshot: %w", err)
	}
	missions, err := b.store.ListMissions(ctx, colonyID)
	if err != nil {
		return nil, fmt.Errorf("list missions for snapshot: %w", err)
	}

	var tasks []*model.Task
	for _, m := range missions {
		ts, err := b.store.ListTasksByMission(ctx, m.ID)
		if err != nil {
			return nil, fmt.Errorf("list tasks for snapshot: %w", err)
		}
		tasks = append(tasks, ts...)
	}

	state, err := json.Marshal(snapshotState{Colony: colony, Crabs: crabs, Missions: missions, Tasks: tasks})
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}

	return &model.Event{
		ID:        uuid.NewString(),
		Type:      model.EventSnapshot,
		ColonyID:  colonyID,
		Data:      map[string]string{"state": string(state)},
		CreatedAt: time.Now().UTC(),
	}, nil
}

// Publish persists the event and broadcasts it to every connected observer.
// Use this from callers that are not already inside a store transaction
// (e.g. the Registration Gate). Callers that record events as part of a
// larger transaction (the Cascade Engine) should write the event with the
// transaction's Store directly and call Broadcast after it commits.
func (b *Bus) Publish(ctx context.Context, e *model.Event) error {
	if err := b.store.CreateEvent(ctx, e); err != nil {
		return err
	}
	b.Broadcast(*e)
	return nil
}

// Broadcast fans e out to every connected observer without persisting it. A
// full observer channel drops the oldest queued event for that observer
// rather than blocking the publisher (spec.md §4.6: "best-effort... no
// buffering beyond a small bounded backlog").
func (b *Bus) Broadcast(e model.Event) {
	b.obsMu.Lock()
	defer b.obsMu.Unlock()
	for id, ch := range b.observers {
		select {
		case ch <- e:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- e:
			default:
				b.logger.Warn("observer channel full, dropping event", "observer_id", id, "event_type", e.Type)
			}
		}
	}
}
