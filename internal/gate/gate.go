// Package gate implements the Registration Gate (SPEC_FULL.md §4.7): a
// single mutex serializes crab registration, enforcing "at most one crab per
// named role per colony" with the wildcard role any exempt.
package gate

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"colony/internal/apperr"
	"colony/internal/eventbus"
	"colony/internal/model"
	"colony/internal/store"
	"colony/internal/telemetry"
)

// Gate is the process-wide lock spec.md §9 names as the one required
// ambient mutex; every other coordination point in the engine is
// per-mission, expressed through the store's own transactions.
type Gate struct {
	mu        sync.Mutex
	store     store.Store
	bus       *eventbus.Bus
	telemetry *telemetry.Telemetry
	logger    *slog.Logger
}

func New(st store.Store, bus *eventbus.Bus, tel *telemetry.Telemetry, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{store: st, bus: bus, telemetry: tel, logger: logger}
}

// RegisterInput is what a crab (or the operator on its behalf) supplies at
// registration.
type RegisterInput struct {
	ID       string
	ColonyID string
	Name     string
	Role     model.Role
}

// Register implements spec.md §4.7's procedure exactly: look up, conflict
// check, upsert — all under one mutex held only across that single store
// transaction, never across crab inbound I/O (spec.md §5 suspension rule).
func (g *Gate) Register(ctx context.Context, in RegisterInput) (*model.Crab, error) {
	if !in.Role.Valid() {
		return nil, fmt.Errorf("invalid role %q", in.Role)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, err := g.store.GetColony(ctx, in.ColonyID); err != nil {
		return nil, fmt.Errorf("look up colony: %w", err)
	}

	if in.Role != model.RoleAny {
		existing, err := g.store.FindCrabByRole(ctx, in.ColonyID, in.Role)
		switch {
		case err == nil && existing.ID != in.ID:
			g.telemetry.RegistrationConflict(ctx, string(in.Role))
			return nil, apperr.RoleConflict("role %q in colony %q already held by crab %q", in.Role, in.ColonyID, existing.ID)
		case err != nil:
			if kind, ok := apperr.Of(err); !ok || kind != apperr.KindNotFound {
				return nil, fmt.Errorf("check role conflict: %w", err)
			}
			// no existing holder; registration proceeds
		}
	}

	now := time.Now().UTC()
	crab := &model.Crab{
		ID:            in.ID,
		ColonyID:      in.ColonyID,
		Name:          in.Name,
		Role:          in.Role,
		State:         model.CrabIdle,
		LastHeartbeat: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if previous, err := g.store.GetCrab(ctx, in.ID); err == nil {
		crab.CreatedAt = previous.CreatedAt
		crab.State = previous.State
		crab.CurrentTaskID = previous.CurrentTaskID
		crab.CurrentRunID = previous.CurrentRunID
	}

	if err := g.store.UpsertCrab(ctx, crab); err != nil {
		return nil, fmt.Errorf("upsert crab: %w", err)
	}

	evt := &model.Event{
		ID:        uuid.NewString(),
		Type:      model.EventCrabRegistered,
		ColonyID:  in.ColonyID,
		Subject:   crab.ID,
		Data:      map[string]string{"role": string(crab.Role), "name": crab.Name},
		CreatedAt: now,
	}
	if err := g.bus.Publish(ctx, evt); err != nil {
		g.logger.Warn("failed to publish registration event", "crab_id", crab.ID, "error", err)
	}

	g.logger.Info("crab registered", "crab_id", crab.ID, "colony_id", crab.ColonyID, "role", crab.Role)
	return crab, nil
}
