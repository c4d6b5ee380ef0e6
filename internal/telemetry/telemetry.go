// Package telemetry wires OpenTelemetry counters for the control-plane,
// grounded on the teacher's internal/lattice/telemetry.go (a meter obtained
// once at construction, instruments created up front, Add called inline with
// the operation they observe — no wrapper abstraction beyond that).
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/metric"
)

// Telemetry holds the counters the engine's components increment. A nil
// *Telemetry is valid everywhere it's accepted — every method is a no-op on
// a nil receiver, so wiring telemetry is optional at construction.
type Telemetry struct {
	taskTransitions       metric.Int64Counter
	schedulerMatches      metric.Int64Counter
	cascadeEvaluations    metric.Int64Counter
	registrationConflicts metric.Int64Counter
	heartbeatTimeouts     metric.Int64Counter
}

// New creates the instrument set from a meter (e.g. meterProvider.Meter("colony")).
func New(meter metric.Meter) (*Telemetry, error) {
	taskTransitions, err := meter.Int64Counter("colony.task.transitions",
		metric.WithDescription("task state transitions applied by the cascade engine"))
	if err != nil {
		return nil, err
	}
	schedulerMatches, err := meter.Int64Counter("colony.scheduler.matches",
		metric.WithDescription("queued tasks matched to an idle crab per tick"))
	if err != nil {
		return nil, err
	}
	cascadeEvaluations, err := meter.Int64Counter("colony.cascade.evaluations",
		metric.WithDescription("condition evaluations performed during cascade"))
	if err != nil {
		return nil, err
	}
	registrationConflicts, err := meter.Int64Counter("colony.gate.conflicts",
		metric.WithDescription("crab registrations rejected for role conflict"))
	if err != nil {
		return nil, err
	}
	heartbeatTimeouts, err := meter.Int64Counter("colony.scheduler.heartbeat_timeouts",
		metric.WithDescription("crabs moved offline for missed heartbeats"))
	if err != nil {
		return nil, err
	}

	return &Telemetry{
		taskTransitions:       taskTransitions,
		schedulerMatches:      schedulerMatches,
		cascadeEvaluations:    cascadeEvaluations,
		registrationConflicts: registrationConflicts,
		heartbeatTimeouts:     heartbeatTimeouts,
	}, nil
}

func (t *Telemetry) TaskTransition(ctx context.Context, from, to string) {
	if t == nil {
		return
	}
	t.taskTransitions.Add(ctx, 1, metric.WithAttributes(
		attrString("from", from), attrString("to", to)))
}

func (t *Telemetry) SchedulerMatch(ctx context.Context, role string) {
	if t == nil {
		return
	}
	t.schedulerMatches.Add(ctx, 1, metric.WithAttributes(attrString("role", role)))
}

func (t *Telemetry) CascadeEvaluation(ctx context.Context, outcome string) {
	if t == nil {
		return
	}
	t.cascadeEvaluations.Add(ctx, 1, metric.WithAttributes(attrString("outcome", outcome)))
}

func (t *Telemetry) RegistrationConflict(ctx context.Context, role string) {
	if t == nil {
		return
	}
	t.registrationConflicts.Add(ctx, 1, metric.WithAttributes(attrString("role", role)))
}

func (t *Telemetry) HeartbeatTimeout(ctx context.Context, crabID string) {
	if t == nil {
		return
	}
	t.heartbeatTimeouts.Add(ctx, 1, metric.WithAttributes(attrString("crab_id", crabID)))
}
