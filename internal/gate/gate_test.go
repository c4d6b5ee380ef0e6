package gate_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"colony/internal/apperr"
	"colony/internal/eventbus"
	"colony/internal/gate"
	"colony/internal/model"
	"colony/internal/store/sqlite"
)

func openStore(t *testing.T) *sqlite.Store {
	t.Helper()
	st, err := sqlite.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestRegisterNewCrab(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	require.NoError(t, st.CreateColony(ctx, &model.Colony{ID: "colony-1", Name: "c"}))

	g := gate.New(st, eventbus.New(st, nil), nil, nil)
	crab, err := g.Register(ctx, gate.RegisterInput{ID: "crab-1", ColonyID: "colony-1", Name: "reviewer-bot", Role: model.RoleReviewer})
	require.NoError(t, err)
	require.Equal(t, model.CrabIdle, crab.State)
}

func TestRegisterRejectsRoleConflictFromADifferentCrab(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	require.NoError(t, st.CreateColony(ctx, &model.Colony{ID: "colony-1", Name: "c"}))

	g := gate.New(st, eventbus.New(st, nil), nil, nil)
	_, err := g.Register(ctx, gate.RegisterInput{ID: "crab-1", ColonyID: "colony-1", Name: "first", Role: model.RoleReviewer})
	require.NoError(t, err)

	_, err = g.Register(ctx, gate.RegisterInput{ID: "crab-2", ColonyID: "colony-1", Name: "second", Role: model.RoleReviewer})
	require.Error(t, err)
	kind, ok := apperr.Of(err)
	require.True(t, ok)
	require.Equal(t, apperr.KindRoleConflict, kind)
}

func TestRegisterAllowsReregistrationOfTheSameCrab(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	require.NoError(t, st.CreateColony(ctx, &model.Colony{ID: "colony-1", Name: "c"}))

	g := gate.New(st, eventbus.New(st, nil), nil, nil)
	_, err := g.Register(ctx, gate.RegisterInput{ID: "crab-1", ColonyID: "colony-1", Name: "first", Role: model.RoleReviewer})
	require.NoError(t, err)

	_, err = g.Register(ctx, gate.RegisterInput{ID: "crab-1", ColonyID: "colony-1", Name: "first-renamed", Role: model.RoleReviewer})
	require.NoError(t, err)
}

func TestRegisterAllowsUnlimitedWildcardCrabs(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	require.NoError(t, st.CreateColony(ctx, &model.Colony{ID: "colony-1", Name: "c"}))

	g := gate.New(st, eventbus.New(st, nil), nil, nil)
	_, err := g.Register(ctx, gate.RegisterInput{ID: "crab-1", ColonyID: "colony-1", Name: "a", Role: model.RoleAny})
	require.NoError(t, err)
	_, err = g.Register(ctx, gate.RegisterInput{ID: "crab-2", ColonyID: "colony-1", Name: "b", Role: model.RoleAny})
	require.NoError(t, err)
}

func TestRegisterRejectsInvalidRole(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	require.NoError(t, st.CreateColony(ctx, &model.Colony{ID: "colony-1", Name: "c"}))

	g := gate.New(st, eventbus.New(st, nil), nil, nil)
	_, err := g.Register(ctx, gate.RegisterInput{ID: "crab-1", ColonyID: "colony-1", Name: "a", Role: model.Role("bogus")})
	require.Error(t, err)
}

func TestRegisterRejectsUnknownColony(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)

	g := gate.New(st, eventbus.New(st, nil), nil, nil)
	_, err := g.Register(ctx, gate.RegisterInput{ID: "crab-1", ColonyID: "missing-colony", Name: "a", Role: model.RoleAny})
	require.Error(t, err)
}
