package eventbus_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"colony/internal/eventbus"
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

func TestInboxReturnsSameChannelForSameCrab(t *testing.T) {
	st := openStore(t)
	bus := eventbus.New(st, nil)

	a := bus.Inbox("crab-1")
	b := bus.Inbox("crab-1")
	require.Equal(t, a, b)
}

func TestDeliverDoesNotBlockOnFullInbox(t *testing.T) {
	st := openStore(t)
	bus := eventbus.New(st, nil)

	for i := 0; i < 32; i++ {
		bus.Deliver("crab-1", eventbus.Assignment{TaskID: "t"})
	}
	// must not deadlock or panic even though the inbox capacity is far smaller
}

func TestNotifyCoalescesRedundantWakes(t *testing.T) {
	st := openStore(t)
	bus := eventbus.New(st, nil)

	bus.Notify()
	bus.Notify()
	bus.Notify()

	select {
	case <-bus.Ticks():
	default:
		t.Fatal("expected at least one queued tick")
	}
	select {
	case <-bus.Ticks():
		t.Fatal("redundant notifications must coalesce into a single pending tick")
	default:
	}
}

func TestSubscribeReceivesSnapshotThenPublishedEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st := openStore(t)
	require.NoError(t, st.CreateColony(context.Background(), &model.Colony{ID: "colony-1", Name: "c"}))
	bus := eventbus.New(st, nil)

	ch := bus.Subscribe(ctx, "colony-1")

	select {
	case evt := <-ch:
		require.Equal(t, model.EventSnapshot, evt.Type)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for snapshot")
	}

	require.NoError(t, bus.Publish(context.Background(), &model.Event{ID: "evt-1", Type: model.EventTaskUpdated, ColonyID: "colony-1", Subject: "task-1"}))

	select {
	case evt := <-ch:
		require.Equal(t, model.EventTaskUpdated, evt.Type)
		require.Equal(t, "task-1", evt.Subject)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for published event")
	}
}

func TestSubscribeChannelClosesWhenContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	st := openStore(t)
	require.NoError(t, st.CreateColony(context.Background(), &model.Colony{ID: "colony-1", Name: "c"}))
	bus := eventbus.New(st, nil)

	ch := bus.Subscribe(ctx, "colony-1")
	<-ch // drain the snapshot
	cancel()

	require.Eventually(t, func() bool {
		_, ok := <-ch
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestBroadcastFansOutToMultipleObservers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st := openStore(t)
	require.NoError(t, st.CreateColony(context.Background(), &model.Colony{ID: "colony-1", Name: "c"}))
	bus := eventbus.New(st, nil)

	ch1 := bus.Subscribe(ctx, "colony-1")
	ch2 := bus.Subscribe(ctx, "colony-1")
	<-ch1
	<-ch2

	bus.Broadcast(model.Event{ID: "evt-1", Type: model.EventMissionUpdated})

	for _, ch := range []<-chan model.Event{ch1, ch2} {
		select {
		case evt := <-ch:
			require.Equal(t, "evt-1", evt.ID)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for broadcast")
		}
	}
}
