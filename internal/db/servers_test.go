package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ottdwire/ottdwire/internal/events"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := NewRegistry(filepath.Join(t.TempDir(), "nested", "registry.db"))
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func discovered(addr string, clients uint8, rtt int64) events.ServerDiscoveredPayload {
	return events.ServerDiscoveredPayload{
		Address:     addr,
		Name:        "Server " + addr,
		Revision:    "14.1",
		MapName:     "Random Map",
		ClientsOn:   clients,
		ClientsMax:  25,
		Companies:   2,
		Dedicated:   true,
		NewGRFCount: 3,
		RoundTripMs: rtt,
	}
}

func TestUpsertAndGet(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()
	first := time.Unix(1_700_000_000, 0)

	require.NoError(t, r.Upsert(ctx, discovered("192.0.2.1:3979", 4, 42), first))
	s, err := r.Get(ctx, "192.0.2.1:3979")
	require.NoError(t, err)
	assert.Equal(t, "Server 192.0.2.1:3979", s.Name)
	assert.Equal(t, 4, s.ClientsOn)
	assert.True(t, s.Dedicated)
	assert.False(t, s.HasPassword)
	assert.Equal(t, 3, s.NewGRFCount)
	assert.Equal(t, int64(42), s.RoundTripMs)
	assert.True(t, s.FirstSeen.Equal(first))

	// A listing without round trip keeps the measured one.
	later := first.Add(time.Hour)
	require.NoError(t, r.Upsert(ctx, discovered("192.0.2.1:3979", 7, 0), later))
	s, err = r.Get(ctx, "192.0.2.1:3979")
	require.NoError(t, err)
	assert.Equal(t, 7, s.ClientsOn)
	assert.Equal(t, int64(42), s.RoundTripMs)
	assert.True(t, s.FirstSeen.Equal(first))
	assert.True(t, s.LastSeen.Equal(later))

	_, err = r.Get(ctx, "192.0.2.9:3979")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Error(t, r.Upsert(ctx, events.ServerDiscoveredPayload{}, later))
}

func TestFailuresResetOnAnswer(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, r.Upsert(ctx, discovered("192.0.2.1:3979", 1, 10), now))
	require.NoError(t, r.MarkFailed(ctx, "192.0.2.1:3979"))
	require.NoError(t, r.MarkFailed(ctx, "192.0.2.1:3979"))
	require.NoError(t, r.MarkFailed(ctx, "192.0.2.2:3979"))

	s, err := r.Get(ctx, "192.0.2.1:3979")
	require.NoError(t, err)
	assert.Equal(t, 2, s.Failures)

	_, err = r.Get(ctx, "192.0.2.2:3979")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, r.Upsert(ctx, discovered("192.0.2.1:3979", 1, 10), now))
	s, err = r.Get(ctx, "192.0.2.1:3979")
	require.NoError(t, err)
	assert.Zero(t, s.Failures)
}

func TestListAndPrune(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)

	require.NoError(t, r.Upsert(ctx, discovered("192.0.2.1:3979", 1, 0), now.Add(-10*24*time.Hour)))
	require.NoError(t, r.Upsert(ctx, discovered("192.0.2.2:3979", 9, 0), now))
	require.NoError(t, r.Upsert(ctx, discovered("192.0.2.3:3979", 5, 0), now))

	list, err := r.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "192.0.2.2:3979", list[0].Address)
	assert.Equal(t, "192.0.2.3:3979", list[1].Address)

	addrs, err := r.Addresses(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"192.0.2.1:3979", "192.0.2.2:3979", "192.0.2.3:3979"}, addrs)

	n, err := r.Prune(ctx, now.Add(-7*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	addrs, err = r.Addresses(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"192.0.2.2:3979", "192.0.2.3:3979"}, addrs)
}

func TestAttachRecordsEvents(t *testing.T) {
	r := newTestRegistry(t)
	bus := events.NewEventBus()
	r.Attach(bus)
	ctx := context.Background()

	require.NoError(t, bus.EmitSync(ctx, events.Event{
		Type:    events.EventServerDiscovered,
		Payload: discovered("192.0.2.1:3979", 3, 15),
	}))
	require.NoError(t, bus.EmitSync(ctx, events.Event{
		Type:    events.EventQueryTimeout,
		Payload: events.QueryTimeoutPayload{Address: "192.0.2.1:3979", Timeout: time.Second},
	}))

	s, err := r.Get(ctx, "192.0.2.1:3979")
	require.NoError(t, err)
	assert.Equal(t, 3, s.ClientsOn)
	assert.Equal(t, 1, s.Failures)

	assert.Error(t, bus.EmitSync(ctx, events.Event{Type: events.EventServerDiscovered, Payload: "bogus"}))

	r.Detach(bus)
	assert.Zero(t, bus.HandlerCount(events.EventServerDiscovered))
	assert.Zero(t, bus.HandlerCount(events.EventQueryTimeout))
}

func TestReopenKeepsRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.db")
	r, err := NewRegistry(path)
	require.NoError(t, err)
	require.NoError(t, r.Upsert(context.Background(), discovered("192.0.2.1:3979", 1, 0), time.Now()))
	require.NoError(t, r.Close())

	r, err = NewRegistry(path)
	require.NoError(t, err)
	defer r.Close()
	addrs, err := r.Addresses(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"192.0.2.1:3979"}, addrs)
}
