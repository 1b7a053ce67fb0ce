package db

import (
	"context"
	"testing"
	"time"

	dbconf "github.com/amirphl/ladder-trader/internal/db/conf"
	"github.com/amirphl/ladder-trader/internal/journal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseStorage(t *testing.T, s Storage) {
	ctx := context.Background()
	base := time.Date(2025, 3, 4, 9, 20, 0, 0, time.UTC)

	entry := journal.Order{
		RecordID: "r1", Account: "acc", Instrument: "TCS", SecurityID: "11536", Role: "entry",
		Side: "BUY", Kind: "LIMIT", Product: "INTRADAY", Quantity: 1, Price: 523.4,
		State: "CREATED", CreatedAt: base, UpdatedAt: base,
	}
	require.NoError(t, s.SaveOrder(ctx, entry))

	entry.State = "TRANSIT"
	entry.BrokerOrderID = "b-1"
	entry.UpdatedAt = base.Add(time.Second)
	require.NoError(t, s.SaveOrder(ctx, entry))

	got, err := s.GetOrder(ctx, "r1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "TRANSIT", got.State)
	assert.Equal(t, "b-1", got.BrokerOrderID)
	assert.Equal(t, 523.4, got.Price)

	missing, err := s.GetOrder(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	closed := entry
	closed.RecordID = "r0"
	closed.State = "REJECTED"
	closed.CreatedAt = base.Add(-time.Minute)
	require.NoError(t, s.SaveOrder(ctx, closed))

	other := entry
	other.RecordID = "r2"
	other.Account = "someone-else"
	require.NoError(t, s.SaveOrder(ctx, other))

	open, err := s.GetOpenOrders(ctx, "acc")
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "r1", open[0].RecordID)

	require.NoError(t, s.LogEvent(ctx, journal.Event{Time: base, Type: "order", Description: "CREATED->TRANSIT", Data: map[string]any{"record": "r1"}}))
	require.NoError(t, s.LogEvent(ctx, journal.Event{Time: base.Add(time.Minute), Type: "order", Description: "TRANSIT->TRADED"}))
	require.NoError(t, s.LogEvent(ctx, journal.Event{Time: base, Type: "runner", Description: "started"}))

	events, err := s.GetEvents(ctx, "order", base, base.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "CREATED->TRANSIT", events[0].Description)
	assert.Equal(t, "r1", events[0].Data["record"])
	assert.Equal(t, "TRANSIT->TRADED", events[1].Description)

	require.NoError(t, s.DeleteEvents(ctx, "order", base.Add(time.Second)))
	events, err = s.GetEvents(ctx, "order", base, base.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "TRANSIT->TRADED", events[0].Description)

	runnerEvents, err := s.GetEvents(ctx, "runner", base, base.Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, runnerEvents, 1)
}

func TestMemoryStorage(t *testing.T) {
	exerciseStorage(t, NewMemory())
}

func TestPostgresStorage(t *testing.T) {
	cfg, cleanup := dbconf.NewTestConfig(t)
	require.NotNil(t, cfg)
	defer cleanup()

	pg, err := New(*cfg)
	require.NoError(t, err)
	exerciseStorage(t, pg)

	ctx := context.Background()
	require.NoError(t, pg.DeleteEvents(ctx, "order", time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)))
	events, err := pg.GetEvents(ctx, "order", time.Time{}, time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestPostgresTransactionFromContext(t *testing.T) {
	cfg, cleanup := dbconf.NewTestConfig(t)
	require.NotNil(t, cfg)
	defer cleanup()

	pg, err := New(*cfg)
	require.NoError(t, err)

	ctx := context.Background()
	tx, err := pg.GetDB().BeginTx(ctx, nil)
	require.NoError(t, err)
	txCtx := WithTransaction(ctx, tx)

	require.NoError(t, pg.LogEvent(txCtx, journal.Event{Time: time.Now(), Type: "ladder", Description: "rolled back"}))
	require.NoError(t, tx.Rollback())

	events, err := pg.GetEvents(ctx, "ladder", time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestNewRejectsNilConnection(t *testing.T) {
	_, err := New(dbconf.Config{})
	assert.Error(t, err)
}
