package orderbook

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aidin1998/tickex/pkg/models"
)

func stores(t *testing.T) map[string]Store {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return map[string]Store{
		"memory": NewMemoryStore(),
		"redis":  NewRedisStore(client, "test", time.Hour),
	}
}

func TestKeyNamespaces(t *testing.T) {
	k := Key{InstrumentID: 7, Side: models.SideSell}
	assert.Equal(t, "7:SELL", k.PriceList())
	assert.Equal(t, "7:SELL:10000", k.Queue(10000))
	assert.Equal(t, "7:SELL:total-unit", k.Aggregate())
}

func TestStoreCommitAndRead(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)
	bids := Key{InstrumentID: 1, Side: models.SideBuy}

	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			err := store.Commit(ctx, []LevelWrite{
				{Key: bids, Price: 10000, Entries: []Entry{{OrderID: 1, UnfilledUnit: 50, CreatedAt: now}, {OrderID: 2, UnfilledUnit: 5, CreatedAt: now}}},
				{Key: bids, Price: 9900, Entries: []Entry{{OrderID: 3, UnfilledUnit: 7, CreatedAt: now}}},
				{Key: bids, Price: 12000, Entries: []Entry{{OrderID: 4, UnfilledUnit: 1, CreatedAt: now}}},
			}, &Record{ID: "submit:4", Body: []byte(`{"ok":true}`)})
			require.NoError(t, err)

			prices, err := store.Prices(ctx, bids)
			require.NoError(t, err)
			assert.Equal(t, []int64{9900, 10000, 12000}, prices)

			queue, err := store.Queue(ctx, bids, 10000)
			require.NoError(t, err)
			require.Len(t, queue, 2)
			assert.Equal(t, int64(1), queue[0].OrderID)
			assert.True(t, now.Equal(queue[0].CreatedAt))

			total, err := store.Aggregate(ctx, bids, 10000)
			require.NoError(t, err)
			assert.Equal(t, int64(55), total)

			body, ok, err := store.Result(ctx, "submit:4")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.JSONEq(t, `{"ok":true}`, string(body))

			_, ok, err = store.Result(ctx, "submit:5")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestStoreEmptyWriteDropsLevel(t *testing.T) {
	ctx := context.Background()
	asks := Key{InstrumentID: 2, Side: models.SideSell}

	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.Commit(ctx, []LevelWrite{
				{Key: asks, Price: 500, Entries: []Entry{{OrderID: 9, UnfilledUnit: 3}}},
			}, nil))
			require.NoError(t, store.Commit(ctx, []LevelWrite{{Key: asks, Price: 500}}, nil))

			prices, err := store.Prices(ctx, asks)
			require.NoError(t, err)
			assert.Empty(t, prices)
			queue, err := store.Queue(ctx, asks, 500)
			require.NoError(t, err)
			assert.Empty(t, queue)
			total, err := store.Aggregate(ctx, asks, 500)
			require.NoError(t, err)
			assert.Zero(t, total)
		})
	}
}

func TestTakeSnapshot(t *testing.T) {
	ctx := context.Background()
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.Commit(ctx, []LevelWrite{
				{Key: Key{InstrumentID: 3, Side: models.SideBuy}, Price: 100, Entries: []Entry{{OrderID: 1, UnfilledUnit: 10}}},
				{Key: Key{InstrumentID: 3, Side: models.SideSell}, Price: 110, Entries: []Entry{{OrderID: 2, UnfilledUnit: 4}, {OrderID: 3, UnfilledUnit: 6}}},
				{Key: Key{InstrumentID: 4, Side: models.SideSell}, Price: 110, Entries: []Entry{{OrderID: 5, UnfilledUnit: 1}}},
			}, nil))

			snap, err := TakeSnapshot(ctx, store, 3)
			require.NoError(t, err)
			assert.Equal(t, int64(3), snap.InstrumentID)
			require.Len(t, snap.Bids, 1)
			require.Len(t, snap.Asks, 1)
			assert.Equal(t, int64(10), snap.Bids[0].Quantity)
			assert.Equal(t, int64(110), snap.Asks[0].Price)
			assert.Equal(t, int64(10), snap.Asks[0].Quantity)
			assert.Len(t, snap.Asks[0].Orders, 2)

			empty, err := TakeSnapshot(ctx, store, 99)
			require.NoError(t, err)
			assert.Empty(t, empty.Bids)
			assert.Empty(t, empty.Asks)
		})
	}
}
