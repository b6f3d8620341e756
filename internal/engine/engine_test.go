package engine

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Aidin1998/tickex/internal/orderbook"
	"github.com/Aidin1998/tickex/pkg/models"
	"github.com/Aidin1998/tickex/testutil"
)

const instrument int64 = 1

// eachStore runs fn against a fresh engine over every Store implementation.
func eachStore(t *testing.T, fn func(t *testing.T, e *Engine, store orderbook.Store)) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	for _, tc := range []struct {
		name  string
		store orderbook.Store
	}{
		{"memory", orderbook.NewMemoryStore()},
		{"redis", orderbook.NewRedisStore(client, "engine", time.Hour)},
	} {
		t.Run(tc.name, func(t *testing.T) {
			fn(t, New(tc.store, zap.NewNop()), tc.store)
		})
	}
}

func submit(t *testing.T, e *Engine, id int64, side string, price, amount int64) *SubmitOrderResponse {
	t.Helper()
	resp, err := e.Submit(context.Background(), &SubmitOrderRequest{
		OrderID: id, InstrumentID: instrument, Side: side, Price: price, Amount: amount,
		CreatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	return resp
}

func queue(t *testing.T, s orderbook.Store, side models.Side, price int64) []orderbook.Entry {
	t.Helper()
	q, err := s.Queue(context.Background(), orderbook.Key{InstrumentID: instrument, Side: side}, price)
	require.NoError(t, err)
	return q
}

func assertAggregateMatchesQueue(t *testing.T, s orderbook.Store, side models.Side, price int64) {
	t.Helper()
	key := orderbook.Key{InstrumentID: instrument, Side: side}
	q := queue(t, s, side, price)
	var sum int64
	for _, e := range q {
		sum += e.UnfilledUnit
	}
	total, err := s.Aggregate(context.Background(), key, price)
	require.NoError(t, err)
	assert.Equal(t, sum, total, "aggregate at %s:%d", side, price)

	prices, err := s.Prices(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, len(q) > 0, containsPrice(prices, price), "price list membership at %d", price)
}

func containsPrice(prices []int64, p int64) bool {
	for _, x := range prices {
		if x == p {
			return true
		}
	}
	return false
}

func TestSubmitUnmatchedRests(t *testing.T) {
	eachStore(t, func(t *testing.T, e *Engine, store orderbook.Store) {
		resp := submit(t, e, 1, "BUY", 10000, 50)
		assert.Equal(t, ResultUnmatched, resp.MatchResult)
		assert.Empty(t, resp.Makers)

		q := queue(t, store, models.SideBuy, 10000)
		require.Len(t, q, 1)
		assert.Equal(t, int64(50), q[0].UnfilledUnit)
		assertAggregateMatchesQueue(t, store, models.SideBuy, 10000)
	})
}

func TestScenarioPartialFillOfRestingBuy(t *testing.T) {
	eachStore(t, func(t *testing.T, e *Engine, store orderbook.Store) {
		submit(t, e, 1, "BUY", 10000, 50)

		resp := submit(t, e, 2, "SELL", 10000, 30)
		assert.Equal(t, ResultMatched, resp.MatchResult)
		assert.Equal(t, int64(2), resp.TakerOrderID)
		assert.Equal(t, int64(10000), resp.Price)
		assert.Equal(t, int64(30), resp.TotalMatchedAmount)
		assert.Equal(t, []MakerFill{{OrderID: 1, MatchedAmount: 30}}, resp.Makers)

		q := queue(t, store, models.SideBuy, 10000)
		require.Len(t, q, 1)
		assert.Equal(t, int64(1), q[0].OrderID)
		assert.Equal(t, int64(20), q[0].UnfilledUnit)
		assert.Empty(t, queue(t, store, models.SideSell, 10000))
		assertAggregateMatchesQueue(t, store, models.SideBuy, 10000)
		assertAggregateMatchesQueue(t, store, models.SideSell, 10000)
	})
}

func TestFIFOWithinPrice(t *testing.T) {
	eachStore(t, func(t *testing.T, e *Engine, store orderbook.Store) {
		submit(t, e, 1, "SELL", 10, 5)
		submit(t, e, 2, "SELL", 10, 5)

		resp := submit(t, e, 3, "BUY", 10, 5)
		require.Equal(t, ResultMatched, resp.MatchResult)
		assert.Equal(t, []MakerFill{{OrderID: 1, MatchedAmount: 5}}, resp.Makers)
	})
}

func TestPartialFillKeepsPriority(t *testing.T) {
	eachStore(t, func(t *testing.T, e *Engine, store orderbook.Store) {
		submit(t, e, 1, "BUY", 10, 100) // A
		resp := submit(t, e, 2, "SELL", 10, 40)
		require.Equal(t, []MakerFill{{OrderID: 1, MatchedAmount: 40}}, resp.Makers)
		submit(t, e, 3, "BUY", 10, 50) // C, admitted after A

		resp = submit(t, e, 4, "SELL", 10, 70)
		assert.Equal(t, []MakerFill{{OrderID: 1, MatchedAmount: 60}, {OrderID: 3, MatchedAmount: 10}}, resp.Makers)
		assert.Equal(t, int64(70), resp.TotalMatchedAmount)

		q := queue(t, store, models.SideBuy, 10)
		require.Len(t, q, 1)
		assert.Equal(t, int64(3), q[0].OrderID)
		assert.Equal(t, int64(40), q[0].UnfilledUnit)
		assertAggregateMatchesQueue(t, store, models.SideBuy, 10)
	})
}

func TestNoCrossLevelMatching(t *testing.T) {
	eachStore(t, func(t *testing.T, e *Engine, store orderbook.Store) {
		submit(t, e, 1, "SELL", 9990, 10) // cheaper ask exists

		resp := submit(t, e, 2, "BUY", 10000, 10)
		assert.Equal(t, ResultUnmatched, resp.MatchResult)
		assert.Len(t, queue(t, store, models.SideSell, 9990), 1)
		assert.Len(t, queue(t, store, models.SideBuy, 10000), 1)
	})
}

func TestTakerLeftoverRestsOnceAtTail(t *testing.T) {
	eachStore(t, func(t *testing.T, e *Engine, store orderbook.Store) {
		submit(t, e, 1, "SELL", 10, 5)
		submit(t, e, 2, "BUY", 10, 3) // fills 3 of order 1
		submit(t, e, 3, "BUY", 10, 7) // fills 2 against 1, rests 5

		assert.Empty(t, queue(t, store, models.SideSell, 10))
		q := queue(t, store, models.SideBuy, 10)
		require.Len(t, q, 1)
		assert.Equal(t, orderbook.Entry{OrderID: 3, UnfilledUnit: 5, CreatedAt: q[0].CreatedAt}, q[0])
		assertAggregateMatchesQueue(t, store, models.SideBuy, 10)
	})
}

func TestTakerSweepsWholeQueue(t *testing.T) {
	eachStore(t, func(t *testing.T, e *Engine, store orderbook.Store) {
		submit(t, e, 1, "BUY", 10, 4)
		submit(t, e, 2, "BUY", 10, 6)

		resp := submit(t, e, 3, "SELL", 10, 15)
		assert.Equal(t, ResultMatched, resp.MatchResult)
		assert.Equal(t, int64(10), resp.TotalMatchedAmount)
		assert.Len(t, resp.Makers, 2)

		prices, err := store.Prices(context.Background(), orderbook.Key{InstrumentID: instrument, Side: models.SideBuy})
		require.NoError(t, err)
		assert.Empty(t, prices)
		q := queue(t, store, models.SideSell, 10)
		require.Len(t, q, 1)
		assert.Equal(t, int64(5), q[0].UnfilledUnit)
	})
}

func TestSubmitRejections(t *testing.T) {
	eachStore(t, func(t *testing.T, e *Engine, store orderbook.Store) {
		cases := []struct {
			req    SubmitOrderRequest
			reason string
		}{
			{SubmitOrderRequest{OrderID: 1, InstrumentID: instrument, Side: "HOLD", Price: 10, Amount: 1}, "INVALID_ORDER_SIDE"},
			{SubmitOrderRequest{OrderID: 1, InstrumentID: instrument, Side: "BUY", Price: 12345, Amount: 1}, "INVALID_TICK_SIZE"},
			{SubmitOrderRequest{OrderID: 1, InstrumentID: instrument, Side: "BUY", Price: 0, Amount: 1}, "INVALID_TICK_SIZE"},
			{SubmitOrderRequest{OrderID: 1, InstrumentID: instrument, Side: "BUY", Price: 10, Amount: 0}, "INVALID_QUANTITY"},
			{SubmitOrderRequest{OrderID: 0, InstrumentID: instrument, Side: "BUY", Price: 10, Amount: 1}, "INVALID_ORDER_ID"},
		}
		for _, tc := range cases {
			resp, err := e.Submit(context.Background(), &tc.req)
			require.NoError(t, err)
			assert.Equal(t, ResultRejected, resp.MatchResult)
			assert.Equal(t, tc.reason, resp.Reason)
		}
		assert.Empty(t, queue(t, store, models.SideBuy, 10))
	})
}

func TestSubmitIsIdempotent(t *testing.T) {
	eachStore(t, func(t *testing.T, e *Engine, store orderbook.Store) {
		submit(t, e, 1, "BUY", 10, 10)
		first := submit(t, e, 2, "SELL", 10, 4)
		again := submit(t, e, 2, "SELL", 10, 4)

		assert.Equal(t, first, again)
		q := queue(t, store, models.SideBuy, 10)
		require.Len(t, q, 1)
		assert.Equal(t, int64(6), q[0].UnfilledUnit)

		unmatched := submit(t, e, 3, "BUY", 20, 1)
		submit(t, e, 3, "BUY", 20, 1)
		assert.Equal(t, ResultUnmatched, unmatched.MatchResult)
		assert.Len(t, queue(t, store, models.SideBuy, 20), 1)
	})
}

func TestCancel(t *testing.T) {
	eachStore(t, func(t *testing.T, e *Engine, store orderbook.Store) {
		submit(t, e, 1, "SELL", 10, 5)
		submit(t, e, 2, "SELL", 10, 7)
		submit(t, e, 3, "BUY", 10, 2)

		resp, err := e.Cancel(context.Background(), &CancelOrderRequest{OrderID: 1, InstrumentID: instrument, Side: "SELL", Price: 10})
		require.NoError(t, err)
		assert.Equal(t, ResultCancelled, resp.MatchResult)
		assert.Equal(t, int64(3), resp.CanceledAmount)

		q := queue(t, store, models.SideSell, 10)
		require.Len(t, q, 1)
		assert.Equal(t, int64(2), q[0].OrderID)
		assertAggregateMatchesQueue(t, store, models.SideSell, 10)

		// replay returns the recorded answer
		again, err := e.Cancel(context.Background(), &CancelOrderRequest{OrderID: 1, InstrumentID: instrument, Side: "SELL", Price: 10})
		require.NoError(t, err)
		assert.Equal(t, resp, again)

		resp, err = e.Cancel(context.Background(), &CancelOrderRequest{OrderID: 2, InstrumentID: instrument, Side: "SELL", Price: 10})
		require.NoError(t, err)
		assert.Equal(t, int64(7), resp.CanceledAmount)
		assertAggregateMatchesQueue(t, store, models.SideSell, 10)
	})
}

func TestCancelRejectsWhenNotResting(t *testing.T) {
	eachStore(t, func(t *testing.T, e *Engine, store orderbook.Store) {
		submit(t, e, 1, "BUY", 10, 5)

		for _, req := range []CancelOrderRequest{
			{OrderID: 99, InstrumentID: instrument, Side: "BUY", Price: 10},
			{OrderID: 1, InstrumentID: instrument, Side: "BUY", Price: 20},
			{OrderID: 1, InstrumentID: instrument, Side: "SELL", Price: 10},
			{OrderID: 1, InstrumentID: instrument, Side: "LONG", Price: 10},
		} {
			resp, err := e.Cancel(context.Background(), &req)
			require.NoError(t, err)
			assert.Equal(t, ResultRejected, resp.MatchResult, "%+v", req)
		}

		// a fully filled order can no longer be cancelled
		submit(t, e, 2, "SELL", 10, 5)
		resp, err := e.Cancel(context.Background(), &CancelOrderRequest{OrderID: 1, InstrumentID: instrument, Side: "BUY", Price: 10})
		require.NoError(t, err)
		assert.Equal(t, ResultRejected, resp.MatchResult)
	})
}

func TestAggregateStaysDerivedUnderRandomTraffic(t *testing.T) {
	eachStore(t, func(t *testing.T, e *Engine, store orderbook.Store) {
		rng := rand.New(rand.NewSource(42))
		var resting []int64
		for id := int64(1); id <= 400; id++ {
			if len(resting) > 0 && rng.Intn(4) == 0 {
				victim := resting[rng.Intn(len(resting))]
				for _, side := range []string{"BUY", "SELL"} {
					_, err := e.Cancel(context.Background(), &CancelOrderRequest{OrderID: victim, InstrumentID: instrument, Side: side, Price: 10})
					require.NoError(t, err)
				}
			} else {
				side := "BUY"
				if rng.Intn(2) == 0 {
					side = "SELL"
				}
				submit(t, e, id, side, 10, int64(rng.Intn(20)+1))
				resting = append(resting, id)
			}
			assertAggregateMatchesQueue(t, store, models.SideBuy, 10)
			assertAggregateMatchesQueue(t, store, models.SideSell, 10)
		}
	})
}

func TestConcurrentSubmissionsKeepBookConsistent(t *testing.T) {
	eachStore(t, func(t *testing.T, e *Engine, store orderbook.Store) {
		const workers = 16
		const perWorker = 50

		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			latencies []time.Duration
		)
		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func(w int) {
				defer wg.Done()
				local := make([]time.Duration, 0, perWorker)
				defer func() {
					mu.Lock()
					latencies = append(latencies, local...)
					mu.Unlock()
				}()
				for i := 0; i < perWorker; i++ {
					start := time.Now()
					id := int64(w*perWorker + i + 1)
					side := "BUY"
					if (w+i)%2 == 0 {
						side = "SELL"
					}
					_, err := e.Submit(context.Background(), &SubmitOrderRequest{
						OrderID: id, InstrumentID: instrument, Side: side, Price: 10, Amount: int64(i%5 + 1),
					})
					assert.NoError(t, err)
					local = append(local, time.Since(start))
				}
			}(w)
		}
		wg.Wait()
		t.Logf("submit latency p50=%v p99=%v over %d orders",
			testutil.Percentile(latencies, 0.50), testutil.Percentile(latencies, 0.99), len(latencies))

		assertAggregateMatchesQueue(t, store, models.SideBuy, 10)
		assertAggregateMatchesQueue(t, store, models.SideSell, 10)
		// at most one side can rest at a single price
		assert.False(t, len(queue(t, store, models.SideBuy, 10)) > 0 && len(queue(t, store, models.SideSell, 10)) > 0,
			"crossed book at one price")
	})
}

func TestOrderBookSnapshot(t *testing.T) {
	eachStore(t, func(t *testing.T, e *Engine, store orderbook.Store) {
		submit(t, e, 1, "BUY", 10, 5)
		submit(t, e, 2, "BUY", 20, 5)
		submit(t, e, 3, "SELL", 30, 1)

		snap, err := e.OrderBook(context.Background(), instrument)
		require.NoError(t, err)
		require.Len(t, snap.Bids, 2)
		assert.Equal(t, int64(10), snap.Bids[0].Price)
		assert.Equal(t, int64(20), snap.Bids[1].Price)
		require.Len(t, snap.Asks, 1)
		assert.Equal(t, int64(1), snap.Asks[0].Quantity)
	})
}
