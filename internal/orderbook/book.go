// Package orderbook stores resting limit orders per (instrument, side, price):
// a sorted price list, a FIFO queue per price and an aggregate quantity per
// price. The matching rules live in the engine; this package only guarantees
// that a set of level rewrites lands atomically.
package orderbook

import (
	"context"
	"fmt"
	"time"

	"github.com/Aidin1998/tickex/pkg/models"
)

// Entry is one resting order fragment.
type Entry struct {
	OrderID      int64     `json:"order_id"`
	UnfilledUnit int64     `json:"unfilled_unit"`
	CreatedAt    time.Time `json:"created_at"`
}

// Key names one side of one instrument's book.
type Key struct {
	InstrumentID int64
	Side         models.Side
}

// PriceList is the key of the sorted price list.
func (k Key) PriceList() string {
	return fmt.Sprintf("%d:%s", k.InstrumentID, k.Side)
}

// Queue is the key of the order queue at price.
func (k Key) Queue(price int64) string {
	return fmt.Sprintf("%d:%s:%d", k.InstrumentID, k.Side, price)
}

// Aggregate is the key of the price -> total unfilled hash.
func (k Key) Aggregate() string {
	return fmt.Sprintf("%d:%s:total-unit", k.InstrumentID, k.Side)
}

// LevelWrite replaces the whole queue at (Key, Price). The aggregate becomes
// the sum of Entries and the price stays listed only while Entries is non-empty.
type LevelWrite struct {
	Key     Key
	Price   int64
	Entries []Entry
}

// Total is the aggregate quantity the write leaves behind.
func (w LevelWrite) Total() int64 {
	var total int64
	for _, e := range w.Entries {
		total += e.UnfilledUnit
	}
	return total
}

// Record is an operation result stored together with the writes it produced.
type Record struct {
	ID   string
	Body []byte
}

// Store is the shared book state. Commit must apply every write and the
// record as one unit visible to all readers.
type Store interface {
	Queue(ctx context.Context, key Key, price int64) ([]Entry, error)
	Aggregate(ctx context.Context, key Key, price int64) (int64, error)
	Prices(ctx context.Context, key Key) ([]int64, error)
	Result(ctx context.Context, id string) ([]byte, bool, error)
	Commit(ctx context.Context, writes []LevelWrite, record *Record) error
}

// PriceLevel is a read-only view of one price.
type PriceLevel struct {
	Price    int64   `json:"price"`
	Quantity int64   `json:"quantity"`
	Orders   []Entry `json:"orders"`
}

// Snapshot is the read-only view of an instrument's book, prices ascending.
type Snapshot struct {
	InstrumentID int64        `json:"instrument_id"`
	Bids         []PriceLevel `json:"bids"`
	Asks         []PriceLevel `json:"asks"`
}

// TakeSnapshot reads both sides of the instrument's book.
func TakeSnapshot(ctx context.Context, store Store, instrumentID int64) (*Snapshot, error) {
	snap := &Snapshot{InstrumentID: instrumentID, Bids: []PriceLevel{}, Asks: []PriceLevel{}}
	for _, side := range []models.Side{models.SideBuy, models.SideSell} {
		key := Key{InstrumentID: instrumentID, Side: side}
		levels, err := readSide(ctx, store, key)
		if err != nil {
			return nil, err
		}
		if side == models.SideBuy {
			snap.Bids = levels
		} else {
			snap.Asks = levels
		}
	}
	return snap, nil
}

func readSide(ctx context.Context, store Store, key Key) ([]PriceLevel, error) {
	prices, err := store.Prices(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to read prices of %s: %w", key.PriceList(), err)
	}
	levels := make([]PriceLevel, 0, len(prices))
	for _, price := range prices {
		queue, err := store.Queue(ctx, key, price)
		if err != nil {
			return nil, fmt.Errorf("failed to read queue %s: %w", key.Queue(price), err)
		}
		qty, err := store.Aggregate(ctx, key, price)
		if err != nil {
			return nil, fmt.Errorf("failed to read aggregate %s: %w", key.Aggregate(), err)
		}
		levels = append(levels, PriceLevel{Price: price, Quantity: qty, Orders: queue})
	}
	return levels, nil
}
