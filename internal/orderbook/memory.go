package orderbook

import (
	"context"
	"sync"

	"github.com/tidwall/btree"
)

type memoryLevel struct {
	entries []Entry
	total   int64
}

// MemoryStore keeps the book in process, one price-ordered btree per side.
type MemoryStore struct {
	mu      sync.RWMutex
	sides   map[Key]*btree.Map[int64, *memoryLevel]
	results map[string][]byte
}

// NewMemoryStore returns an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sides:   make(map[Key]*btree.Map[int64, *memoryLevel]),
		results: make(map[string][]byte),
	}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) level(key Key, price int64) (*memoryLevel, bool) {
	tree, ok := s.sides[key]
	if !ok {
		return nil, false
	}
	return tree.Get(price)
}

func (s *MemoryStore) Queue(_ context.Context, key Key, price int64) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lvl, ok := s.level(key, price)
	if !ok {
		return nil, nil
	}
	out := make([]Entry, len(lvl.entries))
	copy(out, lvl.entries)
	return out, nil
}

func (s *MemoryStore) Aggregate(_ context.Context, key Key, price int64) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if lvl, ok := s.level(key, price); ok {
		return lvl.total, nil
	}
	return 0, nil
}

func (s *MemoryStore) Prices(_ context.Context, key Key) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tree, ok := s.sides[key]
	if !ok {
		return nil, nil
	}
	prices := make([]int64, 0, tree.Len())
	tree.Scan(func(price int64, _ *memoryLevel) bool {
		prices = append(prices, price)
		return true
	})
	return prices, nil
}

func (s *MemoryStore) Result(_ context.Context, id string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	body, ok := s.results[id]
	return body, ok, nil
}

func (s *MemoryStore) Commit(_ context.Context, writes []LevelWrite, record *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range writes {
		tree, ok := s.sides[w.Key]
		if !ok {
			tree = btree.NewMap[int64, *memoryLevel](32)
			s.sides[w.Key] = tree
		}
		if len(w.Entries) == 0 {
			tree.Delete(w.Price)
			continue
		}
		entries := make([]Entry, len(w.Entries))
		copy(entries, w.Entries)
		tree.Set(w.Price, &memoryLevel{entries: entries, total: w.Total()})
	}
	if record != nil {
		s.results[record.ID] = record.Body
	}
	return nil
}
