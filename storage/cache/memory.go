package cachestore

import (
	"context"
	"hash/maphash"
	"sync"
	"time"

	"github.com/trezcool/fatracker/core"
)

const defaultShards = 32

type (
	entry struct {
		value []byte
		timer *time.Timer
	}

	shard struct {
		mu    sync.Mutex
		items map[string]*entry
	}

	// Memory is an in-process core.Cache. Keys are spread over independently locked shards and
	// every entry owns a timer that removes it when its TTL elapses.
	Memory struct {
		seed   maphash.Seed
		shards []*shard
	}
)

var _ core.Cache = (*Memory)(nil)

func NewMemory(shards int) *Memory {
	if shards <= 0 {
		shards = defaultShards
	}
	m := &Memory{
		seed:   maphash.MakeSeed(),
		shards: make([]*shard, shards),
	}
	for i := range m.shards {
		m.shards[i] = &shard{items: make(map[string]*entry)}
	}
	return m
}

func (m *Memory) shard(key string) *shard {
	return m.shards[maphash.String(m.seed, key)%uint64(len(m.shards))]
}

// Set stores value under key for ttl. An existing entry is replaced and its timer stopped
// under the same lock, so the previous expiry can never evict the new value.
func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s := m.shard(key)
	e := &entry{value: append([]byte(nil), value...)}

	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.items[key]; ok {
		old.timer.Stop()
	}
	e.timer = time.AfterFunc(ttl, func() { s.expire(key, e) })
	s.items[key] = e
	return nil
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	s := m.shard(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.items[key]
	if !ok {
		return nil, core.ErrCacheMiss
	}
	return append([]byte(nil), e.value...), nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	s := m.shard(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.items[key]; ok {
		e.timer.Stop()
		delete(s.items, key)
	}
	return nil
}

// Len returns the number of live entries.
func (m *Memory) Len() int {
	n := 0
	for _, s := range m.shards {
		s.mu.Lock()
		n += len(s.items)
		s.mu.Unlock()
	}
	return n
}

// Close stops every pending timer and drops all entries.
func (m *Memory) Close() error {
	for _, s := range m.shards {
		s.mu.Lock()
		for key, e := range s.items {
			e.timer.Stop()
			delete(s.items, key)
		}
		s.mu.Unlock()
	}
	return nil
}

// expire removes key only if it still holds e; a timer that fired while Set was replacing
// the entry finds a different pointer and does nothing.
func (s *shard) expire(key string, e *entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.items[key]; ok && cur == e {
		delete(s.items, key)
	}
}
