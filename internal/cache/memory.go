package cache

import (
	"context"
	"hash/fnv"
	"strconv"
	"sync"
	"time"
)

// shardCount balances lock contention against per-shard overhead. Must be
// a power of two.
const shardCount = 16

// janitorInterval is how often expired entries are swept.
const janitorInterval = time.Minute

type memoryEntry struct {
	value []byte
	// expiresAt is the zero time for entries without expiry.
	expiresAt time.Time
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

type memoryShard struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
}

// Memory is an in-process Cache backed by sharded maps. A background
// janitor sweeps expired entries so unread keys do not accumulate.
type Memory struct {
	shards     [shardCount]*memoryShard
	defaultTTL time.Duration

	closeOnce sync.Once
	done      chan struct{}
}

// Interface compliance check.
var _ Cache = (*Memory)(nil)

// NewMemory creates an in-process cache. defaultTTL applies to Set calls
// with a zero ttl; a zero defaultTTL means such entries never expire.
func NewMemory(defaultTTL time.Duration) *Memory {
	m := &Memory{
		defaultTTL: defaultTTL,
		done:       make(chan struct{}),
	}
	for i := range m.shards {
		m.shards[i] = &memoryShard{entries: make(map[string]memoryEntry)}
	}
	go m.janitor()
	return m
}

func (m *Memory) shard(key string) *memoryShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return m.shards[h.Sum32()&(shardCount-1)]
}

func (m *Memory) resolveTTL(ttl time.Duration) time.Duration {
	switch {
	case ttl == 0:
		return m.defaultTTL
	case ttl < 0:
		return 0
	default:
		return ttl
	}
}

// Get returns the value for key, or ErrMiss.
func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	s := m.shard(key)
	s.mu.RLock()
	entry, ok := s.entries[key]
	s.mu.RUnlock()

	if !ok || entry.expired(time.Now()) {
		return nil, ErrMiss
	}
	// Copy so callers cannot mutate the cached value.
	out := make([]byte, len(entry.value))
	copy(out, entry.value)
	return out, nil
}

// Set stores value under key.
func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	entry := memoryEntry{value: append([]byte(nil), value...)}
	if effective := m.resolveTTL(ttl); effective > 0 {
		entry.expiresAt = time.Now().Add(effective)
	}

	s := m.shard(key)
	s.mu.Lock()
	s.entries[key] = entry
	s.mu.Unlock()
	return nil
}

// Delete removes key.
func (m *Memory) Delete(_ context.Context, key string) error {
	s := m.shard(key)
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}

// Incr atomically increments the integer stored at key.
func (m *Memory) Incr(_ context.Context, key string, ttl time.Duration) (int64, error) {
	s := m.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	var current int64
	entry, ok := s.entries[key]
	if ok && !entry.expired(now) {
		parsed, err := strconv.ParseInt(string(entry.value), 10, 64)
		if err != nil {
			return 0, err
		}
		current = parsed
	} else {
		// Fresh key: expiry starts now.
		entry = memoryEntry{}
		if effective := m.resolveTTL(ttl); effective > 0 {
			entry.expiresAt = now.Add(effective)
		}
	}

	current++
	entry.value = []byte(strconv.FormatInt(current, 10))
	s.entries[key] = entry
	return current, nil
}

// Close stops the janitor. The cache stays readable but no longer sweeps.
func (m *Memory) Close() error {
	m.closeOnce.Do(func() {
		close(m.done)
	})
	return nil
}

func (m *Memory) janitor() {
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case now := <-ticker.C:
			for _, s := range m.shards {
				s.mu.Lock()
				for key, entry := range s.entries {
					if entry.expired(now) {
						delete(s.entries, key)
					}
				}
				s.mu.Unlock()
			}
		}
	}
}
