package store

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore is the in-process fallback MetadataStore: a single mutex
// guards equivalent maps and deques. It does not expose the blocking
// atomic-move primitive (spec §4.2) — TaskQueue.Dequeue must not be used
// against it; fallback mode runs jobs inline via ConcurrencyGuard instead.
// MemoryStore exists so the rest of the primitive surface (hash records,
// lists, sequence counters) has a backend usable in unit tests and in any
// future fallback-mode feature that doesn't need queueing.
type MemoryStore struct {
	mu       sync.Mutex
	hashes   map[string]hashEntry
	lists    map[string][]string // index 0 = tail (RPush appends here), last = head-ward
	counters map[string]int64
}

type hashEntry struct {
	fields  map[string]string
	expires time.Time // zero means no expiry
}

// NewMemoryStore constructs an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		hashes:   make(map[string]hashEntry),
		lists:    make(map[string][]string),
		counters: make(map[string]int64),
	}
}

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

func (s *MemoryStore) SupportsAtomicMove() bool { return false }

func (s *MemoryStore) SetHash(ctx context.Context, key string, fields map[string]string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	merged := make(map[string]string, len(fields))
	for k, v := range fields {
		merged[k] = v
	}
	var expires time.Time
	if ttl > 0 {
		expires = time.Now().Add(ttl)
	}
	s.hashes[key] = hashEntry{fields: merged, expires: expires}
	return nil
}

func (s *MemoryStore) GetHash(ctx context.Context, key string) (map[string]string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.hashes[key]
	if !ok {
		return nil, false, nil
	}
	if !e.expires.IsZero() && time.Now().After(e.expires) {
		delete(s.hashes, key)
		return nil, false, nil
	}
	out := make(map[string]string, len(e.fields))
	for k, v := range e.fields {
		out[k] = v
	}
	return out, true, nil
}

func (s *MemoryStore) UpdateHash(ctx context.Context, key string, fields map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.hashes[key]
	if !ok {
		return nil
	}
	for k, v := range fields {
		e.fields[k] = v
	}
	s.hashes[key] = e
	return nil
}

func (s *MemoryStore) DeleteHash(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.hashes, key)
	return nil
}

// Lists are stored tail-first (index 0 = tail, the end BLMOVE/RPop reads
// from; last index = head, where LPush/LPop act). This mirrors Redis list
// semantics with index 0 meaningfully reserved for "next to pop".
func (s *MemoryStore) ListPushHead(ctx context.Context, list, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lists[list] = append(s.lists[list], value)
	return nil
}

func (s *MemoryStore) ListPushTail(ctx context.Context, list, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lists[list] = append([]string{value}, s.lists[list]...)
	return nil
}

func (s *MemoryStore) ListLen(ctx context.Context, list string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.lists[list])), nil
}

func (s *MemoryStore) ListRange(ctx context.Context, list string, limit int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	vals := s.lists[list]
	// Present head-first to match Redis LRANGE 0 -1 ordering (head to tail).
	out := make([]string, len(vals))
	for i, v := range vals {
		out[len(vals)-1-i] = v
	}
	if limit > 0 && int64(len(out)) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) ListRemove(ctx context.Context, list, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	vals := s.lists[list]
	for i, v := range vals {
		if v == value {
			s.lists[list] = append(vals[:i], vals[i+1:]...)
			return nil
		}
	}
	return nil
}

func (s *MemoryStore) ListPosition(ctx context.Context, list, value string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	vals := s.lists[list] // index 0 = tail = position 1
	for i, v := range vals {
		if v == value {
			return int64(i + 1), nil
		}
	}
	return 0, nil
}

func (s *MemoryStore) AtomicMove(ctx context.Context, src, dst string, timeout time.Duration) (string, bool, error) {
	return "", false, ErrAtomicMoveUnsupported
}

func (s *MemoryStore) NextSeq(ctx context.Context, counter string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[counter]++
	return s.counters[counter], nil
}

func (s *MemoryStore) IncrFieldAndListRemove(ctx context.Context, hashKey, field string, delta int64, list, value string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.hashes[hashKey]
	if !ok {
		e = hashEntry{fields: make(map[string]string)}
	}
	var cur int64
	if v, ok := e.fields[field]; ok {
		_, _ = fmt.Sscanf(v, "%d", &cur)
	}
	cur += delta
	e.fields[field] = fmt.Sprintf("%d", cur)
	s.hashes[hashKey] = e

	vals := s.lists[list]
	for i, v := range vals {
		if v == value {
			s.lists[list] = append(vals[:i], vals[i+1:]...)
			break
		}
	}

	return cur, nil
}
