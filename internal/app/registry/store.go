package registry

import (
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"

	"github.com/jsamuelsen/go-request-registry/internal/domain"
)

// store is a sharded map from request identifier to diagnostic context.
// Mutations hold the shard's write lock; lookups only take the read lock,
// so readers on different shards never contend.
type store struct {
	shards []shard
	mask   uint64
	count  atomic.Int64
}

type shard struct {
	mu      sync.RWMutex
	entries map[domain.RequestID]domain.DiagnosticContext
}

// newStore creates a store with n shards. n must be a power of two.
func newStore(n int) *store {
	shards := make([]shard, n)
	for i := range shards {
		shards[i].entries = make(map[domain.RequestID]domain.DiagnosticContext)
	}

	return &store{
		shards: shards,
		mask:   uint64(n - 1), //nolint:gosec // n is validated positive
	}
}

func (s *store) shardFor(id domain.RequestID) *shard {
	return &s.shards[xxhash.Sum64(id[:])&s.mask]
}

// insert adds dc. It fails if its identifier is already present.
func (s *store) insert(dc domain.DiagnosticContext) error {
	id := dc.RequestID()
	sh := s.shardFor(id)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	if _, exists := sh.entries[id]; exists {
		return domain.NewDuplicateIdentifierError(id)
	}

	sh.entries[id] = dc
	s.count.Add(1)

	return nil
}

func (s *store) load(id domain.RequestID) (domain.DiagnosticContext, bool) {
	sh := s.shardFor(id)

	sh.mu.RLock()
	dc, ok := sh.entries[id]
	sh.mu.RUnlock()

	return dc, ok
}

// delete removes id and reports whether an entry was present.
func (s *store) delete(id domain.RequestID) bool {
	sh := s.shardFor(id)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	if _, exists := sh.entries[id]; !exists {
		return false
	}

	delete(sh.entries, id)
	s.count.Add(-1)

	return true
}

// clear drops every entry, one shard at a time, and returns the dropped
// identifiers.
func (s *store) clear() []domain.RequestID {
	var dropped []domain.RequestID

	for i := range s.shards {
		sh := &s.shards[i]

		sh.mu.Lock()
		n := len(sh.entries)
		for id := range sh.entries {
			dropped = append(dropped, id)
		}
		clear(sh.entries)
		s.count.Add(int64(-n))
		sh.mu.Unlock()
	}

	return dropped
}

func (s *store) len() int {
	return int(max(s.count.Load(), 0))
}

func (s *store) ids() []domain.RequestID {
	ids := make([]domain.RequestID, 0, s.len())

	for i := range s.shards {
		sh := &s.shards[i]

		sh.mu.RLock()
		for id := range sh.entries {
			ids = append(ids, id)
		}
		sh.mu.RUnlock()
	}

	return ids
}
