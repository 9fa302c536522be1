package ledger

import (
	"hash/fnv"
	"sort"
	"sync"

	"github.com/google/uuid"
)

const defaultLockStripes = 256

// Locker serializes in-process work per account using a fixed set of mutex stripes.
// Stripes are always taken in ascending order so multi-account callers cannot deadlock.
type Locker struct {
	stripes []sync.Mutex
}

// NewLocker builds a locker with n stripes (defaultLockStripes when n <= 0).
func NewLocker(n int) *Locker {
	if n <= 0 {
		n = defaultLockStripes
	}
	return &Locker{stripes: make([]sync.Mutex, n)}
}

// Lock acquires every stripe covering the given accounts and returns the release func.
func (l *Locker) Lock(accountIDs ...uuid.UUID) func() {
	indexes := l.stripeIndexes(accountIDs)
	for _, idx := range indexes {
		l.stripes[idx].Lock()
	}
	return func() {
		for i := len(indexes) - 1; i >= 0; i-- {
			l.stripes[indexes[i]].Unlock()
		}
	}
}

func (l *Locker) stripeIndexes(accountIDs []uuid.UUID) []int {
	seen := make(map[int]struct{}, len(accountIDs))
	indexes := make([]int, 0, len(accountIDs))
	for _, id := range accountIDs {
		idx := l.stripeFor(id)
		if _, ok := seen[idx]; ok {
			continue
		}
		seen[idx] = struct{}{}
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)
	return indexes
}

func (l *Locker) stripeFor(id uuid.UUID) int {
	h := fnv.New32a()
	_, _ = h.Write(id[:])
	return int(h.Sum32() % uint32(len(l.stripes)))
}
