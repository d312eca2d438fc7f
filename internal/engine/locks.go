package engine

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

// DefaultLockShards is the default size of the account lock table.
const DefaultLockShards = 256

// AccountLocks is a fixed-size table of mutexes indexed by
// xxhash(account_id) mod N.
//
// Memory stays bounded regardless of how many accounts exist. Two accounts
// sharing a shard serialize with each other, which costs latency but never
// correctness.
//
// Thread-safety: AccountLocks is safe for concurrent use.
type AccountLocks struct {
	shards []sync.Mutex
}

// NewAccountLocks creates a table with n shards (DefaultLockShards if n <= 0).
func NewAccountLocks(n int) *AccountLocks {
	if n <= 0 {
		n = DefaultLockShards
	}
	return &AccountLocks{shards: make([]sync.Mutex, n)}
}

// Shards returns the table size.
func (l *AccountLocks) Shards() int {
	return len(l.shards)
}

func (l *AccountLocks) shardIndex(accountID string) int {
	return int(xxhash.Sum64String(accountID) % uint64(len(l.shards)))
}

// WithLock runs fn while holding the account's shard mutex.
// The mutex is released even if fn panics.
//
// There is no timeout: the critical section is bounded one level down by
// the storage lock-wait timeout.
func (l *AccountLocks) WithLock(accountID string, fn func() error) error {
	mu := &l.shards[l.shardIndex(accountID)]
	mu.Lock()
	defer mu.Unlock()
	return fn()
}
