// Package locks serializes mutations per account. Every read-compute-write
// sequence against an account's balance or credit must run under that
// account's lock, so concurrent closes (e.g., a master close fanning out to
// follower closes on the same account) cannot interleave.
package locks

import "sync"

// AccountLocker hands out one mutex per account ID.
type AccountLocker struct {
	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

// NewAccountLocker creates an empty locker.
func NewAccountLocker() *AccountLocker {
	return &AccountLocker{locks: make(map[int64]*sync.Mutex)}
}

// Lock acquires the mutex for an account, creating it on first use.
func (l *AccountLocker) Lock(accountID int64) {
	l.get(accountID).Lock()
}

// Unlock releases the mutex for an account.
func (l *AccountLocker) Unlock(accountID int64) {
	l.get(accountID).Unlock()
}

func (l *AccountLocker) get(accountID int64) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.locks[accountID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[accountID] = m
	}
	return m
}
