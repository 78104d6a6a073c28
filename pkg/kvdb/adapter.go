// Package kvdb is the key-value persistence boundary used by the snapshot
// manager and the chain-bridge poller, so an alternate key-value backend
// can be swapped in without changing callers. The event stores do not
// use it. It wraps cometbft-db's dbm.DB, which already
// ships both an in-memory backend (for tests) and on-disk backends
// (goleveldb, badger) behind one interface — exactly the boundary the
// spec calls for, reused rather than reinvented.
package kvdb

import (
	dbm "github.com/cometbft/cometbft-db"
)

// KV is the narrow interface the snapshot manager and the chain-bridge
// poller depend on. It intentionally exposes only point reads/writes and
// a prefix scan for snapshot retention.
type KV interface {
	Get(key []byte) ([]byte, error)
	Set(key, value []byte) error
	Delete(key []byte) error
	// IteratePrefix calls fn for every key with the given prefix, in key
	// order, until fn returns false or the iterator is exhausted.
	IteratePrefix(prefix []byte, fn func(key, value []byte) bool) error
}

// Adapter wraps a cometbft-db dbm.DB and exposes the KV interface above.
type Adapter struct {
	db dbm.DB
}

// NewAdapter wraps an existing dbm.DB.
func NewAdapter(db dbm.DB) *Adapter {
	return &Adapter{db: db}
}

// NewMemory returns an Adapter backed by cometbft-db's in-memory
// implementation — the default backend for tests and single-process runs.
func NewMemory() *Adapter {
	return &Adapter{db: dbm.NewMemDB()}
}

// Get returns the value for key, or nil if key is not present.
func (a *Adapter) Get(key []byte) ([]byte, error) {
	if a.db == nil {
		return nil, nil
	}
	return a.db.Get(key)
}

// Set durably writes key/value. SetSync is used (rather than the
// buffered Set) so that a snapshot or recovery marker is not lost on an
// unclean process exit — the same durability call teacher
// pkg/ledger.LedgerStore relies on at commit time.
func (a *Adapter) Set(key, value []byte) error {
	if a.db == nil {
		return nil
	}
	return a.db.SetSync(key, value)
}

// Delete removes key, if present.
func (a *Adapter) Delete(key []byte) error {
	if a.db == nil {
		return nil
	}
	return a.db.Delete(key)
}

// IteratePrefix walks every key sharing prefix in ascending key order.
func (a *Adapter) IteratePrefix(prefix []byte, fn func(key, value []byte) bool) error {
	if a.db == nil {
		return nil
	}
	end := prefixUpperBound(prefix)
	it, err := a.db.Iterator(prefix, end)
	if err != nil {
		return err
	}
	defer it.Close()
	for ; it.Valid(); it.Next() {
		if !fn(it.Key(), it.Value()) {
			break
		}
	}
	return it.Error()
}

// prefixUpperBound returns the smallest key that is strictly greater than
// every key sharing prefix, so Iterator(prefix, upperBound) scans exactly
// the keys with that prefix.
func prefixUpperBound(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil // prefix is all 0xff: no upper bound, scan to the end of the keyspace
}

var _ KV = (*Adapter)(nil)
