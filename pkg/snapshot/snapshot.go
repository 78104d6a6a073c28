// Package snapshot implements the snapshot acceleration layer (spec
// §4.6): periodic durable captures of folded entity state, keyed by
// entity id and log offset, so recovery and reconstruction can start
// from the newest snapshot at or before a target offset instead of
// replaying the whole log.
//
// The key layout and JSON-blob-per-key storage style are grounded on
// teacher pkg/ledger.LedgerStore: a prefix byte string plus a
// big-endian-encoded numeric suffix, one JSON document per key, with
// ErrNotFound returned explicitly rather than a bare nil.
package snapshot

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/evchannel/core/pkg/kvdb"
	"github.com/evchannel/core/pkg/primitives"
)

// ErrNotFound is returned when no snapshot exists for an entity.
var ErrNotFound = errors.New("snapshot: not found")

const keyPrefix = "snapshot:"

// DefaultInterval is the default number of appends between snapshots
// (spec §3/§4.6: "created every N appends, N defaults to 1000").
const DefaultInterval = 1000

// record is the durable envelope stored at each snapshot key.
type record struct {
	Offset uint64          `json:"offset"`
	State  json.RawMessage `json:"state"`
}

// Manager persists and retrieves entity-state snapshots through the
// durable KV boundary (pkg/kvdb), and prunes old snapshots when Prune
// is called with a retention count.
type Manager struct {
	kv       kvdb.KV
	interval uint64
}

// NewManager returns a Manager backed by kv, snapshotting every
// DefaultInterval appends.
func NewManager(kv kvdb.KV) *Manager {
	return &Manager{kv: kv, interval: DefaultInterval}
}

// NewManagerWithInterval returns a Manager backed by kv that snapshots
// every interval appends. interval <= 0 disables automatic snapshotting
// (ShouldSnapshot always reports false); callers can still Save directly.
func NewManagerWithInterval(kv kvdb.KV, interval uint64) *Manager {
	return &Manager{kv: kv, interval: interval}
}

// ShouldSnapshot implements spec §4.6's decision rule:
// should_snapshot(offset) = (offset % interval == 0). The caller (the
// engine, post-append) is responsible for acting on this — the manager
// itself never drives creation.
func (m *Manager) ShouldSnapshot(offset uint64) bool {
	return m.interval > 0 && offset%m.interval == 0
}

// entityPrefix is the key prefix shared by every snapshot of a given
// entity: "snapshot:<32-byte entity id>:".
func entityPrefix(entityID primitives.Hash) []byte {
	out := make([]byte, 0, len(keyPrefix)+32+1)
	out = append(out, keyPrefix...)
	out = append(out, entityID[:]...)
	out = append(out, ':')
	return out
}

// key builds the full key "snapshot:<entity id>:<big-endian offset>" so
// that lexicographic key order matches offset order within an entity —
// the same trick teacher pkg/ledger.systemBlockKey uses for block height.
func key(entityID primitives.Hash, offset uint64) []byte {
	p := entityPrefix(entityID)
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, offset)
	return append(p, b...)
}

// Save durably stores state as the snapshot for entityID at offset.
// state is marshaled with encoding/json, matching the canonical-JSON
// payload encoding used throughout the event pipeline.
func (m *Manager) Save(entityID primitives.Hash, offset uint64, state any) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("snapshot: marshal state: %w", err)
	}
	rec := record{Offset: offset, State: raw}
	blob, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("snapshot: marshal record: %w", err)
	}
	if err := m.kv.Set(key(entityID, offset), blob); err != nil {
		return fmt.Errorf("snapshot: set: %w", err)
	}
	return nil
}

// Latest returns the snapshot with the highest offset for entityID, and
// ErrNotFound if none exists.
func (m *Manager) Latest(entityID primitives.Hash) (offset uint64, state json.RawMessage, err error) {
	var best *record
	prefix := entityPrefix(entityID)
	err = m.kv.IteratePrefix(prefix, func(k, v []byte) bool {
		var rec record
		if jerr := json.Unmarshal(v, &rec); jerr != nil {
			err = fmt.Errorf("snapshot: unmarshal record: %w", jerr)
			return false
		}
		if best == nil || rec.Offset > best.Offset {
			r := rec
			best = &r
		}
		return true
	})
	if err != nil {
		return 0, nil, err
	}
	if best == nil {
		return 0, nil, ErrNotFound
	}
	return best.Offset, best.State, nil
}

// LatestAtOrBefore returns the snapshot with the highest offset that is
// <= maxOffset, and ErrNotFound if none qualifies. Recovery uses this to
// find a safe starting point when replaying only up to a known-good
// target (spec §4.9).
func (m *Manager) LatestAtOrBefore(entityID primitives.Hash, maxOffset uint64) (offset uint64, state json.RawMessage, err error) {
	var best *record
	prefix := entityPrefix(entityID)
	err = m.kv.IteratePrefix(prefix, func(k, v []byte) bool {
		var rec record
		if jerr := json.Unmarshal(v, &rec); jerr != nil {
			err = fmt.Errorf("snapshot: unmarshal record: %w", jerr)
			return false
		}
		if rec.Offset <= maxOffset && (best == nil || rec.Offset > best.Offset) {
			r := rec
			best = &r
		}
		return true
	})
	if err != nil {
		return 0, nil, err
	}
	if best == nil {
		return 0, nil, ErrNotFound
	}
	return best.Offset, best.State, nil
}

// Prune deletes all but the `keep` most recent snapshots for entityID.
// keep <= 0 is treated as 1: a snapshot manager that retains zero
// history can never recover.
func (m *Manager) Prune(entityID primitives.Hash, keep int) error {
	if keep <= 0 {
		keep = 1
	}
	var offsets []uint64
	prefix := entityPrefix(entityID)
	if err := m.kv.IteratePrefix(prefix, func(k, v []byte) bool {
		var rec record
		if err := json.Unmarshal(v, &rec); err != nil {
			return true
		}
		offsets = append(offsets, rec.Offset)
		return true
	}); err != nil {
		return fmt.Errorf("snapshot: iterate: %w", err)
	}
	if len(offsets) <= keep {
		return nil
	}
	// offsets arrive in ascending key order (== ascending offset order,
	// per the big-endian encoding in key()), so the prefix to drop is
	// everything before the last `keep` entries.
	cut := offsets[:len(offsets)-keep]
	for _, off := range cut {
		if err := m.kv.Delete(key(entityID, off)); err != nil {
			return fmt.Errorf("snapshot: delete offset %d: %w", off, err)
		}
	}
	return nil
}
