// Package sqlstore is the durable, Postgres-backed second implementation
// of eventstore.Store (spec §4.1/§1.4 "a future durable implementation",
// SPEC_FULL.md §4.1). It stores each event as a row
// (offset bigint primary key, id bytea, kind text, version int,
// ts bigint, payload jsonb) and satisfies the exact same interface the
// in-memory store does, so reconstruct/objective/validation never know
// which backend they are reading from.
//
// Grounded on teacher pkg/database/client.go's database/sql + lib/pq
// connection-pool setup (sql.Open("postgres", dsn),
// SetMaxOpenConns/SetMaxIdleConns/SetConnMaxLifetime) and its
// plain-parameterized-SQL repository style — no ORM anywhere in the
// pack's database layer, so none here either.
package sqlstore

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/lib/pq"

	"github.com/evchannel/core/pkg/event"
	"github.com/evchannel/core/pkg/eventstore"
)

// PoolConfig mirrors teacher pkg/database/client.go's connection-pool
// knobs.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DefaultPoolConfig matches teacher's own defaults (25 open / 5 idle /
// one hour lifetime).
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{MaxOpenConns: 25, MaxIdleConns: 5, ConnMaxLifetime: time.Hour}
}

// Open connects to Postgres at dsn, applies pool limits, and ensures the
// events table exists.
func Open(dsn string, pool PoolConfig) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open: %w", err)
	}
	db.SetMaxOpenConns(pool.MaxOpenConns)
	db.SetMaxIdleConns(pool.MaxIdleConns)
	db.SetConnMaxLifetime(pool.ConnMaxLifetime)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS events (
			offset_num BIGINT PRIMARY KEY,
			id         BYTEA NOT NULL UNIQUE,
			kind       TEXT NOT NULL,
			version    INT NOT NULL,
			ts         BIGINT NOT NULL,
			payload    JSONB NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("sqlstore: migrate: %w", err)
	}
	return nil
}

type subscriber struct {
	id eventstore.SubscriptionID
	cb eventstore.Callback
}

// Store is the Postgres-backed eventstore.Store implementation. Append
// is serialized through appendMu, matching the in-memory store's
// contract that writes never interleave; reads go straight to the pool
// and proceed concurrently with each other.
type Store struct {
	db *sql.DB

	appendMu sync.Mutex

	subMu     sync.Mutex
	subs      []subscriber
	nextSubID uint64
}

var _ eventstore.Store = (*Store)(nil)

// Close releases the underlying connection pool.
func (s *Store) Close() error { return s.db.Close() }

// Append assigns the next dense offset and persists ev, then invokes
// every subscriber in registration order — the same ordering guarantee
// MemoryStore.Append makes. Here the callback runs after the write
// commits, with appendMu still held; readers are not blocked while it
// runs.
func (s *Store) Append(ev event.Event) (uint64, error) {
	s.appendMu.Lock()
	defer s.appendMu.Unlock()

	var nextOffset int64
	row := s.db.QueryRow(`SELECT COALESCE(MAX(offset_num), -1) + 1 FROM events`)
	if err := row.Scan(&nextOffset); err != nil {
		return 0, fmt.Errorf("sqlstore: next offset: %w", err)
	}

	payload, err := event.CanonicalJSON(ev.Payload)
	if err != nil {
		return 0, fmt.Errorf("sqlstore: encode payload: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO events (offset_num, id, kind, version, ts, payload) VALUES ($1, $2, $3, $4, $5, $6)`,
		nextOffset, ev.ID[:], string(ev.Kind), ev.Version, ev.Timestamp, payload,
	)
	if err != nil {
		return 0, fmt.Errorf("sqlstore: insert: %w", err)
	}

	offset := uint64(nextOffset)
	s.subMu.Lock()
	subs := append([]subscriber(nil), s.subs...)
	s.subMu.Unlock()
	for _, sub := range subs {
		sub.cb(&ev, offset)
	}
	return offset, nil
}

// ReadAt loads the event at a single offset.
func (s *Store) ReadAt(offset uint64) (*event.Event, error) {
	row := s.db.QueryRow(
		`SELECT id, kind, version, ts, payload FROM events WHERE offset_num = $1`, int64(offset))
	return scanEvent(row)
}

// ReadRange loads every event in [start, end).
func (s *Store) ReadRange(start, end uint64) ([]*event.Event, error) {
	if start > end {
		return nil, eventstore.ErrInvalidRange
	}
	if start == end {
		return nil, nil
	}
	rows, err := s.db.Query(
		`SELECT id, kind, version, ts, payload FROM events WHERE offset_num >= $1 AND offset_num < $2 ORDER BY offset_num`,
		int64(start), int64(end))
	if err != nil {
		return nil, fmt.Errorf("sqlstore: read range: %w", err)
	}
	defer rows.Close()

	var out []*event.Event
	for rows.Next() {
		ev, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Subscribe registers cb to run, in registration order, after every
// future Append commits.
func (s *Store) Subscribe(cb eventstore.Callback) eventstore.SubscriptionID {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	s.nextSubID++
	id := eventstore.SubscriptionID(s.nextSubID)
	s.subs = append(s.subs, subscriber{id: id, cb: cb})
	return id
}

// Unsubscribe removes a previously registered callback.
func (s *Store) Unsubscribe(id eventstore.SubscriptionID) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for i, sub := range s.subs {
		if sub.id == id {
			s.subs = append(s.subs[:i], s.subs[i+1:]...)
			return
		}
	}
}

// Len reports the number of events persisted so far.
func (s *Store) Len() uint64 {
	var n int64
	row := s.db.QueryRow(`SELECT COUNT(*) FROM events`)
	if err := row.Scan(&n); err != nil {
		return 0
	}
	return uint64(n)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(row scanner) (*event.Event, error) {
	var idBytes []byte
	var kind string
	var version int
	var ts int64
	var payload []byte
	if err := row.Scan(&idBytes, &kind, &version, &ts, &payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, eventstore.ErrOffsetOutOfBounds
		}
		return nil, fmt.Errorf("sqlstore: scan: %w", err)
	}
	return buildEvent(idBytes, kind, version, ts, payload)
}

func scanRow(rows *sql.Rows) (*event.Event, error) {
	var idBytes []byte
	var kind string
	var version int
	var ts int64
	var payload []byte
	if err := rows.Scan(&idBytes, &kind, &version, &ts, &payload); err != nil {
		return nil, fmt.Errorf("sqlstore: scan row: %w", err)
	}
	return buildEvent(idBytes, kind, version, ts, payload)
}

func buildEvent(idBytes []byte, kind string, version int, ts int64, payload []byte) (*event.Event, error) {
	p, err := event.DecodePayload(event.Kind(kind), payload)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: decode payload: %w", err)
	}
	var id [32]byte
	copy(id[:], idBytes)
	return &event.Event{ID: id, Kind: event.Kind(kind), Version: version, Timestamp: ts, Payload: p}, nil
}
