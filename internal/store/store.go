// Package store is the raw-SQL persistence layer, grounded on
// store/strategy.go's shape in the teacher repo: a Store struct wrapping
// a single *sql.DB, with typed sub-stores handed out by accessor methods
// so each entity owns its own table definitions and queries.
package store

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/shadowmirror/copytrader/internal/domain"
)

// Store is the top-level handle opened once per process and shared by
// every instance's control loop and the upstream refresh loop.
type Store struct {
	db *sql.DB

	trader   *TraderStore
	upstream *UpstreamStore
}

// Open opens (creating if necessary) the sqlite database at path and
// ensures the shared, instance-independent tables exist.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite is not safe for concurrent writers

	s := &Store{db: db}
	s.trader = &TraderStore{db: db}
	s.upstream = &UpstreamStore{db: db}

	if err := s.trader.initTables(); err != nil {
		return nil, err
	}
	if err := s.upstream.initTables(); err != nil {
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// Trader returns the shared trader/trader_stats sub-store.
func (s *Store) Trader() *TraderStore { return s.trader }

// Upstream returns the position_temp sub-store.
func (s *Store) Upstream() *UpstreamStore { return s.upstream }

// Positions returns the per-instance mirrored-position sub-store,
// creating its table on first use.
func (s *Store) Positions(instance domain.Instance) (*PositionStore, error) {
	ps := &PositionStore{db: s.db, instance: instance}
	if err := ps.initTables(); err != nil {
		return nil, err
	}
	return ps, nil
}

// Triggers returns the shared stop-loss/take-profit sub-store.
func (s *Store) Triggers() (*TriggerStore, error) {
	ts := &TriggerStore{db: s.db}
	if err := ts.initTables(); err != nil {
		return nil, err
	}
	return ts, nil
}

// Stats returns the success-stats/penalty/KC sub-store for one instance.
func (s *Store) Stats(instance domain.Instance) (*StatsStore, error) {
	ss := &StatsStore{db: s.db, instance: instance}
	if err := ss.initTables(); err != nil {
		return nil, err
	}
	return ss, nil
}
