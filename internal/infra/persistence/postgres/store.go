// Package postgres provides a Postgres-backed persistent store that mirrors
// the in-memory semantics and guards snapshot writes with an optimistic
// version check so concurrent service instances cannot clobber each other.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"radoncore/internal/infra/persistence/memory"
	"radoncore/pkg/domain"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.PersistentStore = (*Store)(nil)

const (
	defaultDriver = "pgx"
	// Default DSN keeps parity with OpenPersistentStore defaults while allowing overrides via env.
	defaultDSN = "postgres://localhost/radoncore?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Store persists state to Postgres while reusing the in-memory implementation
// for transactions. Snapshot writes bump a version row under a compare-and-swap
// predicate; a lost swap surfaces as domain.RaceLostError.
type Store struct {
	*memory.Store
	db      *sql.DB
	mu      sync.Mutex
	version int64
}

// NewStore opens a Postgres-backed store using the provided DSN (falls back to
// defaultDSN), ensures the snapshot tables exist, and hydrates the in-memory
// store from any existing snapshot.
func NewStore(dsn string, engine *domain.RulesEngine) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := ensureStateTables(ctx, db); err != nil {
		return nil, err
	}
	snapshot, version, err := loadSnapshot(ctx, db)
	if err != nil {
		return nil, err
	}
	mem := memory.NewStore(engine)
	mem.ImportState(snapshot)
	return &Store{Store: mem, db: db, version: version}, nil
}

// RunInTransaction applies the provided function within a transaction, then
// snapshots to Postgres if successful. A failed snapshot write rolls the
// in-memory state back so the commit never outlives its durable copy; after a
// lost version swap the store rehydrates from the database, letting the caller
// retry against the winning instance's state.
func (s *Store) RunInTransaction(ctx context.Context, fn func(domain.Transaction) error) (domain.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.ExportState()
	res, err := s.Store.RunInTransaction(ctx, fn)
	if err != nil {
		return res, err
	}
	if err := s.persist(ctx); err != nil {
		s.ImportState(prev)
		if domain.IsRaceLost(err) {
			if snapshot, version, loadErr := loadSnapshot(ctx, s.db); loadErr == nil {
				s.ImportState(snapshot)
				s.version = version
			}
		}
		return res, err
	}
	return res, nil
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

func ensureStateTables(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS state (
			bucket TEXT PRIMARY KEY,
			payload JSONB NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS state_meta (
			id INTEGER PRIMARY KEY,
			version BIGINT NOT NULL
		)`,
		`INSERT INTO state_meta(id, version) VALUES(1, 0) ON CONFLICT(id) DO NOTHING`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure state tables: %w", err)
		}
	}
	return nil
}

var postgresBuckets = []string{"homes", "sessions", "results", "certificates"}

func loadSnapshot(ctx context.Context, db *sql.DB) (memory.Snapshot, int64, error) {
	var version int64
	if err := db.QueryRowContext(ctx, `SELECT version FROM state_meta WHERE id = 1`).Scan(&version); err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return memory.Snapshot{}, 0, fmt.Errorf("read state version: %w", err)
		}
	}

	rows, err := db.QueryContext(ctx, `SELECT bucket, payload FROM state`)
	if err != nil {
		return memory.Snapshot{}, 0, fmt.Errorf("select state: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var snapshot memory.Snapshot
	targets := map[string]any{
		"homes":        &snapshot.Homes,
		"sessions":     &snapshot.Sessions,
		"results":      &snapshot.Results,
		"certificates": &snapshot.Certificates,
	}
	for rows.Next() {
		var bucket string
		var payload []byte
		if err := rows.Scan(&bucket, &payload); err != nil {
			return memory.Snapshot{}, 0, fmt.Errorf("scan state: %w", err)
		}
		if len(payload) == 0 {
			continue
		}
		if target, ok := targets[bucket]; ok {
			if err := json.Unmarshal(payload, target); err != nil {
				return memory.Snapshot{}, 0, fmt.Errorf("decode %s: %w", bucket, err)
			}
		}
	}
	if err := rows.Err(); err != nil {
		return memory.Snapshot{}, 0, fmt.Errorf("iterate state: %w", err)
	}
	return snapshot, version, nil
}

// persist runs under s.mu, held by RunInTransaction.
func (s *Store) persist(ctx context.Context) error {
	snapshot := s.ExportState()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `UPDATE state_meta SET version = version + 1 WHERE id = 1 AND version = $1`, s.version)
	if err != nil {
		return fmt.Errorf("bump state version: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("bump state version: %w", err)
	}
	if affected == 0 {
		return domain.RaceLostError{Scope: "state snapshot"}
	}

	for _, bucket := range postgresBuckets {
		var data []byte
		switch bucket {
		case "homes":
			data, err = json.Marshal(snapshot.Homes)
		case "sessions":
			data, err = json.Marshal(snapshot.Sessions)
		case "results":
			data, err = json.Marshal(snapshot.Results)
		case "certificates":
			data, err = json.Marshal(snapshot.Certificates)
		}
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO state(bucket,payload) VALUES($1,$2) ON CONFLICT(bucket) DO UPDATE SET payload=EXCLUDED.payload`, bucket, data); err != nil {
			return fmt.Errorf("upsert %s: %w", bucket, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	s.version++
	return nil
}

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
