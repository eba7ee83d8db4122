// Package sqlite persists the in-memory backend to a single SQLite file. The
// committed state is written as one JSON payload per bucket at the end of
// every unit of work and loaded back on open.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"github.com/ehr/careflow/internal/infra/memory"
)

// Store is a memory.Store whose commits are written through to SQLite.
type Store struct {
	*memory.Store
	db   *sql.DB
	path string
}

// Open loads the state stored at path, creating the file when needed.
func Open(ctx context.Context, path string, opts ...memory.Option) (*Store, error) {
	if path == "" {
		path = "careflow.db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer; units of work are already serialised by the memory store.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS state (
		bucket TEXT PRIMARY KEY,
		payload BLOB NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create state table: %w", err)
	}

	snap, err := load(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s := &Store{db: db, path: path}
	opts = append(opts, memory.WithSnapshot(snap), memory.WithCommitHook(s.persist))
	s.Store = memory.New(opts...)
	return s, nil
}

func load(ctx context.Context, db *sql.DB) (*memory.Snapshot, error) {
	rows, err := db.QueryContext(ctx, `SELECT bucket, payload FROM state`)
	if err != nil {
		return nil, fmt.Errorf("select state: %w", err)
	}
	defer func() { _ = rows.Close() }()

	snap := memory.NewSnapshot()
	buckets := snap.Buckets()
	for rows.Next() {
		var (
			bucket  string
			payload []byte
		)
		if err := rows.Scan(&bucket, &payload); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		dst, ok := buckets[bucket]
		if !ok {
			continue
		}
		if err := json.Unmarshal(payload, dst); err != nil {
			return nil, fmt.Errorf("decode %s: %w", bucket, err)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return snap, nil
}

// persist writes every bucket of the next state in one SQLite transaction.
// It runs as the memory store's commit hook, so a failed write aborts the
// unit of work.
func (s *Store) persist(ctx context.Context, next *memory.Snapshot) (retErr error) {
	buckets := next.Buckets()
	names := make([]string, 0, len(buckets))
	for name := range buckets {
		names = append(names, name)
	}
	sort.Strings(names)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	for _, name := range names {
		data, err := json.Marshal(buckets[name])
		if err != nil {
			return fmt.Errorf("encode %s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO state(bucket, payload) VALUES(?, ?)
			ON CONFLICT(bucket) DO UPDATE SET payload = excluded.payload`, name, data); err != nil {
			return fmt.Errorf("upsert %s: %w", name, err)
		}
	}
	return tx.Commit()
}

// Ping checks the database file is reachable.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) Close() error { return s.db.Close() }

// Path returns the database file location.
func (s *Store) Path() string { return s.path }
