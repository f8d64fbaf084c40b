// Package store provides the durable local store shared by the foreground
// and background execution contexts.
//
// The store is a SQLite database holding named partitions of keyed JSON
// records plus a flat snapshot keyspace. Each operation is a single-record
// transaction; no multi-record transactions are used, so concurrent writers
// from two processes may interleave at the record level but never corrupt
// a single record. Opening the store creates missing partitions without
// touching existing ones (additive migration only).
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	_ "modernc.org/sqlite"

	"github.com/bfgold/storefront-sync/internal/errors"
)

// DBFileName is the database file both contexts open.
const DBFileName = "bfg-background.db"

// Partition names shared by the foreground context and the background agent.
const (
	PartitionPendingOps      = "pending-ops"
	PartitionTrackedProducts = "tracked-products"
)

// Snapshot keys for the offline fallback state. Both contexts must agree
// on these; they are not a compatibility surface beyond that.
const (
	SnapshotCartKey         = "bhagylakshmi-future-gold-cart"
	SnapshotWishlistKey     = "bhagylakshmi-future-gold-wishlist"
	SnapshotProductCacheKey = "bfg-product-cache"
)

// DefaultPartitions are the partitions every context ensures on open.
var DefaultPartitions = []string{PartitionPendingOps, PartitionTrackedProducts}

// partition names are interpolated into DDL/DML, so restrict them
var partitionNameRe = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// Store is a handle on the shared durable database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the durable store under dataDir and
// ensures the named partitions exist. WAL mode keeps the database readable
// and writable from two independent processes.
func Open(dataDir string, partitions ...string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, errors.Wrap(errors.ErrStore, "failed to create data directory", err)
	}

	dbPath := filepath.Join(dataDir, DBFileName)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, errors.Wrap(errors.ErrStore, "failed to open database", err)
	}

	// Single writer per process; cross-process writes serialize on the
	// busy timeout instead of failing immediately.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, errors.Wrap(errors.ErrStore, "failed to enable WAL mode", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000;"); err != nil {
		db.Close()
		return nil, errors.Wrap(errors.ErrStore, "failed to set busy timeout", err)
	}

	s := &Store{db: db}

	if err := s.migrate(partitions); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// migrate creates any missing partitions and the snapshot keyspace.
// Existing tables are never dropped or altered.
func (s *Store) migrate(partitions []string) error {
	for _, name := range partitions {
		if !partitionNameRe.MatchString(name) {
			return errors.New(errors.ErrInvalid, fmt.Sprintf("invalid partition name %q", name))
		}
		query := fmt.Sprintf(
			`CREATE TABLE IF NOT EXISTS %q (id TEXT PRIMARY KEY, data TEXT NOT NULL)`, name)
		if _, err := s.db.Exec(query); err != nil {
			return errors.Wrap(errors.ErrMigration,
				fmt.Sprintf("failed to create partition %q", name), err)
		}
	}

	query := `CREATE TABLE IF NOT EXISTS snapshots (key TEXT PRIMARY KEY, data TEXT NOT NULL)`
	if _, err := s.db.Exec(query); err != nil {
		return errors.Wrap(errors.ErrMigration, "failed to create snapshots table", err)
	}

	return nil
}

// GetAll returns the raw JSON of every record in the partition, in no
// particular order. Callers that need ordering sort after decoding.
func (s *Store) GetAll(partition string) ([][]byte, error) {
	if !partitionNameRe.MatchString(partition) {
		return nil, errors.New(errors.ErrInvalid, fmt.Sprintf("invalid partition name %q", partition))
	}

	rows, err := s.db.Query(fmt.Sprintf(`SELECT data FROM %q`, partition))
	if err != nil {
		return nil, errors.Wrap(errors.ErrStore, "getAll query failed", err)
	}
	defer rows.Close()

	var records [][]byte
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, errors.Wrap(errors.ErrStore, "getAll scan failed", err)
		}
		records = append(records, data)
	}
	return records, rows.Err()
}

// Put upserts a single record. This is the only write primitive for
// partition records; an interrupted writer leaves either the old or the
// new value, never a torn one.
func (s *Store) Put(partition, id string, data []byte) error {
	if !partitionNameRe.MatchString(partition) {
		return errors.New(errors.ErrInvalid, fmt.Sprintf("invalid partition name %q", partition))
	}

	query := fmt.Sprintf(
		`INSERT INTO %q (id, data) VALUES (?, ?)
		 ON CONFLICT(id) DO UPDATE SET data = excluded.data`, partition)
	if _, err := s.db.Exec(query, id, string(data)); err != nil {
		return errors.Wrap(errors.ErrStore, "put failed", err)
	}
	return nil
}

// Delete removes a record by id. Deleting an absent record is a no-op.
func (s *Store) Delete(partition, id string) error {
	if !partitionNameRe.MatchString(partition) {
		return errors.New(errors.ErrInvalid, fmt.Sprintf("invalid partition name %q", partition))
	}

	if _, err := s.db.Exec(fmt.Sprintf(`DELETE FROM %q WHERE id = ?`, partition), id); err != nil {
		return errors.Wrap(errors.ErrStore, "delete failed", err)
	}
	return nil
}

// Clear removes every record in the partition.
func (s *Store) Clear(partition string) error {
	if !partitionNameRe.MatchString(partition) {
		return errors.New(errors.ErrInvalid, fmt.Sprintf("invalid partition name %q", partition))
	}

	if _, err := s.db.Exec(fmt.Sprintf(`DELETE FROM %q`, partition)); err != nil {
		return errors.Wrap(errors.ErrStore, "clear failed", err)
	}
	return nil
}

// Count returns the number of records in the partition.
func (s *Store) Count(partition string) (int, error) {
	if !partitionNameRe.MatchString(partition) {
		return 0, errors.New(errors.ErrInvalid, fmt.Sprintf("invalid partition name %q", partition))
	}

	var n int
	err := s.db.QueryRow(fmt.Sprintf(`SELECT COUNT(*) FROM %q`, partition)).Scan(&n)
	if err != nil {
		return 0, errors.Wrap(errors.ErrStore, "count failed", err)
	}
	return n, nil
}

// PutSnapshot writes a value into the snapshot keyspace.
func (s *Store) PutSnapshot(key string, data []byte) error {
	query := `INSERT INTO snapshots (key, data) VALUES (?, ?)
	          ON CONFLICT(key) DO UPDATE SET data = excluded.data`
	if _, err := s.db.Exec(query, key, string(data)); err != nil {
		return errors.Wrap(errors.ErrStore, "snapshot put failed", err)
	}
	return nil
}

// GetSnapshot reads a value from the snapshot keyspace. The second return
// value reports whether the key was present.
func (s *Store) GetSnapshot(key string) ([]byte, bool, error) {
	var data []byte
	err := s.db.QueryRow(`SELECT data FROM snapshots WHERE key = ?`, key).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(errors.ErrStore, "snapshot get failed", err)
	}
	return data, true, nil
}

// DeleteSnapshot removes a snapshot key. Absent keys are a no-op.
func (s *Store) DeleteSnapshot(key string) error {
	if _, err := s.db.Exec(`DELETE FROM snapshots WHERE key = ?`, key); err != nil {
		return errors.Wrap(errors.ErrStore, "snapshot delete failed", err)
	}
	return nil
}

// Close closes the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
