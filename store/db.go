// Package store persists authorized directories across sessions.
//
// Two stores share one bbolt file but never one bucket: the registry holds
// serializable records (id and display name) and the handle store holds
// host-encoded capability tokens keyed by the same id. A record is only
// usable while its token is present.
package store

import (
	"fmt"
	"strconv"
	"time"

	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"
)

// SchemaVersion is the layout written by this package.
const SchemaVersion = 2

var (
	bucketMeta        = []byte("meta")
	bucketDirectories = []byte("directories")
	bucketHandles     = []byte("handles")

	// legacyBuckets are dropped on migration. Version 1 kept records and
	// handles together in a single table.
	legacyBuckets = [][]byte{[]byte("directoryHandles")}

	keyVersion = []byte("version")
)

// DB wraps the bbolt file behind both stores.
type DB struct {
	bolt   *bolt.DB
	logger *zap.Logger
}

// Open opens or creates the database at path and migrates older layouts.
func Open(path string, logger *zap.Logger) (*DB, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	b, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", path, err)
	}
	db := &DB{bolt: b, logger: logger}
	if err := db.migrate(); err != nil {
		_ = b.Close()
		return nil, err
	}
	return db, nil
}

func (db *DB) Close() error {
	return db.bolt.Close()
}

// Version reports the schema version stored in the file.
func (db *DB) Version() (int, error) {
	var v int
	err := db.bolt.View(func(tx *bolt.Tx) error {
		v = readVersion(tx)
		return nil
	})
	return v, err
}

func readVersion(tx *bolt.Tx) int {
	meta := tx.Bucket(bucketMeta)
	if meta == nil {
		return 0
	}
	raw := meta.Get(keyVersion)
	if raw == nil {
		return 0
	}
	v, err := strconv.Atoi(string(raw))
	if err != nil {
		return 0
	}
	return v
}

func (db *DB) migrate() error {
	return db.bolt.Update(func(tx *bolt.Tx) error {
		from := readVersion(tx)
		if from > SchemaVersion {
			return fmt.Errorf("store schema version %d is newer than supported version %d", from, SchemaVersion)
		}
		if from < SchemaVersion {
			stale := append([][]byte{}, legacyBuckets...)
			stale = append(stale, bucketDirectories, bucketHandles)
			dropped := 0
			for _, name := range stale {
				if tx.Bucket(name) == nil {
					continue
				}
				if err := tx.DeleteBucket(name); err != nil {
					return fmt.Errorf("drop bucket %s: %w", name, err)
				}
				dropped++
			}
			if from > 0 || dropped > 0 {
				db.logger.Warn("store schema migrated, previous directories discarded",
					zap.Int("from", from),
					zap.Int("to", SchemaVersion),
					zap.Int("dropped_buckets", dropped))
			}
		}
		for _, name := range [][]byte{bucketMeta, bucketDirectories, bucketHandles} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return tx.Bucket(bucketMeta).Put(keyVersion, []byte(strconv.Itoa(SchemaVersion)))
	})
}
