package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"
)

var keyRecords = []byte("records")

var ErrDuplicateID = errors.New("directory id already registered")

// DirectoryRecord is an authorized directory as shown on the home view.
// Name is captured when the directory is authorized and never refreshed.
type DirectoryRecord struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Registry is the ordered list of authorized directories. It is read once
// when constructed and written back as a whole on every change.
type Registry struct {
	db *DB

	mu      sync.RWMutex
	records []DirectoryRecord
}

// NewRegistry loads the stored list. A value that does not decode is
// logged and dropped: unreadable records are skipped, and an unreadable list
// starts empty, so one bad write never keeps the home view from loading.
func NewRegistry(db *DB) (*Registry, error) {
	r := &Registry{db: db}
	var raw []byte
	err := db.bolt.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucketDirectories).Get(keyRecords); v != nil {
			raw = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load registry: %w", err)
	}
	if raw != nil {
		r.records = decodeRecords(raw, db.logger)
	}
	return r, nil
}

func decodeRecords(raw []byte, logger *zap.Logger) []DirectoryRecord {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		logger.Error("registry unreadable, starting empty", zap.Error(err))
		return nil
	}
	records := make([]DirectoryRecord, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for i, item := range items {
		var rec DirectoryRecord
		if err := json.Unmarshal(item, &rec); err != nil || rec.ID == "" {
			logger.Warn("registry record skipped", zap.Int("index", i), zap.Error(err))
			continue
		}
		if _, dup := seen[rec.ID]; dup {
			logger.Warn("registry record skipped", zap.Int("index", i), zap.String("id", rec.ID))
			continue
		}
		seen[rec.ID] = struct{}{}
		records = append(records, rec)
	}
	return records
}

// List returns a copy of the records in insertion order.
func (r *Registry) List() []DirectoryRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]DirectoryRecord(nil), r.records...)
}

func (r *Registry) Get(id string) (DirectoryRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, rec := range r.records {
		if rec.ID == id {
			return rec, true
		}
	}
	return DirectoryRecord{}, false
}

func (r *Registry) Add(rec DirectoryRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.records {
		if existing.ID == rec.ID {
			return fmt.Errorf("%w: %s", ErrDuplicateID, rec.ID)
		}
	}
	next := append(append([]DirectoryRecord(nil), r.records...), rec)
	if err := r.persist(next); err != nil {
		return err
	}
	r.records = next
	return nil
}

// Remove drops the record for id. Removing an unknown id is not an error;
// the returned bool says whether anything was removed.
func (r *Registry) Remove(id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	next := make([]DirectoryRecord, 0, len(r.records))
	for _, rec := range r.records {
		if rec.ID != id {
			next = append(next, rec)
		}
	}
	if len(next) == len(r.records) {
		return false, nil
	}
	if err := r.persist(next); err != nil {
		return false, err
	}
	r.records = next
	return true, nil
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

// persist writes the whole list. The in-memory copy is only replaced after
// the write succeeds.
func (r *Registry) persist(records []DirectoryRecord) error {
	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("encode registry: %w", err)
	}
	err = r.db.bolt.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDirectories).Put(keyRecords, data)
	})
	if err != nil {
		return fmt.Errorf("write registry: %w", err)
	}
	return nil
}
