package store

import (
	"fmt"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"

	"dirbrowse/host"
)

// Codec converts directory capabilities to and from persistable tokens.
// host.Host satisfies it.
type Codec interface {
	Encode(h host.DirectoryHandle) ([]byte, error)
	Decode(token []byte) (host.DirectoryHandle, error)
}

// HandleStore keeps one capability token per generated id. Entries are
// never updated in place; a capability does not change once issued.
type HandleStore struct {
	db    *DB
	codec Codec
}

func NewHandleStore(db *DB, codec Codec) *HandleStore {
	return &HandleStore{db: db, codec: codec}
}

// Save stores h under a fresh id and returns the id.
func (s *HandleStore) Save(h host.DirectoryHandle) (string, error) {
	token, err := s.codec.Encode(h)
	if err != nil {
		return "", fmt.Errorf("encode handle: %w", err)
	}
	id := uuid.NewString()
	err = s.db.bolt.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketHandles).Put([]byte(id), token)
	})
	if err != nil {
		return "", fmt.Errorf("save handle: %w", err)
	}
	return id, nil
}

// Get returns the handle stored under id. Storage and decode failures are
// logged and reported as absent.
func (s *HandleStore) Get(id string) (host.DirectoryHandle, bool) {
	var token []byte
	err := s.db.bolt.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucketHandles).Get([]byte(id)); v != nil {
			token = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		s.db.logger.Error("read handle", zap.String("id", id), zap.Error(err))
		return nil, false
	}
	if token == nil {
		return nil, false
	}
	h, err := s.codec.Decode(token)
	if err != nil {
		s.db.logger.Error("decode handle", zap.String("id", id), zap.Error(err))
		return nil, false
	}
	return h, true
}

// Remove deletes the entry for id and reports whether one existed.
func (s *HandleStore) Remove(id string) bool {
	removed := false
	err := s.db.bolt.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketHandles)
		if b.Get([]byte(id)) == nil {
			return nil
		}
		removed = true
		return b.Delete([]byte(id))
	})
	if err != nil {
		s.db.logger.Error("remove handle", zap.String("id", id), zap.Error(err))
		return false
	}
	return removed
}
