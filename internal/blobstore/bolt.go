package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"
)

const layoutVersion = "1"

var (
	bucketSegments = []byte("segments")
	bucketMeta     = []byte("meta")
	keyLayout      = []byte("layout_version")
)

// Bolt stores blobs in a single bbolt bucket keyed by "<session>:<segment>".
type Bolt struct {
	db   *bolt.DB
	path string
}

// OpenBolt opens (or creates) the fallback key-value store.
func OpenBolt(path string) (*Bolt, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open boltdb: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketSegments); err != nil {
			return err
		}
		meta, err := tx.CreateBucketIfNotExists(bucketMeta)
		if err != nil {
			return err
		}
		current := meta.Get(keyLayout)
		if current == nil {
			return meta.Put(keyLayout, []byte(layoutVersion))
		}
		if string(current) != layoutVersion {
			return fmt.Errorf("%w: found %s, want %s", ErrLayoutMismatch, current, layoutVersion)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init buckets: %w", err)
	}
	return &Bolt{db: db, path: path}, nil
}

func (b *Bolt) Name() string { return "bolt" }

// Path returns the database file location.
func (b *Bolt) Path() string { return b.path }

func compositeKey(sessionID, segmentID string) []byte {
	return []byte(sessionID + ":" + segmentID)
}

func (b *Bolt) Put(ctx context.Context, sessionID, segmentID string, data []byte) error {
	if err := ensureContext(ctx); err != nil {
		return err
	}
	if err := validateKey(sessionID, segmentID); err != nil {
		return err
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSegments).Put(compositeKey(sessionID, segmentID), data)
	})
}

func (b *Bolt) Get(ctx context.Context, sessionID, segmentID string) ([]byte, error) {
	if err := ensureContext(ctx); err != nil {
		return nil, err
	}
	if err := validateKey(sessionID, segmentID); err != nil {
		return nil, err
	}
	var out []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		value := tx.Bucket(bucketSegments).Get(compositeKey(sessionID, segmentID))
		if value == nil {
			return ErrNotFound
		}
		// Values are only valid for the life of the transaction.
		out = append([]byte(nil), value...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (b *Bolt) List(ctx context.Context, sessionID string) ([]string, error) {
	if err := ensureContext(ctx); err != nil {
		return nil, err
	}
	if err := validatePart("session id", sessionID); err != nil {
		return nil, err
	}
	prefix := []byte(sessionID + ":")
	var ids []string
	err := b.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketSegments).Cursor()
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			ids = append(ids, string(k[len(prefix):]))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	return ids, nil
}

func (b *Bolt) Delete(ctx context.Context, sessionID, segmentID string) error {
	if err := ensureContext(ctx); err != nil {
		return err
	}
	if err := validateKey(sessionID, segmentID); err != nil {
		return err
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSegments).Delete(compositeKey(sessionID, segmentID))
	})
}

func (b *Bolt) Close() error {
	return b.db.Close()
}
