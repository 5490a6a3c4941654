package history

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
)

var (
	bucketRecords = []byte("records")
	bucketIDs     = []byte("record_ids")
)

// BoltStore keeps history in a local bbolt file. Record keys are the
// big-endian creation time followed by the id, so a reverse cursor walk
// yields newest first.
type BoltStore struct {
	db  *bbolt.DB
	now func() time.Time
}

var _ Store = (*BoltStore)(nil)

func OpenBolt(path string) (*BoltStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create history dir: %w", err)
		}
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketRecords); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(bucketIDs); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init history buckets: %w", err)
	}

	return &BoltStore{db: db, now: time.Now}, nil
}

func recordKey(rec Record) []byte {
	key := make([]byte, 8, 8+len(rec.ID))
	binary.BigEndian.PutUint64(key, uint64(rec.CreatedAt.UnixNano()))
	return append(key, rec.ID...)
}

func (s *BoltStore) Append(ctx context.Context, rec Record) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	rec = prepare(rec, s.now())

	data, err := json.Marshal(rec)
	if err != nil {
		return Record{}, fmt.Errorf("encode history record: %w", err)
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		ids := tx.Bucket(bucketIDs)
		if ids.Get([]byte(rec.ID)) != nil {
			return fmt.Errorf("history record %s already exists", rec.ID)
		}
		key := recordKey(rec)
		if err := tx.Bucket(bucketRecords).Put(key, data); err != nil {
			return err
		}
		return ids.Put([]byte(rec.ID), key)
	})
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}

// List returns at most limit records, newest first, without payloads.
// A limit <= 0 returns everything.
func (s *BoltStore) List(ctx context.Context, limit int) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := []Record{}
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketRecords).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("decode history record: %w", err)
			}
			rec.Payload = nil
			out = append(out, rec)
			if limit > 0 && len(out) == limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *BoltStore) Get(ctx context.Context, id string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}

	var rec Record
	err := s.db.View(func(tx *bbolt.Tx) error {
		key := tx.Bucket(bucketIDs).Get([]byte(id))
		if key == nil {
			return ErrNotFound
		}
		data := tx.Bucket(bucketRecords).Get(key)
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}

func (s *BoltStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		ids := tx.Bucket(bucketIDs)
		key := ids.Get([]byte(id))
		if key == nil {
			return ErrNotFound
		}
		key = append([]byte(nil), key...)
		if err := tx.Bucket(bucketRecords).Delete(key); err != nil {
			return err
		}
		return ids.Delete([]byte(id))
	})
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
