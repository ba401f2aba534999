package history

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	bucketRuns   = "runs"
	bucketOutput = "output"
)

// boltStore persists finished runs. Output is stored as a zstd-compressed
// JSON array of fragments under the run id.
type boltStore struct {
	db *bolt.DB
}

func openBolt(path string) (*boltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{bucketRuns, bucketOutput} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &boltStore{db: db}, nil
}

func (b *boltStore) Close() error {
	return b.db.Close()
}

func (b *boltStore) putRun(run Run, output []string) error {
	meta, err := json.Marshal(run)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(output)
	if err != nil {
		return err
	}
	blob, err := compress(raw)
	if err != nil {
		return err
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket([]byte(bucketRuns)).Put([]byte(run.ID), meta); err != nil {
			return err
		}
		return tx.Bucket([]byte(bucketOutput)).Put([]byte(run.ID), blob)
	})
}

func (b *boltStore) run(id string) (Run, bool, error) {
	var (
		run   Run
		found bool
	)
	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(bucketRuns)).Get([]byte(id))
		if v == nil {
			return nil
		}
		found = true
		return json.Unmarshal(v, &run)
	})
	return run, found, err
}

func (b *boltStore) eachRun(f func(Run)) error {
	return b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketRuns)).ForEach(func(k, v []byte) error {
			var run Run
			if err := json.Unmarshal(v, &run); err != nil {
				return fmt.Errorf("run %s: %w", k, err)
			}
			f(run)
			return nil
		})
	})
}

func (b *boltStore) output(id string) ([]string, error) {
	var blob []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(bucketOutput)).Get([]byte(id))
		if v == nil {
			return fmt.Errorf("%s: %w", id, ErrNotFound)
		}
		blob = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	raw, err := decompress(blob)
	if err != nil {
		return nil, fmt.Errorf("output %s: %w", id, err)
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("output %s: %w", id, err)
	}
	return out, nil
}
