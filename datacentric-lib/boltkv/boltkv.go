// Package boltkv is a durable, single-file reference implementation of
// kvport.Backend on top of go.etcd.io/bbolt, one bucket per record root
// plus a companion index bucket holding the mandatory Key-DataSet-Id
// ordering. DataSet/id descending order is achieved by storing those two
// components byte-inverted in the index key, so a plain ascending bbolt
// cursor walk yields descending order -- the same trick erigon's own
// table layouts use to get reverse iteration out of a forward-only
// b-tree cursor.
package boltkv

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"github.com/goccy/go-json"
	"github.com/gofrs/flock"
	"github.com/golang/snappy"
	bolt "go.etcd.io/bbolt"

	"github.com/4degrees/datacentric-lib/kvport"
	"github.com/4degrees/datacentric-lib/schema"
	"github.com/4degrees/datacentric-lib/tid"
)

const indexSuffix = "__idx"

// DuplicateKeyError mirrors memkv.DuplicateKeyError for the durable
// backend so the dataset resolver's benign-race handling works
// identically regardless of which Backend is in play.
type DuplicateKeyError struct {
	ID tid.TID
}

func (e *DuplicateKeyError) Error() string      { return fmt.Sprintf("boltkv: duplicate id %s", e.ID) }
func (e *DuplicateKeyError) DuplicateKey() bool { return true }

// Backend is a durable kvport.Backend backed by a single bbolt file.
type Backend struct {
	db   *bolt.DB
	path string
}

// Open opens (creating if absent) the bbolt file at path.
func Open(path string) (*Backend, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("boltkv: open %s: %w", path, err)
	}
	return &Backend{db: db, path: path}, nil
}

// Close releases the underlying file handle.
func (b *Backend) Close() error { return b.db.Close() }

func (b *Backend) GetCollection(_ context.Context, root string) (kvport.Collection, error) {
	err := b.db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(root)); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists([]byte(root + indexSuffix))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("boltkv: open collection %s: %w", root, err)
	}
	return &collection{db: b.db, root: root}, nil
}

// DropDatabase closes and removes the backing file. It takes an exclusive
// file lock first so a concurrent process holding the file cannot
// observe a half-removed database, mirroring erigon's datadir
// locking convention for destructive operations.
func (b *Backend) DropDatabase(_ context.Context) error {
	lock := flock.New(b.path + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("boltkv: lock %s: %w", b.path, err)
	}
	defer lock.Unlock()

	if err := b.db.Close(); err != nil {
		return fmt.Errorf("boltkv: close before drop: %w", err)
	}
	if err := os.Remove(b.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("boltkv: remove %s: %w", b.path, err)
	}
	return nil
}

type collection struct {
	db   *bolt.DB
	root string
}

func invert(b []byte) []byte {
	out := make([]byte, len(b))
	for i, c := range b {
		out[i] = ^c
	}
	return out
}

func indexKey(key string, dataSet, id tid.TID) []byte {
	var buf bytes.Buffer
	buf.WriteString(key)
	buf.WriteByte(0)
	buf.Write(invert(dataSet.Bytes()))
	buf.Write(invert(id.Bytes()))
	return buf.Bytes()
}

func encodeEnvelope(env *schema.Envelope) ([]byte, error) {
	raw, err := json.Marshal(env)
	if err != nil {
		return nil, err
	}
	return snappy.Encode(nil, raw), nil
}

func decodeEnvelope(compressed []byte) (*schema.Envelope, error) {
	raw, err := snappy.Decode(nil, compressed)
	if err != nil {
		return nil, err
	}
	var env schema.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, err
	}
	return &env, nil
}

func (c *collection) InsertOne(_ context.Context, env *schema.Envelope) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		return c.insertLocked(tx, env)
	})
}

func (c *collection) InsertMany(_ context.Context, envs []*schema.Envelope) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		for _, env := range envs {
			if err := c.insertLocked(tx, env); err != nil {
				return err
			}
		}
		return nil
	})
}

func (c *collection) insertLocked(tx *bolt.Tx, env *schema.Envelope) error {
	data := tx.Bucket([]byte(c.root))
	idx := tx.Bucket([]byte(c.root + indexSuffix))
	idBytes := env.ID.Bytes()
	if existing := data.Get(idBytes); existing != nil {
		return &DuplicateKeyError{ID: env.ID}
	}
	enc, err := encodeEnvelope(env)
	if err != nil {
		return err
	}
	if err := data.Put(idBytes, enc); err != nil {
		return err
	}
	return idx.Put(indexKey(env.Key, env.DataSet, env.ID), idBytes)
}

func (c *collection) UpsertNonTemporal(_ context.Context, env *schema.Envelope) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(c.root))
		idx := tx.Bucket([]byte(c.root + indexSuffix))

		prefix := append([]byte(env.Key), 0)
		cur := idx.Cursor()
		var staleIdxKeys, staleIDs [][]byte
		for k, v := cur.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = cur.Next() {
			staleEnv, err := getByID(data, v)
			if err != nil {
				return err
			}
			if staleEnv != nil && staleEnv.DataSet == env.DataSet {
				kk := make([]byte, len(k))
				copy(kk, k)
				staleIdxKeys = append(staleIdxKeys, kk)
				staleIDs = append(staleIDs, v)
			}
		}
		for i, k := range staleIdxKeys {
			if err := idx.Delete(k); err != nil {
				return err
			}
			if err := data.Delete(staleIDs[i]); err != nil {
				return err
			}
		}

		enc, err := encodeEnvelope(env)
		if err != nil {
			return err
		}
		idBytes := env.ID.Bytes()
		if err := data.Put(idBytes, enc); err != nil {
			return err
		}
		return idx.Put(indexKey(env.Key, env.DataSet, env.ID), idBytes)
	})
}

func getByID(data *bolt.Bucket, idBytes []byte) (*schema.Envelope, error) {
	raw := data.Get(idBytes)
	if raw == nil {
		return nil, nil
	}
	return decodeEnvelope(raw)
}

// CreateIndex is idempotent and, for this reference backend, a no-op
// beyond the mandatory Key-DataSet-Id index created in GetCollection:
// additional metadata-declared indexes are outside this backend's scope
// beyond the mandatory one are out of scope for this reference backend.
func (c *collection) CreateIndex(_ context.Context, _ kvport.IndexSpec) error { return nil }

func (c *collection) Find(_ context.Context, filter kvport.Filter, sortSpec []kvport.SortField, limit int) (kvport.Cursor, error) {
	var out []*schema.Envelope
	err := c.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(c.root))
		idx := tx.Bucket([]byte(c.root + indexSuffix))

		switch {
		case filter.ID != nil:
			env, err := getByID(data, filter.ID.Bytes())
			if err != nil {
				return err
			}
			if env != nil && kvport.Matches(env, filter) {
				out = append(out, env)
			}
		case filter.Key != nil:
			prefix := append([]byte(*filter.Key), 0)
			cur := idx.Cursor()
			for k, v := cur.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = cur.Next() {
				env, err := getByID(data, v)
				if err != nil {
					return err
				}
				if env != nil && kvport.Matches(env, filter) {
					out = append(out, env)
				}
			}
		default:
			cur := data.Cursor()
			for k, v := cur.First(); k != nil; k, v = cur.Next() {
				env, err := decodeEnvelope(v)
				if err != nil {
					return err
				}
				if kvport.Matches(env, filter) {
					out = append(out, env)
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	kvport.SortEnvelopes(out, sortSpec)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return &cursor{envs: out}, nil
}



type cursor struct {
	envs []*schema.Envelope
	pos  int
}

func (c *cursor) Next(_ context.Context) (*schema.Envelope, error) {
	if c.pos >= len(c.envs) {
		return nil, nil
	}
	e := c.envs[c.pos]
	c.pos++
	return e, nil
}

func (c *cursor) Close() error { return nil }
