// Package bolt implements a persistent embedded driver backed by a bbolt
// database file. Values are stored as bytes, so the raw and text channels
// share one keyspace; per-key modification times live in a sidecar bucket
// to serve metadata queries.
package bolt

import (
	"bytes"
	"context"
	"encoding/binary"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/ansvik/stash/lib/driver"
	"github.com/ansvik/stash/lib/keys"
)

const features = driver.FeatureSet |
	driver.FeatureSetRaw |
	driver.FeatureGetRaw |
	driver.FeatureRemove |
	driver.FeatureGetMeta |
	driver.FeatureClear |
	driver.FeatureDispose

var (
	dataBucket  = []byte("data")
	mtimeBucket = []byte("mtime")
)

// Config configures a bolt driver.
type Config struct {
	// Path is the database file. Required.
	Path string
	// Timeout bounds the wait for the file lock; zero blocks indefinitely.
	Timeout time.Duration
}

type boltDriver struct {
	db   *bolt.DB
	path string
}

// New opens (or creates) the database file and prepares the buckets.
func New(cfg Config) (driver.Driver, error) {
	if cfg.Path == "" {
		return nil, driver.NewError(driver.RetCMissingConfig, "bolt driver requires a database path")
	}
	db, err := bolt.Open(cfg.Path, 0o600, &bolt.Options{Timeout: cfg.Timeout})
	if err != nil {
		return nil, driver.NewErrorf(driver.RetCBackend, "open %q: %v", cfg.Path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(dataBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(mtimeBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, driver.NewErrorf(driver.RetCBackend, "prepare buckets: %v", err)
	}
	return &boltDriver{db: db, path: cfg.Path}, nil
}

// --------------------------------------------------------------------------
// Interface Methods (docu see driver/driver.go)
// --------------------------------------------------------------------------

func (d *boltDriver) Has(_ context.Context, key string, _ driver.Options) (bool, error) {
	var found bool
	err := d.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket(dataBucket).Get([]byte(key)) != nil
		return nil
	})
	if err != nil {
		return false, driver.NewErrorf(driver.RetCBackend, "has %q: %v", key, err)
	}
	return found, nil
}

func (d *boltDriver) Get(ctx context.Context, key string, opts driver.Options) (string, bool, error) {
	b, found, err := d.GetRaw(ctx, key, opts)
	if err != nil || !found {
		return "", found, err
	}
	return string(b), true, nil
}

func (d *boltDriver) GetRaw(_ context.Context, key string, _ driver.Options) ([]byte, bool, error) {
	var (
		value []byte
		found bool
	)
	err := d.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(dataBucket).Get([]byte(key)); v != nil {
			value = append([]byte{}, v...) // copy out of the mmap
			found = true
		}
		return nil
	})
	if err != nil {
		return nil, false, driver.NewErrorf(driver.RetCBackend, "get %q: %v", key, err)
	}
	return value, found, nil
}

func (d *boltDriver) Set(ctx context.Context, key, value string, opts driver.Options) error {
	return d.SetRaw(ctx, key, []byte(value), opts)
}

func (d *boltDriver) SetRaw(_ context.Context, key string, value []byte, _ driver.Options) error {
	err := d.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(dataBucket).Put([]byte(key), value); err != nil {
			return err
		}
		var ts [8]byte
		binary.BigEndian.PutUint64(ts[:], uint64(time.Now().UnixNano()))
		return tx.Bucket(mtimeBucket).Put([]byte(key), ts[:])
	})
	if err != nil {
		return driver.NewErrorf(driver.RetCBackend, "set %q: %v", key, err)
	}
	return nil
}

func (d *boltDriver) Remove(_ context.Context, key string, _ driver.Options) error {
	err := d.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(dataBucket).Delete([]byte(key)); err != nil {
			return err
		}
		return tx.Bucket(mtimeBucket).Delete([]byte(key))
	})
	if err != nil {
		return driver.NewErrorf(driver.RetCBackend, "remove %q: %v", key, err)
	}
	return nil
}

func (d *boltDriver) GetMeta(_ context.Context, key string, _ driver.Options) (*driver.Meta, error) {
	var meta *driver.Meta
	err := d.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(dataBucket).Get([]byte(key))
		if v == nil {
			return nil
		}
		meta = &driver.Meta{Size: int64(len(v))}
		if ts := tx.Bucket(mtimeBucket).Get([]byte(key)); len(ts) == 8 {
			meta.Mtime = time.Unix(0, int64(binary.BigEndian.Uint64(ts)))
		}
		return nil
	})
	if err != nil {
		return nil, driver.NewErrorf(driver.RetCBackend, "meta %q: %v", key, err)
	}
	return meta, nil
}

func (d *boltDriver) ListKeys(_ context.Context, base string, _ driver.Options) ([]string, error) {
	var result []string
	err := d.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(dataBucket).Cursor()
		if base == "" {
			for k, _ := c.First(); k != nil; k, _ = c.Next() {
				result = append(result, string(k))
			}
			return nil
		}
		prefix := []byte(base)
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			result = append(result, string(k))
		}
		return nil
	})
	if err != nil {
		return nil, driver.NewErrorf(driver.RetCBackend, "list %q: %v", base, err)
	}
	return result, nil
}

func (d *boltDriver) GetMany(_ context.Context, _ []string, _ driver.Options) ([]driver.GetResult, error) {
	return nil, nil // unsupported, engine falls back to singletons
}

func (d *boltDriver) SetMany(_ context.Context, _ []driver.SetItem, _ driver.Options) error {
	return nil // unsupported
}

func (d *boltDriver) Clear(_ context.Context, base string, _ driver.Options) error {
	err := d.db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{dataBucket, mtimeBucket} {
			c := tx.Bucket(bucket).Cursor()
			for k, _ := c.First(); k != nil; k, _ = c.Next() {
				if keys.HasBase(string(k), base) {
					if err := c.Delete(); err != nil {
						return err
					}
				}
			}
		}
		return nil
	})
	if err != nil {
		return driver.NewErrorf(driver.RetCBackend, "clear %q: %v", base, err)
	}
	return nil
}

func (d *boltDriver) Watch(_ driver.WatchCallback) (driver.UnwatchFunc, error) {
	return nil, nil // unsupported
}

func (d *boltDriver) Dispose() error {
	if err := d.db.Close(); err != nil {
		return driver.NewErrorf(driver.RetCBackend, "close %q: %v", d.path, err)
	}
	return nil
}

func (d *boltDriver) SupportsFeature(f driver.Feature) bool {
	return features&f == f
}

func (d *boltDriver) GetInfo() driver.Info {
	return driver.Info{
		Name:     "bolt",
		Features: features.List(),
		Metadata: map[string]any{"path": d.path},
	}
}
