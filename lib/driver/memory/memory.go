// Package memory implements the in-process reference driver. Values live
// in a concurrent map; raw payloads round-trip without serialization. The
// driver enforces the ttl option itself and therefore declares NativeTTL.
package memory

import (
	"context"
	"math"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/ansvik/stash/lib/codec"
	"github.com/ansvik/stash/lib/driver"
	"github.com/ansvik/stash/lib/keys"
)

const features = driver.FeatureSet |
	driver.FeatureSetRaw |
	driver.FeatureGetRaw |
	driver.FeatureRemove |
	driver.FeatureGetMeta |
	driver.FeatureClear |
	driver.FeatureDispose |
	driver.FeatureNativeTTL

// entry is one stored key-value pair. raw is non-nil when the value was
// written through the raw channel; text then carries its envelope form so
// text reads stay consistent.
type entry struct {
	text      string
	raw       []byte
	birthtime time.Time
	mtime     time.Time
	expires   time.Time // zero = no expiry
}

func (e entry) expired(now time.Time) bool {
	return !e.expires.IsZero() && now.After(e.expires)
}

type memoryDriver struct {
	data *xsync.MapOf[string, entry]
}

// New creates an empty in-memory driver.
func New() driver.Driver {
	return &memoryDriver{
		data: xsync.NewMapOf[string, entry](),
	}
}

// load returns the live entry for key, dropping it lazily when expired.
func (d *memoryDriver) load(key string) (entry, bool) {
	e, ok := d.data.Load(key)
	if !ok {
		return entry{}, false
	}
	if e.expired(time.Now()) {
		d.data.Delete(key)
		return entry{}, false
	}
	return e, true
}

func (d *memoryDriver) store(key string, e entry, opts driver.Options) {
	now := time.Now()
	e.mtime = now
	e.birthtime = now
	if prev, ok := d.data.Load(key); ok && !prev.expired(now) {
		e.birthtime = prev.birthtime
	}
	if ttl, ok := opts.Int64("ttl"); ok && ttl > 0 {
		e.expires = now.Add(time.Duration(ttl) * time.Second)
	}
	d.data.Store(key, e)
}

// --------------------------------------------------------------------------
// Interface Methods (docu see driver/driver.go)
// --------------------------------------------------------------------------

func (d *memoryDriver) Has(_ context.Context, key string, _ driver.Options) (bool, error) {
	_, ok := d.load(key)
	return ok, nil
}

func (d *memoryDriver) Get(_ context.Context, key string, _ driver.Options) (string, bool, error) {
	e, ok := d.load(key)
	if !ok {
		return "", false, nil
	}
	return e.text, true, nil
}

func (d *memoryDriver) GetRaw(_ context.Context, key string, _ driver.Options) ([]byte, bool, error) {
	e, ok := d.load(key)
	if !ok {
		return nil, false, nil
	}
	if e.raw != nil {
		return e.raw, true, nil
	}
	return []byte(e.text), true, nil
}

func (d *memoryDriver) Set(_ context.Context, key, value string, opts driver.Options) error {
	d.store(key, entry{text: value}, opts)
	return nil
}

func (d *memoryDriver) SetRaw(_ context.Context, key string, value []byte, opts driver.Options) error {
	d.store(key, entry{text: codec.EncodeRaw(value), raw: value}, opts)
	return nil
}

func (d *memoryDriver) Remove(_ context.Context, key string, _ driver.Options) error {
	d.data.Delete(key)
	return nil
}

func (d *memoryDriver) GetMeta(_ context.Context, key string, _ driver.Options) (*driver.Meta, error) {
	e, ok := d.load(key)
	if !ok {
		return nil, nil
	}
	meta := &driver.Meta{
		Mtime:     e.mtime,
		Birthtime: e.birthtime,
		Size:      int64(len(e.text)),
	}
	if e.raw != nil {
		meta.Size = int64(len(e.raw))
	}
	if !e.expires.IsZero() {
		// round up so a freshly set ttl of 1s reports 1, not 0
		if ttl := int64(math.Ceil(time.Until(e.expires).Seconds())); ttl > 0 {
			meta.TTL = ttl
		}
	}
	return meta, nil
}

func (d *memoryDriver) ListKeys(_ context.Context, base string, _ driver.Options) ([]string, error) {
	now := time.Now()
	result := make([]string, 0, d.data.Size())
	d.data.Range(func(key string, e entry) bool {
		if !e.expired(now) && keys.HasBase(key, base) {
			result = append(result, key)
		}
		return true
	})
	return result, nil
}

func (d *memoryDriver) GetMany(_ context.Context, _ []string, _ driver.Options) ([]driver.GetResult, error) {
	return nil, nil // unsupported, engine falls back to singletons
}

func (d *memoryDriver) SetMany(_ context.Context, _ []driver.SetItem, _ driver.Options) error {
	return nil // unsupported
}

func (d *memoryDriver) Clear(_ context.Context, base string, _ driver.Options) error {
	d.data.Range(func(key string, _ entry) bool {
		if keys.HasBase(key, base) {
			d.data.Delete(key)
		}
		return true
	})
	return nil
}

func (d *memoryDriver) Watch(_ driver.WatchCallback) (driver.UnwatchFunc, error) {
	return nil, nil // unsupported
}

func (d *memoryDriver) Dispose() error {
	d.data.Clear()
	return nil
}

func (d *memoryDriver) SupportsFeature(f driver.Feature) bool {
	return features&f == f
}

func (d *memoryDriver) GetInfo() driver.Info {
	return driver.Info{
		Name:     "memory",
		Features: features.List(),
		Metadata: map[string]any{"size": d.data.Size()},
	}
}
