package storage

import (
	"context"
	"strings"

	"github.com/ansvik/stash/lib/driver"
	"github.com/ansvik/stash/lib/keys"
)

// WithPrefix returns a namespaced view of storage: every key-bearing
// operation rewrites its keys under the prefix on the way in and strips it
// on the way out. The view shares the underlying engine, including its
// mount table and watch surface. An empty prefix returns storage itself.
func WithPrefix(storage Storage, prefix string) Storage {
	base := keys.NormalizeBase(prefix)
	if base == "" {
		return storage
	}
	return &prefixStorage{inner: storage, base: base}
}

type prefixStorage struct {
	inner Storage
	base  string // normalized, trailing ":"
}

func (p *prefixStorage) key(k string) string {
	return p.base + keys.Normalize(k)
}

func (p *prefixStorage) strip(k string) string {
	return strings.TrimPrefix(k, p.base)
}

// --------------------------------------------------------------------------
// Interface Methods (docu see interface.go)
// --------------------------------------------------------------------------

func (p *prefixStorage) Has(ctx context.Context, key string, opts ...driver.Options) (bool, error) {
	return p.inner.Has(ctx, p.key(key), opts...)
}

func (p *prefixStorage) Get(ctx context.Context, key string, opts ...driver.Options) (any, error) {
	return p.inner.Get(ctx, p.key(key), opts...)
}

func (p *prefixStorage) GetRaw(ctx context.Context, key string, opts ...driver.Options) ([]byte, error) {
	return p.inner.GetRaw(ctx, p.key(key), opts...)
}

func (p *prefixStorage) Set(ctx context.Context, key string, value any, opts ...driver.Options) error {
	return p.inner.Set(ctx, p.key(key), value, opts...)
}

func (p *prefixStorage) SetRaw(ctx context.Context, key string, value []byte, opts ...driver.Options) error {
	return p.inner.SetRaw(ctx, p.key(key), value, opts...)
}

func (p *prefixStorage) Remove(ctx context.Context, key string, opts ...driver.Options) error {
	return p.inner.Remove(ctx, p.key(key), opts...)
}

func (p *prefixStorage) GetMeta(ctx context.Context, key string, opts ...driver.Options) (*driver.Meta, error) {
	return p.inner.GetMeta(ctx, p.key(key), opts...)
}

func (p *prefixStorage) ListKeys(ctx context.Context, base string, opts ...driver.Options) ([]string, error) {
	listed, err := p.inner.ListKeys(ctx, p.base+keys.NormalizeBase(base), opts...)
	if err != nil {
		return nil, err
	}
	stripped := make([]string, len(listed))
	for i, k := range listed {
		stripped[i] = p.strip(k)
	}
	return stripped, nil
}

func (p *prefixStorage) Clear(ctx context.Context, base string, opts ...driver.Options) error {
	return p.inner.Clear(ctx, p.base+keys.NormalizeBase(base), opts...)
}

func (p *prefixStorage) GetMany(ctx context.Context, ks []string, opts ...driver.Options) ([]Entry, error) {
	rewritten := make([]string, len(ks))
	for i, k := range ks {
		rewritten[i] = p.key(k)
	}
	entries, err := p.inner.GetMany(ctx, rewritten, opts...)
	if err != nil {
		return nil, err
	}
	for i := range entries {
		entries[i].Key = p.strip(entries[i].Key)
	}
	return entries, nil
}

func (p *prefixStorage) SetMany(ctx context.Context, items []Entry, opts ...driver.Options) error {
	rewritten := make([]Entry, len(items))
	for i, item := range items {
		rewritten[i] = Entry{Key: p.key(item.Key), Value: item.Value}
	}
	return p.inner.SetMany(ctx, rewritten, opts...)
}

func (p *prefixStorage) Mount(base string, drv driver.Driver) error {
	return p.inner.Mount(p.base+keys.NormalizeBase(base), drv)
}

func (p *prefixStorage) Unmount(base string, dispose bool) error {
	return p.inner.Unmount(p.base+keys.NormalizeBase(base), dispose)
}

// Watch forwards events under the prefix with the prefix stripped.
func (p *prefixStorage) Watch(cb driver.WatchCallback) (driver.UnwatchFunc, error) {
	return p.inner.Watch(func(event driver.EventType, key string) {
		if keys.HasBase(key, p.base) {
			cb(event, p.strip(key))
		}
	})
}

func (p *prefixStorage) Snapshot(ctx context.Context, base string) (map[string]string, error) {
	return p.inner.Snapshot(ctx, p.base+keys.NormalizeBase(base))
}

func (p *prefixStorage) RestoreSnapshot(ctx context.Context, base string, snap map[string]string) error {
	return p.inner.RestoreSnapshot(ctx, p.base+keys.NormalizeBase(base), snap)
}

// Dispose passes through to the shared engine.
func (p *prefixStorage) Dispose() error {
	return p.inner.Dispose()
}
