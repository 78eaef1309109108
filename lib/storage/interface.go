package storage

import (
	"context"

	"github.com/ansvik/stash/lib/driver"
)

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// Entry is one key-value pair of a batched operation. Values follow the
// engine's value model: nil, bool, numbers, strings, JSON-shaped maps and
// slices.
type Entry struct {
	Key   string
	Value any
}

// Storage is the facade callers interact with. Keys are normalized on
// entry; operations route to the mount owning the longest matching base.
// Write operations on a backend lacking the capability return silently;
// read operations report absence through nil (Get/GetMeta) or false (Has).
type Storage interface {
	// Has checks whether a key exists.
	Has(ctx context.Context, key string, opts ...driver.Options) (bool, error)
	// Get retrieves the value for a key, nil when absent. Stored text runs
	// through the tolerant parser.
	Get(ctx context.Context, key string, opts ...driver.Options) (any, error)
	// GetRaw retrieves the value of a key as opaque bytes, nil when absent.
	GetRaw(ctx context.Context, key string, opts ...driver.Options) ([]byte, error)
	// Set inserts or updates a key. A nil value removes the key.
	Set(ctx context.Context, key string, value any, opts ...driver.Options) error
	// SetRaw stores opaque bytes, going through the text envelope when the
	// backend has no native raw channel.
	SetRaw(ctx context.Context, key string, value []byte, opts ...driver.Options) error
	// Remove deletes a key; a no-op when the backend cannot remove.
	Remove(ctx context.Context, key string, opts ...driver.Options) error
	// GetMeta retrieves the metadata record of a key, nil when the backend
	// does not support metadata.
	GetMeta(ctx context.Context, key string, opts ...driver.Options) (*driver.Meta, error)
	// ListKeys enumerates all keys under base across every mounted backend.
	// Reserved metadata keys are excluded; a failing backend contributes an
	// empty result instead of failing the enumeration.
	ListKeys(ctx context.Context, base string, opts ...driver.Options) ([]string, error)
	// Clear removes everything under base across every affected backend.
	Clear(ctx context.Context, base string, opts ...driver.Options) error

	// GetMany reads several keys, batching per backend where supported.
	// Results preserve the input order.
	GetMany(ctx context.Context, ks []string, opts ...driver.Options) ([]Entry, error)
	// SetMany writes several entries, batching per backend where supported.
	SetMany(ctx context.Context, items []Entry, opts ...driver.Options) error

	// Mount attaches a driver at base. The base must be non-empty and not
	// already mounted.
	Mount(base string, drv driver.Driver) error
	// Unmount detaches the driver at base; unknown bases are a no-op and
	// the root mount cannot be removed. With dispose set, the driver's
	// cleanup runs after detaching.
	Unmount(base string, dispose bool) error

	// Watch subscribes to change notifications from every mounted backend.
	// Keys arrive absolute. The returned handle is idempotent.
	Watch(cb driver.WatchCallback) (driver.UnwatchFunc, error)

	// Snapshot captures every key under base into a text map keyed by the
	// base-relative key. Binary values travel inside the raw envelope.
	Snapshot(ctx context.Context, base string) (map[string]string, error)
	// RestoreSnapshot writes a snapshot back under base.
	RestoreSnapshot(ctx context.Context, base string, snap map[string]string) error

	// Dispose stops watching, runs every driver's cleanup and resets the
	// engine to a fresh in-memory state.
	Dispose() error
}
