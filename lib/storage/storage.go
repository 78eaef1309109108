package storage

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/ansvik/stash/lib/codec"
	"github.com/ansvik/stash/lib/driver"
	"github.com/ansvik/stash/lib/driver/memory"
	"github.com/ansvik/stash/lib/keys"
	"github.com/ansvik/stash/lib/logging"
)

var Logger = logging.GetLogger("storage")

// --------------------------------------------------------------------------
// Engine state
// --------------------------------------------------------------------------

// mount is one entry of the mount table. unwatch is non-nil exactly while
// engine-level watching is active and the driver supports watching.
type mount struct {
	base    string // normalized: "" for root, otherwise trailing ":"
	drv     driver.Driver
	unwatch driver.UnwatchFunc
}

type storageImpl struct {
	// mu guards the mount table and the watching flag. The critical
	// sections only mutate the lists; driver I/O happens outside.
	mu       sync.RWMutex
	mounts   []*mount // sorted by descending base length, root always last
	watching bool

	subs      *xsync.MapOf[uint64, driver.WatchCallback]
	nextSubID uint64 // guarded by mu
}

// New creates a storage engine with root as its root driver; a nil root
// selects the in-memory driver.
func New(root driver.Driver) Storage {
	if root == nil {
		root = memory.New()
	}
	return &storageImpl{
		mounts: []*mount{{base: "", drv: root}},
		subs:   xsync.NewMapOf[uint64, driver.WatchCallback](),
	}
}

func mergeOpts(opts []driver.Options) driver.Options {
	if len(opts) == 0 {
		return nil
	}
	return opts[0]
}

// --------------------------------------------------------------------------
// Routing
// --------------------------------------------------------------------------

// route returns the mount owning key: the longest base that is a prefix.
// The list is sorted descending by base length, so the first hit wins.
func (s *storageImpl) route(key string) *mount {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.mounts {
		if strings.HasPrefix(key, m.base) {
			return m
		}
	}
	// unreachable: the root mount matches every key
	return s.mounts[len(s.mounts)-1]
}

// mountTarget pairs a mount with the base, relative to the mount, that an
// operation on a subtree should pass to the driver.
type mountTarget struct {
	m       *mount
	relBase string
}

// routeMany resolves every mount serving keys under base: all mounts whose
// base lies inside the subtree, plus the mount owning base itself. With
// includeAncestors set, every shallower mount whose subtree contains base
// is returned as well (clear must purge data such drivers may hold even
// though routing masks it).
func (s *storageImpl) routeMany(base string, includeAncestors bool) []mountTarget {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var targets []mountTarget
	ownerSeen := false
	for _, m := range s.mounts {
		switch {
		case strings.HasPrefix(m.base, base):
			// descendant (or equal): the whole mount lies under base
			targets = append(targets, mountTarget{m: m, relBase: ""})
			if m.base == base {
				ownerSeen = true
			}
		case strings.HasPrefix(base, m.base):
			// ancestor: owns part of the subtree under base. The deepest
			// one is the owner of base; descending order makes it first.
			if !includeAncestors && ownerSeen {
				continue
			}
			targets = append(targets, mountTarget{m: m, relBase: base[len(m.base):]})
			ownerSeen = true
		}
	}
	return targets
}

// --------------------------------------------------------------------------
// Single-key operations
// --------------------------------------------------------------------------

func (s *storageImpl) Has(ctx context.Context, key string, opts ...driver.Options) (bool, error) {
	key = keys.Normalize(key)
	m := s.route(key)
	return m.drv.Has(ctx, key[len(m.base):], mergeOpts(opts))
}

func (s *storageImpl) Get(ctx context.Context, key string, opts ...driver.Options) (any, error) {
	key = keys.Normalize(key)
	m := s.route(key)
	value, found, err := m.drv.Get(ctx, key[len(m.base):], mergeOpts(opts))
	if err != nil || !found {
		return nil, err
	}
	return codec.Parse(value), nil
}

func (s *storageImpl) GetRaw(ctx context.Context, key string, opts ...driver.Options) ([]byte, error) {
	key = keys.Normalize(key)
	m := s.route(key)
	opt := mergeOpts(opts)

	if m.drv.SupportsFeature(driver.FeatureGetRaw) {
		b, found, err := m.drv.GetRaw(ctx, key[len(m.base):], opt)
		if err != nil || !found {
			return nil, err
		}
		return b, nil
	}

	// fall back to the text channel and unwrap the raw envelope
	value, found, err := m.drv.Get(ctx, key[len(m.base):], opt)
	if err != nil || !found {
		return nil, err
	}
	return codec.DecodeRawValue(value), nil
}

func (s *storageImpl) Set(ctx context.Context, key string, value any, opts ...driver.Options) error {
	if value == nil {
		return s.Remove(ctx, key, opts...)
	}
	if b, ok := value.([]byte); ok {
		return s.SetRaw(ctx, key, b, opts...)
	}

	key = keys.Normalize(key)
	m := s.route(key)
	if !m.drv.SupportsFeature(driver.FeatureSet) {
		return nil // read-only backend
	}
	text, err := codec.Stringify(value)
	if err != nil {
		return driver.NewErrorf(driver.RetCSerialization, "set %q: %v", key, err)
	}
	return m.drv.Set(ctx, key[len(m.base):], text, mergeOpts(opts))
}

func (s *storageImpl) SetRaw(ctx context.Context, key string, value []byte, opts ...driver.Options) error {
	key = keys.Normalize(key)
	m := s.route(key)
	opt := mergeOpts(opts)

	if m.drv.SupportsFeature(driver.FeatureSetRaw) {
		return m.drv.SetRaw(ctx, key[len(m.base):], value, opt)
	}
	if !m.drv.SupportsFeature(driver.FeatureSet) {
		return nil
	}
	return m.drv.Set(ctx, key[len(m.base):], codec.EncodeRaw(value), opt)
}

func (s *storageImpl) Remove(ctx context.Context, key string, opts ...driver.Options) error {
	key = keys.Normalize(key)
	m := s.route(key)
	if !m.drv.SupportsFeature(driver.FeatureRemove) {
		return nil
	}
	return m.drv.Remove(ctx, key[len(m.base):], mergeOpts(opts))
}

func (s *storageImpl) GetMeta(ctx context.Context, key string, opts ...driver.Options) (*driver.Meta, error) {
	key = keys.Normalize(key)
	m := s.route(key)
	if !m.drv.SupportsFeature(driver.FeatureGetMeta) {
		return nil, nil
	}
	return m.drv.GetMeta(ctx, key[len(m.base):], mergeOpts(opts))
}

// --------------------------------------------------------------------------
// Enumeration and clearing
// --------------------------------------------------------------------------

func (s *storageImpl) ListKeys(ctx context.Context, base string, opts ...driver.Options) ([]string, error) {
	base = keys.NormalizeBase(base)
	opt := mergeOpts(opts)
	maxDepth := opt.MaxDepth()

	seen := make(map[string]struct{})
	var result []string
	for _, target := range s.routeMany(base, false) {
		m := target.m

		driverOpt := opt
		prefiltered := false
		if maxDepth >= 0 && m.drv.SupportsFeature(driver.FeatureMaxDepth) {
			// the driver filters depth natively; adjust the budget by the
			// depth the mount base itself consumes
			adjusted := maxDepth - strings.Count(m.base, keys.Sep)
			if adjusted < 0 {
				continue // no key of this mount can satisfy the limit
			}
			driverOpt = cloneOptsWith(opt, "maxDepth", adjusted)
			prefiltered = true
		}

		listed, err := m.drv.ListKeys(ctx, target.relBase, driverOpt)
		if err != nil {
			// one failing backend must not poison the whole view
			Logger.Warnf("listKeys on mount %q failed: %v", m.base, err)
			continue
		}
		for _, k := range listed {
			full := m.base + keys.Normalize(k)
			if !keys.FilterByBase(full, base) {
				continue
			}
			if !prefiltered && !keys.FilterByDepth(full, maxDepth) {
				continue
			}
			if _, dup := seen[full]; dup {
				continue
			}
			seen[full] = struct{}{}
			result = append(result, full)
		}
	}
	return result, nil
}

func cloneOptsWith(opt driver.Options, key string, value any) driver.Options {
	clone := make(driver.Options, len(opt)+1)
	for k, v := range opt {
		clone[k] = v
	}
	clone[key] = value
	return clone
}

func (s *storageImpl) Clear(ctx context.Context, base string, opts ...driver.Options) error {
	base = keys.NormalizeBase(base)
	opt := mergeOpts(opts)

	for _, target := range s.routeMany(base, true) {
		if !target.m.drv.SupportsFeature(driver.FeatureClear) {
			continue
		}
		if err := target.m.drv.Clear(ctx, target.relBase, opt); err != nil {
			// partial clearing is preferable to aborting the fan-out
			Logger.Warnf("clear on mount %q failed: %v", target.m.base, err)
		}
	}
	return nil
}

// --------------------------------------------------------------------------
// Batching
// --------------------------------------------------------------------------

// batchFor groups batched items by their resolved mount while remembering
// each item's position in the caller's slice.
type batchFor struct {
	m       *mount
	indices []int
	relKeys []string
}

func (s *storageImpl) groupByMount(ks []string) ([]string, []*batchFor) {
	normalized := make([]string, len(ks))
	var batches []*batchFor
	byMount := make(map[*mount]*batchFor)
	for i, k := range ks {
		key := keys.Normalize(k)
		normalized[i] = key
		m := s.route(key)
		b, ok := byMount[m]
		if !ok {
			b = &batchFor{m: m}
			byMount[m] = b
			batches = append(batches, b)
		}
		b.indices = append(b.indices, i)
		b.relKeys = append(b.relKeys, key[len(m.base):])
	}
	return normalized, batches
}

func (s *storageImpl) GetMany(ctx context.Context, ks []string, opts ...driver.Options) ([]Entry, error) {
	opt := mergeOpts(opts)
	normalized, batches := s.groupByMount(ks)

	results := make([]Entry, len(ks))
	for i, k := range normalized {
		results[i] = Entry{Key: k}
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	fail := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		mu.Unlock()
	}

	for _, b := range batches {
		// a driver with a native batch op gets exactly one call; everything
		// else degrades to parallel singletons - never both
		if b.m.drv.SupportsFeature(driver.FeatureGetMany) {
			wg.Add(1)
			go func(b *batchFor) {
				defer wg.Done()
				got, err := b.m.drv.GetMany(ctx, b.relKeys, opt)
				if err != nil {
					fail(err)
					return
				}
				byKey := make(map[string]driver.GetResult, len(got))
				for _, r := range got {
					byKey[r.Key] = r
				}
				for n, idx := range b.indices {
					if r, ok := byKey[b.relKeys[n]]; ok && r.Found {
						results[idx].Value = codec.Parse(r.Value)
					}
				}
			}(b)
			continue
		}
		for n, idx := range b.indices {
			wg.Add(1)
			go func(b *batchFor, n, idx int) {
				defer wg.Done()
				value, found, err := b.m.drv.Get(ctx, b.relKeys[n], opt)
				if err != nil {
					fail(err)
					return
				}
				if found {
					results[idx].Value = codec.Parse(value)
				}
			}(b, n, idx)
		}
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	return results, nil
}

func (s *storageImpl) SetMany(ctx context.Context, items []Entry, opts ...driver.Options) error {
	opt := mergeOpts(opts)

	ks := make([]string, len(items))
	for i, item := range items {
		ks[i] = item.Key
	}
	_, batches := s.groupByMount(ks)

	texts := make([]string, len(items))
	for i, item := range items {
		text, err := codec.Stringify(item.Value)
		if err != nil {
			return driver.NewErrorf(driver.RetCSerialization, "setMany %q: %v", items[i].Key, err)
		}
		texts[i] = text
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	fail := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		mu.Unlock()
	}

	for _, b := range batches {
		if b.m.drv.SupportsFeature(driver.FeatureSetMany) {
			batch := make([]driver.SetItem, len(b.indices))
			for n, idx := range b.indices {
				batch[n] = driver.SetItem{Key: b.relKeys[n], Value: texts[idx], Opts: opt}
			}
			wg.Add(1)
			go func(b *batchFor, batch []driver.SetItem) {
				defer wg.Done()
				if err := b.m.drv.SetMany(ctx, batch, opt); err != nil {
					fail(err)
				}
			}(b, batch)
			continue
		}
		if !b.m.drv.SupportsFeature(driver.FeatureSet) {
			continue // read-only backend, silent like single-key Set
		}
		for n, idx := range b.indices {
			wg.Add(1)
			go func(b *batchFor, n, idx int) {
				defer wg.Done()
				if err := b.m.drv.Set(ctx, b.relKeys[n], texts[idx], opt); err != nil {
					fail(err)
				}
			}(b, n, idx)
		}
	}
	wg.Wait()
	return firstErr
}

// --------------------------------------------------------------------------
// Mount / unmount
// --------------------------------------------------------------------------

func (s *storageImpl) Mount(base string, drv driver.Driver) error {
	normalized := keys.NormalizeBase(base)
	if normalized == "" {
		return driver.NewError(driver.RetCInvalidKey, "cannot mount at the root base")
	}
	if drv == nil {
		return driver.NewError(driver.RetCMissingConfig, "cannot mount a nil driver")
	}

	s.mu.Lock()
	for _, m := range s.mounts {
		if m.base == normalized {
			s.mu.Unlock()
			return driver.NewErrorf(driver.RetCInvalidKey, "base %q is already mounted", normalized)
		}
	}
	m := &mount{base: normalized, drv: drv}
	s.mounts = append(s.mounts, m)
	sort.SliceStable(s.mounts, func(i, j int) bool {
		return len(s.mounts[i].base) > len(s.mounts[j].base)
	})
	watching := s.watching
	s.mu.Unlock()

	if watching {
		s.watchMount(m)
	}
	return nil
}

func (s *storageImpl) Unmount(base string, dispose bool) error {
	normalized := keys.NormalizeBase(base)
	if normalized == "" {
		return driver.NewError(driver.RetCInvalidKey, "cannot unmount the root base")
	}

	s.mu.Lock()
	var victim *mount
	for i, m := range s.mounts {
		if m.base == normalized {
			victim = m
			s.mounts = append(s.mounts[:i], s.mounts[i+1:]...)
			break
		}
	}
	s.mu.Unlock()

	if victim == nil {
		return nil // unknown base is a no-op
	}

	s.unwatchMount(victim)
	if dispose && victim.drv.SupportsFeature(driver.FeatureDispose) {
		if err := victim.drv.Dispose(); err != nil {
			Logger.Warnf("disposing driver unmounted from %q: %v", normalized, err)
		}
	}
	return nil
}

// --------------------------------------------------------------------------
// Watch fan-in
// --------------------------------------------------------------------------

func (s *storageImpl) Watch(cb driver.WatchCallback) (driver.UnwatchFunc, error) {
	s.mu.Lock()
	s.nextSubID++
	id := s.nextSubID
	s.subs.Store(id, cb)
	first := s.subs.Size() == 1 && !s.watching
	if first {
		s.watching = true
	}
	mounts := append([]*mount(nil), s.mounts...)
	s.mu.Unlock()

	if first {
		for _, m := range mounts {
			s.watchMount(m)
		}
	}

	var once sync.Once
	return func() error {
		once.Do(func() {
			s.subs.Delete(id)
			s.mu.Lock()
			last := s.subs.Size() == 0 && s.watching
			if last {
				s.watching = false
			}
			watched := append([]*mount(nil), s.mounts...)
			s.mu.Unlock()
			if last {
				for _, m := range watched {
					s.unwatchMount(m)
				}
			}
		})
		return nil
	}, nil
}

// watchMount starts the driver-side subscription for one mount. A failing
// or unsupported watcher leaves the mount silent but keeps the engine
// running.
func (s *storageImpl) watchMount(m *mount) {
	if !m.drv.SupportsFeature(driver.FeatureWatch) {
		return
	}
	base := m.base
	unwatch, err := m.drv.Watch(func(event driver.EventType, key string) {
		s.dispatch(event, base+keys.Normalize(key))
	})
	if err != nil {
		Logger.Warnf("watch on mount %q failed: %v", base, err)
		return
	}
	s.mu.Lock()
	if s.watching && m.unwatch == nil {
		m.unwatch = unwatch
		unwatch = nil
	}
	s.mu.Unlock()
	if unwatch != nil {
		// watching stopped (or restarted) while we were subscribing
		_ = unwatch()
	}
}

func (s *storageImpl) unwatchMount(m *mount) {
	s.mu.Lock()
	unwatch := m.unwatch
	m.unwatch = nil
	s.mu.Unlock()
	if unwatch == nil {
		return
	}
	if err := unwatch(); err != nil {
		Logger.Warnf("unwatch on mount %q failed: %v", m.base, err)
	}
}

// dispatch fans one absolute-key event out to every subscriber.
func (s *storageImpl) dispatch(event driver.EventType, key string) {
	s.subs.Range(func(_ uint64, cb driver.WatchCallback) bool {
		cb(event, key)
		return true
	})
}

// --------------------------------------------------------------------------
// Disposal
// --------------------------------------------------------------------------

func (s *storageImpl) Dispose() error {
	s.mu.Lock()
	mounts := s.mounts
	s.mounts = []*mount{{base: "", drv: memory.New()}}
	s.watching = false
	s.subs.Clear()
	s.mu.Unlock()

	var first error
	for _, m := range mounts {
		s.unwatchMount(m)
		if !m.drv.SupportsFeature(driver.FeatureDispose) {
			continue
		}
		if err := m.drv.Dispose(); err != nil {
			Logger.Warnf("disposing driver mounted at %q: %v", m.base, err)
			if first == nil {
				first = err
			}
		}
	}
	return first
}
