package storage

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/ansvik/stash/lib/driver"
	"github.com/ansvik/stash/lib/driver/memory"
)

// --------------------------------------------------------------------------
// Scriptable test driver
// --------------------------------------------------------------------------

// fakeDriver wraps the memory driver with call counters, a configurable
// feature mask and a hand-driven watch channel.
type fakeDriver struct {
	driver.Driver
	features driver.Feature

	mu        sync.Mutex
	setCalls  int
	setMany   int
	getCalls  int
	getMany   int
	listErr   error
	watchCbs  []driver.WatchCallback
	unwatched int
}

func newFakeDriver(features driver.Feature) *fakeDriver {
	return &fakeDriver{Driver: memory.New(), features: features}
}

func (f *fakeDriver) SupportsFeature(feature driver.Feature) bool {
	return f.features&feature == feature
}

func (f *fakeDriver) Set(ctx context.Context, key, value string, opts driver.Options) error {
	f.mu.Lock()
	f.setCalls++
	f.mu.Unlock()
	return f.Driver.Set(ctx, key, value, opts)
}

func (f *fakeDriver) Get(ctx context.Context, key string, opts driver.Options) (string, bool, error) {
	f.mu.Lock()
	f.getCalls++
	f.mu.Unlock()
	return f.Driver.Get(ctx, key, opts)
}

func (f *fakeDriver) SetMany(ctx context.Context, items []driver.SetItem, opts driver.Options) error {
	f.mu.Lock()
	f.setMany++
	f.mu.Unlock()
	for _, item := range items {
		if err := f.Driver.Set(ctx, item.Key, item.Value, opts); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeDriver) GetMany(ctx context.Context, ks []string, opts driver.Options) ([]driver.GetResult, error) {
	f.mu.Lock()
	f.getMany++
	f.mu.Unlock()
	results := make([]driver.GetResult, 0, len(ks))
	for _, k := range ks {
		value, found, err := f.Driver.Get(ctx, k, opts)
		if err != nil {
			return nil, err
		}
		results = append(results, driver.GetResult{Key: k, Value: value, Found: found})
	}
	return results, nil
}

func (f *fakeDriver) ListKeys(ctx context.Context, base string, opts driver.Options) ([]string, error) {
	f.mu.Lock()
	err := f.listErr
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return f.Driver.ListKeys(ctx, base, opts)
}

func (f *fakeDriver) Watch(cb driver.WatchCallback) (driver.UnwatchFunc, error) {
	f.mu.Lock()
	f.watchCbs = append(f.watchCbs, cb)
	f.mu.Unlock()
	return func() error {
		f.mu.Lock()
		f.unwatched++
		f.mu.Unlock()
		return nil
	}, nil
}

func (f *fakeDriver) emit(event driver.EventType, key string) {
	f.mu.Lock()
	cbs := append([]driver.WatchCallback(nil), f.watchCbs...)
	f.mu.Unlock()
	for _, cb := range cbs {
		cb(event, key)
	}
}

const fakeRW = driver.FeatureSet | driver.FeatureRemove | driver.FeatureClear

// --------------------------------------------------------------------------
// Mount routing
// --------------------------------------------------------------------------

func TestPrefixDispatch(t *testing.T) {
	ctx := context.Background()
	s := New(nil)

	if err := s.Mount("mnt", memory.New()); err != nil {
		t.Fatalf("Mount failed: %v", err)
	}

	if err := s.Set(ctx, "mnt:x", "v1"); err != nil {
		t.Fatal(err)
	}
	if err := s.Set(ctx, "y", "v2"); err != nil {
		t.Fatal(err)
	}

	listed, err := s.ListKeys(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	sort.Strings(listed)
	if diff := cmp.Diff([]string{"mnt:x", "y"}, listed); diff != "" {
		t.Errorf("ListKeys mismatch (-want +got):\n%s", diff)
	}

	if v, _ := s.Get(ctx, "mnt:x", nil); v != "v1" {
		t.Errorf("Get(mnt:x) = %v, want v1", v)
	}

	if err := s.Unmount("mnt", true); err != nil {
		t.Fatalf("Unmount failed: %v", err)
	}
	if v, err := s.Get(ctx, "mnt:x"); err != nil || v != nil {
		t.Errorf("after unmount, Get(mnt:x) = %v err=%v, want nil", v, err)
	}
}

func TestLongestPrefixWins(t *testing.T) {
	ctx := context.Background()
	s := New(nil)

	shallow := memory.New()
	deep := memory.New()
	if err := s.Mount("a", shallow); err != nil {
		t.Fatal(err)
	}
	if err := s.Mount("a:b", deep); err != nil {
		t.Fatal(err)
	}

	if err := s.Set(ctx, "a:b:k", "deep-value"); err != nil {
		t.Fatal(err)
	}
	if err := s.Set(ctx, "a:k", "shallow-value"); err != nil {
		t.Fatal(err)
	}

	// the deep mount received the relative key, the shallow one did not
	if found, _ := deep.Has(ctx, "k", nil); !found {
		t.Error("deep mount should hold relative key k")
	}
	if found, _ := shallow.Has(ctx, "b:k", nil); found {
		t.Error("shallow mount should not see keys routed to the deeper mount")
	}
	if found, _ := shallow.Has(ctx, "k", nil); !found {
		t.Error("shallow mount should hold its own relative key")
	}
}

func TestRouteLongestMatch(t *testing.T) {
	s := New(nil).(*storageImpl)
	for _, base := range []string{"a", "a:b", "a:b:c", "x"} {
		if err := s.Mount(base, memory.New()); err != nil {
			t.Fatal(err)
		}
	}

	cases := map[string]string{
		"a:b:c:k": "a:b:c:",
		"a:b:k":   "a:b:",
		"a:k":     "a:",
		"a":       "", // the bare mount name itself routes to the root
		"x:y":     "x:",
		"other":   "",
	}
	for key, wantBase := range cases {
		m := s.route(key)
		if m.base != wantBase {
			t.Errorf("route(%q).base = %q, want %q", key, m.base, wantBase)
		}
		// the winning base is a prefix, and no longer mounted base is
		if !strings.HasPrefix(key, m.base) {
			t.Errorf("route(%q) returned non-prefix base %q", key, m.base)
		}
		s.mu.RLock()
		for _, other := range s.mounts {
			if len(other.base) > len(m.base) && strings.HasPrefix(key, other.base) {
				t.Errorf("route(%q) missed longer base %q", key, other.base)
			}
		}
		s.mu.RUnlock()
	}
}

func TestMountValidation(t *testing.T) {
	s := New(nil)
	if err := s.Mount("", memory.New()); err == nil {
		t.Error("mounting at the root base must fail")
	}
	if err := s.Mount("x", nil); err == nil {
		t.Error("mounting a nil driver must fail")
	}
	if err := s.Mount("x", memory.New()); err != nil {
		t.Fatalf("Mount failed: %v", err)
	}
	if err := s.Mount("x", memory.New()); err == nil {
		t.Error("mounting onto an existing base must fail")
	}
	if err := s.Unmount("", true); err == nil {
		t.Error("unmounting the root must fail")
	}
	if err := s.Unmount("never-mounted", true); err != nil {
		t.Errorf("unmounting an unknown base must be a no-op, got %v", err)
	}
}

func TestMountListSorted(t *testing.T) {
	s := New(nil).(*storageImpl)
	for _, base := range []string{"a", "long:deep:base", "b:c"} {
		if err := s.Mount(base, memory.New()); err != nil {
			t.Fatal(err)
		}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := 1; i < len(s.mounts); i++ {
		if len(s.mounts[i-1].base) < len(s.mounts[i].base) {
			t.Fatalf("mount list not sorted by descending base length: %q before %q",
				s.mounts[i-1].base, s.mounts[i].base)
		}
	}
	if s.mounts[len(s.mounts)-1].base != "" {
		t.Error("root mount missing from the table")
	}
}

// --------------------------------------------------------------------------
// Values and serialization
// --------------------------------------------------------------------------

func TestValueRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := New(nil)

	values := map[string]any{
		"bool":   true,
		"int":    int64(42),
		"float":  2.5,
		"string": "hello",
	}
	for key, v := range values {
		if err := s.Set(ctx, key, v); err != nil {
			t.Fatalf("Set(%q): %v", key, err)
		}
		got, err := s.Get(ctx, key)
		if err != nil {
			t.Fatalf("Get(%q): %v", key, err)
		}
		if got != v {
			t.Errorf("round trip of %q: got %v (%T), want %v (%T)", key, got, got, v, v)
		}
	}

	if err := s.Set(ctx, "obj", map[string]any{"n": 1}); err != nil {
		t.Fatal(err)
	}
	got, err := s.Get(ctx, "obj")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(map[string]any{"n": float64(1)}, got); diff != "" {
		t.Errorf("object round trip (-want +got):\n%s", diff)
	}
}

func TestSetNilRemoves(t *testing.T) {
	ctx := context.Background()
	s := New(nil)
	if err := s.Set(ctx, "k", "v"); err != nil {
		t.Fatal(err)
	}
	if err := s.Set(ctx, "k", nil); err != nil {
		t.Fatal(err)
	}
	if found, _ := s.Has(ctx, "k"); found {
		t.Error("Set(nil) should remove the key")
	}
}

func TestSerializationFailureSurfaces(t *testing.T) {
	s := New(nil)
	err := s.Set(context.Background(), "bad", make(chan int))
	if err == nil {
		t.Fatal("expected serialization failure")
	}
	if driver.CodeOf(err) != driver.RetCSerialization {
		t.Errorf("expected SerializationFailure, got %v", err)
	}
}

func TestRawRoundTripThroughTextDriver(t *testing.T) {
	ctx := context.Background()
	// a driver without native raw support forces the envelope fallback
	d := newFakeDriver(fakeRW)
	s := New(d)

	payload := []byte{0x00, 0x01, 0xFE, 0xFF}
	if err := s.SetRaw(ctx, "bin", payload); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetRaw(ctx, "bin")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(payload) {
		t.Errorf("raw round trip through text channel lost data: %v", got)
	}
}

func TestReadOnlyDriverSilentWrites(t *testing.T) {
	ctx := context.Background()
	d := newFakeDriver(0) // no write features at all
	s := New(d)

	if err := s.Set(ctx, "k", "v"); err != nil {
		t.Errorf("Set on read-only backend must be silent, got %v", err)
	}
	if err := s.Remove(ctx, "k"); err != nil {
		t.Errorf("Remove on read-only backend must be silent, got %v", err)
	}
	if err := s.Clear(ctx, ""); err != nil {
		t.Errorf("Clear on read-only backend must be silent, got %v", err)
	}
	if meta, err := s.GetMeta(ctx, "k"); err != nil || meta != nil {
		t.Errorf("GetMeta on unsupporting backend: meta=%v err=%v, want nil", meta, err)
	}
}

// --------------------------------------------------------------------------
// Enumeration
// --------------------------------------------------------------------------

func TestListKeysDepthFilter(t *testing.T) {
	ctx := context.Background()
	s := New(nil)
	for _, key := range []string{"a", "a:b", "a:b:c", "a:b:c:d"} {
		if err := s.Set(ctx, key, "v"); err != nil {
			t.Fatal(err)
		}
	}

	listed, err := s.ListKeys(ctx, "", driver.Options{"maxDepth": 1})
	if err != nil {
		t.Fatal(err)
	}
	sort.Strings(listed)
	if diff := cmp.Diff([]string{"a", "a:b"}, listed); diff != "" {
		t.Errorf("depth-limited enumeration (-want +got):\n%s", diff)
	}
}

func TestListKeysExcludesReservedKeys(t *testing.T) {
	ctx := context.Background()
	s := New(nil)
	if err := s.Set(ctx, "visible", "v"); err != nil {
		t.Fatal(err)
	}
	if err := s.Set(ctx, "hidden$", "v"); err != nil {
		t.Fatal(err)
	}

	listed, err := s.ListKeys(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"visible"}, listed); diff != "" {
		t.Errorf("reserved keys leaked into enumeration (-want +got):\n%s", diff)
	}
}

func TestListKeysSwallowsFailingMount(t *testing.T) {
	ctx := context.Background()
	s := New(nil)
	if err := s.Set(ctx, "ok", "v"); err != nil {
		t.Fatal(err)
	}

	broken := newFakeDriver(fakeRW)
	broken.listErr = errors.New("backend down")
	if err := s.Mount("broken", broken); err != nil {
		t.Fatal(err)
	}

	listed, err := s.ListKeys(ctx, "")
	if err != nil {
		t.Fatalf("a failing mount must not poison the view: %v", err)
	}
	if diff := cmp.Diff([]string{"ok"}, listed); diff != "" {
		t.Errorf("partial enumeration (-want +got):\n%s", diff)
	}
}

func TestListKeysBaseAcrossMounts(t *testing.T) {
	ctx := context.Background()
	s := New(nil)
	if err := s.Mount("data:cache", memory.New()); err != nil {
		t.Fatal(err)
	}
	if err := s.Set(ctx, "data:root-key", "v"); err != nil {
		t.Fatal(err)
	}
	if err := s.Set(ctx, "data:cache:entry", "v"); err != nil {
		t.Fatal(err)
	}
	if err := s.Set(ctx, "elsewhere", "v"); err != nil {
		t.Fatal(err)
	}

	listed, err := s.ListKeys(ctx, "data:")
	if err != nil {
		t.Fatal(err)
	}
	sort.Strings(listed)
	if diff := cmp.Diff([]string{"data:cache:entry", "data:root-key"}, listed); diff != "" {
		t.Errorf("base enumeration across mounts (-want +got):\n%s", diff)
	}
}

func TestClearReachesAncestorMounts(t *testing.T) {
	ctx := context.Background()
	root := newFakeDriver(fakeRW)
	s := New(root)
	sub := memory.New()
	if err := s.Mount("sub", sub); err != nil {
		t.Fatal(err)
	}

	// data physically in the root driver under sub: is masked by the mount
	// but must still be purged by clear
	if err := root.Driver.Set(ctx, "sub:stale", "v", nil); err != nil {
		t.Fatal(err)
	}
	if err := s.Set(ctx, "sub:live", "v"); err != nil {
		t.Fatal(err)
	}

	if err := s.Clear(ctx, "sub:"); err != nil {
		t.Fatal(err)
	}

	if found, _ := root.Driver.Has(ctx, "sub:stale", nil); found {
		t.Error("clear did not purge the ancestor mount")
	}
	if found, _ := sub.Has(ctx, "live", nil); found {
		t.Error("clear did not purge the descendant mount")
	}
}

// --------------------------------------------------------------------------
// Batching
// --------------------------------------------------------------------------

func TestSetManyBatchFiresOnce(t *testing.T) {
	ctx := context.Background()
	d := newFakeDriver(fakeRW | driver.FeatureSetMany | driver.FeatureGetMany)
	s := New(d)

	if err := s.SetMany(ctx, []Entry{{Key: "k", Value: "v"}}); err != nil {
		t.Fatal(err)
	}

	d.mu.Lock()
	setMany, setCalls := d.setMany, d.setCalls
	d.mu.Unlock()
	if setMany != 1 {
		t.Errorf("expected exactly one SetMany call, got %d", setMany)
	}
	if setCalls != 0 {
		t.Errorf("expected zero Set calls alongside SetMany, got %d", setCalls)
	}
}

func TestGetManyBatchAndFallback(t *testing.T) {
	ctx := context.Background()
	batched := newFakeDriver(fakeRW | driver.FeatureGetMany | driver.FeatureSetMany)
	plain := newFakeDriver(fakeRW)
	s := New(plain)
	if err := s.Mount("b", batched); err != nil {
		t.Fatal(err)
	}

	if err := s.Set(ctx, "b:one", "1"); err != nil {
		t.Fatal(err)
	}
	if err := s.Set(ctx, "two", "2"); err != nil {
		t.Fatal(err)
	}

	entries, err := s.GetMany(ctx, []string{"b:one", "two", "missing"})
	if err != nil {
		t.Fatal(err)
	}
	want := []Entry{
		{Key: "b:one", Value: int64(1)},
		{Key: "two", Value: int64(2)},
		{Key: "missing", Value: nil},
	}
	if diff := cmp.Diff(want, entries); diff != "" {
		t.Errorf("GetMany results (-want +got):\n%s", diff)
	}

	batched.mu.Lock()
	getMany, getCalls := batched.getMany, batched.getCalls
	batched.mu.Unlock()
	if getMany != 1 {
		t.Errorf("expected one batched GetMany call, got %d", getMany)
	}
	if getCalls != 0 {
		t.Errorf("batched driver also received %d singleton Get calls", getCalls)
	}
}

// --------------------------------------------------------------------------
// Watch fan-in
// --------------------------------------------------------------------------

func TestWatchFanIn(t *testing.T) {
	s := New(nil)
	d := newFakeDriver(fakeRW | driver.FeatureWatch)
	if err := s.Mount("mnt", d); err != nil {
		t.Fatal(err)
	}

	var (
		mu     sync.Mutex
		events []string
	)
	record := func(event driver.EventType, key string) {
		mu.Lock()
		events = append(events, string(event)+" "+key)
		mu.Unlock()
	}

	unwatch1, err := s.Watch(record)
	if err != nil {
		t.Fatal(err)
	}
	unwatch2, err := s.Watch(record)
	if err != nil {
		t.Fatal(err)
	}

	d.emit(driver.EventUpdate, "rel-key")

	mu.Lock()
	got := append([]string(nil), events...)
	mu.Unlock()
	// both subscribers got the event, with the mount base prepended
	want := []string{"update mnt:rel-key", "update mnt:rel-key"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("fan-in events (-want +got):\n%s", diff)
	}

	// last unsubscriber tears the driver watch down
	if err := unwatch1(); err != nil {
		t.Fatal(err)
	}
	if err := unwatch1(); err != nil {
		t.Fatalf("unwatch must be idempotent: %v", err)
	}
	d.mu.Lock()
	unwatched := d.unwatched
	d.mu.Unlock()
	if unwatched != 0 {
		t.Error("driver unwatched while a subscriber remains")
	}
	if err := unwatch2(); err != nil {
		t.Fatal(err)
	}
	d.mu.Lock()
	unwatched = d.unwatched
	d.mu.Unlock()
	if unwatched != 1 {
		t.Errorf("expected exactly one driver unwatch, got %d", unwatched)
	}
}

func TestMountWhileWatching(t *testing.T) {
	s := New(nil)

	var (
		mu     sync.Mutex
		events []string
	)
	unwatch, err := s.Watch(func(event driver.EventType, key string) {
		mu.Lock()
		events = append(events, key)
		mu.Unlock()
	})
	if err != nil {
		t.Fatal(err)
	}
	defer unwatch()

	late := newFakeDriver(fakeRW | driver.FeatureWatch)
	if err := s.Mount("late", late); err != nil {
		t.Fatal(err)
	}

	late.mu.Lock()
	subscribed := len(late.watchCbs)
	late.mu.Unlock()
	if subscribed != 1 {
		t.Fatalf("mounting while watching must subscribe the new driver, got %d subscriptions", subscribed)
	}

	late.emit(driver.EventRemove, "gone")
	mu.Lock()
	defer mu.Unlock()
	if len(events) != 1 || events[0] != "late:gone" {
		t.Errorf("events = %v, want [late:gone]", events)
	}
}

// --------------------------------------------------------------------------
// Disposal
// --------------------------------------------------------------------------

func TestDisposeResetsEngine(t *testing.T) {
	ctx := context.Background()
	s := New(nil)
	if err := s.Set(ctx, "k", "v"); err != nil {
		t.Fatal(err)
	}
	if err := s.Mount("m", memory.New()); err != nil {
		t.Fatal(err)
	}

	if err := s.Dispose(); err != nil {
		t.Fatal(err)
	}

	if found, _ := s.Has(ctx, "k"); found {
		t.Error("data survived Dispose")
	}
	// the engine is usable again with a fresh root
	if err := s.Set(ctx, "fresh", "v"); err != nil {
		t.Errorf("engine unusable after Dispose: %v", err)
	}
	if err := s.Mount("m", memory.New()); err != nil {
		t.Errorf("mount table not reset by Dispose: %v", err)
	}
}
