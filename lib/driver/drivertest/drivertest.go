// Package drivertest provides a reusable conformance suite for Driver
// implementations. A driver package's test calls RunDriverTests with a
// factory; tests for optional operations skip themselves when the driver
// does not declare the capability.
package drivertest

import (
	"bytes"
	"context"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/ansvik/stash/lib/driver"
)

// Factory creates a fresh, empty driver instance for one test.
type Factory func(t *testing.T) driver.Driver

// RunDriverTests runs the conformance suite for a Driver implementation.
func RunDriverTests(t *testing.T, name string, factory Factory) {
	t.Run(name, func(t *testing.T) {
		t.Run("Set&Get", func(t *testing.T) {
			testSetGet(t, factory(t))
		})

		t.Run("Has", func(t *testing.T) {
			testHas(t, factory(t))
		})

		t.Run("RawRoundTrip", func(t *testing.T) {
			testRawRoundTrip(t, factory(t))
		})

		t.Run("Remove", func(t *testing.T) {
			testRemove(t, factory(t))
		})

		t.Run("ListKeys", func(t *testing.T) {
			testListKeys(t, factory(t))
		})

		t.Run("Clear", func(t *testing.T) {
			testClear(t, factory(t))
		})

		t.Run("GetMeta", func(t *testing.T) {
			testGetMeta(t, factory(t))
		})

		t.Run("EmptyValue", func(t *testing.T) {
			testEmptyValue(t, factory(t))
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

// Checks if the driver supports the specified feature.
// Skip the test if it is not supported.
func requireFeature(t testing.TB, d driver.Driver, feature driver.Feature) {
	t.Helper()
	if !d.SupportsFeature(feature) {
		t.Skip()
	}
}

func dispose(d driver.Driver) {
	if d.SupportsFeature(driver.FeatureDispose) {
		_ = d.Dispose()
	}
}

func mustSet(t *testing.T, d driver.Driver, key, value string) {
	t.Helper()
	if err := d.Set(context.Background(), key, value, nil); err != nil {
		t.Fatalf("Set(%q) failed: %v", key, err)
	}
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testSetGet(t *testing.T, d driver.Driver) {
	defer dispose(d)
	requireFeature(t, d, driver.FeatureSet)

	ctx := context.Background()

	mustSet(t, d, "test-key", "test-value1")

	value, found, err := d.Get(ctx, "test-key", nil)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !found {
		t.Error("expected key to exist after Set")
	}
	if value != "test-value1" {
		t.Errorf("expected value test-value1, got %s", value)
	}

	mustSet(t, d, "test-key", "test-value2")

	value, found, err = d.Get(ctx, "test-key", nil)
	if err != nil || !found {
		t.Fatalf("Get after overwrite: found=%v err=%v", found, err)
	}
	if value != "test-value2" {
		t.Errorf("expected overwritten value test-value2, got %s", value)
	}

	_, found, err = d.Get(ctx, "nonexistent-key", nil)
	if err != nil {
		t.Fatalf("Get of missing key errored: %v", err)
	}
	if found {
		t.Error("expected missing key to report found=false")
	}
}

func testHas(t *testing.T, d driver.Driver) {
	defer dispose(d)
	requireFeature(t, d, driver.FeatureSet)

	ctx := context.Background()

	if found, err := d.Has(ctx, "k", nil); err != nil || found {
		t.Errorf("Has on empty driver: found=%v err=%v", found, err)
	}

	mustSet(t, d, "k", "v")

	if found, err := d.Has(ctx, "k", nil); err != nil || !found {
		t.Errorf("Has after Set: found=%v err=%v", found, err)
	}
}

func testRawRoundTrip(t *testing.T, d driver.Driver) {
	defer dispose(d)
	requireFeature(t, d, driver.FeatureSetRaw|driver.FeatureGetRaw)

	ctx := context.Background()

	payload := []byte{0x00, 0xDE, 0xAD, 0xBE, 0xEF, 0xFF, 0x00}
	if err := d.SetRaw(ctx, "bin", payload, nil); err != nil {
		t.Fatalf("SetRaw failed: %v", err)
	}

	got, found, err := d.GetRaw(ctx, "bin", nil)
	if err != nil {
		t.Fatalf("GetRaw failed: %v", err)
	}
	if !found {
		t.Fatal("expected raw key to exist")
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("raw round trip lost data: %v != %v", got, payload)
	}

	_, found, err = d.GetRaw(ctx, "missing", nil)
	if err != nil || found {
		t.Errorf("GetRaw of missing key: found=%v err=%v", found, err)
	}
}

func testRemove(t *testing.T, d driver.Driver) {
	defer dispose(d)
	requireFeature(t, d, driver.FeatureSet|driver.FeatureRemove)

	ctx := context.Background()

	mustSet(t, d, "doomed", "v")

	if err := d.Remove(ctx, "doomed", nil); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if found, _ := d.Has(ctx, "doomed", nil); found {
		t.Error("key still present after Remove")
	}

	// removing a missing key is not an error
	if err := d.Remove(ctx, "never-existed", nil); err != nil {
		t.Errorf("Remove of missing key errored: %v", err)
	}
}

func testListKeys(t *testing.T, d driver.Driver) {
	defer dispose(d)
	requireFeature(t, d, driver.FeatureSet)

	ctx := context.Background()

	// keys chosen so no leaf is also a subtree root (path-mapped backends
	// cannot store both)
	for _, k := range []string{"a", "b:c", "b:d:e", "x:y"} {
		mustSet(t, d, k, "v")
	}

	listed, err := d.ListKeys(ctx, "", nil)
	if err != nil {
		t.Fatalf("ListKeys failed: %v", err)
	}
	sort.Strings(listed)
	want := []string{"a", "b:c", "b:d:e", "x:y"}
	if diff := cmp.Diff(want, listed); diff != "" {
		t.Errorf("ListKeys mismatch (-want +got):\n%s", diff)
	}

	listed, err = d.ListKeys(ctx, "b:", nil)
	if err != nil {
		t.Fatalf("ListKeys(b:) failed: %v", err)
	}
	sort.Strings(listed)
	want = []string{"b:c", "b:d:e"}
	if diff := cmp.Diff(want, listed); diff != "" {
		t.Errorf("ListKeys(b:) mismatch (-want +got):\n%s", diff)
	}
}

func testClear(t *testing.T, d driver.Driver) {
	defer dispose(d)
	requireFeature(t, d, driver.FeatureSet|driver.FeatureClear)

	ctx := context.Background()

	for _, k := range []string{"keep", "gone:a", "gone:b:c"} {
		mustSet(t, d, k, "v")
	}

	if err := d.Clear(ctx, "gone:", nil); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}

	if found, _ := d.Has(ctx, "gone:a", nil); found {
		t.Error("gone:a survived Clear")
	}
	if found, _ := d.Has(ctx, "keep", nil); !found {
		t.Error("keep was lost by a scoped Clear")
	}

	if err := d.Clear(ctx, "", nil); err != nil {
		t.Fatalf("Clear of root failed: %v", err)
	}
	listed, err := d.ListKeys(ctx, "", nil)
	if err != nil {
		t.Fatalf("ListKeys after Clear failed: %v", err)
	}
	if len(listed) != 0 {
		t.Errorf("expected empty driver after root Clear, got %v", listed)
	}
}

func testGetMeta(t *testing.T, d driver.Driver) {
	defer dispose(d)
	requireFeature(t, d, driver.FeatureSet|driver.FeatureGetMeta)

	ctx := context.Background()

	mustSet(t, d, "m", "value")

	meta, err := d.GetMeta(ctx, "m", nil)
	if err != nil {
		t.Fatalf("GetMeta failed: %v", err)
	}
	if meta == nil {
		t.Fatal("expected meta for existing key")
	}
	if meta.Size != int64(len("value")) {
		t.Errorf("expected size %d, got %d", len("value"), meta.Size)
	}
	if meta.Mtime.IsZero() {
		t.Error("expected a non-zero mtime")
	}
}

func testEmptyValue(t *testing.T, d driver.Driver) {
	defer dispose(d)
	requireFeature(t, d, driver.FeatureSet)

	ctx := context.Background()

	mustSet(t, d, "empty", "")

	value, found, err := d.Get(ctx, "empty", nil)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !found {
		t.Error("empty value must still count as present")
	}
	if value != "" {
		t.Errorf("expected empty value, got %q", value)
	}
}
