package overlay

import (
	"context"
	"sort"
	"testing"

	"github.com/ansvik/stash/lib/driver"
	"github.com/ansvik/stash/lib/driver/drivertest"
	"github.com/ansvik/stash/lib/driver/memory"
)

func Test(t *testing.T) {
	drivertest.RunDriverTests(t, "Overlay", func(t *testing.T) driver.Driver {
		d, err := New(memory.New(), memory.New())
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		return d
	})
}

func TestRequiresLayers(t *testing.T) {
	if _, err := New(); driver.CodeOf(err) != driver.RetCMissingConfig {
		t.Errorf("expected MissingConfig for empty layer list, got %v", err)
	}
	if _, err := New(memory.New(), nil); driver.CodeOf(err) != driver.RetCMissingConfig {
		t.Errorf("expected MissingConfig for nil layer, got %v", err)
	}
}

func TestReadThroughWriteTopTombstone(t *testing.T) {
	ctx := context.Background()
	top := memory.New()
	bottom := memory.New()
	if err := bottom.Set(ctx, "cfg:port", "8080", nil); err != nil {
		t.Fatal(err)
	}

	d, err := New(top, bottom)
	if err != nil {
		t.Fatal(err)
	}

	// read-through hits the bottom layer
	value, found, err := d.Get(ctx, "cfg:port", nil)
	if err != nil || !found || value != "8080" {
		t.Fatalf("read-through: value=%q found=%v err=%v", value, found, err)
	}

	// writes land in the top layer only
	if err := d.Set(ctx, "cfg:port", "9090", nil); err != nil {
		t.Fatal(err)
	}
	value, _, _ = d.Get(ctx, "cfg:port", nil)
	if value != "9090" {
		t.Errorf("after Set, Get = %q, want 9090", value)
	}
	bottomValue, _, _ := bottom.Get(ctx, "cfg:port", nil)
	if bottomValue != "8080" {
		t.Errorf("Set leaked into the bottom layer: %q", bottomValue)
	}

	// remove masks the key without touching the bottom layer
	if err := d.Remove(ctx, "cfg:port", nil); err != nil {
		t.Fatal(err)
	}
	if _, found, _ := d.Get(ctx, "cfg:port", nil); found {
		t.Error("key visible after Remove")
	}
	if found, _ := d.Has(ctx, "cfg:port", nil); found {
		t.Error("Has true after Remove")
	}
	listed, err := d.ListKeys(ctx, "", nil)
	if err != nil {
		t.Fatal(err)
	}
	for _, k := range listed {
		if k == "cfg:port" {
			t.Error("tombstoned key still enumerated")
		}
	}
	if found, _ := bottom.Has(ctx, "cfg:port", nil); !found {
		t.Error("Remove reached the bottom layer")
	}
}

func TestListKeysUnion(t *testing.T) {
	ctx := context.Background()
	top := memory.New()
	bottom := memory.New()
	_ = top.Set(ctx, "t:only", "1", nil)
	_ = bottom.Set(ctx, "b:only", "2", nil)
	_ = top.Set(ctx, "both", "top", nil)
	_ = bottom.Set(ctx, "both", "bottom", nil)

	d, err := New(top, bottom)
	if err != nil {
		t.Fatal(err)
	}

	listed, err := d.ListKeys(ctx, "", nil)
	if err != nil {
		t.Fatal(err)
	}
	sort.Strings(listed)
	want := []string{"b:only", "both", "t:only"}
	if len(listed) != len(want) {
		t.Fatalf("ListKeys = %v, want %v", listed, want)
	}
	for i := range want {
		if listed[i] != want[i] {
			t.Fatalf("ListKeys = %v, want %v", listed, want)
		}
	}
}

func TestTombstoneCannotBeStored(t *testing.T) {
	d, err := New(memory.New())
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Set(context.Background(), "k", Tombstone, nil); err == nil {
		t.Error("storing the tombstone sentinel must be rejected")
	}
}

func TestLowerLayerShadowing(t *testing.T) {
	ctx := context.Background()
	top := memory.New()
	bottom := memory.New()
	_ = top.Set(ctx, "k", "from-top", nil)
	_ = bottom.Set(ctx, "k", "from-bottom", nil)

	d, err := New(top, bottom)
	if err != nil {
		t.Fatal(err)
	}
	value, found, err := d.Get(ctx, "k", nil)
	if err != nil || !found || value != "from-top" {
		t.Errorf("top layer must shadow lower layers: value=%q found=%v err=%v", value, found, err)
	}
}
