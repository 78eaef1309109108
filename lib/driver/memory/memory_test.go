package memory

import (
	"context"
	"testing"
	"time"

	"github.com/ansvik/stash/lib/driver"
	"github.com/ansvik/stash/lib/driver/drivertest"
)

func Test(t *testing.T) {
	drivertest.RunDriverTests(t, "Memory", func(t *testing.T) driver.Driver {
		return New()
	})
}

func Benchmark(b *testing.B) {
	drivertest.RunDriverBenchmarks(b, "Memory", func(b *testing.B) driver.Driver {
		return New()
	})
}

func TestNativeTTL(t *testing.T) {
	d := New()
	ctx := context.Background()

	if !d.SupportsFeature(driver.FeatureNativeTTL) {
		t.Fatal("memory driver must declare NativeTTL")
	}

	if err := d.Set(ctx, "ephemeral", "v", driver.Options{"ttl": 1}); err != nil {
		t.Fatalf("Set with ttl failed: %v", err)
	}

	if found, _ := d.Has(ctx, "ephemeral", nil); !found {
		t.Fatal("key should exist before expiry")
	}

	meta, err := d.GetMeta(ctx, "ephemeral", nil)
	if err != nil || meta == nil {
		t.Fatalf("GetMeta: meta=%v err=%v", meta, err)
	}
	if meta.TTL <= 0 || meta.TTL > 1 {
		t.Errorf("expected remaining ttl in (0,1], got %d", meta.TTL)
	}

	time.Sleep(1100 * time.Millisecond)

	if found, _ := d.Has(ctx, "ephemeral", nil); found {
		t.Error("key should be gone after ttl expiry")
	}
	listed, _ := d.ListKeys(ctx, "", nil)
	for _, k := range listed {
		if k == "ephemeral" {
			t.Error("expired key still enumerated")
		}
	}
}

func TestRawPreservedAcrossTextRead(t *testing.T) {
	d := New()
	ctx := context.Background()

	payload := []byte{1, 2, 3}
	if err := d.SetRaw(ctx, "bin", payload, nil); err != nil {
		t.Fatalf("SetRaw failed: %v", err)
	}

	// the text channel sees the envelope form, the raw channel the bytes
	text, found, err := d.Get(ctx, "bin", nil)
	if err != nil || !found {
		t.Fatalf("Get: found=%v err=%v", found, err)
	}
	if text == "" {
		t.Error("text view of a raw value must not be empty")
	}

	raw, found, err := d.GetRaw(ctx, "bin", nil)
	if err != nil || !found {
		t.Fatalf("GetRaw: found=%v err=%v", found, err)
	}
	if string(raw) != string(payload) {
		t.Errorf("raw bytes mismatch: %v", raw)
	}
}
