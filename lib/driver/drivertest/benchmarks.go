package drivertest

import (
	"context"
	"fmt"
	"testing"

	"github.com/ansvik/stash/lib/driver"
)

// BenchFactory creates a fresh driver instance for one benchmark.
type BenchFactory func(b *testing.B) driver.Driver

// RunDriverBenchmarks runs a standard benchmark set against a Driver
// implementation. Benchmarks for unsupported operations are skipped.
func RunDriverBenchmarks(b *testing.B, name string, factory BenchFactory) {
	ctx := context.Background()

	b.Run(name+"/Set", func(b *testing.B) {
		d := factory(b)
		defer dispose(d)
		requireFeature(b, d, driver.FeatureSet)
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			_ = d.Set(ctx, fmt.Sprintf("bench:key-%d", i%1024), "value", nil)
		}
	})

	b.Run(name+"/Get", func(b *testing.B) {
		d := factory(b)
		defer dispose(d)
		requireFeature(b, d, driver.FeatureSet)
		for i := 0; i < 1024; i++ {
			_ = d.Set(ctx, fmt.Sprintf("bench:key-%d", i), "value", nil)
		}
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			_, _, _ = d.Get(ctx, fmt.Sprintf("bench:key-%d", i%1024), nil)
		}
	})

	b.Run(name+"/ListKeys", func(b *testing.B) {
		d := factory(b)
		defer dispose(d)
		requireFeature(b, d, driver.FeatureSet)
		for i := 0; i < 256; i++ {
			_ = d.Set(ctx, fmt.Sprintf("bench:key-%d", i), "value", nil)
		}
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			_, _ = d.ListKeys(ctx, "", nil)
		}
	})
}
