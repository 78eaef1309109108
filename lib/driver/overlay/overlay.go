// Package overlay implements a composite driver over an ordered stack of
// layers. Reads fall through from the top layer down, writes go to the top
// layer only, and deletes write a tombstone sentinel into the top layer so
// lower layers stay untouched but masked.
package overlay

import (
	"context"
	"sync"

	"github.com/ansvik/stash/lib/driver"
	"github.com/ansvik/stash/lib/keys"
	"github.com/ansvik/stash/lib/logging"
)

var Logger = logging.GetLogger("driver/overlay")

// Tombstone is the reserved sentinel masking lower-layer values. It must
// round-trip through any layer's text channel, so it is a plain string.
const Tombstone = "__OVERLAY_REMOVED__"

const features = driver.FeatureSet |
	driver.FeatureRemove |
	driver.FeatureGetMeta |
	driver.FeatureDispose

type overlayDriver struct {
	layers []driver.Driver // layers[0] is the top
}

// New creates an overlay driver over the given layers, top first. At least
// one layer is required.
func New(layers ...driver.Driver) (driver.Driver, error) {
	if len(layers) == 0 {
		return nil, driver.NewError(driver.RetCMissingConfig, "overlay driver requires at least one layer")
	}
	for _, l := range layers {
		if l == nil {
			return nil, driver.NewError(driver.RetCMissingConfig, "overlay driver layer must not be nil")
		}
	}
	return &overlayDriver{layers: layers}, nil
}

func (d *overlayDriver) top() driver.Driver {
	return d.layers[0]
}

// --------------------------------------------------------------------------
// Interface Methods (docu see driver/driver.go)
// --------------------------------------------------------------------------

func (d *overlayDriver) Has(ctx context.Context, key string, opts driver.Options) (bool, error) {
	for i, layer := range d.layers {
		found, err := layer.Has(ctx, key, opts)
		if err != nil {
			return false, err
		}
		if !found {
			continue
		}
		if i == 0 {
			// only the top layer can hold a tombstone
			value, ok, err := layer.Get(ctx, key, opts)
			if err != nil {
				return false, err
			}
			if ok && value == Tombstone {
				return false, nil
			}
		}
		return true, nil
	}
	return false, nil
}

func (d *overlayDriver) Get(ctx context.Context, key string, opts driver.Options) (string, bool, error) {
	for _, layer := range d.layers {
		value, found, err := layer.Get(ctx, key, opts)
		if err != nil {
			return "", false, err
		}
		if !found {
			continue
		}
		if value == Tombstone {
			return "", false, nil
		}
		return value, true, nil
	}
	return "", false, nil
}

func (d *overlayDriver) GetRaw(ctx context.Context, key string, opts driver.Options) ([]byte, bool, error) {
	return nil, false, nil // unsupported, engine decodes through the text channel
}

func (d *overlayDriver) Set(ctx context.Context, key, value string, opts driver.Options) error {
	if value == Tombstone {
		return driver.NewError(driver.RetCInvalidKey, "the overlay tombstone sentinel cannot be stored as a value")
	}
	if !d.top().SupportsFeature(driver.FeatureSet) {
		return nil
	}
	return d.top().Set(ctx, key, value, opts)
}

func (d *overlayDriver) SetRaw(_ context.Context, _ string, _ []byte, _ driver.Options) error {
	return nil // unsupported
}

func (d *overlayDriver) Remove(ctx context.Context, key string, opts driver.Options) error {
	if !d.top().SupportsFeature(driver.FeatureSet) {
		return nil
	}
	return d.top().Set(ctx, key, Tombstone, opts)
}

func (d *overlayDriver) GetMeta(ctx context.Context, key string, opts driver.Options) (*driver.Meta, error) {
	for _, layer := range d.layers {
		if !layer.SupportsFeature(driver.FeatureGetMeta) {
			continue
		}
		found, err := layer.Has(ctx, key, opts)
		if err != nil {
			return nil, err
		}
		if found {
			return layer.GetMeta(ctx, key, opts)
		}
	}
	return nil, nil
}

// ListKeys unions every layer concurrently, then drops candidates masked
// by a top-layer tombstone.
func (d *overlayDriver) ListKeys(ctx context.Context, base string, opts driver.Options) ([]string, error) {
	var (
		mu  sync.Mutex
		set = make(map[string]struct{})
		wg  sync.WaitGroup
	)
	for _, layer := range d.layers {
		wg.Add(1)
		go func(layer driver.Driver) {
			defer wg.Done()
			listed, err := layer.ListKeys(ctx, base, opts)
			if err != nil {
				Logger.Warnf("overlay layer listKeys failed: %v", err)
				return
			}
			mu.Lock()
			for _, k := range listed {
				set[keys.Normalize(k)] = struct{}{}
			}
			mu.Unlock()
		}(layer)
	}
	wg.Wait()

	result := make([]string, 0, len(set))
	for k := range set {
		value, found, err := d.top().Get(ctx, k, opts)
		if err != nil {
			return nil, err
		}
		if found && value == Tombstone {
			continue
		}
		result = append(result, k)
	}
	return result, nil
}

func (d *overlayDriver) GetMany(_ context.Context, _ []string, _ driver.Options) ([]driver.GetResult, error) {
	return nil, nil // unsupported
}

func (d *overlayDriver) SetMany(_ context.Context, _ []driver.SetItem, _ driver.Options) error {
	return nil // unsupported
}

func (d *overlayDriver) Clear(_ context.Context, _ string, _ driver.Options) error {
	return nil // unsupported
}

func (d *overlayDriver) Watch(_ driver.WatchCallback) (driver.UnwatchFunc, error) {
	return nil, nil // unsupported
}

// Dispose disposes every layer best-effort; one failing layer does not
// block the others.
func (d *overlayDriver) Dispose() error {
	var first error
	for _, layer := range d.layers {
		if !layer.SupportsFeature(driver.FeatureDispose) {
			continue
		}
		if err := layer.Dispose(); err != nil {
			Logger.Warnf("overlay layer dispose failed: %v", err)
			if first == nil {
				first = err
			}
		}
	}
	return first
}

func (d *overlayDriver) SupportsFeature(f driver.Feature) bool {
	return features&f == f
}

func (d *overlayDriver) GetInfo() driver.Info {
	layerInfos := make([]driver.Info, 0, len(d.layers))
	for _, layer := range d.layers {
		layerInfos = append(layerInfos, layer.GetInfo())
	}
	return driver.Info{
		Name:     "overlay",
		Features: features.List(),
		Metadata: map[string]any{"layers": layerInfos},
	}
}
