// Package fs implements the filesystem driver. Keys map to paths below a
// base directory by substituting ":" with the path separator; files hold
// UTF-8 text or raw bytes. The driver guards against path traversal, writes
// atomically and supports recursive change notification via fsnotify.
package fs

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/ansvik/stash/lib/driver"
	"github.com/ansvik/stash/lib/keys"
	"github.com/ansvik/stash/lib/logging"
)

var Logger = logging.GetLogger("driver/fs")

// DefaultIgnore is applied when Config.Ignore is nil.
var DefaultIgnore = []string{"**/node_modules/**", "**/.git/**"}

// Config configures a filesystem driver.
type Config struct {
	// Dir is the base directory holding the tree. Required.
	Dir string
	// ReadOnly makes every mutating operation a silent no-op.
	ReadOnly bool
	// NoClear disables Clear while keeping other writes enabled.
	NoClear bool
	// Ignore holds glob patterns excluded from enumeration and watching.
	// nil selects DefaultIgnore; an explicit empty slice disables ignores.
	Ignore []string
}

type fsDriver struct {
	dir     string // absolute, cleaned
	cfg     Config
	ignore  *ignoreMatcher
	watcher *watcher
}

// New creates a filesystem driver rooted at cfg.Dir. The directory is
// created lazily on first write.
func New(cfg Config) (driver.Driver, error) {
	if cfg.Dir == "" {
		return nil, driver.NewError(driver.RetCMissingConfig, "fs driver requires a base directory")
	}
	abs, err := filepath.Abs(cfg.Dir)
	if err != nil {
		return nil, driver.NewErrorf(driver.RetCMissingConfig, "fs driver: cannot resolve base directory %q: %v", cfg.Dir, err)
	}
	patterns := cfg.Ignore
	if patterns == nil {
		patterns = DefaultIgnore
	}
	d := &fsDriver{
		dir:    filepath.Clean(abs),
		cfg:    cfg,
		ignore: newIgnoreMatcher(patterns),
	}
	d.watcher = newWatcher(d)
	return d, nil
}

func (d *fsDriver) features() driver.Feature {
	f := driver.FeatureGetRaw |
		driver.FeatureGetMeta |
		driver.FeatureWatch |
		driver.FeatureDispose |
		driver.FeatureMaxDepth
	if !d.cfg.ReadOnly {
		f |= driver.FeatureSet | driver.FeatureSetRaw | driver.FeatureRemove
		if !d.cfg.NoClear {
			f |= driver.FeatureClear
		}
	}
	return f
}

// --------------------------------------------------------------------------
// Key <-> path mapping
// --------------------------------------------------------------------------

// pathFor resolves a relative key to an absolute path below the base
// directory. Keys carrying parent-directory traversal sequences are
// rejected; a post-resolution prefix check backs up the syntactic guard.
func (d *fsDriver) pathFor(key string) (string, error) {
	if !keys.ValidSegments(key) {
		return "", driver.NewErrorf(driver.RetCInvalidKey, "invalid key: %q", key)
	}
	p := filepath.Join(d.dir, filepath.FromSlash(strings.ReplaceAll(key, keys.Sep, "/")))
	if p != d.dir && !strings.HasPrefix(p, d.dir+string(filepath.Separator)) {
		return "", driver.NewErrorf(driver.RetCInvalidKey, "key escapes base directory: %q", key)
	}
	return p, nil
}

// keyFor converts a path below the base directory back to a relative key.
func (d *fsDriver) keyFor(path string) string {
	rel, err := filepath.Rel(d.dir, path)
	if err != nil {
		return ""
	}
	return keys.Normalize(filepath.ToSlash(rel))
}

// --------------------------------------------------------------------------
// Interface Methods (docu see driver/driver.go)
// --------------------------------------------------------------------------

func (d *fsDriver) Has(_ context.Context, key string, _ driver.Options) (bool, error) {
	p, err := d.pathFor(key)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, driver.NewErrorf(driver.RetCBackend, "stat %q: %v", p, err)
	}
	return !info.IsDir(), nil
}

func (d *fsDriver) Get(ctx context.Context, key string, opts driver.Options) (string, bool, error) {
	b, found, err := d.GetRaw(ctx, key, opts)
	if err != nil || !found {
		return "", found, err
	}
	return string(b), true, nil
}

func (d *fsDriver) GetRaw(_ context.Context, key string, _ driver.Options) ([]byte, bool, error) {
	p, err := d.pathFor(key)
	if err != nil {
		return nil, false, err
	}
	b, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, driver.NewErrorf(driver.RetCBackend, "read %q: %v", p, err)
	}
	return b, true, nil
}

func (d *fsDriver) Set(ctx context.Context, key, value string, opts driver.Options) error {
	return d.SetRaw(ctx, key, []byte(value), opts)
}

func (d *fsDriver) SetRaw(_ context.Context, key string, value []byte, _ driver.Options) error {
	if d.cfg.ReadOnly {
		return nil
	}
	p, err := d.pathFor(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return driver.NewErrorf(driver.RetCBackend, "create parent directories for %q: %v", p, err)
	}
	if err := writeFileAtomic(p, value); err != nil {
		return driver.NewErrorf(driver.RetCBackend, "write %q: %v", p, err)
	}
	return nil
}

func (d *fsDriver) Remove(_ context.Context, key string, _ driver.Options) error {
	if d.cfg.ReadOnly {
		return nil
	}
	p, err := d.pathFor(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return driver.NewErrorf(driver.RetCBackend, "remove %q: %v", p, err)
	}
	return nil
}

func (d *fsDriver) GetMeta(_ context.Context, key string, _ driver.Options) (*driver.Meta, error) {
	p, err := d.pathFor(key)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &driver.Meta{}, nil
		}
		return nil, driver.NewErrorf(driver.RetCBackend, "stat %q: %v", p, err)
	}
	meta := &driver.Meta{
		Mtime: info.ModTime(),
		Size:  info.Size(),
	}
	fillTimes(meta, info)
	return meta, nil
}

func (d *fsDriver) ListKeys(_ context.Context, base string, opts driver.Options) ([]string, error) {
	root, err := d.pathFor(strings.TrimSuffix(base, keys.Sep))
	if err != nil {
		return nil, err
	}
	maxDepth := opts.MaxDepth()

	var result []string
	err = filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		key := d.keyFor(path)
		if entry.IsDir() {
			if key != "" && d.ignore.MatchDir(key) {
				return filepath.SkipDir
			}
			return nil
		}
		if d.ignore.Match(key) {
			return nil
		}
		if keys.FilterByDepth(key, maxDepth) {
			result = append(result, key)
		}
		return nil
	})
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, driver.NewErrorf(driver.RetCBackend, "list %q: %v", root, err)
	}
	return result, nil
}

func (d *fsDriver) GetMany(_ context.Context, _ []string, _ driver.Options) ([]driver.GetResult, error) {
	return nil, nil // unsupported, engine falls back to singletons
}

func (d *fsDriver) SetMany(_ context.Context, _ []driver.SetItem, _ driver.Options) error {
	return nil // unsupported
}

// Clear deletes everything below base but never the base directory itself.
func (d *fsDriver) Clear(_ context.Context, base string, _ driver.Options) error {
	if d.cfg.ReadOnly || d.cfg.NoClear {
		return nil
	}
	root, err := d.pathFor(strings.TrimSuffix(base, keys.Sep))
	if err != nil {
		return err
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return driver.NewErrorf(driver.RetCBackend, "clear %q: %v", root, err)
	}
	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(root, entry.Name())); err != nil {
			return driver.NewErrorf(driver.RetCBackend, "clear %q: %v", root, err)
		}
	}
	return nil
}

func (d *fsDriver) Watch(cb driver.WatchCallback) (driver.UnwatchFunc, error) {
	return d.watcher.subscribe(cb)
}

func (d *fsDriver) Dispose() error {
	return d.watcher.close()
}

func (d *fsDriver) SupportsFeature(f driver.Feature) bool {
	return d.features()&f == f
}

func (d *fsDriver) GetInfo() driver.Info {
	return driver.Info{
		Name:     "fs",
		Features: d.features().List(),
		Metadata: map[string]any{"dir": d.dir, "readOnly": d.cfg.ReadOnly},
	}
}

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

// writeFileAtomic writes to a temp sibling and renames it into place so
// readers never observe a partial file.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
