// Package client implements the HTTP client driver: it consumes the wire
// protocol of rpc/server as a remote backend, so a storage engine can
// mount another instance like any local driver.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ansvik/stash/lib/driver"
	"github.com/ansvik/stash/lib/keys"
	"github.com/ansvik/stash/lib/logging"
	"github.com/ansvik/stash/rpc/common"
)

var Logger = logging.GetLogger("rpc/client")

const contentTypeOctetStream = "application/octet-stream"

const features = driver.FeatureSet |
	driver.FeatureSetRaw |
	driver.FeatureGetRaw |
	driver.FeatureRemove |
	driver.FeatureGetMeta |
	driver.FeatureClear

type httpDriver struct {
	config common.ClientConfig
	base   string // normalized base URL without trailing slash
	client *http.Client
}

// NewHTTPDriver creates a driver backed by a remote storage server.
func NewHTTPDriver(config common.ClientConfig) (driver.Driver, error) {
	if config.BaseURL == "" {
		return nil, driver.NewError(driver.RetCMissingConfig, "http driver requires a base URL")
	}
	return &httpDriver{
		config: config,
		base:   strings.TrimRight(config.BaseURL, "/"),
		client: &http.Client{
			Timeout: time.Duration(config.TimeoutSecond) * time.Second,
		},
	}, nil
}

// --------------------------------------------------------------------------
// Request plumbing
// --------------------------------------------------------------------------

// url converts a relative key (or base, with trailing colon) to the remote
// path form.
func (d *httpDriver) url(key string, isBase bool) string {
	p := strings.ReplaceAll(strings.TrimSuffix(key, keys.Sep), keys.Sep, "/")
	u := d.base + "/" + p
	if isBase && !strings.HasSuffix(u, "/") {
		u += "/"
	}
	return u
}

// do sends one request, retrying transport-level failures per the config.
// HTTP-level statuses are never retried.
func (d *httpDriver) do(ctx context.Context, method, url string, body []byte, header http.Header) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt <= d.config.RetryCount; attempt++ {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, reader)
		if err != nil {
			return nil, driver.NewErrorf(driver.RetCBackend, "build request: %v", err)
		}
		for k, v := range d.config.Headers {
			req.Header.Set(k, v)
		}
		for k, vs := range header {
			for _, v := range vs {
				req.Header.Set(k, v)
			}
		}
		resp, err := d.client.Do(req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		Logger.Debugf("%s %s failed (attempt %d/%d): %v", method, url, attempt+1, d.config.RetryCount+1, err)
	}
	return nil, driver.NewErrorf(driver.RetCBackend, "%s %s: %v", method, url, lastErr)
}

func drainAndClose(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}

func unexpectedStatus(resp *http.Response) error {
	return driver.NewErrorf(driver.RetCBackend, "remote returned %s", resp.Status)
}

// --------------------------------------------------------------------------
// Interface Methods (docu see driver/driver.go)
// --------------------------------------------------------------------------

func (d *httpDriver) Has(ctx context.Context, key string, _ driver.Options) (bool, error) {
	resp, err := d.do(ctx, http.MethodHead, d.url(key, false), nil, nil)
	if err != nil {
		return false, err
	}
	defer drainAndClose(resp)
	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, unexpectedStatus(resp)
	}
}

func (d *httpDriver) Get(ctx context.Context, key string, _ driver.Options) (string, bool, error) {
	resp, err := d.do(ctx, http.MethodGet, d.url(key, false), nil, nil)
	if err != nil {
		return "", false, err
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return "", false, driver.NewErrorf(driver.RetCBackend, "read response: %v", err)
		}
		return string(b), true, nil
	case http.StatusNotFound:
		return "", false, nil
	default:
		return "", false, unexpectedStatus(resp)
	}
}

func (d *httpDriver) GetRaw(ctx context.Context, key string, _ driver.Options) ([]byte, bool, error) {
	header := http.Header{"Accept": []string{contentTypeOctetStream}}
	resp, err := d.do(ctx, http.MethodGet, d.url(key, false), nil, header)
	if err != nil {
		return nil, false, err
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, false, driver.NewErrorf(driver.RetCBackend, "read response: %v", err)
		}
		return b, true, nil
	case http.StatusNotFound:
		return nil, false, nil
	default:
		return nil, false, unexpectedStatus(resp)
	}
}

func (d *httpDriver) Set(ctx context.Context, key, value string, opts driver.Options) error {
	return d.put(ctx, key, []byte(value), "", opts)
}

func (d *httpDriver) SetRaw(ctx context.Context, key string, value []byte, opts driver.Options) error {
	return d.put(ctx, key, value, contentTypeOctetStream, opts)
}

func (d *httpDriver) put(ctx context.Context, key string, body []byte, contentType string, opts driver.Options) error {
	header := http.Header{}
	if contentType != "" {
		header.Set("Content-Type", contentType)
	}
	if ttl, ok := opts.Int64("ttl"); ok && ttl > 0 {
		header.Set("X-TTL", strconv.FormatInt(ttl, 10))
	}
	resp, err := d.do(ctx, http.MethodPut, d.url(key, false), body, header)
	if err != nil {
		return err
	}
	defer drainAndClose(resp)
	if resp.StatusCode != http.StatusOK {
		return unexpectedStatus(resp)
	}
	return nil
}

func (d *httpDriver) Remove(ctx context.Context, key string, _ driver.Options) error {
	resp, err := d.do(ctx, http.MethodDelete, d.url(key, false), nil, nil)
	if err != nil {
		return err
	}
	defer drainAndClose(resp)
	if resp.StatusCode != http.StatusOK {
		return unexpectedStatus(resp)
	}
	return nil
}

func (d *httpDriver) GetMeta(ctx context.Context, key string, _ driver.Options) (*driver.Meta, error) {
	resp, err := d.do(ctx, http.MethodHead, d.url(key, false), nil, nil)
	if err != nil {
		return nil, err
	}
	defer drainAndClose(resp)
	switch resp.StatusCode {
	case http.StatusOK:
		meta := &driver.Meta{}
		if lm := resp.Header.Get("Last-Modified"); lm != "" {
			if t, err := http.ParseTime(lm); err == nil {
				meta.Mtime = t
			}
		}
		if ttl := resp.Header.Get("X-TTL"); ttl != "" {
			if n, err := strconv.ParseInt(ttl, 10, 64); err == nil {
				meta.TTL = n
			}
		}
		if resp.ContentLength > 0 {
			meta.Size = resp.ContentLength
		}
		return meta, nil
	case http.StatusNotFound:
		return nil, nil
	default:
		return nil, unexpectedStatus(resp)
	}
}

func (d *httpDriver) ListKeys(ctx context.Context, base string, _ driver.Options) ([]string, error) {
	resp, err := d.do(ctx, http.MethodGet, d.url(base, true), nil, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		drainAndClose(resp)
		return nil, unexpectedStatus(resp)
	}
	var listed []string
	if err := json.NewDecoder(resp.Body).Decode(&listed); err != nil {
		return nil, driver.NewErrorf(driver.RetCBackend, "decode key list: %v", err)
	}
	// the wire carries slash-separated keys
	result := make([]string, len(listed))
	for i, k := range listed {
		result[i] = keys.Normalize(k)
	}
	return result, nil
}

func (d *httpDriver) GetMany(_ context.Context, _ []string, _ driver.Options) ([]driver.GetResult, error) {
	return nil, nil // unsupported, engine falls back to singletons
}

func (d *httpDriver) SetMany(_ context.Context, _ []driver.SetItem, _ driver.Options) error {
	return nil // unsupported
}

func (d *httpDriver) Clear(ctx context.Context, base string, _ driver.Options) error {
	resp, err := d.do(ctx, http.MethodDelete, d.url(base, true), nil, nil)
	if err != nil {
		return err
	}
	defer drainAndClose(resp)
	if resp.StatusCode != http.StatusOK {
		return unexpectedStatus(resp)
	}
	return nil
}

func (d *httpDriver) Watch(_ driver.WatchCallback) (driver.UnwatchFunc, error) {
	return nil, nil // unsupported
}

func (d *httpDriver) Dispose() error {
	d.client.CloseIdleConnections()
	return nil
}

func (d *httpDriver) SupportsFeature(f driver.Feature) bool {
	return features&f == f
}

func (d *httpDriver) GetInfo() driver.Info {
	return driver.Info{
		Name:     "http",
		Features: features.List(),
		Metadata: map[string]any{"baseURL": d.base},
	}
}
