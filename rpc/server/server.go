// Package server exposes a storage engine over HTTP. The request path is
// the key (slashes map to colons); a trailing slash or colon addresses a
// base. Content negotiation with application/octet-stream switches the
// value channel to raw bytes.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/VictoriaMetrics/metrics"

	"github.com/ansvik/stash/lib/driver"
	"github.com/ansvik/stash/lib/keys"
	"github.com/ansvik/stash/lib/logging"
	"github.com/ansvik/stash/lib/storage"
	"github.com/ansvik/stash/rpc/common"
)

var Logger = logging.GetLogger("rpc/server")

const contentTypeOctetStream = "application/octet-stream"

// --------------------------------------------------------------------------
// Hooks and errors
// --------------------------------------------------------------------------

// AccessMode classifies a request for the authorization hook.
type AccessMode string

const (
	AccessRead  AccessMode = "read"
	AccessWrite AccessMode = "write"
)

// AuthorizeFunc runs before dispatch. Returning an error denies the
// request with 401, or with the status carried by an *HTTPError.
type AuthorizeFunc func(r *http.Request, key string, mode AccessMode) error

// ResolvePathFunc rewrites the request path into a key path. The default
// uses r.URL.Path unchanged.
type ResolvePathFunc func(r *http.Request) string

// HTTPError carries an explicit HTTP status through the hook boundary.
type HTTPError struct {
	Status int
	Msg    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Msg)
}

// NewHTTPError creates an HTTPError with the given status and message.
func NewHTTPError(status int, msg string) *HTTPError {
	return &HTTPError{Status: status, Msg: msg}
}

// --------------------------------------------------------------------------
// Server
// --------------------------------------------------------------------------

// StorageServer serves one storage engine over the HTTP protocol.
type StorageServer struct {
	config common.ServerConfig
	store  storage.Storage

	// Authorize, when set, gates every request.
	Authorize AuthorizeFunc
	// ResolvePath, when set, rewrites request paths into key paths.
	ResolvePath ResolvePathFunc
}

// NewStorageServer creates a storage server.
//
// Usage:
//
//	s := server.NewStorageServer(config, store)
//	if err := s.Serve(ctx); err != nil {
//		panic(err)
//	}
func NewStorageServer(config common.ServerConfig, store storage.Storage) *StorageServer {
	Logger.Infof("created storage server")
	Logger.Infof(config.String())
	return &StorageServer{
		config: config,
		store:  store,
	}
}

// Handler returns the http.Handler implementing the protocol.
func (s *StorageServer) Handler() http.Handler {
	var handler http.Handler = http.HandlerFunc(s.handleRequest)
	if !s.config.NoMetrics {
		handler = s.metricsMiddleware(handler)
	}
	if s.config.LogLevel == "debug" {
		handler = loggerMiddleware(handler)
	}
	return handler
}

// Serve binds the configured endpoint and blocks until the listener fails
// or ctx is canceled; cancellation shuts the server down gracefully.
func (s *StorageServer) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.config.Endpoint,
		Handler: s.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		Logger.Infof("starting HTTP server on %s", s.config.Endpoint)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			Logger.Warnf("shutdown: %v", err)
		}
		return nil
	}
}

// --------------------------------------------------------------------------
// Request handling
// --------------------------------------------------------------------------

func (s *StorageServer) handleRequest(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	if s.ResolvePath != nil {
		path = s.ResolvePath(r)
	}

	if !s.config.NoMetrics && r.Method == http.MethodGet && path == "/metrics" {
		metrics.WritePrometheus(w, true)
		return
	}

	// a trailing slash or colon marks a base key; the root path is a base
	trimmed := strings.TrimSpace(path)
	isBase := trimmed == "" || trimmed == "/" ||
		strings.HasSuffix(trimmed, "/") || strings.HasSuffix(trimmed, keys.Sep)
	key := keys.Normalize(path)

	mode := AccessRead
	switch r.Method {
	case http.MethodPut, http.MethodDelete:
		mode = AccessWrite
	}
	if err := s.authorize(r, key, mode); err != nil {
		status := http.StatusUnauthorized
		var httpErr *HTTPError
		if errors.As(err, &httpErr) {
			status = httpErr.Status
		}
		http.Error(w, err.Error(), status)
		return
	}

	switch {
	case r.Method == http.MethodGet && isBase:
		s.handleListKeys(w, r, key)
	case r.Method == http.MethodGet:
		s.handleGet(w, r, key)
	case r.Method == http.MethodHead && !isBase:
		s.handleHead(w, r, key)
	case r.Method == http.MethodPut && !isBase:
		s.handlePut(w, r, key)
	case r.Method == http.MethodDelete && isBase:
		s.handleClear(w, r, key)
	case r.Method == http.MethodDelete:
		s.handleRemove(w, r, key)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *StorageServer) authorize(r *http.Request, key string, mode AccessMode) error {
	if s.Authorize == nil {
		return nil
	}
	return s.Authorize(r, key, mode)
}

func (s *StorageServer) handleListKeys(w http.ResponseWriter, r *http.Request, base string) {
	listed, err := s.store.ListKeys(r.Context(), base)
	if err != nil {
		writeStorageError(w, err)
		return
	}
	// colon separators are rewritten to slashes for client friendliness
	rewritten := make([]string, len(listed))
	for i, k := range listed {
		rewritten[i] = strings.ReplaceAll(k, keys.Sep, "/")
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(rewritten); err != nil {
		Logger.Warnf("encoding key list: %v", err)
	}
}

func (s *StorageServer) handleGet(w http.ResponseWriter, r *http.Request, key string) {
	raw := r.Header.Get("Accept") == contentTypeOctetStream

	meta, err := s.store.GetMeta(r.Context(), key)
	if err != nil {
		writeStorageError(w, err)
		return
	}
	writeMetaHeaders(w, meta)

	if raw {
		value, err := s.store.GetRaw(r.Context(), key)
		if err != nil {
			writeStorageError(w, err)
			return
		}
		if value == nil {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", contentTypeOctetStream)
		_, _ = w.Write(value)
		return
	}

	value, err := s.store.Get(r.Context(), key)
	if err != nil {
		writeStorageError(w, err)
		return
	}
	if value == nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	text, err := stringifyResponse(value)
	if err != nil {
		writeStorageError(w, err)
		return
	}
	_, _ = io.WriteString(w, text)
}

func (s *StorageServer) handleHead(w http.ResponseWriter, r *http.Request, key string) {
	found, err := s.store.Has(r.Context(), key)
	if err != nil {
		writeStorageError(w, err)
		return
	}
	if !found {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	meta, err := s.store.GetMeta(r.Context(), key)
	if err != nil {
		writeStorageError(w, err)
		return
	}
	writeMetaHeaders(w, meta)
	if meta != nil && meta.Size > 0 {
		// HEAD carries the entity size without a body
		w.Header().Set("Content-Length", strconv.FormatInt(meta.Size, 10))
	}
	w.WriteHeader(http.StatusOK)
}

func (s *StorageServer) handlePut(w http.ResponseWriter, r *http.Request, key string) {
	body, err := io.ReadAll(r.Body)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusInternalServerError)
		return
	}

	var opts driver.Options
	if ttlHeader := r.Header.Get("X-TTL"); ttlHeader != "" {
		ttl, err := strconv.ParseInt(ttlHeader, 10, 64)
		if err != nil || ttl < 0 {
			http.Error(w, "invalid X-TTL header", http.StatusBadRequest)
			return
		}
		opts = driver.Options{"ttl": ttl}
	}

	if r.Header.Get("Content-Type") == contentTypeOctetStream {
		err = s.store.SetRaw(r.Context(), key, body, opts)
	} else {
		err = s.store.Set(r.Context(), key, string(body), opts)
	}
	if err != nil {
		writeStorageError(w, err)
		return
	}
	_, _ = io.WriteString(w, "OK")
}

func (s *StorageServer) handleRemove(w http.ResponseWriter, r *http.Request, key string) {
	if err := s.store.Remove(r.Context(), key); err != nil {
		writeStorageError(w, err)
		return
	}
	_, _ = io.WriteString(w, "OK")
}

func (s *StorageServer) handleClear(w http.ResponseWriter, r *http.Request, base string) {
	if err := s.store.Clear(r.Context(), base); err != nil {
		writeStorageError(w, err)
		return
	}
	_, _ = io.WriteString(w, "OK")
}

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

// stringifyResponse renders an engine value back into its wire text.
func stringifyResponse(value any) (string, error) {
	if s, ok := value.(string); ok {
		return s, nil
	}
	b, err := json.Marshal(value)
	if err != nil {
		return "", driver.NewErrorf(driver.RetCSerialization, "response: %v", err)
	}
	return string(b), nil
}

func writeMetaHeaders(w http.ResponseWriter, meta *driver.Meta) {
	if meta == nil {
		return
	}
	if !meta.Mtime.IsZero() {
		w.Header().Set("Last-Modified", meta.Mtime.UTC().Format(http.TimeFormat))
	}
	if meta.TTL > 0 {
		w.Header().Set("X-TTL", strconv.FormatInt(meta.TTL, 10))
		w.Header().Set("Cache-Control", fmt.Sprintf("max-age=%d", meta.TTL))
	}
}

// writeStorageError maps engine error kinds to HTTP statuses.
func writeStorageError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if driver.CodeOf(err) == driver.RetCInvalidKey {
		status = http.StatusBadRequest
	}
	http.Error(w, err.Error(), status)
}

// --------------------------------------------------------------------------
// Middleware (metrics, logging)
// --------------------------------------------------------------------------

// responseWriter is a custom ResponseWriter that captures the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// metricsMiddleware counts requests and measures their duration per method.
func (s *StorageServer) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		metrics.GetOrCreateCounter(fmt.Sprintf(
			`stash_http_requests_total{method=%q,status="%d"}`, r.Method, rw.statusCode,
		)).Inc()
		metrics.GetOrCreateSummary(fmt.Sprintf(
			`stash_http_request_duration_seconds{method=%q}`, r.Method,
		)).Update(time.Since(start).Seconds())
	})
}

// loggerMiddleware logs every request at debug level.
func loggerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		Logger.Debugf("%s %s => %d took %s", r.Method, r.URL.Path, rw.statusCode, time.Since(start))
	})
}
