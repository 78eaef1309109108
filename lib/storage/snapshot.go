package storage

import (
	"context"
	"sync"

	"github.com/ansvik/stash/lib/codec"
	"github.com/ansvik/stash/lib/keys"
)

// snapshotConcurrency bounds the fan-out of snapshot and restore so a
// large subtree cannot flood a backend with parallel calls.
const snapshotConcurrency = 8

// Snapshot captures every key under base. Values travel through the raw
// path; byte payloads that are not plain text are wrapped in the raw
// envelope so the resulting map is pure text.
func (s *storageImpl) Snapshot(ctx context.Context, base string) (map[string]string, error) {
	base = keys.NormalizeBase(base)

	listed, err := s.ListKeys(ctx, base)
	if err != nil {
		return nil, err
	}

	var (
		mu       sync.Mutex
		snap     = make(map[string]string, len(listed))
		wg       sync.WaitGroup
		sem      = make(chan struct{}, snapshotConcurrency)
		firstErr error
	)
	for _, key := range listed {
		wg.Add(1)
		sem <- struct{}{}
		go func(key string) {
			defer wg.Done()
			defer func() { <-sem }()
			b, err := s.GetRaw(ctx, key)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				return
			}
			if b == nil {
				return // raced with a concurrent remove
			}
			snap[key[len(base):]] = encodeSnapshotValue(b)
		}(key)
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	return snap, nil
}

// RestoreSnapshot writes a snapshot back under base.
func (s *storageImpl) RestoreSnapshot(ctx context.Context, base string, snap map[string]string) error {
	base = keys.NormalizeBase(base)

	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		sem      = make(chan struct{}, snapshotConcurrency)
		firstErr error
	)
	for key, value := range snap {
		wg.Add(1)
		sem <- struct{}{}
		go func(key, value string) {
			defer wg.Done()
			defer func() { <-sem }()
			// envelope entries carry raw payloads and restore through the
			// raw channel; everything else is plain text
			var err error
			if b, isEnvelope := codec.DecodeRaw(value); isEnvelope {
				err = s.SetRaw(ctx, base+key, b)
			} else {
				err = s.Set(ctx, base+key, value)
			}
			if err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
		}(key, value)
	}
	wg.Wait()
	return firstErr
}

// encodeSnapshotValue keeps plain text readable and wraps everything else
// in the raw envelope. Text that happens to look like an envelope must be
// wrapped too, or restoring would decode it into different bytes.
func encodeSnapshotValue(b []byte) string {
	if !codec.ValidText(b) {
		return codec.EncodeRaw(b)
	}
	if _, isEnvelope := codec.DecodeRaw(string(b)); isEnvelope {
		return codec.EncodeRaw(b)
	}
	return string(b)
}
