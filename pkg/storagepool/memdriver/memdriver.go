// Package memdriver implements storagepool.Driver entirely in memory,
// for pool and mirrordriver tests that don't need real filesystem or
// network backends.
package memdriver

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
)

// Driver is a map-backed storagepool.Driver. Fail/Unfail let tests
// simulate one side of a mirror going unhealthy.
type Driver struct {
	scheme string

	mu      sync.RWMutex
	data    map[string][]byte
	failing map[string]bool
}

// New constructs an empty in-memory driver under scheme.
func New(scheme string) *Driver {
	return &Driver{scheme: scheme, data: make(map[string][]byte), failing: make(map[string]bool)}
}

func (d *Driver) Scheme() string { return d.scheme }

func (d *Driver) isFailing(uri string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.failing[uri] || d.failing["*"]
}

func (d *Driver) Save(ctx context.Context, uri string, r io.Reader) error {
	if d.isFailing(uri) {
		return fmt.Errorf("memdriver: injected failure saving %s", uri)
	}
	buf, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("memdriver: reading stream for %s: %w", uri, err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.data[uri] = buf
	return nil
}

func (d *Driver) Load(ctx context.Context, uri string) (io.ReadCloser, error) {
	if d.isFailing(uri) {
		return nil, fmt.Errorf("memdriver: injected failure loading %s", uri)
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	buf, ok := d.data[uri]
	if !ok {
		return nil, fmt.Errorf("memdriver: %s not found", uri)
	}
	return io.NopCloser(bytes.NewReader(buf)), nil
}

func (d *Driver) Delete(ctx context.Context, uri string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.data, uri)
	return nil
}

func (d *Driver) Exists(ctx context.Context, uri string) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.data[uri]
	return ok, nil
}

// Rename implements storagepool.Renamer.
func (d *Driver) Rename(ctx context.Context, src, dst string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	buf, ok := d.data[src]
	if !ok {
		return fmt.Errorf("memdriver: %s not found", src)
	}
	d.data[dst] = buf
	delete(d.data, src)
	return nil
}

// Fail injects a hard failure for every subsequent call naming uri; pass
// "*" to fail every call.
func (d *Driver) Fail(uri string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failing[uri] = true
}

// Unfail clears a previously injected failure.
func (d *Driver) Unfail(uri string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.failing, uri)
}

// Contains reports whether uri is currently stored, for test assertions.
func (d *Driver) Contains(uri string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.data[uri]
	return ok
}
