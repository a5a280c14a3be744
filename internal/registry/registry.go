// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package registry associates project identifiers with parsed document
// handles. The registry owns the handles: unregistering a project closes
// its handle and frees the underlying parser resources.
package registry

import (
	"errors"
	"fmt"
	"sync"

	"github.com/pdiddy/raster-engine/pkg/types"
)

// ErrDuplicateID means a handle is already registered under the given
// project id. With generated project ids this indicates a logic fault,
// not a user-facing condition.
var ErrDuplicateID = errors.New("document handle already registered")

// Handle is a parsed, page-addressable document produced by loading.
// It is consumed only by the conversion engine and closed by the registry
// when its project is removed.
type Handle interface {
	// NumPages returns the document's page count.
	NumPages() int

	// RenderPage rasterizes the 1-based page at the given settings.
	// Safe to call repeatedly for the same page.
	RenderPage(pageNumber int, s types.RenderSettings) (types.RenderedPage, error)

	// Close releases parser resources. The handle is unusable afterwards.
	Close() error
}

// Registry maps project ids to their document handles.
type Registry struct {
	mu      sync.Mutex
	handles map[string]Handle
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{handles: make(map[string]Handle)}
}

// Register stores the handle under id. It fails with ErrDuplicateID if a
// handle is already present for that id.
func (r *Registry) Register(id string, h Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handles[id]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateID, id)
	}
	r.handles[id] = h
	return nil
}

// Lookup returns the handle registered under id, if any.
func (r *Registry) Lookup(id string) (Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.handles[id]
	return h, ok
}

// Unregister removes and closes the handle registered under id.
// It is idempotent: unknown ids are ignored.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	h, ok := r.handles[id]
	delete(r.handles, id)
	r.mu.Unlock()

	if ok {
		h.Close()
	}
}

// Len returns the number of registered handles.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}
