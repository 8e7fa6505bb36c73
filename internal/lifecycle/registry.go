// Package lifecycle tracks live audio resource handles and guarantees each
// one is released exactly once.
package lifecycle

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/dgnsrekt/glow-audio/internal/audioerr"
	"github.com/dgnsrekt/glow-audio/internal/metrics"
)

// Handle is an opaque, exclusively owned resource. Owners never close the
// resource themselves; they hand the handle back to the Registry.
type Handle struct {
	ID       string
	Kind     string
	Acquired time.Time

	resource io.Closer
}

// Resource returns the underlying resource for use by its owner.
func (h *Handle) Resource() io.Closer {
	return h.resource
}

// Registry maps live handles to their release callbacks.
type Registry struct {
	mu      sync.Mutex
	handles map[string]*Handle
	closed  bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		handles: make(map[string]*Handle),
	}
}

// Acquire calls open and registers the result under a fresh handle.
func (r *Registry) Acquire(kind string, open func() (io.Closer, error)) (*Handle, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, audioerr.ErrDestroyed
	}
	r.mu.Unlock()

	resource, err := open()
	if err != nil {
		return nil, fmt.Errorf("failed to open %s handle: %w", kind, err)
	}
	if resource == nil {
		return nil, fmt.Errorf("failed to open %s handle: nil resource", kind)
	}

	h := &Handle{
		ID:       uuid.NewString(),
		Kind:     kind,
		Acquired: time.Now(),
		resource: resource,
	}

	r.mu.Lock()
	if r.closed {
		// Registry was closed while open ran; do not leak the new resource.
		r.mu.Unlock()
		_ = resource.Close()
		return nil, audioerr.ErrDestroyed
	}
	r.handles[h.ID] = h
	r.mu.Unlock()

	metrics.RecordHandleAcquired(kind)
	log.Debug("Acquired handle", "id", h.ID, "kind", kind)
	return h, nil
}

// Release closes the handle's resource once and forgets it. Releasing a nil,
// unknown or already released handle is a no-op.
func (r *Registry) Release(h *Handle) error {
	if h == nil {
		return nil
	}

	r.mu.Lock()
	registered, ok := r.handles[h.ID]
	if ok {
		delete(r.handles, h.ID)
	}
	r.mu.Unlock()

	if !ok {
		return nil
	}
	return release(registered)
}

// ReleaseAll releases every outstanding handle.
func (r *Registry) ReleaseAll() error {
	r.mu.Lock()
	pending := make([]*Handle, 0, len(r.handles))
	for _, h := range r.handles {
		pending = append(pending, h)
	}
	r.handles = make(map[string]*Handle)
	r.mu.Unlock()

	var errs []error
	for _, h := range pending {
		if err := release(h); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close releases everything and refuses further acquisitions.
func (r *Registry) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return r.ReleaseAll()
}

// Live returns the number of outstanding handles.
func (r *Registry) Live() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}

// Contains reports whether the handle is still registered.
func (r *Registry) Contains(h *Handle) bool {
	if h == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.handles[h.ID]
	return ok
}

func release(h *Handle) error {
	metrics.RecordHandleReleased(h.Kind)
	if err := h.resource.Close(); err != nil {
		log.Warn("Handle release failed", "id", h.ID, "kind", h.Kind, "error", err)
		return fmt.Errorf("release %s handle %s: %w", h.Kind, h.ID, err)
	}
	log.Debug("Released handle", "id", h.ID, "kind", h.Kind, "held", time.Since(h.Acquired))
	return nil
}
