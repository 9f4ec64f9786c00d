package resolver

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// ErrDuplicateRequest is returned when a request id is already in flight.
var ErrDuplicateRequest = errors.New("request id is already active")

// Handle is the registry's record of one in-flight request.
type Handle struct {
	id         string
	owner      string
	registered time.Time
	cancelled  atomic.Bool
}

// ID returns the request id.
func (h *Handle) ID() string {
	return h.id
}

// Cancelled reports whether Cancel was called for this request.
func (h *Handle) Cancelled() bool {
	return h.cancelled.Load()
}

// Registry tracks in-flight requests so they can be cancelled by id.
// Cancellation only sets a flag; the pipeline polls it at checkpoints.
type Registry struct {
	mu     sync.Mutex
	active map[string]*Handle
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{active: make(map[string]*Handle)}
}

// Register records id as in flight on behalf of owner, the client that may
// cancel it. An empty owner lets any caller cancel. Callers must Unregister
// the returned handle on every exit path.
func (r *Registry) Register(id, owner string) (*Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.active[id]; ok {
		return nil, ErrDuplicateRequest
	}
	h := &Handle{id: id, owner: owner, registered: time.Now()}
	r.active[id] = h
	return h, nil
}

// Unregister removes h. A newer registration under the same id is left alone.
func (r *Registry) Unregister(h *Handle) {
	if h == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active[h.id] == h {
		delete(r.active, h.id)
	}
}

// Cancel flags the request. It returns false when no request with that id
// is in flight or when it belongs to a client other than owner; the two
// cases are indistinguishable to the caller.
func (r *Registry) Cancel(id, owner string) bool {
	r.mu.Lock()
	h, ok := r.active[id]
	r.mu.Unlock()

	if !ok || (h.owner != "" && h.owner != owner) {
		return false
	}
	h.cancelled.Store(true)
	return true
}

// Active returns the number of in-flight requests.
func (r *Registry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}
