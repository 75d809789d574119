package registry

import (
	"container/list"
	"sync"

	"github.com/brineshore/kadnet/internal/message"
	"github.com/brineshore/kadnet/internal/transporterr"
)

// Registry maps outstanding message identifiers to their waiting
// ResponseCompletion, and separately caches in-flight RCON original
// messages keyed by id (spec §4.3, §4.7). Entries are unique per id (spec
// §3 invariant iii).
type Registry struct {
	mu      sync.Mutex
	pending map[uint32]*ResponseCompletion

	rconMu    sync.Mutex
	rconCache map[uint32]*list.Element // id -> LRU element
	rconOrder *list.List               // front = most recently used
	rconMax   int
}

type rconEntry struct {
	id         uint32
	completion *ResponseCompletion
}

// defaultRCONCacheSize is the RCON cache bound spec.md §9 asks
// implementations to pick, since the source never bounds it.
const defaultRCONCacheSize = 1024

// New creates an empty Registry with the default RCON cache size.
func New() *Registry {
	return NewWithRCONCacheSize(defaultRCONCacheSize)
}

// NewWithRCONCacheSize creates an empty Registry with a custom RCON cache
// bound: kadnetd passes its configured size, and tests use a small bound
// to exercise eviction without inserting a thousand entries.
func NewWithRCONCacheSize(rconMax int) *Registry {
	return &Registry{
		pending:   make(map[uint32]*ResponseCompletion),
		rconCache: make(map[uint32]*list.Element),
		rconOrder: list.New(),
		rconMax:   rconMax,
	}
}

// ErrDuplicateID is returned by Register when a completion with a
// conflicting in-flight message id is already registered (spec §8 boundary
// behavior: a ResponseCompletion whose message shares an id with another
// in-flight one is rejected).
type ErrDuplicateID struct{ ID uint32 }

func (e *ErrDuplicateID) Error() string {
	return "registry: message id already has an in-flight completion"
}

// Register inserts a completion keyed by its request's message id, before
// the message's bytes leave the encoder (spec §4.7). Returns ErrDuplicateID
// if the id is already in flight.
func (r *Registry) Register(c *ResponseCompletion) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := c.Request.ID
	if _, exists := r.pending[id]; exists {
		return &ErrDuplicateID{ID: id}
	}
	r.pending[id] = c
	return nil
}

// Unregister removes an entry unconditionally, used by a cancellation hook
// that must guarantee the registry no longer references a completion that
// was externally cancelled (spec §4.7).
func (r *Registry) Unregister(id uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pending, id)
}

// Deliver looks up the completion for an inbound reply's message id; if
// found, it removes the registry entry and then resolves the completion
// with the reply (spec invariant ii: the entry is removed before the
// completion signals listeners; spec invariant 3: exactly one listener
// sees the reply, because only the single goroutine that wins the map
// delete proceeds to call CompleteOK). Returns false if no completion is
// waiting on this id (the frame is dropped by the caller).
func (r *Registry) Deliver(reply message.Message) bool {
	r.mu.Lock()
	c, ok := r.pending[reply.ID]
	if ok {
		delete(r.pending, reply.ID)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}
	if reply.Type == message.TypeDenied {
		c.CompleteFailed(transporterr.New(transporterr.KindDenied, "peer denied request", nil))
	} else {
		c.CompleteOK(reply)
	}
	return true
}

// Get returns the completion registered for id, if any, without removing
// it. Used by cancellation paths that need to reach a completion by id.
func (r *Registry) Get(id uint32) (*ResponseCompletion, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.pending[id]
	return c, ok
}

// Len reports the number of in-flight completions, exposed for the admin
// HTTP surface (internal/api).
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// CacheRCON inserts the original request's completion into the RCON
// cache, keyed by its message id (spec §4.3 step 2). Evicts the
// least-recently-used entry if the cache is at capacity (spec §9 open
// question: bound at e.g. 1024 with LRU eviction).
func (r *Registry) CacheRCON(original *ResponseCompletion) {
	r.rconMu.Lock()
	defer r.rconMu.Unlock()

	id := original.Request.ID
	if el, exists := r.rconCache[id]; exists {
		r.rconOrder.MoveToFront(el)
		el.Value.(*rconEntry).completion = original
		return
	}

	el := r.rconOrder.PushFront(&rconEntry{id: id, completion: original})
	r.rconCache[id] = el

	for r.rconOrder.Len() > r.rconMax {
		oldest := r.rconOrder.Back()
		if oldest == nil {
			break
		}
		r.rconOrder.Remove(oldest)
		delete(r.rconCache, oldest.Value.(*rconEntry).id)
	}
}

// CachedRequests exposes the RCON cache lookup to collaborator dispatcher
// logic (spec §6: "Access to the pending-registry (cachedRequests()) so
// inbound dispatcher logic can look up RCON-cached originals").
func (r *Registry) CachedRequests() map[uint32]message.Message {
	r.rconMu.Lock()
	defer r.rconMu.Unlock()
	out := make(map[uint32]message.Message, len(r.rconCache))
	for id, el := range r.rconCache {
		out[id] = el.Value.(*rconEntry).completion.Request
	}
	return out
}

// TakeRCON removes and returns the cached original request's completion
// for id, used when the unreachable peer's back-dial arrives carrying
// that id (spec §4.3 step 4).
func (r *Registry) TakeRCON(id uint32) (*ResponseCompletion, bool) {
	r.rconMu.Lock()
	defer r.rconMu.Unlock()
	el, ok := r.rconCache[id]
	if !ok {
		return nil, false
	}
	entry := el.Value.(*rconEntry)
	r.rconOrder.Remove(el)
	delete(r.rconCache, id)
	return entry.completion, true
}

// RCONCacheLen reports the number of cached RCON originals, exposed for the
// admin HTTP surface.
func (r *Registry) RCONCacheLen() int {
	r.rconMu.Lock()
	defer r.rconMu.Unlock()
	return r.rconOrder.Len()
}

// Shutdown resolves every pending completion as FAILED with err (spec §8
// boundary behavior: "shutdown during in-flight send -> every pending
// completion resolves FAILED('shutting down')").
func (r *Registry) Shutdown(err *transporterr.Error) {
	r.mu.Lock()
	pending := make([]*ResponseCompletion, 0, len(r.pending))
	for _, c := range r.pending {
		pending = append(pending, c)
	}
	r.pending = make(map[uint32]*ResponseCompletion)
	r.mu.Unlock()

	for _, c := range pending {
		c.CompleteFailed(err)
	}
}
